package page

import (
	"fmt"
	"net/http"

	"github.com/dop251/goja"
	"go.uber.org/zap"
)

// nativeFetch backs the page fetch function. The request runs as a queued
// task, so the returned promise settles during Drain.
func (p *Page) nativeFetch(call goja.FunctionCall) goja.Value {
	promise, resolve, reject := p.vm.NewPromise()

	req := FetchRequest{
		Method:  call.Argument(0).String(),
		Headers: map[string]string{},
		Body:    call.Argument(3).String(),
	}
	if h, ok := call.Argument(2).(*goja.Object); ok {
		for _, k := range h.Keys() {
			req.Headers[k] = h.Get(k).String()
		}
	}

	target, err := p.url.Parse(call.Argument(1).String())
	if err != nil {
		reject(p.vm.NewTypeError(fmt.Sprintf("Failed to fetch: invalid URL: %v", err)))
		return p.vm.ToValue(promise)
	}
	req.URL = target.String()

	if p.fetcher == nil {
		reject(p.vm.NewTypeError("Failed to fetch: network access is disabled"))
		return p.vm.ToValue(promise)
	}

	p.schedule("fetch", 0, false, func() error {
		resp, err := p.fetcher.Fetch(p.ctx, req)
		if err != nil {
			p.logger.Debug("Page fetch failed", zap.String("url", req.URL), zap.Error(err))
			return reject(p.vm.NewTypeError("Failed to fetch: " + err.Error()))
		}
		return resolve(p.response(req, resp))
	})
	return p.vm.ToValue(promise)
}

func (p *Page) response(req FetchRequest, resp *FetchResponse) goja.Value {
	raw := p.vm.NewObject()
	headers := p.vm.NewObject()
	for k, v := range resp.Headers {
		p.set(headers, k, v)
	}

	statusText := resp.StatusText
	if statusText == "" {
		statusText = http.StatusText(resp.Status)
	}
	u := resp.URL
	if u == "" {
		u = req.URL
	}

	p.set(raw, "status", resp.Status)
	p.set(raw, "statusText", statusText)
	p.set(raw, "url", u)
	p.set(raw, "headers", headers)
	p.set(raw, "body", string(resp.Body))
	return raw
}
