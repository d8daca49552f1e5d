package page

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"github.com/antchfx/htmlquery"
	"github.com/dop251/goja"
	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Node types as exposed to page code.
const (
	elementNode  = 1
	textNode     = 3
	commentNode  = 8
	documentNode = 9
)

var tagName = regexp.MustCompile(`^(\*|[A-Za-z][A-Za-z0-9-]*)$`)

// newDocument builds the document object. Its element accessors are live.
func (p *Page) newDocument() *goja.Object {
	d := p.vm.NewObject()
	p.wrappers[p.doc] = d
	p.nodes[d] = p.doc

	p.set(d, "nodeType", documentNode)
	p.set(d, "nodeName", "#document")
	p.getter(d, "documentElement", func() goja.Value { return p.wrap(p.root()) })
	p.getter(d, "head", func() goja.Value { return p.wrap(p.head()) })
	p.getter(d, "body", func() goja.Value { return p.wrap(p.body()) })
	p.getter(d, "currentScript", func() goja.Value { return p.wrap(p.current) })
	p.getter(d, "childNodes", func() goja.Value { return p.children(p.doc) })
	p.getter(d, "firstChild", func() goja.Value { return p.wrap(p.doc.FirstChild) })

	p.set(d, "getElementById", func(id string) goja.Value { return p.wrap(p.byID(id)) })
	p.set(d, "querySelector", func(sel string) goja.Value { return p.querySelector(p.doc, sel) })
	p.set(d, "querySelectorAll", func(sel string) goja.Value { return p.querySelectorAll(p.doc, sel) })
	p.set(d, "getElementsByTagName", func(tag string) goja.Value { return p.byTag(p.doc, tag) })
	p.set(d, "getElementsByClassName", func(names string) goja.Value { return p.byClass(p.doc, names) })
	p.set(d, "createElement", func(tag string) goja.Value {
		if !tagName.MatchString(tag) || tag == "*" {
			panic(p.vm.NewTypeError(fmt.Sprintf("createElement: invalid tag name %q", tag)))
		}
		name := strings.ToLower(tag)
		return p.wrap(&html.Node{Type: html.ElementNode, Data: name, DataAtom: atom.Lookup([]byte(name))})
	})
	p.set(d, "createTextNode", func(data string) goja.Value {
		return p.wrap(&html.Node{Type: html.TextNode, Data: data})
	})
	p.set(d, "appendChild", p.appendChild(p.doc))
	p.set(d, "removeChild", p.removeChild(p.doc))
	return d
}

// wrap returns the page object for n. The same node always maps to the same
// object so page code can compare nodes by identity.
func (p *Page) wrap(n *html.Node) goja.Value {
	if n == nil {
		return goja.Null()
	}
	if obj, ok := p.wrappers[n]; ok {
		return obj
	}

	obj := p.vm.NewObject()
	p.wrappers[n] = obj
	p.nodes[obj] = n

	p.getter(obj, "parentNode", func() goja.Value { return p.wrap(n.Parent) })
	p.getter(obj, "childNodes", func() goja.Value { return p.children(n) })
	p.getter(obj, "firstChild", func() goja.Value { return p.wrap(n.FirstChild) })
	p.getter(obj, "lastChild", func() goja.Value { return p.wrap(n.LastChild) })
	p.getter(obj, "nextSibling", func() goja.Value { return p.wrap(n.NextSibling) })
	p.getter(obj, "previousSibling", func() goja.Value { return p.wrap(n.PrevSibling) })
	p.getter(obj, "isConnected", func() goja.Value { return p.vm.ToValue(p.connected(n)) })
	p.set(obj, "remove", func() {
		if n.Parent != nil {
			n.Parent.RemoveChild(n)
		}
	})

	switch n.Type {
	case html.ElementNode:
		p.element(obj, n)
	case html.TextNode, html.CommentNode:
		typ, name := textNode, "#text"
		if n.Type == html.CommentNode {
			typ, name = commentNode, "#comment"
		}
		p.set(obj, "nodeType", typ)
		p.set(obj, "nodeName", name)
		data := func() goja.Value { return p.vm.ToValue(n.Data) }
		setData := func(v goja.Value) { n.Data = v.String() }
		p.accessor(obj, "data", data, setData)
		p.accessor(obj, "nodeValue", data, setData)
		p.accessor(obj, "textContent", data, func(v goja.Value) {
			n.Data = v.String()
			p.childrenChanged(n.Parent)
		})
	}
	return obj
}

func (p *Page) element(obj *goja.Object, n *html.Node) {
	p.set(obj, "nodeType", elementNode)
	p.set(obj, "nodeName", strings.ToUpper(n.Data))
	p.set(obj, "tagName", strings.ToUpper(n.Data))
	p.set(obj, "localName", n.Data)

	p.accessor(obj, "id",
		func() goja.Value { return p.vm.ToValue(htmlquery.SelectAttr(n, "id")) },
		func(v goja.Value) { setAttr(n, "id", v.String()) })
	p.accessor(obj, "className",
		func() goja.Value { return p.vm.ToValue(htmlquery.SelectAttr(n, "class")) },
		func(v goja.Value) { setAttr(n, "class", v.String()) })
	p.accessor(obj, "textContent",
		func() goja.Value { return p.vm.ToValue(htmlquery.InnerText(n)) },
		func(v goja.Value) { p.setText(n, v.String()) })
	p.accessor(obj, "innerHTML",
		func() goja.Value { return p.vm.ToValue(htmlquery.OutputHTML(n, false)) },
		func(v goja.Value) { p.setInnerHTML(n, v.String()) })
	p.getter(obj, "outerHTML", func() goja.Value { return p.vm.ToValue(htmlquery.OutputHTML(n, true)) })
	if n.DataAtom == atom.Script {
		p.accessor(obj, "text",
			func() goja.Value { return p.vm.ToValue(htmlquery.InnerText(n)) },
			func(v goja.Value) { p.setText(n, v.String()) })
		p.accessor(obj, "type",
			func() goja.Value { return p.vm.ToValue(htmlquery.SelectAttr(n, "type")) },
			func(v goja.Value) { setAttr(n, "type", v.String()) })
	}
	p.getter(obj, "children", func() goja.Value {
		var out []*html.Node
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.ElementNode {
				out = append(out, c)
			}
		}
		return p.list(out)
	})
	p.set(obj, "classList", p.classList(n))

	p.set(obj, "getAttribute", func(name string) goja.Value {
		if v, ok := attr(n, strings.ToLower(name)); ok {
			return p.vm.ToValue(v)
		}
		return goja.Null()
	})
	p.set(obj, "setAttribute", func(name, value string) { setAttr(n, strings.ToLower(name), value) })
	p.set(obj, "removeAttribute", func(name string) { removeAttr(n, strings.ToLower(name)) })
	p.set(obj, "hasAttribute", func(name string) bool {
		_, ok := attr(n, strings.ToLower(name))
		return ok
	})

	p.set(obj, "appendChild", p.appendChild(n))
	p.set(obj, "removeChild", p.removeChild(n))
	p.set(obj, "insertBefore", func(call goja.FunctionCall) goja.Value {
		child := p.unwrap("insertBefore", call.Argument(0))
		var ref *html.Node
		if r := call.Argument(1); !goja.IsNull(r) && !goja.IsUndefined(r) {
			ref = p.unwrap("insertBefore", r)
			if ref.Parent != n {
				panic(p.vm.NewTypeError("insertBefore: the reference node is not a child of this node"))
			}
		}
		p.adopt(n, child, ref)
		return call.Argument(0)
	})

	p.set(obj, "querySelector", func(sel string) goja.Value { return p.querySelector(n, sel) })
	p.set(obj, "querySelectorAll", func(sel string) goja.Value { return p.querySelectorAll(n, sel) })
	p.set(obj, "getElementsByTagName", func(tag string) goja.Value { return p.byTag(n, tag) })
	p.set(obj, "getElementsByClassName", func(names string) goja.Value { return p.byClass(n, names) })
}

func (p *Page) appendChild(parent *html.Node) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		child := p.unwrap("appendChild", call.Argument(0))
		p.adopt(parent, child, nil)
		return call.Argument(0)
	}
}

func (p *Page) removeChild(parent *html.Node) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		child := p.unwrap("removeChild", call.Argument(0))
		if child.Parent != parent {
			panic(p.vm.NewTypeError("removeChild: the node to be removed is not a child of this node"))
		}
		parent.RemoveChild(child)
		return call.Argument(0)
	}
}

// adopt moves child under parent before ref (or last) and runs any scripts it
// connected.
func (p *Page) adopt(parent, child, ref *html.Node) {
	for a := parent; a != nil; a = a.Parent {
		if a == child {
			panic(p.vm.NewTypeError("the new child element contains the parent"))
		}
	}
	if child.Parent != nil {
		child.Parent.RemoveChild(child)
	}
	parent.InsertBefore(child, ref)
	p.inserted(child)
	p.childrenChanged(parent)
}

// childrenChanged gives a connected, unstarted script a chance to run once it
// has text.
func (p *Page) childrenChanged(n *html.Node) {
	if n != nil && n.Type == html.ElementNode && n.DataAtom == atom.Script {
		p.prepare(n)
	}
}

func (p *Page) setText(n *html.Node, text string) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		n.RemoveChild(c)
		c = next
	}
	if text != "" {
		n.AppendChild(&html.Node{Type: html.TextNode, Data: text})
	}
	p.childrenChanged(n)
}

func (p *Page) setInnerHTML(n *html.Node, markup string) {
	nodes, err := html.ParseFragment(strings.NewReader(markup), n)
	if err != nil {
		panic(p.vm.NewTypeError(fmt.Sprintf("innerHTML: %v", err)))
	}
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		n.RemoveChild(c)
		c = next
	}
	for _, c := range nodes {
		p.markStarted(c)
		n.AppendChild(c)
	}
}

func (p *Page) classList(n *html.Node) *goja.Object {
	list := p.vm.NewObject()
	p.set(list, "add", func(call goja.FunctionCall) goja.Value {
		for _, a := range call.Arguments {
			selection(n).AddClass(a.String())
		}
		return goja.Undefined()
	})
	p.set(list, "remove", func(call goja.FunctionCall) goja.Value {
		for _, a := range call.Arguments {
			selection(n).RemoveClass(a.String())
		}
		return goja.Undefined()
	})
	p.set(list, "contains", func(name string) bool { return selection(n).HasClass(name) })
	p.set(list, "toggle", func(name string) bool {
		selection(n).ToggleClass(name)
		return selection(n).HasClass(name)
	})
	p.getter(list, "length", func() goja.Value {
		return p.vm.ToValue(len(strings.Fields(htmlquery.SelectAttr(n, "class"))))
	})
	return list
}

func (p *Page) unwrap(method string, v goja.Value) *html.Node {
	if obj, ok := v.(*goja.Object); ok {
		if n, ok := p.nodes[obj]; ok && n != p.doc {
			return n
		}
	}
	panic(p.vm.NewTypeError(fmt.Sprintf("%s: parameter 1 is not of type 'Node'", method)))
}

func (p *Page) querySelector(top *html.Node, sel string) goja.Value {
	found := p.find(top, sel)
	if found.Length() == 0 {
		return goja.Null()
	}
	return p.wrap(found.Get(0))
}

func (p *Page) querySelectorAll(top *html.Node, sel string) goja.Value {
	return p.list(p.find(top, sel).Nodes)
}

func (p *Page) find(top *html.Node, sel string) *goquery.Selection {
	matcher, err := cascadia.Compile(sel)
	if err != nil {
		panic(p.vm.NewTypeError(fmt.Sprintf("'%s' is not a valid selector", sel)))
	}
	return selection(top).FindMatcher(matcher)
}

func (p *Page) byTag(top *html.Node, tag string) goja.Value {
	if !tagName.MatchString(tag) {
		return p.list(nil)
	}
	nodes, err := htmlquery.QueryAll(top, "descendant::"+strings.ToLower(tag))
	if err != nil {
		p.logger.Debug("Tag query failed", zap.String("tag", tag), zap.Error(err))
		return p.list(nil)
	}
	return p.list(nodes)
}

func (p *Page) byClass(top *html.Node, names string) goja.Value {
	classes := strings.Fields(names)
	if len(classes) == 0 {
		return p.list(nil)
	}
	found := selection(top).Find("*").FilterFunction(func(_ int, s *goquery.Selection) bool {
		for _, c := range classes {
			if !s.HasClass(c) {
				return false
			}
		}
		return true
	})
	return p.list(found.Nodes)
}

func (p *Page) children(n *html.Node) goja.Value {
	var out []*html.Node
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		out = append(out, c)
	}
	return p.list(out)
}

func (p *Page) list(nodes []*html.Node) goja.Value {
	values := make([]any, len(nodes))
	for i, n := range nodes {
		values[i] = p.wrap(n)
	}
	return p.vm.NewArray(values...)
}

func (p *Page) set(obj *goja.Object, name string, value any) {
	if err := obj.Set(name, value); err != nil {
		p.logger.Error("Failed to set property", zap.String("property", name), zap.Error(err))
	}
}

func (p *Page) getter(obj *goja.Object, name string, get func() goja.Value) {
	p.accessor(obj, name, get, nil)
}

// accessor defines a live property. A nil setter makes it read-only.
func (p *Page) accessor(obj *goja.Object, name string, get func() goja.Value, set func(goja.Value)) {
	getFn := p.vm.ToValue(func(goja.FunctionCall) goja.Value { return get() })
	var setFn goja.Value
	if set != nil {
		setFn = p.vm.ToValue(func(call goja.FunctionCall) goja.Value {
			set(call.Argument(0))
			return goja.Undefined()
		})
	}
	if err := obj.DefineAccessorProperty(name, getFn, setFn, goja.FLAG_TRUE, goja.FLAG_TRUE); err != nil {
		p.logger.Error("Failed to define accessor", zap.String("property", name), zap.Error(err))
	}
}

func attr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

func setAttr(n *html.Node, key, val string) {
	for i, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

func removeAttr(n *html.Node, key string) {
	for i, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			n.Attr = append(n.Attr[:i], n.Attr[i+1:]...)
			return
		}
	}
}
