// Package transport carries a page's fetch calls onto the network.
//
// Client implements page.Fetcher on top of resty, with retryablehttp doing
// the retries underneath and gzhttp handling compressed responses. Requests
// are rate limited and every host gets its own circuit breaker, so one
// failing origin cannot stall fetches to the others.
//
// HTTP error statuses are returned as responses, the same as a browser would
// hand them to page code. Only transport failures are errors.
package transport
