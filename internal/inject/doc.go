// Package inject runs code in a page by inserting script elements.
//
// The Injector is the only channel into the page: it inserts a script
// element, which runs immediately, and then removes it unless asked to keep
// it. The Invoker builds the script text from a Payload. A function payload
// is rendered as a call with its arguments serialized by jsval, so the page
// receives plain source with no links back to the caller.
package inject
