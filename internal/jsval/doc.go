// Package jsval renders Go values as JavaScript source text.
//
// The output is an expression that, evaluated in any JavaScript realm,
// rebuilds a structurally equal value. JSON cannot carry everything a page
// call needs, so the renderer emits real source:
//
//	nil            null
//	Undefined      void(0)
//	NaN            Number.NaN
//	+Inf / -Inf    1/0 and 1/-0
//	time.Time      new Date("2024-01-02T03:04:05.000Z")
//	RegExp         /pattern/flags
//	Function       the function's own source text
//	*Object        {"key": value, ...} in insertion order
//	slices         [a, b, ...]
//
// Go maps are rendered with sorted keys and structs with their exported
// fields in declaration order. Symbols, channels, Go funcs, complex numbers
// and circular references are rejected with a *SerializationError.
//
// Functions travel as text and are re-parsed inside the page, so they never
// close over anything from the caller. Free identifiers in a function body
// resolve against the page's globals.
package jsval
