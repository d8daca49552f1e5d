// Package registry holds named feature namespaces. Components register what
// they expose into one namespace per process; later registrations merge into
// it rather than replacing it.
package registry
