/*
Package hook loads a fetch hook manager into a page and drives it.

Each Instance gets its own instance id on creation. The id salts every name
the instance puts into the page:

  - the installing script element: <artifact prefix>-<id>
  - the load marker class on the root element: <marker prefix>-loaded-<id>
  - the page global holding the hook manager: <global prefix><id>

EnsureLoaded checks both markers before installing, so it installs at most
once per instance, and instances sharing a page do not disturb each other.

Bridge calls go through a fixed relay function that receives the instance id
and method name as ordinary arguments and looks the global up in the page.
Calls are fire and forget.
*/
package hook
