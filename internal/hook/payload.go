package hook

import (
	_ "embed"
	"strings"

	"github.com/GriffinCanCode/pagebridge/internal/jsval"
)

// PayloadVersion is the version of the embedded hook manager.
const PayloadVersion = "1.2.0"

//go:embed hookmgr.js
var hookManagerSource string

// Payload returns the source that installs a hook manager under the page
// global globalName.
type Payload func(globalName string) string

// DefaultPayload installs the embedded hook manager. It wraps the page fetch
// and exposes before, after, enable and disable.
func DefaultPayload(globalName string) string {
	quoted, err := jsval.Serialize(globalName)
	if err != nil {
		// strings always serialize
		panic(err)
	}
	return strings.Replace(hookManagerSource, "__GLOBAL__", quoted, 1)
}
