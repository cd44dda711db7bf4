package wsterm

import "os"

// DebugEnabled controls whether or not debug-level logging is enabled. It is
// set automatically based on the WSTERM_DEBUG environment variable.
var DebugEnabled bool

func init() {
	DebugEnabled = os.Getenv("WSTERM_DEBUG") == "1"
}
