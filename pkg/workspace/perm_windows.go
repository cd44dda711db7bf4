//go:build windows

package workspace

import "os"

// setPerm is a no-op on Windows: permission bits below the read-only
// attribute have no meaningful equivalent there.
func (w *Workspace) setPerm(rel string, mode os.FileMode) error {
	return nil
}
