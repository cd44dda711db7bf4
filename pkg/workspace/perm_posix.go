//go:build !windows

package workspace

import "os"

// setPerm applies the low 9 permission bits to the file at rel.
func (w *Workspace) setPerm(rel string, mode os.FileMode) error {
	return os.Chmod(w.resolve(rel), mode&0o777)
}
