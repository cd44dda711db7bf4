package workspace

import (
	"crypto/sha1"
	"encoding/hex"
	"path/filepath"
)

// Identity computes the stable workspace identity a client presents to a
// server in a sync-workspace request: "<basename>-<short_sha1>@<hostname>".
// The hash is the first 8 hex characters of the SHA-1 digest of
// hostname||localPath, which lets one server distinguish workspaces
// belonging to the same directory name on different client machines (or
// different directories on the same machine) without colliding.
func Identity(localPath, hostname string) string {
	h := sha1.New()
	h.Write([]byte(hostname))
	h.Write([]byte(localPath))
	sum := hex.EncodeToString(h.Sum(nil))[:8]

	base := filepath.Base(filepath.Clean(localPath))
	return base + "-" + sum + "@" + hostname
}
