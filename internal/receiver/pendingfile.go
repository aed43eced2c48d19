package receiver

import "github.com/google/renameio/v2"

// pendingFile wraps renameio's atomic-write primitive: writes land in a
// sibling temp file, and CloseAtomicallyReplace renames it over dest only
// once the caller is satisfied (spec.md §4.8 step 4, "rename atomically
// over target"). Cleanup is always safe to call, even after a successful
// CloseAtomicallyReplace.
//
// Grounded on rsync's receiver.go (`newPendingFile(local)`, `out.
// Cleanup()`, `out.CloseAtomicallyReplace()`), whose own pendingFile
// wrapper was not part of the retrieved snapshot; this one is a thin
// rename of renameio's real API rather than an invention.
type pendingFile struct {
	*renameio.PendingFile
}

func newPendingFile(path string) (*pendingFile, error) {
	pf, err := renameio.NewPendingFile(path, renameio.WithExistingPermissions())
	if err != nil {
		return nil, err
	}
	return &pendingFile{PendingFile: pf}, nil
}
