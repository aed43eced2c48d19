//go:build linux || darwin

package generator

import "github.com/google/renameio/v2"

// symlinkAtomic recreates a symlink via a temp-file-plus-rename so a
// concurrent reader of local never observes a half-created link.
//
// Grounded on rsync's receiver/generatorsymlink.go.
func symlinkAtomic(oldname, newname string) error {
	return renameio.Symlink(oldname, newname)
}
