// Package filelist implements the File List component from spec.md §4.4:
// the tagged FileInfo variant, the ordered, segmented collection that
// tracks per-segment lifecycle, and (in index.go/xmit.go) the on-wire
// index codec and XMIT flag-byte encoding used to transmit it.
package filelist

// Kind distinguishes the tagged FileInfo variants (spec.md §3,
// "FileInfo (tagged variant)").
type Kind int

const (
	KindRegular Kind = iota
	KindDirectory
	KindSymlink
	KindDevice
	KindSpecial
	KindHardLink
)

func (k Kind) String() string {
	switch k {
	case KindRegular:
		return "regular"
	case KindDirectory:
		return "directory"
	case KindSymlink:
		return "symlink"
	case KindDevice:
		return "device"
	case KindSpecial:
		return "special"
	case KindHardLink:
		return "hardlink"
	default:
		return "unknown"
	}
}

// Attributes is RsyncFileAttributes from spec.md §3: mode encodes both
// POSIX permission bits and file-type bits; NumLinks>1 with a non-directory
// Kind marks a hard-link candidate.
type Attributes struct {
	Mode      uint32
	Size      uint64
	ModTime   int64 // seconds
	UserID    uint32
	UserName  string // "" if not resolved
	GroupID   uint32
	GroupName string // "" if not resolved
	NumLinks  uint32
	Inode     uint64
}

// FileInfo describes one path in the transfer. It is produced once by the
// sender-side walk, serialized onto the wire, and immutable thereafter on
// both sides (spec.md §3, "Lifecycles").
type FileInfo struct {
	Kind Kind

	// WireName is the path-name as transmitted (raw bytes); Name is its
	// decoded textual form, used as the sort key (spec.md §4.4,
	// "byte-lexicographic comparison of path-bytes").
	WireName []byte
	Name     string

	Attrs Attributes

	// Target is the symlink target-path-name (KindSymlink only).
	Target string

	// Major/Minor identify a device/special file (KindDevice/KindSpecial
	// only).
	Major, Minor uint32

	// TargetIndex is the file-list index of the first occurrence of this
	// inode (KindHardLink only).
	TargetIndex int32

	// LocalPath is the filesystem path usable for local I/O. Empty for
	// non-locatable instances, which describe a peer's file we cannot
	// address locally (listing only, spec.md §3).
	LocalPath string
}

// Locatable reports whether this FileInfo carries a usable local path.
func (f *FileInfo) Locatable() bool { return f.LocalPath != "" }

// IsHardLinkCandidate reports whether this file's link count marks it as a
// hard-link candidate (spec.md §3): more than one link, and not a
// directory.
func (f *FileInfo) IsHardLinkCandidate() bool {
	return f.Attrs.NumLinks > 1 && f.Kind != KindDirectory
}
