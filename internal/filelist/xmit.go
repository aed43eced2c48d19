package filelist

import (
	kaiarsync "github.com/kaiakz/rsync-os/rsync"

	"github.com/zrsync/rrsync/rsync"
)

// This implementation only ever emits long names (spec.md §4.4 wire
// format note; the short-name/SAME_NAME path the reference also supports
// is not produced by our sender), so XMIT_LONG_NAME and XMIT_TOP_DIR are
// the two bits wired to the kaiakz/rsync-os flag constants rather than our
// own rsync.go mirror, grounding that dependency in real wire-format use.
var (
	flistNameLong = uint16(kaiarsync.FLIST_NAME_LONG)
	flistTopLevel = uint16(kaiarsync.FLIST_TOP_LEVEL)
)

// XMITState is the "previous entry" each peer keeps to fill in fields a
// wire entry omitted (spec.md §4.4, "Each peer maintains identical state
// so that omitted fields are filled from the previous entry"). The zero
// value represents "no previous entry yet".
type XMITState struct {
	valid          bool
	mode           uint32
	uid, gid       uint32
	hasUID, hasGID bool
	mtime          int64
}

// XMITFields records which optional per-entry fields a particular flag
// combination requires the caller to additionally serialize.
type XMITFields struct {
	Mode  bool
	UID   bool
	GID   bool
	MTime bool
}

// EncodeXMIT computes the XMIT flag word for f relative to the peer's
// last-sent entry prev (widened past a byte so XMIT_EXTENDED_FLAGS's
// sibling high bits fit), and reports which optional fields must follow it
// on the wire.
func EncodeXMIT(prev XMITState, f *FileInfo, topLevel bool) (flags uint16, fields XMITFields) {
	flags = flistNameLong

	if topLevel {
		flags |= flistTopLevel
	}
	if prev.valid && prev.mode == f.Attrs.Mode {
		flags |= rsync.XMIT_SAME_MODE
	} else {
		fields.Mode = true
	}
	if prev.valid && prev.hasUID && prev.uid == f.Attrs.UserID {
		flags |= rsync.XMIT_SAME_UID
	} else {
		fields.UID = true
	}
	if prev.valid && prev.hasGID && prev.gid == f.Attrs.GroupID {
		flags |= rsync.XMIT_SAME_GID
	} else {
		fields.GID = true
	}
	if prev.valid && prev.mtime == f.Attrs.ModTime {
		flags |= rsync.XMIT_SAME_TIME
	} else {
		fields.MTime = true
	}
	if flags > 0xFF {
		flags |= rsync.XMIT_EXTENDED_FLAGS
	}
	return flags, fields
}

// Advance folds f's attributes into the running state after encoding or
// decoding it, so the next entry's SAME_* bits are computed correctly.
func (prev XMITState) Advance(f *FileInfo) XMITState {
	return XMITState{
		valid:  true,
		mode:   f.Attrs.Mode,
		uid:    f.Attrs.UserID,
		hasUID: true,
		gid:    f.Attrs.GroupID,
		hasGID: true,
		mtime:  f.Attrs.ModTime,
	}
}

// DecodeXMITFields reports which optional fields are present given a flag
// word read off the wire, mirroring EncodeXMIT's SAME_* bit tests in
// reverse.
func DecodeXMITFields(flags uint16) XMITFields {
	return XMITFields{
		Mode:  flags&rsync.XMIT_SAME_MODE == 0,
		UID:   flags&rsync.XMIT_SAME_UID == 0,
		GID:   flags&rsync.XMIT_SAME_GID == 0,
		MTime: flags&rsync.XMIT_SAME_TIME == 0,
	}
}
