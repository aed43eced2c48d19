package filelist

import (
	"github.com/zrsync/rrsync/internal/rsyncerr"
	"github.com/zrsync/rrsync/internal/rsyncwire"
	"github.com/zrsync/rrsync/rsync"
)

// WriteEntry serializes one FileInfo onto c following EncodeXMIT's flag
// word and the SAME_* suppression rules from spec.md §4.4, returning the
// XMITState the caller must pass as prev for the next entry. A flags low
// byte of zero is reserved as the file-list terminator (WriteEnd), so this
// never emits one for a real entry (EncodeXMIT always sets flistNameLong).
func WriteEntry(c *rsyncwire.Conn, prev XMITState, f *FileInfo, topLevel bool) (XMITState, error) {
	flags, fields := EncodeXMIT(prev, f, topLevel)

	if err := c.WriteByte(byte(flags)); err != nil {
		return prev, err
	}
	if flags&rsync.XMIT_EXTENDED_FLAGS != 0 {
		if err := c.WriteByte(byte(flags >> 8)); err != nil {
			return prev, err
		}
	}

	if err := c.WriteInt32(int32(len(f.WireName))); err != nil {
		return prev, err
	}
	if err := c.Write(f.WireName); err != nil {
		return prev, err
	}
	if err := c.WriteInt64(int64(f.Attrs.Size)); err != nil {
		return prev, err
	}
	if fields.MTime {
		if err := c.WriteInt64(f.Attrs.ModTime); err != nil {
			return prev, err
		}
	}
	if fields.Mode {
		if err := c.WriteInt32(int32(f.Attrs.Mode)); err != nil {
			return prev, err
		}
	}
	if fields.UID {
		if err := c.WriteInt32(int32(f.Attrs.UserID)); err != nil {
			return prev, err
		}
		if err := writeShortString(c, f.Attrs.UserName); err != nil {
			return prev, err
		}
	}
	if fields.GID {
		if err := c.WriteInt32(int32(f.Attrs.GroupID)); err != nil {
			return prev, err
		}
		if err := writeShortString(c, f.Attrs.GroupName); err != nil {
			return prev, err
		}
	}

	switch f.Kind {
	case KindSymlink:
		if err := writeShortString(c, f.Target); err != nil {
			return prev, err
		}
	case KindDevice, KindSpecial:
		if err := c.WriteInt32(int32(f.Major)); err != nil {
			return prev, err
		}
		if err := c.WriteInt32(int32(f.Minor)); err != nil {
			return prev, err
		}
	}

	if err := c.WriteInt32(int32(f.Attrs.NumLinks)); err != nil {
		return prev, err
	}
	if f.Kind == KindHardLink {
		if err := c.WriteInt32(f.TargetIndex); err != nil {
			return prev, err
		}
	}

	return prev.Advance(f), nil
}

// WriteEnd writes the zero-flags file-list terminator.
func WriteEnd(c *rsyncwire.Conn) error {
	return c.WriteByte(0)
}

// ReadEntry reads back what WriteEntry wrote, or reports done=true if it
// read the WriteEnd terminator instead of an entry.
func ReadEntry(c *rsyncwire.Conn, prev XMITState) (f *FileInfo, next XMITState, done bool, err error) {
	low, err := c.ReadByte()
	if err != nil {
		return nil, prev, false, err
	}
	if low == 0 {
		return nil, prev, true, nil
	}
	flags := uint16(low)
	if flags&rsync.XMIT_EXTENDED_FLAGS != 0 {
		high, err := c.ReadByte()
		if err != nil {
			return nil, prev, false, err
		}
		flags |= uint16(high) << 8
	}
	fields := DecodeXMITFields(flags)

	nameLen, err := c.ReadInt32()
	if err != nil {
		return nil, prev, false, err
	}
	if nameLen < 0 {
		return nil, prev, false, rsyncerr.NewProtocolError("file list entry: negative name length %d", nameLen)
	}
	wireName, err := c.ReadN(int(nameLen))
	if err != nil {
		return nil, prev, false, err
	}

	size, err := c.ReadInt64()
	if err != nil {
		return nil, prev, false, err
	}

	f = &FileInfo{WireName: wireName, Name: string(wireName)}
	f.Attrs.Size = uint64(size)

	if fields.MTime {
		mtime, err := c.ReadInt64()
		if err != nil {
			return nil, prev, false, err
		}
		f.Attrs.ModTime = mtime
	} else {
		f.Attrs.ModTime = prev.mtime
	}
	if fields.Mode {
		mode, err := c.ReadInt32()
		if err != nil {
			return nil, prev, false, err
		}
		f.Attrs.Mode = uint32(mode)
	} else {
		f.Attrs.Mode = prev.mode
	}
	if fields.UID {
		uid, err := c.ReadInt32()
		if err != nil {
			return nil, prev, false, err
		}
		f.Attrs.UserID = uint32(uid)
		if f.Attrs.UserName, err = readShortString(c); err != nil {
			return nil, prev, false, err
		}
	} else {
		f.Attrs.UserID = prev.uid
	}
	if fields.GID {
		gid, err := c.ReadInt32()
		if err != nil {
			return nil, prev, false, err
		}
		f.Attrs.GroupID = uint32(gid)
		if f.Attrs.GroupName, err = readShortString(c); err != nil {
			return nil, prev, false, err
		}
	} else {
		f.Attrs.GroupID = prev.gid
	}

	f.Kind = kindFromMode(f.Attrs.Mode)
	switch f.Kind {
	case KindSymlink:
		if f.Target, err = readShortString(c); err != nil {
			return nil, prev, false, err
		}
	case KindDevice, KindSpecial:
		major, err := c.ReadInt32()
		if err != nil {
			return nil, prev, false, err
		}
		minor, err := c.ReadInt32()
		if err != nil {
			return nil, prev, false, err
		}
		f.Major, f.Minor = uint32(major), uint32(minor)
	}

	numLinks, err := c.ReadInt32()
	if err != nil {
		return nil, prev, false, err
	}
	f.Attrs.NumLinks = uint32(numLinks)
	if f.IsHardLinkCandidate() && f.Kind != KindSymlink && f.Kind != KindDevice && f.Kind != KindSpecial {
		f.Kind = KindHardLink
		if f.TargetIndex, err = c.ReadInt32(); err != nil {
			return nil, prev, false, err
		}
	}

	return f, prev.Advance(f), false, nil
}

func writeShortString(c *rsyncwire.Conn, s string) error {
	if err := c.WriteInt32(int32(len(s))); err != nil {
		return err
	}
	return c.WriteString(s)
}

func readShortString(c *rsyncwire.Conn) (string, error) {
	n, err := c.ReadInt32()
	if err != nil {
		return "", err
	}
	if n == 0 {
		return "", nil
	}
	if n < 0 {
		return "", rsyncerr.NewProtocolError("file list entry: negative string length %d", n)
	}
	b, err := c.ReadN(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// kindFromMode recovers the POSIX file-type bits rsync packs into Mode,
// used by ReadEntry since only Mode crosses the wire for non-hard-link
// entries (the Kind field itself is never transmitted).
func kindFromMode(mode uint32) Kind {
	const (
		sIFMT   = 0170000
		sIFDIR  = 0040000
		sIFLNK  = 0120000
		sIFCHR  = 0020000
		sIFBLK  = 0060000
		sIFIFO  = 0010000
		sIFSOCK = 0140000
	)
	switch mode & sIFMT {
	case sIFDIR:
		return KindDirectory
	case sIFLNK:
		return KindSymlink
	case sIFCHR, sIFBLK:
		return KindDevice
	case sIFIFO, sIFSOCK:
		return KindSpecial
	default:
		return KindRegular
	}
}
