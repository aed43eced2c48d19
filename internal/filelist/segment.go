package filelist

import "github.com/zrsync/rrsync/internal/rsyncerr"

// InitialDirectoryIndex is the sentinel directoryIndex of the file list's
// first segment: smaller than any real index, with a nil directory
// (spec.md §3, "File List").
const InitialDirectoryIndex int32 = -1

// Segment is a contiguous run of the File List sharing one parent
// directory (spec.md §3). It is finished once every entry has been
// removed, and segments are destroyed strictly in FIFO order.
type Segment struct {
	DirectoryIndex int32
	Directory      *FileInfo

	entries            map[int32]*FileInfo
	minIndex, maxIndex int32
	remaining          int
}

// IsFinished reports whether every entry in this segment has been removed.
func (s *Segment) IsFinished() bool { return s.remaining == 0 }

// EntrySet returns the segment's live global-index -> FileInfo mapping.
// Callers must not mutate the returned map; use Remove/RemoveAll.
func (s *Segment) EntrySet() map[int32]*FileInfo { return s.entries }

// Remove drops index from the segment, decrementing remaining. A no-op if
// index was already removed or never present.
func (s *Segment) Remove(index int32) {
	if _, ok := s.entries[index]; !ok {
		return
	}
	delete(s.entries, index)
	s.remaining--
}

// RemoveAll removes every index in indices.
func (s *Segment) RemoveAll(indices []int32) {
	for _, idx := range indices {
		s.Remove(idx)
	}
}

// contains reports whether index falls within this segment's assigned
// range, regardless of whether it has already been removed.
func (s *Segment) contains(index int32) bool {
	return index >= s.minIndex && index <= s.maxIndex
}

// List is the ordered, segmented File List of spec.md §3/§4.4. Indices are
// dense within a segment and strictly increasing across segments; the
// running global index counter is shared by every AppendSegment call.
type List struct {
	segments  []*Segment
	nextIndex int32
}

// NewList returns an empty File List. Global indices start at 1: index 0 is
// reserved by the index codec (spec.md §4.2) as the DONE sentinel, so it is
// never assigned to a real file.
func NewList() *List {
	return &List{nextIndex: 1}
}

// AppendSegment adds a new segment rooted at dir (nil for the initial
// segment), whose entries are assigned dense, strictly increasing global
// indices starting at the list's running counter. directoryIndex is the
// global index under which dir itself was listed in its parent segment, or
// InitialDirectoryIndex for the very first segment.
func (l *List) AppendSegment(directoryIndex int32, dir *FileInfo, files []*FileInfo) *Segment {
	seg := &Segment{
		DirectoryIndex: directoryIndex,
		Directory:      dir,
		entries:        make(map[int32]*FileInfo, len(files)),
		minIndex:       l.nextIndex,
	}
	for _, f := range files {
		seg.entries[l.nextIndex] = f
		l.nextIndex++
	}
	seg.maxIndex = l.nextIndex - 1
	seg.remaining = len(files)
	l.segments = append(l.segments, seg)
	return seg
}

// GetSegmentWith returns the segment whose index range contains index, or
// nil if none does.
func (l *List) GetSegmentWith(index int32) *Segment {
	for _, s := range l.segments {
		if s.contains(index) {
			return s
		}
	}
	return nil
}

// Get returns the FileInfo at the given global index, or nil if index falls
// outside every live segment (already removed, or never assigned).
func (l *List) Get(index int32) *FileInfo {
	seg := l.GetSegmentWith(index)
	if seg == nil {
		return nil
	}
	return seg.entries[index]
}

// DeleteFirstSegment removes the oldest segment. It is an error to call
// this when the list is empty or the first segment is not yet finished
// (spec.md §3, "Segments must be deleted in FIFO order").
func (l *List) DeleteFirstSegment() error {
	if len(l.segments) == 0 {
		return rsyncerr.NewProtocolError("deleteFirstSegment: file list is empty")
	}
	if !l.segments[0].IsFinished() {
		return rsyncerr.NewProtocolError("deleteFirstSegment: first segment still has %d entries remaining", l.segments[0].remaining)
	}
	l.segments = l.segments[1:]
	return nil
}

// EachInOrder visits every live entry across every segment in ascending
// global-index order, stopping at the first error fn returns.
func (l *List) EachInOrder(fn func(index int32, f *FileInfo) error) error {
	for _, seg := range l.segments {
		for idx := seg.minIndex; idx <= seg.maxIndex; idx++ {
			f, ok := seg.entries[idx]
			if !ok {
				continue
			}
			if err := fn(idx, f); err != nil {
				return err
			}
		}
	}
	return nil
}

// Len returns the number of live segments.
func (l *List) Len() int { return len(l.segments) }

// Empty reports whether the list has no live segments.
func (l *List) Empty() bool { return len(l.segments) == 0 }
