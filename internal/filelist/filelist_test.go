package filelist

import "testing"

func TestSegmentLifecycleFIFO(t *testing.T) {
	l := NewList()
	root := l.AppendSegment(InitialDirectoryIndex, nil, []*FileInfo{
		{Kind: KindRegular, Name: "a"},
		{Kind: KindRegular, Name: "b"},
	})
	sub := l.AppendSegment(0, &FileInfo{Kind: KindDirectory, Name: "dir"}, []*FileInfo{
		{Kind: KindRegular, Name: "dir/c"},
	})

	if l.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", l.Len())
	}
	if root.IsFinished() {
		t.Fatal("freshly appended segment reports finished")
	}

	// Deleting before the first segment finishes must fail.
	if err := l.DeleteFirstSegment(); err == nil {
		t.Fatal("DeleteFirstSegment succeeded on an unfinished segment")
	}

	root.Remove(1)
	root.Remove(2)
	if !root.IsFinished() {
		t.Fatal("segment not finished after removing all entries")
	}
	if err := l.DeleteFirstSegment(); err != nil {
		t.Fatalf("DeleteFirstSegment: %v", err)
	}
	if l.Len() != 1 {
		t.Fatalf("Len() after delete = %d, want 1", l.Len())
	}

	if got := l.GetSegmentWith(3); got != sub {
		t.Errorf("GetSegmentWith(3) = %v, want the sub segment", got)
	}
}

func TestEncodeXMITSuppressesUnchangedFields(t *testing.T) {
	first := &FileInfo{Attrs: Attributes{Mode: 0o644, UserID: 1000, GroupID: 1000, ModTime: 1000}}
	flags1, fields1 := EncodeXMIT(XMITState{}, first, true)
	if !fields1.Mode || !fields1.UID || !fields1.GID || !fields1.MTime {
		t.Fatalf("first entry should require every field, got %+v (flags=%#x)", fields1, flags1)
	}
	state := XMITState{}.Advance(first)

	same := &FileInfo{Attrs: Attributes{Mode: 0o644, UserID: 1000, GroupID: 1000, ModTime: 1000}}
	_, fields2 := EncodeXMIT(state, same, false)
	if fields2.Mode || fields2.UID || fields2.GID || fields2.MTime {
		t.Errorf("identical entry should suppress every field, got %+v", fields2)
	}

	changedMode := &FileInfo{Attrs: Attributes{Mode: 0o755, UserID: 1000, GroupID: 1000, ModTime: 1000}}
	_, fields3 := EncodeXMIT(state, changedMode, false)
	if !fields3.Mode {
		t.Error("changed mode should require the Mode field")
	}
	if fields3.UID || fields3.GID || fields3.MTime {
		t.Errorf("unchanged fields should stay suppressed, got %+v", fields3)
	}
}
