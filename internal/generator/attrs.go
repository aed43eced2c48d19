//go:build linux || darwin

package generator

import (
	"os"
	"os/user"
	"strconv"
	"syscall"
	"time"

	"github.com/zrsync/rrsync/internal/filelist"
	"github.com/zrsync/rrsync/internal/rsyncopts"
)

var amRoot = os.Getuid() == 0

// inGroup is the set of gids the running process belongs to, used to decide
// whether a non-root chgrp is even legal to attempt.
//
// Grounded on rsync's receiver/generatoruid.go.
var inGroup = func() map[uint32]bool {
	m := make(map[uint32]bool)
	u, err := user.Current()
	if err != nil {
		return m
	}
	gids, err := u.GroupIds()
	if err != nil {
		return m
	}
	for _, gidString := range gids {
		gid64, err := strconv.ParseInt(gidString, 0, 64)
		if err != nil {
			return m
		}
		m[uint32(gid64)] = true
	}
	return m
}()

// ApplyAttrs sets permissions, ownership and mtime on local to match f,
// subject to the usual authorization rules: only root may chown, and a
// non-root process may only chgrp to a group it is itself a member of
// (spec.md §4.7, "uid/gid authorization"). Exported so the Receiver can
// reuse it for files it just reconstructed (spec.md §4.8 step 4, "apply
// attributes"), rather than duplicating the chown authorization logic.
//
// Grounded on rsync's receiver/generatoruid.go setUid, adapted from a
// *Transfer method into a free function operating on rsyncopts.Options.
func ApplyAttrs(local string, f *filelist.FileInfo, opts rsyncopts.Options) error {
	if opts.PreservePerms {
		if err := os.Chmod(local, os.FileMode(f.Attrs.Mode&0o7777)); err != nil {
			return err
		}
	}

	if opts.PreserveUID || opts.PreserveGID {
		if err := chown(local, f, opts); err != nil {
			return err
		}
	}

	if opts.PreserveTimes {
		mtime := time.Unix(f.Attrs.ModTime, 0)
		if err := os.Chtimes(local, mtime, mtime); err != nil {
			return err
		}
	}
	return nil
}

func chown(local string, f *filelist.FileInfo, opts rsyncopts.Options) error {
	st, err := os.Lstat(local)
	if err != nil {
		return err
	}
	stt, ok := st.Sys().(*syscall.Stat_t)
	if !ok {
		return nil
	}

	changeUID := opts.PreserveUID && amRoot && stt.Uid != f.Attrs.UserID
	changeGID := opts.PreserveGID &&
		(amRoot || inGroup[f.Attrs.GroupID]) &&
		stt.Gid != f.Attrs.GroupID

	if !changeUID && !changeGID {
		return nil
	}

	uid := stt.Uid
	if changeUID {
		uid = f.Attrs.UserID
	}
	gid := stt.Gid
	if changeGID {
		gid = f.Attrs.GroupID
	}
	return os.Lchown(local, int(uid), int(gid))
}
