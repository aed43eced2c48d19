// Package rsyncopts holds the plain transfer-option struct every role
// reads from. CLI parsing of a popt(3)-style flag grammar is out of
// core scope (spec.md §1); callers that need one build an Options value
// directly or translate from whatever flag package they prefer.
package rsyncopts

import "github.com/zrsync/rrsync/rsync"

// Options is the subset of rsync's original popt-driven Options
// struct that the core transfer engine actually consumes: the
// preserve-* boolean family, deletion policy, numeric-ids, file
// selection mode, checksum seed override and protocol version pin.
type Options struct {
	// DryRun performs the full compare/generate pass without writing,
	// renaming or deleting anything on the receiver side.
	DryRun bool

	// FileSelection chooses between a flat transfer and a recursive
	// walk; see rsync.FileSelection.
	FileSelection rsync.FileSelection

	PreservePerms     bool
	PreserveTimes     bool
	PreserveUID       bool
	PreserveGID       bool
	PreserveLinks     bool
	PreserveDevices   bool
	PreserveSpecials  bool
	PreserveHardLinks bool

	// NumericIDs disables uid/gid-to-name resolution; names are never
	// looked up and raw numeric ids are sent/applied verbatim.
	NumericIDs bool

	Delete bool

	// IgnoreTimes forces every file to be treated as modified regardless
	// of what stat reports (spec.md §4.7 step 3, "isIgnoreTimes").
	IgnoreTimes bool

	// Server and Sender mirror the wire-level --server/--sender flags a
	// remote peer's command line carries (spec.md §6, "Server arguments
	// format"): Server marks this process as the one invoked via
	// "--server", Sender marks it as playing the Sender role rather than
	// the Generator/Receiver pair.
	Server bool
	Sender bool

	// ChecksumSeed pins the session checksum seed instead of letting
	// the handshake generate a random one; zero means "let the
	// handshake decide" (internal/session.NewSeed).
	ChecksumSeed int32

	// ProtocolVersion pins the protocol version this side offers
	// during negotiation; zero means rsync.ProtocolVersion.
	ProtocolVersion int32

	Verbose int

	// AlwaysItemize reports every processed entry's itemize flag mask
	// (spec.md §4.7 step 4), including files found unchanged, rather than
	// only the ones Verbose would already report.
	AlwaysItemize bool
}

// EffectiveProtocolVersion returns ProtocolVersion, or
// rsync.ProtocolVersion if it was left unset.
func (o Options) EffectiveProtocolVersion() int32 {
	if o.ProtocolVersion != 0 {
		return o.ProtocolVersion
	}
	return rsync.ProtocolVersion
}
