package rsyncopts

import (
	"strings"

	"github.com/zrsync/rrsync/internal/rsyncerr"
	"github.com/zrsync/rrsync/rsync"
)

// ParseResult is what ParseArguments hands back: the decoded Options plus
// whatever positional arguments followed the flag string (spec.md §6,
// "Server arguments format": "--server [--sender] -<flag-string> .
// <module-name>/<path> …" — RemainingArgs is everything from the "." on).
type ParseResult struct {
	Options       *Options
	RemainingArgs []string
}

// ParseArguments decodes the wire-level server argument list spec.md §6
// names: "--server", an optional "--sender", an optional "--delete" (the
// reference keeps this one as a standalone long flag rather than bundling
// it into the short-flag string), one bundled short-flag string whose
// letters must match the reference (v, d, p, t, o, g, D, l, I, r, e., i, s,
// f), and the trailing positional "." plus module/path arguments. This is
// not a general CLI flag grammar (popt parsing of long options, daemon
// config, help text — all out of core scope per spec.md §1); it exists
// solely to recover the Options a remote peer's --server invocation
// already encoded on the wire.
func ParseArguments(args []string) (*ParseResult, error) {
	opts := &Options{}
	var remaining []string

	for _, arg := range args {
		switch {
		case arg == "--server":
			opts.Server = true
		case arg == "--sender":
			opts.Sender = true
		case arg == "--delete":
			opts.Delete = true
		case isBundledFlagString(arg):
			if err := applyFlagString(opts, arg[1:]); err != nil {
				return nil, err
			}
		default:
			remaining = append(remaining, arg)
		}
	}

	if opts.Sender && !opts.Server {
		return nil, rsyncerr.NewArgumentError("--sender only allowed with --server")
	}

	return &ParseResult{Options: opts, RemainingArgs: remaining}, nil
}

// isBundledFlagString recognizes the single "-<letters>" token carrying
// the bundled short options; "--server"/"--sender" and bare "-" (the
// module-relative cwd marker) are excluded.
func isBundledFlagString(arg string) bool {
	return len(arg) > 1 && arg[0] == '-' && arg[1] != '-'
}

// applyFlagString walks the bundled letters in the reference order
// (spec.md §6). "e." introduces the protocol/compat-flag negotiation
// suffix real rsync appends (e.g. "e.LsxCIu"); everything from the "e"
// onward is consumed as that suffix rather than further individual
// letters, since the suffix characters are not independent booleans.
func applyFlagString(opts *Options, letters string) error {
	for i := 0; i < len(letters); i++ {
		switch letters[i] {
		case 'v':
			opts.Verbose++
		case 'd':
			opts.FileSelection = rsync.FileSelectionTransferDirs
		case 'p':
			opts.PreservePerms = true
		case 't':
			opts.PreserveTimes = true
		case 'o':
			opts.PreserveUID = true
		case 'g':
			opts.PreserveGID = true
		case 'D':
			opts.PreserveDevices = true
			opts.PreserveSpecials = true
		case 'l':
			opts.PreserveLinks = true
		case 'I':
			opts.IgnoreTimes = true
		case 'r':
			opts.FileSelection = rsync.FileSelectionRecurse
		case 'i':
			opts.AlwaysItemize = true
		case 's':
			// protect-args; argument quoting concern, not modeled here
			// since CLI argument parsing is out of core scope.
		case 'n':
			opts.DryRun = true
		case 'e':
			// Compat/protocol suffix: the rest of the string names
			// negotiated extensions (e.g. "Ls", "IL") rather than more
			// bundled booleans. Stop scanning this token.
			i = len(letters)
		case 'f':
			// Filter rule marker; filter payload bytes are opaque to the
			// core (spec.md §1) and carried, not parsed, here.
		default:
			return rsyncerr.NewArgumentError("unsupported server flag %q in %q", string(letters[i]), letters)
		}
	}
	return nil
}

// FormatFlagString renders opts back into the bundled short-flag string a
// "--server" command line carries (spec.md §6); the inverse of
// applyFlagString. rsyncclient uses this to build the ARG_EXCHANGE
// argument list it writes during ClientHandshake.
func FormatFlagString(opts *Options) string {
	var b strings.Builder
	for i := 0; i < opts.Verbose; i++ {
		b.WriteByte('v')
	}
	if opts.FileSelection == rsync.FileSelectionTransferDirs {
		b.WriteByte('d')
	}
	if opts.PreservePerms {
		b.WriteByte('p')
	}
	if opts.PreserveTimes {
		b.WriteByte('t')
	}
	if opts.PreserveUID {
		b.WriteByte('o')
	}
	if opts.PreserveGID {
		b.WriteByte('g')
	}
	if opts.PreserveDevices || opts.PreserveSpecials {
		b.WriteByte('D')
	}
	if opts.PreserveLinks {
		b.WriteByte('l')
	}
	if opts.IgnoreTimes {
		b.WriteByte('I')
	}
	if opts.FileSelection == rsync.FileSelectionRecurse {
		b.WriteByte('r')
	}
	if opts.DryRun {
		b.WriteByte('n')
	}
	if opts.AlwaysItemize {
		b.WriteByte('i')
	}
	return b.String()
}

// BuildServerArgs assembles the full "--server [--sender] -<flags> .
// <path>..." argument list spec.md §6 names, the counterpart ParseArguments
// decodes on the receiving end. opts.Sender describes the LOCAL caller's own
// role; the wire "--sender" flag designates the opposite party (the
// "--server"-invoked remote) as sender, so it is emitted when the local
// side is the receiver, matching the reference client's server_options().
func BuildServerArgs(opts *Options, paths []string) []string {
	args := []string{"--server"}
	if !opts.Sender {
		args = append(args, "--sender")
	}
	if opts.Delete {
		args = append(args, "--delete")
	}
	if flags := FormatFlagString(opts); flags != "" {
		args = append(args, "-"+flags)
	}
	args = append(args, ".")
	return append(args, paths...)
}
