package session

import (
	"encoding/binary"

	"github.com/zrsync/rrsync/internal/log"
	"github.com/zrsync/rrsync/internal/rsyncstats"
	"github.com/zrsync/rrsync/rsync"
)

// MessageSink is the client-side out-of-band message handler that
// ClientArgsCompatSeed installs on the tagged multiplex (spec.md §7,
// "User-visible behavior": ERROR/WARNING must reach the user, LOG is
// logged at info level). It is built empty and handed back through
// Config.Sink so a caller can fill in Logger/Stats/OnNoSend once it has
// built whatever those need to reach (a Logger, a TransferStats, a
// Generator to drop a file from); no multiplexed read occurs until the
// caller starts driving the transfer, so this is always in time.
type MessageSink struct {
	Logger *log.Logger
	Stats  *rsyncstats.TransferStats

	// OnNoSend is invoked with the file-list index the peer reports it
	// could not read (spec.md §9 Open Question 1: "log a warning, drop
	// the file from its segment, continue"). Left nil, NO_SEND is only
	// logged.
	OnNoSend func(idx int32)
}

// Handle implements rsyncwire.MessageHandler.
func (s *MessageSink) Handle(code rsync.MessageCode, payload []byte) error {
	switch code {
	case rsync.MsgError, rsync.MsgErrorXfer, rsync.MsgErrorSocket, rsync.MsgErrorUTF8:
		s.logf("%s: %s", code, payload)
		if s.Stats != nil {
			s.Stats.IOErrors++
		}
	case rsync.MsgWarning:
		s.logf("%s: %s", code, payload)
	case rsync.MsgLog, rsync.MsgClient, rsync.MsgInfo:
		s.logf("%s", payload)
	case rsync.MsgNoSend:
		idx := decodeNoSendIndex(payload)
		s.logf("peer could not read file index %d, skipping", idx)
		if s.OnNoSend != nil {
			s.OnNoSend(idx)
		}
	}
	return nil
}

func (s *MessageSink) logf(format string, args ...any) {
	if s.Logger != nil {
		s.Logger.Printf(format, args...)
	}
}

// decodeNoSendIndex decodes a NO_SEND payload's 4-byte little-endian file
// index; readTag already rejected any other length.
func decodeNoSendIndex(payload []byte) int32 {
	if len(payload) != 4 {
		return -1
	}
	return int32(binary.LittleEndian.Uint32(payload))
}
