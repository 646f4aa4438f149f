package sender

import (
	"time"

	"github.com/kboyd/stp-go/internal/segment"
)

// State is one of the sender lifecycle's five states.
type State int

const (
	Closed State = iota
	SynSent
	Established
	Closing
	FinWait
)

func (s State) String() string {
	switch s {
	case Closed:
		return "CLOSED"
	case SynSent:
		return "SYN_SENT"
	case Established:
		return "ESTABLISHED"
	case Closing:
		return "CLOSING"
	case FinWait:
		return "FIN_WAIT"
	default:
		return "UNKNOWN"
	}
}

// sendBufferEntry is one in-flight DATA segment: created on first
// transmission, removed once the cumulative ACK advances past its last
// byte.
type sendBufferEntry struct {
	seqStart      uint16
	payload       []byte
	sentAt        time.Time
	transmissions int
}

func (e *sendBufferEntry) seqEnd() uint16 {
	return uint16(uint32(e.seqStart) + uint32(len(e.payload)))
}

// endpoint is the subset of transport.Endpoint the sender depends on.
// Declaring it locally (rather than importing the concrete type) lets
// tests substitute an in-memory double, the same role the teacher's
// Connector interface plays for its arq/security stack.
type endpoint interface {
	WriteSegment(segment.Segment) (int, error)
	ReadSegment([]byte) (segment.Segment, error)
	SetReadDeadline(time.Time) error
	Close() error
}

// ackEvent is what the receive context hands the transmit context for
// every inbound ACK, per spec §9's channel-based cyclic update.
type ackEvent struct {
	seq uint16
}

// Config holds the parameters spec.md §6 assigns to the sender's
// invocation.
type Config struct {
	SenderPort   int
	ReceiverPort int
	FilePath     string
	MaxWin       uint32
	RTO          time.Duration
}

// Stats accumulates the counters the sender's log footer reports.
type Stats struct {
	BytesSent      int
	SegmentsSent   int
	Retransmitted  int
	DuplicateAcks  int
}
