package receiver

import (
	"time"

	"github.com/google/btree"

	"github.com/kboyd/stp-go/internal/segment"
	"github.com/kboyd/stp-go/internal/seqnum"
)

// State is one of the receiver lifecycle's four states.
type State int

const (
	Closed State = iota
	Listen
	Established
	TimeWait
)

func (s State) String() string {
	switch s {
	case Closed:
		return "CLOSED"
	case Listen:
		return "LISTEN"
	case Established:
		return "ESTABLISHED"
	case TimeWait:
		return "TIME_WAIT"
	default:
		return "UNKNOWN"
	}
}

// forwardHorizon bounds how far ahead of expected_seq an out-of-order
// segment may lie before it's treated as stale rather than buffered,
// per spec.md §4.5 ("conservatively max_win, or 32KB"). The receiver's
// invocation carries no max_win argument, so the fixed 32KB ceiling
// applies.
const forwardHorizon = 32 * 1024

// endpoint is the subset of transport.Endpoint the receiver depends on.
type endpoint interface {
	WriteSegment(segment.Segment) (int, error)
	ReadSegment([]byte) (segment.Segment, error)
	SetReadDeadline(time.Time) error
	Close() error
}

// Config holds the parameters spec.md §6 assigns to the receiver's
// invocation.
type Config struct {
	ReceiverPort int
	SenderPort   int
	OutFile      string
	FLP          float64
	RLP          float64
	Seed         int64
}

// Stats accumulates the counters the receiver's log footer reports.
type Stats struct {
	BytesReceived     int
	SegmentsReceived  int
	DuplicateSegments int
	DataDropped       int
	AckDropped        int
}

// segmentItem is a btree.Item keyed by an absolute, non-wrapping
// position so google/btree's total-order requirement holds across a
// 16-bit sequence-number wrap.
type segmentItem struct {
	key     int64
	payload []byte
}

func (i *segmentItem) Less(than btree.Item) bool {
	return i.key < than.(*segmentItem).key
}

// reassemblyBuffer is the out-of-order store keyed by sequence number,
// per spec.md §3's Receive buffer and §9's "balanced tree keyed by seq"
// suggestion. It translates the wrapping uint16 sequence space into a
// monotonic int64 key so the tree's ordering stays well-defined.
type reassemblyBuffer struct {
	tree         *btree.BTree
	expectedSeq  uint16
	deliveredAbs int64
}

func newReassemblyBuffer(expectedSeq uint16) *reassemblyBuffer {
	return &reassemblyBuffer{tree: btree.New(32), expectedSeq: expectedSeq}
}

func (b *reassemblyBuffer) key(seq uint16) int64 {
	return b.deliveredAbs + int64(seqnum.Diff(seq, b.expectedSeq))
}

// forwardDiff reports how far ahead of expectedSeq seq lies, using the
// same signed half-space comparator as the sender.
func (b *reassemblyBuffer) forwardDiff(seq uint16) int32 {
	return seqnum.Diff(seq, b.expectedSeq)
}

// has reports whether seq is already buffered out of order.
func (b *reassemblyBuffer) has(seq uint16) bool {
	return b.tree.Get(&segmentItem{key: b.key(seq)}) != nil
}

// insert buffers payload keyed by seq. Callers must check has(seq)
// first to detect duplicates.
func (b *reassemblyBuffer) insert(seq uint16, payload []byte) {
	b.tree.ReplaceOrInsert(&segmentItem{key: b.key(seq), payload: payload})
}

// advance moves expectedSeq (and the abstract delivered-bytes counter)
// forward by n bytes, after n bytes have been written to the output.
func (b *reassemblyBuffer) advance(n int) {
	b.expectedSeq = seqnum.Add(b.expectedSeq, n)
	b.deliveredAbs += int64(n)
}

// popNext removes and returns the buffered entry that is now
// contiguous with expectedSeq, if any.
func (b *reassemblyBuffer) popNext() ([]byte, bool) {
	min := b.tree.Min()
	if min == nil {
		return nil, false
	}
	item := min.(*segmentItem)
	if item.key != b.deliveredAbs {
		return nil, false
	}
	b.tree.DeleteMin()
	return item.payload, true
}
