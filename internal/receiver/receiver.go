// Package receiver implements the STP receiver endpoint: the Loss
// Channel, Reassembly Buffer, ACK Generator, and Lifecycle Controller
// of spec.md §2.
package receiver

import (
	"bufio"
	"net"
	"os"
	"time"

	"github.com/kboyd/stp-go/internal/segment"
	"github.com/kboyd/stp-go/internal/seqnum"
	"github.com/kboyd/stp-go/internal/stperr"
	"github.com/kboyd/stp-go/internal/stplog"
	"github.com/kboyd/stp-go/internal/transport"
)

// Receiver drives one inbound transfer to completion. Only the Run
// loop's goroutine ever reads or writes state, peerISN, buf, finCount
// and stats; the 2-second TIME_WAIT wait is a deadline Run itself polls
// for via the transport's read deadline, so no second goroutine ever
// touches connection state, matching the sender's single-owner
// discipline for its transmit context.
type Receiver struct {
	cfg  Config
	ep   endpoint
	log  *stplog.Logger
	loss *lossChannel

	out      *bufio.Writer
	closeOut func() error

	state            State
	peerISN          uint16
	buf              *reassemblyBuffer
	finCount         int
	stats            Stats
	timeWaitDeadline time.Time
}

// New opens the output file, dials the loopback transport, and returns
// a Receiver ready to Run.
func New(cfg Config, logger *stplog.Logger) (*Receiver, error) {
	f, err := os.Create(cfg.OutFile)
	if err != nil {
		return nil, stperr.Wrapf(err, "create %s", cfg.OutFile)
	}
	ep, err := transport.Dial(cfg.ReceiverPort, cfg.SenderPort)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	w := bufio.NewWriter(f)
	r := newReceiver(cfg, logger, ep, w, cfg.Seed)
	r.closeOut = func() error {
		if err := w.Flush(); err != nil {
			return err
		}
		return f.Close()
	}
	return r, nil
}

func newReceiver(cfg Config, logger *stplog.Logger, ep endpoint, out *bufio.Writer, seed int64) *Receiver {
	return &Receiver{
		cfg:   cfg,
		ep:    ep,
		log:   logger,
		out:   out,
		loss:  newLossChannel(seed, cfg.FLP, cfg.RLP),
		state: Listen,
	}
}

// timeWaitPoll bounds how long a single ReadSegment call blocks while in
// TIME_WAIT, so Run can notice the 2-second deadline elapsing without a
// second goroutine ever touching r.state.
const timeWaitPoll = 50 * time.Millisecond

// Run blocks until the connection reaches CLOSED, either through
// normal teardown, a RESET from either side, or the TIME_WAIT deadline
// elapsing.
func (r *Receiver) Run() error {
	defer r.ep.Close()
	buf := make([]byte, segment.HeaderLength+segment.MSS)

	for {
		if r.state == TimeWait {
			if !r.timeWaitDeadline.After(time.Now()) {
				r.state = Closed
				break
			}
			if err := r.ep.SetReadDeadline(time.Now().Add(timeWaitPoll)); err != nil {
				return err
			}
		}

		seg, err := r.ep.ReadSegment(buf)
		if err != nil {
			if transport.IsTimeout(err) {
				continue // TIME_WAIT poll tick: recheck the deadline above
			}
			if _, ok := err.(net.Error); ok {
				break
			}
			continue // malformed segment: ignore silently per spec §7
		}
		if !r.handleSegment(seg) {
			break
		}
	}

	r.writeFooter()
	if r.closeOut != nil {
		return r.closeOut()
	}
	return r.out.Flush()
}

func (r *Receiver) writeFooter() {
	r.log.ReceiverFooter(r.stats.BytesReceived, r.stats.SegmentsReceived, r.stats.DuplicateSegments, r.stats.DataDropped, r.stats.AckDropped)
}

// Stats returns a snapshot of the transfer counters. Safe to call only
// after Run has returned.
func (r *Receiver) Stats() Stats {
	return r.stats
}

// State returns the receiver's lifecycle state. Safe to call only
// after Run has returned.
func (r *Receiver) State() State {
	return r.state
}

// handleSegment applies the Loss Channel, logs the outcome, and
// dispatches to the current lifecycle state. It returns false when the
// connection should terminate.
func (r *Receiver) handleSegment(seg segment.Segment) bool {
	if seg.Type == segment.Reset {
		r.log.Event(stplog.Rcv, segment.Reset, seg.Seq, 0)
		r.state = Closed
		r.log.Line("connection reset by peer")
		return false
	}

	if seg.Type == segment.Data || seg.Type == segment.Syn || seg.Type == segment.Fin {
		if r.loss.dropInbound() {
			r.log.Event(stplog.Drp, seg.Type, seg.Seq, len(seg.Payload))
			if seg.Type == segment.Data {
				r.stats.DataDropped++
			}
			return true
		}
	}

	r.log.Event(stplog.Rcv, seg.Type, seg.Seq, len(seg.Payload))

	switch r.state {
	case Listen:
		return r.handleListen(seg)
	case Established:
		return r.handleEstablished(seg)
	case TimeWait:
		return r.handleTimeWait(seg)
	default:
		return true
	}
}

func (r *Receiver) handleListen(seg segment.Segment) bool {
	if seg.Type != segment.Syn {
		r.sendReset()
		return false
	}
	r.peerISN = seg.Seq
	r.log.ResetPivot()
	expected := seqnum.Add(seg.Seq, 1)
	r.buf = newReassemblyBuffer(expected)
	r.state = Established
	r.sendAck(expected)
	return true
}

func (r *Receiver) handleEstablished(seg segment.Segment) bool {
	switch seg.Type {
	case segment.Data:
		return r.handleData(seg)
	case segment.Fin:
		return r.handleFin(seg)
	case segment.Syn:
		if seg.Seq == r.peerISN {
			// Our ACK of this SYN was presumably lost; resend it.
			r.sendAck(r.buf.expectedSeq)
			return true
		}
		r.sendReset()
		return false
	default:
		r.sendReset()
		return false
	}
}

func (r *Receiver) handleTimeWait(seg segment.Segment) bool {
	switch seg.Type {
	case segment.Fin:
		// Our ACK of the peer's FIN was presumably lost.
		r.finCount++
		r.sendAck(seqnum.Add(seg.Seq, 1))
		return true
	case segment.Data:
		r.sendReset()
		return false
	default:
		return true
	}
}

// handleData implements spec.md §4.5's reassembly and cumulative-ACK
// rules.
func (r *Receiver) handleData(seg segment.Segment) bool {
	if r.finCount > 0 {
		r.sendReset()
		return false
	}

	diff := r.buf.forwardDiff(seg.Seq)
	switch {
	case diff == 0:
		r.deliver(seg.Payload)
		r.buf.advance(len(seg.Payload))
		for {
			payload, ok := r.buf.popNext()
			if !ok {
				break
			}
			r.deliver(payload)
			r.buf.advance(len(payload))
		}
	case diff > 0 && diff <= forwardHorizon:
		if r.buf.has(seg.Seq) {
			r.stats.DuplicateSegments++
		} else {
			r.buf.insert(seg.Seq, append([]byte(nil), seg.Payload...))
		}
	default:
		r.stats.DuplicateSegments++
	}

	r.sendAck(r.buf.expectedSeq)
	return true
}

func (r *Receiver) deliver(payload []byte) {
	_, _ = r.out.Write(payload)
	r.stats.BytesReceived += len(payload)
	r.stats.SegmentsReceived++
}

func (r *Receiver) handleFin(seg segment.Segment) bool {
	if seg.Seq != r.buf.expectedSeq {
		r.sendReset()
		return false
	}
	r.finCount++
	r.sendAck(seqnum.Add(seg.Seq, 1))
	if r.finCount == 1 {
		r.state = TimeWait
		r.timeWaitDeadline = time.Now().Add(2 * time.Second)
	}
	return true
}

func (r *Receiver) sendAck(seq uint16) {
	if r.loss.dropOutboundAck() {
		r.log.Event(stplog.Drp, segment.Ack, seq, 0)
		r.stats.AckDropped++
		return
	}
	_, _ = r.ep.WriteSegment(segment.Segment{Type: segment.Ack, Seq: seq})
	r.log.Event(stplog.Snd, segment.Ack, seq, 0)
}

func (r *Receiver) sendReset() {
	_, _ = r.ep.WriteSegment(segment.Segment{Type: segment.Reset, Seq: 0})
	r.log.Event(stplog.Snd, segment.Reset, 0, 0)
}
