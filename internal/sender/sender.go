// Package sender implements the STP sender endpoint: the Transmit
// Engine, Receive Path, and Lifecycle Controller of spec.md §2.
package sender

import (
	crand "crypto/rand"
	"encoding/binary"
	"net"
	"syscall"
	"time"

	"github.com/pkg/errors"

	"github.com/kboyd/stp-go/internal/segment"
	"github.com/kboyd/stp-go/internal/seqnum"
	"github.com/kboyd/stp-go/internal/stperr"
	"github.com/kboyd/stp-go/internal/stplog"
	"github.com/kboyd/stp-go/internal/transport"
)

var (
	ErrHandshakeFailed = errors.New("sender: handshake gave up after 3 retransmits")
	ErrTeardownFailed  = errors.New("sender: teardown gave up after 3 retransmits")
	ErrPeerReset       = errors.New("sender: received RESET from peer")
	ErrUnexpectedAck   = errors.New("sender: received ACK with unexpected sequence number")
)

// Sender drives one file transfer to completion. Only the transmit
// context (runHandshake, runDataTransfer, runTeardown, all called
// sequentially from Run) reads or writes sendBase, nextSeq, sendBuf,
// dupAckCount and the timer; the receive context (receiveLoop) only
// decodes datagrams and forwards them over ackCh / resetCh, per spec
// §9's message-passing design.
type Sender struct {
	cfg Config
	ep  endpoint
	log *stplog.Logger

	isn         uint16
	sendBase    uint16
	nextSeq     uint16
	dupAckCount int
	sendBuf     []*sendBufferEntry
	timer       *retransTimer

	fileData []byte
	stats    Stats

	state   State
	ackCh   chan ackEvent
	resetCh chan struct{}
}

// New loads the input file, opens the loopback transport, chooses a
// random ISN, and returns a Sender ready to Run.
func New(cfg Config, logger *stplog.Logger) (*Sender, error) {
	data, err := loadFile(cfg.FilePath)
	if err != nil {
		return nil, err
	}
	ep, err := transport.Dial(cfg.SenderPort, cfg.ReceiverPort)
	if err != nil {
		return nil, err
	}
	isn, err := ISNFactory()
	if err != nil {
		return nil, err
	}
	return newSender(cfg, logger, ep, data, isn), nil
}

// ISNFactory produces the sender's initial sequence number. It defaults
// to a uniformly random uint16 (spec.md's ISN requirement); tests may
// override it to pin a specific ISN, e.g. to exercise behavior across
// the 2^16 wrap. Grounded on the teacher's package-level
// SequenceNumberFactory var in protocol.go, which plays the same role
// for its own sequence-number generation.
var ISNFactory = randomISN

func newSender(cfg Config, logger *stplog.Logger, ep endpoint, data []byte, isn uint16) *Sender {
	return &Sender{
		cfg:      cfg,
		ep:       ep,
		log:      logger,
		isn:      isn,
		fileData: data,
		timer:    newRetransTimer(),
		state:    Closed,
		ackCh:    make(chan ackEvent, 64),
		resetCh:  make(chan struct{}),
	}
}

func randomISN() (uint16, error) {
	var b [2]byte
	if _, err := crand.Read(b[:]); err != nil {
		return 0, stperr.Wrap(err, "generate ISN")
	}
	return binary.BigEndian.Uint16(b[:]), nil
}

// Run executes the full handshake, data transfer, and teardown, in
// order, and returns once the connection has reached CLOSED.
func (s *Sender) Run() error {
	defer s.ep.Close()
	go s.receiveLoop()

	s.log.ResetPivot()

	if err := s.runHandshake(); err != nil {
		return err
	}
	if err := s.runDataTransfer(); err != nil {
		s.writeFooter()
		return err
	}
	if err := s.runTeardown(); err != nil {
		s.writeFooter()
		return err
	}
	s.writeFooter()
	return nil
}

func (s *Sender) writeFooter() {
	s.log.SenderFooter(s.stats.BytesSent, s.stats.SegmentsSent, s.stats.Retransmitted, s.stats.DuplicateAcks)
}

// Stats returns a snapshot of the transfer counters. Safe to call only
// after Run has returned.
func (s *Sender) Stats() Stats {
	return s.stats
}

// State returns the sender's lifecycle state. Safe to call only after
// Run has returned.
func (s *Sender) State() State {
	return s.state
}

func (s *Sender) sendSegment(typ segment.Type, seq uint16, payload []byte) error {
	_, err := s.ep.WriteSegment(segment.Segment{Type: typ, Seq: seq, Payload: payload})
	s.log.Event(stplog.Snd, typ, seq, len(payload))
	return err
}

// receiveLoop is the sole reader of the socket. It never mutates
// sender state directly; it only classifies inbound segments and
// forwards them to the transmit context.
func (s *Sender) receiveLoop() {
	buf := make([]byte, segment.HeaderLength+segment.MSS)
	for {
		seg, err := s.ep.ReadSegment(buf)
		if err != nil {
			if _, ok := err.(net.Error); ok {
				return
			}
			// Malformed segment: ignore silently per spec §7.
			continue
		}
		switch seg.Type {
		case segment.Ack:
			s.log.Event(stplog.Rcv, segment.Ack, seg.Seq, 0)
			s.ackCh <- ackEvent{seq: seg.Seq}
		case segment.Reset:
			s.log.Event(stplog.Rcv, segment.Reset, seg.Seq, 0)
			close(s.resetCh)
			return
		default:
			// DATA/SYN/FIN arriving at the sender is out of protocol; ignore.
		}
	}
}

// runHandshake implements spec.md §4.2's SYN_SENT state: send SYN, wait
// for its ACK, and retry up to three total retransmits (four
// transmissions) before giving up and sending RESET. Recovered from
// sender.py's estab_hdlr/estab_exec recursion, where the initial send
// is attempt 1 and giving up happens on the fourth elapsed timer.
func (s *Sender) runHandshake() error {
	s.state = SynSent
	for attempt := 1; attempt <= 4; attempt++ {
		// A refused write means no receiver is listening yet; treat it
		// like a lost SYN and let the timer drive the retry.
		if err := s.sendSegment(segment.Syn, s.isn, nil); err != nil && !errors.Is(err, syscall.ECONNREFUSED) {
			return stperr.Wrap(err, "send SYN")
		}
		s.timer.arm(s.cfg.RTO)

		done, expired, violation := s.awaitHandshakeAck()
		if done {
			return nil
		}
		if violation {
			_ = s.sendSegment(segment.Reset, 0, nil)
			s.state = Closed
			s.log.Line("handshake aborted: received ACK with unexpected sequence number")
			return ErrUnexpectedAck
		}
		if !expired {
			s.state = Closed
			s.log.Line("handshake aborted: received RESET from peer")
			return ErrPeerReset
		}
	}
	_ = s.sendSegment(segment.Reset, 0, nil)
	s.state = Closed
	return ErrHandshakeFailed
}

// awaitHandshakeAck waits for either the SYN's ACK, the timer expiring
// (expired=true), a RESET from the peer (done=false, expired=false,
// violation=false), or an ACK with the wrong sequence number
// (violation=true) — grounded on sender.py's rv_listener, which treats
// any non-matching segment received before self.established as an
// immediate protocol violation rather than something to wait out.
func (s *Sender) awaitHandshakeAck() (done bool, expired bool, violation bool) {
	target := seqnum.Add(s.isn, 1)
	for {
		select {
		case ev := <-s.ackCh:
			if ev.seq != target {
				return false, false, true
			}
			s.timer.disarm()
			s.sendBase = ev.seq
			s.nextSeq = ev.seq
			s.state = Established
			return true, false, false
		case gen := <-s.timer.events:
			if !s.timer.accept(gen) {
				continue
			}
			return false, true, false
		case <-s.resetCh:
			return false, false, false
		}
	}
}

// runDataTransfer implements the Transmit Engine's sending rule and
// ACK-handling rules (spec.md §4.3) until every byte of the file has
// been sent and cumulatively acknowledged.
func (s *Sender) runDataTransfer() error {
	offset := 0
	for {
		for offset < len(s.fileData) && s.windowHasRoom() {
			n := len(s.fileData) - offset
			if n > segment.MSS {
				n = segment.MSS
			}
			payload := s.fileData[offset : offset+n]
			seq := s.nextSeq

			if err := s.sendSegment(segment.Data, seq, payload); err != nil {
				return stperr.Wrap(err, "send DATA")
			}
			s.sendBuf = append(s.sendBuf, &sendBufferEntry{
				seqStart:      seq,
				payload:       payload,
				sentAt:        time.Now(),
				transmissions: 1,
			})
			s.nextSeq = seqnum.Add(s.nextSeq, n)
			offset += n
			s.stats.BytesSent += n
			s.stats.SegmentsSent++

			if !s.timer.isArmed() {
				s.timer.arm(s.cfg.RTO)
			}
		}

		if offset >= len(s.fileData) && len(s.sendBuf) == 0 {
			s.state = Closing
			return nil
		}

		select {
		case ev := <-s.ackCh:
			s.handleAck(ev.seq)
		case gen := <-s.timer.events:
			if s.timer.accept(gen) {
				s.retransmitOldest()
			}
		case <-s.resetCh:
			s.state = Closed
			s.log.Line("data transfer aborted: received RESET from peer")
			return ErrPeerReset
		}
	}
}

func (s *Sender) windowHasRoom() bool {
	inflight := seqnum.Diff(s.nextSeq, s.sendBase)
	return inflight >= 0 && uint32(inflight)+segment.MSS <= s.cfg.MaxWin
}

// handleAck implements spec.md §4.3's three ACK-handling rules.
func (s *Sender) handleAck(a uint16) {
	diff := seqnum.Diff(a, s.sendBase)
	switch {
	case diff > 0 && uint32(diff) <= s.cfg.MaxWin:
		kept := s.sendBuf[:0]
		for _, e := range s.sendBuf {
			if seqnum.Diff(a, e.seqEnd()) >= 0 {
				continue // fully acknowledged
			}
			kept = append(kept, e)
		}
		s.sendBuf = kept
		s.sendBase = a
		s.dupAckCount = 0
		if len(s.sendBuf) > 0 {
			s.timer.arm(s.cfg.RTO)
		} else {
			s.timer.disarm()
		}
	case diff == 0:
		s.dupAckCount++
		s.stats.DuplicateAcks++
		if s.dupAckCount == 3 {
			s.retransmitOldest()
			s.dupAckCount = 0
		}
	default:
		// Older than send_base, or more than max_win ahead of it: ignore.
	}
}

func (s *Sender) retransmitOldest() {
	if len(s.sendBuf) == 0 {
		return
	}
	e := s.sendBuf[0]
	_ = s.sendSegment(segment.Data, e.seqStart, e.payload)
	e.transmissions++
	e.sentAt = time.Now()
	s.stats.Retransmitted++
	s.timer.arm(s.cfg.RTO)
}

// runTeardown implements spec.md §4.2's CLOSING/FIN_WAIT states,
// recovered from sender.py's fin_hdlr/fin_exec: same 4-attempt retry
// shape as the handshake, with the FIN's sequence number fixed at
// isn + 1 + file_length (here: the sender's own nextSeq, which
// invariant 3 guarantees equals that value once all data is acked).
func (s *Sender) runTeardown() error {
	s.state = FinWait
	finSeq := s.nextSeq
	target := seqnum.Add(finSeq, 1)

	for attempt := 1; attempt <= 4; attempt++ {
		if err := s.sendSegment(segment.Fin, finSeq, nil); err != nil {
			return stperr.Wrap(err, "send FIN")
		}
		s.timer.arm(s.cfg.RTO)

		done, expired, violation := s.awaitTeardownAck(target)
		if done {
			s.state = Closed
			return nil
		}
		if violation {
			_ = s.sendSegment(segment.Reset, 0, nil)
			s.state = Closed
			s.log.Line("teardown aborted: received ACK with unexpected sequence number")
			return ErrUnexpectedAck
		}
		if !expired {
			s.state = Closed
			s.log.Line("teardown aborted: received RESET from peer")
			return ErrPeerReset
		}
	}
	_ = s.sendSegment(segment.Reset, 0, nil)
	s.state = Closed
	return ErrTeardownFailed
}

// awaitTeardownAck mirrors awaitHandshakeAck's wait/violation shape for
// the FIN's ACK.
func (s *Sender) awaitTeardownAck(target uint16) (done bool, expired bool, violation bool) {
	for {
		select {
		case ev := <-s.ackCh:
			if ev.seq != target {
				return false, false, true
			}
			s.timer.disarm()
			return true, false, false
		case gen := <-s.timer.events:
			if !s.timer.accept(gen) {
				continue
			}
			return false, true, false
		case <-s.resetCh:
			return false, false, false
		}
	}
}
