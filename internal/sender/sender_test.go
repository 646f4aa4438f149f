package sender

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/kboyd/stp-go/internal/segment"
	"github.com/kboyd/stp-go/internal/seqnum"
	"github.com/kboyd/stp-go/internal/stplog"
)

// fakeClosedErr lets fakeEndpoint report socket closure the same way
// net.UDPConn does, so receiveLoop's net.Error type-assertion behaves
// the same against the fake as against a real socket.
type fakeClosedErr struct{}

func (fakeClosedErr) Error() string   { return "fake: use of closed connection" }
func (fakeClosedErr) Timeout() bool   { return false }
func (fakeClosedErr) Temporary() bool { return false }

type fakeEndpoint struct {
	out    chan segment.Segment
	in     chan segment.Segment
	closed chan struct{}
}

func newFakeEndpoint() *fakeEndpoint {
	return &fakeEndpoint{
		out:    make(chan segment.Segment, 256),
		in:     make(chan segment.Segment, 256),
		closed: make(chan struct{}),
	}
}

func (f *fakeEndpoint) WriteSegment(s segment.Segment) (int, error) {
	select {
	case f.out <- s:
	default:
	}
	return 0, nil
}

func (f *fakeEndpoint) ReadSegment(_ []byte) (segment.Segment, error) {
	select {
	case s := <-f.in:
		return s, nil
	case <-f.closed:
		return segment.Segment{}, fakeClosedErr{}
	}
}

func (f *fakeEndpoint) SetReadDeadline(time.Time) error { return nil }

func (f *fakeEndpoint) Close() error {
	select {
	case <-f.closed:
	default:
		close(f.closed)
	}
	return nil
}

func discardLogger() *stplog.Logger {
	return stplog.New(discardWriter{}, nil)
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

type SenderTestSuite struct {
	suite.Suite
}

func (suite *SenderTestSuite) TestHandshakeSuccess() {
	ep := newFakeEndpoint()
	s := newSender(Config{MaxWin: 1000, RTO: 20 * time.Millisecond}, discardLogger(), ep, nil, 100)
	go s.receiveLoop()

	go func() {
		syn := <-ep.out
		suite.Equal(segment.Syn, syn.Type)
		ep.in <- segment.Segment{Type: segment.Ack, Seq: seqnum.Add(s.isn, 1)}
	}()

	err := s.runHandshake()
	suite.NoError(err)
	suite.Equal(Established, s.state)
	suite.Equal(seqnum.Add(s.isn, 1), s.sendBase)
}

func (suite *SenderTestSuite) TestHandshakeGivesUpAfterThreeRetransmits() {
	ep := newFakeEndpoint()
	s := newSender(Config{MaxWin: 1000, RTO: 5 * time.Millisecond}, discardLogger(), ep, nil, 7)

	err := s.runHandshake()
	suite.ErrorIs(err, ErrHandshakeFailed)
	suite.Equal(Closed, s.state)

	var syns, resets int
	close(ep.out)
	for seg := range ep.out {
		switch seg.Type {
		case segment.Syn:
			syns++
		case segment.Reset:
			resets++
		}
	}
	suite.Equal(4, syns)
	suite.Equal(1, resets)
}

func (suite *SenderTestSuite) TestHandshakeTerminatesOnUnexpectedAckSeq() {
	ep := newFakeEndpoint()
	s := newSender(Config{MaxWin: 1000, RTO: time.Second}, discardLogger(), ep, nil, 100)
	go s.receiveLoop()

	go func() {
		syn := <-ep.out
		suite.Equal(segment.Syn, syn.Type)
		ep.in <- segment.Segment{Type: segment.Ack, Seq: seqnum.Add(s.isn, 999)}
	}()

	err := s.runHandshake()
	suite.ErrorIs(err, ErrUnexpectedAck)
	suite.Equal(Closed, s.state)

	close(ep.out)
	var resets int
	for seg := range ep.out {
		if seg.Type == segment.Reset {
			resets++
		}
	}
	suite.Equal(1, resets)
}

func (suite *SenderTestSuite) TestFastRetransmitOnExactlyThirdDuplicateAck() {
	ep := newFakeEndpoint()
	s := newSender(Config{MaxWin: 3000, RTO: time.Second}, discardLogger(), ep, nil, 0)
	s.sendBase = 500
	s.nextSeq = 1500
	s.sendBuf = []*sendBufferEntry{{seqStart: 500, payload: make([]byte, 1000), transmissions: 1}}

	s.handleAck(500)
	s.handleAck(500)
	suite.Equal(0, s.stats.Retransmitted)
	s.handleAck(500)
	suite.Equal(1, s.stats.Retransmitted)
	suite.Equal(0, s.dupAckCount)

	s.handleAck(500)
	suite.Equal(1, s.dupAckCount)
	suite.Equal(1, s.stats.Retransmitted)
}

func (suite *SenderTestSuite) TestAdvancingAckDropsFullyAckedEntriesOnly() {
	ep := newFakeEndpoint()
	s := newSender(Config{MaxWin: 3000, RTO: time.Second}, discardLogger(), ep, nil, 0)
	s.sendBase = 0
	s.nextSeq = 2000
	s.sendBuf = []*sendBufferEntry{
		{seqStart: 0, payload: make([]byte, 1000)},
		{seqStart: 1000, payload: make([]byte, 1000)},
	}

	s.handleAck(1000)
	suite.Equal(uint16(1000), s.sendBase)
	suite.Require().Len(s.sendBuf, 1)
	suite.Equal(uint16(1000), s.sendBuf[0].seqStart)
	suite.True(s.timer.isArmed())
}

func (suite *SenderTestSuite) TestWindowHasRoom() {
	s := newSender(Config{MaxWin: 3000, RTO: time.Second}, discardLogger(), newFakeEndpoint(), nil, 0)
	s.sendBase = 0
	s.nextSeq = 2000
	suite.True(s.windowHasRoom())
	s.nextSeq = 2001
	suite.False(s.windowHasRoom())
}

func (suite *SenderTestSuite) TestWindowHasRoomAcrossWrap() {
	s := newSender(Config{MaxWin: 2000, RTO: time.Second}, discardLogger(), newFakeEndpoint(), nil, 0)
	s.sendBase = 65200
	s.nextSeq = seqnum.Add(65200, 999)
	suite.True(s.windowHasRoom())
}

func (suite *SenderTestSuite) TestOnlyOneTimerArmedAtATime() {
	s := newSender(Config{MaxWin: 3000, RTO: time.Second}, discardLogger(), newFakeEndpoint(), nil, 0)
	s.timer.arm(s.cfg.RTO)
	suite.True(s.timer.isArmed())
	s.timer.arm(s.cfg.RTO)
	suite.True(s.timer.isArmed())
	s.timer.disarm()
	suite.False(s.timer.isArmed())
}

func TestSender(t *testing.T) {
	suite.Run(t, new(SenderTestSuite))
}

var _ net.Error = fakeClosedErr{}
