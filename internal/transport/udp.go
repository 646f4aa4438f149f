// Package transport wraps the loopback UDP sockets an STP endpoint
// uses to exchange segments with its peer. It is the "socket bind/setup"
// collaborator spec.md §1 places outside the protocol core: nothing here
// interprets segment semantics, it only moves bytes.
package transport

import (
	"net"
	"time"

	"github.com/kboyd/stp-go/internal/segment"
	"github.com/kboyd/stp-go/internal/stperr"
)

// Endpoint owns two UDP sockets, grounded on the teacher's udpConnector:
// one bound to the process's own port for receiving, one dialed to the
// peer's port for sending. Keeping them separate means the send path
// never blocks behind the receive path's read deadline.
type Endpoint struct {
	recv *net.UDPConn
	send *net.UDPConn
}

// Dial opens an Endpoint listening on ownPort and sending to peerPort,
// both on the loopback interface, matching spec.md §6 ("Both peers run
// on the same host on the loopback interface").
func Dial(ownPort, peerPort int) (*Endpoint, error) {
	ownAddr := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: ownPort}
	peerAddr := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: peerPort}

	recv, err := net.ListenUDP("udp4", ownAddr)
	if err != nil {
		return nil, stperr.Wrapf(err, "listen on port %d", ownPort)
	}
	send, err := net.DialUDP("udp4", nil, peerAddr)
	if err != nil {
		_ = recv.Close()
		return nil, stperr.Wrapf(err, "dial port %d", peerPort)
	}
	return &Endpoint{recv: recv, send: send}, nil
}

// WriteSegment encodes and sends seg to the peer.
func (e *Endpoint) WriteSegment(seg segment.Segment) (int, error) {
	return e.send.Write(segment.Encode(seg))
}

// ReadSegment blocks until a datagram arrives (or the read deadline, if
// any, expires) and decodes it. buf must be at least
// segment.HeaderLength+segment.MSS bytes.
func (e *Endpoint) ReadSegment(buf []byte) (segment.Segment, error) {
	n, err := e.recv.Read(buf)
	if err != nil {
		return segment.Segment{}, err
	}
	return segment.Decode(buf[:n])
}

// SetReadDeadline bounds the next ReadSegment call, used by the
// receiver's TIME_WAIT state to poll its own elapsed-deadline check on a
// short interval rather than block indefinitely on the socket.
func (e *Endpoint) SetReadDeadline(t time.Time) error {
	return e.recv.SetReadDeadline(t)
}

// IsTimeout reports whether err was produced by an expired read deadline.
func IsTimeout(err error) bool {
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}

// Close releases both sockets.
func (e *Endpoint) Close() error {
	sendErr := e.send.Close()
	recvErr := e.recv.Close()
	if sendErr != nil {
		return sendErr
	}
	return recvErr
}
