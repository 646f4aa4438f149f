// Package integration runs a real sender against a real receiver over
// loopback UDP, exercising the six end-to-end scenarios of spec.md §8.
package integration

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/kboyd/stp-go/internal/receiver"
	"github.com/kboyd/stp-go/internal/sender"
	"github.com/kboyd/stp-go/internal/stplog"
)

type IntegrationTestSuite struct {
	suite.Suite
}

func (suite *IntegrationTestSuite) SetupTest() {
	if testing.Short() {
		suite.T().Skip("skipping loopback UDP integration test")
	}
}

// transfer runs one sender/receiver pair to completion and returns
// both endpoints for assertion. senderPort/receiverPort must be unique
// per test to avoid colliding with a concurrently running case.
func (suite *IntegrationTestSuite) transfer(senderPort, receiverPort int, input []byte, maxWin uint32, rto time.Duration, flp, rlp float64) (*sender.Sender, *receiver.Receiver, []byte) {
	dir := suite.T().TempDir()
	inPath := filepath.Join(dir, "in.txt")
	outPath := filepath.Join(dir, "out.txt")
	suite.Require().NoError(os.WriteFile(inPath, input, 0o644))

	recvCfg := receiver.Config{
		ReceiverPort: receiverPort,
		SenderPort:   senderPort,
		OutFile:      outPath,
		FLP:          flp,
		RLP:          rlp,
		Seed:         42,
	}
	r, err := receiver.New(recvCfg, stplog.New(io.Discard, nil))
	suite.Require().NoError(err)

	sendCfg := sender.Config{
		SenderPort:   senderPort,
		ReceiverPort: receiverPort,
		FilePath:     inPath,
		MaxWin:       maxWin,
		RTO:          rto,
	}
	s, err := sender.New(sendCfg, stplog.New(io.Discard, nil))
	suite.Require().NoError(err)

	recvDone := make(chan error, 1)
	go func() { recvDone <- r.Run() }()

	sendErr := s.Run()
	suite.Require().NoError(sendErr)
	suite.Require().NoError(<-recvDone)

	out, err := os.ReadFile(outPath)
	suite.Require().NoError(err)
	return s, r, out
}

func (suite *IntegrationTestSuite) TestReliableStopAndWait() {
	input := make([]byte, 3500)
	for i := range input {
		input[i] = byte(i)
	}
	s, _, out := suite.transfer(51001, 51002, input, 1000, 100*time.Millisecond, 0, 0)

	suite.Equal(input, out)
	suite.Equal(4, s.Stats().SegmentsSent)
	suite.Equal(0, s.Stats().Retransmitted)
	suite.Equal(0, s.Stats().DuplicateAcks)
}

func (suite *IntegrationTestSuite) TestUnreliableStopAndWait() {
	input := make([]byte, 3500)
	for i := range input {
		input[i] = byte(i * 3)
	}
	_, _, out := suite.transfer(51003, 51004, input, 1000, 60*time.Millisecond, 0.1, 0.1)
	suite.Equal(input, out)
}

func (suite *IntegrationTestSuite) TestReliableSlidingWindow() {
	input := make([]byte, 50000)
	for i := range input {
		input[i] = byte(i)
	}
	s, _, out := suite.transfer(51005, 51006, input, 5000, 150*time.Millisecond, 0, 0)

	suite.Equal(input, out)
	suite.Equal(50, s.Stats().SegmentsSent)
	suite.Equal(0, s.Stats().Retransmitted)
}

func (suite *IntegrationTestSuite) TestUnreliableSlidingWindow() {
	input := make([]byte, 50000)
	for i := range input {
		input[i] = byte(i + 7)
	}
	_, _, out := suite.transfer(51007, 51008, input, 5000, 80*time.Millisecond, 0.1, 0.1)
	suite.Equal(input, out)
}

func (suite *IntegrationTestSuite) TestHandshakeFailureWithNoReceiver() {
	dir := suite.T().TempDir()
	inPath := filepath.Join(dir, "in.txt")
	suite.Require().NoError(os.WriteFile(inPath, []byte("hi"), 0o644))

	cfg := sender.Config{
		SenderPort:   51009,
		ReceiverPort: 51010, // nothing listening here
		FilePath:     inPath,
		MaxWin:       1000,
		RTO:          20 * time.Millisecond,
	}
	s, err := sender.New(cfg, stplog.New(io.Discard, nil))
	suite.Require().NoError(err)

	start := time.Now()
	runErr := s.Run()
	elapsed := time.Since(start)

	suite.ErrorIs(runErr, sender.ErrHandshakeFailed)
	suite.Equal(sender.Closed, s.State())
	// Four total SYN transmissions at rto spacing: at least 3 RTOs elapse.
	suite.GreaterOrEqual(elapsed, 60*time.Millisecond)
}

func (suite *IntegrationTestSuite) TestSequenceNumberWrap() {
	orig := sender.ISNFactory
	sender.ISNFactory = func() (uint16, error) { return 65000, nil }
	defer func() { sender.ISNFactory = orig }()

	input := make([]byte, 2000)
	for i := range input {
		input[i] = byte(i)
	}
	s, _, out := suite.transfer(51011, 51012, input, 1000, 100*time.Millisecond, 0, 0)

	suite.Equal(input, out)
	suite.Equal(0, s.Stats().Retransmitted)
}

func TestIntegration(t *testing.T) {
	suite.Run(t, new(IntegrationTestSuite))
}
