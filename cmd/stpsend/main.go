// Command stpsend is the STP sender endpoint.
//
//	stpsend <sender-port> <receiver-port> <file> <max-win> <rto-ms>
package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/kboyd/stp-go/internal/sender"
	"github.com/kboyd/stp-go/internal/stperr"
	"github.com/kboyd/stp-go/internal/stplog"
)

func usage() {
	fmt.Fprintln(os.Stderr, "Syntax: stpsend <sender_port> <receiver_port> <file_to_send> <max_win> <rto_ms>")
	fmt.Fprintln(os.Stderr, "<max_win>: size of the sending window in bytes, a multiple of 1000 (MSS)")
	fmt.Fprintln(os.Stderr, "<rto_ms>: timeout in milliseconds for the oldest packet in the sending window")
}

func main() {
	if len(os.Args) != 6 {
		usage()
		os.Exit(1)
	}

	senderPort, err1 := strconv.Atoi(os.Args[1])
	receiverPort, err2 := strconv.Atoi(os.Args[2])
	maxWin, err3 := strconv.ParseUint(os.Args[4], 10, 32)
	rtoMs, err4 := strconv.ParseUint(os.Args[5], 10, 32)
	if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
		usage()
		os.Exit(1)
	}

	cfg := sender.Config{
		SenderPort:   senderPort,
		ReceiverPort: receiverPort,
		FilePath:     os.Args[3],
		MaxWin:       uint32(maxWin),
		RTO:          time.Duration(rtoMs) * time.Millisecond,
	}

	logFile, err := os.Create("sender_log.txt")
	if err != nil {
		stperr.Fatal(err)
	}
	defer logFile.Close()

	logger := stplog.New(logFile, nil)

	s, err := sender.New(cfg, logger)
	if err != nil {
		stperr.Fatal(err)
	}
	if err := s.Run(); err != nil {
		stperr.Fatal(err)
	}
}
