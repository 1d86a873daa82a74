package main

import (
	"context"
	"flag"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	protocol "rudp-transfer/pkg"
)

func main() {
	var (
		serverAddr = flag.String("connect", "127.0.0.1:9000", "UDP address of the sender")
		outPath    = flag.String("out", "received_data.txt", "destination file")
		verbose    = flag.Bool("v", false, "debug logging")
	)
	flag.Parse()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}).
		With().Timestamp().Logger().Level(zerolog.InfoLevel)
	if *verbose {
		log = log.Level(zerolog.DebugLevel)
	}

	if err := run(*serverAddr, *outPath, log); err != nil {
		log.Error().Err(err).Msg("transfer failed")
		os.Exit(1)
	}
}

func run(serverAddr, outPath string, log zerolog.Logger) error {
	addr, err := net.ResolveUDPAddr("udp4", serverAddr)
	if err != nil {
		return err
	}
	conn, err := net.DialUDP("udp4", nil, addr)
	if err != nil {
		return err
	}
	defer conn.Close()

	sink, err := protocol.CreateFileSink(outPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ch := protocol.NewUDPChannel(conn, nil)
	recv := protocol.NewReceiver(ch, sink, protocol.DefaultConfig(), log)
	err = recv.Run(ctx)
	if err != nil {
		// keep the partial output, but release the handle
		sink.Close()
	}
	return err
}
