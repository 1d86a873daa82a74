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
		listenAddr = flag.String("listen", ":9000", "UDP address to serve the file on")
		filePath   = flag.String("file", "data.txt", "file to transfer")
		window     = flag.Int("window", 0, "fixed sender window in bytes; 0 enables congestion control")
		cwndTrace  = flag.String("cwnd-log", "", "optional csv trace of the congestion window")
		verbose    = flag.Bool("v", false, "debug logging")
	)
	flag.Parse()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}).
		With().Timestamp().Logger().Level(zerolog.InfoLevel)
	if *verbose {
		log = log.Level(zerolog.DebugLevel)
	}

	if err := run(*listenAddr, *filePath, *window, *cwndTrace, log); err != nil {
		log.Error().Err(err).Msg("transfer failed")
		os.Exit(1)
	}
}

func run(listenAddr, filePath string, window int, cwndTrace string, log zerolog.Logger) error {
	addr, err := net.ResolveUDPAddr("udp4", listenAddr)
	if err != nil {
		return err
	}
	conn, err := net.ListenUDP("udp4", addr)
	if err != nil {
		return err
	}
	defer conn.Close()

	src, err := protocol.OpenFileSource(filePath)
	if err != nil {
		return err
	}
	defer src.Close()

	ch := protocol.NewUDPChannel(conn, nil)
	log.Info().Str("listen", listenAddr).Int64("bytes", src.Size()).Msg("waiting for transfer request")
	peer, err := ch.AwaitRequest()
	if err != nil {
		return err
	}
	log.Info().Stringer("peer", peer).Msg("transfer requested")

	cfg := protocol.DefaultConfig()
	cfg.WindowBytes = window
	cfg.CwndTracePath = cwndTrace

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return protocol.NewSender(ch, src, cfg, log).Run(ctx)
}
