// Command bdserver runs the block-device server: a TCP service that
// stores (cylinder, sector)-addressed 128-byte blocks in a memory-
// mapped backing file and simulates seek latency between requests.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ondisk/blockfs/internal/config"
	"github.com/ondisk/blockfs/pkg/blockdev"
)

func main() {
	os.Exit(run())
}

func run() int {
	confPath := flag.String("conf", "", "optional ini file with server defaults")
	verbose := flag.Bool("v", false, "enable debug logging")
	flag.Parse()

	args := flag.Args()
	if len(args) != 5 {
		fmt.Fprintln(os.Stderr, "usage: bdserver [-conf path] [-v] <port> <cylinders> <sectors> <track_us> <backing_file>")
		return 2
	}

	port, err1 := strconv.Atoi(args[0])
	cylinders, err2 := strconv.ParseInt(args[1], 10, 64)
	sectors, err3 := strconv.ParseInt(args[2], 10, 64)
	trackUs, err4 := strconv.ParseInt(args[3], 10, 64)
	backingFile := args[4]
	if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
		fmt.Fprintln(os.Stderr, "bdserver: all of port, cylinders, sectors, track_us must be integers")
		return 2
	}

	geom := blockdev.Geometry{Cylinders: cylinders, Sectors: sectors}
	if err := geom.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "bdserver: invalid geometry: %v\n", err)
		return 2
	}

	defaults := config.DefaultDefaults()
	if *confPath != "" {
		d, err := config.Load(*confPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "bdserver: %v\n", err)
			return 2
		}
		defaults = d
	}

	log := logrus.New()
	level := defaults.LogLevel
	if *verbose {
		level = "debug"
	}
	if parsed, err := logrus.ParseLevel(level); err == nil {
		log.SetLevel(parsed)
	}

	store, err := blockdev.OpenStore(backingFile, geom)
	if err != nil {
		log.WithError(err).Error("open backing file")
		return 1
	}
	defer store.Close()

	trackDelay := time.Duration(trackUs) * time.Microsecond
	if trackUs == 0 && defaults.TrackDelayMicros != 0 {
		trackDelay = time.Duration(defaults.TrackDelayMicros) * time.Microsecond
	}

	srv := blockdev.NewServer(geom, store, trackDelay, log)

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		log.WithError(err).Error("listen")
		return 1
	}
	defer ln.Close()

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("shutting down")
		cancel()
	}()

	log.WithFields(logrus.Fields{
		"addr":      ln.Addr().String(),
		"cylinders": cylinders,
		"sectors":   sectors,
		"track_us":  trackUs,
		"backing":   backingFile,
	}).Info("bdserver listening")

	if err := srv.Serve(ctx, ln); err != nil {
		log.WithError(err).Error("serve")
		return 1
	}
	return 0
}
