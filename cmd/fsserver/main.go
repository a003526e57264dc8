// Command fsserver runs the filesystem server: a TCP service that
// implements a flat named-file filesystem layered on a running
// bdserver instance.
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

	"github.com/sirupsen/logrus"

	"github.com/ondisk/blockfs/internal/config"
	"github.com/ondisk/blockfs/pkg/blockfs"
)

func main() {
	os.Exit(run())
}

func run() int {
	confPath := flag.String("conf", "", "optional ini file with server defaults")
	verbose := flag.Bool("v", false, "enable debug logging")
	flag.Parse()

	args := flag.Args()
	if len(args) != 3 {
		fmt.Fprintln(os.Stderr, "usage: fsserver [-conf path] [-v] <listen_port> <disk_host> <disk_port>")
		return 2
	}

	listenPort, err := strconv.Atoi(args[0])
	if err != nil {
		fmt.Fprintln(os.Stderr, "fsserver: listen_port must be an integer")
		return 2
	}
	diskHost := args[1]
	diskPort := args[2]
	if _, err := strconv.Atoi(diskPort); err != nil {
		fmt.Fprintln(os.Stderr, "fsserver: disk_port must be an integer")
		return 2
	}

	defaults := config.DefaultDefaults()
	if *confPath != "" {
		d, err := config.Load(*confPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "fsserver: %v\n", err)
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

	bdAddr := net.JoinHostPort(diskHost, diskPort)
	srv := blockfs.NewServer(bdAddr, log)

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", listenPort))
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
		"addr":    ln.Addr().String(),
		"bd_addr": bdAddr,
	}).Info("fsserver listening")

	if err := srv.Serve(ctx, ln); err != nil {
		log.WithError(err).Error("serve")
		return 1
	}
	return 0
}
