// Command bdcli is an interactive client for the block-device server:
// it reads protocol command lines from stdin (I, R c s, W c s l
// followed by l raw bytes) and prints the server's reply, matching
// original_source/disk_cli_v2.c. It has no protocol logic of its own
// beyond what pkg/blockdev.Client already implements.
package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/ondisk/blockfs/pkg/blockdev"
)

func main() {
	os.Exit(run())
}

func run() int {
	if len(os.Args) != 3 {
		fmt.Fprintf(os.Stderr, "usage: %s <host> <port>\n", os.Args[0])
		return 1
	}

	addr := os.Args[1] + ":" + os.Args[2]
	client, err := blockdev.Dial(context.Background(), addr)
	if err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("connect: %v", err))
		return 1
	}
	defer client.Close()

	red := color.New(color.FgRed).SprintFunc()
	green := color.New(color.FgGreen).SprintFunc()

	in := bufio.NewReader(os.Stdin)
	for {
		line, err := in.ReadString('\n')
		if line == "" && err != nil {
			return 0
		}
		switch {
		case len(line) == 0:
			continue
		case line[0] == 'I':
			geom, err := client.Geometry()
			if err != nil {
				fmt.Println(red(err.Error()))
				return 0
			}
			fmt.Printf("%d %d\n", geom.Cylinders, geom.Sectors)
		case line[0] == 'R':
			var c, s int64
			if _, err := fmt.Sscanf(line, "R %d %d", &c, &s); err != nil {
				fmt.Fprintln(os.Stderr, "bad R command")
				continue
			}
			ok, data, err := client.ReadBlock(c, s)
			if err != nil {
				fmt.Println(red(err.Error()))
				return 0
			}
			if !ok {
				fmt.Println("0")
				continue
			}
			fmt.Printf("1 %x ...\n", data[:32])
		case line[0] == 'W':
			var c, s, l int64
			if _, err := fmt.Sscanf(line, "W %d %d %d", &c, &s, &l); err != nil {
				fmt.Fprintln(os.Stderr, "bad W command")
				continue
			}
			payload := make([]byte, l)
			if l > 0 {
				if _, err := io.ReadFull(in, payload); err != nil {
					fmt.Fprintln(os.Stderr, "stdin ended early")
					return 1
				}
			}
			ok, err := client.WriteBlock(c, s, payload)
			if err != nil {
				fmt.Println(red(err.Error()))
				return 0
			}
			if ok {
				fmt.Println(green("1"))
			} else {
				fmt.Println(red("0"))
			}
		default:
			fmt.Fprintf(os.Stderr, "unknown command type: %c\n", line[0])
		}
		if err != nil {
			return 0
		}
	}
}
