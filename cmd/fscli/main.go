// Command fscli is an interactive client for the filesystem server:
// it forwards F/C/D/L/R/W command lines typed on stdin and prints the
// replies, matching original_source/fs_cli.c. All protocol handling
// lives in pkg/blockfs.Client; this program only wires stdin/stdout to
// it and adds colored status output.
package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"

	"github.com/ondisk/blockfs/pkg/blockfs"
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
	client, err := blockfs.Dial(context.Background(), addr)
	if err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("connect: %v", err))
		return 1
	}
	defer client.Close()

	fmt.Fprintln(os.Stderr, "Enter: F | C f | D f | L b | R f | W f l <newline> <raw data>")

	red := color.New(color.FgRed).SprintFunc()
	green := color.New(color.FgGreen).SprintFunc()

	in := bufio.NewReader(os.Stdin)
	for {
		line, rerr := in.ReadString('\n')
		trimmed := strings.TrimRight(line, "\r\n")
		if trimmed == "" {
			if rerr != nil {
				return 0
			}
			continue
		}

		switch trimmed[0] {
		case 'F':
			code, err := client.Format()
			printCode(code, err, red, green)
		case 'C':
			code, err := client.Create(strings.TrimSpace(trimmed[1:]))
			printCode(code, err, red, green)
		case 'D':
			code, err := client.Delete(strings.TrimSpace(trimmed[1:]))
			printCode(code, err, red, green)
		case 'L':
			brief := strings.TrimSpace(trimmed[1:]) == "0"
			entries, err := client.List(brief)
			if err != nil {
				fmt.Println(red(err.Error()))
				break
			}
			for _, e := range entries {
				if brief {
					fmt.Println(e.Name)
				} else {
					fmt.Printf("%s %d\n", e.Name, e.Length)
				}
			}
		case 'R':
			code, data, err := client.Read(strings.TrimSpace(trimmed[1:]))
			if err != nil {
				fmt.Println(red(err.Error()))
				break
			}
			fmt.Printf("%d %d %s\n", code, len(data), data)
		case 'W':
			var name string
			var l int
			if _, err := fmt.Sscanf(trimmed, "W %s %d", &name, &l); err != nil {
				fmt.Fprintln(os.Stderr, "bad W command")
				break
			}
			payload := make([]byte, l)
			if l > 0 {
				if _, err := io.ReadFull(in, payload); err != nil {
					fmt.Fprintln(os.Stderr, "stdin ended early")
					return 1
				}
			}
			code, err := client.Write(name, payload)
			printCode(code, err, red, green)
		default:
			fmt.Fprintf(os.Stderr, "unknown command type: %c\n", trimmed[0])
		}

		if rerr != nil {
			return 0
		}
	}
}

func printCode(code int, err error, red, green func(a ...interface{}) string) {
	if err != nil {
		fmt.Println(red(err.Error()))
		return
	}
	if code == 0 {
		fmt.Println(green(code))
	} else {
		fmt.Println(red(code))
	}
}
