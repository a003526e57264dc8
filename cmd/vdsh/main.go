// Command vdsh is the virtual-directory shell: an interactive client
// that tokenizes lines typed on stdin with github.com/mattn/go-shellwords
// and dispatches mkdir/cd/pwd/rmdir to pkg/vdir.Session, which maps
// each onto the flat blockfs namespace (spec.md §4.3).
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-shellwords"

	"github.com/ondisk/blockfs/pkg/blockfs"
	"github.com/ondisk/blockfs/pkg/vdir"
)

func main() {
	os.Exit(run())
}

func run() int {
	if len(os.Args) != 3 {
		fmt.Fprintf(os.Stderr, "usage: %s <fs_host> <fs_port>\n", os.Args[0])
		return 1
	}

	addr := os.Args[1] + ":" + os.Args[2]
	client, err := blockfs.Dial(context.Background(), addr)
	if err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("connect: %v", err))
		return 1
	}
	defer client.Close()

	sess := vdir.NewSession(client)
	red := color.New(color.FgRed).SprintFunc()

	parser := shellwords.NewParser()
	in := bufio.NewScanner(os.Stdin)
	for in.Scan() {
		args, err := parser.Parse(in.Text())
		if err != nil || len(args) == 0 {
			continue
		}

		switch args[0] {
		case "mkdir":
			if len(args) != 2 {
				fmt.Fprintln(os.Stderr, "usage: mkdir <path>")
				continue
			}
			path, code, err := sess.Mkdir(args[1])
			if err != nil {
				fmt.Println(red(err.Error()))
				continue
			}
			switch code {
			case 0:
				fmt.Printf("mkdir: created '%s'\n", path)
			case 1:
				fmt.Println(red(fmt.Sprintf("mkdir: '%s' already exists", path)))
			default:
				fmt.Println(red(fmt.Sprintf("mkdir: '%s' failed", path)))
			}
		case "cd":
			if len(args) != 2 {
				fmt.Fprintln(os.Stderr, "usage: cd <path>")
				continue
			}
			path, ok, code, err := sess.Cd(args[1])
			if err != nil {
				fmt.Println(red(err.Error()))
				continue
			}
			if !ok {
				if code == 1 {
					fmt.Println(red(fmt.Sprintf("cd: '%s' does not exist", path)))
				} else {
					fmt.Println(red(fmt.Sprintf("cd: '%s' failed", path)))
				}
			}
		case "pwd":
			fmt.Println(sess.Pwd())
		case "rmdir":
			if len(args) != 2 {
				fmt.Fprintln(os.Stderr, "usage: rmdir <path>")
				continue
			}
			path, code, err := sess.Rmdir(args[1])
			if err != nil {
				fmt.Println(red(err.Error()))
				continue
			}
			switch code {
			case 0:
				fmt.Printf("rmdir: removed '%s'\n", path)
			case 1:
				fmt.Println(red(fmt.Sprintf("rmdir: '%s' does not exist", path)))
			default:
				fmt.Println(red(fmt.Sprintf("rmdir: '%s' not empty or failed", path)))
			}
		default:
			fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		}
	}
	return 0
}
