// Command bdrand is the random workload generator described in
// original_source/disk_rand_v2.c: it queries a running block-device
// server's geometry and issues N random reads and writes against it,
// printing a one-character progress marker per request and a final
// byte-moved summary. Useful for exercising the server's arm-mutex
// serialization under concurrent load.
package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"strconv"

	"code.cloudfoundry.org/bytefmt"

	"github.com/ondisk/blockfs/pkg/blockdev"
)

func main() {
	os.Exit(run())
}

func run() int {
	if len(os.Args) != 5 {
		fmt.Fprintf(os.Stderr, "usage: %s <host> <port> <N> <seed>\n", os.Args[0])
		return 1
	}

	host, portStr := os.Args[1], os.Args[2]
	n, err1 := strconv.ParseInt(os.Args[3], 10, 64)
	seed, err2 := strconv.ParseInt(os.Args[4], 10, 64)
	if err1 != nil || err2 != nil || n <= 0 {
		fmt.Fprintln(os.Stderr, "invalid N or seed")
		return 1
	}

	client, err := blockdev.Dial(context.Background(), host+":"+portStr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect: %v\n", err)
		return 1
	}
	defer client.Close()

	geom, err := client.Geometry()
	if err != nil {
		fmt.Fprintf(os.Stderr, "geometry: %v\n", err)
		return 1
	}

	rng := rand.New(rand.NewSource(seed))
	var bytesMoved int64

	for i := int64(0); i < n; i++ {
		c := rng.Int63n(geom.Cylinders)
		s := rng.Int63n(geom.Sectors)

		if rng.Intn(2) == 0 {
			if ok, _, err := client.ReadBlock(c, s); err != nil {
				fmt.Fprintf(os.Stderr, "\nread error: %v\n", err)
				return 1
			} else if ok {
				fmt.Print("r")
				bytesMoved += blockdev.BlockSize
			} else {
				fmt.Print("x")
			}
		} else {
			payload := make([]byte, blockdev.BlockSize)
			rng.Read(payload)
			if ok, err := client.WriteBlock(c, s, payload); err != nil {
				fmt.Fprintf(os.Stderr, "\nwrite error: %v\n", err)
				return 1
			} else if ok {
				fmt.Print("w")
				bytesMoved += blockdev.BlockSize
			} else {
				fmt.Print("x")
			}
		}
	}

	fmt.Printf("\n%d ops, %s moved\n", n, bytefmt.ByteSize(uint64(bytesMoved)))
	return 0
}
