// Command query looks up one row in a running ring through any member
// node, keyed by player id and year.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/lmirzaei/chordkv/internal/chord"
	"github.com/lmirzaei/chordkv/internal/transport"
	"github.com/lmirzaei/chordkv/pkg"
)

func main() {
	host := flag.String("host", "127.0.0.1", "Host of a ring member")
	port := flag.Int("port", 0, "Port of a ring member")
	player := flag.String("player", "", "Player id (first key column)")
	year := flag.String("year", "", "Year (second key column)")
	mBits := flag.Int("m", 7, "Ring identifier bits (must match the ring)")
	rpcTimeout := flag.Duration("rpc-timeout", 5*time.Second, "Per-call RPC timeout (0 = block forever)")
	flag.Parse()

	if *port == 0 || *player == "" || *year == "" {
		fmt.Fprintln(os.Stderr, "usage: query -port <node port> -player <id> -year <year>")
		os.Exit(1)
	}

	loggerConfig := pkg.DefaultLogConfig()
	loggerConfig.Level = "warn"
	logger, err := pkg.NewLogger(loggerConfig)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}

	space, err := chord.NewSpace(*mBits)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid ring size: %v\n", err)
		os.Exit(1)
	}
	peer := chord.NewNodeRef(space, *host, *port)
	client := transport.NewClient(logger, *rpcTimeout)

	row, found, err := client.Query(peer, *player, *year)
	if err != nil {
		fmt.Fprintf(os.Stderr, "query failed: %v\n", err)
		os.Exit(1)
	}
	if !found {
		fmt.Printf("no row stored for %s/%s\n", *player, *year)
		os.Exit(0)
	}

	fmt.Println(strings.Join(row, ","))
}
