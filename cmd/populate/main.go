// Command populate streams a CSV file into a running ring, one row at
// a time, through any member node. The first CSV line is a header and
// is skipped. A row the ring cannot store is logged and skipped; it
// never aborts the rest of the file.
package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/lmirzaei/chordkv/internal/chord"
	"github.com/lmirzaei/chordkv/internal/transport"
	"github.com/lmirzaei/chordkv/pkg"
)

func main() {
	host := flag.String("host", "127.0.0.1", "Host of a ring member")
	port := flag.Int("port", 0, "Port of a ring member")
	file := flag.String("file", "", "Path to the CSV file to load")
	mBits := flag.Int("m", 7, "Ring identifier bits (must match the ring)")
	rpcTimeout := flag.Duration("rpc-timeout", 5*time.Second, "Per-call RPC timeout (0 = block forever)")
	logLevel := flag.String("log-level", "info", "Log level (trace, debug, info, warn, error)")
	flag.Parse()

	if *port == 0 || *file == "" {
		fmt.Fprintln(os.Stderr, "usage: populate -port <node port> -file <csv path>")
		os.Exit(1)
	}

	loggerConfig := pkg.DefaultLogConfig()
	loggerConfig.Level = *logLevel
	logger, err := pkg.NewLogger(loggerConfig)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}

	space, err := chord.NewSpace(*mBits)
	if err != nil {
		logger.Error().Err(err).Msg("Invalid ring size")
		os.Exit(1)
	}
	peer := chord.NewNodeRef(space, *host, *port)
	client := transport.NewClient(logger, *rpcTimeout)

	f, err := os.Open(*file)
	if err != nil {
		logger.Error().Err(err).Str("file", *file).Msg("Failed to open CSV file")
		os.Exit(1)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1

	// Header row carries column names, not data.
	if _, err := reader.Read(); err != nil {
		logger.Error().Err(err).Msg("Failed to read CSV header")
		os.Exit(1)
	}

	var stored, failed int
	for line := 2; ; line++ {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			logger.Warn().Err(err).Int("line", line).Msg("Skipping malformed row")
			failed++
			continue
		}

		msg, err := client.Populate(peer, row)
		if err != nil {
			logger.Warn().Err(err).Int("line", line).Msg("Failed to store row")
			failed++
			continue
		}

		logger.Debug().
			Int("line", line).
			Str("result", msg).
			Msg("row stored")
		stored++
	}

	logger.Info().
		Int("stored", stored).
		Int("failed", failed).
		Str("via", peer.Addr()).
		Msg("populate complete")
}
