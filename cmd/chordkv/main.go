package main

import (
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmirzaei/chordkv/internal/api"
	"github.com/lmirzaei/chordkv/internal/chord"
	"github.com/lmirzaei/chordkv/internal/config"
	"github.com/lmirzaei/chordkv/internal/transport"
	"github.com/lmirzaei/chordkv/pkg"
)

func main() {
	host := flag.String("host", "127.0.0.1", "Host address to bind to")
	port := flag.Int("port", 0, "Port for the node RPC server (0 = OS-assigned)")
	httpPort := flag.Int("http-port", 0, "Port for the HTTP API server (0 = disabled)")
	joinPort := flag.Int("join", 0, "Port of an existing node to join (0 = start a new ring)")
	joinHost := flag.String("join-host", "127.0.0.1", "Host of the existing node to join")
	mBits := flag.Int("m", 7, "Ring identifier bits (ring holds 2^m slots)")
	rpcTimeout := flag.Duration("rpc-timeout", 5*time.Second, "Per-call RPC timeout (0 = block forever)")
	logLevel := flag.String("log-level", "info", "Log level (trace, debug, info, warn, error)")
	logFormat := flag.String("log-format", "console", "Log format (json, console)")
	flag.Parse()

	cfg := &config.Config{
		Host:          *host,
		Port:          *port,
		HTTPPort:      *httpPort,
		BootstrapHost: *joinHost,
		BootstrapPort: *joinPort,
		M:             *mBits,
		RPCTimeout:    *rpcTimeout,
		LogLevel:      *logLevel,
		LogFormat:     *logFormat,
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	loggerConfig := pkg.DefaultLogConfig()
	loggerConfig.Level = cfg.LogLevel
	loggerConfig.Format = cfg.LogFormat

	logger, err := pkg.NewLogger(loggerConfig)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}

	// Bind before the node exists: the identifier hashes the endpoint,
	// so the OS-assigned port has to be known first.
	ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", cfg.Host, cfg.Port))
	if err != nil {
		logger.Error().Err(err).Msg("Failed to bind RPC listener")
		os.Exit(1)
	}
	cfg.Port = ln.Addr().(*net.TCPAddr).Port

	logger.Info().
		Str("host", cfg.Host).
		Int("port", cfg.Port).
		Int("ring_bits", cfg.M).
		Msg("Starting chordkv node")

	node, err := chord.NewNode(cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to create node")
		ln.Close()
		os.Exit(1)
	}

	client := transport.NewClient(logger, cfg.RPCTimeout)
	client.BindLocal(node)
	node.SetRemote(client)

	server := transport.NewServer(node, ln, logger)
	go server.Serve()

	var httpServer *api.Server
	if cfg.HTTPPort != 0 {
		httpServer, err = api.NewServer(node, logger)
		if err != nil {
			logger.Error().Err(err).Msg("Failed to create HTTP API server")
			cleanup(node, server, nil, logger)
			os.Exit(1)
		}
		node.SetEvents(httpServer.Hub())
		if err := httpServer.Start(cfg.HTTPPort); err != nil {
			logger.Error().Err(err).Msg("Failed to start HTTP API server")
			cleanup(node, server, nil, logger)
			os.Exit(1)
		}
	}

	if cfg.BootstrapPort == 0 {
		logger.Info().Msg("Creating new ring")
		if err := node.Create(); err != nil {
			logger.Error().Err(err).Msg("Failed to create ring")
			cleanup(node, server, httpServer, logger)
			os.Exit(1)
		}
		logger.Info().
			Uint64("node_id", uint64(node.ID())).
			Msg("Ring created")
	} else {
		bootstrap := chord.NewNodeRef(node.Space(), cfg.BootstrapHost, cfg.BootstrapPort)
		logger.Info().
			Str("bootstrap", bootstrap.Addr()).
			Uint64("bootstrap_id", uint64(bootstrap.ID)).
			Msg("Joining existing ring")

		if err := node.Join(bootstrap); err != nil {
			logger.Error().Err(err).Msg("Failed to join ring")
			cleanup(node, server, httpServer, logger)
			os.Exit(1)
		}
		logger.Info().
			Uint64("node_id", uint64(node.ID())).
			Msg("Joined ring")
	}

	logger.Info().Int("port", cfg.Port).Msg("chordkv node is ready")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	sig := <-sigChan
	logger.Info().
		Str("signal", sig.String()).
		Msg("Received shutdown signal")

	cleanup(node, server, httpServer, logger)

	logger.Info().Msg("chordkv node shutdown complete")
}

// cleanup performs graceful shutdown of all components
func cleanup(node *chord.Node, server *transport.Server, httpServer *api.Server, logger *pkg.Logger) {
	logger.Info().Msg("Starting graceful shutdown")

	if httpServer != nil {
		if err := httpServer.Stop(); err != nil {
			logger.Error().Err(err).Msg("Error stopping HTTP server")
		}
	}

	if err := server.Stop(); err != nil {
		logger.Error().Err(err).Msg("Error stopping RPC server")
	}

	if err := node.Shutdown(); err != nil {
		logger.Error().Err(err).Msg("Error shutting down node")
	}
}
