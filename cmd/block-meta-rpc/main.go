// block-meta-rpc serves Solana-compatible JSON-RPC block metadata methods
// from a MySQL (or local bbolt) store.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/fortiblox/block-meta-rpc/internal/config"
	"github.com/fortiblox/block-meta-rpc/internal/logging"
	"github.com/fortiblox/block-meta-rpc/pkg/metastore"
	"github.com/fortiblox/block-meta-rpc/pkg/node"
	"github.com/fortiblox/block-meta-rpc/pkg/rpc"
)

// Version information
var (
	Version   = "0.1.0"
	GitCommit = "dev"
)

// Configuration flags
var (
	logPath        = flag.String("log-path", "log", "Use DIR as log location")
	quiet          = flag.Bool("quiet", false, "Quiet mode: write the log to a timestamped file under --log-path")
	logLevel       = flag.String("log-level", "info", "Log level: debug, info, warn, error")
	logFormat      = flag.String("log-format", "json", "Log format: json, console")
	rpcPort        = flag.Uint("rpc-port", node.DefaultRPCPort, "Port for the RPC service")
	bindAddress    = flag.String("bind-address", "0.0.0.0", "IP address to bind the RPC service")
	rpcThreads     = flag.Int("rpc-threads", runtime.NumCPU(), "Number of threads to use for servicing RPC requests")
	rpcNiceness    = flag.Int("rpc-niceness-adjustment", 0, "Add this value to niceness of RPC threads (-20..19, Linux only)")
	maxBodySize    = flag.Int64("rpc-max-request-body-size", rpc.MaxRequestBodySize, "The maximum request body size accepted by the RPC service")
	enableMySQL    = flag.Bool("enable-rpc-mysql-meta-storage", true, "Fetch block metadata from the MySQL instance configured through SVC_* variables")
	mysqlTimeout   = flag.Uint("rpc-mysql-timeout", 5, "Number of seconds before timing out RPC requests backed by MySQL")
	boltPath       = flag.String("rpc-bolt-path", "", "Serve block metadata from a local bbolt file instead of MySQL")
	fullAPI        = flag.Bool("full-rpc-api", true, "Expose the full RPC method set")
	obsoleteV17API = flag.Bool("obsolete-v1-7-rpc-api", false, "Enable the obsolete RPC methods removed in v1.7")
	minimalAPI     = flag.Bool("minimal-rpc-api", false, "Deprecated, has no effect")
	showVersion    = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("block-meta-rpc %s (%s)\n", Version, GitCommit)
		os.Exit(0)
	}

	if err := os.MkdirAll(*logPath, 0755); err != nil {
		fmt.Fprintf(os.Stderr, "Error: Unable to create directory %s: %v\n", *logPath, err)
		os.Exit(1)
	}

	logger, logFile, err := logging.New(logging.Options{
		Level:  *logLevel,
		Format: *logFormat,
		Dir:    *logPath,
		Quiet:  *quiet,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("block-meta-rpc starting",
		zap.String("version", Version),
		zap.String("commit", GitCommit),
		zap.Strings("args", os.Args),
		zap.String("log_file", logFile))

	if *minimalAPI {
		logger.Warn("--minimal-rpc-api is deprecated and has no effect")
	}

	rpcConfig, err := buildRPCConfig(logger)
	if err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	bindIP := net.ParseIP(*bindAddress)
	if bindIP == nil {
		logger.Fatal("failed to parse --bind-address", zap.String("bind_address", *bindAddress))
	}
	if *rpcPort > 65535 {
		logger.Fatal("invalid --rpc-port", zap.Uint("rpc_port", *rpcPort))
	}

	n, err := node.New(
		node.WithConfig(rpcConfig),
		node.WithRPCPort(uint16(*rpcPort)),
		node.WithBindIP(bindIP),
		node.WithLogger(logger),
	)
	if err != nil {
		logger.Fatal("invalid node configuration", zap.Error(err))
	}

	if err := n.Start(context.Background(), *logPath); err != nil {
		logger.Fatal("failed to start block metadata rpc service", zap.Error(err))
	}
	logger.Info("block metadata rpc service listening", zap.String("url", n.RPCURL()))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
		n.Exit()
	}()

	if err := n.Join(); err != nil {
		logger.Error("join", zap.Error(err))
	}
	logger.Info("block metadata rpc service stopped")
}

// buildRPCConfig maps flags and the SVC_* environment onto rpc.Config.
func buildRPCConfig(logger *zap.Logger) (rpc.Config, error) {
	rpcConfig := rpc.DefaultConfig()
	rpcConfig.Threads = *rpcThreads
	rpcConfig.NicenessAdj = *rpcNiceness
	rpcConfig.MaxRequestBodySize = *maxBodySize
	rpcConfig.FullAPI = *fullAPI
	rpcConfig.ObsoleteV17API = *obsoleteV17API

	if *rpcThreads < 1 {
		return rpcConfig, fmt.Errorf("--rpc-threads must be at least 1, got %d", *rpcThreads)
	}
	if *rpcNiceness < -20 || *rpcNiceness > 19 {
		return rpcConfig, fmt.Errorf("--rpc-niceness-adjustment must be within -20..19, got %d", *rpcNiceness)
	}
	if *maxBodySize <= 0 {
		return rpcConfig, fmt.Errorf("--rpc-max-request-body-size must be positive, got %d", *maxBodySize)
	}

	timeout := time.Duration(*mysqlTimeout) * time.Second

	switch {
	case *boltPath != "":
		storage := metastore.DefaultConfig()
		storage.Backend = metastore.BackendBolt
		storage.Path = *boltPath
		storage.Timeout = timeout
		rpcConfig.Storage = &storage

	case *enableMySQL:
		appConfig, err := config.Load()
		if err != nil {
			return rpcConfig, err
		}
		if err := appConfig.Validate(); err != nil {
			// Storage stays absent; methods answer with their defaults.
			logger.Warn("mysql metadata storage not configured", zap.Error(err))
			break
		}
		storage := appConfig.MetaStore(timeout)
		rpcConfig.Storage = &storage
	}
	return rpcConfig, nil
}
