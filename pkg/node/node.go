// Package node provides the top-level orchestrator of the block metadata
// RPC server.
//
// A Node owns the exit registry and one Service:
// - the log directory is prepared before anything else starts
// - the Service hosts the worker pool, metadata store and HTTP listener
// - Exit fires the registry, which closes the listener; Join waits for it
package node

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"github.com/fortiblox/block-meta-rpc/pkg/exit"
	"github.com/fortiblox/block-meta-rpc/pkg/rpc"
	"github.com/fortiblox/block-meta-rpc/pkg/service"
)

// Node errors.
var (
	ErrAlreadyRunning = errors.New("node is already running")
	ErrNotRunning     = errors.New("node is not running")
	ErrConfigInvalid  = errors.New("invalid node configuration")
)

// DefaultRPCPort is the standard Solana JSON-RPC port.
const DefaultRPCPort = 8899

// Config holds node configuration.
type Config struct {
	// RPC configures the request processor and service host.
	RPC rpc.Config

	// RPCPort is the listen port. Zero picks a free port.
	RPCPort uint16

	// BindIP is the listen address.
	BindIP net.IP
}

// DefaultConfig returns a configuration listening on 0.0.0.0:8899 with the
// default RPC settings.
func DefaultConfig() Config {
	return Config{
		RPC:     rpc.DefaultConfig(),
		RPCPort: DefaultRPCPort,
		BindIP:  net.IPv4zero,
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.BindIP == nil {
		return fmt.Errorf("%w: bind address is required", ErrConfigInvalid)
	}
	if c.RPC.Threads < 0 {
		return fmt.Errorf("%w: negative thread count %d", ErrConfigInvalid, c.RPC.Threads)
	}
	if c.RPC.MaxRequestBodySize < 0 {
		return fmt.Errorf("%w: negative request body limit", ErrConfigInvalid)
	}
	return nil
}

// Option configures a Node.
type Option func(*Node)

// WithConfig replaces the RPC configuration.
func WithConfig(config rpc.Config) Option {
	return func(n *Node) { n.config.RPC = config }
}

// WithRPCPort sets the listen port.
func WithRPCPort(port uint16) Option {
	return func(n *Node) { n.config.RPCPort = port }
}

// WithBindIP sets the listen address.
func WithBindIP(ip net.IP) Option {
	return func(n *Node) { n.config.BindIP = ip }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(n *Node) { n.logger = logger }
}

// Node is the server orchestrator.
type Node struct {
	config Config
	logger *zap.Logger
	exit   *exit.Exit

	mu      sync.Mutex
	service *service.Service
}

// New creates a node. It is not started until Start is called.
func New(opts ...Option) (*Node, error) {
	n := &Node{
		config: DefaultConfig(),
		logger: zap.NewNop(),
		exit:   exit.New(),
	}
	for _, opt := range opts {
		opt(n)
	}
	if err := n.config.Validate(); err != nil {
		return nil, err
	}
	return n, nil
}

// Config returns the node configuration.
func (n *Node) Config() Config {
	return n.config
}

// Start prepares logPath and starts the service. It returns once the listener
// accepts connections.
func (n *Node) Start(ctx context.Context, logPath string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.service != nil {
		return ErrAlreadyRunning
	}
	if logPath != "" {
		if err := os.MkdirAll(logPath, 0755); err != nil {
			return fmt.Errorf("create log directory %s: %w", logPath, err)
		}
	}

	svc, err := service.New(ctx, n.listenAddr(), n.config.RPC, n.exit, n.logger)
	if err != nil {
		return err
	}
	n.service = svc
	return nil
}

func (n *Node) listenAddr() string {
	return net.JoinHostPort(n.config.BindIP.String(), strconv.Itoa(int(n.config.RPCPort)))
}

// RPCURL returns the base URL clients use to reach the JSON-RPC endpoint.
// Before Start it reflects the configured port; afterwards the bound one.
func (n *Node) RPCURL() string {
	addr := n.listenAddr()

	n.mu.Lock()
	if n.service != nil {
		addr = n.service.Addr().String()
	}
	n.mu.Unlock()

	return "http://" + addr
}

// Exit fires the exit registry.
func (n *Node) Exit() {
	n.exit.Fire()
}

// ExitRegistry returns the registry shared with the service, so callers can
// register their own release callbacks.
func (n *Node) ExitRegistry() *exit.Exit {
	return n.exit
}

// Join blocks until the service has shut down.
func (n *Node) Join() error {
	n.mu.Lock()
	svc := n.service
	n.mu.Unlock()

	if svc == nil {
		return ErrNotRunning
	}
	svc.Join()
	return nil
}
