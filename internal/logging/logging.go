// Package logging builds the service's zap logger.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// SymlinkName always points at the newest quiet-mode log file.
const SymlinkName = "service.log"

var now = time.Now

// Options configures New.
type Options struct {
	// Level is a zap level name. Empty means info.
	Level string

	// Format is "json" or "console". Empty means json.
	Format string

	// Dir receives the log file in quiet mode.
	Dir string

	// Quiet writes to a timestamped file in Dir instead of stderr.
	Quiet bool
}

// New builds a logger. In quiet mode it also returns the file it writes to.
func New(opts Options) (*zap.Logger, string, error) {
	level := zapcore.InfoLevel
	if opts.Level != "" {
		parsed, err := zapcore.ParseLevel(opts.Level)
		if err != nil {
			return nil, "", fmt.Errorf("invalid log level %q: %w", opts.Level, err)
		}
		level = parsed
	}

	var config zap.Config
	switch opts.Format {
	case "", "json":
		config = zap.NewProductionConfig()
	case "console":
		config = zap.NewDevelopmentConfig()
	default:
		return nil, "", fmt.Errorf("invalid log format %q", opts.Format)
	}
	config.Level = zap.NewAtomicLevelAt(level)
	config.OutputPaths = []string{"stderr"}
	config.ErrorOutputPaths = []string{"stderr"}

	var file string
	if opts.Quiet {
		var err error
		file, err = rotate(opts.Dir)
		if err != nil {
			return nil, "", err
		}
		config.OutputPaths = []string{file}
		config.ErrorOutputPaths = []string{file}
	}

	logger, err := config.Build()
	if err != nil {
		return nil, "", fmt.Errorf("build logger: %w", err)
	}
	return logger, file, nil
}

// rotate picks a new timestamped file in dir and re-points the symlink at it.
func rotate(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create log directory %s: %w", dir, err)
	}

	name := fmt.Sprintf("service-%d.log", now().UnixMilli())
	link := filepath.Join(dir, SymlinkName)
	if err := os.Remove(link); err != nil && !os.IsNotExist(err) {
		return "", fmt.Errorf("remove %s: %w", link, err)
	}
	if err := os.Symlink(name, link); err != nil {
		return "", fmt.Errorf("link %s: %w", link, err)
	}
	return filepath.Join(dir, name), nil
}
