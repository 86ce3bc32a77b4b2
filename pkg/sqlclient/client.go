// Package sqlclient provides point and range lookups against relational
// tables keyed by monotonically increasing slot numbers.
//
// The client has no domain knowledge. It returns typed scalars or key sets and
// reports "no matching row" separately from execution failures so callers can
// tell absence apart from an unavailable backend.
package sqlclient

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"time"

	"github.com/go-sql-driver/mysql"
	"go.uber.org/zap"
	gorp "gopkg.in/gorp.v2"
)

var (
	// ErrRowNotFound is returned when a lookup matches no row.
	ErrRowNotFound = errors.New("row not found")

	// ErrInvalidIdentifier is returned for table or column names that are not
	// plain SQL identifiers.
	ErrInvalidIdentifier = errors.New("invalid identifier")
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Config holds connection parameters for a MySQL backend.
type Config struct {
	// Host is the database server host name or IP.
	Host string

	// Port is the database server TCP port.
	Port uint16

	// Username and Password authenticate the connection.
	Username string
	Password string

	// DBName is the schema holding the metadata tables.
	DBName string

	// Timeout bounds connection setup and every individual query.
	// Zero disables the per-query deadline.
	Timeout time.Duration

	// MaxOpenConns caps the pool size. Zero uses DefaultMaxOpenConns.
	MaxOpenConns int

	// MaxIdleConns caps idle pooled connections.
	MaxIdleConns int

	// ConnMaxLifetime recycles pooled connections after this age.
	ConnMaxLifetime time.Duration
}

// Pool defaults.
const (
	DefaultPort            = 3306
	DefaultMaxOpenConns    = 16
	DefaultMaxIdleConns    = 4
	DefaultConnMaxLifetime = 5 * time.Minute
)

// DSN renders the go-sql-driver connection string for c.
func (c Config) DSN() string {
	port := c.Port
	if port == 0 {
		port = DefaultPort
	}
	dc := mysql.NewConfig()
	dc.User = c.Username
	dc.Passwd = c.Password
	dc.Net = "tcp"
	dc.Addr = net.JoinHostPort(c.Host, strconv.Itoa(int(port)))
	dc.DBName = c.DBName
	dc.ParseTime = true
	dc.Loc = time.UTC
	if c.Timeout > 0 {
		dc.Timeout = c.Timeout
		dc.ReadTimeout = c.Timeout
	}
	return dc.FormatDSN()
}

// Client executes read-only lookups through a gorp DbMap.
type Client struct {
	dbmap   *gorp.DbMap
	timeout time.Duration
	logger  *zap.Logger
}

// Open connects to MySQL and verifies the connection with a ping.
func Open(ctx context.Context, config Config, logger *zap.Logger) (*Client, error) {
	db, err := sql.Open("mysql", config.DSN())
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}

	maxOpen := config.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = DefaultMaxOpenConns
	}
	maxIdle := config.MaxIdleConns
	if maxIdle <= 0 {
		maxIdle = DefaultMaxIdleConns
	}
	lifetime := config.ConnMaxLifetime
	if lifetime <= 0 {
		lifetime = DefaultConnMaxLifetime
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(lifetime)

	pingCtx := ctx
	if config.Timeout > 0 {
		var cancel context.CancelFunc
		pingCtx, cancel = context.WithTimeout(ctx, config.Timeout)
		defer cancel()
	}
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping mysql %s: %w", net.JoinHostPort(config.Host, strconv.Itoa(int(config.Port))), err)
	}

	c := NewWithDB(db, gorp.MySQLDialect{Engine: "InnoDB", Encoding: "utf8mb4"}, logger)
	c.timeout = config.Timeout
	return c, nil
}

// NewWithDB wraps an already opened database handle.
func NewWithDB(db *sql.DB, dialect gorp.Dialect, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		dbmap:  &gorp.DbMap{Db: db, Dialect: dialect},
		logger: logger,
	}
}

// SetTimeout changes the per-query deadline.
func (c *Client) SetTimeout(d time.Duration) {
	c.timeout = d
}

// FirstKey returns the smallest value of column in table.
// ok is false when the table is empty.
func (c *Client) FirstKey(ctx context.Context, table, column string) (key uint64, ok bool, err error) {
	return c.boundaryKey(ctx, "MIN", table, column)
}

// LastKey returns the largest value of column in table.
// ok is false when the table is empty.
func (c *Client) LastKey(ctx context.Context, table, column string) (key uint64, ok bool, err error) {
	return c.boundaryKey(ctx, "MAX", table, column)
}

func (c *Client) boundaryKey(ctx context.Context, fn, table, column string) (uint64, bool, error) {
	t, col, err := c.quote(table, column)
	if err != nil {
		return 0, false, err
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	// Scanned as uint64: slot columns are BIGINT UNSIGNED.
	query := fmt.Sprintf("SELECT %s(%s) FROM %s", fn, col, t)
	var v sql.Null[uint64]
	if err := c.dbmap.WithContext(ctx).QueryRow(query).Scan(&v); err != nil {
		return 0, false, fmt.Errorf("select %s(%s) from %s: %w", fn, column, table, err)
	}
	if !v.Valid {
		return 0, false, nil
	}
	return v.V, true, nil
}

// RowKeys returns values of column in ascending order starting at start,
// optionally bounded above by end, capped at limit rows. A zero limit returns
// an empty result without querying.
func (c *Client) RowKeys(ctx context.Context, table, column string, start uint64, end *uint64, limit int) ([]uint64, error) {
	if limit <= 0 {
		return []uint64{}, nil
	}

	t, col, err := c.quote(table, column)
	if err != nil {
		return nil, err
	}

	args := []interface{}{start}
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s >= %s", col, t, col, c.dbmap.Dialect.BindVar(0))
	if end != nil {
		query += fmt.Sprintf(" AND %s <= %s", col, c.dbmap.Dialect.BindVar(len(args)))
		args = append(args, *end)
	}
	query += fmt.Sprintf(" ORDER BY %s ASC LIMIT %s", col, c.dbmap.Dialect.BindVar(len(args)))
	args = append(args, limit)

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	var keys []uint64
	if _, err := c.dbmap.WithContext(ctx).Select(&keys, query, args...); err != nil {
		return nil, fmt.Errorf("select keys from %s: %w", table, err)
	}
	if keys == nil {
		keys = []uint64{}
	}

	c.logger.Debug("row keys",
		zap.String("table", table),
		zap.Uint64("start", start),
		zap.Int("limit", limit),
		zap.Int("rows", len(keys)))
	return keys, nil
}

// SingleValue scans column of the row whose keyColumn equals key into dest.
// It returns ErrRowNotFound when no row matches.
func (c *Client) SingleValue(ctx context.Context, table, keyColumn string, key uint64, column string, dest interface{}) error {
	t, kc, err := c.quote(table, keyColumn)
	if err != nil {
		return err
	}
	if !identifierPattern.MatchString(column) {
		return fmt.Errorf("%w: %q", ErrInvalidIdentifier, column)
	}
	col := c.dbmap.Dialect.QuoteField(column)

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s = %s LIMIT 1", col, t, kc, c.dbmap.Dialect.BindVar(0))
	err = c.dbmap.WithContext(ctx).QueryRow(query, key).Scan(dest)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrRowNotFound
	}
	if err != nil {
		return fmt.Errorf("select %s from %s: %w", column, table, err)
	}
	return nil
}

// Stats reports connection pool statistics.
func (c *Client) Stats() sql.DBStats {
	return c.dbmap.Db.Stats()
}

// Close releases the underlying connection pool.
func (c *Client) Close() error {
	return c.dbmap.Db.Close()
}

func (c *Client) quote(table, column string) (string, string, error) {
	if !identifierPattern.MatchString(table) {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidIdentifier, table)
	}
	if !identifierPattern.MatchString(column) {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidIdentifier, column)
	}
	return c.dbmap.Dialect.QuoteField(table), c.dbmap.Dialect.QuoteField(column), nil
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}
