// Package connect resolves a resource string into an open database connection. It picks the backend from the
// protocol or the shape of the resource, resolves the password (explicit, secrets provider or interactive prompt)
// and optionally reaches the database through an ssh tunnel owned by the connection.
package connect

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/go-pkgz/lgr"
	"github.com/go-sql-driver/mysql"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/term"

	"github.com/umputun/tablecrow/pkg/dialect"
	"github.com/umputun/tablecrow/pkg/schema"
)

const (
	postgresPort = 5432
	mysqlPort    = 3306
)

// SecretsProvider returns secret value by key
type SecretsProvider interface {
	Get(key string) (string, error)
}

// Options for Open
type Options struct {
	Resource  string // [protocol://][user[:password]@]host[:port][/database] or a sqlite file
	Database  string // overrides database of the resource
	User      string // overrides user of the resource
	Password  string // explicit password, wins over everything else
	SecretKey string // key of the password in Secrets, used if no password given
	Secrets   SecretsProvider
	Prompt    func(msg string) (string, error) // asks for the password if nothing else gives it, optional
	SSLMode   string                           // postgres sslmode, "disable" by default
	SSH       *SSHConfig                       // tunnel to reach the database, optional
	Timeout   time.Duration                    // connect timeout, 10s by default
	Logger    lgr.L
}

// Connection is an open database with its dialect, and the tunnel if any. Caller must close.
type Connection struct {
	db       *sql.DB
	d        dialect.Dialect
	location string
	tunnel   *Tunnel
}

// DB returns the underlying database handle
func (c *Connection) DB() *sql.DB { return c.db }

// Dialect of the connected backend
func (c *Connection) Dialect() dialect.Dialect { return c.d }

// Location returns user@host:port/database or the sqlite file, never the password
func (c *Connection) Location() string { return c.location }

// Close closes the database and the tunnel
func (c *Connection) Close() error {
	errs := new(multierror.Error)
	if err := c.db.Close(); err != nil {
		errs = multierror.Append(errs, fmt.Errorf("can't close db %s: %w", c.location, err))
	}
	if c.tunnel != nil {
		if err := c.tunnel.Close(); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("can't close tunnel to %s: %w", c.location, err))
		}
	}
	return errs.ErrorOrNil()
}

// Open makes a connection for the resource. An explicit protocol selects the backend, paths go to sqlite,
// anything else is tried as postgres and then as mysql.
func Open(ctx context.Context, opts Options) (*Connection, error) {
	if opts.Logger == nil {
		opts.Logger = lgr.NoOp
	}
	if opts.Timeout == 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.SSLMode == "" {
		opts.SSLMode = "disable"
	}

	loc, err := ParseLocator(opts.Resource)
	if err != nil {
		return nil, fmt.Errorf("can't parse resource: %w", err)
	}
	if opts.Database != "" {
		loc.Database = opts.Database
	}
	if opts.User != "" {
		loc.User = opts.User
	}

	if loc.IsPath() || loc.Protocol == "sqlite" {
		return openSQLite(ctx, loc, opts.Logger)
	}

	switch loc.Protocol {
	case "postgres", "mysql":
		return openServer(ctx, loc.Protocol, loc, opts)
	case "":
	default:
		return nil, fmt.Errorf("unsupported protocol %q: %w", loc.Protocol, schema.ErrUnsupported)
	}

	errs := new(multierror.Error)
	for _, proto := range []string{"postgres", "mysql"} {
		conn, err := openServer(ctx, proto, loc, opts)
		if err == nil {
			return conn, nil
		}
		opts.Logger.Logf("[DEBUG] can't connect to %s as %s: %v", loc, proto, err)
		errs = multierror.Append(errs, fmt.Errorf("%s: %w", proto, err))
	}
	return nil, fmt.Errorf("can't connect to %s: %w: %w", loc, schema.ErrConnection, errs.ErrorOrNil())
}

func openSQLite(ctx context.Context, loc Locator, log lgr.L) (*Connection, error) {
	path := loc.Path
	if path == "" {
		path = loc.Host
	}
	dsn := path
	if !strings.Contains(dsn, "_pragma=busy_timeout") {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += sep + "_pragma=busy_timeout(5000)"
	}

	d := dialect.SQLite{}
	db, err := sql.Open(d.Driver(), dsn)
	if err != nil {
		return nil, fmt.Errorf("can't open sqlite %s: %w: %w", path, schema.ErrConnection, err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("can't open sqlite %s: %w: %w", path, schema.ErrConnection, err)
	}
	log.Logf("[DEBUG] opened sqlite %s", path)
	return &Connection{db: db, d: d, location: path}, nil
}

// openServer connects to postgres or mysql, through the tunnel if configured
func openServer(ctx context.Context, proto string, loc Locator, opts Options) (conn *Connection, err error) {
	d, err := dialect.New(proto)
	if err != nil {
		return nil, err
	}
	port := postgresPort
	if proto == "mysql" {
		port = mysqlPort
	}
	loc.Protocol = proto

	password, err := resolvePassword(loc, opts)
	if err != nil {
		return nil, err
	}

	addr := loc.Addr(port)
	var tunnel *Tunnel
	if opts.SSH != nil {
		sshCfg := *opts.SSH
		if sshCfg.Timeout == 0 {
			sshCfg.Timeout = opts.Timeout
		}
		if tunnel, err = NewTunnel(ctx, sshCfg, addr, opts.Logger); err != nil {
			return nil, fmt.Errorf("can't make tunnel to %s: %w: %w", addr, schema.ErrConnection, err)
		}
		addr = tunnel.Addr()
		defer func() {
			if err != nil {
				_ = tunnel.Close()
			}
		}()
	}

	dsn := postgresDSN(loc, password, addr, opts)
	if proto == "mysql" {
		dsn = mysqlDSN(loc, password, addr, opts.Timeout)
	}
	db, err := sql.Open(d.Driver(), dsn)
	if err != nil {
		return nil, fmt.Errorf("can't open %s: %w: %w", loc, schema.ErrConnection, err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()
	if err = db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("can't ping %s: %w: %w", loc, schema.ErrConnection, err)
	}
	opts.Logger.Logf("[DEBUG] connected to %s", loc)
	return &Connection{db: db, d: d, location: loc.String(), tunnel: tunnel}, nil
}

func postgresDSN(loc Locator, password, addr string, opts Options) string {
	u := url.URL{Scheme: "postgres", Host: addr, Path: "/" + loc.Database}
	if loc.User != "" {
		u.User = url.UserPassword(loc.User, password)
		if password == "" {
			u.User = url.User(loc.User)
		}
	}
	q := url.Values{}
	q.Set("sslmode", opts.SSLMode)
	q.Set("connect_timeout", fmt.Sprintf("%d", int(opts.Timeout.Seconds())))
	u.RawQuery = q.Encode()
	return u.String()
}

func mysqlDSN(loc Locator, password, addr string, timeout time.Duration) string {
	cfg := mysql.NewConfig()
	cfg.User = loc.User
	cfg.Passwd = password
	cfg.Net = "tcp"
	cfg.Addr = addr
	cfg.DBName = loc.Database
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	cfg.Timeout = timeout
	return cfg.FormatDSN()
}

// resolvePassword picks explicit password, then the one from the resource, then the secrets provider,
// then the prompt. Empty password is fine if nothing gives one.
func resolvePassword(loc Locator, opts Options) (string, error) {
	if opts.Password != "" {
		return opts.Password, nil
	}
	if loc.Password != "" {
		return loc.Password, nil
	}
	if opts.Secrets != nil && opts.SecretKey != "" {
		pass, err := opts.Secrets.Get(opts.SecretKey)
		if err == nil {
			return pass, nil
		}
		opts.Logger.Logf("[WARN] can't get password %q from secrets: %v", opts.SecretKey, err)
	}
	if opts.Prompt != nil {
		pass, err := opts.Prompt(fmt.Sprintf("password for %s: ", loc))
		if err != nil {
			return "", fmt.Errorf("can't read password: %w", err)
		}
		return pass, nil
	}
	return "", nil
}

// TermPrompt reads password from the terminal without echo
func TermPrompt(msg string) (string, error) {
	fd := int(os.Stdin.Fd()) //nolint:gosec // stdin fd fits int
	if !term.IsTerminal(fd) {
		return "", errors.New("stdin is not a terminal")
	}
	fmt.Fprint(os.Stderr, msg)
	pass, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("can't read password: %w", err)
	}
	return string(pass), nil
}
