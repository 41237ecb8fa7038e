package connect

import (
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-pkgz/fileutils"
)

// Locator is a parsed resource string, either [protocol://][user[:password]@]host[:port][/database]
// or a path of a sqlite file
type Locator struct {
	Protocol string // postgres, mysql or sqlite, empty if not given
	User     string
	Password string
	Host     string
	Port     int // zero if not given
	Database string
	Path     string // sqlite file, set for paths only
}

var sqliteSuffixes = []string{".db", ".sqlite", ".sqlite3"}

// ParseLocator parses resource string. Existing files, absolute and relative paths, names with sqlite
// extensions, "file:" and "sqlite://" prefixes and ":memory:" are sqlite paths.
// The port is split on the last colon.
func ParseLocator(s string) (Locator, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Locator{}, errors.New("empty resource")
	}
	if path, ok := sqlitePath(s); ok {
		return Locator{Protocol: "sqlite", Path: path}, nil
	}

	res := Locator{}
	rest := s
	if proto, after, ok := strings.Cut(s, "://"); ok {
		res.Protocol = normalizeProtocol(proto)
		rest = after
	}

	if at := strings.LastIndex(rest, "@"); at >= 0 {
		cred := rest[:at]
		rest = rest[at+1:]
		res.User, res.Password, _ = strings.Cut(cred, ":")
	}

	if host, db, ok := strings.Cut(rest, "/"); ok {
		rest, res.Database = host, db
	}

	host, port, err := splitHostPort(rest)
	if err != nil {
		return Locator{}, fmt.Errorf("invalid resource %q: %w", s, err)
	}
	res.Host, res.Port = host, port
	if res.Host == "" {
		return Locator{}, fmt.Errorf("invalid resource %q: empty host", s)
	}
	return res, nil
}

// IsPath reports whether locator points to a sqlite file
func (l Locator) IsPath() bool { return l.Path != "" }

// Addr returns host:port, with the given default port if none set
func (l Locator) Addr(defaultPort int) string {
	port := l.Port
	if port == 0 {
		port = defaultPort
	}
	host := l.Host
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	return host + ":" + strconv.Itoa(port)
}

// String returns locator without password
func (l Locator) String() string {
	if l.IsPath() {
		return l.Path
	}
	res := l.Host
	if l.Port != 0 {
		res = l.Addr(0)
	}
	if l.User != "" {
		res = l.User + "@" + res
	}
	if l.Database != "" {
		res += "/" + l.Database
	}
	if l.Protocol != "" {
		res = l.Protocol + "://" + res
	}
	return res
}

func sqlitePath(s string) (string, bool) {
	lower := strings.ToLower(s)
	switch {
	case s == ":memory:":
		return s, true
	case strings.HasPrefix(lower, "sqlite://"):
		return s[len("sqlite://"):], true
	case strings.HasPrefix(lower, "sqlite3://"):
		return s[len("sqlite3://"):], true
	case strings.HasPrefix(lower, "file:"):
		return s, true
	case strings.Contains(s, "://"):
		return "", false
	case fileutils.IsFile(s), filepath.IsAbs(s), strings.HasPrefix(s, "./"), strings.HasPrefix(s, "../"):
		return s, true
	}
	for _, suffix := range sqliteSuffixes {
		if strings.HasSuffix(lower, suffix) {
			return s, true
		}
	}
	return "", false
}

func normalizeProtocol(p string) string {
	switch p = strings.ToLower(p); p {
	case "postgresql", "pg", "postgis":
		return "postgres"
	case "mariadb":
		return "mysql"
	case "sqlite3", "file":
		return "sqlite"
	}
	return p
}

// splitHostPort splits on the last colon, bracketed IPv6 addresses are unwrapped
func splitHostPort(s string) (string, int, error) {
	if strings.HasPrefix(s, "[") {
		end := strings.Index(s, "]")
		if end < 0 {
			return "", 0, errors.New("missing closing bracket")
		}
		host, rest := s[1:end], s[end+1:]
		if rest == "" {
			return host, 0, nil
		}
		if !strings.HasPrefix(rest, ":") {
			return "", 0, fmt.Errorf("unexpected %q after address", rest)
		}
		port, err := parsePort(rest[1:])
		return host, port, err
	}

	i := strings.LastIndex(s, ":")
	if i < 0 {
		return s, 0, nil
	}
	port, err := parsePort(s[i+1:])
	return s[:i], port, err
}

func parsePort(s string) (int, error) {
	port, err := strconv.Atoi(s)
	if err != nil || port <= 0 || port > 65535 {
		return 0, fmt.Errorf("invalid port %q", s)
	}
	return port, nil
}
