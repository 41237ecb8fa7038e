package connect

import (
	"context"
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-pkgz/lgr"
	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umputun/tablecrow/pkg/schema"
	"github.com/umputun/tablecrow/pkg/table"
)

type mapSecrets map[string]string

func (m mapSecrets) Get(key string) (string, error) {
	v, ok := m[key]
	if !ok {
		return "", errors.New("secret not found")
	}
	return v, nil
}

func TestOpen_SQLite(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "test.db")

	conn, err := Open(ctx, Options{Resource: path})
	require.NoError(t, err)
	assert.Equal(t, "sqlite", conn.Dialect().Name())
	assert.Equal(t, path, conn.Location())

	_, err = conn.DB().ExecContext(ctx, `CREATE TABLE "b" (x INTEGER)`)
	require.NoError(t, err)
	_, err = conn.DB().ExecContext(ctx, `CREATE TABLE "a" (x INTEGER)`)
	require.NoError(t, err)

	names, err := Tables(ctx, conn)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, names)
	require.NoError(t, conn.Close())

	conn, err = Open(ctx, Options{Resource: "sqlite://" + path})
	require.NoError(t, err)
	names, err = Tables(ctx, conn)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, names, "same file with sqlite:// prefix")
	require.NoError(t, conn.Close())
}

func TestOpen_Failures(t *testing.T) {
	ctx := context.Background()

	// take a free port and release it, nothing listens there
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())

	t.Run("both backends tried", func(t *testing.T) {
		_, err := Open(ctx, Options{Resource: fmt.Sprintf("user@127.0.0.1:%d/db", port), Timeout: time.Second})
		require.Error(t, err)
		assert.ErrorIs(t, err, schema.ErrConnection)
		assert.Contains(t, err.Error(), "postgres:")
		assert.Contains(t, err.Error(), "mysql:")
	})

	t.Run("explicit protocol", func(t *testing.T) {
		_, err := Open(ctx, Options{Resource: fmt.Sprintf("mysql://user@127.0.0.1:%d/db", port), Timeout: time.Second})
		require.Error(t, err)
		assert.ErrorIs(t, err, schema.ErrConnection)
		assert.NotContains(t, err.Error(), "postgres")
	})

	t.Run("unsupported protocol", func(t *testing.T) {
		_, err := Open(ctx, Options{Resource: "redis://host"})
		assert.ErrorIs(t, err, schema.ErrUnsupported)
	})

	t.Run("bad resource", func(t *testing.T) {
		_, err := Open(ctx, Options{Resource: "host:port"})
		assert.Error(t, err)
	})

	t.Run("broken tunnel", func(t *testing.T) {
		_, err := Open(ctx, Options{Resource: "postgres://u@db", Timeout: time.Second,
			SSH: &SSHConfig{Host: fmt.Sprintf("127.0.0.1:%d", port), User: "u", Password: "p"}})
		require.Error(t, err)
		assert.ErrorIs(t, err, schema.ErrConnection)
		assert.Contains(t, err.Error(), "can't make tunnel")
	})
}

func TestResolvePassword(t *testing.T) {
	secrets := mapSecrets{"db-pass": "from-secrets"}
	prompt := func(msg string) (string, error) {
		assert.Equal(t, "password for mysql://u@h: ", msg)
		return "from-prompt", nil
	}
	loc := Locator{Protocol: "mysql", User: "u", Host: "h"}
	locWithPass := Locator{Protocol: "mysql", User: "u", Password: "from-resource", Host: "h"}

	tbl := []struct {
		name string
		loc  Locator
		opts Options
		exp  string
		err  bool
	}{
		{"explicit", locWithPass, Options{Password: "explicit", Secrets: secrets, SecretKey: "db-pass"}, "explicit", false},
		{"resource", locWithPass, Options{Secrets: secrets, SecretKey: "db-pass"}, "from-resource", false},
		{"secrets", loc, Options{Secrets: secrets, SecretKey: "db-pass", Prompt: prompt}, "from-secrets", false},
		{"missing secret falls to prompt", loc, Options{Secrets: secrets, SecretKey: "other", Prompt: prompt}, "from-prompt", false},
		{"prompt", loc, Options{Prompt: prompt}, "from-prompt", false},
		{"nothing", loc, Options{}, "", false},
		{"prompt failed", loc, Options{Prompt: func(string) (string, error) { return "", errors.New("no tty") }}, "", true},
	}

	for _, tt := range tbl {
		t.Run(tt.name, func(t *testing.T) {
			opts := tt.opts
			if opts.Logger == nil {
				opts.Logger = lgr.NoOp
			}
			res, err := resolvePassword(tt.loc, opts)
			if tt.err {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.exp, res)
		})
	}
}

func TestDSN(t *testing.T) {
	loc := Locator{User: "u", Database: "db", Host: "h"}

	dsn := postgresDSN(loc, "p@ss", "h:5432", Options{SSLMode: "require", Timeout: 5 * time.Second})
	assert.Equal(t, "postgres://u:p%40ss@h:5432/db?connect_timeout=5&sslmode=require", dsn)
	dsn = postgresDSN(loc, "", "h:5432", Options{SSLMode: "disable", Timeout: 5 * time.Second})
	assert.Equal(t, "postgres://u@h:5432/db?connect_timeout=5&sslmode=disable", dsn)

	cfg, err := mysql.ParseDSN(mysqlDSN(loc, "p@ss", "h:3306", 3*time.Second))
	require.NoError(t, err)
	assert.Equal(t, "u", cfg.User)
	assert.Equal(t, "p@ss", cfg.Passwd)
	assert.Equal(t, "tcp", cfg.Net)
	assert.Equal(t, "h:3306", cfg.Addr)
	assert.Equal(t, "db", cfg.DBName)
	assert.True(t, cfg.ParseTime)
	assert.Equal(t, time.UTC, cfg.Loc)
	assert.Equal(t, 3*time.Second, cfg.Timeout)
}

func TestOpenTables(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "tables.db")
	opts := Options{Resource: path}

	defs := []table.Options{
		{Name: "first", Fields: mustFields(t, "id", "int", "name", "str")},
		{Name: "second", Fields: mustFields(t, "key", "str", "value", "float")},
		{Name: "third", Fields: mustFields(t, "id", "int")},
	}
	tables, err := OpenTables(ctx, opts, defs, 2)
	require.NoError(t, err)
	require.Len(t, tables, 3)
	for i, tbl := range tables {
		assert.Equal(t, defs[i].Name, tbl.Name())
	}
	require.NoError(t, tables[1].Insert(ctx, schema.Record{"key": "pi", "value": 3.14}))
	for _, tbl := range tables {
		require.NoError(t, tbl.Close())
	}

	conn, err := Open(ctx, opts)
	require.NoError(t, err)
	names, err := Tables(ctx, conn)
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second", "third"}, names)
	require.NoError(t, conn.Close())

	// missing table without declared fields can't be opened
	_, err = OpenTables(ctx, opts, []table.Options{{Name: "first"}, {Name: "nope"}}, 2)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "can't open table nope")

	tbl, err := OpenTable(ctx, opts, table.Options{Name: "second"})
	require.NoError(t, err)
	defer tbl.Close()
	rec, err := tbl.Get(ctx, "pi")
	require.NoError(t, err)
	assert.Equal(t, schema.Record{"key": "pi", "value": 3.14}, rec)
}

func mustFields(t *testing.T, pairs ...string) schema.Fields {
	t.Helper()
	res, err := schema.NewFields(pairs...)
	require.NoError(t, err)
	return res
}
