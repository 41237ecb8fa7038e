package main

import (
	"bytes"
	"context"
	"log"
	"os"
	"os/user"
	"path/filepath"
	"testing"

	"github.com/jessevdk/go-flags"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umputun/tablecrow/pkg/predicate"
	"github.com/umputun/tablecrow/pkg/schema"
)

func TestTablecrow(t *testing.T) {
	dir := t.TempDir()
	dbFile := filepath.Join(dir, "test.db")
	defsFile := filepath.Join(dir, "tables.yml")
	defs := `resource: ` + dbFile + `
tables:
  - name: people
    fields:
      - {name: id, type: int}
      - {name: name, type: str}
      - {name: score, type: float}
    primary_key: [id]
  - name: zones
    fields:
      - {name: code, type: str}
      - {name: area, type: Polygon}
    crs: "EPSG:4326"
`
	require.NoError(t, os.WriteFile(defsFile, []byte(defs), 0o600))
	setupLog(true)

	tests := []struct {
		name      string
		args      []string
		wantOut   string
		wantLog   string
		wantError string
	}{
		{name: "set first", args: []string{"set", "people", `{"id": 1, "name": "alice", "score": 1.5}`},
			wantLog: "record set in"},
		{name: "set second", args: []string{"set", "people", `{"id": 2, "name": "bob", "score": 3}`}},
		{name: "set third", args: []string{"set", "people", `{"id": "3", "name": "carol"}`}},
		{name: "update second", args: []string{"set", "people", `{"id": 2, "score": 4.25}`}},
		{name: "get", args: []string{"get", "people", "2"}, wantOut: `{"id":2,"name":"bob","score":4.25}` + "\n"},
		{name: "get missing", args: []string{"get", "people", "42"}, wantError: "no record with key"},
		{name: "query all", args: []string{"query", "people"},
			wantOut: `{"id":1,"name":"alice","score":1.5}` + "\n" + `{"id":2,"name":"bob","score":4.25}` + "\n" +
				`{"id":3,"name":"carol","score":null}` + "\n"},
		{name: "query pattern", args: []string{"query", "people", "--where", "name=%L%"},
			wantOut: `{"id":1,"name":"alice","score":1.5}` + "\n" + `{"id":3,"name":"carol","score":null}` + "\n"},
		{name: "query null", args: []string{"query", "people", "--where", "score=NULL"},
			wantOut: `{"id":3,"name":"carol","score":null}` + "\n"},
		{name: "query set", args: []string{"query", "people", "--where", "id=[1, 3]", "--where", "name=carol"},
			wantOut: `{"id":3,"name":"carol","score":null}` + "\n"},
		{name: "query raw", args: []string{"query", "people", "--raw", "score > 2"},
			wantOut: `{"id":2,"name":"bob","score":4.25}` + "\n"},
		{name: "query unknown field", args: []string{"query", "people", "--where", "age=1"}, wantError: "age"},
		{name: "count all", args: []string{"count", "people"}, wantOut: "3\n"},
		{name: "count raw list", args: []string{"count", "people", "--raw", "score > 1", "--raw", "id < 2"}, wantOut: "1\n"},
		{name: "schema", args: []string{"schema", "people"}, wantOut: "id\tint\tpk\nname\tstr\nscore\tfloat\n"},
		{name: "del", args: []string{"del", "people", "1"}, wantLog: "deleted from"},
		{name: "count after del", args: []string{"count", "people"}, wantOut: "2\n"},
		{name: "set zone", args: []string{"set", "zones", `{"code": "z1", "area": "POLYGON((0 0,10 0,10 10,0 10,0 0))"}`}},
		{name: "intersect", args: []string{"intersect", "zones", "--wkt", "POINT(5 5)"},
			wantOut: `{"code":"z1","area":{"type":"Polygon","coordinates":[[[0,0],[10,0],[10,10],[0,10],[0,0]]]}}` + "\n"},
		{name: "intersect miss", args: []string{"intersect", "zones", "--wkt", "POINT(50 50)"}},
		{name: "intersect bad wkt", args: []string{"intersect", "zones", "--wkt", "POINT(oops)"}, wantError: "invalid geometry"},
		{name: "tables", args: []string{"tables"}, wantOut: "people\nzones\n"},
		{name: "bad record", args: []string{"set", "people", `{"id": 1`}, wantError: "invalid record"},
		{name: "drop", args: []string{"drop", "zones"}, wantLog: "dropped"},
		{name: "tables after drop", args: []string{"tables"}, wantOut: "people\n"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var logBuf bytes.Buffer
			log.SetOutput(&logBuf)
			defer log.SetOutput(os.Stderr)

			out, err := runCommand(append([]string{"-f", defsFile}, tc.args...))
			if tc.wantError != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.wantError)
				return
			}
			require.NoError(t, err)
			if tc.wantOut != "" || tc.name == "intersect miss" {
				assert.Equal(t, tc.wantOut, out)
			}
			if tc.wantLog != "" {
				assert.Contains(t, logBuf.String(), tc.wantLog)
			}
		})
	}
}

func TestTablecrow_AdoptSchema(t *testing.T) {
	dbFile := filepath.Join(t.TempDir(), "adopt.db")
	defs := filepath.Join(t.TempDir(), "defs.toml")
	require.NoError(t, os.WriteFile(defs, []byte(`resource = "`+dbFile+`"
[[tables]]
name = "kv"
primary_key = ["k"]
fields = [{name = "k", type = "str"}, {name = "v", type = "int"}]
`), 0o600))

	_, err := runCommand([]string{"-f", defs, "set", "kv", `{"k": "a", "v": 1}`})
	require.NoError(t, err)

	// no definitions, table schema comes from the database
	out, err := runCommand([]string{"-r", dbFile, "get", "kv", "a"})
	require.NoError(t, err)
	assert.Equal(t, `{"k":"a","v":1}`+"\n", out)

	_, err = runCommand([]string{"-r", dbFile, "get", "nope", "a"})
	require.Error(t, err)
}

func TestTablecrow_Errors(t *testing.T) {
	_, err := runCommand([]string{"tables"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no resource given")

	_, err = runCommand([]string{"-f", "/no/such/defs.yml", "tables"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "can't read definitions")

	_, err = runCommand([]string{"-r", "redis://localhost", "tables"})
	require.Error(t, err)
	assert.ErrorIs(t, err, schema.ErrUnsupported)

	_, err = runCommand([]string{"-r", filepath.Join(t.TempDir(), "x.db"), "query", "t", "--where", "a=1", "--raw", "b=2"})
	require.Error(t, err)
	assert.ErrorIs(t, err, schema.ErrInvalidPredicate)
}

func TestFilterPredicate(t *testing.T) {
	tbl := []struct {
		name    string
		filter  filterOpts
		want    predicate.Predicate
		wantErr bool
	}{
		{name: "empty", want: predicate.None{}},
		{name: "single raw", filter: filterOpts{Raw: []string{"a > 1"}}, want: predicate.RawClause("a > 1")},
		{name: "raw list", filter: filterOpts{Raw: []string{"a > 1", "b < 2"}}, want: predicate.RawClauseList{"a > 1", "b < 2"}},
		{name: "where", filter: filterOpts{Where: []string{"a=1", "b = NULL", "c=[x, y]", "d=", "e=k=v"}},
			want: predicate.Equalities{"a": "1", "b": " NULL", "c": []any{"x", "y"}, "d": "", "e": "k=v"}},
		{name: "empty set", filter: filterOpts{Where: []string{"a=[]"}}, want: predicate.Equalities{"a": []any{}}},
		{name: "no value", filter: filterOpts{Where: []string{"a"}}, wantErr: true},
		{name: "no name", filter: filterOpts{Where: []string{"=1"}}, wantErr: true},
	}

	for _, tt := range tbl {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.filter.predicate()
			if tt.wantErr {
				assert.ErrorIs(t, err, schema.ErrInvalidPredicate)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSanitized(t *testing.T) {
	opts := options{Password: "pass", Resource: "db.sqlite"}
	opts.SecretsProvider.Vault.Token = "tok"
	res := sanitized(opts)
	assert.Equal(t, "*****", res.Password)
	assert.Equal(t, "*****", res.SecretsProvider.Vault.Token)
	assert.Equal(t, "", res.SSH.Password)
	assert.Equal(t, "db.sqlite", res.Resource)
	assert.Equal(t, "pass", opts.Password, "original untouched")
}

func TestConnectOptions_Overrides(t *testing.T) {
	defsFile := filepath.Join(t.TempDir(), "defs.yml")
	require.NoError(t, os.WriteFile(defsFile, []byte(`resource: postgres://db.example.com/app
user: app
timeout: 3s
ssh:
  host: bastion.example.com
  user: deploy
  key: /keys/id
`), 0o600))
	defs, err := loadDefinitions(defsFile)
	require.NoError(t, err)

	var opts options
	_, err = flags.NewParser(&opts, flags.Default).ParseArgs([]string{"-u", "admin", "--sslmode", "require", "tables"})
	require.NoError(t, err)

	res, err := connectOptions(opts, defs, nil)
	require.NoError(t, err)
	assert.Equal(t, "postgres://db.example.com/app", res.Resource)
	assert.Equal(t, "admin", res.User)
	assert.Equal(t, "require", res.SSLMode)
	assert.Equal(t, "3s", res.Timeout.String())
	require.NotNil(t, res.SSH)
	assert.Equal(t, "bastion.example.com", res.SSH.Host)
	assert.Equal(t, "deploy", res.SSH.User)
	assert.Nil(t, res.Prompt)
}

func TestMakeSecretsProvider(t *testing.T) {
	ctx := context.Background()
	p, err := makeSecretsProvider(ctx, SecretsProvider{Provider: "none"})
	require.NoError(t, err)
	_, err = p.Get("k")
	assert.Error(t, err)

	_, err = makeSecretsProvider(ctx, SecretsProvider{Provider: "tablecrow"})
	require.Error(t, err, "key is required")

	sp := SecretsProvider{Provider: "tablecrow", Key: "secret", Conn: filepath.Join(t.TempDir(), "secrets.db")}
	p, err = makeSecretsProvider(ctx, sp)
	require.NoError(t, err)
	_, err = p.Get("k")
	assert.ErrorIs(t, err, schema.ErrNotFound)

	av := SecretsProvider{Provider: "ansible-vault"}
	av.Ansible.Path, av.Ansible.Secret = "/no/such/vault.yml", "x"
	_, err = makeSecretsProvider(ctx, av)
	require.Error(t, err)
}

func TestMainFunc(t *testing.T) {
	os.Args = []string{"tablecrow", "--help"}
	exited := false
	exitFunc = func(int) { exited = true }
	defer func() { exitFunc = os.Exit }()

	main()
	assert.True(t, exited)
}

func TestExpandPath(t *testing.T) {
	usr, err := user.Current()
	require.NoError(t, err)
	res, err := expandPath("~/keys/id")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(usr.HomeDir, "keys", "id"), res)

	res, err = expandPath("/abs/path")
	require.NoError(t, err)
	assert.Equal(t, "/abs/path", res)
}

func runCommand(args []string) (string, error) {
	var opts options
	p := flags.NewParser(&opts, flags.PrintErrors|flags.PassDoubleDash|flags.HelpFlag)
	if _, err := p.ParseArgs(args); err != nil {
		return "", err
	}
	out := bytes.Buffer{}
	err := run(context.Background(), p, opts, &out)
	return out.String(), err
}
