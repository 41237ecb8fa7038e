package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"os/user"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/go-pkgz/lgr"
	"github.com/jessevdk/go-flags"

	"github.com/umputun/tablecrow/pkg/config"
	"github.com/umputun/tablecrow/pkg/connect"
	"github.com/umputun/tablecrow/pkg/secrets"
	"github.com/umputun/tablecrow/pkg/table"
)

type options struct {
	Resource    string        `short:"r" long:"resource" env:"TABLECROW_RESOURCE" description:"database, [protocol://][user[:password]@]host[:port][/db] or sqlite file"`
	Definitions string        `short:"f" long:"file" env:"TABLECROW_FILE" description:"table definitions file, yaml or toml"`
	Database    string        `short:"d" long:"database" env:"TABLECROW_DATABASE" description:"database name, overrides resource"`
	User        string        `short:"u" long:"user" env:"TABLECROW_USER" description:"database user, overrides resource"`
	Password    string        `long:"password" env:"TABLECROW_PASSWORD" description:"database password"`
	AskPassword bool          `long:"ask-password" description:"ask for the password if not given otherwise"`
	SecretKey   string        `long:"secret-key" env:"TABLECROW_SECRET_KEY" description:"key of the password in the secrets provider"`
	SSLMode     string        `long:"sslmode" env:"TABLECROW_SSLMODE" description:"postgres sslmode"`
	Timeout     time.Duration `long:"timeout" env:"TABLECROW_TIMEOUT" description:"connect timeout" default:"10s"`

	SSH struct {
		Host     string `long:"host" env:"HOST" description:"ssh host[:port] to tunnel through"`
		User     string `long:"user" env:"USER" description:"ssh user"`
		Key      string `long:"key" env:"KEY" description:"ssh private key"`
		Password string `long:"password" env:"PASSWORD" description:"ssh password"`
	} `group:"ssh" namespace:"ssh" env-namespace:"TABLECROW_SSH"`

	SecretsProvider SecretsProvider `group:"secrets" namespace:"secrets" env-namespace:"TABLECROW_SECRETS"`

	TablesCmd struct{} `command:"tables" description:"list tables of the database"`

	SchemaCmd struct {
		Args tableArg `positional-args:"yes" required:"yes"`
	} `command:"schema" description:"show fields and primary key of a table"`

	GetCmd struct {
		Args keyArgs `positional-args:"yes" required:"yes"`
	} `command:"get" description:"print the record with the key"`

	SetCmd struct {
		Args struct {
			Table  string `positional-arg-name:"table" description:"table name"`
			Record string `positional-arg-name:"record" description:"record as json object, with all primary key fields"`
		} `positional-args:"yes" required:"yes"`
	} `command:"set" description:"insert or update a record"`

	DelCmd struct {
		Args keyArgs `positional-args:"yes" required:"yes"`
	} `command:"del" description:"delete the record with the key"`

	QueryCmd struct {
		Filter filterOpts `group:"filter"`
		Args   tableArg   `positional-args:"yes" required:"yes"`
	} `command:"query" description:"print records matching the filter"`

	CountCmd struct {
		Filter filterOpts `group:"filter"`
		Args   tableArg   `positional-args:"yes" required:"yes"`
	} `command:"count" description:"count records matching the filter"`

	IntersectCmd struct {
		WKT    string   `long:"wkt" required:"true" description:"geometry as WKT"`
		CRS    string   `long:"crs" description:"CRS of the geometry, the table CRS if not set"`
		Fields []string `long:"field" description:"geometry fields to check, all if not set"`
		Args   tableArg `positional-args:"yes" required:"yes"`
	} `command:"intersect" description:"print records intersecting the geometry"`

	DropCmd struct {
		Args tableArg `positional-args:"yes" required:"yes"`
	} `command:"drop" description:"drop a table"`

	Dbg bool `long:"dbg" description:"debug mode"`
}

type tableArg struct {
	Table string `positional-arg-name:"table" description:"table name"`
}

type keyArgs struct {
	Table string   `positional-arg-name:"table" description:"table name"`
	Key   []string `positional-arg-name:"key" description:"primary key values, in primary key order"`
}

type filterOpts struct {
	Where []string `short:"w" long:"where" description:"field=value, value with % is a pattern, [a,b] a set, NULL is null"`
	Raw   []string `long:"raw" description:"raw sql clause, used as is"`
}

// SecretsProvider defines secrets provider options, for all supported providers
type SecretsProvider struct {
	Provider string `long:"provider" env:"PROVIDER" description:"secret provider type" choice:"none" choice:"tablecrow" choice:"vault" choice:"ansible-vault" choice:"aws" default:"none"`

	Key  string `long:"key" env:"KEY" description:"secure key for tablecrow secrets provider"`
	Conn string `long:"conn" env:"CONN" description:"resource of tablecrow secrets provider" default:"tablecrow.db"`

	Vault struct {
		Token string `long:"token" env:"TOKEN" description:"vault token"`
		Path  string `long:"path"  env:"PATH" description:"vault path"`
		URL   string `long:"url" env:"URL" description:"vault url"`
	} `group:"vault" namespace:"vault" env-namespace:"VAULT"`

	Ansible struct {
		Path   string `long:"path" env:"PATH" description:"ansible vault file"`
		Secret string `long:"secret" env:"SECRET" description:"ansible vault password"`
	} `group:"ansible" namespace:"ansible" env-namespace:"ANSIBLE"`

	Aws struct {
		Region    string `long:"region" env:"REGION" description:"aws region"`
		AccessKey string `long:"access-key" env:"ACCESS_KEY" description:"aws access key"`
		SecretKey string `long:"secret-key" env:"SECRET_KEY" description:"aws secret key"`
	} `group:"aws" namespace:"aws" env-namespace:"AWS"`
}

var revision = "latest"

var exitFunc = os.Exit

func main() {
	var opts options
	p := flags.NewParser(&opts, flags.PrintErrors|flags.PassDoubleDash|flags.HelpFlag)
	if _, err := p.Parse(); err != nil {
		fmt.Fprintf(os.Stderr, "tablecrow %s\n", revision)
		exitFunc(1) // can be redefined in tests
		return
	}
	setupLog(opts.Dbg)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, p, opts, os.Stdout); err != nil {
		log.Printf("[ERROR] %v", err)
		cancel()
		exitFunc(1)
	}
}

// run executes the active command, results go to out
func run(ctx context.Context, p *flags.Parser, opts options, out io.Writer) error {
	if p.Active == nil {
		return fmt.Errorf("no command given")
	}
	log.Printf("[DEBUG] command %s, options %+v", p.Active.Name, sanitized(opts))

	sp, err := makeSecretsProvider(ctx, opts.SecretsProvider)
	if err != nil {
		return fmt.Errorf("can't make secrets provider: %w", err)
	}
	if c, ok := sp.(io.Closer); ok {
		defer c.Close()
	}

	defs, err := loadDefinitions(opts.Definitions)
	if err != nil {
		return err
	}
	copts, err := connectOptions(opts, defs, sp)
	if err != nil {
		return err
	}

	cmd := command{out: out, conn: copts, defs: defs}
	switch p.Active.Name {
	case "tables":
		return cmd.tables(ctx)
	case "schema":
		return cmd.schema(ctx, opts.SchemaCmd.Args.Table)
	case "get":
		return cmd.get(ctx, opts.GetCmd.Args.Table, opts.GetCmd.Args.Key)
	case "set":
		return cmd.set(ctx, opts.SetCmd.Args.Table, opts.SetCmd.Args.Record)
	case "del":
		return cmd.del(ctx, opts.DelCmd.Args.Table, opts.DelCmd.Args.Key)
	case "query":
		return cmd.query(ctx, opts.QueryCmd.Args.Table, opts.QueryCmd.Filter)
	case "count":
		return cmd.count(ctx, opts.CountCmd.Args.Table, opts.CountCmd.Filter)
	case "intersect":
		ic := opts.IntersectCmd
		return cmd.intersect(ctx, ic.Args.Table, ic.WKT, ic.CRS, ic.Fields)
	case "drop":
		return cmd.drop(ctx, opts.DropCmd.Args.Table)
	}
	return fmt.Errorf("unknown command %q", p.Active.Name)
}

func loadDefinitions(fname string) (*config.Definitions, error) {
	if fname == "" {
		return nil, nil
	}
	fname, err := expandPath(fname)
	if err != nil {
		return nil, fmt.Errorf("can't expand path %s: %w", fname, err)
	}
	defs, err := config.Load(fname)
	if err != nil {
		return nil, err
	}
	log.Printf("[INFO] definitions loaded from %s, %d tables", fname, len(defs.Tables))
	return defs, nil
}

// connectOptions makes connection options from the definitions file, if any, with cli overrides on top
func connectOptions(opts options, defs *config.Definitions, sp secrets.Provider) (connect.Options, error) {
	res := connect.Options{Secrets: sp, Logger: lgr.Std}
	if defs != nil {
		var err error
		if res, err = defs.ConnectOptions(sp, lgr.Std); err != nil {
			return connect.Options{}, err
		}
	}

	override := func(dst *string, val string) {
		if val != "" {
			*dst = val
		}
	}
	override(&res.Resource, opts.Resource)
	override(&res.Database, opts.Database)
	override(&res.User, opts.User)
	override(&res.Password, opts.Password)
	override(&res.SecretKey, opts.SecretKey)
	override(&res.SSLMode, opts.SSLMode)
	if res.Timeout == 0 {
		res.Timeout = opts.Timeout
	}

	if opts.SSH.Host != "" {
		res.SSH = &connect.SSHConfig{Host: opts.SSH.Host, User: opts.SSH.User, KeyFile: opts.SSH.Key, Password: opts.SSH.Password}
	}
	if res.SSH != nil {
		if res.SSH.User == "" {
			u, err := user.Current()
			if err != nil {
				return connect.Options{}, fmt.Errorf("can't get current user: %w", err)
			}
			res.SSH.User = u.Username
		}
		if res.SSH.KeyFile != "" {
			key, err := expandPath(res.SSH.KeyFile)
			if err != nil {
				return connect.Options{}, fmt.Errorf("can't expand ssh key path: %w", err)
			}
			res.SSH.KeyFile = key
		}
	}
	if opts.AskPassword {
		res.Prompt = connect.TermPrompt
	}
	if res.Resource == "" {
		return connect.Options{}, fmt.Errorf("no resource given, set --resource or definitions file")
	}
	return res, nil
}

// tableOptions returns definition of the table from the file, or adopts the remote schema
func tableOptions(defs *config.Definitions, name string) (table.Options, error) {
	if defs != nil {
		if def, ok := defs.Table(name); ok {
			return def.Options()
		}
	}
	return table.Options{Name: name}, nil
}

func makeSecretsProvider(ctx context.Context, sopts SecretsProvider) (secrets.Provider, error) {
	switch sopts.Provider {
	case "none", "":
		return &secrets.NoOpProvider{}, nil
	case "tablecrow":
		return secrets.NewInternalProvider(ctx, connect.Options{Resource: sopts.Conn, Logger: lgr.Std}, []byte(sopts.Key))
	case "vault":
		return secrets.NewHashiVaultProvider(sopts.Vault.URL, sopts.Vault.Path, sopts.Vault.Token)
	case "ansible-vault":
		return secrets.NewAnsibleVaultProvider(sopts.Ansible.Path, sopts.Ansible.Secret)
	case "aws":
		return secrets.NewAWSSecretsProvider(sopts.Aws.AccessKey, sopts.Aws.SecretKey, sopts.Aws.Region)
	}
	log.Printf("[WARN] unknown secrets provider %q", sopts.Provider)
	return &secrets.NoOpProvider{}, nil
}

// sanitized hides passwords and keys for logging
func sanitized(opts options) options {
	hide := func(s *string) {
		if *s != "" {
			*s = "*****"
		}
	}
	hide(&opts.Password)
	hide(&opts.SSH.Password)
	hide(&opts.SecretsProvider.Key)
	hide(&opts.SecretsProvider.Vault.Token)
	hide(&opts.SecretsProvider.Ansible.Secret)
	hide(&opts.SecretsProvider.Aws.SecretKey)
	return opts
}

func expandPath(path string) (string, error) {
	if strings.HasPrefix(path, "~") {
		usr, err := user.Current()
		if err != nil {
			return "", err
		}
		return filepath.Join(usr.HomeDir, path[1:]), nil
	}
	return path, nil
}

func setupLog(dbg bool) {
	logOpts := []lgr.Option{lgr.Msec, lgr.LevelBraces, lgr.StackTraceOnError}
	if dbg {
		logOpts = []lgr.Option{lgr.Debug, lgr.CallerFile, lgr.CallerFunc, lgr.Msec, lgr.LevelBraces, lgr.StackTraceOnError}
	}

	colorizer := lgr.Mapper{
		ErrorFunc:  func(s string) string { return color.New(color.FgHiRed).Sprint(s) },
		WarnFunc:   func(s string) string { return color.New(color.FgRed).Sprint(s) },
		InfoFunc:   func(s string) string { return color.New(color.FgYellow).Sprint(s) },
		DebugFunc:  func(s string) string { return color.New(color.FgWhite).Sprint(s) },
		CallerFunc: func(s string) string { return color.New(color.FgBlue).Sprint(s) },
		TimeFunc:   func(s string) string { return color.New(color.FgCyan).Sprint(s) },
	}
	logOpts = append(logOpts, lgr.Map(colorizer))

	lgr.SetupStdLogger(logOpts...)
	lgr.Setup(logOpts...)
}
