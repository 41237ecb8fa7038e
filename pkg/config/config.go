// Package config loads table definition files. A definition file names the database (resource and credentials,
// optionally an ssh tunnel) and the tables to open with their declared fields, primary keys, CRS and granted users.
// Files are yaml (unknown keys rejected) or toml, picked by extension.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-pkgz/lgr"
	"github.com/hashicorp/go-multierror"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/umputun/tablecrow/pkg/connect"
	"github.com/umputun/tablecrow/pkg/geo"
	"github.com/umputun/tablecrow/pkg/schema"
	"github.com/umputun/tablecrow/pkg/table"
)

// Definitions is the content of a definition file
type Definitions struct {
	Resource  string     `yaml:"resource" toml:"resource"`     // [protocol://][user[:password]@]host[:port][/db] or sqlite file
	Database  string     `yaml:"database" toml:"database"`     // overrides database of the resource
	User      string     `yaml:"user" toml:"user"`             // overrides user of the resource
	Password  string     `yaml:"password" toml:"password"`     // better use secret_key
	SecretKey string     `yaml:"secret_key" toml:"secret_key"` // key of the password in the secrets provider
	SSLMode   string     `yaml:"sslmode" toml:"sslmode"`
	Timeout   string     `yaml:"timeout" toml:"timeout"` // connect timeout, like "10s"
	SSH       *SSH       `yaml:"ssh" toml:"ssh"`
	Tables    []TableDef `yaml:"tables" toml:"tables"`
}

// SSH tunnel settings
type SSH struct {
	Host     string `yaml:"host" toml:"host"`
	User     string `yaml:"user" toml:"user"`
	Key      string `yaml:"key" toml:"key"`
	Password string `yaml:"password" toml:"password"`
}

// TableDef declares a table. No fields means adopting the schema of the existing table.
type TableDef struct {
	Name       string     `yaml:"name" toml:"name"`
	Fields     []FieldDef `yaml:"fields" toml:"fields"`
	PrimaryKey []string   `yaml:"primary_key" toml:"primary_key"`
	CRS        string     `yaml:"crs" toml:"crs"`
	Users      []string   `yaml:"users" toml:"users"`
	StrictKeys bool       `yaml:"strict_keys" toml:"strict_keys"`
}

// FieldDef is a field with type tag, like "int", "[str]" or "Polygon"
type FieldDef struct {
	Name string `yaml:"name" toml:"name"`
	Type string `yaml:"type" toml:"type"`
}

// Load reads and validates definition file. Values of resource, user, password and ssh settings
// get environment variables expanded.
func Load(fname string) (*Definitions, error) {
	data, err := os.ReadFile(fname) //nolint:gosec // file name given by user
	if err != nil {
		return nil, fmt.Errorf("can't read definitions %s: %w", fname, err)
	}
	res, err := Parse(data, filepath.Ext(fname))
	if err != nil {
		return nil, fmt.Errorf("can't load definitions %s: %w", fname, err)
	}
	return res, nil
}

// Parse decodes definitions, ext selects the format: ".toml" for toml, yaml otherwise
func Parse(data []byte, ext string) (*Definitions, error) {
	res := &Definitions{}
	switch strings.ToLower(ext) {
	case ".toml":
		if err := toml.Unmarshal(data, res); err != nil {
			return nil, fmt.Errorf("can't unmarshal toml: %w", err)
		}
	case ".yml", ".yaml", "":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(res); err != nil {
			return nil, fmt.Errorf("can't unmarshal yaml: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown definitions format %q", ext)
	}

	res.expandEnv()
	if err := res.Validate(); err != nil {
		return nil, err
	}
	return res, nil
}

// Validate checks the whole file and reports all problems at once
func (d *Definitions) Validate() error {
	errs := new(multierror.Error)
	if d.Resource == "" {
		errs = multierror.Append(errs, errors.New("resource is required"))
	} else if _, err := connect.ParseLocator(d.Resource); err != nil {
		errs = multierror.Append(errs, err)
	}
	if d.Timeout != "" {
		if _, err := time.ParseDuration(d.Timeout); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("invalid timeout %q: %w", d.Timeout, err))
		}
	}
	if d.SSH != nil {
		if d.SSH.Host == "" {
			errs = multierror.Append(errs, errors.New("ssh host is required"))
		}
		if d.SSH.Key == "" && d.SSH.Password == "" {
			errs = multierror.Append(errs, errors.New("ssh key or password is required"))
		}
	}

	seen := map[string]bool{}
	for i, t := range d.Tables {
		if t.Name == "" {
			errs = multierror.Append(errs, fmt.Errorf("table #%d has no name", i+1))
			continue
		}
		if seen[t.Name] {
			errs = multierror.Append(errs, fmt.Errorf("duplicate table %q", t.Name))
		}
		seen[t.Name] = true
		if _, err := t.Options(); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	return errs.ErrorOrNil()
}

// ConnectOptions makes connection options, secrets and logger are taken as is
func (d *Definitions) ConnectOptions(secrets connect.SecretsProvider, log lgr.L) (connect.Options, error) {
	res := connect.Options{
		Resource:  d.Resource,
		Database:  d.Database,
		User:      d.User,
		Password:  d.Password,
		SecretKey: d.SecretKey,
		Secrets:   secrets,
		SSLMode:   d.SSLMode,
		Logger:    log,
	}
	if d.Timeout != "" {
		timeout, err := time.ParseDuration(d.Timeout)
		if err != nil {
			return connect.Options{}, fmt.Errorf("invalid timeout %q: %w", d.Timeout, err)
		}
		res.Timeout = timeout
	}
	if d.SSH != nil {
		res.SSH = &connect.SSHConfig{Host: d.SSH.Host, User: d.SSH.User, KeyFile: d.SSH.Key, Password: d.SSH.Password}
	}
	return res, nil
}

// TableOptions makes options of all tables, in file order
func (d *Definitions) TableOptions(log lgr.L) ([]table.Options, error) {
	res := make([]table.Options, 0, len(d.Tables))
	for _, t := range d.Tables {
		opts, err := t.Options()
		if err != nil {
			return nil, err
		}
		opts.Logger = log
		res = append(res, opts)
	}
	return res, nil
}

// Table returns definition of the named table
func (d *Definitions) Table(name string) (TableDef, bool) {
	for _, t := range d.Tables {
		if t.Name == name {
			return t, true
		}
	}
	return TableDef{}, false
}

// Options converts definition to table options, checking types, primary key and CRS
func (t TableDef) Options() (table.Options, error) {
	res := table.Options{Name: t.Name, PrimaryKey: t.PrimaryKey, Users: t.Users, StrictKeys: t.StrictKeys}
	errs := new(multierror.Error)
	if len(t.Fields) > 0 {
		pairs := make([]string, 0, len(t.Fields)*2)
		for _, f := range t.Fields {
			pairs = append(pairs, f.Name, f.Type)
		}
		fields, err := schema.NewFields(pairs...)
		if err != nil {
			errs = multierror.Append(errs, err)
		} else if _, err := fields.PrimaryKey(t.PrimaryKey); err != nil {
			errs = multierror.Append(errs, err)
		}
		res.Fields = fields
	}
	if t.CRS != "" {
		crs, err := geo.ParseCRS(t.CRS)
		if err != nil {
			errs = multierror.Append(errs, err)
		}
		res.CRS = crs
	}
	if err := errs.ErrorOrNil(); err != nil {
		return table.Options{}, fmt.Errorf("invalid table %q: %w", t.Name, err)
	}
	return res, nil
}

func (d *Definitions) expandEnv() {
	d.Resource = os.ExpandEnv(d.Resource)
	d.User = os.ExpandEnv(d.User)
	d.Password = os.ExpandEnv(d.Password)
	if d.SSH != nil {
		d.SSH.Host = os.ExpandEnv(d.SSH.Host)
		d.SSH.User = os.ExpandEnv(d.SSH.User)
		d.SSH.Key = os.ExpandEnv(d.SSH.Key)
		d.SSH.Password = os.ExpandEnv(d.SSH.Password)
	}
}
