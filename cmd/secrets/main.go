package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/fatih/color"
	"github.com/go-pkgz/lgr"
	"github.com/jessevdk/go-flags"

	"github.com/umputun/tablecrow/pkg/connect"
	"github.com/umputun/tablecrow/pkg/secrets"
)

type options struct {
	Key  string `short:"k" long:"key" env:"TABLECROW_SECRETS_KEY" required:"true" description:"key to use for encryption/decryption"`
	Conn string `short:"c" long:"conn" env:"TABLECROW_SECRETS_CONN" default:"tablecrow.db" description:"resource of the secrets database"`
	Dbg  bool   `long:"dbg" description:"debug mode"`

	SetCmd struct {
		PositionalArgs struct {
			Key   string `positional-arg-name:"key" description:"key to add"`
			Value string `positional-arg-name:"value" description:"value to add"`
		} `positional-args:"yes" positional-optional:"no"`
	} `command:"set" description:"add a new secret"`

	GetCmd struct {
		PositionalArgs struct {
			Key string `positional-arg-name:"key" description:"key to retrieve"`
		} `positional-args:"yes" positional-optional:"no"`
	} `command:"get" description:"retrieve a secret"`

	DeleteCmd struct {
		PositionalArgs struct {
			Key string `positional-arg-name:"key" description:"key to delete"`
		} `positional-args:"yes" positional-optional:"no"`
	} `command:"del" description:"delete a secret"`

	ListCmd struct {
		PositionalArgs struct {
			KeyPrefix string `positional-arg-name:"key-prefix" default:"*" description:"key prefix to list"`
		} `positional-args:"yes" positional-optional:"no"`
	} `command:"list" description:"list secrets keys"`
}

var revision = "latest"

var exitFunc = os.Exit

func main() {
	fmt.Printf("tablecrow secrets %s\n", revision)

	var opts options
	p := flags.NewParser(&opts, flags.PrintErrors|flags.PassDoubleDash|flags.HelpFlag)
	if _, err := p.Parse(); err != nil {
		exitFunc(1) // can be redefined in tests
		return
	}
	setupLog(opts.Dbg)

	if err := run(p, opts); err != nil {
		log.Printf("[WARN] %v", err)
		exitFunc(1)
	}
}

func run(p *flags.Parser, opts options) error {
	sp, err := secrets.NewInternalProvider(context.Background(), connect.Options{Resource: opts.Conn, Logger: lgr.Std}, []byte(opts.Key))
	if err != nil {
		return fmt.Errorf("can't create secrets provider: %w", err)
	}
	defer sp.Close()

	isActive := func(name string) bool { return p.Active != nil && p.Command.Find(name) == p.Active }

	switch {
	case isActive("set"):
		key, val := opts.SetCmd.PositionalArgs.Key, opts.SetCmd.PositionalArgs.Value
		log.Printf("[INFO] set command, key=%s", key)
		if val == "" {
			return fmt.Errorf("can't set empty secret for key %q", key)
		}
		if err := sp.Set(key, val); err != nil {
			return fmt.Errorf("can't set secret for key %q: %w", key, err)
		}

	case isActive("get"):
		key := opts.GetCmd.PositionalArgs.Key
		log.Printf("[INFO] get command, key=%s", key)
		val, err := sp.Get(key)
		if err != nil {
			return fmt.Errorf("can't get secret for key %q: %w", key, err)
		}
		fmt.Println(val)

	case isActive("del"):
		key := opts.DeleteCmd.PositionalArgs.Key
		log.Printf("[INFO] del command, key=%s", key)
		if err := sp.Delete(key); err != nil {
			return fmt.Errorf("can't delete secret: %w", err)
		}
		log.Printf("[INFO] key=%s deleted", key)

	case isActive("list"):
		log.Printf("[INFO] list command, key-prefix=%q", opts.ListCmd.PositionalArgs.KeyPrefix)
		keys, err := sp.List(opts.ListCmd.PositionalArgs.KeyPrefix)
		if err != nil {
			return fmt.Errorf("can't list secrets: %w", err)
		}
		for i, k := range keys {
			if i%4 == 0 && i != 0 {
				fmt.Println()
			}
			fmt.Printf("%s\t", k)
		}
		fmt.Println()
	}
	return nil
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
