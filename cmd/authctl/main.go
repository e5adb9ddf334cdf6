// Command authctl drives a learning-platform session from the terminal. Every
// invocation restores the persisted session first, the way an application start does.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/peterbourgon/ff/v3"
	"github.com/peterbourgon/ff/v3/ffcli"
)

const envPrefix = "AUTHCTL"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintln(os.Stderr, "authctl:", err)
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	if err := loadDotEnv(); err != nil {
		return err
	}

	root := newRootConfig(stdout, stderr)
	rootFlags := flag.NewFlagSet("authctl", flag.ContinueOnError)
	rootFlags.SetOutput(stderr)
	root.registerFlags(rootFlags)

	cmd := &ffcli.Command{
		Name:       "authctl",
		ShortUsage: "authctl [flags] <subcommand> [flags]",
		FlagSet:    rootFlags,
		Options: []ff.Option{
			ff.WithEnvVarPrefix(envPrefix),
			ff.WithConfigFileFlag("config"),
			ff.WithConfigFileParser(yamlParser),
			ff.WithAllowMissingConfigFile(true),
		},
		Subcommands: []*ffcli.Command{
			loginCommand(root),
			registerCommand(root),
			whoamiCommand(root),
			updateCommand(root),
			logoutCommand(root),
		},
		Exec: func(context.Context, []string) error {
			return flag.ErrHelp
		},
	}

	return cmd.ParseAndRun(ctx, args)
}

// loadDotEnv fills unset variables from AUTHCTL_ENV_FILE, or ./.env when present.
func loadDotEnv() error {
	path := os.Getenv(envPrefix + "_ENV_FILE")
	explicit := path != ""
	if !explicit {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}
