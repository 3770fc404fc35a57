// Package main provides the devins CLI.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/everydev1618/devins"
)

var version = "dev"

// CLI is the top-level command line.
type CLI struct {
	Config  string    `help:"Config file." default:"${config}" type:"path"`
	Log     logConfig `embed:"" prefix:"log-"`
	Profile string    `help:"Write a profile (${profiles}) to the working directory." enum:",${profiles}" default:""`

	Run      RunCmd      `cmd:"" help:"Compile a script and every job it chains."`
	Check    CheckCmd    `cmd:"" help:"Parse a script and its front matter without running commands."`
	Commands CommandsCmd `cmd:"" help:"List available commands, optionally fuzzy-matched."`
	History  HistoryCmd  `cmd:"" help:"Show recent compilations."`
	Serve    ServeCmd    `cmd:"" help:"Run scheduled scripts until interrupted."`
	Version  VersionCmd  `cmd:"" help:"Print version information."`
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if errors.Is(err, errScriptFailed) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func run() error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var cli CLI
	parser := kong.Must(&cli,
		kong.Name("devins"),
		kong.Description("Compile and run DevIns agent scripts."),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{Compact: true, Summary: true}),
		kong.Vars{
			"config":   devins.DefaultConfigPath(),
			"profiles": profileModes,
		},
		kong.BindTo(ctx, (*context.Context)(nil)),
	)

	ktx, err := parser.Parse(os.Args[1:])
	parser.FatalIfErrorf(err)

	cli.Log.install()
	defer startProfile(cli.Profile).Stop()

	return ktx.Run(&cli)
}

// open loads the config, applies overrides and assembles a runtime.
func (c *CLI) open(ctx context.Context, overrides ...func(*devins.Config)) (*devins.Runtime, error) {
	if err := devins.EnsureHome(); err != nil {
		return nil, fmt.Errorf("create home: %w", err)
	}
	cfg, err := devins.LoadConfig(c.Config)
	if err != nil {
		return nil, err
	}
	for _, o := range overrides {
		o(cfg)
	}
	return devins.New(ctx, cfg, devins.WithLogger(slog.Default()))
}

// VersionCmd prints the version.
type VersionCmd struct{}

func (VersionCmd) Run() error {
	fmt.Printf("devins %s\n", version)
	return nil
}
