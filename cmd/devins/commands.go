package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"golang.org/x/term"

	"github.com/everydev1618/devins"
)

// errScriptFailed signals a script that compiled but recorded an error.
var errScriptFailed = errors.New("script reported errors")

// readScript reads a file, or stdin when path is "-".
func readScript(path string) (string, error) {
	if path != "-" {
		data, err := os.ReadFile(path)
		if err != nil {
			return "", err
		}
		return string(data), nil
	}
	if term.IsTerminal(int(os.Stdin.Fd())) {
		return "", fmt.Errorf("no script piped on stdin")
	}
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	return string(data), nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// RunCmd compiles a script.
type RunCmd struct {
	File     string            `arg:"" help:"Script file, or - for stdin."`
	Var      map[string]string `help:"Set a user variable (name=value)." short:"v"`
	FilePath string            `help:"Value of the filePath context variable." name:"file-path"`
	Language string            `help:"Value of the language context variable."`
	Debug    bool              `help:"Keep debug records in the compilation log."`
	JSON     bool              `help:"Print a JSON summary instead of the output." name:"json"`
}

func (c *RunCmd) Run(ctx context.Context, cli *CLI) error {
	script, err := readScript(c.File)
	if err != nil {
		return err
	}

	r, err := cli.open(ctx, func(cfg *devins.Config) {
		if cfg.Variables == nil {
			cfg.Variables = make(map[string]any, len(c.Var))
		}
		for k, v := range c.Var {
			cfg.Variables[k] = v
		}
		if c.Debug {
			cfg.Compiler.Debug = true
		}
	})
	if err != nil {
		return err
	}
	defer r.Close()

	values := map[string]any{}
	if c.FilePath != "" {
		values["filePath"] = c.FilePath
	}
	if c.Language != "" {
		values["language"] = c.Language
	}

	sourcePath := ""
	if c.File != "-" {
		sourcePath = c.File
	}
	res, err := r.RunScript(ctx, script, sourcePath, values)
	if res == nil {
		return err
	}

	if c.JSON {
		links := make([]any, len(res.Links))
		for i, l := range res.Links {
			links[i] = devins.RunFromResult(l)
		}
		if perr := printJSON(map[string]any{
			"id":        res.ID,
			"output":    res.Output,
			"has_error": res.HasError,
			"truncated": res.Truncated,
			"links":     links,
		}); perr != nil {
			return perr
		}
	} else {
		fmt.Print(res.Output)
		if !strings.HasSuffix(res.Output, "\n") {
			fmt.Println()
		}
	}

	if err != nil {
		return err
	}
	if res.HasError {
		return errScriptFailed
	}
	return nil
}

// CheckCmd validates a script.
type CheckCmd struct {
	File string `arg:"" help:"Script file, or - for stdin."`
}

func (c *CheckCmd) Run(ctx context.Context, cli *CLI) error {
	script, err := readScript(c.File)
	if err != nil {
		return err
	}
	r, err := cli.open(ctx)
	if err != nil {
		return err
	}
	defer r.Close()

	report, err := r.Check(ctx, script)
	if err != nil {
		return err
	}

	fmt.Printf("%s: %d elements, %d commands\n", c.File, report.Elements, len(report.Commands))
	if report.Config != nil {
		fmt.Printf("  name: %s\n", report.Config.Name)
		if report.Config.Description != "" {
			fmt.Printf("  description: %s\n", report.Config.Description)
		}
		if !report.Config.IsEnabled() {
			fmt.Println("  disabled")
		}
	}
	if report.ConfigError != nil {
		fmt.Printf("  malformed front matter: %v\n", report.ConfigError)
	}
	for _, name := range report.Unknown {
		fmt.Printf("  unknown command: /%s\n", name)
	}

	if report.ConfigError != nil || len(report.Unknown) > 0 {
		return errScriptFailed
	}
	return nil
}

// CommandsCmd lists commands.
type CommandsCmd struct {
	Query string `arg:"" optional:"" help:"Fuzzy filter."`
}

func (c *CommandsCmd) Run(ctx context.Context, cli *CLI) error {
	r, err := cli.open(ctx)
	if err != nil {
		return err
	}
	defer r.Close()

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	for _, d := range r.Commands(ctx, c.Query) {
		source := d.Provider
		if source == "" {
			source = "builtin"
		}
		fmt.Fprintf(tw, "/%s\t%s\t%s\n", d.Name, source, d.Description)
	}
	return tw.Flush()
}

// HistoryCmd lists recent runs.
type HistoryCmd struct {
	Limit int  `help:"Number of runs to show." default:"20" short:"n"`
	JSON  bool `help:"Print JSON." name:"json"`
}

func (c *HistoryCmd) Run(ctx context.Context, cli *CLI) error {
	r, err := cli.open(ctx)
	if err != nil {
		return err
	}
	defer r.Close()

	runs, err := r.History(c.Limit)
	if err != nil {
		return err
	}
	if c.JSON {
		return printJSON(runs)
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STARTED\tCHAIN\tLINK\tSOURCE\tDURATION\tSTATUS")
	for _, run := range runs {
		status := "ok"
		switch {
		case run.HasError:
			status = "error"
		case run.Skipped:
			status = "skipped"
		}
		source := run.SourcePath
		if source == "" {
			source = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%s\n",
			run.StartedAt.Format(time.DateTime), shortID(run.ChainID), run.Link,
			source, run.Duration().Round(time.Microsecond), status)
	}
	return tw.Flush()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// ServeCmd runs schedules.
type ServeCmd struct {
	Watch bool `help:"Reload catalogues when files change." default:"true" negatable:""`
}

func (c *ServeCmd) Run(ctx context.Context, cli *CLI) error {
	r, err := cli.open(ctx, func(cfg *devins.Config) {
		cfg.Skills.Watch = c.Watch
	})
	if err != nil {
		return err
	}
	defer r.Close()

	return r.Serve(ctx)
}
