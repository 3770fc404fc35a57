package devins

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/everydev1618/devins/compiler"
	"github.com/everydev1618/devins/dsl"
	"github.com/everydev1618/devins/store"
)

// ChainResult is the outcome of running a script and every job it chained.
type ChainResult struct {
	// ID is shared by the history records of every link.
	ID string

	// Head is the first link. Each link's NextJob points at the compiled
	// following link.
	Head *compiler.Result

	// Links lists the compiled links in order.
	Links []*compiler.Result

	// Output concatenates the output of every link.
	Output string

	HasError bool

	// Truncated is set when the chain hit MaxRecursionDepth and the
	// remaining links were not compiled.
	Truncated bool
}

// Run compiles script and then each chained job in turn, each in a fresh
// context that inherits only USER_DEFINED variables from the previous link.
func (r *Runtime) Run(ctx context.Context, script string, contextValues map[string]any) (*ChainResult, error) {
	return r.run(ctx, script, "", contextValues)
}

// RunFile reads path from the workspace and runs it.
func (r *Runtime) RunFile(ctx context.Context, path string, contextValues map[string]any) (*ChainResult, error) {
	script, err := r.ws.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read script: %w", err)
	}
	return r.run(ctx, script, path, contextValues)
}

// RunScript runs script, recording sourcePath as where it was read from.
func (r *Runtime) RunScript(ctx context.Context, script, sourcePath string, contextValues map[string]any) (*ChainResult, error) {
	return r.run(ctx, script, sourcePath, contextValues)
}

func (r *Runtime) run(ctx context.Context, script, sourcePath string, contextValues map[string]any) (*ChainResult, error) {
	cc := r.NewContext(contextValues)
	chain := &ChainResult{ID: uuid.NewString()}
	limit := cc.Options.MaxRecursionDepth

	var out strings.Builder
	var prev *compiler.Result
	for link := 0; ; link++ {
		res, err := r.compiler.Compile(ctx, script, cc)
		if res == nil {
			return nil, err
		}
		res.SourcePath = sourcePath

		if prev == nil {
			chain.Head = res
		} else {
			// The queued placeholder only held the script; the compiled
			// link takes its place.
			prev.NextJob = res
		}
		chain.Links = append(chain.Links, res)
		out.WriteString(res.Output)
		chain.HasError = chain.HasError || res.HasError
		r.record(chain.ID, link, res)

		if err != nil {
			chain.Output = out.String()
			return chain, err
		}

		next := res.NextJob
		if next == nil {
			break
		}
		if link+1 >= limit {
			r.logger.Warn("job chain too long, dropping remaining links",
				"chain", chain.ID, "limit", limit, "next", next.SourcePath)
			chain.Truncated = true
			chain.HasError = true
			break
		}

		r.logger.Info("running chained job", "chain", chain.ID, "link", link+1, "path", next.SourcePath)
		script, sourcePath = next.Input, next.SourcePath
		prev = res
		cc = cc.Fork()
	}

	chain.Output = out.String()
	return chain, nil
}

// record persists one link. Failures are logged; history never fails a run.
func (r *Runtime) record(chainID string, link int, res *compiler.Result) {
	if r.store == nil {
		return
	}
	run := RunFromResult(res)
	run.ChainID = chainID
	run.Link = link
	if err := r.store.InsertRun(run); err != nil {
		r.logger.Warn("history: insert run failed", "chain", chainID, "link", link, "error", err)
	}
}

// RunFromResult converts a compiled result into a history record.
func RunFromResult(res *compiler.Result) store.Run {
	run := store.Run{
		ID:           uuid.NewString(),
		SourcePath:   res.SourcePath,
		Input:        res.Input,
		Output:       res.Output,
		HasError:     res.HasError,
		ErrorMessage: res.ErrorMessage,
		Skipped:      res.Skipped,
		Local:        res.IsLocalCommand,
		Stats: store.RunStats{
			Nodes:      res.Statistics.NodeCount,
			Variables:  res.Statistics.VariableCount,
			Commands:   res.Statistics.CommandCount,
			Agents:     res.Statistics.AgentCount,
			CodeBlocks: res.Statistics.CodeBlockCount,
		},
		StartedAt:  res.Statistics.StartTime,
		FinishedAt: res.Statistics.EndTime,
	}
	if res.ExecuteAgent != nil {
		run.Agent = res.ExecuteAgent.Name
	}
	return run
}

// History returns the most recent history records, newest first.
func (r *Runtime) History(limit int) ([]store.Run, error) {
	if r.store == nil {
		return nil, fmt.Errorf("history is disabled")
	}
	return r.store.ListRuns(limit)
}

// CheckReport describes a script without running any command.
type CheckReport struct {
	Elements int

	// Config is nil when the script has no front matter.
	Config *dsl.Config

	// ConfigError is set when the front matter is malformed.
	ConfigError error

	// Commands lists the command names in order of appearance.
	Commands []string

	// Unknown lists commands no built-in, family, provider or custom
	// command script would handle.
	Unknown []string
}

// Check parses script and its front matter. Only a parse failure is an
// error.
func (r *Runtime) Check(ctx context.Context, script string) (*CheckReport, error) {
	elements, err := dsl.NewParser().Parse(script)
	if err != nil {
		return nil, err
	}

	report := &CheckReport{Elements: len(elements)}
	seen := make(map[string]bool)
	for _, e := range elements {
		switch el := e.(type) {
		case dsl.FrontMatter:
			report.Config, report.ConfigError = dsl.ParseConfig(el.Body)
		case dsl.Command:
			report.Commands = append(report.Commands, el.Name)
		}
	}
	for _, name := range report.Commands {
		if seen[name] {
			continue
		}
		seen[name] = true
		if report.Config != nil && report.Config.Functions[name] != "" {
			continue
		}
		if !r.resolves(ctx, name) {
			report.Unknown = append(report.Unknown, name)
		}
	}
	return report, nil
}

func (r *Runtime) resolves(ctx context.Context, name string) bool {
	for _, p := range r.registry.Providers() {
		if p.IsApplicable(ctx, name) {
			return true
		}
	}
	if _, ok := r.registry.Lookup(name); ok {
		return true
	}
	dir := r.cfg.Commands.Directory
	return dir != "" && r.ws.Exists(filepath.Join(dir, name+compiler.CustomCommandExt))
}
