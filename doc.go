// Package devins assembles the DevIns script runtime.
//
// A DevIns script mixes prose, fenced code, $variable references, /commands
// and an optional YAML front matter block. Compiling a script walks its
// elements in order, substitutes variables, dispatches commands through a
// pluggable registry and renders everything into one text result. Command
// failures never abort a compilation: they are rendered inline with the
// <DevInsError> marker and flag the result.
//
// # Quick Start
//
//	cfg, err := devins.LoadConfig(devins.DefaultConfigPath())
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	rt, err := devins.New(ctx, cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer rt.Close()
//
//	res, err := rt.Run(ctx, "Review /file:main.go#L1-L20", nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(res.Output)
//
// # Commands
//
// The runtime registers the built-in catalogue (file, dir, write, patch,
// shell, commit, rev and the background process commands), the skill and
// speckit families, and one command per tool of every configured MCP server:
//
//	/skill.review main.go
//	/speckit.plan add a login page
//	/github__create_issue
//	```json
//	{"title": "flaky test"}
//	```
//
// Unknown commands fall back to <name>.devin scripts in the commands
// directory, compiled inline.
//
// # Job Chains
//
// A line of the form
//
//	[flow]:next.devin
//
// queues another script. Run compiles the chain link by link, each in a
// fresh context that keeps only user-defined variables, and concatenates
// the outputs. Chains are bounded by compiler.max_recursion_depth.
//
// # History and Schedules
//
// Every compiled link is recorded in a SQLite database under the home
// directory (~/.devins, or $DEVINS_HOME). Serve runs the configured cron
// schedules until its context is cancelled.
package devins
