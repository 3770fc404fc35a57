package compiler

import (
	"time"

	"github.com/everydev1618/devins/dsl"
	"github.com/everydev1618/devins/variable"
)

// AgentConfig names the agent a script hands off to.
type AgentConfig struct {
	Name string
}

// Statistics counts what a compilation processed. It is written only
// while compiling.
type Statistics struct {
	StartTime      time.Time
	EndTime        time.Time
	NodeCount      int
	VariableCount  int
	CommandCount   int
	AgentCount     int
	CodeBlockCount int
}

// Duration returns the compilation wall time.
func (s Statistics) Duration() time.Duration {
	if s.EndTime.IsZero() {
		return 0
	}
	return s.EndTime.Sub(s.StartTime)
}

// Result is the outcome of compiling one script.
type Result struct {
	Input  string
	Output string

	// SourcePath is the file the script was loaded from, if any.
	SourcePath string

	IsLocalCommand bool

	// HasError and ErrorMessage are advisory; output keeps accumulating
	// after a failure.
	HasError     bool
	ErrorMessage string

	ExecuteAgent *AgentConfig

	// NextJob is a script to compile after this one, in a fresh context.
	// It holds only Input and SourcePath until compiled.
	NextJob *Result

	// Config is nil when the script has no front matter or it is malformed.
	Config *dsl.Config

	Variables  *variable.Table
	Statistics Statistics

	// Skipped is set when front matter disabled the body.
	Skipped bool
}
