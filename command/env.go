package command

import (
	"context"
	"log/slog"

	"github.com/everydev1618/devins/process"
)

// FileSystem is the file view built-in commands read and write through.
type FileSystem interface {
	ReadFile(path string) (string, error)
	WriteFile(path, content string) error
	Exists(path string) bool
	ListDir(path string, depth int) ([]string, error)
	// Refresh is non-blocking.
	Refresh()
}

// VCS performs version-control actions.
type VCS interface {
	Show(ctx context.Context, rev string) (string, error)
	Commit(ctx context.Context, message string) (string, error)
	Apply(ctx context.Context, patch string) (string, error)
}

// Processes manages background processes.
type Processes interface {
	Launch(ctx context.Context, cmd process.Command) (process.Info, error)
	List() []process.Info
	Output(id string) (string, error)
	Kill(id string) error
}

// Env holds the collaborators available to built-in commands.
// Nil collaborators make the commands that need them inapplicable.
type Env struct {
	FS        FileSystem
	Executor  process.Executor
	VCS       VCS
	Processes Processes
	Logger    *slog.Logger
}

func (e *Env) logger() *slog.Logger {
	if e == nil || e.Logger == nil {
		return slog.Default()
	}
	return e.Logger
}
