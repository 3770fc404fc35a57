package command

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/everydev1618/devins/process"
)

// shellCommand runs a script file named by the prop, the following code
// block, or the prop itself as a command line, in that order.
func shellCommand(env *Env, inv Invocation) Command {
	return &builtinCommand{
		applicable: func() bool { return env.Executor != nil },
		usesCode:   func() bool { return !propIsFile(env, inv) },
		run: func(ctx context.Context) (string, error) {
			script, err := scriptFor(env, inv)
			if err != nil {
				return "", err
			}

			result, err := env.Executor.Run(ctx, process.Command{Line: script})
			if err != nil {
				return "", err
			}
			if env.FS != nil {
				env.FS.Refresh()
			}
			if !result.Success() {
				return "", fmt.Errorf("exit status %d\n%s", result.ExitCode, strings.TrimSpace(result.Output()))
			}
			return strings.TrimSuffix(result.Output(), "\n"), nil
		},
	}
}

func propIsFile(env *Env, inv Invocation) bool {
	return inv.Prop != "" && env.FS != nil && env.FS.Exists(inv.Prop)
}

// scriptFor picks the script of a shell-like command. An explicit file
// beats the code block so an unrelated block further down is left alone.
func scriptFor(env *Env, inv Invocation) (string, error) {
	switch {
	case propIsFile(env, inv):
		return env.FS.ReadFile(inv.Prop)
	case inv.HasCode:
		return inv.Code, nil
	case inv.Prop == "":
		return "", errors.New("no script given")
	default:
		return inv.Prop, nil
	}
}

func launchProcessCommand(env *Env, inv Invocation) Command {
	return &builtinCommand{
		applicable: func() bool { return env.Processes != nil },
		usesCode:   func() bool { return !propIsFile(env, inv) },
		run: func(ctx context.Context) (string, error) {
			script, err := scriptFor(env, inv)
			if err != nil {
				return "", err
			}
			info, err := env.Processes.Launch(ctx, process.Command{Line: script})
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("Launched process %s (pid %d): %s", info.ID, info.PID, info.Command), nil
		},
	}
}

func listProcessesCommand(env *Env, inv Invocation) Command {
	return &builtinCommand{
		applicable: func() bool { return env.Processes != nil },
		run: func(ctx context.Context) (string, error) {
			procs := env.Processes.List()
			if len(procs) == 0 {
				return "No processes", nil
			}

			var sb strings.Builder
			for _, p := range procs {
				fmt.Fprintf(&sb, "%s\t%s\t%s\t%s", p.ID, p.Status, p.StartedAt.Format(time.TimeOnly), p.Command)
				if p.Status != process.StatusRunning {
					fmt.Fprintf(&sb, "\texit=%d", p.ExitCode)
				}
				sb.WriteString("\n")
			}
			return strings.TrimSuffix(sb.String(), "\n"), nil
		},
	}
}

func readProcessOutputCommand(env *Env, inv Invocation) Command {
	return &builtinCommand{
		applicable: func() bool { return env.Processes != nil },
		run: func(ctx context.Context) (string, error) {
			return env.Processes.Output(strings.TrimSpace(inv.Prop))
		},
	}
}

func killProcessCommand(env *Env, inv Invocation) Command {
	return &builtinCommand{
		applicable: func() bool { return env.Processes != nil },
		run: func(ctx context.Context) (string, error) {
			id := strings.TrimSpace(inv.Prop)
			if err := env.Processes.Kill(id); err != nil {
				return "", err
			}
			return "Killed process " + id, nil
		},
	}
}
