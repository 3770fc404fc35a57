package command

import (
	"context"
	"strings"
)

func revCommand(env *Env, inv Invocation) Command {
	return &builtinCommand{
		applicable: func() bool { return env.VCS != nil },
		run: func(ctx context.Context) (string, error) {
			out, err := env.VCS.Show(ctx, inv.Prop)
			if err != nil {
				return "", err
			}
			return "```diff\n" + strings.TrimSuffix(out, "\n") + "\n```", nil
		},
	}
}

func patchCommand(env *Env, inv Invocation) Command {
	return &builtinCommand{
		applicable: func() bool { return env.VCS != nil },
		run: func(ctx context.Context) (string, error) {
			if !inv.HasCode {
				return "", errNoCode
			}
			stat, err := env.VCS.Apply(ctx, inv.Code)
			if err != nil {
				return "", err
			}
			if env.FS != nil {
				env.FS.Refresh()
			}
			return "Patch applied\n" + strings.TrimSpace(stat), nil
		},
	}
}

// commitCommand takes its message from the code block, or from the prop
// when no block follows.
func commitCommand(env *Env, inv Invocation) Command {
	return &builtinCommand{
		applicable: func() bool { return env.VCS != nil },
		run: func(ctx context.Context) (string, error) {
			message := inv.Prop
			if inv.HasCode {
				message = inv.Code
			}
			if strings.TrimSpace(message) == "" {
				return "", errNoCode
			}
			out, err := env.VCS.Commit(ctx, message)
			if err != nil {
				return "", err
			}
			return strings.TrimSpace(out), nil
		},
	}
}
