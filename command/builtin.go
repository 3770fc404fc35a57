package command

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

var errNoCode = errors.New("no code block follows the command")

// Builtins returns the built-in command catalogue.
func Builtins() []Builtin {
	return []Builtin{
		{
			Descriptor: Descriptor{Name: "file", Description: "Read a file, optionally a line range: /file:path#L1-L10", HasCompletion: true, RequiresProps: true, Local: true},
			New:        fileCommand,
		},
		{
			Descriptor: Descriptor{Name: "dir", Description: "List a directory tree: /dir:path", HasCompletion: true, Local: true},
			New:        dirCommand,
		},
		{
			Descriptor: Descriptor{Name: "write", Description: "Write the following code block to a file or line range: /write:path#L1-L2", HasCompletion: true, RequiresProps: true, ConsumesCode: true, Local: true},
			New:        writeCommand,
		},
		{
			Descriptor: Descriptor{Name: "rev", Description: "Show the diff of a revision: /rev:HEAD~1", HasCompletion: true, RequiresProps: true},
			New:        revCommand,
		},
		{
			Descriptor: Descriptor{Name: "patch", Description: "Apply the following unified diff", ConsumesCode: true, Local: true},
			New:        patchCommand,
		},
		{
			Descriptor: Descriptor{Name: "commit", Description: "Commit all changes with the following code block as message", ConsumesCode: true, Local: true},
			New:        commitCommand,
		},
		{
			Descriptor: Descriptor{Name: "shell", Description: "Run a script file or the following code block", HasCompletion: true, ConsumesCode: true, Local: true},
			New:        shellCommand,
		},
		{
			Descriptor: Descriptor{Name: "launch-process", Description: "Start a background process", ConsumesCode: true, Local: true},
			New:        launchProcessCommand,
		},
		{
			Descriptor: Descriptor{Name: "list-processes", Description: "List background processes", Local: true},
			New:        listProcessesCommand,
		},
		{
			Descriptor: Descriptor{Name: "read-process-output", Description: "Read the output of a background process: /read-process-output:id", RequiresProps: true, Local: true},
			New:        readProcessOutputCommand,
		},
		{
			Descriptor: Descriptor{Name: "kill-process", Description: "Kill a background process: /kill-process:id", RequiresProps: true, Local: true},
			New:        killProcessCommand,
		},
	}
}

// RegisterBuiltins adds the built-in catalogue to r.
func RegisterBuiltins(r *Registry) error {
	for _, b := range Builtins() {
		if err := r.Register(b); err != nil {
			return err
		}
	}
	return nil
}

// builtinCommand is a Command backed by closures.
type builtinCommand struct {
	applicable func() bool
	run        func(ctx context.Context) (string, error)

	// usesCode, when set, reports whether run reads the code block.
	usesCode func() bool
}

func (c *builtinCommand) IsApplicable(context.Context) bool {
	return c.applicable == nil || c.applicable()
}

func (c *builtinCommand) Execute(ctx context.Context) (string, error) {
	return c.run(ctx)
}

func (c *builtinCommand) UsesCode() bool {
	return c.usesCode == nil || c.usesCode()
}

// LineRange is an inclusive, 1-based line range parsed from a #L suffix.
type LineRange struct {
	Start int
	End   int
}

// ParseLineRange splits "path#L3-L7" into the path and its range. A path
// without a #L suffix returns a nil range.
func ParseLineRange(prop string) (string, *LineRange, error) {
	path, frag, ok := strings.Cut(prop, "#L")
	if !ok {
		return prop, nil, nil
	}

	startStr, endStr, hasEnd := strings.Cut(frag, "-")
	start, err := strconv.Atoi(startStr)
	if err != nil || start < 1 {
		return "", nil, fmt.Errorf("invalid line range %q", "#L"+frag)
	}
	end := start
	if hasEnd {
		end, err = strconv.Atoi(strings.TrimPrefix(endStr, "L"))
		if err != nil || end < start {
			return "", nil, fmt.Errorf("invalid line range %q", "#L"+frag)
		}
	}
	return path, &LineRange{Start: start, End: end}, nil
}

// Slice returns the lines of content inside the range.
func (r *LineRange) Slice(content string) string {
	lines := strings.Split(content, "\n")
	start, end := r.bounds(len(lines))
	return strings.Join(lines[start:end], "\n")
}

// Replace substitutes the lines inside the range with replacement.
func (r *LineRange) Replace(content, replacement string) string {
	lines := strings.Split(content, "\n")
	start, end := r.bounds(len(lines))

	out := make([]string, 0, len(lines))
	out = append(out, lines[:start]...)
	out = append(out, strings.Split(strings.TrimSuffix(replacement, "\n"), "\n")...)
	out = append(out, lines[end:]...)
	return strings.Join(out, "\n")
}

func (r *LineRange) bounds(n int) (int, int) {
	start := min(r.Start-1, n)
	end := min(r.End, n)
	return start, end
}

func languageOf(path string) string {
	ext := strings.TrimPrefix(filepath.Ext(path), ".")
	switch ext {
	case "yml":
		return "yaml"
	case "md":
		return "markdown"
	case "sh", "bash":
		return "shell"
	}
	return ext
}

func fileCommand(env *Env, inv Invocation) Command {
	return &builtinCommand{
		applicable: func() bool { return env.FS != nil },
		run: func(ctx context.Context) (string, error) {
			path, rng, err := ParseLineRange(inv.Prop)
			if err != nil {
				return "", err
			}
			content, err := env.FS.ReadFile(path)
			if err != nil {
				return "", err
			}
			if rng != nil {
				content = rng.Slice(content)
			}
			return fmt.Sprintf("```%s\n%s\n```", languageOf(path), strings.TrimSuffix(content, "\n")), nil
		},
	}
}

func dirCommand(env *Env, inv Invocation) Command {
	return &builtinCommand{
		applicable: func() bool { return env.FS != nil },
		run: func(ctx context.Context) (string, error) {
			dir := inv.Prop
			if dir == "" {
				dir = "."
			}
			entries, err := env.FS.ListDir(dir, 2)
			if err != nil {
				return "", err
			}

			var sb strings.Builder
			sb.WriteString(strings.TrimSuffix(dir, "/") + "/\n")
			for _, e := range entries {
				depth := strings.Count(strings.TrimSuffix(e, "/"), "/")
				sb.WriteString(strings.Repeat("  ", depth+1))
				sb.WriteString(filepath.Base(e))
				if strings.HasSuffix(e, "/") {
					sb.WriteString("/")
				}
				sb.WriteString("\n")
			}
			return strings.TrimSuffix(sb.String(), "\n"), nil
		},
	}
}

func writeCommand(env *Env, inv Invocation) Command {
	return &builtinCommand{
		applicable: func() bool { return env.FS != nil },
		run: func(ctx context.Context) (string, error) {
			if !inv.HasCode {
				return "", errNoCode
			}
			path, rng, err := ParseLineRange(inv.Prop)
			if err != nil {
				return "", err
			}

			content := inv.Code
			if rng != nil {
				existing, err := env.FS.ReadFile(path)
				if err != nil {
					return "", err
				}
				content = rng.Replace(existing, inv.Code)
			}

			if err := env.FS.WriteFile(path, content); err != nil {
				return "", err
			}
			env.FS.Refresh()
			return "Writing to file: " + inv.Prop, nil
		},
	}
}
