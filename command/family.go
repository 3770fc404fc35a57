package command

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
)

// Subcommand is one entry of a family catalogue.
type Subcommand interface {
	Name() string
	Description() string

	// ExecuteWithArguments runs the subcommand. args is the argument text
	// left after the subcommand token; rawProp is the prop as written.
	ExecuteWithArguments(ctx context.Context, args, rawProp string) (string, error)
}

// Catalogue enumerates the subcommands of a family.
type Catalogue interface {
	All(ctx context.Context) []Subcommand
	FromSubcommandName(ctx context.Context, name string) (Subcommand, bool)
}

// Family routes family.sub, .sub and sub names to a catalogue.
type Family struct {
	Name        string
	Description string
	Catalogue   Catalogue

	// NotFound renders the message for a missing subcommand. It defaults
	// to "<Name> not found: <sub>".
	NotFound func(sub string) string

	// ListLabel names the available list, e.g. "skills". Defaults to
	// "subcommands".
	ListLabel string

	// Refresh is called after every successful run. It must not block.
	Refresh func()

	Logger *slog.Logger
}

// Normalize splits a command occurrence into the subcommand token and the
// argument text. When the command is the bare family name the token is
// the first word of prop.
func (f *Family) Normalize(name, prop string) (sub, args string) {
	switch {
	case name == f.Name:
		prop = strings.TrimSpace(prop)
		sub, args, _ = strings.Cut(prop, " ")
		return sub, strings.TrimSpace(args)
	case strings.HasPrefix(name, f.Name+"."):
		sub = strings.TrimPrefix(name, f.Name+".")
	case strings.HasPrefix(name, "."):
		sub = name[1:]
	default:
		sub = name
	}
	return sub, strings.TrimSpace(prop)
}

// Names returns the sorted names of every available subcommand.
func (f *Family) Names(ctx context.Context) []string {
	all := f.Catalogue.All(ctx)
	names := make([]string, 0, len(all))
	for _, s := range all {
		names = append(names, s.Name())
	}
	sort.Strings(names)
	return names
}

// Execute resolves and runs a subcommand. Every failure is returned as an
// error-marker string.
func (f *Family) Execute(ctx context.Context, name, prop string) string {
	sub, args := f.Normalize(name, prop)
	if sub == "" {
		return ErrorString("%s: a subcommand is required\n%s", f.Name, f.available(ctx))
	}

	s, ok := f.Catalogue.FromSubcommandName(ctx, sub)
	if !ok {
		f.logger().Warn("subcommand not found", "family", f.Name, "subcommand", sub)
		return ErrorString("%s\n%s", f.notFound(sub), f.available(ctx))
	}

	out, err := f.run(ctx, s, args, prop)
	if err != nil {
		f.logger().Error("subcommand failed", "family", f.Name, "subcommand", sub, "error", err)
		return ErrorString("%s.%s: %v", f.Name, sub, err)
	}

	if f.Refresh != nil {
		f.Refresh()
	}
	return out
}

func (f *Family) run(ctx context.Context, s Subcommand, args, prop string) (out string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return s.ExecuteWithArguments(ctx, args, prop)
}

func (f *Family) notFound(sub string) string {
	if f.NotFound != nil {
		return f.NotFound(sub)
	}
	return fmt.Sprintf("%s not found: %s", f.Name, sub)
}

func (f *Family) available(ctx context.Context) string {
	label := f.ListLabel
	if label == "" {
		label = "subcommands"
	}
	names := f.Names(ctx)
	if len(names) == 0 {
		return fmt.Sprintf("Available %s: (none)", label)
	}
	return fmt.Sprintf("Available %s: %s", label, strings.Join(names, ", "))
}

func (f *Family) logger() *slog.Logger {
	if f.Logger == nil {
		return slog.Default()
	}
	return f.Logger
}

// Describe returns a descriptor for each subcommand, named family.sub.
func (f *Family) Describe(ctx context.Context) []Descriptor {
	all := f.Catalogue.All(ctx)
	out := make([]Descriptor, 0, len(all))
	for _, s := range all {
		out = append(out, Descriptor{
			Name:          f.Name + "." + s.Name(),
			Description:   s.Description(),
			HasCompletion: false,
			Local:         true,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
