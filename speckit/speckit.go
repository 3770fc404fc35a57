// Package speckit exposes the prompt templates under .github/prompts as
// the speckit command family. A file speckit.plan.prompt.md is invoked as
// /speckit.plan <arguments>.
package speckit

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/everydev1618/devins/command"
	"github.com/everydev1618/devins/dsl"
)

const (
	// FamilyName is the command family prompts are invoked through.
	FamilyName = "speckit"

	// DefaultDirectory is where prompt templates live, relative to the
	// workspace root.
	DefaultDirectory = ".github/prompts"

	// ArgumentsPlaceholder is replaced with the invocation arguments.
	ArgumentsPlaceholder = "$ARGUMENTS"

	filePrefix = FamilyName + "."
	fileSuffix = ".prompt.md"
)

// FileSystem is the read-only file view templates are loaded through.
type FileSystem interface {
	ReadFile(path string) (string, error)
	Exists(path string) bool
	ListDir(path string, depth int) ([]string, error)
}

// Prompt is one template.
type Prompt struct {
	Name        string `yaml:"-"`
	Description string `yaml:"description"`
	Template    string `yaml:"-"`
	Path        string `yaml:"-"`
}

// FileName returns the file a subcommand is read from.
func FileName(sub string) string {
	return filePrefix + sub + fileSuffix
}

// Render substitutes args into the template. Templates without the
// placeholder get non-empty args appended.
func (p *Prompt) Render(args string) string {
	if strings.Contains(p.Template, ArgumentsPlaceholder) {
		return strings.ReplaceAll(p.Template, ArgumentsPlaceholder, args)
	}
	if args == "" {
		return p.Template
	}
	return p.Template + "\n\n" + args
}

// Catalogue lists prompt templates from a directory of the file system.
// Listings are cached until Invalidate.
type Catalogue struct {
	fs  FileSystem
	dir string

	mu      sync.Mutex
	prompts []*Prompt
}

// Option configures a Catalogue.
type Option func(*Catalogue)

// WithDirectory overrides DefaultDirectory.
func WithDirectory(dir string) Option {
	return func(c *Catalogue) {
		if dir != "" {
			c.dir = dir
		}
	}
}

// NewCatalogue creates a catalogue over fs.
func NewCatalogue(fs FileSystem, opts ...Option) *Catalogue {
	c := &Catalogue{fs: fs, dir: DefaultDirectory}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Directory returns the template directory.
func (c *Catalogue) Directory() string {
	return c.dir
}

// Invalidate drops the cached listing.
func (c *Catalogue) Invalidate() {
	c.mu.Lock()
	c.prompts = nil
	c.mu.Unlock()
}

// Prompts returns every template, sorted by name.
func (c *Catalogue) Prompts() []*Prompt {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.prompts != nil {
		return c.prompts
	}

	c.prompts = []*Prompt{}
	if !c.fs.Exists(c.dir) {
		return c.prompts
	}
	entries, err := c.fs.ListDir(c.dir, 1)
	if err != nil {
		slog.Warn("speckit: list prompts failed", "dir", c.dir, "error", err)
		return c.prompts
	}

	for _, entry := range entries {
		base := path.Base(entry)
		if !strings.HasPrefix(base, filePrefix) || !strings.HasSuffix(base, fileSuffix) {
			continue
		}
		sub := strings.TrimSuffix(strings.TrimPrefix(base, filePrefix), fileSuffix)
		if sub == "" {
			continue
		}
		p, err := c.load(sub)
		if err != nil {
			slog.Warn("speckit: skipping prompt", "file", base, "error", err)
			continue
		}
		c.prompts = append(c.prompts, p)
	}
	sort.Slice(c.prompts, func(i, j int) bool { return c.prompts[i].Name < c.prompts[j].Name })
	return c.prompts
}

// Get loads a single template.
func (c *Catalogue) Get(sub string) (*Prompt, error) {
	if !c.fs.Exists(path.Join(c.dir, FileName(sub))) {
		return nil, fmt.Errorf("%w: %s", command.ErrSubcommandNotFound, sub)
	}
	return c.load(sub)
}

func (c *Catalogue) load(sub string) (*Prompt, error) {
	file := path.Join(c.dir, FileName(sub))
	data, err := c.fs.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", file, err)
	}

	p := &Prompt{Name: sub, Path: file}
	front, body, ok := dsl.SplitFrontMatter(data)
	if ok && front != "" {
		if err := yaml.Unmarshal([]byte(front), p); err != nil {
			return nil, fmt.Errorf("parse frontmatter of %s: %w", file, err)
		}
	}
	p.Template = strings.TrimSpace(body)
	return p, nil
}

// All implements command.Catalogue.
func (c *Catalogue) All(ctx context.Context) []command.Subcommand {
	prompts := c.Prompts()
	out := make([]command.Subcommand, len(prompts))
	for i, p := range prompts {
		out[i] = subcommand{catalogue: c, name: p.Name, description: p.Description}
	}
	return out
}

// FromSubcommandName implements command.Catalogue. Templates are looked
// up on disk directly so files added since the last listing resolve.
func (c *Catalogue) FromSubcommandName(ctx context.Context, name string) (command.Subcommand, bool) {
	if name == "" || strings.ContainsAny(name, `/\`) {
		return nil, false
	}
	p, err := c.Get(name)
	if err != nil {
		return nil, false
	}
	return subcommand{catalogue: c, name: p.Name, description: p.Description}, true
}

type subcommand struct {
	catalogue   *Catalogue
	name        string
	description string
}

func (s subcommand) Name() string        { return s.name }
func (s subcommand) Description() string { return s.description }

func (s subcommand) ExecuteWithArguments(ctx context.Context, args, rawProp string) (string, error) {
	p, err := s.catalogue.Get(s.name)
	if err != nil {
		return "", err
	}
	return p.Render(args), nil
}

// NewFamily exposes the catalogue as the speckit command family. refresh
// runs after every successful invocation.
func NewFamily(c *Catalogue, refresh func()) *command.Family {
	return &command.Family{
		Name:        FamilyName,
		Description: "Run a spec workflow prompt: /speckit.<step> [arguments]",
		Catalogue:   c,
		ListLabel:   "commands",
		NotFound: func(sub string) string {
			return "Prompt file not found: " + FileName(sub)
		},
		Refresh: refresh,
	}
}
