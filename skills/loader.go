package skills

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/everydev1618/devins/command"
)

// FamilyName is the command family skills are invoked through.
const FamilyName = "skill"

// Loader manages skill loading and discovery.
type Loader struct {
	directories []string
	skills      map[string]*Skill
	include     []string
	exclude     []string
	mu          sync.RWMutex
}

// NewLoader creates a new skill loader for the given directories.
func NewLoader(dirs ...string) *Loader {
	expanded := make([]string, 0, len(dirs))
	for _, dir := range dirs {
		if strings.HasPrefix(dir, "~/") {
			if home, err := os.UserHomeDir(); err == nil {
				dir = filepath.Join(home, dir[2:])
			}
		}
		expanded = append(expanded, dir)
	}

	return &Loader{
		directories: expanded,
		skills:      make(map[string]*Skill),
	}
}

// WithConfig creates a loader from configuration.
func WithConfig(config LoaderConfig) *Loader {
	l := NewLoader(config.Directories...)
	l.include = config.Include
	l.exclude = config.Exclude
	return l
}

// Directories returns the scanned directories.
func (l *Loader) Directories() []string {
	return l.directories
}

// Load scans directories and loads skill metadata. Unreadable directories
// and files are logged and skipped. The catalogue is replaced in one step,
// so lookups during a scan see the previous set.
func (l *Loader) Load(ctx context.Context) error {
	found := make(map[string]*Skill)
	for _, dir := range l.directories {
		if err := l.scanDirectory(ctx, dir, found); err != nil {
			if ctx.Err() != nil {
				return err
			}
			slog.Warn("skill directory scan failed", "dir", dir, "error", err)
		}
	}

	l.mu.Lock()
	l.skills = found
	l.mu.Unlock()
	return nil
}

// scanDirectory loads <dir>/<name>/SKILL.md folders and *.skill.md files.
func (l *Loader) scanDirectory(ctx context.Context, dir string, found map[string]*Skill) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read directory: %w", err)
	}

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}

		var path string
		lower := strings.ToLower(entry.Name())
		switch {
		case entry.IsDir():
			path = filepath.Join(dir, entry.Name(), "SKILL.md")
			if _, err := os.Stat(path); err != nil {
				continue
			}
		case lower == "skill.md" || strings.HasSuffix(lower, ".skill.md"):
			path = filepath.Join(dir, entry.Name())
		default:
			continue
		}

		if err := l.loadSkillFile(path, found); err != nil {
			slog.Warn("skill load failed", "path", path, "error", err)
		}
	}
	return nil
}

func (l *Loader) loadSkillFile(path string, found map[string]*Skill) error {
	skill, err := ParseMetadataOnly(path)
	if err != nil {
		return err
	}
	if !l.shouldInclude(skill.Name) {
		return nil
	}
	if _, exists := found[skill.Name]; exists {
		// Earlier directories take precedence.
		return nil
	}
	found[skill.Name] = skill
	return nil
}

func (l *Loader) shouldInclude(name string) bool {
	for _, pattern := range l.exclude {
		if matchPattern(name, pattern) {
			return false
		}
	}
	if len(l.include) == 0 {
		return true
	}
	for _, pattern := range l.include {
		if matchPattern(name, pattern) {
			return true
		}
	}
	return false
}

// matchPattern supports a leading or trailing * wildcard.
func matchPattern(name, pattern string) bool {
	switch {
	case pattern == "*":
		return true
	case strings.HasSuffix(pattern, "*"):
		return strings.HasPrefix(name, strings.TrimSuffix(pattern, "*"))
	case strings.HasPrefix(pattern, "*"):
		return strings.HasSuffix(name, strings.TrimPrefix(pattern, "*"))
	default:
		return name == pattern
	}
}

// Get retrieves a skill by name, loading full instructions if needed.
func (l *Loader) Get(name string) (*Skill, error) {
	l.mu.RLock()
	skill, ok := l.skills[name]
	l.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", command.ErrSubcommandNotFound, name)
	}
	if err := skill.LoadInstructions(); err != nil {
		return nil, fmt.Errorf("load instructions: %w", err)
	}
	return skill, nil
}

// List returns all loaded skills sorted by name.
func (l *Loader) List() []*Skill {
	l.mu.RLock()
	defer l.mu.RUnlock()

	skills := make([]*Skill, 0, len(l.skills))
	for _, skill := range l.skills {
		skills = append(skills, skill)
	}
	sort.Slice(skills, func(i, j int) bool { return skills[i].Name < skills[j].Name })
	return skills
}

// Count returns the number of loaded skills.
func (l *Loader) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.skills)
}

// Reload rescans all directories. Skills that disappeared are dropped.
func (l *Loader) Reload(ctx context.Context) error {
	return l.Load(ctx)
}

// All implements command.Catalogue.
func (l *Loader) All(ctx context.Context) []command.Subcommand {
	list := l.List()
	out := make([]command.Subcommand, len(list))
	for i, s := range list {
		out[i] = subcommand{loader: l, skill: s}
	}
	return out
}

// FromSubcommandName implements command.Catalogue.
func (l *Loader) FromSubcommandName(ctx context.Context, name string) (command.Subcommand, bool) {
	l.mu.RLock()
	s, ok := l.skills[name]
	l.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return subcommand{loader: l, skill: s}, true
}

type subcommand struct {
	loader *Loader
	skill  *Skill
}

func (s subcommand) Name() string        { return s.skill.Name }
func (s subcommand) Description() string { return s.skill.Description }

func (s subcommand) ExecuteWithArguments(ctx context.Context, args, rawProp string) (string, error) {
	skill, err := s.loader.Get(s.skill.Name)
	if err != nil {
		return "", err
	}
	return skill.Render(args), nil
}

// NewFamily exposes the loader as the skill command family. refresh runs
// after every successful invocation.
func NewFamily(l *Loader, refresh func()) *command.Family {
	return &command.Family{
		Name:        FamilyName,
		Description: "Run a skill: /skill.<name> [arguments]",
		Catalogue:   l,
		ListLabel:   "skills",
		NotFound: func(sub string) string {
			return "Skill not found: " + sub
		},
		Refresh: refresh,
	}
}
