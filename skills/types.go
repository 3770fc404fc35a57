// Package skills discovers skill folders and exposes them as the skill
// command family.
package skills

import "sync"

// ArgumentsPlaceholder is replaced with the invocation arguments when a
// skill is rendered.
const ArgumentsPlaceholder = "$ARGUMENTS"

// Skill is a skill definition read from a SKILL.md file.
type Skill struct {
	// Name is the unique identifier for the skill.
	Name string `yaml:"name"`

	// Description briefly describes what the skill does.
	Description string `yaml:"description"`

	Tags []string `yaml:"tags"`

	// ArgumentHint documents the arguments the skill expects.
	ArgumentHint string `yaml:"argument-hint"`

	// Instructions is the markdown body (lazy loaded).
	Instructions string `yaml:"-"`

	path   string
	mu     sync.Mutex
	loaded bool
}

// Path returns the file the skill was read from.
func (s *Skill) Path() string {
	return s.path
}

// LoaderConfig configures the skill loader.
type LoaderConfig struct {
	// Directories to scan for skills.
	Directories []string `yaml:"directories"`

	// Include filters skills by name pattern.
	Include []string `yaml:"include"`

	// Exclude filters out skills by name pattern.
	Exclude []string `yaml:"exclude"`

	// Watch reloads skills when the directories change.
	Watch bool `yaml:"watch"`
}
