package skills

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/everydev1618/devins/dsl"
)

// ParseFile parses a SKILL.md file.
// The file format is:
//
//	---
//	name: skill-name
//	description: Brief description
//	argument-hint: <file>
//	---
//	# Skill Title
//	Instructions markdown, may reference $ARGUMENTS.
func ParseFile(path string) (*Skill, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	return Parse(data, path)
}

// Parse parses skill content from bytes.
func Parse(data []byte, path string) (*Skill, error) {
	front, body, _ := dsl.SplitFrontMatter(string(data))

	skill := &Skill{path: path}
	if front != "" {
		if err := yaml.Unmarshal([]byte(front), skill); err != nil {
			return nil, fmt.Errorf("parse frontmatter: %w", err)
		}
	}

	skill.Instructions = strings.TrimSpace(body)
	skill.loaded = true

	if skill.Name == "" {
		skill.Name = deriveNameFromPath(path)
	}
	return skill, nil
}

// ParseMetadataOnly reads the front matter without keeping instructions.
func ParseMetadataOnly(path string) (*Skill, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)

	var front strings.Builder
	inFront := false
	for line := 1; scanner.Scan(); line++ {
		text := strings.TrimRight(scanner.Text(), "\r")
		if line == 1 && text == "---" {
			inFront = true
			continue
		}
		if !inFront || text == "---" {
			break
		}
		front.WriteString(text)
		front.WriteByte('\n')
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan file: %w", err)
	}

	skill := &Skill{path: path}
	if front.Len() > 0 {
		if err := yaml.Unmarshal([]byte(front.String()), skill); err != nil {
			return nil, fmt.Errorf("parse frontmatter: %w", err)
		}
	}
	if skill.Name == "" {
		skill.Name = deriveNameFromPath(path)
	}
	return skill, nil
}

// deriveNameFromPath names a skill after its folder for SKILL.md files,
// and after the file otherwise (review.skill.md -> review).
func deriveNameFromPath(path string) string {
	base := filepath.Base(path)
	if strings.EqualFold(base, "SKILL.md") {
		return strings.ToLower(filepath.Base(filepath.Dir(path)))
	}

	name := base
	if strings.HasSuffix(strings.ToLower(name), ".md") {
		name = name[:len(name)-3]
	}
	if strings.HasSuffix(strings.ToLower(name), ".skill") {
		name = name[:len(name)-6]
	}
	return strings.ToLower(name)
}

// LoadInstructions loads the full instructions for a skill. It is safe
// for concurrent use.
func (s *Skill) LoadInstructions() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.loaded {
		return nil
	}
	if s.path == "" {
		return fmt.Errorf("skill %s has no path", s.Name)
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}

	_, body, _ := dsl.SplitFrontMatter(string(data))
	s.Instructions = strings.TrimSpace(body)
	s.loaded = true
	return nil
}

// Render returns the instructions with $ARGUMENTS replaced by args. When
// the instructions have no placeholder, non-empty args are appended.
func (s *Skill) Render(args string) string {
	if strings.Contains(s.Instructions, ArgumentsPlaceholder) {
		return strings.ReplaceAll(s.Instructions, ArgumentsPlaceholder, args)
	}
	if args == "" {
		return s.Instructions
	}
	return s.Instructions + "\n\n" + args
}
