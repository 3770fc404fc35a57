package skills

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/everydev1618/devins/command"
)

func writeSkill(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write skill file: %v", err)
	}
}

func TestParseSkillFile(t *testing.T) {
	content := `---
name: test-skill
description: A test skill
tags: [test, example]
argument-hint: <path>
---
# Test Skill

Review $ARGUMENTS carefully.
`
	skillPath := filepath.Join(t.TempDir(), "test.skill.md")
	writeSkill(t, skillPath, content)

	skill, err := ParseFile(skillPath)
	if err != nil {
		t.Fatalf("ParseFile failed: %v", err)
	}

	if skill.Name != "test-skill" {
		t.Errorf("Expected name 'test-skill', got '%s'", skill.Name)
	}
	if skill.Description != "A test skill" {
		t.Errorf("Expected description 'A test skill', got '%s'", skill.Description)
	}
	if len(skill.Tags) != 2 {
		t.Errorf("Expected 2 tags, got %d", len(skill.Tags))
	}
	if skill.ArgumentHint != "<path>" {
		t.Errorf("Expected argument hint '<path>', got '%s'", skill.ArgumentHint)
	}
	if !skill.loaded {
		t.Error("Skill should be marked as loaded")
	}
	if !strings.HasPrefix(skill.Instructions, "# Test Skill") {
		t.Errorf("Instructions = %q", skill.Instructions)
	}
}

func TestParseMetadataOnly(t *testing.T) {
	content := `---
name: metadata-only
description: Only metadata is loaded
---
# Full Instructions

This is a lot of text that should not be loaded...
`
	skillPath := filepath.Join(t.TempDir(), "meta.skill.md")
	writeSkill(t, skillPath, content)

	skill, err := ParseMetadataOnly(skillPath)
	if err != nil {
		t.Fatalf("ParseMetadataOnly failed: %v", err)
	}
	if skill.Name != "metadata-only" {
		t.Errorf("Expected name 'metadata-only', got '%s'", skill.Name)
	}
	if skill.loaded || skill.Instructions != "" {
		t.Error("Instructions should not be loaded for metadata-only parse")
	}

	if err := skill.LoadInstructions(); err != nil {
		t.Fatalf("LoadInstructions failed: %v", err)
	}
	if !strings.Contains(skill.Instructions, "a lot of text") {
		t.Errorf("Instructions after load = %q", skill.Instructions)
	}
}

func TestRender(t *testing.T) {
	tests := []struct {
		instructions string
		args         string
		want         string
	}{
		{"Review $ARGUMENTS now.", "main.go", "Review main.go now."},
		{"Review $ARGUMENTS, then $ARGUMENTS.", "a", "Review a, then a."},
		{"Summarize the diff.", "", "Summarize the diff."},
		{"Summarize the diff.", "focus on tests", "Summarize the diff.\n\nfocus on tests"},
	}
	for _, tt := range tests {
		s := &Skill{Instructions: tt.instructions}
		if got := s.Render(tt.args); got != tt.want {
			t.Errorf("Render(%q) = %q, want %q", tt.args, got, tt.want)
		}
	}
}

func TestLoader(t *testing.T) {
	dir := t.TempDir()
	writeSkill(t, filepath.Join(dir, "review", "SKILL.md"), "---\ndescription: Review code\n---\nReview $ARGUMENTS")
	writeSkill(t, filepath.Join(dir, "deploy.skill.md"), "---\nname: deploy\ndescription: Ship it\n---\nDeploy.")
	writeSkill(t, filepath.Join(dir, "notes.md"), "not a skill")
	writeSkill(t, filepath.Join(dir, "empty", "README.md"), "no SKILL.md here")

	loader := NewLoader(dir)
	if err := loader.Load(context.Background()); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if loader.Count() != 2 {
		t.Fatalf("Expected 2 skills, got %d", loader.Count())
	}

	list := loader.List()
	if list[0].Name != "deploy" || list[1].Name != "review" {
		t.Errorf("List() names = %s, %s", list[0].Name, list[1].Name)
	}

	review, err := loader.Get("review")
	if err != nil {
		t.Fatalf("Get review failed: %v", err)
	}
	if review.Description != "Review code" || review.Instructions != "Review $ARGUMENTS" {
		t.Errorf("review = %+v", review)
	}

	if _, err := loader.Get("missing"); err == nil {
		t.Error("expected error for missing skill")
	}
}

func TestLoaderEarlierDirectoryWins(t *testing.T) {
	first, second := t.TempDir(), t.TempDir()
	writeSkill(t, filepath.Join(first, "lint", "SKILL.md"), "---\ndescription: project lint\n---\nproject")
	writeSkill(t, filepath.Join(second, "lint", "SKILL.md"), "---\ndescription: user lint\n---\nuser")

	loader := NewLoader(first, second)
	if err := loader.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	s, err := loader.Get("lint")
	if err != nil {
		t.Fatal(err)
	}
	if s.Description != "project lint" {
		t.Errorf("Description = %q, want project lint", s.Description)
	}
}

func TestLoaderFilters(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"skill-a", "skill-b", "other-skill"} {
		writeSkill(t, filepath.Join(dir, name+".skill.md"), "---\nname: "+name+"\n---\n# "+name+"\n")
	}

	tests := []struct {
		name string
		cfg  LoaderConfig
		want int
	}{
		{"include prefix", LoaderConfig{Directories: []string{dir}, Include: []string{"skill-*"}}, 2},
		{"exclude suffix", LoaderConfig{Directories: []string{dir}, Exclude: []string{"*-skill"}}, 2},
		{"exclude wins", LoaderConfig{Directories: []string{dir}, Include: []string{"*"}, Exclude: []string{"skill-a"}}, 2},
		{"no filters", LoaderConfig{Directories: []string{dir}}, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loader := WithConfig(tt.cfg)
			if err := loader.Load(context.Background()); err != nil {
				t.Fatal(err)
			}
			if loader.Count() != tt.want {
				t.Errorf("Count() = %d, want %d", loader.Count(), tt.want)
			}
		})
	}
}

func TestReloadPicksUpNewSkills(t *testing.T) {
	dir := t.TempDir()
	loader := NewLoader(dir)
	ctx := context.Background()
	if err := loader.Load(ctx); err != nil {
		t.Fatal(err)
	}
	if loader.Count() != 0 {
		t.Fatalf("Count() = %d", loader.Count())
	}

	writeSkill(t, filepath.Join(dir, "new", "SKILL.md"), "New skill")
	if err := loader.Reload(ctx); err != nil {
		t.Fatal(err)
	}
	if loader.Count() != 1 {
		t.Errorf("Count() after reload = %d", loader.Count())
	}
}

func TestReloadKeepsSkillsVisible(t *testing.T) {
	dir := t.TempDir()
	writeSkill(t, filepath.Join(dir, "a", "SKILL.md"), "A")
	writeSkill(t, filepath.Join(dir, "b", "SKILL.md"), "B")

	loader := NewLoader(dir)
	ctx := context.Background()
	if err := loader.Load(ctx); err != nil {
		t.Fatal(err)
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-stop:
				return
			default:
			}
			if err := loader.Reload(ctx); err != nil {
				t.Error(err)
				return
			}
		}
	}()

	var missing, total int
	for i := 0; i < 2000; i++ {
		total++
		if _, ok := loader.FromSubcommandName(ctx, "b"); !ok {
			missing++
		}
	}
	close(stop)
	<-done

	if missing > 0 {
		t.Errorf("skill b missing in %d of %d lookups during reload", missing, total)
	}
}

func TestConcurrentGetLoadsInstructionsOnce(t *testing.T) {
	dir := t.TempDir()
	writeSkill(t, filepath.Join(dir, "a", "SKILL.md"), "---\ndescription: A\n---\nDo $ARGUMENTS")

	loader := NewLoader(dir)
	if err := loader.Load(context.Background()); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := loader.Get("a")
			if err != nil {
				errs <- err
				return
			}
			if got := s.Render("it"); got != "Do it" {
				errs <- fmt.Errorf("Render = %q", got)
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestSkillFamily(t *testing.T) {
	dir := t.TempDir()
	writeSkill(t, filepath.Join(dir, "review", "SKILL.md"), "Review $ARGUMENTS")
	writeSkill(t, filepath.Join(dir, "deploy", "SKILL.md"), "Deploy")
	writeSkill(t, filepath.Join(dir, "audit", "SKILL.md"), "Audit")

	loader := NewLoader(dir)
	if err := loader.Load(context.Background()); err != nil {
		t.Fatal(err)
	}

	var refreshed atomic.Int32
	r := command.NewRegistry()
	if err := r.RegisterFamily(NewFamily(loader, func() { refreshed.Add(1) })); err != nil {
		t.Fatal(err)
	}

	out := r.Dispatch(context.Background(), command.Invocation{Name: "skill.review", Prop: "main.go"})
	if out.Output != "Review main.go" {
		t.Errorf("Output = %q", out.Output)
	}
	if refreshed.Load() != 1 {
		t.Errorf("refresh count = %d", refreshed.Load())
	}

	out = r.Dispatch(context.Background(), command.Invocation{Name: "skill.unknown-sub"})
	want := "<DevInsError> Skill not found: unknown-sub\nAvailable skills: audit, deploy, review"
	if out.Output != want {
		t.Errorf("Output = %q, want %q", out.Output, want)
	}
}

func TestDeriveNameFromPath(t *testing.T) {
	tests := []struct {
		path     string
		expected string
	}{
		{"/path/to/review/SKILL.md", "review"},
		{"/path/to/Coding.skill.md", "coding"},
		{"/path/to/coding-assistant.md", "coding-assistant"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got := deriveNameFromPath(tt.path); got != tt.expected {
				t.Errorf("deriveNameFromPath(%s) = %s, want %s", tt.path, got, tt.expected)
			}
		})
	}
}
