package command

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSubcommand struct {
	name string
	err  error
	hit  bool
}

func (s *fakeSubcommand) Name() string        { return s.name }
func (s *fakeSubcommand) Description() string { return "runs " + s.name }

func (s *fakeSubcommand) ExecuteWithArguments(ctx context.Context, args, rawProp string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	if s.name == "panic" {
		panic("bad template")
	}
	s.hit = true
	return fmt.Sprintf("%s(%s)", s.name, args), nil
}

type fakeCatalogue struct {
	subs []*fakeSubcommand
}

func newFakeCatalogue(names ...string) *fakeCatalogue {
	c := &fakeCatalogue{}
	for _, n := range names {
		c.subs = append(c.subs, &fakeSubcommand{name: n})
	}
	return c
}

func (c *fakeCatalogue) All(ctx context.Context) []Subcommand {
	out := make([]Subcommand, len(c.subs))
	for i, s := range c.subs {
		out[i] = s
	}
	return out
}

func (c *fakeCatalogue) FromSubcommandName(ctx context.Context, name string) (Subcommand, bool) {
	for _, s := range c.subs {
		if s.name == name {
			return s, true
		}
	}
	return nil, false
}

func TestFamilyNormalize(t *testing.T) {
	f := &Family{Name: "speckit"}

	tests := []struct {
		name, prop string
		sub, args  string
	}{
		{"speckit.plan", "build it", "plan", "build it"},
		{".plan", "build it", "plan", "build it"},
		{"plan", " build it ", "plan", "build it"},
		{"speckit", "plan build it", "plan", "build it"},
		{"speckit", "", "", ""},
	}
	for _, tt := range tests {
		sub, args := f.Normalize(tt.name, tt.prop)
		assert.Equal(t, tt.sub, sub, "Normalize(%q, %q)", tt.name, tt.prop)
		assert.Equal(t, tt.args, args, "Normalize(%q, %q)", tt.name, tt.prop)
	}
}

func TestFamilyExecute(t *testing.T) {
	var refreshed atomic.Int32
	cat := newFakeCatalogue("c", "a", "b")
	f := &Family{Name: "skill", Catalogue: cat, Refresh: func() { refreshed.Add(1) }}

	for _, name := range []string{"skill.a", ".a", "a"} {
		assert.Equal(t, "a(x y)", f.Execute(context.Background(), name, "x y"))
	}
	assert.Equal(t, int32(3), refreshed.Load())
}

func TestFamilyUnknownSubcommandListsAvailable(t *testing.T) {
	f := &Family{Name: "skill", Catalogue: newFakeCatalogue("c", "a", "b")}

	out := f.Execute(context.Background(), "skill.unknown-sub", "")
	assert.True(t, IsError(out))
	assert.Contains(t, out, "unknown-sub")
	assert.Contains(t, out, "a, b, c")
}

func TestFamilyCustomNotFoundMessage(t *testing.T) {
	f := &Family{
		Name:      "speckit",
		Catalogue: newFakeCatalogue("plan", "specify"),
		ListLabel: "commands",
		NotFound: func(sub string) string {
			return "Prompt file not found: speckit." + sub + ".prompt.md"
		},
	}

	out := f.Execute(context.Background(), "speckit.nonexistent", "foo")
	assert.Equal(t,
		"<DevInsError> Prompt file not found: speckit.nonexistent.prompt.md\nAvailable commands: plan, specify",
		out)
}

func TestFamilyContainsFailures(t *testing.T) {
	var refreshed atomic.Int32
	cat := newFakeCatalogue("panic")
	cat.subs = append(cat.subs, &fakeSubcommand{name: "broken", err: errors.New("template missing")})
	f := &Family{Name: "skill", Catalogue: cat, Refresh: func() { refreshed.Add(1) }}

	out := f.Execute(context.Background(), "skill.broken", "")
	assert.Equal(t, "<DevInsError> skill.broken: template missing", out)

	out = f.Execute(context.Background(), "skill.panic", "")
	assert.True(t, IsError(out))
	assert.Contains(t, out, "bad template")
	assert.Zero(t, refreshed.Load())
}

func TestRegistryRoutesFamilyNames(t *testing.T) {
	r := NewRegistry()
	cat := newFakeCatalogue("plan")
	require.NoError(t, r.RegisterFamily(&Family{Name: "speckit", Catalogue: cat}))

	out := r.Dispatch(context.Background(), Invocation{Name: "speckit.plan", Prop: "now"})
	assert.True(t, out.Found)
	assert.False(t, out.Failed)
	assert.Equal(t, "plan(now)", out.Output)

	out = r.Dispatch(context.Background(), Invocation{Name: "speckit", Prop: "plan later"})
	assert.Equal(t, "plan(later)", out.Output)

	out = r.Dispatch(context.Background(), Invocation{Name: "speckit.missing"})
	assert.True(t, out.Failed)
}
