package compiler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/everydev1618/devins/command"
	"github.com/everydev1618/devins/dsl"
	"github.com/everydev1618/devins/process"
	"github.com/everydev1618/devins/variable"
)

type memFS struct {
	mu    sync.Mutex
	files map[string]string
}

func newMemFS(files map[string]string) *memFS {
	if files == nil {
		files = map[string]string{}
	}
	return &memFS{files: files}
}

func (m *memFS) ReadFile(path string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	content, ok := m.files[path]
	if !ok {
		return "", fmt.Errorf("open %s: no such file", path)
	}
	return content, nil
}

func (m *memFS) WriteFile(path, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[path] = content
	return nil
}

func (m *memFS) Exists(path string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.files[path]
	return ok
}

func (m *memFS) ListDir(dir string, depth int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for name := range m.files {
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

func (m *memFS) Refresh() {}

func newTestCompiler(t *testing.T, fs *memFS) *Compiler {
	t.Helper()
	r := command.NewRegistry(command.WithEnv(&command.Env{FS: fs}))
	require.NoError(t, command.RegisterBuiltins(r))
	require.NoError(t, r.Register(command.Builtin{
		Descriptor: command.Descriptor{Name: "echo"},
		New: func(env *command.Env, inv command.Invocation) command.Command {
			return command.Func(func(ctx context.Context) (string, error) {
				return "<" + inv.Prop + ">", nil
			})
		},
	}))
	require.NoError(t, r.Register(command.Builtin{
		Descriptor: command.Descriptor{Name: "boom"},
		New: func(env *command.Env, inv command.Invocation) command.Command {
			return command.Func(func(ctx context.Context) (string, error) {
				panic("kaboom")
			})
		},
	}))
	return New(r, WithFileSystem(fs), WithCommandsDir("cmds"))
}

func compile(t *testing.T, c *Compiler, script string, opts ...ContextOption) *Result {
	t.Helper()
	res, err := c.Compile(context.Background(), script, NewContext(opts...))
	require.NoError(t, err)
	return res
}

func TestCompileVariables(t *testing.T) {
	c := newTestCompiler(t, newMemFS(nil))

	cc := NewContext()
	cc.Variables.AddVariable("name", variable.TypeString, "World", variable.ScopeBuiltin)
	res, err := c.Compile(context.Background(), "Hello $name!", cc)
	require.NoError(t, err)
	assert.Equal(t, "Hello World!", res.Output)
	assert.False(t, res.HasError)

	res = compile(t, c, "$missing")
	assert.Equal(t, "$missing", res.Output)
	assert.False(t, res.HasError)

	res = compile(t, c, "${missing} here", WithOptions(Options{Strict: true}))
	assert.Equal(t, "${missing} here", res.Output)
	assert.True(t, res.HasError)
}

func TestCompileContextValues(t *testing.T) {
	c := newTestCompiler(t, newMemFS(nil))

	res := compile(t, c, "$fileName in $language", WithOptions(Options{
		ContextValues: map[string]any{"filePath": "src/app/main.go", "language": "Go"},
	}))
	assert.Equal(t, "main.go in Go", res.Output)
}

func TestCompileCommandOutputAndIsolation(t *testing.T) {
	c := newTestCompiler(t, newMemFS(nil))

	res := compile(t, c, "a /echo:1 b /boom c /echo:2")
	assert.Equal(t, "a <1> b <DevInsError> boom: kaboom c <2>", res.Output)
	assert.True(t, res.HasError)
	assert.Equal(t, 3, res.Statistics.CommandCount)
}

func TestCompileUnknownCommand(t *testing.T) {
	c := newTestCompiler(t, newMemFS(nil))

	res := compile(t, c, "/nope:x then")
	assert.Equal(t, "/nope:x then", res.Output)
	assert.True(t, res.HasError)
	assert.Contains(t, res.ErrorMessage, "nope")
}

func TestCompileMissingProp(t *testing.T) {
	c := newTestCompiler(t, newMemFS(nil))

	res := compile(t, c, "read /file now")
	assert.Equal(t, "read /file now", res.Output)
	assert.True(t, res.HasError)
}

func TestCompileConsumesCodeBlock(t *testing.T) {
	fs := newMemFS(nil)
	c := newTestCompiler(t, fs)

	res := compile(t, c, "/write:out.txt\n```\nhello\n```\ndone")
	assert.Equal(t, "Writing to file: out.txt\n\ndone", res.Output)
	assert.Equal(t, "hello", fs.files["out.txt"])
	assert.True(t, res.IsLocalCommand)
	assert.Equal(t, 1, res.Statistics.CodeBlockCount)

	res = compile(t, c, "/write:out.txt#Lx\n```\nz\n```")
	assert.True(t, res.HasError)
	assert.True(t, strings.HasSuffix(res.Output, "\n```\nz\n```"), res.Output)

	res = compile(t, c, "/echo:1\n```\nkept\n```")
	assert.Equal(t, "<1>\n```\nkept\n```", res.Output)
}

type echoExecutor struct{}

func (echoExecutor) Run(ctx context.Context, cmd process.Command) (*process.Result, error) {
	return &process.Result{Stdout: "ran: " + cmd.Line + "\n"}, nil
}

func TestCompileShellKeepsUnusedCodeBlock(t *testing.T) {
	fs := newMemFS(map[string]string{"build.sh": "make"})
	r := command.NewRegistry(command.WithEnv(&command.Env{FS: fs, Executor: echoExecutor{}}))
	require.NoError(t, command.RegisterBuiltins(r))
	c := New(r, WithFileSystem(fs))

	res := compile(t, c, "/shell:build.sh\n\n```js\nconsole.log(1)\n```")
	assert.False(t, res.HasError)
	assert.Contains(t, res.Output, "ran: make")
	assert.Contains(t, res.Output, "```js\nconsole.log(1)\n```")

	res = compile(t, c, "/shell\n```sh\necho hi\n```")
	assert.Contains(t, res.Output, "ran: echo hi")
	assert.NotContains(t, res.Output, "```sh")
}

func TestCompileAgentRef(t *testing.T) {
	c := newTestCompiler(t, newMemFS(nil))

	res := compile(t, c, "ask @reviewer now")
	assert.Equal(t, "ask  now", res.Output)
	require.NotNil(t, res.ExecuteAgent)
	assert.Equal(t, "reviewer", res.ExecuteAgent.Name)
	assert.Equal(t, 1, res.Statistics.AgentCount)
}

func TestCompileComments(t *testing.T) {
	c := newTestCompiler(t, newMemFS(nil))

	res := compile(t, c, "// hidden\nshown")
	assert.Equal(t, "shown", res.Output)

	res = compile(t, c, "// kept\nshown", WithOptions(Options{KeepRawOutput: true}))
	assert.Equal(t, "// kept\nshown", res.Output)
}

func TestCompileChainsNextJob(t *testing.T) {
	fs := newMemFS(map[string]string{"b.devin": "b"})
	c := newTestCompiler(t, fs)

	cc := NewContext()
	cc.Variables.AddVariable("who", variable.TypeString, "me", variable.ScopeUserDefined)
	cc.Variables.AddVariable("tmp", variable.TypeString, "x", variable.ScopeBuiltin)

	a, err := c.Compile(context.Background(), "[flow]:b.devin\na", cc)
	require.NoError(t, err)
	assert.Equal(t, "a", a.Output)
	require.NotNil(t, a.NextJob)
	assert.Equal(t, "b.devin", a.NextJob.SourcePath)

	next := cc.Fork()
	b, err := c.Compile(context.Background(), a.NextJob.Input, next)
	require.NoError(t, err)
	assert.Equal(t, "ab", a.Output+b.Output)

	_, ok := next.Variables.GetVariable("who")
	assert.True(t, ok)
	_, ok = next.Variables.GetVariable("tmp")
	assert.False(t, ok)
}

func TestForkDropsContextValues(t *testing.T) {
	c := newTestCompiler(t, newMemFS(nil))

	cc := NewContext(WithOptions(Options{
		MaxRecursionDepth: 4,
		ContextValues:     map[string]any{"filePath": "src/main.go"},
	}))
	res, err := c.Compile(context.Background(), "$fileName", cc)
	require.NoError(t, err)
	assert.Equal(t, "main.go", res.Output)

	next := cc.Fork()
	assert.Nil(t, next.Options.ContextValues)
	assert.Equal(t, 4, next.Options.MaxRecursionDepth)
	assert.NotNil(t, cc.Options.ContextValues, "the forked context must not alter its parent")

	res, err = c.Compile(context.Background(), "$fileName", next)
	require.NoError(t, err)
	assert.Equal(t, "$fileName", res.Output)
}

func TestCompileChainMissingFile(t *testing.T) {
	c := newTestCompiler(t, newMemFS(nil))

	res := compile(t, c, "[flow]:gone.devin\nstill here")
	assert.Equal(t, "still here", res.Output)
	assert.Nil(t, res.NextJob)
	assert.True(t, res.HasError)
}

func TestCompileFrontMatter(t *testing.T) {
	c := newTestCompiler(t, newMemFS(nil))

	res := compile(t, c, "---\nname: greet\nvariables:\n  who: Go\n---\nHi $who")
	assert.Equal(t, "Hi Go", res.Output)
	require.NotNil(t, res.Config)
	assert.Equal(t, "greet", res.Config.Name)

	entry, ok := res.Variables.GetVariable("who")
	require.True(t, ok)
	assert.Equal(t, variable.ScopeBuiltin, entry.Scope)
}

func TestCompileMalformedFrontMatter(t *testing.T) {
	c := newTestCompiler(t, newMemFS(nil))

	cc := NewContext()
	res, err := c.Compile(context.Background(), "---\nname: [unclosed\n---\nbody", cc)
	require.NoError(t, err)
	assert.Equal(t, "body", res.Output)
	assert.Nil(t, res.Config)

	var warned bool
	for _, e := range cc.Logger().Entries() {
		if e.Message == "malformed front matter" {
			warned = true
		}
	}
	assert.True(t, warned)
}

func TestCompileFrontMatterGates(t *testing.T) {
	c := newTestCompiler(t, newMemFS(nil))

	tests := []struct {
		name    string
		script  string
		output  string
		skipped bool
	}{
		{"disabled", "---\nenabled: false\n---\nbody", "", true},
		{"when true", "---\nvariables:\n  lang: go\nwhen: lang == \"go\"\n---\nbody", "body", false},
		{"when false", "---\nvariables:\n  lang: rust\nwhen: lang == \"go\"\n---\nbody", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := compile(t, c, tt.script)
			assert.Equal(t, tt.output, res.Output)
			assert.Equal(t, tt.skipped, res.Skipped)
		})
	}
}

func TestCompileCustomCommands(t *testing.T) {
	fs := newMemFS(map[string]string{
		"cmds/greet.devin": "Hello $input",
		"cmds/loop.devin":  "/loop",
	})
	c := newTestCompiler(t, fs)

	res := compile(t, c, "/greet:Ana!")
	assert.Equal(t, "Hello Ana!", res.Output)

	res = compile(t, c, "---\nfunctions:\n  shout: LOUD $input\n---\n/shout:x")
	assert.Equal(t, "LOUD x", res.Output)

	res = compile(t, c, "/loop", WithOptions(Options{MaxRecursionDepth: 3}))
	assert.True(t, res.HasError)
	assert.Contains(t, res.Output, "maximum recursion depth 3 exceeded")
}

func TestCompileCustomCommandFlow(t *testing.T) {
	fs := newMemFS(map[string]string{
		"cmds/hop.devin": "[flow]:next.devin\nhop",
		"next.devin":     "n",
		"first.devin":    "f",
	})
	c := newTestCompiler(t, fs)

	res := compile(t, c, "/hop\nafter")
	assert.False(t, res.HasError)
	assert.Contains(t, res.Output, "hop")
	assert.Contains(t, res.Output, "after")
	require.NotNil(t, res.NextJob, "a flow inside a custom command queues the job")
	assert.Equal(t, "next.devin", res.NextJob.SourcePath)
	assert.Equal(t, "n", res.NextJob.Input)

	cc := NewContext()
	res, err := c.Compile(context.Background(), "[flow]:first.devin\n/hop", cc)
	require.NoError(t, err)
	require.NotNil(t, res.NextJob)
	assert.Equal(t, "next.devin", res.NextJob.SourcePath, "the later flow wins")

	var warned bool
	for _, e := range cc.Logger().Entries() {
		if e.Message == "flow replaces queued job" {
			warned = true
		}
	}
	assert.True(t, warned)
}

func TestCompileTemplateCompilation(t *testing.T) {
	c := newTestCompiler(t, newMemFS(map[string]string{"t.txt": "v=$x"}))

	for _, enabled := range []bool{false, true} {
		cc := NewContext(WithOptions(Options{EnableTemplateCompilation: enabled}))
		cc.Variables.Add("x", "42")
		res, err := c.Compile(context.Background(), "/echo:$x /file:t.txt", cc)
		require.NoError(t, err)

		want := "<42> ```txt\nv=$x\n```"
		if enabled {
			want = "<42> ```txt\nv=42\n```"
		}
		assert.Equal(t, want, res.Output)
	}
}

func TestCompileParseError(t *testing.T) {
	c := newTestCompiler(t, newMemFS(nil))

	res, err := c.Compile(context.Background(), "```go\nnever closed", nil)
	assert.Nil(t, res)
	assert.True(t, errors.Is(err, dsl.ErrParse))
}

func TestCompileCancelled(t *testing.T) {
	c := newTestCompiler(t, newMemFS(nil))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := c.Compile(ctx, "before\n/echo:1\nafter", nil)
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, res)
	assert.Equal(t, "before\n", res.Output)
	assert.Zero(t, res.Statistics.CommandCount)
}

func TestCompileStatistics(t *testing.T) {
	c := newTestCompiler(t, newMemFS(nil))

	res := compile(t, c, "x $a /echo:1 @bot\n```\ncode\n```")
	s := res.Statistics
	assert.Equal(t, 1, s.VariableCount)
	assert.Equal(t, 1, s.CommandCount)
	assert.Equal(t, 1, s.AgentCount)
	assert.Equal(t, 1, s.CodeBlockCount)
	assert.Greater(t, s.NodeCount, 5)
	assert.False(t, s.EndTime.Before(s.StartTime))
}

func TestContextReset(t *testing.T) {
	c := newTestCompiler(t, newMemFS(nil))

	cc := NewContext()
	cc.Variables.AddVariable("keep", variable.TypeString, "yes", variable.ScopeUserDefined)
	_, err := c.Compile(context.Background(), "/nope", cc)
	require.NoError(t, err)
	require.True(t, cc.HasError())

	cc.Reset()
	assert.False(t, cc.HasError())
	assert.Empty(t, cc.Output())
	assert.Equal(t, 1, cc.Variables.Len())

	res, err := c.Compile(context.Background(), "$keep", cc)
	require.NoError(t, err)
	assert.Equal(t, "yes", res.Output)
}
