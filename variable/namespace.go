package variable

import (
	"os"
	"os/user"
	"path/filepath"
	"runtime"
	"time"
)

// Builtin describes one variable provided by a namespace.
type Builtin struct {
	Name        string
	Description string
	// Resolve computes the value. Host-supplied values take precedence.
	Resolve func() any
}

// Namespace groups related built-in variables.
type Namespace struct {
	Name      string
	Variables []Builtin
}

// ContextNamespace holds values the host editor supplies per compilation.
var ContextNamespace = Namespace{
	Name: "context",
	Variables: []Builtin{
		{Name: "filePath", Description: "Path of the file the script runs against"},
		{Name: "fileName", Description: "Base name of the current file"},
		{Name: "language", Description: "Language of the current file"},
		{Name: "selection", Description: "Currently selected text"},
		{Name: "frameworkContext", Description: "Framework hints for the current project"},
	},
}

// SystemNamespace holds values derived from the running process.
var SystemNamespace = Namespace{
	Name: "system",
	Variables: []Builtin{
		{Name: "date", Description: "Current date (YYYY-MM-DD)", Resolve: func() any {
			return time.Now().Format(time.DateOnly)
		}},
		{Name: "time", Description: "Current time (HH:MM:SS)", Resolve: func() any {
			return time.Now().Format(time.TimeOnly)
		}},
		{Name: "os", Description: "Operating system", Resolve: func() any { return runtime.GOOS }},
		{Name: "arch", Description: "CPU architecture", Resolve: func() any { return runtime.GOARCH }},
		{Name: "cwd", Description: "Working directory", Resolve: func() any {
			wd, err := os.Getwd()
			if err != nil {
				return ""
			}
			return wd
		}},
		{Name: "user", Description: "Current user name", Resolve: func() any {
			u, err := user.Current()
			if err != nil {
				return ""
			}
			return u.Username
		}},
	},
}

// Namespaces is the full list of built-in namespaces, in injection order.
var Namespaces = []Namespace{
	ContextNamespace,
	SystemNamespace,
}

// InjectBuiltins adds every built-in variable at BUILTIN scope.
// Values in supplied override resolvers; context variables without a value are skipped.
func InjectBuiltins(t *Table, supplied map[string]any) int {
	n := 0
	for _, ns := range Namespaces {
		for _, b := range ns.Variables {
			value, ok := supplied[b.Name]
			if !ok && b.Name == "fileName" {
				if p, has := supplied["filePath"].(string); has && p != "" {
					value, ok = filepath.Base(p), true
				}
			}
			if !ok && b.Resolve != nil {
				value, ok = b.Resolve(), true
			}
			if !ok {
				continue
			}
			if t.AddVariable(b.Name, InferType(value), value, ScopeBuiltin) {
				n++
			}
		}
	}
	return n
}

// Lookup finds a built-in by name across all namespaces.
func Lookup(name string) (Builtin, bool) {
	name = Normalize(name)
	for _, ns := range Namespaces {
		for _, b := range ns.Variables {
			if b.Name == name {
				return b, true
			}
		}
	}
	return Builtin{}, false
}
