package variable

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestProperty_AddVariableIsIdempotent(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)

	properties.Property("second insert never replaces the first", prop.ForAll(
		func(name, first, second string) bool {
			table := NewTable()
			table.AddVariable(name, TypeString, first, ScopeBuiltin)
			table.AddVariable(name, TypeString, second, ScopeUserDefined)

			e, ok := table.GetVariable(name)
			return ok && e.Value == first && e.Scope == ScopeBuiltin && table.Len() == 1
		},
		gen.Identifier(),
		gen.AlphaString(),
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}

func TestProperty_ResetPreservesUserDefined(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)

	scopes := []Scope{ScopeBuiltin, ScopeUserDefined, ScopeGlobal, ScopeLocal}

	properties.Property("reset keeps exactly the USER_DEFINED entries", prop.ForAll(
		func(names []string, picks []int) bool {
			table := NewTable()
			want := make(map[string]Entry)

			for i, name := range names {
				scope := scopes[0]
				if i < len(picks) {
					scope = scopes[picks[i]%len(scopes)]
				}
				if table.AddVariable(name, TypeString, name, scope) && scope == ScopeUserDefined {
					want[name] = Entry{Name: name, Type: TypeString, Scope: scope, Value: name}
				}
			}

			table.Reset()

			if table.Len() != len(want) {
				return false
			}
			for name, w := range want {
				got, ok := table.GetVariable(name)
				if !ok || got.Value != w.Value || got.Scope != w.Scope || got.Type != w.Type {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.Identifier()),
		gen.SliceOf(gen.IntRange(0, 3)),
	))

	properties.TestingRun(t)
}
