// Package variable provides the scoped variable table consulted by the
// compiler when substituting references.
package variable

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

// ErrVariableNotFound is returned when updating or removing a missing name.
var ErrVariableNotFound = errors.New("variable not found")

// Type is the value type of a variable entry.
type Type string

const (
	TypeString   Type = "STRING"
	TypeBoolean  Type = "BOOLEAN"
	TypeNumber   Type = "NUMBER"
	TypeObject   Type = "OBJECT"
	TypeArray    Type = "ARRAY"
	TypeFunction Type = "FUNCTION"
	TypeUnknown  Type = "UNKNOWN"
)

// Scope is the lifetime class of a variable entry.
type Scope string

const (
	// ScopeBuiltin entries are injected per compilation and dropped on reset.
	ScopeBuiltin Scope = "BUILTIN"
	// ScopeUserDefined entries survive reset.
	ScopeUserDefined Scope = "USER_DEFINED"
	ScopeGlobal      Scope = "GLOBAL"
	ScopeLocal       Scope = "LOCAL"
)

// Entry is a single variable.
type Entry struct {
	Name     string
	Type     Type
	Scope    Scope
	Value    any
	Metadata map[string]any
}

// String renders the value for substitution into output text.
func (e Entry) String() string {
	if e.Value == nil {
		return ""
	}
	return fmt.Sprint(e.Value)
}

// Update carries the fields to replace in UpdateVariable. Nil fields are kept.
type Update struct {
	Type  *Type
	Scope *Scope
	Value any
	// SetValue must be true for Value to be applied, so a nil value can be stored.
	SetValue bool
}

// Table is an ordered name to Entry mapping.
type Table struct {
	entries map[string]*Entry
	order   []string
	mu      sync.RWMutex
}

// NewTable creates an empty table.
func NewTable() *Table {
	return &Table{
		entries: make(map[string]*Entry),
	}
}

// Normalize strips a wrapping {...} and a leading "context." prefix.
func Normalize(name string) string {
	name = strings.TrimSpace(name)
	if strings.HasPrefix(name, "{") && strings.HasSuffix(name, "}") {
		name = strings.TrimSpace(name[1 : len(name)-1])
	}
	return strings.TrimPrefix(name, "context.")
}

// AddVariable inserts an entry if the normalized name is absent.
// A duplicate name is ignored and the first declaration wins.
// It reports whether the entry was inserted.
func (t *Table) AddVariable(name string, typ Type, value any, scope Scope) bool {
	name = Normalize(name)
	if name == "" {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.entries[name]; exists {
		return false
	}

	t.entries[name] = &Entry{
		Name:  name,
		Type:  typ,
		Scope: scope,
		Value: value,
	}
	t.order = append(t.order, name)
	return true
}

// Add inserts a BUILTIN entry, inferring its type from the value.
func (t *Table) Add(name string, value any) bool {
	return t.AddVariable(name, InferType(value), value, ScopeBuiltin)
}

// GetVariable returns a copy of the entry for name.
func (t *Table) GetVariable(name string) (Entry, bool) {
	name = Normalize(name)

	t.mu.RLock()
	defer t.mu.RUnlock()

	e, ok := t.entries[name]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// UpdateVariable replaces the supplied fields of an existing entry.
func (t *Table) UpdateVariable(name string, u Update) error {
	name = Normalize(name)

	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrVariableNotFound, name)
	}

	if u.Type != nil {
		e.Type = *u.Type
	}
	if u.Scope != nil {
		e.Scope = *u.Scope
	}
	if u.SetValue {
		e.Value = u.Value
	}
	return nil
}

// RemoveVariable deletes an existing entry.
func (t *Table) RemoveVariable(name string) error {
	name = Normalize(name)

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.entries[name]; !ok {
		return fmt.Errorf("%w: %s", ErrVariableNotFound, name)
	}

	delete(t.entries, name)
	for i, n := range t.order {
		if n == name {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
	return nil
}

// GetVariablesByScope returns entries with the given scope, in insertion order.
func (t *Table) GetVariablesByScope(scope Scope) []Entry {
	return t.filter(func(e *Entry) bool { return e.Scope == scope })
}

// GetVariablesByType returns entries with the given type, in insertion order.
func (t *Table) GetVariablesByType(typ Type) []Entry {
	return t.filter(func(e *Entry) bool { return e.Type == typ })
}

// All returns every entry in insertion order.
func (t *Table) All() []Entry {
	return t.filter(func(*Entry) bool { return true })
}

// Values returns a name to value map, used for providers and expressions.
func (t *Table) Values() map[string]any {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make(map[string]any, len(t.entries))
	for name, e := range t.entries {
		out[name] = e.Value
	}
	return out
}

// Len returns the number of entries.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// Clear empties the table unconditionally.
func (t *Table) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.clearLocked()
}

// Reset removes every entry except USER_DEFINED ones, which keep their order.
func (t *Table) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	var kept []*Entry
	for _, name := range t.order {
		if e := t.entries[name]; e.Scope == ScopeUserDefined {
			kept = append(kept, e)
		}
	}

	t.clearLocked()

	for _, e := range kept {
		t.entries[e.Name] = e
		t.order = append(t.order, e.Name)
	}
}

// Inherit copies the USER_DEFINED entries of other into t.
func (t *Table) Inherit(other *Table) {
	for _, e := range other.GetVariablesByScope(ScopeUserDefined) {
		t.AddVariable(e.Name, e.Type, e.Value, e.Scope)
	}
}

func (t *Table) clearLocked() {
	t.entries = make(map[string]*Entry)
	t.order = nil
}

func (t *Table) filter(keep func(*Entry) bool) []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []Entry
	for _, name := range t.order {
		if e := t.entries[name]; keep(e) {
			out = append(out, *e)
		}
	}
	return out
}

// InferType maps a Go value (typically decoded from YAML) to a variable Type.
func InferType(v any) Type {
	switch v.(type) {
	case string:
		return TypeString
	case bool:
		return TypeBoolean
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return TypeNumber
	case map[string]any, map[any]any:
		return TypeObject
	case []any, []string:
		return TypeArray
	case func() any:
		return TypeFunction
	default:
		return TypeUnknown
	}
}
