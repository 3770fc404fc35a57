package dsl

// Kind identifies an element variant.
type Kind int

const (
	KindText Kind = iota
	KindNewline
	KindCodeBlock
	KindVariableRef
	KindCommand
	KindAgentRef
	KindComment
	KindFrontMatter
)

func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindNewline:
		return "newline"
	case KindCodeBlock:
		return "code"
	case KindVariableRef:
		return "variable"
	case KindCommand:
		return "command"
	case KindAgentRef:
		return "agent"
	case KindComment:
		return "comment"
	case KindFrontMatter:
		return "front-matter"
	default:
		return "unknown"
	}
}

// Element is one item of a parsed script. Raw returns the exact source text.
type Element interface {
	Kind() Kind
	Raw() string
}

// Text is a run of plain prose.
type Text struct {
	Value string
}

// Newline is a line break.
type Newline struct{}

// CodeBlock is a fenced code block.
type CodeBlock struct {
	Lang string
	Code string
	// Source includes the fences.
	Source string
}

// VariableRef is a $name or ${name} reference.
type VariableRef struct {
	Name   string
	Source string
}

// Command is a /name or /name:prop invocation.
type Command struct {
	Name   string
	Prop   string
	Source string
}

// AgentRef is an @name reference.
type AgentRef struct {
	Name   string
	Source string
}

// Comment is a [..] or // comment line. Body excludes the // marker;
// Source includes the line break.
type Comment struct {
	Body   string
	Source string
}

// FrontMatter is the YAML header block. Body excludes the --- delimiters.
type FrontMatter struct {
	Body   string
	Source string
}

func (Text) Kind() Kind        { return KindText }
func (Newline) Kind() Kind     { return KindNewline }
func (CodeBlock) Kind() Kind   { return KindCodeBlock }
func (VariableRef) Kind() Kind { return KindVariableRef }
func (Command) Kind() Kind     { return KindCommand }
func (AgentRef) Kind() Kind    { return KindAgentRef }
func (Comment) Kind() Kind     { return KindComment }
func (FrontMatter) Kind() Kind { return KindFrontMatter }

func (t Text) Raw() string        { return t.Value }
func (Newline) Raw() string       { return "\n" }
func (c CodeBlock) Raw() string   { return c.Source }
func (v VariableRef) Raw() string { return v.Source }
func (c Command) Raw() string     { return c.Source }
func (a AgentRef) Raw() string    { return a.Source }
func (c Comment) Raw() string     { return c.Source }
func (f FrontMatter) Raw() string { return f.Source }
