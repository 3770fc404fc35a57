package dsl

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// ErrParse is the sentinel wrapped by every ParseError.
var ErrParse = errors.New("parse error")

// ParseError reports input the parser cannot tokenize.
type ParseError struct {
	Line int
	Msg  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Msg)
}

func (e *ParseError) Unwrap() error {
	return ErrParse
}

// Parser turns script text into an ordered element sequence.
//
// Surface forms:
//
//	---            front matter (YAML) on the first line, closed by ---
//	/name:prop     command; a namespaced /family.sub takes the rest of the line
//	$name ${name}  variable reference
//	@name          agent reference
//	```lang        fenced code block
//	[flow]:x.devin comment line (also // comments)
type Parser struct{}

// NewParser creates a new parser.
func NewParser() *Parser {
	return &Parser{}
}

// ParseFile parses a script file.
func (p *Parser) ParseFile(path string) ([]Element, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	return p.Parse(string(data))
}

// Parse parses script text.
func (p *Parser) Parse(text string) ([]Element, error) {
	var b builder

	body := text
	lineOffset := 0
	if front, rest, source, ok := splitFrontMatter(text); ok {
		b.add(FrontMatter{Body: front, Source: source})
		body = rest
		lineOffset = strings.Count(source, "\n")
	}

	lines := strings.Split(body, "\n")
	for i := 0; i < len(lines); i++ {
		line := lines[i]
		trimmed := strings.TrimSpace(line)

		switch {
		case strings.HasPrefix(trimmed, "```"):
			end := -1
			for j := i + 1; j < len(lines); j++ {
				if strings.TrimSpace(lines[j]) == "```" {
					end = j
					break
				}
			}
			if end == -1 {
				return nil, &ParseError{Line: lineOffset + i + 1, Msg: "unterminated code fence"}
			}
			b.add(CodeBlock{
				Lang:   strings.TrimSpace(strings.TrimPrefix(trimmed, "```")),
				Code:   strings.Join(lines[i+1:end], "\n"),
				Source: strings.Join(lines[i:end+1], "\n"),
			})
			i = end

		case strings.HasPrefix(trimmed, "//"), isBracketComment(trimmed):
			body := trimmed
			if strings.HasPrefix(trimmed, "//") {
				body = strings.TrimSpace(trimmed[2:])
			}
			// A comment line owns its line break.
			source := line
			if i < len(lines)-1 {
				source += "\n"
			}
			b.add(Comment{Body: body, Source: source})
			continue

		default:
			lexLine(&b, line)
		}

		if i < len(lines)-1 {
			b.add(Newline{})
		}
	}

	return b.elements, nil
}

// SplitFrontMatter separates a leading --- block from the body.
func SplitFrontMatter(text string) (front, body string, ok bool) {
	front, body, _, ok = splitFrontMatter(text)
	if !ok {
		return "", text, false
	}
	return front, body, true
}

func splitFrontMatter(text string) (front, body, source string, ok bool) {
	var rest string
	switch {
	case strings.HasPrefix(text, "---\n"):
		rest = text[4:]
	case strings.HasPrefix(text, "---\r\n"):
		rest = text[5:]
	default:
		return "", text, "", false
	}

	offset := len(text) - len(rest)
	pos := 0
	for {
		idx := strings.Index(rest[pos:], "---")
		if idx == -1 {
			return "", text, "", false
		}
		start := pos + idx
		atLineStart := start == 0 || rest[start-1] == '\n'
		after := rest[start+3:]
		var closeLen int
		switch {
		case after == "":
			closeLen = 3
		case strings.HasPrefix(after, "\n"):
			closeLen = 4
		case strings.HasPrefix(after, "\r\n"):
			closeLen = 5
		}
		if atLineStart && closeLen > 0 {
			front = strings.TrimRight(rest[:start], "\r\n")
			end := offset + start + closeLen
			return front, text[end:], text[:end], true
		}
		pos = start + 3
	}
}

func isBracketComment(s string) bool {
	if !strings.HasPrefix(s, "[") {
		return false
	}
	idx := strings.Index(s, "]")
	if idx <= 1 {
		return false
	}
	// [text](url) is a markdown link, not a comment.
	return !strings.HasPrefix(s[idx+1:], "(")
}

type builder struct {
	elements []Element
}

func (b *builder) add(e Element) {
	b.elements = append(b.elements, e)
}

func (b *builder) text(s string) {
	if s == "" {
		return
	}
	if n := len(b.elements); n > 0 {
		if t, ok := b.elements[n-1].(Text); ok {
			b.elements[n-1] = Text{Value: t.Value + s}
			return
		}
	}
	b.add(Text{Value: s})
}

func lexLine(b *builder, line string) {
	start := 0
	i := 0
	for i < len(line) {
		boundary := i == 0 || isSpace(line[i-1])

		var el Element
		var n int
		switch line[i] {
		case '$':
			el, n = scanVariable(line[i:])
		case '/':
			if boundary {
				el, n = scanCommand(line[i:])
			}
		case '@':
			if boundary {
				el, n = scanAgent(line[i:])
			}
		}

		if n == 0 {
			i++
			continue
		}

		b.text(line[start:i])
		b.add(el)
		i += n
		start = i
	}
	b.text(line[start:])
}

// Expand replaces $name and ${name} references in s with the values
// lookup returns. Unresolved references are kept as written.
func Expand(s string, lookup func(name string) (string, bool)) string {
	if !strings.Contains(s, "$") {
		return s
	}

	var sb strings.Builder
	for i := 0; i < len(s); {
		if s[i] == '$' {
			if el, n := scanVariable(s[i:]); n > 0 {
				ref := el.(VariableRef)
				if v, ok := lookup(ref.Name); ok {
					sb.WriteString(v)
				} else {
					sb.WriteString(ref.Source)
				}
				i += n
				continue
			}
		}
		sb.WriteByte(s[i])
		i++
	}
	return sb.String()
}

func scanVariable(s string) (Element, int) {
	if len(s) < 2 {
		return nil, 0
	}

	if s[1] == '{' {
		end := strings.IndexByte(s, '}')
		if end < 3 {
			return nil, 0
		}
		name := s[2:end]
		if strings.ContainsAny(name, " \t") {
			return nil, 0
		}
		return VariableRef{Name: name, Source: s[:end+1]}, end + 1
	}

	name := scanName(s[1:], false)
	if name == "" {
		return nil, 0
	}
	return VariableRef{Name: name, Source: s[:1+len(name)]}, 1 + len(name)
}

func scanCommand(s string) (Element, int) {
	name := scanName(s[1:], true)
	if name == "" {
		return nil, 0
	}
	n := 1 + len(name)
	rest := s[n:]

	switch {
	case rest == "":
		return Command{Name: name, Source: s[:n]}, n
	case rest[0] == ':':
		prop := rest[1:]
		if idx := strings.IndexAny(prop, " \t"); idx != -1 {
			prop = prop[:idx]
		}
		n += 1 + len(prop)
		return Command{Name: name, Prop: prop, Source: s[:n]}, n
	case isSpace(rest[0]) && strings.Contains(name, "."):
		return Command{Name: name, Prop: strings.TrimSpace(rest), Source: s}, len(s)
	case isSpace(rest[0]) || isPunct(rest[0]):
		return Command{Name: name, Source: s[:n]}, n
	default:
		return nil, 0
	}
}

func scanAgent(s string) (Element, int) {
	name := scanName(s[1:], true)
	if name == "" {
		return nil, 0
	}
	n := 1 + len(name)
	if n < len(s) && !isSpace(s[n]) && !isPunct(s[n]) {
		return nil, 0
	}
	return AgentRef{Name: name, Source: s[:n]}, n
}

// scanName reads an identifier that may contain dots, dropping trailing dots.
func scanName(s string, allowDash bool) string {
	if s == "" || !isLetter(s[0]) && s[0] != '_' {
		return ""
	}
	i := 1
	for i < len(s) {
		c := s[i]
		if isLetter(c) || isDigit(c) || c == '_' || c == '.' || allowDash && c == '-' {
			i++
			continue
		}
		break
	}
	return strings.TrimRight(s[:i], ".")
}

func isLetter(c byte) bool { return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' }
func isDigit(c byte) bool  { return c >= '0' && c <= '9' }
func isSpace(c byte) bool  { return c == ' ' || c == '\t' || c == '\r' }
func isPunct(c byte) bool  { return strings.IndexByte(".,;!?)", c) != -1 }
