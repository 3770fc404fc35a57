// Package dsl provides the element model and default parser for DevIns
// agent scripts.
//
// # Script Overview
//
// A script is optional YAML front matter followed by a body of prose,
// fenced code, variable references and commands:
//
//	---
//	name: review
//	variables:
//	  reviewer: alice
//	when: language == "Go"
//	---
//	Please review /file:main.go#L1-L40 for $reviewer.
//
//	/shell
//	```bash
//	go vet ./...
//	```
//
//	[flow]:follow-up.devin
//
// The parser only tokenizes. Substitution, command dispatch and job
// chaining happen in the compiler package.
//
// # Elements
//
// Parse returns a flat, ordered slice of Element values:
//
//   - Text and Newline: emitted verbatim
//   - CodeBlock: emitted verbatim unless consumed by the previous command
//   - VariableRef: $name or ${name}
//   - Command: /name, /name:prop, or /family.sub rest of line
//   - AgentRef: @name
//   - Comment: [..] or // lines; [flow]:path chains the next script
//   - FrontMatter: the leading --- block, decoded with ParseConfig
//
// Only an unterminated code fence is a parse error.
package dsl
