// Package prompts builds the system and user prompts sent to the
// text-generation backend for diagram creation and modification.
package prompts

import (
	"fmt"
	"strings"

	"github.com/c360studio/mermaidgen/diagram"
)

// Build returns the system and user prompts for a request. When existingCode
// is non-empty the user prompt asks for a modification of that code,
// otherwise it asks for a new diagram described by userText.
//
// Unknown diagram types are treated as flowcharts.
func Build(t diagram.Type, userText, existingCode string) (system, user string) {
	if !t.IsValid() {
		t = diagram.DefaultType
	}

	system = SystemPrompt(t)
	if strings.TrimSpace(existingCode) != "" {
		return system, ModifyPrompt(t, existingCode, userText)
	}
	return system, CreatePrompt(t, userText)
}

// SystemPrompt returns the baseline instruction followed by the cheat sheet
// for t.
func SystemPrompt(t diagram.Type) string {
	sheet, ok := cheatSheets[t]
	if !ok {
		sheet = cheatSheets[diagram.DefaultType]
	}
	return baseSystemPrompt + "\n\n" + sheet
}

// CreatePrompt returns the user prompt for a new diagram.
func CreatePrompt(t diagram.Type, userText string) string {
	tmpl, ok := createTemplates[t]
	if !ok {
		tmpl = createTemplates[diagram.DefaultType]
	}
	return fmt.Sprintf(tmpl, strings.TrimSpace(userText))
}

// ModifyPrompt returns the user prompt for changing existing code. The code
// is embedded verbatim.
func ModifyPrompt(t diagram.Type, existingCode, instruction string) string {
	if !t.IsValid() {
		t = diagram.DefaultType
	}
	return fmt.Sprintf(modifyTemplate, existingCode, strings.TrimSpace(instruction), t, declaration(t))
}

// declaration is the keyword a diagram of type t starts with.
func declaration(t diagram.Type) string {
	switch t {
	case diagram.TypeState:
		return "stateDiagram-v2"
	case diagram.TypePie:
		return "pie title"
	default:
		return t.Marker()
	}
}
