// Package diagram defines the supported Mermaid diagram types and the
// heuristics used to clean and check generated diagram code.
package diagram

import "strings"

// Type identifies a Mermaid diagram grammar.
type Type string

const (
	// TypeFlowchart is a process flow or decision tree.
	TypeFlowchart Type = "flowchart"

	// TypeSequence is an actor/message interaction diagram.
	TypeSequence Type = "sequence"

	// TypeClass is an object-oriented class diagram.
	TypeClass Type = "class"

	// TypeER is an entity-relationship diagram.
	TypeER Type = "er"

	// TypeGantt is a project timeline.
	TypeGantt Type = "gantt"

	// TypeState is a state machine diagram.
	TypeState Type = "state"

	// TypePie is a pie chart.
	TypePie Type = "pie"

	// TypeJourney is a user journey map.
	TypeJourney Type = "journey"

	// TypeGit is a git branch graph.
	TypeGit Type = "git"
)

// DefaultType is used whenever a requested type is not recognized.
const DefaultType = TypeFlowchart

// markers maps each type to the token that must appear in its code.
var markers = map[Type]string{
	TypeFlowchart: "flowchart",
	TypeSequence:  "sequenceDiagram",
	TypeClass:     "classDiagram",
	TypeER:        "erDiagram",
	TypeGantt:     "gantt",
	TypeState:     "stateDiagram",
	TypePie:       "pie",
	TypeJourney:   "journey",
	TypeGit:       "gitGraph",
}

// descriptions is shown to clients listing the available types.
var descriptions = map[Type]string{
	TypeFlowchart: "Process flows and decision trees",
	TypeSequence:  "Interactions between participants over time",
	TypeClass:     "Classes, attributes, methods and relationships",
	TypeER:        "Entities, attributes and cardinality",
	TypeGantt:     "Project schedules and task dependencies",
	TypeState:     "States and transitions",
	TypePie:       "Proportional data",
	TypeJourney:   "User experience steps with scores",
	TypeGit:       "Branches, commits and merges",
}

// LeadingKeywords lists the declarations a Mermaid document can start with.
// Longer keywords come before their prefixes so that matching prefers
// "stateDiagram-v2" over "stateDiagram".
var LeadingKeywords = []string{
	"stateDiagram-v2",
	"stateDiagram",
	"sequenceDiagram",
	"classDiagram",
	"erDiagram",
	"flowchart",
	"graph",
	"gantt",
	"journey",
	"gitGraph",
	"pie",
}

// All returns every supported type in display order.
func All() []Type {
	return []Type{
		TypeFlowchart,
		TypeSequence,
		TypeClass,
		TypeER,
		TypeGantt,
		TypeState,
		TypePie,
		TypeJourney,
		TypeGit,
	}
}

// IsValid reports whether t is a supported type.
func (t Type) IsValid() bool {
	_, ok := markers[t]
	return ok
}

// String returns the string representation of the type.
func (t Type) String() string {
	return string(t)
}

// Marker returns the token that must appear in code of this type.
// Unknown types resolve to the flowchart marker.
func (t Type) Marker() string {
	if m, ok := markers[t]; ok {
		return m
	}
	return markers[DefaultType]
}

// Description returns a short human-readable summary of the type.
func (t Type) Description() string {
	if d, ok := descriptions[t]; ok {
		return d
	}
	return descriptions[DefaultType]
}

// ParseType converts s to a Type. The lookup is total: unknown or empty
// values resolve to DefaultType.
func ParseType(s string) Type {
	t := Type(strings.ToLower(strings.TrimSpace(s)))
	if t.IsValid() {
		return t
	}
	return DefaultType
}
