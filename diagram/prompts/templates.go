package prompts

import "github.com/c360studio/mermaidgen/diagram"

// baseSystemPrompt is prepended to every type-specific cheat sheet.
const baseSystemPrompt = `You are a Mermaid diagram expert. Generate ONLY valid Mermaid syntax.

CRITICAL RULES:
- Output ONLY diagram code, no prose or explanations
- NO code fences (no ` + "```" + `mermaid blocks)
- NO comments or additional text
- Start immediately with the diagram declaration
- Use consistent, short node IDs
- Follow Mermaid syntax exactly`

// cheatSheets hold the grammar summary and one worked example per type.
var cheatSheets = map[diagram.Type]string{
	diagram.TypeFlowchart: `FLOWCHART SYNTAX:
- Start with: flowchart TD, flowchart LR, flowchart TB or flowchart RL
- Nodes: A[Rectangle], B(Rounded), C{Diamond}, D((Circle))
- Arrows: -->, -.->, ==>
- Edge labels: A -->|Yes| B
- Subgraphs: subgraph Title ... end

EXAMPLE:
flowchart TD
    A[Start] --> B{Decision?}
    B -->|Yes| C[Action]
    B -->|No| D[Alternative]
    C --> E[End]
    D --> E`,

	diagram.TypeSequence: `SEQUENCE DIAGRAM SYNTAX:
- Start with: sequenceDiagram
- Participants: participant A as Actor
- Messages: A->>B: Message, A-->>B: Reply
- Activation: activate A, deactivate A
- Notes: Note over A,B: text
- Loops: loop condition ... end
- Alternatives: alt condition ... else ... end

EXAMPLE:
sequenceDiagram
    participant C as Client
    participant S as Server
    C->>S: Request
    activate S
    S-->>C: Response
    deactivate S`,

	diagram.TypeClass: `CLASS DIAGRAM SYNTAX:
- Start with: classDiagram
- Classes: class ClassName { +Type field +method() Return }
- Visibility: + public, - private, # protected
- Relationships: A <|-- B (inheritance), A --> B (association), A *-- B (composition)
- Multiplicity: A "1" --> "many" B

EXAMPLE:
classDiagram
    class Animal {
        +String name
        +int age
        +move() void
    }
    Animal <|-- Dog
    Animal <|-- Cat`,

	diagram.TypeER: `ER DIAGRAM SYNTAX:
- Start with: erDiagram
- Relationships: ENTITY_A ||--o{ ENTITY_B : label
- Cardinality: ||--||, ||--o{, }|--||, }o--o{
- Attributes: ENTITY { string name PK }

EXAMPLE:
erDiagram
    CUSTOMER ||--o{ ORDER : places
    ORDER ||--|{ LINE_ITEM : contains
    PRODUCT ||--o{ LINE_ITEM : includes`,

	diagram.TypeGantt: `GANTT SYNTAX:
- Start with: gantt
- Title: title Project Timeline
- Date format: dateFormat YYYY-MM-DD
- Sections: section Name
- Tasks: Task name :id, 2024-01-01, 30d
- Dependencies: Task name :after id, 10d

EXAMPLE:
gantt
    title Project Schedule
    dateFormat YYYY-MM-DD
    section Development
    Design :d1, 2024-01-01, 30d
    Coding :after d1, 60d`,

	diagram.TypeState: `STATE DIAGRAM SYNTAX:
- Start with: stateDiagram-v2
- Transitions: s1 --> s2 : trigger
- Start and end: [*] --> s1, s1 --> [*]
- Composite states: state s1 { ... }

EXAMPLE:
stateDiagram-v2
    [*] --> Idle
    Idle --> Processing : start
    Processing --> Complete : finish
    Complete --> [*]`,

	diagram.TypePie: `PIE CHART SYNTAX:
- Start with: pie title Chart Title
- Slices: "Label" : value

EXAMPLE:
pie title Distribution
    "Category A" : 42
    "Category B" : 30
    "Category C" : 28`,

	diagram.TypeJourney: `USER JOURNEY SYNTAX:
- Start with: journey
- Title: title Journey Name
- Sections: section Name
- Steps: Step name: score: Actor1, Actor2

EXAMPLE:
journey
    title Shopping
    section Discovery
      Search product: 5: Shopper
      View details: 4: Shopper`,

	diagram.TypeGit: `GIT GRAPH SYNTAX:
- Start with: gitGraph
- Commits: commit id: "message"
- Branches: branch feature, checkout feature
- Merges: merge feature

EXAMPLE:
gitGraph
    commit id: "Initial"
    branch feature
    checkout feature
    commit id: "Feature work"
    checkout main
    merge feature`,
}

// createTemplates embed the user's description. %s is replaced with the
// request text.
var createTemplates = map[diagram.Type]string{
	diagram.TypeFlowchart: `Create a flowchart diagram in Mermaid format for: %s

Requirements:
- Start with flowchart TD (top-down)
- Include start and end nodes
- Shapes: [] for processes, {} for decisions, () for events
- Keep node IDs short (A, B, C)
- Label decision branches with Yes/No

Generate the diagram:`,

	diagram.TypeSequence: `Create a sequence diagram in Mermaid format for: %s

Requirements:
- Start with sequenceDiagram
- Declare the relevant participants
- Show message flow with ->> for requests and -->> for replies
- Use activation boxes where helpful
- Keep participant IDs short

Generate the diagram:`,

	diagram.TypeClass: `Create a class diagram in Mermaid format for: %s

Requirements:
- Start with classDiagram
- Include class names, attributes and methods
- Show inheritance and association relationships
- Mark visibility with +, - and #
- Include attribute types and method return types

Generate the diagram:`,

	diagram.TypeER: `Create an entity-relationship diagram in Mermaid format for: %s

Requirements:
- Start with erDiagram
- Include entities and their attributes
- Show relationships with correct cardinality
- Mark primary keys (PK) and foreign keys (FK)
- Keep entity names in UPPER_SNAKE_CASE

Generate the diagram:`,

	diagram.TypeGantt: `Create a Gantt chart in Mermaid format for: %s

Requirements:
- Start with gantt
- Include a title, dateFormat YYYY-MM-DD and logical sections
- Give every task an ID and a date range or duration
- Express dependencies with "after"

Generate the diagram:`,

	diagram.TypeState: `Create a state diagram in Mermaid format for: %s

Requirements:
- Start with stateDiagram-v2
- Include [*] start and end transitions
- Label every transition with its trigger
- Keep state IDs short

Generate the diagram:`,

	diagram.TypePie: `Create a pie chart in Mermaid format for: %s

Requirements:
- Start with pie title followed by a short title
- One "Label" : value line per slice
- Values must be plain numbers

Generate the diagram:`,

	diagram.TypeJourney: `Create a user journey diagram in Mermaid format for: %s

Requirements:
- Start with journey
- Include a title and one section per phase
- Score every step from 1 to 5 and name the actors

Generate the diagram:`,

	diagram.TypeGit: `Create a git graph in Mermaid format for: %s

Requirements:
- Start with gitGraph
- Give every commit an id
- Create branches before checking them out
- Merge feature branches back explicitly

Generate the diagram:`,
}

// modifyTemplate is filled with the existing code, the requested change and
// the diagram type, in that order.
const modifyTemplate = `Current diagram code:
%s

Modification request: %s

Modify the %s diagram above according to the request.
Keep the same diagram type and start with %s.
Return ONLY the complete updated Mermaid code.`
