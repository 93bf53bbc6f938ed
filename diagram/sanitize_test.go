package diagram

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtract(t *testing.T) {
	tests := []struct {
		name          string
		raw           string
		wantCode      string
		wantConfirmed bool
	}{
		{
			name:          "mermaid fence",
			raw:           "```mermaid\nflowchart TD\nA-->B\n```",
			wantCode:      "flowchart TD\nA-->B",
			wantConfirmed: true,
		},
		{
			name:          "mermaid fence preferred over earlier plain fence",
			raw:           "```\nnot this\n```\nbut\n```mermaid\nsequenceDiagram\nA->>B: hi\n```",
			wantCode:      "sequenceDiagram\nA->>B: hi",
			wantConfirmed: true,
		},
		{
			name:          "plain fence",
			raw:           "Here you go:\n```\nclassDiagram\nclass Animal\n```\nEnjoy!",
			wantCode:      "classDiagram\nclass Animal",
			wantConfirmed: true,
		},
		{
			name:          "fence with keyword as info string",
			raw:           "```sequenceDiagram\nA->>B: hi\n```",
			wantCode:      "sequenceDiagram\nA->>B: hi",
			wantConfirmed: true,
		},
		{
			name:          "no fence",
			raw:           "  erDiagram\n    CUSTOMER ||--o{ ORDER : places\n",
			wantCode:      "erDiagram\n    CUSTOMER ||--o{ ORDER : places",
			wantConfirmed: true,
		},
		{
			name:          "prose lead-in removed",
			raw:           "Sure, this should work.\n\ngantt\n    title Plan\n    section A\n    Task :2024-01-01, 3d",
			wantCode:      "gantt\n    title Plan\n    section A\n    Task :2024-01-01, 3d",
			wantConfirmed: true,
		},
		{
			name:          "keyword embedded in sentence",
			raw:           "Output: stateDiagram-v2\n    [*] --> Idle",
			wantCode:      "stateDiagram-v2\n    [*] --> Idle",
			wantConfirmed: true,
		},
		{
			name:          "no keyword is unconfirmed",
			raw:           "  I cannot draw that.  ",
			wantCode:      "I cannot draw that.",
			wantConfirmed: false,
		},
		{
			name:          "blank runs collapsed and trailing blanks dropped",
			raw:           "flowchart LR\n\n\n\nA-->B   \n\n\n",
			wantCode:      "flowchart LR\n\nA-->B",
			wantConfirmed: true,
		},
		{
			name:          "filler lines dropped",
			raw:           "flowchart TD\nA-->B\nMaybe add more steps\nB-->C\nLet's stop here",
			wantCode:      "flowchart TD\nA-->B\nB-->C",
			wantConfirmed: true,
		},
		{
			name:          "filler heuristic over-triggers on labels",
			raw:           "sequenceDiagram\nparticipant U as User\nU->>S: Request",
			wantCode:      "sequenceDiagram\nU->>S: Request",
			wantConfirmed: true,
		},
		{
			name:          "unconfirmed prose keeps filler lines",
			raw:           "You need a login step.\nMaybe add a retry too.",
			wantCode:      "You need a login step.\nMaybe add a retry too.",
			wantConfirmed: false,
		},
		{
			name:          "stray closing fence removed",
			raw:           "```flowchart TD\nA-->B\n```",
			wantCode:      "flowchart TD\nA-->B",
			wantConfirmed: true,
		},
		{
			name:          "empty",
			raw:           "   ",
			wantCode:      "",
			wantConfirmed: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Extract(tt.raw)
			assert.Equal(t, tt.wantCode, got.Code)
			assert.Equal(t, tt.wantConfirmed, got.Confirmed)
		})
	}
}

func TestExtract_IdempotentOnCleanInput(t *testing.T) {
	inputs := []string{
		"flowchart TD\n    A[Start] --> B{Decision?}\n    B -->|Yes| C[Action]\n    C --> D[End]",
		"sequenceDiagram\n    participant C as Client\n    C->>S: Request\n    S-->>C: Response",
		"classDiagram\n    class Animal {\n        +String name\n    }\n    Animal <|-- Dog",
		"erDiagram\n    CUSTOMER ||--o{ ORDER : places\n\n    ORDER ||--|{ LINE_ITEM : contains",
		"gantt\n    title Release\n    dateFormat YYYY-MM-DD\n    section Build\n    Coding :2024-01-01, 30d",
		"stateDiagram-v2\n    [*] --> Idle\n    Idle --> Busy : start\n    Busy --> [*]",
		"pie title Pets\n    \"Dogs\" : 40\n    \"Cats\" : 60",
		"not a diagram at all",
	}

	for _, in := range inputs {
		once := Extract(in)
		twice := Extract(once.Code)
		assert.Equal(t, once.Code, twice.Code, "input %q", in)
		assert.Equal(t, once.Confirmed, twice.Confirmed, "input %q", in)
	}
}

func TestExtract_ThenValidate(t *testing.T) {
	raw := "Here is your diagram:\n```mermaid\nflowchart TD\n    A[Start] --> B[End]\n```\nHope this helps."
	got := Extract(raw)
	assert.True(t, got.Confirmed)
	assert.NoError(t, Validate(got.Code, TypeFlowchart))
}
