package app

import (
	"testing"

	"serpassist/pkg/ai"
	"serpassist/pkg/domain"
)

func TestFormatForProviderKeepsEveryRole(t *testing.T) {
	history := []domain.Message{
		{Role: domain.RoleUser, Content: "look up ACME"},
		{Role: domain.RoleAssistant, Content: "Calling the CRM tool.", FunctionCall: &domain.FunctionCall{
			Name: "lookup_customer", Arguments: map[string]any{"name": "ACME"},
		}},
		{Role: domain.RoleFunction, Content: `{"revenue": 12000}`},
		{Role: domain.RoleSystem, Content: "Tool budget exhausted."},
	}

	messages := formatForProvider("Be helpful.", false, history, "so what now?")
	if len(messages) != 6 {
		t.Fatalf("expected system + 4 history + current turn, got %d", len(messages))
	}
	wantRoles := []string{ai.RoleSystem, ai.RoleUser, ai.RoleAssistant, ai.RoleFunction, ai.RoleSystem, ai.RoleUser}
	for i, want := range wantRoles {
		if messages[i].Role != want {
			t.Fatalf("message %d role: got %q want %q", i, messages[i].Role, want)
		}
	}
	call := messages[2].FunctionCall
	if call == nil || call.Name != "lookup_customer" {
		t.Fatalf("function call lost: %+v", messages[2])
	}
	if call.Arguments["name"] != "ACME" {
		t.Fatalf("function arguments lost: %+v", call.Arguments)
	}
	if messages[3].Content != `{"revenue": 12000}` {
		t.Fatalf("function result content: %q", messages[3].Content)
	}
	if last := messages[len(messages)-1]; last.Content != "so what now?" {
		t.Fatalf("current turn misplaced: %+v", last)
	}
}

func TestFormatForProviderSkipsOnlyEmptySystem(t *testing.T) {
	messages := formatForProvider("", true, nil, "hello")
	if len(messages) != 1 || messages[0].Role != ai.RoleUser {
		t.Fatalf("expected the bare user turn, got %+v", messages)
	}
}
