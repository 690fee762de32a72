package protocol

import "testing"

func TestParseMessage_Text(t *testing.T) {
	msg, err := ParseMessage([]byte(`{"type":"text","part":{"sessionID":"ses_9","text":"hello"}}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tm, ok := msg.(TextMessage)
	if !ok {
		t.Fatalf("expected TextMessage, got %T", msg)
	}
	if tm.Part.SessionID != "ses_9" {
		t.Errorf("expected sessionID 'ses_9', got %q", tm.Part.SessionID)
	}
	if tm.MsgType() != MessageTypeText {
		t.Errorf("expected MsgType text, got %q", tm.MsgType())
	}
}

func TestParseMessage_ToolCallInput(t *testing.T) {
	msg, err := ParseMessage([]byte(`{"type":"tool_call","part":{"tool":"bash","input":{"command":"ls"}}}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tc := msg.(ToolCallMessage)
	if tc.Part.Tool != "bash" {
		t.Errorf("expected tool 'bash', got %q", tc.Part.Tool)
	}
	input := tc.Part.ToolInput()
	if input["command"] != "ls" {
		t.Errorf("expected command 'ls', got %v", input["command"])
	}
}

func TestParseMessage_ToolUseStateInput(t *testing.T) {
	raw := `{"type":"tool_use","part":{"tool":"edit","state":{"status":"completed","input":{"path":"a.go"},"output":"edited"}}}`
	msg, err := ParseMessage([]byte(raw))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tu := msg.(ToolUseMessage)
	if tu.Part.State.Status != "completed" {
		t.Errorf("expected status 'completed', got %q", tu.Part.State.Status)
	}
	// tool_use arguments live under part.state.input.
	input := tu.Part.ToolInput()
	if input["path"] != "a.go" {
		t.Errorf("expected path 'a.go', got %v", input["path"])
	}
	if tu.Part.State.Output != "edited" {
		t.Errorf("expected output 'edited', got %q", tu.Part.State.Output)
	}
}

func TestPart_ToolInputPrefersDirectInput(t *testing.T) {
	p := Part{
		Input: map[string]interface{}{"a": "direct"},
		State: ToolState{Input: map[string]interface{}{"a": "nested"}},
	}
	if p.ToolInput()["a"] != "direct" {
		t.Errorf("expected direct input to win, got %v", p.ToolInput()["a"])
	}
}

func TestParseMessage_StepFinish(t *testing.T) {
	msg, err := ParseMessage([]byte(`{"type":"step_finish","part":{"reason":"end_turn"}}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sf := msg.(StepFinishMessage)
	if sf.Part.Reason != "end_turn" {
		t.Errorf("expected reason 'end_turn', got %q", sf.Part.Reason)
	}
}

func TestParseMessage_Error(t *testing.T) {
	msg, err := ParseMessage([]byte(`{"type":"error","error":"rate limit exceeded"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	em := msg.(ErrorMessage)
	if em.Error != "rate limit exceeded" {
		t.Errorf("unexpected error text: %q", em.Error)
	}
}

func TestParseMessage_UnknownType(t *testing.T) {
	msg, err := ParseMessage([]byte(`{"type":"telemetry","data":42}`))
	if err != nil {
		t.Fatalf("unexpected error for unknown type: %v", err)
	}
	if msg != nil {
		t.Errorf("expected nil for unknown type, got %T", msg)
	}
}

func TestParseMessage_InvalidJSON(t *testing.T) {
	if _, err := ParseMessage([]byte(`not json`)); err == nil {
		t.Error("expected error for invalid JSON")
	}
}
