package protocol

import (
	"encoding/json"
	"log/slog"
)

// MessageType discriminates between message kinds.
type MessageType string

const (
	MessageTypeStepStart  MessageType = "step_start"
	MessageTypeText       MessageType = "text"
	MessageTypeToolCall   MessageType = "tool_call"
	MessageTypeToolUse    MessageType = "tool_use"
	MessageTypeToolResult MessageType = "tool_result"
	MessageTypeStepFinish MessageType = "step_finish"
	MessageTypeError      MessageType = "error"
)

// Message is the interface for all protocol messages.
type Message interface {
	MsgType() MessageType
}

// ToolState carries the execution state embedded in tool_use parts.
type ToolState struct {
	Input  map[string]interface{} `json:"input,omitempty"`
	Status string                 `json:"status,omitempty"`
	Output string                 `json:"output,omitempty"`
}

// Part is the inner payload shared by all non-error messages. Which fields
// are populated depends on the message type.
type Part struct {
	Input     map[string]interface{} `json:"input,omitempty"`
	SessionID string                 `json:"sessionID,omitempty"`
	Text      string                 `json:"text,omitempty"`
	Tool      string                 `json:"tool,omitempty"`
	Output    string                 `json:"output,omitempty"`
	Reason    string                 `json:"reason,omitempty"`
	State     ToolState              `json:"state,omitempty"`
}

// ToolInput returns the tool arguments, whichever field the CLI put them in.
// tool_call messages carry arguments at part.input; tool_use messages carry
// them at part.state.input.
func (p Part) ToolInput() map[string]interface{} {
	if p.Input != nil {
		return p.Input
	}
	return p.State.Input
}

// StepStartMessage marks the start of a reasoning/tool-use turn.
type StepStartMessage struct {
	Type MessageType `json:"type"`
	Part Part        `json:"part"`
}

// MsgType returns the message type.
func (m StepStartMessage) MsgType() MessageType { return MessageTypeStepStart }

// TextMessage carries assistant text output.
type TextMessage struct {
	Type MessageType `json:"type"`
	Part Part        `json:"part"`
}

// MsgType returns the message type.
func (m TextMessage) MsgType() MessageType { return MessageTypeText }

// ToolCallMessage announces a tool invocation with its arguments.
type ToolCallMessage struct {
	Type MessageType `json:"type"`
	Part Part        `json:"part"`
}

// MsgType returns the message type.
func (m ToolCallMessage) MsgType() MessageType { return MessageTypeToolCall }

// ToolUseMessage carries a tool invocation together with its execution state.
type ToolUseMessage struct {
	Type MessageType `json:"type"`
	Part Part        `json:"part"`
}

// MsgType returns the message type.
func (m ToolUseMessage) MsgType() MessageType { return MessageTypeToolUse }

// ToolResultMessage carries a standalone tool result.
type ToolResultMessage struct {
	Type MessageType `json:"type"`
	Part Part        `json:"part"`
}

// MsgType returns the message type.
func (m ToolResultMessage) MsgType() MessageType { return MessageTypeToolResult }

// StepFinishMessage marks the end of one turn, with the stop reason.
type StepFinishMessage struct {
	Type MessageType `json:"type"`
	Part Part        `json:"part"`
}

// MsgType returns the message type.
func (m StepFinishMessage) MsgType() MessageType { return MessageTypeStepFinish }

// ErrorMessage is a fatal agent error. Unlike the other kinds it carries a
// top-level error string instead of a part.
type ErrorMessage struct {
	Type  MessageType `json:"type"`
	Error string      `json:"error"`
}

// MsgType returns the message type.
func (m ErrorMessage) MsgType() MessageType { return MessageTypeError }

// ParseMessage parses a raw JSON object into a typed message.
// Unknown message types return (nil, nil) so callers can skip them without
// treating forward-compatible additions as failures.
func ParseMessage(data []byte) (Message, error) {
	var base struct {
		Type MessageType `json:"type"`
	}
	if err := json.Unmarshal(data, &base); err != nil {
		return nil, err
	}

	switch base.Type {
	case MessageTypeStepStart:
		var m StepStartMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, err
		}
		return m, nil
	case MessageTypeText:
		var m TextMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, err
		}
		return m, nil
	case MessageTypeToolCall:
		var m ToolCallMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, err
		}
		return m, nil
	case MessageTypeToolUse:
		var m ToolUseMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, err
		}
		return m, nil
	case MessageTypeToolResult:
		var m ToolResultMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, err
		}
		return m, nil
	case MessageTypeStepFinish:
		var m StepFinishMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, err
		}
		return m, nil
	case MessageTypeError:
		var m ErrorMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, err
		}
		return m, nil
	default:
		slog.Debug("skipping unknown message type", "type", base.Type)
		return nil, nil
	}
}
