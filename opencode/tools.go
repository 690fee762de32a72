package opencode

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/invopop/jsonschema"
)

// Reserved tool names. The wrapped agent self-reports through these; the
// supervisor intercepts them instead of surfacing them as ordinary tool use.
const (
	CompleteTaskToolName = "complete_task"
	WriteTodosToolName   = "write_todos"
)

// isCompleteTaskTool matches the reserved complete-task tool by name or
// suffix; MCP-style prefixed names (mcp__server__complete_task) must match.
func isCompleteTaskTool(name string) bool {
	return strings.HasSuffix(name, CompleteTaskToolName)
}

// isWriteTodosTool matches the reserved checklist tool by name or suffix.
func isWriteTodosTool(name string) bool {
	return strings.HasSuffix(name, WriteTodosToolName)
}

// WriteTodosArgs are the arguments of the reserved write_todos tool.
type WriteTodosArgs struct {
	Todos []TodoItem `json:"todos" jsonschema:"required,description=The full checklist replacing any previous one"`
}

// ToolDefinition describes a reserved tool for external config generators.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

// ReservedTools returns the definitions of the reserved tools, with JSON
// schemas generated from the typed argument structs. Per-provider config
// generation (outside this package) embeds these so the agent knows how to
// self-report.
func ReservedTools() []ToolDefinition {
	return []ToolDefinition{
		{
			Name: CompleteTaskToolName,
			Description: "Report the final outcome of the assigned task. " +
				"Must be called exactly once, when the task is finished, blocked, or only partially done.",
			InputSchema: generateSchema[CompleteTaskArgs](),
		},
		{
			Name: WriteTodosToolName,
			Description: "Replace the task checklist with the given items. " +
				"Keep it current; success cannot be claimed while items are open.",
			InputSchema: generateSchema[WriteTodosArgs](),
		},
	}
}

// generateSchema uses reflection to create a JSON schema from a Go struct
// type, parsing jsonschema struct tags.
func generateSchema[T any]() json.RawMessage {
	reflector := &jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}

	var zero T
	schema := reflector.Reflect(zero)

	bytes, err := json.Marshal(schema)
	if err != nil {
		// This should never happen with valid types
		panic(fmt.Sprintf("failed to generate schema for type %T: %v", zero, err))
	}

	return json.RawMessage(bytes)
}

// completeTaskArgsFromInput extracts CompleteTaskArgs from a raw tool input
// map. Missing or mistyped fields become zero values; the enforcer treats an
// unknown status as blocked rather than failing.
func completeTaskArgsFromInput(input map[string]interface{}) CompleteTaskArgs {
	return CompleteTaskArgs{
		Status:                 stringField(input, "status"),
		Summary:                stringField(input, "summary"),
		OriginalRequestSummary: stringField(input, "original_request_summary"),
		RemainingWork:          stringField(input, "remaining_work"),
	}
}

// todosFromInput extracts the checklist from a raw write_todos input map.
func todosFromInput(input map[string]interface{}) []TodoItem {
	raw, ok := input["todos"].([]interface{})
	if !ok {
		return nil
	}

	items := make([]TodoItem, 0, len(raw))
	for _, entry := range raw {
		m, ok := entry.(map[string]interface{})
		if !ok {
			continue
		}
		items = append(items, TodoItem{
			ID:      stringField(m, "id"),
			Content: stringField(m, "content"),
			Status:  stringField(m, "status"),
		})
	}
	return items
}

func stringField(m map[string]interface{}, key string) string {
	s, _ := m[key].(string)
	return s
}
