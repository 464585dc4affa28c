package ws

// AG-UI (Agent-User Interaction) event types emitted by the agent loop so a
// frontend can stream tool activity as it happens.
const (
	AGUIRunStarted  = "agui.run_started"
	AGUIRunFinished = "agui.run_finished"
	AGUITextMessage = "agui.text_message"
	AGUIToolCall    = "agui.tool_call"
	AGUIToolResult  = "agui.tool_result"
)

// AGUIRunStartedEvent signals that an agent run has begun.
type AGUIRunStartedEvent struct {
	RunID string `json:"run_id"`
	Model string `json:"model,omitempty"`
}

// AGUIRunFinishedEvent signals that an agent run has stopped.
type AGUIRunFinishedEvent struct {
	RunID      string `json:"run_id"`
	Status     string `json:"status"` // termination reason, or "failed"
	Iterations int    `json:"iterations"`
}

// AGUITextMessageEvent carries the agent's final text.
type AGUITextMessageEvent struct {
	RunID   string `json:"run_id"`
	Role    string `json:"role"`
	Content string `json:"content"`
}

// AGUIToolCallEvent signals an action requested by the model.
type AGUIToolCallEvent struct {
	RunID     string `json:"run_id"`
	CallID    string `json:"call_id"`
	Name      string `json:"name"`
	Args      string `json:"args"` // raw, possibly malformed, argument text
	Iteration int    `json:"iteration"`
}

// AGUIToolResultEvent carries the outcome of an action.
type AGUIToolResultEvent struct {
	RunID  string `json:"run_id"`
	CallID string `json:"call_id"`
	Result string `json:"result"`
	Error  bool   `json:"error,omitempty"`
}
