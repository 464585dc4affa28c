package messagequeue

// RequestPayload is the schema for requests.inbound messages.
type RequestPayload struct {
	RequestID   string           `json:"request_id"`
	Sender      string           `json:"sender,omitempty"` // Gateway user, the intake rate-limit key
	Message     string           `json:"message"`
	Prior       []MessagePayload `json:"prior,omitempty"`
	RecentFiles []string         `json:"recent_files,omitempty"`
	Model       string           `json:"model,omitempty"`
}

// MessagePayload is a prior conversation turn.
type MessagePayload struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ReplyPayload is the schema for requests.reply.{request_id} messages.
type ReplyPayload struct {
	RequestID         string   `json:"request_id"`
	Text              string   `json:"text"`
	Intent            string   `json:"intent"`
	ActionsUsed       []string `json:"actions_used,omitempty"`
	Iterations        int      `json:"iterations"`
	TerminationReason string   `json:"termination_reason,omitempty"`
	BuildID           string   `json:"build_id,omitempty"`
	Error             string   `json:"error,omitempty"`
}

// BuildStagePayload is the schema for builds.stage.{build_id} messages.
type BuildStagePayload struct {
	BuildID    string   `json:"build_id"`
	Seq        int      `json:"seq"`
	Stage      string   `json:"stage"`
	Attempt    int      `json:"attempt"`
	Detail     string   `json:"detail"`
	IssueCodes []string `json:"issue_codes,omitempty"`
	Score      *int     `json:"score,omitempty"`
}
