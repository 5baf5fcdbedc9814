package api

// Wire types for the completion and chat completion endpoints. Optional
// knobs are pointers so absent and zero-valued fields stay distinguishable.

// CompletionRequest is the body of POST /v1/completions.
type CompletionRequest struct {
	Model             string   `json:"model,omitempty"`
	Prompt            Prompt   `json:"prompt"`
	MaxTokens         *int     `json:"max_tokens,omitempty"`
	Temperature       *float64 `json:"temperature,omitempty"`
	TopK              *int     `json:"top_k,omitempty"`
	TopP              *float64 `json:"top_p,omitempty"`
	MinP              *float64 `json:"min_p,omitempty"`
	RepetitionPenalty *float64 `json:"repetition_penalty,omitempty"`
	Seed              *int64   `json:"seed,omitempty"`
	Stop              any      `json:"stop,omitempty"`
	Stream            bool     `json:"stream,omitempty"`
	TimeoutMs         *int     `json:"timeout_ms,omitempty"`
	User              string   `json:"user,omitempty"`
}

// CompletionResponse is the non-streaming reply of POST /v1/completions.
type CompletionResponse struct {
	ID      string             `json:"id"`
	Object  string             `json:"object"`
	Created int64              `json:"created"`
	Model   string             `json:"model"`
	Choices []CompletionChoice `json:"choices"`
	Usage   *Usage             `json:"usage,omitempty"`
}

// CompletionChoice holds one generated continuation.
type CompletionChoice struct {
	Index        int     `json:"index"`
	Text         string  `json:"text"`
	FinishReason *string `json:"finish_reason"`
}

// ChatCompletionRequest is the body of POST /v1/chat/completions.
type ChatCompletionRequest struct {
	Model             string        `json:"model,omitempty"`
	Messages          []ChatMessage `json:"messages"`
	MaxTokens         *int          `json:"max_tokens,omitempty"`
	Temperature       *float64      `json:"temperature,omitempty"`
	TopK              *int          `json:"top_k,omitempty"`
	TopP              *float64      `json:"top_p,omitempty"`
	MinP              *float64      `json:"min_p,omitempty"`
	RepetitionPenalty *float64      `json:"repetition_penalty,omitempty"`
	Seed              *int64        `json:"seed,omitempty"`
	Stop              any           `json:"stop,omitempty"`
	Stream            bool          `json:"stream,omitempty"`
	TimeoutMs         *int          `json:"timeout_ms,omitempty"`
	User              string        `json:"user,omitempty"`

	// Session names a server-held conversation. When set, the server keeps
	// the transcript and cache between calls and only the latest user
	// message needs to be sent.
	Session string `json:"session,omitempty"`
}

// ChatMessage is one turn of a chat transcript on the wire.
type ChatMessage struct {
	Role             string `json:"role"`
	Content          string `json:"content"`
	ReasoningContent string `json:"reasoning_content,omitempty"`
}

// ChatCompletionResponse is the non-streaming reply of
// POST /v1/chat/completions.
type ChatCompletionResponse struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []ChatChoice `json:"choices"`
	Usage   *Usage       `json:"usage,omitempty"`
}

// ChatChoice holds one chat reply. Message is set on full responses and
// Delta on streaming chunks.
type ChatChoice struct {
	Index        int          `json:"index"`
	Message      *ChatMessage `json:"message,omitempty"`
	Delta        *ChatDelta   `json:"delta,omitempty"`
	FinishReason *string      `json:"finish_reason"`
}

// ChatDelta is the incremental payload of a streaming chunk. Every field
// is optional; the final chunk carries an empty delta.
type ChatDelta struct {
	Role             string `json:"role,omitempty"`
	Content          string `json:"content,omitempty"`
	ReasoningContent string `json:"reasoning_content,omitempty"`
}

// ChatCompletionChunk is one streamed SSE frame of
// POST /v1/chat/completions.
type ChatCompletionChunk struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []ChatChoice `json:"choices"`
	Usage   *Usage       `json:"usage,omitempty"`
}

// Usage reports token accounting for a request. CachedTokens counts prompt
// positions served from the session cache instead of being recomputed.
type Usage struct {
	PromptTokens        int                  `json:"prompt_tokens"`
	CompletionTokens    int                  `json:"completion_tokens"`
	TotalTokens         int                  `json:"total_tokens"`
	PromptTokensDetails *PromptTokensDetails `json:"prompt_tokens_details,omitempty"`
}

// PromptTokensDetails itemises the prompt token count.
type PromptTokensDetails struct {
	CachedTokens int `json:"cached_tokens"`
}

// Model describes one entry of GET /v1/models.
type Model struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

// ModelList is the reply of GET /v1/models.
type ModelList struct {
	Object string  `json:"object"`
	Data   []Model `json:"data"`
}
