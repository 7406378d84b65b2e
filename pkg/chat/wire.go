package chat

import "time"

// WireMessage is the flat message shape the upstream API speaks.
type WireMessage struct {
	Role    string   `json:"role"`             // "system", "user", "assistant"
	Content string   `json:"content"`          // The message content
	Images  []string `json:"images,omitempty"` // Optional base64-encoded images (for multimodal)
}

// ChatRequest represents a chat completion request (Ollama-compatible).
type ChatRequest struct {
	Model    string        `json:"model"`            // Model name (e.g., "llama2", "mistral")
	Messages []WireMessage `json:"messages"`         // Conversation history
	Stream   *bool         `json:"stream,omitempty"` // Whether to stream responses (default: true in Ollama)
	Format   string        `json:"format,omitempty"` // Response format ("json" for JSON mode)

	// Generation options
	Options *Options `json:"options,omitempty"`

	// Keep model loaded
	KeepAlive string `json:"keep_alive,omitempty"` // How long to keep model in memory
}

// ChatResponse represents a chat completion response (Ollama-compatible).
type ChatResponse struct {
	Model     string      `json:"model"`      // Model that generated the response
	CreatedAt time.Time   `json:"created_at"` // Response timestamp
	Message   WireMessage `json:"message"`    // The assistant's response
	Done      bool        `json:"done"`       // Whether generation is complete

	// Metrics (only present when done=true)
	TotalDuration      int64 `json:"total_duration,omitempty"`       // Total time in nanoseconds
	LoadDuration       int64 `json:"load_duration,omitempty"`        // Model load time
	PromptEvalCount    int   `json:"prompt_eval_count,omitempty"`    // Tokens in prompt
	PromptEvalDuration int64 `json:"prompt_eval_duration,omitempty"` // Prompt processing time
	EvalCount          int   `json:"eval_count,omitempty"`           // Generated tokens
	EvalDuration       int64 `json:"eval_duration,omitempty"`        // Generation time
}

// StreamChunk represents a single chunk in a streaming response.
type StreamChunk struct {
	Model     string      `json:"model"`
	CreatedAt time.Time   `json:"created_at"`
	Message   WireMessage `json:"message"`
	Done      bool        `json:"done"`

	// Final chunk includes metrics
	TotalDuration      int64 `json:"total_duration,omitempty"`
	LoadDuration       int64 `json:"load_duration,omitempty"`
	PromptEvalCount    int   `json:"prompt_eval_count,omitempty"`
	PromptEvalDuration int64 `json:"prompt_eval_duration,omitempty"`
	EvalCount          int   `json:"eval_count,omitempty"`
	EvalDuration       int64 `json:"eval_duration,omitempty"`
}

// Options contains model inference parameters.
type Options struct {
	// Sampling parameters
	Temperature *float64 `json:"temperature,omitempty"` // Creativity (0.0-2.0)
	TopP        *float64 `json:"top_p,omitempty"`       // Nucleus sampling threshold
	TopK        *int     `json:"top_k,omitempty"`       // Top-k sampling
	Seed        *int     `json:"seed,omitempty"`        // Random seed for reproducibility

	// Length parameters
	NumPredict *int `json:"num_predict,omitempty"` // Max tokens to generate
	NumCtx     *int `json:"num_ctx,omitempty"`     // Context window size

	// Stop sequences
	Stop []string `json:"stop,omitempty"` // Stop generation at these sequences
}

// ErrorResponse represents an error from the upstream API.
type ErrorResponse struct {
	Error string `json:"error"`
}
