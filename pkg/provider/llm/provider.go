// Package llm defines the Provider interface for Large Language Model
// backends used by the finch orchestration core.
//
// An LLM provider wraps a remote or local model API (OpenAI, Groq, Ollama,
// Anthropic, …) and exposes a uniform interface for planning, summarisation,
// and answer composition without coupling to any specific SDK.
//
// Implementors must be safe for concurrent use. Channels returned by
// CompleteStream must be closed by the implementation when the stream ends
// or when the supplied context is cancelled.
package llm

import "context"

// Message represents a single message in a model conversation.
type Message struct {
	// Role is one of "system", "user", or "assistant".
	Role string

	// Content is the text content of the message.
	Content string
}

// Usage holds token accounting returned by the backend. Counts are in the
// model's native token unit and may differ between providers for the same
// textual content.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest carries everything the model needs to produce a
// response. At minimum Messages must be non-empty.
type CompletionRequest struct {
	// Messages is the ordered conversation history. The last message is
	// typically from the "user" role and drives the response.
	Messages []Message

	// SystemPrompt is an optional high-priority instruction injected before
	// the conversation. Providers without a dedicated system slot prepend it
	// as a "system"-role message.
	SystemPrompt string

	// Temperature controls output randomness in [0.0, 2.0]. Zero requests
	// the provider default.
	Temperature float64

	// MaxTokens caps the completion length. Zero means provider default.
	MaxTokens int
}

// CompletionResponse is returned by the non-streaming Complete method.
type CompletionResponse struct {
	// Content is the full text of the model's reply.
	Content string

	// Usage contains token accounting for this request/response pair.
	Usage Usage
}

// FinishError is the FinishReason value carried by the terminal chunk of a
// stream that failed mid-flight. The chunk's Text holds the error message.
const FinishError = "error"

// Chunk is a single fragment emitted by a streaming completion.
type Chunk struct {
	// Text is the incremental text content. May be empty on the final chunk.
	Text string

	// FinishReason is set on the final chunk: "stop" (natural end), "length"
	// (MaxTokens reached), [FinishError], or "" for non-final chunks.
	FinishReason string
}

// Provider is the abstraction over any LLM backend.
//
// Implementations must propagate context cancellation promptly: when ctx is
// cancelled a method must return (or close its channel) as quickly as
// possible. Rate-limit rejections must be surfaced wrapped in
// [fault.ErrRateLimited] so callers can distinguish them from generic
// failures.
type Provider interface {
	// Complete sends req to the model and waits for the full response.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// CompleteStream sends req and returns a read-only channel emitting
	// [Chunk] values as they arrive. The channel is closed by the
	// implementation when generation finishes or ctx is cancelled.
	//
	// Callers must drain the channel to avoid goroutine leaks. Errors that
	// occur after the stream starts are surfaced as a chunk with
	// FinishReason == [FinishError]; the error return is non-nil only for
	// failures that prevent the stream from starting.
	CompleteStream(ctx context.Context, req CompletionRequest) (<-chan Chunk, error)

	// CountTokens estimates how many tokens messages would consume in the
	// model's context window. The result need not be exact but should not
	// undercount; the memory manager uses it to enforce prompt budgets.
	CountTokens(messages []Message) (int, error)
}
