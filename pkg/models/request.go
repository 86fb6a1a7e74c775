package models

// Task identifies the kind of inference traffic a request represents.
type Task string

// Supported tasks.
const (
	TaskChat       Task = "text-to-text"
	TaskImageChat  Task = "image-text-to-text"
	TaskEmbeddings Task = "text-to-embeddings"
)

// UserRequest is a single sampled request, built once by the sampler and
// consumed by exactly one executor call.
type UserRequest interface {
	RequestTask() Task
}

// ChatRequest is a text chat completion request.
type ChatRequest struct {
	Model            string
	Prompt           string
	NumPrefillTokens int
	MaxTokens        int

	// Temperature is always sent; 0 keeps generation greedy so output
	// lengths stay comparable across runs.
	Temperature float64

	// AdditionalParams is passed through to the request body verbatim,
	// minus keys the adapter owns (stream, use_prompt_format).
	AdditionalParams map[string]any
}

// RequestTask implements UserRequest.
func (r *ChatRequest) RequestTask() Task { return TaskChat }

// ImageChatRequest is a chat request carrying image content as data URLs.
type ImageChatRequest struct {
	ChatRequest

	// ImageContent holds complete data URLs, one per image.
	ImageContent []string
}

// RequestTask implements UserRequest.
func (r *ImageChatRequest) RequestTask() Task { return TaskImageChat }

// EmbeddingRequest is an embeddings request.
type EmbeddingRequest struct {
	Model            string
	Input            []string
	NumPrefillTokens int
	EncodingFormat   string
}

// RequestTask implements UserRequest.
func (r *EmbeddingRequest) RequestTask() Task { return TaskEmbeddings }
