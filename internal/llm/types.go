package llm

// Message represents a single message in a chat conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatParams holds optional parameters for chat completion requests.
type ChatParams struct {
	// Model overrides the client's default model when non-empty.
	Model string

	// MaxTokens caps generation length. Zero means no cap is sent.
	MaxTokens int

	// Temperature controls output randomness. Zero sends the provider default.
	Temperature float32
}
