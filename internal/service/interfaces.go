package service

import (
	"context"

	"anitrack/internal/llm"
)

// AIRecommender defines the external recommendation capability. Implementations
// may fail freely; callers fall back to deterministic scoring.
type AIRecommender interface {
	Recommend(ctx context.Context, prompt llm.Prompt) ([]llm.Candidate, error)
}

// Notifier defines capability to deliver a message to a user.
type Notifier interface {
	Deliver(chatID int64, message string) error
}
