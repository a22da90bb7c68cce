package llm

import (
	"log/slog"
	"time"
)

// ModeMock selects the mock backend.
const ModeMock = "MOCK"

// NewBackend creates the inference backend for mode. GOGO_MODE=MOCK selects
// the MockBackend; anything else talks to LiteLLM.
func NewBackend(mode, baseURL, apiKey string, timeout time.Duration, logger *slog.Logger) Backend {
	if mode == ModeMock {
		logger.Info("GOGO_MODE=MOCK detected, using mock inference backend")
		return NewMockBackend()
	}
	logger.Info("using LiteLLM inference backend", "url", baseURL)
	return NewChatBackend(NewClient(baseURL, apiKey, timeout))
}
