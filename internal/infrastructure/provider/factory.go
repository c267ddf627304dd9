package provider

import (
	"strings"

	"go.uber.org/zap"

	"github.com/safeclaw/safeclaw/internal/domain/entity"
	"github.com/safeclaw/safeclaw/internal/domain/service"
)

// New resolves a stored credential to a concrete service.Provider. The
// credential's Provider name decides the wire format: anything containing
// "anthropic" speaks the Messages API, everything else is treated as an
// OpenAI-chat-completions-compatible endpoint (§6 supports "any provider
// exposing that shape" per the Non-goals' explicit vendor neutrality).
func New(cred entity.Credential, logger *zap.Logger) service.Provider {
	if strings.Contains(strings.ToLower(cred.Provider), "anthropic") {
		return NewAnthropic(cred, logger)
	}
	return NewOpenAI(cred, logger)
}
