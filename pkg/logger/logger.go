package logger

import "go.uber.org/zap"

// NewLogger builds the production logger used across the assistant.
func NewLogger() *zap.Logger {
	l, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	return l
}

// WithPersona returns a logger scoped to one persona, so every pipeline
// line can be traced back to the mailbox it was produced for.
func WithPersona(logger *zap.Logger, personaKey string) *zap.Logger {
	if personaKey == "" {
		return logger
	}
	return logger.With(zap.String("persona", personaKey))
}
