package notify

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// LogNotifier writes codes to the log instead of sending mail.
// Use it only for local development.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// SendCode logs the code at info level.
func (n *LogNotifier) SendCode(_ context.Context, email, code string, ttl time.Duration) error {
	n.logger.Info("verification code issued",
		zap.String("email", email),
		zap.String("code", code),
		zap.Duration("ttl", ttl),
	)
	return nil
}
