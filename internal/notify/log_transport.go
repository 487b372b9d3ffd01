package notify

import (
	"context"

	"github.com/rs/zerolog/log"
)

// LogTransport writes outbound messages to the log instead of a chat
// platform. It stands in wherever no SDK transport has been wired for a
// tenant, so the pipeline around it stays observable.
type LogTransport struct {
	Tenant string
}

func (t LogTransport) Send(_ context.Context, chatID int64, body string, photoURLs []string) error {
	log.Info().
		Str("tenant", t.Tenant).
		Int64("chat", chatID).
		Int("photos", len(photoURLs)).
		Str("body", body).
		Msg("outbound message")
	return nil
}
