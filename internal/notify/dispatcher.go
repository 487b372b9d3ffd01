package notify

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"problembot/internal/domain"
)

// Transport sends a message to one chat destination. Implementations wrap
// the VK or Telegram SDK and are injected at bootstrap.
type Transport interface {
	Send(ctx context.Context, chatID int64, body string, photoURLs []string) error
}

// Composer renders the message text for a record.
type Composer interface {
	Problem(r domain.Record, s domain.Subscription) string
}

// Dispatcher delivers one record to one destination with a fixed pacing
// delay before each send. Sends are strictly sequential; pacing is courtesy
// to transport rate limits, not a correctness mechanism.
type Dispatcher struct {
	Transport Transport
	Composer  Composer
	Pacing    time.Duration

	sleep func(ctx context.Context, d time.Duration) error
}

func NewDispatcher(transport Transport, composer Composer, pacing time.Duration) *Dispatcher {
	return &Dispatcher{
		Transport: transport,
		Composer:  composer,
		Pacing:    pacing,
		sleep:     sleepCtx,
	}
}

// Send composes and delivers the record to the subscription's chat. A
// failure is returned to the caller for accounting and must not abort
// remaining destinations.
func (d *Dispatcher) Send(ctx context.Context, sub domain.Subscription, record domain.Record) error {
	if d.Pacing > 0 {
		if err := d.sleep(ctx, d.Pacing); err != nil {
			return err
		}
	}
	body := d.Composer.Problem(record, sub)
	if err := d.Transport.Send(ctx, sub.ChatID, body, record.PhotoURLs); err != nil {
		log.Error().Err(err).Int64("record", record.ID).Int64("chat", sub.ChatID).Msg("send failed")
		return err
	}
	log.Info().Int64("record", record.ID).Int64("chat", sub.ChatID).Msg("record sent")
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
