// Package bot implements the per-tenant chat backend. It receives the
// callbacks relayed by the front proxy, guards them against duplicate
// delivery, and dispatches text commands.
package bot

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"problembot/internal/domain"
	"problembot/internal/notify"
	"problembot/internal/source"
)

const maxPayloadBytes = 1 << 20

// DedupGate atomically tests and records an inbound event id.
type DedupGate interface {
	Check(ctx context.Context, scope, eventID string) (bool, error)
}

// SubscriptionAPI is the slice of the upstream portal API the bot needs.
type SubscriptionAPI interface {
	SearchSubscriptions(ctx context.Context, f source.SubscriptionFilter) ([]domain.Subscription, error)
	AddSubscription(ctx context.Context, sub domain.Subscription) error
	DeleteSubscription(ctx context.Context, id int64) error
	Stats(ctx context.Context, period source.StatPeriod) (domain.StatSummary, error)
}

// Composer renders outbound message bodies.
type Composer interface {
	Problem(r domain.Record, s domain.Subscription) string
	Digest(period, date string, st domain.StatSummary) string
}

// WatermarkReader exposes the import cursor for /repeat_last.
type WatermarkReader interface {
	Get(ctx context.Context, task string) (domain.Watermark, bool, error)
}

// Fetcher loads records after a given id.
type Fetcher interface {
	Fetch(ctx context.Context, afterID int64) ([]domain.Record, error)
}

// Service is one tenant's backend.
type Service struct {
	Tenant     domain.Tenant
	Dedup      DedupGate
	API        SubscriptionAPI
	Composer   Composer
	Transport  notify.Transport
	Watermarks WatermarkReader
	Fetcher    Fetcher

	commands []Command
}

func NewService(tenant domain.Tenant, dedup DedupGate, api SubscriptionAPI, composer Composer, transport notify.Transport, watermarks WatermarkReader, fetcher Fetcher) *Service {
	return &Service{
		Tenant:     tenant,
		Dedup:      dedup,
		API:        api,
		Composer:   composer,
		Transport:  transport,
		Watermarks: watermarks,
		Fetcher:    fetcher,
		commands:   defaultCommands(),
	}
}

func (s *Service) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.Recoverer)
	r.Post("/callback", s.handleCallback)
	return r
}

type outcome struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

func writeOutcome(w http.ResponseWriter, out outcome) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(out)
}

func (s *Service) handleCallback(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxPayloadBytes))
	if err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	in, err := parseInbound(s.Tenant.Kind, body)
	if err != nil {
		log.Error().Err(err).Str("tenant", s.Tenant.Code).Msg("unparseable callback")
		writeOutcome(w, outcome{Success: false, Error: err.Error()})
		return
	}

	// VK re-verifies group callbacks with a plain-text challenge.
	if in.Confirmation {
		log.Info().Str("tenant", s.Tenant.Code).Msg("answering verification challenge")
		w.Write([]byte(s.Tenant.ConfirmationCode))
		return
	}

	if in.EventID != "" {
		fresh, err := s.Dedup.Check(r.Context(), s.Tenant.Code, in.EventID)
		if err != nil {
			log.Error().Err(err).Str("tenant", s.Tenant.Code).Str("event", in.EventID).Msg("dedup write failed")
		}
		if !fresh {
			log.Info().Str("tenant", s.Tenant.Code).Str("event", in.EventID).Msg("duplicate event skipped")
			writeOutcome(w, outcome{Success: false, Error: "already processed"})
			return
		}
	}

	if err := s.dispatch(r.Context(), in); err != nil {
		log.Error().Err(err).Str("tenant", s.Tenant.Code).Int64("chat", in.ChatID).Msg("command failed")
		s.replyError(r.Context(), in.ChatID)
		writeOutcome(w, outcome{Success: false, Error: err.Error()})
		return
	}
	writeOutcome(w, outcome{Success: true})
}

// dispatch routes a normalized update to the first matching command.
// Joining a chat counts as an implicit subscription request.
func (s *Service) dispatch(ctx context.Context, in Inbound) error {
	if in.NewChatMember {
		log.Info().Str("tenant", s.Tenant.Code).Int64("chat", in.ChatID).Str("title", in.ChatTitle).Msg("added to chat, subscribing")
		return cmdSubscribe(ctx, s, in, []string{"", ""})
	}

	for _, cmd := range s.commands {
		if m := cmd.Pattern.FindStringSubmatch(in.Text); m != nil {
			return cmd.Handle(ctx, s, in, m)
		}
	}
	log.Debug().Str("tenant", s.Tenant.Code).Int64("chat", in.ChatID).Msg("no command matched")
	return nil
}

func (s *Service) replyError(ctx context.Context, chatID int64) {
	if chatID == 0 {
		return
	}
	if err := s.Transport.Send(ctx, chatID, "Произошла ошибка, попробуйте позже", nil); err != nil {
		log.Error().Err(err).Int64("chat", chatID).Msg("error reply failed")
	}
}
