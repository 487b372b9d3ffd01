// Package proxy is the inbound HTTP entry point. It classifies incoming
// webhook callbacks by tenant and either answers a verification challenge,
// forwards to the tenant's own backend over loopback, or records the event
// for a disabled tenant.
package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"problembot/internal/domain"
)

const (
	answerOK    = "ok"
	answerError = "error"

	// legacy shared alias accepted for every tenant host
	defaultAliasHost = "tech.petersburg.ru"

	maxPayloadBytes = 1 << 20
)

// DedupGate suppresses repeat delivery of inbound events for disabled
// tenants.
type DedupGate interface {
	Seen(ctx context.Context, scope, eventID string) bool
	MarkSeen(ctx context.Context, scope, eventID string) error
}

// Handler routes inbound callbacks across all configured tenants.
type Handler struct {
	Tenants   []domain.Tenant
	Dedup     DedupGate
	BasePort  int
	AliasHost string

	// ForwardBase is the scheme+host prefix for tenant backends; the port
	// is derived from BasePort plus the tenant's position.
	ForwardBase string
	Client      *http.Client
}

func NewHandler(tenants []domain.Tenant, dedup DedupGate, basePort int) *Handler {
	return &Handler{
		Tenants:     tenants,
		Dedup:       dedup,
		BasePort:    basePort,
		AliasHost:   defaultAliasHost,
		ForwardBase: "http://127.0.0.1",
		Client:      &http.Client{Timeout: 30 * time.Second},
	}
}

func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)
	r.Post("/callback", h.handleCallback)
	return r
}

type callbackPayload struct {
	Type     string          `json:"type"`
	GroupID  int64           `json:"group_id"`
	EventID  json.RawMessage `json:"event_id"`
	UpdateID json.RawMessage `json:"update_id"`
}

// eventID normalizes the inbound event identifier; Telegram updates carry
// update_id instead of event_id.
func (p callbackPayload) eventID() string {
	for _, raw := range []json.RawMessage{p.EventID, p.UpdateID} {
		if len(raw) == 0 {
			continue
		}
		return strings.Trim(string(raw), `"`)
	}
	return ""
}

func (h *Handler) handleCallback(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxPayloadBytes))
	if err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	var payload callbackPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		log.Error().Err(err).Msg("callback with malformed body")
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	answer := answerOK
	decided := false

	// A request can collide with more than one tenant host; the first
	// decisive outcome wins and extra matches are logged.
	for i, tn := range h.Tenants {
		if !h.matches(r.Host, tn, payload) {
			continue
		}
		if decided {
			log.Warn().Str("tenant", tn.Code).Str("host", r.Host).Msg("ambiguous callback match ignored")
			continue
		}

		switch {
		case tn.Enabled && payload.Type == "confirmation":
			log.Info().Str("tenant", tn.Code).Msg("answering verification challenge")
			answer = tn.ConfirmationCode
			decided = true

		case tn.Enabled:
			if err := h.forward(r.Context(), i, r.Host, body); err != nil {
				log.Error().Err(err).Str("tenant", tn.Code).Msg("tenant backend forward failed")
				answer = answerError
			} else {
				answer = answerOK
			}
			decided = true

		default:
			// Tenant is disabled: record the event so upstream retries are
			// suppressed, but do not process it.
			eventID := payload.eventID()
			if eventID == "" {
				continue
			}
			if h.Dedup.Seen(r.Context(), tn.Code, eventID) {
				log.Info().Str("tenant", tn.Code).Str("event", eventID).Msg("event already recorded, skipping")
				continue
			}
			if err := h.Dedup.MarkSeen(r.Context(), tn.Code, eventID); err != nil {
				log.Error().Err(err).Str("tenant", tn.Code).Str("event", eventID).Msg("dedup write failed")
			}
			answer = answerError
			decided = true
		}
	}

	w.Write([]byte(answer))
}

func (h *Handler) matches(host string, tn domain.Tenant, payload callbackPayload) bool {
	if host != tn.Host && host != h.AliasHost {
		return false
	}
	switch tn.Kind {
	case domain.TenantVK:
		return payload.GroupID == tn.GroupID
	case domain.TenantTelegram:
		return true
	default:
		return false
	}
}

// forward relays the raw request body to the tenant backend listening on a
// deterministic loopback port.
func (h *Handler) forward(ctx context.Context, index int, host string, body []byte) error {
	url := fmt.Sprintf("%s:%d/callback", h.ForwardBase, h.BasePort+1+index)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Forwarded-Host", host)

	resp, err := h.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("tenant backend answered %d", resp.StatusCode)
	}
	return nil
}
