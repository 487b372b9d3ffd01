package bot

import (
	"encoding/json"
	"fmt"
	"strings"

	"problembot/internal/domain"
)

// Inbound is the transport-neutral shape of an incoming chat update.
type Inbound struct {
	EventID       string
	ChatID        int64
	UserID        int64
	GroupID       int64
	Text          string
	ChatTitle     string
	NewChatMember bool
	Confirmation  bool
}

type vkUpdate struct {
	Type    string          `json:"type"`
	GroupID int64           `json:"group_id"`
	EventID json.RawMessage `json:"event_id"`
	Object  struct {
		Message struct {
			PeerID int64  `json:"peer_id"`
			FromID int64  `json:"from_id"`
			Text   string `json:"text"`
		} `json:"message"`
	} `json:"object"`
}

type tgUpdate struct {
	UpdateID int64 `json:"update_id"`
	Message  struct {
		From struct {
			ID int64 `json:"id"`
		} `json:"from"`
		Chat struct {
			ID    int64  `json:"id"`
			Title string `json:"title"`
		} `json:"chat"`
		Text           string          `json:"text"`
		NewChatMember  json.RawMessage `json:"new_chat_member"`
		LeftChatMember json.RawMessage `json:"left_chat_member"`
	} `json:"message"`
}

// parseInbound normalizes a VK or Telegram callback body.
func parseInbound(kind domain.TenantKind, body []byte) (Inbound, error) {
	switch kind {
	case domain.TenantVK:
		var u vkUpdate
		if err := json.Unmarshal(body, &u); err != nil {
			return Inbound{}, fmt.Errorf("malformed vk update: %w", err)
		}
		in := Inbound{
			EventID:      strings.Trim(string(u.EventID), `"`),
			GroupID:      u.GroupID,
			ChatID:       u.Object.Message.PeerID,
			UserID:       u.Object.Message.FromID,
			Text:         u.Object.Message.Text,
			Confirmation: u.Type == "confirmation",
		}
		if in.Confirmation {
			return in, nil
		}
		if in.ChatID == 0 {
			return Inbound{}, fmt.Errorf("callback without chat id")
		}
		return in, nil

	case domain.TenantTelegram:
		var u tgUpdate
		if err := json.Unmarshal(body, &u); err != nil {
			return Inbound{}, fmt.Errorf("malformed telegram update: %w", err)
		}
		if u.Message.Chat.ID == 0 {
			return Inbound{}, fmt.Errorf("callback without chat id")
		}
		return Inbound{
			EventID:       fmt.Sprintf("%d", u.UpdateID),
			ChatID:        u.Message.Chat.ID,
			UserID:        u.Message.From.ID,
			Text:          u.Message.Text,
			ChatTitle:     u.Message.Chat.Title,
			NewChatMember: len(u.Message.NewChatMember) > 0,
		}, nil

	default:
		return Inbound{}, fmt.Errorf("unsupported tenant kind %q", kind)
	}
}
