// Package compose renders notification texts for the chat transports.
package compose

import (
	"fmt"
	"strings"

	"problembot/internal/domain"
)

const (
	appLinkFormat    = "https://vk.com/app%d_-%d#card=%d"
	portalLinkFormat = "https://gorod.gov.spb.ru/problems/%d"
)

type Composer struct {
	// HTML switches Telegram-flavored markup on; VK messages stay plain.
	HTML bool
}

// Problem renders the notification text for a single record.
func (c Composer) Problem(r domain.Record, s domain.Subscription) string {
	date := r.CreatedAt.Format("02.01.2006")
	appLink := fmt.Sprintf(appLinkFormat, 7710919, 198213785, r.ID)
	portalLink := fmt.Sprintf(portalLinkFormat, r.ID)

	body := r.Body
	if body == "" {
		body = "--"
	}

	if !c.HTML {
		return fmt.Sprintf("%s: %s\nID: %d\n\n%s\n\nДополнительная информация:\n%s",
			date, r.Reason, r.ID, body, appLink)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "⌚%s 🆔: %d\n<b>%s</b>\n\n", date, r.ID, r.Reason)
	if r.Address != "" {
		fmt.Fprintf(&b, "%s\n\n", r.Address)
	}
	if r.Public {
		fmt.Fprintf(&b, "%s\n\n", body)
		fmt.Fprintf(&b, "Дополнительная информация:\n<a href=%q>%s</a>\n\n<a href=%q>%s</a>",
			portalLink, portalLink, appLink, appLink)
	} else {
		b.WriteString("Подробности скрыты модератором либо заявка принята по горячей линии 004.")
	}
	return b.String()
}

// Digest renders the periodic summary message.
func (c Composer) Digest(period string, date string, st domain.StatSummary) string {
	var span string
	switch period {
	case "weekly":
		span = "последнюю неделю"
	case "daily":
		span = "последние сутки"
	default:
		span = "все время"
	}
	return fmt.Sprintf("%s: Дайджест за %s:\nВсего обращений: %d\nЗавершено обращений: %d",
		date, span, st.Total, st.Resolved)
}
