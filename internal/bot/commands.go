package bot

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/rs/zerolog/log"

	"problembot/internal/domain"
	"problembot/internal/source"
)

// Command pairs a text pattern with its handler; the first matching
// command wins.
type Command struct {
	Pattern *regexp.Regexp
	Handle  func(ctx context.Context, s *Service, in Inbound, match []string) error
}

func defaultCommands() []Command {
	return []Command{
		{Pattern: regexp.MustCompile(`^(/start|Начать)$`), Handle: cmdStart},
		{Pattern: regexp.MustCompile(`^/subscribe:?(.*)$`), Handle: cmdSubscribe},
		{Pattern: regexp.MustCompile(`^/digest:?(.*)$`), Handle: cmdDigest},
		{Pattern: regexp.MustCompile(`^/repeat_last$`), Handle: cmdRepeatLast},
	}
}

func cmdStart(ctx context.Context, s *Service, in Inbound, _ []string) error {
	txt := "Привет. Я -- чатбот портала \"Наш Санкт-Петербург\"\n" +
		"Мое назначение -- " + s.Tenant.Name + "\n\n" +
		"Вы можете использовать эти текстовые команды для общения со мной:\n\n" +
		"  \"/start\" или \"Начать\" -- это сообщение\n\n" +
		"  \"/subscribe\" -- подписаться на все новые сообщения\n" +
		"  \"/subscribe:daily\" -- подписаться на дайджесты за сутки\n" +
		"  \"/subscribe:clear\" -- удалить текущую подписку\n\n" +
		"  \"/digest\" -- вывести дайджест за все время\n" +
		"  \"/digest:daily\" -- вывести дайджест за последние сутки\n" +
		"  \"/digest:weekly\" -- вывести дайджест за последнюю неделю\n\n" +
		"  \"/repeat_last\" -- повторить последнее обращение\n"
	return s.Transport.Send(ctx, in.ChatID, txt, nil)
}

func modeLabel(mode domain.SubscriptionMode) string {
	switch mode {
	case domain.ModeEvery:
		return "все сообщения по отдельности"
	case domain.ModeDaily:
		return "суточные дайджесты"
	}
	return ""
}

func cmdSubscribe(ctx context.Context, s *Service, in Inbound, match []string) error {
	mode := ""
	if len(match) > 1 {
		mode = match[1]
	}

	current, err := s.API.SearchSubscriptions(ctx, source.SubscriptionFilter{
		BotID:  s.Tenant.ID,
		ChatID: in.ChatID,
	})
	if err != nil {
		return err
	}

	clear := mode == "clear" || mode == "remove" || mode == "delete"
	if len(current) > 0 && !clear {
		return s.Transport.Send(ctx, in.ChatID,
			fmt.Sprintf("Подписка на %s уже активна", modeLabel(current[0].Mode)), nil)
	}

	switch mode {
	case "", "every", "daily":
		sub := domain.Subscription{
			UserID:  in.UserID,
			BotID:   s.Tenant.ID,
			GroupID: s.Tenant.GroupID,
			ChatID:  in.ChatID,
			Mode:    domain.ModeEvery,
		}
		if mode == "daily" {
			sub.Mode = domain.ModeDaily
		}
		if err := s.API.AddSubscription(ctx, sub); err != nil {
			log.Error().Err(err).Str("tenant", s.Tenant.Code).Msg("subscription add failed")
			return s.Transport.Send(ctx, in.ChatID, "Ошибка установки подписки", nil)
		}
		return s.Transport.Send(ctx, in.ChatID,
			fmt.Sprintf("Подписка на %s установлена", modeLabel(sub.Mode)), nil)

	case "clear", "remove", "delete":
		if len(current) == 0 {
			return s.Transport.Send(ctx, in.ChatID, "Активных подписок нет", nil)
		}
		for _, sub := range current {
			if err := s.API.DeleteSubscription(ctx, sub.ID); err != nil {
				log.Error().Err(err).Int64("subscription", sub.ID).Msg("subscription delete failed")
				return s.Transport.Send(ctx, in.ChatID, "Ошибка удаления подписки", nil)
			}
		}
		return s.Transport.Send(ctx, in.ChatID, "Подписка удалена", nil)

	default:
		return s.Transport.Send(ctx, in.ChatID,
			fmt.Sprintf("Неизвестный режим подписки: %s", mode), nil)
	}
}

func cmdDigest(ctx context.Context, s *Service, in Inbound, match []string) error {
	period := source.PeriodGlobal
	if len(match) > 1 {
		switch match[1] {
		case "daily":
			period = source.PeriodDaily
		case "weekly":
			period = source.PeriodWeekly
		}
	}
	stats, err := s.API.Stats(ctx, period)
	if err != nil {
		return err
	}
	body := s.Composer.Digest(string(period), time.Now().Format("02.01.2006"), stats)
	return s.Transport.Send(ctx, in.ChatID, body, nil)
}

// cmdRepeatLast re-sends the most recently imported record to the
// originating chat. The watermark is read, never advanced, here.
func cmdRepeatLast(ctx context.Context, s *Service, in Inbound, _ []string) error {
	w, ok, err := s.Watermarks.Get(ctx, s.Tenant.Code)
	if err != nil || !ok || w.LastID == 0 {
		return s.Transport.Send(ctx, in.ChatID, "Нет импортированных обращений", nil)
	}
	records, err := s.Fetcher.Fetch(ctx, w.LastID-1)
	if err != nil || len(records) == 0 {
		return s.Transport.Send(ctx, in.ChatID, "Нет импортированных обращений", nil)
	}
	r := records[0]
	sub := domain.Subscription{BotID: s.Tenant.ID, GroupID: s.Tenant.GroupID, ChatID: in.ChatID}
	return s.Transport.Send(ctx, in.ChatID, s.Composer.Problem(r, sub), r.PhotoURLs)
}
