package domain

import "time"

type TenantKind string

const (
	TenantVK       TenantKind = "vk_chat_bot"
	TenantTelegram TenantKind = "tg_chat_bot"
)

// Tenant is one configured chat-bot project: an independent watermark,
// run state and subscription set are kept per tenant.
type Tenant struct {
	ID               int64
	Code             string
	Kind             TenantKind
	Name             string
	Host             string
	Enabled          bool
	GroupID          int64
	AppID            int64
	ConfirmationCode string
	Token            string
}

// Record is an externally sourced problem report. Immutable once fetched;
// fan-out order is ascending by ID.
type Record struct {
	ID        int64
	CreatedAt time.Time
	Reason    string
	Address   string
	Body      string
	Public    bool
	PhotoURLs []string
}

type SubscriptionMode string

const (
	ModeEvery SubscriptionMode = "every"
	ModeDaily SubscriptionMode = "daily"
)

type Subscription struct {
	ID      int64
	UserID  int64
	BotID   int64
	GroupID int64
	ChatID  int64
	Mode    SubscriptionMode
}

// Watermark tracks the highest record id already processed for a tenant
// task. Only the importer's commit step advances it.
type Watermark struct {
	LastID    int64
	UpdatedAt time.Time
}

type RunPhase string

const (
	PhaseIdle     RunPhase = "idle"
	PhaseStarted  RunPhase = "started"
	PhaseFinished RunPhase = "finished"
)

type RunState struct {
	Phase     RunPhase
	StartedAt time.Time
}

// SendOutcome captures one (record, destination) delivery attempt.
type SendOutcome struct {
	RecordID int64
	ChatID   int64
	Err      error
}

// CycleSummary aggregates one fetch/fan-out cycle. A record counts as sent
// only when every resolved destination accepted it.
type CycleSummary struct {
	SentCount int
	SentIDs   []int64
	Failed    []SendOutcome
}

// StatSummary carries digest counters from the source API.
type StatSummary struct {
	Total    int
	Resolved int
}
