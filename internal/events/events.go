package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"autoliker/internal/domain"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

const (
	SubjectLiked          = "autolike.liked"
	SubjectDeactivated    = "autolike.account.deactivated"
	SubjectCycleCompleted = "autolike.cycle.completed"
)

type Conn interface {
	PublishMsg(msg *nats.Msg) error
}

type LikedEvent struct {
	AccountKey string    `json:"accountKey"`
	CastHash   string    `json:"castHash"`
	TargetFID  uint64    `json:"targetFid"`
	LikedAt    time.Time `json:"likedAt"`
}

type DeactivatedEvent struct {
	AccountKey          string    `json:"accountKey"`
	ConsecutiveFailures int       `json:"consecutiveFailures"`
	DeactivatedAt       time.Time `json:"deactivatedAt"`
}

type CycleCompletedEvent struct {
	StartedAt      time.Time `json:"startedAt"`
	FinishedAt     time.Time `json:"finishedAt"`
	DueAccounts    int       `json:"dueAccounts"`
	TotalProcessed int       `json:"totalProcessed"`
	TotalLiked     int       `json:"totalLiked"`
	TotalSkipped   int       `json:"totalSkipped"`
	TotalErrors    int       `json:"totalErrors"`
}

// Publisher emits dispatch events on NATS with the trace context in the
// message headers. A nil *Publisher publishes nothing.
type Publisher struct {
	nc  Conn
	log *slog.Logger
}

func NewPublisher(nc Conn, log *slog.Logger) *Publisher {
	return &Publisher{nc: nc, log: log}
}

func (p *Publisher) PublishLiked(ctx context.Context, rec domain.LikedRecord) error {
	return p.publish(ctx, SubjectLiked, LikedEvent{
		AccountKey: rec.ActorKey,
		CastHash:   rec.ContentID,
		TargetFID:  rec.TargetFID,
		LikedAt:    rec.RecordedAt,
	})
}

func (p *Publisher) PublishDeactivated(
	ctx context.Context,
	accountKey string,
	failures int,
	at time.Time,
) error {
	return p.publish(ctx, SubjectDeactivated, DeactivatedEvent{
		AccountKey:          accountKey,
		ConsecutiveFailures: failures,
		DeactivatedAt:       at,
	})
}

func (p *Publisher) PublishCycleCompleted(ctx context.Context, s domain.CycleSummary) error {
	return p.publish(ctx, SubjectCycleCompleted, CycleCompletedEvent{
		StartedAt:      s.StartedAt,
		FinishedAt:     s.FinishedAt,
		DueAccounts:    s.DueAccounts,
		TotalProcessed: s.TotalProcessed,
		TotalLiked:     s.TotalLiked,
		TotalSkipped:   s.TotalSkipped,
		TotalErrors:    s.TotalErrors,
	})
}

func (p *Publisher) publish(ctx context.Context, subject string, event any) error {
	if p == nil {
		return nil
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	msg := &nats.Msg{
		Subject: subject,
		Data:    data,
		Header:  nats.Header{},
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(msg.Header))

	if err = p.nc.PublishMsg(msg); err != nil {
		return fmt.Errorf("publish event (subject = %s): %w", subject, err)
	}

	p.log.DebugContext(ctx, "Event is published",
		"subject", subject)

	return nil
}
