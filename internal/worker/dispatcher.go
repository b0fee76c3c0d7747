package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/metavida/wellness-automation/internal/domain"
	"github.com/metavida/wellness-automation/internal/engine"
	"github.com/metavida/wellness-automation/internal/store"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultBatchSize = 50
	dispatchLockKey  = "dispatch"
)

// ErrDispatchBusy is returned when another process holds the dispatch lock.
var ErrDispatchBusy = errors.New("another dispatch pass is running")

// Per-event statuses.
const (
	StatusProcessed = "processed"
	StatusSkipped   = "skipped"
	StatusFailed    = "failed"
	// StatusAlreadyProcessed marks an event another pass committed first.
	// Nothing of this pass was kept for it.
	StatusAlreadyProcessed = "already_processed"
)

// EventOutcome is the result of handling one event. Skipped events are still
// marked processed; failed ones stay pending for the next pass.
type EventOutcome struct {
	EventID   int64
	EventType string
	Status    string
	Reason    string
	Err       error

	activities []engine.Activity
}

// Summary aggregates one dispatch pass. EventsProcessed counts every event
// this pass marked processed, skipped ones included.
type Summary struct {
	EventsConsidered       int `json:"events_considered"`
	EventsProcessed        int `json:"events_processed"`
	EventsSkipped          int `json:"events_skipped"`
	EventsFailed           int `json:"events_failed"`
	EventsAlreadyProcessed int `json:"events_already_processed"`

	Outcomes []EventOutcome `json:"-"`
}

func (s *Summary) add(o EventOutcome) {
	s.Outcomes = append(s.Outcomes, o)
	switch o.Status {
	case StatusProcessed:
		s.EventsProcessed++
	case StatusSkipped:
		s.EventsProcessed++
		s.EventsSkipped++
	case StatusFailed:
		s.EventsFailed++
	case StatusAlreadyProcessed:
		s.EventsAlreadyProcessed++
	}
}

// Reaction is built-in behaviour run for every event of a type, before
// journey fan-out, inside the event's transaction. user is nil when the event
// names no user or the user no longer exists.
type Reaction func(ctx context.Context, repo store.Repository, event domain.Event, user *domain.User) error

type DispatcherConfig struct {
	BatchSize    int
	EventTimeout time.Duration
	LockTTL      time.Duration
}

// Dispatcher makes single passes over the pending event log. Each event is
// handled in its own transaction: side effects and the processed flag commit
// together or not at all.
type Dispatcher struct {
	store     store.Store
	fanout    *engine.FanOutEngine
	locker    engine.Locker
	notifier  engine.Notifier
	reactions map[string][]Reaction
	cfg       DispatcherConfig
	logger    *slog.Logger
	flight    singleflight.Group
}

func NewDispatcher(st store.Store, fanout *engine.FanOutEngine, locker engine.Locker, notifier engine.Notifier, cfg DispatcherConfig, logger *slog.Logger) *Dispatcher {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.EventTimeout <= 0 {
		cfg.EventTimeout = 30 * time.Second
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 2 * time.Minute
	}
	if notifier == nil {
		notifier = engine.NopNotifier
	}

	d := &Dispatcher{
		store:     st,
		fanout:    fanout,
		locker:    locker,
		notifier:  notifier,
		reactions: map[string][]Reaction{},
		cfg:       cfg,
		logger:    logger.With("component", "dispatcher"),
	}
	d.On(domain.EventChurnAlert, FileIntoRiskGroup)
	return d
}

// On registers a built-in reaction for eventType.
func (d *Dispatcher) On(eventType string, r Reaction) {
	d.reactions[eventType] = append(d.reactions[eventType], r)
}

// Run makes one pass over up to batchSize pending events, oldest first. A
// batchSize of zero or less uses the configured default. Concurrent callers in
// this process share a pass; across processes the dispatch lock serializes
// passes and ErrDispatchBusy is returned to the loser.
func (d *Dispatcher) Run(ctx context.Context, batchSize int) (Summary, error) {
	if batchSize <= 0 {
		batchSize = d.cfg.BatchSize
	}

	v, err, _ := d.flight.Do(dispatchLockKey, func() (any, error) {
		return d.run(ctx, batchSize)
	})
	summary, _ := v.(Summary)
	return summary, err
}

func (d *Dispatcher) run(ctx context.Context, batchSize int) (Summary, error) {
	release, err := d.locker.TryLock(ctx, dispatchLockKey, d.cfg.LockTTL)
	if err != nil {
		if errors.Is(err, engine.ErrLocked) {
			return Summary{}, ErrDispatchBusy
		}
		return Summary{}, fmt.Errorf("acquiring dispatch lock: %w", err)
	}
	defer release()

	start := time.Now()

	events, err := d.store.FetchUnprocessedEvents(ctx, batchSize)
	if err != nil {
		return Summary{}, fmt.Errorf("fetching unprocessed events: %w", err)
	}

	var summary Summary
	summary.EventsConsidered = len(events)

	for _, ev := range events {
		if ctx.Err() != nil {
			break
		}

		outcome := d.processEvent(ctx, ev)
		summary.add(outcome)
		d.publish(outcome)
	}

	d.logger.Info("dispatch pass completed",
		"considered", summary.EventsConsidered,
		"processed", summary.EventsProcessed,
		"skipped", summary.EventsSkipped,
		"failed", summary.EventsFailed,
		"already_processed", summary.EventsAlreadyProcessed,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	d.notifier.Notify(engine.Activity{
		Type:      engine.ActivityDispatchCompleted,
		Summary:   summary,
		Timestamp: time.Now(),
	})

	return summary, ctx.Err()
}

// errRetry rolls back an event's transaction without it being a store error.
var errRetry = errors.New("event left pending for retry")

func (d *Dispatcher) processEvent(ctx context.Context, ev domain.Event) EventOutcome {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.EventTimeout)
	defer cancel()

	var outcome EventOutcome
	err := d.store.WithinTx(ctx, func(repo store.Repository) error {
		outcome = d.handle(ctx, repo, ev)
		if outcome.Status == StatusFailed {
			return errRetry
		}

		marked, err := repo.MarkEventProcessed(ctx, ev.ID)
		if err != nil {
			return err
		}
		if !marked {
			outcome = EventOutcome{Status: StatusAlreadyProcessed}
			return errRetry
		}
		return nil
	})

	outcome.EventID = ev.ID
	outcome.EventType = ev.Type

	if err != nil && !errors.Is(err, errRetry) {
		outcome.Status = StatusFailed
		outcome.Err = err
		outcome.activities = nil
	}

	switch outcome.Status {
	case StatusFailed:
		d.logger.Warn("event left pending",
			"event_id", ev.ID,
			"event_type", ev.Type,
			"reason", outcome.Reason,
			"error", outcome.Err,
		)
	case StatusAlreadyProcessed:
		d.logger.Info("event already processed by another pass", "event_id", ev.ID, "event_type", ev.Type)
	case StatusSkipped:
		d.logger.Info("event skipped",
			"event_id", ev.ID,
			"event_type", ev.Type,
			"reason", outcome.Reason,
		)
	default:
		d.logger.Info("event processed", "event_id", ev.ID, "event_type", ev.Type)
	}
	return outcome
}

// handle runs reactions and fan-out for ev. A StatusFailed result means the
// transaction must be discarded.
func (d *Dispatcher) handle(ctx context.Context, repo store.Repository, ev domain.Event) EventOutcome {
	userID, hasUser, err := ev.SubjectUserID()
	if err != nil {
		return EventOutcome{Status: StatusSkipped, Reason: "malformed payload", Err: err}
	}

	var user *domain.User
	if hasUser {
		user, err = repo.GetUser(ctx, userID)
		if err != nil {
			return EventOutcome{Status: StatusFailed, Reason: "loading user", Err: err}
		}
	}

	for _, react := range d.reactions[ev.Type] {
		if err := react(ctx, repo, ev, user); err != nil {
			return EventOutcome{Status: StatusFailed, Reason: "built-in reaction", Err: err}
		}
	}

	if !hasUser {
		return EventOutcome{Status: StatusSkipped, Reason: "no user in payload"}
	}
	if user == nil {
		return EventOutcome{Status: StatusSkipped, Reason: fmt.Sprintf("user %d not found", userID)}
	}

	res, err := d.fanout.FanOut(ctx, repo, ev.Type, *user)
	if err != nil {
		return EventOutcome{Status: StatusFailed, Reason: "enrolling", Err: err}
	}
	if res.Failure != nil {
		return EventOutcome{
			Status:     StatusFailed,
			Reason:     fmt.Sprintf("step %d failed", res.Failure.Step.ID),
			Err:        res.Failure.Action.Err,
			activities: res.Failure.Activities(),
		}
	}

	var acts []engine.Activity
	for _, er := range res.Enrollments {
		acts = append(acts, er.Advance.Activities()...)
	}
	return EventOutcome{Status: StatusProcessed, activities: acts}
}

func (d *Dispatcher) publish(o EventOutcome) {
	if o.Status == StatusAlreadyProcessed {
		return
	}

	now := time.Now()
	for _, a := range o.activities {
		a.EventID = o.EventID
		a.EventType = o.EventType
		d.notifier.Notify(a)
	}

	a := engine.Activity{EventID: o.EventID, EventType: o.EventType, Timestamp: now}
	switch o.Status {
	case StatusProcessed:
		a.Type = engine.ActivityEventProcessed
	case StatusSkipped:
		a.Type = engine.ActivityEventSkipped
		a.Error = o.Reason
	default:
		a.Type = engine.ActivityEventFailed
		a.Error = o.Reason
		if o.Err != nil {
			a.Error = o.Reason + ": " + o.Err.Error()
		}
	}
	d.notifier.Notify(a)
}

// FileIntoRiskGroup adds the alerted user to the churn risk group of their
// tenant, creating the group on first use.
func FileIntoRiskGroup(ctx context.Context, repo store.Repository, ev domain.Event, user *domain.User) error {
	if user == nil {
		return nil
	}
	group, _, err := repo.FindOrCreateGroup(ctx, domain.Group{
		TenantID:    user.TenantID,
		Name:        RiskGroupName,
		Description: "Usuários identificados pela IA com alta probabilidade de cancelamento",
		Color:       "#e74c3c",
	})
	if err != nil {
		return fmt.Errorf("finding risk group: %w", err)
	}
	if _, err := repo.AddGroupMember(ctx, group.ID, user.ID); err != nil {
		return fmt.Errorf("adding user %d to risk group: %w", user.ID, err)
	}
	return nil
}
