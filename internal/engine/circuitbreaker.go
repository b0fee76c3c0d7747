package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Circuit breaker states
const (
	StateClosed   = "closed"
	StateOpen     = "open"
	StateHalfOpen = "half-open"
)

// ChannelMail is the breaker key for outbound email.
const ChannelMail = "mail"

// CircuitBreaker guards an outbound action channel such as SMTP. After
// failureThreshold consecutive failures the channel opens and actions on it
// fail fast until cooldown has passed; then one trial request is let through.
type CircuitBreaker struct {
	redisClient      *redis.Client
	logger           *slog.Logger
	failureThreshold int
	cooldownPeriod   time.Duration
	now              func() time.Time
}

type CircuitBreakerState struct {
	State        string `json:"state"`
	Failures     int    `json:"failures"`
	LastFailedAt string `json:"last_failed_at,omitempty"`
}

func NewCircuitBreaker(redisClient *redis.Client, logger *slog.Logger) *CircuitBreaker {
	return &CircuitBreaker{
		redisClient:      redisClient,
		logger:           logger.With("component", "circuit_breaker"),
		failureThreshold: 5,
		cooldownPeriod:   time.Minute,
		now:              time.Now,
	}
}

func cbKey(channel string) string {
	return fmt.Sprintf("cb:action:%s", channel)
}

type cbSnapshot struct {
	state        string
	failures     int
	lastFailedAt int64
}

func (cb *CircuitBreaker) load(ctx context.Context, channel string) (cbSnapshot, error) {
	data, err := cb.redisClient.HGetAll(ctx, cbKey(channel)).Result()
	if err != nil {
		return cbSnapshot{}, err
	}
	snap := cbSnapshot{state: data["state"]}
	if snap.state == "" {
		snap.state = StateClosed
	}
	snap.failures, _ = strconv.Atoi(data["failures"])
	snap.lastFailedAt, _ = strconv.ParseInt(data["last_failed_at"], 10, 64)
	return snap, nil
}

func (cb *CircuitBreaker) cooledDown(lastFailedAt int64) bool {
	return cb.now().Unix()-lastFailedAt >= int64(cb.cooldownPeriod.Seconds())
}

// Allow reports whether an action on channel may run. Redis errors fail open.
func (cb *CircuitBreaker) Allow(ctx context.Context, channel string) (string, bool) {
	snap, err := cb.load(ctx, channel)
	if err != nil {
		cb.logger.Error("reading circuit state", "channel", channel, "error", err)
		return StateClosed, true
	}

	switch snap.state {
	case StateOpen:
		if !cb.cooledDown(snap.lastFailedAt) {
			return StateOpen, false
		}
		cb.redisClient.HSet(ctx, cbKey(channel), "state", StateHalfOpen)
		cb.logger.Info("circuit half-open", "channel", channel)
		return StateHalfOpen, true
	case StateHalfOpen:
		return StateHalfOpen, true
	default:
		return StateClosed, true
	}
}

// RecordSuccess closes the circuit and clears the failure count.
func (cb *CircuitBreaker) RecordSuccess(ctx context.Context, channel string) {
	key := cbKey(channel)
	prev, _ := cb.redisClient.HGet(ctx, key, "state").Result()

	if err := cb.redisClient.HSet(ctx, key, "state", StateClosed, "failures", 0).Err(); err != nil {
		cb.logger.Error("recording circuit success", "channel", channel, "error", err)
		return
	}
	if prev == StateHalfOpen {
		cb.logger.Info("circuit closed", "channel", channel)
	}
}

// RecordFailure counts a failure and opens the circuit at the threshold or
// when the half-open trial request fails.
func (cb *CircuitBreaker) RecordFailure(ctx context.Context, channel string) {
	key := cbKey(channel)

	failures, err := cb.redisClient.HIncrBy(ctx, key, "failures", 1).Result()
	if err != nil {
		cb.logger.Error("recording circuit failure", "channel", channel, "error", err)
		return
	}
	prev, _ := cb.redisClient.HGet(ctx, key, "state").Result()

	next := prev
	switch {
	case prev == StateHalfOpen:
		next = StateOpen
		cb.logger.Warn("circuit re-opened after failed trial request", "channel", channel)
	case failures >= int64(cb.failureThreshold):
		next = StateOpen
		if prev != StateOpen {
			cb.logger.Warn("circuit opened",
				"channel", channel,
				"failures", failures,
				"threshold", cb.failureThreshold,
			)
		}
	case prev == "":
		next = StateClosed
	}

	cb.redisClient.HSet(ctx, key, "state", next, "last_failed_at", cb.now().Unix())
}

// State returns the circuit for channel as the dashboard shows it.
func (cb *CircuitBreaker) State(ctx context.Context, channel string) CircuitBreakerState {
	snap, err := cb.load(ctx, channel)
	if err != nil {
		return CircuitBreakerState{State: StateClosed}
	}

	state := snap.state
	if state == StateOpen && cb.cooledDown(snap.lastFailedAt) {
		state = StateHalfOpen
	}

	res := CircuitBreakerState{State: state, Failures: snap.failures}
	if snap.lastFailedAt > 0 {
		res.LastFailedAt = time.Unix(snap.lastFailedAt, 0).UTC().Format(time.RFC3339)
	}
	return res
}
