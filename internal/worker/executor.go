package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/metavida/wellness-automation/internal/domain"
	"github.com/metavida/wellness-automation/internal/engine"
	"github.com/metavida/wellness-automation/internal/store"
)

var (
	ErrCircuitOpen = errors.New("mail circuit open")
	ErrThrottled   = errors.New("recipient email limit reached")
	ErrNoRecipient = errors.New("user has no email address")
)

// RiskGroupName is the group churn alerts file users into.
const RiskGroupName = "Alto Risco de Churn (IA)"

// ActionExecutor interprets journey steps against a user. Database side
// effects go through the caller's repository so they commit or roll back with
// the surrounding unit of work.
type ActionExecutor struct {
	mailer   Mailer
	breaker  *engine.CircuitBreaker
	throttle *engine.EmailThrottle
	logger   *slog.Logger
	timeout  time.Duration
	taskDue  time.Duration
	now      func() time.Time
}

// NewActionExecutor builds an executor. A nil mailer turns SEND_EMAIL into a
// logged no-op that still counts as success.
func NewActionExecutor(mailer Mailer, logger *slog.Logger) *ActionExecutor {
	return &ActionExecutor{
		mailer:  mailer,
		logger:  logger.With("component", "executor"),
		timeout: 10 * time.Second,
		taskDue: 24 * time.Hour,
		now:     time.Now,
	}
}

func (x *ActionExecutor) WithCircuitBreaker(cb *engine.CircuitBreaker) *ActionExecutor {
	x.breaker = cb
	return x
}

func (x *ActionExecutor) WithThrottle(t *engine.EmailThrottle) *ActionExecutor {
	x.throttle = t
	return x
}

func (x *ActionExecutor) WithTimeout(d time.Duration) *ActionExecutor {
	if d > 0 {
		x.timeout = d
	}
	return x
}

// Execute runs one step. Undecodable configuration and unknown action types
// are permanent failures; everything else that fails may succeed on retry.
func (x *ActionExecutor) Execute(ctx context.Context, repo store.Repository, step domain.Step, user domain.User) engine.ActionResult {
	cfg, err := step.Config()
	if err != nil {
		return engine.PermanentlyFailed(fmt.Errorf("step %d: %w", step.ID, err))
	}

	ctx, cancel := context.WithTimeout(ctx, x.timeout)
	defer cancel()

	switch c := cfg.(type) {
	case domain.SendEmailConfig:
		return x.sendEmail(ctx, c, user)
	case domain.CreateTaskConfig:
		return x.createTask(ctx, repo, c, user)
	case domain.ChangeStatusConfig:
		return x.changeStatus(ctx, repo, c, user)
	case domain.CreateGroupConfig:
		return x.createGroup(ctx, repo, c, user)
	case domain.AddToGroupConfig:
		return x.addToGroup(ctx, repo, c, user)
	default:
		return engine.PermanentlyFailed(fmt.Errorf("%w: %s", domain.ErrUnknownActionType, step.ActionType))
	}
}

func (x *ActionExecutor) sendEmail(ctx context.Context, c domain.SendEmailConfig, user domain.User) engine.ActionResult {
	body := c.Body
	if body == "" {
		tmpl, ok := emailTemplates[c.Template]
		if !ok {
			return engine.PermanentlyFailed(fmt.Errorf("%w: unknown email template %q", domain.ErrInvalidActionConfig, c.Template))
		}
		body = tmpl
	}
	if user.Email == "" {
		return engine.PermanentlyFailed(fmt.Errorf("user %d: %w", user.ID, ErrNoRecipient))
	}

	msg := Message{
		To:      user.Email,
		ToName:  user.Name,
		Subject: render(c.Subject, user, c.Data),
		Body:    render(body, user, c.Data),
	}

	if x.mailer == nil {
		x.logger.Warn("mail transport not configured, email not sent",
			"user_id", user.ID,
			"subject", msg.Subject,
		)
		return engine.Succeeded("mail transport not configured")
	}

	if x.breaker != nil {
		if _, ok := x.breaker.Allow(ctx, engine.ChannelMail); !ok {
			return engine.Failed(ErrCircuitOpen)
		}
	}
	if x.throttle != nil && !x.throttle.Allow(ctx, user.Email) {
		return engine.Failed(ErrThrottled)
	}

	if err := x.mailer.Send(ctx, msg); err != nil {
		if errors.Is(err, ErrMailRejected) {
			// The server answered, so the channel itself is healthy.
			return engine.PermanentlyFailed(err)
		}
		if x.breaker != nil {
			x.breaker.RecordFailure(ctx, engine.ChannelMail)
		}
		return engine.Failed(err)
	}
	if x.breaker != nil {
		x.breaker.RecordSuccess(ctx, engine.ChannelMail)
	}

	return engine.Succeeded("email sent to " + user.Email)
}

func (x *ActionExecutor) createTask(ctx context.Context, repo store.Repository, c domain.CreateTaskConfig, user domain.User) engine.ActionResult {
	task, err := repo.CreateTask(ctx, domain.Task{
		UserID:          user.ID,
		Title:           render(c.Title, user, nil),
		Description:     render(c.Description, user, nil),
		Priority:        c.Priority,
		ActivityType:    c.ActivityType,
		DurationMinutes: c.DurationMinutes,
		DueAt:           x.now().Add(x.taskDue),
	})
	if err != nil {
		return engine.Failed(err)
	}
	return engine.Succeeded(fmt.Sprintf("task %d created", task.ID))
}

func (x *ActionExecutor) changeStatus(ctx context.Context, repo store.Repository, c domain.ChangeStatusConfig, user domain.User) engine.ActionResult {
	active := c.Status == domain.StatusActive
	if err := repo.SetUserActive(ctx, user.ID, active); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return engine.PermanentlyFailed(err)
		}
		return engine.Failed(err)
	}
	return engine.Succeeded("status set to " + c.Status)
}

// createGroup finds or creates the group in the user's tenant and files the
// user into it.
func (x *ActionExecutor) createGroup(ctx context.Context, repo store.Repository, c domain.CreateGroupConfig, user domain.User) engine.ActionResult {
	group, created, err := repo.FindOrCreateGroup(ctx, domain.Group{
		TenantID:    user.TenantID,
		Name:        c.Name,
		Description: c.Description,
		Color:       c.Color,
	})
	if err != nil {
		return engine.Failed(err)
	}
	if _, err := repo.AddGroupMember(ctx, group.ID, user.ID); err != nil {
		return engine.Failed(err)
	}
	if created {
		return engine.Succeeded(fmt.Sprintf("group %d created", group.ID))
	}
	return engine.Succeeded(fmt.Sprintf("group %d reused", group.ID))
}

func (x *ActionExecutor) addToGroup(ctx context.Context, repo store.Repository, c domain.AddToGroupConfig, user domain.User) engine.ActionResult {
	group, err := repo.GetGroup(ctx, c.GroupID)
	if err != nil {
		return engine.Failed(err)
	}
	if group == nil {
		return engine.PermanentlyFailed(fmt.Errorf("group %d: %w", c.GroupID, domain.ErrNotFound))
	}
	if group.TenantID != nil && (user.TenantID == nil || *user.TenantID != *group.TenantID) {
		return engine.PermanentlyFailed(fmt.Errorf("group %d belongs to another tenant: %w", group.ID, domain.ErrForbidden))
	}

	added, err := repo.AddGroupMember(ctx, group.ID, user.ID)
	if err != nil {
		return engine.Failed(err)
	}
	if !added {
		return engine.Succeeded("already a member")
	}
	return engine.Succeeded(fmt.Sprintf("added to group %d", group.ID))
}

// render fills {user_name}, {user_email} (and their Portuguese spellings)
// plus one {key} per data entry.
func render(text string, user domain.User, data map[string]string) string {
	if !strings.Contains(text, "{") {
		return text
	}
	pairs := []string{
		"{user_name}", user.Name,
		"{user_email}", user.Email,
		"{usuario_nome}", user.Name,
		"{usuario_email}", user.Email,
	}
	for k, v := range data {
		pairs = append(pairs, "{"+k+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(text)
}
