package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/metavida/wellness-automation/internal/domain"
)

// Repository is the set of queries the automation engine runs. Lookups return
// (nil, nil) when the row does not exist.
type Repository interface {
	RecordEvent(ctx context.Context, eventType string, payload json.RawMessage) (*domain.Event, error)
	FetchUnprocessedEvents(ctx context.Context, limit int) ([]domain.Event, error)
	MarkEventProcessed(ctx context.Context, id int64) (bool, error)
	GetEvent(ctx context.Context, id int64) (*domain.Event, error)
	ListEvents(ctx context.Context, filter domain.EventFilter) ([]domain.Event, error)

	GetUser(ctx context.Context, id int64) (*domain.User, error)
	SetUserActive(ctx context.Context, id int64, active bool) error

	CreateJourney(ctx context.Context, j domain.Journey) (*domain.Journey, error)
	GetJourney(ctx context.Context, id int64) (*domain.Journey, error)
	GetJourneyByName(ctx context.Context, name string) (*domain.Journey, error)
	ListJourneys(ctx context.Context, filter JourneyFilter) ([]domain.Journey, error)
	UpdateJourney(ctx context.Context, j domain.Journey) (*domain.Journey, error)
	DeleteJourney(ctx context.Context, id int64) (bool, error)
	FindTriggeredJourneys(ctx context.Context, eventType string, tenantID *int64) ([]domain.Journey, error)

	CreateStep(ctx context.Context, s domain.Step) (*domain.Step, error)
	GetStep(ctx context.Context, journeyID, stepID int64) (*domain.Step, error)
	ListSteps(ctx context.Context, journeyID int64) ([]domain.Step, error)
	UpdateStep(ctx context.Context, s domain.Step) (*domain.Step, error)
	DeleteStep(ctx context.Context, journeyID, stepID int64) (bool, error)

	CreateEnrollment(ctx context.Context, userID, journeyID int64) (*domain.Enrollment, error)
	GetEnrollment(ctx context.Context, id int64) (*domain.Enrollment, error)
	// GetEnrollmentForUpdate reads an enrollment and locks it until the
	// surrounding transaction ends.
	GetEnrollmentForUpdate(ctx context.Context, id int64) (*domain.Enrollment, error)
	GetActiveEnrollment(ctx context.Context, userID, journeyID int64) (*domain.Enrollment, error)
	UpdateEnrollment(ctx context.Context, e domain.Enrollment) error
	ListEnrollments(ctx context.Context, journeyID int64, completed *bool) ([]domain.Enrollment, error)
	JourneyProgress(ctx context.Context, journeyID int64) (*domain.JourneyProgress, error)

	CreateTask(ctx context.Context, t domain.Task) (*domain.Task, error)
	FindOrCreateGroup(ctx context.Context, g domain.Group) (*domain.Group, bool, error)
	GetGroup(ctx context.Context, id int64) (*domain.Group, error)
	AddGroupMember(ctx context.Context, groupID, userID int64) (bool, error)

	ListExpiringContracts(ctx context.Context, until time.Time) ([]domain.Contract, error)
	MarkContractAlerted(ctx context.Context, id int64, at time.Time) error

	AutomationMetrics(ctx context.Context) (*AutomationMetrics, error)
}

// Store is a Repository that can also run a unit of work atomically. The
// Repository handed to fn sees only the transaction; returning an error from
// fn discards every write it made.
type Store interface {
	Repository
	WithinTx(ctx context.Context, fn func(Repository) error) error
	Ping(ctx context.Context) error
}

// JourneyFilter scopes journey listings to what an actor may read.
type JourneyFilter struct {
	TenantID    *int64
	AllTenants  bool
	TriggerType string
}

// Visible reports whether j passes the filter.
func (f JourneyFilter) Visible(j domain.Journey) bool {
	if f.TriggerType != "" && j.TriggerEventType != f.TriggerType {
		return false
	}
	return f.AllTenants || j.AppliesToTenant(f.TenantID)
}

// AutomationMetrics holds the counters shown on the automation dashboard.
type AutomationMetrics struct {
	TotalEvents          int `json:"total_events"`
	PendingEvents        int `json:"pending_events"`
	ProcessedEvents      int `json:"processed_events"`
	ActiveJourneys       int `json:"active_journeys"`
	ActiveEnrollments    int `json:"active_enrollments"`
	CompletedEnrollments int `json:"completed_enrollments"`
	TasksCreated         int `json:"tasks_created"`
}
