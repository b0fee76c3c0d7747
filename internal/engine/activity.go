package engine

import "time"

// Activity types pushed to the live automation feed.
const (
	ActivityEventProcessed      = "event_processed"
	ActivityEventSkipped        = "event_skipped"
	ActivityEventFailed         = "event_failed"
	ActivityStepExecuted        = "step_executed"
	ActivityStepFailed          = "step_failed"
	ActivityEnrollmentCompleted = "enrollment_completed"
	ActivityDispatchCompleted   = "dispatch_completed"
)

// Activity is one entry of the automation feed.
type Activity struct {
	Type         string    `json:"type"`
	EventID      int64     `json:"event_id,omitempty"`
	EventType    string    `json:"event_type,omitempty"`
	JourneyID    int64     `json:"journey_id,omitempty"`
	EnrollmentID int64     `json:"enrollment_id,omitempty"`
	StepID       int64     `json:"step_id,omitempty"`
	UserID       int64     `json:"user_id,omitempty"`
	ActionType   string    `json:"action_type,omitempty"`
	Error        string    `json:"error,omitempty"`
	Summary      any       `json:"summary,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// Notifier receives activities once the work they describe is committed.
type Notifier interface {
	Notify(Activity)
}

type nopNotifier struct{}

func (nopNotifier) Notify(Activity) {}

// NopNotifier discards activities.
var NopNotifier Notifier = nopNotifier{}

// Activities describes what an advance did, in feed form.
func (r AdvanceResult) Activities() []Activity {
	now := time.Now()
	base := Activity{
		JourneyID:    r.Enrollment.JourneyID,
		EnrollmentID: r.Enrollment.ID,
		UserID:       r.Enrollment.UserID,
		Timestamp:    now,
	}

	switch r.Outcome {
	case OutcomeAdvanced:
		a := base
		a.Type = ActivityStepExecuted
		a.StepID = r.Step.ID
		a.ActionType = string(r.Step.ActionType)
		return []Activity{a}
	case OutcomeStepFailed:
		a := base
		a.Type = ActivityStepFailed
		a.StepID = r.Step.ID
		a.ActionType = string(r.Step.ActionType)
		if r.Action.Err != nil {
			a.Error = r.Action.Err.Error()
		}
		return []Activity{a}
	case OutcomeCompleted:
		a := base
		a.Type = ActivityEnrollmentCompleted
		return []Activity{a}
	}
	return nil
}
