// Package memstore is an in-memory store.Store. Transactions work on a copy of
// the data that replaces the original only when the unit of work succeeds.
package memstore

import (
	"context"
	"encoding/json"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/metavida/wellness-automation/internal/domain"
	"github.com/metavida/wellness-automation/internal/store"
)

type memberKey struct {
	groupID int64
	userID  int64
}

type data struct {
	seq         int64
	events      map[int64]domain.Event
	users       map[int64]domain.User
	journeys    map[int64]domain.Journey
	steps       map[int64]domain.Step
	enrollments map[int64]domain.Enrollment
	tasks       map[int64]domain.Task
	groups      map[int64]domain.Group
	members     map[memberKey]time.Time
	contracts   map[int64]domain.Contract
}

func newData() *data {
	return &data{
		events:      map[int64]domain.Event{},
		users:       map[int64]domain.User{},
		journeys:    map[int64]domain.Journey{},
		steps:       map[int64]domain.Step{},
		enrollments: map[int64]domain.Enrollment{},
		tasks:       map[int64]domain.Task{},
		groups:      map[int64]domain.Group{},
		members:     map[memberKey]time.Time{},
		contracts:   map[int64]domain.Contract{},
	}
}

func (d *data) clone() *data {
	return &data{
		seq:         d.seq,
		events:      maps.Clone(d.events),
		users:       maps.Clone(d.users),
		journeys:    maps.Clone(d.journeys),
		steps:       maps.Clone(d.steps),
		enrollments: maps.Clone(d.enrollments),
		tasks:       maps.Clone(d.tasks),
		groups:      maps.Clone(d.groups),
		members:     maps.Clone(d.members),
		contracts:   maps.Clone(d.contracts),
	}
}

func (d *data) nextID() int64 {
	d.seq++
	return d.seq
}

// repo implements store.Repository. The top-level store locks mu around each
// call; a transaction view has mu == nil because the store lock is already
// held for the whole unit of work.
type repo struct {
	mu  *sync.Mutex
	d   *data
	now func() time.Time
}

func (r *repo) lock() func() {
	if r.mu == nil {
		return func() {}
	}
	r.mu.Lock()
	return r.mu.Unlock
}

// Store is safe for concurrent use. Transactions are serialized.
type Store struct {
	repo
	mu sync.Mutex
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	s := &Store{}
	s.repo = repo{mu: &s.mu, d: newData(), now: time.Now}
	return s
}

// SetClock replaces the time source, for tests.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) Close() {}

func (s *Store) WithinTx(ctx context.Context, fn func(store.Repository) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	tx := &repo{d: s.d.clone(), now: s.now}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.d = tx.d
	return nil
}

// PutUser inserts or replaces a CRM user. Users are owned by the wider CRM, so
// the automation Repository never creates them.
func (s *Store) PutUser(u domain.User) domain.User {
	defer s.lock()()
	if u.ID == 0 {
		u.ID = s.d.nextID()
	} else if u.ID > s.d.seq {
		s.d.seq = u.ID
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = s.now()
	}
	s.d.users[u.ID] = u
	return u
}

func (s *Store) PutContract(c domain.Contract) domain.Contract {
	defer s.lock()()
	if c.ID == 0 {
		c.ID = s.d.nextID()
	}
	s.d.contracts[c.ID] = c
	return c
}

// Tasks returns the tasks assigned to userID in creation order.
func (s *Store) Tasks(userID int64) []domain.Task {
	defer s.lock()()
	var out []domain.Task
	for _, t := range s.d.tasks {
		if t.UserID == userID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// GroupMembers returns the user ids in groupID, sorted.
func (s *Store) GroupMembers(groupID int64) []int64 {
	defer s.lock()()
	var out []int64
	for k := range s.d.members {
		if k.groupID == groupID {
			out = append(out, k.userID)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (s *Store) Contract(id int64) (domain.Contract, bool) {
	defer s.lock()()
	c, ok := s.d.contracts[id]
	return c, ok
}

func (r *repo) RecordEvent(_ context.Context, eventType string, payload json.RawMessage) (*domain.Event, error) {
	defer r.lock()()
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}
	e := domain.Event{
		ID:         r.d.nextID(),
		Type:       eventType,
		Payload:    append(json.RawMessage(nil), payload...),
		RecordedAt: r.now(),
	}
	r.d.events[e.ID] = e
	return &e, nil
}

func (r *repo) FetchUnprocessedEvents(_ context.Context, limit int) ([]domain.Event, error) {
	defer r.lock()()
	var pending []domain.Event
	for _, e := range r.d.events {
		if !e.Processed {
			pending = append(pending, e)
		}
	}
	sortEventsAsc(pending)
	if limit > 0 && len(pending) > limit {
		pending = pending[:limit]
	}
	return nonNil(pending), nil
}

func (r *repo) MarkEventProcessed(_ context.Context, id int64) (bool, error) {
	defer r.lock()()
	e, ok := r.d.events[id]
	if !ok || e.Processed {
		return false, nil
	}
	now := r.now()
	e.Processed = true
	e.ProcessedAt = &now
	r.d.events[id] = e
	return true, nil
}

func (r *repo) GetEvent(_ context.Context, id int64) (*domain.Event, error) {
	defer r.lock()()
	e, ok := r.d.events[id]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (r *repo) ListEvents(_ context.Context, filter domain.EventFilter) ([]domain.Event, error) {
	defer r.lock()()
	var out []domain.Event
	for _, e := range r.d.events {
		if filter.Type != "" && e.Type != filter.Type {
			continue
		}
		if filter.Processed != nil && e.Processed != *filter.Processed {
			continue
		}
		out = append(out, e)
	}
	sortEventsAsc(out)
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return nonNil(out), nil
}

func (r *repo) GetUser(_ context.Context, id int64) (*domain.User, error) {
	defer r.lock()()
	u, ok := r.d.users[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (r *repo) SetUserActive(_ context.Context, id int64, active bool) error {
	defer r.lock()()
	u, ok := r.d.users[id]
	if !ok {
		return domain.ErrNotFound
	}
	u.Active = active
	r.d.users[id] = u
	return nil
}

func (r *repo) CreateJourney(_ context.Context, j domain.Journey) (*domain.Journey, error) {
	defer r.lock()()
	now := r.now()
	j.ID = r.d.nextID()
	j.CreatedAt, j.UpdatedAt = now, now
	r.d.journeys[j.ID] = j
	return &j, nil
}

func (r *repo) GetJourney(_ context.Context, id int64) (*domain.Journey, error) {
	defer r.lock()()
	j, ok := r.d.journeys[id]
	if !ok {
		return nil, nil
	}
	return &j, nil
}

func (r *repo) GetJourneyByName(_ context.Context, name string) (*domain.Journey, error) {
	defer r.lock()()
	var found *domain.Journey
	for _, j := range r.d.journeys {
		if j.Name == name && (found == nil || j.ID < found.ID) {
			j := j
			found = &j
		}
	}
	return found, nil
}

func (r *repo) ListJourneys(_ context.Context, filter store.JourneyFilter) ([]domain.Journey, error) {
	defer r.lock()()
	var out []domain.Journey
	for _, j := range r.d.journeys {
		if filter.Visible(j) {
			out = append(out, j)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID > out[b].ID })
	return nonNil(out), nil
}

func (r *repo) UpdateJourney(_ context.Context, j domain.Journey) (*domain.Journey, error) {
	defer r.lock()()
	cur, ok := r.d.journeys[j.ID]
	if !ok {
		return nil, nil
	}
	cur.Name = j.Name
	cur.Description = j.Description
	cur.TriggerEventType = j.TriggerEventType
	cur.Active = j.Active
	cur.UpdatedAt = r.now()
	r.d.journeys[j.ID] = cur
	return &cur, nil
}

func (r *repo) DeleteJourney(_ context.Context, id int64) (bool, error) {
	defer r.lock()()
	if _, ok := r.d.journeys[id]; !ok {
		return false, nil
	}
	delete(r.d.journeys, id)
	for sid, s := range r.d.steps {
		if s.JourneyID == id {
			delete(r.d.steps, sid)
		}
	}
	for eid, e := range r.d.enrollments {
		if e.JourneyID == id {
			delete(r.d.enrollments, eid)
		}
	}
	return true, nil
}

func (r *repo) FindTriggeredJourneys(_ context.Context, eventType string, tenantID *int64) ([]domain.Journey, error) {
	defer r.lock()()
	var out []domain.Journey
	for _, j := range r.d.journeys {
		if j.Active && j.TriggerEventType == eventType && j.AppliesToTenant(tenantID) {
			out = append(out, j)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return nonNil(out), nil
}

func (r *repo) orderTaken(journeyID int64, order int, exceptID int64) bool {
	for _, s := range r.d.steps {
		if s.JourneyID == journeyID && s.Order == order && s.ID != exceptID {
			return true
		}
	}
	return false
}

func (r *repo) CreateStep(_ context.Context, s domain.Step) (*domain.Step, error) {
	defer r.lock()()
	if r.orderTaken(s.JourneyID, s.Order, 0) {
		return nil, domain.ErrDuplicateStepOrder
	}
	s.ID = r.d.nextID()
	s.ActionConfig = append(json.RawMessage(nil), s.ActionConfig...)
	r.d.steps[s.ID] = s
	return &s, nil
}

func (r *repo) GetStep(_ context.Context, journeyID, stepID int64) (*domain.Step, error) {
	defer r.lock()()
	s, ok := r.d.steps[stepID]
	if !ok || s.JourneyID != journeyID {
		return nil, nil
	}
	return &s, nil
}

func (r *repo) ListSteps(_ context.Context, journeyID int64) ([]domain.Step, error) {
	defer r.lock()()
	var out []domain.Step
	for _, s := range r.d.steps {
		if s.JourneyID == journeyID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Order < out[b].Order })
	return nonNil(out), nil
}

func (r *repo) UpdateStep(_ context.Context, s domain.Step) (*domain.Step, error) {
	defer r.lock()()
	cur, ok := r.d.steps[s.ID]
	if !ok || cur.JourneyID != s.JourneyID {
		return nil, nil
	}
	if r.orderTaken(s.JourneyID, s.Order, s.ID) {
		return nil, domain.ErrDuplicateStepOrder
	}
	r.d.steps[s.ID] = s
	return &s, nil
}

func (r *repo) DeleteStep(_ context.Context, journeyID, stepID int64) (bool, error) {
	defer r.lock()()
	s, ok := r.d.steps[stepID]
	if !ok || s.JourneyID != journeyID {
		return false, nil
	}
	delete(r.d.steps, stepID)
	for id, e := range r.d.enrollments {
		if e.CurrentStepID != nil && *e.CurrentStepID == stepID {
			e.CurrentStepID = nil
			r.d.enrollments[id] = e
		}
	}
	return true, nil
}

func (r *repo) activeEnrollment(userID, journeyID int64) (domain.Enrollment, bool) {
	for _, e := range r.d.enrollments {
		if e.UserID == userID && e.JourneyID == journeyID && !e.Completed {
			return e, true
		}
	}
	return domain.Enrollment{}, false
}

func (r *repo) CreateEnrollment(_ context.Context, userID, journeyID int64) (*domain.Enrollment, error) {
	defer r.lock()()
	if _, ok := r.activeEnrollment(userID, journeyID); ok {
		return nil, domain.ErrAlreadyEnrolled
	}
	e := domain.Enrollment{
		ID:        r.d.nextID(),
		UserID:    userID,
		JourneyID: journeyID,
		StartedAt: r.now(),
	}
	r.d.enrollments[e.ID] = e
	return &e, nil
}

func (r *repo) GetEnrollment(_ context.Context, id int64) (*domain.Enrollment, error) {
	defer r.lock()()
	e, ok := r.d.enrollments[id]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

// GetEnrollmentForUpdate needs no row lock: transactions are serialized.
func (r *repo) GetEnrollmentForUpdate(ctx context.Context, id int64) (*domain.Enrollment, error) {
	return r.GetEnrollment(ctx, id)
}

func (r *repo) GetActiveEnrollment(_ context.Context, userID, journeyID int64) (*domain.Enrollment, error) {
	defer r.lock()()
	e, ok := r.activeEnrollment(userID, journeyID)
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (r *repo) UpdateEnrollment(_ context.Context, e domain.Enrollment) error {
	defer r.lock()()
	cur, ok := r.d.enrollments[e.ID]
	if !ok {
		return domain.ErrNotFound
	}
	cur.CurrentStepID = e.CurrentStepID
	cur.CurrentStepOrder = e.CurrentStepOrder
	cur.Completed = e.Completed
	cur.CompletedAt = e.CompletedAt
	r.d.enrollments[e.ID] = cur
	return nil
}

func (r *repo) ListEnrollments(_ context.Context, journeyID int64, completed *bool) ([]domain.Enrollment, error) {
	defer r.lock()()
	var out []domain.Enrollment
	for _, e := range r.d.enrollments {
		if e.JourneyID != journeyID {
			continue
		}
		if completed != nil && e.Completed != *completed {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return nonNil(out), nil
}

func (r *repo) JourneyProgress(_ context.Context, journeyID int64) (*domain.JourneyProgress, error) {
	defer r.lock()()
	p := domain.JourneyProgress{JourneyID: journeyID, Steps: []domain.StepProgress{}}
	perStep := map[int64]int{}
	for _, e := range r.d.enrollments {
		if e.JourneyID != journeyID {
			continue
		}
		p.Total++
		switch {
		case e.Completed:
			p.Completed++
		case e.CurrentStepOrder == nil:
			p.InProgress++
			p.NotStarted++
		default:
			p.InProgress++
			if e.CurrentStepID != nil {
				perStep[*e.CurrentStepID]++
			}
		}
	}
	for _, s := range r.d.steps {
		if s.JourneyID == journeyID {
			p.Steps = append(p.Steps, domain.StepProgress{
				StepID: s.ID, Name: s.Name, Order: s.Order, Enrollments: perStep[s.ID],
			})
		}
	}
	sort.Slice(p.Steps, func(a, b int) bool { return p.Steps[a].Order < p.Steps[b].Order })
	return &p, nil
}

func (r *repo) CreateTask(_ context.Context, t domain.Task) (*domain.Task, error) {
	defer r.lock()()
	t.ID = r.d.nextID()
	if t.DueAt.IsZero() {
		t.DueAt = r.now()
	}
	r.d.tasks[t.ID] = t
	return &t, nil
}

func sameTenant(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func (r *repo) FindOrCreateGroup(_ context.Context, g domain.Group) (*domain.Group, bool, error) {
	defer r.lock()()
	for _, existing := range r.d.groups {
		if existing.Name == g.Name && sameTenant(existing.TenantID, g.TenantID) {
			return &existing, false, nil
		}
	}
	g.ID = r.d.nextID()
	g.CreatedAt = r.now()
	r.d.groups[g.ID] = g
	return &g, true, nil
}

func (r *repo) GetGroup(_ context.Context, id int64) (*domain.Group, error) {
	defer r.lock()()
	g, ok := r.d.groups[id]
	if !ok {
		return nil, nil
	}
	return &g, nil
}

func (r *repo) AddGroupMember(_ context.Context, groupID, userID int64) (bool, error) {
	defer r.lock()()
	if _, ok := r.d.groups[groupID]; !ok {
		return false, domain.ErrNotFound
	}
	k := memberKey{groupID: groupID, userID: userID}
	if _, ok := r.d.members[k]; ok {
		return false, nil
	}
	r.d.members[k] = r.now()
	return true, nil
}

func (r *repo) ListExpiringContracts(_ context.Context, until time.Time) ([]domain.Contract, error) {
	defer r.lock()()
	today := r.now().Truncate(24 * time.Hour)
	var out []domain.Contract
	for _, c := range r.d.contracts {
		if c.Status != domain.ContractStatusActive || c.ExpiryAlertedAt != nil {
			continue
		}
		if c.EndsAt.Before(today) || c.EndsAt.After(until) {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(a, b int) bool {
		if !out[a].EndsAt.Equal(out[b].EndsAt) {
			return out[a].EndsAt.Before(out[b].EndsAt)
		}
		return out[a].ID < out[b].ID
	})
	return nonNil(out), nil
}

func (r *repo) MarkContractAlerted(_ context.Context, id int64, at time.Time) error {
	defer r.lock()()
	c, ok := r.d.contracts[id]
	if !ok {
		return domain.ErrNotFound
	}
	c.ExpiryAlertedAt = &at
	r.d.contracts[id] = c
	return nil
}

func (r *repo) AutomationMetrics(_ context.Context) (*store.AutomationMetrics, error) {
	defer r.lock()()
	var m store.AutomationMetrics
	for _, e := range r.d.events {
		m.TotalEvents++
		if e.Processed {
			m.ProcessedEvents++
		} else {
			m.PendingEvents++
		}
	}
	for _, j := range r.d.journeys {
		if j.Active {
			m.ActiveJourneys++
		}
	}
	for _, e := range r.d.enrollments {
		if e.Completed {
			m.CompletedEnrollments++
		} else {
			m.ActiveEnrollments++
		}
	}
	m.TasksCreated = len(r.d.tasks)
	return &m, nil
}

func sortEventsAsc(events []domain.Event) {
	sort.Slice(events, func(i, j int) bool {
		if !events[i].RecordedAt.Equal(events[j].RecordedAt) {
			return events[i].RecordedAt.Before(events[j].RecordedAt)
		}
		return events[i].ID < events[j].ID
	})
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
