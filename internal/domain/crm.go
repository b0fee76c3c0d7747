package domain

import "time"

// User roles. Admins may run the dispatcher and advance enrollments by hand.
const (
	RoleAdmin   = "admin"
	RoleManager = "gestor"
	RoleMember  = "aluno"
)

// User is the slice of the CRM member record the automation engine reads.
// TenantID is the member's unit (unidade); nil for staff not bound to one.
type User struct {
	ID        int64     `json:"id"`
	TenantID  *int64    `json:"tenant_id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

func (u User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// Task is an agenda item owned by a user.
type Task struct {
	ID              int64     `json:"id"`
	UserID          int64     `json:"user_id"`
	Title           string    `json:"title"`
	Description     string    `json:"description"`
	Priority        string    `json:"priority,omitempty"`
	ActivityType    string    `json:"activity_type,omitempty"`
	DurationMinutes int       `json:"duration_minutes"`
	Done            bool      `json:"done"`
	DueAt           time.Time `json:"due_at"`
}

type Group struct {
	ID          int64     `json:"id"`
	TenantID    *int64    `json:"tenant_id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Color       string    `json:"color"`
	CreatedAt   time.Time `json:"created_at"`
}

// Contract is a B2B agreement between a unit and a corporate client.
type Contract struct {
	ID               int64      `json:"id"`
	TenantID         int64      `json:"tenant_id"`
	AccountManagerID *int64     `json:"account_manager_id"`
	Name             string     `json:"name"`
	StartsAt         time.Time  `json:"starts_at"`
	EndsAt           time.Time  `json:"ends_at"`
	MonthlyValue     float64    `json:"monthly_value"`
	UserLimit        int        `json:"user_limit"`
	Status           string     `json:"status"`
	ExpiryAlertedAt  *time.Time `json:"expiry_alerted_at,omitempty"`
}

const ContractStatusActive = "ativo"

// DaysLeft rounds down the whole days between now and the contract end.
func (c Contract) DaysLeft(now time.Time) int {
	return int(c.EndsAt.Sub(now).Hours() / 24)
}
