// Package chore holds the household task model: tasks, the jobs they fire,
// and the participations recorded when people resolve those jobs.
//
// The types are plain data. They carry no locking; callers that share them
// across goroutines (internal/state) guard access themselves.
package chore

import (
	"strings"
	"time"
)

// DefaultMaxJobs bounds the job history kept per task.
const DefaultMaxJobs = 100

type Participation struct {
	Person      string `json:"person"`
	Description string `json:"description"`
}

// Job is one fired occurrence of a task.
//
// CompletionDate marks the job resolved. Completed and canceled jobs are only
// told apart by whether any participation was recorded.
type Job struct {
	ID             string          `json:"id"`
	Date           time.Time       `json:"date"`
	CompletionDate *time.Time      `json:"completionDate,omitempty"`
	Participations []Participation `json:"participations"`
}

// Task is a recurring (Cron set) or manual-only chore definition.
//
// Active is a pointer so we can distinguish "omitted" (enabled; older state
// files never wrote the field) from an explicit false.
type Task struct {
	ID          string     `json:"id"`
	Label       string     `json:"label"`
	Description string     `json:"description,omitempty"`
	Cron        string     `json:"cron,omitempty"`
	StartDate   *time.Time `json:"startDate,omitempty"`
	EndDate     *time.Time `json:"endDate,omitempty"`
	Active      *bool      `json:"active,omitempty"`
	QuickAction bool       `json:"quickAction,omitempty"`

	// Jobs is most-recent-first.
	Jobs []Job `json:"jobs"`
}

// Person is a household member known to the hub (Home Assistant person entity).
type Person struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	InternalID string `json:"internalId,omitempty"`
	IsHome     bool   `json:"isHome"`
	// Device is the mobile_app notify suffix; empty means the short id.
	Device string `json:"device,omitempty"`
}

// ShortID strips the entity domain: "person.alice" -> "alice".
func (p Person) ShortID() string {
	if i := strings.IndexByte(p.ID, '.'); i >= 0 {
		return p.ID[i+1:]
	}
	return p.ID
}

// Stats maps person -> task id -> number of participations.
type Stats map[string]map[string]int
