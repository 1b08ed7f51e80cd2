package usecase

import (
	"time"

	"github.com/google/uuid"
)

type ItemKind string

const (
	ItemDatabase  ItemKind = "database"
	ItemDirectory ItemKind = "directory"
)

// Item is the outcome of one database or directory inside an operation.
type Item struct {
	Kind ItemKind
	Name string
	Err  error
}

// Report summarises a create or restore run. Per-item failures are recorded
// here and logged; they never abort the run.
type Report struct {
	ID        string
	Operation string
	Path      string
	Size      int64
	Items     []Item
	StartedAt time.Time
	Duration  time.Duration
}

func newReport(operation string, startedAt time.Time) *Report {
	return &Report{
		ID:        uuid.NewString(),
		Operation: operation,
		StartedAt: startedAt,
	}
}

func (r *Report) add(kind ItemKind, name string, err error) {
	r.Items = append(r.Items, Item{Kind: kind, Name: name, Err: err})
}

// Failed returns the items that did not complete.
func (r *Report) Failed() []Item {
	var failed []Item
	for _, item := range r.Items {
		if item.Err != nil {
			failed = append(failed, item)
		}
	}
	return failed
}

func (r *Report) OK() bool {
	return len(r.Failed()) == 0
}

// CleanupResult counts expired and deleted backups. Remote holds deletions
// per upload target.
type CleanupResult struct {
	Expired int
	Deleted int
	Remote  map[string]int
}
