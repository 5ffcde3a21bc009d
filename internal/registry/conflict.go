package registry

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// ConflictKind classifies a reconciliation conflict.
type ConflictKind string

const (
	// ConflictAmbiguousMatch is raised when a provider record matches more than one asset.
	ConflictAmbiguousMatch ConflictKind = "ambiguous_match"
	// ConflictAddress is raised when a (chain, address) pair is already owned by another asset.
	ConflictAddress ConflictKind = "address_conflict"
)

// DefaultConflictCapacity is the number of conflicts retained when no capacity is given.
const DefaultConflictCapacity = 1000

// Conflict is one audit entry describing a reconciliation decision that
// could not be made unambiguously.
type Conflict struct {
	ID         string       `json:"id"`
	Kind       ConflictKind `json:"kind"`
	Source     string       `json:"source"`
	Subject    string       `json:"subject"`
	Chosen     string       `json:"chosen"`
	Candidates []string     `json:"candidates,omitempty"`
	Strategy   string       `json:"strategy,omitempty"`
	Confidence float64      `json:"confidence,omitempty"`
	DetectedAt time.Time    `json:"detected_at"`
}

// ConflictLog is a bounded, append-only audit list. When full, the oldest
// entries are discarded. A conflict identical in kind, source, subject and
// chosen asset to a retained entry is not recorded twice.
type ConflictLog struct {
	mu       sync.Mutex
	capacity int
	entries  []Conflict
	seen     map[string]struct{}
	total    int
}

// NewConflictLog creates a ConflictLog retaining at most capacity entries.
func NewConflictLog(capacity int) *ConflictLog {
	if capacity <= 0 {
		capacity = DefaultConflictCapacity
	}
	return &ConflictLog{capacity: capacity, seen: make(map[string]struct{})}
}

func (c Conflict) signature() string {
	return string(c.Kind) + "|" + c.Source + "|" + c.Subject + "|" + c.Chosen
}

// Record appends a conflict, filling in its id and detection time. It
// returns the stored entry, which is the earlier one for a repeated conflict.
func (l *ConflictLog) Record(c Conflict) Conflict {
	sig := c.signature()

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.seen[sig]; ok {
		for _, e := range l.entries {
			if e.signature() == sig {
				return e
			}
		}
	}

	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.DetectedAt.IsZero() {
		c.DetectedAt = time.Now().UTC()
	}
	c.Candidates = append([]string(nil), c.Candidates...)

	l.total++
	if len(l.entries) == l.capacity {
		delete(l.seen, l.entries[0].signature())
		copy(l.entries, l.entries[1:])
		l.entries = l.entries[:len(l.entries)-1]
	}
	l.entries = append(l.entries, c)
	l.seen[sig] = struct{}{}
	return c
}

// List returns the retained conflicts, oldest first.
func (l *ConflictLog) List() []Conflict {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Conflict, len(l.entries))
	for i, c := range l.entries {
		c.Candidates = append([]string(nil), c.Candidates...)
		out[i] = c
	}
	return out
}

// Total returns the number of conflicts ever recorded, including discarded ones.
func (l *ConflictLog) Total() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.total
}
