package audit

import (
	mathrand "math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Action is the kind of change an audited operation performs.
type Action string

const (
	ActionDefault Action = ""
	ActionCreate  Action = "CREATE"
	ActionRead    Action = "READ"
	ActionUpdate  Action = "UPDATE"
	ActionDelete  Action = "DELETE"
)

// Outcome of an audited operation.
type Outcome string

const (
	OutcomeSuccess Outcome = "SUCCESS"
	OutcomeFailure Outcome = "FAILURE"
)

// SystemActor is recorded when no authenticated principal is present.
const SystemActor = "SYSTEM"

// Record is one audit entry. It is built once per invocation and not
// modified after it has been handed to the sink.
type Record struct {
	ID                  string    `json:"id"`
	Timestamp           time.Time `json:"timestamp"`
	Operation           string    `json:"operation"`
	EntityName          string    `json:"entityName"`
	EntityID            string    `json:"entityId,omitempty"`
	ActionType          Action    `json:"actionType"`
	ActorID             string    `json:"actorId"`
	ActorName           string    `json:"actorName"`
	ClientAddress       string    `json:"clientAddress,omitempty"`
	UserAgent           string    `json:"userAgent,omitempty"`
	RequestMethod       string    `json:"requestMethod,omitempty"`
	RequestURL          string    `json:"requestUrl,omitempty"`
	SessionID           string    `json:"sessionId,omitempty"`
	TraceID             string    `json:"traceId,omitempty"`
	BeforeState         string    `json:"serializedBeforeState,omitempty"`
	AfterState          string    `json:"serializedAfterState,omitempty"`
	Outcome             Outcome   `json:"outcome"`
	ErrorMessage        string    `json:"errorMessage,omitempty"`
	ExecutionTimeMillis int64     `json:"executionTimeMillis"`
	AdditionalInfo      string    `json:"additionalInfo,omitempty"`
}

// Query filters stored records. Zero fields match everything.
type Query struct {
	EntityName string
	EntityID   string
	ActorID    string
	From       time.Time
	To         time.Time
	Limit      int
}

const (
	DefaultQueryLimit = 100
	MaxQueryLimit     = 1000
)

// Normalize clamps the limit into [1, MaxQueryLimit].
func (q Query) Normalize() Query {
	if q.Limit <= 0 {
		q.Limit = DefaultQueryLimit
	}
	if q.Limit > MaxQueryLimit {
		q.Limit = MaxQueryLimit
	}
	return q
}

// Matches reports whether r satisfies every filter of q. From is inclusive,
// To exclusive.
func (q Query) Matches(r *Record) bool {
	if q.EntityName != "" && q.EntityName != r.EntityName {
		return false
	}
	if q.EntityID != "" && q.EntityID != r.EntityID {
		return false
	}
	if q.ActorID != "" && q.ActorID != r.ActorID {
		return false
	}
	if !q.From.IsZero() && r.Timestamp.Before(q.From) {
		return false
	}
	if !q.To.IsZero() && !r.Timestamp.Before(q.To) {
		return false
	}
	return true
}

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0)
)

// NewID returns a ULID for t. IDs sort by time, and IDs created within the
// same millisecond keep their creation order.
func NewID(t time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}
