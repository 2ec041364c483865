package engine

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Scope addresses one record space on behalf of a caller.
type Scope struct {
	ProjectSlug string
	SpaceSlug   string
	CallerID    string
}

// Timing is the duration of one step of an operation.
type Timing struct {
	Step     string
	Duration time.Duration
}

// Trace is the request-scoped state of one call: what it addresses, who
// made it, and where the time went. It is passed explicitly through the
// engine and is safe for concurrent use.
type Trace struct {
	Scope
	RequestID string
	Started   time.Time

	mu      sync.Mutex
	timings []Timing
}

// NewTrace starts a trace for scope.
func NewTrace(scope Scope, requestID string) *Trace {
	return &Trace{Scope: scope, RequestID: requestID, Started: time.Now()}
}

// Step starts timing name. Call the returned func when the step ends.
func (t *Trace) Step(name string) func() {
	start := time.Now()
	return func() {
		t.mu.Lock()
		t.timings = append(t.timings, Timing{Step: name, Duration: time.Since(start)})
		t.mu.Unlock()
	}
}

// Timings returns the steps recorded so far.
func (t *Trace) Timings() []Timing {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Timing, len(t.timings))
	copy(out, t.timings)
	return out
}

// Fields returns the trace as log fields.
func (t *Trace) Fields() []zap.Field {
	fields := []zap.Field{
		zap.String("project", t.ProjectSlug),
		zap.String("space", t.SpaceSlug),
		zap.String("caller", t.CallerID),
	}
	if t.RequestID != "" {
		fields = append(fields, zap.String("request_id", t.RequestID))
	}
	for _, tm := range t.Timings() {
		fields = append(fields, zap.Duration("t_"+tm.Step, tm.Duration))
	}
	return fields
}
