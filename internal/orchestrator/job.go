package orchestrator

import (
	"sync"
	"time"

	"github.com/uomlabs/uom/internal/domain"
)

// JobStatus is one state of the pipeline FSM.
type JobStatus string

const (
	StatusPending            JobStatus = "pending"
	StatusTriaging           JobStatus = "triaging"
	StatusSandboxRunning     JobStatus = "sandbox_running"
	StatusSecurityAssessment JobStatus = "security_assessment"
	StatusRouting            JobStatus = "routing"
	StatusProcessing         JobStatus = "processing"
	StatusPostProcessing     JobStatus = "post_processing"
	StatusCompleted          JobStatus = "completed"
	StatusBlocked            JobStatus = "blocked"
	StatusReviewQueued       JobStatus = "review_queued"
	StatusFailed             JobStatus = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s JobStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusBlocked, StatusReviewQueued, StatusFailed:
		return true
	default:
		return false
	}
}

// stageProgress maps each status onto the monotone progress ladder.
var stageProgress = map[JobStatus]int{
	StatusPending:            0,
	StatusTriaging:           10,
	StatusSandboxRunning:     25,
	StatusSecurityAssessment: 45,
	StatusRouting:            55,
	StatusProcessing:         70,
	StatusPostProcessing:     90,
	StatusCompleted:          100,
	StatusBlocked:            100,
	StatusReviewQueued:       100,
	StatusFailed:             100,
}

// Event names emitted on the per-job stream.
const (
	EventStatus          = "status"
	EventStage           = "stage"
	EventBlocked         = "blocked"
	EventReviewQueued    = "review_queued"
	EventEscalated       = "escalated"
	EventStorageComplete = "storage_complete"
	EventNotification    = "notification"
	EventComplete        = "complete"
	EventError           = "error"
)

// Event is one entry on a job's event stream.
type Event struct {
	Name      string    `json:"event"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"data,omitempty"`
}

// StageMessage is one entry in the job's append-only stage log.
type StageMessage struct {
	Timestamp time.Time `json:"timestamp"`
	Stage     string    `json:"stage"`
	Message   string    `json:"message"`
	Data      any       `json:"data,omitempty"`
}

// Request is one processing submission handed to the orchestrator.
type Request struct {
	File        domain.FileContext       `json:"file"`
	User        domain.UserContext       `json:"user"`
	OrgPolicies domain.OrgSecurityPolicy `json:"orgPolicies,omitempty"`
	Async       bool                     `json:"async"`
	Priority    int                      `json:"priority,omitempty"`
}

// Response is the externally visible job shape.
type Response struct {
	JobID         string                   `json:"jobId"`
	CorrelationID string                   `json:"correlationId"`
	Status        JobStatus                `json:"status"`
	Progress      int                      `json:"progress"`
	CurrentStage  string                   `json:"currentStage"`
	SSEEndpoint   string                   `json:"sseEndpoint"`
	Result        *domain.ProcessingResult `json:"result,omitempty"`
	Error         string                   `json:"error,omitempty"`
	ErrorStage    string                   `json:"errorStage,omitempty"`
	StageMessages []StageMessage           `json:"stageMessages,omitempty"`
	CreatedAt     time.Time                `json:"createdAt"`
	UpdatedAt     time.Time                `json:"updatedAt"`
	CompletedAt   *time.Time               `json:"completedAt,omitempty"`
}

// subscriberBuffer bounds a subscriber's unread event queue. A subscriber
// that falls this far behind is dropped rather than blocking the pipeline.
const subscriberBuffer = 32

// Job is the in-memory record driven by one pipeline task. The driving task
// is the only writer of the stage slots; all reads go through the mutex.
type Job struct {
	mu sync.RWMutex

	ID            string
	CorrelationID string

	File        domain.FileContext
	User        domain.UserContext
	OrgPolicies domain.OrgSecurityPolicy

	TriageDecision      *domain.Decision[domain.TriageDecision]
	SandboxResult       *domain.SandboxAnalysisResult
	SecurityDecision    *domain.Decision[domain.SecurityDecision]
	RouteDecision       *domain.Decision[domain.RouteDecision]
	ProcessingResult    *domain.ProcessingResult
	PostProcessDecision *domain.Decision[domain.PostProcessDecision]

	Status        JobStatus
	CurrentStage  string
	StageMessages []StageMessage

	Err        string
	ErrorStage string

	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time

	subscribers map[int]chan Event
	nextSubID   int

	done       chan struct{}
	finishOnce sync.Once
}

func newJob(id, correlationID string, req Request) *Job {
	now := time.Now()
	return &Job{
		ID:            id,
		CorrelationID: correlationID,
		File:          req.File,
		User:          req.User,
		OrgPolicies:   req.OrgPolicies,
		Status:        StatusPending,
		CurrentStage:  "pending",
		CreatedAt:     now,
		UpdatedAt:     now,
		subscribers:   make(map[int]chan Event),
		done:          make(chan struct{}),
	}
}

// Progress returns the job's position on the progress ladder.
func (j *Job) Progress() int {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return stageProgress[j.Status]
}

// Snapshot renders the job as its external response shape.
func (j *Job) Snapshot() *Response {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.snapshotLocked()
}

// snapshotLocked renders the response shape. Callers hold j.mu.
func (j *Job) snapshotLocked() *Response {
	resp := &Response{
		JobID:         j.ID,
		CorrelationID: j.CorrelationID,
		Status:        j.Status,
		Progress:      stageProgress[j.Status],
		CurrentStage:  j.CurrentStage,
		SSEEndpoint:   "/v1/jobs/" + j.ID + "/stream",
		Result:        j.ProcessingResult,
		Error:         j.Err,
		ErrorStage:    j.ErrorStage,
		CreatedAt:     j.CreatedAt,
		UpdatedAt:     j.UpdatedAt,
		CompletedAt:   j.CompletedAt,
	}
	resp.StageMessages = make([]StageMessage, len(j.StageMessages))
	copy(resp.StageMessages, j.StageMessages)
	return resp
}

// setStage advances the FSM and appends a stage log entry. Terminal statuses
// never transition again.
func (j *Job) setStage(status JobStatus, stage, message string) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.Status.Terminal() {
		return
	}
	j.Status = status
	j.CurrentStage = stage
	j.UpdatedAt = time.Now()
	j.StageMessages = append(j.StageMessages, StageMessage{
		Timestamp: j.UpdatedAt,
		Stage:     stage,
		Message:   message,
	})
	if status.Terminal() {
		completed := j.UpdatedAt
		j.CompletedAt = &completed
	}
}

// emit delivers an event to every subscriber. Delivery is best-effort per
// sink: the subscriber list is snapshotted first, and a sink whose buffer is
// full is unsubscribed instead of blocking the pipeline.
func (j *Job) emit(name string, payload any) {
	event := Event{Name: name, Timestamp: time.Now(), Payload: payload}

	j.mu.Lock()
	sinks := make(map[int]chan Event, len(j.subscribers))
	for id, ch := range j.subscribers {
		sinks[id] = ch
	}
	j.mu.Unlock()

	for id, ch := range sinks {
		select {
		case ch <- event:
		default:
			j.unsubscribe(id)
		}
	}
}

// subscribeOrReplay registers an event sink and returns its channel and an
// unsubscribe function. The terminal check and the registration happen under
// one critical section: setStage holds the same lock before any terminal
// emit, so a subscriber either registers in time to receive the terminal
// event or observes the terminal status and gets it replayed.
func (j *Job) subscribeOrReplay() (<-chan Event, func()) {
	j.mu.Lock()

	if j.Status.Terminal() {
		name := terminalEventName(j.Status)
		snap := j.snapshotLocked()
		j.mu.Unlock()

		ch := make(chan Event, 1)
		ch <- Event{Name: name, Timestamp: time.Now(), Payload: snap}
		close(ch)
		return ch, func() {}
	}

	ch := make(chan Event, subscriberBuffer)
	ch <- Event{Name: EventStatus, Timestamp: time.Now(), Payload: j.snapshotLocked()}
	id := j.nextSubID
	j.nextSubID++
	j.subscribers[id] = ch
	j.mu.Unlock()

	return ch, func() { j.unsubscribe(id) }
}

func (j *Job) unsubscribe(id int) {
	j.mu.Lock()
	ch, ok := j.subscribers[id]
	if ok {
		delete(j.subscribers, id)
	}
	j.mu.Unlock()
	if ok {
		close(ch)
	}
}

// closeSubscribers drops every sink without emitting further events. Used by
// the janitor when evicting a stuck job.
func (j *Job) closeSubscribers() {
	j.mu.Lock()
	subs := j.subscribers
	j.subscribers = make(map[int]chan Event)
	j.mu.Unlock()

	for _, ch := range subs {
		close(ch)
	}
}

// finish marks the pipeline task complete and wakes synchronous waiters.
// Both the pipeline goroutine and the janitor may call it.
func (j *Job) finish() {
	j.finishOnce.Do(func() { close(j.done) })
}

// Done is closed when the pipeline task has finished.
func (j *Job) Done() <-chan struct{} {
	return j.done
}
