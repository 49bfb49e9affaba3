package stream

import (
	"sync"
	"time"

	"github.com/kylemclaren/local-tasks/internal/db"
)

// EventType distinguishes run lifecycle events
type EventType string

const (
	EventStarted  EventType = "started"
	EventFinished EventType = "finished"
)

// Event is a run lifecycle notification
type Event struct {
	Type          EventType    `json:"type"`
	JobID         int64        `json:"job_id"`
	JobName       string       `json:"job_name"`
	ScheduledTime time.Time    `json:"scheduled_time"`
	Status        db.RunStatus `json:"status,omitempty"`
	ExitCode      *int         `json:"exit_code,omitempty"`
	Error         string       `json:"error,omitempty"`
	Timestamp     time.Time    `json:"timestamp"`
}

// Client represents a connected subscriber
type Client struct {
	ID     string
	JobID  int64 // 0 receives every job
	Events chan Event
	Done   chan struct{}
}

func (c *Client) wants(e Event) bool {
	return c.JobID == 0 || c.JobID == e.JobID
}

// Manager fans run events out to subscribers and keeps a short replay buffer
type Manager struct {
	clients     map[string]*Client
	buffer      []Event
	bufferLimit int
	mu          sync.RWMutex
}

// NewManager creates a new stream manager
func NewManager() *Manager {
	return &Manager{
		clients:     make(map[string]*Client),
		buffer:      make([]Event, 0, 100),
		bufferLimit: 100,
	}
}

// Subscribe registers a client. Buffered events matching the filter are
// replayed first.
func (m *Manager) Subscribe(clientID string, jobID int64) *Client {
	client := &Client{
		ID:     clientID,
		JobID:  jobID,
		Events: make(chan Event, 100),
		Done:   make(chan struct{}),
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range m.buffer {
		if !client.wants(e) {
			continue
		}
		select {
		case client.Events <- e:
		default:
			// Client channel full, skip
		}
	}

	m.clients[clientID] = client
	return client
}

// Unsubscribe removes a client
func (m *Manager) Unsubscribe(clientID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if client, ok := m.clients[clientID]; ok {
		close(client.Done)
		delete(m.clients, clientID)
	}
}

// Publish sends an event to all matching clients without blocking
func (m *Manager) Publish(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Add to buffer (circular if at limit)
	if len(m.buffer) >= m.bufferLimit {
		m.buffer = m.buffer[1:]
	}
	m.buffer = append(m.buffer, e)

	for _, client := range m.clients {
		if !client.wants(e) {
			continue
		}
		select {
		case client.Events <- e:
		default:
			// Client channel full, skip
		}
	}
}

// PublishStarted announces that a job began executing
func (m *Manager) PublishStarted(job *db.Job, scheduled time.Time) {
	m.Publish(Event{
		Type:          EventStarted,
		JobID:         job.ID,
		JobName:       job.Name,
		ScheduledTime: scheduled,
	})
}

// PublishFinished announces a recorded run
func (m *Manager) PublishFinished(job *db.Job, run *db.RunRecord) {
	m.Publish(Event{
		Type:          EventFinished,
		JobID:         job.ID,
		JobName:       job.Name,
		ScheduledTime: run.ScheduledTime,
		Status:        run.Status,
		ExitCode:      run.ExitCode,
		Error:         run.Error,
	})
}

// Recent returns a copy of the buffered events, oldest first
func (m *Manager) Recent() []Event {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Event, len(m.buffer))
	copy(out, m.buffer)
	return out
}

// ClientCount returns the number of connected subscribers
func (m *Manager) ClientCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.clients)
}

// CleanupOldEvents drops buffered events older than maxAge
func (m *Manager) CleanupOldEvents(maxAge time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	keep := m.buffer[:0]
	for _, e := range m.buffer {
		if !e.Timestamp.Before(cutoff) {
			keep = append(keep, e)
		}
	}
	m.buffer = keep
}
