package stream

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kylemclaren/local-tasks/internal/db"
)

func receive(t *testing.T, c *Client) Event {
	t.Helper()
	select {
	case e := <-c.Events:
		return e
	case <-time.After(time.Second):
		t.Fatal("no event received")
		return Event{}
	}
}

func TestPublishFansOutWithFilter(t *testing.T) {
	m := NewManager()
	all := m.Subscribe("all", 0)
	onlyTwo := m.Subscribe("two", 2)

	m.PublishStarted(&db.Job{ID: 1, Name: "backup"}, time.Now())
	m.PublishStarted(&db.Job{ID: 2, Name: "report"}, time.Now())

	assert.Equal(t, int64(1), receive(t, all).JobID)
	assert.Equal(t, int64(2), receive(t, all).JobID)

	e := receive(t, onlyTwo)
	assert.Equal(t, int64(2), e.JobID)
	assert.Equal(t, EventStarted, e.Type)
	assert.Empty(t, onlyTwo.Events)
}

func TestSubscribeReplaysBuffer(t *testing.T) {
	m := NewManager()
	code := 0
	m.PublishFinished(&db.Job{ID: 4, Name: "sync"}, &db.RunRecord{Status: db.RunStatusSuccess, ExitCode: &code})

	c := m.Subscribe("late", 0)
	e := receive(t, c)
	assert.Equal(t, EventFinished, e.Type)
	assert.Equal(t, db.RunStatusSuccess, e.Status)
	assert.Equal(t, "sync", e.JobName)
	assert.False(t, e.Timestamp.IsZero())
}

func TestUnsubscribeClosesDone(t *testing.T) {
	m := NewManager()
	c := m.Subscribe("x", 0)
	require.Equal(t, 1, m.ClientCount())

	m.Unsubscribe("x")
	m.Unsubscribe("x")
	assert.Equal(t, 0, m.ClientCount())
	select {
	case <-c.Done:
	default:
		t.Fatal("done channel not closed")
	}
}

func TestBufferIsBounded(t *testing.T) {
	m := NewManager()
	for i := 0; i < 150; i++ {
		m.Publish(Event{JobID: int64(i)})
	}
	recent := m.Recent()
	require.Len(t, recent, 100)
	assert.Equal(t, int64(50), recent[0].JobID)
}

func TestPublishNeverBlocksOnSlowClient(t *testing.T) {
	m := NewManager()
	m.Subscribe("slow", 0)
	done := make(chan struct{})
	go func() {
		for i := 0; i < 500; i++ {
			m.Publish(Event{JobID: 1})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked")
	}
}

func TestCleanupOldEvents(t *testing.T) {
	m := NewManager()
	m.Publish(Event{JobID: 1, Timestamp: time.Now().Add(-2 * time.Hour)})
	m.Publish(Event{JobID: 2})
	m.CleanupOldEvents(time.Hour)
	recent := m.Recent()
	require.Len(t, recent, 1)
	assert.Equal(t, int64(2), recent[0].JobID)
}
