package events

import (
	"bufio"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readEntries(t *testing.T, path string) []Entry {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e Entry
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &e))
		entries = append(entries, e)
	}
	return entries
}

func TestAppendGroupsByDay(t *testing.T) {
	dir := t.TempDir()
	l := NewLog(dir)
	l.now = func() time.Time { return time.Date(2026, 8, 23, 10, 0, 0, 0, time.UTC) }

	require.NoError(t, l.Append("run.start", map[string]any{"run_id": "r1"}))
	require.NoError(t, l.Append("run.end", nil))

	entries := readEntries(t, filepath.Join(dir, "20260823", "events.jsonl"))
	require.Len(t, entries, 2)
	assert.Equal(t, "run.start", entries[0].Event)
	assert.Equal(t, "r1", entries[0].Payload["run_id"])
	assert.Equal(t, "run.end", entries[1].Event)
}

func TestSpanPairsStartAndEnd(t *testing.T) {
	dir := t.TempDir()
	l := NewLog(dir)
	l.now = func() time.Time { return time.Date(2026, 8, 23, 10, 0, 0, 0, time.UTC) }

	span := l.StartSpan("stage.ActStep", map[string]any{"run_id": "r1"})
	span.End(nil)

	failing := l.StartSpan("stage.SyncPlan", nil)
	failing.End(errors.New("plan missing"))

	entries := readEntries(t, filepath.Join(dir, "20260823", "events.jsonl"))
	require.Len(t, entries, 4)

	assert.Equal(t, "span.start", entries[0].Event)
	assert.Equal(t, "span.end", entries[1].Event)
	assert.Equal(t, entries[0].Payload["id"], entries[1].Payload["id"])
	assert.Contains(t, entries[1].Payload, "duration_s")

	assert.Equal(t, "span.error", entries[3].Event)
	assert.Equal(t, "plan missing", entries[3].Payload["error"])
}

func TestBusDeliversToSubscribers(t *testing.T) {
	bus := NewBus(0)
	defer bus.Close()

	var mu sync.Mutex
	var got []Event
	done := make(chan struct{})
	bus.Subscribe(EventStageCompleted, func(ev Event) {
		mu.Lock()
		got = append(got, ev)
		mu.Unlock()
		close(done)
	})

	bus.Publish(EventStageCompleted, map[string]any{"stage": "ActStep"})
	bus.Publish(EventRunCompleted, map[string]any{}) // different type, not delivered

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("event never delivered")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 1)
	assert.Equal(t, "ActStep", got[0].Data["stage"])
}

func TestBusUnsubscribe(t *testing.T) {
	bus := NewBus(0)
	defer bus.Close()

	delivered := make(chan struct{}, 8)
	unsubscribe := bus.Subscribe(EventRunCompleted, func(Event) {
		delivered <- struct{}{}
	})
	unsubscribe()

	bus.Publish(EventRunCompleted, nil)
	select {
	case <-delivered:
		t.Fatal("unsubscribed handler still received an event")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBusSubscriberPanicContained(t *testing.T) {
	bus := NewBus(0)
	defer bus.Close()

	delivered := make(chan struct{}, 2)
	bus.Subscribe(EventRunCompleted, func(Event) {
		panic("subscriber bug")
	})
	bus.Subscribe(EventRunCompleted, func(Event) {
		delivered <- struct{}{}
	})

	bus.Publish(EventRunCompleted, nil)
	bus.Publish(EventRunCompleted, nil)

	select {
	case <-delivered:
	case <-time.After(time.Second):
		t.Fatal("panicking subscriber took the bus down")
	}
}
