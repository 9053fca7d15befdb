package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout waiting for event")
		return nil
	}
}

func assertEmpty(t *testing.T, ch <-chan Event) {
	t.Helper()
	select {
	case ev := <-ch:
		t.Errorf("unexpected event %s", ev.EventType())
	case <-time.After(10 * time.Millisecond):
	}
}

func TestPublishSubscribe(t *testing.T) {
	bus := NewEventBus()
	defer bus.Close()

	ch := bus.Subscribe(TopicTask, 10)
	bus.Publish(TopicTask, TaskAssignedEvent{Workflow: "wf-1", TaskID: "A", AgentID: "x", Timestamp: time.Now()})

	ev := receive(t, ch)
	assert.Equal(t, EventTypeTaskAssigned, ev.EventType())
	assert.Equal(t, "wf-1", ev.WorkflowID())
	assigned, ok := ev.(TaskAssignedEvent)
	require.True(t, ok)
	assert.Equal(t, "A", assigned.TaskID)
}

func TestMultipleSubscribers(t *testing.T) {
	bus := NewEventBus()
	defer bus.Close()

	ch1 := bus.Subscribe(TopicTask, 10)
	ch2 := bus.Subscribe(TopicTask, 10)
	bus.Publish(TopicTask, TaskCompletedEvent{Workflow: "wf-2", TaskID: "B", Duration: 100 * time.Millisecond})

	for _, ch := range []<-chan Event{ch1, ch2} {
		assert.Equal(t, "wf-2", receive(t, ch).WorkflowID())
	}
}

func TestNonBlockingSend(t *testing.T) {
	bus := NewEventBus()
	defer bus.Close()

	ch := bus.Subscribe(TopicWorkflow, 1)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			bus.Publish(TopicWorkflow, LogLineEvent{Workflow: "wf", Line: "line"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(100 * time.Millisecond):
		t.Fatal("publisher blocked (expected non-blocking behavior)")
	}
	assert.NotNil(t, receive(t, ch))
	assertEmpty(t, ch)
	assert.Equal(t, uint64(9), bus.Dropped())
}

func TestCloseSignalsSubscribers(t *testing.T) {
	bus := NewEventBus()
	ch := bus.Subscribe(TopicTask, 10)
	all := bus.SubscribeAll(10)

	bus.Close()
	bus.Close() // idempotent

	_, ok := <-ch
	assert.False(t, ok)
	_, ok = <-all
	assert.False(t, ok)

	late := bus.Subscribe(TopicTask, 1)
	_, ok = <-late
	assert.False(t, ok, "subscribing to a closed bus returns a closed channel")
}

func TestPublishAfterClose(t *testing.T) {
	bus := NewEventBus()
	bus.Close()

	assert.NotPanics(t, func() {
		bus.Publish(TopicTask, TaskFailedEvent{Workflow: "wf", TaskID: "A", Reason: "boom"})
	})
}

func TestPublishNilBus(t *testing.T) {
	var bus *EventBus
	assert.NotPanics(t, func() {
		bus.Publish(TopicWorkflow, WorkflowCompletedEvent{Workflow: "wf"})
	})
}

func TestMultipleTopics(t *testing.T) {
	bus := NewEventBus()
	defer bus.Close()

	taskCh := bus.Subscribe(TopicTask, 10)
	wfCh := bus.Subscribe(TopicWorkflow, 10)

	bus.Publish(TopicTask, TaskAssignedEvent{Workflow: "wf", TaskID: "A"})
	bus.Publish(TopicWorkflow, WorkflowProgressEvent{Workflow: "wf", Total: 3, Completed: 1, Pending: 2})

	assert.Equal(t, EventTypeTaskAssigned, receive(t, taskCh).EventType())
	progress, ok := receive(t, wfCh).(WorkflowProgressEvent)
	require.True(t, ok)
	assert.Equal(t, 2, progress.Pending)

	assertEmpty(t, taskCh)
	assertEmpty(t, wfCh)
}

func TestSubscribeAll(t *testing.T) {
	bus := NewEventBus()
	defer bus.Close()

	allCh := bus.SubscribeAll(20)
	bus.Publish(TopicTask, TaskFailedEvent{Workflow: "wf", TaskID: "A"})
	bus.Publish(TopicWorkflow, WorkflowStalledEvent{Workflow: "wf", Reason: "cycle"})

	types := map[string]bool{}
	for i := 0; i < 2; i++ {
		types[receive(t, allCh).EventType()] = true
	}
	assert.True(t, types[EventTypeTaskFailed])
	assert.True(t, types[EventTypeWorkflowStalled])
	assertEmpty(t, allCh)
}

func TestSubscribeWorkflow(t *testing.T) {
	bus := NewEventBus()
	defer bus.Close()

	mine := bus.SubscribeWorkflow("wf-1", 10)
	bus.Publish(TopicTask, TaskAssignedEvent{Workflow: "wf-2", TaskID: "A"})
	bus.Publish(TopicTask, TaskAssignedEvent{Workflow: "wf-1", TaskID: "B"})
	bus.Publish(TopicWorkflow, LogLineEvent{Workflow: "wf-1", Line: "Starting"})

	assigned, ok := receive(t, mine).(TaskAssignedEvent)
	require.True(t, ok)
	assert.Equal(t, "B", assigned.TaskID)
	assert.Equal(t, EventTypeLogLine, receive(t, mine).EventType())
	assertEmpty(t, mine)
}
