package clientstate

import (
	"sync"
	"testing"
	"time"

	"github.com/mahaj/snappy-realtime/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type eventLog struct {
	mu     sync.Mutex
	events []model.Event
}

func (l *eventLog) add(ev model.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) Emit(ev model.Event) error {
	l.add(ev)
	return nil
}

func (l *eventLog) names() []model.EventName {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]model.EventName, len(l.events))
	for i, ev := range l.events {
		out[i] = ev.Name
	}
	return out
}

func TestTypist_BurstEmitsOneTypingAndOneStop(t *testing.T) {
	log := &eventLog{}
	ty := NewTypist(150*time.Millisecond, log.add)

	for i := 0; i < 5; i++ {
		ty.Keystroke("c1")
		time.Sleep(10 * time.Millisecond)
	}
	assert.Equal(t, []model.EventName{model.EventTyping}, log.names(), "timer restarts instead of stacking")

	require.Eventually(t, func() bool { return len(log.names()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []model.EventName{model.EventTyping, model.EventStopTyping}, log.names())

	time.Sleep(200 * time.Millisecond)
	assert.Len(t, log.names(), 2)
	_, typing := ty.Typing()
	assert.False(t, typing)
}

func TestTypist_StopIsImmediateAndOnce(t *testing.T) {
	log := &eventLog{}
	ty := NewTypist(time.Hour, log.add)

	ty.Keystroke("c1")
	ty.Stop()
	ty.Stop()

	assert.Equal(t, []model.EventName{model.EventTyping, model.EventStopTyping}, log.names())
}

func TestTypist_SwitchingChatStopsThePreviousOne(t *testing.T) {
	log := &eventLog{}
	ty := NewTypist(time.Hour, log.add)

	ty.Keystroke("c1")
	ty.Keystroke("c2")

	log.mu.Lock()
	defer log.mu.Unlock()
	require.Len(t, log.events, 3)
	id, err := log.events[1].DecodeChatID()
	require.NoError(t, err)
	assert.Equal(t, model.EventStopTyping, log.events[1].Name)
	assert.Equal(t, "c1", id)
	id, err = log.events[2].DecodeChatID()
	require.NoError(t, err)
	assert.Equal(t, "c2", id)
}

func TestTypist_IgnoresEmptyChat(t *testing.T) {
	log := &eventLog{}
	ty := NewTypist(time.Hour, log.add)
	ty.Keystroke("")
	assert.Empty(t, log.names())
}
