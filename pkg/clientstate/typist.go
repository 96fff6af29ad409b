package clientstate

import (
	"sync"
	"time"

	"github.com/mahaj/snappy-realtime/pkg/model"
)

// DefaultTypingTimeout is how long after the last keystroke stop-typing goes
// out.
const DefaultTypingTimeout = 2 * time.Second

// Typist turns keystrokes into typing and stop-typing events. The first
// keystroke emits typing; each later one restarts a single timer, and
// stop-typing goes out when it fires. emit is called from the timer's
// goroutine and must be safe for concurrent use.
type Typist struct {
	timeout time.Duration
	emit    func(model.Event)

	mu     sync.Mutex
	chatID string
	timer  *time.Timer
	gen    uint64
}

func NewTypist(timeout time.Duration, emit func(model.Event)) *Typist {
	if timeout <= 0 {
		timeout = DefaultTypingTimeout
	}
	return &Typist{timeout: timeout, emit: emit}
}

func (t *Typist) Keystroke(chatID string) {
	if chatID == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.chatID != "" && t.chatID != chatID {
		t.stopLocked()
	}
	if t.chatID == "" {
		t.chatID = chatID
		t.emit(model.MustEvent(model.EventTyping, chatID))
	}

	t.gen++
	gen := t.gen
	if t.timer != nil {
		t.timer.Stop()
	}
	t.timer = time.AfterFunc(t.timeout, func() { t.expire(gen) })
}

// Stop emits stop-typing now if a typing event is outstanding.
func (t *Typist) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopLocked()
}

// Typing reports the chat a typing event is outstanding for.
func (t *Typist) Typing() (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.chatID, t.chatID != ""
}

func (t *Typist) expire(gen uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	// A keystroke after this timer was armed owns the indicator now.
	if gen != t.gen {
		return
	}
	t.stopLocked()
}

func (t *Typist) stopLocked() {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	if t.chatID == "" {
		return
	}
	chatID := t.chatID
	t.chatID = ""
	t.gen++
	t.emit(model.MustEvent(model.EventStopTyping, chatID))
}
