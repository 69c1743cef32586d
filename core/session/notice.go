package session

import (
	"sync"
	"time"
)

type NoticeKind string

const (
	NoticeInfo    NoticeKind = "info"
	NoticeSuccess NoticeKind = "success"
	NoticeError   NoticeKind = "error"
)

// Notice is a transient message for the user.
type Notice struct {
	Kind NoticeKind `json:"kind"`
	Text string     `json:"text"`
}

// Notifier holds the latest Notice and clears it once its ttl elapses.
// A newer notice re-arms the timer; an older timer never clears a newer notice.
type Notifier struct {
	ttl      time.Duration
	onChange func()

	mu      sync.Mutex
	current *Notice
	seq     uint64
	timer   *time.Timer
	stopped bool
}

func NewNotifier(ttl time.Duration, onChange func()) *Notifier {
	if onChange == nil {
		onChange = func() {}
	}
	return &Notifier{ttl: ttl, onChange: onChange}
}

func (n *Notifier) Show(kind NoticeKind, text string) {
	n.mu.Lock()
	if n.stopped {
		n.mu.Unlock()
		return
	}
	n.seq++
	seq := n.seq
	n.current = &Notice{Kind: kind, Text: text}
	if n.timer != nil {
		n.timer.Stop()
	}
	n.timer = time.AfterFunc(n.ttl, func() { n.expire(seq) })
	n.mu.Unlock()

	n.onChange()
}

func (n *Notifier) expire(seq uint64) {
	n.mu.Lock()
	if n.seq != seq || n.current == nil {
		n.mu.Unlock()
		return
	}
	n.current = nil
	n.timer = nil
	n.mu.Unlock()

	n.onChange()
}

// Current returns a copy of the visible notice, or nil.
func (n *Notifier) Current() *Notice {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.current == nil {
		return nil
	}
	cp := *n.current
	return &cp
}

// Stop clears the notice and disarms the timer for good.
func (n *Notifier) Stop() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.stopped = true
	n.current = nil
	if n.timer != nil {
		n.timer.Stop()
		n.timer = nil
	}
}
