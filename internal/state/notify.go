package state

import (
	"fmt"
	"io"
	"sync"

	"github.com/rs/zerolog/log"
)

// Level is the severity of a notification.
type Level string

const (
	LevelInfo  Level = "info"
	LevelError Level = "error"
)

// Notification is a short user facing message emitted on state changes, the
// equivalent of a toast.
type Notification struct {
	Level       Level  `json:"level"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

// Notifier delivers notifications to the user.
type Notifier interface {
	Notify(n Notification)
}

// LogNotifier writes notifications to the logger.
type LogNotifier struct{}

func (LogNotifier) Notify(n Notification) {
	evt := log.Info()
	if n.Level == LevelError {
		evt = log.Warn()
	}
	evt.Str("title", n.Title).Msg(n.Description)
}

// WriterNotifier prints notifications as lines of text.
type WriterNotifier struct {
	mu sync.Mutex
	w  io.Writer
}

func NewWriterNotifier(w io.Writer) *WriterNotifier {
	return &WriterNotifier{w: w}
}

func (wn *WriterNotifier) Notify(n Notification) {
	wn.mu.Lock()
	defer wn.mu.Unlock()

	marker := "✓"
	if n.Level == LevelError {
		marker = "✗"
	}
	fmt.Fprintf(wn.w, "%s %s: %s\n", marker, n.Title, n.Description)
}

// Recorder keeps notifications in memory, the server exposes them to the UI.
type Recorder struct {
	mu    sync.Mutex
	items []Notification
	limit int
}

// NewRecorder keeps at most limit notifications, oldest dropped first.
func NewRecorder(limit int) *Recorder {
	if limit < 1 {
		limit = 1
	}
	return &Recorder{limit: limit}
}

func (r *Recorder) Notify(n Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.items = append(r.items, n)
	if len(r.items) > r.limit {
		r.items = r.items[len(r.items)-r.limit:]
	}
}

// Drain returns and forgets the recorded notifications.
func (r *Recorder) Drain() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()

	items := r.items
	r.items = nil
	return items
}

// Multi fans a notification out to several notifiers.
type Multi []Notifier

func (m Multi) Notify(n Notification) {
	for _, notifier := range m {
		notifier.Notify(n)
	}
}
