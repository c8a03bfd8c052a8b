// Package logger provides a thread-safe in-memory feed of user-visible
// messages. Each message carries an id so a front end can dismiss it.
package logger

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Levels
const (
	LevelInfo    = "info"
	LevelWarning = "warning"
	LevelError   = "error"
)

// Message represents a single log message
type Message struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Text      string    `json:"text"`
	Level     string    `json:"level"` // info, warning, error
	Dismissed bool      `json:"dismissed"`
}

// Logger manages in-memory log messages
type Logger struct {
	mu       sync.RWMutex
	messages []Message
	maxSize  int
	updates  chan struct{}
}

// New creates a new logger with specified max message count
func New(maxSize int) *Logger {
	if maxSize <= 0 {
		maxSize = 100
	}
	return &Logger{
		messages: make([]Message, 0, maxSize),
		maxSize:  maxSize,
		updates:  make(chan struct{}, 1),
	}
}

// Updates signals (coalesced) whenever a message is added or dismissed.
func (l *Logger) Updates() <-chan struct{} {
	return l.updates
}

func (l *Logger) notify() {
	select {
	case l.updates <- struct{}{}:
	default:
	}
}

// Log adds a new message and returns its id
func (l *Logger) Log(level, text string) string {
	msg := Message{
		ID:        uuid.New().String(),
		Timestamp: time.Now(),
		Text:      text,
		Level:     level,
	}

	l.mu.Lock()
	l.messages = append(l.messages, msg)
	// Keep only the last maxSize messages
	if len(l.messages) > l.maxSize {
		l.messages = l.messages[len(l.messages)-l.maxSize:]
	}
	l.mu.Unlock()

	l.notify()
	return msg.ID
}

func (l *Logger) Info(text string) string {
	return l.Log(LevelInfo, text)
}

func (l *Logger) Warning(text string) string {
	return l.Log(LevelWarning, text)
}

func (l *Logger) Error(text string) string {
	return l.Log(LevelError, text)
}

// Dismiss hides the message with the given id. It reports whether the
// message was found and not already dismissed.
func (l *Logger) Dismiss(id string) bool {
	l.mu.Lock()
	found := false
	for i := range l.messages {
		if l.messages[i].ID == id && !l.messages[i].Dismissed {
			l.messages[i].Dismissed = true
			found = true
			break
		}
	}
	l.mu.Unlock()

	if found {
		l.notify()
	}
	return found
}

// DismissAll hides every message.
func (l *Logger) DismissAll() {
	l.mu.Lock()
	for i := range l.messages {
		l.messages[i].Dismissed = true
	}
	l.mu.Unlock()
	l.notify()
}

// Active returns undismissed messages (newest first)
func (l *Logger) Active() []Message {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var result []Message
	for i := len(l.messages) - 1; i >= 0; i-- {
		if !l.messages[i].Dismissed {
			result = append(result, l.messages[i])
		}
	}
	return result
}

// GetRecent returns the most recent n messages (newest first)
func (l *Logger) GetRecent(n int) []Message {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if n > len(l.messages) {
		n = len(l.messages)
	}

	// Return in reverse order (newest first)
	result := make([]Message, n)
	for i := 0; i < n; i++ {
		result[i] = l.messages[len(l.messages)-1-i]
	}

	return result
}

// GetAll returns all messages (newest first)
func (l *Logger) GetAll() []Message {
	return l.GetRecent(l.maxSize)
}
