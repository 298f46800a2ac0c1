package chat

import (
	"sync"
	"time"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message: запись транскрипта, после создания не меняется.
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// Transcript: потокобезопасный упорядоченный журнал сообщений сессии.
// При cap > 0 самые старые сообщения вытесняются.
type Transcript struct {
	cap      int
	messages []Message
	mu       sync.Mutex
}

func NewTranscript(capacity int) *Transcript {
	if capacity < 0 {
		capacity = 0
	}
	return &Transcript{cap: capacity, messages: make([]Message, 0, min(capacity, 16))}
}

// Add добавляет сообщения одной операцией, при переполнении удаляет самые старые.
func (t *Transcript) Add(msgs ...Message) {
	if len(msgs) == 0 {
		return
	}
	t.mu.Lock()
	t.messages = append(t.messages, msgs...)
	if t.cap > 0 && len(t.messages) > t.cap {
		// Оставляем последние cap элементов
		n := copy(t.messages, t.messages[len(t.messages)-t.cap:])
		t.messages = t.messages[:n]
	}
	t.mu.Unlock()
}

// Messages возвращает копию транскрипта.
func (t *Transcript) Messages() []Message {
	t.mu.Lock()
	msgs := make([]Message, len(t.messages))
	copy(msgs, t.messages)
	t.mu.Unlock()
	return msgs
}

func (t *Transcript) Len() int {
	t.mu.Lock()
	l := len(t.messages)
	t.mu.Unlock()
	return l
}
