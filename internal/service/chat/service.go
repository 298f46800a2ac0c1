package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"AssistantGateway/internal/ai"
	"AssistantGateway/internal/service/upload"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrSessionNotFound   = errors.New("session not found")
	ErrEmptySubmission   = errors.New("prompt or attachment is required")
	ErrExchangeInFlight  = errors.New("previous message is still being processed")
	ErrExchangeCancelled = errors.New("exchange cancelled")
)

// Config параметры чат-сессий.
type Config struct {
	Greeting      string
	MaxTranscript int
}

// SessionInfo: снимок сессии для внешнего мира.
type SessionInfo struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	Messages  []Message `json:"messages"`
	Busy      bool      `json:"busy"`
}

type session struct {
	id         string
	createdAt  time.Time
	transcript *Transcript

	running    atomic.Bool
	lastActive atomic.Int64 // unix nano

	mu     sync.Mutex
	cancel context.CancelCauseFunc
}

func (s *session) touch() { s.lastActive.Store(time.Now().UnixNano()) }

func (s *session) info() SessionInfo {
	return SessionInfo{ID: s.id, CreatedAt: s.createdAt, Messages: s.transcript.Messages(), Busy: s.running.Load()}
}

// Service хранит чат-сессии в памяти и проводит обмены через шлюз ассистента.
// В каждой сессии одновременно выполняется не более одного обмена.
type Service struct {
	gateway ai.Gateway
	cfg     Config
	logger  *zap.SugaredLogger

	mu       sync.RWMutex
	sessions map[string]*session
}

// NewService создаёт сервис оркестрации чата.
func NewService(gateway ai.Gateway, cfg Config, logger *zap.SugaredLogger) *Service {
	return &Service{
		gateway:  gateway,
		cfg:      cfg,
		logger:   logger,
		sessions: make(map[string]*session),
	}
}

// CreateSession создаёт сессию; транскрипт начинается с приветствия, если оно задано.
func (s *Service) CreateSession(_ context.Context) SessionInfo {
	now := time.Now().UTC()
	sess := &session{id: uuid.NewString(), createdAt: now, transcript: NewTranscript(s.cfg.MaxTranscript)}
	sess.touch()
	if g := strings.TrimSpace(s.cfg.Greeting); g != "" {
		sess.transcript.Add(Message{Role: RoleAssistant, Content: g, CreatedAt: now})
	}

	s.mu.Lock()
	s.sessions[sess.id] = sess
	s.mu.Unlock()

	s.logger.Infow("Chat session created", "session", sess.id)
	return sess.info()
}

func (s *Service) Session(_ context.Context, id string) (SessionInfo, error) {
	sess, err := s.get(id)
	if err != nil {
		return SessionInfo{}, err
	}
	return sess.info(), nil
}

// Transcript возвращает копию транскрипта сессии.
func (s *Service) Transcript(_ context.Context, id string) ([]Message, error) {
	sess, err := s.get(id)
	if err != nil {
		return nil, err
	}
	return sess.transcript.Messages(), nil
}

// Submit проводит один обмен: добавляет сообщение пользователя, передаёт каждый
// фрагмент ответа в onChunk и по завершении добавляет ответ ассистента.
// Ошибка onChunk прерывает обмен. При ошибке ответ ассистента в транскрипт не пишется.
func (s *Service) Submit(ctx context.Context, id string, prompt string, attachments []upload.Attachment, onChunk func(string) error) (Message, error) {
	if strings.TrimSpace(prompt) == "" && len(attachments) == 0 {
		return Message{}, ErrEmptySubmission
	}
	for _, a := range attachments {
		if err := a.Validate(); err != nil {
			return Message{}, err
		}
	}
	sess, err := s.get(id)
	if err != nil {
		return Message{}, err
	}
	if !sess.running.CompareAndSwap(false, true) {
		return Message{}, ErrExchangeInFlight
	}

	exCtx, cancel := context.WithCancelCause(ctx)
	sess.mu.Lock()
	sess.cancel = cancel
	sess.mu.Unlock()
	defer func() {
		sess.mu.Lock()
		sess.cancel = nil
		sess.mu.Unlock()
		cancel(nil)
		sess.touch()
		sess.running.Store(false)
	}()
	sess.touch()

	content := userContent(prompt, attachments)
	sess.transcript.Add(Message{Role: RoleUser, Content: content, CreatedAt: time.Now().UTC()})

	start := time.Now()
	var answer strings.Builder
	for chunk, err := range s.gateway.StreamAnswer(exCtx, content, attachments) {
		if err != nil {
			s.logger.Warnw("Exchange failed", "session", id, "duration", time.Since(start).String(), "error", err)
			return Message{}, err
		}
		answer.WriteString(chunk)
		if onChunk != nil {
			if err := onChunk(chunk); err != nil {
				cancel(err)
				return Message{}, err
			}
		}
	}

	reply := Message{Role: RoleAssistant, Content: answer.String(), CreatedAt: time.Now().UTC()}
	sess.transcript.Add(reply)
	s.logger.Infow("Exchange done", "session", id, "duration", time.Since(start).String(), "chars", len(reply.Content))
	return reply, nil
}

// Cancel отменяет выполняющийся обмен. false: отменять нечего.
func (s *Service) Cancel(id string) (bool, error) {
	sess, err := s.get(id)
	if err != nil {
		return false, err
	}
	sess.mu.Lock()
	cancel := sess.cancel
	sess.mu.Unlock()
	if cancel == nil {
		return false, nil
	}
	cancel(ErrExchangeCancelled)
	s.logger.Infow("Exchange cancelled", "session", id)
	return true, nil
}

// DeleteSession удаляет сессию, отменяя текущий обмен.
func (s *Service) DeleteSession(id string) error {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}
	sess.mu.Lock()
	if sess.cancel != nil {
		sess.cancel(ErrExchangeCancelled)
	}
	sess.mu.Unlock()
	return nil
}

// Sweep удаляет сессии без активности дольше ttl. Сессии с идущим обменом не трогает.
func (s *Service) Sweep(ttl time.Duration) int {
	if ttl <= 0 {
		return 0
	}
	deadline := time.Now().Add(-ttl).UnixNano()
	removed := 0
	s.mu.Lock()
	for id, sess := range s.sessions {
		if sess.running.Load() || sess.lastActive.Load() >= deadline {
			continue
		}
		delete(s.sessions, id)
		removed++
	}
	s.mu.Unlock()
	if removed > 0 {
		s.logger.Infow("Idle chat sessions removed", "removed", removed, "ttl", ttl.String())
	}
	return removed
}

// Len количество живых сессий.
func (s *Service) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

func (s *Service) get(id string) (*session, error) {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

// userContent: текст сообщения пользователя с пометками о загруженных документах.
func userContent(prompt string, attachments []upload.Attachment) string {
	var b strings.Builder
	b.WriteString(prompt)
	for _, a := range attachments {
		b.WriteString("\n\nUploaded document: ")
		b.WriteString(a.Name)
	}
	return b.String()
}
