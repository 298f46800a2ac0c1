package ai

import (
	"context"
	"iter"

	"AssistantGateway/internal/service/upload"
)

// Gateway интерфейс шлюза к ассистенту. Все реализации должны быть взаимозаменяемыми.
//
// StreamAnswer ленивый: запросы уходят только при итерации. Последовательность
// конечна и одноразовая, повторная итерация отдаёт ErrStreamConsumed.
// Ошибка всегда последний элемент последовательности.
type Gateway interface {
	StreamAnswer(ctx context.Context, prompt string, attachments []upload.Attachment) iter.Seq2[string, error]
}

// RunStatus статус удалённого run (значения совпадают со строками OpenAI).
type RunStatus string

const (
	RunStatusQueued         RunStatus = "queued"
	RunStatusInProgress     RunStatus = "in_progress"
	RunStatusCancelling     RunStatus = "cancelling"
	RunStatusRequiresAction RunStatus = "requires_action"
	RunStatusCompleted      RunStatus = "completed"
	RunStatusFailed         RunStatus = "failed"
	RunStatusCancelled      RunStatus = "cancelled"
	RunStatusExpired        RunStatus = "expired"
	RunStatusIncomplete     RunStatus = "incomplete"
)

// Terminal сообщает, что опрос можно прекращать.
// requires_action терминален: инструменты шлюз не обслуживает.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunStatusCompleted, RunStatusFailed, RunStatusCancelled, RunStatusExpired,
		RunStatusIncomplete, RunStatusRequiresAction:
		return true
	}
	return false
}

type Run struct {
	ID           string
	Status       RunStatus
	ErrorCode    string
	ErrorMessage string
}

type ThreadMessage struct {
	ID    string
	Role  string
	RunID string
	Text  string
}

// RunEventKind тип события потокового run.
type RunEventKind int

const (
	RunEventDelta RunEventKind = iota + 1 // фрагмент текста ассистента
	RunEventRun                           // смена статуса run
)

type RunEvent struct {
	Kind RunEventKind
	Text string
	Run  Run
}

// AssistantAPI: порт к провайдеру (threads, messages, runs).
type AssistantAPI interface {
	CreateThread(ctx context.Context) (string, error)
	DeleteThread(ctx context.Context, threadID string) error
	AddUserMessage(ctx context.Context, threadID string, text string) error
	CreateRun(ctx context.Context, threadID string, assistantID string) (Run, error)
	GetRun(ctx context.Context, threadID string, runID string) (Run, error)
	CancelRun(ctx context.Context, threadID string, runID string) error
	// ListMessages возвращает сообщения thread, новые первыми.
	ListMessages(ctx context.Context, threadID string) ([]ThreadMessage, error)
	// StreamRun создаёт run и отдаёт его события по мере поступления.
	StreamRun(ctx context.Context, threadID string, assistantID string) iter.Seq2[RunEvent, error]
}
