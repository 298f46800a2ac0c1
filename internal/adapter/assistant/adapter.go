package assistant

import (
	"context"
	"iter"
	"strings"
	"time"

	"AssistantGateway/internal/ai"

	"github.com/openai/openai-go/v3"
	"go.uber.org/zap"
)

// Adapter реализует ai.AssistantAPI поверх OpenAI Assistants (Beta Threads).
type Adapter struct {
	client *openai.Client
	logger *zap.SugaredLogger
}

var _ ai.AssistantAPI = (*Adapter)(nil)

// New создаёт адаптер ассистента.
func New(client *openai.Client, logger *zap.SugaredLogger) *Adapter {
	return &Adapter{client: client, logger: logger}
}

func (a *Adapter) CreateThread(ctx context.Context) (string, error) {
	start := time.Now()
	th, err := a.client.Beta.Threads.New(ctx, openai.BetaThreadNewParams{})
	if err != nil {
		return "", err
	}
	a.logger.Debugw("Thread создан", "thread", th.ID, "duration", time.Since(start).String())
	return th.ID, nil
}

func (a *Adapter) DeleteThread(ctx context.Context, threadID string) error {
	_, err := a.client.Beta.Threads.Delete(ctx, threadID)
	return err
}

// AddUserMessage добавляет текстовое сообщение с ролью user.
func (a *Adapter) AddUserMessage(ctx context.Context, threadID string, text string) error {
	_, err := a.client.Beta.Threads.Messages.New(ctx, threadID, openai.BetaThreadMessageNewParams{
		Role: openai.BetaThreadMessageNewParamsRoleUser,
		Content: openai.BetaThreadMessageNewParamsContentUnion{
			OfString: openai.String(text),
		},
	})
	return err
}

func (a *Adapter) CreateRun(ctx context.Context, threadID string, assistantID string) (ai.Run, error) {
	run, err := a.client.Beta.Threads.Runs.New(ctx, threadID, openai.BetaThreadRunNewParams{
		AssistantID: assistantID,
	})
	if err != nil {
		return ai.Run{}, err
	}
	return toRun(run), nil
}

func (a *Adapter) GetRun(ctx context.Context, threadID string, runID string) (ai.Run, error) {
	run, err := a.client.Beta.Threads.Runs.Get(ctx, threadID, runID)
	if err != nil {
		return ai.Run{}, err
	}
	a.logger.Debugw("Run status", "thread", threadID, "run", runID, "status", run.Status)
	return toRun(run), nil
}

func (a *Adapter) CancelRun(ctx context.Context, threadID string, runID string) error {
	_, err := a.client.Beta.Threads.Runs.Cancel(ctx, threadID, runID)
	return err
}

// ListMessages возвращает первую страницу сообщений thread, новые первыми.
// Для одного обмена (документы + запрос + ответ) её достаточно.
func (a *Adapter) ListMessages(ctx context.Context, threadID string) ([]ai.ThreadMessage, error) {
	page, err := a.client.Beta.Threads.Messages.List(ctx, threadID, openai.BetaThreadMessageListParams{
		Order: openai.BetaThreadMessageListParamsOrderDesc,
	})
	if err != nil {
		return nil, err
	}
	out := make([]ai.ThreadMessage, 0, len(page.Data))
	for _, m := range page.Data {
		out = append(out, ai.ThreadMessage{
			ID:    m.ID,
			Role:  string(m.Role),
			RunID: m.RunID,
			Text:  messageText(m),
		})
	}
	return out, nil
}

// StreamRun запускает run в потоковом режиме и транслирует события SSE провайдера.
func (a *Adapter) StreamRun(ctx context.Context, threadID string, assistantID string) iter.Seq2[ai.RunEvent, error] {
	return func(yield func(ai.RunEvent, error) bool) {
		stream := a.client.Beta.Threads.Runs.NewStreaming(ctx, threadID, openai.BetaThreadRunNewParams{
			AssistantID: assistantID,
		})
		defer stream.Close()

		for stream.Next() {
			ev, ok := toRunEvent(stream.Current())
			if !ok {
				continue
			}
			if !yield(ev, nil) {
				return
			}
		}
		if err := stream.Err(); err != nil {
			yield(ai.RunEvent{}, err)
		}
	}
}

func toRunEvent(ev openai.AssistantStreamEventUnion) (ai.RunEvent, bool) {
	var run openai.Run
	switch ev.Event {
	case "thread.message.delta":
		var b strings.Builder
		for _, c := range ev.AsThreadMessageDelta().Data.Delta.Content {
			if c.Type == "text" {
				b.WriteString(c.Text.Value)
			}
		}
		return ai.RunEvent{Kind: ai.RunEventDelta, Text: b.String()}, true
	case "thread.run.created":
		run = ev.AsThreadRunCreated().Data
	case "thread.run.queued":
		run = ev.AsThreadRunQueued().Data
	case "thread.run.in_progress":
		run = ev.AsThreadRunInProgress().Data
	case "thread.run.requires_action":
		run = ev.AsThreadRunRequiresAction().Data
	case "thread.run.completed":
		run = ev.AsThreadRunCompleted().Data
	case "thread.run.incomplete":
		run = ev.AsThreadRunIncomplete().Data
	case "thread.run.failed":
		run = ev.AsThreadRunFailed().Data
	case "thread.run.cancelling":
		run = ev.AsThreadRunCancelling().Data
	case "thread.run.cancelled":
		run = ev.AsThreadRunCancelled().Data
	case "thread.run.expired":
		run = ev.AsThreadRunExpired().Data
	default:
		return ai.RunEvent{}, false
	}
	return ai.RunEvent{Kind: ai.RunEventRun, Run: toRun(&run)}, true
}

func toRun(r *openai.Run) ai.Run {
	return ai.Run{
		ID:           r.ID,
		Status:       ai.RunStatus(r.Status),
		ErrorCode:    string(r.LastError.Code),
		ErrorMessage: r.LastError.Message,
	}
}

// messageText склеивает текстовые части сообщения; картинки и прочее пропускаются.
func messageText(m openai.Message) string {
	parts := make([]string, 0, len(m.Content))
	for _, c := range m.Content {
		if c.Type == "text" && c.Text.Value != "" {
			parts = append(parts, c.Text.Value)
		}
	}
	return strings.Join(parts, "\n")
}
