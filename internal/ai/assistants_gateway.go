package ai

import (
	"context"
	"errors"
	"iter"
	"sync/atomic"
	"time"

	"AssistantGateway/internal/service/upload"

	"go.uber.org/zap"
)

const (
	DeliveryPoll   = "poll"
	DeliveryStream = "stream"
)

// Таймаут фоновых операций уборки (отмена run, удаление thread).
const cleanupTimeout = 10 * time.Second

// AssistantsConfig: параметры шлюза, передаются явно при создании.
type AssistantsConfig struct {
	APIKey         string
	AssistantID    string
	Delivery       string        // poll|stream
	PollInterval   time.Duration // интервал опроса статуса run
	RunTimeout     time.Duration // общий таймаут обмена
	MaxPollRetries int           // временных ошибок опроса подряд до отказа
	RetryBaseDelay time.Duration // база экспоненциального backoff
	DeleteThreads  bool          // удалять thread после обмена
}

// AssistantsGateway реализует Gateway через OpenAI Assistants (Threads + Runs).
// Каждый вызов StreamAnswer создаёт новый thread: диалог на стороне провайдера не переиспользуется.
type AssistantsGateway struct {
	api    AssistantAPI
	cfg    AssistantsConfig
	logger *zap.SugaredLogger
}

var _ Gateway = (*AssistantsGateway)(nil)

func NewAssistantsGateway(api AssistantAPI, cfg AssistantsConfig, logger *zap.SugaredLogger) *AssistantsGateway {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = 2 * time.Minute
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = 500 * time.Millisecond
	}
	if cfg.MaxPollRetries < 0 {
		cfg.MaxPollRetries = 0
	}
	if cfg.Delivery == "" {
		cfg.Delivery = DeliveryPoll
	}
	return &AssistantsGateway{api: api, cfg: cfg, logger: logger}
}

func (g *AssistantsGateway) StreamAnswer(ctx context.Context, prompt string, attachments []upload.Attachment) iter.Seq2[string, error] {
	var consumed atomic.Bool
	return func(yield func(string, error) bool) {
		if !consumed.CompareAndSwap(false, true) {
			yield("", ErrStreamConsumed)
			return
		}
		// Конфигурация проверяется до любого обращения к API
		if g.cfg.APIKey == "" {
			yield("", ErrMissingCredential)
			return
		}
		if g.cfg.AssistantID == "" {
			yield("", ErrMissingAssistant)
			return
		}
		if err := g.exchange(ctx, prompt, attachments, yield); err != nil {
			yield("", err)
		}
	}
}

// exchange выполняет один обмен. Возвращает ошибку, если её ещё нужно отдать потребителю.
func (g *AssistantsGateway) exchange(parent context.Context, prompt string, attachments []upload.Attachment, yield func(string, error) bool) error {
	ctx, cancel := context.WithTimeoutCause(parent, g.cfg.RunTimeout, ErrRunTimeout)
	defer cancel()

	start := time.Now()
	threadID, err := g.api.CreateThread(ctx)
	if err != nil {
		return g.remoteErr(ctx, "create thread", err)
	}
	defer g.discardThread(ctx, threadID)

	// Сначала документы, в порядке загрузки, затем сам запрос
	for _, a := range attachments {
		if a.IsImage() {
			g.logger.Warnw("Содержимое изображения не передаётся ассистенту, отправлена заглушка", "thread", threadID, "name", a.Name, "mimeType", a.MimeType)
		}
		if err := g.api.AddUserMessage(ctx, threadID, a.ContextMessage()); err != nil {
			return g.remoteErr(ctx, "add document message", err)
		}
	}
	if err := g.api.AddUserMessage(ctx, threadID, prompt); err != nil {
		return g.remoteErr(ctx, "add prompt message", err)
	}

	if g.cfg.Delivery == DeliveryStream {
		return g.streamRun(ctx, threadID, yield)
	}

	run, err := g.api.CreateRun(ctx, threadID, g.cfg.AssistantID)
	if err != nil {
		return g.remoteErr(ctx, "start run", err)
	}
	g.logger.Infow("Run started", "thread", threadID, "run", run.ID, "attachments", len(attachments))

	answer, err := g.awaitRun(ctx, threadID, run.ID)
	if err != nil {
		if ctx.Err() != nil {
			g.cancelRun(ctx, threadID, run.ID)
		}
		return err
	}
	g.logger.Infow("Run completed", "thread", threadID, "run", run.ID, "duration", time.Since(start).String())
	yield(answer, nil)
	return nil
}

// awaitRun опрашивает run до терминального статуса: первый раз сразу, далее раз в PollInterval.
func (g *AssistantsGateway) awaitRun(ctx context.Context, threadID string, runID string) (string, error) {
	failures := 0
	for {
		r, err := g.api.GetRun(ctx, threadID, runID)
		if err != nil {
			if cause := context.Cause(ctx); cause != nil {
				return "", cause
			}
			if !IsRetryable(err) || failures >= g.cfg.MaxPollRetries {
				return "", &RequestError{Op: "get run", Err: err}
			}
			failures++
			delay := g.cfg.RetryBaseDelay << (failures - 1)
			g.logger.Warnw("Временная ошибка опроса run, повтор", "run", runID, "attempt", failures, "delay", delay.String(), "error", err)
			if err := wait(ctx, delay); err != nil {
				return "", err
			}
			continue
		}
		failures = 0

		switch {
		case r.Status == RunStatusCompleted:
			return g.fetchAnswer(ctx, threadID, runID)
		case r.Status.Terminal():
			return "", runFailed(runID, r)
		}

		if err := wait(ctx, g.cfg.PollInterval); err != nil {
			return "", err
		}
	}
}

// fetchAnswer берёт самое новое сообщение ассистента, предпочитая созданное этим run.
func (g *AssistantsGateway) fetchAnswer(ctx context.Context, threadID string, runID string) (string, error) {
	msgs, err := g.api.ListMessages(ctx, threadID)
	if err != nil {
		return "", g.remoteErr(ctx, "list messages", err)
	}
	var fallback *ThreadMessage
	for i := range msgs {
		m := &msgs[i]
		if m.Role != "assistant" || m.Text == "" {
			continue
		}
		if m.RunID == runID {
			return m.Text, nil
		}
		if fallback == nil {
			fallback = m
		}
	}
	if fallback != nil {
		return fallback.Text, nil
	}
	return "", ErrEmptyAnswer
}

// streamRun отдаёт текст по мере генерации, каждый фрагмент: отдельный chunk.
func (g *AssistantsGateway) streamRun(ctx context.Context, threadID string, yield func(string, error) bool) error {
	var runID string
	produced := false
	for ev, err := range g.api.StreamRun(ctx, threadID, g.cfg.AssistantID) {
		if err != nil {
			if runID != "" && ctx.Err() != nil {
				g.cancelRun(ctx, threadID, runID)
			}
			return g.remoteErr(ctx, "stream run", err)
		}
		switch ev.Kind {
		case RunEventRun:
			if runID == "" && ev.Run.ID != "" {
				runID = ev.Run.ID
				g.logger.Infow("Run started (stream)", "thread", threadID, "run", runID)
			}
			if ev.Run.Status == RunStatusCompleted {
				if !produced {
					return ErrEmptyAnswer
				}
				return nil
			}
			if ev.Run.Status.Terminal() {
				return runFailed(runID, ev.Run)
			}
		case RunEventDelta:
			if ev.Text == "" {
				continue
			}
			produced = true
			if !yield(ev.Text, nil) {
				// Потребитель прекратил чтение: run больше не нужен
				if runID != "" {
					g.cancelRun(ctx, threadID, runID)
				}
				return nil
			}
		}
	}
	if err := context.Cause(ctx); err != nil {
		return err
	}
	if !produced {
		return ErrEmptyAnswer
	}
	return nil
}

// remoteErr оборачивает ошибку API. Если контекст отменён, возвращает причину отмены.
func (g *AssistantsGateway) remoteErr(ctx context.Context, op string, err error) error {
	if cause := context.Cause(ctx); cause != nil {
		return cause
	}
	var rf *RunFailedError
	if errors.As(err, &rf) {
		return err
	}
	g.logger.Errorw("Ошибка запроса к ассистенту", "op", op, "error", err)
	return &RequestError{Op: op, Err: err}
}

func (g *AssistantsGateway) cancelRun(ctx context.Context, threadID string, runID string) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()
	if err := g.api.CancelRun(cctx, threadID, runID); err != nil {
		g.logger.Warnw("Не удалось отменить run", "thread", threadID, "run", runID, "error", err)
		return
	}
	g.logger.Infow("Run cancelled", "thread", threadID, "run", runID, "cause", context.Cause(ctx))
}

func (g *AssistantsGateway) discardThread(ctx context.Context, threadID string) {
	if !g.cfg.DeleteThreads {
		return
	}
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()
	if err := g.api.DeleteThread(cctx, threadID); err != nil {
		g.logger.Warnw("Не удалось удалить thread", "thread", threadID, "error", err)
	}
}

func runFailed(runID string, r Run) *RunFailedError {
	id := r.ID
	if id == "" {
		id = runID
	}
	return &RunFailedError{RunID: id, Status: r.Status, Code: r.ErrorCode, Message: r.ErrorMessage}
}

// wait ждёт d или отмены контекста; возвращает причину отмены.
func wait(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return context.Cause(ctx)
	case <-t.C:
		return nil
	}
}
