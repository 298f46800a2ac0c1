package requester

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"AssistantGateway/internal/ai"
	"AssistantGateway/internal/service/upload"

	"go.uber.org/zap"
)

// Requester выполняет разовый обмен с ассистентом из командной строки.
type Requester struct {
	gateway ai.Gateway
	logger  *zap.SugaredLogger
}

func New(gateway ai.Gateway, logger *zap.SugaredLogger) *Requester {
	return &Requester{gateway: gateway, logger: logger}
}

// LoadAttachments читает файлы с диска и превращает их во вложения.
func (r *Requester) LoadAttachments(paths []string) ([]upload.Attachment, error) {
	out := make([]upload.Attachment, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", p, err)
		}
		att, err := upload.FromFile(p, "", data)
		if err != nil {
			return nil, fmt.Errorf("attach %s: %w", p, err)
		}
		if att.IsImage() {
			r.logger.Warnw("Image content is not sent to the assistant, only its name", "path", p)
		}
		out = append(out, att)
	}
	return out, nil
}

// Ask отправляет промпт с вложениями и пишет фрагменты ответа в out по мере поступления.
func (r *Requester) Ask(ctx context.Context, prompt string, attachments []upload.Attachment, out io.Writer) (string, error) {
	r.logger.Infow("Отправка..", "chars", len(prompt), "attachments", len(attachments))
	var answer strings.Builder
	for chunk, err := range r.gateway.StreamAnswer(ctx, prompt, attachments) {
		if err != nil {
			return answer.String(), err
		}
		answer.WriteString(chunk)
		if _, err := io.WriteString(out, chunk); err != nil {
			return answer.String(), err
		}
	}
	return answer.String(), nil
}
