package ai

import (
	"context"
	"iter"

	"AssistantGateway/internal/service/upload"
)

// StubGateway заглушка, которая не делает реальных запросов
type StubGateway struct{ Answer string }

func NewStubGateway() *StubGateway { return &StubGateway{Answer: "request received"} }

func (s *StubGateway) StreamAnswer(ctx context.Context, _ string, _ []upload.Attachment) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		if err := context.Cause(ctx); err != nil {
			yield("", err)
			return
		}
		yield(s.Answer, nil)
	}
}
