package requester

import (
	"bytes"
	"context"
	"iter"
	"os"
	"path/filepath"
	"testing"

	"AssistantGateway/internal/ai"
	"AssistantGateway/internal/service/upload"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type scriptedGateway struct {
	chunks []string
	err    error
	got    []upload.Attachment
}

func (g *scriptedGateway) StreamAnswer(_ context.Context, _ string, attachments []upload.Attachment) iter.Seq2[string, error] {
	g.got = attachments
	return func(yield func(string, error) bool) {
		for _, c := range g.chunks {
			if !yield(c, nil) {
				return
			}
		}
		if g.err != nil {
			yield("", g.err)
		}
	}
}

func TestAskStreamsChunks(t *testing.T) {
	gw := &scriptedGateway{chunks: []string{"Hal", "lo"}}
	r := New(gw, zap.NewNop().Sugar())

	var out bytes.Buffer
	answer, err := r.Ask(context.Background(), "Hello", nil, &out)
	require.NoError(t, err)
	require.Equal(t, "Hallo", answer)
	require.Equal(t, "Hallo", out.String())
}

func TestAskReturnsPartialAnswerOnError(t *testing.T) {
	gw := &scriptedGateway{chunks: []string{"Hal"}, err: ai.ErrRunTimeout}
	r := New(gw, zap.NewNop().Sugar())

	answer, err := r.Ask(context.Background(), "Hello", nil, &bytes.Buffer{})
	require.ErrorIs(t, err, ai.ErrRunTimeout)
	require.Equal(t, "Hal", answer)
}

func TestLoadAttachments(t *testing.T) {
	dir := t.TempDir()
	txt := filepath.Join(dir, "expose.txt")
	require.NoError(t, os.WriteFile(txt, []byte("3 Zimmer"), 0o600))

	r := New(&scriptedGateway{}, zap.NewNop().Sugar())
	atts, err := r.LoadAttachments([]string{txt})
	require.NoError(t, err)
	require.Len(t, atts, 1)
	require.Equal(t, "expose.txt", atts[0].Name)
	require.Equal(t, "3 Zimmer", atts[0].Content)

	_, err = r.LoadAttachments([]string{filepath.Join(dir, "missing.txt")})
	require.ErrorIs(t, err, os.ErrNotExist)

	empty := filepath.Join(dir, "empty.txt")
	require.NoError(t, os.WriteFile(empty, nil, 0o600))
	_, err = r.LoadAttachments([]string{empty})
	require.ErrorIs(t, err, upload.ErrEmptyFile)
}
