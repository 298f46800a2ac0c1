package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"iter"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"AssistantGateway/internal/ai"
	"AssistantGateway/internal/service/chat"
	"AssistantGateway/internal/service/upload"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testApology = "Entschuldigung, es ist ein Fehler aufgetreten."

type fakeGateway struct {
	chunks  []string
	err     error
	block   bool
	started chan struct{}
}

func (f *fakeGateway) StreamAnswer(ctx context.Context, _ string, _ []upload.Attachment) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		if f.block {
			f.started <- struct{}{}
			<-ctx.Done()
			yield("", context.Cause(ctx))
			return
		}
		if f.err != nil {
			yield("", f.err)
			return
		}
		for _, c := range f.chunks {
			if !yield(c, nil) {
				return
			}
		}
	}
}

type testEnv struct {
	chat   *chat.Service
	router http.Handler
}

func newTestEnv(t *testing.T, gw ai.Gateway) testEnv {
	logger := zap.NewNop().Sugar()
	svc := chat.NewService(gw, chat.Config{Greeting: "Hallo!", MaxTranscript: 50}, logger)
	h := NewHandler(svc, Config{AllowedOrigins: []string{"http://localhost:3000"}, MaxUploadBytes: 1 << 10, ApologyText: testApology}, logger)
	return testEnv{chat: svc, router: h.Router()}
}

func (e testEnv) do(t *testing.T, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, &fakeGateway{})
	rec := env.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestCreateSessionAndSubmit(t *testing.T) {
	env := newTestEnv(t, &fakeGateway{chunks: []string{"Hal", "lo"}})

	rec := env.do(t, http.MethodPost, "/api/sessions", nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	info := decode[chat.SessionInfo](t, rec)
	require.Len(t, info.Messages, 1)

	rec = env.do(t, http.MethodPost, "/api/sessions/"+info.ID+"/messages", submitRequest{Prompt: "Hello"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[submitResponse](t, rec)
	require.Equal(t, "Hallo", resp.Message.Content)
	require.Equal(t, chat.RoleAssistant, resp.Message.Role)

	rec = env.do(t, http.MethodGet, "/api/sessions/"+info.ID+"/messages", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[map[string][]chat.Message](t, rec)
	require.Len(t, list["messages"], 3)

	rec = env.do(t, http.MethodDelete, "/api/sessions/"+info.ID, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	rec = env.do(t, http.MethodGet, "/api/sessions/"+info.ID, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSubmitErrors(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		status    int
		code      string
		retryable bool
	}{
		{"run failed", &ai.RunFailedError{RunID: "run_1", Status: ai.RunStatusFailed}, http.StatusBadGateway, codeRunFailed, false},
		{"timeout", ai.ErrRunTimeout, http.StatusGatewayTimeout, codeRunTimeout, true},
		{"missing key", ai.ErrMissingCredential, http.StatusServiceUnavailable, codeConfiguration, false},
		{"network", &ai.RequestError{Op: "create thread", Err: &net.OpError{Op: "dial", Err: errors.New("connection refused")}}, http.StatusServiceUnavailable, codeUpstreamUnavailable, true},
		{"permanent", &ai.RequestError{Op: "create run", Err: errors.New("bad request")}, http.StatusBadGateway, codeUpstream, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t, &fakeGateway{err: tc.err})
			info := env.chat.CreateSession(context.Background())

			rec := env.do(t, http.MethodPost, "/api/sessions/"+info.ID+"/messages", submitRequest{Prompt: "Hello"})
			require.Equal(t, tc.status, rec.Code)
			body := decode[errorBody](t, rec)
			require.Equal(t, tc.code, body.Error)
			require.Equal(t, tc.retryable, body.Retryable)
			if tc.code != codeConfiguration {
				require.Equal(t, testApology, body.Message)
			}
		})
	}
}

func TestSubmitRejectsBadInput(t *testing.T) {
	env := newTestEnv(t, &fakeGateway{chunks: []string{"ok"}})
	info := env.chat.CreateSession(context.Background())

	rec := env.do(t, http.MethodPost, "/api/sessions/"+info.ID+"/messages", submitRequest{Prompt: "  "})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, codeBadRequest, decode[errorBody](t, rec).Error)

	rec = env.do(t, http.MethodPost, "/api/sessions/unknown/messages", submitRequest{Prompt: "Hello"})
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, codeNotFound, decode[errorBody](t, rec).Error)

	req := httptest.NewRequest(http.MethodPost, "/api/sessions/"+info.ID+"/messages", strings.NewReader("{"))
	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestSubmitStreamsSSE(t *testing.T) {
	env := newTestEnv(t, &fakeGateway{chunks: []string{"Hal", "lo"}})
	info := env.chat.CreateSession(context.Background())

	rec := env.do(t, http.MethodPost, "/api/sessions/"+info.ID+"/messages", submitRequest{Prompt: "Hello"}, "Accept", "text/event-stream")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	body := rec.Body.String()
	require.Equal(t, 2, strings.Count(body, "event: chunk\n"))
	require.Contains(t, body, `data: {"content":"Hal"}`)
	require.Contains(t, body, "event: done\n")
	require.Contains(t, body, `"content":"Hallo"`)
}

func TestSubmitSSEErrorBeforeFirstChunk(t *testing.T) {
	env := newTestEnv(t, &fakeGateway{err: &ai.RunFailedError{RunID: "run_1", Status: ai.RunStatusExpired}})
	info := env.chat.CreateSession(context.Background())

	rec := env.do(t, http.MethodPost, "/api/sessions/"+info.ID+"/messages", submitRequest{Prompt: "Hello"}, "Accept", "text/event-stream")
	require.Equal(t, http.StatusBadGateway, rec.Code)
	require.Equal(t, codeRunFailed, decode[errorBody](t, rec).Error)
}

func TestCancelWithoutExchange(t *testing.T) {
	env := newTestEnv(t, &fakeGateway{})
	info := env.chat.CreateSession(context.Background())

	rec := env.do(t, http.MethodDelete, "/api/sessions/"+info.ID+"/exchange", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.False(t, decode[map[string]bool](t, rec)["cancelled"])
}

func multipartRequest(t *testing.T, name string, data []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", name)
	require.NoError(t, err)
	_, err = fw.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/uploads", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestUpload(t *testing.T) {
	env := newTestEnv(t, &fakeGateway{})

	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, multipartRequest(t, "notes.txt", []byte("3 Zimmer, Balkon")))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	att := decode[upload.Attachment](t, rec)
	require.Equal(t, "notes.txt", att.Name)
	require.Equal(t, "3 Zimmer, Balkon", att.Content)
	require.True(t, strings.HasPrefix(att.MimeType, "text/plain"))

	rec = httptest.NewRecorder()
	env.router.ServeHTTP(rec, multipartRequest(t, "empty.txt", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	env.router.ServeHTTP(rec, multipartRequest(t, "big.txt", bytes.Repeat([]byte("a"), 2<<10)))
	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t, &fakeGateway{})

	rec := env.do(t, http.MethodOptions, "/api/sessions", nil, "Origin", "http://localhost:3000")
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = env.do(t, http.MethodOptions, "/api/sessions", nil, "Origin", "http://evil.example")
	require.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func dialWS(t *testing.T, srv *httptest.Server, id string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/sessions/" + id + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = resp.Body.Close()
		_ = conn.Close()
	})
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	return conn
}

func TestWebSocketExchange(t *testing.T) {
	env := newTestEnv(t, &fakeGateway{chunks: []string{"Hal", "lo"}})
	srv := httptest.NewServer(env.router)
	defer srv.Close()
	info := env.chat.CreateSession(context.Background())

	conn := dialWS(t, srv, info.ID)
	require.NoError(t, conn.WriteJSON(wsInbound{Type: frameMessage, Prompt: "Hello"}))

	var frames []wsOutbound
	for {
		var f wsOutbound
		require.NoError(t, conn.ReadJSON(&f))
		frames = append(frames, f)
		if f.Type != frameChunk {
			break
		}
	}
	require.Len(t, frames, 3)
	require.Equal(t, "Hal", frames[0].Content)
	require.Equal(t, "lo", frames[1].Content)
	require.Equal(t, frameDone, frames[2].Type)
	require.Equal(t, "Hallo", frames[2].Message.Content)

	require.NoError(t, conn.WriteJSON(wsInbound{Type: "bogus"}))
	var f wsOutbound
	require.NoError(t, conn.ReadJSON(&f))
	require.Equal(t, frameError, f.Type)
	require.Equal(t, codeBadRequest, f.Error.Error)
}

func TestWebSocketCancelAndInFlight(t *testing.T) {
	gw := &fakeGateway{block: true, started: make(chan struct{}, 1)}
	env := newTestEnv(t, gw)
	srv := httptest.NewServer(env.router)
	defer srv.Close()
	info := env.chat.CreateSession(context.Background())

	conn := dialWS(t, srv, info.ID)
	require.NoError(t, conn.WriteJSON(wsInbound{Type: frameMessage, Prompt: "first"}))
	select {
	case <-gw.started:
	case <-time.After(5 * time.Second):
		t.Fatal("exchange did not start")
	}

	require.NoError(t, conn.WriteJSON(wsInbound{Type: frameMessage, Prompt: "second"}))
	var f wsOutbound
	require.NoError(t, conn.ReadJSON(&f))
	require.Equal(t, frameError, f.Type)
	require.Equal(t, codeInFlight, f.Error.Error)

	require.NoError(t, conn.WriteJSON(wsInbound{Type: frameCancel}))
	require.NoError(t, conn.ReadJSON(&f))
	require.Equal(t, frameError, f.Type)
	require.Equal(t, codeCancelled, f.Error.Error)
}

func TestWebSocketUnknownSession(t *testing.T) {
	env := newTestEnv(t, &fakeGateway{})
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/sessions/missing/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	_ = resp.Body.Close()
}

func TestClassifyCallerCancel(t *testing.T) {
	status, body := classify(chat.ErrExchangeCancelled, testApology)
	require.Equal(t, http.StatusConflict, status)
	require.Equal(t, codeCancelled, body.Error)

	status, body = classify(chat.ErrExchangeInFlight, testApology)
	require.Equal(t, http.StatusConflict, status)
	require.True(t, body.Retryable)

	status, _ = classify(errors.New("boom"), testApology)
	require.Equal(t, http.StatusInternalServerError, status)
}
