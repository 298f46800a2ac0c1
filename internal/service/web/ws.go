package web

import (
	"context"
	"net/http"
	"sync"
	"time"

	"AssistantGateway/internal/service/chat"
	"AssistantGateway/internal/service/upload"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsPongTimeout  = 60 * time.Second
	wsPingPeriod   = 54 * time.Second
)

// Кадры WebSocket.
const (
	frameMessage = "message"
	frameCancel  = "cancel"
	frameChunk   = "chunk"
	frameDone    = "done"
	frameError   = "error"
)

type wsInbound struct {
	Type        string              `json:"type"`
	Prompt      string              `json:"prompt,omitempty"`
	Attachments []upload.Attachment `json:"attachments,omitempty"`
}

type wsOutbound struct {
	Type    string        `json:"type"`
	Content string        `json:"content,omitempty"`
	Message *chat.Message `json:"message,omitempty"`
	Error   *errorBody    `json:"error,omitempty"`
}

// wsConn сериализует запись: gorilla допускает только одного писателя.
type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsConn) send(v wsOutbound) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return c.conn.WriteJSON(v)
}

func (c *wsConn) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout))
}

// handleWebSocket: двунаправленный канал сессии: сообщения и отмена от клиента,
// фрагменты ответа и итог от сервера.
func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.chat.Session(r.Context(), id); err != nil {
		h.respondError(w, err)
		return
	}

	raw, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warnw("websocket upgrade failed", "session", id, "error", err)
		return
	}
	defer raw.Close()
	conn := &wsConn{conn: raw}
	h.logger.Infow("WebSocket connected", "session", id)

	// обмены не должны зависеть от дедлайнов HTTP-запроса после hijack
	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
		h.logger.Infow("WebSocket closed", "session", id)
	}()

	_ = raw.SetReadDeadline(time.Now().Add(wsPongTimeout))
	raw.SetPongHandler(func(string) error {
		return raw.SetReadDeadline(time.Now().Add(wsPongTimeout))
	})
	wg.Add(1)
	go func() {
		defer wg.Done()
		h.pingLoop(ctx, conn)
	}()

	for {
		var in wsInbound
		if err := raw.ReadJSON(&in); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warnw("websocket read error", "session", id, "error", err)
			}
			return
		}
		_ = raw.SetReadDeadline(time.Now().Add(wsPongTimeout))

		switch in.Type {
		case frameMessage:
			wg.Add(1)
			go func() {
				defer wg.Done()
				h.wsExchange(ctx, conn, id, in)
			}()
		case frameCancel:
			if _, err := h.chat.Cancel(id); err != nil {
				h.sendWSError(conn, err)
			}
		default:
			body := badRequest("unsupported frame type: " + in.Type)
			_ = conn.send(wsOutbound{Type: frameError, Error: &body})
		}
	}
}

func (h *Handler) wsExchange(ctx context.Context, conn *wsConn, id string, in wsInbound) {
	reply, err := h.chat.Submit(ctx, id, in.Prompt, in.Attachments, func(chunk string) error {
		return conn.send(wsOutbound{Type: frameChunk, Content: chunk})
	})
	if err != nil {
		h.sendWSError(conn, err)
		return
	}
	if err := conn.send(wsOutbound{Type: frameDone, Message: &reply}); err != nil {
		h.logger.Debugw("websocket write failed", "session", id, "error", err)
	}
}

func (h *Handler) sendWSError(conn *wsConn, err error) {
	status, body := classify(err, h.cfg.ApologyText)
	h.logError(status, body)
	_ = conn.send(wsOutbound{Type: frameError, Error: &body})
}

func (h *Handler) pingLoop(ctx context.Context, conn *wsConn) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.ping(); err != nil {
				return
			}
		}
	}
}
