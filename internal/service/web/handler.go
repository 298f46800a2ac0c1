package web

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"AssistantGateway/internal/service/chat"
	"AssistantGateway/internal/service/upload"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Config параметры HTTP-слоя.
type Config struct {
	AllowedOrigins []string
	MaxUploadBytes int64
	ApologyText    string
}

// Handler: HTTP-обработчики чата поверх chat.Service.
type Handler struct {
	chat     *chat.Service
	cfg      Config
	logger   *zap.SugaredLogger
	upgrader websocket.Upgrader
}

func NewHandler(chatSvc *chat.Service, cfg Config, logger *zap.SugaredLogger) *Handler {
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 10 << 20
	}
	h := &Handler{chat: chatSvc, cfg: cfg, logger: logger}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || originAllowed(cfg.AllowedOrigins, origin)
		},
	}
	return h
}

// Router собирает chi-маршруты.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(h.logger))
	r.Use(middleware.Recoverer)
	r.Use(cors(h.cfg.AllowedOrigins))

	r.Get("/healthz", h.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Post("/uploads", h.handleUpload)
		r.Post("/sessions", h.handleCreateSession)
		r.Route("/sessions/{id}", func(r chi.Router) {
			r.Get("/", h.handleGetSession)
			r.Delete("/", h.handleDeleteSession)
			r.Get("/messages", h.handleListMessages)
			r.Post("/messages", h.handleSubmit)
			r.Delete("/exchange", h.handleCancel)
			r.Get("/ws", h.handleWebSocket)
		})
	})
	return r
}

type submitRequest struct {
	Prompt      string              `json:"prompt"`
	Attachments []upload.Attachment `json:"attachments"`
}

type submitResponse struct {
	Message chat.Message `json:"message"`
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusCreated, h.chat.CreateSession(r.Context()))
}

func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	info, err := h.chat.Session(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (h *Handler) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := h.chat.DeleteSession(chi.URLParam(r, "id")); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleListMessages(w http.ResponseWriter, r *http.Request) {
	msgs, err := h.chat.Transcript(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]chat.Message{"messages": msgs})
}

// handleSubmit отвечает JSON целиком или SSE-потоком, если клиент прислал Accept: text/event-stream.
func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	// вложения приходят inline, base64 раздувает их примерно на треть
	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxUploadBytes*2)

	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, badRequest("invalid request body: "+err.Error()))
		return
	}

	if strings.Contains(r.Header.Get("Accept"), "text/event-stream") {
		h.streamSubmit(w, r, id, req)
		return
	}

	reply, err := h.chat.Submit(r.Context(), id, req.Prompt, req.Attachments, nil)
	if err != nil {
		h.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, submitResponse{Message: reply})
}

func (h *Handler) streamSubmit(w http.ResponseWriter, r *http.Request, id string, req submitRequest) {
	sse, ok := newSSEWriter(w)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: codeInternal, Message: "streaming unsupported"})
		return
	}

	reply, err := h.chat.Submit(r.Context(), id, req.Prompt, req.Attachments, func(chunk string) error {
		return sse.Event("chunk", map[string]string{"content": chunk})
	})
	if err != nil {
		status, body := classify(err, h.cfg.ApologyText)
		h.logError(status, body)
		if !sse.Started() {
			// поток ещё не открыт: обычный JSON-ответ с кодом
			writeJSON(w, status, body)
			return
		}
		_ = sse.Event("error", body)
		return
	}
	_ = sse.Event("done", submitResponse{Message: reply})
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	cancelled, err := h.chat.Cancel(chi.URLParam(r, "id"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"cancelled": cancelled})
}

// handleUpload принимает multipart-поле file и возвращает вложение для последующей отправки.
func (h *Handler) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxUploadBytes+1<<20)
	if err := r.ParseMultipartForm(h.cfg.MaxUploadBytes); err != nil {
		writeJSON(w, http.StatusBadRequest, badRequest("invalid multipart form: "+err.Error()))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, badRequest("file field is required"))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, h.cfg.MaxUploadBytes+1))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, badRequest("read file: "+err.Error()))
		return
	}
	if int64(len(data)) > h.cfg.MaxUploadBytes {
		writeJSON(w, http.StatusRequestEntityTooLarge, badRequest("file is too large"))
		return
	}

	att, err := upload.FromFile(header.Filename, header.Header.Get("Content-Type"), data)
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.logger.Infow("Document uploaded", "name", att.Name, "mimeType", att.MimeType, "bytes", len(data))
	writeJSON(w, http.StatusOK, att)
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	status, body := classify(err, h.cfg.ApologyText)
	h.logError(status, body)
	writeJSON(w, status, body)
}

func (h *Handler) logError(status int, body errorBody) {
	if status >= http.StatusInternalServerError {
		h.logger.Errorw("Request failed", "status", status, "code", body.Error, "detail", body.Detail)
		return
	}
	h.logger.Debugw("Request rejected", "status", status, "code", body.Error, "detail", body.Detail)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
