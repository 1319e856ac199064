package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"docchat/internal/logging"
	"docchat/internal/models"
	"docchat/internal/provider"
	"docchat/internal/service/conversation"
	"docchat/internal/session"
	"docchat/internal/worker"
)

// SessionRunner serializes controller calls per session.
type SessionRunner interface {
	Do(ctx context.Context, sessionID string, fn worker.Task) error
	Purge(sessionID string)
}

// Handler wires HTTP routes to the session controller.
type Handler struct {
	service        *conversation.Service
	workers        SessionRunner
	maxUploadBytes int64
}

// NewHandler constructs a Handler instance.
func NewHandler(service *conversation.Service, workers SessionRunner, maxUploadBytes int64) *Handler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = defaultMaxUploadBytes
	}
	return &Handler{
		service:        service,
		workers:        workers,
		maxUploadBytes: maxUploadBytes,
	}
}

const defaultMaxUploadBytes = 10 << 20 // 10 MB

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api")
	api.GET("/health", h.health)
	api.POST("/sessions", h.createSession)

	sessionRoutes := api.Group("/sessions/:sid")
	sessionRoutes.GET("", h.getSession)
	sessionRoutes.DELETE("", h.deleteSession)
	sessionRoutes.POST("/assistant", h.setupAssistant)
	sessionRoutes.POST("/file", h.attachFile)
	sessionRoutes.POST("/thread", h.createThread)
	sessionRoutes.POST("/setup", h.initialize)
	sessionRoutes.POST("/reset", h.resetSession)
	sessionRoutes.GET("/messages", h.getMessages)
	sessionRoutes.POST("/messages", h.sendMessage)
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"api_key_set": h.service.Configured(),
	})
}

func (h *Handler) createSession(c *gin.Context) {
	snap, err := h.service.CreateSession(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"session_id": snap.SessionID})
}

func (h *Handler) getSession(c *gin.Context) {
	snap, err := h.service.Snapshot(c.Request.Context(), c.Param("sid"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (h *Handler) deleteSession(c *gin.Context) {
	sid := c.Param("sid")
	err := h.workers.Do(c.Request.Context(), sid, func(ctx context.Context) error {
		return h.service.DeleteSession(ctx, sid)
	})
	if err != nil {
		writeError(c, err)
		return
	}
	h.workers.Purge(sid)
	c.Status(http.StatusNoContent)
}

type assistantRequest struct {
	Mode         string `json:"mode" form:"mode"`
	AssistantID  string `json:"assistant_id" form:"assistant_id"`
	Name         string `json:"name" form:"name"`
	Model        string `json:"model" form:"model"`
	Instructions string `json:"instructions" form:"instructions"`
}

// mode picks "existing" when an id is given or a default assistant is pinned.
func (h *Handler) mode(req assistantRequest) conversation.SetupMode {
	switch mode := strings.ToLower(strings.TrimSpace(req.Mode)); mode {
	case "":
		if strings.TrimSpace(req.AssistantID) != "" || h.service.DefaultAssistantID() != "" {
			return conversation.ModeUseExisting
		}
		return conversation.ModeCreateNew
	case "new":
		return conversation.ModeCreateNew
	default:
		return conversation.SetupMode(mode)
	}
}

func (h *Handler) setupAssistant(c *gin.Context) {
	sid := c.Param("sid")
	var req assistantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	var ref *models.AssistantRef
	err := h.workers.Do(c.Request.Context(), sid, func(ctx context.Context) error {
		var err error
		ref, err = h.service.SetupAssistant(ctx, sid, conversation.SetupRequest{
			Mode:       h.mode(req),
			ExistingID: req.AssistantID,
			Config: conversation.AssistantConfig{
				Name:         req.Name,
				Model:        req.Model,
				Instructions: req.Instructions,
			},
		})
		return err
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"assistant": ref})
}

func (h *Handler) attachFile(c *gin.Context) {
	sid := c.Param("sid")
	up, ok := h.readUpload(c, true)
	if !ok {
		return
	}
	var ref *models.UploadedFileRef
	err := h.workers.Do(c.Request.Context(), sid, func(ctx context.Context) error {
		var err error
		ref, err = h.service.AttachFile(ctx, sid, *up)
		return err
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"file": ref})
}

func (h *Handler) createThread(c *gin.Context) {
	sid := c.Param("sid")
	var ref *models.ThreadRef
	err := h.workers.Do(c.Request.Context(), sid, func(ctx context.Context) error {
		var err error
		ref, err = h.service.CreateThread(ctx, sid)
		return err
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"thread": ref})
}

// initialize accepts a multipart form; the file part is optional and falls back to the
// document cached on the session.
func (h *Handler) initialize(c *gin.Context) {
	sid := c.Param("sid")
	up, ok := h.readUpload(c, false)
	if !ok {
		return
	}
	var req assistantRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	var snap *conversation.Snapshot
	err := h.workers.Do(c.Request.Context(), sid, func(ctx context.Context) error {
		var err error
		snap, err = h.service.Initialize(ctx, sid, conversation.InitRequest{
			Mode:       h.mode(req),
			ExistingID: req.AssistantID,
			Config: conversation.AssistantConfig{
				Name:         req.Name,
				Model:        req.Model,
				Instructions: req.Instructions,
			},
			Upload: up,
		})
		return err
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (h *Handler) resetSession(c *gin.Context) {
	sid := c.Param("sid")
	var snap *conversation.Snapshot
	err := h.workers.Do(c.Request.Context(), sid, func(ctx context.Context) error {
		if err := h.service.Reset(ctx, sid); err != nil {
			return err
		}
		var err error
		snap, err = h.service.Snapshot(ctx, sid)
		return err
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (h *Handler) getMessages(c *gin.Context) {
	snap, err := h.service.Snapshot(c.Request.Context(), c.Param("sid"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"session_id": snap.SessionID,
		"messages":   snap.Transcript,
	})
}

type messageRequest struct {
	Content string `json:"content"`
}

type streamEvent struct {
	name    string
	payload any
}

func (h *Handler) sendMessage(c *gin.Context) {
	sid := c.Param("sid")
	var req messageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	content := strings.TrimSpace(req.Content)
	if content == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "content is required"})
		return
	}
	if !h.service.Configured() {
		writeError(c, conversation.ErrMissingAPIKey)
		return
	}
	snap, err := h.service.Snapshot(c.Request.Context(), sid)
	if err != nil {
		writeError(c, err)
		return
	}
	switch {
	case !snap.HasAssistant:
		writeError(c, conversation.ErrAssistantNotReady)
		return
	case !snap.HasThread:
		writeError(c, conversation.ErrThreadNotReady)
		return
	}

	// SSE Request construction
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming not supported"})
		return
	}
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	sendEvent := func(event string, payload interface{}) error {
		var data []byte
		switch v := payload.(type) {
		case string:
			data = []byte(v)
		default:
			var err error
			data, err = json.Marshal(v)
			if err != nil {
				return err
			}
		}
		if event != "" {
			if _, err := fmt.Fprintf(c.Writer, "event: %s\n", event); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintf(c.Writer, "data: %s\n\n", data); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	// the controller runs on the session runner; only this goroutine writes the response
	ctx := c.Request.Context()
	events := make(chan streamEvent, 8)
	emit := func(name string, payload any) {
		select {
		case events <- streamEvent{name: name, payload: payload}:
		case <-ctx.Done():
		}
	}
	var reply *models.TranscriptEntry
	result := make(chan error, 1)
	go func() {
		result <- h.workers.Do(ctx, sid, func(ctx context.Context) error {
			var err error
			reply, err = h.service.SendAndAwaitReply(ctx, sid, content, &conversation.ReplyHooks{
				UserEntry: func(e models.TranscriptEntry) { emit("ack", gin.H{"message": e}) },
				Status:    func(s models.RunStatus) { emit("status", gin.H{"status": s}) },
			})
			return err
		})
	}()

	for {
		select {
		case evt := <-events:
			if err := sendEvent(evt.name, evt.payload); err != nil {
				return
			}
		case err := <-result:
			for drained := false; !drained; {
				select {
				case evt := <-events:
					if sendEvent(evt.name, evt.payload) != nil {
						return
					}
				default:
					drained = true
				}
			}
			if err != nil {
				l := logging.Session(sid)
				l.Warn().Err(err).Msg("message exchange failed")
				_ = sendEvent("error", gin.H{"message": err.Error(), "code": statusFor(err)})
				return
			}
			_ = sendEvent("done", gin.H{"message": reply})
			return
		}
	}
}

// readUpload reads the "file" multipart part. A missing part is an error only when required.
func (h *Handler) readUpload(c *gin.Context, required bool) (*models.Upload, bool) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes+(1<<20))
	file, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
		case !required && (errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart)):
			return nil, true
		case errors.Is(err, http.ErrMissingFile):
			c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid multipart form"})
		}
		return nil, false
	}
	if file.Size > h.maxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
		return nil, false
	}
	f, err := file.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "open file failed"})
		return nil, false
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, h.maxUploadBytes+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "read file failed"})
		return nil, false
	}
	return &models.Upload{Name: filepath.Base(file.Filename), Data: data}, true
}

func writeError(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logging.Error().Err(err).Str("path", c.FullPath()).Str("session_id", c.Param("sid")).Msg("request failed")
	}
	body := gin.H{"error": err.Error()}
	var attachErr *conversation.FileAttachError
	if errors.As(err, &attachErr) {
		body["file_id"] = attachErr.FileID
	}
	c.JSON(status, body)
}

func statusFor(err error) int {
	var provErr *provider.Error
	switch {
	case errors.Is(err, conversation.ErrMissingAPIKey), errors.Is(err, worker.ErrStopped):
		return http.StatusServiceUnavailable
	case errors.Is(err, session.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, conversation.ErrInvalidRequest), errors.Is(err, conversation.ErrUnsupportedFile):
		return http.StatusBadRequest
	case errors.Is(err, conversation.ErrAssistantNotReady),
		errors.Is(err, conversation.ErrThreadNotReady),
		errors.Is(err, conversation.ErrAssistantExists),
		errors.Is(err, conversation.ErrFileAlreadyPresent):
		return http.StatusConflict
	case errors.Is(err, worker.ErrQueueFull):
		return http.StatusTooManyRequests
	case errors.Is(err, conversation.ErrRunTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, conversation.ErrRunFailed),
		errors.Is(err, conversation.ErrRunRequiresAction),
		errors.Is(err, conversation.ErrUnexpectedRole),
		errors.Is(err, conversation.ErrFileAttachInconsistency):
		return http.StatusBadGateway
	case errors.As(err, &provErr):
		if provErr.StatusCode == http.StatusNotFound {
			return http.StatusNotFound
		}
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
