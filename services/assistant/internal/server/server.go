package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"serpassist/internal/util"
	"serpassist/pkg/domain"
	"serpassist/services/assistant/internal/app"
)

const (
	headerUserID      = "X-User-Id"
	headerTenantID    = "X-Tenant-Id"
	headerPermissions = "X-User-Permissions"

	maxBodyBytes = 1 << 20
)

// Limiter gates chat requests per caller. A nil limiter disables limiting.
type Limiter interface {
	Allow(key string) bool
}

// Config wires required dependencies for the HTTP server.
type Config struct {
	App         *app.App
	ChatLimiter Limiter
}

// Server exposes the assistant HTTP API. The platform gateway authenticates
// callers and forwards identity via headers.
type Server struct {
	app         *app.App
	chatLimiter Limiter
	mux         *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) *Server {
	s := &Server{
		app:         cfg.App,
		chatLimiter: cfg.ChatLimiter,
		mux:         http.NewServeMux(),
	}
	s.routes()
	return s
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog("assistant", util.WithSecurityHeaders(util.WithCORS(s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)

	s.mux.Handle("/modules", s.withIdentity(s.handleModules))
	s.mux.Handle("/modules/", s.withIdentity(s.handleModuleSubresource))

	s.mux.Handle("/chat", s.withIdentity(s.withChatLimit(s.handleChat)))
	s.mux.Handle("/chat/stream", s.withIdentity(s.withChatLimit(s.handleChatStream)))

	s.mux.Handle("/conversations", s.withIdentity(s.handleConversations))
	s.mux.Handle("/conversations/", s.withIdentity(s.handleConversationByID))

	s.mux.Handle("/messages/", s.withIdentity(s.handleMessageByID))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type identityHandler func(http.ResponseWriter, *http.Request, app.Identity)

// withIdentity reads the gateway-resolved identity headers. Requests without
// them never reach the app layer.
func (s *Server) withIdentity(next identityHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := identityFromRequest(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized", "missing identity headers")
			return
		}
		next(w, r, identity)
	})
}

// withChatLimit throttles generation endpoints per user. Catalog and
// history reads stay unlimited.
func (s *Server) withChatLimit(next identityHandler) identityHandler {
	return func(w http.ResponseWriter, r *http.Request, identity app.Identity) {
		if s.chatLimiter != nil && !s.chatLimiter.Allow(strconv.FormatInt(identity.UserID, 10)) {
			writeError(w, http.StatusTooManyRequests, "rate_limited", "too many chat requests, slow down")
			return
		}
		next(w, r, identity)
	}
}

func identityFromRequest(r *http.Request) (app.Identity, bool) {
	userID, err := strconv.ParseInt(strings.TrimSpace(r.Header.Get(headerUserID)), 10, 64)
	if err != nil || userID <= 0 {
		return app.Identity{}, false
	}
	tenantID, err := strconv.ParseInt(strings.TrimSpace(r.Header.Get(headerTenantID)), 10, 64)
	if err != nil || tenantID <= 0 {
		return app.Identity{}, false
	}
	identity := app.Identity{UserID: userID, TenantID: tenantID}
	if raw := strings.TrimSpace(r.Header.Get(headerPermissions)); raw != "" {
		for _, p := range strings.Split(raw, ",") {
			if p = strings.TrimSpace(p); p != "" {
				identity.Permissions = append(identity.Permissions, p)
			}
		}
	}
	return identity, true
}

func (s *Server) handleModules(w http.ResponseWriter, r *http.Request, _ app.Identity) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	modules, err := s.app.ListModules(r.Context())
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"modules": modules})
}

func (s *Server) handleModuleSubresource(w http.ResponseWriter, r *http.Request, identity app.Identity) {
	rest := strings.TrimPrefix(r.URL.Path, "/modules/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) == 2 && parts[1] == "capabilities" {
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		capabilities, err := s.app.ListCapabilities(r.Context(), identity, parts[0])
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"capabilities": capabilities})
		return
	}
	writeError(w, http.StatusNotFound, "not_found", "unknown resource")
}

type chatRequest struct {
	ModuleCode     string              `json:"moduleCode"`
	CapabilityCode string              `json:"capabilityCode,omitempty"`
	ConversationID string              `json:"conversationId,omitempty"`
	Message        string              `json:"message"`
	ContextKind    string              `json:"contextKind,omitempty"`
	ContextID      int64               `json:"contextId,omitempty"`
	ContextVars    map[string]string   `json:"contextVars,omitempty"`
	Attachments    []domain.Attachment `json:"attachments,omitempty"`
	Temperature    *float64            `json:"temperature,omitempty"`
	MaxTokens      int                 `json:"maxTokens,omitempty"`
}

func (req chatRequest) toInput() app.ChatInput {
	return app.ChatInput{
		ModuleCode:     req.ModuleCode,
		CapabilityCode: req.CapabilityCode,
		ConversationID: req.ConversationID,
		Message:        req.Message,
		ContextKind:    req.ContextKind,
		ContextID:      req.ContextID,
		ContextVars:    req.ContextVars,
		Attachments:    req.Attachments,
		Temperature:    req.Temperature,
		MaxTokens:      req.MaxTokens,
	}
}

type chatResponse struct {
	ConversationID   string          `json:"conversationId"`
	MessageID        string          `json:"messageId"`
	Content          string          `json:"content"`
	ModelUsed        string          `json:"modelUsed"`
	TokensUsed       int             `json:"tokensUsed"`
	ProcessingTimeMs int64           `json:"processingTimeMs"`
	Sources          []domain.Source `json:"sources"`
}

// newChatResponse flattens a completed turn onto the wire shape. Sources is
// always an array so clients never see null.
func newChatResponse(out app.ChatOutput) chatResponse {
	sources := out.AssistantMessage.Sources
	if sources == nil {
		sources = []domain.Source{}
	}
	return chatResponse{
		ConversationID:   out.ConversationID,
		MessageID:        out.AssistantMessage.ID,
		Content:          out.AssistantMessage.Content,
		ModelUsed:        out.AssistantMessage.ModelUsed,
		TokensUsed:       out.TokensUsed,
		ProcessingTimeMs: out.ProcessingTimeMs,
		Sources:          sources,
	}
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request, identity app.Identity) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req chatRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "invalid JSON body")
		return
	}
	out, err := s.app.Chat(r.Context(), identity, req.toInput())
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newChatResponse(out))
}

func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request, identity app.Identity) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req chatRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "invalid JSON body")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming_unsupported", "response writer does not support streaming")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	out, err := s.app.ChatStream(r.Context(), identity, req.toInput(), func(delta string) error {
		payload, err := json.Marshal(map[string]string{"delta": delta})
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	})
	if err != nil {
		payload, _ := json.Marshal(map[string]string{"error": err.Error()})
		fmt.Fprintf(w, "event: error\ndata: %s\n\n", payload)
		flusher.Flush()
		return
	}
	payload, _ := json.Marshal(newChatResponse(out))
	fmt.Fprintf(w, "event: done\ndata: %s\n\n", payload)
	flusher.Flush()
}

type createConversationRequest struct {
	ModuleCode     string         `json:"moduleCode"`
	CapabilityCode string         `json:"capabilityCode,omitempty"`
	Title          string         `json:"title,omitempty"`
	ContextKind    string         `json:"contextKind,omitempty"`
	ContextID      int64          `json:"contextId,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

func (s *Server) handleConversations(w http.ResponseWriter, r *http.Request, identity app.Identity) {
	switch r.Method {
	case http.MethodPost:
		var req createConversationRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_body", "invalid JSON body")
			return
		}
		conversation, err := s.app.CreateConversation(r.Context(), identity, app.NewConversationInput{
			ModuleCode:     req.ModuleCode,
			CapabilityCode: req.CapabilityCode,
			Title:          req.Title,
			ContextKind:    req.ContextKind,
			ContextID:      req.ContextID,
			Metadata:       req.Metadata,
		})
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, conversation)
	case http.MethodGet:
		q := r.URL.Query()
		limit, _ := strconv.Atoi(q.Get("limit"))
		offset, _ := strconv.Atoi(q.Get("offset"))
		items, err := s.app.ListConversations(r.Context(), identity, app.ListConversationsInput{
			ModuleCode: q.Get("module"),
			Status:     domain.ConversationStatus(q.Get("status")),
			Limit:      limit,
			Offset:     offset,
		})
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"conversations": items})
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleConversationByID(w http.ResponseWriter, r *http.Request, identity app.Identity) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/conversations/"), "/")
	parts := strings.Split(rest, "/")

	if parts[0] == "by-context" && len(parts) == 1 {
		s.handleConversationsByContext(w, r, identity)
		return
	}

	id := parts[0]
	if id == "" {
		writeError(w, http.StatusNotFound, "not_found", "conversation id required")
		return
	}

	if len(parts) == 2 {
		switch parts[1] {
		case "archive":
			if r.Method != http.MethodPost {
				methodNotAllowed(w)
				return
			}
			if err := s.app.ArchiveConversation(r.Context(), identity, id); err != nil {
				writeAppError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]string{"status": "archived"})
		case "attachments":
			if r.Method != http.MethodPost {
				methodNotAllowed(w)
				return
			}
			s.handleUploadAttachment(w, r, identity, id)
		case "messages":
			if r.Method != http.MethodGet {
				methodNotAllowed(w)
				return
			}
			q := r.URL.Query()
			limit, _ := strconv.Atoi(q.Get("limit"))
			offset, _ := strconv.Atoi(q.Get("offset"))
			messages, err := s.app.ListMessages(r.Context(), identity, id, limit, offset)
			if err != nil {
				writeAppError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"messages": messages})
		default:
			writeError(w, http.StatusNotFound, "not_found", "unknown resource")
		}
		return
	}

	switch r.Method {
	case http.MethodGet:
		conversation, err := s.app.GetConversation(r.Context(), identity, id)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, conversation)
	case http.MethodPatch:
		var req struct {
			Title string `json:"title"`
		}
		if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_body", "invalid JSON body")
			return
		}
		conversation, err := s.app.UpdateConversationTitle(r.Context(), identity, id, req.Title)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, conversation)
	case http.MethodDelete:
		if r.URL.Query().Get("purge") == "true" {
			removed, err := s.app.PurgeConversation(r.Context(), identity, id)
			if err != nil {
				writeAppError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"status": "purged", "removedMessages": removed})
			return
		}
		if err := s.app.DeleteConversation(r.Context(), identity, id); err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	default:
		methodNotAllowed(w)
	}
}

const maxAttachmentBytes = 25 << 20

func (s *Server) handleUploadAttachment(w http.ResponseWriter, r *http.Request, identity app.Identity, conversationID string) {
	r.Body = http.MaxBytesReader(w, r.Body, maxAttachmentBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "multipart file field required")
		return
	}
	defer file.Close()
	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	attachment, err := s.app.UploadAttachment(r.Context(), identity, conversationID, header.Filename, contentType, header.Size, file)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, attachment)
}

func (s *Server) handleConversationsByContext(w http.ResponseWriter, r *http.Request, identity app.Identity) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	q := r.URL.Query()
	contextID, _ := strconv.ParseInt(q.Get("id"), 10, 64)
	items, err := s.app.ListConversationsByContext(r.Context(), identity, q.Get("kind"), contextID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversations": items})
}

func (s *Server) handleMessageByID(w http.ResponseWriter, r *http.Request, identity app.Identity) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/messages/"), "/")
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[1] != "metadata" {
		writeError(w, http.StatusNotFound, "not_found", "unknown resource")
		return
	}
	if r.Method != http.MethodPatch {
		methodNotAllowed(w)
		return
	}
	var req struct {
		Metadata map[string]any `json:"metadata"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "invalid JSON body")
		return
	}
	if err := s.app.PatchMessageMetadata(r.Context(), identity, parts[0], req.Metadata); err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type errorPayload struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]errorPayload{"error": {Status: status, Code: code, Message: message}})
}

func writeAppError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, app.ErrModuleNotAvailable):
		writeError(w, http.StatusNotFound, "module_not_available", err.Error())
	case errors.Is(err, app.ErrCapabilityNotFound), errors.Is(err, app.ErrNoChatCapability):
		writeError(w, http.StatusNotFound, "capability_not_found", err.Error())
	case errors.Is(err, app.ErrConversationNotFound):
		writeError(w, http.StatusNotFound, "conversation_not_found", err.Error())
	case errors.Is(err, app.ErrMessageNotFound):
		writeError(w, http.StatusNotFound, "message_not_found", err.Error())
	case errors.Is(err, app.ErrConversationForbidden), errors.Is(err, app.ErrAccessDenied):
		writeError(w, http.StatusForbidden, "forbidden", err.Error())
	case errors.Is(err, app.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
	case errors.Is(err, app.ErrProviderFailure):
		writeError(w, http.StatusBadGateway, "provider_failure", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
	}
}
