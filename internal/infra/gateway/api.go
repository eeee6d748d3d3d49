package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"mcpgate/internal/domain"
	"mcpgate/internal/infra/telemetry"
)

// threadResponse is the JSON body for GET /v1/threads/{id}.
type threadResponse struct {
	Thread   domain.Thread    `json:"thread"`
	Messages []domain.Message `json:"messages"`
}

// threadListResponse is the JSON body for GET /v1/threads.
type threadListResponse struct {
	Threads []domain.Thread `json:"threads"`
}

// createThreadRequest is the JSON body for POST /v1/threads. ThreadID is
// optional; the store generates one when it is empty.
type createThreadRequest struct {
	ThreadID   string `json:"threadId,omitempty"`
	Title      string `json:"title"`
	ProjectRef string `json:"projectRef,omitempty"`
}

// updateThreadRequest is the JSON body for PATCH /v1/threads/{id}.
type updateThreadRequest struct {
	Title      string `json:"title"`
	ProjectRef string `json:"projectRef"`
}

// appendMessageRequest is the JSON body for POST /v1/threads/{id}/messages.
type appendMessageRequest struct {
	MessageID string `json:"messageId,omitempty"`
	Role      string `json:"role"`
	Content   string `json:"content"`
}

// invokeToolRequest is the JSON body for POST /v1/servers/{id}/tools/{tool}.
type invokeToolRequest struct {
	Arguments map[string]any `json:"arguments"`
}

// invokeToolResponse is the JSON body returned by a direct tool invocation.
type invokeToolResponse struct {
	ServerID string `json:"serverId"`
	Tool     string `json:"tool"`
	Content  string `json:"content"`
	IsError  bool   `json:"isError,omitempty"`
}

// serverListResponse is the JSON body for GET /v1/servers.
type serverListResponse struct {
	Servers []domain.ServerSummary `json:"servers"`
}

// serverToolsResponse is the JSON body for GET /v1/servers/{id}/tools.
type serverToolsResponse struct {
	ServerID string                  `json:"serverId"`
	Tools    []domain.ToolDescriptor `json:"tools"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request, identity string) {
	var req domain.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, domain.E(domain.CodeInvalidArgument, "", "invalid request body", err))
		return
	}
	req.Identity = identity

	result, err := s.chat.Chat(r.Context(), req)
	if err != nil {
		s.logger.Warn("chat request failed",
			telemetry.IdentityField(identity),
			telemetry.ThreadField(req.ThreadID),
			zap.Error(err))
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleListThreads(w http.ResponseWriter, _ *http.Request, identity string) {
	threads, err := s.store.ListThreads(identity)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, threadListResponse{Threads: threads})
}

func (s *Server) handleCreateThread(w http.ResponseWriter, r *http.Request, identity string) {
	var req createThreadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.writeError(w, domain.E(domain.CodeInvalidArgument, "", "invalid request body", err))
		return
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = "New conversation"
	}
	thread, err := s.store.CreateThread(identity, title, req.ProjectRef, req.ThreadID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, thread)
}

func (s *Server) handleAppendMessage(w http.ResponseWriter, r *http.Request, identity string) {
	threadID := r.PathValue("id")
	if _, _, err := s.ownedThread(threadID, identity); err != nil {
		s.writeError(w, err)
		return
	}

	var req appendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, domain.E(domain.CodeInvalidArgument, "", "invalid request body", err))
		return
	}
	role := domain.Role(req.Role)
	switch role {
	case domain.RoleUser, domain.RoleAssistant, domain.RoleSystem:
	default:
		s.writeError(w, domain.E(domain.CodeInvalidArgument, "",
			"role must be user, assistant, or system", nil))
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		s.writeError(w, domain.E(domain.CodeInvalidArgument, "", "content is required", nil))
		return
	}

	msg, err := s.store.AppendMessage(threadID, domain.TextMessage(req.MessageID, threadID, role, req.Content))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, msg)
}

// ownedThread loads a thread and enforces that identity owns it. A foreign
// thread is Forbidden, not NotFound: the id was valid, the caller is not.
func (s *Server) ownedThread(threadID, identity string) (domain.Thread, []domain.Message, error) {
	thread, messages, err := s.store.GetThread(threadID)
	if err != nil {
		return domain.Thread{}, nil, err
	}
	if thread.Owner != identity {
		return domain.Thread{}, nil, domain.E(domain.CodeForbidden, "",
			"thread belongs to another identity", nil)
	}
	return thread, messages, nil
}

func (s *Server) handleGetThread(w http.ResponseWriter, r *http.Request, identity string) {
	thread, messages, err := s.ownedThread(r.PathValue("id"), identity)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if messages == nil {
		messages = []domain.Message{}
	}
	s.writeJSON(w, http.StatusOK, threadResponse{Thread: thread, Messages: messages})
}

func (s *Server) handleUpdateThread(w http.ResponseWriter, r *http.Request, identity string) {
	if _, _, err := s.ownedThread(r.PathValue("id"), identity); err != nil {
		s.writeError(w, err)
		return
	}

	var req updateThreadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, domain.E(domain.CodeInvalidArgument, "", "invalid request body", err))
		return
	}
	updated, err := s.store.UpdateThread(r.PathValue("id"), req.Title, req.ProjectRef)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteThread(w http.ResponseWriter, r *http.Request, identity string) {
	if _, _, err := s.ownedThread(r.PathValue("id"), identity); err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.store.DeleteThread(r.PathValue("id")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListServers(w http.ResponseWriter, _ *http.Request) {
	descs := s.registry.List()
	summaries := make([]domain.ServerSummary, 0, len(descs))
	for _, desc := range descs {
		status := domain.ServerAvailable
		if s.pool.HasLiveSession(desc.ServerID) {
			status = domain.ServerConnected
		}
		summaries = append(summaries, domain.ServerSummary{
			Descriptor: desc,
			Status:     status,
		})
	}
	s.writeJSON(w, http.StatusOK, serverListResponse{Servers: summaries})
}

func (s *Server) handleAddServer(w http.ResponseWriter, r *http.Request) {
	var desc domain.ServerDescriptor
	if err := json.NewDecoder(r.Body).Decode(&desc); err != nil {
		s.writeError(w, domain.E(domain.CodeInvalidArgument, "", "invalid request body", err))
		return
	}
	desc.ServerID = strings.TrimSpace(desc.ServerID)
	if err := s.registry.Add(desc); err != nil {
		s.writeError(w, domain.Wrap(domain.CodeInvalidArgument, "", err))
		return
	}
	s.logger.Info("server registered", telemetry.ServerField(desc.ServerID))
	s.writeJSON(w, http.StatusCreated, desc)
}

func (s *Server) handleRemoveServer(w http.ResponseWriter, r *http.Request) {
	serverID := r.PathValue("id")
	if !s.registry.Remove(serverID) {
		s.writeError(w, domain.E(domain.CodeNotFound, "", "unknown server "+serverID, nil))
		return
	}
	// Live sessions for a removed server must not survive the registry entry.
	s.pool.EvictServer(serverID, "server removed")
	s.logger.Info("server removed", telemetry.ServerField(serverID))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleServerTools(w http.ResponseWriter, r *http.Request, identity string) {
	serverID := r.PathValue("id")
	desc, err := s.registry.Get(serverID)
	if err != nil {
		s.writeError(w, err)
		return
	}

	sess, release, err := s.pool.Acquire(r.Context(), identity, desc)
	if err != nil {
		s.writeError(w, err)
		return
	}
	defer release()

	tools := sess.Tools()
	if tools == nil {
		tools = []domain.ToolDescriptor{}
	}
	s.writeJSON(w, http.StatusOK, serverToolsResponse{ServerID: serverID, Tools: tools})
}

// handleInvokeTool executes a single tool directly, bypassing the model loop.
// The session is acquired under the caller's identity, so direct invocations
// share pooling and isolation with chat.
func (s *Server) handleInvokeTool(w http.ResponseWriter, r *http.Request, identity string) {
	serverID := r.PathValue("id")
	tool := r.PathValue("tool")

	var req invokeToolRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.writeError(w, domain.E(domain.CodeInvalidArgument, "", "invalid request body", err))
		return
	}

	desc, err := s.registry.Get(serverID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	sess, release, err := s.pool.Acquire(r.Context(), identity, desc)
	if err != nil {
		s.writeError(w, err)
		return
	}
	defer release()

	result, err := sess.Invoke(r.Context(), tool, req.Arguments)
	if err != nil {
		s.logger.Warn("direct tool invocation failed",
			telemetry.IdentityField(identity),
			telemetry.ServerField(serverID),
			telemetry.ToolField(tool),
			zap.Error(err))
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, invokeToolResponse{
		ServerID: serverID,
		Tool:     tool,
		Content:  result.Content,
		IsError:  result.IsError,
	})
}
