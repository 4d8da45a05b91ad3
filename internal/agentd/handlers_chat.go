package agentd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"deepresearch/internal/auth"
	persist "deepresearch/internal/persistence"
	"deepresearch/internal/research/stream"
	"deepresearch/internal/research/types"
)

type chatRequest struct {
	Messages []chatMessage `json:"messages"`
	ChatID   string        `json:"chatId"`
	Location string        `json:"location"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatHandler dispatches POST /chat (start a turn) and GET /chat?chatId=
// (resume an in-flight stream).
func (a *app) chatHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		setChatCORSHeaders(w, r, "GET, POST, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		switch r.Method {
		case http.MethodPost:
			a.postChat(w, r)
		case http.MethodGet:
			a.resumeChat(w, r)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	}
}

// chatDetailHandler dispatches DELETE /chat/{id}.
func (a *app) chatDetailHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		setChatCORSHeaders(w, r, "DELETE, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		if r.Method != http.MethodDelete {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		id := strings.TrimPrefix(r.URL.Path, "/chat/")
		if id == "" {
			http.NotFound(w, r)
			return
		}
		userID, _, err := a.resolveUser(r)
		if err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if err := a.chatStore.DeleteSession(r.Context(), userID, id); err != nil {
			if errors.Is(err, persist.ErrNotFound) || errors.Is(err, persist.ErrForbidden) {
				http.NotFound(w, r)
				return
			}
			http.Error(w, "error", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (a *app) postChat(w http.ResponseWriter, r *http.Request) {
	userID, userKey, err := a.resolveUser(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	defer r.Body.Close()
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Messages) == 0 {
		http.Error(w, "messages must be non-empty", http.StatusBadRequest)
		return
	}

	chatID := strings.TrimSpace(req.ChatID)
	isNewChat := chatID == ""
	if !isNewChat {
		if _, err := a.chatStore.GetSession(r.Context(), userID, chatID); err != nil {
			http.NotFound(w, r)
			return
		}
	}

	decision := a.limiter.Admit(r.Context(), userKey, 0)
	w.Header().Set("X-Rate-Limit-Limit", strconv.Itoa(a.cfg.RateLimit.DailyRequestLimit))
	w.Header().Set("X-Rate-Limit-Remaining", strconv.Itoa(decision.Remaining))
	w.Header().Set("X-Rate-Limit-Reset", strconv.FormatInt(decision.ResetTime.Unix(), 10))
	if !decision.Allowed {
		http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
		return
	}

	if isNewChat {
		session, err := a.chatStore.CreateSession(r.Context(), userID, previewSnippet(req.Messages[len(req.Messages)-1].Content))
		if err != nil {
			http.Error(w, "failed to create chat", http.StatusInternalServerError)
			return
		}
		chatID = session.ID
	}

	sw, err := stream.NewWriter(w)
	if err != nil {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	if isNewChat {
		_ = sw.Emit(stream.NewChatCreated(chatID))
	}

	ctx := r.Context()
	a.bus.MarkActive(ctx, chatID)
	sw.SetTee(func(ev stream.Event) { a.bus.Publish(ctx, chatID, ev) })
	defer a.bus.MarkDone(ctx, chatID)

	keepaliveCtx, stopKeepalive := context.WithCancel(ctx)
	go sw.Keepalive(keepaliveCtx, 15*time.Second)
	defer stopKeepalive()

	messages := toDomainMessages(req.Messages)
	userContent := req.Messages[len(req.Messages)-1].Content

	onFinish := func(fctx context.Context, answer string) error {
		return storeChatTurn(fctx, a.chatStore, userID, chatID, userContent, answer)
	}

	if err := a.driver.Run(ctx, sw, messages, req.Location, onFinish); err != nil {
		log.Warn().Err(err).Str("chatId", chatID).Msg("chat_turn_failed")
	}
}

func (a *app) resumeChat(w http.ResponseWriter, r *http.Request) {
	chatID := strings.TrimSpace(r.URL.Query().Get("chatId"))
	if chatID == "" {
		http.Error(w, "chatId required", http.StatusBadRequest)
		return
	}
	userID, _, err := a.resolveUser(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if _, err := a.chatStore.GetSession(r.Context(), userID, chatID); err != nil {
		http.NotFound(w, r)
		return
	}
	if !a.bus.Active(r.Context(), chatID) {
		http.NotFound(w, r)
		return
	}

	sw, err := stream.NewWriter(w)
	if err != nil {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	ctx := r.Context()
	replayed, err := a.bus.Replay(ctx, chatID)
	if err != nil {
		log.Warn().Err(err).Str("chatId", chatID).Msg("chat_resume_replay_failed")
	}
	for _, ev := range replayed {
		if err := sw.Emit(ev); err != nil {
			return
		}
	}

	live, cancel := a.bus.Subscribe(ctx, chatID)
	defer cancel()
	for ev := range live {
		if err := sw.Emit(ev); err != nil {
			return
		}
	}
}

// resolveUser returns the caller's persistence user-id pointer and a string
// key for the rate limiter. Anonymous deployments (Auth.Required=false) use
// nil/"anonymous" for an unpartitioned single-tenant quota.
func (a *app) resolveUser(r *http.Request) (*int64, string, error) {
	if !a.cfg.Auth.Required {
		return nil, "anonymous", nil
	}
	user, ok := auth.CurrentUser(r.Context())
	if !ok || user == nil {
		return nil, "", errors.New("unauthorized")
	}
	id := user.ID
	return &id, fmt.Sprintf("%d", id), nil
}

func toDomainMessages(in []chatMessage) []types.Message {
	out := make([]types.Message, 0, len(in))
	for _, m := range in {
		role := types.MessageRole(strings.ToLower(strings.TrimSpace(m.Role)))
		switch role {
		case types.RoleUser, types.RoleAssistant, types.RoleSystem:
		default:
			role = types.RoleUser
		}
		out = append(out, types.Message{Role: role, Content: m.Content})
	}
	return out
}

func previewSnippet(content string) string {
	collapsed := strings.Join(strings.Fields(content), " ")
	runes := []rune(collapsed)
	if len(runes) <= 80 {
		return collapsed
	}
	return string(runes[:77]) + "..."
}

func storeChatTurn(ctx context.Context, store persist.ChatStore, userID *int64, sessionID, userContent, assistantContent string) error {
	now := time.Now().UTC()
	messages := []persist.ChatMessage{
		{SessionID: sessionID, Role: "user", Content: userContent, CreatedAt: now},
		{SessionID: sessionID, Role: "assistant", Content: assistantContent, CreatedAt: now.Add(time.Millisecond)},
	}
	return store.AppendMessages(ctx, userID, sessionID, messages, previewSnippet(assistantContent), "")
}

func setChatCORSHeaders(w http.ResponseWriter, r *http.Request, methods string) {
	if origin := r.Header.Get("Origin"); origin != "" {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Vary", "Origin")
		w.Header().Set("Access-Control-Allow-Credentials", "true")
	} else {
		w.Header().Set("Access-Control-Allow-Origin", "*")
	}
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Accept")
	if methods != "" {
		w.Header().Set("Access-Control-Allow-Methods", methods)
	}
}
