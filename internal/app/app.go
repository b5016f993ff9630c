// Package app coordinates the chat flow: input safety, rate limiting,
// session bookkeeping, retrieval, generation with tool calls, and auditing.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"rehberai/internal/ratelimit"
	"rehberai/internal/security"
	"rehberai/internal/tenant"
	"rehberai/internal/tools"
	"rehberai/pkg/ai"
	"rehberai/pkg/domain"
	"rehberai/pkg/store"
)

const maxToolRounds = 4

// Config wires the application dependencies.
type Config struct {
	Store             store.Store
	Registry          *tenant.Registry
	Generator         ai.ChatGenerator
	MiniGenerator     ai.TextGenerator
	Embedder          ai.Embedder
	Tools             *tools.Registry
	Limiter           *ratelimit.FixedWindowLimiter
	GenerationModel   string
	TopK              int
	HistoryLimit      int
	MaxQuestionLength int
}

// App is the core application service.
type App struct {
	store           store.Store
	registry        *tenant.Registry
	generator       ai.ChatGenerator
	miniGenerator   ai.TextGenerator
	embedder        ai.Embedder
	tools           *tools.Registry
	limiter         *ratelimit.FixedWindowLimiter
	generationModel string
	topK            int
	historyLimit    int
	maxQuestionLen  int
}

// New constructs the application.
func New(cfg Config) (*App, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store required")
	}
	if cfg.Registry == nil {
		return nil, fmt.Errorf("tenant registry required")
	}
	if cfg.Generator == nil {
		return nil, fmt.Errorf("generator required")
	}
	if cfg.Embedder == nil {
		return nil, fmt.Errorf("embedder required")
	}
	toolRegistry := cfg.Tools
	if toolRegistry == nil {
		toolRegistry = tools.NewRegistry()
	}
	topK := cfg.TopK
	if topK <= 0 {
		topK = 4
	}
	historyLimit := cfg.HistoryLimit
	if historyLimit <= 0 {
		historyLimit = 20
	}
	maxQuestionLen := cfg.MaxQuestionLength
	if maxQuestionLen <= 0 {
		maxQuestionLen = 4000
	}
	return &App{
		store:           cfg.Store,
		registry:        cfg.Registry,
		generator:       cfg.Generator,
		miniGenerator:   cfg.MiniGenerator,
		embedder:        cfg.Embedder,
		tools:           toolRegistry,
		limiter:         cfg.Limiter,
		generationModel: cfg.GenerationModel,
		topK:            topK,
		historyLimit:    historyLimit,
		maxQuestionLen:  maxQuestionLen,
	}, nil
}

// ChatInput is one chat turn request after transport decoding.
type ChatInput struct {
	TenantID   string
	ProfileKey string
	UserID     string
	SessionID  string
	RequestID  string
	Question   string
	ClientIP   string
	UserAgent  string
}

// HandleChat runs the full chat flow for one turn.
func (a *App) HandleChat(ctx context.Context, in ChatInput) (domain.ChatAnswer, error) {
	question, err := security.EnsureSafePrompt(in.Question, a.maxQuestionLen)
	if err != nil {
		slog.Warn("blocked unsafe chat payload", "tenant_id", in.TenantID, "error", err)
		return domain.ChatAnswer{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if question == "" {
		return domain.ChatAnswer{}, fmt.Errorf("%w: question required", ErrInvalidInput)
	}
	tenantID, err := security.SanitizeIdentifier(in.TenantID, "tenant_id")
	if err != nil {
		return domain.ChatAnswer{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	profileKey, err := security.SanitizeIdentifier(in.ProfileKey, "profile_key")
	if err != nil {
		return domain.ChatAnswer{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	userID, err := security.SanitizeIdentifier(in.UserID, "user_id")
	if err != nil {
		return domain.ChatAnswer{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	sessionID := ""
	if strings.TrimSpace(in.SessionID) != "" {
		if sessionID, err = security.SanitizeIdentifier(in.SessionID, "session_id"); err != nil {
			return domain.ChatAnswer{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
	}
	requestID := strings.TrimSpace(in.RequestID)
	if requestID == "" {
		requestID = uuid.NewString()
	} else if requestID, err = security.SanitizeIdentifier(requestID, "request_id"); err != nil {
		return domain.ChatAnswer{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	clientIP := security.SanitizeMetadata(in.ClientIP, "0.0.0.0", 64)
	userAgent := security.SanitizeMetadata(in.UserAgent, "-", 200)

	profile, err := a.registry.Profile(tenantID, profileKey)
	if err != nil {
		return domain.ChatAnswer{}, err
	}

	if a.limiter != nil {
		key := fmt.Sprintf("%s:%s:%s:%s", tenantID, profileKey, userID, clientIP)
		if allowed, retryAfter := a.limiter.AllowWithRetry(key); !allowed {
			return domain.ChatAnswer{}, &RateLimitedError{RetryAfter: retryAfter}
		}
	}

	now := time.Now().UTC()
	session, err := a.store.EnsureSession(store.SessionKey{
		TenantID:   tenantID,
		ProfileKey: profileKey,
		UserID:     userID,
	}, sessionID, clientIP, userAgent, now)
	if err != nil {
		// The store refuses a session id owned by another scope.
		if errors.Is(err, store.ErrNotFound) {
			return domain.ChatAnswer{}, ErrForbidden
		}
		return domain.ChatAnswer{}, fmt.Errorf("ensure session: %w", err)
	}

	if err := a.store.AppendMessage(domain.Message{
		ID:         uuid.NewString(),
		TenantID:   tenantID,
		ProfileKey: profileKey,
		SessionID:  session.ID,
		Role:       domain.RoleUser,
		Content:    question,
		CreatedAt:  now,
	}); err != nil {
		return domain.ChatAnswer{}, fmt.Errorf("save user message: %w", err)
	}

	started := time.Now()
	memoryText := a.buildMemory(ctx, tenantID, profileKey, session.ID, profile.SummaryContext)
	answerText, usage, err := a.answer(ctx, tenantID, profile, question, memoryText)
	if err != nil {
		a.recordError(tenantID, profileKey, session.ID, "generate", err)
		return domain.ChatAnswer{}, fmt.Errorf("%w: %v", ErrAnswerFailed, err)
	}
	latencyMs := int(time.Since(started).Milliseconds())

	assistantMsg := domain.Message{
		ID:               uuid.NewString(),
		TenantID:         tenantID,
		ProfileKey:       profileKey,
		SessionID:        session.ID,
		Role:             domain.RoleAssistant,
		Content:          answerText,
		Model:            a.generationModel,
		LatencyMs:        latencyMs,
		PromptTokens:     usage.PromptTokens,
		CompletionTokens: usage.CompletionTokens,
		TotalTokens:      usage.TotalTokens,
		CreatedAt:        time.Now().UTC(),
	}
	if err := a.store.AppendMessage(assistantMsg); err != nil {
		return domain.ChatAnswer{}, fmt.Errorf("save answer message: %w", err)
	}
	if err := a.store.AppendHistory(domain.HistoryEntry{
		TenantID:         tenantID,
		ProfileKey:       profileKey,
		UserID:           userID,
		SessionID:        session.ID,
		RequestID:        requestID,
		IP:               clientIP,
		UserAgent:        userAgent,
		Model:            a.generationModel,
		Question:         question,
		Answer:           answerText,
		LatencyMs:        latencyMs,
		PromptTokens:     usage.PromptTokens,
		CompletionTokens: usage.CompletionTokens,
		TotalTokens:      usage.TotalTokens,
		CreatedAt:        assistantMsg.CreatedAt,
	}); err != nil {
		return domain.ChatAnswer{}, fmt.Errorf("save history: %w", err)
	}

	title := a.maybeSetTitle(session, question)

	return domain.ChatAnswer{
		Answer:       answerText,
		TenantID:     tenantID,
		SessionID:    session.ID,
		SessionTitle: title,
		MessageID:    assistantMsg.ID,
		Preview:      makePreview(answerText, 100),
		LastActivity: assistantMsg.CreatedAt,
	}, nil
}

// answer retrieves context and generates the reply, running tool calls when
// the model requests them.
func (a *App) answer(ctx context.Context, tenantID string, profile tenant.ProfileConfig, question, memoryText string) (string, ai.Usage, error) {
	var usage ai.Usage
	queryEmbedding, err := a.embedder.EmbedText(ctx, question)
	if err != nil {
		return "", usage, fmt.Errorf("embed question: %w", err)
	}
	chunks, err := a.store.SearchChunks(profile.VectorCollection, tenantID, profile.Key, queryEmbedding, a.topK)
	if err != nil {
		return "", usage, fmt.Errorf("search chunks: %w", err)
	}
	contextText := buildContext(chunks)
	if contextText == "" {
		return cannedEmptyContextAnswer, usage, nil
	}

	template := profile.PromptTemplate
	if template == "" {
		template = defaultPromptTemplate(profile.Key)
	}
	promptText := renderPrompt(template, memoryText, contextText, question)

	specs := a.tools.Specs(profile)
	if len(specs) > 0 {
		descriptions := make([]string, 0, len(specs))
		for _, spec := range specs {
			descriptions = append(descriptions, "- "+spec.Name+": "+spec.Description)
		}
		promptText += toolInstructions(descriptions)
	}

	messages := []ai.Message{{Role: ai.RoleUser, Content: promptText}}
	for round := 0; round < maxToolRounds; round++ {
		result, err := a.generator.Chat(ctx, messages, specs)
		if err != nil {
			return "", usage, fmt.Errorf("generate answer: %w", err)
		}
		usage.PromptTokens += result.Usage.PromptTokens
		usage.CompletionTokens += result.Usage.CompletionTokens
		usage.TotalTokens += result.Usage.TotalTokens
		if len(result.Message.ToolCalls) == 0 {
			return strings.TrimSpace(result.Message.Content), usage, nil
		}
		messages = append(messages, result.Message)
		for _, call := range result.Message.ToolCalls {
			output, err := a.tools.Execute(ctx, tenantID, profile, call.Name, call.Arguments)
			if err != nil {
				output = fmt.Sprintf("Arac cagrisinda hata olustu: %v", err)
			}
			messages = append(messages, ai.Message{
				Role:       ai.RoleTool,
				Content:    output,
				ToolCallID: call.ID,
				Name:       call.Name,
			})
		}
	}
	return "", usage, fmt.Errorf("tool call rounds exhausted")
}

// SessionMessages returns a session transcript. When sessionID is empty the
// caller's most recent session is used. Sessions owned by another user
// resolve to an empty transcript, not an error.
func (a *App) SessionMessages(tenantID, profileKey, userID, sessionID string, limit int) (string, []domain.Message, error) {
	userID, err := security.SanitizeIdentifier(userID, "user_id")
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if sessionID == "" {
		sessions, err := a.store.ListSessions(tenantID, profileKey, userID, 1)
		if err != nil {
			return "", nil, fmt.Errorf("list sessions: %w", err)
		}
		if len(sessions) == 0 {
			return "", nil, nil
		}
		sessionID = sessions[0].ID
	} else if sessionID, err = security.SanitizeIdentifier(sessionID, "session_id"); err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	session, ok, err := a.store.GetSession(tenantID, profileKey, sessionID)
	if err != nil {
		return "", nil, fmt.Errorf("load session: %w", err)
	}
	if !ok || session.UserID != userID {
		return "", nil, nil
	}
	messages, err := a.store.ListMessages(tenantID, profileKey, sessionID, limit)
	if err != nil {
		return "", nil, fmt.Errorf("list messages: %w", err)
	}
	return sessionID, messages, nil
}

// SessionSummary is one row of the session list.
type SessionSummary struct {
	SessionID    string    `json:"session_id"`
	Title        string    `json:"title,omitempty"`
	TitleLocked  bool      `json:"title_locked"`
	StartedAt    time.Time `json:"started_at"`
	LastActivity time.Time `json:"last_activity"`
	Preview      string    `json:"preview"`
}

// Sessions lists the caller's sessions, most recent first, with a preview of
// the last message.
func (a *App) Sessions(tenantID, profileKey, userID string, limit int) ([]SessionSummary, error) {
	userID, err := security.SanitizeIdentifier(userID, "user_id")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	sessions, err := a.store.ListSessions(tenantID, profileKey, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	summaries := make([]SessionSummary, 0, len(sessions))
	for _, session := range sessions {
		lastActivity := session.StartedAt
		if session.LastActivityAt != nil {
			lastActivity = *session.LastActivityAt
		}
		preview := ""
		if messages, err := a.store.ListMessages(tenantID, profileKey, session.ID, 500); err == nil && len(messages) > 0 {
			preview = makePreview(messages[len(messages)-1].Content, 120)
		}
		summaries = append(summaries, SessionSummary{
			SessionID:    session.ID,
			Title:        session.Title,
			TitleLocked:  session.TitleLocked,
			StartedAt:    session.StartedAt,
			LastActivity: lastActivity,
			Preview:      preview,
		})
	}
	return summaries, nil
}

// SetTitle sets a manual session title and locks it against automatic
// rewrites.
func (a *App) SetTitle(tenantID, profileKey, sessionID, userID, title string) error {
	sessionID, err := security.SanitizeIdentifier(sessionID, "session_id")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	userID, err = security.SanitizeIdentifier(userID, "user_id")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	session, ok, err := a.store.GetSession(tenantID, profileKey, sessionID)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	if !ok {
		return ErrSessionNotFound
	}
	if session.UserID != userID {
		return ErrForbidden
	}
	sanitized := sanitizeTitle(security.SanitizeText(title, 120))
	return a.store.SetSessionTitle(tenantID, profileKey, sessionID, sanitized, true)
}

// RemoveSession deletes a session with its messages and feedback.
func (a *App) RemoveSession(tenantID, profileKey, sessionID, userID string) error {
	sessionID, err := security.SanitizeIdentifier(sessionID, "session_id")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	userID, err = security.SanitizeIdentifier(userID, "user_id")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	session, ok, err := a.store.GetSession(tenantID, profileKey, sessionID)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	if !ok {
		return ErrSessionNotFound
	}
	if session.UserID != userID {
		return ErrForbidden
	}
	return a.store.DeleteSession(tenantID, profileKey, sessionID)
}

var scoreReasons = map[int]string{
	1: "Rezalet",
	2: "Kotu",
	3: "Idare eder",
	4: "Iyi",
	5: "Cok iyi",
}

// SubmitFeedback records a 1-5 score for a message. A repeated submission
// replaces the previous score instead of adding a row. An empty reason gets
// the canonical label for the score.
func (a *App) SubmitFeedback(tenantID, profileKey, messageID string, score int, reason string) (domain.Feedback, error) {
	if score < 1 || score > 5 {
		return domain.Feedback{}, fmt.Errorf("%w: score must be between 1 and 5", ErrInvalidInput)
	}
	messageID, err := security.SanitizeIdentifier(messageID, "message_id")
	if err != nil {
		return domain.Feedback{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	message, ok, err := a.store.GetMessage(tenantID, messageID)
	if err != nil {
		return domain.Feedback{}, fmt.Errorf("load message: %w", err)
	}
	if !ok || message.ProfileKey != profileKey {
		return domain.Feedback{}, ErrMessageNotFound
	}
	reason = security.SanitizeText(reason, 500)
	if reason == "" {
		reason = scoreReasons[score]
	}
	feedback := domain.Feedback{
		ID:         uuid.NewString(),
		TenantID:   tenantID,
		ProfileKey: profileKey,
		MessageID:  messageID,
		Score:      score,
		Reason:     reason,
		CreatedAt:  time.Now().UTC(),
	}
	if err := a.store.UpsertFeedback(feedback); err != nil {
		return domain.Feedback{}, fmt.Errorf("save feedback: %w", err)
	}
	return feedback, nil
}

// ResolveProfile validates a tenant/profile pair for transport handlers.
func (a *App) ResolveProfile(tenantID, profileKey string) (tenant.ProfileConfig, error) {
	tenantID, err := security.SanitizeIdentifier(tenantID, "tenant_id")
	if err != nil {
		return tenant.ProfileConfig{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	profileKey, err = security.SanitizeIdentifier(profileKey, "profile_key")
	if err != nil {
		return tenant.ProfileConfig{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return a.registry.Profile(tenantID, profileKey)
}

// Registry exposes the tenant registry for startup indexing.
func (a *App) Registry() *tenant.Registry { return a.registry }

// Ping reports storage health.
func (a *App) Ping() error { return a.store.Ping() }

func (a *App) recordError(tenantID, profileKey, sessionID, stage string, cause error) {
	if err := a.store.AppendError(domain.ErrorRecord{
		TenantID:   tenantID,
		ProfileKey: profileKey,
		SessionID:  sessionID,
		Stage:      stage,
		ErrType:    fmt.Sprintf("%T", cause),
		Message:    cause.Error(),
		CreatedAt:  time.Now().UTC(),
	}); err != nil {
		slog.Warn("error audit write failed", "stage", stage, "error", err)
	}
}

var (
	htmlTagPattern  = regexp.MustCompile(`<[^>]+>`)
	codeSpanPattern = regexp.MustCompile("`{1,3}.*?`{1,3}")
	boldPattern     = regexp.MustCompile(`\*\*|__`)
	markupPattern   = regexp.MustCompile(`[_*~>#-]+`)
	spacePattern    = regexp.MustCompile(`\s+`)
)

// makePreview strips markup and truncates on a word boundary.
func makePreview(text string, limit int) string {
	cleaned := htmlTagPattern.ReplaceAllString(text, " ")
	cleaned = codeSpanPattern.ReplaceAllString(cleaned, " ")
	cleaned = boldPattern.ReplaceAllString(cleaned, "")
	cleaned = markupPattern.ReplaceAllString(cleaned, " ")
	cleaned = strings.TrimSpace(spacePattern.ReplaceAllString(cleaned, " "))
	runes := []rune(cleaned)
	if len(runes) <= limit {
		return cleaned
	}
	head := string(runes[:limit])
	if cut := strings.LastIndex(head, " "); cut > 40 {
		head = head[:cut]
	}
	return strings.TrimRight(head, " ") + "..."
}
