package domain

import "time"

// MessageRole labels who authored a chat message.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

// Tenant is a customer boundary. Every other record carries its ID.
type Tenant struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// AccessKey is a tenant-scoped API credential. The secret is returned once,
// at creation time; storage keeps a bcrypt hash.
type AccessKey struct {
	ID         string     `json:"id"`
	TenantID   string     `json:"tenantId"`
	KeyID      string     `json:"keyId"`
	SecretHash string     `json:"-"`
	ExpiresAt  *time.Time `json:"expiresAt,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
}

// Doc is a registered source document owned by a tenant profile.
type Doc struct {
	ID         string    `json:"id"`
	TenantID   string    `json:"tenantId"`
	ProfileKey string    `json:"profileKey"`
	Filepath   string    `json:"filepath"`
	Name       string    `json:"name"`
	Extension  string    `json:"extension"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Session is one chat session scoped to a tenant/profile/user triple.
type Session struct {
	ID             string     `json:"id"`
	TenantID       string     `json:"tenantId"`
	ProfileKey     string     `json:"profileKey"`
	UserID         string     `json:"userId"`
	ClientIP       string     `json:"-"`
	UserAgent      string     `json:"-"`
	Title          string     `json:"title,omitempty"`
	TitleLocked    bool       `json:"titleLocked"`
	StartedAt      time.Time  `json:"startedAt"`
	LastActivityAt *time.Time `json:"lastActivityAt,omitempty"`
}

// Message is one append-only chat message inside a session.
type Message struct {
	ID               string      `json:"id"`
	TenantID         string      `json:"tenantId"`
	ProfileKey       string      `json:"profileKey"`
	SessionID        string      `json:"sessionId"`
	Role             MessageRole `json:"role"`
	Content          string      `json:"content"`
	Model            string      `json:"model,omitempty"`
	LatencyMs        int         `json:"latencyMs"`
	PromptTokens     int         `json:"promptTokens"`
	CompletionTokens int         `json:"completionTokens"`
	TotalTokens      int         `json:"totalTokens"`
	CreatedAt        time.Time   `json:"createdAt"`
}

// HistoryEntry duplicates question/answer with request metadata for audit.
// Append-only, never updated.
type HistoryEntry struct {
	ID               int64     `json:"id"`
	TenantID         string    `json:"tenantId"`
	ProfileKey       string    `json:"profileKey"`
	UserID           string    `json:"userId"`
	SessionID        string    `json:"sessionId"`
	RequestID        string    `json:"requestId"`
	IP               string    `json:"-"`
	UserAgent        string    `json:"-"`
	Model            string    `json:"model,omitempty"`
	Question         string    `json:"question"`
	Answer           string    `json:"answer"`
	LatencyMs        int       `json:"latencyMs"`
	PromptTokens     int       `json:"promptTokens"`
	CompletionTokens int       `json:"completionTokens"`
	TotalTokens      int       `json:"totalTokens"`
	CreatedAt        time.Time `json:"createdAt"`
}

// Feedback is a score/reason pair attached to exactly one message.
type Feedback struct {
	ID         string    `json:"id"`
	TenantID   string    `json:"tenantId"`
	ProfileKey string    `json:"profileKey"`
	MessageID  string    `json:"messageId"`
	Score      int       `json:"score"`
	Reason     string    `json:"reason"`
	CreatedAt  time.Time `json:"createdAt"`
}

// ErrorRecord audits a failure, optionally linked to a session/message.
type ErrorRecord struct {
	ID         int64             `json:"id"`
	TenantID   string            `json:"tenantId"`
	ProfileKey string            `json:"profileKey"`
	SessionID  string            `json:"sessionId,omitempty"`
	MessageID  string            `json:"messageId,omitempty"`
	Stage      string            `json:"stage"`
	ErrType    string            `json:"errType"`
	Message    string            `json:"message"`
	Detail     map[string]string `json:"detail,omitempty"`
	CreatedAt  time.Time         `json:"createdAt"`
}

// Chunk is an embedded segment of a source document. Tenant and profile
// metadata on the chunk are the retrieval isolation boundary.
type Chunk struct {
	ID         string            `json:"id"`
	Collection string            `json:"collection"`
	TenantID   string            `json:"tenantId"`
	ProfileKey string            `json:"profileKey"`
	Content    string            `json:"content"`
	Metadata   map[string]string `json:"metadata"`
	CreatedAt  time.Time         `json:"createdAt"`
}

// ChatAnswer is the orchestrator's reply for one turn.
type ChatAnswer struct {
	Answer       string    `json:"answer"`
	TenantID     string    `json:"tenantId"`
	SessionID    string    `json:"sessionId"`
	SessionTitle string    `json:"sessionTitle,omitempty"`
	MessageID    string    `json:"messageId"`
	Preview      string    `json:"preview,omitempty"`
	LastActivity time.Time `json:"lastActivity"`
}
