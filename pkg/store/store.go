package store

import (
	"errors"
	"time"

	"rehberai/pkg/domain"
)

// Domain-level errors surfaced instead of raw database failures.
var (
	ErrNotFound = errors.New("record not found")
	ErrConflict = errors.New("record conflict")
)

// SessionKey identifies the scope a session upsert operates in.
type SessionKey struct {
	TenantID   string
	ProfileKey string
	UserID     string
}

// Store defines persistence operations for tenants, sessions, messages,
// audit records, feedback and retrieval chunks. Every read that touches
// tenant-owned data filters by tenant (and profile where it applies).
type Store interface {
	// tenants
	SaveTenant(domain.Tenant) error
	GetTenant(id string) (domain.Tenant, bool, error)
	ListTenants(limit, offset int) ([]domain.Tenant, error)
	DeleteTenant(id string) error

	// access keys
	SaveAccessKey(domain.AccessKey) error
	GetAccessKeyByKeyID(keyID string) (domain.AccessKey, bool, error)

	// docs
	SaveDoc(domain.Doc) error
	ListDocs(tenantID, profileKey string) ([]domain.Doc, error)
	GetDoc(tenantID, docID string) (domain.Doc, bool, error)
	DeleteDoc(tenantID, docID string) error

	// sessions
	EnsureSession(key SessionKey, sessionID, clientIP, userAgent string, at time.Time) (domain.Session, error)
	GetSession(tenantID, profileKey, sessionID string) (domain.Session, bool, error)
	ListSessions(tenantID, profileKey, userID string, limit int) ([]domain.Session, error)
	SetSessionTitle(tenantID, profileKey, sessionID, title string, lock bool) error
	SetSessionTitleIfUnset(tenantID, profileKey, sessionID, title string) error
	DeleteSession(tenantID, profileKey, sessionID string) error

	// messages
	AppendMessage(domain.Message) error
	ListMessages(tenantID, profileKey, sessionID string, limit int) ([]domain.Message, error)
	GetMessage(tenantID, messageID string) (domain.Message, bool, error)

	// audit
	AppendHistory(domain.HistoryEntry) error
	AppendError(domain.ErrorRecord) error

	// feedback
	UpsertFeedback(domain.Feedback) error

	// chunks
	ReplaceChunks(collection, tenantID, profileKey string, chunks []domain.Chunk, embeddings [][]float32) error
	SearchChunks(collection, tenantID, profileKey string, embedding []float32, limit int) ([]domain.Chunk, error)

	// health
	Ping() error
}
