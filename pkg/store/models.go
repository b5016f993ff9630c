package store

import (
	"time"

	"github.com/pgvector/pgvector-go"
	"gorm.io/datatypes"
)

// GORM models used for persistence.
type TenantModel struct {
	ID          string `gorm:"type:uuid;primaryKey"`
	Name        string `gorm:"not null"`
	Description string
	CreatedAt   time.Time `gorm:"not null"`
}

func (TenantModel) TableName() string { return "tenants" }

type AccessKeyModel struct {
	ID         string `gorm:"type:uuid;primaryKey"`
	TenantID   string `gorm:"type:uuid;not null;index"`
	KeyID      string `gorm:"uniqueIndex;not null"`
	SecretHash string `gorm:"not null"`
	ExpiresAt  *time.Time
	CreatedAt  time.Time `gorm:"not null"`
}

func (AccessKeyModel) TableName() string { return "access_keys" }

type DocModel struct {
	ID         string `gorm:"type:uuid;primaryKey"`
	TenantID   string `gorm:"type:uuid;not null;index"`
	ProfileKey string `gorm:"not null;index"`
	Filepath   string `gorm:"not null"`
	Name       string `gorm:"not null"`
	Extension  string
	CreatedAt  time.Time `gorm:"not null"`
}

func (DocModel) TableName() string { return "docs" }

// SessionModel carries a composite unique index so that concurrent
// first-time requests for the same tenant/profile/user resolve to one row.
type SessionModel struct {
	ID             string `gorm:"type:uuid;primaryKey"`
	TenantID       string `gorm:"type:uuid;not null;uniqueIndex:ux_session_scope,priority:1"`
	ProfileKey     string `gorm:"not null;uniqueIndex:ux_session_scope,priority:2"`
	UserID         string `gorm:"not null;uniqueIndex:ux_session_scope,priority:3"`
	ClientIP       string
	UserAgent      string
	Title          *string
	TitleLocked    bool      `gorm:"not null;default:false"`
	StartedAt      time.Time `gorm:"not null"`
	LastActivityAt *time.Time
}

func (SessionModel) TableName() string { return "chat_sessions" }

type MessageModel struct {
	ID               string    `gorm:"type:uuid;primaryKey"`
	TenantID         string    `gorm:"type:uuid;not null;index"`
	ProfileKey       string    `gorm:"not null"`
	SessionID        string    `gorm:"type:uuid;not null;index"`
	Role             string    `gorm:"not null"`
	Content          string    `gorm:"type:text;not null"`
	Model            string
	LatencyMs        int       `gorm:"not null;default:0"`
	PromptTokens     int       `gorm:"not null;default:0"`
	CompletionTokens int       `gorm:"not null;default:0"`
	TotalTokens      int       `gorm:"not null;default:0"`
	CreatedAt        time.Time `gorm:"not null;index"`
}

func (MessageModel) TableName() string { return "chat_messages" }

type HistoryModel struct {
	ID               int64  `gorm:"primaryKey;autoIncrement"`
	TenantID         string `gorm:"type:uuid;not null;index"`
	ProfileKey       string `gorm:"not null"`
	UserID           string `gorm:"not null"`
	SessionID        string `gorm:"type:uuid;not null;index"`
	RequestID        string `gorm:"not null"`
	IP               string `gorm:"not null"`
	UserAgent        string `gorm:"not null"`
	Model            string
	Question         string    `gorm:"type:text;not null"`
	Answer           string    `gorm:"type:text;not null"`
	LatencyMs        int       `gorm:"not null;default:0"`
	PromptTokens     int       `gorm:"not null;default:0"`
	CompletionTokens int       `gorm:"not null;default:0"`
	TotalTokens      int       `gorm:"not null;default:0"`
	CreatedAt        time.Time `gorm:"not null;index"`
}

func (HistoryModel) TableName() string { return "chat_history" }

// FeedbackModel enforces at most one feedback row per message.
type FeedbackModel struct {
	ID         string    `gorm:"type:uuid;primaryKey"`
	TenantID   string    `gorm:"type:uuid;not null;index"`
	ProfileKey string    `gorm:"not null"`
	MessageID  string    `gorm:"type:uuid;not null;uniqueIndex"`
	Score      int       `gorm:"not null"`
	Reason     string    `gorm:"type:text;not null"`
	CreatedAt  time.Time `gorm:"not null"`
}

func (FeedbackModel) TableName() string { return "chat_feedback" }

type ErrorModel struct {
	ID         int64  `gorm:"primaryKey;autoIncrement"`
	TenantID   string `gorm:"type:uuid;index"`
	ProfileKey string
	SessionID  *string        `gorm:"type:uuid"`
	MessageID  *string        `gorm:"type:uuid"`
	Stage      string         `gorm:"not null"`
	ErrType    string         `gorm:"not null"`
	Message    string         `gorm:"type:text;not null"`
	Detail     datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt  time.Time      `gorm:"not null;index"`
}

func (ErrorModel) TableName() string { return "errors" }

type ChunkModel struct {
	ID         string           `gorm:"primaryKey"`
	Collection string           `gorm:"not null;index:idx_chunk_scope,priority:1"`
	TenantID   string           `gorm:"type:uuid;not null;index:idx_chunk_scope,priority:2"`
	ProfileKey string           `gorm:"not null;index:idx_chunk_scope,priority:3"`
	Content    string           `gorm:"type:text;not null"`
	Metadata   datatypes.JSON   `gorm:"type:jsonb"`
	Embedding  *pgvector.Vector `gorm:"type:vector(1536)"`
	CreatedAt  time.Time        `gorm:"not null;index"`
}

func (ChunkModel) TableName() string { return "chunks" }
