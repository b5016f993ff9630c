package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"rehberai/pkg/domain"
)

const migrateLockID int64 = 52415241

const (
	defaultEmbeddingDim      = 1536
	canonicalEmbeddingDimEnv = "REHBER_EMBEDDING_DIM"
)

type GormStoreOptions struct {
	EmbeddingDim int
}

type GormStoreOption func(*GormStoreOptions)

// WithEmbeddingDim sets the canonical embedding dimension used by storage.
func WithEmbeddingDim(dim int) GormStoreOption {
	return func(opts *GormStoreOptions) {
		opts.EmbeddingDim = dim
	}
}

// GormStore implements Store using GORM + Postgres with pgvector.
type GormStore struct {
	db           *gorm.DB
	embeddingDim int
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string, options ...GormStoreOption) (*GormStore, error) {
	opts := GormStoreOptions{}
	for _, option := range options {
		if option != nil {
			option(&opts)
		}
	}
	embeddingDim, err := resolveEmbeddingDim(opts.EmbeddingDim)
	if err != nil {
		return nil, err
	}

	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:         gormLog,
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.Exec("CREATE EXTENSION IF NOT EXISTS vector").Error; err != nil {
			return fmt.Errorf("create pgvector extension: %w", err)
		}
		if err := tx.AutoMigrate(
			&TenantModel{},
			&AccessKeyModel{},
			&DocModel{},
			&SessionModel{},
			&MessageModel{},
			&HistoryModel{},
			&FeedbackModel{},
			&ErrorModel{},
			&ChunkModel{},
		); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		if err := tx.Exec(fmt.Sprintf(`
			DO $$
			BEGIN
			IF EXISTS (
				SELECT 1 FROM information_schema.columns
				WHERE table_name = 'chunks' AND column_name = 'embedding'
			) THEN
				ALTER TABLE chunks ALTER COLUMN embedding TYPE vector(%d);
			END IF;
			END $$;
		`, embeddingDim)).Error; err != nil {
			return fmt.Errorf("alter chunk embedding type: %w", err)
		}
		if err := tx.Exec(`
			DO $$
			BEGIN
				IF NOT EXISTS (
					SELECT 1 FROM information_schema.table_constraints
					WHERE table_schema = 'public'
					AND table_name = 'chat_sessions'
					AND constraint_name = 'chat_sessions_tenant_id_fkey'
				) THEN
					ALTER TABLE chat_sessions
					ADD CONSTRAINT chat_sessions_tenant_id_fkey
					FOREIGN KEY (tenant_id) REFERENCES tenants(id) ON DELETE CASCADE;
				END IF;
				IF NOT EXISTS (
					SELECT 1 FROM information_schema.table_constraints
					WHERE table_schema = 'public'
					AND table_name = 'access_keys'
					AND constraint_name = 'access_keys_tenant_id_fkey'
				) THEN
					ALTER TABLE access_keys
					ADD CONSTRAINT access_keys_tenant_id_fkey
					FOREIGN KEY (tenant_id) REFERENCES tenants(id) ON DELETE CASCADE;
				END IF;
				IF NOT EXISTS (
					SELECT 1 FROM information_schema.table_constraints
					WHERE table_schema = 'public'
					AND table_name = 'docs'
					AND constraint_name = 'docs_tenant_id_fkey'
				) THEN
					ALTER TABLE docs
					ADD CONSTRAINT docs_tenant_id_fkey
					FOREIGN KEY (tenant_id) REFERENCES tenants(id) ON DELETE CASCADE;
				END IF;
				IF NOT EXISTS (
					SELECT 1 FROM information_schema.table_constraints
					WHERE table_schema = 'public'
					AND table_name = 'chat_messages'
					AND constraint_name = 'chat_messages_session_id_fkey'
				) THEN
					ALTER TABLE chat_messages
					ADD CONSTRAINT chat_messages_session_id_fkey
					FOREIGN KEY (session_id) REFERENCES chat_sessions(id) ON DELETE CASCADE;
				END IF;
				IF NOT EXISTS (
					SELECT 1 FROM information_schema.table_constraints
					WHERE table_schema = 'public'
					AND table_name = 'chat_history'
					AND constraint_name = 'chat_history_session_id_fkey'
				) THEN
					ALTER TABLE chat_history
					ADD CONSTRAINT chat_history_session_id_fkey
					FOREIGN KEY (session_id) REFERENCES chat_sessions(id) ON DELETE CASCADE;
				END IF;
				IF NOT EXISTS (
					SELECT 1 FROM information_schema.table_constraints
					WHERE table_schema = 'public'
					AND table_name = 'chat_feedback'
					AND constraint_name = 'chat_feedback_message_id_fkey'
				) THEN
					ALTER TABLE chat_feedback
					ADD CONSTRAINT chat_feedback_message_id_fkey
					FOREIGN KEY (message_id) REFERENCES chat_messages(id) ON DELETE CASCADE;
				END IF;
			END $$;
		`).Error; err != nil {
			return fmt.Errorf("ensure foreign keys: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db, embeddingDim: embeddingDim}, nil
}

func resolveEmbeddingDim(configValue int) (int, error) {
	if configValue > 0 {
		return configValue, nil
	}
	raw := strings.TrimSpace(os.Getenv(canonicalEmbeddingDimEnv))
	if raw == "" {
		return defaultEmbeddingDim, nil
	}
	dim, err := strconv.Atoi(raw)
	if err != nil || dim <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", canonicalEmbeddingDimEnv, raw)
	}
	return dim, nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// translate maps gorm errors to the store's domain errors.
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return ErrConflict
	case errors.Is(err, gorm.ErrForeignKeyViolated):
		return ErrNotFound
	default:
		return err
	}
}

// SaveTenant creates or updates a tenant.
func (s *GormStore) SaveTenant(t domain.Tenant) error {
	model := TenantModel{
		ID:          t.ID,
		Name:        t.Name,
		Description: t.Description,
		CreatedAt:   t.CreatedAt,
	}
	return translate(s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "description"}),
	}).Create(&model).Error)
}

// GetTenant returns a tenant by ID.
func (s *GormStore) GetTenant(id string) (domain.Tenant, bool, error) {
	var model TenantModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Tenant{}, false, nil
		}
		return domain.Tenant{}, false, err
	}
	return tenantFromModel(model), true, nil
}

// ListTenants returns tenants ordered by creation time.
func (s *GormStore) ListTenants(limit, offset int) ([]domain.Tenant, error) {
	if limit <= 0 {
		limit = 100
	}
	var models []TenantModel
	if err := s.db.Order("created_at ASC").Limit(limit).Offset(offset).Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Tenant, 0, len(models))
	for _, m := range models {
		res = append(res, tenantFromModel(m))
	}
	return res, nil
}

// DeleteTenant removes a tenant. Sessions, keys and docs go with it via FK cascade.
func (s *GormStore) DeleteTenant(id string) error {
	res := s.db.Delete(&TenantModel{}, "id = ?", id)
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SaveAccessKey stores a new access key.
func (s *GormStore) SaveAccessKey(k domain.AccessKey) error {
	model := AccessKeyModel{
		ID:         k.ID,
		TenantID:   k.TenantID,
		KeyID:      k.KeyID,
		SecretHash: k.SecretHash,
		ExpiresAt:  k.ExpiresAt,
		CreatedAt:  k.CreatedAt,
	}
	return translate(s.db.Create(&model).Error)
}

// GetAccessKeyByKeyID looks up a key by its public identifier.
func (s *GormStore) GetAccessKeyByKeyID(keyID string) (domain.AccessKey, bool, error) {
	var model AccessKeyModel
	if err := s.db.First(&model, "key_id = ?", keyID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.AccessKey{}, false, nil
		}
		return domain.AccessKey{}, false, err
	}
	return domain.AccessKey{
		ID:         model.ID,
		TenantID:   model.TenantID,
		KeyID:      model.KeyID,
		SecretHash: model.SecretHash,
		ExpiresAt:  model.ExpiresAt,
		CreatedAt:  model.CreatedAt,
	}, true, nil
}

// SaveDoc registers a source document.
func (s *GormStore) SaveDoc(d domain.Doc) error {
	model := DocModel{
		ID:         d.ID,
		TenantID:   d.TenantID,
		ProfileKey: d.ProfileKey,
		Filepath:   d.Filepath,
		Name:       d.Name,
		Extension:  d.Extension,
		CreatedAt:  d.CreatedAt,
	}
	return translate(s.db.Create(&model).Error)
}

// ListDocs returns a tenant's documents, optionally filtered by profile.
func (s *GormStore) ListDocs(tenantID, profileKey string) ([]domain.Doc, error) {
	tx := s.db.Where("tenant_id = ?", tenantID)
	if profileKey != "" {
		tx = tx.Where("profile_key = ?", profileKey)
	}
	var models []DocModel
	if err := tx.Order("created_at ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	docs := make([]domain.Doc, 0, len(models))
	for _, m := range models {
		docs = append(docs, docFromModel(m))
	}
	return docs, nil
}

// GetDoc returns one document scoped to its tenant.
func (s *GormStore) GetDoc(tenantID, docID string) (domain.Doc, bool, error) {
	var model DocModel
	if err := s.db.First(&model, "id = ? AND tenant_id = ?", docID, tenantID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Doc{}, false, nil
		}
		return domain.Doc{}, false, err
	}
	return docFromModel(model), true, nil
}

// DeleteDoc removes one document scoped to its tenant.
func (s *GormStore) DeleteDoc(tenantID, docID string) error {
	res := s.db.Delete(&DocModel{}, "id = ? AND tenant_id = ?", docID, tenantID)
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// EnsureSession creates or refreshes the session for the given scope.
// An explicit sessionID must belong to the scope; ownership is checked
// before any column is touched, and an unknown id falls back to the scope
// upsert. Without an id the unique (tenant_id, profile_key, user_id) index
// serializes concurrent first requests and the loser adopts the winner's
// row.
func (s *GormStore) EnsureSession(key SessionKey, sessionID, clientIP, userAgent string, at time.Time) (domain.Session, error) {
	if sessionID != "" {
		var existing SessionModel
		err := s.db.First(&existing, "id = ?", sessionID).Error
		switch {
		case err == nil:
			if existing.TenantID != key.TenantID || existing.ProfileKey != key.ProfileKey || existing.UserID != key.UserID {
				return domain.Session{}, ErrNotFound
			}
			res := s.db.Model(&SessionModel{}).
				Where("id = ? AND tenant_id = ? AND profile_key = ? AND user_id = ?",
					sessionID, key.TenantID, key.ProfileKey, key.UserID).
				Updates(map[string]any{
					"last_activity_at": &at,
					"client_ip":        clientIP,
					"user_agent":       userAgent,
				})
			if res.Error != nil {
				return domain.Session{}, translate(res.Error)
			}
			existing.LastActivityAt = &at
			existing.ClientIP = clientIP
			existing.UserAgent = userAgent
			return sessionFromModel(existing), nil
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return domain.Session{}, translate(err)
		}
		// Unknown id: the scope upsert below decides, the id is not reused.
	}
	model := SessionModel{
		ID:             uuid.NewString(),
		TenantID:       key.TenantID,
		ProfileKey:     key.ProfileKey,
		UserID:         key.UserID,
		ClientIP:       clientIP,
		UserAgent:      userAgent,
		StartedAt:      at,
		LastActivityAt: &at,
	}
	conflict := clause.OnConflict{
		Columns: []clause.Column{{Name: "tenant_id"}, {Name: "profile_key"}, {Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"last_activity_at", "client_ip", "user_agent",
		}),
	}
	if err := s.db.Clauses(conflict).Create(&model).Error; err != nil {
		return domain.Session{}, translate(err)
	}
	var row SessionModel
	if err := s.db.Where("tenant_id = ? AND profile_key = ? AND user_id = ?",
		key.TenantID, key.ProfileKey, key.UserID).First(&row).Error; err != nil {
		return domain.Session{}, translate(err)
	}
	return sessionFromModel(row), nil
}

// GetSession returns a session scoped to its tenant and profile.
func (s *GormStore) GetSession(tenantID, profileKey, sessionID string) (domain.Session, bool, error) {
	var model SessionModel
	err := s.db.First(&model, "id = ? AND tenant_id = ? AND profile_key = ?",
		sessionID, tenantID, profileKey).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Session{}, false, nil
		}
		return domain.Session{}, false, err
	}
	return sessionFromModel(model), true, nil
}

// ListSessions returns a user's sessions, most recently active first.
func (s *GormStore) ListSessions(tenantID, profileKey, userID string, limit int) ([]domain.Session, error) {
	if limit <= 0 {
		limit = 50
	}
	var models []SessionModel
	if err := s.db.Where("tenant_id = ? AND profile_key = ? AND user_id = ?",
		tenantID, profileKey, userID).
		Order("last_activity_at DESC NULLS LAST").
		Order("started_at DESC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, err
	}
	sessions := make([]domain.Session, 0, len(models))
	for _, m := range models {
		sessions = append(sessions, sessionFromModel(m))
	}
	return sessions, nil
}

// SetSessionTitle sets the title unconditionally and optionally locks it.
func (s *GormStore) SetSessionTitle(tenantID, profileKey, sessionID, title string, lock bool) error {
	res := s.db.Model(&SessionModel{}).
		Where("id = ? AND tenant_id = ? AND profile_key = ?", sessionID, tenantID, profileKey).
		Updates(map[string]any{"title": title, "title_locked": lock})
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SetSessionTitleIfUnset sets the title only when it is empty and unlocked.
// A no-op match is not an error.
func (s *GormStore) SetSessionTitleIfUnset(tenantID, profileKey, sessionID, title string) error {
	return translate(s.db.Model(&SessionModel{}).
		Where("id = ? AND tenant_id = ? AND profile_key = ?", sessionID, tenantID, profileKey).
		Where("(title IS NULL OR title = '') AND title_locked = false").
		Update("title", title).Error)
}

// DeleteSession removes the session; messages, history and feedback follow
// via FK cascade.
func (s *GormStore) DeleteSession(tenantID, profileKey, sessionID string) error {
	res := s.db.Delete(&SessionModel{},
		"id = ? AND tenant_id = ? AND profile_key = ?", sessionID, tenantID, profileKey)
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// AppendMessage records a message.
func (s *GormStore) AppendMessage(msg domain.Message) error {
	model := messageToModel(msg)
	return translate(s.db.Create(&model).Error)
}

// ListMessages returns a session's messages in chronological order.
func (s *GormStore) ListMessages(tenantID, profileKey, sessionID string, limit int) ([]domain.Message, error) {
	query := s.db.Where("session_id = ? AND tenant_id = ? AND profile_key = ?",
		sessionID, tenantID, profileKey).
		Order("created_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var models []MessageModel
	if err := query.Find(&models).Error; err != nil {
		return nil, err
	}
	msgs := make([]domain.Message, 0, len(models))
	for _, m := range models {
		msgs = append(msgs, messageFromModel(m))
	}
	return msgs, nil
}

// GetMessage returns one message scoped to its tenant.
func (s *GormStore) GetMessage(tenantID, messageID string) (domain.Message, bool, error) {
	var model MessageModel
	if err := s.db.First(&model, "id = ? AND tenant_id = ?", messageID, tenantID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Message{}, false, nil
		}
		return domain.Message{}, false, err
	}
	return messageFromModel(model), true, nil
}

// AppendHistory records an audit entry. Append-only.
func (s *GormStore) AppendHistory(h domain.HistoryEntry) error {
	model := HistoryModel{
		TenantID:         h.TenantID,
		ProfileKey:       h.ProfileKey,
		UserID:           h.UserID,
		SessionID:        h.SessionID,
		RequestID:        h.RequestID,
		IP:               h.IP,
		UserAgent:        h.UserAgent,
		Model:            h.Model,
		Question:         h.Question,
		Answer:           h.Answer,
		LatencyMs:        h.LatencyMs,
		PromptTokens:     h.PromptTokens,
		CompletionTokens: h.CompletionTokens,
		TotalTokens:      h.TotalTokens,
		CreatedAt:        h.CreatedAt,
	}
	return translate(s.db.Create(&model).Error)
}

// AppendError records a failure audit row.
func (s *GormStore) AppendError(e domain.ErrorRecord) error {
	var detail datatypes.JSON
	if len(e.Detail) > 0 {
		raw, err := json.Marshal(e.Detail)
		if err != nil {
			return fmt.Errorf("marshal error detail: %w", err)
		}
		detail = datatypes.JSON(raw)
	}
	model := ErrorModel{
		TenantID:   e.TenantID,
		ProfileKey: e.ProfileKey,
		Stage:      e.Stage,
		ErrType:    e.ErrType,
		Message:    e.Message,
		Detail:     detail,
		CreatedAt:  e.CreatedAt,
	}
	if e.SessionID != "" {
		model.SessionID = &e.SessionID
	}
	if e.MessageID != "" {
		model.MessageID = &e.MessageID
	}
	return translate(s.db.Create(&model).Error)
}

// UpsertFeedback inserts or updates the single feedback row of a message.
func (s *GormStore) UpsertFeedback(f domain.Feedback) error {
	model := FeedbackModel{
		ID:         f.ID,
		TenantID:   f.TenantID,
		ProfileKey: f.ProfileKey,
		MessageID:  f.MessageID,
		Score:      f.Score,
		Reason:     f.Reason,
		CreatedAt:  f.CreatedAt,
	}
	return translate(s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "message_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"score", "reason"}),
	}).Create(&model).Error)
}

// ReplaceChunks replaces all chunks of a collection scope. Refresh = recreate.
func (s *GormStore) ReplaceChunks(collection, tenantID, profileKey string, chunks []domain.Chunk, embeddings [][]float32) error {
	if len(embeddings) != len(chunks) {
		return fmt.Errorf("chunk/embedding count mismatch: %d vs %d", len(chunks), len(embeddings))
	}
	for _, emb := range embeddings {
		if err := s.validateEmbeddingDim(emb); err != nil {
			return err
		}
	}
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&ChunkModel{},
			"collection = ? AND tenant_id = ? AND profile_key = ?",
			collection, tenantID, profileKey).Error; err != nil {
			return err
		}
		if len(chunks) == 0 {
			return nil
		}
		models := make([]ChunkModel, 0, len(chunks))
		for i, chunk := range chunks {
			model, err := chunkToModel(chunk)
			if err != nil {
				return err
			}
			model.Collection = collection
			model.TenantID = tenantID
			model.ProfileKey = profileKey
			vec := pgvector.NewVector(embeddings[i])
			model.Embedding = &vec
			models = append(models, model)
		}
		return tx.CreateInBatches(&models, 200).Error
	})
}

// SearchChunks finds similar chunks by cosine distance. The tenant and
// profile predicates are hard filters, never re-ranking weights.
func (s *GormStore) SearchChunks(collection, tenantID, profileKey string, embedding []float32, limit int) ([]domain.Chunk, error) {
	if limit <= 0 {
		return []domain.Chunk{}, nil
	}
	if err := s.validateEmbeddingDim(embedding); err != nil {
		return nil, err
	}
	vec := pgvector.NewVector(embedding)
	var models []ChunkModel
	if err := s.db.Model(&ChunkModel{}).
		Where("collection = ? AND tenant_id = ? AND profile_key = ? AND embedding IS NOT NULL",
			collection, tenantID, profileKey).
		Order(clause.Expr{SQL: "embedding <=> ?", Vars: []any{vec}}).
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, err
	}
	chunks := make([]domain.Chunk, 0, len(models))
	for _, model := range models {
		chunk, err := chunkFromModel(model)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, chunk)
	}
	return chunks, nil
}

// Ping verifies database connectivity.
func (s *GormStore) Ping() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return sqlDB.PingContext(ctx)
}

func (s *GormStore) validateEmbeddingDim(embedding []float32) error {
	if len(embedding) == 0 {
		return fmt.Errorf("embedding vector is empty")
	}
	if s.embeddingDim > 0 && len(embedding) != s.embeddingDim {
		return fmt.Errorf("embedding dimension mismatch: got %d, want %d", len(embedding), s.embeddingDim)
	}
	return nil
}

func tenantFromModel(m TenantModel) domain.Tenant {
	return domain.Tenant{
		ID:          m.ID,
		Name:        m.Name,
		Description: m.Description,
		CreatedAt:   m.CreatedAt,
	}
}

func docFromModel(m DocModel) domain.Doc {
	return domain.Doc{
		ID:         m.ID,
		TenantID:   m.TenantID,
		ProfileKey: m.ProfileKey,
		Filepath:   m.Filepath,
		Name:       m.Name,
		Extension:  m.Extension,
		CreatedAt:  m.CreatedAt,
	}
}

func sessionFromModel(m SessionModel) domain.Session {
	title := ""
	if m.Title != nil {
		title = *m.Title
	}
	return domain.Session{
		ID:             m.ID,
		TenantID:       m.TenantID,
		ProfileKey:     m.ProfileKey,
		UserID:         m.UserID,
		ClientIP:       m.ClientIP,
		UserAgent:      m.UserAgent,
		Title:          title,
		TitleLocked:    m.TitleLocked,
		StartedAt:      m.StartedAt,
		LastActivityAt: m.LastActivityAt,
	}
}

func messageToModel(msg domain.Message) MessageModel {
	return MessageModel{
		ID:               msg.ID,
		TenantID:         msg.TenantID,
		ProfileKey:       msg.ProfileKey,
		SessionID:        msg.SessionID,
		Role:             string(msg.Role),
		Content:          msg.Content,
		Model:            msg.Model,
		LatencyMs:        msg.LatencyMs,
		PromptTokens:     msg.PromptTokens,
		CompletionTokens: msg.CompletionTokens,
		TotalTokens:      msg.TotalTokens,
		CreatedAt:        msg.CreatedAt,
	}
}

func messageFromModel(m MessageModel) domain.Message {
	return domain.Message{
		ID:               m.ID,
		TenantID:         m.TenantID,
		ProfileKey:       m.ProfileKey,
		SessionID:        m.SessionID,
		Role:             domain.MessageRole(m.Role),
		Content:          m.Content,
		Model:            m.Model,
		LatencyMs:        m.LatencyMs,
		PromptTokens:     m.PromptTokens,
		CompletionTokens: m.CompletionTokens,
		TotalTokens:      m.TotalTokens,
		CreatedAt:        m.CreatedAt,
	}
}

func chunkToModel(chunk domain.Chunk) (ChunkModel, error) {
	var metadata datatypes.JSON
	if len(chunk.Metadata) > 0 {
		raw, err := json.Marshal(chunk.Metadata)
		if err != nil {
			return ChunkModel{}, fmt.Errorf("marshal chunk metadata: %w", err)
		}
		metadata = datatypes.JSON(raw)
	}
	return ChunkModel{
		ID:        chunk.ID,
		Content:   chunk.Content,
		Metadata:  metadata,
		CreatedAt: chunk.CreatedAt,
	}, nil
}

func chunkFromModel(m ChunkModel) (domain.Chunk, error) {
	var metadata map[string]string
	if len(m.Metadata) > 0 {
		if err := json.Unmarshal(m.Metadata, &metadata); err != nil {
			return domain.Chunk{}, fmt.Errorf("unmarshal chunk metadata: %w", err)
		}
	}
	return domain.Chunk{
		ID:         m.ID,
		Collection: m.Collection,
		TenantID:   m.TenantID,
		ProfileKey: m.ProfileKey,
		Content:    m.Content,
		Metadata:   metadata,
		CreatedAt:  m.CreatedAt,
	}, nil
}
