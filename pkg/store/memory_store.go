package store

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"rehberai/pkg/domain"
)

// MemoryStore keeps everything in-process. It backs tests and local runs
// without Postgres and mirrors the GormStore semantics, including the
// single-session-per-scope constraint and cascade deletes.
type MemoryStore struct {
	mu        sync.RWMutex
	tenants   map[string]domain.Tenant
	keys      map[string]domain.AccessKey // key_id -> key
	docs      map[string]domain.Doc
	sessions  map[string]domain.Session
	messages  []domain.Message
	history   []domain.HistoryEntry
	errs      []domain.ErrorRecord
	feedback  map[string]domain.Feedback // message_id -> feedback
	chunks    []memChunk
	historyID int64
}

type memChunk struct {
	chunk     domain.Chunk
	embedding []float32
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tenants:  make(map[string]domain.Tenant),
		keys:     make(map[string]domain.AccessKey),
		docs:     make(map[string]domain.Doc),
		sessions: make(map[string]domain.Session),
		feedback: make(map[string]domain.Feedback),
	}
}

func (m *MemoryStore) SaveTenant(t domain.Tenant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tenants[t.ID] = t
	return nil
}

func (m *MemoryStore) GetTenant(id string) (domain.Tenant, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tenants[id]
	return t, ok, nil
}

func (m *MemoryStore) ListTenants(limit, offset int) ([]domain.Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if limit <= 0 {
		limit = 100
	}
	all := make([]domain.Tenant, 0, len(m.tenants))
	for _, t := range m.tenants {
		all = append(all, t)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.Before(all[j].CreatedAt) })
	if offset >= len(all) {
		return []domain.Tenant{}, nil
	}
	all = all[offset:]
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (m *MemoryStore) DeleteTenant(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tenants[id]; !ok {
		return ErrNotFound
	}
	delete(m.tenants, id)
	for keyID, k := range m.keys {
		if k.TenantID == id {
			delete(m.keys, keyID)
		}
	}
	for docID, d := range m.docs {
		if d.TenantID == id {
			delete(m.docs, docID)
		}
	}
	for sessionID, s := range m.sessions {
		if s.TenantID == id {
			m.deleteSessionLocked(sessionID)
		}
	}
	return nil
}

func (m *MemoryStore) SaveAccessKey(k domain.AccessKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.keys[k.KeyID]; exists {
		return ErrConflict
	}
	m.keys[k.KeyID] = k
	return nil
}

func (m *MemoryStore) GetAccessKeyByKeyID(keyID string) (domain.AccessKey, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	k, ok := m.keys[keyID]
	return k, ok, nil
}

func (m *MemoryStore) SaveDoc(d domain.Doc) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tenants[d.TenantID]; !ok {
		return ErrNotFound
	}
	m.docs[d.ID] = d
	return nil
}

func (m *MemoryStore) ListDocs(tenantID, profileKey string) ([]domain.Doc, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Doc, 0)
	for _, d := range m.docs {
		if d.TenantID != tenantID {
			continue
		}
		if profileKey != "" && d.ProfileKey != profileKey {
			continue
		}
		res = append(res, d)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt.Before(res[j].CreatedAt) })
	return res, nil
}

func (m *MemoryStore) GetDoc(tenantID, docID string) (domain.Doc, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.docs[docID]
	if !ok || d.TenantID != tenantID {
		return domain.Doc{}, false, nil
	}
	return d, true, nil
}

func (m *MemoryStore) DeleteDoc(tenantID, docID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[docID]
	if !ok || d.TenantID != tenantID {
		return ErrNotFound
	}
	delete(m.docs, docID)
	return nil
}

// EnsureSession mirrors the GormStore semantics: an explicit sessionID must
// belong to the scope and is never written before the ownership check; an
// unknown id falls back to the scope upsert.
func (m *MemoryStore) EnsureSession(key SessionKey, sessionID, clientIP, userAgent string, at time.Time) (domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sessionID != "" {
		if existing, ok := m.sessions[sessionID]; ok {
			if existing.TenantID != key.TenantID || existing.ProfileKey != key.ProfileKey || existing.UserID != key.UserID {
				return domain.Session{}, ErrNotFound
			}
			existing.LastActivityAt = &at
			existing.ClientIP = clientIP
			existing.UserAgent = userAgent
			m.sessions[sessionID] = existing
			return existing, nil
		}
	}
	for _, s := range m.sessions {
		if s.TenantID == key.TenantID && s.ProfileKey == key.ProfileKey && s.UserID == key.UserID {
			s.LastActivityAt = &at
			s.ClientIP = clientIP
			s.UserAgent = userAgent
			m.sessions[s.ID] = s
			return s, nil
		}
	}
	created := domain.Session{
		ID:             uuid.NewString(),
		TenantID:       key.TenantID,
		ProfileKey:     key.ProfileKey,
		UserID:         key.UserID,
		ClientIP:       clientIP,
		UserAgent:      userAgent,
		StartedAt:      at,
		LastActivityAt: &at,
	}
	m.sessions[created.ID] = created
	return created, nil
}

func (m *MemoryStore) GetSession(tenantID, profileKey, sessionID string) (domain.Session, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok || s.TenantID != tenantID || s.ProfileKey != profileKey {
		return domain.Session{}, false, nil
	}
	return s, true, nil
}

func (m *MemoryStore) ListSessions(tenantID, profileKey, userID string, limit int) ([]domain.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if limit <= 0 {
		limit = 50
	}
	res := make([]domain.Session, 0)
	for _, s := range m.sessions {
		if s.TenantID == tenantID && s.ProfileKey == profileKey && s.UserID == userID {
			res = append(res, s)
		}
	}
	sort.Slice(res, func(i, j int) bool {
		a, b := res[i].LastActivityAt, res[j].LastActivityAt
		if a != nil && b != nil {
			return a.After(*b)
		}
		return a != nil
	})
	if len(res) > limit {
		res = res[:limit]
	}
	return res, nil
}

func (m *MemoryStore) SetSessionTitle(tenantID, profileKey, sessionID, title string, lock bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok || s.TenantID != tenantID || s.ProfileKey != profileKey {
		return ErrNotFound
	}
	s.Title = title
	s.TitleLocked = lock
	m.sessions[sessionID] = s
	return nil
}

func (m *MemoryStore) SetSessionTitleIfUnset(tenantID, profileKey, sessionID, title string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok || s.TenantID != tenantID || s.ProfileKey != profileKey {
		return nil
	}
	if s.Title != "" || s.TitleLocked {
		return nil
	}
	s.Title = title
	m.sessions[sessionID] = s
	return nil
}

func (m *MemoryStore) DeleteSession(tenantID, profileKey, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok || s.TenantID != tenantID || s.ProfileKey != profileKey {
		return ErrNotFound
	}
	m.deleteSessionLocked(sessionID)
	return nil
}

func (m *MemoryStore) deleteSessionLocked(sessionID string) {
	delete(m.sessions, sessionID)
	kept := m.messages[:0]
	for _, msg := range m.messages {
		if msg.SessionID == sessionID {
			delete(m.feedback, msg.ID)
			continue
		}
		kept = append(kept, msg)
	}
	m.messages = kept
	keptHistory := m.history[:0]
	for _, h := range m.history {
		if h.SessionID != sessionID {
			keptHistory = append(keptHistory, h)
		}
	}
	m.history = keptHistory
}

func (m *MemoryStore) AppendMessage(msg domain.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[msg.SessionID]; !ok {
		return ErrNotFound
	}
	m.messages = append(m.messages, msg)
	return nil
}

func (m *MemoryStore) ListMessages(tenantID, profileKey, sessionID string, limit int) ([]domain.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Message, 0)
	for _, msg := range m.messages {
		if msg.SessionID == sessionID && msg.TenantID == tenantID && msg.ProfileKey == profileKey {
			res = append(res, msg)
		}
	}
	sort.SliceStable(res, func(i, j int) bool { return res[i].CreatedAt.Before(res[j].CreatedAt) })
	if limit > 0 && len(res) > limit {
		res = res[:limit]
	}
	return res, nil
}

func (m *MemoryStore) GetMessage(tenantID, messageID string) (domain.Message, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, msg := range m.messages {
		if msg.ID == messageID && msg.TenantID == tenantID {
			return msg, true, nil
		}
	}
	return domain.Message{}, false, nil
}

func (m *MemoryStore) AppendHistory(h domain.HistoryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.historyID++
	h.ID = m.historyID
	m.history = append(m.history, h)
	return nil
}

// HistoryCount reports audit rows for a session. Test helper.
func (m *MemoryStore) HistoryCount(sessionID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, h := range m.history {
		if h.SessionID == sessionID {
			count++
		}
	}
	return count
}

func (m *MemoryStore) AppendError(e domain.ErrorRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.ID = int64(len(m.errs) + 1)
	m.errs = append(m.errs, e)
	return nil
}

// Errors returns recorded failure audits. Test helper.
func (m *MemoryStore) Errors() []domain.ErrorRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.ErrorRecord, len(m.errs))
	copy(res, m.errs)
	return res
}

func (m *MemoryStore) UpsertFeedback(f domain.Feedback) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.feedback[f.MessageID]; ok {
		existing.Score = f.Score
		existing.Reason = f.Reason
		m.feedback[f.MessageID] = existing
		return nil
	}
	m.feedback[f.MessageID] = f
	return nil
}

// FeedbackFor returns the feedback row of a message, if any. Test helper.
func (m *MemoryStore) FeedbackFor(messageID string) (domain.Feedback, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.feedback[messageID]
	return f, ok
}

func (m *MemoryStore) ReplaceChunks(collection, tenantID, profileKey string, chunks []domain.Chunk, embeddings [][]float32) error {
	if len(chunks) != len(embeddings) {
		return ErrConflict
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.chunks[:0]
	for _, c := range m.chunks {
		if c.chunk.Collection == collection && c.chunk.TenantID == tenantID && c.chunk.ProfileKey == profileKey {
			continue
		}
		kept = append(kept, c)
	}
	m.chunks = kept
	for i, chunk := range chunks {
		chunk.Collection = collection
		chunk.TenantID = tenantID
		chunk.ProfileKey = profileKey
		m.chunks = append(m.chunks, memChunk{chunk: chunk, embedding: embeddings[i]})
	}
	return nil
}

func (m *MemoryStore) SearchChunks(collection, tenantID, profileKey string, embedding []float32, limit int) ([]domain.Chunk, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if limit <= 0 {
		return []domain.Chunk{}, nil
	}
	type scored struct {
		chunk domain.Chunk
		sim   float64
	}
	candidates := make([]scored, 0)
	for _, c := range m.chunks {
		if c.chunk.Collection != collection || c.chunk.TenantID != tenantID || c.chunk.ProfileKey != profileKey {
			continue
		}
		candidates = append(candidates, scored{chunk: c.chunk, sim: cosine(embedding, c.embedding)})
	}
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].sim > candidates[j].sim })
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	res := make([]domain.Chunk, 0, len(candidates))
	for _, c := range candidates {
		res = append(res, c.chunk)
	}
	return res, nil
}

func (m *MemoryStore) Ping() error { return nil }

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return -1
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return -1
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
