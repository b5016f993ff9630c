package store

import (
	"errors"
	"sync"
	"testing"
	"time"

	"rehberai/pkg/domain"
)

func seedTenant(t *testing.T, s *MemoryStore, id string) {
	t.Helper()
	if err := s.SaveTenant(domain.Tenant{ID: id, Name: id, CreatedAt: time.Now().UTC()}); err != nil {
		t.Fatalf("save tenant: %v", err)
	}
}

func TestEnsureSessionIdempotent(t *testing.T) {
	s := NewMemoryStore()
	seedTenant(t, s, "t1")
	key := SessionKey{TenantID: "t1", ProfileKey: "ogrenci", UserID: "u1"}
	now := time.Now().UTC()

	first, err := s.EnsureSession(key, "", "1.2.3.4", "test-agent", now)
	if err != nil {
		t.Fatalf("ensure session: %v", err)
	}
	second, err := s.EnsureSession(key, "", "1.2.3.4", "test-agent", now.Add(time.Second))
	if err != nil {
		t.Fatalf("ensure session again: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("expected same session, got %s and %s", first.ID, second.ID)
	}
	if second.LastActivityAt == nil || !second.LastActivityAt.After(now.Add(-time.Millisecond)) {
		t.Fatalf("last activity not advanced: %v", second.LastActivityAt)
	}
}

func TestEnsureSessionConcurrentSingleRow(t *testing.T) {
	s := NewMemoryStore()
	seedTenant(t, s, "t1")
	key := SessionKey{TenantID: "t1", ProfileKey: "ogrenci", UserID: "u1"}
	now := time.Now().UTC()

	const workers = 16
	ids := make([]string, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sess, err := s.EnsureSession(key, "", "1.2.3.4", "test-agent", now)
			if err != nil {
				t.Errorf("ensure session: %v", err)
				return
			}
			ids[i] = sess.ID
		}(i)
	}
	wg.Wait()

	for i := 1; i < workers; i++ {
		if ids[i] != ids[0] {
			t.Fatalf("concurrent callers got different sessions: %s and %s", ids[0], ids[i])
		}
	}
	sessions, err := s.ListSessions("t1", "ogrenci", "u1", 0)
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("expected a single session row, got %d", len(sessions))
	}
}

func TestEnsureSessionForeignIDRejectedWithoutWrite(t *testing.T) {
	s := NewMemoryStore()
	seedTenant(t, s, "t1")
	started := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	victim, err := s.EnsureSession(SessionKey{TenantID: "t1", ProfileKey: "ogrenci", UserID: "u1"}, "", "192.0.2.10", "ogrenci-web", started)
	if err != nil {
		t.Fatalf("ensure session: %v", err)
	}

	_, err = s.EnsureSession(SessionKey{TenantID: "t1", ProfileKey: "ogrenci", UserID: "u2"}, victim.ID, "198.51.100.66", "saldirgan-agent", started.Add(time.Hour))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for foreign session id, got %v", err)
	}

	got, ok, err := s.GetSession("t1", "ogrenci", victim.ID)
	if err != nil || !ok {
		t.Fatalf("get session: ok=%v err=%v", ok, err)
	}
	if got.UserID != "u1" || got.ClientIP != "192.0.2.10" || got.UserAgent != "ogrenci-web" {
		t.Fatalf("victim session mutated by rejected caller: %+v", got)
	}
	if got.LastActivityAt == nil || !got.LastActivityAt.Equal(started) {
		t.Fatalf("victim last activity mutated: %v", got.LastActivityAt)
	}
}

func TestEnsureSessionUnknownIDFallsBackToScope(t *testing.T) {
	s := NewMemoryStore()
	seedTenant(t, s, "t1")
	key := SessionKey{TenantID: "t1", ProfileKey: "ogrenci", UserID: "u1"}
	now := time.Now().UTC()

	existing, err := s.EnsureSession(key, "", "1.2.3.4", "test-agent", now)
	if err != nil {
		t.Fatalf("ensure session: %v", err)
	}
	got, err := s.EnsureSession(key, "hic-olmayan-oturum", "1.2.3.4", "test-agent", now.Add(time.Second))
	if err != nil {
		t.Fatalf("ensure session with unknown id: %v", err)
	}
	if got.ID != existing.ID {
		t.Fatalf("unknown id must reuse the scope session, got %s want %s", got.ID, existing.ID)
	}
	if got.ID == "hic-olmayan-oturum" {
		t.Fatalf("client supplied id must not be persisted")
	}
	sessions, _ := s.ListSessions("t1", "ogrenci", "u1", 0)
	if len(sessions) != 1 {
		t.Fatalf("expected a single session row, got %d", len(sessions))
	}
}

func TestEnsureSessionDistinctScopes(t *testing.T) {
	s := NewMemoryStore()
	seedTenant(t, s, "t1")
	now := time.Now().UTC()
	a, _ := s.EnsureSession(SessionKey{TenantID: "t1", ProfileKey: "ogrenci", UserID: "u1"}, "", "", "", now)
	b, _ := s.EnsureSession(SessionKey{TenantID: "t1", ProfileKey: "ogretmen", UserID: "u1"}, "", "", "", now)
	if a.ID == b.ID {
		t.Fatalf("sessions across profiles must be distinct")
	}
}

func TestSetSessionTitleIfUnsetRespectsLock(t *testing.T) {
	s := NewMemoryStore()
	seedTenant(t, s, "t1")
	now := time.Now().UTC()
	sess, _ := s.EnsureSession(SessionKey{TenantID: "t1", ProfileKey: "ogrenci", UserID: "u1"}, "", "", "", now)

	if err := s.SetSessionTitle("t1", "ogrenci", sess.ID, "Kilitli Baslik", true); err != nil {
		t.Fatalf("set title: %v", err)
	}
	if err := s.SetSessionTitleIfUnset("t1", "ogrenci", sess.ID, "Yeni Baslik"); err != nil {
		t.Fatalf("set title if unset: %v", err)
	}
	got, _, _ := s.GetSession("t1", "ogrenci", sess.ID)
	if got.Title != "Kilitli Baslik" {
		t.Fatalf("locked title modified: %q", got.Title)
	}
}

func TestUpsertFeedbackSingleRow(t *testing.T) {
	s := NewMemoryStore()
	seedTenant(t, s, "t1")
	now := time.Now().UTC()
	sess, _ := s.EnsureSession(SessionKey{TenantID: "t1", ProfileKey: "ogrenci", UserID: "u1"}, "", "", "", now)
	msg := domain.Message{ID: "m1", TenantID: "t1", ProfileKey: "ogrenci", SessionID: sess.ID, Role: domain.RoleAssistant, Content: "cevap", CreatedAt: now}
	if err := s.AppendMessage(msg); err != nil {
		t.Fatalf("append message: %v", err)
	}

	if err := s.UpsertFeedback(domain.Feedback{ID: "f1", TenantID: "t1", ProfileKey: "ogrenci", MessageID: "m1", Score: 1, Reason: "iyi", CreatedAt: now}); err != nil {
		t.Fatalf("first feedback: %v", err)
	}
	if err := s.UpsertFeedback(domain.Feedback{ID: "f2", TenantID: "t1", ProfileKey: "ogrenci", MessageID: "m1", Score: -1, Reason: "kotu", CreatedAt: now}); err != nil {
		t.Fatalf("second feedback: %v", err)
	}
	f, ok := s.FeedbackFor("m1")
	if !ok {
		t.Fatalf("feedback missing")
	}
	if f.Score != -1 || f.Reason != "kotu" {
		t.Fatalf("feedback not updated: %+v", f)
	}
	if f.ID != "f1" {
		t.Fatalf("second submission must update, not replace: %+v", f)
	}
}

func TestDeleteSessionCascades(t *testing.T) {
	s := NewMemoryStore()
	seedTenant(t, s, "t1")
	now := time.Now().UTC()
	victim, _ := s.EnsureSession(SessionKey{TenantID: "t1", ProfileKey: "ogrenci", UserID: "u1"}, "", "", "", now)
	other, _ := s.EnsureSession(SessionKey{TenantID: "t1", ProfileKey: "ogrenci", UserID: "u2"}, "", "", "", now)

	for i, sessID := range []string{victim.ID, other.ID} {
		msg := domain.Message{ID: "m" + string(rune('a'+i)), TenantID: "t1", ProfileKey: "ogrenci", SessionID: sessID, Role: domain.RoleUser, Content: "soru", CreatedAt: now}
		if err := s.AppendMessage(msg); err != nil {
			t.Fatalf("append message: %v", err)
		}
		if err := s.UpsertFeedback(domain.Feedback{ID: msg.ID + "-f", TenantID: "t1", ProfileKey: "ogrenci", MessageID: msg.ID, Score: 1, Reason: "ok", CreatedAt: now}); err != nil {
			t.Fatalf("feedback: %v", err)
		}
		if err := s.AppendHistory(domain.HistoryEntry{TenantID: "t1", ProfileKey: "ogrenci", UserID: "u", SessionID: sessID, RequestID: "r", Question: "q", Answer: "a", CreatedAt: now}); err != nil {
			t.Fatalf("history: %v", err)
		}
	}

	if err := s.DeleteSession("t1", "ogrenci", victim.ID); err != nil {
		t.Fatalf("delete session: %v", err)
	}
	if msgs, _ := s.ListMessages("t1", "ogrenci", victim.ID, 0); len(msgs) != 0 {
		t.Fatalf("messages survived cascade: %d", len(msgs))
	}
	if s.HistoryCount(victim.ID) != 0 {
		t.Fatalf("history survived cascade")
	}
	if _, ok := s.FeedbackFor("ma"); ok {
		t.Fatalf("feedback survived cascade")
	}
	if msgs, _ := s.ListMessages("t1", "ogrenci", other.ID, 0); len(msgs) != 1 {
		t.Fatalf("other session touched by cascade")
	}
}

func TestSearchChunksHardTenantProfileFilter(t *testing.T) {
	s := NewMemoryStore()
	emb := func(x float32) []float32 { return []float32{x, 1 - x} }

	if err := s.ReplaceChunks("pilot_ogrenci", "t1", "ogrenci",
		[]domain.Chunk{{ID: "c1", Content: "ogrenci paneli"}}, [][]float32{emb(0.9)}); err != nil {
		t.Fatalf("replace chunks: %v", err)
	}
	// Identical content under a different tenant/profile must stay invisible.
	if err := s.ReplaceChunks("pilot_ogrenci", "t2", "ogrenci",
		[]domain.Chunk{{ID: "c2", Content: "ogrenci paneli"}}, [][]float32{emb(0.9)}); err != nil {
		t.Fatalf("replace chunks: %v", err)
	}
	if err := s.ReplaceChunks("pilot_ogretmen", "t1", "ogretmen",
		[]domain.Chunk{{ID: "c3", Content: "ogretmen paneli"}}, [][]float32{emb(0.9)}); err != nil {
		t.Fatalf("replace chunks: %v", err)
	}

	got, err := s.SearchChunks("pilot_ogrenci", "t1", "ogrenci", emb(0.9), 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(got) != 1 || got[0].ID != "c1" {
		t.Fatalf("expected only the scoped chunk, got %+v", got)
	}
	for _, c := range got {
		if c.TenantID != "t1" || c.ProfileKey != "ogrenci" {
			t.Fatalf("foreign chunk leaked: %+v", c)
		}
	}
}

func TestSearchChunksEmptyResultIsValid(t *testing.T) {
	s := NewMemoryStore()
	got, err := s.SearchChunks("missing", "t1", "ogrenci", []float32{1, 0}, 5)
	if err != nil {
		t.Fatalf("empty search must not error: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty result, got %d", len(got))
	}
}

func TestReplaceChunksRecreates(t *testing.T) {
	s := NewMemoryStore()
	emb := [][]float32{{1, 0}}
	if err := s.ReplaceChunks("col", "t1", "p", []domain.Chunk{{ID: "old", Content: "eski"}}, emb); err != nil {
		t.Fatalf("replace: %v", err)
	}
	if err := s.ReplaceChunks("col", "t1", "p", []domain.Chunk{{ID: "new", Content: "yeni"}}, emb); err != nil {
		t.Fatalf("replace again: %v", err)
	}
	got, _ := s.SearchChunks("col", "t1", "p", []float32{1, 0}, 10)
	if len(got) != 1 || got[0].ID != "new" {
		t.Fatalf("refresh must recreate collection content, got %+v", got)
	}
}
