package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"rehberai/pkg/domain"
)

const defaultSessionTitle = "Sohbet"

// maybeSetTitle assigns a fallback title derived from the first question
// when the session has none, then upgrades it asynchronously with a
// model-written title. A manually locked title is never touched. Returns the
// title the caller should echo back.
func (a *App) maybeSetTitle(session domain.Session, firstQuestion string) string {
	if session.Title != "" && session.TitleLocked {
		return session.Title
	}
	fallback := fallbackTitle(firstQuestion)
	if err := a.store.SetSessionTitleIfUnset(session.TenantID, session.ProfileKey, session.ID, fallback); err != nil {
		slog.Warn("fallback title failed", "session_id", session.ID, "error", err)
	}
	go a.upgradeTitle(session, firstQuestion, fallback)
	if session.Title != "" {
		return session.Title
	}
	return fallback
}

func (a *App) upgradeTitle(session domain.Session, firstQuestion, fallback string) {
	if a.miniGenerator == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	prompt := fmt.Sprintf(
		"Profil: %s\n"+
			"Kullanicinin ilk mesajina gore tek satir kisa bir sohbet basligi uret.\n"+
			"- Turkce\n- 4-6 kelime\n- Ozel karakter yok\n- Bas harfler buyuk\n- Sonda nokta yok\n"+
			"Sadece basligi yaz.\n\n"+
			"Ilk mesaj: %s",
		session.ProfileKey, firstQuestion,
	)
	better, err := a.miniGenerator.GenerateText(ctx, "", prompt)
	if err != nil {
		slog.Warn("title upgrade failed", "session_id", session.ID, "error", err)
		return
	}
	title := sanitizeTitle(better)
	if title == "" {
		title = fallback
	}
	current, ok, err := a.store.GetSession(session.TenantID, session.ProfileKey, session.ID)
	if err != nil || !ok || current.TitleLocked {
		return
	}
	if err := a.store.SetSessionTitle(session.TenantID, session.ProfileKey, session.ID, title, false); err != nil {
		slog.Warn("title upgrade write failed", "session_id", session.ID, "error", err)
	}
}

func fallbackTitle(firstQuestion string) string {
	firstLine := strings.TrimSpace(firstQuestion)
	if idx := strings.IndexByte(firstLine, '\n'); idx >= 0 {
		firstLine = firstLine[:idx]
	}
	runes := []rune(firstLine)
	if len(runes) > 60 {
		firstLine = string(runes[:60])
	}
	title := sanitizeTitle(firstLine)
	if title == "" {
		return defaultSessionTitle
	}
	return title
}

func sanitizeTitle(value string) string {
	sanitized := strings.TrimSpace(value)
	sanitized = strings.ReplaceAll(sanitized, "\n", " ")
	sanitized = strings.ReplaceAll(sanitized, `"`, "")
	sanitized = strings.ReplaceAll(sanitized, "'", "")
	for len(sanitized) > 0 && strings.ContainsRune(".!?", rune(sanitized[len(sanitized)-1])) {
		sanitized = sanitized[:len(sanitized)-1]
	}
	runes := []rune(sanitized)
	if len(runes) > 80 {
		sanitized = strings.TrimRight(string(runes[:80]), " ")
	}
	return sanitized
}
