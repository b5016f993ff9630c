package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"rehberai/pkg/domain"
)

const (
	memoryRecentLimit  = 4
	summaryMinMessages = 4
)

// buildMemory condenses the session history into a memory block for the
// prompt: the configured history window of most recent messages, with an
// optional model-written summary of the older turns plus the last few
// messages verbatim. Memory is best effort; failures degrade to an empty
// string and never fail the chat turn.
func (a *App) buildMemory(ctx context.Context, tenantID, profileKey, sessionID, summaryContext string) string {
	history, err := a.store.ListMessages(tenantID, profileKey, sessionID, 0)
	if err != nil {
		slog.Warn("memory build failed", "session_id", sessionID, "error", err)
		return ""
	}
	if len(history) > a.historyLimit {
		history = history[len(history)-a.historyLimit:]
	}
	if len(history) == 0 {
		return ""
	}
	summary := a.summarize(ctx, history, summaryContext)
	recent := formatRecent(history, memoryRecentLimit)
	return strings.TrimSpace(summary + recent)
}

func (a *App) summarize(ctx context.Context, history []domain.Message, summaryContext string) string {
	if len(history) < summaryMinMessages || a.miniGenerator == nil {
		return ""
	}
	var conversation strings.Builder
	for _, msg := range history[:len(history)-2] {
		conversation.WriteString(roleLabel(msg.Role))
		conversation.WriteString(": ")
		conversation.WriteString(msg.Content)
		conversation.WriteString("\n\n")
	}
	if summaryContext == "" {
		summaryContext = "kullanici"
	}
	prompt := fmt.Sprintf(
		"Bu %s sohbetinin onemli noktalarini kisaca ozetle.\n\n"+
			"Kurallar:\n"+
			"- En fazla 3-4 cumle kullan\n"+
			"- Sadece onemli soru ve cevaplari belirt\n"+
			"- Tekrar yok\n"+
			"- Turkce yaz\n\n"+
			"Sohbet:\n%s\n\nOzet:",
		summaryContext, conversation.String(),
	)
	text, err := a.miniGenerator.GenerateText(ctx, "", prompt)
	if err != nil {
		slog.Warn("history summary failed", "error", err)
		return ""
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	return fmt.Sprintf("Onceki Konusma Ozeti: %s\n\n", text)
}

func formatRecent(history []domain.Message, limit int) string {
	if len(history) == 0 {
		return ""
	}
	recent := history
	if len(recent) > limit {
		recent = recent[len(recent)-limit:]
	}
	lines := make([]string, 0, len(recent))
	for _, msg := range recent {
		lines = append(lines, roleLabel(msg.Role)+": "+msg.Content)
	}
	return "Son Mesajlar:\n" + strings.Join(lines, "\n") + "\n\n"
}

func roleLabel(role domain.MessageRole) string {
	if role == domain.RoleUser {
		return "Kullanici"
	}
	return "Asistan"
}
