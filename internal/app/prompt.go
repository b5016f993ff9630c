package app

import (
	"strings"

	"rehberai/pkg/domain"
)

// cannedEmptyContextAnswer is returned verbatim when retrieval finds nothing
// for the question. Clients rely on this exact string.
const cannedEmptyContextAnswer = "Ne demek istediginizi anlayamadim"

const ogrenciPromptTemplate = "Sen ogrencilere yardim eden site rehber asistanisin. " +
	"Sadece ogrenciler icin olan site kullanim bilgilerini kullanarak yanit ver.\n\n" +
	"ONEMLI KURALLAR:\n" +
	"1. Sadece ogrenci rehber bilgilerini kullan\n" +
	"2. Ogretmen veya mudur bilgilerini asla verme\n" +
	"3. Ogrenci olmayan kullanicilara 'Bu bilgi sadece ogrenciler icindir' de\n" +
	"4. Yanitlarini sadece Turkce ver\n" +
	"5. Dostca ve rehberlik edici bir ton kullan\n" +
	"6. Adim adim aciklamalar ver\n" +
	"7. Onceki konusmalari hatirla ve tutarli ol\n\n" +
	"{memory}Ogrenci Site Rehberi:\n{context}\n\n" +
	"Ogrenci Sorusu: {question}\n\nYanit:"

const ogretmenPromptTemplate = "Sen ogretmenlere yardim eden site rehber asistanisin. " +
	"Sadece ogretmenler icin olan site kullanim bilgilerini kullanarak yanit ver.\n\n" +
	"ONEMLI KURALLAR:\n" +
	"1. Sadece ogretmen rehber bilgilerini kullan\n" +
	"2. Ogrenci veya mudur bilgilerini asla verme\n" +
	"3. Ogretmen olmayan kullanicilara 'Bu bilgi sadece ogretmenler icindir' de\n" +
	"4. Yanitlarini sadece Turkce ver\n" +
	"5. Dostca ve rehberlik edici bir ton kullan\n" +
	"6. Adim adim aciklamalar ver\n" +
	"7. Onceki konusmalari hatirla ve tutarli ol\n\n" +
	"{memory}Ogretmen Site Rehberi:\n{context}\n\n" +
	"Ogretmen Sorusu: {question}\n\nYanit:"

const yoneticiPromptTemplate = "Sen mudurlere yardim eden site rehber asistanisin. " +
	"Sadece mudurler icin olan site kullanim bilgilerini kullanarak yanit ver.\n\n" +
	"ONEMLI KURALLAR:\n" +
	"1. Sadece mudur rehber bilgilerini kullan\n" +
	"2. Ogrenci veya ogretmen bilgilerini asla verme\n" +
	"3. Site kullanimina dair bilgileri kullan\n" +
	"4. Yanitlarini sadece Turkce ver\n" +
	"5. Dostca ve rehberlik edici bir ton kullan\n" +
	"6. Adim adim aciklamalar ver\n" +
	"7. Onceki konusmalari hatirla ve tutarli ol\n" +
	"8. Ne sorulduysa sadece ona yanit ver, ekstra bilgi verme.\n" +
	"9. Dokumanda olmayan bir sey sorulduysa sadece 'Ne demek istediginizi anlayamadim' de.\n" +
	"10. Uzun cevap verme, ozet yaz.\n\n" +
	"{memory}Mudur Site Rehberi:\n{context}\n\n" +
	"Mudur Sorusu: {question}\n\nYanit:"

// defaultPromptTemplate returns the built-in template for a profile.
// Unknown profiles get the most restrictive one.
func defaultPromptTemplate(profileKey string) string {
	switch profileKey {
	case "ogrenci":
		return ogrenciPromptTemplate
	case "ogretmen":
		return ogretmenPromptTemplate
	default:
		return yoneticiPromptTemplate
	}
}

// renderPrompt fills the {memory}, {context} and {question} placeholders.
func renderPrompt(template, memory, contextText, question string) string {
	out := strings.ReplaceAll(template, "{memory}", memory)
	out = strings.ReplaceAll(out, "{context}", contextText)
	out = strings.ReplaceAll(out, "{question}", question)
	return out
}

// buildContext joins retrieved chunks into the prompt context block.
func buildContext(chunks []domain.Chunk) string {
	var sb strings.Builder
	for _, chunk := range chunks {
		sb.WriteString(chunk.Content)
		sb.WriteString("\n\n")
	}
	return strings.TrimSpace(sb.String())
}

// toolInstructions appends tool descriptions to the prompt when the profile
// has any enabled tools.
func toolInstructions(descriptions []string) string {
	if len(descriptions) == 0 {
		return ""
	}
	return "\n\nKullanilabilir araclar:\n" +
		strings.Join(descriptions, "\n") +
		"\nBir arac gerekli ise fonksiyon cagrisi yapabilirsin."
}
