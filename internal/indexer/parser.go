package indexer

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ledongthuc/pdf"
	"golang.org/x/net/html"
)

type chunkPayload struct {
	Content  string
	Metadata map[string]string
}

func parseAndChunk(name string, data []byte, chunkSize, chunkOverlap int) ([]chunkPayload, error) {
	ext := strings.ToLower(filepath.Ext(name))
	switch ext {
	case ".pdf":
		return parsePDF(data, chunkSize, chunkOverlap)
	case ".html", ".htm":
		return parseHTML(data, chunkSize, chunkOverlap)
	default:
		return parseText(data, chunkSize, chunkOverlap)
	}
}

func parsePDF(data []byte, chunkSize, chunkOverlap int) ([]chunkPayload, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	totalPages := reader.NumPage()
	var chunks []chunkPayload
	for i := 1; i <= totalPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			// Skip problematic pages instead of failing entirely
			continue
		}
		text = normalizeText(text)
		for idx, part := range chunkText(text, chunkSize, chunkOverlap) {
			chunks = append(chunks, chunkPayload{
				Content: part,
				Metadata: map[string]string{
					"page":  strconv.Itoa(i),
					"chunk": strconv.Itoa(idx),
				},
			})
		}
	}
	if len(chunks) == 0 {
		return nil, fmt.Errorf("no text extracted from PDF")
	}
	return chunks, nil
}

func parseHTML(data []byte, chunkSize, chunkOverlap int) ([]chunkPayload, error) {
	doc, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	text := normalizeText(extractText(doc))
	parts := chunkText(text, chunkSize, chunkOverlap)
	chunks := make([]chunkPayload, 0, len(parts))
	for idx, part := range parts {
		chunks = append(chunks, chunkPayload{
			Content: part,
			Metadata: map[string]string{
				"chunk": strconv.Itoa(idx),
			},
		})
	}
	return chunks, nil
}

func parseText(data []byte, chunkSize, chunkOverlap int) ([]chunkPayload, error) {
	text := normalizeText(string(data))
	parts := chunkText(text, chunkSize, chunkOverlap)
	chunks := make([]chunkPayload, 0, len(parts))
	for idx, part := range parts {
		chunks = append(chunks, chunkPayload{
			Content: part,
			Metadata: map[string]string{
				"chunk": strconv.Itoa(idx),
			},
		})
	}
	return chunks, nil
}

func normalizeText(text string) string {
	text = strings.ReplaceAll(text, "\x00", " ")
	text = strings.ToValidUTF8(text, "")
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	return strings.Join(strings.Fields(text), " ")
}

func chunkText(text string, size, overlap int) []string {
	if size <= 0 {
		return nil
	}
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}
	step := size - overlap
	if step <= 0 {
		step = size
	}
	var chunks []string
	for start := 0; start < len(runes); start += step {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		part := strings.TrimSpace(string(runes[start:end]))
		if part != "" {
			chunks = append(chunks, part)
		}
		if end == len(runes) {
			break
		}
	}
	return chunks
}

func extractText(n *html.Node) string {
	var buf strings.Builder
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		switch node.Type {
		case html.TextNode:
			buf.WriteString(node.Data)
			buf.WriteString(" ")
		case html.ElementNode:
			if node.Data == "script" || node.Data == "style" {
				return
			}
		}
		for child := node.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
		if node.Type == html.ElementNode && (node.Data == "p" || node.Data == "br" || node.Data == "div" || node.Data == "li") {
			buf.WriteString(" ")
		}
	}
	walk(n)
	return buf.String()
}
