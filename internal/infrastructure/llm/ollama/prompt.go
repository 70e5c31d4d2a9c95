package ollama

import (
	"strings"
	"unicode/utf8"

	"github.com/kirillkom/docflow/internal/core/ports"
)

const maxTextSnippet = 12000

func buildExtractionPrompt(req ports.ExtractionRequest) string {
	var b strings.Builder
	b.WriteString(`You extract structured data from a scanned document.
Return strict JSON of the form {"items": [...]} where every item matches the schema below.
Return {"items": []} when the document holds nothing matching the schema.
Never invent values; omit fields you cannot read. No markdown, no extra keys.
`)
	if instructions := strings.TrimSpace(req.Instructions); instructions != "" {
		b.WriteString("\nInstructions:\n")
		b.WriteString(instructions)
		b.WriteString("\n")
	}

	b.WriteString("\nItem schema:\n")
	b.Write(req.Schema)
	b.WriteString("\n")

	if len(req.ExistingLabels) > 0 {
		b.WriteString("\nLabels already applied to the document (do not suggest these as tags): ")
		b.WriteString(strings.Join(req.ExistingLabels, ", "))
		b.WriteString("\n")
	}

	if text := strings.TrimSpace(req.Text); text != "" {
		text = truncateUTF8(text, maxTextSnippet)
		b.WriteString("\nDocument text:\n")
		b.WriteString(text)
		b.WriteString("\n")
	} else {
		b.WriteString("\nThe document page is attached as an image.\n")
	}
	return b.String()
}

// truncateUTF8 cuts s to at most limit bytes without splitting a rune.
func truncateUTF8(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
