package usecase

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var placeholderPattern = regexp.MustCompile(`\{([^{}\s]+)\}`)

const (
	contentHeader    = "== Extracted data =="
	contentSeparator = "\n\n----------------\n\n"
)

// RenderTitle substitutes {field} placeholders with extracted values. Placeholders
// without a value are left as written.
func RenderTitle(template string, item map[string]any) string {
	out := placeholderPattern.ReplaceAllStringFunc(template, func(match string) string {
		key := match[1 : len(match)-1]
		v, ok := item[key]
		if !ok || v == nil {
			return match
		}
		s := formatValue(v)
		if s == "" {
			return match
		}
		return s
	})
	return strings.TrimSpace(out)
}

// formatValue renders scalars plainly (42.5, not 42.500000) and everything else as JSON.
func formatValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	case json.Number:
		return t.String()
	default:
		raw, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(raw)
	}
}

// stringList reads a label-like field: a single string or a list of strings.
func stringList(v any) []string {
	switch t := v.(type) {
	case string:
		if s := strings.TrimSpace(t); s != "" {
			return []string{s}
		}
	case []string:
		out := make([]string, 0, len(t))
		for _, s := range t {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
		return out
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := item.(string); ok {
				if s = strings.TrimSpace(s); s != "" {
					out = append(out, s)
				}
			}
		}
		return out
	}
	return nil
}

// RenderContent prepends the extracted data above the original content. A block
// written by an earlier run is replaced, so applying the same data twice is stable.
func RenderContent(existing string, items []map[string]any) string {
	original := existing
	if strings.HasPrefix(existing, contentHeader) {
		if idx := strings.Index(existing, contentSeparator); idx >= 0 {
			original = existing[idx+len(contentSeparator):]
		} else {
			original = ""
		}
	}

	var b strings.Builder
	b.WriteString(contentHeader)
	for i, item := range items {
		if len(items) > 1 {
			fmt.Fprintf(&b, "\n\n# %d", i+1)
		}
		for _, key := range sortedKeys(item) {
			fmt.Fprintf(&b, "\n%s: %s", key, formatValue(item[key]))
		}
	}
	if strings.TrimSpace(original) == "" {
		return b.String()
	}
	b.WriteString(contentSeparator)
	b.WriteString(original)
	return b.String()
}

// NoteText is the audit note appended after a successful update.
func NoteText(workflowName string, items []map[string]any, payload []byte) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Extracted by workflow %q", workflowName)
	if len(items) > 0 {
		b.WriteString(":")
		for _, key := range sortedKeys(items[0]) {
			v := formatValue(items[0][key])
			if v == "" {
				continue
			}
			fmt.Fprintf(&b, "\n- %s: %s", key, v)
		}
		if len(items) > 1 {
			fmt.Fprintf(&b, "\n(+%d more item(s))", len(items)-1)
		}
	}
	b.WriteString("\n\n")
	b.Write(payload)
	return b.String()
}

func sortedKeys(item map[string]any) []string {
	keys := make([]string, 0, len(item))
	for k := range item {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
