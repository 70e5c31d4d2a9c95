package schema

import (
	"regexp"
)

type denyRule struct {
	pattern *regexp.Regexp
	reason  string
}

// Schema sources are data only. Anything that looks like code, process or network
// access is refused before parsing.
var denyRules = []denyRule{
	{regexp.MustCompile(`(?i)\brequire\s*\(`), "module loading"},
	{regexp.MustCompile(`(?im)^\s*import\s`), "module loading"},
	{regexp.MustCompile(`(?i)\bimport\s*\(`), "module loading"},
	{regexp.MustCompile(`(?i)\b__import__\b`), "module loading"},
	{regexp.MustCompile(`(?i)\bchild_process\b`), "process access"},
	{regexp.MustCompile(`(?i)\bsubprocess\b`), "process access"},
	{regexp.MustCompile(`(?i)\bprocess\.(env|exit|argv|binding)`), "process access"},
	{regexp.MustCompile(`(?i)\bos\.(system|exec|popen|remove|getenv)`), "process access"},
	{regexp.MustCompile(`(?i)\b(exec|execsync|spawn|eval|system)\s*\(`), "code evaluation"},
	{regexp.MustCompile(`(?i)\bnew\s+function\s*\(`), "code evaluation"},
	{regexp.MustCompile(`(?i)\bfs\.[a-z]+`), "filesystem access"},
	{regexp.MustCompile(`(?i)\bopen\s*\(`), "filesystem access"},
	{regexp.MustCompile(`(?i)\bfile://`), "filesystem access"},
	{regexp.MustCompile(`(?i)\bfetch\s*\(`), "network access"},
	{regexp.MustCompile(`(?i)\bhttps?://`), "network access"},
	{regexp.MustCompile(`(?i)\bsocket\b`), "network access"},
	{regexp.MustCompile(`"?\$ref"?\s*:`), "external references"},
}

// checkDenylist returns one message per forbidden construct found in the source.
func checkDenylist(source string) []string {
	var problems []string
	seen := make(map[string]struct{})
	for _, rule := range denyRules {
		match := rule.pattern.FindString(source)
		if match == "" {
			continue
		}
		msg := "forbidden construct (" + rule.reason + "): " + trimMatch(match)
		if _, ok := seen[msg]; ok {
			continue
		}
		seen[msg] = struct{}{}
		problems = append(problems, msg)
	}
	return problems
}

func trimMatch(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if r == '\n' || r == '\r' || r == '\t' {
			continue
		}
		out = append(out, r)
	}
	return string(out)
}
