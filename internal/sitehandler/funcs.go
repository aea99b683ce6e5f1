package sitehandler

import (
	"html/template"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/greenleafcpa/greenleaf-web/internal/cms"
)

func (h *Handler) funcs() template.FuncMap {
	return template.FuncMap{
		"imageURL": func(img *cms.Image) string {
			return cms.ImageURL(h.opts.ImageProjectID, h.opts.ImageDataset, img.Ref())
		},
		"longDate":   func(t time.Time) string { return t.UTC().Format("January 2, 2006") },
		"isoDate":    func(t time.Time) string { return t.UTC().Format("2006-01-02") },
		"paragraphs": paragraphs,
		"join":       strings.Join,
		"stars":      stars,
		"telHref":    telHref,
	}
}

// paragraphs splits plain text on blank lines.
func paragraphs(s string) []string {
	var out []string
	for _, p := range strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n\n") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func stars(n int) string {
	n = min(max(n, 0), 5)
	return strings.Repeat("★", n) + strings.Repeat("☆", 5-n)
}

// telHref keeps digits and a leading plus.
func telHref(phone string) string {
	var b strings.Builder
	for i, c := range phone {
		if (c >= '0' && c <= '9') || (c == '+' && i == 0) {
			b.WriteRune(c)
		}
	}
	return b.String()
}

// truncate cuts s to at most n runes on a word boundary.
func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	cut := string([]rune(s)[:n])
	if i := strings.LastIndexByte(cut, ' '); i > 0 {
		cut = cut[:i]
	}
	return cut + "…"
}
