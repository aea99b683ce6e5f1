// Package pathutil holds the lexical checks applied to request paths before
// they reach an fs.FS or a content lookup.
package pathutil

import (
	"path"
	"strings"
)

// maxSlugLen matches the CMS slug field limit.
const maxSlugLen = 96

// HasDotSegments reports whether any segment of p is "." or "..".
func HasDotSegments(p string) bool {
	for _, seg := range strings.Split(p, "/") {
		if seg == "." || seg == ".." {
			return true
		}
	}
	return false
}

// CleanAsset turns the part of a URL after /static/ into an fs.FS name.
// It refuses NUL bytes, backslashes, dot segments, hidden segments and
// directory-looking paths. Repeated slashes collapse.
func CleanAsset(rest string) (string, bool) {
	if rest == "" || strings.HasSuffix(rest, "/") {
		return "", false
	}
	if strings.ContainsAny(rest, "\x00\\") || strings.Contains(rest, "..") || HasDotSegments(rest) {
		return "", false
	}
	name := strings.TrimPrefix(path.Clean("/"+rest), "/")
	for _, seg := range strings.Split(name, "/") {
		if seg == "" || seg[0] == '.' {
			return "", false
		}
	}
	return name, true
}

// IsSlug reports whether s looks like a CMS slug: lowercase ASCII letters,
// digits and single inner hyphens.
func IsSlug(s string) bool {
	if s == "" || len(s) > maxSlugLen || s[0] == '-' || s[len(s)-1] == '-' {
		return false
	}
	prevHyphen := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9':
			prevHyphen = false
		case c == '-':
			if prevHyphen {
				return false
			}
			prevHyphen = true
		default:
			return false
		}
	}
	return true
}
