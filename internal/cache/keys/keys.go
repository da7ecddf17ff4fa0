// Package keys builds the cache keys of per-cell entity lists.
package keys

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"

	"github.com/mohammed-shakir/poi-viewport-cache/internal/core/model"
)

const version = "v1"

var punctSpace = regexp.MustCompile(`\s*([=<>!\.,\(\)\[\]~"])\s*`)

// Key identifies the entities of one kind in one cell. selector is the
// upstream query fragment the list was produced with, so a changed selector
// never serves stale lists.
func Key(kind model.OverlayKind, scheme string, cell model.CellID, selector string) string {
	selText := normalizeSelector(selector)
	selSafe := sanitizeForKey(selText)

	const maxSelectorTextLen = 96
	if len(selSafe) > maxSelectorTextLen {
		selSafe = selSafe[:maxSelectorTextLen]
	}

	sum := xxhash.Sum64String(selText)

	return fmt.Sprintf("%s:%s:sel=%s:f=%016x",
		Prefix(kind, scheme), sanitizeForKey(string(cell)), selSafe, sum)
}

// Prefix is shared by every key of kind under scheme.
func Prefix(kind model.OverlayKind, scheme string) string {
	return fmt.Sprintf("poi:%s:%s:%s", version, sanitizeForKey(string(kind)), sanitizeForKey(strings.TrimSpace(scheme)))
}

func normalizeSelector(s string) string {
	if s == "" {
		return ""
	}
	s = collapseASCIIWhitespace(strings.TrimSpace(s))
	return punctSpace.ReplaceAllString(s, "$1")
}

func sanitizeForKey(s string) string {
	if s == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(s))

	var prev rune
	for _, r := range s {
		var out rune
		switch {
		case r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\v' || r == '\f':
			out = '_'
		case isAlphaNum(r) || r == '_' || r == '-' || r == '=':
			out = r
		default:
			// anything else, non-ASCII included
			out = '-'
		}
		if (out == '_' || out == '-') && out == prev {
			continue
		}
		b.WriteRune(out)
		prev = out
	}
	return b.String()
}

// converts any run of ASCII whitespace to a single space.
func collapseASCIIWhitespace(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	wasWS := false
	for _, r := range s {
		if r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\v' || r == '\f' {
			if !wasWS {
				b.WriteByte(' ')
				wasWS = true
			}
			continue
		}
		b.WriteRune(r)
		wasWS = false
	}
	return strings.TrimSpace(b.String())
}

func isAlphaNum(r rune) bool {
	return (r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z') ||
		unicode.IsDigit(r)
}
