package textutil

import (
	"strings"
	"unicode"
)

// fileNameReplacer maps characters that break storage keys or URLs.
var fileNameReplacer = strings.NewReplacer(
	"/", "-",
	"\\", "-",
	":", "-",
	"*", "-",
	"?", "",
	"#", "",
	"%", "",
	"\"", "",
	"<", "",
	">", "",
	"|", "",
)

// SanitizeFileName makes name safe for an upload request. Path separators and
// colons become dashes, URL-significant characters are dropped, whitespace
// runs collapse to a single dash, and leading dots are removed so the result
// is never hidden or relative. Empty input stays empty.
func SanitizeFileName(name string) string {
	name = fileNameReplacer.Replace(strings.TrimSpace(name))

	var b strings.Builder
	pendingDash := false
	for _, r := range name {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			pendingDash = b.Len() > 0
			continue
		}
		if pendingDash {
			b.WriteByte('-')
			pendingDash = false
		}
		b.WriteRune(r)
	}
	return strings.TrimLeft(b.String(), ".")
}
