package channel

import "strings"

// maxContentLength is the WeCom text limit, enforced on the escaped string.
const maxContentLength = 2048

const ellipsis = "..."

var htmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&#39;",
)

// processContent escapes HTML special characters and then truncates the
// escaped string to maxContentLength, ending in an ellipsis when the limit
// is exceeded. Escaping always runs first so the limit holds for the
// escaped form and no entity is split by the cut.
func processContent(s string) string {
	escaped := htmlEscaper.Replace(s)

	runes := []rune(escaped)
	if len(runes) <= maxContentLength {
		return escaped
	}
	return string(runes[:maxContentLength-len(ellipsis)]) + ellipsis
}
