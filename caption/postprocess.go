package caption

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// PostProcess turns the raw decoded text into a display caption: sentinel
// tokens are removed, whitespace is collapsed, the first letter is upper-cased
// and a full stop is added unless the text already ends in . ! or ?.
// Empty input stays empty. PostProcess(PostProcess(s)) == PostProcess(s).
func PostProcess(text, startToken, endToken string) string {
	for _, tok := range []string{startToken, endToken} {
		if tok == "" {
			continue
		}
		for strings.Contains(text, tok) {
			text = strings.ReplaceAll(text, tok, " ")
		}
	}
	text = strings.Join(strings.Fields(text), " ")
	if text == "" {
		return ""
	}

	r, size := utf8.DecodeRuneInString(text)
	text = string(unicode.ToUpper(r)) + text[size:]
	if !strings.HasSuffix(text, ".") && !strings.HasSuffix(text, "!") && !strings.HasSuffix(text, "?") {
		text += "."
	}
	return text
}
