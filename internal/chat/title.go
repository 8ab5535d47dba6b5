package chat

const titleEllipsis = "..."

// deriveTitle returns the first n characters of content, with an ellipsis
// appended when content was longer than that.
func deriveTitle(content string, n int) string {
	runes := []rune(content)
	if len(runes) <= n {
		return content
	}
	return string(runes[:n]) + titleEllipsis
}
