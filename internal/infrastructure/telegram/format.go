package telegram

import "strings"

// telegramMessageLimit is Telegram's hard per-message character cap.
const telegramMessageLimit = 4096

// chunkMessage splits text at paragraph/line/sentence boundaries so no
// chunk exceeds Telegram's limit. Grounded on the teacher's
// message_chunker.go (ChunkMessage/findSplitPoint), trimmed to the
// boundary rules SafeClaw's plain-text replies actually need.
func chunkMessage(text string) []string {
	if len(text) <= telegramMessageLimit {
		return []string{text}
	}

	var chunks []string
	remaining := text
	for len(remaining) > 0 {
		if len(remaining) <= telegramMessageLimit {
			chunks = append(chunks, remaining)
			break
		}
		split := findSplitPoint(remaining, telegramMessageLimit)
		if split <= 0 {
			split = telegramMessageLimit
		}
		chunks = append(chunks, remaining[:split])
		remaining = strings.TrimLeft(remaining[split:], "\n ")
	}
	return chunks
}

func findSplitPoint(text string, maxLen int) int {
	half := maxLen / 2
	if idx := strings.LastIndex(text[:maxLen], "\n\n"); idx >= half {
		return idx
	}
	if idx := strings.LastIndex(text[:maxLen], "\n"); idx >= half {
		return idx
	}
	if idx := strings.LastIndex(text[:maxLen], ". "); idx >= maxLen/3 {
		return idx + 1
	}
	if idx := strings.LastIndex(text[:maxLen], " "); idx >= maxLen/3 {
		return idx
	}
	return maxLen
}
