package ingest

import "strings"

// Split breaks markdown into chunks of at most size runes. Paragraphs are
// packed greedily; a paragraph longer than size is cut into windows that
// share overlap runes with their predecessor.
func Split(text string, size, overlap int) []string {
	if size <= 0 {
		return nil
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}

	var pieces []string
	for _, paragraph := range strings.Split(text, "\n\n") {
		paragraph = strings.TrimSpace(paragraph)
		if paragraph == "" {
			continue
		}
		runes := []rune(paragraph)
		if len(runes) <= size {
			pieces = append(pieces, paragraph)
			continue
		}
		step := size - overlap
		for start := 0; start < len(runes); start += step {
			end := start + size
			if end > len(runes) {
				end = len(runes)
			}
			pieces = append(pieces, string(runes[start:end]))
			if end == len(runes) {
				break
			}
		}
	}

	var chunks []string
	var current strings.Builder
	currentLen := 0
	for _, piece := range pieces {
		pieceLen := len([]rune(piece))
		if currentLen > 0 && currentLen+2+pieceLen > size {
			chunks = append(chunks, current.String())
			current.Reset()
			currentLen = 0
		}
		if currentLen > 0 {
			current.WriteString("\n\n")
			currentLen += 2
		}
		current.WriteString(piece)
		currentLen += pieceLen
	}
	if currentLen > 0 {
		chunks = append(chunks, current.String())
	}
	return chunks
}
