// Package chunker splits extracted document text into retrieval-sized
// passages and assigns each passage a category and department label.
package chunker

import "strings"

// Config controls how documents are split into chunks.
type Config struct {
	ChunkSize    int // maximum chunk size in characters
	ChunkOverlap int // tail overlap carried into the next chunk
	MinChunkSize int // chunks shorter than this are discarded as noise
}

// DefaultConfig mirrors the ingestion defaults.
func DefaultConfig() Config {
	return Config{ChunkSize: 1000, ChunkOverlap: 200, MinChunkSize: 20}
}

// Chunk is one passage of a document's extracted text.
type Chunk struct {
	Text  string
	Index int
}

// Split cuts text into ordered chunks. Boundaries prefer section breaks
// (blank lines, headings); a section that would overflow the budget closes
// the current chunk, and the closed chunk's tail is repeated at the start of
// the next one so context survives the cut. Chunks below the minimum length
// are dropped.
func Split(text string, cfg Config) []Chunk {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 1000
	}
	if cfg.ChunkOverlap < 0 {
		cfg.ChunkOverlap = 0
	}
	if cfg.MinChunkSize <= 0 {
		cfg.MinChunkSize = 20
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	var chunks []Chunk
	var current strings.Builder

	flush := func() {
		content := strings.TrimSpace(current.String())
		current.Reset()
		if len(content) < cfg.MinChunkSize {
			return
		}
		chunks = append(chunks, Chunk{Text: content})
		if cfg.ChunkOverlap > 0 {
			current.WriteString(tailOverlap(content, cfg.ChunkOverlap))
			current.WriteString("\n\n")
		}
	}

	for _, section := range sections(text) {
		if len(section) > cfg.ChunkSize {
			// Oversized section: close the current chunk, then hard-split.
			flush()
			current.Reset()
			for _, piece := range forceSplit(section, cfg.ChunkSize, cfg.ChunkOverlap) {
				if len(strings.TrimSpace(piece)) >= cfg.MinChunkSize {
					chunks = append(chunks, Chunk{Text: strings.TrimSpace(piece)})
				}
			}
			continue
		}

		if current.Len()+len(section) > cfg.ChunkSize && current.Len() > 0 {
			flush()
		}
		current.WriteString(section)
		current.WriteString("\n\n")
	}

	if content := strings.TrimSpace(current.String()); len(content) >= cfg.MinChunkSize {
		// Suppress a trailing chunk that is pure overlap of the previous one.
		if len(chunks) == 0 || !strings.HasSuffix(chunks[len(chunks)-1].Text, content) {
			chunks = append(chunks, Chunk{Text: content})
		}
	}

	for i := range chunks {
		chunks[i].Index = i
	}
	return chunks
}

// sections splits text at blank lines, the structural hints left by
// extraction (headings and paragraphs are separated by double newlines).
func sections(text string) []string {
	raw := strings.Split(text, "\n\n")
	out := make([]string, 0, len(raw))
	for _, s := range raw {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// tailOverlap returns the last size characters of text, moved forward to the
// next word boundary so the overlap never starts mid-word.
func tailOverlap(text string, size int) string {
	if size <= 0 || size >= len(text) {
		return text
	}
	tail := text[len(text)-size:]
	if i := strings.IndexByte(tail, ' '); i > 0 {
		return tail[i+1:]
	}
	return tail
}

// forceSplit cuts text into fixed-size pieces with overlap, for sections
// that exceed the chunk budget on their own.
func forceSplit(text string, size, overlap int) []string {
	var pieces []string
	runes := []rune(text)
	step := size - overlap
	if step <= 0 {
		step = size
	}
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
	return pieces
}
