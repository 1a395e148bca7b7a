// Package chunker splits extracted document text into overlapping windows.
package chunker

import (
	"fmt"
	"strings"

	"pdf-rag/internal/models"
)

// separators are tried in order when looking for a clean break point.
var separators = [][]rune{
	[]rune("\n\n"),
	[]rune("\n"),
	[]rune(". "),
	[]rune("! "),
	[]rune("? "),
	[]rune(" "),
}

// Splitter produces windows of at most Size characters where consecutive
// windows share exactly Overlap characters.
type Splitter struct {
	Size    int
	Overlap int
}

func New(size, overlap int) (*Splitter, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: chunk size must be positive, got %d", models.ErrInvalidParameters, size)
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("%w: chunk overlap must be in [0, %d), got %d", models.ErrInvalidParameters, size, overlap)
	}
	return &Splitter{Size: size, Overlap: overlap}, nil
}

// Split cuts text into windows. Windows end on the highest ranked separator
// found in their tail, otherwise at Size characters.
func (s *Splitter) Split(text string) []string {
	runes := []rune(text)
	n := len(runes)
	if n == 0 {
		return nil
	}

	var windows []string
	start := 0
	for {
		end := min(start+s.Size, n)
		if end < n {
			end = s.breakPoint(runes, start, end)
		}
		windows = append(windows, string(runes[start:end]))
		if end == n {
			return windows
		}
		start = end - s.Overlap
	}
}

// breakPoint returns the end of the window starting at start, never shorter
// than the minimum that keeps the window larger than the overlap.
func (s *Splitter) breakPoint(runes []rune, start, end int) int {
	minEnd := start + max(s.Overlap+1, s.Size/2)
	for _, sep := range separators {
		for i := end - len(sep); i+len(sep) >= minEnd && i >= start; i-- {
			if hasSeparator(runes, i, sep) {
				return i + len(sep)
			}
		}
	}
	return end
}

func hasSeparator(runes []rune, i int, sep []rune) bool {
	if i+len(sep) > len(runes) {
		return false
	}
	for j, r := range sep {
		if runes[i+j] != r {
			return false
		}
	}
	return true
}

// SplitDocuments splits each document independently and numbers the chunks
// of every source in production order. Whitespace-only windows are dropped
// but keep their sequence number, so the gap stays visible to MergeChunks.
func (s *Splitter) SplitDocuments(docs []models.Document) []models.Chunk {
	var chunks []models.Chunk
	seq := make(map[string]int)
	for _, doc := range docs {
		for _, w := range s.Split(doc.Text) {
			if strings.TrimSpace(w) == "" {
				seq[doc.SourceID]++
				continue
			}
			chunks = append(chunks, models.Chunk{
				SourceID: doc.SourceID,
				Page:     doc.Page,
				Seq:      seq[doc.SourceID],
				Text:     w,
			})
			seq[doc.SourceID]++
		}
	}
	return chunks
}

// Merge rebuilds the original text from consecutive windows produced with
// the given overlap.
func Merge(windows []string, overlap int) string {
	var b strings.Builder
	for i, w := range windows {
		if i == 0 {
			b.WriteString(w)
			continue
		}
		r := []rune(w)
		if overlap < len(r) {
			b.WriteString(string(r[overlap:]))
		}
	}
	return b.String()
}

// MergeChunks rebuilds the text of one source from its chunks ordered by
// Seq. Pages are joined with sep. A gap in Seq marks a dropped
// whitespace-only window: merging restarts after it, so only part of that
// whitespace run is lost.
func MergeChunks(chunks []models.Chunk, overlap int, sep string) string {
	var pages []string
	var page strings.Builder
	var windows []string
	flush := func() {
		page.WriteString(Merge(windows, overlap))
		windows = nil
	}
	for i, c := range chunks {
		if i > 0 {
			prev := chunks[i-1]
			switch {
			case c.Page != prev.Page:
				flush()
				pages = append(pages, page.String())
				page.Reset()
			case c.Seq != prev.Seq+1:
				flush()
			}
		}
		windows = append(windows, c.Text)
	}
	flush()
	pages = append(pages, page.String())
	return strings.Join(pages, sep)
}
