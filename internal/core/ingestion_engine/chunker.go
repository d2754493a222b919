package ingestion_engine

import (
	"bufio"
	"fmt"
	"iter"
	"strings"

	"github.com/markdave123-py/docpipe/internal/core"
)

// maxWordBytes bounds a single token the scanner will accept.
const maxWordBytes = 1 << 20

// TextChunk is one word window of a document.
type TextChunk struct {
	Index      int
	PageNumber int
	Content    string
	Words      int
}

// Chunker splits normalized text into overlapping fixed-size word windows.
type Chunker struct {
	size    int
	overlap int
}

func NewChunker(size, overlap int) (*Chunker, error) {
	if size <= 0 || overlap < 0 || size-overlap <= 0 {
		return nil, core.E(core.KindConfig, "chunker.new",
			fmt.Errorf("%w: size=%d overlap=%d", core.ErrInvalidChunkConfig, size, overlap))
	}
	return &Chunker{size: size, overlap: overlap}, nil
}

// Size returns the window length in words.
func (c *Chunker) Size() int { return c.size }

// Overlap returns the number of words shared by consecutive windows.
func (c *Chunker) Overlap() int { return c.overlap }

// Chunks returns a lazy sequence of windows over text. Each window starts
// size-overlap words after the previous one; the last window is the first
// that reaches the end of the text. Ranging over the result again restarts
// from the first word.
func (c *Chunker) Chunks(text string) iter.Seq2[TextChunk, error] {
	return func(yield func(TextChunk, error) bool) {
		sc := bufio.NewScanner(strings.NewReader(text))
		sc.Buffer(make([]byte, 0, 64*1024), maxWordBytes)
		sc.Split(bufio.ScanWords)

		window := make([]string, 0, c.size)
		index := 0

		for {
			for len(window) < c.size && sc.Scan() {
				window = append(window, sc.Text())
			}
			if err := sc.Err(); err != nil {
				yield(TextChunk{}, fmt.Errorf("scan words: %w", err))
				return
			}
			if len(window) == 0 {
				return
			}

			// One word of lookahead decides whether this window is the last.
			more := len(window) == c.size && sc.Scan()

			tc := TextChunk{
				Index:   index,
				Content: strings.Join(window, " "),
				Words:   len(window),
			}
			if !yield(tc, nil) {
				return
			}
			if !more {
				if err := sc.Err(); err != nil {
					yield(TextChunk{}, fmt.Errorf("scan words: %w", err))
				}
				return
			}
			index++

			n := copy(window, window[c.size-c.overlap:])
			clear(window[n:])
			window = append(window[:n], sc.Text())
		}
	}
}

// ExpectedChunks is the number of windows Chunks yields for a text of n words.
func (c *Chunker) ExpectedChunks(n int) int {
	if n == 0 {
		return 0
	}
	if n <= c.size {
		return 1
	}
	step := c.size - c.overlap
	return (n - c.overlap + step - 1) / step
}
