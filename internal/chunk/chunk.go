// Package chunk splits markdown-ish documents into bounded, boundary-aware
// windows that are embedded and retrieved as a unit.
package chunk

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/hupe1980/semindex/internal/errs"
	"github.com/hupe1980/semindex/internal/hash"
)

// Chunk is one window of a document. Offset and Length are byte positions in
// the source text; Content is exactly text[Offset:Offset+Length].
type Chunk struct {
	ID      string
	Content string
	Offset  int
	Length  int
	Heading string
	Tokens  int
}

// Options controls the window sizes and which markdown structures are honored.
type Options struct {
	MinTokens         int
	MaxTokens         int
	OverlapTokens     int
	RespectHeadings   bool
	RespectCodeFences bool
	RespectLists      bool
}

// DefaultOptions returns 200/300/50 windows honoring every structure.
func DefaultOptions() Options {
	return Options{
		MinTokens:         200,
		MaxTokens:         300,
		OverlapTokens:     50,
		RespectHeadings:   true,
		RespectCodeFences: true,
		RespectLists:      true,
	}
}

// Validate checks the token bounds.
func (o Options) Validate() error {
	switch {
	case o.MaxTokens <= 0:
		return fmt.Errorf("%w: max tokens must be positive, got %d", errs.ErrInvalidArgument, o.MaxTokens)
	case o.MinTokens < 0 || o.MinTokens > o.MaxTokens:
		return fmt.Errorf("%w: min tokens %d outside [0, %d]", errs.ErrInvalidArgument, o.MinTokens, o.MaxTokens)
	case o.OverlapTokens < 0 || o.OverlapTokens >= o.MaxTokens:
		return fmt.Errorf("%w: overlap tokens %d outside [0, %d)", errs.ErrInvalidArgument, o.OverlapTokens, o.MaxTokens)
	}
	return nil
}

var (
	headingRe = regexp.MustCompile(`^#+\s+(.+)$`)
	listRe    = regexp.MustCompile(`^\s*[-*+\d]+[.)\s]`)
	dividerRe = regexp.MustCompile(`^(?:-{3,}|={3,}|\*{3,})$`)
)

// Chunker splits text. It is stateless and safe for concurrent use.
type Chunker struct {
	opts Options
}

// New returns a Chunker.
func New(opts Options) (*Chunker, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &Chunker{opts: opts}, nil
}

// Options returns the configuration.
func (c *Chunker) Options() Options { return c.opts }

type line struct {
	text   string
	off    int
	tokens int
}

// window is the run of lines [start, end) being accumulated.
type window struct {
	start, end int
	tokens     int
}

func (w window) empty() bool { return w.end <= w.start }

// Chunk splits text into windows.
func (c *Chunker) Chunk(text string) []Chunk {
	lines := splitLines(text)
	out := []Chunk{}

	var (
		cur     window
		heading string
		inFence bool
	)

	flush := func(w window, h string) {
		if w.empty() {
			return
		}
		first, last := lines[w.start], lines[w.end-1]
		content := text[first.off : last.off+len(last.text)]
		if strings.TrimSpace(content) == "" {
			return
		}
		out = append(out, Chunk{
			ID:      hash.ChunkID(content),
			Content: content,
			Offset:  first.off,
			Length:  len(content),
			Heading: h,
			Tokens:  EstimateTokens(content),
		})
	}

	for i, ln := range lines {
		wasInFence := inFence
		fence := c.opts.RespectCodeFences && isFence(ln.text)
		if fence {
			inFence = !inFence
		}

		if !wasInFence && !fence {
			if m := headingRe.FindStringSubmatch(ln.text); m != nil {
				if c.opts.RespectHeadings && !cur.empty() {
					flush(cur, heading)
					cur = window{start: i, end: i}
				}
				heading = strings.TrimSpace(m[1])
			}
		}

		if !wasInFence && !cur.empty() && cur.tokens+ln.tokens > c.opts.MaxTokens {
			flush(cur, heading)
			cur = c.overlap(lines, cur)
		}

		if cur.empty() {
			cur = window{start: i, end: i}
		}
		cur.end = i + 1
		cur.tokens += ln.tokens

		if inFence {
			continue
		}
		next := ""
		if i+1 < len(lines) {
			next = lines[i+1].text
		}
		forced, natural := c.boundary(ln.text, next)
		if forced || (natural && cur.tokens >= c.opts.MinTokens) {
			flush(cur, heading)
			cur = window{start: i + 1, end: i + 1}
		}
	}
	flush(cur, heading)

	return out
}

// overlap returns the trailing lines of w that fit in OverlapTokens as the
// seed of the next window. It never reuses every line of w.
func (c *Chunker) overlap(lines []line, w window) window {
	seed := window{start: w.end, end: w.end}
	for i := w.end - 1; i > w.start; i-- {
		if seed.tokens+lines[i].tokens > c.opts.OverlapTokens {
			break
		}
		seed.start = i
		seed.tokens += lines[i].tokens
	}
	return seed
}

// boundary classifies the break opportunity after cur.
func (c *Chunker) boundary(cur, next string) (forced, natural bool) {
	trimmed := strings.TrimSpace(cur)
	if dividerRe.MatchString(trimmed) {
		return true, false
	}
	if trimmed == "" && strings.TrimSpace(next) != "" {
		return false, true
	}
	if c.opts.RespectLists && listRe.MatchString(cur) && !listRe.MatchString(next) && strings.TrimSpace(next) != "" {
		return false, true
	}
	return false, false
}

func isFence(s string) bool {
	s = strings.TrimLeft(s, " \t")
	return strings.HasPrefix(s, "```") || strings.HasPrefix(s, "~~~")
}

func splitLines(text string) []line {
	parts := strings.Split(text, "\n")
	lines := make([]line, len(parts))
	off := 0
	for i, p := range parts {
		lines[i] = line{text: p, off: off, tokens: EstimateTokens(p)}
		off += len(p) + 1
	}
	return lines
}

// EstimateTokens approximates a token count as the larger of 0.75 tokens per
// word and one token per four characters.
func EstimateTokens(s string) int {
	words := len(strings.Fields(s))
	chars := utf8.RuneCountInString(s)
	return max(words*3/4, chars/4)
}
