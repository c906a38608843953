package chunker

import (
	"fmt"
	"strings"

	"github.com/otron-io/codesearch/pkg/models"
)

// Options controls the chunker's size limits.
type Options struct {
	// MaxLines is the largest chunk the chunker will emit before
	// splitting (default 300).
	MaxLines int
	// LargeFileThreshold is the line count above which heuristic
	// parsing is skipped entirely in favor of fixed windows
	// (default 3000).
	LargeFileThreshold int
	// SplitEdgeSkip is how many lines at each end of an oversized
	// block are excluded when looking for natural split points
	// (default 50).
	SplitEdgeSkip int
}

const (
	defaultMaxLines           = 300
	defaultLargeFileThreshold = 3000
	defaultSplitEdgeSkip      = 50
)

func (o *Options) applyDefaults() {
	if o.MaxLines <= 0 {
		o.MaxLines = defaultMaxLines
	}
	if o.LargeFileThreshold <= 0 {
		o.LargeFileThreshold = defaultLargeFileThreshold
	}
	if o.SplitEdgeSkip <= 0 {
		o.SplitEdgeSkip = defaultSplitEdgeSkip
	}
}

// Chunker splits file content into semantically bounded chunks using a
// pluggable boundary detector and brace tracking.
type Chunker struct {
	detector BoundaryDetector
	opts     Options
}

// New creates a Chunker. A nil detector falls back to the built-in
// regex detector.
func New(detector BoundaryDetector, opts Options) *Chunker {
	if detector == nil {
		detector = NewRegexDetector()
	}
	opts.applyDefaults()
	return &Chunker{detector: detector, opts: opts}
}

// Chunk splits content into logical units. It returns at least one
// chunk for non-empty content and nil for empty content.
func (c *Chunker) Chunk(repository, path, content string) []models.Chunk {
	if content == "" {
		return nil
	}
	lines := strings.Split(content, "\n")
	lang := GuessLanguage(path)

	if len(lines) > c.opts.LargeFileThreshold {
		return c.window(repository, path, lang, lines, 1)
	}

	var chunks []models.Chunk
	var buf []string
	var blockType models.ChunkType
	var blockName string
	blockStart := 0
	open := false
	depth := 0
	wentPositive := false

	for i, line := range lines {
		ln := i + 1
		if !open {
			if b, ok := c.detector.Detect(line); ok {
				open = true
				blockType = b.Type
				blockName = b.Name
				blockStart = ln
				depth = 0
				wentPositive = false
				buf = buf[:0]
			}
		}
		if !open {
			continue
		}
		buf = append(buf, line)
		depth += strings.Count(line, "{") - strings.Count(line, "}")
		if depth > 0 {
			wentPositive = true
		}
		if wentPositive && depth <= 0 {
			chunks = append(chunks, makeChunk(repository, path, lang, blockType, blockName, blockStart, buf))
			open = false
			continue
		}
		// Don't let an unclosed block grow unbounded.
		if len(buf) > c.opts.MaxLines {
			chunks = append(chunks, c.splitBlock(repository, path, lang, blockType, blockName, blockStart, buf)...)
			open = false
		}
	}

	if open && len(buf) > 0 {
		// Unterminated trailing block.
		if len(buf) > c.opts.MaxLines {
			chunks = append(chunks, c.splitBlock(repository, path, lang, blockType, blockName, blockStart, buf)...)
		} else {
			chunks = append(chunks, makeChunk(repository, path, lang, blockType, blockName, blockStart, buf))
		}
	}

	if len(chunks) == 0 {
		// No detectable declarations: the whole file is one chunk,
		// windowed if it is itself too large.
		if len(lines) > c.opts.MaxLines {
			return c.window(repository, path, lang, lines, 1)
		}
		return []models.Chunk{makeChunk(repository, path, lang, models.ChunkFile, "", 1, lines)}
	}
	return chunks
}

// window cuts lines into consecutive fixed-size file chunks named
// "Part N", starting at the given 1-based line number.
func (c *Chunker) window(repository, path, lang string, lines []string, startLine int) []models.Chunk {
	var out []models.Chunk
	for i, part := 0, 1; i < len(lines); i, part = i+c.opts.MaxLines, part+1 {
		end := i + c.opts.MaxLines
		if end > len(lines) {
			end = len(lines)
		}
		out = append(out, makeChunk(repository, path, lang, models.ChunkFile,
			fmt.Sprintf("Part %d", part), startLine+i, lines[i:end]))
	}
	return out
}

// splitBlock cuts one oversized block into pieces, preferring natural
// boundaries (blank lines, comment starts) away from the block's
// edges. Blocks with no usable boundaries, or more than 3x the max
// size, fall back to fixed windows. Pieces keep the block's type and a
// disambiguated name.
func (c *Chunker) splitBlock(repository, path, lang string, typ models.ChunkType, name string, startLine int, lines []string) []models.Chunk {
	max := c.opts.MaxLines
	if len(lines) <= max {
		return []models.Chunk{makeChunk(repository, path, lang, typ, name, startLine, lines)}
	}

	var cuts []int
	if len(lines) <= 3*max {
		cuts = naturalBoundaries(lines, c.opts.SplitEdgeSkip)
	}

	var pieces [][2]int // [start, end) offsets into lines
	if len(cuts) == 0 {
		for i := 0; i < len(lines); i += max {
			end := i + max
			if end > len(lines) {
				end = len(lines)
			}
			pieces = append(pieces, [2]int{i, end})
		}
	} else {
		start := 0
		for start < len(lines) {
			end := start + max
			if end >= len(lines) {
				pieces = append(pieces, [2]int{start, len(lines)})
				break
			}
			// Cut at the last natural boundary inside the window.
			cut := -1
			for _, b := range cuts {
				if b > start && b <= end {
					cut = b
				}
			}
			if cut == -1 {
				cut = end
			}
			pieces = append(pieces, [2]int{start, cut})
			start = cut
		}
	}

	out := make([]models.Chunk, 0, len(pieces))
	for i, p := range pieces {
		out = append(out, makeChunk(repository, path, lang, typ,
			partName(name, i+1), startLine+p[0], lines[p[0]:p[1]]))
	}
	return out
}

// naturalBoundaries collects line offsets where a split would land on a
// blank line or a comment start, skipping edgeSkip lines at each end so
// splits never produce degenerate tiny chunks.
func naturalBoundaries(lines []string, edgeSkip int) []int {
	if len(lines) <= 2*edgeSkip {
		return nil
	}
	var cuts []int
	for i := edgeSkip; i < len(lines)-edgeSkip; i++ {
		t := strings.TrimSpace(lines[i])
		if t == "" || isCommentStart(t) {
			cuts = append(cuts, i)
		}
	}
	return cuts
}

func isCommentStart(trimmed string) bool {
	for _, p := range []string{"//", "#", "/*", "*", "--"} {
		if strings.HasPrefix(trimmed, p) {
			return true
		}
	}
	return false
}

func partName(name string, n int) string {
	if name == "" {
		return fmt.Sprintf("Part %d", n)
	}
	return fmt.Sprintf("%s (part %d)", name, n)
}

func makeChunk(repository, path, lang string, typ models.ChunkType, name string, startLine int, lines []string) models.Chunk {
	end := startLine + len(lines) - 1
	return models.Chunk{
		Repository: repository,
		Path:       path,
		Content:    strings.Join(lines, "\n"),
		Metadata: models.ChunkMetadata{
			Language:  lang,
			Type:      typ,
			Name:      name,
			StartLine: startLine,
			EndLine:   end,
			LineCount: end - startLine + 1,
		},
	}
}

// SplitByCharBudget re-splits a chunk whose content exceeds maxChars
// into numbered parts by accumulating whole lines, preserving line
// offsets. A single line longer than the budget becomes its own part.
// Used before embedding to respect provider token limits.
func SplitByCharBudget(c models.Chunk, maxChars int) []models.Chunk {
	if maxChars <= 0 || len(c.Content) <= maxChars {
		return []models.Chunk{c}
	}
	lines := strings.Split(c.Content, "\n")

	var out []models.Chunk
	var buf []string
	size := 0
	start := 0
	part := 1
	flush := func(endExclusive int) {
		if len(buf) == 0 {
			return
		}
		nc := makeChunk(c.Repository, c.Path, c.Metadata.Language, c.Metadata.Type,
			partName(c.Metadata.Name, part), c.Metadata.StartLine+start, buf)
		out = append(out, nc)
		part++
		start = endExclusive
		buf = nil
		size = 0
	}
	for i, line := range lines {
		if size > 0 && size+len(line)+1 > maxChars {
			flush(i)
		}
		buf = append(buf, line)
		size += len(line) + 1
	}
	flush(len(lines))
	return out
}
