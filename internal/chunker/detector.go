package chunker

import (
	"regexp"

	"github.com/otron-io/codesearch/pkg/models"
)

// Boundary is a detected declaration that opens a new block.
type Boundary struct {
	Type models.ChunkType
	Name string
}

// BoundaryDetector decides whether a line opens a new logical block.
// Implementations may be swapped for real per-language parsers without
// touching the chunker's block-tracking control flow.
type BoundaryDetector interface {
	Detect(line string) (Boundary, bool)
}

type declRule struct {
	re   *regexp.Regexp
	typ  models.ChunkType
	name int // submatch index carrying the declaration name, 0 for none
}

// RegexDetector recognizes function, class and method declarations in
// common languages with heuristic patterns. It is intentionally
// permissive; the chunker tolerates false positives because a spurious
// block simply closes at the next brace balance.
type RegexDetector struct {
	rules []declRule
}

// NewRegexDetector builds the default multi-language detector.
func NewRegexDetector() *RegexDetector {
	return &RegexDetector{rules: []declRule{
		// Classes and class-likes.
		{regexp.MustCompile(`^\s*(?:export\s+)?(?:default\s+)?(?:abstract\s+)?class\s+(\w+)`), models.ChunkClass, 1},
		{regexp.MustCompile(`^\s*(?:public\s+|private\s+|protected\s+)?(?:static\s+|final\s+)*(?:class|interface|enum)\s+(\w+)`), models.ChunkClass, 1},
		{regexp.MustCompile(`^\s*type\s+(\w+)\s+(?:struct|interface)\b`), models.ChunkClass, 1},

		// Free functions.
		{regexp.MustCompile(`^\s*(?:export\s+)?(?:default\s+)?(?:async\s+)?function\s*\*?\s*(\w+)`), models.ChunkFunction, 1},
		{regexp.MustCompile(`^\s*func\s+(?:\([^)]*\)\s+)?(\w+)`), models.ChunkFunction, 1},
		{regexp.MustCompile(`^\s*(?:async\s+)?def\s+(\w+)`), models.ChunkFunction, 1},
		{regexp.MustCompile(`^\s*(?:pub\s+)?fn\s+(\w+)`), models.ChunkFunction, 1},
		{regexp.MustCompile(`^\s*(?:export\s+)?(?:const|let|var)\s+(\w+)\s*=\s*(?:async\s+)?(?:function\b|\([^)]*\)\s*(?::[^=]+)?=>)`), models.ChunkFunction, 1},

		// Methods inside a class body (indented, visibility-prefixed).
		{regexp.MustCompile(`^\s+(?:public|private|protected)\s+(?:static\s+)?(?:async\s+)?(\w+)\s*\([^)]*\)\s*(?::[^{]+)?\{`), models.ChunkMethod, 1},
		{regexp.MustCompile(`^\s+(?:static\s+)?(?:async\s+)?(\w+)\s*\([^)]*\)\s*\{\s*$`), models.ChunkMethod, 1},
	}}
}

// Detect reports whether line opens a block, and with what identity.
func (d *RegexDetector) Detect(line string) (Boundary, bool) {
	for _, r := range d.rules {
		m := r.re.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		name := ""
		if r.name > 0 && r.name < len(m) {
			name = m[r.name]
		}
		return Boundary{Type: r.typ, Name: name}, true
	}
	return Boundary{}, false
}
