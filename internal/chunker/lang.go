package chunker

import (
	"path/filepath"
	"strings"
)

// GuessLanguage maps a file extension to a language label for chunk
// metadata.
func GuessLanguage(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".sh", ".bash":
		return "shell"
	case ".py":
		return "python"
	case ".go":
		return "go"
	case ".md":
		return "markdown"
	case ".tf":
		return "terraform"
	case ".js", ".jsx", ".mjs", ".cjs":
		return "javascript"
	case ".ts", ".tsx":
		return "typescript"
	case ".java":
		return "java"
	case ".rb":
		return "ruby"
	case ".rs":
		return "rust"
	case ".c", ".h":
		return "c"
	case ".cpp", ".cc", ".hpp":
		return "cpp"
	case ".cs":
		return "csharp"
	case ".php":
		return "php"
	case ".swift":
		return "swift"
	case ".kt", ".kts":
		return "kotlin"
	case ".scala":
		return "scala"
	case ".yaml", ".yml":
		return "yaml"
	case ".json":
		return "json"
	case ".html", ".htm":
		return "html"
	case ".css", ".scss", ".less":
		return "css"
	default:
		return strings.TrimPrefix(ext, ".")
	}
}
