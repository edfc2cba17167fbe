package chunk

import (
	"path/filepath"
	"regexp"
	"strings"

	"github.com/go-enry/go-enry/v2"
)

// FileType is the coarse classification of a file's role in a repository.
type FileType string

const (
	FileTypeCode     FileType = "code"
	FileTypeDocs     FileType = "docs"
	FileTypeConfig   FileType = "config"
	FileTypeNotebook FileType = "notebook"
	FileTypeMarkup   FileType = "markup"
	FileTypeData     FileType = "data"
	FileTypeOther    FileType = "other"
)

// ChunkType tags the structural role of a chunk.
type ChunkType string

const (
	ChunkTypeFunction        ChunkType = "function"
	ChunkTypeClass           ChunkType = "class"
	ChunkTypeMethod          ChunkType = "method"
	ChunkTypeModule          ChunkType = "module"
	ChunkTypeMarkdownSection ChunkType = "markdown_section"
	ChunkTypeConfigBlock     ChunkType = "config_block"
	ChunkTypeCell            ChunkType = "cell"
	ChunkTypeHTMLBlock       ChunkType = "html_block"
	ChunkTypeXMLNode         ChunkType = "xml_node"
	ChunkTypeFallback        ChunkType = "fallback"
)

type engineKind int

const (
	engineCode engineKind = iota
	engineMarkdown
	engineMarkup
	engineData
	engineNotebook
	engineSummary
)

// Profile bounds chunk sizes in tokens.
type Profile struct {
	MinTokens int
	MaxTokens int
}

var (
	profileCode    = Profile{MinTokens: 256, MaxTokens: 1024}
	profileDocs    = Profile{MinTokens: 256, MaxTokens: 1024}
	profileData    = Profile{MinTokens: 128, MaxTokens: 512}
	profileGeneric = Profile{MinTokens: 256, MaxTokens: 1024}
)

// Bounds scaled down for dense content are clamped to this range.
const (
	minBoundTokens = 128
	maxBoundTokens = 2048
)

// Strategy describes how one language is chunked: which engine runs, the
// size profile, and the patterns that recognize declarations and imports.
// The first capture group of a pattern is the symbol name.
type Strategy struct {
	Language string
	FileType FileType
	Profile  Profile
	engine   engineKind

	FunctionPattern *regexp.Regexp
	ClassPattern    *regexp.Regexp
	ImportPattern   *regexp.Regexp
}

// EffectiveProfile scales the strategy bounds for dense content. Bounds
// shrink by the complexity factor once it passes 0.5 and stay inside
// [128, 2048].
func (s *Strategy) EffectiveProfile(complexity float64) Profile {
	p := s.Profile
	if complexity > 0.5 {
		p.MinTokens = clampTokens(int(float64(p.MinTokens) / complexity))
		p.MaxTokens = clampTokens(int(float64(p.MaxTokens) / complexity))
	}
	return p
}

func clampTokens(n int) int {
	if n < minBoundTokens {
		return minBoundTokens
	}
	if n > maxBoundTokens {
		return maxBoundTokens
	}
	return n
}

func codeStrategy(lang string, fn, class, imp string) *Strategy {
	s := &Strategy{Language: lang, FileType: FileTypeCode, Profile: profileCode, engine: engineCode}
	if fn != "" {
		s.FunctionPattern = regexp.MustCompile(fn)
	}
	if class != "" {
		s.ClassPattern = regexp.MustCompile(class)
	}
	if imp != "" {
		s.ImportPattern = regexp.MustCompile(imp)
	}
	return s
}

// The registry is static: extension to strategy, one engine per family.
// All language-specific behavior lives in this table.
var strategies = map[string]*Strategy{
	".py": codeStrategy("python",
		`^\s*(?:async\s+)?def\s+(\w+)`,
		`^\s*class\s+(\w+)`,
		`^\s*(?:import|from)\s+([\w.]+)`),
	".go": codeStrategy("go",
		`^func\s+(?:\([^)]+\)\s+)?(\w+)`,
		`^type\s+(\w+)\s+(?:struct|interface)\b`,
		`^\s*(?:import\s+)?"([^"]+)"`),
	".js": codeStrategy("javascript",
		`^\s*(?:export\s+)?(?:async\s+)?function\s*\*?\s*(\w+)|^\s*(?:export\s+)?const\s+(\w+)\s*=\s*(?:async\s*)?\(`,
		`^\s*(?:export\s+)?class\s+(\w+)`,
		`^\s*import\s+.*?from\s+['"]([^'"]+)['"]|^\s*(?:const|let|var)\s+.*?=\s*require\(['"]([^'"]+)['"]\)`),
	".ts": codeStrategy("typescript",
		`^\s*(?:export\s+)?(?:async\s+)?function\s*\*?\s*(\w+)|^\s*(?:export\s+)?const\s+(\w+)\s*=\s*(?:async\s*)?\(`,
		`^\s*(?:export\s+)?(?:abstract\s+)?class\s+(\w+)|^\s*(?:export\s+)?interface\s+(\w+)`,
		`^\s*import\s+.*?from\s+['"]([^'"]+)['"]`),
	".java": codeStrategy("java",
		`^\s*(?:public|private|protected|static|final|\s)*[\w<>\[\]]+\s+(\w+)\s*\([^;]*$`,
		`^\s*(?:public|private|protected|abstract|final|\s)*(?:class|interface|enum)\s+(\w+)`,
		`^\s*import\s+([\w.*]+);`),
	".rb": codeStrategy("ruby",
		`^\s*def\s+([\w?!.]+)`,
		`^\s*(?:class|module)\s+([\w:]+)`,
		`^\s*require(?:_relative)?\s+['"]([^'"]+)['"]`),
	".rs": codeStrategy("rust",
		`^\s*(?:pub\s+)?(?:async\s+)?fn\s+(\w+)`,
		`^\s*(?:pub\s+)?(?:struct|enum|trait)\s+(\w+)`,
		`^\s*use\s+([\w:]+)`),
	".c": codeStrategy("c",
		`^[\w*]+\s+\*?(\w+)\s*\([^;]*$`,
		`^\s*(?:typedef\s+)?struct\s+(\w+)`,
		`^\s*#include\s+[<"]([^>"]+)[>"]`),
	".cpp": codeStrategy("cpp",
		`^[\w:<>*&\s]+\s+\*?(\w+)\s*\([^;]*$`,
		`^\s*(?:class|struct)\s+(\w+)`,
		`^\s*#include\s+[<"]([^>"]+)[>"]`),
	".cs": codeStrategy("csharp",
		`^\s*(?:public|private|protected|internal|static|async|override|virtual|\s)*[\w<>\[\]?]+\s+(\w+)\s*\(`,
		`^\s*(?:public|private|protected|internal|abstract|sealed|\s)*(?:class|interface|struct|record)\s+(\w+)`,
		`^\s*using\s+([\w.]+);`),
	".php": codeStrategy("php",
		`^\s*(?:public|private|protected|static|\s)*function\s+(\w+)`,
		`^\s*(?:abstract\s+|final\s+)?(?:class|interface|trait)\s+(\w+)`,
		`^\s*(?:use|require|include)(?:_once)?\s+([\w\\'"/.]+)`),
	".sh": codeStrategy("shell",
		`^\s*(?:function\s+)?(\w+)\s*\(\)\s*\{?`,
		"",
		`^\s*(?:source|\.)\s+(\S+)`),
	".swift": codeStrategy("swift",
		`^\s*(?:public|private|internal|open|\s)*func\s+(\w+)`,
		`^\s*(?:public|private|internal|open|final|\s)*(?:class|struct|enum|protocol)\s+(\w+)`,
		`^\s*import\s+(\w+)`),
	".kt": codeStrategy("kotlin",
		`^\s*(?:suspend\s+)?fun\s+(?:[\w<>.]+\.)?(\w+)`,
		`^\s*(?:data\s+|sealed\s+|abstract\s+|open\s+)?(?:class|interface|object)\s+(\w+)`,
		`^\s*import\s+([\w.*]+)`),
	".scala": codeStrategy("scala",
		`^\s*def\s+(\w+)`,
		`^\s*(?:case\s+)?(?:class|object|trait)\s+(\w+)`,
		`^\s*import\s+([\w.{}, ]+)`),

	".md": {Language: "markdown", FileType: FileTypeDocs, Profile: profileDocs, engine: engineMarkdown},
	".markdown": {Language: "markdown", FileType: FileTypeDocs, Profile: profileDocs, engine: engineMarkdown},
	".rst": {Language: "restructuredtext", FileType: FileTypeDocs, Profile: profileDocs, engine: engineMarkdown},
	".txt": {Language: "plaintext", FileType: FileTypeDocs, Profile: profileDocs, engine: engineCode},

	".html": {Language: "html", FileType: FileTypeMarkup, Profile: profileDocs, engine: engineMarkup},
	".htm":  {Language: "html", FileType: FileTypeMarkup, Profile: profileDocs, engine: engineMarkup},
	".xml":  {Language: "xml", FileType: FileTypeMarkup, Profile: profileDocs, engine: engineMarkup},
	".svg":  {Language: "xml", FileType: FileTypeMarkup, Profile: profileData, engine: engineMarkup},

	".json": {Language: "json", FileType: FileTypeData, Profile: profileData, engine: engineData},
	".yaml": {Language: "yaml", FileType: FileTypeConfig, Profile: profileData, engine: engineData},
	".yml":  {Language: "yaml", FileType: FileTypeConfig, Profile: profileData, engine: engineData},
	".toml": {Language: "toml", FileType: FileTypeConfig, Profile: profileData, engine: engineData},
	".ini":  {Language: "ini", FileType: FileTypeConfig, Profile: profileData, engine: engineData},
	".env":  {Language: "dotenv", FileType: FileTypeConfig, Profile: profileData, engine: engineData},
	".csv":  {Language: "csv", FileType: FileTypeData, Profile: profileData, engine: engineSummary},
	".tsv":  {Language: "csv", FileType: FileTypeData, Profile: profileData, engine: engineSummary},

	".ipynb": {Language: "jupyter", FileType: FileTypeNotebook, Profile: profileDocs, engine: engineNotebook},
}

var genericStrategy = &Strategy{
	Language: "unknown",
	FileType: FileTypeOther,
	Profile:  profileGeneric,
	engine:   engineCode,
	FunctionPattern: regexp.MustCompile(
		`^\s*(?:func|function|def|fn)\s+(\w+)`),
}

// enryAliases maps enry's language names onto registry extensions for
// files whose extension is missing or unregistered.
var enryAliases = map[string]string{
	"Python":     ".py",
	"Go":         ".go",
	"JavaScript": ".js",
	"TypeScript": ".ts",
	"Java":       ".java",
	"Ruby":       ".rb",
	"Rust":       ".rs",
	"C":          ".c",
	"C++":        ".cpp",
	"C#":         ".cs",
	"PHP":        ".php",
	"Shell":      ".sh",
	"Swift":      ".swift",
	"Kotlin":     ".kt",
	"Scala":      ".scala",
	"Markdown":   ".md",
	"HTML":       ".html",
	"XML":        ".xml",
	"JSON":       ".json",
	"YAML":       ".yaml",
}

// StrategyForFile resolves the chunking strategy for a path. Unregistered
// extensions go through content-based detection before falling back to the
// generic strategy; binary content always gets the summary engine.
func StrategyForFile(path string, content []byte) *Strategy {
	if enry.IsBinary(content) {
		return &Strategy{Language: "binary", FileType: FileTypeOther, Profile: profileGeneric, engine: engineSummary}
	}
	ext := strings.ToLower(filepath.Ext(path))
	if s, ok := strategies[ext]; ok {
		return s
	}
	if lang := enry.GetLanguage(filepath.Base(path), content); lang != "" {
		if alias, ok := enryAliases[lang]; ok {
			return strategies[alias]
		}
	}
	return genericStrategy
}

// KnownExtensions returns the registered extensions, for walk filtering.
func KnownExtensions() []string {
	exts := make([]string, 0, len(strategies))
	for ext := range strategies {
		exts = append(exts, ext)
	}
	return exts
}
