package ingest

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	gitignore "github.com/sabhiram/go-gitignore"
	"gopkg.in/yaml.v3"
)

// repoConfigName is the optional per-repository ingestion config.
const repoConfigName = ".reposage.yml"

// repoConfig is what a repository can tune about its own ingestion.
type repoConfig struct {
	// Ignore lists extra gitignore-style patterns.
	Ignore []string `yaml:"ignore"`
}

// loadRepoConfig reads root's .reposage.yml. A missing file yields the
// zero config.
func loadRepoConfig(root string) (repoConfig, error) {
	var cfg repoConfig
	content, err := os.ReadFile(filepath.Join(root, repoConfigName))
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("failed to read %s: %w", repoConfigName, err)
	}
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse %s: %w", repoConfigName, err)
	}
	return cfg, nil
}

// maxFileSize caps what the ingester will read. Anything larger is
// skipped rather than summarized, since giant files are almost always
// generated artifacts.
const maxFileSize = 1 << 20

// defaultIgnorePatterns are applied on top of the repository's own
// .gitignore and .reposageignore.
var defaultIgnorePatterns = []string{
	".git",
	".gitattributes",
	".gitmodules",

	"node_modules",
	"vendor",
	"dist",
	"build",
	"target",
	"out",
	"bin",
	"obj",
	".next",
	".nuxt",

	".vscode",
	".idea",
	".DS_Store",
	"*.swp",
	"*~",

	"*.log",
	"logs",
	"*.tmp",
	"tmp",

	".env",
	".env.local",
	"*.pem",
	"*.key",
	"*.crt",
	"*.p12",

	"*.exe",
	"*.dll",
	"*.so",
	"*.dylib",
	"*.a",
	"*.o",
	"*.jar",
	"*.zip",
	"*.tar",
	"*.gz",
	"*.7z",

	"*.png",
	"*.jpg",
	"*.jpeg",
	"*.gif",
	"*.bmp",
	"*.ico",
	"*.webp",
	"*.mp4",
	"*.mov",
	"*.mp3",
	"*.wav",

	"*.ttf",
	"*.otf",
	"*.woff",
	"*.woff2",

	"*.db",
	"*.sqlite",
	"*.sqlite3",

	"coverage",
	"*.lcov",
	".cache",
	"__pycache__",
	"*.pyc",
	".pytest_cache",
}

// newIgnoreMatcher compiles the repository's ignore files plus the
// default patterns.
func newIgnoreMatcher(root string) (*gitignore.GitIgnore, error) {
	patterns := make([]string, 0, len(defaultIgnorePatterns))

	for _, name := range []string{".gitignore", ".reposageignore"} {
		path := filepath.Join(root, name)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", name, err)
		}
		for _, line := range strings.Split(string(content), "\n") {
			line = strings.TrimSpace(line)
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			patterns = append(patterns, line)
		}
	}

	cfg, err := loadRepoConfig(root)
	if err != nil {
		return nil, err
	}
	patterns = append(patterns, cfg.Ignore...)

	patterns = append(patterns, defaultIgnorePatterns...)
	return gitignore.CompileIgnoreLines(patterns...), nil
}

// listFiles walks root and returns the slash-separated relative paths
// of every ingestible file: not hidden, not ignored, and under the size
// cap.
func listFiles(root string) ([]string, error) {
	matcher, err := newIgnoreMatcher(root)
	if err != nil {
		return nil, err
	}

	var files []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == root {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		if strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if matcher.MatchesPath(rel) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.Size() > maxFileSize {
			return nil
		}

		files = append(files, rel)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", root, err)
	}

	return files, nil
}
