package prompts

import (
	"bytes"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"text/template"

	"gopkg.in/yaml.v3"
)

// Loader manages prompt templates with override support.
type Loader struct {
	overrideDirs []string // checked in priority order
	cache        map[string]*template.Template
	metaCache    map[string]*TemplateMeta
	mu           sync.RWMutex
}

// TemplateMeta holds frontmatter metadata of a template.
type TemplateMeta struct {
	ID          string   `yaml:"id"`
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Modes       []string `yaml:"modes"`
}

// NewLoader creates a loader with the given override directories.
// Directories are checked in order; first match wins.
func NewLoader(overrideDirs ...string) *Loader {
	return &Loader{
		overrideDirs: overrideDirs,
		cache:        make(map[string]*template.Template),
		metaCache:    make(map[string]*TemplateMeta),
	}
}

// DefaultLoader creates a loader with standard override paths:
// 1. Project-local: <stateDir>/prompts/
// 2. User config: ~/.config/repo-rlm/prompts/
func DefaultLoader(stateDir string) *Loader {
	home, _ := os.UserHomeDir()
	dirs := []string{}

	if stateDir != "" {
		dirs = append(dirs, filepath.Join(stateDir, "prompts"))
	}
	if home != "" {
		dirs = append(dirs, filepath.Join(home, ".config", "repo-rlm", "prompts"))
	}

	return NewLoader(dirs...)
}

func (l *Loader) loadContent(path string) ([]byte, error) {
	for _, dir := range l.overrideDirs {
		if data, err := os.ReadFile(filepath.Join(dir, path)); err == nil {
			return data, nil
		}
	}
	return fs.ReadFile(embeddedFS, path)
}

// parseFrontmatter splits content into frontmatter and body.
func parseFrontmatter(content []byte) (*TemplateMeta, string, error) {
	str := strings.ReplaceAll(string(content), "\r\n", "\n")

	if !strings.HasPrefix(str, "---\n") {
		return nil, str, nil
	}
	end := strings.Index(str[4:], "\n---\n")
	if end == -1 {
		return nil, str, nil // malformed, treat as plain body
	}

	frontmatter := str[4 : 4+end]
	body := str[4+end+5:]

	var meta TemplateMeta
	if err := yaml.Unmarshal([]byte(frontmatter), &meta); err != nil {
		return nil, "", fmt.Errorf("parse frontmatter: %w", err)
	}
	return &meta, body, nil
}

// LoadTemplate loads and parses a template by path (e.g., "leaf/review.md").
func (l *Loader) LoadTemplate(path string) (*template.Template, *TemplateMeta, error) {
	l.mu.RLock()
	if tmpl, ok := l.cache[path]; ok {
		meta := l.metaCache[path]
		l.mu.RUnlock()
		return tmpl, meta, nil
	}
	l.mu.RUnlock()

	content, err := l.loadContent(path)
	if err != nil {
		return nil, nil, fmt.Errorf("load %s: %w", path, err)
	}

	meta, body, err := parseFrontmatter(content)
	if err != nil {
		return nil, nil, fmt.Errorf("parse %s: %w", path, err)
	}

	tmpl, err := template.New(path).Parse(body)
	if err != nil {
		return nil, nil, fmt.Errorf("compile template %s: %w", path, err)
	}

	l.mu.Lock()
	l.cache[path] = tmpl
	l.metaCache[path] = meta
	l.mu.Unlock()

	return tmpl, meta, nil
}

// Execute loads and executes a template with the given data.
func (l *Loader) Execute(path string, data interface{}) (string, error) {
	tmpl, _, err := l.LoadTemplate(path)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("execute %s: %w", path, err)
	}
	return buf.String(), nil
}

// ListLeafTemplates returns metadata for all embedded leaf templates.
func (l *Loader) ListLeafTemplates() ([]*TemplateMeta, error) {
	entries, err := fs.ReadDir(embeddedFS, "leaf")
	if err != nil {
		return nil, err
	}

	var result []*TemplateMeta
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
			continue
		}
		path := "leaf/" + entry.Name()
		_, meta, err := l.LoadTemplate(path)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
		if meta != nil {
			result = append(result, meta)
		}
	}
	return result, nil
}

// LeafFile is one file rendered into a leaf prompt.
type LeafFile struct {
	Path    string
	Content string
}

// Numbered returns the content with 1-based line number prefixes.
func (f LeafFile) Numbered() string {
	if f.Content == "" {
		return ""
	}
	lines := strings.Split(f.Content, "\n")
	var b strings.Builder
	for i, line := range lines {
		fmt.Fprintf(&b, "%5d| %s", i+1, line)
		if i < len(lines)-1 {
			b.WriteByte('\n')
		}
	}
	return b.String()
}

// LeafData holds template variables for leaf prompts.
type LeafData struct {
	Mode      string
	Objective string
	Domain    string
	Scope     string
	Files     []LeafFile
}

// LeafTemplatePath returns the template used for a run mode.
func LeafTemplatePath(mode string) string {
	switch mode {
	case "review", "wiki":
		return "leaf/" + mode + ".md"
	default:
		return "leaf/generic.md"
	}
}

// BuildLeafPrompt loads and executes the leaf template of data.Mode.
func (l *Loader) BuildLeafPrompt(data LeafData) (string, error) {
	return l.Execute(LeafTemplatePath(data.Mode), data)
}

