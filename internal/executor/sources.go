package executor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// source is a file of a leaf loaded for analysis
type source struct {
	Path      string
	Lines     []string
	Binary    bool
	Truncated bool
}

// loadSources reads the files of a request. Binary files are flagged and
// left empty; files above maxBytes are cut at the limit.
func loadSources(ctx context.Context, req Request) ([]source, error) {
	sources := make([]source, 0, len(req.Files))
	for _, f := range req.Files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		p := filepath.FromSlash(f.Path)
		if !filepath.IsAbs(p) {
			p = filepath.Join(req.Root, p)
		}
		src, err := readSource(p, req.MaxFileBytes)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", f.Path, err)
		}
		src.Path = f.Path
		sources = append(sources, src)
	}
	return sources, nil
}

func readSource(path string, maxBytes int64) (source, error) {
	f, err := os.Open(path)
	if err != nil {
		return source{}, err
	}
	defer f.Close()

	var r io.Reader = f
	if maxBytes > 0 {
		r = io.LimitReader(f, maxBytes+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return source{}, err
	}

	var src source
	if maxBytes > 0 && int64(len(data)) > maxBytes {
		data = data[:maxBytes]
		src.Truncated = true
	}
	sniff := data
	if len(sniff) > 8000 {
		sniff = sniff[:8000]
	}
	if bytes.IndexByte(sniff, 0) >= 0 {
		src.Binary = true
		return src, nil
	}

	text := strings.ReplaceAll(string(data), "\r\n", "\n")
	text = strings.TrimSuffix(text, "\n")
	if text != "" {
		src.Lines = strings.Split(text, "\n")
	}
	return src, nil
}

var languages = map[string]string{
	".go":    "Go",
	".ts":    "TypeScript",
	".tsx":   "TypeScript",
	".js":    "JavaScript",
	".jsx":   "JavaScript",
	".mjs":   "JavaScript",
	".cjs":   "JavaScript",
	".py":    "Python",
	".rs":    "Rust",
	".java":  "Java",
	".kt":    "Kotlin",
	".rb":    "Ruby",
	".c":     "C",
	".h":     "C",
	".cpp":   "C++",
	".cs":    "C#",
	".swift": "Swift",
	".sh":    "Shell",
	".md":    "Markdown",
	".json":  "JSON",
	".yaml":  "YAML",
	".yml":   "YAML",
	".toml":  "TOML",
	".sql":   "SQL",
	".html":  "HTML",
	".css":   "CSS",
}

// Language names the language of a path by extension
func Language(path string) string {
	if lang, ok := languages[strings.ToLower(filepath.Ext(path))]; ok {
		return lang
	}
	return "Other"
}
