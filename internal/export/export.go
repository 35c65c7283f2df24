// Package export renders format-agnostic snapshots of a run. Exports
// work at any run status and never change run state.
package export

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hochfrequenz/repo-rlm/internal/domain"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

// Format is an export format
type Format string

const (
	FormatJSON     Format = "json"
	FormatMarkdown Format = "markdown"
	FormatHTML     Format = "html"
)

// Formats lists the supported formats
var Formats = []Format{FormatJSON, FormatMarkdown, FormatHTML}

// ParseFormat accepts a format name or a common alias
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "json":
		return FormatJSON, nil
	case "markdown", "md":
		return FormatMarkdown, nil
	case "html":
		return FormatHTML, nil
	}
	return "", fmt.Errorf("%w: %q", domain.ErrUnknownFormat, s)
}

// FileName is the fixed name of a format's file in the run directory
func (f Format) FileName() string {
	switch f {
	case FormatJSON:
		return "export.json"
	case FormatMarkdown:
		return "export.md"
	case FormatHTML:
		return "export.html"
	}
	return ""
}

// Kind is the artifact kind of the format
func (f Format) Kind() domain.ArtifactKind {
	switch f {
	case FormatJSON:
		return domain.ArtifactJSONSnapshot
	case FormatMarkdown:
		return domain.ArtifactMarkdownReport
	default:
		return domain.ArtifactHTMLReport
	}
}

// Snapshot is the full persisted state of a run
type Snapshot struct {
	Run            *domain.Run      `json:"run"`
	Nodes          []*domain.Node   `json:"nodes"`
	Results        []*domain.Result `json:"results"`
	DepthHistogram map[int]int      `json:"depth_histogram"`
}

// NewSnapshot orders nodes and results by created_order and counts nodes
// per depth
func NewSnapshot(run *domain.Run, nodes []*domain.Node, results map[string]*domain.Result) *Snapshot {
	ordered := append([]*domain.Node(nil), nodes...)
	domain.SortByCreatedOrder(ordered)

	s := &Snapshot{
		Run:            run,
		Nodes:          ordered,
		Results:        make([]*domain.Result, 0, len(results)),
		DepthHistogram: make(map[int]int),
	}
	for _, n := range ordered {
		s.DepthHistogram[n.Depth]++
		if r, ok := results[n.ID]; ok {
			s.Results = append(s.Results, r)
		}
	}
	return s
}

// Render produces the bytes of a snapshot in format f
func Render(s *Snapshot, f Format) ([]byte, error) {
	switch f {
	case FormatJSON:
		data, err := json.MarshalIndent(s, "", "  ")
		if err != nil {
			return nil, err
		}
		return append(data, '\n'), nil
	case FormatMarkdown:
		return []byte(Markdown(s)), nil
	case FormatHTML:
		return HTML(s)
	}
	return nil, fmt.Errorf("%w: %q", domain.ErrUnknownFormat, f)
}

var md = goldmark.New(goldmark.WithExtensions(extension.GFM))

const htmlHead = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>%s</title>
<style>
body { font-family: sans-serif; max-width: 60rem; margin: 2rem auto; padding: 0 1rem; }
table { border-collapse: collapse; }
td, th { border: 1px solid #ccc; padding: 0.2rem 0.5rem; }
pre, code { background: #f5f5f5; }
</style>
</head>
<body>
`

// HTML renders the markdown report as a standalone page
func HTML(s *Snapshot) ([]byte, error) {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, htmlHead, escape("repo-rlm run "+s.Run.ID))
	if err := md.Convert([]byte(Markdown(s)), &buf); err != nil {
		return nil, fmt.Errorf("render html: %w", err)
	}
	buf.WriteString("</body>\n</html>\n")
	return buf.Bytes(), nil
}

var htmlEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;")

func escape(s string) string {
	return htmlEscaper.Replace(s)
}
