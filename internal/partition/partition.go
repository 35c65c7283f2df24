// Package partition decides whether a node is executed directly or split
// into children covering its scope.
package partition

import (
	"path"
	"strings"

	"github.com/hochfrequenz/repo-rlm/internal/domain"
	"github.com/hochfrequenz/repo-rlm/internal/scope"
)

// Decision is either Leaf or Split
type Decision interface {
	isDecision()
}

// Leaf means the node is executed as a whole
type Leaf struct {
	Files  []scope.File
	Reason string
}

// Split carries the child scopes in creation order. Their expansions
// partition the parent's files exactly.
type Split struct {
	ChildScopes [][]string
	Files       []scope.File
}

func (Leaf) isDecision()  {}
func (Split) isDecision() {}

// Leaf reasons
const (
	ReasonMaxDepth    = "max_depth"
	ReasonFits        = "within_limits"
	ReasonIndivisible = "indivisible"
)

// Partitioner applies the size limits captured in a run
type Partitioner struct {
	expander *scope.Expander
	limits   domain.PartitionLimits
}

// New creates a Partitioner for the given root
func New(root string, limits domain.PartitionLimits) *Partitioner {
	return &Partitioner{
		expander: scope.NewExpander(root, limits.Ignore),
		limits:   limits,
	}
}

// Decide picks leaf or split for node. Nodes at maxDepth are always leaves.
func (p *Partitioner) Decide(node *domain.Node, maxDepth int) (Decision, error) {
	files, err := p.expander.Expand(node.Scope)
	if err != nil {
		return nil, err
	}
	if node.Depth >= maxDepth {
		return Leaf{Files: files, Reason: ReasonMaxDepth}, nil
	}
	if p.fits(files) {
		return Leaf{Files: files, Reason: ReasonFits}, nil
	}
	groups := p.group(node.Scope, files)
	if len(groups) < 2 {
		return Leaf{Files: files, Reason: ReasonIndivisible}, nil
	}
	return Split{ChildScopes: groups, Files: files}, nil
}

func (p *Partitioner) fits(files []scope.File) bool {
	return len(files) <= p.limits.MaxLeafItems && scope.EstimateTokens(files) <= p.limits.MaxLeafTokens
}

type fileGroup struct {
	key   string
	dir   string
	files []scope.File
}

// group splits files by the first directory level below their deepest
// common directory. Files directly in that directory form one group, and
// when they are the only group they are chunked by the leaf limits.
func (p *Partitioner) group(items []string, files []scope.File) [][]string {
	base := commonDir(files)

	var groups []*fileGroup
	byKey := make(map[string]*fileGroup)
	for _, f := range files {
		comps := dirComponents(f.Path)
		key := ""
		if len(comps) > len(base) {
			key = "/" + comps[len(base)]
		}
		g, ok := byKey[key]
		if !ok {
			g = &fileGroup{key: key}
			if key != "" {
				g.dir = strings.Join(append(append([]string(nil), base...), comps[len(base)]), "/")
			}
			byKey[key] = g
			groups = append(groups, g)
		}
		g.files = append(g.files, f)
	}

	if len(groups) == 1 {
		if groups[0].key != "" {
			return nil
		}
		return p.chunk(files)
	}

	scopes := make([][]string, 0, len(groups))
	for _, g := range groups {
		if g.dir != "" && p.coveredByDirItem(items, g.dir) && p.expandsTo(g.dir, g.files) {
			scopes = append(scopes, []string{g.dir})
			continue
		}
		scopes = append(scopes, filePaths(g.files))
	}
	return scopes
}

// chunk cuts files into contiguous runs that respect the leaf limits
func (p *Partitioner) chunk(files []scope.File) [][]string {
	if len(files) < 2 {
		return nil
	}
	var chunks [][]string
	var current []string
	tokens := 0
	for _, f := range files {
		t := f.Tokens()
		if len(current) > 0 && (len(current)+1 > p.limits.MaxLeafItems || tokens+t > p.limits.MaxLeafTokens) {
			chunks = append(chunks, current)
			current, tokens = nil, 0
		}
		current = append(current, f.Path)
		tokens += t
	}
	chunks = append(chunks, current)

	if len(chunks) < 2 {
		half := len(files) / 2
		all := filePaths(files)
		return [][]string{all[:half], all[half:]}
	}
	return chunks
}

// coveredByDirItem reports whether a directory scope item contains dir
func (p *Partitioner) coveredByDirItem(items []string, dir string) bool {
	for _, item := range items {
		if !scope.Contains(item, dir) {
			continue
		}
		if p.expander.IsDir(item) {
			return true
		}
	}
	return false
}

// expandsTo reports whether dir alone expands to exactly files. An item
// inside an ignored directory reaches files the directory walk skips, and
// the walk can reach files the parent scope never listed.
func (p *Partitioner) expandsTo(dir string, files []scope.File) bool {
	got, err := p.expander.Expand([]string{dir})
	if err != nil || len(got) != len(files) {
		return false
	}
	want := make(map[string]struct{}, len(files))
	for _, f := range files {
		want[f.Path] = struct{}{}
	}
	for _, f := range got {
		if _, ok := want[f.Path]; !ok {
			return false
		}
	}
	return true
}

func filePaths(files []scope.File) []string {
	out := make([]string, len(files))
	for i, f := range files {
		out[i] = f.Path
	}
	return out
}

func dirComponents(p string) []string {
	dir := path.Dir(p)
	if dir == "." {
		return nil
	}
	return strings.Split(dir, "/")
}

func commonDir(files []scope.File) []string {
	if len(files) == 0 {
		return nil
	}
	common := dirComponents(files[0].Path)
	for _, f := range files[1:] {
		comps := dirComponents(f.Path)
		n := 0
		for n < len(common) && n < len(comps) && common[n] == comps[n] {
			n++
		}
		common = common[:n]
	}
	return common
}
