package synthesis

import (
	"fmt"
	"strings"

	"github.com/hochfrequenz/repo-rlm/internal/domain"
)

// Wiki renders one page per node, depth first, and an index linking
// them by parent and child
func Wiki(in Input) []File {
	ordered := domain.PreOrder(in.Nodes)
	byID := domain.IndexNodes(in.Nodes)

	files := make([]File, 0, len(ordered)+1)
	files = append(files, File{
		Kind: domain.ArtifactWikiIndex,
		Name: "index",
		Path: WikiIndexPath,
		Data: []byte(wikiIndex(in, ordered)),
	})
	for _, n := range ordered {
		files = append(files, File{
			Kind: domain.ArtifactWikiPage,
			Name: n.ID,
			Path: wikiPagePath(n.ID),
			Data: []byte(wikiPage(in, n, byID)),
		})
	}
	return files
}

func wikiIndex(in Input, ordered []*domain.Node) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Wiki: %s\n\n", in.Run.Objective)
	fmt.Fprintf(&b, "Run `%s`, %d pages.\n\n", in.Run.ID, len(ordered))
	for _, n := range ordered {
		fmt.Fprintf(&b, "%s- [%s](nodes/%s.md) %s\n", strings.Repeat("  ", n.Depth), n.ID, n.ID, n.ScopeLabel())
	}
	return b.String()
}

func wikiPage(in Input, n *domain.Node, byID map[string]*domain.Node) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s: %s\n\n", n.ID, n.ScopeLabel())

	b.WriteString("[Index](../index.md)")
	if parent, ok := byID[n.ParentID]; ok {
		fmt.Fprintf(&b, " | Parent: [%s](%s.md)", parent.ID, parent.ID)
	}
	b.WriteString("\n\n")

	fmt.Fprintf(&b, "Depth %d, %s.\n\n", n.Depth, n.Decision)
	if len(n.Scope) > 0 {
		b.WriteString("Scope:\n\n")
		for _, s := range n.Scope {
			fmt.Fprintf(&b, "- `%s`\n", s)
		}
		b.WriteString("\n")
	}

	if len(n.ChildIDs) > 0 {
		b.WriteString("## Children\n\n")
		for _, id := range n.ChildIDs {
			label := ""
			if child, ok := byID[id]; ok {
				label = " " + child.ScopeLabel()
			}
			fmt.Fprintf(&b, "- [%s](%s.md)%s\n", id, id, label)
		}
		b.WriteString("\n")
	}

	b.WriteString("## Content\n\n")
	if r, ok := in.Results[n.ID]; ok && strings.TrimSpace(r.Content) != "" {
		b.WriteString(strings.TrimSpace(r.Content))
		b.WriteString("\n")
	} else {
		b.WriteString("_No result._\n")
	}
	return b.String()
}
