package scope

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/hochfrequenz/repo-rlm/internal/domain"
)

func writeFiles(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		p := filepath.Join(root, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
}

func paths(files []File) []string {
	out := make([]string, len(files))
	for i, f := range files {
		out[i] = f.Path
	}
	return out
}

func TestExpand_LexicalOrderAndIgnore(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		"src/b.ts":            "b",
		"src/a.ts":            "a",
		"README.md":           "# hi",
		".git/config":         "x",
		"node_modules/x/i.js": "x",
		"src/gen/out.min.js":  "x",
		"src/gen/keep.ts":     "k",
	})

	e := NewExpander(root, []string{".git", "node_modules", "*.min.js"})
	files, err := e.Expand([]string{"."})
	if err != nil {
		t.Fatal(err)
	}

	want := []string{"README.md", "src/a.ts", "src/b.ts", "src/gen/keep.ts"}
	got := paths(files)
	if len(got) != len(want) {
		t.Fatalf("Expand = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Expand[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestExpand_DeduplicatesOverlappingItems(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{"a/x.go": "1", "a/y.go": "2", "b/z.go": "3"})

	e := NewExpander(root, nil)
	files, err := e.Expand([]string{"a/y.go", "a", "b"})
	if err != nil {
		t.Fatal(err)
	}
	got := paths(files)
	want := []string{"a/y.go", "a/x.go", "b/z.go"}
	if len(got) != 3 || got[0] != want[0] || got[1] != want[1] || got[2] != want[2] {
		t.Errorf("Expand = %v, want %v", got, want)
	}
}

func TestExpand_MissingItem(t *testing.T) {
	e := NewExpander(t.TempDir(), nil)
	files, err := e.Expand([]string{"gone"})
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 0 {
		t.Errorf("Expand = %v, want empty", files)
	}
}

func TestTokens(t *testing.T) {
	files := []File{{Size: 0}, {Size: 1}, {Size: 4}, {Size: 5}}
	if got := EstimateTokens(files); got != 0+1+1+2 {
		t.Errorf("EstimateTokens = %d, want 4", got)
	}
}

func TestNormalize(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{"src/a.ts": "a"})

	items, err := Normalize(root, []string{root, "src", filepath.Join(root, "src"), "src/a.ts"})
	if err != nil {
		t.Fatal(err)
	}
	want := []string{".", "src", "src/a.ts"}
	if len(items) != len(want) {
		t.Fatalf("Normalize = %v, want %v", items, want)
	}
	for i := range want {
		if items[i] != want[i] {
			t.Errorf("Normalize[%d] = %q, want %q", i, items[i], want[i])
		}
	}

	if _, err := Normalize(root, []string{"missing"}); !errors.Is(err, domain.ErrInvalidConfig) {
		t.Errorf("Normalize(missing) error = %v, want ErrInvalidConfig", err)
	}
	if _, err := Normalize(root, nil); !errors.Is(err, domain.ErrInvalidConfig) {
		t.Errorf("Normalize(nil) error = %v, want ErrInvalidConfig", err)
	}
}

func TestContains(t *testing.T) {
	tests := []struct {
		item, file string
		want       bool
	}{
		{".", "src/a.ts", true},
		{".", "/abs/x", false},
		{"src", "src/a.ts", true},
		{"src", "srcx/a.ts", false},
		{"src/a.ts", "src/a.ts", true},
	}
	for _, tt := range tests {
		if got := Contains(tt.item, tt.file); got != tt.want {
			t.Errorf("Contains(%q, %q) = %v, want %v", tt.item, tt.file, got, tt.want)
		}
	}
}
