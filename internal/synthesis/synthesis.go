// Package synthesis turns the results of a completed run into
// mode-specific artifacts. Everything here is a pure function of the
// run's persisted state, so repeated synthesis yields identical bytes.
package synthesis

import (
	"encoding/json"
	"fmt"
	"path"

	"github.com/hochfrequenz/repo-rlm/internal/domain"
)

// Artifact locations relative to the run directory
const (
	ArtifactsDir     = "artifacts"
	ReviewReportPath = "artifacts/review/report.md"
	RankedPath       = "artifacts/review/findings-ranked.json"
	CodeQualityPath  = "artifacts/review/codequality.json"
	SARIFPath        = "artifacts/review/sarif.json"
	WikiIndexPath    = "artifacts/wiki/index.md"
	WikiNodesDir     = "artifacts/wiki/nodes"
	SummaryPath      = "artifacts/summary.md"
	ManifestPath     = "artifacts/manifest.json"
)

// ToolName identifies the producer in interchange formats
const ToolName = "repo-rlm"

// Input is the persisted state of a run
type Input struct {
	Run     *domain.Run
	Nodes   []*domain.Node
	Results map[string]*domain.Result
}

// File is one artifact ready to be written. Path is relative to the run
// directory and slash separated.
type File struct {
	Kind domain.ArtifactKind
	Name string
	Path string
	Data []byte
}

// Artifact describes the file for callers and the manifest
func (f File) Artifact() domain.Artifact {
	return domain.Artifact{Kind: f.Kind, Name: f.Name, Path: f.Path}
}

// Build produces the artifacts of mode. The manifest is appended last.
func Build(in Input, mode domain.Mode) ([]File, error) {
	if in.Run.Status != domain.RunCompleted {
		return nil, fmt.Errorf("%w: run %s is %s", domain.ErrRunNotCompleted, in.Run.ID, in.Run.Status)
	}

	var files []File
	var err error
	switch mode {
	case domain.ModeReview:
		files, _, err = Review(in)
	case domain.ModeWiki:
		files = Wiki(in)
	case domain.ModeGeneric:
		files = Generic(in)
	default:
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownMode, mode)
	}
	if err != nil {
		return nil, err
	}

	manifest, err := Manifest(in.Run, mode, files)
	if err != nil {
		return nil, err
	}
	return append(files, manifest), nil
}

type manifest struct {
	RunID     string            `json:"run_id"`
	Mode      domain.Mode       `json:"mode"`
	Artifacts []domain.Artifact `json:"artifacts"`
}

// Manifest lists the artifacts of one synthesis
func Manifest(run *domain.Run, mode domain.Mode, files []File) (File, error) {
	m := manifest{RunID: run.ID, Mode: mode, Artifacts: make([]domain.Artifact, 0, len(files))}
	for _, f := range files {
		m.Artifacts = append(m.Artifacts, f.Artifact())
	}
	data, err := marshalJSON(m)
	if err != nil {
		return File{}, err
	}
	return File{Kind: "manifest", Name: "manifest", Path: ManifestPath, Data: data}, nil
}

func marshalJSON(v any) ([]byte, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

func rootResult(in Input) *domain.Result {
	return in.Results[in.Run.RootNodeID]
}

func wikiPagePath(nodeID string) string {
	return path.Join(WikiNodesDir, nodeID+".md")
}
