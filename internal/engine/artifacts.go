package engine

import (
	"context"
	"fmt"

	"github.com/hochfrequenz/repo-rlm/internal/catalog"
	"github.com/hochfrequenz/repo-rlm/internal/domain"
	"github.com/hochfrequenz/repo-rlm/internal/export"
	"github.com/hochfrequenz/repo-rlm/internal/synthesis"
)

// SynthesizeRun writes the artifacts of mode for a completed run. An
// empty mode means the run's own mode. Run state is not modified.
func (e *Engine) SynthesizeRun(ctx context.Context, runID string, mode domain.Mode) ([]domain.Artifact, error) {
	st, err := e.GetStatus(ctx, runID)
	if err != nil {
		return nil, err
	}
	if mode == "" {
		mode = st.Run.Mode
	}
	results, err := e.Results(ctx, runID)
	if err != nil {
		return nil, err
	}

	files, err := synthesis.Build(synthesis.Input{Run: st.Run, Nodes: st.Nodes, Results: results}, mode)
	if err != nil {
		return nil, err
	}

	artifacts := make([]domain.Artifact, 0, len(files))
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		path, err := e.store.WriteFile(runID, f.Path, f.Data)
		if err != nil {
			return nil, fmt.Errorf("write %s: %w", f.Path, err)
		}
		a := f.Artifact()
		a.Path = path
		artifacts = append(artifacts, a)
	}

	e.log.WithRun(runID).Info("run synthesized", "mode", mode, "artifacts", len(artifacts))
	e.event(runID, catalog.EventSynthesized, "", fmt.Sprintf("%s: %d artifacts", mode, len(artifacts)))
	return artifacts, nil
}

// ExportRun writes a snapshot of the run in the given format to its fixed
// file name. Works at any run status.
func (e *Engine) ExportRun(ctx context.Context, runID string, format string) (*domain.Artifact, error) {
	f, err := export.ParseFormat(format)
	if err != nil {
		return nil, err
	}
	st, err := e.GetStatus(ctx, runID)
	if err != nil {
		return nil, err
	}
	results, err := e.Results(ctx, runID)
	if err != nil {
		return nil, err
	}

	data, err := export.Render(export.NewSnapshot(st.Run, st.Nodes, results), f)
	if err != nil {
		return nil, err
	}
	path, err := e.store.WriteFile(runID, f.FileName(), data)
	if err != nil {
		return nil, fmt.Errorf("write %s: %w", f.FileName(), err)
	}

	e.log.WithRun(runID).Info("run exported", "format", f, "path", path)
	e.event(runID, catalog.EventExported, "", string(f))
	return &domain.Artifact{Kind: f.Kind(), Name: f.FileName(), Path: path}, nil
}
