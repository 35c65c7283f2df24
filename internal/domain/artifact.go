package domain

// ArtifactKind classifies files produced by synthesis and export
type ArtifactKind string

const (
	ArtifactReviewReport   ArtifactKind = "review_report"
	ArtifactFindingsRanked ArtifactKind = "findings_ranked"
	ArtifactCodeQuality    ArtifactKind = "codequality"
	ArtifactSARIF          ArtifactKind = "sarif"
	ArtifactWikiIndex      ArtifactKind = "wiki_index"
	ArtifactWikiPage       ArtifactKind = "wiki_page"
	ArtifactSummary        ArtifactKind = "summary"
	ArtifactJSONSnapshot   ArtifactKind = "json-snapshot"
	ArtifactMarkdownReport ArtifactKind = "markdown-report"
	ArtifactHTMLReport     ArtifactKind = "html-report"
)

// Artifact is a file written under the run directory
type Artifact struct {
	Kind ArtifactKind `json:"kind"`
	Name string       `json:"name"`
	Path string       `json:"path"`
}
