package domain

// Evidence locates a finding in the analyzed files
type Evidence struct {
	Path      string `json:"path"`
	LineStart int    `json:"line_start"`
	LineEnd   int    `json:"line_end"`
}

// Finding is a review observation backed by evidence
type Finding struct {
	Message   string     `json:"message"`
	Severity  Severity   `json:"severity"`
	Rule      string     `json:"rule,omitempty"`
	DedupeKey string     `json:"dedupe_key"`
	Evidence  []Evidence `json:"evidence"`
}

// Result is the persisted outcome of a node. Exactly one exists per done node.
type Result struct {
	NodeID     string    `json:"node_id"`
	Content    string    `json:"content"`
	Findings   []Finding `json:"findings,omitempty"`
	Aggregated bool      `json:"aggregated"`
	Degraded   bool      `json:"degraded,omitempty"`
	LLMCalls   int       `json:"llm_calls,omitempty"`
	Tokens     int       `json:"tokens,omitempty"`
}
