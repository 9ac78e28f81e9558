package models

// SnapshotConfig echoes the request that produced a run.
type SnapshotConfig struct {
	Goal          string         `json:"goal"`
	Budget        float64        `json:"budget"`
	Duration      string         `json:"duration"`
	TargetPersona string         `json:"targetPersona,omitempty"`
	Parameters    map[string]any `json:"parameters,omitempty"`
}

// RunMetrics are the aggregate engagement metrics of one run.
type RunMetrics struct {
	Reach              int     `json:"reach"`
	Engagement         int     `json:"engagement"`
	ConversionEstimate float64 `json:"conversionEstimate"`
	ROAS               float64 `json:"roas"`
}

// AgentLogEntry summarizes one agent unit's outcome inside the run result.
type AgentLogEntry struct {
	AgentID string         `json:"agentId"`
	Role    string         `json:"role"`
	Status  string         `json:"status"`
	Detail  map[string]any `json:"detail,omitempty"`
}

// PersonaTrace records one persona's observable engagement for the run result.
type PersonaTrace struct {
	PersonaID string `json:"personaId"`
	AgentID   string `json:"agentId"`
	Sentiment string `json:"sentiment"`
	Liked     bool   `json:"liked"`
	Commented bool   `json:"commented"`
	Comment   string `json:"comment,omitempty"`
}

// RunResult appears in the snapshot only once the run has completed.
type RunResult struct {
	Metrics         RunMetrics      `json:"metrics"`
	ConfidenceLevel string          `json:"confidenceLevel"`
	AgentLogs       []AgentLogEntry `json:"agentLogs"`
	PersonaTraces   []PersonaTrace  `json:"personaTraces"`
}

// RunSnapshot is the single run-level progress document. It is rewritten
// atomically at fixed checkpoints so pollers never observe a partial file.
type RunSnapshot struct {
	SimulationID string         `json:"simulationId"`
	Status       string         `json:"status"`
	Progress     int            `json:"progress"`
	CreatedAt    string         `json:"createdAt"`
	UpdatedAt    string         `json:"updatedAt"`
	Config       SnapshotConfig `json:"config"`
	Result       *RunResult     `json:"result,omitempty"`
}

// RunSummary is returned to the caller of a run.
type RunSummary struct {
	SimulationID string     `json:"simulationId"`
	RunID        string     `json:"runId"`
	Status       string     `json:"status"`
	EndReason    string     `json:"endReason"`
	SnapshotPath string     `json:"snapshotPath,omitempty"`
	ActionFiles  []string   `json:"actionFiles"`
	Metrics      RunMetrics `json:"metrics"`
}
