package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"dev.helix.ensemble/internal/models"
)

// TraceWriter persists a completed run as a directory of plain-text files,
// one per stage/provider pair, plus a metadata summary. Traces are a side
// artifact: write failures are logged and never affect the pipeline.
type TraceWriter struct {
	root   string
	logger *zap.Logger
}

// NewTraceWriter creates a trace writer rooted at dir.
func NewTraceWriter(dir string, logger *zap.Logger) *TraceWriter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TraceWriter{root: dir, logger: logger}
}

type traceMetadata struct {
	CorrelationID string   `json:"correlation_id"`
	Pattern       string   `json:"pattern"`
	Status        string   `json:"status"`
	Providers     []string `json:"providers"`
	LeadProvider  string   `json:"lead_provider,omitempty"`
	SelectedBest  string   `json:"selected_best,omitempty"`
	DurationMs    int64    `json:"duration_ms"`
	CreatedAt     string   `json:"created_at"`
}

// Write stores one run under <root>/<correlationID>/.
func (w *TraceWriter) Write(req *models.PipelineRequest, result *models.PipelineResult) {
	dir := filepath.Join(w.root, result.CorrelationID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		w.logger.Warn("trace directory creation failed",
			zap.String("dir", dir),
			zap.Error(err))
		return
	}

	w.writeFile(dir, "prompt.txt", req.Prompt)
	for _, stage := range [][]models.StageResponse{
		result.InitialResponses,
		result.AnalysisResponses,
		result.RefinementResponses,
	} {
		for _, r := range stage {
			body := r.Content
			if r.Error != "" {
				body = "ERROR: " + r.Error
			}
			w.writeFile(dir, fmt.Sprintf("%s_%s.txt", r.Stage, r.Provider), body)
		}
	}
	if result.Synthesis != nil {
		w.writeFile(dir, fmt.Sprintf("synthesis_%s.txt", result.Synthesis.Provider), result.Synthesis.Content)
	}

	meta := traceMetadata{
		CorrelationID: result.CorrelationID,
		Pattern:       result.Pattern,
		Status:        result.Status,
		Providers:     req.SelectedProviders,
		LeadProvider:  result.LeadProvider,
		SelectedBest:  result.SelectedBest,
		DurationMs:    result.DurationMs,
		CreatedAt:     result.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
	}
	encoded, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		w.logger.Warn("trace metadata encoding failed", zap.Error(err))
		return
	}
	w.writeFile(dir, "metadata.json", string(encoded))
}

func (w *TraceWriter) writeFile(dir, name, content string) {
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		w.logger.Warn("trace file write failed",
			zap.String("path", path),
			zap.Error(err))
	}
}
