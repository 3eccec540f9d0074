package sandbox

import "context"

// TableSummary describes one loaded table.
type TableSummary struct {
	RowCount    int        `json:"rowCount"`
	ColumnNames []string   `json:"columnNames"`
	PreviewRows [][]string `json:"previewRows,omitempty"`
}

// AnalysisResult is the sandbox's answer to one analysis request.
type AnalysisResult struct {
	Success      bool   `json:"success"`
	ResultText   string `json:"resultText"`
	ChartDataURL string `json:"chartDataUrl,omitempty"`
	ExecutedCode string `json:"executedCode,omitempty"`
}

// ProgressUpdate is an unsolicited notification pushed by the sandbox
// while an analysis runs (generating_code, executing_code, ...).
type ProgressUpdate struct {
	Stage  string `json:"stage"`
	Detail string `json:"detail,omitempty"`
}

// Runner is the dispatcher-facing surface of the sandbox.
type Runner interface {
	HasTable(name string) bool
	RunAnalysis(ctx context.Context, tableNames []string, question string) (*AnalysisResult, error)
}
