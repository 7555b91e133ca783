package core

// BatchSummary counts outcomes by kind. It is always derived from an outcome
// slice with Summarize and never stored apart from it.
type BatchSummary struct {
	Total    int `json:"total"`
	Success  int `json:"success"`
	NotFound int `json:"not_found"`
	Error    int `json:"error"`
	Skipped  int `json:"skipped"`
}

// Summarize counts outcomes in a single pass.
func Summarize(outcomes []Outcome) BatchSummary {
	var p Progress
	for _, o := range outcomes {
		p.count(o)
	}
	return BatchSummary{
		Total:    len(outcomes),
		Success:  p.Success,
		NotFound: p.NotFound,
		Error:    p.Error,
		Skipped:  p.Skipped,
	}
}

// Failed is the number of rows that did not resolve, skipped rows excluded.
func (s BatchSummary) Failed() int {
	return s.NotFound + s.Error
}
