package models

// PredictionStatus is the state of a remote computation as reported by the
// prediction provider.
type PredictionStatus string

const (
	PredictionStarting   PredictionStatus = "starting"
	PredictionProcessing PredictionStatus = "processing"
	PredictionSucceeded  PredictionStatus = "succeeded"
	PredictionFailed     PredictionStatus = "failed"
	PredictionCanceled   PredictionStatus = "canceled"
)

// Terminal reports whether no further status change is expected.
func (s PredictionStatus) Terminal() bool {
	switch s {
	case PredictionSucceeded, PredictionFailed, PredictionCanceled:
		return true
	case PredictionStarting, PredictionProcessing:
		return false
	}
	// Unrecognised statuses are treated as still running; the wait step is
	// bounded by its own timeout.
	return false
}

// Prediction is a snapshot of a remote computation.
type Prediction struct {
	ID     string           `json:"id"`
	Status PredictionStatus `json:"status"`
	Output any              `json:"output"`
	Error  string           `json:"error,omitempty"`
}

// ResultReference extracts the single result URL from a prediction output.
// The provider may return a bare string or a list whose first element is the
// URL. Any other shape yields ok=false.
func (p Prediction) ResultReference() (string, bool) {
	switch out := p.Output.(type) {
	case string:
		if out == "" {
			return "", false
		}
		return out, true
	case []any:
		if len(out) == 0 {
			return "", false
		}
		s, ok := out[0].(string)
		if !ok || s == "" {
			return "", false
		}
		return s, true
	case []string:
		if len(out) == 0 || out[0] == "" {
			return "", false
		}
		return out[0], true
	}
	return "", false
}
