package pipeline

// TaskOutput is the output of one finished task.
type TaskOutput struct {
	Index  int    `json:"index"`
	Role   string `json:"role"`
	Output string `json:"output"`
}

// Result is the terminal value of a run. Exactly one of Output and Failure
// is meaningful. Outputs keeps every finished task's output on both paths.
type Result struct {
	RunID   string
	Output  string
	Failure *Failure
	Outputs []TaskOutput
}

// OK reports whether every task finished.
func (r Result) OK() bool { return r.Failure == nil }

// Err returns the failure as an error, or nil on success.
func (r Result) Err() error {
	if r.Failure == nil {
		return nil
	}
	return r.Failure
}
