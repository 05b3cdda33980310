package harness

// TraceEvent is one action's handling in one replay pass.
type TraceEvent struct {
	Seq      int64  `json:"seq"`
	Run      int    `json:"run"`
	ActionID string `json:"action_id"`
	Type     string `json:"type"`
	Outcome  string `json:"outcome"`
	Attempts int    `json:"attempts"`
	Error    string `json:"error,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every step expectation and assertion held.
	Pass bool `json:"pass"`

	// Trace lists every action result of every pass, in order.
	Trace []TraceEvent `json:"trace"`

	// Applied lists action ids in the order the applier saw them.
	Applied []string `json:"applied"`

	// Errors holds failed expectations. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:    true,
		Trace:   []TraceEvent{},
		Applied: []string{},
		Errors:  []string{},
	}
}

// AddError records a failed expectation and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
