package domain

// ValidationVerdict is the accumulated outcome of running every validation
// rule over a PaymentIntent. Rules never short-circuit, so a verdict always
// reflects the complete rule set in a deterministic order.
type ValidationVerdict struct {
	Valid    bool
	Errors   []string
	Warnings []string
}

// Headline returns the first blocking error, which is the one surfaced to
// end users. Empty when the verdict is valid.
func (v ValidationVerdict) Headline() string {
	if len(v.Errors) == 0 {
		return ""
	}
	return v.Errors[0]
}
