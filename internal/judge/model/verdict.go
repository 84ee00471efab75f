package model

import (
	"encoding/json"
	"fmt"
)

// Verdict is the judgement outcome for a submission or a single test run.
// The wire set is closed: parsing rejects anything outside it.
type Verdict string

const (
	VerdictPending Verdict = "pending"
	VerdictAC      Verdict = "AC"
	VerdictWA      Verdict = "WA"
	VerdictTLE     Verdict = "TLE"
	VerdictMLE     Verdict = "MLE"
	VerdictRE      Verdict = "RE"
	VerdictCE      Verdict = "CE"
	VerdictIE      Verdict = "IE"
)

var validVerdicts = map[Verdict]bool{
	VerdictPending: true,
	VerdictAC:      true,
	VerdictWA:      true,
	VerdictTLE:     true,
	VerdictMLE:     true,
	VerdictRE:      true,
	VerdictCE:      true,
	VerdictIE:      true,
}

// Valid reports whether v is one of the known verdict codes.
func (v Verdict) Valid() bool {
	return validVerdicts[v]
}

// IsTerminal reports whether v ends the judging of a submission.
func (v Verdict) IsTerminal() bool {
	return v.Valid() && v != VerdictPending
}

func (v Verdict) String() string {
	return string(v)
}

// UnmarshalJSON rejects verdict strings outside the closed set.
func (v *Verdict) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	candidate := Verdict(s)
	if !candidate.Valid() {
		return fmt.Errorf("unknown verdict %q", s)
	}
	*v = candidate
	return nil
}
