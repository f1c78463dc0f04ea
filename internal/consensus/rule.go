package consensus

import (
	"fmt"
	"strconv"
	"strings"
)

// Decision is the outcome of evaluating the rule.
type Decision int

const (
	// NoMatch means the room keeps voting.
	NoMatch Decision = iota
	// Match means the quorum is reached for the evaluated item.
	Match
)

func (d Decision) String() string {
	switch d {
	case Match:
		return "MATCH"
	case NoMatch:
		return "NO_MATCH"
	default:
		return fmt.Sprintf("Decision(%d)", int(d))
	}
}

// PolicyKind selects how the quorum is derived from the member count.
type PolicyKind string

const (
	PolicyUnanimous PolicyKind = "unanimous"
	PolicyMajority  PolicyKind = "majority"
	PolicyPercent   PolicyKind = "percent"
)

// Policy is a quorum threshold. Percent is only read for PolicyPercent.
type Policy struct {
	Kind    PolicyKind
	Percent int64
}

// Unanimous is the default policy: every member must vote POSITIVE.
var Unanimous = Policy{Kind: PolicyUnanimous}

// String renders the policy in the form ParsePolicy accepts.
func (p Policy) String() string {
	if p.Kind == PolicyPercent {
		return fmt.Sprintf("percent:%d", p.Percent)
	}
	return string(p.Kind)
}

// ParsePolicy parses "unanimous", "majority" or "percent:<1-100>".
// The empty string selects Unanimous.
func ParsePolicy(s string) (Policy, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch {
	case s == "" || s == string(PolicyUnanimous):
		return Unanimous, nil
	case s == string(PolicyMajority):
		return Policy{Kind: PolicyMajority}, nil
	case strings.HasPrefix(s, string(PolicyPercent)+":"):
		raw := strings.TrimPrefix(s, string(PolicyPercent)+":")
		pct, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return Policy{}, fmt.Errorf("parse consensus policy %q: %w", s, err)
		}
		if pct < 1 || pct > 100 {
			return Policy{}, fmt.Errorf("parse consensus policy %q: percent must be in [1, 100]", s)
		}
		return Policy{Kind: PolicyPercent, Percent: pct}, nil
	default:
		return Policy{}, fmt.Errorf("unknown consensus policy %q", s)
	}
}

// Rule evaluates positive-vote counts against a policy.
// The zero value is the unanimous rule.
type Rule struct {
	Policy Policy
}

// NewRule returns a rule for the given policy.
func NewRule(p Policy) Rule {
	return Rule{Policy: p}
}

// Required returns the number of POSITIVE votes needed to match in a room of
// memberCount members. It returns 0 when memberCount is not positive, which
// Evaluate treats as "never match".
func (r Rule) Required(memberCount int64) int64 {
	if memberCount <= 0 {
		return 0
	}
	switch r.Policy.Kind {
	case PolicyMajority:
		return memberCount/2 + 1
	case PolicyPercent:
		pct := r.Policy.Percent
		if pct < 1 || pct > 100 {
			return memberCount
		}
		// ceil(memberCount*pct/100) without forming memberCount*pct.
		need := memberCount/100*pct + (memberCount%100*pct+99)/100
		if need < 1 {
			need = 1
		}
		return need
	case PolicyUnanimous, "":
		return memberCount
	default:
		// Unknown kinds fall back to the strictest quorum.
		return memberCount
	}
}

// Evaluate returns Match iff memberCount > 0 and positiveCount reaches the
// required quorum. A non-positive member count is a data inconsistency and a
// negative positive count is invalid input; both yield NoMatch.
func (r Rule) Evaluate(positiveCount, memberCount int64) Decision {
	if memberCount <= 0 || positiveCount < 0 {
		return NoMatch
	}
	if positiveCount >= r.Required(memberCount) {
		return Match
	}
	return NoMatch
}
