package dispatch

import (
	"fmt"
	"strings"
)

// Verdict is how the sender treats one gateway answer
type Verdict int

const (
	VerdictSuccess Verdict = iota
	VerdictTransient
	VerdictTerminal
)

func (v Verdict) String() string {
	switch v {
	case VerdictSuccess:
		return "success"
	case VerdictTransient:
		return "transient"
	default:
		return "terminal"
	}
}

// Classifier maps gateway error codes to retry decisions.
// Codes listed nowhere are terminal.
type Classifier struct {
	transient map[string]struct{}
	terminal  map[string]struct{}
	optOut    map[string]struct{}
	charged   map[string]struct{}
}

// NewClassifier builds the classification table from configured code lists
func NewClassifier(transient, terminal, optOut, charged []string) (*Classifier, error) {
	c := &Classifier{
		transient: codeSet(transient),
		terminal:  codeSet(terminal),
		optOut:    codeSet(optOut),
		charged:   codeSet(charged),
	}
	for code := range c.transient {
		if _, ok := c.terminal[code]; ok {
			return nil, fmt.Errorf("error code %q is both transient and terminal", code)
		}
	}
	for code := range c.optOut {
		if _, ok := c.transient[code]; ok {
			return nil, fmt.Errorf("opt-out code %q cannot be transient", code)
		}
	}
	return c, nil
}

// Classify returns the verdict for an error code; the empty code means success
func (c *Classifier) Classify(code string) Verdict {
	code = normalizeCode(code)
	if code == "" {
		return VerdictSuccess
	}
	if _, ok := c.transient[code]; ok {
		return VerdictTransient
	}
	return VerdictTerminal
}

// IsOptOut reports whether the code means the recipient asked not to be contacted
func (c *Classifier) IsOptOut(code string) bool {
	_, ok := c.optOut[normalizeCode(code)]
	return ok
}

// IsCharged reports whether the gateway bills a failed attempt with this code
func (c *Classifier) IsCharged(code string) bool {
	_, ok := c.charged[normalizeCode(code)]
	return ok
}

func codeSet(codes []string) map[string]struct{} {
	set := make(map[string]struct{}, len(codes))
	for _, code := range codes {
		if code = normalizeCode(code); code != "" {
			set[code] = struct{}{}
		}
	}
	return set
}

func normalizeCode(code string) string {
	return strings.ToLower(strings.TrimSpace(code))
}

// RefundPolicy decides whether a message that exhausted its retries gives its quota unit back
type RefundPolicy string

const (
	// RefundPreGateway refunds unless some attempt failed with a charged code
	RefundPreGateway RefundPolicy = "pre_gateway"
	RefundAlways     RefundPolicy = "always"
	RefundNever      RefundPolicy = "never"
)

// ParseRefundPolicy validates a configured policy name
func ParseRefundPolicy(s string) (RefundPolicy, error) {
	switch p := RefundPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case RefundPreGateway, RefundAlways, RefundNever:
		return p, nil
	case "":
		return RefundPreGateway, nil
	default:
		return "", fmt.Errorf("unknown refund policy %q", s)
	}
}

// refundAfterExhaustion applies the policy to the codes of every failed attempt
func (p RefundPolicy) refundAfterExhaustion(c *Classifier, codes []string) bool {
	switch p {
	case RefundAlways:
		return true
	case RefundNever:
		return false
	}
	for _, code := range codes {
		if c.IsCharged(code) {
			return false
		}
	}
	return true
}
