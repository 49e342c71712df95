package oracle

import "strings"

// Verdict is a classified oracle outcome.
type Verdict int

const (
	VerdictPass Verdict = iota
	VerdictFail
)

func (v Verdict) String() string {
	if v == VerdictFail {
		return "fail"
	}
	return "pass"
}

// Classifier turns a vision oracle's free-text outcome into a verdict.
// Isolated behind an interface so keyword matching can later be replaced
// by structured oracle output without touching validation control flow.
type Classifier interface {
	Classify(outcome string) Verdict
}

// KeywordClassifier classifies by substring match. Failure keywords are
// checked before success keywords so negations like "not visible" are not
// misread as the success keyword they contain. Absent both, the outcome
// passes: the vision oracle is heuristic evidence and ambiguity fails open.
type KeywordClassifier struct {
	FailureKeywords []string
	SuccessKeywords []string
}

// NewKeywordClassifier returns a classifier with the default vocabulary.
func NewKeywordClassifier() *KeywordClassifier {
	return &KeywordClassifier{
		FailureKeywords: []string{"error", "failed", "not visible", "closed", "busy"},
		SuccessKeywords: []string{"yes", "visible", "success", "posted"},
	}
}

func (c *KeywordClassifier) Classify(outcome string) Verdict {
	lower := strings.ToLower(outcome)
	for _, kw := range c.FailureKeywords {
		if strings.Contains(lower, kw) {
			return VerdictFail
		}
	}
	for _, kw := range c.SuccessKeywords {
		if strings.Contains(lower, kw) {
			return VerdictPass
		}
	}
	return VerdictPass
}
