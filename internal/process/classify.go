package process

import "strings"

// Severity is the classification of one subprocess output line.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
)

// Classifier decides how severe a subprocess output line is. It is pluggable
// so text matching can be swapped for structured log handling if the
// underlying tool ever supports it.
type Classifier interface {
	Classify(line string) Severity
}

// KeywordClassifier matches lower-cased lines against fixed keyword sets.
// The error set is deliberately broad: a false positive costs one extra
// reconnect cycle, a false negative risks a stuck connection.
type KeywordClassifier struct {
	errorKeywords   []string
	warningKeywords []string
}

// NewKeywordClassifier returns the default classifier used for kubectl and
// relay process output.
func NewKeywordClassifier() *KeywordClassifier {
	return &KeywordClassifier{
		errorKeywords: []string{
			"error",
			"failed",
			"unable to",
			"connection refused",
			"lost connection",
			"an error occurred",
		},
		warningKeywords: []string{
			"warning",
		},
	}
}

// Classify implements Classifier.
func (c *KeywordClassifier) Classify(line string) Severity {
	lower := strings.ToLower(line)
	for _, kw := range c.errorKeywords {
		if strings.Contains(lower, kw) {
			return SeverityError
		}
	}
	for _, kw := range c.warningKeywords {
		if strings.Contains(lower, kw) {
			return SeverityWarning
		}
	}
	return SeverityInfo
}
