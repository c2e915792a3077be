package process

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyErrorKeywords(t *testing.T) {
	c := NewKeywordClassifier()

	errorLines := []string{
		"Error: something broke",
		"E0612 handshake FAILED",
		"unable to listen on any of the requested ports",
		"dial tcp 127.0.0.1:9090: connection refused",
		"lost connection to pod prometheus-0",
		"An error occurred forwarding 8080 -> 9090",
	}
	for _, line := range errorLines {
		assert.Equal(t, SeverityError, c.Classify(line), "line: %s", line)
	}
}

func TestClassifyWarningKeyword(t *testing.T) {
	c := NewKeywordClassifier()
	assert.Equal(t, SeverityWarning, c.Classify("Warning: deprecated flag"))
	// The bias is permissive: "warning" anywhere in an info line escalates it.
	assert.Equal(t, SeverityWarning, c.Classify("some info mentioning a warning in passing"))
}

func TestClassifyInfo(t *testing.T) {
	c := NewKeywordClassifier()
	assert.Equal(t, SeverityInfo, c.Classify("Forwarding from 127.0.0.1:8080 -> 9090"))
	assert.Equal(t, SeverityInfo, c.Classify("Handling connection for 8080"))
}

func TestClassifyMatchingIsCaseInsensitive(t *testing.T) {
	c := NewKeywordClassifier()
	assert.Equal(t, SeverityError, c.Classify("CONNECTION REFUSED"))
	assert.Equal(t, SeverityError, c.Classify("Unable To resolve host"))
}

// Error keywords win over warning keywords when both appear.
func TestClassifyErrorBeatsWarning(t *testing.T) {
	c := NewKeywordClassifier()
	assert.Equal(t, SeverityError, c.Classify("warning: operation failed"))
}
