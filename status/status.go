// Package status maps gate outcomes to the marker protocol used at the HTTP
// boundary. Gates work with core.Outcome values; markers only appear when a
// response is rendered as text or a raw gate text is classified back.
package status

import (
	"net/http"
	"strings"

	"github.com/goliatone/go-botfactory/core"
)

const (
	MarkerUnauthorized = "[UNAUTHORIZED]"
	MarkerError        = "[ERROR]"
	MarkerBadRequest   = "[BAD_REQUEST]"
)

// Rule binds one marker to the outcome and status it selects.
type Rule struct {
	Marker  string
	Outcome core.Outcome
	Code    int
}

// Rules is evaluated in order and the first marker found in the text wins.
var Rules = []Rule{
	{Marker: MarkerUnauthorized, Outcome: core.OutcomeUnauthorized, Code: http.StatusUnauthorized},
	{Marker: MarkerError, Outcome: core.OutcomeInternalError, Code: http.StatusInternalServerError},
	{Marker: MarkerBadRequest, Outcome: core.OutcomeBadRequest, Code: http.StatusBadRequest},
}

// Classify returns the outcome and HTTP status selected by raw gate text.
// Text without any marker is accepted.
func Classify(text string) (core.Outcome, int) {
	for _, rule := range Rules {
		if strings.Contains(text, rule.Marker) {
			return rule.Outcome, rule.Code
		}
	}
	return core.OutcomeAccepted, http.StatusOK
}

func Code(outcome core.Outcome) int {
	for _, rule := range Rules {
		if rule.Outcome == outcome {
			return rule.Code
		}
	}
	if outcome == core.OutcomeAccepted {
		return http.StatusOK
	}
	return http.StatusInternalServerError
}

func Marker(outcome core.Outcome) string {
	for _, rule := range Rules {
		if rule.Outcome == outcome {
			return rule.Marker
		}
	}
	return ""
}

// Render serializes an outcome and its reason to marker text.
func Render(outcome core.Outcome, reason string) string {
	marker := Marker(outcome)
	if marker == "" {
		return reason
	}
	return marker + ": " + reason
}
