package prediction

import "fmt"

// Severity is the coarse bucket that drives styling and guidance content.
type Severity string

const (
	SeverityLow     Severity = "low"
	SeverityMedium  Severity = "medium"
	SeverityHigh    Severity = "high"
	SeverityUnknown Severity = "unknown"
)

// Label is a class name emitted by the remote classifier.
type Label string

// The closed set of labels the remote model can emit.
const (
	LabelMelanoma     Label = "Melanoma"
	LabelTinea        Label = "Tinea"
	LabelRandomObject Label = "Random Object"
)

// Prediction is the presentation model for a single classification.
type Prediction struct {
	Label          string   `json:"label"`
	Confidence     float64  `json:"confidence"`
	Description    string   `json:"description"`
	Severity       Severity `json:"severity"`
	WhatToDo       []string `json:"whatToDo,omitempty"`
	WhatNotToDo    []string `json:"whatNotToDo,omitempty"`
	AdditionalInfo string   `json:"additionalInfo,omitempty"`
	Stage          string   `json:"stage,omitempty"`
	Message        string   `json:"message,omitempty"`
}

// RawResponse is the decoded JSON object returned by the classifier. Its
// shape is not trusted; accessors never fail.
type RawResponse map[string]any

// Class returns the reported label, or "" when absent.
func (r RawResponse) Class() string {
	return r.text("class")
}

// Confidence returns the unparsed confidence value.
func (r RawResponse) Confidence() any {
	return r["confidence"]
}

// Stage returns the pipeline stage reported by the backend, if any.
func (r RawResponse) Stage() string {
	return r.text("stage")
}

// Message returns the backend's informational message, if any.
func (r RawResponse) Message() string {
	return r.text("message")
}

// BackendError returns the error string the backend embeds in a 200 response
// when its models are not loaded or inference throws.
func (r RawResponse) BackendError() string {
	return r.text("error")
}

func (r RawResponse) text(key string) string {
	value, ok := r[key]
	if !ok || value == nil {
		return ""
	}
	if s, ok := value.(string); ok {
		return s
	}
	return fmt.Sprint(value)
}
