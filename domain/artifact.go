package domain

import "encoding/json"

// ArtifactBlock is a fenced, typed, JSON-bearing segment embedded in an
// assistant's text response. Before and After hold the surrounding text
// verbatim.
type ArtifactBlock struct {
	Type    ArtifactType    `json:"type"`
	Title   string          `json:"title,omitempty"`
	Payload json.RawMessage `json:"payload"`
	Before  string          `json:"before,omitempty"`
	After   string          `json:"after,omitempty"`
}

// FieldSpec declares a single form field. Consumed, not produced, by this
// runtime.
type FieldSpec struct {
	Name        string           `json:"name"`
	DisplayName string           `json:"displayName"`
	Type        FieldType        `json:"type"`
	Validation  *FieldValidation `json:"validation,omitempty"`
	Examples    []string         `json:"examples,omitempty"`
}

// FieldValidation holds the declarative validation rules of a field.
type FieldValidation struct {
	Required  bool     `json:"required,omitempty"`
	Pattern   string   `json:"pattern,omitempty"`
	MinLength int      `json:"minLength,omitempty"`
	MaxLength int      `json:"maxLength,omitempty"`
	Enum      []string `json:"enum,omitempty"`
}

// FormArtifact is the payload of an artifact:form block.
type FormArtifact struct {
	Title       string           `json:"title,omitempty"`
	Description string           `json:"description,omitempty"`
	Fields      []FieldSpec      `json:"fields"`
	Actions     []ArtifactAction `json:"actions,omitempty"`
}

// ErrorArtifact is the payload of an artifact:error block.
type ErrorArtifact struct {
	Error    ErrorDetail   `json:"error"`
	Recovery ErrorRecovery `json:"recovery"`
}

// ErrorDetail describes the error reported by the backend.
type ErrorDetail struct {
	Code     string `json:"code"`
	Severity string `json:"severity"`
	Message  string `json:"message"`
}

// ErrorRecovery describes how the user can recover from an error artifact.
type ErrorRecovery struct {
	Suggestions []string         `json:"suggestions,omitempty"`
	Actions     []ArtifactAction `json:"actions,omitempty"`
}

// ArtifactAction is a user-visible affordance carried by an artifact. Its
// invocation emits the action id back to the backend.
type ArtifactAction struct {
	Label  string `json:"label"`
	Action string `json:"action"`
}
