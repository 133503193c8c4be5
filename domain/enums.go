// Package domain defines the core domain models for the runtime.
package domain

// Role represents the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Valid reports whether the role is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// ArtifactType represents the declared kind of an embedded structured block.
// The namespace is open: backends may introduce new types, which are carried
// through with their raw payload.
type ArtifactType string

const (
	ArtifactTypeForm  ArtifactType = "form"
	ArtifactTypeError ArtifactType = "error"
	ArtifactTypeData  ArtifactType = "data"
)

// FormState represents the state of a guided-form session.
type FormState string

const (
	FormStateIdle       FormState = "IDLE"
	FormStateCollecting FormState = "COLLECTING"
	FormStateReviewing  FormState = "REVIEWING"
	FormStateSubmitted  FormState = "SUBMITTED"
)

// FieldType represents the declared type of a form field.
type FieldType string

const (
	FieldTypeString  FieldType = "string"
	FieldTypeNumber  FieldType = "number"
	FieldTypeDate    FieldType = "date"
	FieldTypeBoolean FieldType = "boolean"
)
