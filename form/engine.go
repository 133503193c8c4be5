// Package form drives a field-by-field guided conversation over a declared
// field schema, with validation, pre-filled answers and a review phase.
package form

import (
	"errors"
	"fmt"
	"strings"

	"github.com/lmarchetti42/chatform/domain"
)

var (
	// ErrInvalidState is returned when an operation is not valid in the
	// engine's current state.
	ErrInvalidState = errors.New("operation not valid in current form state")

	// ErrUnexpectedField is returned when a response names a field other
	// than the one currently being collected.
	ErrUnexpectedField = errors.New("response does not match the field being collected")

	// ErrUnknownField is returned when a field name is not in the schema.
	ErrUnknownField = errors.New("field not declared in schema")
)

// Prompt is the next thing to ask the user.
type Prompt struct {
	Field        *domain.FieldSpec       `json:"field,omitempty"`
	Message      string                  `json:"message"`
	QuickConfirm bool                    `json:"quick_confirm,omitempty"`
	Actions      []domain.ArtifactAction `json:"actions,omitempty"`
}

// Result is the outcome of processing one field response.
type Result struct {
	IsValid    bool    `json:"is_valid"`
	Error      string  `json:"error,omitempty"`
	IsComplete bool    `json:"is_complete"`
	Next       *Prompt `json:"next,omitempty"`
}

// Review is the consolidated summary produced before submission.
type Review struct {
	Message string                  `json:"message"`
	Answers *domain.FieldMap        `json:"answers"`
	Actions []domain.ArtifactAction `json:"actions"`
}

// Engine walks an ordered field schema one field at a time.
//
// States: Idle -> Collecting (one field at a time) -> Reviewing -> Submitted.
// There is no transition out of Submitted.
type Engine struct {
	fields  []domain.FieldSpec
	answers *domain.FieldMap
	cursor  int
	state   domain.FormState
	seeded  bool
}

// NewEngine creates an engine over an ordered field schema.
func NewEngine(fields []domain.FieldSpec) *Engine {
	return &Engine{
		fields:  fields,
		answers: domain.NewFieldMap(),
		state:   domain.FormStateIdle,
	}
}

// State returns the current form state.
func (e *Engine) State() domain.FormState {
	return e.state
}

// Fields returns the field schema.
func (e *Engine) Fields() []domain.FieldSpec {
	return e.fields
}

// Answers returns the collected answers keyed by field name.
func (e *Engine) Answers() *domain.FieldMap {
	return e.answers
}

// CurrentField returns the field currently being collected.
func (e *Engine) CurrentField() (*domain.FieldSpec, bool) {
	if e.state != domain.FormStateCollecting || e.cursor >= len(e.fields) {
		return nil, false
	}
	return &e.fields[e.cursor], true
}

// SetExtractedData seeds answers from an extracted field map for any field
// names present in it. Valid only before Start.
func (e *Engine) SetExtractedData(fm *domain.FieldMap) error {
	if e.state != domain.FormStateIdle {
		return fmt.Errorf("%w: %s", ErrInvalidState, e.state)
	}
	if fm == nil {
		return nil
	}
	for _, f := range e.fields {
		if v, ok := fm.Get(f.Name); ok {
			e.answers.Set(f.Name, v)
			e.seeded = true
		}
	}
	return nil
}

// Start begins the conversation. With seeded answers it produces a
// quick-confirm prompt offering accept/edit; otherwise it prompts for the
// first field.
func (e *Engine) Start() (*Prompt, error) {
	if e.state != domain.FormStateIdle {
		return nil, fmt.Errorf("%w: %s", ErrInvalidState, e.state)
	}
	if len(e.fields) == 0 {
		return nil, fmt.Errorf("%w: empty schema", ErrInvalidState)
	}
	e.state = domain.FormStateCollecting
	e.cursor = 0

	if e.seeded {
		return e.quickConfirmPrompt(), nil
	}
	return e.fieldPrompt(&e.fields[0]), nil
}

// ProcessResponse validates and stores one field answer. It is valid only
// while collecting, and only for the field the cursor points at. An invalid
// answer leaves the cursor unchanged.
func (e *Engine) ProcessResponse(fieldName string, value any) (*Result, error) {
	field, ok := e.CurrentField()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrInvalidState, e.state)
	}
	if field.Name != fieldName {
		return nil, fmt.Errorf("%w: expected %q, got %q", ErrUnexpectedField, field.Name, fieldName)
	}

	if err := Validate(*field, value); err != nil {
		return &Result{IsValid: false, Error: err.Error()}, nil
	}

	e.answers.Set(field.Name, value)
	return e.advance(), nil
}

// Accept takes all seeded answers as given and moves on to the first field
// that still lacks an answer, or straight to review.
func (e *Engine) Accept() (*Result, error) {
	if e.state != domain.FormStateCollecting {
		return nil, fmt.Errorf("%w: %s", ErrInvalidState, e.state)
	}
	return e.advanceFrom(-1), nil
}

// Edit re-enters collection at the named field without discarding answers
// for other fields.
func (e *Engine) Edit(fieldName string) (*Prompt, error) {
	if e.state != domain.FormStateCollecting && e.state != domain.FormStateReviewing {
		return nil, fmt.Errorf("%w: %s", ErrInvalidState, e.state)
	}
	idx := e.fieldIndex(fieldName)
	if idx < 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnknownField, fieldName)
	}
	e.state = domain.FormStateCollecting
	e.cursor = idx
	return e.fieldPrompt(&e.fields[idx]), nil
}

// GenerateReviewMessage produces the consolidated summary of every collected
// answer. Valid only from Reviewing.
func (e *Engine) GenerateReviewMessage() (*Review, error) {
	if e.state != domain.FormStateReviewing {
		return nil, fmt.Errorf("%w: %s", ErrInvalidState, e.state)
	}

	var b strings.Builder
	b.WriteString("Please review your answers:\n")
	for _, f := range e.fields {
		v, ok := e.answers.Get(f.Name)
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "- %s: %v\n", displayName(f), v)
	}
	b.WriteString("Confirm to submit, or pick a field to edit.")

	return &Review{
		Message: b.String(),
		Answers: e.answers,
		Actions: []domain.ArtifactAction{
			{Label: "Confirm", Action: "confirm"},
			{Label: "Edit", Action: "edit"},
		},
	}, nil
}

// Submit finalizes the form. Valid only from Reviewing. The returned map is
// exactly what was collected, with no coercion applied.
func (e *Engine) Submit() (*domain.FieldMap, error) {
	if e.state != domain.FormStateReviewing {
		return nil, fmt.Errorf("%w: %s", ErrInvalidState, e.state)
	}
	e.state = domain.FormStateSubmitted
	return e.answers, nil
}

// advance moves the cursor to the next field lacking an answer, entering
// Reviewing when none remain.
func (e *Engine) advance() *Result {
	return e.advanceFrom(e.cursor)
}

func (e *Engine) advanceFrom(after int) *Result {
	n := len(e.fields)
	for step := 1; step <= n; step++ {
		idx := (after + step + n) % n
		if _, answered := e.answers.Get(e.fields[idx].Name); !answered {
			e.cursor = idx
			return &Result{IsValid: true, Next: e.fieldPrompt(&e.fields[idx])}
		}
	}
	e.state = domain.FormStateReviewing
	return &Result{IsValid: true, IsComplete: true}
}

func (e *Engine) fieldIndex(name string) int {
	for i := range e.fields {
		if e.fields[i].Name == name {
			return i
		}
	}
	return -1
}

func (e *Engine) fieldPrompt(f *domain.FieldSpec) *Prompt {
	var b strings.Builder
	fmt.Fprintf(&b, "Please provide %s.", displayName(*f))
	if len(f.Examples) > 0 {
		fmt.Fprintf(&b, " For example: %s.", strings.Join(f.Examples, ", "))
	}
	return &Prompt{Field: f, Message: b.String()}
}

func (e *Engine) quickConfirmPrompt() *Prompt {
	var filled int
	for _, f := range e.fields {
		if _, ok := e.answers.Get(f.Name); ok {
			filled++
		}
	}
	msg := fmt.Sprintf("I already have %d of %d fields from your documents. Accept them, or edit any field.",
		filled, len(e.fields))
	return &Prompt{
		Message:      msg,
		QuickConfirm: true,
		Actions: []domain.ArtifactAction{
			{Label: "Accept", Action: "accept"},
			{Label: "Edit", Action: "edit"},
		},
	}
}

func displayName(f domain.FieldSpec) string {
	if f.DisplayName != "" {
		return f.DisplayName
	}
	return f.Name
}
