package session

import (
	"fmt"

	"github.com/lmarchetti42/chatform/domain"
	"github.com/lmarchetti42/chatform/form"
)

// StartForm begins a guided-form conversation. When fields are supplied they
// define a fresh schema, seeded with the latest extracted data; otherwise the
// schema must have arrived earlier in a form artifact.
func (c *Coordinator) StartForm(fields []domain.FieldSpec) (*form.Prompt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(fields) > 0 {
		engine := form.NewEngine(fields)
		if c.lastFields != nil {
			if err := engine.SetExtractedData(c.lastFields); err != nil {
				return nil, err
			}
		}
		c.form = engine
	}
	if c.form == nil {
		return nil, ErrNoFormSchema
	}
	return c.form.Start()
}

// RespondForm validates and stores one field answer.
func (c *Coordinator) RespondForm(fieldName string, value any) (*form.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.form == nil {
		return nil, ErrNoFormSchema
	}
	return c.form.ProcessResponse(fieldName, value)
}

// AcceptForm accepts all pre-filled answers.
func (c *Coordinator) AcceptForm() (*form.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.form == nil {
		return nil, ErrNoFormSchema
	}
	return c.form.Accept()
}

// EditForm re-enters collection at the named field.
func (c *Coordinator) EditForm(fieldName string) (*form.Prompt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.form == nil {
		return nil, ErrNoFormSchema
	}
	return c.form.Edit(fieldName)
}

// ReviewForm produces the consolidated review summary.
func (c *Coordinator) ReviewForm() (*form.Review, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.form == nil {
		return nil, ErrNoFormSchema
	}
	return c.form.GenerateReviewMessage()
}

// SubmitForm finalizes the form and hands the collected answers off as an
// opaque payload. The form session is terminated.
func (c *Coordinator) SubmitForm() (*domain.FieldMap, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.form == nil {
		return nil, ErrNoFormSchema
	}
	answers, err := c.form.Submit()
	if err != nil {
		return nil, fmt.Errorf("failed to submit form: %w", err)
	}
	c.form = nil
	c.broadcast("form.submitted", map[string]any{
		"session_id": c.session.SessionID,
		"answers":    answers,
	})
	return answers, nil
}

// FormState returns the state of the current form session, if any.
func (c *Coordinator) FormState() (domain.FormState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.form == nil {
		return "", false
	}
	return c.form.State(), true
}
