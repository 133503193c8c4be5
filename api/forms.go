package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/lmarchetti42/chatform/domain"
	"github.com/lmarchetti42/chatform/form"
	"github.com/lmarchetti42/chatform/session"
)

type startFormRequest struct {
	Fields []domain.FieldSpec `json:"fields,omitempty"`
}

type respondFormRequest struct {
	Field string `json:"field"`
	Value any    `json:"value"`
}

type editFormRequest struct {
	Field string `json:"field"`
}

// StartForm begins guided collection for the session's form.
// POST /v1/sessions/:id/form/start
func (h *Handler) StartForm(c echo.Context) error {
	coord, err := h.openSession(c)
	if err != nil {
		return err
	}

	var req startFormRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	prompt, err := coord.StartForm(req.Fields)
	if err != nil {
		return formError(c, err)
	}
	return c.JSON(http.StatusOK, prompt)
}

// RespondForm submits the user's answer for the field currently awaited.
// POST /v1/sessions/:id/form/respond
func (h *Handler) RespondForm(c echo.Context) error {
	coord, err := h.openSession(c)
	if err != nil {
		return err
	}

	var req respondFormRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if req.Field == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "field is required"})
	}

	result, err := coord.RespondForm(req.Field, req.Value)
	if err != nil {
		return formError(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

// AcceptForm confirms every prefilled answer at once.
// POST /v1/sessions/:id/form/accept
func (h *Handler) AcceptForm(c echo.Context) error {
	coord, err := h.openSession(c)
	if err != nil {
		return err
	}

	result, err := coord.AcceptForm()
	if err != nil {
		return formError(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

// EditForm re-opens a specific field for correction.
// POST /v1/sessions/:id/form/edit
func (h *Handler) EditForm(c echo.Context) error {
	coord, err := h.openSession(c)
	if err != nil {
		return err
	}

	var req editFormRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if req.Field == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "field is required"})
	}

	prompt, err := coord.EditForm(req.Field)
	if err != nil {
		return formError(c, err)
	}
	return c.JSON(http.StatusOK, prompt)
}

// ReviewForm returns the review summary of all collected answers.
// GET /v1/sessions/:id/form/review
func (h *Handler) ReviewForm(c echo.Context) error {
	coord, err := h.openSession(c)
	if err != nil {
		return err
	}

	review, err := coord.ReviewForm()
	if err != nil {
		return formError(c, err)
	}
	return c.JSON(http.StatusOK, review)
}

// SubmitForm finalizes the form and returns the collected answers.
// POST /v1/sessions/:id/form/submit
func (h *Handler) SubmitForm(c echo.Context) error {
	coord, err := h.openSession(c)
	if err != nil {
		return err
	}

	answers, err := coord.SubmitForm()
	if err != nil {
		return formError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"answers": answers})
}

func formError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, session.ErrNoFormSchema):
		return c.JSON(http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, form.ErrInvalidState):
		return c.JSON(http.StatusConflict, map[string]string{"error": err.Error()})
	case errors.Is(err, form.ErrUnexpectedField), errors.Is(err, form.ErrUnknownField):
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	default:
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
}
