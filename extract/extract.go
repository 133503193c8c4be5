package extract

import (
	"encoding/json"
	"strings"

	"go.uber.org/zap"

	"github.com/lmarchetti42/chatform/domain"
)

const (
	artifactInfoPrefix = "artifact:"
	genericInfo        = "json"
)

// Result is the outcome of scanning a text blob for one embedded block. When
// Artifact is nil the whole text is plain content and Before carries it in
// full.
type Result struct {
	Before   string
	Artifact *domain.ArtifactBlock
	After    string
	Form     *domain.FormArtifact
	Error    *domain.ErrorArtifact
}

// Extractor scans assistant text for the first complete embedded block. It
// never fails: malformed payloads degrade to plain text and are only logged.
type Extractor struct {
	logger *zap.Logger
}

// NewExtractor creates an extractor.
func NewExtractor(logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{logger: logger}
}

// Extract searches text for the first complete fenced block carrying an
// artifact:<type> info string, falling back to a generic json block. A block
// whose closing fence has not arrived yet does not match; the text is then
// treated as plain content. At most one block is extracted.
func (e *Extractor) Extract(text string) Result {
	if blk, ok := findFencedBlock(text, func(info string) bool {
		return strings.HasPrefix(info, artifactInfoPrefix) && len(info) > len(artifactInfoPrefix)
	}); ok {
		typ := domain.ArtifactType(strings.TrimSpace(strings.TrimPrefix(blk.info, artifactInfoPrefix)))
		if res, ok := e.interpret(text, blk, typ); ok {
			return res
		}
		// Malformed typed block: whole message stays plain text.
		return Result{Before: text}
	}

	if blk, ok := findFencedBlock(text, func(info string) bool {
		return info == genericInfo
	}); ok {
		if res, ok := e.interpret(text, blk, domain.ArtifactTypeData); ok {
			return res
		}
		return Result{Before: text}
	}

	return Result{Before: text}
}

// interpret parses a block body according to its declared type. A payload
// that is not valid JSON, or whose shape does not match the declared type,
// rejects the block.
func (e *Extractor) interpret(text string, blk fencedBlock, typ domain.ArtifactType) (Result, bool) {
	body := strings.TrimSpace(blk.body)
	if !json.Valid([]byte(body)) {
		e.logger.Warn("artifact payload is not valid JSON, treating message as plain text",
			zap.String("artifact_type", string(typ)))
		return Result{}, false
	}

	res := Result{
		Before: text[:blk.start],
		After:  text[blk.end:],
		Artifact: &domain.ArtifactBlock{
			Type:    typ,
			Payload: json.RawMessage(body),
			Before:  text[:blk.start],
			After:   text[blk.end:],
		},
	}

	switch typ {
	case domain.ArtifactTypeForm:
		form, err := parseFormArtifact([]byte(body))
		if err != nil {
			e.logger.Warn("form artifact payload shape mismatch",
				zap.Error(err))
			return Result{}, false
		}
		res.Form = form
		res.Artifact.Title = form.Title
	case domain.ArtifactTypeError:
		var ea domain.ErrorArtifact
		if err := json.Unmarshal([]byte(body), &ea); err != nil {
			e.logger.Warn("error artifact payload shape mismatch", zap.Error(err))
			return Result{}, false
		}
		if ea.Error.Message == "" && ea.Error.Code == "" {
			e.logger.Warn("error artifact payload missing error detail")
			return Result{}, false
		}
		res.Error = &ea
	default:
		// Open namespace: unknown types carry their raw payload through.
		var meta struct {
			Title string `json:"title"`
		}
		if err := json.Unmarshal([]byte(body), &meta); err == nil {
			res.Artifact.Title = meta.Title
		}
	}

	return res, true
}

// parseFormArtifact accepts the two shapes the backend emits for form
// payloads: fields as an array of specs, or fields as an object keyed by
// field name.
func parseFormArtifact(body []byte) (*domain.FormArtifact, error) {
	var form domain.FormArtifact
	if err := json.Unmarshal(body, &form); err == nil && len(form.Fields) > 0 {
		return &form, nil
	}

	var keyed struct {
		Title       string                     `json:"title"`
		Description string                     `json:"description"`
		Fields      map[string]json.RawMessage `json:"fields"`
		Actions     []domain.ArtifactAction    `json:"actions"`
	}
	if err := json.Unmarshal(body, &keyed); err != nil {
		return nil, err
	}
	if len(keyed.Fields) == 0 {
		return nil, errMissingFields
	}

	// Preserve the order the fields appeared in the payload.
	fm := domain.NewFieldMap()
	if err := json.Unmarshal(mustField(body, "fields"), fm); err != nil {
		return nil, err
	}
	form = domain.FormArtifact{
		Title:       keyed.Title,
		Description: keyed.Description,
		Actions:     keyed.Actions,
	}
	for _, name := range fm.Paths() {
		var spec domain.FieldSpec
		if err := json.Unmarshal(keyed.Fields[name], &spec); err != nil {
			return nil, err
		}
		if spec.Name == "" {
			spec.Name = name
		}
		if spec.DisplayName == "" {
			spec.DisplayName = spec.Name
		}
		if spec.Type == "" {
			spec.Type = domain.FieldTypeString
		}
		form.Fields = append(form.Fields, spec)
	}
	return &form, nil
}

// mustField returns the raw bytes of one top-level key of a JSON object.
func mustField(body []byte, key string) json.RawMessage {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(body, &top); err != nil {
		return nil
	}
	return top[key]
}
