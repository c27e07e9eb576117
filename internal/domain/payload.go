package domain

import (
	"errors"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

const (
	MaxReportHours      = 744
	MaxDeliverables     = 50
	MaxDeliverableChars = 200
	MaxNarrativeChars   = 20000
)

// ReportPayload is the editable content of a report.
type ReportPayload struct {
	ReportID     string     `json:"-"`
	Activities   string     `json:"activities" validate:"max=20000"`
	Results      string     `json:"results" validate:"max=20000"`
	Difficulties string     `json:"difficulties,omitempty" validate:"max=20000"`
	NextSteps    string     `json:"next_steps,omitempty" validate:"max=20000"`
	Remarks      string     `json:"remarks,omitempty" validate:"max=20000"`
	Hours        *int       `json:"hours,omitempty" validate:"omitempty,min=0,max=744"`
	Deliverables []string   `json:"deliverables" validate:"max=50,dive,max=200"`
	LastSavedAt  *time.Time `json:"last_saved_at,omitempty" validate:"-"`
}

var payloadValidator = validator.New(validator.WithRequiredStructEnabled())

// ValidationError carries the offending fields and their failed rule.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+e.Fields[k])
	}
	return "invalid payload: " + strings.Join(parts, ", ")
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidArgument
}

// Validate checks the payload shape. It does not enforce the submission
// requirements; see MissingRequired.
func (p ReportPayload) Validate() error {
	err := payloadValidator.Struct(p)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	fields := make(map[string]string, len(verrs))
	for _, ve := range verrs {
		fields[ve.Namespace()] = ve.Tag()
	}
	return &ValidationError{Fields: fields}
}

// MissingRequired names the mandatory fields that are blank after trimming.
func (p ReportPayload) MissingRequired() []string {
	var missing []string
	if strings.TrimSpace(p.Activities) == "" {
		missing = append(missing, "activities")
	}
	if strings.TrimSpace(p.Results) == "" {
		missing = append(missing, "results")
	}
	return missing
}

// Normalized trims the deliverables list and drops blank entries while
// keeping order.
func (p ReportPayload) Normalized() ReportPayload {
	out := p
	out.Deliverables = make([]string, 0, len(p.Deliverables))
	for _, d := range p.Deliverables {
		d = strings.TrimSpace(d)
		if d != "" {
			out.Deliverables = append(out.Deliverables, d)
		}
	}
	return out
}

// TextFields maps each free-text field to its value, keyed the way
// Validate names fields.
func (p ReportPayload) TextFields() map[string]string {
	fields := map[string]string{
		"ReportPayload.Activities":   p.Activities,
		"ReportPayload.Results":      p.Results,
		"ReportPayload.Difficulties": p.Difficulties,
		"ReportPayload.NextSteps":    p.NextSteps,
		"ReportPayload.Remarks":      p.Remarks,
	}
	for i, d := range p.Deliverables {
		fields["ReportPayload.Deliverables["+strconv.Itoa(i)+"]"] = d
	}
	return fields
}
