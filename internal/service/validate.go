package service

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/sakif/meeting-scheduler/internal/apperror"
)

// Field limits for meeting input.
const (
	MaxTitleLength       = 100
	MaxDescriptionLength = 500
	MaxLocationLength    = 100
	MaxAttendees         = 100
)

// CreateMeetingInput is what a caller supplies to schedule a meeting. Times
// may carry any offset; the service stores them in UTC.
type CreateMeetingInput struct {
	Title          string    `json:"title"           validate:"required,max=100"`
	Description    string    `json:"description"     validate:"max=500"`
	StartTime      time.Time `json:"start_time"      validate:"required"`
	EndTime        time.Time `json:"end_time"        validate:"required,gtfield=StartTime"`
	Location       string    `json:"location"        validate:"max=100"`
	AttendeeEmails []string  `json:"attendee_emails" validate:"max=100"`
}

// UpdateMeetingInput carries a partial update. Nil fields are left alone;
// a non-nil AttendeeEmails (even empty) replaces the attendee set.
type UpdateMeetingInput struct {
	Title          *string    `json:"title"           validate:"omitnil,min=1,max=100"`
	Description    *string    `json:"description"     validate:"omitnil,max=500"`
	StartTime      *time.Time `json:"start_time"`
	EndTime        *time.Time `json:"end_time"`
	Location       *string    `json:"location"        validate:"omitnil,max=100"`
	AttendeeEmails []string   `json:"attendee_emails" validate:"omitnil,max=100"`
}

// RegisterInput is the account registration payload.
type RegisterInput struct {
	Email    string `json:"email"     validate:"required,email,max=254"`
	FullName string `json:"full_name" validate:"max=100"`
	Password string `json:"password"  validate:"required"`
	Timezone string `json:"timezone"  validate:"omitempty,timezone"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report json names so errors match what the client sent.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validateStruct runs the struct tags and converts the first failure into an
// apperror validation error.
func validateStruct(s any) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return fmt.Errorf("service: validating input: %w", err)
	}

	fe := verrs[0]
	return apperror.ValidationFailed(fe.Field(), describe(fe))
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "min":
		return fmt.Sprintf("%s must not be empty", fe.Field())
	case "max":
		if fe.Kind() == reflect.Slice {
			return fmt.Sprintf("%s must have at most %s entries", fe.Field(), fe.Param())
		}
		return fmt.Sprintf("%s must be %s characters or less", fe.Field(), fe.Param())
	case "gtfield":
		return "end time must be after start time"
	case "email":
		return fmt.Sprintf("%s must be a valid email address", fe.Field())
	case "timezone":
		return fmt.Sprintf("%s must be an IANA time zone name", fe.Field())
	default:
		return fmt.Sprintf("%s is invalid", fe.Field())
	}
}

// validateInterval checks an update's times when both are supplied. A single
// supplied bound is checked by the store against the merged meeting.
func (in UpdateMeetingInput) validateInterval() error {
	if in.StartTime != nil && in.EndTime != nil && !in.EndTime.After(*in.StartTime) {
		return apperror.ValidationFailed("end_time", "end time must be after start time")
	}
	return nil
}
