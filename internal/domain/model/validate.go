package model

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Sentinel kinds for boundary validation.
var (
	ErrMalformedEvent = errors.New("malformed event")
	ErrInvalidInput   = errors.New("invalid input")
)

// validate is shared by all boundary checks; validator caches struct metadata.
var validate = validator.New(validator.WithRequiredStructEnabled()) //nolint:gochecknoglobals // cached validator instance

// ValidateEvent checks the envelope and the variant it carries.
func ValidateEvent(e Event) error {
	if err := validate.Struct(e); err != nil {
		return fmt.Errorf("%w: %s", ErrMalformedEvent, describe(err))
	}
	switch e.Kind {
	case KindSubmissionRecorded:
		if e.Submission == nil || e.Hint != nil {
			return fmt.Errorf("%w: kind %s requires only a submission payload", ErrMalformedEvent, e.Kind)
		}
		if err := validate.Struct(e.Submission); err != nil {
			return fmt.Errorf("%w: %s", ErrMalformedEvent, describe(err))
		}
	case KindHintUsed:
		if e.Hint == nil || e.Submission != nil {
			return fmt.Errorf("%w: kind %s requires only a hint payload", ErrMalformedEvent, e.Kind)
		}
		if err := validate.Struct(e.Hint); err != nil {
			return fmt.Errorf("%w: %s", ErrMalformedEvent, describe(err))
		}
	}
	return nil
}

// Validate checks any tagged struct (teams, levels, admin requests).
func Validate(v any) error {
	if err := validate.Struct(v); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidInput, describe(err))
	}
	return nil
}

// describe flattens validator errors into "field:tag" pairs.
func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msg := ""
	for i, fe := range verrs {
		if i > 0 {
			msg += ", "
		}
		msg += fe.Field() + ":" + fe.Tag()
	}
	return msg
}
