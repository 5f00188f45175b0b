package formfield

import (
	"context"
	"fmt"

	"github.com/SanteonNL/mettertron/cmd/mettertron/terminology"
	"golang.org/x/sync/errgroup"
)

// Validate decides whether value is valid for the field. A failing code system
// check makes the value INVALID; with a value set bound, at least one code system
// must also place the value in it, otherwise it is NOT_IN_VALUESET.
func (s *Service) Validate(ctx context.Context, formID, fieldCode, value string) (FormFieldValidation, error) {
	if _, err := s.ResolveFieldAttributes(ctx, formID, fieldCode); err != nil {
		return FormFieldValidation{}, err
	}
	attrs, err := s.ResolveDefinitionAttributes(ctx, formID, fieldCode)
	if err != nil {
		return FormFieldValidation{}, err
	}
	b, err := s.validationBindings(attrs)
	if err != nil {
		return FormFieldValidation{}, err
	}

	status, messages, err := s.verdict(ctx, b, value)
	if err != nil {
		return FormFieldValidation{}, err
	}

	s.log.Info().
		Str("form_id", formID).
		Str("field_code", fieldCode).
		Str("value", value).
		Str("status", string(status)).
		Msg("Validated field value")

	return FormFieldValidation{
		FormID:             formID,
		FieldCode:          fieldCode,
		FieldContentCode:   value,
		ValidationStatus:   status,
		ValidationMessages: messages,
	}, nil
}

func (s *Service) verdict(ctx context.Context, b bindings, value string) (ValidationStatus, []string, error) {
	csResults, err := parallel(ctx, b.codeSystems, func(ctx context.Context, cs string) (terminology.ValidationResult, error) {
		return s.ts.ValidateCodeSystemCode(ctx, cs, value)
	})
	if err != nil {
		return "", nil, err
	}

	var invalid []string
	for i, res := range csResults {
		if !res.Result {
			invalid = append(invalid, messageOr(res.Message, "the code %s is not part of code system %s", value, b.codeSystems[i]))
		}
	}
	if len(invalid) > 0 {
		return StatusInvalid, invalid, nil
	}

	if b.valueSet == "" {
		return StatusValid, []string{}, nil
	}

	vsResults, err := parallel(ctx, b.codeSystems, func(ctx context.Context, cs string) (terminology.ValidationResult, error) {
		return s.ts.ValidateValueSetCode(ctx, b.valueSet, cs, value)
	})
	if err != nil {
		return "", nil, err
	}

	var failures []string
	for i, res := range vsResults {
		if res.Result {
			return StatusValid, []string{}, nil
		}
		failures = append(failures, messageOr(res.Message, "the code %s of code system %s is not part of value set %s", value, b.codeSystems[i], b.valueSet))
	}
	return StatusNotInValueSet, failures, nil
}

func messageOr(message, format string, args ...any) string {
	if message != "" {
		return message
	}
	return fmt.Sprintf(format, args...)
}

// parallel calls fn for every input concurrently. Results keep the input order;
// the first error cancels the others and is returned.
func parallel[In, Out any](ctx context.Context, inputs []In, fn func(context.Context, In) (Out, error)) ([]Out, error) {
	results := make([]Out, len(inputs))
	g, ctx := errgroup.WithContext(ctx)
	for i, in := range inputs {
		i, in := i, in
		g.Go(func() error {
			out, err := fn(ctx, in)
			if err != nil {
				return err
			}
			results[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
