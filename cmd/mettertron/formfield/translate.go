package formfield

import (
	"context"
	"fmt"

	"github.com/SanteonNL/mettertron/cmd/mettertron/apperror"
	"github.com/SanteonNL/mettertron/cmd/mettertron/terminology"
	"golang.org/x/exp/slices"
)

// Translate maps a valid value through the field's concept map, once per bound
// code system. With lookupDetail every match is enriched with a $lookup of its
// target concept; a failing enrichment fails the whole translation.
func (s *Service) Translate(ctx context.Context, formID, fieldCode, value string, lookupDetail, includeFHIRDefinedProperties bool) (FormFieldMapping, error) {
	validation, err := s.Validate(ctx, formID, fieldCode, value)
	if err != nil {
		if apperror.Is(err, apperror.MissingAttributes) {
			return FormFieldMapping{}, apperror.NewValidation(
				fmt.Sprintf("the field %s in form %s cannot be validated", fieldCode, formID), err)
		}
		return FormFieldMapping{}, err
	}
	if validation.ValidationStatus != StatusValid {
		return FormFieldMapping{}, apperror.NewValidation(
			fmt.Sprintf("the code %s is not valid for field %s: %s", value, fieldCode, validation.ValidationStatus.Description()), nil)
	}

	attrs, err := s.ResolveDefinitionAttributes(ctx, formID, fieldCode)
	if err != nil {
		return FormFieldMapping{}, err
	}
	b, err := s.translationBindings(attrs)
	if err != nil {
		return FormFieldMapping{}, err
	}

	results, err := parallel(ctx, b.codeSystems, func(ctx context.Context, cs string) (terminology.TranslationResult, error) {
		return s.ts.Translate(ctx, b.conceptMap, value, cs, b.valueSet)
	})
	if err != nil {
		return FormFieldMapping{}, apperror.NewMapping(fmt.Sprintf("error when translating %s with concept map %s", value, b.conceptMap), err)
	}

	mapping := FormFieldMapping{
		FormID:           formID,
		FieldCode:        fieldCode,
		FieldContentCode: value,
		MappingMessages:  []string{},
		Mappings:         []terminology.Match{},
	}
	for _, res := range results {
		mapping.MappingSuccess = mapping.MappingSuccess || res.Result
		if res.Message != "" {
			mapping.MappingMessages = append(mapping.MappingMessages, res.Message)
		}
		mapping.Mappings = append(mapping.Mappings, res.Matches...)
	}

	if lookupDetail && len(mapping.Mappings) > 0 {
		if err := s.enrich(ctx, mapping.Mappings, includeFHIRDefinedProperties); err != nil {
			return FormFieldMapping{}, err
		}
	}

	s.log.Info().
		Str("form_id", formID).
		Str("field_code", fieldCode).
		Str("value", value).
		Bool("success", mapping.MappingSuccess).
		Int("matches", len(mapping.Mappings)).
		Msg("Translated field value")
	return mapping, nil
}

// enrich looks up every match target in place.
func (s *Service) enrich(ctx context.Context, matches []terminology.Match, includeFHIRDefinedProperties bool) error {
	details, err := parallel(ctx, matches, func(ctx context.Context, m terminology.Match) (terminology.LookupResult, error) {
		cs, _, err := s.ts.CodeSystem(ctx, m.ConceptSystem)
		if err != nil {
			return terminology.LookupResult{}, err
		}
		properties := cs.PropertyCodes()
		if includeFHIRDefinedProperties {
			for _, p := range terminology.FHIRDefinedProperties {
				if !slices.Contains(properties, p) {
					properties = append(properties, p)
				}
			}
		}
		return s.ts.Lookup(ctx, m.ConceptSystem, m.ConceptCode, properties)
	})
	if err != nil {
		return err
	}
	for i := range matches {
		detail := details[i]
		matches[i].Detail = &detail
	}
	return nil
}
