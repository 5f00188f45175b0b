// Package formfield answers whether a value is valid for a form field and what it
// maps to, by combining the attributes the MDR declares for the field with the
// operations of the terminology server.
package formfield

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/SanteonNL/mettertron/cmd/mettertron/apperror"
	"github.com/SanteonNL/mettertron/cmd/mettertron/config"
	"github.com/SanteonNL/mettertron/cmd/mettertron/mdr"
	"github.com/SanteonNL/mettertron/cmd/mettertron/terminology"
	"github.com/SanteonNL/mettertron/models/fhir"
	"github.com/rs/zerolog"
	"golang.org/x/exp/slices"
)

type MetadataRepository interface {
	FormByID(ctx context.Context, id string) (mdr.Form, error)
	FormAttributes(ctx context.Context, formID string) (mdr.FormAttributes, error)
	DefinitionAttributes(ctx context.Context, code, version string) ([]mdr.Attribute, error)
}

type TerminologyServer interface {
	CodeSystem(ctx context.Context, canonical string) (fhir.CodeSystem, json.RawMessage, error)
	Lookup(ctx context.Context, system, code string, properties []string) (terminology.LookupResult, error)
	ValidateCodeSystemCode(ctx context.Context, codeSystem, code string) (terminology.ValidationResult, error)
	ValidateValueSetCode(ctx context.Context, valueSet, codeSystem, code string) (terminology.ValidationResult, error)
	Translate(ctx context.Context, conceptMap, code, codeSystem, valueSet string) (terminology.TranslationResult, error)
}

type Service struct {
	mdr   MetadataRepository
	ts    TerminologyServer
	names config.MdrAttributesSettings
	log   zerolog.Logger
}

func NewService(repository MetadataRepository, ts TerminologyServer, names config.MdrAttributesSettings, log zerolog.Logger) *Service {
	return &Service{
		mdr:   repository,
		ts:    ts,
		names: names,
		log:   log.With().Str("component", "formfield").Logger(),
	}
}

// ResolveFieldAttributes returns the attributes declared on the field, or on the
// field within the first section containing it.
func (s *Service) ResolveFieldAttributes(ctx context.Context, formID, fieldCode string) ([]mdr.Attribute, error) {
	formAttributes, err := s.mdr.FormAttributes(ctx, formID)
	if err != nil {
		return nil, err
	}
	attrs, ok := formAttributes.FieldAttributes(fieldCode)
	if !ok {
		return nil, apperror.NewNotFound(fmt.Sprintf("the field %s could not be found in form %s", fieldCode, formID), nil)
	}
	return attrs, nil
}

// ResolveDefinitionAttributes follows the field's definition reference
// ("...:<code>:<version>") and returns the attributes bound to that definition.
func (s *Service) ResolveDefinitionAttributes(ctx context.Context, formID, fieldCode string) ([]mdr.Attribute, error) {
	form, err := s.mdr.FormByID(ctx, formID)
	if err != nil {
		return nil, err
	}

	field, ok := form.FindFieldFunc(func(f mdr.Field) bool {
		return f.ID == fieldCode && strings.TrimSpace(f.Definition) != ""
	})
	if !ok {
		return nil, apperror.NewNotFound(fmt.Sprintf("no field %s with a definition in form %s", fieldCode, formID), nil)
	}

	segments := strings.Split(strings.TrimSpace(field.Definition), ":")
	if len(segments) < 2 {
		return nil, apperror.NewNotFound(fmt.Sprintf("the definition %q of field %s has no code and version", field.Definition, fieldCode), nil)
	}
	code, version := segments[len(segments)-2], segments[len(segments)-1]

	attrs, err := s.mdr.DefinitionAttributes(ctx, code, version)
	if err != nil {
		return nil, err
	}
	if len(attrs) == 0 {
		return nil, apperror.NewNotFound(fmt.Sprintf("no attributes for definition %s version %s", code, version), nil)
	}

	s.log.Debug().
		Str("form_id", formID).
		Str("field_code", fieldCode).
		Str("definition", field.Definition).
		Int("attributes", len(attrs)).
		Msg("Resolved definition attributes")
	return attrs, nil
}

// bindings are the terminology canonicals a field is bound to. A field may bind
// several code systems, but at most one value set and concept map.
type bindings struct {
	codeSystems []string
	valueSet    string
	conceptMap  string
}

func (s *Service) inDomain(attrs []mdr.Attribute) ([]mdr.Attribute, error) {
	domain := slices.DeleteFunc(slices.Clone(attrs), func(a mdr.Attribute) bool {
		return a.Domain != s.names.DomainCode
	})
	if len(domain) == 0 {
		return nil, apperror.NewMissingAttributes(fmt.Sprintf("there are no attributes in the %s domain", s.names.DomainCode), nil)
	}
	return domain, nil
}

func named(attrs []mdr.Attribute, name string) []string {
	var values []string
	for _, a := range attrs {
		if a.Name == name {
			values = append(values, a.Value.Values()...)
		}
	}
	return values
}

func countNamed(attrs []mdr.Attribute, name string) int {
	n := 0
	for _, a := range attrs {
		if a.Name == name {
			n++
		}
	}
	return n
}

// single reads an attribute that may occur at most once with a single value.
func single(attrs []mdr.Attribute, name string) (string, error) {
	switch countNamed(attrs, name) {
	case 0:
		return "", nil
	case 1:
	default:
		return "", apperror.NewValidation(fmt.Sprintf("more than one %s attribute is present", name), nil)
	}
	values := named(attrs, name)
	if len(values) != 1 {
		return "", apperror.NewValidation(fmt.Sprintf("the %s attribute must carry exactly one value, got %d", name, len(values)), nil)
	}
	return values[0], nil
}

func (s *Service) validationBindings(attrs []mdr.Attribute) (bindings, error) {
	domain, err := s.inDomain(attrs)
	if err != nil {
		return bindings{}, err
	}

	relevant := slices.DeleteFunc(domain, func(a mdr.Attribute) bool {
		return a.Name != s.names.FhirCsCanonical && a.Name != s.names.FhirVsCanonical
	})
	if len(relevant) == 0 {
		return bindings{}, apperror.NewMissingAttributes(
			fmt.Sprintf("there are neither %s nor %s attributes", s.names.FhirCsCanonical, s.names.FhirVsCanonical), nil)
	}

	if countNamed(relevant, s.names.FhirVsCanonical) > 0 && countNamed(relevant, s.names.FhirCsCanonical) == 0 {
		return bindings{}, apperror.NewMissingAttributes(
			fmt.Sprintf("a %s attribute is present without any %s attribute", s.names.FhirVsCanonical, s.names.FhirCsCanonical), nil)
	}

	valueSet, err := single(relevant, s.names.FhirVsCanonical)
	if err != nil {
		return bindings{}, err
	}
	codeSystems, err := s.codeSystems(relevant)
	if err != nil {
		return bindings{}, err
	}
	return bindings{codeSystems: codeSystems, valueSet: valueSet}, nil
}

// codeSystems flattens every code system attribute; a multi-valued one binds each
// of its values.
func (s *Service) codeSystems(attrs []mdr.Attribute) ([]string, error) {
	values := named(attrs, s.names.FhirCsCanonical)
	if len(values) == 0 {
		return nil, apperror.NewMissingAttributes(fmt.Sprintf("there are no %s values", s.names.FhirCsCanonical), nil)
	}
	return values, nil
}

func (s *Service) translationBindings(attrs []mdr.Attribute) (bindings, error) {
	domain, err := s.inDomain(attrs)
	if err != nil {
		return bindings{}, err
	}

	if countNamed(domain, s.names.FhirCmCanonical) == 0 {
		return bindings{}, apperror.NewMissingAttributes(fmt.Sprintf("there is no %s attribute", s.names.FhirCmCanonical), nil)
	}
	conceptMap, err := single(domain, s.names.FhirCmCanonical)
	if err != nil {
		return bindings{}, err
	}
	valueSet, err := single(domain, s.names.FhirVsCanonical)
	if err != nil {
		return bindings{}, err
	}
	codeSystems, err := s.codeSystems(domain)
	if err != nil {
		return bindings{}, err
	}
	return bindings{codeSystems: codeSystems, valueSet: valueSet, conceptMap: conceptMap}, nil
}
