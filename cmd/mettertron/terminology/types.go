package terminology

import (
	"fmt"
	"strings"

	"github.com/SanteonNL/mettertron/cmd/mettertron/apperror"
	"github.com/SanteonNL/mettertron/models/fhir"
)

// Equivalence is the closeness of a ConceptMap match, upper-cased.
type Equivalence string

const (
	EquivalenceRelatedTo   Equivalence = "RELATEDTO"
	EquivalenceEquivalent  Equivalence = "EQUIVALENT"
	EquivalenceEqual       Equivalence = "EQUAL"
	EquivalenceWider       Equivalence = "WIDER"
	EquivalenceSubsumes    Equivalence = "SUBSUMES"
	EquivalenceNarrower    Equivalence = "NARROWER"
	EquivalenceSpecializes Equivalence = "SPECIALIZES"
	EquivalenceInexact     Equivalence = "INEXACT"
	EquivalenceUnmatched   Equivalence = "UNMATCHED"
	EquivalenceDisjoint    Equivalence = "DISJOINT"
)

var equivalences = []Equivalence{
	EquivalenceRelatedTo, EquivalenceEquivalent, EquivalenceEqual, EquivalenceWider, EquivalenceSubsumes,
	EquivalenceNarrower, EquivalenceSpecializes, EquivalenceInexact, EquivalenceUnmatched, EquivalenceDisjoint,
}

func ParseEquivalence(s string) (Equivalence, error) {
	candidate := Equivalence(strings.ToUpper(strings.TrimSpace(s)))
	for _, e := range equivalences {
		if e == candidate {
			return e, nil
		}
	}
	return "", fmt.Errorf("unknown concept map equivalence %q", s)
}

// FHIRDefinedProperties are the concept properties every code system may carry,
// see https://www.hl7.org/fhir/codesystem-concept-properties.html.
var FHIRDefinedProperties = []string{"inactive", "deprecated", "notSelectable", "parent", "child"}

// ValidationResult is the outcome of a $validate-code call.
type ValidationResult struct {
	Result  bool   `json:"result"`
	Message string `json:"message,omitempty"`
	Display string `json:"display,omitempty"`
}

// TranslationResult is the outcome of a ConceptMap/$translate call.
type TranslationResult struct {
	Result  bool    `json:"result"`
	Message string  `json:"message,omitempty"`
	Matches []Match `json:"matches"`
}

type Match struct {
	Equivalence    Equivalence   `json:"equivalence"`
	ConceptSystem  string        `json:"concept_system"`
	ConceptCode    string        `json:"concept_code"`
	ConceptDisplay string        `json:"concept_display,omitempty"`
	Source         string        `json:"source,omitempty"`
	Detail         *LookupResult `json:"detail,omitempty"`
}

// LookupResult is the outcome of a CodeSystem/$lookup call.
type LookupResult struct {
	Name         string        `json:"code_system_name"`
	Version      string        `json:"code_system_version,omitempty"`
	Display      string        `json:"code_display"`
	Designations []Designation `json:"code_designations"`
	Properties   []Property    `json:"code_properties"`
}

type Designation struct {
	Language string `json:"language,omitempty"`
	Use      string `json:"use,omitempty"`
	Value    string `json:"value"`
}

type Property struct {
	Code        string `json:"code"`
	Value       string `json:"value,omitempty"`
	ValueType   string `json:"value_type,omitempty"`
	Description string `json:"description,omitempty"`
}

func malformed(format string, args ...any) error {
	return apperror.NewCommunication(fmt.Sprintf(format, args...), nil)
}

func requirePart(p fhir.Parameter, name string) (fhir.Parameter, error) {
	part, ok := p.GetPart(name)
	if !ok {
		return fhir.Parameter{}, malformed("parameter %s is not present in %s", name, p.Name)
	}
	return part, nil
}

func parseValidation(params fhir.Parameters) (ValidationResult, error) {
	result, err := params.Bool("result")
	if err != nil {
		return ValidationResult{}, apperror.NewCommunication("invalid validation response", err)
	}
	message, _ := params.String("message")
	display, _ := params.String("display")
	return ValidationResult{Result: result, Message: message, Display: display}, nil
}

// parseTranslation reads result, message and every match. A match needs at least
// its equivalence and concept parts.
func parseTranslation(params fhir.Parameters) (TranslationResult, error) {
	result, err := params.Bool("result")
	if err != nil {
		return TranslationResult{}, apperror.NewCommunication("invalid translation response", err)
	}
	message, _ := params.String("message")

	out := TranslationResult{Result: result, Message: message, Matches: []Match{}}
	for _, match := range params.All("match") {
		// The two-element minimum applies to the parts of each match; a single match is a valid answer.
		if len(match.Part) < 2 {
			return TranslationResult{}, malformed("there are less than two elements in the match parameter")
		}

		equivalencePart, err := requirePart(match, "equivalence")
		if err != nil {
			return TranslationResult{}, err
		}
		rawEquivalence, _ := equivalencePart.Primitive()
		equivalence, err := ParseEquivalence(rawEquivalence)
		if err != nil {
			return TranslationResult{}, apperror.NewCommunication("invalid translation response", err)
		}

		conceptPart, err := requirePart(match, "concept")
		if err != nil {
			return TranslationResult{}, err
		}
		concept, err := conceptPart.Coding()
		if err != nil {
			return TranslationResult{}, apperror.NewCommunication("invalid translation response", err)
		}

		var source string
		if sourcePart, ok := match.GetPart("source"); ok {
			source, _ = sourcePart.Primitive()
		}

		out.Matches = append(out.Matches, Match{
			Equivalence:    equivalence,
			ConceptSystem:  concept.System,
			ConceptCode:    concept.Code,
			ConceptDisplay: concept.Display,
			Source:         source,
		})
	}
	return out, nil
}

func parseLookup(params fhir.Parameters) (LookupResult, error) {
	name, _ := params.String("name")
	version, _ := params.String("version")
	display, _ := params.String("display")

	out := LookupResult{
		Name:         name,
		Version:      version,
		Display:      display,
		Designations: []Designation{},
		Properties:   []Property{},
	}

	for _, des := range params.All("designation") {
		valuePart, err := requirePart(des, "value")
		if err != nil {
			return LookupResult{}, err
		}
		value, _ := valuePart.Primitive()

		d := Designation{Value: value}
		if lang, ok := des.GetPart("language"); ok {
			d.Language, _ = lang.Primitive()
		}
		if use, ok := des.GetPart("use"); ok {
			if coding, err := use.Coding(); err == nil {
				d.Use = coding.Code
			} else {
				d.Use, _ = use.Primitive()
			}
		}
		out.Designations = append(out.Designations, d)
	}

	for _, prop := range params.All("property") {
		codePart, err := requirePart(prop, "code")
		if err != nil {
			return LookupResult{}, err
		}
		code, _ := codePart.Primitive()

		p := Property{Code: code}
		if valuePart, ok := prop.ValuePart(); ok {
			p.ValueType = valuePart.ValueType
			if valuePart.ValueType == "valueCoding" {
				if coding, err := valuePart.Coding(); err == nil {
					p.Value = coding.Code
				}
			} else {
				p.Value, _ = valuePart.Primitive()
			}
		}
		if description, ok := prop.GetPart("description"); ok {
			p.Description, _ = description.Primitive()
		}
		out.Properties = append(out.Properties, p)
	}
	return out, nil
}
