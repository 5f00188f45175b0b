package terminology

import (
	"encoding/json"
	"testing"

	"github.com/SanteonNL/mettertron/cmd/mettertron/apperror"
	"github.com/SanteonNL/mettertron/models/fhir"
)

func decodeParameters(t *testing.T, raw string) fhir.Parameters {
	t.Helper()
	var p fhir.Parameters
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestParseEquivalence(t *testing.T) {
	tests := []struct {
		in      string
		want    Equivalence
		wantErr bool
	}{
		{"equal", EquivalenceEqual, false},
		{"Wider", EquivalenceWider, false},
		{"relatedto", EquivalenceRelatedTo, false},
		{"DISJOINT", EquivalenceDisjoint, false},
		{"related-to", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseEquivalence(tt.in)
			if (err != nil) != tt.wantErr || got != tt.want {
				t.Errorf("ParseEquivalence(%q) = %q, %v", tt.in, got, err)
			}
		})
	}
}

func TestParseTranslationRejectsMalformedMatches(t *testing.T) {
	tests := []struct {
		name string
		json string
	}{
		{"single part", `{"resourceType":"Parameters","parameter":[
			{"name":"result","valueBoolean":true},
			{"name":"match","part":[{"name":"equivalence","valueCode":"equal"}]}]}`},
		{"no concept", `{"resourceType":"Parameters","parameter":[
			{"name":"result","valueBoolean":true},
			{"name":"match","part":[{"name":"equivalence","valueCode":"equal"},{"name":"source","valueUri":"x"}]}]}`},
		{"unknown equivalence", `{"resourceType":"Parameters","parameter":[
			{"name":"result","valueBoolean":true},
			{"name":"match","part":[{"name":"equivalence","valueCode":"close"},{"name":"concept","valueCoding":{"code":"a"}}]}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseTranslation(decodeParameters(t, tt.json))
			if !apperror.Is(err, apperror.CommunicationError) {
				t.Errorf("expected CommunicationError, got %v", err)
			}
		})
	}
}

func TestParseTranslationWithoutMatches(t *testing.T) {
	res, err := parseTranslation(decodeParameters(t, `{"resourceType":"Parameters","parameter":[
		{"name":"result","valueBoolean":false},{"name":"message","valueString":"no mapping"}]}`))
	if err != nil {
		t.Fatal(err)
	}
	if res.Result || res.Message != "no mapping" || res.Matches == nil || len(res.Matches) != 0 {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestParseLookupDesignationWithoutLanguage(t *testing.T) {
	res, err := parseLookup(decodeParameters(t, `{"resourceType":"Parameters","parameter":[
		{"name":"name","valueString":"SNOMED CT"},
		{"name":"version","valueString":"2024"},
		{"name":"designation","part":[{"name":"value","valueString":"Fever"}]},
		{"name":"property","part":[{"name":"code","valueCode":"parent"},{"name":"value","valueCoding":{"code":"P"}},{"name":"description","valueString":"Parent"}]}]}`))
	if err != nil {
		t.Fatal(err)
	}
	if res.Version != "2024" || len(res.Designations) != 1 || res.Designations[0].Language != "" {
		t.Errorf("unexpected result %+v", res)
	}
	want := Property{Code: "parent", Value: "P", ValueType: "valueCoding", Description: "Parent"}
	if len(res.Properties) != 1 || res.Properties[0] != want {
		t.Errorf("unexpected properties %+v", res.Properties)
	}
}

func TestParseLookupDesignationWithoutValue(t *testing.T) {
	_, err := parseLookup(decodeParameters(t, `{"resourceType":"Parameters","parameter":[
		{"name":"designation","part":[{"name":"language","valueCode":"nl"}]}]}`))
	if !apperror.Is(err, apperror.CommunicationError) {
		t.Errorf("expected CommunicationError, got %v", err)
	}
}
