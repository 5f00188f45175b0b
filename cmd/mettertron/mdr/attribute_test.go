package mdr

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestAttributeDecode(t *testing.T) {
	tests := []struct {
		name    string
		json    string
		want    AttributeValue
		wantErr bool
	}{
		{"string", `{"domain":"fhir","attribute":"cs-canonical","value":"http://cs"}`, StringValue("http://cs"), false},
		{"list", `{"domain":"fhir","attribute":"cs-canonical","value":["http://a","http://b"]}`, MultiValue{"http://a", "http://b"}, false},
		{"number", `{"domain":"x","attribute":"y","value":12}`, StringValue("12"), false},
		{"empty list", `{"domain":"x","attribute":"y","value":[]}`, MultiValue{}, false},
		{"null", `{"domain":"x","attribute":"y","value":null}`, nil, true},
		{"missing", `{"domain":"x","attribute":"y"}`, nil, true},
		{"object", `{"domain":"x","attribute":"y","value":{"a":1}}`, nil, true},
		{"nested list", `{"domain":"x","attribute":"y","value":[["a"]]}`, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var a Attribute
			err := json.Unmarshal([]byte(tt.json), &a)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", a)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !reflect.DeepEqual(a.Value, tt.want) {
				t.Errorf("got %#v, want %#v", a.Value, tt.want)
			}
		})
	}
}

func TestAttributeString(t *testing.T) {
	single := Attribute{Domain: "fhir", Name: "cm-canonical", Value: StringValue("http://cm")}
	if v, ok := single.String(); !ok || v != "http://cm" {
		t.Errorf("unexpected %q %v", v, ok)
	}

	multi := Attribute{Domain: "fhir", Name: "cs-canonical", Value: MultiValue{"a", "b"}}
	if _, ok := multi.String(); ok {
		t.Error("a multi value attribute is not a string")
	}
	if got := multi.Value.Values(); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Errorf("unexpected values %v", got)
	}
}

func TestAttributeEncode(t *testing.T) {
	out, err := json.Marshal([]Attribute{
		{Domain: "fhir", Name: "cs-canonical", Value: StringValue("http://cs")},
		{Domain: "fhir", Name: "cs-canonical", Value: MultiValue{"a"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	want := `[{"domain":"fhir","attribute":"cs-canonical","value":"http://cs"},{"domain":"fhir","attribute":"cs-canonical","value":["a"]}]`
	if string(out) != want {
		t.Errorf("got %s", out)
	}
}

func TestFormFindFieldDepthFirst(t *testing.T) {
	form := Form{
		ID:     "F1",
		Fields: []Field{{ID: "top"}},
		Sections: []Section{
			{
				Code:     "s1",
				Fields:   []Field{{ID: "a"}},
				Sections: []Section{{Code: "s1.1", Fields: []Field{{ID: "dup", Definition: "urn:x:D1:1"}}}},
			},
			{Code: "s2", Fields: []Field{{ID: "dup", Definition: "urn:x:D2:1"}}},
		},
	}

	field, ok := form.FindField("dup")
	if !ok || field.Definition != "urn:x:D1:1" {
		t.Errorf("expected the nested section to win, got %+v", field)
	}
	if _, ok := form.FindField("nope"); ok {
		t.Error("unexpected match")
	}

	var codes []string
	for _, s := range form.AllSections() {
		codes = append(codes, s.Code)
	}
	if !reflect.DeepEqual(codes, []string{"s1", "s1.1", "s2"}) {
		t.Errorf("unexpected order %v", codes)
	}
}

func TestFormAttributesFieldLookup(t *testing.T) {
	fa := FormAttributes{
		Fields: map[string][]Attribute{"direct": {{Domain: "d", Name: "n", Value: StringValue("1")}}},
		Sections: []SectionAttributes{
			{Code: "s1", FieldAttributes: map[string][]Attribute{"nested": {}}},
		},
	}

	if attrs, ok := fa.FieldAttributes("direct"); !ok || len(attrs) != 1 {
		t.Errorf("direct: %v %v", attrs, ok)
	}
	if _, ok := fa.FieldAttributes("nested"); !ok {
		t.Error("expected the section field to be found")
	}
	if _, ok := fa.FieldAttributes("missing"); ok {
		t.Error("expected no match")
	}
}
