package fhir

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Parameters is the in/out resource of FHIR operations such as $lookup,
// $validate-code and $translate.
type Parameters struct {
	ResourceType string      `json:"resourceType"`
	Parameter    []Parameter `json:"parameter,omitempty"`
}

// Parameter is one named entry of a Parameters resource. The value[x] field is kept
// raw together with its element name, since an operation may answer with any of the
// FHIR primitive or complex types.
type Parameter struct {
	Name      string
	ValueType string
	Value     json.RawMessage
	Part      []Parameter
}

func (p *Parameter) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return fmt.Errorf("failed to parse parameter: %w", err)
	}

	*p = Parameter{}
	if raw, ok := fields["name"]; ok {
		if err := json.Unmarshal(raw, &p.Name); err != nil {
			return fmt.Errorf("failed to parse parameter name: %w", err)
		}
	}
	if raw, ok := fields["part"]; ok {
		if err := json.Unmarshal(raw, &p.Part); err != nil {
			return fmt.Errorf("failed to parse parts of parameter %q: %w", p.Name, err)
		}
	}
	for key, raw := range fields {
		if strings.HasPrefix(key, "value") {
			p.ValueType = key
			p.Value = raw
			break
		}
	}
	return nil
}

func (p Parameter) MarshalJSON() ([]byte, error) {
	fields := map[string]any{"name": p.Name}
	if p.ValueType != "" {
		fields[p.ValueType] = p.Value
	}
	if len(p.Part) > 0 {
		fields["part"] = p.Part
	}
	return json.Marshal(fields)
}

// Get returns the first parameter with the given name.
func (ps Parameters) Get(name string) (Parameter, bool) {
	for _, p := range ps.Parameter {
		if p.Name == name {
			return p, true
		}
	}
	return Parameter{}, false
}

// All returns every parameter with the given name, in document order.
func (ps Parameters) All(name string) []Parameter {
	var out []Parameter
	for _, p := range ps.Parameter {
		if p.Name == name {
			out = append(out, p)
		}
	}
	return out
}

// Bool reads a boolean parameter, false when absent.
func (ps Parameters) Bool(name string) (bool, error) {
	p, ok := ps.Get(name)
	if !ok {
		return false, nil
	}
	return p.Bool()
}

// String reads a primitive parameter; the second return is false when absent.
func (ps Parameters) String(name string) (string, bool) {
	p, ok := ps.Get(name)
	if !ok {
		return "", false
	}
	return p.Primitive()
}

// GetPart returns the first part with the given name.
func (p Parameter) GetPart(name string) (Parameter, bool) {
	for _, part := range p.Part {
		if part.Name == name {
			return part, true
		}
	}
	return Parameter{}, false
}

// ValuePart returns the first part whose name starts with "value", which is how
// $lookup reports property values.
func (p Parameter) ValuePart() (Parameter, bool) {
	for _, part := range p.Part {
		if strings.HasPrefix(part.Name, "value") {
			return part, true
		}
	}
	return Parameter{}, false
}

func (p Parameter) Bool() (bool, error) {
	if p.ValueType == "" {
		return false, fmt.Errorf("parameter %q has no value", p.Name)
	}
	var b bool
	if err := json.Unmarshal(p.Value, &b); err != nil {
		return false, fmt.Errorf("parameter %q is not a boolean: %w", p.Name, err)
	}
	return b, nil
}

// Primitive renders the value as a string. JSON strings are unquoted, numbers and
// booleans keep their literal form, dateTimes are normalised. Complex values yield
// false.
func (p Parameter) Primitive() (string, bool) {
	raw := bytes.TrimSpace(p.Value)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", false
	}

	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", false
		}
		if p.ValueType == "valueDateTime" || p.ValueType == "valueDate" {
			if dt, err := ParseDateTime(s); err == nil {
				return dt.String(), true
			}
		}
		return s, true
	case '{', '[':
		return "", false
	default:
		if _, err := strconv.ParseFloat(string(raw), 64); err == nil {
			return string(raw), true
		}
		if b, err := strconv.ParseBool(string(raw)); err == nil {
			return strconv.FormatBool(b), true
		}
		return "", false
	}
}

// Coding decodes a valueCoding.
func (p Parameter) Coding() (Coding, error) {
	var c Coding
	if p.ValueType != "valueCoding" {
		return c, fmt.Errorf("parameter %q is %q, not valueCoding", p.Name, p.ValueType)
	}
	if err := json.Unmarshal(p.Value, &c); err != nil {
		return c, fmt.Errorf("parameter %q holds an invalid coding: %w", p.Name, err)
	}
	return c, nil
}
