package mdr

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Attribute is a domain-scoped annotation on a form, section, field or definition.
// The (Domain, Name) pair is not unique, a field may carry several bindings with
// the same key, so attributes always travel as ordered slices.
type Attribute struct {
	Domain string
	Name   string
	Value  AttributeValue
}

// AttributeValue is either a StringValue or a MultiValue.
type AttributeValue interface {
	Values() []string
	isAttributeValue()
}

type StringValue string

func (v StringValue) Values() []string { return []string{string(v)} }
func (StringValue) isAttributeValue()  {}

type MultiValue []string

func (v MultiValue) Values() []string { return []string(v) }
func (MultiValue) isAttributeValue()  {}

// String returns the single value of a StringValue attribute.
func (a Attribute) String() (string, bool) {
	v, ok := a.Value.(StringValue)
	return string(v), ok
}

// DecodeAttributeValue inspects whether the payload is a scalar or an array.
func DecodeAttributeValue(raw json.RawMessage) (AttributeValue, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, fmt.Errorf("an attribute value was null")
	}

	switch raw[0] {
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, fmt.Errorf("attribute value could not be decoded: %w", err)
		}
		values := make(MultiValue, 0, len(items))
		for _, item := range items {
			s, err := scalarString(item)
			if err != nil {
				return nil, err
			}
			values = append(values, s)
		}
		return values, nil
	case '{':
		return nil, fmt.Errorf("attribute value could not be decoded: objects are not supported")
	default:
		s, err := scalarString(raw)
		if err != nil {
			return nil, err
		}
		return StringValue(s), nil
	}
}

func scalarString(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", fmt.Errorf("attribute value could not be decoded: %w", err)
		}
		return s, nil
	}

	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", fmt.Errorf("attribute value could not be decoded: %w", err)
	}
	switch v.(type) {
	case float64, bool:
		return string(raw), nil
	default:
		return "", fmt.Errorf("attribute value could not be decoded: unsupported element %s", raw)
	}
}

type attributeJSON struct {
	Domain    string          `json:"domain"`
	Attribute string          `json:"attribute"`
	Value     json.RawMessage `json:"value"`
	Links     Links           `json:"links,omitempty"`
}

func (a *Attribute) UnmarshalJSON(data []byte) error {
	var wire attributeJSON
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	value, err := DecodeAttributeValue(wire.Value)
	if err != nil {
		return fmt.Errorf("attribute %s/%s: %w", wire.Domain, wire.Attribute, err)
	}
	*a = Attribute{Domain: wire.Domain, Name: wire.Attribute, Value: value}
	return nil
}

func (a Attribute) MarshalJSON() ([]byte, error) {
	out := struct {
		Domain    string `json:"domain"`
		Attribute string `json:"attribute"`
		Value     any    `json:"value"`
	}{Domain: a.Domain, Attribute: a.Name}

	switch v := a.Value.(type) {
	case StringValue:
		out.Value = string(v)
	case MultiValue:
		out.Value = []string(v)
	}
	return json.Marshal(out)
}
