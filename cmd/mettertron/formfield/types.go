package formfield

import (
	"encoding/json"

	"github.com/SanteonNL/mettertron/cmd/mettertron/terminology"
)

type ValidationStatus string

const (
	StatusValid         ValidationStatus = "VALID"
	StatusNotInValueSet ValidationStatus = "NOT_IN_VALUESET"
	StatusInvalid       ValidationStatus = "INVALID"
)

var statusDescriptions = map[ValidationStatus]string{
	StatusValid:         "the code is valid for this field",
	StatusNotInValueSet: "the code is not in the valueset, but is contained in (one of) the specified code system(s)",
	StatusInvalid:       "the code is neither contained in the valueset nor in (one of) the specified code system(s)",
}

func (s ValidationStatus) Description() string {
	return statusDescriptions[s]
}

func (s ValidationStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	}{string(s), s.Description()})
}

func (s *ValidationStatus) UnmarshalJSON(data []byte) error {
	var v struct {
		Code string `json:"code"`
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*s = ValidationStatus(v.Code)
	return nil
}

type FormFieldValidation struct {
	FormID             string           `json:"form_id"`
	FieldCode          string           `json:"field_code"`
	FieldContentCode   string           `json:"field_content_code"`
	ValidationStatus   ValidationStatus `json:"validation_status"`
	ValidationMessages []string         `json:"validation_messages"`
}

type FormFieldMapping struct {
	FormID           string              `json:"form_id"`
	FieldCode        string              `json:"field_code"`
	FieldContentCode string              `json:"field_content_code"`
	MappingSuccess   bool                `json:"mapping_success"`
	MappingMessages  []string            `json:"mapping_messages"`
	Mappings         []terminology.Match `json:"mappings"`
}
