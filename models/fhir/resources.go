package fhir

import "encoding/json"

type Coding struct {
	System  string `json:"system,omitempty"`
	Version string `json:"version,omitempty"`
	Code    string `json:"code,omitempty"`
	Display string `json:"display,omitempty"`
}

type Meta struct {
	VersionID   string    `json:"versionId,omitempty"`
	LastUpdated *DateTime `json:"lastUpdated,omitempty"`
}

// Bundle only carries what a search result needs: the entries and their full URLs.
type Bundle struct {
	ResourceType string        `json:"resourceType"`
	Type         string        `json:"type,omitempty"`
	Total        *int          `json:"total,omitempty"`
	Entry        []BundleEntry `json:"entry,omitempty"`
}

type BundleEntry struct {
	FullURL  string          `json:"fullUrl,omitempty"`
	Resource json.RawMessage `json:"resource,omitempty"`
}

// CanonicalResource holds the fields shared by CodeSystem, ValueSet and ConceptMap.
type CanonicalResource struct {
	ResourceType string    `json:"resourceType"`
	ID           string    `json:"id,omitempty"`
	Meta         *Meta     `json:"meta,omitempty"`
	URL          string    `json:"url,omitempty"`
	Version      string    `json:"version,omitempty"`
	Name         string    `json:"name,omitempty"`
	Title        string    `json:"title,omitempty"`
	Status       string    `json:"status,omitempty"`
	Date         *DateTime `json:"date,omitempty"`
}

type CodeSystem struct {
	CanonicalResource
	Content  string               `json:"content,omitempty"`
	Count    int                  `json:"count,omitempty"`
	Property []CodeSystemProperty `json:"property,omitempty"`
}

type CodeSystemProperty struct {
	Code        string `json:"code"`
	URI         string `json:"uri,omitempty"`
	Description string `json:"description,omitempty"`
	Type        string `json:"type,omitempty"`
}

// PropertyCodes lists the codes of the properties the code system declares.
func (cs CodeSystem) PropertyCodes() []string {
	codes := make([]string, 0, len(cs.Property))
	for _, p := range cs.Property {
		codes = append(codes, p.Code)
	}
	return codes
}

type ValueSet struct {
	CanonicalResource
}

type ConceptMap struct {
	CanonicalResource
	SourceURI       string `json:"sourceUri,omitempty"`
	SourceCanonical string `json:"sourceCanonical,omitempty"`
	TargetURI       string `json:"targetUri,omitempty"`
	TargetCanonical string `json:"targetCanonical,omitempty"`
}
