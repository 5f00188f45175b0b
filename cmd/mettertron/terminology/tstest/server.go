// Package tstest provides an in-memory FHIR terminology server for tests.
package tstest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
)

// Verdict is a $validate-code answer.
type Verdict struct {
	Result  bool
	Message string
}

// Match is one $translate match.
type Match struct {
	Equivalence string
	System      string
	Code        string
	Display     string
}

type Translation struct {
	Result  bool
	Message string
	Matches []Match
}

type Property struct {
	Code  string
	Type  string // FHIR value[x] suffix, e.g. "Code", "Boolean", "String"
	Value any
}

type Lookup struct {
	Name       string
	Display    string
	Properties []Property
}

// Server is a fake terminology server. Unknown codes validate as false and unknown
// translations answer result false without matches.
type Server struct {
	*httptest.Server

	mu           sync.Mutex
	resources    map[string][]map[string]any
	csVerdicts   map[string]Verdict
	vsVerdicts   map[string]Verdict
	translations map[string]Translation
	lookups      map[string]Lookup
	failures     map[string]int
	queries      map[string][]url.Values
}

func NewServer() *Server {
	s := &Server{
		resources:    map[string][]map[string]any{},
		csVerdicts:   map[string]Verdict{},
		vsVerdicts:   map[string]Verdict{},
		translations: map[string]Translation{},
		lookups:      map[string]Lookup{},
		failures:     map[string]int{},
		queries:      map[string][]url.Values{},
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

// AddResource registers a CodeSystem, ValueSet or ConceptMap. Adding the same
// canonical twice makes searches ambiguous.
func (s *Server) AddResource(resourceType, canonical string, extra map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	resource := map[string]any{
		"resourceType": resourceType,
		"url":          canonical,
		"status":       "active",
	}
	for k, v := range extra {
		resource[k] = v
	}
	s.resources[resourceType] = append(s.resources[resourceType], resource)
	resource["id"] = fmt.Sprintf("%s-%d", strings.ToLower(resourceType), len(s.resources[resourceType]))
}

// AddCodeSystem registers a code system declaring the given property codes.
func (s *Server) AddCodeSystem(canonical string, properties ...string) {
	var props []map[string]any
	for _, p := range properties {
		props = append(props, map[string]any{"code": p, "type": "code"})
	}
	s.AddResource("CodeSystem", canonical, map[string]any{"content": "complete", "property": props})
}

func (s *Server) SetCodeSystemVerdict(codeSystem, code string, v Verdict) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.csVerdicts[codeSystem+"|"+code] = v
}

func (s *Server) SetValueSetVerdict(valueSet, codeSystem, code string, v Verdict) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vsVerdicts[valueSet+"|"+codeSystem+"|"+code] = v
}

func (s *Server) SetTranslation(conceptMap, codeSystem, code string, t Translation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.translations[conceptMap+"|"+codeSystem+"|"+code] = t
}

func (s *Server) SetLookup(system, code string, l Lookup) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lookups[system+"|"+code] = l
}

// Fail makes every request on path answer with status until reset with 0.
func (s *Server) Fail(path string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[path] = status
}

// Queries returns the query strings received on path, in arrival order.
func (s *Server) Queries(path string) []url.Values {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]url.Values(nil), s.queries[path]...)
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := r.URL.Path
	q := r.URL.Query()
	s.queries[path] = append(s.queries[path], q)

	if status := s.failures[path]; status != 0 {
		writeJSON(w, status, outcome("simulated failure"))
		return
	}

	switch path {
	case "/CodeSystem/$validate-code":
		v := s.csVerdicts[q.Get("url")+"|"+q.Get("code")]
		writeJSON(w, http.StatusOK, verdictParameters(v, q.Get("code")))
		return
	case "/ValueSet/$validate-code":
		v := s.vsVerdicts[q.Get("url")+"|"+q.Get("system")+"|"+q.Get("code")]
		writeJSON(w, http.StatusOK, verdictParameters(v, q.Get("code")))
		return
	case "/ConceptMap/$translate":
		t := s.translations[q.Get("url")+"|"+q.Get("system")+"|"+q.Get("code")]
		writeJSON(w, http.StatusOK, translationParameters(t, q.Get("url")))
		return
	case "/CodeSystem/$lookup":
		l, ok := s.lookups[q.Get("system")+"|"+q.Get("code")]
		if !ok {
			writeJSON(w, http.StatusNotFound, outcome("unknown code"))
			return
		}
		writeJSON(w, http.StatusOK, lookupParameters(l, q["property"]))
		return
	}

	parts := strings.Split(strings.Trim(path, "/"), "/")
	switch len(parts) {
	case 1:
		s.search(w, parts[0], q.Get("url"))
	case 2:
		s.read(w, parts[0], parts[1])
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) search(w http.ResponseWriter, resourceType, canonical string) {
	var entries []any
	for _, res := range s.resources[resourceType] {
		if res["url"] != canonical {
			continue
		}
		entries = append(entries, map[string]any{
			"fullUrl":  fmt.Sprintf("%s/%s/%s", s.URL, resourceType, res["id"]),
			"resource": res,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"resourceType": "Bundle",
		"type":         "searchset",
		"total":        len(entries),
		"entry":        entries,
	})
}

func (s *Server) read(w http.ResponseWriter, resourceType, id string) {
	for _, res := range s.resources[resourceType] {
		if res["id"] == id {
			writeJSON(w, http.StatusOK, res)
			return
		}
	}
	writeJSON(w, http.StatusNotFound, outcome("not found"))
}

func verdictParameters(v Verdict, code string) map[string]any {
	params := []any{map[string]any{"name": "result", "valueBoolean": v.Result}}
	if v.Message != "" {
		params = append(params, map[string]any{"name": "message", "valueString": v.Message})
	}
	if v.Result {
		params = append(params, map[string]any{"name": "display", "valueString": "Display of " + code})
	}
	return parameters(params)
}

func translationParameters(t Translation, conceptMap string) map[string]any {
	params := []any{map[string]any{"name": "result", "valueBoolean": t.Result}}
	if t.Message != "" {
		params = append(params, map[string]any{"name": "message", "valueString": t.Message})
	}
	for _, m := range t.Matches {
		params = append(params, map[string]any{
			"name": "match",
			"part": []any{
				map[string]any{"name": "equivalence", "valueCode": m.Equivalence},
				map[string]any{"name": "concept", "valueCoding": map[string]any{
					"system": m.System, "code": m.Code, "display": m.Display,
				}},
				map[string]any{"name": "source", "valueUri": conceptMap},
			},
		})
	}
	return parameters(params)
}

func lookupParameters(l Lookup, requested []string) map[string]any {
	params := []any{
		map[string]any{"name": "name", "valueString": l.Name},
		map[string]any{"name": "display", "valueString": l.Display},
	}
	wanted := map[string]bool{}
	for _, p := range requested {
		wanted[p] = true
	}
	if wanted["designation"] {
		params = append(params, map[string]any{
			"name": "designation",
			"part": []any{
				map[string]any{"name": "language", "valueCode": "en"},
				map[string]any{"name": "use", "valueCoding": map[string]any{
					"system": "http://snomed.info/sct", "code": "900000000000013009",
				}},
				map[string]any{"name": "value", "valueString": l.Display},
			},
		})
	}
	for _, p := range l.Properties {
		if !wanted[p.Code] {
			continue
		}
		params = append(params, map[string]any{
			"name": "property",
			"part": []any{
				map[string]any{"name": "code", "valueCode": p.Code},
				map[string]any{"name": "value", "value" + p.Type: p.Value},
			},
		})
	}
	return parameters(params)
}

func parameters(params []any) map[string]any {
	return map[string]any{"resourceType": "Parameters", "parameter": params}
}

func outcome(text string) map[string]any {
	return map[string]any{
		"resourceType": "OperationOutcome",
		"issue":        []any{map[string]any{"severity": "error", "code": "processing", "diagnostics": text}},
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
