// Package mdrtest provides an in-memory metadata repository for tests.
package mdrtest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
)

type Field struct {
	ID         string
	Definition string
}

type Section struct {
	Code     string
	Fields   []Field
	Sections []Section
}

type Form struct {
	ID       string
	Fields   []Field
	Sections []Section
}

// Attr is an attribute as served by the MDR; Value is a string or a []string.
type Attr struct {
	Domain    string `json:"domain"`
	Attribute string `json:"attribute"`
	Value     any    `json:"value"`
}

type Folder struct {
	ID      string
	FormIDs []string
}

// Server is a fake MDR. The zero value is not usable, use NewServer.
type Server struct {
	*httptest.Server

	ClientID     string
	ClientSecret string

	mu              sync.Mutex
	expiresIn       int64
	logins          int
	requests        map[string]int
	failLogin       bool
	omitIndexRel    string
	forms           []Form
	folders         []Folder
	formAttrs       map[string][]Attr
	fieldAttrs      map[string][]Attr
	sectionAttrs    map[string][]Attr
	definitionAttrs map[string][]Attr
	tokens          map[string]bool
}

func NewServer() *Server {
	s := &Server{
		ClientID:        "client",
		ClientSecret:    "secret",
		expiresIn:       3600,
		requests:        map[string]int{},
		formAttrs:       map[string][]Attr{},
		fieldAttrs:      map[string][]Attr{},
		sectionAttrs:    map[string][]Attr{},
		definitionAttrs: map[string][]Attr{},
		tokens:          map[string]bool{},
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

func (s *Server) AddForm(form Form) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.forms = append(s.forms, form)
}

func (s *Server) AddFolder(folder Folder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.folders = append(s.folders, folder)
}

func (s *Server) SetFormAttributes(formID string, attrs ...Attr) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.formAttrs[formID] = attrs
}

func (s *Server) SetFieldAttributes(formID, fieldCode string, attrs ...Attr) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fieldAttrs[formID+"|"+fieldCode] = attrs
}

func (s *Server) SetSectionAttributes(formID, sectionCode string, attrs ...Attr) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sectionAttrs[formID+"|"+sectionCode] = attrs
}

func (s *Server) SetDefinitionAttributes(code, version string, attrs ...Attr) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.definitionAttrs[code+"|"+version] = attrs
}

// SetExpiresIn sets the token lifetime in seconds for subsequent logins.
func (s *Server) SetExpiresIn(seconds int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expiresIn = seconds
}

// FailLogin makes the token endpoint answer 401 until reset.
func (s *Server) FailLogin(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failLogin = fail
}

// OmitIndexLink drops a relation from the index to simulate a broken MDR.
func (s *Server) OmitIndexLink(rel string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.omitIndexRel = rel
}

func (s *Server) Logins() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.logins
}

// Requests counts authenticated GETs per path.
func (s *Server) Requests(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[path]
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.URL.Path == "/oauth/token" {
		s.token(w, r)
		return
	}

	auth := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !s.tokens[auth] {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	s.requests[r.URL.Path]++

	q := r.URL.Query()
	switch {
	case r.URL.Path == "/" || r.URL.Path == "":
		s.index(w)
	case r.URL.Path == "/forms":
		s.formList(w)
	case r.URL.Path == "/forms/form":
		s.form(w, q.Get("code"))
	case r.URL.Path == "/forms/attributes/form":
		writeAttrs(w, s.formAttrs[q.Get("code")])
	case r.URL.Path == "/forms/attributes/field":
		writeAttrs(w, s.fieldAttrs[q.Get("code")+"|"+q.Get("fieldCode")])
	case r.URL.Path == "/forms/attributes/section":
		writeAttrs(w, s.sectionAttrs[q.Get("code")+"|"+q.Get("sectionCode")])
	case r.URL.Path == "/definitions/attributes/definition/version":
		writeAttrs(w, s.definitionAttrs[q.Get("code")+"|"+q.Get("version")])
	case r.URL.Path == "/folders":
		s.folderList(w)
	case strings.HasPrefix(r.URL.Path, "/folders/"):
		s.folder(w, strings.TrimPrefix(r.URL.Path, "/folders/"))
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) token(w http.ResponseWriter, r *http.Request) {
	id, secret, ok := r.BasicAuth()
	if !ok || id != s.ClientID || secret != s.ClientSecret || s.failLogin {
		http.Error(w, `{"error":"invalid_client"}`, http.StatusUnauthorized)
		return
	}
	if err := r.ParseForm(); err != nil || r.PostForm.Get("username") == "" || r.PostForm.Get("password") == "" {
		http.Error(w, `{"error":"invalid_request"}`, http.StatusBadRequest)
		return
	}

	s.logins++
	token := fmt.Sprintf("token-%06d", s.logins)
	s.tokens[token] = true
	writeJSON(w, map[string]any{
		"access_token": token,
		"expires_in":   s.expiresIn,
		"token_type":   "bearer",
		"scope":        r.PostForm.Get("scope"),
	})
}

func (s *Server) index(w http.ResponseWriter) {
	var links []map[string]string
	for _, rel := range []string{"users", "itemsets", "domains", "definitions", "folders", "units"} {
		if rel == s.omitIndexRel {
			continue
		}
		links = append(links, map[string]string{"rel": rel, "href": s.URL + "/" + rel})
	}
	writeJSON(w, map[string]any{"links": links})
}

func (s *Server) formList(w http.ResponseWriter) {
	content := make([]any, 0, len(s.forms))
	for _, f := range s.forms {
		content = append(content, formJSON(f))
	}
	writeJSON(w, map[string]any{"links": []any{}, "content": content})
}

func (s *Server) form(w http.ResponseWriter, id string) {
	for _, f := range s.forms {
		if f.ID == id {
			writeJSON(w, formJSON(f))
			return
		}
	}
	http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
}

func (s *Server) folderList(w http.ResponseWriter) {
	content := make([]any, 0, len(s.folders))
	for _, f := range s.folders {
		content = append(content, map[string]any{
			"id":      f.ID,
			"caption": caption(f.ID),
			"links":   []any{map[string]string{"rel": "self", "href": s.URL + "/folders/" + f.ID}},
		})
	}
	writeJSON(w, map[string]any{"links": []any{}, "content": content})
}

func (s *Server) folder(w http.ResponseWriter, id string) {
	for _, f := range s.folders {
		if f.ID != id {
			continue
		}
		var forms []any
		for _, formID := range f.FormIDs {
			forms = append(forms, map[string]any{"id": formID, "caption": caption(formID), "version": 1, "links": []any{}})
		}
		writeJSON(w, map[string]any{
			"id":        f.ID,
			"caption":   caption(f.ID),
			"links":     []any{},
			"_embedded": map[string]any{"forms": forms},
		})
		return
	}
	http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
}

func formJSON(f Form) map[string]any {
	return map[string]any{
		"id":             f.ID,
		"caption":        caption(f.ID),
		"version":        1,
		"approvalStatus": "APPROVED",
		"links":          []any{},
		"fields":         fieldsJSON(f.Fields),
		"sections":       sectionsJSON(f.Sections),
	}
}

func sectionsJSON(sections []Section) []any {
	out := make([]any, 0, len(sections))
	for _, s := range sections {
		out = append(out, map[string]any{
			"code":           s.Code,
			"caption":        caption(s.Code),
			"fields":         fieldsJSON(s.Fields),
			"sections":       sectionsJSON(s.Sections),
			"approvalStatus": "APPROVED",
		})
	}
	return out
}

func fieldsJSON(fields []Field) []any {
	out := make([]any, 0, len(fields))
	for _, f := range fields {
		out = append(out, map[string]any{
			"item": map[string]any{
				"id":             f.ID,
				"caption":        caption(f.ID),
				"visible":        true,
				"mandatory":      false,
				"definition":     f.Definition,
				"version":        1,
				"approvalStatus": "APPROVED",
			},
			"modificationTime": 0,
		})
	}
	return out
}

func caption(name string) map[string]any {
	return map[string]any{"en": map[string]any{"name": name}}
}

func writeAttrs(w http.ResponseWriter, attrs []Attr) {
	if attrs == nil {
		attrs = []Attr{}
	}
	writeJSON(w, map[string]any{"links": []any{}, "content": attrs})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
