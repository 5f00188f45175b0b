package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/SanteonNL/mettertron/cmd/mettertron/apperror"
	"github.com/SanteonNL/mettertron/cmd/mettertron/cache"
	"github.com/SanteonNL/mettertron/cmd/mettertron/config"
	"github.com/SanteonNL/mettertron/cmd/mettertron/formfield"
	"github.com/SanteonNL/mettertron/cmd/mettertron/mdr"
	"github.com/SanteonNL/mettertron/cmd/mettertron/mdr/mdrtest"
	"github.com/SanteonNL/mettertron/cmd/mettertron/terminology"
	"github.com/SanteonNL/mettertron/cmd/mettertron/terminology/tstest"
	"github.com/rs/zerolog"
)

type fixture struct {
	handler http.Handler
	mdr     *mdrtest.Server
	ts      *tstest.Server
	cache   *cache.ResponseCache
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mdrServer := mdrtest.NewServer()
	t.Cleanup(mdrServer.Close)
	tsServer := tstest.NewServer()
	t.Cleanup(tsServer.Close)

	rc := cache.New(cache.Config{MaxAge: time.Minute, MaxElements: 100}, zerolog.Nop())
	httpSettings := config.HTTPSettings{Timeout: 5 * time.Second}
	mdrClient := mdr.NewClient(config.MdrSettings{
		URL:          mdrServer.URL,
		User:         "user",
		Password:     "password",
		ClientID:     mdrServer.ClientID,
		ClientSecret: mdrServer.ClientSecret,
		GrantType:    "password",
	}, httpSettings, rc, zerolog.Nop())
	tsClient := terminology.NewClient(config.TerminologySettings{URL: tsServer.URL}, httpSettings, rc, zerolog.Nop())
	svc := formfield.NewService(mdrClient, tsClient, config.MdrAttributesSettings{
		DomainCode:      "fhir",
		FhirCsCanonical: "cs-canonical",
		FhirVsCanonical: "vs-canonical",
		FhirCmCanonical: "cm-canonical",
	}, zerolog.Nop())

	return &fixture{
		handler: NewRouter(mdrClient, tsClient, svc, rc, zerolog.Nop()).SetupRoutes(),
		mdr:     mdrServer,
		ts:      tsServer,
		cache:   rc,
	}
}

func (f *fixture) do(t *testing.T, method, target string, out any) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	if out != nil {
		if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
			t.Fatalf("decode %s: %v (%s)", target, err, rec.Body.String())
		}
	}
	return rec
}

func TestHealthAndRequestID(t *testing.T) {
	f := newFixture(t)

	var body map[string]string
	rec := f.do(t, http.MethodGet, "/health", &body)
	if rec.Code != http.StatusOK || body["status"] != "UP" {
		t.Errorf("unexpected response %d %v", rec.Code, body)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("expected a request id")
	}

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "abc")
	rec = httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	if rec.Header().Get("X-Request-ID") != "abc" {
		t.Errorf("the incoming request id must be kept, got %q", rec.Header().Get("X-Request-ID"))
	}
}

func TestLoginRoutes(t *testing.T) {
	f := newFixture(t)

	var session SessionStatus
	rec := f.do(t, http.MethodGet, "/admin/login-mdr", &session)
	if rec.Code != http.StatusOK || !session.LoggedIn || session.Expired || f.mdr.Logins() != 1 {
		t.Errorf("a login without force must log in, got %d %+v after %d logins", rec.Code, session, f.mdr.Logins())
	}

	rec = f.do(t, http.MethodGet, "/admin/login-mdr?force=false", &session)
	if rec.Code != http.StatusOK || !session.LoggedIn || f.mdr.Logins() != 1 {
		t.Errorf("the valid session must be reused, got %d %+v after %d logins", rec.Code, session, f.mdr.Logins())
	}

	f.do(t, http.MethodGet, "/admin/login-mdr?force=true", &session)
	if f.mdr.Logins() != 2 {
		t.Errorf("expected a forced second login, got %d", f.mdr.Logins())
	}

	var token map[string]string
	f.do(t, http.MethodGet, "/admin/login-mdr/get-token", &token)
	if token["token"] != "token-000002" {
		t.Errorf("unexpected token %v", token)
	}

	rec = f.do(t, http.MethodGet, "/admin/login-mdr?force=maybe", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestLoginFailureIsBadGateway(t *testing.T) {
	f := newFixture(t)
	f.mdr.FailLogin(true)

	var body ApplicationError
	rec := f.do(t, http.MethodGet, "/admin/login-mdr?force=true", &body)
	if rec.Code != http.StatusBadGateway || body.ExceptionType != "CommunicationError" {
		t.Errorf("unexpected response %d %+v", rec.Code, body)
	}
	if body.BacktraceMessage == "" {
		t.Error("expected the cause in the backtrace message")
	}
}

func TestCacheRoutes(t *testing.T) {
	f := newFixture(t)
	f.mdr.AddForm(mdrtest.Form{ID: "F1"})

	if rec := f.do(t, http.MethodGet, "/mdr/forms", nil); rec.Code != http.StatusOK {
		t.Fatalf("forms: %d", rec.Code)
	}

	var status cache.Status
	f.do(t, http.MethodGet, "/admin/caches/status", &status)
	if status.NumberElements == 0 || len(status.CachedURLs) != status.NumberElements {
		t.Errorf("unexpected status %+v", status)
	}

	var cleaned map[string]any
	f.do(t, http.MethodPost, "/admin/caches/clean", &cleaned)
	if cleaned["removed"] != float64(0) {
		t.Errorf("fresh entries must survive a clean, got %v", cleaned)
	}

	var cleared map[string]int
	f.do(t, http.MethodPost, "/admin/caches/clear", &cleared)
	if cleared["removed"] != status.NumberElements || f.cache.Count() != 0 {
		t.Errorf("unexpected clear %v", cleared)
	}

	if rec := f.do(t, http.MethodGet, "/admin/caches/clear", nil); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405 for GET, got %d", rec.Code)
	}
}

func TestStatusRoute(t *testing.T) {
	f := newFixture(t)

	var body struct {
		Session SessionStatus        `json:"mdr_session"`
		Links   *mdr.CapabilityLinks `json:"mdr_links"`
		Cache   cache.Status         `json:"cache"`
	}
	f.do(t, http.MethodGet, "/admin/status", &body)
	if body.Session.LoggedIn || body.Links != nil {
		t.Errorf("no session expected before login, got %+v", body)
	}

	f.do(t, http.MethodGet, "/admin/login-mdr?force=false", nil)
	f.do(t, http.MethodGet, "/admin/status", &body)
	if !body.Session.LoggedIn || body.Links == nil {
		t.Errorf("expected a session and links, got %+v", body)
	}
}

func TestMdrRoutes(t *testing.T) {
	f := newFixture(t)
	f.mdr.AddForm(mdrtest.Form{ID: "F1", Fields: []mdrtest.Field{{ID: "c1"}}})
	f.mdr.SetFieldAttributes("F1", "c1", mdrtest.Attr{Domain: "fhir", Attribute: "cs-canonical", Value: "http://cs"})
	f.mdr.AddFolder(mdrtest.Folder{ID: "root", FormIDs: []string{"F1"}})

	var form mdr.Form
	if rec := f.do(t, http.MethodGet, "/mdr/forms/F1", &form); rec.Code != http.StatusOK || form.ID != "F1" {
		t.Errorf("unexpected form %d %+v", rec.Code, form)
	}

	var attrs mdr.FormAttributes
	f.do(t, http.MethodGet, "/mdr/forms/F1/attributes", &attrs)
	if len(attrs.Fields["c1"]) != 1 {
		t.Errorf("unexpected attributes %+v", attrs)
	}

	var folders []mdr.Folder
	f.do(t, http.MethodGet, "/mdr/folders", &folders)
	if len(folders) != 1 {
		t.Errorf("unexpected folders %+v", folders)
	}

	var detail mdr.FolderDetail
	f.do(t, http.MethodGet, "/mdr/folders/root", &detail)
	if len(detail.EmbeddedForms) != 1 {
		t.Errorf("unexpected folder %+v", detail)
	}

	var body ApplicationError
	if rec := f.do(t, http.MethodGet, "/mdr/forms/F9", &body); rec.Code != http.StatusNotFound || body.ExceptionType != "NotFound" {
		t.Errorf("unexpected response %d %+v", rec.Code, body)
	}
}

func TestFHIRRoutes(t *testing.T) {
	f := newFixture(t)
	f.ts.AddCodeSystem("http://cs", "inactive")
	f.ts.AddResource("ValueSet", "http://vs", nil)
	f.ts.AddResource("ValueSet", "http://vs", nil)
	f.ts.SetLookup("http://cs", "X", tstest.Lookup{
		Name:       "CS",
		Display:    "Ex",
		Properties: []tstest.Property{{Code: "inactive", Type: "Boolean", Value: true}},
	})

	var cs map[string]any
	rec := f.do(t, http.MethodGet, "/fhir/CodeSystem?canonicalUrl=http://cs", &cs)
	if rec.Code != http.StatusOK || cs["url"] != "http://cs" {
		t.Errorf("unexpected code system %d %v", rec.Code, cs)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/fhir+json" {
		t.Errorf("unexpected content type %q", ct)
	}

	if rec := f.do(t, http.MethodGet, "/fhir/ValueSet?canonicalUrl=http://vs", nil); rec.Code != http.StatusConflict {
		t.Errorf("expected 409 for ambiguous canonical, got %d", rec.Code)
	}
	if rec := f.do(t, http.MethodGet, "/fhir/ConceptMap?canonicalUrl=http://cm", nil); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
	if rec := f.do(t, http.MethodGet, "/fhir/ConceptMap", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 without canonicalUrl, got %d", rec.Code)
	}

	var lookup terminology.LookupResult
	f.do(t, http.MethodGet, "/fhir/CodeSystem/lookup?canonicalUrl=http://cs&code=X&parameterCodes=inactive", &lookup)
	if lookup.Display != "Ex" || len(lookup.Properties) != 1 || lookup.Properties[0].Value != "true" {
		t.Errorf("unexpected lookup %+v", lookup)
	}
}

func TestMagicRoutes(t *testing.T) {
	f := newFixture(t)
	f.mdr.AddForm(mdrtest.Form{ID: "F1", Fields: []mdrtest.Field{{ID: "c1", Definition: "urn:mdr:D1:1"}}})
	f.mdr.SetDefinitionAttributes("D1", "1",
		mdrtest.Attr{Domain: "fhir", Attribute: "cs-canonical", Value: "http://cs"},
		mdrtest.Attr{Domain: "fhir", Attribute: "cm-canonical", Value: "http://cm"},
	)
	f.ts.SetCodeSystemVerdict("http://cs", "X", tstest.Verdict{Result: true})
	f.ts.SetTranslation("http://cm", "http://cs", "X", tstest.Translation{
		Result:  true,
		Matches: []tstest.Match{{Equivalence: "equal", System: "http://target", Code: "T"}},
	})

	var validation formfield.FormFieldValidation
	rec := f.do(t, http.MethodGet, "/magic/$validate-code?formId=F1&fieldCode=c1&fieldValue=X", &validation)
	if rec.Code != http.StatusOK || validation.ValidationStatus != formfield.StatusValid {
		t.Errorf("unexpected validation %d %+v", rec.Code, validation)
	}

	var mapping formfield.FormFieldMapping
	rec = f.do(t, http.MethodGet, "/magic/$translate?formId=F1&fieldCode=c1&fieldValue=X&lookupCodes=false", &mapping)
	if rec.Code != http.StatusOK || !mapping.MappingSuccess || len(mapping.Mappings) != 1 {
		t.Errorf("unexpected mapping %d %+v", rec.Code, mapping)
	}

	var body ApplicationError
	rec = f.do(t, http.MethodGet, "/magic/$translate?formId=F1&fieldCode=c1&fieldValue=Y", &body)
	if rec.Code != http.StatusBadRequest || body.ExceptionType != "ValidationError" {
		t.Errorf("an invalid value cannot be translated, got %d %+v", rec.Code, body)
	}

	rec = f.do(t, http.MethodGet, "/magic/$validate-code?formId=F1&fieldCode=c1", &body)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 without fieldValue, got %d", rec.Code)
	}
}

func TestFieldWithoutBindingsIsUnprocessable(t *testing.T) {
	f := newFixture(t)
	f.mdr.AddForm(mdrtest.Form{ID: "F2", Fields: []mdrtest.Field{{ID: "c2", Definition: "urn:mdr:D2:1"}}})
	f.mdr.SetDefinitionAttributes("D2", "1", mdrtest.Attr{Domain: "other", Attribute: "cs-canonical", Value: "http://cs"})

	var body ApplicationError
	rec := f.do(t, http.MethodGet, "/magic/$validate-code?formId=F2&fieldCode=c2&fieldValue=X", &body)
	if rec.Code != http.StatusUnprocessableEntity || body.ExceptionType != "MissingAttributes" {
		t.Errorf("unexpected response %d %+v", rec.Code, body)
	}

	rec = f.do(t, http.MethodGet, "/magic/$translate?formId=F2&fieldCode=c2&fieldValue=X", &body)
	if rec.Code != http.StatusBadRequest || body.ExceptionType != "ValidationError" {
		t.Errorf("translate must report the missing bindings as a validation error, got %d %+v", rec.Code, body)
	}
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		err    error
		status int
		kind   string
	}{
		{apperror.NewNotFound("x", nil), http.StatusNotFound, "NotFound"},
		{apperror.NewCommunication("x", nil), http.StatusBadGateway, "CommunicationError"},
		{apperror.NewInvalidState("x", nil), http.StatusInternalServerError, "InvalidState"},
		{apperror.NewMultipleResults("x", nil), http.StatusConflict, "MultipleResults"},
		{apperror.NewMissingAttributes("x", nil), http.StatusUnprocessableEntity, "MissingAttributes"},
		{apperror.NewValidation("x", nil), http.StatusBadRequest, "ValidationError"},
		{apperror.NewMapping("x", nil), http.StatusBadRequest, "MappingError"},
		{fmt.Errorf("wrapped: %w", apperror.NewNotFound("x", nil)), http.StatusNotFound, "NotFound"},
		{errors.New("boom"), http.StatusInternalServerError, "Unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			status, body := toApplicationError(tt.err)
			if status != tt.status || body.ExceptionType != tt.kind {
				t.Errorf("got %d %s, want %d %s", status, body.ExceptionType, tt.status, tt.kind)
			}
		})
	}
}
