package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/SanteonNL/mettertron/cmd/mettertron/apperror"
	"github.com/SanteonNL/mettertron/cmd/mettertron/cache"
	"github.com/SanteonNL/mettertron/cmd/mettertron/formfield"
	"github.com/SanteonNL/mettertron/cmd/mettertron/mdr"
	"github.com/SanteonNL/mettertron/cmd/mettertron/terminology"
	"github.com/SanteonNL/mettertron/util"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

type Router struct {
	mdr       *mdr.Client
	ts        *terminology.Client
	formField *formfield.Service
	cache     *cache.ResponseCache
	log       zerolog.Logger
}

func NewRouter(
	mdrClient *mdr.Client,
	tsClient *terminology.Client,
	formField *formfield.Service,
	responseCache *cache.ResponseCache,
	log zerolog.Logger,
) *Router {
	return &Router{
		mdr:       mdrClient,
		ts:        tsClient,
		formField: formField,
		cache:     responseCache,
		log:       log.With().Str("component", "api").Logger(),
	}
}

func (rt *Router) SetupRoutes() http.Handler {
	r := chi.NewRouter()

	r.Use(requestID)
	r.Use(requestLogger(rt.log))
	r.Use(middleware.Recoverer)

	r.Get("/health", rt.handleHealth)

	r.Route("/admin", func(r chi.Router) {
		r.Get("/status", rt.handleStatus)
		r.Get("/login-mdr", rt.handleLogin)
		r.Get("/login-mdr/get-token", rt.handleToken)
		r.Get("/mdr-index", rt.handleIndex)
		r.Get("/caches/status", rt.handleCacheStatus)
		r.Post("/caches/clean", rt.handleCacheClean)
		r.Post("/caches/clear", rt.handleCacheClear)
	})

	r.Route("/mdr", func(r chi.Router) {
		r.Get("/folders", rt.handleFolders)
		r.Get("/folders/{id}", rt.handleFolder)
		r.Get("/forms", rt.handleForms)
		r.Get("/forms/{id}", rt.handleForm)
		r.Get("/forms/{id}/attributes", rt.handleFormAttributes)
	})

	r.Route("/fhir", func(r chi.Router) {
		r.Get("/CodeSystem", rt.handleResource("CodeSystem"))
		r.Get("/CodeSystem/lookup", rt.handleLookup)
		r.Get("/ValueSet", rt.handleResource("ValueSet"))
		r.Get("/ConceptMap", rt.handleResource("ConceptMap"))
	})

	r.Route("/magic", func(r chi.Router) {
		r.Get("/$validate-code", rt.handleValidateCode)
		r.Get("/$translate", rt.handleTranslate)
	})

	return r
}

func (rt *Router) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "UP"})
}

// SessionStatus describes the MDR session without exposing the token.
type SessionStatus struct {
	LoggedIn  bool       `json:"logged_in"`
	Expired   bool       `json:"expired"`
	TokenType string     `json:"token_type,omitempty"`
	Scope     string     `json:"scope,omitempty"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

func sessionStatus(session *mdr.Session) SessionStatus {
	if session == nil {
		return SessionStatus{}
	}
	return SessionStatus{
		LoggedIn:  true,
		Expired:   session.IsExpired(),
		TokenType: session.TokenType,
		Scope:     session.Scope,
		CreatedAt: util.Ptr(session.CreatedAt),
		ExpiresAt: util.Ptr(session.ExpiresAt),
	}
}

func (rt *Router) handleStatus(w http.ResponseWriter, r *http.Request) {
	session, _ := rt.mdr.Login(r.Context(), mdr.LoginProbe)
	respondWithJSON(w, http.StatusOK, map[string]any{
		"mdr_session": sessionStatus(session),
		"mdr_links":   rt.mdr.Links(),
		"cache":       rt.cache.Status(),
	})
}

func (rt *Router) handleLogin(w http.ResponseWriter, r *http.Request) {
	force := util.Ptr(false)
	if raw := r.URL.Query().Get("force"); raw != "" {
		b, err := strconv.ParseBool(raw)
		if err != nil {
			rt.respondWithError(w, r, apperror.NewValidation(fmt.Sprintf("force must be a boolean, got %q", raw), err))
			return
		}
		force = util.Ptr(b)
	}

	session, err := rt.mdr.Login(r.Context(), mdr.LoginModeFromForce(force))
	if err != nil {
		rt.respondWithError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, sessionStatus(session))
}

func (rt *Router) handleToken(w http.ResponseWriter, r *http.Request) {
	token, err := rt.mdr.Token(r.Context())
	if err != nil {
		rt.respondWithError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (rt *Router) handleIndex(w http.ResponseWriter, r *http.Request) {
	index, err := rt.mdr.Index(r.Context())
	rt.respond(w, r, index, err)
}

func (rt *Router) handleCacheStatus(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, rt.cache.Status())
}

func (rt *Router) handleCacheClean(w http.ResponseWriter, r *http.Request) {
	removed := rt.cache.Clean("manual")
	respondWithJSON(w, http.StatusOK, map[string]any{"removed": len(removed), "urls": removed})
}

func (rt *Router) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]int{"removed": rt.cache.Clear()})
}

func (rt *Router) handleFolders(w http.ResponseWriter, r *http.Request) {
	folders, err := rt.mdr.Folders(r.Context())
	rt.respond(w, r, folders, err)
}

func (rt *Router) handleFolder(w http.ResponseWriter, r *http.Request) {
	folder, err := rt.mdr.FolderByID(r.Context(), chi.URLParam(r, "id"))
	rt.respond(w, r, folder, err)
}

func (rt *Router) handleForms(w http.ResponseWriter, r *http.Request) {
	forms, err := rt.mdr.Forms(r.Context())
	rt.respond(w, r, forms, err)
}

func (rt *Router) handleForm(w http.ResponseWriter, r *http.Request) {
	form, err := rt.mdr.FormByID(r.Context(), chi.URLParam(r, "id"))
	rt.respond(w, r, form, err)
}

func (rt *Router) handleFormAttributes(w http.ResponseWriter, r *http.Request) {
	attrs, err := rt.mdr.FormAttributes(r.Context(), chi.URLParam(r, "id"))
	rt.respond(w, r, attrs, err)
}

// handleResource passes the resource through as served by the terminology server.
func (rt *Router) handleResource(resourceType string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		canonical, err := requireQuery(r, "canonicalUrl")
		if err != nil {
			rt.respondWithError(w, r, err)
			return
		}
		raw, err := rt.ts.Resource(r.Context(), resourceType, canonical)
		if err != nil {
			rt.respondWithError(w, r, err)
			return
		}
		w.Header().Set("Content-Type", "application/fhir+json")
		w.WriteHeader(http.StatusOK)
		w.Write(raw)
	}
}

func (rt *Router) handleLookup(w http.ResponseWriter, r *http.Request) {
	canonical, err := requireQuery(r, "canonicalUrl")
	if err != nil {
		rt.respondWithError(w, r, err)
		return
	}
	code, err := requireQuery(r, "code")
	if err != nil {
		rt.respondWithError(w, r, err)
		return
	}

	properties := util.SplitList(r.URL.Query()["parameterCodes"]...)
	result, err := rt.ts.Lookup(r.Context(), canonical, code, properties)
	rt.respond(w, r, result, err)
}

func (rt *Router) handleValidateCode(w http.ResponseWriter, r *http.Request) {
	formID, fieldCode, value, err := fieldQuery(r)
	if err != nil {
		rt.respondWithError(w, r, err)
		return
	}
	result, err := rt.formField.Validate(r.Context(), formID, fieldCode, value)
	rt.respond(w, r, result, err)
}

func (rt *Router) handleTranslate(w http.ResponseWriter, r *http.Request) {
	formID, fieldCode, value, err := fieldQuery(r)
	if err != nil {
		rt.respondWithError(w, r, err)
		return
	}
	lookupCodes, err := optionalBool(r, "lookupCodes")
	if err != nil {
		rt.respondWithError(w, r, err)
		return
	}
	includeFHIR, err := optionalBool(r, "includeFHIRDefinedProperties")
	if err != nil {
		rt.respondWithError(w, r, err)
		return
	}

	result, err := rt.formField.Translate(r.Context(), formID, fieldCode, value, lookupCodes, includeFHIR)
	rt.respond(w, r, result, err)
}

func fieldQuery(r *http.Request) (formID, fieldCode, value string, err error) {
	if formID, err = requireQuery(r, "formId"); err != nil {
		return
	}
	if fieldCode, err = requireQuery(r, "fieldCode"); err != nil {
		return
	}
	value, err = requireQuery(r, "fieldValue")
	return
}

func requireQuery(r *http.Request, name string) (string, error) {
	value := strings.TrimSpace(r.URL.Query().Get(name))
	if value == "" {
		return "", apperror.NewValidation(fmt.Sprintf("the query parameter %s is required", name), nil)
	}
	return value, nil
}

func optionalBool(r *http.Request, name string) (bool, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, apperror.NewValidation(fmt.Sprintf("the query parameter %s must be a boolean, got %q", name, raw), err)
	}
	return b, nil
}

func (rt *Router) respond(w http.ResponseWriter, r *http.Request, data any, err error) {
	if err != nil {
		rt.respondWithError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, data)
}

func respondWithJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
