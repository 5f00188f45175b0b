package terminology

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/SanteonNL/mettertron/cmd/mettertron/apperror"
	"github.com/SanteonNL/mettertron/cmd/mettertron/cache"
	"github.com/SanteonNL/mettertron/cmd/mettertron/client"
	"github.com/SanteonNL/mettertron/cmd/mettertron/config"
	"github.com/SanteonNL/mettertron/models/fhir"
	"github.com/rs/zerolog"
)

const (
	resourceCodeSystem = "CodeSystem"
	resourceValueSet   = "ValueSet"
	resourceConceptMap = "ConceptMap"
)

// Client talks to the FHIR terminology server. It needs no authentication.
type Client struct {
	api *client.Client
	log zerolog.Logger
}

func NewClient(settings config.TerminologySettings, httpSettings config.HTTPSettings, responseCache *cache.ResponseCache, log zerolog.Logger) *Client {
	log = log.With().Str("component", "terminology_client").Logger()
	return &Client{
		api: client.New(client.Config{
			BaseURL:  settings.URL,
			Timeout:  httpSettings.Timeout,
			RetryMax: httpSettings.RetryMax,
		}, responseCache, log),
		log: log,
	}
}

// Resource finds the single resource of the given type with the canonical URL and
// returns its JSON as served.
func (c *Client) Resource(ctx context.Context, resourceType, canonical string) (json.RawMessage, error) {
	query := url.Values{}
	query.Set("url", canonical)

	var bundle fhir.Bundle
	if err := c.get(ctx, c.api.BuildRoute(resourceType), query, &bundle); err != nil {
		return nil, err
	}

	switch len(bundle.Entry) {
	case 0:
		return nil, apperror.NewNotFound(fmt.Sprintf("no %s with canonical url %s", resourceType, canonical), nil)
	case 1:
	default:
		return nil, apperror.NewMultipleResults(
			fmt.Sprintf("%d resources of type %s share the canonical url %s", len(bundle.Entry), resourceType, canonical), nil)
	}

	fullURL := bundle.Entry[0].FullURL
	if fullURL == "" {
		return nil, apperror.NewCommunication(fmt.Sprintf("the %s search result for %s has no full url", resourceType, canonical), nil)
	}

	var raw json.RawMessage
	if err := c.get(ctx, fullURL, nil, &raw); err != nil {
		return nil, err
	}

	var header struct {
		ResourceType string `json:"resourceType"`
	}
	if err := json.Unmarshal(raw, &header); err != nil || header.ResourceType != resourceType {
		return nil, apperror.NewCommunication(fmt.Sprintf("%s did not resolve to a %s", fullURL, resourceType), err)
	}
	return raw, nil
}

func (c *Client) CodeSystem(ctx context.Context, canonical string) (fhir.CodeSystem, json.RawMessage, error) {
	var cs fhir.CodeSystem
	raw, err := c.resource(ctx, resourceCodeSystem, canonical, &cs)
	return cs, raw, err
}

func (c *Client) ValueSet(ctx context.Context, canonical string) (fhir.ValueSet, json.RawMessage, error) {
	var vs fhir.ValueSet
	raw, err := c.resource(ctx, resourceValueSet, canonical, &vs)
	return vs, raw, err
}

func (c *Client) ConceptMap(ctx context.Context, canonical string) (fhir.ConceptMap, json.RawMessage, error) {
	var cm fhir.ConceptMap
	raw, err := c.resource(ctx, resourceConceptMap, canonical, &cm)
	return cm, raw, err
}

func (c *Client) resource(ctx context.Context, resourceType, canonical string, out any) (json.RawMessage, error) {
	raw, err := c.Resource(ctx, resourceType, canonical)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return nil, apperror.NewCommunication(fmt.Sprintf("invalid %s %s", resourceType, canonical), err)
	}
	return raw, nil
}

// Lookup runs CodeSystem/$lookup. Designations are always requested, followed by
// the given properties.
func (c *Client) Lookup(ctx context.Context, system, code string, properties []string) (LookupResult, error) {
	query := url.Values{}
	query.Set("code", code)
	query.Set("system", system)
	query.Add("property", "designation")
	for _, p := range properties {
		query.Add("property", p)
	}

	params, err := c.operation(ctx, "CodeSystem/$lookup", query)
	if err != nil {
		return LookupResult{}, err
	}
	return parseLookup(params)
}

// ValidateCodeSystemCode checks whether code exists in the code system.
func (c *Client) ValidateCodeSystemCode(ctx context.Context, codeSystem, code string) (ValidationResult, error) {
	query := url.Values{}
	query.Set("url", codeSystem)
	query.Set("code", code)

	params, err := c.operation(ctx, "CodeSystem/$validate-code", query)
	if err != nil {
		return ValidationResult{}, err
	}
	return parseValidation(params)
}

// ValidateValueSetCode checks whether the code from codeSystem is in the value set.
func (c *Client) ValidateValueSetCode(ctx context.Context, valueSet, codeSystem, code string) (ValidationResult, error) {
	query := url.Values{}
	query.Set("url", valueSet)
	query.Set("system", codeSystem)
	query.Set("code", code)

	params, err := c.operation(ctx, "ValueSet/$validate-code", query)
	if err != nil {
		return ValidationResult{}, err
	}
	return parseValidation(params)
}

// Translate runs ConceptMap/$translate for code in codeSystem. valueSet is sent as
// the source value set when not empty.
func (c *Client) Translate(ctx context.Context, conceptMap, code, codeSystem, valueSet string) (TranslationResult, error) {
	query := url.Values{}
	query.Set("url", conceptMap)
	query.Set("system", codeSystem)
	query.Set("code", code)
	if valueSet != "" {
		query.Set("source", valueSet)
	}

	params, err := c.operation(ctx, "ConceptMap/$translate", query)
	if err != nil {
		return TranslationResult{}, err
	}
	return parseTranslation(params)
}

func (c *Client) operation(ctx context.Context, endpoint string, query url.Values) (fhir.Parameters, error) {
	var params fhir.Parameters
	if err := c.get(ctx, c.api.BuildRoute(endpoint), query, &params); err != nil {
		return fhir.Parameters{}, err
	}
	if params.ResourceType != "Parameters" {
		return fhir.Parameters{}, apperror.NewCommunication(
			fmt.Sprintf("%s answered with %q instead of Parameters", endpoint, params.ResourceType), nil)
	}
	return params, nil
}

func (c *Client) get(ctx context.Context, route string, query url.Values, response any) error {
	err := c.api.GetJSON(ctx, route, query, nil, response)
	if err == nil {
		return nil
	}

	var statusErr *client.StatusError
	if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound {
		return apperror.NewNotFound(fmt.Sprintf("the terminology server has no resource at %s", client.CacheKey(route, query)), err)
	}
	c.log.Warn().Err(err).Str("url", client.CacheKey(route, query)).Msg("Terminology server request failed")
	return apperror.NewCommunication("error in terminology server communication", err)
}
