package mdr

import (
	"context"
	"fmt"
	"net/url"

	"github.com/SanteonNL/mettertron/cmd/mettertron/apperror"
)

// Index returns the link index of the MDR root.
func (c *Client) Index(ctx context.Context) (Index, error) {
	var index Index
	if err := c.get(ctx, c.api.BuildRoute("/"), nil, &index); err != nil {
		return Index{}, err
	}
	return index, nil
}

func (c *Client) Folders(ctx context.Context) ([]Folder, error) {
	links, err := c.requireLinks(ctx)
	if err != nil {
		return nil, err
	}

	var resp apiFolders
	if err := c.get(ctx, links.Folders, nil, &resp); err != nil {
		return nil, fmt.Errorf("reading folders: %w", err)
	}

	folders := make([]Folder, 0, len(resp.Content))
	for _, f := range resp.Content {
		folders = append(folders, folderFromAPI(f))
	}
	return folders, nil
}

func (c *Client) FolderByID(ctx context.Context, id string) (FolderDetail, error) {
	folders, err := c.Folders(ctx)
	if err != nil {
		return FolderDetail{}, err
	}

	var found *Folder
	for i := range folders {
		if folders[i].ID == id {
			found = &folders[i]
			break
		}
	}
	if found == nil {
		return FolderDetail{}, apperror.NewNotFound(fmt.Sprintf("the folder %s could not be found", id), nil)
	}
	if found.Link == "" {
		return FolderDetail{}, apperror.NewInvalidState(fmt.Sprintf("no link in the MDR folder %s", id), nil)
	}

	var detail apiFolderDetail
	if err := c.get(ctx, found.Link, nil, &detail); err != nil {
		return FolderDetail{}, err
	}
	return folderDetailFromAPI(detail), nil
}

func (c *Client) Forms(ctx context.Context) (Forms, error) {
	var resp apiForms
	if err := c.get(ctx, c.api.BuildRoute("forms"), nil, &resp); err != nil {
		return Forms{}, fmt.Errorf("reading forms: %w", err)
	}

	forms := Forms{Forms: make([]Form, 0, len(resp.Content))}
	for _, f := range resp.Content {
		forms.Forms = append(forms.Forms, formFromAPI(f))
	}
	return forms, nil
}

// FormByID checks the form is listed before reading its full definition.
func (c *Client) FormByID(ctx context.Context, id string) (Form, error) {
	forms, err := c.Forms(ctx)
	if err != nil {
		return Form{}, err
	}

	listed := false
	for _, f := range forms.Forms {
		if f.ID == id {
			listed = true
			break
		}
	}
	if !listed {
		return Form{}, apperror.NewNotFound(fmt.Sprintf("the form %s could not be found", id), nil)
	}

	var form apiForm
	if err := c.get(ctx, c.api.BuildRoute("forms/form"), url.Values{"code": {id}}, &form); err != nil {
		return Form{}, err
	}
	return formFromAPI(form), nil
}

// FormAttributes reads the attributes of a form, of each of its fields and of
// each section with its fields.
func (c *Client) FormAttributes(ctx context.Context, formID string) (FormAttributes, error) {
	form, err := c.FormByID(ctx, formID)
	if err != nil {
		return FormAttributes{}, err
	}

	formLevel, err := c.attributes(ctx, "forms/attributes/form", url.Values{"code": {formID}})
	if err != nil {
		return FormAttributes{}, err
	}

	fields, err := c.fieldListAttributes(ctx, formID, form.Fields)
	if err != nil {
		return FormAttributes{}, err
	}

	result := FormAttributes{
		Form:     formLevel,
		Fields:   fields,
		Sections: []SectionAttributes{},
	}
	for _, section := range form.AllSections() {
		sectionLevel, err := c.SectionAttributes(ctx, formID, section.Code)
		if err != nil {
			return FormAttributes{}, err
		}
		sectionFields, err := c.fieldListAttributes(ctx, formID, section.Fields)
		if err != nil {
			return FormAttributes{}, err
		}
		result.Sections = append(result.Sections, SectionAttributes{
			Code:            section.Code,
			Attributes:      sectionLevel,
			FieldAttributes: sectionFields,
		})
	}
	return result, nil
}

func (c *Client) fieldListAttributes(ctx context.Context, formID string, fields []Field) (map[string][]Attribute, error) {
	out := make(map[string][]Attribute, len(fields))
	for _, field := range fields {
		attrs, err := c.FieldAttributes(ctx, formID, field.ID)
		if err != nil {
			return nil, err
		}
		out[field.ID] = attrs
	}
	return out, nil
}

func (c *Client) FieldAttributes(ctx context.Context, formID, fieldCode string) ([]Attribute, error) {
	return c.attributes(ctx, "forms/attributes/field", url.Values{"code": {formID}, "fieldCode": {fieldCode}})
}

func (c *Client) SectionAttributes(ctx context.Context, formID, sectionCode string) ([]Attribute, error) {
	return c.attributes(ctx, "forms/attributes/section", url.Values{"code": {formID}, "sectionCode": {sectionCode}})
}

// DefinitionAttributes reads the attributes bound to a versioned definition.
func (c *Client) DefinitionAttributes(ctx context.Context, code, version string) ([]Attribute, error) {
	return c.attributes(ctx, "definitions/attributes/definition/version", url.Values{"code": {code}, "version": {version}})
}

func (c *Client) attributes(ctx context.Context, endpoint string, query url.Values) ([]Attribute, error) {
	c.log.Debug().Str("endpoint", endpoint).Str("query", query.Encode()).Msg("Requesting attributes")

	var resp apiAttributeQuery
	if err := c.get(ctx, c.api.BuildRoute(endpoint), query, &resp); err != nil {
		return nil, err
	}
	if resp.Content == nil {
		return []Attribute{}, nil
	}
	return resp.Content, nil
}
