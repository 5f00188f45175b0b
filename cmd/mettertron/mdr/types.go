package mdr

// Link is a HATEOAS link as returned by the MDR.
type Link struct {
	Rel         string `json:"rel"`
	Href        string `json:"href"`
	Hreflang    string `json:"hreflang,omitempty"`
	Media       string `json:"media,omitempty"`
	Title       string `json:"title,omitempty"`
	Type        string `json:"type,omitempty"`
	Deprecation string `json:"deprecation,omitempty"`
}

type Links []Link

// Find returns the href of the first link with the given relation.
func (l Links) Find(rel string) (string, bool) {
	for _, link := range l {
		if link.Rel == rel {
			return link.Href, true
		}
	}
	return "", false
}

func (l Links) Self() string {
	href, _ := l.Find("self")
	return href
}

// Index is the link-only response of the MDR root.
type Index struct {
	Links Links `json:"links"`
}

type localisedContent struct {
	Name        string  `json:"name"`
	Description *string `json:"description"`
}

// localised maps a language code to a caption.
type localised map[string]localisedContent

// LocalisedString maps a language code to text in that language.
type LocalisedString map[string]string

func (l localised) names() LocalisedString {
	if l == nil {
		return nil
	}
	out := make(LocalisedString, len(l))
	for lang, content := range l {
		out[lang] = content.Name
	}
	return out
}

type apiFolder struct {
	ID               string    `json:"id"`
	Caption          localised `json:"caption"`
	ModificationTime int64     `json:"modificationTime"`
	Parent           *string   `json:"parent"`
	Links            Links     `json:"links"`
}

type apiFolders struct {
	Links   Links       `json:"links"`
	Content []apiFolder `json:"content"`
}

type apiFolderDetail struct {
	Links            Links     `json:"links"`
	ID               string    `json:"id"`
	Caption          localised `json:"caption"`
	Parent           *string   `json:"parent"`
	ModificationTime int64     `json:"modificationTime"`
	Embedded         *struct {
		Forms []apiForm `json:"forms"`
	} `json:"_embedded"`
}

type apiForm struct {
	ID               string       `json:"id"`
	Caption          localised    `json:"caption"`
	Version          int64        `json:"version"`
	SystemURL        string       `json:"systemUrl"`
	ApprovalStatus   string       `json:"approvalStatus"`
	ModificationTime int64        `json:"modificationTime"`
	Links            Links        `json:"links"`
	Sections         []apiSection `json:"sections"`
	Fields           []apiField   `json:"fields"`
	ValidFrom        string       `json:"validFrom"`
	ValidUntil       string       `json:"validUntil"`
	FolderID         string       `json:"folderId"`
}

type apiForms struct {
	Links   Links     `json:"links"`
	Content []apiForm `json:"content"`
}

type apiSection struct {
	Code           string       `json:"code"`
	Caption        localised    `json:"caption"`
	Fields         []apiField   `json:"fields"`
	Sections       []apiSection `json:"sections"`
	Version        int64        `json:"version"`
	MultiValue     bool         `json:"multiValue"`
	ApprovalStatus string       `json:"approvalStatus"`
}

type apiField struct {
	Item   apiFieldItem `json:"item"`
	Column *int         `json:"column"`
	Row    *int         `json:"row"`
}

type apiFieldItem struct {
	ID             string    `json:"id"`
	ItemType       string    `json:"itemType"`
	Caption        localised `json:"caption"`
	Unit           string    `json:"unit"`
	Visible        bool      `json:"visible"`
	Mandatory      bool      `json:"mandatory"`
	Definition     string    `json:"definition"`
	Version        int64     `json:"version"`
	SystemURL      string    `json:"systemUrl"`
	ReferenceRange string    `json:"referenceRange"`
	LinkedForm     string    `json:"linkedForm"`
	LinkedSection  string    `json:"linkedSection"`
	ApprovalStatus string    `json:"approvalStatus"`
}

type apiAttributeQuery struct {
	Links   Links       `json:"links"`
	Content []Attribute `json:"content"`
}

type Folder struct {
	ID   string          `json:"id"`
	Text LocalisedString `json:"text"`
	Link string          `json:"link,omitempty"`
}

type FolderDetail struct {
	ID            string          `json:"id"`
	Caption       LocalisedString `json:"caption,omitempty"`
	EmbeddedForms []FolderForm    `json:"embedded_forms"`
}

type FolderForm struct {
	ID             string          `json:"id"`
	Caption        LocalisedString `json:"caption,omitempty"`
	Version        int64           `json:"version"`
	SystemURL      string          `json:"system_url,omitempty"`
	ApprovalStatus string          `json:"approval_status,omitempty"`
}

type Forms struct {
	Forms []Form `json:"forms"`
}

type Form struct {
	ID             string          `json:"id"`
	Caption        LocalisedString `json:"caption,omitempty"`
	Version        int64           `json:"version"`
	SystemURL      string          `json:"system_url,omitempty"`
	ApprovalStatus string          `json:"approval_status,omitempty"`
	Sections       []Section       `json:"sections"`
	Fields         []Field         `json:"fields"`
}

type Section struct {
	Code     string          `json:"code"`
	Caption  LocalisedString `json:"caption,omitempty"`
	Fields   []Field         `json:"fields"`
	Sections []Section       `json:"sections,omitempty"`
}

type Field struct {
	ID             string          `json:"id"`
	Column         *int            `json:"column,omitempty"`
	Row            *int            `json:"row,omitempty"`
	ItemType       string          `json:"item_type,omitempty"`
	Caption        LocalisedString `json:"caption,omitempty"`
	ReferenceRange string          `json:"reference_range,omitempty"`
	Unit           string          `json:"unit,omitempty"`
	Visible        bool            `json:"visible"`
	Mandatory      bool            `json:"mandatory"`
	Definition     string          `json:"definition,omitempty"`
	Version        int64           `json:"version"`
	SystemURL      string          `json:"system_url,omitempty"`
	LinkedForm     string          `json:"linked_form,omitempty"`
	LinkedSection  string          `json:"linked_section,omitempty"`
	ApprovalStatus string          `json:"approval_status,omitempty"`
}

// FormAttributes collects the attributes declared on a form, its top-level fields
// and each section (depth-first) with the fields inside it.
type FormAttributes struct {
	Form     []Attribute            `json:"form"`
	Fields   map[string][]Attribute `json:"fields"`
	Sections []SectionAttributes    `json:"sections"`
}

type SectionAttributes struct {
	Code            string                 `json:"code"`
	Attributes      []Attribute            `json:"attributes"`
	FieldAttributes map[string][]Attribute `json:"field_attributes"`
}

// FieldAttributes returns the attributes of a field declared directly on the form,
// falling back to the first section that contains the field.
func (fa FormAttributes) FieldAttributes(fieldCode string) ([]Attribute, bool) {
	if attrs, ok := fa.Fields[fieldCode]; ok {
		return attrs, true
	}
	for _, section := range fa.Sections {
		if attrs, ok := section.FieldAttributes[fieldCode]; ok {
			return attrs, true
		}
	}
	return nil, false
}

// FindField searches the top-level fields first, then the sections depth-first.
func (f Form) FindField(code string) (Field, bool) {
	return f.FindFieldFunc(func(field Field) bool { return field.ID == code })
}

// FindFieldFunc returns the first field satisfying match, in FindField order.
func (f Form) FindFieldFunc(match func(Field) bool) (Field, bool) {
	for _, field := range f.Fields {
		if match(field) {
			return field, true
		}
	}
	for _, section := range f.AllSections() {
		for _, field := range section.Fields {
			if match(field) {
				return field, true
			}
		}
	}
	return Field{}, false
}

// AllSections flattens nested sections depth-first, parents before children.
func (f Form) AllSections() []Section {
	var out []Section
	var walk func(sections []Section)
	walk = func(sections []Section) {
		for _, s := range sections {
			out = append(out, s)
			walk(s.Sections)
		}
	}
	walk(f.Sections)
	return out
}

func folderFromAPI(api apiFolder) Folder {
	return Folder{
		ID:   api.ID,
		Text: api.Caption.names(),
		Link: api.Links.Self(),
	}
}

func folderDetailFromAPI(api apiFolderDetail) FolderDetail {
	detail := FolderDetail{
		ID:            api.ID,
		Caption:       api.Caption.names(),
		EmbeddedForms: []FolderForm{},
	}
	if api.Embedded != nil {
		for _, form := range api.Embedded.Forms {
			detail.EmbeddedForms = append(detail.EmbeddedForms, FolderForm{
				ID:             form.ID,
				Caption:        form.Caption.names(),
				Version:        form.Version,
				SystemURL:      form.SystemURL,
				ApprovalStatus: form.ApprovalStatus,
			})
		}
	}
	return detail
}

func formFromAPI(api apiForm) Form {
	return Form{
		ID:             api.ID,
		Caption:        api.Caption.names(),
		Version:        api.Version,
		SystemURL:      api.SystemURL,
		ApprovalStatus: api.ApprovalStatus,
		Sections:       sectionsFromAPI(api.Sections),
		Fields:         fieldsFromAPI(api.Fields),
	}
}

func sectionsFromAPI(api []apiSection) []Section {
	sections := make([]Section, 0, len(api))
	for _, s := range api {
		sections = append(sections, Section{
			Code:     s.Code,
			Caption:  s.Caption.names(),
			Fields:   fieldsFromAPI(s.Fields),
			Sections: sectionsFromAPI(s.Sections),
		})
	}
	return sections
}

func fieldsFromAPI(api []apiField) []Field {
	fields := make([]Field, 0, len(api))
	for _, f := range api {
		fields = append(fields, Field{
			ID:             f.Item.ID,
			Column:         f.Column,
			Row:            f.Row,
			ItemType:       f.Item.ItemType,
			Caption:        f.Item.Caption.names(),
			ReferenceRange: f.Item.ReferenceRange,
			Unit:           f.Item.Unit,
			Visible:        f.Item.Visible,
			Mandatory:      f.Item.Mandatory,
			Definition:     f.Item.Definition,
			Version:        f.Item.Version,
			SystemURL:      f.Item.SystemURL,
			LinkedForm:     f.Item.LinkedForm,
			LinkedSection:  f.Item.LinkedSection,
			ApprovalStatus: f.Item.ApprovalStatus,
		})
	}
	return fields
}
