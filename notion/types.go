package notion

import (
	"encoding/json"
	"strings"
)

// RichText is a text run. Only the plain text is used by this service.
type RichText struct {
	Type      string    `json:"type,omitempty"`
	Text      *TextBody `json:"text,omitempty"`
	PlainText string    `json:"plain_text,omitempty"`
}

// TextBody is the writable content of a text run.
type TextBody struct {
	Content string `json:"content"`
}

// Text builds a single-run rich text value for writes.
func Text(s string) []RichText {
	return []RichText{{Type: "text", Text: &TextBody{Content: s}, PlainText: s}}
}

// PlainText joins the runs into one string.
func PlainText(runs []RichText) string {
	var b strings.Builder
	for _, r := range runs {
		switch {
		case r.PlainText != "":
			b.WriteString(r.PlainText)
		case r.Text != nil:
			b.WriteString(r.Text.Content)
		}
	}
	return b.String()
}

// Option is a select or status choice.
type Option struct {
	ID    string `json:"id,omitempty"`
	Name  string `json:"name"`
	Color string `json:"color,omitempty"`
}

// Group is a status option group. OptionIDs carries option names on writes.
type Group struct {
	ID        string   `json:"id,omitempty"`
	Name      string   `json:"name"`
	Color     string   `json:"color,omitempty"`
	OptionIDs []string `json:"option_ids,omitempty"`
}

// Property is a live database property as returned by Notion.
type Property struct {
	ID     string         `json:"id,omitempty"`
	Name   string         `json:"name,omitempty"`
	Type   string         `json:"type"`
	Select *OptionsConfig `json:"select,omitempty"`
	Status *OptionsConfig `json:"status,omitempty"`
}

// OptionsConfig holds the options (and for status, groups) of a property.
type OptionsConfig struct {
	Options []Option `json:"options,omitempty"`
	Groups  []Group  `json:"groups,omitempty"`
}

// PropertyConfig is a property definition sent on database create/update.
// It encodes as {"<type>": {...}}, which is the shape Notion expects.
type PropertyConfig struct {
	Type    string
	Options []Option
	Groups  []Group
}

// MarshalJSON implements json.Marshaler.
func (c PropertyConfig) MarshalJSON() ([]byte, error) {
	body := map[string]any{}
	if len(c.Options) > 0 {
		body["options"] = c.Options
	}
	if len(c.Groups) > 0 {
		body["groups"] = c.Groups
	}
	return json.Marshal(map[string]any{c.Type: body})
}

// UnmarshalJSON implements json.Unmarshaler for the {"<type>": {...}} shape.
func (c *PropertyConfig) UnmarshalJSON(b []byte) error {
	var raw map[string]OptionsConfig
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	for k, v := range raw {
		c.Type = k
		c.Options = v.Options
		c.Groups = v.Groups
	}
	return nil
}

// DataSourceRef points at a data source of a database.
type DataSourceRef struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// Database is a Notion database (a "collection").
type Database struct {
	Object      string              `json:"object,omitempty"`
	ID          string              `json:"id"`
	Title       []RichText          `json:"title,omitempty"`
	Properties  map[string]Property `json:"properties,omitempty"`
	DataSources []DataSourceRef     `json:"data_sources,omitempty"`
	Archived    bool                `json:"archived,omitempty"`
	InTrash     bool                `json:"in_trash,omitempty"`
}

// TitleText returns the database title as plain text.
func (d Database) TitleText() string { return PlainText(d.Title) }

// Parent identifies the container of a page or database.
type Parent struct {
	Type         string `json:"type,omitempty"`
	PageID       string `json:"page_id,omitempty"`
	DatabaseID   string `json:"database_id,omitempty"`
	DataSourceID string `json:"data_source_id,omitempty"`
}

// SelectValue is the value of a select or status property.
type SelectValue struct {
	ID    string `json:"id,omitempty"`
	Name  string `json:"name"`
	Color string `json:"color,omitempty"`
}

// PropertyValue is one property on a page. Pointer fields distinguish
// "unset" from zero values, so a null select reads as nil.
type PropertyValue struct {
	ID       string       `json:"id,omitempty"`
	Type     string       `json:"type,omitempty"`
	Title    []RichText   `json:"title,omitempty"`
	RichText []RichText   `json:"rich_text,omitempty"`
	Checkbox *bool        `json:"checkbox,omitempty"`
	Select   *SelectValue `json:"select,omitempty"`
	Status   *SelectValue `json:"status,omitempty"`
}

// TitleValue builds a title property value.
func TitleValue(s string) PropertyValue { return PropertyValue{Title: Text(s)} }

// TextValue builds a rich_text property value.
func TextValue(s string) PropertyValue { return PropertyValue{RichText: Text(s)} }

// CheckboxValue builds a checkbox property value.
func CheckboxValue(v bool) PropertyValue { return PropertyValue{Checkbox: &v} }

// SelectOf builds a select property value.
func SelectOf(name string) PropertyValue { return PropertyValue{Select: &SelectValue{Name: name}} }

// StatusOf builds a status property value.
func StatusOf(name string) PropertyValue { return PropertyValue{Status: &SelectValue{Name: name}} }

// Empty reports whether the value carries nothing for the given property type.
func (v PropertyValue) Empty(kind string) bool {
	switch kind {
	case "title":
		return PlainText(v.Title) == ""
	case "rich_text":
		return PlainText(v.RichText) == ""
	case "checkbox":
		return v.Checkbox == nil
	case "select":
		return v.Select == nil || v.Select.Name == ""
	case "status":
		return v.Status == nil || v.Status.Name == ""
	}
	return false
}

// Page is a Notion page (a "record").
type Page struct {
	Object     string                   `json:"object,omitempty"`
	ID         string                   `json:"id"`
	Parent     Parent                   `json:"parent,omitempty"`
	Archived   bool                     `json:"archived,omitempty"`
	InTrash    bool                     `json:"in_trash,omitempty"`
	Properties map[string]PropertyValue `json:"properties"`
}

// Title returns the plain text of a title property.
func (p Page) Title(name string) string { return PlainText(p.Properties[name].Title) }

// Text returns the plain text of a rich_text property.
func (p Page) Text(name string) string { return PlainText(p.Properties[name].RichText) }

// Checkbox returns a checkbox property, false when unset.
func (p Page) Checkbox(name string) bool {
	v, ok := p.Properties[name]
	return ok && v.Checkbox != nil && *v.Checkbox
}

// SelectName returns the selected option name, empty when unset.
func (p Page) SelectName(name string) string {
	if v, ok := p.Properties[name]; ok && v.Select != nil {
		return v.Select.Name
	}
	return ""
}

// StatusName returns the status option name, empty when unset.
func (p Page) StatusName(name string) string {
	if v, ok := p.Properties[name]; ok && v.Status != nil {
		return v.Status.Name
	}
	return ""
}

// PageUpdate is the body of a page update. A nil Archived leaves the flag untouched.
type PageUpdate struct {
	Properties map[string]PropertyValue `json:"properties,omitempty"`
	Archived   *bool                    `json:"archived,omitempty"`
}

// Archive returns a pointer suitable for PageUpdate.Archived.
func Archive() *bool {
	v := true
	return &v
}
