// Package schema declares the shape of the two Notion databases the service
// owns: the broadcaster's "Streamer Tasks" and the moderated "Viewer Tasks".
//
// The definitions are the ground truth for which properties must exist before
// a database is usable. Provisioning, reconciliation and migration all read
// from here; nothing in this package talks to Notion.
package schema

import "github.com/onnwee/task-overlay/notion"

// Kind is a Notion property type.
type Kind string

const (
	KindTitle    Kind = "title"
	KindText     Kind = "rich_text"
	KindCheckbox Kind = "checkbox"
	KindSelect   Kind = "select"
	KindStatus   Kind = "status"
)

// Property names shared by both databases.
const (
	FieldTask        = "Task"
	FieldStatus      = "Status"
	FieldCompleted   = "Completed"
	FieldSuggestedBy = "Suggested by"
	FieldApproval    = "Approval Status"
	FieldRole        = "Role"
)

// Database titles searched for during setup.
const (
	StreamerName = "Streamer Tasks"
	ViewerName   = "Viewer Tasks"
)

// Option is one named, colored choice of a select or status property.
type Option struct {
	Name  string
	Color string
}

// Group organizes status options. Groups are cosmetic.
type Group struct {
	Name    string
	Color   string
	Options []string
}

// Field is one declared property.
type Field struct {
	Name    string
	Kind    Kind
	Options []Option
	Groups  []Group
}

// Schema is an ordered list of declared fields under a database title.
type Schema struct {
	Name   string
	Fields []Field
}

// Field looks up a declared field by property name.
func (s Schema) Field(name string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Names returns the declared property names in order.
func (s Schema) Names() []string {
	out := make([]string, 0, len(s.Fields))
	for _, f := range s.Fields {
		out = append(out, f.Name)
	}
	return out
}

// OptionNames returns the names of the field's options in declared order.
func (f Field) OptionNames() []string {
	out := make([]string, 0, len(f.Options))
	for _, o := range f.Options {
		out = append(out, o.Name)
	}
	return out
}

// Config renders the full property configuration sent to Notion.
func (f Field) Config() notion.PropertyConfig {
	cfg := notion.PropertyConfig{Type: string(f.Kind)}
	for _, o := range f.Options {
		cfg.Options = append(cfg.Options, notion.Option{Name: o.Name, Color: o.Color})
	}
	for _, g := range f.Groups {
		cfg.Groups = append(cfg.Groups, notion.Group{Name: g.Name, Color: g.Color, OptionIDs: append([]string(nil), g.Options...)})
	}
	return cfg
}

// EmptyConfig renders the property with no options or groups. Notion rejects
// a status property created with options, so status fields go out this way
// first and receive Config() in a follow-up call.
func (f Field) EmptyConfig() notion.PropertyConfig {
	return notion.PropertyConfig{Type: string(f.Kind)}
}

// Streamer returns the declared schema of the broadcaster's task database.
func Streamer() Schema {
	return Schema{
		Name: StreamerName,
		Fields: []Field{
			{Name: FieldTask, Kind: KindTitle},
			{
				Name: FieldStatus,
				Kind: KindStatus,
				Options: []Option{
					{Name: "Not started", Color: "default"},
					{Name: "In progress", Color: "blue"},
					{Name: "Done", Color: "green"},
				},
				Groups: []Group{
					{Name: "To-do", Color: "gray", Options: []string{"Not started"}},
					{Name: "In progress", Color: "blue", Options: []string{"In progress"}},
					{Name: "Complete", Color: "green", Options: []string{"Done"}},
				},
			},
			{Name: FieldCompleted, Kind: KindCheckbox},
		},
	}
}

// Viewer returns the declared schema of the moderated viewer task database.
// Status is the legacy unified field that predates Approval Status; it stays
// declared so older deployments keep reading.
func Viewer() Schema {
	return Schema{
		Name: ViewerName,
		Fields: []Field{
			{Name: FieldTask, Kind: KindTitle},
			{Name: FieldSuggestedBy, Kind: KindText},
			{
				Name: FieldApproval,
				Kind: KindSelect,
				Options: []Option{
					{Name: "Pending", Color: "yellow"},
					{Name: "Approved", Color: "green"},
					{Name: "Rejected", Color: "red"},
				},
			},
			{
				Name: FieldRole,
				Kind: KindSelect,
				Options: []Option{
					{Name: "Viewer", Color: "gray"},
					{Name: "SubscriberT3", Color: "blue"},
					{Name: "SubscriberT2", Color: "purple"},
					{Name: "SubscriberT1", Color: "red"},
					{Name: "Moderator", Color: "brown"},
					{Name: "VIP", Color: "yellow"},
				},
			},
			{
				Name: FieldStatus,
				Kind: KindStatus,
				Options: []Option{
					{Name: "Not started", Color: "default"},
					{Name: "Rejected", Color: "red"},
					{Name: "Approved", Color: "green"},
					{Name: "Pending", Color: "yellow"},
					{Name: "Done", Color: "green"},
				},
				Groups: []Group{
					{Name: "To-do", Color: "gray", Options: []string{"Not started", "Rejected", "Approved"}},
					{Name: "In progress", Color: "blue", Options: []string{"Pending"}},
					{Name: "Complete", Color: "green", Options: []string{"Done"}},
				},
			},
			{Name: FieldCompleted, Kind: KindCheckbox},
		},
	}
}
