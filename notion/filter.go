package notion

// Filter is a database query filter. Exactly one of the condition fields (or
// And/Or) is set per node.
type Filter struct {
	Property string             `json:"property,omitempty"`
	Checkbox *CheckboxCondition `json:"checkbox,omitempty"`
	Select   *SelectCondition   `json:"select,omitempty"`
	Status   *SelectCondition   `json:"status,omitempty"`
	RichText *TextCondition     `json:"rich_text,omitempty"`
	And      []Filter           `json:"and,omitempty"`
	Or       []Filter           `json:"or,omitempty"`
}

// CheckboxCondition matches a checkbox value.
type CheckboxCondition struct {
	Equals bool `json:"equals"`
}

// SelectCondition matches a select or status option by name, or emptiness.
type SelectCondition struct {
	Equals  string `json:"equals,omitempty"`
	IsEmpty bool   `json:"is_empty,omitempty"`
}

// TextCondition matches rich text exactly.
type TextCondition struct {
	Equals string `json:"equals"`
}

// CheckboxEquals builds a checkbox filter.
func CheckboxEquals(prop string, v bool) Filter {
	return Filter{Property: prop, Checkbox: &CheckboxCondition{Equals: v}}
}

// SelectEquals builds a select filter.
func SelectEquals(prop, name string) Filter {
	return Filter{Property: prop, Select: &SelectCondition{Equals: name}}
}

// SelectIsEmpty matches pages whose select property is unset.
func SelectIsEmpty(prop string) Filter {
	return Filter{Property: prop, Select: &SelectCondition{IsEmpty: true}}
}

// StatusEquals builds a status filter.
func StatusEquals(prop, name string) Filter {
	return Filter{Property: prop, Status: &SelectCondition{Equals: name}}
}

// TextEquals builds a rich_text filter.
func TextEquals(prop, s string) Filter {
	return Filter{Property: prop, RichText: &TextCondition{Equals: s}}
}

// And combines filters conjunctively.
func And(fs ...Filter) Filter { return Filter{And: fs} }

// Or combines filters disjunctively.
func Or(fs ...Filter) Filter { return Filter{Or: fs} }

// Matches evaluates the filter locally against a page, mirroring Notion's
// semantics for the conditions this package can express. Used by test fakes.
func (f Filter) Matches(p Page) bool {
	if len(f.And) > 0 {
		for _, sub := range f.And {
			if !sub.Matches(p) {
				return false
			}
		}
		return true
	}
	if len(f.Or) > 0 {
		for _, sub := range f.Or {
			if sub.Matches(p) {
				return true
			}
		}
		return false
	}
	switch {
	case f.Checkbox != nil:
		return p.Checkbox(f.Property) == f.Checkbox.Equals
	case f.Select != nil:
		return matchOption(p.SelectName(f.Property), f.Select)
	case f.Status != nil:
		return matchOption(p.StatusName(f.Property), f.Status)
	case f.RichText != nil:
		return p.Text(f.Property) == f.RichText.Equals
	}
	return true
}

func matchOption(got string, c *SelectCondition) bool {
	if c.IsEmpty {
		return got == ""
	}
	return got == c.Equals
}
