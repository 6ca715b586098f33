package testutil

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/onnwee/task-overlay/notion"
	"github.com/onnwee/task-overlay/schema"
)

// FakeNotion is an in-memory Notion store. It mimics the behaviors the service
// depends on: archived pages drop out of queries, status properties cannot be
// created with options in one call, and schema updates may become visible
// only after a few reads.
type FakeNotion struct {
	mu sync.Mutex

	databases map[string]*notion.Database
	pages     map[string]*notion.Page
	order     []string
	nextID    int
	calls     map[string]int

	// Errors fails an operation. Keys are an operation name ("UpdatePage") or
	// an operation and object id ("UpdatePage:<id>").
	Errors map[string]error
	// SchemaLag is how many RetrieveDatabase calls after an UpdateDatabase
	// still return the previous properties.
	SchemaLag int
	stale     map[string]*notion.Database
	lag       map[string]int
}

// NewFakeNotion returns an empty store.
func NewFakeNotion() *FakeNotion {
	return &FakeNotion{
		databases: make(map[string]*notion.Database),
		pages:     make(map[string]*notion.Page),
		calls:     make(map[string]int),
		Errors:    make(map[string]error),
		stale:     make(map[string]*notion.Database),
		lag:       make(map[string]int),
	}
}

func (f *FakeNotion) newID() string {
	f.nextID++
	return fmt.Sprintf("%032x", f.nextID)
}

func (f *FakeNotion) enter(op, id string) error {
	f.calls[op]++
	if err, ok := f.Errors[op+":"+id]; ok {
		return err
	}
	return f.Errors[op]
}

// Calls reports how many times op was invoked.
func (f *FakeNotion) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

// ResetCalls zeroes the call counters.
func (f *FakeNotion) ResetCalls() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = make(map[string]int)
}

// Fail sets an error for op (optionally scoped to an id).
func (f *FakeNotion) Fail(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Errors[op] = err
}

// ClearErrors removes all injected errors.
func (f *FakeNotion) ClearErrors() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Errors = make(map[string]error)
}

// NotFound builds the error Notion returns for a missing object.
func NotFound(id string) error {
	return &notion.APIError{Status: 404, Code: "object_not_found", Message: "Could not find " + id}
}

// Unauthorized builds the error Notion returns for a bad token.
func Unauthorized() error {
	return &notion.APIError{Status: 401, Code: "unauthorized", Message: "API token is invalid."}
}

// Unavailable builds a 503 response error.
func Unavailable() error {
	return &notion.APIError{Status: 503, Code: "service_unavailable", Message: "Notion is unavailable"}
}

func validation(msg string) error {
	return &notion.APIError{Status: 400, Code: "validation_error", Message: msg}
}

// PropertiesFor renders the live property map a fully provisioned database
// would report for s.
func PropertiesFor(s schema.Schema) map[string]notion.Property {
	props := make(map[string]notion.Property, len(s.Fields))
	for _, fld := range s.Fields {
		props[fld.Name] = propertyFromConfig(fld.Name, fld.Config())
	}
	return props
}

func propertyFromConfig(name string, cfg notion.PropertyConfig) notion.Property {
	p := notion.Property{ID: name, Name: name, Type: cfg.Type}
	oc := &notion.OptionsConfig{Options: append([]notion.Option(nil), cfg.Options...), Groups: append([]notion.Group(nil), cfg.Groups...)}
	switch cfg.Type {
	case "select":
		p.Select = oc
	case "status":
		if len(oc.Options) == 0 {
			oc.Options = []notion.Option{{Name: "Not started"}, {Name: "In progress"}, {Name: "Done"}}
		}
		p.Status = oc
	}
	return p
}

func cloneDatabase(db *notion.Database) *notion.Database {
	c := *db
	c.Properties = make(map[string]notion.Property, len(db.Properties))
	for k, v := range db.Properties {
		c.Properties[k] = v
	}
	c.DataSources = append([]notion.DataSourceRef(nil), db.DataSources...)
	return &c
}

func clonePage(p *notion.Page) notion.Page {
	c := *p
	c.Properties = make(map[string]notion.PropertyValue, len(p.Properties))
	for k, v := range p.Properties {
		c.Properties[k] = v
	}
	return c
}

// AddDatabase registers a database with the given live properties and
// returns its id.
func (f *FakeNotion) AddDatabase(title string, props map[string]notion.Property) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.newID()
	f.databases[id] = &notion.Database{Object: "database", ID: id, Title: notion.Text(title), Properties: props}
	return id
}

// AddPage inserts a record directly, bypassing validation, and returns its id.
func (f *FakeNotion) AddPage(databaseID string, props map[string]notion.PropertyValue) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.newID()
	f.pages[id] = &notion.Page{Object: "page", ID: id, Parent: notion.Parent{Type: "database_id", DatabaseID: databaseID}, Properties: props}
	f.order = append(f.order, id)
	return id
}

// Page returns a copy of a stored page.
func (f *FakeNotion) Page(id string) (notion.Page, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.pages[id]
	if !ok {
		return notion.Page{}, false
	}
	return clonePage(p), true
}

// Pages returns copies of all pages in a database, archived included.
func (f *FakeNotion) Pages(databaseID string) []notion.Page {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []notion.Page
	for _, id := range f.order {
		if p := f.pages[id]; p.Parent.DatabaseID == databaseID {
			out = append(out, clonePage(p))
		}
	}
	return out
}

// Database returns a copy of the current (non-lagged) database.
func (f *FakeNotion) Database(id string) (notion.Database, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	db, ok := f.databases[id]
	if !ok {
		return notion.Database{}, false
	}
	return *cloneDatabase(db), true
}

// DatabaseCount reports the number of databases.
func (f *FakeNotion) DatabaseCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.databases)
}

// RetrieveDatabase implements the store.
func (f *FakeNotion) RetrieveDatabase(ctx context.Context, id string) (*notion.Database, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("RetrieveDatabase", id); err != nil {
		return nil, err
	}
	db, ok := f.databases[id]
	if !ok {
		return nil, NotFound(id)
	}
	if f.lag[id] > 0 {
		f.lag[id]--
		return cloneDatabase(f.stale[id]), nil
	}
	return cloneDatabase(db), nil
}

// CreateDatabase implements the store. Status properties with options are
// refused, as Notion does.
func (f *FakeNotion) CreateDatabase(ctx context.Context, parentPageID, title string, props map[string]notion.PropertyConfig) (*notion.Database, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("CreateDatabase", parentPageID); err != nil {
		return nil, err
	}
	live := make(map[string]notion.Property, len(props))
	for name, cfg := range props {
		if cfg.Type == "status" && (len(cfg.Options) > 0 || len(cfg.Groups) > 0) {
			return nil, validation("Cannot create status property " + name + " with options")
		}
		live[name] = propertyFromConfig(name, cfg)
	}
	id := f.newID()
	db := &notion.Database{Object: "database", ID: id, Title: notion.Text(title), Properties: live}
	f.databases[id] = db
	return cloneDatabase(db), nil
}

// UpdateDatabase implements the store. A status config with options is only
// accepted for a property that is already a status on the database.
func (f *FakeNotion) UpdateDatabase(ctx context.Context, id string, props map[string]notion.PropertyConfig) (*notion.Database, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("UpdateDatabase", id); err != nil {
		return nil, err
	}
	db, ok := f.databases[id]
	if !ok {
		return nil, NotFound(id)
	}
	for name, cfg := range props {
		if cfg.Type == "status" && (len(cfg.Options) > 0 || len(cfg.Groups) > 0) && db.Properties[name].Type != "status" {
			return nil, validation("Cannot create status property " + name + " with options")
		}
	}
	if f.SchemaLag > 0 {
		f.stale[id] = cloneDatabase(db)
		f.lag[id] = f.SchemaLag
	}
	for name, cfg := range props {
		db.Properties[name] = propertyFromConfig(name, cfg)
	}
	return cloneDatabase(db), nil
}

// QueryDatabase implements the store. Archived pages are never returned.
func (f *FakeNotion) QueryDatabase(ctx context.Context, databaseID string, filter *notion.Filter) ([]notion.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("QueryDatabase", databaseID); err != nil {
		return nil, err
	}
	if _, ok := f.databases[databaseID]; !ok {
		return nil, NotFound(databaseID)
	}
	var out []notion.Page
	for _, id := range f.order {
		p := f.pages[id]
		if p.Parent.DatabaseID != databaseID || p.Archived || p.InTrash {
			continue
		}
		if filter != nil && !filter.Matches(*p) {
			continue
		}
		out = append(out, clonePage(p))
	}
	return out, nil
}

// CreatePage implements the store.
func (f *FakeNotion) CreatePage(ctx context.Context, databaseID string, props map[string]notion.PropertyValue) (*notion.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("CreatePage", databaseID); err != nil {
		return nil, err
	}
	db, ok := f.databases[databaseID]
	if !ok {
		return nil, NotFound(databaseID)
	}
	for name := range props {
		if _, ok := db.Properties[name]; !ok {
			return nil, validation(name + " is not a property that exists.")
		}
	}
	id := f.newID()
	p := &notion.Page{Object: "page", ID: id, Parent: notion.Parent{Type: "database_id", DatabaseID: databaseID}, Properties: make(map[string]notion.PropertyValue, len(props))}
	for k, v := range props {
		p.Properties[k] = v
	}
	f.pages[id] = p
	f.order = append(f.order, id)
	return &notion.Page{Object: p.Object, ID: p.ID, Parent: p.Parent, Properties: clonePage(p).Properties}, nil
}

// RetrievePage implements the store. Archived pages are still retrievable.
func (f *FakeNotion) RetrievePage(ctx context.Context, id string) (*notion.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("RetrievePage", id); err != nil {
		return nil, err
	}
	p, ok := f.pages[id]
	if !ok {
		return nil, NotFound(id)
	}
	c := clonePage(p)
	return &c, nil
}

// UpdatePage implements the store.
func (f *FakeNotion) UpdatePage(ctx context.Context, id string, upd notion.PageUpdate) (*notion.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("UpdatePage", id); err != nil {
		return nil, err
	}
	p, ok := f.pages[id]
	if !ok {
		return nil, NotFound(id)
	}
	for k, v := range upd.Properties {
		p.Properties[k] = v
	}
	if upd.Archived != nil {
		p.Archived = *upd.Archived
	}
	c := clonePage(p)
	return &c, nil
}

// SearchDatabases implements the store with a case-insensitive substring
// match on titles.
func (f *FakeNotion) SearchDatabases(ctx context.Context, query string) ([]notion.Database, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("SearchDatabases", query); err != nil {
		return nil, err
	}
	var out []notion.Database
	q := strings.ToLower(query)
	ids := make([]string, 0, len(f.databases))
	for id := range f.databases {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		db := f.databases[id]
		if db.Archived || db.InTrash {
			continue
		}
		if strings.Contains(strings.ToLower(db.TitleText()), q) {
			out = append(out, *cloneDatabase(db))
		}
	}
	return out, nil
}
