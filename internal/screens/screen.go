package screens

import (
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/phillip-england/distconsole/internal/export"
	"github.com/phillip-england/distconsole/internal/listctl"
	"github.com/phillip-england/distconsole/internal/remote"
	"github.com/phillip-england/distconsole/internal/report"
)

// Screen configures one list controller: where its rows come from, how they
// are filtered and exported, and which changes it offers.
type Screen struct {
	Name         string
	Title        string
	Resource     remote.Resource
	Fields       report.Fields
	Projection   export.Projection
	ServerParams []string
	ExportPrefix string
	Statuses     []string
	// IDField is the server-issued key; empty means id.
	IDField string
	Actions []Action
}

// Action is one mutation a screen exposes. Path may contain {id} and
// {identity}.
type Action struct {
	Name    string
	Label   string
	Method  string
	Path    string
	Fixed   map[string]any
	Accept  []string
	Success string
	// From lists the row states the action may leave. Transitions are
	// one-way; nothing offers a way back.
	From     []string
	Validate func(input Input) map[string]string
	// PerRow is false for create-style actions that take no id.
	PerRow bool
}

// Input is the operator-supplied part of a change.
type Input map[string]any

func (in Input) Text(key string) string {
	return strings.TrimSpace(report.FormatValue(in[key]))
}

func (in Input) Has(key string) bool {
	_, ok := in[key]
	return ok
}

func (s Screen) ID(row report.Row) string {
	if s.IDField != "" {
		return row.ID(s.IDField)
	}
	return row.ID()
}

func (s Screen) Action(name string) (Action, bool) {
	for _, a := range s.Actions {
		if a.Name == name {
			return a, true
		}
	}
	return Action{}, false
}

// ControllerConfig turns the screen into a controller configuration.
func (s Screen) ControllerConfig(pageSize int, n listctl.Notifier) listctl.Config {
	return listctl.Config{
		Name:         s.Name,
		Resource:     s.Resource,
		Fields:       s.Fields,
		Projection:   s.Projection,
		PageSize:     pageSize,
		ServerParams: s.ServerParams,
		Notifier:     n,
	}
}

// Change builds the controller change for an action on one row. current is
// the row as last fetched, or nil when it is not in the list.
func (s Screen) Change(name, id string, input Input, current report.Row) (listctl.Change, error) {
	a, ok := s.Action(name)
	if !ok {
		return listctl.Change{}, fmt.Errorf("%w: %s has no action %q", ErrUnknown, s.Name, name)
	}
	id = strings.TrimSpace(id)
	if a.PerRow && id == "" {
		return listctl.Change{}, &listctl.ValidationError{Fields: map[string]string{"id": "A record must be selected."}}
	}

	body := map[string]any{}
	for _, key := range a.Accept {
		if v, ok := input[key]; ok {
			body[key] = v
		}
	}
	for k, v := range a.Fixed {
		body[k] = v
	}

	validate := func() error {
		problems := map[string]string{}
		if a.Validate != nil {
			for k, v := range a.Validate(input) {
				problems[k] = v
			}
		}
		if len(a.From) > 0 && current != nil {
			state := strings.ToUpper(current.Text(s.Fields.Status))
			if canonical, ok := s.Fields.StatusAliases[state]; ok {
				state = canonical
			}
			if !containsFold(a.From, state) {
				problems["status"] = fmt.Sprintf("This record is already %s.", state)
			}
		}
		if len(problems) > 0 {
			return &listctl.ValidationError{Fields: problems}
		}
		return nil
	}

	path := strings.ReplaceAll(a.Path, "{id}", url.PathEscape(id))
	method := a.Method
	var payload any
	if method != http.MethodDelete || len(body) > 0 {
		payload = body
	}
	return listctl.Change{
		Key:      a.Name + ":" + id,
		Mutation: remote.Mutation{Method: method, Path: path, Body: payload},
		Validate: validate,
		Success:  a.Success,
	}, nil
}

// Catalog holds every screen by name.
type Catalog struct {
	byName map[string]Screen
	order  []string
}

func NewCatalog(screens ...Screen) *Catalog {
	c := &Catalog{byName: make(map[string]Screen, len(screens))}
	for _, s := range screens {
		if _, dup := c.byName[s.Name]; !dup {
			c.order = append(c.order, s.Name)
		}
		c.byName[s.Name] = s
	}
	return c
}

func (c *Catalog) Get(name string) (Screen, bool) {
	s, ok := c.byName[strings.ToLower(strings.TrimSpace(name))]
	return s, ok
}

func (c *Catalog) All() []Screen {
	out := make([]Screen, 0, len(c.order))
	for _, name := range c.order {
		out = append(out, c.byName[name])
	}
	return out
}

// Names returns the screen names sorted alphabetically.
func (c *Catalog) Names() []string {
	out := append([]string(nil), c.order...)
	sort.Strings(out)
	return out
}

func containsFold(list []string, v string) bool {
	for _, item := range list {
		if strings.EqualFold(item, v) {
			return true
		}
	}
	return false
}
