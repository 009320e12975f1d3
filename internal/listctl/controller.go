package listctl

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/phillip-england/distconsole/internal/export"
	"github.com/phillip-england/distconsole/internal/remote"
	"github.com/phillip-england/distconsole/internal/report"
	"github.com/phillip-england/distconsole/internal/session"
)

var (
	// ErrSuperseded is returned by a fetch whose response arrived after a
	// newer fetch was issued. Its rows are discarded.
	ErrSuperseded = errors.New("fetch superseded by a newer request")
	// ErrBusy rejects a mutation while the same one is still in flight.
	ErrBusy = errors.New("an identical change is already in progress")
)

// ValidationError lists field problems found before a mutation is sent.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, ", ")
}

// Backend is the remote surface a controller needs. *remote.Client satisfies it.
type Backend interface {
	Fetch(ctx context.Context, res remote.Resource, token string, query url.Values) ([]report.Row, error)
	Dispatch(ctx context.Context, m remote.Mutation, token string) (report.Row, error)
}

// Server-side filter parameter names a screen may declare.
const (
	ParamFrom   = "from"
	ParamTo     = "to"
	ParamStatus = "status"
)

type Config struct {
	Name       string
	Resource   remote.Resource
	Fields     report.Fields
	Projection export.Projection
	PageSize   int
	// ServerParams are the criteria the backend also applies. Changing one
	// of them re-fetches; every other criterion is applied locally only.
	ServerParams []string
	// Params are sent with every fetch.
	Params   url.Values
	Notifier Notifier
	Now      func() time.Time
}

// View is a consistent snapshot of one screen.
type View struct {
	Screen    string          `json:"screen"`
	Criteria  CriteriaView    `json:"criteria"`
	Page      report.Page     `json:"page"`
	Filtered  int             `json:"filtered"`
	Total     int             `json:"total"`
	Loaded    bool            `json:"loaded"`
	FetchedAt *time.Time      `json:"fetchedAt,omitempty"`
	Notice    *Notice         `json:"notice,omitempty"`
	PageSizes []int           `json:"pageSizes"`
	Columns   []export.Column `json:"columns"`
}

type CriteriaView struct {
	Text   string `json:"q,omitempty"`
	Status string `json:"status,omitempty"`
	From   string `json:"from,omitempty"`
	To     string `json:"to,omitempty"`
}

// Change is one create, update, delete or action call.
type Change struct {
	// Key identifies the change for the in-flight check, e.g. "approve:42".
	Key      string
	Mutation remote.Mutation
	Validate func() error
	Success  string
}

// Controller holds one screen's rows and the operator's view of them.
// It is safe for concurrent use.
type Controller struct {
	cfg     Config
	backend Backend
	notify  Notifier

	mu        sync.Mutex
	rows      []report.Row
	filtered  []report.Row
	criteria  report.Criteria
	page      int
	pageSize  int
	loaded    bool
	fetchedAt time.Time
	notice    *Notice

	seq    uint64
	cancel context.CancelFunc
	busy   map[string]struct{}
}

func New(cfg Config, backend Backend) *Controller {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	n := cfg.Notifier
	if n == nil {
		n = NewLogNotifier(nil)
	}
	return &Controller{
		cfg:      cfg,
		backend:  backend,
		notify:   n,
		rows:     []report.Row{},
		filtered: []report.Row{},
		page:     1,
		pageSize: report.NormalizePageSize(cfg.PageSize),
		busy:     map[string]struct{}{},
	}
}

func (c *Controller) Name() string { return c.cfg.Name }

// Load fetches the screen's rows. Each call gets the next sequence number
// and cancels the fetch it supersedes; only the latest issued fetch may
// replace the rows. A failed fetch leaves the screen empty; a successful one
// replaces any earlier notice with the loaded count.
func (c *Controller) Load(ctx context.Context, s session.Session) error {
	return c.load(ctx, s, true)
}

// load with announce false keeps the current notice on success, so a
// refresh after a change still shows the change's message.
func (c *Controller) load(ctx context.Context, s session.Session, announce bool) error {
	c.mu.Lock()
	c.seq++
	seq := c.seq
	if c.cancel != nil {
		c.cancel()
	}
	fetchCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	query := c.queryLocked()
	c.mu.Unlock()
	defer cancel()

	res := c.cfg.Resource
	res.Path = ExpandPath(res.Path, s)
	rows, err := c.backend.Fetch(fetchCtx, res, s.Token, query)

	c.mu.Lock()
	if seq != c.seq {
		c.mu.Unlock()
		return ErrSuperseded
	}
	c.cancel = nil
	if err != nil {
		c.rows = []report.Row{}
		c.filtered = []report.Row{}
		c.loaded = false
		c.mu.Unlock()
		c.emit(ctx, NoticeFromError(c.cfg.Name, err))
		return fmt.Errorf("load %s: %w", c.cfg.Name, err)
	}
	c.rows = rows
	c.filtered = report.Apply(rows, c.criteria, c.cfg.Fields)
	c.loaded = true
	c.fetchedAt = c.cfg.Now()
	c.mu.Unlock()
	if announce {
		c.emit(ctx, Notice{Screen: c.cfg.Name, Level: LevelSuccess, Message: loadedMessage(len(rows))})
	}
	return nil
}

func loadedMessage(n int) string {
	if n == 1 {
		return "1 record loaded."
	}
	return fmt.Sprintf("%d records loaded.", n)
}

// Loaded reports whether the last fetch succeeded.
func (c *Controller) Loaded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loaded
}

// SetCriteria replaces the criteria and reports whether the backend must be
// asked again. Any change resets the page to 1.
func (c *Controller) SetCriteria(crit report.Criteria) (refetch bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if crit.Equal(c.criteria) {
		return false
	}
	prev := c.criteria
	c.criteria = crit
	c.page = 1
	c.filtered = report.Apply(c.rows, crit, c.cfg.Fields)
	return c.serverParamsChanged(prev, crit)
}

// Query sets the criteria and re-fetches when a server-side parameter
// changed or nothing has been loaded yet.
func (c *Controller) Query(ctx context.Context, s session.Session, crit report.Criteria) error {
	refetch := c.SetCriteria(crit)
	if refetch || !c.Loaded() {
		return c.Load(ctx, s)
	}
	return nil
}

func (c *Controller) SetPage(page int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if page < 1 {
		page = 1
	}
	c.page = page
}

// SetPageSize changes the page size and resets the page to 1.
func (c *Controller) SetPageSize(size int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	size = report.NormalizePageSize(size)
	if size != c.pageSize {
		c.pageSize = size
		c.page = 1
	}
}

func (c *Controller) Criteria() report.Criteria {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.criteria
}

// View returns the current page. The stored page number is clamped to what
// the filtered set allows.
func (c *Controller) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	p := report.Paginate(c.filtered, c.page, c.pageSize)
	c.page = p.Number
	v := View{
		Screen:    c.cfg.Name,
		Criteria:  criteriaView(c.criteria),
		Page:      p,
		Filtered:  len(c.filtered),
		Total:     len(c.rows),
		Loaded:    c.loaded,
		Notice:    c.notice,
		PageSizes: report.PageSizes,
		Columns:   c.cfg.Projection.Columns,
	}
	if !c.fetchedAt.IsZero() {
		t := c.fetchedAt
		v.FetchedAt = &t
	}
	return v
}

// Filtered returns a copy of every row that passes the criteria, across
// all pages.
func (c *Controller) Filtered() []report.Row {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]report.Row(nil), c.filtered...)
}

// Find returns the first fetched row, filtered or not, that match accepts.
func (c *Controller) Find(match func(report.Row) bool) (report.Row, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, row := range c.rows {
		if match(row) {
			return row, true
		}
	}
	return nil, false
}

// Export builds the download table from the full filtered set.
func (c *Controller) Export() (export.Table, error) {
	rows := c.Filtered()
	table, err := export.Build(rows, c.cfg.Projection)
	if errors.Is(err, export.ErrNothingToExport) {
		c.emit(context.Background(), Notice{Screen: c.cfg.Name, Level: LevelWarn, Message: "Nothing to export."})
	}
	return table, err
}

// Mutate validates and sends one change, then re-fetches on success. A
// failed change leaves the rows as they were.
func (c *Controller) Mutate(ctx context.Context, s session.Session, ch Change) (report.Row, error) {
	if ch.Validate != nil {
		if err := ch.Validate(); err != nil {
			c.emit(ctx, NoticeFromError(c.cfg.Name, err))
			return nil, err
		}
	}

	key := ch.Key
	if key == "" {
		key = strings.ToUpper(ch.Mutation.Method) + " " + ch.Mutation.Path
	}
	c.mu.Lock()
	if _, inFlight := c.busy[key]; inFlight {
		c.mu.Unlock()
		return nil, ErrBusy
	}
	c.busy[key] = struct{}{}
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.busy, key)
		c.mu.Unlock()
	}()

	m := ch.Mutation
	m.Path = ExpandPath(m.Path, s)
	row, err := c.backend.Dispatch(ctx, m, s.Token)
	if err != nil {
		c.emit(ctx, NoticeFromError(c.cfg.Name, err))
		return nil, err
	}

	msg := ch.Success
	if msg == "" {
		msg = "Saved."
	}
	c.emit(ctx, Notice{Screen: c.cfg.Name, Level: LevelSuccess, Message: msg})

	// A failed refresh raises its own notice; the change itself succeeded.
	_ = c.load(ctx, s, false)
	return row, nil
}

// Busy reports whether a change with key is in flight.
func (c *Controller) Busy(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.busy[key]
	return ok
}

// Close cancels any in-flight fetch. Responses that arrive afterwards are
// discarded.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.rows = []report.Row{}
	c.filtered = []report.Row{}
	c.loaded = false
}

func (c *Controller) emit(ctx context.Context, n Notice) {
	c.mu.Lock()
	c.notice = &n
	c.mu.Unlock()
	c.notify.Notify(ctx, n)
}

func (c *Controller) queryLocked() url.Values {
	q := url.Values{}
	for k, vs := range c.cfg.Params {
		q[k] = append([]string(nil), vs...)
	}
	for _, p := range c.cfg.ServerParams {
		switch p {
		case ParamFrom:
			if c.criteria.From != nil {
				q.Set(ParamFrom, c.criteria.From.Format("2006-01-02"))
			}
		case ParamTo:
			if c.criteria.To != nil {
				q.Set(ParamTo, c.criteria.To.Format("2006-01-02"))
			}
		case ParamStatus:
			if st := strings.ToUpper(strings.TrimSpace(c.criteria.Status)); st != "" && st != report.StatusAll {
				q.Set(ParamStatus, st)
			}
		}
	}
	return q
}

func (c *Controller) serverParamsChanged(a, b report.Criteria) bool {
	for _, p := range c.cfg.ServerParams {
		switch p {
		case ParamFrom:
			if !report.SameBound(a.From, b.From) {
				return true
			}
		case ParamTo:
			if !report.SameBound(a.To, b.To) {
				return true
			}
		case ParamStatus:
			if !(report.Criteria{Status: a.Status}).Equal(report.Criteria{Status: b.Status}) {
				return true
			}
		}
	}
	return false
}

// ExpandPath fills {identity} in an endpoint path with the acting identity.
func ExpandPath(path string, s session.Session) string {
	return strings.ReplaceAll(path, "{identity}", url.PathEscape(s.Identity))
}

func criteriaView(c report.Criteria) CriteriaView {
	v := CriteriaView{Text: c.Text, Status: c.Status}
	if c.From != nil {
		v.From = c.From.Format("2006-01-02")
	}
	if c.To != nil {
		v.To = c.To.Format("2006-01-02")
	}
	return v
}
