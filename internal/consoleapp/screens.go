package consoleapp

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/phillip-england/distconsole/internal/export"
	"github.com/phillip-england/distconsole/internal/hierarchy"
	"github.com/phillip-england/distconsole/internal/listctl"
	"github.com/phillip-england/distconsole/internal/remote"
	"github.com/phillip-england/distconsole/internal/report"
	"github.com/phillip-england/distconsole/internal/screens"
	"github.com/phillip-england/distconsole/internal/session"
)

type screenSummary struct {
	Name      string          `json:"name"`
	Title     string          `json:"title"`
	Statuses  []string        `json:"statuses,omitempty"`
	Columns   []export.Column `json:"columns"`
	Actions   []actionSummary `json:"actions,omitempty"`
	PageSizes []int           `json:"pageSizes"`
}

type actionSummary struct {
	Name   string `json:"name"`
	Label  string `json:"label"`
	PerRow bool   `json:"perRow"`
}

func (s *server) listScreens(w http.ResponseWriter, r *http.Request) {
	all := s.catalog.All()
	out := make([]screenSummary, 0, len(all))
	for _, sc := range all {
		sum := screenSummary{
			Name:      sc.Name,
			Title:     sc.Title,
			Statuses:  sc.Statuses,
			Columns:   sc.Projection.Columns,
			PageSizes: report.PageSizes,
		}
		for _, a := range sc.Actions {
			sum.Actions = append(sum.Actions, actionSummary{Name: a.Name, Label: a.Label, PerRow: a.PerRow})
		}
		out = append(out, sum)
	}
	writeJSON(w, http.StatusOK, map[string]any{"screens": out})
}

// screen resolves the {screen} URL parameter and the operator's controller
// for it.
func (s *server) screen(w http.ResponseWriter, r *http.Request) (screens.Screen, *listctl.Controller, session.Session, bool) {
	sess, _ := session.FromContext(r.Context())
	sc, ok := s.catalog.Get(chi.URLParam(r, "screen"))
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown screen"})
		return screens.Screen{}, nil, sess, false
	}
	return sc, s.registry.get(sess.Identity, sc), sess, true
}

// applyQuery brings the controller in line with the request's criteria and
// paging. It re-fetches when asked to, when nothing is loaded yet, or when
// a server-side parameter changed.
func (s *server) applyQuery(w http.ResponseWriter, r *http.Request, ctl *listctl.Controller, sess session.Session) bool {
	q := r.URL.Query()
	crit, err := report.ParseCriteria(q.Get("q"), q.Get("status"), q.Get("from"), q.Get("to"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return false
	}
	if raw := q.Get("per_page"); raw != "" {
		ctl.SetPageSize(parsePositiveInt(raw, s.cfg.DefaultPageSize))
	}

	var loadErr error
	refresh, _ := strconv.ParseBool(q.Get("refresh"))
	if refresh {
		ctl.SetCriteria(crit)
		loadErr = ctl.Load(r.Context(), sess)
	} else {
		loadErr = ctl.Query(r.Context(), sess, crit)
	}
	if raw := q.Get("page"); raw != "" {
		ctl.SetPage(parsePositiveInt(raw, 1))
	}

	switch {
	case loadErr == nil, errors.Is(loadErr, listctl.ErrSuperseded):
		return true
	case errors.Is(loadErr, session.ErrUnauthenticated):
		s.endSession(w, r, sess)
		return false
	default:
		// The view carries the notice and an empty list.
		return true
	}
}

func (s *server) screenView(w http.ResponseWriter, r *http.Request) {
	_, ctl, sess, ok := s.screen(w, r)
	if !ok {
		return
	}
	if !s.applyQuery(w, r, ctl, sess) {
		return
	}
	writeJSON(w, http.StatusOK, ctl.View())
}

func (s *server) screenExport(w http.ResponseWriter, r *http.Request) {
	sc, ctl, sess, ok := s.screen(w, r)
	if !ok {
		return
	}
	format, err := export.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if !s.applyQuery(w, r, ctl, sess) {
		return
	}

	table, err := ctl.Export()
	if err != nil {
		if errors.Is(err, export.ErrNothingToExport) {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": "Nothing to export."})
			return
		}
		s.log.Error("export build failed", "screen", sc.Name, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Export failed."})
		return
	}

	var buf bytes.Buffer
	if err := export.Write(&buf, table, format, sc.Title); err != nil {
		s.log.Error("export write failed", "screen", sc.Name, "format", format, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Export failed."})
		return
	}
	name := export.Filename(sc.ExportPrefix, r.URL.Query().Get("scope"), s.now(), format)
	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.Header().Set("X-Export-Rows", strconv.Itoa(table.DataRows()))
	_, _ = w.Write(buf.Bytes())
}

func (s *server) createRecord(w http.ResponseWriter, r *http.Request) {
	s.mutate(w, r, "create", "")
}

func (s *server) updateRecord(w http.ResponseWriter, r *http.Request) {
	s.mutate(w, r, "update", chi.URLParam(r, "id"))
}

func (s *server) deleteRecord(w http.ResponseWriter, r *http.Request) {
	s.mutate(w, r, "delete", chi.URLParam(r, "id"))
}

func (s *server) recordAction(w http.ResponseWriter, r *http.Request) {
	s.mutate(w, r, chi.URLParam(r, "action"), chi.URLParam(r, "id"))
}

func (s *server) mutate(w http.ResponseWriter, r *http.Request, action, id string) {
	sc, ctl, sess, ok := s.screen(w, r)
	if !ok {
		return
	}

	input := screens.Input{}
	if r.ContentLength != 0 {
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
		dec.UseNumber()
		if err := dec.Decode(&input); err != nil && !errors.Is(err, io.EOF) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid JSON body."})
			return
		}
	}

	var current report.Row
	if id != "" {
		current, _ = ctl.Find(func(row report.Row) bool { return sc.ID(row) == id })
	}
	change, err := sc.Change(action, id, input, current)
	if err != nil {
		s.writeMutationError(w, r, sess, err)
		return
	}
	row, err := ctl.Mutate(r.Context(), sess, change)
	if err != nil {
		s.writeMutationError(w, r, sess, err)
		return
	}
	notice := change.Success
	if notice == "" {
		notice = "Saved."
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"notice": notice,
		"row":    row,
		"view":   ctl.View(),
	})
}

func (s *server) writeMutationError(w http.ResponseWriter, r *http.Request, sess session.Session, err error) {
	var ve *listctl.ValidationError
	var fe *remote.FetchError
	switch {
	case errors.As(err, &ve):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"error": "Please correct the highlighted fields.", "fields": ve.Fields})
	case errors.Is(err, screens.ErrUnknown):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, listctl.ErrBusy):
		writeJSON(w, http.StatusConflict, map[string]string{"error": "That change is already being saved."})
	case errors.Is(err, session.ErrUnauthenticated):
		s.endSession(w, r, sess)
	case errors.As(err, &fe):
		status := http.StatusBadGateway
		if !fe.Transport && fe.Status >= 400 && fe.Status < 500 {
			status = fe.Status
		}
		writeJSON(w, status, map[string]string{"error": fe.Message})
	default:
		s.log.Error("mutation failed", "error", err)
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": remote.GenericMessage})
	}
}

func (s *server) hierarchyTree(w http.ResponseWriter, r *http.Request) {
	sess, _ := session.FromContext(r.Context())
	tree, err := s.hierarchy.Load(r.Context(), sess)
	if err != nil {
		s.writeMutationError(w, r, sess, err)
		return
	}
	writeJSON(w, http.StatusOK, tree)
}

func (s *server) hierarchyMove(w http.ResponseWriter, r *http.Request) {
	sess, _ := session.FromContext(r.Context())
	var move hierarchy.Move
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&move); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid JSON body."})
		return
	}
	tree, err := s.hierarchy.Reassign(r.Context(), sess, move)
	if err != nil {
		s.writeMutationError(w, r, sess, err)
		return
	}
	writeJSON(w, http.StatusOK, tree)
}

func parsePositiveInt(raw string, fallback int) int {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || value <= 0 {
		return fallback
	}
	return value
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
