package listctl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/phillip-england/distconsole/internal/export"
	"github.com/phillip-england/distconsole/internal/remote"
	"github.com/phillip-england/distconsole/internal/report"
	"github.com/phillip-england/distconsole/internal/session"
)

type fakeBackend struct {
	fetch    func(ctx context.Context, res remote.Resource, q url.Values) ([]report.Row, error)
	dispatch func(ctx context.Context, m remote.Mutation) (report.Row, error)

	fetches    atomic.Int32
	dispatches atomic.Int32
}

func (f *fakeBackend) Fetch(ctx context.Context, res remote.Resource, token string, q url.Values) ([]report.Row, error) {
	f.fetches.Add(1)
	return f.fetch(ctx, res, q)
}

func (f *fakeBackend) Dispatch(ctx context.Context, m remote.Mutation, token string) (report.Row, error) {
	f.dispatches.Add(1)
	if f.dispatch == nil {
		return report.Row{}, nil
	}
	return f.dispatch(ctx, m)
}

var testSession = session.Session{Identity: "MD-7", Token: "tok"}

var fundFields = report.Fields{
	Search:    []string{"id", "remark"},
	Status:    "status",
	Timestamp: "created_at",
}

func fundRows(n int) []report.Row {
	rows := make([]report.Row, 0, n)
	for i := 1; i <= n; i++ {
		status := "PENDING"
		if i%2 == 0 {
			status = "ACCEPTED"
		}
		rows = append(rows, report.Row{
			"id":         fmt.Sprintf("FR%03d", i),
			"status":     status,
			"amount":     json.Number("100"),
			"created_at": time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(i) * time.Hour).Format(time.RFC3339),
		})
	}
	return rows
}

func staticBackend(rows []report.Row) *fakeBackend {
	return &fakeBackend{fetch: func(context.Context, remote.Resource, url.Values) ([]report.Row, error) {
		return rows, nil
	}}
}

func quiet() Notifier {
	return NotifierFunc(func(context.Context, Notice) {})
}

func newFundController(be Backend) *Controller {
	return New(Config{
		Name:         "fund-requests",
		Resource:     remote.Resource{Path: "/fund-requests"},
		Fields:       fundFields,
		Projection:   export.Projection{Columns: []export.Column{{Key: "id", Header: "ID", Kind: export.Identifier}, {Key: "amount", Header: "Amount", Kind: export.Currency, Sum: true}}},
		ServerParams: []string{ParamStatus},
		Notifier:     quiet(),
	}, be)
}

func TestLatestFetchWinsWhenEarlierResponseArrivesLast(t *testing.T) {
	started := make(chan struct{})
	releaseA := make(chan struct{})
	be := &fakeBackend{fetch: func(ctx context.Context, _ remote.Resource, q url.Values) ([]report.Row, error) {
		if q.Get("status") == "PENDING" {
			close(started)
			<-releaseA
			return []report.Row{{"id": "A", "status": "PENDING"}}, nil
		}
		return []report.Row{{"id": "B", "status": "REJECTED"}}, nil
	}}
	ctl := newFundController(be)

	errA := make(chan error, 1)
	go func() { errA <- ctl.Query(context.Background(), testSession, report.Criteria{Status: "PENDING"}) }()
	<-started

	if err := ctl.Query(context.Background(), testSession, report.Criteria{Status: "REJECTED"}); err != nil {
		t.Fatalf("query B: %v", err)
	}
	close(releaseA)
	if err := <-errA; !errors.Is(err, ErrSuperseded) {
		t.Fatalf("expected A to be superseded, got %v", err)
	}

	v := ctl.View()
	if len(v.Page.Items) != 1 || v.Page.Items[0].Text("id") != "B" {
		t.Fatalf("expected B's rows, got %v", v.Page.Items)
	}
	if v.Criteria.Status != "REJECTED" {
		t.Fatalf("unexpected criteria %+v", v.Criteria)
	}
}

func TestLatestFetchWinsWhenEarlierResponseArrivesFirst(t *testing.T) {
	startedA, startedB := make(chan struct{}), make(chan struct{})
	releaseA, releaseB := make(chan struct{}), make(chan struct{})
	var ctxErrA error
	be := &fakeBackend{fetch: func(ctx context.Context, _ remote.Resource, q url.Values) ([]report.Row, error) {
		if q.Get("status") == "PENDING" {
			close(startedA)
			<-releaseA
			ctxErrA = ctx.Err()
			return []report.Row{{"id": "A", "status": "PENDING"}}, nil
		}
		close(startedB)
		<-releaseB
		return []report.Row{{"id": "B", "status": "REJECTED"}}, nil
	}}
	ctl := newFundController(be)

	errA, errB := make(chan error, 1), make(chan error, 1)
	go func() { errA <- ctl.Query(context.Background(), testSession, report.Criteria{Status: "PENDING"}) }()
	<-startedA
	go func() { errB <- ctl.Query(context.Background(), testSession, report.Criteria{Status: "REJECTED"}) }()
	<-startedB

	close(releaseA)
	if err := <-errA; !errors.Is(err, ErrSuperseded) {
		t.Fatalf("expected A to be superseded, got %v", err)
	}
	if !errors.Is(ctxErrA, context.Canceled) {
		t.Fatalf("superseded fetch should have been cancelled, got %v", ctxErrA)
	}
	if v := ctl.View(); len(v.Page.Items) != 0 {
		t.Fatalf("A's response must not be shown, got %v", v.Page.Items)
	}

	close(releaseB)
	if err := <-errB; err != nil {
		t.Fatalf("query B: %v", err)
	}
	v := ctl.View()
	if len(v.Page.Items) != 1 || v.Page.Items[0].Text("id") != "B" {
		t.Fatalf("expected B's rows, got %v", v.Page.Items)
	}
}

func TestLocalCriteriaDoNotRefetch(t *testing.T) {
	be := staticBackend(fundRows(25))
	ctl := newFundController(be)
	if err := ctl.Load(context.Background(), testSession); err != nil {
		t.Fatalf("load: %v", err)
	}
	if refetch := ctl.SetCriteria(report.Criteria{Text: "fr01"}); refetch {
		t.Fatalf("text search is local only")
	}
	if got := ctl.View().Filtered; got != 10 {
		t.Fatalf("expected FR010..FR019, got %d", got)
	}
	if refetch := ctl.SetCriteria(report.Criteria{Text: "fr01", Status: "PENDING"}); !refetch {
		t.Fatalf("status is a server parameter and should refetch")
	}
	if be.fetches.Load() != 1 {
		t.Fatalf("expected one fetch, got %d", be.fetches.Load())
	}
}

func TestCriteriaAndPageSizeChangesResetPage(t *testing.T) {
	ctl := newFundController(staticBackend(fundRows(25)))
	if err := ctl.Load(context.Background(), testSession); err != nil {
		t.Fatalf("load: %v", err)
	}

	ctl.SetPage(3)
	if v := ctl.View(); v.Page.Number != 3 || len(v.Page.Items) != 5 {
		t.Fatalf("unexpected page %+v", v.Page)
	}
	ctl.SetCriteria(report.Criteria{Text: "FR"})
	if v := ctl.View(); v.Page.Number != 1 {
		t.Fatalf("criteria change should reset page, got %d", v.Page.Number)
	}

	ctl.SetPage(2)
	ctl.SetPageSize(25)
	if v := ctl.View(); v.Page.Number != 1 || v.Page.TotalPages != 1 {
		t.Fatalf("page size change should reset page, got %+v", v.Page)
	}

	ctl.SetPage(9)
	if v := ctl.View(); v.Page.Number != 1 {
		t.Fatalf("page should clamp to last, got %d", v.Page.Number)
	}
}

func TestViewIsNewestFirst(t *testing.T) {
	ctl := newFundController(staticBackend(fundRows(3)))
	if err := ctl.Load(context.Background(), testSession); err != nil {
		t.Fatalf("load: %v", err)
	}
	items := ctl.View().Page.Items
	if items[0].Text("id") != "FR003" || items[2].Text("id") != "FR001" {
		t.Fatalf("expected newest first, got %v", items)
	}
}

func TestExportUsesWholeFilteredSet(t *testing.T) {
	ctl := newFundController(staticBackend(fundRows(25)))
	if err := ctl.Load(context.Background(), testSession); err != nil {
		t.Fatalf("load: %v", err)
	}
	ctl.SetCriteria(report.Criteria{Text: "FR0"})
	ctl.SetPage(2)

	table, err := ctl.Export()
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if table.DataRows() != ctl.View().Filtered {
		t.Fatalf("export has %d rows, filtered %d", table.DataRows(), ctl.View().Filtered)
	}
	if table.Totals[1].Text != fmt.Sprintf("%d.00", 100*table.DataRows()) {
		t.Fatalf("unexpected total %q", table.Totals[1].Text)
	}

	ctl.SetCriteria(report.Criteria{Text: "nothing matches"})
	if _, err := ctl.Export(); !errors.Is(err, export.ErrNothingToExport) {
		t.Fatalf("expected ErrNothingToExport, got %v", err)
	}
}

func TestFetchFailureEmptiesScreenAndNotifies(t *testing.T) {
	fail := false
	be := &fakeBackend{fetch: func(context.Context, remote.Resource, url.Values) ([]report.Row, error) {
		if fail {
			return nil, &remote.FetchError{Status: http.StatusInternalServerError, Message: "Ledger unavailable"}
		}
		return fundRows(3), nil
	}}
	var got []Notice
	ctl := New(Config{Name: "fund-requests", Fields: fundFields, Notifier: NotifierFunc(func(_ context.Context, n Notice) {
		got = append(got, n)
	})}, be)

	if err := ctl.Load(context.Background(), testSession); err != nil {
		t.Fatalf("load: %v", err)
	}
	fail = true
	err := ctl.Load(context.Background(), testSession)
	var fe *remote.FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("expected FetchError, got %v", err)
	}
	v := ctl.View()
	if v.Loaded || v.Total != 0 || len(v.Page.Items) != 0 {
		t.Fatalf("failed fetch should leave an empty screen, got %+v", v)
	}
	if len(got) != 2 || got[0].Message != "3 records loaded." || got[1].Message != "Ledger unavailable" || got[1].Level != LevelError {
		t.Fatalf("unexpected notices %+v", got)
	}
}

func TestRetryAfterFailureReplacesErrorNotice(t *testing.T) {
	fail := true
	be := &fakeBackend{fetch: func(context.Context, remote.Resource, url.Values) ([]report.Row, error) {
		if fail {
			return nil, &remote.FetchError{Transport: true, Message: remote.GenericMessage}
		}
		return fundRows(1), nil
	}}
	var got []Notice
	ctl := New(Config{Name: "fund-requests", Fields: fundFields, Notifier: NotifierFunc(func(_ context.Context, n Notice) {
		got = append(got, n)
	})}, be)

	if err := ctl.Load(context.Background(), testSession); err == nil {
		t.Fatalf("expected first load to fail")
	}
	if n := ctl.View().Notice; n == nil || n.Level != LevelError {
		t.Fatalf("expected error notice, got %+v", n)
	}

	fail = false
	if err := ctl.Load(context.Background(), testSession); err != nil {
		t.Fatalf("retry: %v", err)
	}
	v := ctl.View()
	if !v.Loaded || v.Total != 1 {
		t.Fatalf("retry should fill the screen, got %+v", v)
	}
	if v.Notice == nil || v.Notice.Level != LevelSuccess || v.Notice.Message != "1 record loaded." {
		t.Fatalf("stale notice after retry: %+v", v.Notice)
	}
	if len(got) != 2 || got[1].Level != LevelSuccess {
		t.Fatalf("retry should notify success, got %+v", got)
	}
}

func TestUnauthenticatedFetchAsksForLogin(t *testing.T) {
	be := &fakeBackend{fetch: func(context.Context, remote.Resource, url.Values) ([]report.Row, error) {
		return nil, &remote.FetchError{Status: http.StatusUnauthorized, Message: "expired"}
	}}
	ctl := newFundController(be)
	err := ctl.Load(context.Background(), testSession)
	if !errors.Is(err, session.ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
	if n := ctl.View().Notice; n == nil || !n.Login {
		t.Fatalf("expected login notice, got %+v", n)
	}
}

func TestMutateValidationNeverDispatches(t *testing.T) {
	be := staticBackend(fundRows(1))
	ctl := newFundController(be)
	_, err := ctl.Mutate(context.Background(), testSession, Change{
		Key:      "reject:FR001",
		Mutation: remote.Mutation{Method: http.MethodPatch, Path: "/fund-requests/FR001"},
		Validate: func() error {
			return &ValidationError{Fields: map[string]string{"remark": "A remark is required to reject."}}
		},
	})
	var ve *ValidationError
	if !errors.As(err, &ve) || ve.Fields["remark"] == "" {
		t.Fatalf("expected validation error, got %v", err)
	}
	if be.dispatches.Load() != 0 {
		t.Fatalf("invalid change must not be sent")
	}
}

func TestMutateRejectsDuplicateInFlight(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	be := staticBackend(fundRows(2))
	be.dispatch = func(ctx context.Context, m remote.Mutation) (report.Row, error) {
		if m.Path == "/fund-requests/FR001" {
			close(entered)
			<-release
		}
		return report.Row{"id": "ok"}, nil
	}
	ctl := newFundController(be)
	change := Change{Key: "approve:FR001", Mutation: remote.Mutation{Method: http.MethodPatch, Path: "/fund-requests/FR001"}}

	var wg sync.WaitGroup
	wg.Add(1)
	var firstErr error
	go func() {
		defer wg.Done()
		_, firstErr = ctl.Mutate(context.Background(), testSession, change)
	}()
	<-entered

	if !ctl.Busy("approve:FR001") {
		t.Fatalf("expected key to be busy")
	}
	if _, err := ctl.Mutate(context.Background(), testSession, change); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
	other := Change{Key: "approve:FR002", Mutation: remote.Mutation{Method: http.MethodPatch, Path: "/fund-requests/FR002"}}
	if _, err := ctl.Mutate(context.Background(), testSession, other); err != nil {
		t.Fatalf("different rows may change concurrently: %v", err)
	}

	close(release)
	wg.Wait()
	if firstErr != nil {
		t.Fatalf("first change: %v", firstErr)
	}
	if ctl.Busy("approve:FR001") {
		t.Fatalf("busy flag should clear")
	}
}

func TestMutateSuccessRefreshesAndFailureKeepsRows(t *testing.T) {
	rows := fundRows(2)
	be := staticBackend(rows)
	ctl := newFundController(be)
	if err := ctl.Load(context.Background(), testSession); err != nil {
		t.Fatalf("load: %v", err)
	}

	if _, err := ctl.Mutate(context.Background(), testSession, Change{Mutation: remote.Mutation{Method: http.MethodDelete, Path: "/fund-requests/FR001"}, Success: "Deleted."}); err != nil {
		t.Fatalf("mutate: %v", err)
	}
	if be.fetches.Load() != 2 {
		t.Fatalf("expected refresh after success, fetches=%d", be.fetches.Load())
	}
	if n := ctl.View().Notice; n == nil || n.Message != "Deleted." {
		t.Fatalf("expected success notice, got %+v", n)
	}

	be.dispatch = func(context.Context, remote.Mutation) (report.Row, error) {
		return nil, &remote.FetchError{Status: http.StatusConflict, Message: "Request already processed"}
	}
	_, err := ctl.Mutate(context.Background(), testSession, Change{Mutation: remote.Mutation{Method: http.MethodPatch, Path: "/fund-requests/FR002"}})
	if err == nil {
		t.Fatalf("expected failure")
	}
	if be.fetches.Load() != 2 {
		t.Fatalf("failed change must not refresh")
	}
	v := ctl.View()
	if v.Total != 2 || v.Notice == nil || v.Notice.Message != "Request already processed" {
		t.Fatalf("unexpected state after failure %+v", v)
	}
}

func TestMutateExpandsIdentity(t *testing.T) {
	var gotPath string
	be := staticBackend(nil)
	be.dispatch = func(_ context.Context, m remote.Mutation) (report.Row, error) {
		gotPath = m.Path
		return report.Row{}, nil
	}
	ctl := newFundController(be)
	if _, err := ctl.Mutate(context.Background(), testSession, Change{Mutation: remote.Mutation{Method: http.MethodPost, Path: "/distributors/{identity}/bank-accounts"}}); err != nil {
		t.Fatalf("mutate: %v", err)
	}
	if gotPath != "/distributors/MD-7/bank-accounts" {
		t.Fatalf("unexpected path %q", gotPath)
	}
}

func TestCloseDiscardsInFlightFetch(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	be := &fakeBackend{fetch: func(context.Context, remote.Resource, url.Values) ([]report.Row, error) {
		close(started)
		<-release
		return fundRows(3), nil
	}}
	ctl := newFundController(be)
	errCh := make(chan error, 1)
	go func() { errCh <- ctl.Load(context.Background(), testSession) }()
	<-started
	ctl.Close()
	close(release)
	if err := <-errCh; !errors.Is(err, ErrSuperseded) {
		t.Fatalf("expected ErrSuperseded after close, got %v", err)
	}
	if ctl.View().Total != 0 {
		t.Fatalf("closed controller should hold no rows")
	}
}
