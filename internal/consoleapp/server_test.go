package consoleapp

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/xuri/excelize/v2"

	"github.com/phillip-england/distconsole/internal/config"
	"github.com/phillip-england/distconsole/internal/mockapi"
	"github.com/phillip-england/distconsole/internal/remote"
	"github.com/phillip-england/distconsole/internal/session"
)

const operatorPassword = "console-test-password"

type harness struct {
	srv     *server
	console *httptest.Server
	client  *http.Client
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	backend, err := mockapi.New(mockapi.Config{
		SigningKey: "console-test-signing-key",
		Username:   "admin",
		Password:   operatorPassword,
		TokenTTL:   time.Hour,
	}, nil)
	if err != nil {
		t.Fatalf("mock backend: %v", err)
	}
	api := httptest.NewServer(backend.Handler())
	t.Cleanup(api.Close)

	cfg := config.Defaults()
	cfg.APIBaseURL = api.URL
	srv := newServer(cfg, remote.New(api.URL, 2*time.Second), nil)
	console := httptest.NewServer(srv.routes())
	t.Cleanup(console.Close)

	jar, _ := cookiejar.New(nil)
	client := &http.Client{
		Jar: jar,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	return &harness{srv: srv, console: console, client: client}
}

func (h *harness) do(t *testing.T, method, path string, body any) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		payload, _ := json.Marshal(body)
		reader = bytes.NewReader(payload)
	}
	req, _ := http.NewRequest(method, h.console.URL+path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	resp, err := h.client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	return resp, raw
}

func (h *harness) login(t *testing.T) {
	t.Helper()
	resp, raw := h.do(t, http.MethodPost, "/login", map[string]string{"username": "admin", "password": operatorPassword})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login: %d %s", resp.StatusCode, raw)
	}
}

type viewBody struct {
	Filtered int `json:"filtered"`
	Total    int `json:"total"`
	Page     struct {
		Items      []map[string]any `json:"items"`
		Number     int              `json:"page"`
		Size       int              `json:"perPage"`
		TotalPages int              `json:"totalPages"`
	} `json:"page"`
	Notice *struct {
		Level   string `json:"level"`
		Message string `json:"message"`
	} `json:"notice"`
}

func decode[T any](t *testing.T, raw []byte) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("decode %s: %v", raw, err)
	}
	return out
}

func TestUnauthenticatedRequests(t *testing.T) {
	h := newHarness(t)

	resp, raw := h.do(t, http.MethodGet, "/api/screens", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
	if body := decode[map[string]string](t, raw); body["login"] != "/login" {
		t.Fatalf("expected login hint, got %v", body)
	}

	req, _ := http.NewRequest(http.MethodGet, h.console.URL+"/", nil)
	page, err := h.client.Do(req)
	if err != nil {
		t.Fatalf("index: %v", err)
	}
	page.Body.Close()
	if page.StatusCode != http.StatusFound || page.Header.Get("Location") != "/login" {
		t.Fatalf("expected redirect to /login, got %d %q", page.StatusCode, page.Header.Get("Location"))
	}
}

func TestLoginRejectsBadPassword(t *testing.T) {
	h := newHarness(t)
	resp, raw := h.do(t, http.MethodPost, "/login", map[string]string{"username": "admin", "password": "wrong-password-here"})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d %s", resp.StatusCode, raw)
	}
}

func TestScreenViewFiltersAndPages(t *testing.T) {
	h := newHarness(t)
	h.login(t)

	resp, raw := h.do(t, http.MethodGet, "/api/screens/fund-requests", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("view: %d %s", resp.StatusCode, raw)
	}
	all := decode[viewBody](t, raw)
	if all.Total != 25 || all.Page.Size != 10 || all.Page.TotalPages != 3 || len(all.Page.Items) != 10 {
		t.Fatalf("unexpected first view %+v", all)
	}

	_, raw = h.do(t, http.MethodGet, "/api/screens/fund-requests?status=PENDING&page=9", nil)
	pending := decode[viewBody](t, raw)
	if pending.Filtered == 0 || pending.Page.Number != pending.Page.TotalPages {
		t.Fatalf("page should clamp to the last page, got %+v", pending.Page)
	}
	for _, item := range pending.Page.Items {
		if item["status"] != "PENDING" {
			t.Fatalf("status filter leaked %v", item["status"])
		}
	}

	_, raw = h.do(t, http.MethodGet, "/api/screens/fund-requests?q=FR0007", nil)
	one := decode[viewBody](t, raw)
	if one.Filtered != 1 || one.Page.Items[0]["id"] != "FR0007" {
		t.Fatalf("search should find one row, got %+v", one)
	}

	resp, _ = h.do(t, http.MethodGet, "/api/screens/fund-requests?from=last-week", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for a bad date, got %d", resp.StatusCode)
	}
	resp, _ = h.do(t, http.MethodGet, "/api/screens/nope", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for an unknown screen, got %d", resp.StatusCode)
	}
}

func TestExportMatchesFilteredSet(t *testing.T) {
	h := newHarness(t)
	h.login(t)

	_, raw := h.do(t, http.MethodGet, "/api/screens/fund-requests?status=PENDING", nil)
	view := decode[viewBody](t, raw)

	resp, body := h.do(t, http.MethodGet, "/api/screens/fund-requests/export?format=csv&status=PENDING&scope=pending", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("export: %d %s", resp.StatusCode, body)
	}
	if cd := resp.Header.Get("Content-Disposition"); !strings.Contains(cd, "fund_requests_pending_") || !strings.HasSuffix(cd, `.csv"`) {
		t.Fatalf("unexpected disposition %q", cd)
	}
	if got := resp.Header.Get("X-Export-Rows"); got != strconv.Itoa(view.Filtered) {
		t.Fatalf("export rows %s, filtered %d", got, view.Filtered)
	}
	if !bytes.HasPrefix(body, []byte("\xEF\xBB\xBF")) {
		t.Fatalf("csv should start with a byte order mark")
	}

	resp, body = h.do(t, http.MethodGet, "/api/screens/payout-transactions/export?format=xlsx", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("xlsx export: %d", resp.StatusCode)
	}
	f, err := excelize.OpenReader(bytes.NewReader(body))
	if err != nil {
		t.Fatalf("open workbook: %v", err)
	}
	defer f.Close()
	if idx, _ := f.GetSheetIndex("Payout Transactions"); idx < 0 {
		t.Fatalf("expected a sheet named after the screen, got %v", f.GetSheetList())
	}

	resp, _ = h.do(t, http.MethodGet, "/api/screens/fund-requests/export?format=csv&q=no-such-request", nil)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for an empty export, got %d", resp.StatusCode)
	}
	resp, _ = h.do(t, http.MethodGet, "/api/screens/fund-requests/export?format=pdf", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for an unknown format, got %d", resp.StatusCode)
	}
}

func TestFundRequestActions(t *testing.T) {
	h := newHarness(t)
	h.login(t)
	h.do(t, http.MethodGet, "/api/screens/fund-requests?per_page=50", nil)

	// FR0002 is seeded REJECTED and FR0004 APPROVED, an alias of ACCEPTED.
	for id, state := range map[string]string{"FR0002": "REJECTED", "FR0004": "ACCEPTED"} {
		resp, raw := h.do(t, http.MethodPost, "/api/screens/fund-requests/"+id+"/approve", map[string]any{})
		if resp.StatusCode != http.StatusUnprocessableEntity {
			t.Fatalf("%s: expected 422, got %d %s", id, resp.StatusCode, raw)
		}
		body := decode[struct {
			Fields map[string]string `json:"fields"`
		}](t, raw)
		if !strings.Contains(body.Fields["status"], state) {
			t.Fatalf("%s: unexpected fields %v", id, body.Fields)
		}
	}

	resp, raw := h.do(t, http.MethodPost, "/api/screens/fund-requests/FR0005/reject", map[string]any{})
	if resp.StatusCode != http.StatusUnprocessableEntity || !strings.Contains(string(raw), "remark") {
		t.Fatalf("reject without remark: %d %s", resp.StatusCode, raw)
	}

	resp, raw = h.do(t, http.MethodPost, "/api/screens/fund-requests/FR0003/approve", map[string]any{"remark": "ok"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("approve: %d %s", resp.StatusCode, raw)
	}
	done := decode[struct {
		Notice string         `json:"notice"`
		Row    map[string]any `json:"row"`
	}](t, raw)
	if done.Notice != "Fund request accepted." || done.Row["status"] != "ACCEPTED" {
		t.Fatalf("unexpected result %+v", done)
	}

	resp, _ = h.do(t, http.MethodPost, "/api/screens/fund-requests/FR0003/approve", map[string]any{})
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("refreshed row should block a second approval, got %d", resp.StatusCode)
	}

	resp, _ = h.do(t, http.MethodPost, "/api/screens/fund-requests/FR0003/launch", map[string]any{})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for an unknown action, got %d", resp.StatusCode)
	}
}

func TestBankAccountCrudPassesServerMessagesThrough(t *testing.T) {
	h := newHarness(t)
	h.login(t)

	account := map[string]any{
		"account_holder_name": "Corner Store 1",
		"bank_name":           "ICICI Bank",
		"account_number":      "30012345678",
		"ifsc_code":           "ICIC0000042",
	}
	resp, raw := h.do(t, http.MethodPost, "/api/screens/bank-accounts", account)
	if resp.StatusCode != http.StatusConflict || !strings.Contains(string(raw), "already registered") {
		t.Fatalf("duplicate account: %d %s", resp.StatusCode, raw)
	}

	account["ifsc_code"] = "bad"
	resp, _ = h.do(t, http.MethodPost, "/api/screens/bank-accounts", account)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("bad IFSC should fail validation, got %d", resp.StatusCode)
	}

	account["ifsc_code"] = "ICIC0000042"
	account["account_number"] = "123456789012"
	resp, raw = h.do(t, http.MethodPost, "/api/screens/bank-accounts", account)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("create: %d %s", resp.StatusCode, raw)
	}
	created := decode[struct {
		Row  map[string]any `json:"row"`
		View viewBody       `json:"view"`
	}](t, raw)
	if created.View.Total != 3 {
		t.Fatalf("list should refresh after create, got %d rows", created.View.Total)
	}

	id := created.Row["id"].(string)
	resp, raw = h.do(t, http.MethodDelete, "/api/screens/bank-accounts/"+id, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete: %d %s", resp.StatusCode, raw)
	}
	if gone := decode[struct {
		View viewBody `json:"view"`
	}](t, raw); gone.View.Total != 2 {
		t.Fatalf("expected 2 rows after delete, got %d", gone.View.Total)
	}
}

func TestRejectedTokenEndsSession(t *testing.T) {
	h := newHarness(t)

	// Decodable and unexpired, but signed with a key the backend rejects.
	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"id":  "OP001",
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte("some-other-signing-key"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	req, _ := http.NewRequest(http.MethodGet, h.console.URL+"/api/screens/tickets", nil)
	req.AddCookie(&http.Cookie{Name: session.CookieName, Value: forged})
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("view: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
	cleared := false
	for _, c := range resp.Cookies() {
		cleared = cleared || (c.Name == session.CookieName && c.MaxAge < 0)
	}
	if !cleared {
		t.Fatalf("expected the token cookie to be cleared")
	}
	if n := h.srv.registry.size(); n != 0 {
		t.Fatalf("controllers should be dropped, %d remain", n)
	}
}

func TestLogoutDropsControllers(t *testing.T) {
	h := newHarness(t)
	h.login(t)
	h.do(t, http.MethodGet, "/api/screens/tickets", nil)
	h.do(t, http.MethodGet, "/api/screens/retailers", nil)
	if n := h.srv.registry.size(); n != 2 {
		t.Fatalf("expected 2 controllers, got %d", n)
	}

	resp, _ := h.do(t, http.MethodPost, "/logout", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("logout: %d", resp.StatusCode)
	}
	if n := h.srv.registry.size(); n != 0 {
		t.Fatalf("expected controllers dropped, got %d", n)
	}
	resp, _ = h.do(t, http.MethodGet, "/api/session", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 after logout, got %d", resp.StatusCode)
	}
}

func TestHierarchyTreeAndMove(t *testing.T) {
	h := newHarness(t)
	h.login(t)

	type tree struct {
		Roots []struct {
			ID       string `json:"id"`
			Children []struct {
				ID string `json:"id"`
			} `json:"children"`
		} `json:"roots"`
		Counts map[string]int `json:"counts"`
	}
	resp, raw := h.do(t, http.MethodGet, "/api/hierarchy", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("tree: %d %s", resp.StatusCode, raw)
	}
	before := decode[tree](t, raw)
	last := before.Roots[len(before.Roots)-1]
	if last.ID != "unassigned" || len(last.Children) != 1 || last.Children[0].ID != "RT015" {
		t.Fatalf("expected RT015 unassigned, got %+v", last)
	}

	resp, raw = h.do(t, http.MethodPost, "/api/hierarchy/moves", map[string]string{"level": "retailer", "id": "RT015", "newParentId": "DS404"})
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("unknown parent: %d %s", resp.StatusCode, raw)
	}

	resp, raw = h.do(t, http.MethodPost, "/api/hierarchy/moves", map[string]string{"level": "retailer", "id": "RT015", "newParentId": "DS001"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("move: %d %s", resp.StatusCode, raw)
	}
	after := decode[tree](t, raw)
	for _, root := range after.Roots {
		if root.ID == "unassigned" {
			t.Fatalf("unassigned node should be gone after the move")
		}
	}
	if after.Counts["retailer"] != 15 {
		t.Fatalf("unexpected counts %v", after.Counts)
	}
}

func TestListScreens(t *testing.T) {
	h := newHarness(t)
	h.login(t)
	_, raw := h.do(t, http.MethodGet, "/api/screens", nil)
	body := decode[struct {
		Screens []screenSummary `json:"screens"`
	}](t, raw)
	if len(body.Screens) != 12 || body.Screens[0].Name != "fund-requests" {
		t.Fatalf("unexpected catalog %+v", body.Screens)
	}
}
