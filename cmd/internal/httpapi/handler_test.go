package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"qrtrack/cmd/internal/directory"
	"qrtrack/cmd/internal/qr"
	"qrtrack/cmd/internal/scan"
)

type apiFixture struct {
	cfg    Config
	mux    *http.ServeMux
	ledger *scan.InMemoryLedger
	dir    *directory.InMemoryStore
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	qrCfg := qr.DefaultConfig()
	codec, err := qr.NewPasetoV4LocalCodec(qrCfg)
	if err != nil {
		t.Fatalf("codec: %v", err)
	}

	sessions := qr.NewInMemoryStore()
	ledger := scan.NewInMemoryLedger()
	dir := directory.NewInMemoryStore()

	service := qr.NewService(qrCfg, log, sessions, codec, ledger, dir, nil, nil)

	cfg := DefaultConfig()
	h, err := NewHandler(log, cfg, service, ledger, dir, dir.Displays())
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}

	mux := http.NewServeMux()
	h.Register(mux)

	return &apiFixture{cfg: cfg, mux: mux, ledger: ledger, dir: dir}
}

func (f *apiFixture) do(t *testing.T, method, path, bearer string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		rd = bytes.NewReader(b)
	}

	req := httptest.NewRequest(method, path, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	rr := httptest.NewRecorder()
	f.mux.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.Unmarshal(rr.Body.Bytes(), dst); err != nil {
		t.Fatalf("decode response %q: %v", rr.Body.String(), err)
	}
}

func (f *apiFixture) issue(t *testing.T, displayID string) qr.Payload {
	t.Helper()

	rr := f.do(t, http.MethodPost, "/admin/qr", f.cfg.AdminToken, map[string]string{"displayId": displayID})
	if rr.Code != http.StatusOK {
		t.Fatalf("issue status=%d body=%s", rr.Code, rr.Body.String())
	}
	var p qr.Payload
	decodeBody(t, rr, &p)
	return p
}

func scanBody(token string) map[string]any {
	return map[string]any{
		"token":      token,
		"fullName":   "Ada Lovelace",
		"jobTitle":   "Engineer",
		"employeeId": "E-100",
		"type":       scan.TypeCheckIn,
		"lat":        13.7563,
		"lng":        100.5018,
		"accuracy":   12.5,
	}
}

func TestHealthIsPublic(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t)
	rr := f.do(t, http.MethodGet, "/health", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d", rr.Code)
	}
}

func TestAuthRejections(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t)

	cases := []struct {
		name   string
		method string
		path   string
		bearer string
	}{
		{name: "issue no credential", method: http.MethodPost, path: "/admin/qr"},
		{name: "issue wrong credential", method: http.MethodPost, path: "/admin/qr", bearer: "nope"},
		{name: "issue cross-role credential", method: http.MethodPost, path: "/admin/qr", bearer: f.cfg.UserToken},
		{name: "scans listing", method: http.MethodGet, path: "/admin/scans"},
		{name: "stats", method: http.MethodGet, path: "/admin/stats"},
		{name: "export csv", method: http.MethodGet, path: "/admin/export.csv"},
		{name: "reset", method: http.MethodPost, path: "/admin/reset"},
		{name: "display current", method: http.MethodGet, path: "/display/qr/current", bearer: f.cfg.UserToken},
		{name: "validate", method: http.MethodPost, path: "/qr/validate"},
		{name: "scan", method: http.MethodPost, path: "/scan", bearer: f.cfg.DisplayToken},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			rr := f.do(t, tc.method, tc.path, tc.bearer, nil)
			if rr.Code != http.StatusUnauthorized {
				t.Fatalf("status=%d want 401 (%s)", rr.Code, rr.Body.String())
			}
		})
	}
}

func TestMethodNotAllowed(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t)
	rr := f.do(t, http.MethodGet, "/scan", "", nil)
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status=%d want 405", rr.Code)
	}
	if got := rr.Header().Get("Allow"); got != http.MethodPost {
		t.Fatalf("Allow=%q", got)
	}
}

func TestIssueAndDisplayCurrent(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t)

	issued := f.issue(t, "kiosk-1")
	if issued.Token == "" || !strings.HasPrefix(issued.ImageDataURL, "data:image/png;base64,") {
		t.Fatalf("payload=%+v", issued)
	}

	rr := f.do(t, http.MethodGet, "/display/qr/current?displayId=kiosk-1", f.cfg.DisplayToken, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("current status=%d body=%s", rr.Code, rr.Body.String())
	}
	var current qr.Payload
	decodeBody(t, rr, &current)
	if current.Token != issued.Token {
		t.Fatal("display sees a different session than the one issued")
	}

	// Admin preview of the same display.
	rr = f.do(t, http.MethodGet, "/display/qr/current?displayId=kiosk-1", f.cfg.AdminToken, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("admin preview status=%d", rr.Code)
	}

	// First contact provisioned the display row.
	displays, err := f.dir.Displays().FindByCompany(context.Background(), "")
	if err != nil {
		t.Fatalf("FindByCompany: %v", err)
	}
	if len(displays) != 1 || displays[0].ID != "kiosk-1" {
		t.Fatalf("displays=%+v", displays)
	}
}

func TestDisplayCurrentAutoIssues(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t)

	rr := f.do(t, http.MethodGet, "/display/qr/current?displayId=cold-kiosk", f.cfg.DisplayToken, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	var p qr.Payload
	decodeBody(t, rr, &p)
	if p.Token == "" {
		t.Fatal("no session auto-issued for a cold display")
	}
}

func TestValidateAndScanFlow(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t)
	issued := f.issue(t, "kiosk-1")

	// Validate is read-only: twice in a row is fine.
	for i := 0; i < 2; i++ {
		rr := f.do(t, http.MethodPost, "/qr/validate", f.cfg.UserToken, map[string]string{"token": issued.Token})
		if rr.Code != http.StatusOK {
			t.Fatalf("validate #%d status=%d body=%s", i, rr.Code, rr.Body.String())
		}
	}

	// The QR token also travels as a query parameter on GET.
	rr := f.do(t, http.MethodGet, "/qr/validate?token="+url.QueryEscape(issued.Token), f.cfg.UserToken, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("GET validate status=%d body=%s", rr.Code, rr.Body.String())
	}

	rr = f.do(t, http.MethodPost, "/scan", f.cfg.UserToken, scanBody(issued.Token))
	if rr.Code != http.StatusOK {
		t.Fatalf("scan status=%d body=%s", rr.Code, rr.Body.String())
	}
	var resp struct {
		OK     bool        `json:"ok"`
		Record scan.Record `json:"record"`
	}
	decodeBody(t, rr, &resp)
	if !resp.OK || resp.Record.FullName != "Ada Lovelace" {
		t.Fatalf("resp=%+v", resp)
	}

	// The same token is now consumed.
	rr = f.do(t, http.MethodPost, "/scan", f.cfg.UserToken, scanBody(issued.Token))
	if rr.Code != http.StatusConflict {
		t.Fatalf("second scan status=%d want 409", rr.Code)
	}
	var fail scanFailure
	decodeBody(t, rr, &fail)
	if fail.OK || fail.Reason != "already_used" {
		t.Fatalf("fail=%+v", fail)
	}
}

func TestValidateFailureStatuses(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t)

	cases := []struct {
		name       string
		body       map[string]string
		wantStatus int
		wantReason string
	}{
		{name: "missing token", body: map[string]string{}, wantStatus: http.StatusBadRequest, wantReason: "token_required"},
		{name: "unknown token", body: map[string]string{"token": "v4.local.unknown"}, wantStatus: http.StatusGone, wantReason: "expired_or_unknown_qr"},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			rr := f.do(t, http.MethodPost, "/qr/validate", f.cfg.UserToken, tc.body)
			if rr.Code != tc.wantStatus {
				t.Fatalf("status=%d want %d", rr.Code, tc.wantStatus)
			}
			var fail scanFailure
			decodeBody(t, rr, &fail)
			if fail.Reason != tc.wantReason {
				t.Fatalf("reason=%q want %q", fail.Reason, tc.wantReason)
			}
		})
	}
}

func TestScanInvalidPayloadListsFields(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t)
	issued := f.issue(t, "kiosk-1")

	body := scanBody(issued.Token)
	body["fullName"] = "  "
	body["type"] = "coffee"

	rr := f.do(t, http.MethodPost, "/scan", f.cfg.UserToken, body)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status=%d want 400 (%s)", rr.Code, rr.Body.String())
	}
	var fail scanFailure
	decodeBody(t, rr, &fail)
	if fail.Reason != "invalid_payload" {
		t.Fatalf("reason=%q", fail.Reason)
	}
	if _, ok := fail.Fields["fullName"]; !ok {
		t.Fatalf("fields=%v missing fullName", fail.Fields)
	}
	if _, ok := fail.Fields["type"]; !ok {
		t.Fatalf("fields=%v missing type", fail.Fields)
	}
}

func TestAdminScansAndStats(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t)
	issued := f.issue(t, "kiosk-1")

	if rr := f.do(t, http.MethodPost, "/scan", f.cfg.UserToken, scanBody(issued.Token)); rr.Code != http.StatusOK {
		t.Fatalf("scan status=%d", rr.Code)
	}

	rr := f.do(t, http.MethodGet, "/admin/scans?search=ada", f.cfg.AdminToken, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("scans status=%d", rr.Code)
	}
	var listing struct {
		Scans []scan.Record `json:"scans"`
		Count int           `json:"count"`
	}
	decodeBody(t, rr, &listing)
	if listing.Count != 1 || len(listing.Scans) != 1 {
		t.Fatalf("listing=%+v", listing)
	}

	rr = f.do(t, http.MethodGet, "/admin/scans?search=nobody", f.cfg.AdminToken, nil)
	decodeBody(t, rr, &listing)
	if listing.Count != 0 || listing.Scans == nil {
		t.Fatalf("empty listing must still carry an array: %s", rr.Body.String())
	}

	rr = f.do(t, http.MethodGet, "/admin/stats", f.cfg.AdminToken, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("stats status=%d", rr.Code)
	}
	var stats scan.Stats
	decodeBody(t, rr, &stats)
	if stats.Total != 1 || stats.CheckIns != 1 {
		t.Fatalf("stats=%+v", stats)
	}
}

func TestExportsAcceptQueryCredential(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t)
	issued := f.issue(t, "kiosk-1")
	if rr := f.do(t, http.MethodPost, "/scan", f.cfg.UserToken, scanBody(issued.Token)); rr.Code != http.StatusOK {
		t.Fatalf("scan status=%d", rr.Code)
	}

	// Browser download: credential in the query string, no header.
	rr := f.do(t, http.MethodGet, "/admin/export.csv?token="+f.cfg.AdminToken, "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("csv status=%d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
		t.Fatalf("content-type=%q", ct)
	}
	if !strings.Contains(rr.Body.String(), "Ada Lovelace") {
		t.Fatal("csv missing the record")
	}

	rr = f.do(t, http.MethodGet, "/admin/export.xlsx?token="+f.cfg.AdminToken, "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("xlsx status=%d", rr.Code)
	}
	cd := rr.Header().Get("Content-Disposition")
	if !strings.Contains(cd, "Attendance_") || !strings.Contains(cd, ".xlsx") {
		t.Fatalf("content-disposition=%q", cd)
	}
}

func TestQueryCredentialScopedToDownloads(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t)

	// Outside the export endpoints the token query parameter is not a
	// credential: it carries QR tokens.
	rr := f.do(t, http.MethodGet, "/admin/scans?token="+f.cfg.AdminToken, "", nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("scans with query credential status=%d want 401", rr.Code)
	}

	// On validate the parameter is interpreted as the QR token, never as the
	// role credential.
	rr = f.do(t, http.MethodGet, "/qr/validate?token="+f.cfg.UserToken, "", nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("validate without bearer status=%d want 401", rr.Code)
	}
}

func TestAdminReset(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t)
	issued := f.issue(t, "kiosk-1")
	if rr := f.do(t, http.MethodPost, "/scan", f.cfg.UserToken, scanBody(issued.Token)); rr.Code != http.StatusOK {
		t.Fatalf("scan status=%d", rr.Code)
	}

	rr := f.do(t, http.MethodPost, "/admin/reset", f.cfg.AdminToken, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("reset status=%d body=%s", rr.Code, rr.Body.String())
	}

	recs, err := f.ledger.List(context.Background(), scan.Query{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(recs) != 0 {
		t.Fatalf("records survived reset: %d", len(recs))
	}

	// The consumed-and-reissued token chain is gone too.
	rr = f.do(t, http.MethodPost, "/qr/validate", f.cfg.UserToken, map[string]string{"token": issued.Token})
	if rr.Code != http.StatusGone {
		t.Fatalf("validate after reset status=%d want 410", rr.Code)
	}
}

func TestCompanyAndDisplayAdmin(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t)

	rr := f.do(t, http.MethodPost, "/admin/companies", f.cfg.AdminToken, map[string]any{
		"name":          "Initech",
		"employeeCount": 42,
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("create company status=%d body=%s", rr.Code, rr.Body.String())
	}
	var created directory.Company
	decodeBody(t, rr, &created)
	if created.ID == "" || created.Name != "Initech" {
		t.Fatalf("company=%+v", created)
	}

	rr = f.do(t, http.MethodPost, "/admin/companies", f.cfg.AdminToken, map[string]any{"name": "  "})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("blank name status=%d", rr.Code)
	}

	rr = f.do(t, http.MethodPost, "/admin/displays", f.cfg.AdminToken, map[string]any{
		"id":        "lobby",
		"companyId": created.ID,
		"label":     "Lobby TV",
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("create display status=%d body=%s", rr.Code, rr.Body.String())
	}

	rr = f.do(t, http.MethodGet, "/admin/displays?companyId="+created.ID, f.cfg.AdminToken, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("list displays status=%d", rr.Code)
	}
	var displays struct {
		Displays []directory.Display `json:"displays"`
	}
	decodeBody(t, rr, &displays)
	if len(displays.Displays) != 1 || displays.Displays[0].Label != "Lobby TV" {
		t.Fatalf("displays=%+v", displays.Displays)
	}

	rr = f.do(t, http.MethodGet, "/admin/companies", f.cfg.AdminToken, nil)
	var companies struct {
		Companies []directory.Company `json:"companies"`
	}
	decodeBody(t, rr, &companies)
	if len(companies.Companies) != 1 {
		t.Fatalf("companies=%+v", companies.Companies)
	}
}

func TestQRImageEndpoint(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t)

	rr := f.do(t, http.MethodGet, "/qr/image?text=hello", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "image/png" {
		t.Fatalf("content-type=%q", ct)
	}
	if !bytes.HasPrefix(rr.Body.Bytes(), []byte("\x89PNG")) {
		t.Fatal("body is not a png")
	}

	rr = f.do(t, http.MethodGet, "/qr/image", "", nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("missing text status=%d", rr.Code)
	}
}

func TestConfigRoleTokens(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	tokens := cfg.RoleTokens()
	if !tokens.Match("admin", cfg.AdminToken) || !tokens.Match("display", cfg.DisplayToken) || !tokens.Match("user", cfg.UserToken) {
		t.Fatal("role tokens do not round-trip through the map")
	}

	// Sanity: the demo defaults exist but never collide across roles.
	if cfg.AdminToken == cfg.UserToken || cfg.AdminToken == cfg.DisplayToken {
		t.Fatal("role credentials must differ")
	}
}
