package httpapi

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"qrtrack/cmd/internal/directory"
	"qrtrack/cmd/internal/qr"
	"qrtrack/cmd/internal/realtime"
	"qrtrack/cmd/internal/scan"
)

// Handler wires the HTTP endpoints to the lifecycle, ledger, and directory.
type Handler struct {
	log        *slog.Logger
	cfg        Config
	roleTokens realtime.RoleTokens

	lifecycle *qr.Service
	ledger    scan.Ledger
	companies directory.CompanyStore
	displays  directory.DisplayStore
}

// NewHandler constructs the API handler. All dependencies are required except
// the log.
func NewHandler(log *slog.Logger, cfg Config, lifecycle *qr.Service, ledger scan.Ledger, companies directory.CompanyStore, displays directory.DisplayStore) (*Handler, error) {
	if log == nil {
		log = slog.Default()
	}
	if lifecycle == nil || ledger == nil || companies == nil || displays == nil {
		return nil, errors.New("httpapi: nil dependency")
	}

	return &Handler{
		log:        log,
		cfg:        cfg,
		roleTokens: cfg.RoleTokens(),
		lifecycle:  lifecycle,
		ledger:     ledger,
		companies:  companies,
		displays:   displays,
	}, nil
}

// Register wires routes onto the provided mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}

	mux.HandleFunc("/health", h.handleHealth)
	mux.HandleFunc("/qr/image", requireMethod(http.MethodGet, h.handleQRImage))

	mux.HandleFunc("/qr/validate", h.requireRole(realtime.RoleUser, h.handleValidate))
	mux.HandleFunc("/scan", requireMethod(http.MethodPost, h.requireRole(realtime.RoleUser, h.handleScan)))

	// Admins may preview what a display is showing.
	mux.HandleFunc("/display/qr/current", requireMethod(http.MethodGet, h.requireAnyRole([]string{realtime.RoleDisplay, realtime.RoleAdmin}, h.handleDisplayCurrent)))

	mux.HandleFunc("/admin/qr", requireMethod(http.MethodPost, h.requireRole(realtime.RoleAdmin, h.handleAdminIssue)))
	mux.HandleFunc("/admin/scans", requireMethod(http.MethodGet, h.requireRole(realtime.RoleAdmin, h.handleAdminScans)))
	mux.HandleFunc("/admin/stats", requireMethod(http.MethodGet, h.requireRole(realtime.RoleAdmin, h.handleAdminStats)))
	mux.HandleFunc("/admin/export.csv", requireMethod(http.MethodGet, h.requireDownloadRole(realtime.RoleAdmin, h.handleExportCSV)))
	mux.HandleFunc("/admin/export.xlsx", requireMethod(http.MethodGet, h.requireDownloadRole(realtime.RoleAdmin, h.handleExportXLSX)))
	mux.HandleFunc("/admin/reset", requireMethod(http.MethodPost, h.requireRole(realtime.RoleAdmin, h.handleAdminReset)))
	mux.HandleFunc("/admin/companies", h.requireRole(realtime.RoleAdmin, h.handleCompanies))
	mux.HandleFunc("/admin/displays", h.requireRole(realtime.RoleAdmin, h.handleDisplays))
}

// ---- basics ----

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "at": time.Now().UTC()})
}

// handleQRImage renders arbitrary text as a QR PNG. Unauthenticated: it
// encodes only what the caller already has.
func (h *Handler) handleQRImage(w http.ResponseWriter, r *http.Request) {
	text := strings.TrimSpace(r.URL.Query().Get("text"))
	if text == "" {
		writeError(w, http.StatusBadRequest, "text_required", "text query parameter is required")
		return
	}

	png, err := qr.RenderPNG(text)
	if err != nil {
		h.log.Error("api.qr_image.render_fail", "err", err)
		writeError(w, http.StatusInternalServerError, "render_failed", "could not render QR code")
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(png)
}

// ---- session lifecycle ----

type issueRequest struct {
	DisplayID string `json:"displayId"`
	CompanyID string `json:"companyId"`
}

func (h *Handler) handleAdminIssue(w http.ResponseWriter, r *http.Request) {
	var req issueRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	displayID := strings.TrimSpace(req.DisplayID)
	if displayID == "" {
		displayID = realtime.DefaultDisplayID
	}

	ctx := r.Context()
	now := time.Now().UTC()

	if err := h.registerDisplay(r, displayID, req.CompanyID, now); err != nil {
		h.log.Error("api.admin_issue.display_fail", "display_id", displayID, "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "could not register display")
		return
	}

	payload, _, err := h.lifecycle.Issue(ctx, now, displayID, qr.IssueOptions{
		CompanyID: strings.TrimSpace(req.CompanyID),
		IssuedBy:  realtime.RoleAdmin,
	})
	if err != nil {
		h.log.Error("api.admin_issue.fail", "display_id", displayID, "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "could not issue session")
		return
	}

	writeJSON(w, http.StatusOK, payload)
}

func (h *Handler) handleDisplayCurrent(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	displayID := strings.TrimSpace(q.Get("displayId"))
	if displayID == "" {
		displayID = realtime.DefaultDisplayID
	}
	companyID := strings.TrimSpace(q.Get("companyId"))

	ctx := r.Context()
	now := time.Now().UTC()

	if err := h.registerDisplay(r, displayID, companyID, now); err != nil {
		h.log.Error("api.display_current.display_fail", "display_id", displayID, "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "could not register display")
		return
	}

	payload, err := h.lifecycle.CurrentForDisplay(ctx, now, displayID, qr.IssueOptions{
		CompanyID: companyID,
		IssuedBy:  realtime.RoleDisplay,
	})
	if err != nil {
		h.log.Error("api.display_current.fail", "display_id", displayID, "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "could not load session")
		return
	}

	writeJSON(w, http.StatusOK, payload)
}

// registerDisplay provisions a display row on first contact.
func (h *Handler) registerDisplay(r *http.Request, displayID, companyID string, now time.Time) error {
	_, err := h.displays.FindOrCreate(r.Context(), now, directory.Display{
		ID:        displayID,
		CompanyID: strings.TrimSpace(companyID),
		Label:     displayID,
	})
	return err
}

// ---- validation and submission ----

type validateRequest struct {
	Token string `json:"token"`
}

type scanFailure struct {
	OK     bool              `json:"ok"`
	Reason string            `json:"reason"`
	Fields map[string]string `json:"fields,omitempty"`
}

// scanStatus maps lifecycle errors onto HTTP statuses. The reason string in
// the body is the stable contract; the status is a convenience.
func scanStatus(err error) int {
	switch {
	case errors.Is(err, qr.ErrAlreadyUsed):
		return http.StatusConflict
	case errors.Is(err, qr.ErrUnknownOrExpired):
		return http.StatusGone
	case errors.Is(err, qr.ErrInvalidToken):
		return http.StatusUnauthorized
	case errors.Is(err, qr.ErrTokenRequired), errors.Is(err, qr.ErrInvalidPayload):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeScanFailure(w http.ResponseWriter, err error) {
	status := scanStatus(err)
	if status == http.StatusInternalServerError {
		h.log.Error("api.scan.fail", "err", err)
		writeJSON(w, status, scanFailure{OK: false, Reason: "server_error"})
		return
	}

	fail := scanFailure{OK: false, Reason: reasonOf(err)}
	var vErr *qr.ValidationError
	if errors.As(err, &vErr) {
		fail.Fields = vErr.Fields
	}
	writeJSON(w, status, fail)
}

// reasonOf collapses an error chain to its wire reason.
func reasonOf(err error) string {
	for _, sentinel := range []error{
		qr.ErrTokenRequired,
		qr.ErrUnknownOrExpired,
		qr.ErrAlreadyUsed,
		qr.ErrInvalidToken,
		qr.ErrInvalidPayload,
	} {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return "server_error"
}

// handleValidate accepts the QR token either as a query parameter (GET, the
// scanner app's pre-scan check) or as a JSON body (POST).
func (h *Handler) handleValidate(w http.ResponseWriter, r *http.Request) {
	var token string
	switch r.Method {
	case http.MethodGet:
		token = strings.TrimSpace(r.URL.Query().Get("token"))
	case http.MethodPost:
		var req validateRequest
		if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
			return
		}
		token = strings.TrimSpace(req.Token)
	default:
		w.Header().Set("Allow", "GET, POST")
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	if _, err := h.lifecycle.Validate(r.Context(), time.Now().UTC(), token); err != nil {
		h.writeScanFailure(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *Handler) handleScan(w http.ResponseWriter, r *http.Request) {
	var req qr.ScanRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	rec, err := h.lifecycle.Submit(r.Context(), time.Now().UTC(), req)
	if err != nil {
		h.writeScanFailure(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "record": rec})
}

// ---- dashboard queries ----

func (h *Handler) handleAdminScans(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit := 0
	if v := strings.TrimSpace(q.Get("limit")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		limit = n
	}

	recs, err := h.ledger.List(r.Context(), scan.Query{
		CompanyID: strings.TrimSpace(q.Get("companyId")),
		Search:    strings.TrimSpace(q.Get("search")),
		Limit:     limit,
	})
	if err != nil {
		h.log.Error("api.admin_scans.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "could not list scans")
		return
	}
	if recs == nil {
		recs = []scan.Record{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"scans": recs, "count": len(recs)})
}

func (h *Handler) handleAdminStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.ledger.Stats(r.Context(), time.Now(), strings.TrimSpace(r.URL.Query().Get("companyId")))
	if err != nil {
		h.log.Error("api.admin_stats.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "could not compute stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// ---- exports ----

// exportLimit bounds export size. Far above demo scale; a real cap would be
// paginated exports.
const exportLimit = 100_000

func (h *Handler) exportRecords(r *http.Request) ([]scan.Record, error) {
	return h.ledger.List(r.Context(), scan.Query{
		CompanyID: strings.TrimSpace(r.URL.Query().Get("companyId")),
		Limit:     exportLimit,
	})
}

func (h *Handler) handleExportCSV(w http.ResponseWriter, r *http.Request) {
	recs, err := h.exportRecords(r)
	if err != nil {
		h.log.Error("api.export_csv.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "could not export")
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="scans.csv"`)
	if err := scan.WriteCSV(w, recs); err != nil {
		h.log.Error("api.export_csv.write_fail", "err", err)
	}
}

func (h *Handler) handleExportXLSX(w http.ResponseWriter, r *http.Request) {
	recs, err := h.exportRecords(r)
	if err != nil {
		h.log.Error("api.export_xlsx.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "could not export")
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="`+scan.ExportFilenameXLSX(time.Now())+`"`)
	if err := scan.WriteXLSX(w, recs); err != nil {
		h.log.Error("api.export_xlsx.write_fail", "err", err)
	}
}

// ---- reset ----

type resetRequest struct {
	CompanyID string `json:"companyId"`
}

func (h *Handler) handleAdminReset(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if r.ContentLength > 0 {
		if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
			return
		}
	}

	if err := h.lifecycle.Reset(r.Context(), time.Now().UTC(), strings.TrimSpace(req.CompanyID)); err != nil {
		h.log.Error("api.admin_reset.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "could not reset")
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// ---- directory ----

type createCompanyRequest struct {
	Name          string `json:"name"`
	EmployeeCount int    `json:"employeeCount"`
	Logo          string `json:"logo"`
	LocationLabel string `json:"locationLabel"`
}

func (h *Handler) handleCompanies(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		list, err := h.companies.FindAll(r.Context())
		if err != nil {
			h.log.Error("api.companies.list_fail", "err", err)
			writeError(w, http.StatusInternalServerError, "server_error", "could not list companies")
			return
		}
		if list == nil {
			list = []directory.Company{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"companies": list})

	case http.MethodPost:
		var req createCompanyRequest
		if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
			return
		}
		if strings.TrimSpace(req.Name) == "" {
			writeError(w, http.StatusBadRequest, "invalid_request", "name is required")
			return
		}

		now := time.Now().UTC()
		c, err := h.companies.Create(r.Context(), now, directory.Company{
			ID:            qr.NewID(now),
			Name:          strings.TrimSpace(req.Name),
			EmployeeCount: req.EmployeeCount,
			Logo:          strings.TrimSpace(req.Logo),
			LocationLabel: strings.TrimSpace(req.LocationLabel),
		})
		if err != nil {
			h.log.Error("api.companies.create_fail", "err", err)
			writeError(w, http.StatusInternalServerError, "server_error", "could not create company")
			return
		}
		writeJSON(w, http.StatusCreated, c)

	default:
		w.Header().Set("Allow", "GET, POST")
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	}
}

type createDisplayRequest struct {
	ID        string `json:"id"`
	CompanyID string `json:"companyId"`
	Label     string `json:"label"`
}

func (h *Handler) handleDisplays(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		companyID := strings.TrimSpace(r.URL.Query().Get("companyId"))
		list, err := h.displays.FindByCompany(r.Context(), companyID)
		if err != nil {
			h.log.Error("api.displays.list_fail", "err", err)
			writeError(w, http.StatusInternalServerError, "server_error", "could not list displays")
			return
		}
		if list == nil {
			list = []directory.Display{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"displays": list})

	case http.MethodPost:
		var req createDisplayRequest
		if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
			return
		}

		now := time.Now().UTC()
		id := strings.TrimSpace(req.ID)
		if id == "" {
			id = qr.NewID(now)
		}
		label := strings.TrimSpace(req.Label)
		if label == "" {
			label = id
		}

		d, err := h.displays.Create(r.Context(), now, directory.Display{
			ID:        id,
			CompanyID: strings.TrimSpace(req.CompanyID),
			Label:     label,
		})
		if err != nil {
			h.log.Error("api.displays.create_fail", "err", err)
			writeError(w, http.StatusInternalServerError, "server_error", "could not create display")
			return
		}
		writeJSON(w, http.StatusCreated, d)

	default:
		w.Header().Set("Allow", "GET, POST")
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	}
}
