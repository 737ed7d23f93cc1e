package qr

import (
	"context"
	"errors"
	"strings"
	"time"

	"qrtrack/cmd/internal/scan"
)

// Scan payload bounds.
const (
	minTokenLen    = 8
	maxNameLen     = 200
	maxJobTitleLen = 200
	maxEmployeeLen = 100

	imageDataPrefix = "data:image/"
)

// ScanRequest is the inbound scan submission payload.
type ScanRequest struct {
	Token      string   `json:"token"`
	FullName   string   `json:"fullName"`
	JobTitle   string   `json:"jobTitle"`
	EmployeeID string   `json:"employeeId"`
	Type       string   `json:"type"`
	Lat        *float64 `json:"lat"`
	Lng        *float64 `json:"lng"`
	Accuracy   *float64 `json:"accuracy"`
	ImageData  string   `json:"imageData"`
}

// Validate normalizes the request in place and returns a *ValidationError
// listing every rejected field, or nil.
func (r *ScanRequest) Validate(maxImageBytes int) error {
	fields := make(map[string]string)

	r.Token = strings.TrimSpace(r.Token)
	r.FullName = strings.TrimSpace(r.FullName)
	r.JobTitle = strings.TrimSpace(r.JobTitle)
	r.EmployeeID = strings.TrimSpace(r.EmployeeID)
	r.Type = strings.TrimSpace(r.Type)

	if len(r.Token) < minTokenLen {
		fields["token"] = "required, min 8 chars"
	}
	if r.FullName == "" || len(r.FullName) > maxNameLen {
		fields["fullName"] = "required, max 200 chars"
	}
	if r.JobTitle == "" || len(r.JobTitle) > maxJobTitleLen {
		fields["jobTitle"] = "required, max 200 chars"
	}
	if r.EmployeeID == "" || len(r.EmployeeID) > maxEmployeeLen {
		fields["employeeId"] = "required, max 100 chars"
	}
	if r.Type != scan.TypeCheckIn && r.Type != scan.TypeCheckOut {
		fields["type"] = "must be check-in or check-out"
	}
	// Coordinates are pointers so that an absent field is distinguishable
	// from a legitimate zero (the equator exists).
	if r.Lat == nil {
		fields["lat"] = "required"
	}
	if r.Lng == nil {
		fields["lng"] = "required"
	}
	if r.Accuracy == nil {
		fields["accuracy"] = "required"
	}
	if r.ImageData != "" {
		if !strings.HasPrefix(r.ImageData, imageDataPrefix) {
			fields["imageData"] = "must be a data:image/ URL"
		} else if maxImageBytes > 0 && len(r.ImageData) > maxImageBytes {
			fields["imageData"] = "too large"
		}
	}

	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

func deref(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}

// Submit consumes a QR session and appends the scan record.
//
// Steps: validate payload, run the read-only check chain, win the single-use
// gate, snapshot the company name, append the ledger record, broadcast, and
// re-issue a fresh session for the display. Everything after the gate is
// best-effort from the scanner's point of view: the record is the source of
// truth, broadcasts and the re-issue may fail without undoing the scan.
func (s *Service) Submit(ctx context.Context, now time.Time, req ScanRequest) (scan.Record, error) {
	now = now.UTC()

	if req.Token == "" {
		s.metrics.ScanRejected(ErrTokenRequired.Error())
		return scan.Record{}, ErrTokenRequired
	}
	if err := req.Validate(s.cfg.MaxImageBytes); err != nil {
		s.metrics.ScanRejected(ErrInvalidPayload.Error())
		return scan.Record{}, err
	}

	sess, err := s.Validate(ctx, now, req.Token)
	if err != nil {
		s.metrics.ScanRejected(RejectReason(err))
		return scan.Record{}, err
	}

	// The gate: exactly one concurrent submitter transitions active -> used.
	gated, err := s.store.MarkUsed(ctx, now, req.Token)
	switch {
	case err == nil:
		sess = gated
	case errors.Is(err, ErrAlreadyUsed) && s.cfg.AllowMultiScan:
		// Multi-scan override: losing the gate is not fatal, the record is
		// still appended against the consumed session.
		sess = gated
	case errors.Is(err, ErrSessionNotFound):
		s.metrics.ScanRejected(ErrUnknownOrExpired.Error())
		return scan.Record{}, ErrUnknownOrExpired
	default:
		s.metrics.ScanRejected(RejectReason(err))
		return scan.Record{}, err
	}

	companyName := ""
	if sess.CompanyID != "" && s.companies != nil {
		name, err := s.companies.GetNameByID(ctx, sess.CompanyID)
		if err != nil {
			s.log.Error("qr.submit.company_lookup_fail", "company_id", sess.CompanyID, "err", err)
		} else {
			companyName = name
		}
	}

	rec := scan.Record{
		ID:          NewID(now),
		QRSessionID: sess.ID,
		DisplayID:   sess.DisplayID,
		CompanyID:   sess.CompanyID,
		FullName:    req.FullName,
		JobTitle:    req.JobTitle,
		EmployeeID:  req.EmployeeID,
		CompanyName: companyName,
		Type:        req.Type,
		Lat:         deref(req.Lat),
		Lng:         deref(req.Lng),
		Accuracy:    deref(req.Accuracy),
		Image:       req.ImageData,
		CreatedAt:   now,
	}

	stored, err := s.ledger.Append(ctx, now, rec)
	if err != nil {
		// The gate is already won; there is no rollback. A used session with
		// no record is the documented failure mode, preferable to a session
		// that can be scanned twice.
		s.log.Error("qr.submit.ledger_fail", "session_id", sess.ID, "err", err)
		return scan.Record{}, err
	}
	s.metrics.ScanRecorded(stored.Type)

	s.bus.Publish(displayGroup(sess.DisplayID), eventQRConsumed, consumedNotice{Token: sess.Token, At: now})
	s.bus.Publish(groupAdmin, eventScanLogged, stored)

	s.log.Info("qr.scan",
		"record_id", stored.ID,
		"session_id", sess.ID,
		"display_id", sess.DisplayID,
		"type", stored.Type,
	)

	// Keep the display scannable: mint the successor immediately.
	if _, _, err := s.Issue(ctx, now, sess.DisplayID, IssueOptions{CompanyID: sess.CompanyID, IssuedBy: sess.IssuedBy}); err != nil {
		s.log.Error("qr.submit.reissue_fail", "display_id", sess.DisplayID, "err", err)
	}

	return stored, nil
}
