package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hazimsaleh/fatoora/audit"
	"github.com/hazimsaleh/fatoora/cert"
)

// maxBodySize bounds every JSON request body.
const maxBodySize = 1 << 20

// actorHeader names the caller for audit attribution.
const actorHeader = "X-Actor"

func actor(r *http.Request) string {
	if a := r.Header.Get(actorHeader); a != "" {
		return a
	}
	return "api"
}

func decodeJSON[T any](w http.ResponseWriter, r *http.Request, maxSize int64) (T, bool) {
	var req T
	r.Body = http.MaxBytesReader(w, r.Body, maxSize)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return req, false
		}
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return req, false
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		writeError(w, http.StatusBadRequest, "request body must contain a single JSON object")
		return req, false
	}
	return req, true
}

func parseCertType(s string) (cert.Type, error) {
	switch cert.Type(s) {
	case cert.TypeCompliance, cert.TypeProduction:
		return cert.Type(s), nil
	}
	return "", fmt.Errorf("unknown certificate type %q", s)
}

// Health handles GET /healthz.
func (a *API) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// CreateCertificate handles POST /orgs/{orgID}/certificates. Runs the full
// issuance flow against the tax authority and returns the redacted view of
// the stored certificate.
func (a *API) CreateCertificate(w http.ResponseWriter, r *http.Request) {
	orgID := chi.URLParam(r, "orgID")
	req, ok := decodeJSON[CreateCertificateRequest](w, r, maxBodySize)
	if !ok {
		return
	}
	if _, err := parseCertType(string(req.Type)); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	c, err := a.manager.CreateCertificate(r.Context(), orgID, req.Type, req.Subject, req.OTP, actor(r))
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, a.manager.Project(c))
}

// ListCertificates handles GET /orgs/{orgID}/certificates.
func (a *API) ListCertificates(w http.ResponseWriter, r *http.Request) {
	certs, err := a.manager.ListCertificates(chi.URLParam(r, "orgID"))
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ListCertificatesResponse{Certificates: certs})
}

// GetCertificate handles GET /orgs/{orgID}/certificates/{certID}.
func (a *API) GetCertificate(w http.ResponseWriter, r *http.Request) {
	p, err := a.manager.GetCertificate(chi.URLParam(r, "orgID"), chi.URLParam(r, "certID"))
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// ApproveCertificate handles POST /orgs/{orgID}/certificates/{certID}/approve.
func (a *API) ApproveCertificate(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJSON[ApproveCertificateRequest](w, r, maxBodySize)
	if !ok {
		return
	}
	c, err := a.manager.ApproveCertificate(r.Context(),
		chi.URLParam(r, "orgID"), chi.URLParam(r, "certID"), req.ValidFrom, req.ValidTo, actor(r))
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a.manager.Project(c))
}

// ActivateCertificate handles POST /orgs/{orgID}/certificates/{certID}/activate.
func (a *API) ActivateCertificate(w http.ResponseWriter, r *http.Request) {
	c, err := a.manager.ActivateCertificate(r.Context(),
		chi.URLParam(r, "orgID"), chi.URLParam(r, "certID"), actor(r))
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a.manager.Project(c))
}

// RevokeCertificate handles POST /orgs/{orgID}/certificates/{certID}/revoke.
func (a *API) RevokeCertificate(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJSON[RevokeCertificateRequest](w, r, maxBodySize)
	if !ok {
		return
	}
	c, err := a.manager.RevokeCertificate(r.Context(),
		chi.URLParam(r, "orgID"), chi.URLParam(r, "certID"), req.Reason, actor(r))
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a.manager.Project(c))
}

// CheckExpiry handles GET /orgs/{orgID}/certificates/{certID}/expiry.
func (a *API) CheckExpiry(w http.ResponseWriter, r *http.Request) {
	check, err := a.manager.CheckExpiry(chi.URLParam(r, "orgID"), chi.URLParam(r, "certID"))
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, check)
}

// RenewCertificate handles POST /orgs/{orgID}/certificates/{certID}/renew.
// Triggers the full rotation flow and returns the rotation record.
func (a *API) RenewCertificate(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJSON[RenewCertificateRequest](w, r, maxBodySize)
	if !ok {
		return
	}
	reason := req.Reason
	if reason == "" {
		reason = "manual renewal"
	}
	record, err := a.scheduler.RenewCertificate(r.Context(),
		chi.URLParam(r, "orgID"), chi.URLParam(r, "certID"), reason, actor(r))
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

// ListRotations handles GET /orgs/{orgID}/rotations.
func (a *API) ListRotations(w http.ResponseWriter, r *http.Request) {
	rotations, err := a.manager.ListRotations(chi.URLParam(r, "orgID"))
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ListRotationsResponse{Rotations: rotations})
}

// SignInvoice handles POST /orgs/{orgID}/invoices/sign. Returns the full
// signed artifact: canonical document, hashes, stamp and QR payload.
func (a *API) SignInvoice(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJSON[SignInvoiceRequest](w, r, maxBodySize)
	if !ok {
		return
	}
	if _, err := parseCertType(string(req.Type)); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	signed, err := a.signer.Sign(r.Context(), chi.URLParam(r, "orgID"), req.Type, &req.Invoice, actor(r))
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, signed)
}

// VerifyChain handles GET /orgs/{orgID}/chains/{certType}/verify.
func (a *API) VerifyChain(w http.ResponseWriter, r *http.Request) {
	certType, err := parseCertType(chi.URLParam(r, "certType"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	report, err := a.signer.VerifyChain(chi.URLParam(r, "orgID"), certType)
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// ListSigningRecords handles GET /orgs/{orgID}/chains/{certType}/records.
func (a *API) ListSigningRecords(w http.ResponseWriter, r *http.Request) {
	certType, err := parseCertType(chi.URLParam(r, "certType"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	records, err := a.signer.Records(chi.URLParam(r, "orgID"), certType)
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ListSigningRecordsResponse{Records: records})
}

// ListAudit handles GET /orgs/{orgID}/audit. Supports ?action= filtering and
// limit/offset pagination. Entry details stay internal; the DTO carries only
// the summary fields.
func (a *API) ListAudit(w http.ResponseWriter, r *http.Request) {
	entries, err := a.log.List(chi.URLParam(r, "orgID"), audit.Action(r.URL.Query().Get("action")))
	if err != nil {
		mapError(w, err)
		return
	}

	page := paginate(r, len(entries))
	dtos := make([]auditEntryDTO, 0, page.limit)
	for _, e := range entries[page.offset:page.end] {
		dtos = append(dtos, auditEntryDTO{
			ID:            e.ID,
			CertificateID: e.CertificateID,
			Action:        string(e.Action),
			PerformedBy:   e.PerformedBy,
			Success:       e.Success,
			ErrorMessage:  e.ErrorMessage,
			CreatedAt:     e.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, ListAuditResponse{Entries: dtos, Total: len(entries)})
}
