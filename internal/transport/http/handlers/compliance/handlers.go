package compliancehandler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"traindesk/internal/domain/auth"
	"traindesk/internal/domain/retention"
	"traindesk/internal/platform/jobs"
	"traindesk/internal/requestctx"
	"traindesk/internal/transport/http/api"
	"traindesk/internal/transport/http/middleware"
	"traindesk/internal/transport/http/shared"
)

type Handler struct {
	Store   retention.StoreAPI
	Auditor *retention.Auditor
	Issuer  *retention.Issuer
	Jobs    *jobs.Service
	Perms   middleware.PermissionStore
}

func NewHandler(store retention.StoreAPI, auditor *retention.Auditor, issuer *retention.Issuer, jobsSvc *jobs.Service, perms middleware.PermissionStore) *Handler {
	return &Handler{Store: store, Auditor: auditor, Issuer: issuer, Jobs: jobsSvc, Perms: perms}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/certificates", func(r chi.Router) {
		r.With(middleware.RequirePermission(auth.PermCertificatesRead, h.Perms)).Get("/", h.handleListCertificates)
		r.With(middleware.RequirePermission(auth.PermCertificatesRead, h.Perms)).Get("/{certID}", h.handleGetCertificate)
		r.With(middleware.RequirePermission(auth.PermCertificatesRead, h.Perms)).Get("/{certID}/pdf", h.handleCertificatePDF)
		r.With(middleware.RequirePermission(auth.PermCertificatesRead, h.Perms)).Get("/{certID}/verify", h.handleVerifyCertificate)
	})

	r.Route("/compliance", func(r chi.Router) {
		r.With(middleware.RequirePermission(auth.PermComplianceRead, h.Perms)).Get("/audits", h.handleListAudits)
		r.With(middleware.RequirePermission(auth.PermComplianceRun, h.Perms)).Post("/audits/run", h.handleRunAudits)
	})
}

func (h *Handler) handleListCertificates(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		unauthorized(w, r)
		return
	}
	page := shared.ParsePagination(r, 100, 500)
	certs, total, err := h.Store.ListCertificates(r.Context(), user.OrgID, page.Limit, page.Offset)
	if err != nil {
		api.Fail(w, http.StatusInternalServerError, "certificate_list_failed", "failed to list deletion certificates", requestctx.GetRequestID(r.Context()))
		return
	}
	w.Header().Set("X-Total-Count", strconv.Itoa(total))
	api.Success(w, certs, requestctx.GetRequestID(r.Context()))
}

func (h *Handler) certificate(w http.ResponseWriter, r *http.Request) (*retention.DeletionCertificate, bool) {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		unauthorized(w, r)
		return nil, false
	}
	cert, err := h.Store.GetCertificate(r.Context(), user.OrgID, chi.URLParam(r, "certID"))
	if err != nil {
		api.Fail(w, http.StatusNotFound, "certificate_not_found", "deletion certificate not found", requestctx.GetRequestID(r.Context()))
		return nil, false
	}
	return cert, true
}

func (h *Handler) handleGetCertificate(w http.ResponseWriter, r *http.Request) {
	cert, ok := h.certificate(w, r)
	if !ok {
		return
	}
	api.Success(w, cert, requestctx.GetRequestID(r.Context()))
}

func (h *Handler) handleCertificatePDF(w http.ResponseWriter, r *http.Request) {
	cert, ok := h.certificate(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", "attachment; filename="+cert.CertificateNumber+".pdf")
	if err := h.Issuer.RenderPDF(cert, w); err != nil {
		api.Fail(w, http.StatusInternalServerError, "certificate_render_failed", "failed to render certificate", requestctx.GetRequestID(r.Context()))
		return
	}
}

func (h *Handler) handleVerifyCertificate(w http.ResponseWriter, r *http.Request) {
	cert, ok := h.certificate(w, r)
	if !ok {
		return
	}
	api.Success(w, map[string]any{
		"certificateNumber": cert.CertificateNumber,
		"valid":             h.Issuer.Verify(cert),
		"validUntil":        cert.ValidUntil,
	}, requestctx.GetRequestID(r.Context()))
}

func (h *Handler) handleListAudits(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		unauthorized(w, r)
		return
	}
	page := shared.ParsePagination(r, 100, 500)
	audits, total, err := h.Store.ListAudits(r.Context(), user.OrgID, page.Limit, page.Offset)
	if err != nil {
		api.Fail(w, http.StatusInternalServerError, "audit_list_failed", "failed to list compliance audits", requestctx.GetRequestID(r.Context()))
		return
	}
	w.Header().Set("X-Total-Count", strconv.Itoa(total))
	api.Success(w, audits, requestctx.GetRequestID(r.Context()))
}

func (h *Handler) handleRunAudits(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		unauthorized(w, r)
		return
	}
	orgID := user.OrgID
	audits, err := h.Jobs.RunNow(r.Context(), jobs.JobComplianceAudit, orgID, func(ctx context.Context) (any, error) {
		return h.Auditor.AuditOrganisation(ctx, orgID)
	})
	if err != nil {
		api.Fail(w, http.StatusInternalServerError, "audit_run_failed", "failed to run compliance audits", requestctx.GetRequestID(r.Context()))
		return
	}
	api.Success(w, audits, requestctx.GetRequestID(r.Context()))
}

func unauthorized(w http.ResponseWriter, r *http.Request) {
	api.Fail(w, http.StatusUnauthorized, "unauthorized", "authentication required", requestctx.GetRequestID(r.Context()))
}
