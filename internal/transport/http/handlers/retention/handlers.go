package retentionhandler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"traindesk/internal/domain/audit"
	"traindesk/internal/domain/auth"
	"traindesk/internal/domain/retention"
	cryptoutil "traindesk/internal/platform/crypto"
	"traindesk/internal/platform/jobs"
	"traindesk/internal/requestctx"
	"traindesk/internal/transport/http/api"
	"traindesk/internal/transport/http/middleware"
	"traindesk/internal/transport/http/shared"
)

type Handler struct {
	Store  retention.StoreAPI
	Engine *retention.Engine
	Jobs   *jobs.Service
	Audit  *audit.Service
	Keys   *cryptoutil.KeyStore
	Idem   *middleware.IdempotencyStore
	Perms  middleware.PermissionStore
}

func NewHandler(store retention.StoreAPI, engine *retention.Engine, jobsSvc *jobs.Service, auditSvc *audit.Service, keys *cryptoutil.KeyStore, idem *middleware.IdempotencyStore, perms middleware.PermissionStore) *Handler {
	return &Handler{Store: store, Engine: engine, Jobs: jobsSvc, Audit: auditSvc, Keys: keys, Idem: idem, Perms: perms}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/retention", func(r chi.Router) {
		r.Route("/policies", func(r chi.Router) {
			r.With(middleware.RequirePermission(auth.PermPoliciesRead, h.Perms)).Get("/", h.handleListPolicies)
			r.With(middleware.RequirePermission(auth.PermPoliciesWrite, h.Perms)).Post("/", h.handleCreatePolicy)
			r.With(middleware.RequirePermission(auth.PermPoliciesRead, h.Perms)).Get("/{policyID}", h.handleGetPolicy)
			r.With(middleware.RequirePermission(auth.PermPoliciesWrite, h.Perms)).Put("/{policyID}", h.handleUpdatePolicy)
			r.With(middleware.RequirePermission(auth.PermPoliciesWrite, h.Perms)).Delete("/{policyID}", h.handleDeletePolicy)
		})

		r.Route("/records", func(r chi.Router) {
			r.With(middleware.RequirePermission(auth.PermRecordsRead, h.Perms)).Get("/", h.handleListRecords)
			r.With(middleware.RequirePermission(auth.PermRecordsReview, h.Perms)).Post("/", h.handleRegisterRecord)
			r.With(middleware.RequirePermission(auth.PermRecordsRead, h.Perms)).Get("/{recordID}", h.handleGetRecord)
			r.With(middleware.RequirePermission(auth.PermRecordsReview, h.Perms)).Post("/{recordID}/approve", h.handleApprove)
			r.With(middleware.RequirePermission(auth.PermRecordsReview, h.Perms)).Post("/{recordID}/reject", h.handleReject)
			r.With(middleware.RequirePermission(auth.PermRecordsHold, h.Perms)).Post("/{recordID}/freeze", h.handleFreeze)
			r.With(middleware.RequirePermission(auth.PermRecordsHold, h.Perms)).Post("/{recordID}/unfreeze", h.handleUnfreeze)
			r.With(middleware.RequirePermission(auth.PermRecordsHold, h.Perms)).Post("/{recordID}/archive", h.handleArchive)
			r.With(middleware.RequirePermission(auth.PermRecordsHold, h.Perms)).Post("/{recordID}/unarchive", h.handleUnarchive)
		})

		r.With(middleware.RequirePermission(auth.PermEventsTrigger, h.Perms)).Post("/events", h.handleTriggerEvent)
		r.With(middleware.RequirePermission(auth.PermSweepRun, h.Perms)).Post("/sweep/run", h.handleRunSweep)
	})
}

type policyRequest struct {
	DataType             string `json:"dataType"`
	RetentionDays        int    `json:"retentionDays"`
	GraceDays            int    `json:"graceDays"`
	DeletionMethod       string `json:"deletionMethod"`
	EraseMethod          string `json:"eraseMethod"`
	TriggerType          string `json:"triggerType"`
	LegalBasis           string `json:"legalBasis"`
	Priority             int    `json:"priority"`
	Enabled              *bool  `json:"enabled"`
	AutomaticDeletion    *bool  `json:"automaticDeletion"`
	RequiresManualReview bool   `json:"requiresManualReview"`
}

var deletionMethods = []string{retention.DeletionMethodSoft, retention.DeletionMethodHard}

var eraseMethods = []string{
	retention.EraseSimpleDelete,
	retention.EraseOverwriteSingle,
	retention.EraseOverwriteMultiple,
	retention.EraseCryptoErase,
	retention.ErasePhysicalDestruction,
}

var triggerTypes = []string{
	retention.TriggerTimeBased,
	retention.TriggerEventBased,
	retention.TriggerConsentWithdrawal,
	retention.TriggerAccountDeletion,
	retention.TriggerContractTermination,
	retention.TriggerManualRequest,
	retention.TriggerLegalObligation,
}

func (p policyRequest) validate(v *shared.Validator) {
	v.Required("dataType", p.DataType, "dataType is required")
	v.Enum("dataType", p.DataType, retention.DataTypes, "dataType is not a governed data type")
	if p.RetentionDays <= 0 {
		v.Add("retentionDays", "must be a positive number of days")
	}
	if p.GraceDays < 0 {
		v.Add("graceDays", "must not be negative")
	}
	v.Required("deletionMethod", p.DeletionMethod, "deletionMethod is required")
	v.Enum("deletionMethod", p.DeletionMethod, deletionMethods, "must be soft or hard")
	v.Required("eraseMethod", p.EraseMethod, "eraseMethod is required")
	v.Enum("eraseMethod", p.EraseMethod, eraseMethods, "unknown erase method")
	v.Required("triggerType", p.TriggerType, "triggerType is required")
	v.Enum("triggerType", p.TriggerType, triggerTypes, "unknown trigger type")
}

func (p policyRequest) toPolicy(orgID string) retention.RetentionPolicy {
	enabled := true
	if p.Enabled != nil {
		enabled = *p.Enabled
	}
	automatic := true
	if p.AutomaticDeletion != nil {
		automatic = *p.AutomaticDeletion
	}
	return retention.RetentionPolicy{
		OrgID:                orgID,
		DataType:             p.DataType,
		RetentionDays:        p.RetentionDays,
		GraceDays:            p.GraceDays,
		DeletionMethod:       p.DeletionMethod,
		EraseMethod:          p.EraseMethod,
		TriggerType:          p.TriggerType,
		LegalBasis:           p.LegalBasis,
		Priority:             p.Priority,
		Enabled:              enabled,
		AutomaticDeletion:    automatic,
		RequiresManualReview: p.RequiresManualReview,
	}
}

func (h *Handler) handleListPolicies(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		unauthorized(w, r)
		return
	}
	policies, err := h.Store.ListPolicies(r.Context(), user.OrgID)
	if err != nil {
		api.Fail(w, http.StatusInternalServerError, "policy_list_failed", "failed to list retention policies", requestctx.GetRequestID(r.Context()))
		return
	}
	api.Success(w, policies, requestctx.GetRequestID(r.Context()))
}

func (h *Handler) handleCreatePolicy(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		unauthorized(w, r)
		return
	}
	var payload policyRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		api.Fail(w, http.StatusBadRequest, "invalid_payload", "invalid request payload", requestctx.GetRequestID(r.Context()))
		return
	}
	v := shared.NewValidator()
	payload.validate(v)
	if v.Reject(w, requestctx.GetRequestID(r.Context())) {
		return
	}

	policy := payload.toPolicy(user.OrgID)
	id, err := h.Store.CreatePolicy(r.Context(), policy)
	if err != nil {
		api.Fail(w, http.StatusInternalServerError, "policy_create_failed", "failed to create retention policy", requestctx.GetRequestID(r.Context()))
		return
	}
	policy.ID = id
	h.recordAudit(r, user, "retention.policy.created", "retention_policy", id, nil, policy)
	api.Created(w, policy, requestctx.GetRequestID(r.Context()))
}

func (h *Handler) handleGetPolicy(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		unauthorized(w, r)
		return
	}
	policy, err := h.Store.GetPolicy(r.Context(), user.OrgID, chi.URLParam(r, "policyID"))
	if err != nil {
		api.Fail(w, http.StatusNotFound, "policy_not_found", "retention policy not found", requestctx.GetRequestID(r.Context()))
		return
	}
	api.Success(w, policy, requestctx.GetRequestID(r.Context()))
}

func (h *Handler) handleUpdatePolicy(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		unauthorized(w, r)
		return
	}
	policyID := chi.URLParam(r, "policyID")
	existing, err := h.Store.GetPolicy(r.Context(), user.OrgID, policyID)
	if err != nil {
		api.Fail(w, http.StatusNotFound, "policy_not_found", "retention policy not found", requestctx.GetRequestID(r.Context()))
		return
	}

	var payload policyRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		api.Fail(w, http.StatusBadRequest, "invalid_payload", "invalid request payload", requestctx.GetRequestID(r.Context()))
		return
	}
	v := shared.NewValidator()
	payload.validate(v)
	if v.Reject(w, requestctx.GetRequestID(r.Context())) {
		return
	}

	policy := payload.toPolicy(user.OrgID)
	policy.ID = policyID
	if err := h.Store.UpdatePolicy(r.Context(), policy); err != nil {
		api.Fail(w, http.StatusInternalServerError, "policy_update_failed", "failed to update retention policy", requestctx.GetRequestID(r.Context()))
		return
	}
	h.recordAudit(r, user, "retention.policy.updated", "retention_policy", policyID, existing, policy)
	api.Success(w, policy, requestctx.GetRequestID(r.Context()))
}

func (h *Handler) handleDeletePolicy(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		unauthorized(w, r)
		return
	}
	policyID := chi.URLParam(r, "policyID")
	existing, err := h.Store.GetPolicy(r.Context(), user.OrgID, policyID)
	if err != nil {
		api.Fail(w, http.StatusNotFound, "policy_not_found", "retention policy not found", requestctx.GetRequestID(r.Context()))
		return
	}
	if err := h.Store.DeletePolicy(r.Context(), user.OrgID, policyID); err != nil {
		api.Fail(w, http.StatusInternalServerError, "policy_delete_failed", "failed to delete retention policy", requestctx.GetRequestID(r.Context()))
		return
	}
	h.recordAudit(r, user, "retention.policy.deleted", "retention_policy", policyID, existing, nil)
	api.Success(w, map[string]string{"status": "deleted"}, requestctx.GetRequestID(r.Context()))
}

func (h *Handler) handleListRecords(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		unauthorized(w, r)
		return
	}
	page := shared.ParsePagination(r, 100, 500)
	filter := retention.RecordFilter{
		State:    r.URL.Query().Get("state"),
		DataType: r.URL.Query().Get("dataType"),
	}
	records, total, err := h.Store.ListRecords(r.Context(), user.OrgID, filter, page.Limit, page.Offset)
	if err != nil {
		api.Fail(w, http.StatusInternalServerError, "record_list_failed", "failed to list lifecycle records", requestctx.GetRequestID(r.Context()))
		return
	}
	w.Header().Set("X-Total-Count", strconv.Itoa(total))
	api.Success(w, records, requestctx.GetRequestID(r.Context()))
}

func (h *Handler) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		unauthorized(w, r)
		return
	}
	rec, err := h.Store.GetRecord(r.Context(), user.OrgID, chi.URLParam(r, "recordID"))
	if err != nil {
		api.Fail(w, http.StatusNotFound, "record_not_found", "lifecycle record not found", requestctx.GetRequestID(r.Context()))
		return
	}
	api.Success(w, rec, requestctx.GetRequestID(r.Context()))
}

type registerRequest struct {
	DataType      string `json:"dataType"`
	ResourceID    string `json:"resourceId"`
	UserID        string `json:"userId"`
	DataCreatedAt string `json:"dataCreatedAt"`
}

// handleRegisterRecord places a governed resource under lifecycle management
// ahead of the sweep's adoption pass. Crypto-erasable resources get their
// data key minted here so field-level ciphertext is erasable from day one.
func (h *Handler) handleRegisterRecord(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		unauthorized(w, r)
		return
	}
	var payload registerRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		api.Fail(w, http.StatusBadRequest, "invalid_payload", "invalid request payload", requestctx.GetRequestID(r.Context()))
		return
	}
	v := shared.NewValidator()
	v.Required("dataType", payload.DataType, "dataType is required")
	v.Enum("dataType", payload.DataType, retention.DataTypes, "dataType is not a governed data type")
	v.Required("resourceId", payload.ResourceID, "resourceId is required")
	var createdAt time.Time
	if payload.DataCreatedAt != "" {
		createdAt, _ = v.Date("dataCreatedAt", payload.DataCreatedAt)
	}
	if v.Reject(w, requestctx.GetRequestID(r.Context())) {
		return
	}

	rec, err := h.Engine.Observe(r.Context(), user.OrgID, payload.DataType, payload.ResourceID, payload.UserID, createdAt)
	if err != nil {
		api.Fail(w, http.StatusBadRequest, "register_failed", err.Error(), requestctx.GetRequestID(r.Context()))
		return
	}

	if h.Keys != nil && rec.EraseMethod == retention.EraseCryptoErase {
		if _, err := h.Keys.EnsureKey(r.Context(), user.OrgID, rec.ResourceTable, rec.ResourceID); err != nil {
			slog.Warn("record key mint failed", "resourceId", rec.ResourceID, "err", err)
		}
	}

	h.recordAudit(r, user, "retention.record.registered", "lifecycle_record", rec.ID, nil, rec)
	api.Created(w, rec, requestctx.GetRequestID(r.Context()))
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) handleApprove(w http.ResponseWriter, r *http.Request) {
	h.recordAction(w, r, "retention.record.approved", func(user auth.UserContext, recordID string, _ string) (*retention.LifecycleRecord, error) {
		return h.Engine.ApproveReview(r.Context(), user.OrgID, recordID, user.UserID)
	}, false)
}

func (h *Handler) handleReject(w http.ResponseWriter, r *http.Request) {
	h.recordAction(w, r, "retention.record.rejected", func(user auth.UserContext, recordID, reason string) (*retention.LifecycleRecord, error) {
		return h.Engine.RejectReview(r.Context(), user.OrgID, recordID, user.UserID, reason)
	}, true)
}

func (h *Handler) handleFreeze(w http.ResponseWriter, r *http.Request) {
	h.recordAction(w, r, "retention.record.frozen", func(user auth.UserContext, recordID, reason string) (*retention.LifecycleRecord, error) {
		return h.Engine.Freeze(r.Context(), user.OrgID, recordID, reason)
	}, true)
}

func (h *Handler) handleUnfreeze(w http.ResponseWriter, r *http.Request) {
	h.recordAction(w, r, "retention.record.unfrozen", func(user auth.UserContext, recordID, _ string) (*retention.LifecycleRecord, error) {
		return h.Engine.Unfreeze(r.Context(), user.OrgID, recordID, user.UserID)
	}, false)
}

func (h *Handler) handleArchive(w http.ResponseWriter, r *http.Request) {
	h.recordAction(w, r, "retention.record.archived", func(user auth.UserContext, recordID, reason string) (*retention.LifecycleRecord, error) {
		return h.Engine.Archive(r.Context(), user.OrgID, recordID, reason)
	}, true)
}

func (h *Handler) handleUnarchive(w http.ResponseWriter, r *http.Request) {
	h.recordAction(w, r, "retention.record.unarchived", func(user auth.UserContext, recordID, _ string) (*retention.LifecycleRecord, error) {
		return h.Engine.Unarchive(r.Context(), user.OrgID, recordID, user.UserID)
	}, false)
}

func (h *Handler) recordAction(w http.ResponseWriter, r *http.Request, action string, run func(user auth.UserContext, recordID, reason string) (*retention.LifecycleRecord, error), reasonRequired bool) {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		unauthorized(w, r)
		return
	}
	recordID := chi.URLParam(r, "recordID")

	var payload reasonRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&payload)
	}
	if reasonRequired && payload.Reason == "" {
		api.Fail(w, http.StatusBadRequest, "reason_required", "a reason is required for this action", requestctx.GetRequestID(r.Context()))
		return
	}

	rec, err := run(user, recordID, payload.Reason)
	if err != nil {
		switch {
		case errors.Is(err, retention.ErrRecordNotFound):
			api.Fail(w, http.StatusNotFound, "record_not_found", "lifecycle record not found", requestctx.GetRequestID(r.Context()))
		case errors.Is(err, retention.ErrInvalidTransition):
			api.Fail(w, http.StatusConflict, "invalid_transition", "record state does not allow this action", requestctx.GetRequestID(r.Context()))
		default:
			api.Fail(w, http.StatusInternalServerError, "record_action_failed", "failed to apply record action", requestctx.GetRequestID(r.Context()))
		}
		return
	}
	h.recordAudit(r, user, action, "lifecycle_record", recordID, nil, map[string]string{"state": rec.State, "reason": payload.Reason})
	api.Success(w, rec, requestctx.GetRequestID(r.Context()))
}

type eventRequest struct {
	DataType string `json:"dataType"`
	UserID   string `json:"userId"`
	Trigger  string `json:"trigger"`
	Reason   string `json:"reason"`
}

var eventTriggers = []string{
	retention.TriggerConsentWithdrawal,
	retention.TriggerAccountDeletion,
	retention.TriggerContractTermination,
	retention.TriggerManualRequest,
	retention.TriggerLegalObligation,
	retention.TriggerEventBased,
}

func (h *Handler) handleTriggerEvent(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		unauthorized(w, r)
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		api.Fail(w, http.StatusBadRequest, "invalid_payload", "invalid request payload", requestctx.GetRequestID(r.Context()))
		return
	}

	idemKey := r.Header.Get("Idempotency-Key")
	requestHash := middleware.RequestHash(body)
	if idemKey != "" {
		stored, found, err := h.Idem.Check(r.Context(), user.OrgID, user.UserID, "retention.events", idemKey, requestHash)
		if err != nil {
			if errors.Is(err, middleware.ErrIdempotencyConflict) {
				api.Fail(w, http.StatusConflict, "idempotency_conflict", "idempotency key was used with a different payload", requestctx.GetRequestID(r.Context()))
				return
			}
			api.Fail(w, http.StatusInternalServerError, "idempotency_check_failed", "failed to check idempotency key", requestctx.GetRequestID(r.Context()))
			return
		}
		if found {
			var replay any
			_ = json.Unmarshal(stored, &replay)
			api.Success(w, replay, requestctx.GetRequestID(r.Context()))
			return
		}
	}

	var payload eventRequest
	if err := json.Unmarshal(body, &payload); err != nil {
		api.Fail(w, http.StatusBadRequest, "invalid_payload", "invalid request payload", requestctx.GetRequestID(r.Context()))
		return
	}
	v := shared.NewValidator()
	v.Required("dataType", payload.DataType, "dataType is required")
	v.Enum("dataType", payload.DataType, retention.DataTypes, "dataType is not a governed data type")
	v.Required("trigger", payload.Trigger, "trigger is required")
	v.Enum("trigger", payload.Trigger, eventTriggers, "not an event trigger")
	if v.Reject(w, requestctx.GetRequestID(r.Context())) {
		return
	}

	affected, err := h.Engine.TriggerEvent(r.Context(), retention.EventRequest{
		OrgID:    user.OrgID,
		UserID:   payload.UserID,
		DataType: payload.DataType,
		Trigger:  payload.Trigger,
		Reason:   payload.Reason,
	})
	if err != nil {
		if errors.Is(err, retention.ErrPolicyNotFound) {
			api.Fail(w, http.StatusConflict, "no_policy", "no enabled retention policy covers this data type", requestctx.GetRequestID(r.Context()))
			return
		}
		api.Fail(w, http.StatusBadRequest, "event_rejected", err.Error(), requestctx.GetRequestID(r.Context()))
		return
	}
	h.recordAudit(r, user, "retention.event.triggered", "retention_event", payload.DataType, nil, map[string]any{
		"trigger": payload.Trigger, "userId": payload.UserID, "affected": affected,
	})
	result := map[string]any{"affected": affected}
	if idemKey != "" {
		response, _ := json.Marshal(result)
		if err := h.Idem.Save(r.Context(), user.OrgID, user.UserID, "retention.events", idemKey, requestHash, response); err != nil {
			slog.Warn("idempotency save failed", "key", idemKey, "err", err)
		}
	}
	api.Success(w, result, requestctx.GetRequestID(r.Context()))
}

func (h *Handler) handleRunSweep(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		unauthorized(w, r)
		return
	}
	orgID := user.OrgID
	results, err := h.Jobs.RunNow(r.Context(), jobs.JobRetentionSweep, orgID, func(ctx context.Context) (any, error) {
		return h.Engine.SweepOrganisation(ctx, orgID)
	})
	if err != nil {
		api.Fail(w, http.StatusInternalServerError, "sweep_failed", "retention sweep failed", requestctx.GetRequestID(r.Context()))
		return
	}
	h.recordAudit(r, user, "retention.sweep.run", "organisation", orgID, nil, nil)
	api.Success(w, results, requestctx.GetRequestID(r.Context()))
}

func (h *Handler) recordAudit(r *http.Request, user auth.UserContext, action, entityType, entityID string, before, after any) {
	if h.Audit == nil {
		return
	}
	if err := h.Audit.Record(r.Context(), user.OrgID, user.UserID, action, entityType, entityID, requestctx.GetRequestID(r.Context()), r.RemoteAddr, before, after); err != nil {
		slog.Warn("audit record failed", "action", action, "err", err)
	}
}

func unauthorized(w http.ResponseWriter, r *http.Request) {
	api.Fail(w, http.StatusUnauthorized, "unauthorized", "authentication required", requestctx.GetRequestID(r.Context()))
}
