/*
handlers.go - HTTP API handlers for the karma economy daemon

PURPOSE:
  Exposes the karma engine via HTTP. Handles request/response shape, JSON
  serialization, and delegates everything else to domain logic.

ENDPOINTS:
  Webhooks:
    POST   /webhooks/events                     Inbound repository event

  Repos:
    GET    /api/repos/{repoID}/settings         Read economy settings
    PUT    /api/repos/{repoID}/settings         Update settings (admin only)
    GET    /api/repos/{repoID}/users/{userID}/balance   User balance
    GET    /api/repos/{repoID}/users/{userID}/history   Transfer history

  Operational:
    GET    /healthz                             Liveness
    GET    /metrics                             Prometheus metrics

REQUEST FLOW:
  1. Parse HTTP request
  2. Decode + structurally validate the body
  3. Call domain logic (engine, provisioner, ledger)
  4. Serialize response
  5. Map errors to status codes

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Malformed envelope, invalid event, invalid settings
  - 403: Settings update by a non-admin
  - 404: Unknown repo / user account
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
  - karma/engine.go: event processing
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/gitkarma/engine/gh"
	"github.com/gitkarma/engine/karma"
	"github.com/gitkarma/engine/ledger"
)

// eventTimeout bounds the end-to-end processing of one webhook delivery.
// The event source retries on timeout; idempotent ids make that safe.
const eventTimeout = 30 * time.Second

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine  *karma.Engine
	Records karma.RecordStore
	Ledger  *ledger.Ledger
	Caps    gh.CapabilityLookup
	Log     *zap.Logger
}

// NewHandler creates a handler wired to the given collaborators.
func NewHandler(engine *karma.Engine, records karma.RecordStore, l *ledger.Ledger, caps gh.CapabilityLookup, log *zap.Logger) *Handler {
	return &Handler{Engine: engine, Records: records, Ledger: l, Caps: caps, Log: log}
}

// =============================================================================
// WEBHOOKS
// =============================================================================

// ReceiveEvent decodes one kind-tagged event envelope and drives it
// through the engine synchronously.
func (h *Handler) ReceiveEvent(w http.ResponseWriter, r *http.Request) {
	var env EventEnvelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		h.writeError(w, http.StatusBadRequest, "malformed event envelope")
		return
	}

	ev, err := env.ToEvent()
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), eventTimeout)
	defer cancel()

	if err := h.Engine.Handle(ctx, ev); err != nil {
		if errors.Is(err, karma.ErrInvalidEvent) {
			h.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.Log.Error("event processing failed",
			zap.String("kind", string(ev.Kind())),
			zap.Uint64("repo_id", ev.Meta().RepoID),
			zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "event processing failed")
		return
	}

	h.writeJSON(w, http.StatusAccepted, map[string]string{"status": "processed"})
}

// =============================================================================
// SETTINGS
// =============================================================================

// GetSettings returns the repo's economy settings.
func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	repoID, ok := h.pathID(w, r, "repoID")
	if !ok {
		return
	}

	cfg, err := h.Records.GetRepoConfig(r.Context(), repoID)
	if err != nil {
		if errors.Is(err, karma.ErrRepoNotFound) {
			h.writeError(w, http.StatusNotFound, "repo not found")
			return
		}
		h.internalError(w, "get settings", err)
		return
	}

	h.writeJSON(w, http.StatusOK, settingsDTO(cfg))
}

// UpdateSettings applies a partial settings update after verifying the
// actor holds the admin capability on the repo.
func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	repoID, ok := h.pathID(w, r, "repoID")
	if !ok {
		return
	}

	var req UpdateSettingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "malformed settings payload")
		return
	}
	if req.ActorLogin == "" {
		h.writeError(w, http.StatusBadRequest, "missing actor_login")
		return
	}

	cfg, err := h.Records.GetRepoConfig(r.Context(), repoID)
	if err != nil {
		if errors.Is(err, karma.ErrRepoNotFound) {
			h.writeError(w, http.StatusNotFound, "repo not found")
			return
		}
		h.internalError(w, "get settings", err)
		return
	}

	repo := gh.RepoRef{Owner: cfg.RepoOwner, Name: cfg.RepoName}
	isAdmin, err := h.Caps.IsAdmin(r.Context(), repo, req.ActorLogin)
	if err != nil {
		h.internalError(w, "admin lookup", err)
		return
	}
	if !isAdmin {
		h.writeError(w, http.StatusForbidden, karma.ErrUnauthorized.Error())
		return
	}

	if err := applySettings(&cfg, req); err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	cfg.UpdatedAt = time.Now().UTC()

	if err := h.Records.PutRepoConfig(r.Context(), cfg); err != nil {
		h.internalError(w, "put settings", err)
		return
	}

	h.Log.Info("repo settings updated",
		zap.Uint64("repo_id", repoID),
		zap.String("actor", req.ActorLogin))
	h.writeJSON(w, http.StatusOK, settingsDTO(cfg))
}

// applySettings merges the non-nil fields of the request into cfg.
func applySettings(cfg *karma.RepoConfig, req UpdateSettingsRequest) error {
	setAmount := func(dst *int64, src *int64, name string) error {
		if src == nil {
			return nil
		}
		if *src < 0 {
			return errors.New(name + " must not be negative")
		}
		*dst = *src
		return nil
	}

	if err := setAmount(&cfg.InitialGrant, req.InitialGrant, "initial_grant"); err != nil {
		return err
	}
	if err := setAmount(&cfg.MergePenalty, req.MergePenalty, "merge_penalty"); err != nil {
		return err
	}
	if err := setAmount(&cfg.ReviewBonus, req.ReviewBonus, "review_bonus"); err != nil {
		return err
	}
	if err := setAmount(&cfg.CommentBonus, req.CommentBonus, "comment_bonus"); err != nil {
		return err
	}
	if err := setAmount(&cfg.ComplexityBonus, req.ComplexityBonus, "complexity_bonus"); err != nil {
		return err
	}
	if err := setAmount(&cfg.ComplexityThreshold, req.ComplexityThreshold, "complexity_threshold"); err != nil {
		return err
	}
	if err := setAmount(&cfg.TimelyReviewBonus, req.TimelyReviewBonus, "timely_review_bonus"); err != nil {
		return err
	}

	if req.Disabled != nil {
		cfg.Disabled = *req.Disabled
	}
	if req.ComplexityEnabled != nil {
		cfg.ComplexityEnabled = *req.ComplexityEnabled
	}
	if req.TimelyReviewEnabled != nil {
		cfg.TimelyReviewEnabled = *req.TimelyReviewEnabled
	}
	if req.AdminOverrideEnabled != nil {
		cfg.AdminOverrideEnabled = *req.AdminOverrideEnabled
	}
	if req.TimelyReviewWindow != nil {
		d, err := time.ParseDuration(*req.TimelyReviewWindow)
		if err != nil || d < 0 {
			return errors.New("invalid timely_review_window")
		}
		cfg.TimelyReviewWindow = d
	}
	if req.RecheckToken != nil {
		if *req.RecheckToken == "" {
			return errors.New("recheck_token must not be empty")
		}
		cfg.RecheckToken = *req.RecheckToken
	}
	if req.AdminRecheckToken != nil {
		if *req.AdminRecheckToken == "" {
			return errors.New("admin_recheck_token must not be empty")
		}
		cfg.AdminRecheckToken = *req.AdminRecheckToken
	}
	return nil
}

func settingsDTO(cfg karma.RepoConfig) RepoSettingsDTO {
	return RepoSettingsDTO{
		RepoID:               cfg.RepoID,
		RepoName:             cfg.RepoName,
		RepoOwner:            cfg.RepoOwner,
		Disabled:             cfg.Disabled,
		InitialGrant:         cfg.InitialGrant,
		MergePenalty:         cfg.MergePenalty,
		ReviewBonus:          cfg.ReviewBonus,
		CommentBonus:         cfg.CommentBonus,
		ComplexityBonus:      cfg.ComplexityBonus,
		ComplexityEnabled:    cfg.ComplexityEnabled,
		ComplexityThreshold:  cfg.ComplexityThreshold,
		TimelyReviewBonus:    cfg.TimelyReviewBonus,
		TimelyReviewWindow:   cfg.TimelyReviewWindow.String(),
		TimelyReviewEnabled:  cfg.TimelyReviewEnabled,
		AdminOverrideEnabled: cfg.AdminOverrideEnabled,
		RecheckToken:         cfg.RecheckToken,
		AdminRecheckToken:    cfg.AdminRecheckToken,
		UpdatedAt:            cfg.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

// =============================================================================
// BALANCES AND HISTORY
// =============================================================================

// GetBalance reports a user's balance within a repo economy. Users who
// never interacted with the repo read as not found; provisioning happens
// only through events.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	repoID, ok := h.pathID(w, r, "repoID")
	if !ok {
		return
	}
	userID, ok := h.pathID(w, r, "userID")
	if !ok {
		return
	}

	acct, err := h.Ledger.GetAccount(r.Context(), ledger.UserAccountID(userID, repoID))
	if err != nil {
		if errors.Is(err, ledger.ErrAccountNotFound) {
			h.writeError(w, http.StatusNotFound, "no account for user in this repo")
			return
		}
		h.internalError(w, "get balance", err)
		return
	}

	h.writeJSON(w, http.StatusOK, BalanceDTO{
		RepoID:  repoID,
		UserID:  userID,
		Balance: acct.Balance(),
	})
}

// GetHistory lists the user's ledger entries in the repo, oldest first.
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	repoID, ok := h.pathID(w, r, "repoID")
	if !ok {
		return
	}
	userID, ok := h.pathID(w, r, "userID")
	if !ok {
		return
	}

	accountID := ledger.UserAccountID(userID, repoID)
	if _, err := h.Ledger.GetAccount(r.Context(), accountID); err != nil {
		if errors.Is(err, ledger.ErrAccountNotFound) {
			h.writeError(w, http.StatusNotFound, "no account for user in this repo")
			return
		}
		h.internalError(w, "get history", err)
		return
	}

	transfers, err := h.Ledger.History(r.Context(), accountID)
	if err != nil {
		h.internalError(w, "get history", err)
		return
	}

	dtos := make([]TransferDTO, 0, len(transfers))
	for _, t := range transfers {
		dtos = append(dtos, TransferDTO{
			ID:            t.ID,
			DebitAccount:  t.DebitAccount,
			CreditAccount: t.CreditAccount,
			Amount:        t.Amount,
			Code:          t.Code.String(),
			CreatedAt:     t.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	h.writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// HELPERS
// =============================================================================

// Healthz is the liveness probe.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request, name string) (uint64, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, name), 10, 64)
	if err != nil || id == 0 {
		h.writeError(w, http.StatusBadRequest, "invalid "+name)
		return 0, false
	}
	return id, true
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.Log.Error("write response failed", zap.Error(err))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, msg string) {
	h.writeJSON(w, status, ErrorDTO{Error: msg})
}

func (h *Handler) internalError(w http.ResponseWriter, op string, err error) {
	h.Log.Error(op+" failed", zap.Error(err))
	h.writeError(w, http.StatusInternalServerError, "internal error")
}
