package routes

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/pokemon918/ntbl-api-sub003/gateway/auth"
	"github.com/pokemon918/ntbl-api-sub003/gateway/middleware"
	"github.com/pokemon918/ntbl-api-sub003/storage/identity"
)

type apiHandlers struct {
	identities *identity.Store
	logger     *slog.Logger
}

type profileResponse struct {
	Ref   string `json:"ref"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Admin bool   `json:"admin"`
}

func (h *apiHandlers) profile(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		middleware.WriteEnvelope(w, http.StatusUnauthorized, "authentication required", string(auth.CodeValidation), middleware.WhoParam)
		return
	}
	user, err := h.identities.UserByRef(r.Context(), principal.Ref)
	if err != nil {
		h.internalError(w, "load profile", err)
		return
	}
	writeJSON(w, http.StatusOK, profileResponse{
		Ref:   user.Ref,
		Name:  user.Name,
		Email: user.Email,
		Admin: user.Admin,
	})
}

type createTastingRequest struct {
	Name     string  `json:"name"`
	Producer string  `json:"producer"`
	Vintage  int     `json:"vintage"`
	Rating   float64 `json:"rating"`
	Notes    string  `json:"notes"`
}

func (h *apiHandlers) createTasting(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		middleware.WriteEnvelope(w, http.StatusUnauthorized, "authentication required", string(auth.CodeValidation), middleware.WhoParam)
		return
	}
	var req createTastingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteEnvelope(w, http.StatusBadRequest, "invalid JSON payload", "request.body", "body")
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		middleware.WriteEnvelope(w, http.StatusBadRequest, "name is required", "request.validation", "name")
		return
	}
	user, err := h.identities.UserByRef(r.Context(), principal.Ref)
	if err != nil {
		h.internalError(w, "load owner", err)
		return
	}
	tasting := identity.Tasting{
		OwnerID:  user.ID,
		TeamID:   user.TeamID,
		Name:     strings.TrimSpace(req.Name),
		Producer: strings.TrimSpace(req.Producer),
		Vintage:  req.Vintage,
		Rating:   req.Rating,
		Notes:    req.Notes,
	}
	if err := h.identities.CreateTasting(r.Context(), &tasting); err != nil {
		h.internalError(w, "create tasting", err)
		return
	}
	writeJSON(w, http.StatusCreated, tasting)
}

func (h *apiHandlers) listTastings(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		middleware.WriteEnvelope(w, http.StatusUnauthorized, "authentication required", string(auth.CodeValidation), middleware.WhoParam)
		return
	}
	user, err := h.identities.UserByRef(r.Context(), principal.Ref)
	if err != nil {
		h.internalError(w, "load owner", err)
		return
	}
	tastings, err := h.identities.TastingsByOwner(r.Context(), user.ID)
	if err != nil {
		h.internalError(w, "list tastings", err)
		return
	}
	writeJSON(w, http.StatusOK, tastings)
}

type impersonateRequest struct {
	UserRef string `json:"userRef"`
}

// impersonate is the privileged replay-override path: it loads an identity
// by literal reference with no signature checks. The gate refuses it unless
// the override flag is configured, and it is only mounted under /admin.
func (h *apiHandlers) impersonate(authMW *middleware.SignatureAuth) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req impersonateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			middleware.WriteEnvelope(w, http.StatusBadRequest, "invalid JSON payload", "request.body", "body")
			return
		}
		principal, err := authMW.Gate().AuthorizeOverride(r.Context(), req.UserRef)
		if err != nil {
			authMW.Refuse(w, err)
			return
		}
		writeJSON(w, http.StatusOK, profileResponse{Ref: principal.Ref, Admin: principal.Admin})
	}
}

func (h *apiHandlers) internalError(w http.ResponseWriter, action string, err error) {
	if errors.Is(err, auth.ErrIdentityNotFound) {
		middleware.WriteEnvelope(w, http.StatusUnauthorized, "no identity matches the supplied reference", string(auth.CodeNotFound), "user_ref")
		return
	}
	h.logger.Error(action, "error", err)
	middleware.WriteEnvelope(w, http.StatusInternalServerError, "internal error", "internal", "")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
