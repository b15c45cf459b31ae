package handler

import (
	"net/http"

	"github.com/folio-cms/folio/internal/model"
	"github.com/folio-cms/folio/internal/owner"
)

// OwnerResponse is the public view of the resolved portfolio owner.
type OwnerResponse struct {
	Owner  model.Identity `json:"owner"`
	Source string         `json:"source"`
	Domain string         `json:"domain,omitempty"`
}

// PublicOwner handles GET /api/public/owner. It runs behind
// owner.Middleware, so a missing result means the route was mis-wired.
func PublicOwner(w http.ResponseWriter, r *http.Request) {
	result, ok := owner.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusInternalServerError, "Portfolio owner not configured")
		return
	}

	writeData(w, http.StatusOK, OwnerResponse{
		Owner:  result.Identity,
		Source: result.Source,
		Domain: result.Domain,
	})
}
