package handlers

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/pribylovaa/comments-moderation/internal/models"
	apierrors "github.com/pribylovaa/comments-moderation/internal/transport/http/errors"
	"github.com/pribylovaa/comments-moderation/internal/transport/http/middleware"
)

// Approve и MarkSpam монтируются за middleware.RequireModerator.

func (h *Handlers) Approve(w http.ResponseWriter, r *http.Request) {
	h.moderate(w, r, h.Comments.Approve)
}

func (h *Handlers) MarkSpam(w http.ResponseWriter, r *http.Request) {
	h.moderate(w, r, h.Comments.MarkSpam)
}

func (h *Handlers) moderate(w http.ResponseWriter, r *http.Request, action func(context.Context, int64, uuid.UUID) (*models.Comment, error)) {
	id, err := commentID(r)
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	viewer := middleware.IdentityFrom(r.Context())

	c, err := action(r.Context(), id, viewer.UserID)
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, commentFromModel(c, viewer))
}
