package handlers

import (
	"net/http"

	"github.com/pribylovaa/comments-moderation/internal/models"
	"github.com/pribylovaa/comments-moderation/internal/service"
	apierrors "github.com/pribylovaa/comments-moderation/internal/transport/http/errors"
	"github.com/pribylovaa/comments-moderation/internal/transport/http/middleware"
)

func requestMeta(r *http.Request) models.RequestMeta {
	return models.RequestMeta{
		IPAddress: middleware.ClientIP(r),
		UserAgent: r.UserAgent(),
	}
}

func (h *Handlers) CreateComment(w http.ResponseWriter, r *http.Request) {
	post, err := postID(r)
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	var in CreateCommentRequest
	if err := decodeStrict(w, r, &in); err != nil {
		apierrors.WriteError(w, r, apierrors.ErrBadRequest)
		return
	}

	viewer := middleware.IdentityFrom(r.Context())

	c, err := h.Comments.CreateComment(r.Context(), service.CreateCommentInput{
		PostID:        post,
		ParentID:      in.ParentID,
		Content:       in.Content,
		Identity:      viewer,
		GuestName:     in.GuestName,
		GuestEmail:    in.GuestEmail,
		GuestPassword: in.GuestPassword,
		Meta:          requestMeta(r),
	})
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, commentFromModel(c, viewer))
}

func (h *Handlers) ListTree(w http.ResponseWriter, r *http.Request) {
	post, err := postID(r)
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	viewer := middleware.IdentityFrom(r.Context())

	nodes, err := h.Comments.ListTree(r.Context(), post, viewer)
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, TreeResponse{
		PostID:   post.String(),
		Comments: nodesFromModel(nodes, viewer),
	})
}

func (h *Handlers) GetComment(w http.ResponseWriter, r *http.Request) {
	id, err := commentID(r)
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	viewer := middleware.IdentityFrom(r.Context())

	c, err := h.Comments.CommentByID(r.Context(), id, viewer)
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, commentFromModel(c, viewer))
}

func (h *Handlers) UpdateComment(w http.ResponseWriter, r *http.Request) {
	id, err := commentID(r)
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	var in UpdateCommentRequest
	if err := decodeStrict(w, r, &in); err != nil {
		apierrors.WriteError(w, r, apierrors.ErrBadRequest)
		return
	}

	viewer := middleware.IdentityFrom(r.Context())

	c, err := h.Comments.UpdateComment(r.Context(), service.UpdateCommentInput{
		ID:        id,
		Content:   in.Content,
		Version:   in.Version,
		Requester: service.Requester{Identity: viewer, GuestPassword: in.GuestPassword},
		Meta:      requestMeta(r),
	})
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, commentFromModel(c, viewer))
}

func (h *Handlers) DeleteComment(w http.ResponseWriter, r *http.Request) {
	id, err := commentID(r)
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	var in DeleteCommentRequest
	if err := decodeOptional(w, r, &in); err != nil {
		apierrors.WriteError(w, r, apierrors.ErrBadRequest)
		return
	}

	err = h.Comments.DeleteComment(r.Context(), id, service.Requester{
		Identity:      middleware.IdentityFrom(r.Context()),
		GuestPassword: in.GuestPassword,
	})
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
