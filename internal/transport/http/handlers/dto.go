package handlers

import (
	"time"

	"github.com/pribylovaa/comments-moderation/internal/models"
)

// CreateCommentRequest - тело POST /posts/{post_id}/comments.
// Гостевые поля игнорируются для аутентифицированного запроса.
type CreateCommentRequest struct {
	ParentID      *int64 `json:"parent_id,omitempty"`
	Content       string `json:"content"`
	GuestName     string `json:"guest_name,omitempty"`
	GuestEmail    string `json:"guest_email,omitempty"`
	GuestPassword string `json:"guest_password,omitempty"`
}

// UpdateCommentRequest - тело PATCH /comments/{id}.
type UpdateCommentRequest struct {
	Content       string `json:"content"`
	Version       int64  `json:"version,omitempty"`
	GuestPassword string `json:"guest_password,omitempty"`
}

// DeleteCommentRequest - необязательное тело DELETE /comments/{id} (для гостя).
type DeleteCommentRequest struct {
	GuestPassword string `json:"guest_password,omitempty"`
}

// AuthorResponse - публичные данные автора. E-mail и хэш пароля гостя наружу не отдаются.
type AuthorResponse struct {
	Kind   string `json:"kind"`
	UserID string `json:"user_id,omitempty"`
	Name   string `json:"name"`
}

// CommentResponse - комментарий в ответах API.
type CommentResponse struct {
	ID          int64                  `json:"id"`
	PostID      string                 `json:"post_id"`
	ParentID    *int64                 `json:"parent_id,omitempty"`
	Depth       int32                  `json:"depth"`
	Author      *AuthorResponse        `json:"author,omitempty"`
	Content     string                 `json:"content"`
	ContentHTML string                 `json:"content_html"`
	Links       []string               `json:"links"`
	LinkPreview *models.LinkPreview    `json:"link_preview,omitempty"`
	Status      string                 `json:"status"`
	Spam        *models.SpamAssessment `json:"spam,omitempty"`
	Version     int64                  `json:"version"`
	CreatedAt   time.Time              `json:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at"`
	ApprovedAt  *time.Time             `json:"approved_at,omitempty"`
}

// NodeResponse - узел дерева.
type NodeResponse struct {
	CommentResponse
	Replies []NodeResponse `json:"replies"`
}

// TreeResponse - ответ GET /posts/{post_id}/comments.
type TreeResponse struct {
	PostID   string         `json:"post_id"`
	Comments []NodeResponse `json:"comments"`
}

// commentFromModel строит ответ. Спам-оценку видит только модератор,
// у плейсхолдера удалённого комментария автор скрыт.
func commentFromModel(c *models.Comment, viewer models.Identity) CommentResponse {
	out := CommentResponse{
		ID:          c.ID,
		PostID:      c.PostID.String(),
		ParentID:    c.ParentID,
		Depth:       c.Depth,
		Content:     c.RawContent,
		ContentHTML: c.RenderedContent,
		Links:       c.DetectedLinks,
		LinkPreview: c.LinkPreview,
		Status:      string(c.Status),
		Version:     c.Version,
		CreatedAt:   c.CreatedAt,
		UpdatedAt:   c.UpdatedAt,
		ApprovedAt:  c.ApprovedAt,
	}

	if out.Links == nil {
		out.Links = []string{}
	}

	if !c.IsDeleted() {
		out.Author = authorFromModel(c.Author)
	}

	if viewer.Moderator && viewer.Authenticated() {
		spam := c.Spam
		out.Spam = &spam
	}

	return out
}

func authorFromModel(a models.Author) *AuthorResponse {
	if u, ok := a.User(); ok {
		return &AuthorResponse{Kind: "user", UserID: u.ID.String(), Name: u.DisplayName}
	}

	if g, ok := a.Guest(); ok {
		return &AuthorResponse{Kind: "guest", Name: g.Name}
	}

	return nil
}

func nodesFromModel(nodes []*models.Node, viewer models.Identity) []NodeResponse {
	out := make([]NodeResponse, 0, len(nodes))

	for _, n := range nodes {
		out = append(out, NodeResponse{
			CommentResponse: commentFromModel(&n.Comment, viewer),
			Replies:         nodesFromModel(n.Replies, viewer),
		})
	}

	return out
}
