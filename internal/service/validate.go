package service

import (
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/pribylovaa/comments-moderation/internal/models"
	"golang.org/x/crypto/bcrypt"
)

// maxDisplayName - предел длины имени автора в рунах.
const maxDisplayName = 50

var validate = validator.New(validator.WithRequiredStructEnabled())

// guestFields - поля гостя, проверяемые тегами validator.
// bcrypt учитывает только первые 72 байта пароля.
type guestFields struct {
	Name     string `validate:"required,max=50"`
	Email    string `validate:"required,email,max=254"`
	Password string `validate:"required,min=4,max=72"`
}

// normalizeContent обрезает пробелы и проверяет длину текста в рунах.
func (s *Service) normalizeContent(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}

	if utf8.RuneCountInString(raw) > s.cfg.Limits.MaxContentLen {
		return "", false
	}

	return raw, true
}

// resolveAuthor строит автора из identity либо из гостевых полей.
// Пароль гостя хэшируется bcrypt, открытый текст дальше не передаётся.
func (s *Service) resolveAuthor(id models.Identity, name, email, password string) (models.Author, bool, error) {
	if id.Authenticated() {
		display := strings.TrimSpace(id.DisplayName)
		if display == "" || utf8.RuneCountInString(display) > maxDisplayName {
			return models.Author{}, false, nil
		}

		return models.UserAuthor(models.RegisteredUser{ID: id.UserID, DisplayName: display}), true, nil
	}

	g := guestFields{
		Name:     strings.TrimSpace(name),
		Email:    strings.TrimSpace(email),
		Password: password,
	}
	if err := validate.Struct(g); err != nil || len(g.Password) > 72 {
		return models.Author{}, false, nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(g.Password), s.bcryptCost)
	if err != nil {
		return models.Author{}, false, err
	}

	return models.GuestAuthor(models.Guest{Name: g.Name, Email: g.Email, PasswordHash: string(hash)}), true, nil
}

// mayManage - право удалять и править: модератор (только удаление), автор-пользователь
// или гость с верным паролем.
func mayManage(c *models.Comment, r Requester, allowModerator bool) bool {
	if allowModerator && r.Identity.Moderator && r.Identity.Authenticated() {
		return true
	}

	if r.Identity.Authenticated() {
		return c.Author.IsUser(r.Identity.UserID)
	}

	g, ok := c.Author.Guest()
	if !ok || r.GuestPassword == "" || g.PasswordHash == "" {
		return false
	}

	return bcrypt.CompareHashAndPassword([]byte(g.PasswordHash), []byte(r.GuestPassword)) == nil
}

// canView - правило видимости одного (не удалённого) комментария.
func canView(c *models.Comment, viewer models.Identity) bool {
	if viewer.Moderator && viewer.Authenticated() {
		return true
	}

	switch c.Status {
	case models.StatusApproved:
		return true
	case models.StatusPending:
		return viewer.UserID != uuid.Nil && c.Author.IsUser(viewer.UserID)
	default:
		return false
	}
}
