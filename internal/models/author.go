package models

import "github.com/google/uuid"

type authorKind uint8

const (
	authorUnknown authorKind = iota
	authorUser
	authorGuest
)

// RegisteredUser - автор, прошедший аутентификацию.
type RegisteredUser struct {
	ID          uuid.UUID
	DisplayName string
}

// Guest - анонимный автор. PasswordHash - bcrypt-хэш, открытый пароль не хранится.
type Guest struct {
	Name         string
	Email        string
	PasswordHash string
}

// Author - размеченное объединение: либо зарегистрированный пользователь, либо гость.
// Поля закрыты, создать значение можно только через UserAuthor/GuestAuthor,
// поэтому состояние "заполнены оба варианта" непредставимо.
type Author struct {
	kind  authorKind
	user  RegisteredUser
	guest Guest
}

// UserAuthor создаёт автора-пользователя.
func UserAuthor(u RegisteredUser) Author {
	return Author{kind: authorUser, user: u}
}

// GuestAuthor создаёт автора-гостя.
func GuestAuthor(g Guest) Author {
	return Author{kind: authorGuest, guest: g}
}

// User возвращает пользователя, если автор зарегистрирован.
func (a Author) User() (RegisteredUser, bool) {
	return a.user, a.kind == authorUser
}

// Guest возвращает гостя, если автор анонимный.
func (a Author) Guest() (Guest, bool) {
	return a.guest, a.kind == authorGuest
}

// IsGuest - true для анонимного автора.
func (a Author) IsGuest() bool { return a.kind == authorGuest }

// IsZero - автор не задан (значение по умолчанию).
func (a Author) IsZero() bool { return a.kind == authorUnknown }

// DisplayName - имя для выдачи наружу.
func (a Author) DisplayName() string {
	switch a.kind {
	case authorUser:
		return a.user.DisplayName
	case authorGuest:
		return a.guest.Name
	default:
		return ""
	}
}

// IsUser сообщает, что автор - пользователь с данным ID.
func (a Author) IsUser(id uuid.UUID) bool {
	return a.kind == authorUser && id != uuid.Nil && a.user.ID == id
}
