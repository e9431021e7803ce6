package models

import "github.com/google/uuid"

// Identity - то, что сообщает коллаборатор аутентификации о текущем запросе.
// Нулевое значение означает анонимный запрос.
type Identity struct {
	UserID      uuid.UUID
	DisplayName string
	Moderator   bool
}

// Authenticated - запрос выполнен от имени зарегистрированного пользователя.
func (i Identity) Authenticated() bool {
	return i.UserID != uuid.Nil
}

// RequestMeta - аудиторские данные запроса, передаются явно в каждую точку входа.
type RequestMeta struct {
	IPAddress string
	UserAgent string
}
