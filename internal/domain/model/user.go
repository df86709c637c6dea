package model

import "time"

// User — пользователь InstaShare (таблица users).
type User struct {
	ID           string
	Username     string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}
