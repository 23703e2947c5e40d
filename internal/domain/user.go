package domain

import (
	"time"

	"github.com/google/uuid"
)

// User represents a member of the user directory
// Maps to CockroachDB users table
type User struct {
	UserID       uuid.UUID `json:"user_id" db:"user_id"`
	Email        string    `json:"email" db:"email"`
	Username     string    `json:"username" db:"username"`
	Name         string    `json:"name" db:"name"`
	AvatarURL    *string   `json:"avatar_url,omitempty" db:"avatar_url"`
	PasswordHash string    `json:"-" db:"password_hash"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// UserRegister represents a sign-up request
type UserRegister struct {
	Email    string `json:"email" binding:"required,email"`
	Username string `json:"username" binding:"required,min=3,max=30"`
	Name     string `json:"name" binding:"required"`
	Password string `json:"password" binding:"required,min=8"`
}

// UserLogin represents a login request
type UserLogin struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// AuthResponse carries the bearer token issued on register/login
type AuthResponse struct {
	Token string        `json:"token"`
	User  *UserResponse `json:"user"`
}

// UserResponse is the public view of a user
type UserResponse struct {
	UserID    uuid.UUID `json:"user_id"`
	Username  string    `json:"username"`
	Name      string    `json:"name"`
	AvatarURL *string   `json:"avatar_url,omitempty"`
}

// ToResponse strips private fields
func (u *User) ToResponse() *UserResponse {
	return &UserResponse{
		UserID:    u.UserID,
		Username:  u.Username,
		Name:      u.Name,
		AvatarURL: u.AvatarURL,
	}
}
