package models

import "time"

type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

type User struct {
	ID             string    `json:"_id" bson:"_id"`
	Username       string    `json:"username" bson:"username"`
	Email          string    `json:"email" bson:"email"`
	PasswordHash   string    `json:"-" bson:"password_hash"`
	Role           Role      `json:"role" bson:"role"`
	Bio            string    `json:"bio" bson:"bio"`
	ProfilePicture string    `json:"profilePicture" bson:"profile_picture"`
	TokenVersion   int       `json:"-" bson:"token_version"`
	CreatedAt      time.Time `json:"createdAt" bson:"created_at"`
	UpdatedAt      time.Time `json:"updatedAt" bson:"updated_at"`
}

type ProfilePatch struct {
	Username       *string
	Bio            *string
	ProfilePicture *string
}
