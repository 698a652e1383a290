package model

import "time"

// User is a locally cached profile.
type User struct {
	ID              string     `json:"id"`
	Email           string     `json:"email"`
	DisplayName     string     `json:"display_name"`
	ProfileImageURL *string    `json:"profile_image_url,omitempty"`
	AvatarColorHex  *string    `json:"avatar_color_hex,omitempty"`
	IsOnline        bool       `json:"is_online"`
	LastSeen        *time.Time `json:"last_seen,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	SyncEnvelope
}

// HasAvatarColor reports whether a non-empty avatar color is cached.
func (u *User) HasAvatarColor() bool {
	return u.AvatarColorHex != nil && *u.AvatarColorHex != ""
}
