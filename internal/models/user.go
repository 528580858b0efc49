package models

import "time"

// User represents a platform account. A user owns at most one container,
// referenced by ContainerID when provisioned.
type User struct {
	ID                int64      `json:"id"`
	Username          string     `json:"username"`
	DisplayName       string     `json:"display_name"`
	Email             string     `json:"email"`
	IsAdmin           bool       `json:"is_admin"`
	ContainerID       *string    `json:"container_id"`
	SSHPasswordHash   *string    `json:"-"`
	SSHPublicKey      *string    `json:"ssh_public_key,omitempty"`
	AgreedToTOS       bool       `json:"agreed_to_tos"`
	AgreedToPrivacy   bool       `json:"agreed_to_privacy"`
	AssignedQuestions []int64    `json:"-"`
	LastSeen          *time.Time `json:"-"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// Gated reports whether the user has passed the acceptable-use gate.
// Resource-mutating operations are blocked until this is true.
func (u *User) Gated() bool {
	return u.AgreedToTOS && u.AgreedToPrivacy
}
