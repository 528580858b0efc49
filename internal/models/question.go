package models

import "time"

// Question is a single acceptable-use quiz question. The correct answer is
// never serialized to clients.
type Question struct {
	ID            int64     `json:"id"`
	Prompt        string    `json:"prompt"`
	CorrectAnswer string    `json:"-"`
	IsActive      bool      `json:"is_active"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Answer is a user's submitted answer to an assigned question.
type Answer struct {
	ID     int64  `json:"id"`
	Answer string `json:"answer"`
}
