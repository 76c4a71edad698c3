package model

import "time"

// User is an account row. IDs are snowflakes, so lexicographic order of
// equal-length ids matches creation order.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Username     string    `json:"username"`
	DisplayName  string    `json:"displayName"`
	PasswordHash string    `json:"-"`
	Verified     bool      `json:"verified"`
	CreatedAt    time.Time `json:"createdAt"`
}
