// forum/models.go
package forum

import (
	"time"
)

// User is a registered forum member. Hash is never rendered.
type User struct {
	ID           int64     `json:"id" db:"id"`
	Username     string    `json:"username" db:"username"`
	Email        string    `json:"email" db:"email"`
	PasswordHash string    `json:"-" db:"password_hash"`
	DateJoined   time.Time `json:"date_joined" db:"date_joined"`
}

// Topic is a top-level thread. Author is filled in by list and get queries.
type Topic struct {
	ID         int64     `json:"id" db:"id"`
	Title      string    `json:"title" db:"title"`
	Content    string    `json:"content" db:"content"`
	DatePosted time.Time `json:"date_posted" db:"date_posted"`
	UserID     int64     `json:"user_id" db:"user_id"`
	Author     string    `json:"author" db:"-"`
}

// Reply belongs to exactly one topic and one user.
type Reply struct {
	ID         int64     `json:"id" db:"id"`
	Content    string    `json:"content" db:"content"`
	DatePosted time.Time `json:"date_posted" db:"date_posted"`
	UserID     int64     `json:"user_id" db:"user_id"`
	TopicID    int64     `json:"topic_id" db:"topic_id"`
	Author     string    `json:"author" db:"-"`
}

// Viewer is the authenticated identity attached to a request.
type Viewer struct {
	UserID    int64
	Username  string
	ExpiresAt time.Time
}
