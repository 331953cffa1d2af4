package forum

import (
	"context"
	"fmt"
	"strings"

	"github.com/alexedwards/scs/v2"
)

// Store is the persistence boundary shared by the PostgreSQL and SQLite
// backends. It also persists scs session data.
type Store interface {
	scs.CtxStore

	Migrate(ctx context.Context) error
	Reset(ctx context.Context) error
	Close()

	UserExists(ctx context.Context, username, email string) (usernameTaken, emailTaken bool, err error)
	CreateUser(ctx context.Context, user *User) error
	GetUserByUsername(ctx context.Context, username string) (*User, error)
	GetUserByID(ctx context.Context, id int64) (*User, error)

	ListTopics(ctx context.Context) ([]Topic, error)
	ListTopicsByUser(ctx context.Context, userID int64) ([]Topic, error)
	CreateTopic(ctx context.Context, topic *Topic) error
	GetTopic(ctx context.Context, id int64) (*Topic, error)
	// DeleteTopic removes the topic and its replies in one transaction if
	// userID is the author.
	DeleteTopic(ctx context.Context, topicID, userID int64) error

	ListReplies(ctx context.Context, topicID int64) ([]Reply, error)
	CountReplies(ctx context.Context, topicID int64) (int, error)
	CreateReply(ctx context.Context, reply *Reply) error

	DeleteExpiredSessions(ctx context.Context) (int64, error)
}

// Open connects to the backend named by databaseURL:
// postgres://... or postgresql://... for PostgreSQL, sqlite://<path> for SQLite.
func Open(ctx context.Context, databaseURL string) (Store, error) {
	switch {
	case strings.HasPrefix(databaseURL, "postgres://"), strings.HasPrefix(databaseURL, "postgresql://"):
		return NewDatabase(ctx, databaseURL)
	case strings.HasPrefix(databaseURL, "sqlite://"):
		return NewSQLiteStore(ctx, strings.TrimPrefix(databaseURL, "sqlite://"))
	default:
		return nil, fmt.Errorf("unsupported database url %q", databaseURL)
	}
}
