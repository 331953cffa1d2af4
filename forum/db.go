// forum/db.go
package forum

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const pgSchema = `
CREATE TABLE IF NOT EXISTS users (
    id BIGSERIAL PRIMARY KEY,
    username VARCHAR(80) NOT NULL,
    email VARCHAR(120) NOT NULL,
    password_hash TEXT NOT NULL,
    date_joined TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    CONSTRAINT users_username_key UNIQUE (username),
    CONSTRAINT users_email_key UNIQUE (email)
);
CREATE TABLE IF NOT EXISTS topics (
    id BIGSERIAL PRIMARY KEY,
    title VARCHAR(100) NOT NULL,
    content TEXT NOT NULL,
    date_posted TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    user_id BIGINT NOT NULL REFERENCES users(id)
);
CREATE TABLE IF NOT EXISTS replies (
    id BIGSERIAL PRIMARY KEY,
    content TEXT NOT NULL,
    date_posted TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    user_id BIGINT NOT NULL REFERENCES users(id),
    topic_id BIGINT NOT NULL REFERENCES topics(id)
);
CREATE TABLE IF NOT EXISTS sessions (
    token TEXT PRIMARY KEY,
    data BYTEA NOT NULL,
    expiry TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_topics_on_user_id ON topics(user_id);
CREATE INDEX IF NOT EXISTS idx_replies_on_topic_id ON replies(topic_id);
CREATE INDEX IF NOT EXISTS idx_sessions_on_expiry ON sessions(expiry);
`

const pgDropSchema = `DROP TABLE IF EXISTS replies, topics, users, sessions CASCADE;`

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// Database is the PostgreSQL Store.
type Database struct {
	pool *pgxpool.Pool
}

var _ Store = (*Database)(nil)

func NewDatabase(ctx context.Context, connectionString string) (*Database, error) {
	pool, err := pgxpool.New(ctx, connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Database{pool: pool}, nil
}

func (d *Database) Close() {
	d.pool.Close()
}

func (d *Database) Migrate(ctx context.Context) error {
	if _, err := d.pool.Exec(ctx, pgSchema); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}
	return nil
}

// Reset drops every table and recreates the schema.
func (d *Database) Reset(ctx context.Context) error {
	if _, err := d.pool.Exec(ctx, pgDropSchema); err != nil {
		return fmt.Errorf("failed to drop tables: %w", err)
	}
	return d.Migrate(ctx)
}

// --- User Functions ---

func (d *Database) UserExists(ctx context.Context, username, email string) (bool, bool, error) {
	var usernameTaken, emailTaken bool
	query := `SELECT
        EXISTS (SELECT 1 FROM users WHERE username = $1),
        EXISTS (SELECT 1 FROM users WHERE email = $2)`
	if err := d.pool.QueryRow(ctx, query, username, email).Scan(&usernameTaken, &emailTaken); err != nil {
		return false, false, fmt.Errorf("failed to check user existence: %w", err)
	}
	return usernameTaken, emailTaken, nil
}

func (d *Database) CreateUser(ctx context.Context, user *User) error {
	if user.DateJoined.IsZero() {
		user.DateJoined = time.Now().UTC()
	}
	query := `INSERT INTO users (username, email, password_hash, date_joined) VALUES ($1, $2, $3, $4) RETURNING id`
	err := d.pool.QueryRow(ctx, query, user.Username, user.Email, user.PasswordHash, user.DateJoined).Scan(&user.ID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			switch pgErr.ConstraintName {
			case "users_username_key":
				return ErrUsernameTaken
			case "users_email_key":
				return ErrEmailTaken
			}
		}
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

func (d *Database) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	query := `SELECT id, username, email, password_hash, date_joined FROM users WHERE username = $1`
	return d.getUser(ctx, query, username)
}

func (d *Database) GetUserByID(ctx context.Context, id int64) (*User, error) {
	query := `SELECT id, username, email, password_hash, date_joined FROM users WHERE id = $1`
	return d.getUser(ctx, query, id)
}

func (d *Database) getUser(ctx context.Context, query string, arg any) (*User, error) {
	var user User
	err := d.pool.QueryRow(ctx, query, arg).Scan(
		&user.ID,
		&user.Username,
		&user.Email,
		&user.PasswordHash,
		&user.DateJoined,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	return &user, nil
}

// --- Topic Functions ---

const pgTopicColumns = `t.id, t.title, t.content, t.date_posted, t.user_id, u.username`

func (d *Database) ListTopics(ctx context.Context) ([]Topic, error) {
	query := `SELECT ` + pgTopicColumns + ` FROM topics t JOIN users u ON u.id = t.user_id
              ORDER BY t.date_posted DESC, t.id DESC`
	return d.queryTopics(ctx, query)
}

func (d *Database) ListTopicsByUser(ctx context.Context, userID int64) ([]Topic, error) {
	query := `SELECT ` + pgTopicColumns + ` FROM topics t JOIN users u ON u.id = t.user_id
              WHERE t.user_id = $1
              ORDER BY t.date_posted DESC, t.id DESC`
	return d.queryTopics(ctx, query, userID)
}

func (d *Database) queryTopics(ctx context.Context, query string, args ...any) ([]Topic, error) {
	rows, err := d.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list topics: %w", err)
	}
	defer rows.Close()
	var topics []Topic
	for rows.Next() {
		var topic Topic
		if err := rows.Scan(&topic.ID, &topic.Title, &topic.Content, &topic.DatePosted, &topic.UserID, &topic.Author); err != nil {
			return nil, err
		}
		topics = append(topics, topic)
	}
	return topics, rows.Err()
}

func (d *Database) CreateTopic(ctx context.Context, topic *Topic) error {
	if topic.DatePosted.IsZero() {
		topic.DatePosted = time.Now().UTC()
	}
	query := `INSERT INTO topics (title, content, date_posted, user_id) VALUES ($1, $2, $3, $4) RETURNING id`
	err := d.pool.QueryRow(ctx, query, topic.Title, topic.Content, topic.DatePosted, topic.UserID).Scan(&topic.ID)
	if err != nil {
		if isPgForeignKeyViolation(err) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to insert topic: %w", err)
	}
	return nil
}

func (d *Database) GetTopic(ctx context.Context, id int64) (*Topic, error) {
	var topic Topic
	query := `SELECT ` + pgTopicColumns + ` FROM topics t JOIN users u ON u.id = t.user_id WHERE t.id = $1`
	err := d.pool.QueryRow(ctx, query, id).Scan(&topic.ID, &topic.Title, &topic.Content, &topic.DatePosted, &topic.UserID, &topic.Author)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load topic: %w", err)
	}
	return &topic, nil
}

func (d *Database) DeleteTopic(ctx context.Context, topicID, userID int64) error {
	return pgx.BeginFunc(ctx, d.pool, func(tx pgx.Tx) error {
		var authorID int64
		err := tx.QueryRow(ctx, `SELECT user_id FROM topics WHERE id = $1 FOR UPDATE`, topicID).Scan(&authorID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNotFound
			}
			return fmt.Errorf("failed to lock topic: %w", err)
		}
		if authorID != userID {
			return ErrForbidden
		}
		if _, err := tx.Exec(ctx, `DELETE FROM replies WHERE topic_id = $1`, topicID); err != nil {
			return fmt.Errorf("failed to delete replies: %w", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM topics WHERE id = $1`, topicID); err != nil {
			return fmt.Errorf("failed to delete topic: %w", err)
		}
		return nil
	})
}

// --- Reply Functions ---

func (d *Database) ListReplies(ctx context.Context, topicID int64) ([]Reply, error) {
	query := `SELECT r.id, r.content, r.date_posted, r.user_id, r.topic_id, u.username
              FROM replies r JOIN users u ON u.id = r.user_id
              WHERE r.topic_id = $1
              ORDER BY r.date_posted ASC, r.id ASC`
	rows, err := d.pool.Query(ctx, query, topicID)
	if err != nil {
		return nil, fmt.Errorf("failed to list replies: %w", err)
	}
	defer rows.Close()
	var replies []Reply
	for rows.Next() {
		var r Reply
		if err := rows.Scan(&r.ID, &r.Content, &r.DatePosted, &r.UserID, &r.TopicID, &r.Author); err != nil {
			return nil, err
		}
		replies = append(replies, r)
	}
	return replies, rows.Err()
}

func (d *Database) CountReplies(ctx context.Context, topicID int64) (int, error) {
	var count int
	err := d.pool.QueryRow(ctx, `SELECT COUNT(*) FROM replies WHERE topic_id = $1`, topicID).Scan(&count)
	return count, err
}

// CreateReply returns ErrNotFound when the topic is missing, including when it
// is deleted concurrently.
func (d *Database) CreateReply(ctx context.Context, reply *Reply) error {
	if reply.DatePosted.IsZero() {
		reply.DatePosted = time.Now().UTC()
	}
	query := `INSERT INTO replies (content, date_posted, user_id, topic_id)
              SELECT $1::text, $2::timestamptz, $3::bigint, $4::bigint
              WHERE EXISTS (SELECT 1 FROM topics WHERE id = $4::bigint)
              RETURNING id`
	err := d.pool.QueryRow(ctx, query, reply.Content, reply.DatePosted, reply.UserID, reply.TopicID).Scan(&reply.ID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || isPgForeignKeyViolation(err) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to insert reply: %w", err)
	}
	return nil
}

func isPgForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation
}

// --- Session Functions ---

func (d *Database) FindCtx(ctx context.Context, token string) ([]byte, bool, error) {
	var b []byte
	query := `SELECT data FROM sessions WHERE token = $1 AND current_timestamp < expiry`
	err := d.pool.QueryRow(ctx, query, token).Scan(&b)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return b, true, nil
}

func (d *Database) CommitCtx(ctx context.Context, token string, b []byte, expiry time.Time) error {
	query := `
        INSERT INTO sessions (token, data, expiry) VALUES ($1, $2, $3)
        ON CONFLICT (token) DO UPDATE SET
            data = EXCLUDED.data,
            expiry = EXCLUDED.expiry;
    `
	_, err := d.pool.Exec(ctx, query, token, b, expiry)
	return err
}

func (d *Database) DeleteCtx(ctx context.Context, token string) error {
	_, err := d.pool.Exec(ctx, `DELETE FROM sessions WHERE token = $1`, token)
	return err
}

func (d *Database) Find(token string) ([]byte, bool, error) {
	return d.FindCtx(context.Background(), token)
}

func (d *Database) Commit(token string, b []byte, expiry time.Time) error {
	return d.CommitCtx(context.Background(), token, b, expiry)
}

func (d *Database) Delete(token string) error {
	return d.DeleteCtx(context.Background(), token)
}

func (d *Database) DeleteExpiredSessions(ctx context.Context) (int64, error) {
	tag, err := d.pool.Exec(ctx, `DELETE FROM sessions WHERE expiry < current_timestamp`)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
