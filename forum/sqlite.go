package forum

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Timestamps are stored as fixed-width UTC text so ORDER BY sorts them
// chronologically.
const sqliteTimeLayout = "2006-01-02 15:04:05.000000000"

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        username TEXT NOT NULL UNIQUE,
        email TEXT NOT NULL UNIQUE,
        password_hash TEXT NOT NULL,
        date_joined TEXT NOT NULL
    )`,
	`CREATE TABLE IF NOT EXISTS topics (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        title TEXT NOT NULL,
        content TEXT NOT NULL,
        date_posted TEXT NOT NULL,
        user_id INTEGER NOT NULL REFERENCES users(id)
    )`,
	`CREATE TABLE IF NOT EXISTS replies (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        content TEXT NOT NULL,
        date_posted TEXT NOT NULL,
        user_id INTEGER NOT NULL REFERENCES users(id),
        topic_id INTEGER NOT NULL REFERENCES topics(id)
    )`,
	`CREATE TABLE IF NOT EXISTS sessions (
        token TEXT PRIMARY KEY,
        data BLOB NOT NULL,
        expiry INTEGER NOT NULL
    )`,
	`CREATE INDEX IF NOT EXISTS idx_topics_on_user_id ON topics(user_id)`,
	`CREATE INDEX IF NOT EXISTS idx_replies_on_topic_id ON replies(topic_id)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_on_expiry ON sessions(expiry)`,
}

var sqliteDropSchema = []string{
	`DROP TABLE IF EXISTS replies`,
	`DROP TABLE IF EXISTS topics`,
	`DROP TABLE IF EXISTS users`,
	`DROP TABLE IF EXISTS sessions`,
}

// SQLiteStore is the embedded Store, used for local development and tests.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens path (":memory:" for a private in-memory database)
// with foreign keys enforced.
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("sqlite path is empty")
	}
	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// One connection: an in-memory database lives and dies with its
	// connection, and SQLite serializes writers anyway.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping sqlite database: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() {
	s.db.Close()
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	for _, stmt := range sqliteSchema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create tables: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) Reset(ctx context.Context) error {
	for _, stmt := range sqliteDropSchema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to drop tables: %w", err)
		}
	}
	return s.Migrate(ctx)
}

func formatSQLiteTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

func parseSQLiteTime(v string) (time.Time, error) {
	return time.ParseInLocation(sqliteTimeLayout, v, time.UTC)
}

// isSQLiteConstraint reports a constraint violation whose message contains
// detail, e.g. "users.email" or "FOREIGN KEY".
func isSQLiteConstraint(err error, detail string) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.Code()&0xff == sqlite3.SQLITE_CONSTRAINT && strings.Contains(se.Error(), detail)
}

// --- Users ---

func (s *SQLiteStore) UserExists(ctx context.Context, username, email string) (bool, bool, error) {
	var usernameTaken, emailTaken bool
	query := `SELECT
        EXISTS (SELECT 1 FROM users WHERE username = ?),
        EXISTS (SELECT 1 FROM users WHERE email = ?)`
	if err := s.db.QueryRowContext(ctx, query, username, email).Scan(&usernameTaken, &emailTaken); err != nil {
		return false, false, fmt.Errorf("failed to check user existence: %w", err)
	}
	return usernameTaken, emailTaken, nil
}

func (s *SQLiteStore) CreateUser(ctx context.Context, user *User) error {
	if user.DateJoined.IsZero() {
		user.DateJoined = time.Now().UTC()
	}
	query := `INSERT INTO users (username, email, password_hash, date_joined) VALUES (?, ?, ?, ?) RETURNING id`
	err := s.db.QueryRowContext(ctx, query, user.Username, user.Email, user.PasswordHash, formatSQLiteTime(user.DateJoined)).Scan(&user.ID)
	if err != nil {
		switch {
		case isSQLiteConstraint(err, "users.username"):
			return ErrUsernameTaken
		case isSQLiteConstraint(err, "users.email"):
			return ErrEmailTaken
		}
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	return s.getUser(ctx, `SELECT id, username, email, password_hash, date_joined FROM users WHERE username = ?`, username)
}

func (s *SQLiteStore) GetUserByID(ctx context.Context, id int64) (*User, error) {
	return s.getUser(ctx, `SELECT id, username, email, password_hash, date_joined FROM users WHERE id = ?`, id)
}

func (s *SQLiteStore) getUser(ctx context.Context, query string, arg any) (*User, error) {
	var (
		user   User
		joined string
	)
	err := s.db.QueryRowContext(ctx, query, arg).Scan(&user.ID, &user.Username, &user.Email, &user.PasswordHash, &joined)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	if user.DateJoined, err = parseSQLiteTime(joined); err != nil {
		return nil, err
	}
	return &user, nil
}

// --- Topics ---

const sqliteTopicColumns = `t.id, t.title, t.content, t.date_posted, t.user_id, u.username`

func (s *SQLiteStore) ListTopics(ctx context.Context) ([]Topic, error) {
	query := `SELECT ` + sqliteTopicColumns + ` FROM topics t JOIN users u ON u.id = t.user_id
        ORDER BY t.date_posted DESC, t.id DESC`
	return s.queryTopics(ctx, query)
}

func (s *SQLiteStore) ListTopicsByUser(ctx context.Context, userID int64) ([]Topic, error) {
	query := `SELECT ` + sqliteTopicColumns + ` FROM topics t JOIN users u ON u.id = t.user_id
        WHERE t.user_id = ?
        ORDER BY t.date_posted DESC, t.id DESC`
	return s.queryTopics(ctx, query, userID)
}

func (s *SQLiteStore) queryTopics(ctx context.Context, query string, args ...any) ([]Topic, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list topics: %w", err)
	}
	defer rows.Close()
	var topics []Topic
	for rows.Next() {
		topic, err := scanSQLiteTopic(rows)
		if err != nil {
			return nil, err
		}
		topics = append(topics, *topic)
	}
	return topics, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteTopic(row rowScanner) (*Topic, error) {
	var (
		topic  Topic
		posted string
	)
	if err := row.Scan(&topic.ID, &topic.Title, &topic.Content, &posted, &topic.UserID, &topic.Author); err != nil {
		return nil, err
	}
	t, err := parseSQLiteTime(posted)
	if err != nil {
		return nil, err
	}
	topic.DatePosted = t
	return &topic, nil
}

func (s *SQLiteStore) CreateTopic(ctx context.Context, topic *Topic) error {
	if topic.DatePosted.IsZero() {
		topic.DatePosted = time.Now().UTC()
	}
	query := `INSERT INTO topics (title, content, date_posted, user_id) VALUES (?, ?, ?, ?) RETURNING id`
	err := s.db.QueryRowContext(ctx, query, topic.Title, topic.Content, formatSQLiteTime(topic.DatePosted), topic.UserID).Scan(&topic.ID)
	if err != nil {
		if isSQLiteConstraint(err, "FOREIGN KEY") {
			return ErrNotFound
		}
		return fmt.Errorf("failed to insert topic: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetTopic(ctx context.Context, id int64) (*Topic, error) {
	query := `SELECT ` + sqliteTopicColumns + ` FROM topics t JOIN users u ON u.id = t.user_id WHERE t.id = ?`
	topic, err := scanSQLiteTopic(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load topic: %w", err)
	}
	return topic, nil
}

func (s *SQLiteStore) DeleteTopic(ctx context.Context, topicID, userID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var authorID int64
	if err := tx.QueryRowContext(ctx, `SELECT user_id FROM topics WHERE id = ?`, topicID).Scan(&authorID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to load topic: %w", err)
	}
	if authorID != userID {
		return ErrForbidden
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM replies WHERE topic_id = ?`, topicID); err != nil {
		return fmt.Errorf("failed to delete replies: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM topics WHERE id = ?`, topicID); err != nil {
		return fmt.Errorf("failed to delete topic: %w", err)
	}
	return tx.Commit()
}

// --- Replies ---

func (s *SQLiteStore) ListReplies(ctx context.Context, topicID int64) ([]Reply, error) {
	query := `SELECT r.id, r.content, r.date_posted, r.user_id, r.topic_id, u.username
        FROM replies r JOIN users u ON u.id = r.user_id
        WHERE r.topic_id = ?
        ORDER BY r.date_posted ASC, r.id ASC`
	rows, err := s.db.QueryContext(ctx, query, topicID)
	if err != nil {
		return nil, fmt.Errorf("failed to list replies: %w", err)
	}
	defer rows.Close()
	var replies []Reply
	for rows.Next() {
		var (
			r      Reply
			posted string
		)
		if err := rows.Scan(&r.ID, &r.Content, &posted, &r.UserID, &r.TopicID, &r.Author); err != nil {
			return nil, err
		}
		if r.DatePosted, err = parseSQLiteTime(posted); err != nil {
			return nil, err
		}
		replies = append(replies, r)
	}
	return replies, rows.Err()
}

func (s *SQLiteStore) CountReplies(ctx context.Context, topicID int64) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM replies WHERE topic_id = ?`, topicID).Scan(&count)
	return count, err
}

func (s *SQLiteStore) CreateReply(ctx context.Context, reply *Reply) error {
	if reply.DatePosted.IsZero() {
		reply.DatePosted = time.Now().UTC()
	}
	query := `INSERT INTO replies (content, date_posted, user_id, topic_id)
        SELECT ?1, ?2, ?3, ?4 WHERE EXISTS (SELECT 1 FROM topics WHERE id = ?4)
        RETURNING id`
	err := s.db.QueryRowContext(ctx, query, reply.Content, formatSQLiteTime(reply.DatePosted), reply.UserID, reply.TopicID).Scan(&reply.ID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) || isSQLiteConstraint(err, "FOREIGN KEY") {
			return ErrNotFound
		}
		return fmt.Errorf("failed to insert reply: %w", err)
	}
	return nil
}

// --- Sessions ---

func (s *SQLiteStore) FindCtx(ctx context.Context, token string) ([]byte, bool, error) {
	var b []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM sessions WHERE token = ? AND expiry > ?`, token, time.Now().UnixNano()).Scan(&b)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return b, true, nil
}

func (s *SQLiteStore) CommitCtx(ctx context.Context, token string, b []byte, expiry time.Time) error {
	query := `INSERT INTO sessions (token, data, expiry) VALUES (?, ?, ?)
        ON CONFLICT (token) DO UPDATE SET data = excluded.data, expiry = excluded.expiry`
	_, err := s.db.ExecContext(ctx, query, token, b, expiry.UnixNano())
	return err
}

func (s *SQLiteStore) DeleteCtx(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE token = ?`, token)
	return err
}

func (s *SQLiteStore) Find(token string) ([]byte, bool, error) {
	return s.FindCtx(context.Background(), token)
}

func (s *SQLiteStore) Commit(token string, b []byte, expiry time.Time) error {
	return s.CommitCtx(context.Background(), token, b, expiry)
}

func (s *SQLiteStore) Delete(token string) error {
	return s.DeleteCtx(context.Background(), token)
}

func (s *SQLiteStore) DeleteExpiredSessions(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE expiry <= ?`, time.Now().UnixNano())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
