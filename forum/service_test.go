package forum

import (
	"context"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func newTestService(t *testing.T) (*Service, *SQLiteStore) {
	t.Helper()
	store := newTestStore(t)
	return NewService(store, bcrypt.MinCost, zerolog.Nop()), store
}

func countRows(t *testing.T, store *SQLiteStore, query string, args ...any) int {
	t.Helper()
	var n int
	require.NoError(t, store.db.QueryRow(query, args...).Scan(&n))
	return n
}

func TestRegister(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	user, err := svc.Register(ctx, SignupForm{Username: "alice", Email: "a@x.com", Password: "pw123"})
	require.NoError(t, err)
	assert.NotZero(t, user.ID)
	assert.Empty(t, user.PasswordHash, "returned user must be sanitized")

	stored, err := store.GetUserByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.NotEqual(t, "pw123", stored.PasswordHash)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(stored.PasswordHash), []byte("pw123")))

	_, err = svc.Register(ctx, SignupForm{Username: "alice", Email: "other@x.com", Password: "pw"})
	assert.ErrorIs(t, err, ErrUsernameTaken)

	_, err = svc.Register(ctx, SignupForm{Username: "alice2", Email: "a@x.com", Password: "pw"})
	assert.ErrorIs(t, err, ErrEmailTaken)

	_, err = svc.Register(ctx, SignupForm{Username: "", Email: "b@x.com", Password: "pw"})
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)

	assert.Equal(t, 1, countRows(t, store, `SELECT COUNT(*) FROM users`))
}

func TestRegisterConcurrentSameUsername(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	const attempts = 8
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.Register(ctx, SignupForm{
				Username: "alice",
				Email:    "alice" + string(rune('a'+i)) + "@x.com",
				Password: "pw",
			})
			mu.Lock()
			errs = append(errs, err)
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	var ok int
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.ErrorIs(t, err, ErrUsernameTaken)
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, countRows(t, store, `SELECT COUNT(*) FROM users WHERE username = ?`, "alice"))
}

func TestAuthenticate(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	_, err := svc.Register(ctx, SignupForm{Username: "alice", Email: "a@x.com", Password: "pw123"})
	require.NoError(t, err)

	user, err := svc.Authenticate(ctx, LoginForm{Username: "alice", Password: "pw123"})
	require.NoError(t, err)
	assert.Equal(t, "alice", user.Username)
	assert.Empty(t, user.PasswordHash)

	_, wrongPassword := svc.Authenticate(ctx, LoginForm{Username: "alice", Password: "nope"})
	_, unknownUser := svc.Authenticate(ctx, LoginForm{Username: "mallory", Password: "pw123"})
	_, empty := svc.Authenticate(ctx, LoginForm{})
	assert.ErrorIs(t, wrongPassword, ErrInvalidCredentials)
	assert.ErrorIs(t, unknownUser, ErrInvalidCredentials)
	assert.ErrorIs(t, empty, ErrInvalidCredentials)
	assert.Equal(t, wrongPassword.Error(), unknownUser.Error())
}

func TestCreateTopicRejectsEmptyFields(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	alice, err := svc.Register(ctx, SignupForm{Username: "alice", Email: "a@x.com", Password: "pw"})
	require.NoError(t, err)

	for _, form := range []TopicForm{{Title: "", Content: "c"}, {Title: "t", Content: ""}, {}} {
		_, err := svc.CreateTopic(ctx, alice.ID, form)
		var verr *ValidationError
		assert.ErrorAs(t, err, &verr)
	}
	assert.Zero(t, countRows(t, store, `SELECT COUNT(*) FROM topics`))

	topic, err := svc.CreateTopic(ctx, alice.ID, TopicForm{Title: "Hello", Content: "World"})
	require.NoError(t, err)
	assert.Equal(t, alice.ID, topic.UserID)
	assert.Equal(t, 1, countRows(t, store, `SELECT COUNT(*) FROM topics`))
}

func TestTopicAndReplies(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	alice, err := svc.Register(ctx, SignupForm{Username: "alice", Email: "a@x.com", Password: "pw"})
	require.NoError(t, err)
	topic, err := svc.CreateTopic(ctx, alice.ID, TopicForm{Title: "Hello", Content: "World"})
	require.NoError(t, err)

	_, err = svc.Reply(ctx, alice.ID, topic.ID, ReplyForm{Content: "Hi"})
	require.NoError(t, err)
	_, err = svc.Reply(ctx, alice.ID, topic.ID, ReplyForm{Content: ""})
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)
	_, err = svc.Reply(ctx, alice.ID, topic.ID+1, ReplyForm{Content: "lost"})
	assert.ErrorIs(t, err, ErrNotFound)

	got, replies, err := svc.Topic(ctx, topic.ID)
	require.NoError(t, err)
	assert.Equal(t, "Hello", got.Title)
	assert.Equal(t, "alice", got.Author)
	require.Len(t, replies, 1)
	assert.Equal(t, "Hi", replies[0].Content)

	_, _, err = svc.Topic(ctx, topic.ID+1)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteTopicOwnership(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	alice, err := svc.Register(ctx, SignupForm{Username: "alice", Email: "a@x.com", Password: "pw"})
	require.NoError(t, err)
	bob, err := svc.Register(ctx, SignupForm{Username: "bob", Email: "b@x.com", Password: "pw"})
	require.NoError(t, err)
	topic, err := svc.CreateTopic(ctx, alice.ID, TopicForm{Title: "Hello", Content: "World"})
	require.NoError(t, err)
	_, err = svc.Reply(ctx, bob.ID, topic.ID, ReplyForm{Content: "Hi"})
	require.NoError(t, err)

	assert.ErrorIs(t, svc.DeleteTopic(ctx, bob.ID, topic.ID), ErrForbidden)
	assert.Equal(t, 1, countRows(t, store, `SELECT COUNT(*) FROM topics WHERE id = ?`, topic.ID))
	assert.Equal(t, 1, countRows(t, store, `SELECT COUNT(*) FROM replies WHERE topic_id = ?`, topic.ID))

	require.NoError(t, svc.DeleteTopic(ctx, alice.ID, topic.ID))
	assert.Zero(t, countRows(t, store, `SELECT COUNT(*) FROM topics WHERE id = ?`, topic.ID))
	assert.Zero(t, countRows(t, store, `SELECT COUNT(*) FROM replies WHERE topic_id = ?`, topic.ID))

	topics, err := svc.TopicsByUser(ctx, alice.ID)
	require.NoError(t, err)
	assert.Empty(t, topics)
}
