package forum

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
)

// Service implements the forum's rules on top of a Store.
type Service struct {
	store      Store
	bcryptCost int
	log        zerolog.Logger
}

func NewService(store Store, bcryptCost int, log zerolog.Logger) *Service {
	if bcryptCost == 0 {
		bcryptCost = bcrypt.DefaultCost
	}
	return &Service{store: store, bcryptCost: bcryptCost, log: log}
}

// Register creates a user. The existence check gives friendly errors; the
// unique constraints in the store are what actually prevent duplicates.
func (s *Service) Register(ctx context.Context, form SignupForm) (*User, error) {
	if err := form.Validate(); err != nil {
		return nil, err
	}
	usernameTaken, emailTaken, err := s.store.UserExists(ctx, form.Username, form.Email)
	if err != nil {
		return nil, err
	}
	if usernameTaken {
		return nil, ErrUsernameTaken
	}
	if emailTaken {
		return nil, ErrEmailTaken
	}
	user, err := NewUser(form.Username, form.Email, form.Password, s.bcryptCost)
	if err != nil {
		return nil, err
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		return nil, err
	}
	s.log.Info().Int64("user_id", user.ID).Str("username", user.Username).Msg("user registered")
	user.Sanitize()
	return user, nil
}

// Authenticate never tells a missing user apart from a wrong password.
func (s *Service) Authenticate(ctx context.Context, form LoginForm) (*User, error) {
	if err := form.Validate(); err != nil {
		return nil, ErrInvalidCredentials
	}
	user, err := s.store.GetUserByUsername(ctx, form.Username)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	ok, err := user.PasswordMatches(form.Password)
	if err != nil {
		s.log.Error().Err(err).Int64("user_id", user.ID).Msg("stored password hash is unusable")
		return nil, ErrInvalidCredentials
	}
	if !ok {
		return nil, ErrInvalidCredentials
	}
	user.Sanitize()
	return user, nil
}

func (s *Service) Topics(ctx context.Context) ([]Topic, error) {
	return s.store.ListTopics(ctx)
}

func (s *Service) TopicsByUser(ctx context.Context, userID int64) ([]Topic, error) {
	return s.store.ListTopicsByUser(ctx, userID)
}

func (s *Service) CreateTopic(ctx context.Context, authorID int64, form TopicForm) (*Topic, error) {
	if err := form.Validate(); err != nil {
		return nil, err
	}
	topic := &Topic{
		Title:   form.Title,
		Content: form.Content,
		UserID:  authorID,
	}
	if err := s.store.CreateTopic(ctx, topic); err != nil {
		return nil, err
	}
	return topic, nil
}

// Topic loads a topic and its replies, oldest reply first.
func (s *Service) Topic(ctx context.Context, id int64) (*Topic, []Reply, error) {
	topic, err := s.store.GetTopic(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	replies, err := s.store.ListReplies(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return topic, replies, nil
}

func (s *Service) Reply(ctx context.Context, authorID, topicID int64, form ReplyForm) (*Reply, error) {
	if err := form.Validate(); err != nil {
		return nil, err
	}
	reply := &Reply{
		Content: form.Content,
		UserID:  authorID,
		TopicID: topicID,
	}
	if err := s.store.CreateReply(ctx, reply); err != nil {
		return nil, err
	}
	return reply, nil
}

func (s *Service) DeleteTopic(ctx context.Context, requesterID, topicID int64) error {
	if err := s.store.DeleteTopic(ctx, topicID, requesterID); err != nil {
		if errors.Is(err, ErrForbidden) {
			s.log.Warn().Int64("user_id", requesterID).Int64("topic_id", topicID).Msg("delete refused: not the author")
		}
		return err
	}
	s.log.Info().Int64("user_id", requesterID).Int64("topic_id", topicID).Msg("topic deleted")
	return nil
}

// User returns the user without its password hash.
func (s *Service) User(ctx context.Context, id int64) (*User, error) {
	user, err := s.store.GetUserByID(ctx, id)
	if err != nil {
		return nil, err
	}
	user.Sanitize()
	return user, nil
}
