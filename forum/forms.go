package forum

import (
	"net/http"
	"strings"
	"unicode/utf8"
)

const (
	maxUsernameLen = 80
	maxEmailLen    = 120
	maxTitleLen    = 100
	// bcrypt ignores everything past 72 bytes.
	maxPasswordBytes = 72
)

type SignupForm struct {
	Username string
	Email    string
	Password string
}

type LoginForm struct {
	Username string
	Password string
}

type TopicForm struct {
	Title   string
	Content string
}

type ReplyForm struct {
	Content string
}

func ParseSignupForm(r *http.Request) (SignupForm, error) {
	if err := r.ParseForm(); err != nil {
		return SignupForm{}, err
	}
	return SignupForm{
		Username: strings.TrimSpace(r.PostFormValue("username")),
		Email:    strings.TrimSpace(r.PostFormValue("email")),
		Password: r.PostFormValue("password"),
	}, nil
}

func ParseLoginForm(r *http.Request) (LoginForm, error) {
	if err := r.ParseForm(); err != nil {
		return LoginForm{}, err
	}
	return LoginForm{
		Username: strings.TrimSpace(r.PostFormValue("username")),
		Password: r.PostFormValue("password"),
	}, nil
}

func ParseTopicForm(r *http.Request) (TopicForm, error) {
	if err := r.ParseForm(); err != nil {
		return TopicForm{}, err
	}
	return TopicForm{
		Title:   strings.TrimSpace(r.PostFormValue("title")),
		Content: strings.TrimSpace(r.PostFormValue("content")),
	}, nil
}

func ParseReplyForm(r *http.Request) (ReplyForm, error) {
	if err := r.ParseForm(); err != nil {
		return ReplyForm{}, err
	}
	return ReplyForm{
		Content: strings.TrimSpace(r.PostFormValue("content")),
	}, nil
}

func (f SignupForm) Validate() error {
	switch {
	case f.Username == "":
		return &ValidationError{Field: "username", Message: "Username is required."}
	case utf8.RuneCountInString(f.Username) > maxUsernameLen:
		return &ValidationError{Field: "username", Message: "Username is too long."}
	case f.Email == "":
		return &ValidationError{Field: "email", Message: "Email is required."}
	case utf8.RuneCountInString(f.Email) > maxEmailLen || !strings.Contains(f.Email, "@"):
		return &ValidationError{Field: "email", Message: "Please enter a valid email address."}
	case f.Password == "":
		return &ValidationError{Field: "password", Message: "Password is required."}
	case len(f.Password) > maxPasswordBytes:
		return &ValidationError{Field: "password", Message: "Password is too long."}
	}
	return nil
}

func (f LoginForm) Validate() error {
	if f.Username == "" || f.Password == "" {
		return ErrInvalidCredentials
	}
	return nil
}

func (f TopicForm) Validate() error {
	if f.Title == "" || f.Content == "" {
		return &ValidationError{Field: "title", Message: "Title and content cannot be empty."}
	}
	if utf8.RuneCountInString(f.Title) > maxTitleLen {
		return &ValidationError{Field: "title", Message: "Title is too long."}
	}
	return nil
}

func (f ReplyForm) Validate() error {
	if f.Content == "" {
		return &ValidationError{Field: "content", Message: "Reply cannot be empty."}
	}
	return nil
}
