package forum

import (
	"errors"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// NewUser builds an unsaved user with a bcrypt hash of password.
func NewUser(username, email, password string, cost int) (*User, error) {
	u := &User{
		Username:   username,
		Email:      email,
		DateJoined: time.Now().UTC(),
	}
	if err := u.SetPassword(password, cost); err != nil {
		return nil, err
	}
	return u, nil
}

// SetPassword stores a salted bcrypt hash. A cost outside bcrypt's range
// falls back to bcrypt.DefaultCost.
func (u *User) SetPassword(password string, cost int) error {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return err
	}
	u.PasswordHash = string(hash)
	return nil
}

func (u *User) PasswordMatches(input string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(input))
	if err != nil {
		switch {
		case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
			return false, nil
		default:
			return false, err
		}
	}
	return true, nil
}

func (u *User) Sanitize() {
	u.PasswordHash = ""
}
