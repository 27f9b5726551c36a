package auth

import (
	"errors"
	"net/mail"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/tcriess/hobbyhub-chat/apperrors"
	"github.com/tcriess/hobbyhub-chat/moderation"
	"github.com/tcriess/hobbyhub-chat/persistence"
	"github.com/tcriess/hobbyhub-chat/types"
	"golang.org/x/crypto/bcrypt"
)

const minPasswordLength = 6

var errInvalidCredentials = apperrors.NewValidationError("invalid email or password")

// HobbyFilter reports restricted words in a hobby name. *moderation.Gate implements it.
type HobbyFilter interface {
	MatchHobby(hobby string) (string, bool)
}

// Accounts registers users with a bcrypt hashed password and checks their logins.
type Accounts struct {
	persister persistence.Persister
	hobbies   HobbyFilter
	cost      int
	logger    hclog.Logger

	// serializes the uniqueness check and the insert
	sync.Mutex
}

// NewAccounts creates the account store. hobbies may be nil, then hobby names are not checked.
func NewAccounts(persister persistence.Persister, hobbies HobbyFilter, logger hclog.Logger) *Accounts {
	return &Accounts{persister: persister, hobbies: hobbies, cost: bcrypt.DefaultCost, logger: logger}
}

// Register stores a new user. Email and username must be unique. The account is marked as verified, the
// verification step happens before registration. The returned user carries no password hash.
func (a *Accounts) Register(user types.User, password string) (*types.User, error) {
	user.Username = strings.TrimSpace(user.Username)
	user.Email = strings.ToLower(strings.TrimSpace(user.Email))
	if user.Username == "" {
		return nil, apperrors.NewValidationError("username is required")
	}
	if _, err := mail.ParseAddress(user.Email); err != nil {
		return nil, apperrors.NewValidationError("a valid email is required")
	}
	if a.hobbies != nil {
		for _, hobby := range []string{user.Hobby, user.CustomHobby} {
			if word, ok := a.hobbies.MatchHobby(hobby); ok {
				a.logger.Debug("restricted hobby", "hobby", hobby, "keyword", word)
				return nil, apperrors.NewValidationError(moderation.RestrictedHobbyReason)
			}
		}
	}
	if len(password) < minPasswordLength {
		return nil, apperrors.NewValidationError("password must be at least 6 characters")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), a.cost)
	if err != nil {
		return nil, err
	}

	a.Lock()
	defer a.Unlock()
	users, err := a.persister.GetUsers()
	if err != nil {
		return nil, err
	}
	for _, u := range users {
		if u.Email == user.Email || strings.EqualFold(u.Username, user.Username) {
			return nil, apperrors.NewConflictError("email or username already taken")
		}
	}
	user.Id = uuid.NewString()
	user.PasswordHash = string(hash)
	user.IsVerified = true
	if err := a.persister.StoreUser(user); err != nil {
		return nil, err
	}
	a.logger.Info("user registered", "user", user.Id, "username", user.Username)
	public := user.Public()
	return &public, nil
}

// Login returns the user with the given email if the password matches.
func (a *Accounts) Login(email, password string) (*types.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	users, err := a.persister.GetUsers()
	if err != nil {
		return nil, err
	}
	for _, u := range users {
		if u.Email != email {
			continue
		}
		err = bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password))
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return nil, errInvalidCredentials
		}
		if err != nil {
			return nil, err
		}
		public := u.Public()
		return &public, nil
	}
	return nil, errInvalidCredentials
}

// ByEmail returns the registered user with the given email.
func (a *Accounts) ByEmail(email string) (*types.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	users, err := a.persister.GetUsers()
	if err != nil {
		return nil, err
	}
	for _, u := range users {
		if u.Email == email {
			public := u.Public()
			return &public, nil
		}
	}
	return nil, apperrors.NewNotFoundError("no user with email " + email)
}
