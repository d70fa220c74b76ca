package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/exp/slog"
)

const (
	JWTAccessTokenExpirationTime = 30 * time.Minute
	JWTIssuer                    = "imagehost"
	TokenTypeBearer              = "bearer"

	// bcrypt only reads the first 72 bytes of a password.
	bcryptMaxPasswordLen = 72
)

type UserStore interface {
	CreateUser(ctx context.Context, email, passwordHash string) (User, error)
	GetUserByEmail(ctx context.Context, email string) (User, error)
}

// Credentials hashes passwords and issues/validates HS256 bearer tokens whose
// subject is the user's email.
type Credentials struct {
	users  UserStore
	secret []byte
	ttl    time.Duration
	cost   int
	now    func() time.Time
}

func NewCredentials(users UserStore, secret string, ttl time.Duration, cost int) *Credentials {
	if ttl <= 0 {
		ttl = JWTAccessTokenExpirationTime
	}

	return &Credentials{
		users:  users,
		secret: []byte(secret),
		ttl:    ttl,
		cost:   cost,
		now:    time.Now,
	}
}

func (c *Credentials) Register(ctx context.Context, email, password string) (User, error) {
	if email == "" || password == "" {
		return User{}, fmt.Errorf("%w: email and password are required", ErrInvalidInput)
	}

	hash, err := bcrypt.GenerateFromPassword(bcryptPassword(password), c.cost)
	if err != nil {
		return User{}, fmt.Errorf("hash password: %w", err)
	}

	user, err := c.users.CreateUser(ctx, email, string(hash))
	if err != nil {
		return User{}, err
	}

	slog.Info("Registered a user", "user_id", user.ID)

	user.PasswordHash = ""

	return user, nil
}

func (c *Credentials) Authenticate(ctx context.Context, email, password string) (*Token, error) {
	user, err := c.users.GetUserByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}

	if !verifyPassword(password, user.PasswordHash) {
		return nil, ErrInvalidCredentials
	}

	return c.issue(user)
}

func (c *Credentials) ResolveUser(ctx context.Context, token string) (User, error) {
	claims, err := c.verify(token)
	if err != nil {
		slog.Debug("Rejected a bearer token", "error", err)
		return User{}, ErrUnauthorized
	}

	user, err := c.users.GetUserByEmail(ctx, claims.Subject)
	if errors.Is(err, ErrNotFound) {
		return User{}, ErrUnauthorized
	}
	if err != nil {
		return User{}, err
	}

	user.PasswordHash = ""

	return user, nil
}

func (c *Credentials) issue(user User) (*Token, error) {
	now := c.now()
	claims := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer:    JWTIssuer,
		Subject:   user.Email,
		ExpiresAt: jwt.NewNumericDate(now.Add(c.ttl)),
		IssuedAt:  jwt.NewNumericDate(now),
	})

	token, err := claims.SignedString(c.secret)
	if err != nil {
		return nil, fmt.Errorf("sign token: %w", err)
	}

	return &Token{Access: token, Type: TokenTypeBearer}, nil
}

// verify checks the signature with the library and the expiry against c.now.
func (c *Credentials) verify(token string) (*jwt.RegisteredClaims, error) {
	claims := &jwt.RegisteredClaims{}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)

	if _, err := parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) { return c.secret, nil }); err != nil {
		return nil, err
	}

	if !claims.VerifyExpiresAt(c.now(), true) {
		return nil, errors.New("token expired")
	}

	if claims.Subject == "" {
		return nil, errors.New("token has no subject")
	}

	return claims, nil
}

func verifyPassword(pwd, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), bcryptPassword(pwd))
	return err == nil
}

func bcryptPassword(pwd string) []byte {
	b := []byte(pwd)
	if len(b) > bcryptMaxPasswordLen {
		b = b[:bcryptMaxPasswordLen]
	}

	return b
}
