// Package auth guards the reconstruction endpoints. Pipeline runs are
// expensive GPU work, so deployments exposed beyond localhost enable
// token-based access control.
package auth

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrUserNotFound = errors.New("user not found")
	ErrInvalidCreds = errors.New("invalid credentials")
	ErrUserExists   = errors.New("username already exists")
)

// TokenLifetime is how long an issued token stays valid.
const TokenLifetime = 30 * 24 * time.Hour

type User struct {
	ID           int64  `json:"id"`
	Username     string `json:"username"`
	PasswordHash string `json:"-"`
	CreatedAt    int64  `json:"created_at"`
}

type Claims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// Service stores users in the job database and issues HS256 tokens.
type Service struct {
	db     *sql.DB
	secret []byte
}

func NewService(db *sql.DB, secret string) *Service {
	return &Service{db: db, secret: []byte(secret)}
}

// EnsureSchema creates the users table if it doesn't exist.
func (s *Service) EnsureSchema() error {
	const schema = `CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		created_at INTEGER NOT NULL
	)`
	_, err := s.db.Exec(schema)
	return err
}

func (s *Service) userCount() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM users`).Scan(&n)
	return n, err
}

// CreateDefaultUser seeds an admin/admin account into an empty user
// table so a fresh install can log in and change the password.
func (s *Service) CreateDefaultUser() error {
	n, err := s.userCount()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	return s.Register("admin", "admin")
}

func hashPassword(password string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(h), nil
}

func (s *Service) Register(username, password string) error {
	var one int
	switch err := s.db.QueryRow(`SELECT 1 FROM users WHERE username = ?`, username).Scan(&one); {
	case err == nil:
		return ErrUserExists
	case !errors.Is(err, sql.ErrNoRows):
		return err
	}

	hash, err := hashPassword(password)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT INTO users (username, password_hash, created_at) VALUES (?, ?, ?)`,
		username, hash, time.Now().Unix())
	return err
}

// Login checks the password and returns a signed token. Bad usernames
// and bad passwords both come back as ErrInvalidCreds so callers don't
// leak which usernames exist.
func (s *Service) Login(username, password string) (string, error) {
	var hash string
	err := s.db.QueryRow(`SELECT password_hash FROM users WHERE username = ?`, username).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrInvalidCreds
	}
	if err != nil {
		return "", err
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		return "", ErrInvalidCreds
	}

	claims := &Claims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(TokenLifetime)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

func (s *Service) VerifyToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims,
		func(*jwt.Token) (interface{}, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

// ChangePassword replaces a user's password hash.
func (s *Service) ChangePassword(username, newPassword string) error {
	hash, err := hashPassword(newPassword)
	if err != nil {
		return err
	}
	res, err := s.db.Exec(`UPDATE users SET password_hash = ? WHERE username = ?`, hash, username)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (s *Service) ListUsers() ([]User, error) {
	rows, err := s.db.Query(`SELECT id, username, created_at FROM users ORDER BY username`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Username, &u.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// DeleteUser removes an account, refusing to delete the last one so the
// deployment cannot lock itself out.
func (s *Service) DeleteUser(username string) error {
	n, err := s.userCount()
	if err != nil {
		return err
	}
	if n <= 1 {
		return errors.New("cannot delete the last user")
	}
	_, err = s.db.Exec(`DELETE FROM users WHERE username = ?`, username)
	return err
}
