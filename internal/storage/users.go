package storage

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/waleed-se/walletd/internal/apperr"
)

// User is the thin account record auth/register glue sits on top of.
type User struct {
	ID           uuid.UUID `db:"id"`
	Email        string    `db:"email"`
	PasswordHash string    `db:"password_hash"`
	Verified     bool      `db:"verified"`
	WalletID     string    `db:"wallet_id"`
	CreatedAt    time.Time `db:"created_at"`
}

// EmailOTP is a one-time verification code issued at registration.
type EmailOTP struct {
	ID         uuid.UUID  `db:"id"`
	UserID     uuid.UUID  `db:"user_id"`
	Code       string     `db:"code"`
	ExpiresAt  time.Time  `db:"expires_at"`
	ConsumedAt *time.Time `db:"consumed_at"`
	CreatedAt  time.Time  `db:"created_at"`
}

// CreateUser inserts a new account.
func (s *Storage) CreateUser(u *User) error {
	_, err := s.db.Exec(`
		INSERT INTO users (id, email, password_hash, verified, wallet_id)
		VALUES ($1, $2, $3, $4, $5)
	`, u.ID, u.Email, u.PasswordHash, u.Verified, u.WalletID)
	if err != nil {
		if isUniqueViolation(err) {
			return apperr.Conflict("an account with email %s already exists", u.Email)
		}
		return fmt.Errorf("storage: create user: %w", err)
	}
	return nil
}

// UserByEmail looks up a user by email.
func (s *Storage) UserByEmail(email string) (*User, error) {
	var u User
	err := s.db.Get(&u, `
		SELECT id, email, password_hash, verified, wallet_id, created_at FROM users WHERE email = $1
	`, email)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("no account with email %s", email)
	}
	if err != nil {
		return nil, fmt.Errorf("storage: user by email: %w", err)
	}
	return &u, nil
}

// MarkVerified flips a user's verified flag.
func (s *Storage) MarkVerified(userID uuid.UUID) error {
	_, err := s.db.Exec(`UPDATE users SET verified = TRUE WHERE id = $1`, userID)
	if err != nil {
		return fmt.Errorf("storage: mark verified: %w", err)
	}
	return nil
}

// CreateOTP stores a freshly generated OTP for userID.
func (s *Storage) CreateOTP(o *EmailOTP) error {
	_, err := s.db.Exec(`
		INSERT INTO email_otps (id, user_id, code, expires_at) VALUES ($1, $2, $3, $4)
	`, o.ID, o.UserID, o.Code, o.ExpiresAt)
	if err != nil {
		return fmt.Errorf("storage: create otp: %w", err)
	}
	return nil
}

// ConsumeOTP atomically consumes a matching, unexpired OTP for userID.
func (s *Storage) ConsumeOTP(userID uuid.UUID, code string) error {
	res, err := s.db.Exec(`
		UPDATE email_otps SET consumed_at = now()
		WHERE user_id = $1 AND code = $2 AND consumed_at IS NULL AND expires_at > now()
	`, userID, code)
	if err != nil {
		return fmt.Errorf("storage: consume otp: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return apperr.Validation("invalid or expired verification code")
	}
	return nil
}
