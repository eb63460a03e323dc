// Package auth provides account registration, email OTP verification and
// JWT-based login for walletd's thin account layer (C9). Depth here is
// intentionally shallow: the transactional core does not depend on it, the
// HTTP layer does.
package auth

import (
	"crypto/rand"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/waleed-se/walletd/internal/apperr"
	"github.com/waleed-se/walletd/internal/storage"
	"github.com/waleed-se/walletd/internal/walletsvc"
)

// MinPasswordLength matches the complexity floor the teacher enforces for
// its own local-secret passwords.
const MinPasswordLength = 8

// otpTTL is how long a registration OTP remains valid.
const otpTTL = 15 * time.Minute

// Mailer delivers a one-time verification code to an address. Production
// deployments supply an SMTP- or provider-backed implementation; walletd
// ships only the dev one.
type Mailer interface {
	SendOTP(email, code string) error
}

// Service implements registration, OTP verification and login.
type Service struct {
	store     *storage.Storage
	wallets   *walletsvc.Service
	mailer    Mailer
	jwtSecret []byte
}

// New builds a Service.
func New(store *storage.Storage, wallets *walletsvc.Service, mailer Mailer, jwtSecret string) *Service {
	return &Service{store: store, wallets: wallets, mailer: mailer, jwtSecret: []byte(jwtSecret)}
}

// Claims is the JWT payload walletd issues at login.
type Claims struct {
	UserID   string `json:"user_id"`
	WalletID string `json:"wallet_id"`
	jwt.RegisteredClaims
}

// Register creates an account, generates its custodial wallet and emails a
// verification OTP. The account is unverified until VerifyOTP succeeds.
func (s *Service) Register(email, password string) (*storage.User, error) {
	if len(password) < MinPasswordLength {
		return nil, apperr.Validation("password must be at least %d characters", MinPasswordLength)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindFatal, "hash password", err)
	}

	w, err := s.wallets.CreateWallet()
	if err != nil {
		return nil, err
	}

	user := &storage.User{
		ID:           uuid.New(),
		Email:        email,
		PasswordHash: string(hash),
		WalletID:     w.WalletID,
	}
	if err := s.store.CreateUser(user); err != nil {
		return nil, err
	}

	code, err := generateOTP()
	if err != nil {
		return nil, apperr.Wrap(apperr.KindFatal, "generate otp", err)
	}
	otp := &storage.EmailOTP{
		ID:        uuid.New(),
		UserID:    user.ID,
		Code:      code,
		ExpiresAt: time.Now().Add(otpTTL),
	}
	if err := s.store.CreateOTP(otp); err != nil {
		return nil, err
	}

	if s.mailer != nil {
		if err := s.mailer.SendOTP(email, code); err != nil {
			return nil, apperr.Wrap(apperr.KindTransient, "send otp email", err)
		}
	}

	return user, nil
}

// VerifyOTP consumes a pending OTP and marks the account verified.
func (s *Service) VerifyOTP(email, code string) error {
	user, err := s.store.UserByEmail(email)
	if err != nil {
		return err
	}
	if err := s.store.ConsumeOTP(user.ID, code); err != nil {
		return err
	}
	return s.store.MarkVerified(user.ID)
}

// Login verifies credentials and issues a bearer JWT carrying the user and
// wallet ids.
func (s *Service) Login(email, password string) (string, error) {
	user, err := s.store.UserByEmail(email)
	if err != nil {
		return "", apperr.Wrap(apperr.KindAuth, "invalid credentials", err)
	}
	if !user.Verified {
		return "", apperr.New(apperr.KindAuth, "account not verified")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return "", apperr.Wrap(apperr.KindAuth, "invalid credentials", err)
	}

	claims := Claims{
		UserID:   user.ID.String(),
		WalletID: user.WalletID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(24 * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return "", apperr.Wrap(apperr.KindFatal, "sign jwt", err)
	}
	return signed, nil
}

// VerifyToken parses and validates a bearer token, returning its claims.
func (s *Service) VerifyToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.jwtSecret, nil
	})
	if err != nil || !token.Valid {
		return nil, apperr.Wrap(apperr.KindAuth, "invalid or expired token", err)
	}
	return claims, nil
}

func generateOTP() (string, error) {
	const digits = "0123456789"
	buf := make([]byte, 6)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	for i, b := range buf {
		buf[i] = digits[int(b)%len(digits)]
	}
	return string(buf), nil
}
