package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/vyrodovalexey/cartsync/internal/model"
)

// DefaultOTPTTL is how long a one-time password stays valid.
const DefaultOTPTTL = 10 * time.Minute

const otpDigits = 6

// ErrInvalidUsersConfig is returned for a malformed users string.
var ErrInvalidUsersConfig = errors.New("invalid users config")

// OTPSender delivers one-time passwords.
type OTPSender interface {
	SendOTP(ctx context.Context, email, otp string) error
}

// OTPSenderFunc adapts a function to OTPSender.
type OTPSenderFunc func(ctx context.Context, email, otp string) error

// SendOTP calls f.
func (f OTPSenderFunc) SendOTP(ctx context.Context, email, otp string) error {
	return f(ctx, email, otp)
}

type account struct {
	user     model.User
	hash     []byte
	verified bool
}

type pendingOTP struct {
	code      string
	expiresAt time.Time
}

// UserDirectory holds accounts with bcrypt-hashed passwords. Registration
// creates an unverified account and sends a one-time password; VerifyOTP
// activates it.
type UserDirectory struct {
	mu       sync.RWMutex
	accounts map[string]*account // lower-cased email -> account
	otps     map[string]pendingOTP
	sender   OTPSender
	otpTTL   time.Duration
	cost     int
	now      func() time.Time
}

// UserDirectoryOption configures a UserDirectory.
type UserDirectoryOption func(*UserDirectory)

// WithBcryptCost sets the hashing cost for registered passwords.
func WithBcryptCost(cost int) UserDirectoryOption {
	return func(d *UserDirectory) {
		d.cost = cost
	}
}

// WithOTPTTL sets the one-time password lifetime.
func WithOTPTTL(ttl time.Duration) UserDirectoryOption {
	return func(d *UserDirectory) {
		d.otpTTL = ttl
	}
}

// NewUserDirectory creates a directory seeded from a configuration string
// in the format "email1:hash1,email2:hash2". Seeded accounts are verified.
// An empty string yields an empty directory.
func NewUserDirectory(usersConfig string, sender OTPSender, opts ...UserDirectoryOption) (*UserDirectory, error) {
	d := &UserDirectory{
		accounts: make(map[string]*account),
		otps:     make(map[string]pendingOTP),
		sender:   sender,
		otpTTL:   DefaultOTPTTL,
		cost:     bcrypt.DefaultCost,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}

	for _, entry := range strings.Split(usersConfig, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		// Bcrypt hashes contain '$' but no colons.
		idx := strings.Index(entry, ":")
		if idx < 0 {
			return nil, fmt.Errorf("%w: expected email:hash", ErrInvalidUsersConfig)
		}

		email := normalizeEmail(entry[:idx])
		hash := entry[idx+1:]
		if email == "" || hash == "" {
			return nil, fmt.Errorf("%w: email and hash must not be empty", ErrInvalidUsersConfig)
		}

		d.accounts[email] = &account{
			user:     newUser(email, ""),
			hash:     []byte(hash),
			verified: true,
		}
	}

	return d, nil
}

// Register creates an unverified account and sends it a one-time password.
func (d *UserDirectory) Register(ctx context.Context, username, email, password string) (*model.User, error) {
	email = normalizeEmail(email)

	hash, err := bcrypt.GenerateFromPassword([]byte(password), d.cost)
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}

	d.mu.Lock()
	if existing, ok := d.accounts[email]; ok && existing.verified {
		d.mu.Unlock()
		return nil, ErrUserExists
	}
	acct := &account{user: newUser(email, username), hash: hash}
	d.accounts[email] = acct
	user := acct.user
	d.mu.Unlock()

	if err := d.sendOTP(ctx, email); err != nil {
		return nil, err
	}
	return &user, nil
}

// Authenticate checks a password and returns the account's user.
func (d *UserDirectory) Authenticate(email, password string) (*model.User, error) {
	d.mu.RLock()
	acct, ok := d.accounts[normalizeEmail(email)]
	d.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: unknown user", ErrInvalidCredentials)
	}

	if err := bcrypt.CompareHashAndPassword(acct.hash, []byte(password)); err != nil {
		return nil, fmt.Errorf("%w: wrong password", ErrInvalidCredentials)
	}

	if !acct.verified {
		return nil, ErrNotVerified
	}

	user := acct.user
	return &user, nil
}

// VerifyOTP consumes a one-time password and marks the account verified.
func (d *UserDirectory) VerifyOTP(email, otp string) (*model.User, error) {
	email = normalizeEmail(email)

	d.mu.Lock()
	defer d.mu.Unlock()

	pending, ok := d.otps[email]
	if !ok || d.now().After(pending.expiresAt) {
		delete(d.otps, email)
		return nil, ErrInvalidOTP
	}
	if subtle.ConstantTimeCompare([]byte(pending.code), []byte(strings.TrimSpace(otp))) != 1 {
		return nil, ErrInvalidOTP
	}

	acct, ok := d.accounts[email]
	if !ok {
		return nil, ErrInvalidOTP
	}

	delete(d.otps, email)
	acct.verified = true
	user := acct.user
	return &user, nil
}

func (d *UserDirectory) sendOTP(ctx context.Context, email string) error {
	code, err := generateOTP()
	if err != nil {
		return fmt.Errorf("generating one-time password: %w", err)
	}

	d.mu.Lock()
	d.otps[email] = pendingOTP{code: code, expiresAt: d.now().Add(d.otpTTL)}
	d.mu.Unlock()

	if d.sender == nil {
		return nil
	}
	if err := d.sender.SendOTP(ctx, email, code); err != nil {
		return fmt.Errorf("sending one-time password: %w", err)
	}
	return nil
}

func generateOTP() (string, error) {
	limit := big.NewInt(1_000_000)
	n, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", otpDigits, n.Int64()), nil
}

func newUser(email, username string) model.User {
	if username == "" {
		username, _, _ = strings.Cut(email, "@")
	}
	return model.User{
		// Derived from the email so seeded users keep their ids across restarts.
		ID:       model.ID(uuid.NewSHA1(uuid.NameSpaceURL, []byte("mailto:"+email)).String()),
		Username: username,
		Email:    email,
		Role:     "customer",
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
