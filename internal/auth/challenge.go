package auth

import (
	"crypto/subtle"
	"fmt"
	"sync"
	"time"

	"github.com/BradenHooton/campusgate/internal/models"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const challengeIssuer = "campusgate"

// ChallengeConfig controls one-time code challenges
type ChallengeConfig struct {
	TTL       time.Duration
	MaxTries  int
	FixedCode string // development only; replaces generated codes
}

// challenge is one outstanding second-step code. Only the TOTP secret and
// issue time are kept; the code is recomputed on verification.
type challenge struct {
	userID    string
	secret    string
	issuedAt  time.Time
	expiresAt time.Time
	failures  int
}

// ChallengeManager issues and verifies one-time login codes keyed by
// normalized identifier. A new challenge replaces any earlier one.
type ChallengeManager struct {
	mu         sync.Mutex
	challenges map[string]*challenge
	config     ChallengeConfig
	opts       totp.ValidateOpts
	now        func() time.Time
}

// NewChallengeManager creates a ChallengeManager; now defaults to time.Now
func NewChallengeManager(config ChallengeConfig, now func() time.Time) *ChallengeManager {
	if now == nil {
		now = time.Now
	}
	if config.MaxTries <= 0 {
		config.MaxTries = 1
	}
	return &ChallengeManager{
		challenges: make(map[string]*challenge),
		config:     config,
		opts: totp.ValidateOpts{
			Period:    30,
			Digits:    otp.DigitsSix,
			Algorithm: otp.AlgorithmSHA1,
		},
		now: now,
	}
}

// Issue starts a challenge for identifier and returns the code to deliver
func (m *ChallengeManager) Issue(identifier, userID string) (string, time.Time, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      challengeIssuer,
		AccountName: userID,
		SecretSize:  20,
		Algorithm:   m.opts.Algorithm,
		Digits:      m.opts.Digits,
	})
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to generate challenge secret: %w", err)
	}

	now := m.now()
	c := &challenge{
		userID:    userID,
		secret:    key.Secret(),
		issuedAt:  now,
		expiresAt: now.Add(m.config.TTL),
	}

	code := m.config.FixedCode
	if code == "" {
		code, err = totp.GenerateCodeCustom(c.secret, c.issuedAt, m.opts)
		if err != nil {
			return "", time.Time{}, fmt.Errorf("failed to generate challenge code: %w", err)
		}
	}

	m.mu.Lock()
	m.challenges[models.NormalizeIdentifier(identifier)] = c
	m.mu.Unlock()

	return code, c.expiresAt, nil
}

// Verify checks code against the outstanding challenge for identifier and
// returns the user it was issued for. A missing or expired challenge yields
// ErrExpired; a wrong code yields ErrInvalidCode and counts toward MaxTries,
// after which the challenge is discarded.
func (m *ChallengeManager) Verify(identifier, code string) (string, error) {
	key := models.NormalizeIdentifier(identifier)

	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.challenges[key]
	if !ok {
		return "", models.ErrExpired
	}

	if !m.now().Before(c.expiresAt) {
		delete(m.challenges, key)
		return "", models.ErrExpired
	}

	if !m.matches(c, code) {
		c.failures++
		if c.failures >= m.config.MaxTries {
			delete(m.challenges, key)
		}
		return "", models.ErrInvalidCode
	}

	delete(m.challenges, key)
	return c.userID, nil
}

func (m *ChallengeManager) matches(c *challenge, code string) bool {
	if m.config.FixedCode != "" {
		return subtle.ConstantTimeCompare([]byte(code), []byte(m.config.FixedCode)) == 1
	}
	// Validating at the issue time pins the code to the issuing time step
	valid, err := totp.ValidateCustom(code, c.secret, c.issuedAt, m.opts)
	return err == nil && valid
}

// Cleanup drops expired challenges and returns how many were removed
func (m *ChallengeManager) Cleanup() int {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for key, c := range m.challenges {
		if !now.Before(c.expiresAt) {
			delete(m.challenges, key)
			removed++
		}
	}
	return removed
}
