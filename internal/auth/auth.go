package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"rapidclip/pkg/models"
)

var (
	// ErrInvalidToken is returned for unknown tokens
	ErrInvalidToken = errors.New("invalid token")

	// ErrTokenExpired is returned for expired or revoked tokens
	ErrTokenExpired = errors.New("token expired or revoked")

	// ErrWrongSource is returned when a token is used for another source
	ErrWrongSource = errors.New("token not valid for this source")
)

// Manager issues and validates source publish tokens
type Manager struct {
	tokens map[string]*models.SourceToken // token -> SourceToken
	mu     sync.RWMutex

	// Config
	defaultExpiration time.Duration
	maxExpiration     time.Duration
}

// New creates a new auth manager
func New(defaultExpiration, maxExpiration time.Duration) *Manager {
	if defaultExpiration <= 0 {
		defaultExpiration = 1 * time.Hour
	}
	if maxExpiration < defaultExpiration {
		maxExpiration = defaultExpiration
	}
	return &Manager{
		tokens:            make(map[string]*models.SourceToken),
		defaultExpiration: defaultExpiration,
		maxExpiration:     maxExpiration,
	}
}

// GenerateSourceToken creates a new publish token for a source.
// expiresIn <= 0 uses the default expiration; longer requests are capped.
func (m *Manager) GenerateSourceToken(sourceKey string, expiresIn time.Duration) (*models.SourceToken, error) {
	// Generate secure random token
	tokenBytes := make([]byte, 32)
	if _, err := rand.Read(tokenBytes); err != nil {
		return nil, fmt.Errorf("failed to generate token: %w", err)
	}
	tokenString := hex.EncodeToString(tokenBytes)

	expiration := expiresIn
	if expiration <= 0 {
		expiration = m.defaultExpiration
	}

	// Cap at max expiration
	if expiration > m.maxExpiration {
		expiration = m.maxExpiration
	}

	now := time.Now()
	token := &models.SourceToken{
		Token:     tokenString,
		SourceKey: sourceKey,
		CreatedAt: now,
		ExpiresAt: now.Add(expiration),
	}

	m.mu.Lock()
	m.tokens[tokenString] = token
	m.mu.Unlock()

	return token, nil
}

// ValidateToken checks if a token allows publishing to a source
func (m *Manager) ValidateToken(tokenString, sourceKey string) error {
	m.mu.RLock()
	token, exists := m.tokens[tokenString]
	var snapshot models.SourceToken
	if exists {
		snapshot = *token
	}
	m.mu.RUnlock()

	if !exists {
		return ErrInvalidToken
	}

	if !snapshot.IsValid() {
		return ErrTokenExpired
	}

	if subtle.ConstantTimeCompare([]byte(snapshot.SourceKey), []byte(sourceKey)) != 1 {
		return ErrWrongSource
	}

	return nil
}

// RevokeToken revokes a single token
func (m *Manager) RevokeToken(tokenString string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if token, exists := m.tokens[tokenString]; exists {
		token.IsRevoked = true
	}
}

// RevokeSourceTokens revokes every token issued for a source
func (m *Manager) RevokeSourceTokens(sourceKey string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	revoked := 0
	for _, token := range m.tokens {
		if token.SourceKey == sourceKey && !token.IsRevoked {
			token.IsRevoked = true
			revoked++
		}
	}
	return revoked
}

// CleanupExpiredTokens removes all expired and revoked tokens
func (m *Manager) CleanupExpiredTokens() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for tokenString, token := range m.tokens {
		if !token.IsValid() {
			delete(m.tokens, tokenString)
			removed++
		}
	}
	return removed
}

// RunCleanup calls CleanupExpiredTokens every interval until ctx is done
func (m *Manager) RunCleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := m.CleanupExpiredTokens(); removed > 0 {
				log.Printf("Removed %d expired tokens", removed)
			}
		}
	}
}

// GetTokenCount returns the number of stored tokens
func (m *Manager) GetTokenCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.tokens)
}
