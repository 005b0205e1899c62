// Package auth resolves the bearer keys used by backend services and the
// cron scheduler into request Actors.
package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"sync"

	"golang.org/x/crypto/bcrypt"

	"dinerbell/internal/types"
)

// bcryptCost is used by HashKey when provisioning new keys.
const bcryptCost = 12

// Actor IDs of the two key holders.
const (
	ServiceActorID = "service"
	CronActorID    = "cron"
)

// PasswordHasher abstracts bcrypt for testability.
type PasswordHasher interface {
	CompareHashAndPassword(hashedPassword, password string) error
}

type bcryptHasher struct{}

func (bcryptHasher) CompareHashAndPassword(hashedPassword, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(password))
}

// HashKey returns the bcrypt hash to configure for a new plaintext key.
func HashKey(key string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcryptCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// HashToken is the hex SHA-256 of token. Verified keys are cached under it
// so bcrypt runs once per key per process.
func HashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

type keyGrant struct {
	hash  string
	actor types.Actor
}

// KeyAuthenticator checks bearer keys against configured bcrypt hashes.
type KeyAuthenticator struct {
	grants []keyGrant
	hasher PasswordHasher
	logger *slog.Logger

	mu       sync.RWMutex
	verified map[string]types.Actor
}

// KeyAuthenticatorConfig holds the key hashes. An empty hash disables that
// key.
type KeyAuthenticatorConfig struct {
	ServiceKeyHash string
	CronKeyHash    string
	Hasher         PasswordHasher
	Logger         *slog.Logger
}

// NewKeyAuthenticator grants the service key every API scope and the cron
// key only cron:run.
func NewKeyAuthenticator(cfg KeyAuthenticatorConfig) *KeyAuthenticator {
	hasher := cfg.Hasher
	if hasher == nil {
		hasher = bcryptHasher{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var grants []keyGrant
	if cfg.ServiceKeyHash != "" {
		grants = append(grants, keyGrant{
			hash: cfg.ServiceKeyHash,
			actor: types.Actor{
				ID:   ServiceActorID,
				Type: types.ActorTypeService,
				Scopes: []string{
					types.ScopeNotificationsWrite,
					types.ScopeTokensWrite,
					types.ScopeScheduledRead,
					types.ScopeScheduledWrite,
				},
			},
		})
	}
	if cfg.CronKeyHash != "" {
		grants = append(grants, keyGrant{
			hash: cfg.CronKeyHash,
			actor: types.Actor{
				ID:     CronActorID,
				Type:   types.ActorTypeCron,
				Scopes: []string{types.ScopeCronRun},
			},
		})
	}

	return &KeyAuthenticator{
		grants:   grants,
		hasher:   hasher,
		logger:   logger,
		verified: make(map[string]types.Actor),
	}
}

// ResolveToken returns the Actor for token or ErrCodeAuthTokenInvalid.
func (a *KeyAuthenticator) ResolveToken(_ context.Context, token string) (*types.Actor, error) {
	digest := HashToken(token)

	a.mu.RLock()
	actor, ok := a.verified[digest]
	a.mu.RUnlock()
	if ok {
		return &actor, nil
	}

	for _, g := range a.grants {
		err := a.hasher.CompareHashAndPassword(g.hash, token)
		if err == nil {
			a.mu.Lock()
			a.verified[digest] = g.actor
			a.mu.Unlock()
			actor := g.actor
			return &actor, nil
		}
		if !errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			a.logger.Error("api key hash comparison failed", "actor_id", g.actor.ID, "error", err)
		}
	}

	return nil, types.NewAppError(types.ErrCodeAuthTokenInvalid, "invalid api key", nil)
}
