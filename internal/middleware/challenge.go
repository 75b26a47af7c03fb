package middleware

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"sync"
	"time"

	"github.com/mmeshcher/redio/internal/address"
)

const (
	challengeTTL        = 5 * time.Minute
	challengeMaxPending = 10000
	challengePrefix     = "redio-session:"
)

var (
	// ErrChallengeUnknown возвращается для неизвестного, чужого или просроченного challenge.
	ErrChallengeUnknown = errors.New("unknown or expired challenge")
	// ErrBadSignature возвращается, если подпись не принадлежит ключу адреса.
	ErrBadSignature = errors.New("signature verification failed")
	// ErrTooManyChallenges возвращается при переполнении очереди ожидающих входа.
	ErrTooManyChallenges = errors.New("too many pending challenges")
)

type challenge struct {
	identity address.Address
	expires  time.Time
}

// ChallengeStore выдаёт одноразовые challenge для входа по подписи ed25519.
// Адрес участника используется как его открытый ключ.
type ChallengeStore struct {
	mu         sync.Mutex
	pending    map[string]challenge
	ttl        time.Duration
	maxPending int
	now        func() time.Time
}

// NewChallengeStore создаёт хранилище challenge с заданным временем жизни.
func NewChallengeStore(ttl time.Duration) *ChallengeStore {
	if ttl <= 0 {
		ttl = challengeTTL
	}
	return &ChallengeStore{
		pending:    make(map[string]challenge),
		ttl:        ttl,
		maxPending: challengeMaxPending,
		now:        time.Now,
	}
}

// ChallengeMessage возвращает байты, которые участник подписывает своим ключом.
func ChallengeMessage(nonce string) []byte {
	return []byte(challengePrefix + nonce)
}

// Issue создаёт challenge для адреса и возвращает его вместе со сроком действия.
func (s *ChallengeStore) Issue(identity address.Address) (string, time.Time, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", time.Time{}, err
	}
	nonce := hex.EncodeToString(raw)

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if len(s.pending) >= s.maxPending {
		s.purgeLocked(now)
		if len(s.pending) >= s.maxPending {
			return "", time.Time{}, ErrTooManyChallenges
		}
	}

	expires := now.Add(s.ttl)
	s.pending[nonce] = challenge{identity: identity, expires: expires}
	return nonce, expires, nil
}

// Verify проверяет подпись challenge и гасит его при успехе.
func (s *ChallengeStore) Verify(identity address.Address, nonce string, signature []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.pending[nonce]
	if !ok || c.identity != identity {
		return ErrChallengeUnknown
	}
	if !s.now().Before(c.expires) {
		delete(s.pending, nonce)
		return ErrChallengeUnknown
	}

	if len(signature) != ed25519.SignatureSize ||
		!ed25519.Verify(ed25519.PublicKey(identity[:]), ChallengeMessage(nonce), signature) {
		return ErrBadSignature
	}

	delete(s.pending, nonce)
	return nil
}

func (s *ChallengeStore) purgeLocked(now time.Time) {
	for nonce, c := range s.pending {
		if !now.Before(c.expires) {
			delete(s.pending, nonce)
		}
	}
}
