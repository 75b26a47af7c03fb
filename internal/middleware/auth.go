// Package middleware содержит HTTP middleware сервиса комиссионных выплат.
package middleware

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
	"time"

	"github.com/mmeshcher/redio/internal/address"
)

type contextKey string

const identityKey contextKey = "identity"

const (
	authCookieName = "auth_token"
	authCookieTTL  = 365 * 24 * time.Hour
	bearerPrefix   = "Bearer "
)

// AuthMiddleware проверяет подписанный токен участника из cookie или заголовка Authorization.
// Токен выдаётся только после проверки подписи challenge ключом участника.
type AuthMiddleware struct {
	secretKey  []byte
	challenges *ChallengeStore
}

// NewAuthMiddleware создаёт новый экземпляр AuthMiddleware с указанным секретным ключом.
// Пустой секрет заменяется случайным: токены перестают действовать после перезапуска.
func NewAuthMiddleware(secret string) *AuthMiddleware {
	key := []byte(secret)
	if len(key) == 0 {
		randomKey := make([]byte, 32)
		if _, err := rand.Read(randomKey); err == nil {
			key = randomKey
		} else {
			key = []byte("default-secret-key")
		}
	}

	return &AuthMiddleware{
		secretKey:  key,
		challenges: NewChallengeStore(challengeTTL),
	}
}

// Challenge выдаёт одноразовый challenge для входа участника.
func (a *AuthMiddleware) Challenge(identity address.Address) (string, time.Time, error) {
	return a.challenges.Issue(identity)
}

// Authenticate проверяет подпись challenge и возвращает токен участника, устанавливая cookie.
func (a *AuthMiddleware) Authenticate(w http.ResponseWriter, identity address.Address, nonce string, signature []byte) (string, error) {
	if err := a.challenges.Verify(identity, nonce, signature); err != nil {
		return "", err
	}
	return a.SetAuthCookie(w, identity), nil
}

// Middleware проверяет токен и добавляет адрес участника в контекст запроса.
func (a *AuthMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := tokenFromRequest(r)
		if token == "" {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		identity, ok := a.parseToken(token)
		if !ok {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), identityKey, identity)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func tokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, bearerPrefix) {
		return strings.TrimSpace(strings.TrimPrefix(h, bearerPrefix))
	}
	if cookie, err := r.Cookie(authCookieName); err == nil {
		return cookie.Value
	}
	return ""
}

// IssueToken возвращает подписанный токен для адреса участника.
func (a *AuthMiddleware) IssueToken(identity address.Address) string {
	return a.sign(identity.String())
}

// SetAuthCookie устанавливает cookie авторизации для указанного участника и возвращает токен.
func (a *AuthMiddleware) SetAuthCookie(w http.ResponseWriter, identity address.Address) string {
	value := a.IssueToken(identity)

	cookie := &http.Cookie{
		Name:     authCookieName,
		Value:    value,
		Path:     "/",
		Expires:  time.Now().Add(authCookieTTL),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}

	http.SetCookie(w, cookie)
	return value
}

func (a *AuthMiddleware) sign(subject string) string {
	mac := hmac.New(sha256.New, a.secretKey)
	mac.Write([]byte(subject))
	return subject + "." + hex.EncodeToString(mac.Sum(nil))
}

func (a *AuthMiddleware) parseToken(token string) (address.Address, bool) {
	subject, signature, found := strings.Cut(token, ".")
	if !found {
		return address.Address{}, false
	}

	_, expected, _ := strings.Cut(a.sign(subject), ".")
	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return address.Address{}, false
	}

	identity, err := address.Parse(subject)
	if err != nil {
		return address.Address{}, false
	}

	return identity, true
}

// GetIdentityFromContext извлекает адрес участника из контекста запроса.
func GetIdentityFromContext(ctx context.Context) (address.Address, bool) {
	id, ok := ctx.Value(identityKey).(address.Address)
	return id, ok
}
