package locket

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mmdatafocus/restore_backend/restore"
	"github.com/mmdatafocus/restore_backend/utils"
	"github.com/sirupsen/logrus"
)

const (
	credentialCacheKey = "auth"
	refreshLockType    = "lock:auth-refresh"
	refreshLockTTL     = 15 * time.Second
)

type AuthConfig struct {
	BaseURL  string
	APIKey   string
	Email    string
	Password string
}

// tokenCache shares the current token between instances.
type tokenCache interface {
	Load(ctx context.Context) (*cachedToken, error)
	Store(ctx context.Context, tok cachedToken, ttl time.Duration) error
	Evict(ctx context.Context) error
}

type redisTokenCache struct{}

func (redisTokenCache) Load(ctx context.Context) (*cachedToken, error) {
	return utils.RetrieveRedis[cachedToken](ctx, credentialCacheKey)
}

func (redisTokenCache) Store(ctx context.Context, tok cachedToken, ttl time.Duration) error {
	return utils.StoreRedis(ctx, tok, credentialCacheKey, ttl)
}

func (redisTokenCache) Evict(ctx context.Context) error {
	return utils.RemoveRedisItem[cachedToken](ctx, credentialCacheKey)
}

// FirebaseAuth signs in with email and password and hands out id tokens. When
// redis is available the token is shared between instances, and a redis lock
// keeps them from signing in at the same time.
type FirebaseAuth struct {
	cfg    AuthConfig
	http   *http.Client
	cache  tokenCache
	logger *logrus.Logger
	now    func() time.Time

	mu   sync.Mutex
	last string
}

func NewFirebaseAuth(cfg AuthConfig, httpClient *http.Client, logger *logrus.Logger) *FirebaseAuth {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &FirebaseAuth{cfg: cfg, http: httpClient, cache: redisTokenCache{}, logger: logger, now: time.Now}
}

// Refresh returns a token newer than the one handed out last. A token another
// instance stored in redis is reused. If redis still holds the token being
// replaced it is evicted so no instance keeps handing it out, and a fresh
// sign-in happens.
func (a *FirebaseAuth) Refresh(ctx context.Context) (restore.Credential, error) {
	if c, ok := a.fromCache(ctx); ok {
		return c, nil
	}

	release, err := utils.ObtainLock(ctx, refreshLockType, a.cfg.Email, refreshLockTTL, "locket", "Refresh")
	if err != nil && !errors.Is(err, utils.ErrLockNotObtained) {
		a.logger.WithField("field", "auth").Warn("refresh lock unavailable; signing in without it: " + err.Error())
	}
	defer release()

	if err == nil {
		// another instance may have finished while we waited for the lock
		if c, ok := a.fromCache(ctx); ok {
			return c, nil
		}
	}

	c, err := a.signIn(ctx)
	if err != nil {
		return restore.Credential{}, err
	}
	a.remember(c.Token)

	ttl := c.ExpiresAt.Sub(a.now())
	if ttl > 0 {
		if err := a.cache.Store(ctx, cachedToken{Token: c.Token, ExpiresAt: c.ExpiresAt.Unix()}, ttl); err != nil {
			a.logger.WithField("field", "auth").Warn("failed to cache credential: " + err.Error())
		}
	}
	return c, nil
}

func (a *FirebaseAuth) fromCache(ctx context.Context) (restore.Credential, bool) {
	cached, err := a.cache.Load(ctx)
	if err != nil {
		a.logger.WithField("field", "auth").Warn("credential cache read failed: " + err.Error())
		return restore.Credential{}, false
	}
	if cached == nil || cached.Token == "" {
		return restore.Credential{}, false
	}
	exp := time.Unix(cached.ExpiresAt, 0)
	if !a.now().Add(time.Minute).Before(exp) {
		return restore.Credential{}, false
	}

	a.mu.Lock()
	stale := cached.Token == a.last
	if !stale {
		a.last = cached.Token
	}
	a.mu.Unlock()

	if stale {
		if err := a.cache.Evict(ctx); err != nil {
			a.logger.WithField("field", "auth").Warn("failed to evict rejected credential: " + err.Error())
		}
		return restore.Credential{}, false
	}
	return restore.Credential{Token: cached.Token, ExpiresAt: exp}, true
}

func (a *FirebaseAuth) remember(token string) {
	a.mu.Lock()
	a.last = token
	a.mu.Unlock()
}

func (a *FirebaseAuth) signIn(ctx context.Context) (restore.Credential, error) {
	endpoint := a.cfg.BaseURL + "/v1/accounts:signInWithPassword"
	if a.cfg.APIKey != "" {
		endpoint += "?key=" + url.QueryEscape(a.cfg.APIKey)
	}
	b, err := json.Marshal(signInRequest{Email: a.cfg.Email, Password: a.cfg.Password, ReturnSecureToken: true})
	if err != nil {
		return restore.Credential{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(b))
	if err != nil {
		return restore.Credential{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.http.Do(req)
	if err != nil {
		return restore.Credential{}, fmt.Errorf("%w: sign in: %v", utils.ErrUpstream, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return restore.Credential{}, signInError(resp.StatusCode, body)
	}

	var parsed signInResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return restore.Credential{}, fmt.Errorf("%w: decode sign in: %v", utils.ErrUpstream, err)
	}
	if parsed.IdToken == "" {
		return restore.Credential{}, fmt.Errorf("%w: sign in returned no token", utils.ErrAuth)
	}
	return restore.Credential{Token: parsed.IdToken, ExpiresAt: a.expiry(parsed)}, nil
}

// expiry prefers the exp claim of the token and falls back to expiresIn.
func (a *FirebaseAuth) expiry(r signInResponse) time.Time {
	if exp, ok := utils.TokenExpiry(r.IdToken); ok {
		return exp
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(r.ExpiresIn)); err == nil && secs > 0 {
		return a.now().Add(time.Duration(secs) * time.Second)
	}
	return time.Time{}
}

func signInError(code int, body []byte) error {
	var env errorEnvelope
	var fe firebaseError
	if err := json.Unmarshal(body, &env); err == nil && len(env.Error) > 0 {
		_ = json.Unmarshal(env.Error, &fe)
	}
	msg := fe.Message
	if msg == "" {
		msg = strings.TrimSpace(string(body))
	}
	if code == http.StatusBadRequest || code == http.StatusUnauthorized || code == http.StatusForbidden {
		return fmt.Errorf("%w: sign in rejected (%d): %s", utils.ErrAuth, code, msg)
	}
	return fmt.Errorf("%w: sign in returned %d: %s", utils.ErrUpstream, code, msg)
}
