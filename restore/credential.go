package restore

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/mmdatafocus/restore_backend/config"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// expirySkew refreshes a credential slightly before the upstream would reject it.
const expirySkew = time.Minute

// Credential is the upstream session token. ExpiresAt is zero when unknown.
type Credential struct {
	Token     string
	ExpiresAt time.Time
}

func (c Credential) expired(now time.Time) bool {
	if c.ExpiresAt.IsZero() {
		return false
	}
	return !now.Add(expirySkew).Before(c.ExpiresAt)
}

type AuthProvider interface {
	Refresh(ctx context.Context) (Credential, error)
}

// CredentialHolder is the single owner of the shared credential. The current
// value is swapped atomically, so readers see either the old or the new
// credential. Concurrent refreshes share one upstream call.
type CredentialHolder struct {
	provider AuthProvider
	current  atomic.Pointer[Credential]
	group    singleflight.Group
	timeout  time.Duration
	logger   *logrus.Logger
	now      func() time.Time
}

func NewCredentialHolder(provider AuthProvider, timeout time.Duration, logger *logrus.Logger) *CredentialHolder {
	return &CredentialHolder{
		provider: provider,
		timeout:  timeout,
		logger:   logger,
		now:      time.Now,
	}
}

// Ready reports whether a credential has been acquired at least once.
func (h *CredentialHolder) Ready() bool {
	return h.current.Load() != nil
}

// Current returns the stored credential, refreshing first when there is none
// or it is about to expire.
func (h *CredentialHolder) Current(ctx context.Context) (Credential, error) {
	if c := h.current.Load(); c != nil && !c.expired(h.now()) {
		return *c, nil
	}
	return h.Refresh(ctx)
}

func (h *CredentialHolder) Refresh(ctx context.Context) (Credential, error) {
	ch := h.group.DoChan("refresh", func() (interface{}, error) {
		callCtx := context.WithoutCancel(ctx)
		if h.timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(callCtx, h.timeout)
			defer cancel()
		}
		c, err := h.provider.Refresh(callCtx)
		if err != nil {
			return nil, err
		}
		if c.Token == "" {
			return nil, errors.New("auth provider returned an empty token")
		}
		h.current.Store(&c)
		return c, nil
	})

	select {
	case <-ctx.Done():
		return Credential{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Credential{}, res.Err
		}
		return res.Val.(Credential), nil
	}
}

// AcquireWithRetry keeps trying to obtain the first credential until it
// succeeds or ctx is done. It is meant to run in its own goroutine at startup.
func (h *CredentialHolder) AcquireWithRetry(ctx context.Context) {
	var attempt int
	for {
		attempt++
		_, err := h.Refresh(ctx)
		if err == nil {
			h.logger.WithFields(logrus.Fields{"field": "credential", "attempt": attempt}).Info("upstream credential acquired")
			return
		}

		sleep := config.RetryDelay(attempt)
		h.logger.WithFields(logrus.Fields{
			"field":   "credential",
			"attempt": attempt,
		}).Error("failed to acquire upstream credential; retrying in " + sleep.String() + ": " + err.Error())
		select {
		case <-ctx.Done():
			return
		case <-time.After(sleep):
		}
	}
}
