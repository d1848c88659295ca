package restore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mmdatafocus/restore_backend/utils"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// GoldEntitlement is the entitlement key that grants premium access.
const GoldEntitlement = "Gold"

const DefaultCallTimeout = 30 * time.Second

var tracer = otel.Tracer("restore_backend/restore")

// Account is the subset of the upstream user record the service uses.
type Account struct {
	Uid               string          `json:"uid"`
	Username          string          `json:"username"`
	FirstName         string          `json:"first_name"`
	LastName          string          `json:"last_name"`
	ProfilePictureURL string          `json:"profile_picture_url"`
	Raw               json.RawMessage `json:"-"`
}

type Entitlement struct {
	ProductIdentifier string `json:"product_identifier"`
	ExpiresDate       string `json:"expires_date,omitempty"`
	PurchaseDate      string `json:"purchase_date,omitempty"`
}

// Entitlements is the upstream answer to a restore call. Raw keeps the full
// payload for auditing.
type Entitlements struct {
	Entitlements map[string]Entitlement
	Raw          json.RawMessage
}

type SubscriptionAPI interface {
	GetAccountByUsername(ctx context.Context, token, username string) (Account, error)
	RestorePurchase(ctx context.Context, token, uid string) (Entitlements, error)
}

// Outcome is everything a successful Run produced.
type Outcome struct {
	Account      Account
	Entitlements Entitlements
	Result       RestoreResult
}

type PipelineConfig struct {
	CallTimeout     time.Duration
	SubscriptionIds []string
}

// Pipeline runs lookup then restore against the subscription API, refreshing
// the shared credential once per step on an authentication failure.
type Pipeline struct {
	api         SubscriptionAPI
	creds       *CredentialHolder
	callTimeout time.Duration
	allowed     map[string]struct{}
	logger      *logrus.Logger
}

func NewPipeline(api SubscriptionAPI, creds *CredentialHolder, cfg PipelineConfig, logger *logrus.Logger) *Pipeline {
	timeout := cfg.CallTimeout
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	allowed := make(map[string]struct{}, len(cfg.SubscriptionIds))
	for _, id := range cfg.SubscriptionIds {
		allowed[id] = struct{}{}
	}
	return &Pipeline{
		api:         api,
		creds:       creds,
		callTimeout: timeout,
		allowed:     allowed,
		logger:      logger,
	}
}

func (p *Pipeline) Run(ctx context.Context, username string) (Outcome, error) {
	account, err := p.Lookup(ctx, username)
	if err != nil {
		return Outcome{}, err
	}

	ents, err := withAuthRetry(ctx, p, "restore", func(ctx context.Context, token string) (Entitlements, error) {
		return p.api.RestorePurchase(ctx, token, account.Uid)
	})
	if err != nil {
		return Outcome{Account: account}, err
	}

	result, err := p.evaluate(account.Uid, ents)
	if err != nil {
		return Outcome{Account: account, Entitlements: ents}, err
	}
	return Outcome{Account: account, Entitlements: ents, Result: result}, nil
}

// Lookup resolves username to an account. A missing account or uid is an
// upstream failure.
func (p *Pipeline) Lookup(ctx context.Context, username string) (Account, error) {
	account, err := withAuthRetry(ctx, p, "lookup", func(ctx context.Context, token string) (Account, error) {
		return p.api.GetAccountByUsername(ctx, token, username)
	})
	if err != nil {
		return Account{}, err
	}
	if account.Uid == "" {
		return Account{}, fmt.Errorf("%w: lookup: %w: account %q has no uid", utils.ErrUpstream, utils.ErrNotFound, username)
	}
	return account, nil
}

func (p *Pipeline) evaluate(uid string, ents Entitlements) (RestoreResult, error) {
	gold, ok := ents.Entitlements[GoldEntitlement]
	if !ok || gold.ProductIdentifier == "" {
		return RestoreResult{}, fmt.Errorf("%w: %s entitlement not found", utils.ErrEntitlementMismatch, GoldEntitlement)
	}
	if _, allowed := p.allowed[gold.ProductIdentifier]; !allowed {
		return RestoreResult{}, fmt.Errorf("%w: product %q is not an accepted subscription", utils.ErrEntitlementMismatch, gold.ProductIdentifier)
	}
	return RestoreResult{Uid: uid, ProductIdentifier: gold.ProductIdentifier}, nil
}

// withAuthRetry runs call with the current credential. On an authentication
// failure it refreshes the credential exactly once and retries exactly once.
// Unclassified failures come back as ErrUpstream. A second authentication
// failure no longer matches ErrAuth.
func withAuthRetry[T any](ctx context.Context, p *Pipeline, step string, call func(ctx context.Context, token string) (T, error)) (T, error) {
	var zero T

	cred, err := p.creds.Current(ctx)
	if err != nil {
		return zero, fmt.Errorf("%w: %s: acquire credential: %v", utils.ErrUpstream, step, err)
	}

	out, err := attempt(ctx, p, step, 1, cred.Token, call)
	if err == nil {
		return out, nil
	}
	if !errors.Is(err, utils.ErrAuth) {
		return zero, classify(step, err)
	}

	clientId, _ := utils.GetClientIdFromContext(ctx)
	p.logger.WithFields(logrus.Fields{
		"field":     "pipeline",
		"step":      step,
		"client_id": clientId,
	}).Warn("upstream rejected credential; refreshing once: " + err.Error())

	cred, rerr := p.creds.Refresh(ctx)
	if rerr != nil {
		return zero, fmt.Errorf("%w: %s: credential refresh failed: %v", utils.ErrUpstream, step, rerr)
	}

	out, err = attempt(ctx, p, step, 2, cred.Token, call)
	if err == nil {
		return out, nil
	}
	if errors.Is(err, utils.ErrAuth) {
		return zero, fmt.Errorf("%w: %s: still unauthenticated after credential refresh: %v", utils.ErrUpstream, step, err)
	}
	return zero, classify(step, err)
}

// attempt performs one bounded call inside its own span.
func attempt[T any](ctx context.Context, p *Pipeline, step string, n int, token string, call func(ctx context.Context, token string) (T, error)) (T, error) {
	ctx, span := tracer.Start(ctx, "restore."+step, trace.WithAttributes(attribute.Int("attempt", n)))
	defer span.End()

	callCtx, cancel := context.WithTimeout(ctx, p.callTimeout)
	defer cancel()

	out, err := call(callCtx, token)
	if err == nil {
		return out, nil
	}
	if errors.Is(callCtx.Err(), context.DeadlineExceeded) && !errors.Is(err, utils.ErrAuth) {
		err = fmt.Errorf("%w: %s timed out after %s", utils.ErrUpstream, step, p.callTimeout)
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return out, err
}

func classify(step string, err error) error {
	switch {
	case errors.Is(err, utils.ErrUpstream), errors.Is(err, utils.ErrEntitlementMismatch):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %s timed out: %v", utils.ErrUpstream, step, err)
	default:
		return fmt.Errorf("%w: %s: %w", utils.ErrUpstream, step, err)
	}
}
