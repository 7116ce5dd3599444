// Package classifier turns free-text statement descriptions into structured
// classifications using a language model, with deterministic fallbacks.
package classifier

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/dvloznov/spendtrack/internal/config"
	"github.com/dvloznov/spendtrack/internal/domain"
	"github.com/dvloznov/spendtrack/internal/retry"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	// DefaultCallTimeout bounds a single model call.
	DefaultCallTimeout = 30 * time.Second
	// degradedMerchantRunes is how much of the description a degraded
	// record keeps as its merchant name.
	degradedMerchantRunes = 50
)

var bareAmount = regexp.MustCompile(`^[+-]?\d+(\.\d+)?$`)

// Adapter classifies descriptions. It satisfies ingest.Classifier.
type Adapter struct {
	model       Model
	policy      retry.Policy
	callTimeout time.Duration
	log         zerolog.Logger
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithRetryPolicy replaces the default retry policy.
func WithRetryPolicy(p retry.Policy) Option {
	return func(a *Adapter) { a.policy = p }
}

// WithCallTimeout sets the per-attempt deadline.
func WithCallTimeout(d time.Duration) Option {
	return func(a *Adapter) {
		if d > 0 {
			a.callTimeout = d
		}
	}
}

// New creates an Adapter over model.
func New(model Model, log zerolog.Logger, opts ...Option) *Adapter {
	a := &Adapter{
		model:       model,
		policy:      retry.Default(),
		callTimeout: DefaultCallTimeout,
		log:         log.With().Str("component", "classifier").Str("model", model.Name()).Logger(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.policy.OnRetry == nil {
		a.policy.OnRetry = func(attempt int, delay time.Duration, err error) {
			a.log.Debug().Err(err).Int("attempt", attempt).Dur("backoff", delay).Msg("classifier call failed, retrying")
		}
	}
	return a
}

// NewFromConfig builds the configured backend and wraps it in an Adapter.
func NewFromConfig(ctx context.Context, cfg config.ClassifierConfig, log zerolog.Logger) (*Adapter, error) {
	model, err := NewModelFromConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return New(model, log,
		WithRetryPolicy(cfg.Retry.Policy()),
		WithCallTimeout(cfg.CallTimeout),
	), nil
}

// Classify never fails: bare amounts are answered without the model, and a
// model that keeps failing yields a degraded record.
func (a *Adapter) Classify(ctx context.Context, description string) domain.Classification {
	if c, ok := FastPath(description); ok {
		return c
	}

	prompt := BuildPrompt(description)
	var result domain.Classification
	err := a.policy.Do(ctx, func(ctx context.Context, attempt int) error {
		callCtx, cancel := context.WithTimeout(ctx, a.callTimeout)
		defer cancel()

		raw, err := a.model.Generate(callCtx, prompt)
		if err != nil {
			return err
		}
		c, err := ParseReply(raw)
		if err != nil {
			return fmt.Errorf("attempt %d: %w", attempt, err)
		}
		result = c
		return nil
	})
	if err != nil {
		a.log.Warn().Err(err).Str("description", description).Msg("classification degraded")
		return Degraded(description)
	}
	return result
}

// FastPath answers descriptions that are just a signed number.
func FastPath(description string) (domain.Classification, bool) {
	d := strings.TrimSpace(description)
	if !bareAmount.MatchString(d) {
		return domain.Classification{}, false
	}
	amount, err := decimal.NewFromString(d)
	if err != nil {
		return domain.Classification{}, false
	}

	txType := domain.TypeWithdrawal
	if amount.IsPositive() {
		txType = domain.TypeDeposit
	}
	return domain.Classification{
		MerchantName:    domain.StringPtr(domain.MerchantUnknown),
		TransactionType: domain.StringPtr(txType),
	}, true
}

// Degraded is the fallback record for a description the model could not
// classify.
func Degraded(description string) domain.Classification {
	merchant := []rune(strings.TrimSpace(description))
	if len(merchant) > degradedMerchantRunes {
		merchant = merchant[:degradedMerchantRunes]
	}
	return domain.Classification{
		MerchantName:    domain.StringPtr(string(merchant)),
		TransactionType: domain.StringPtr(domain.TypeUnknown),
	}
}
