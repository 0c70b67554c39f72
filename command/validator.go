// Package command signs and validates command interests.
//
// A command interest carries four trailing name components after the
// command itself:
//
//	/<command prefix>/<timestamp ms>/<nonce>/<signature info>/<signature value>
//
// The validator pins one certificate per rule and rejects replays by
// requiring every signer's timestamps to strictly increase.
package command

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/joncooperworks/ndnsec/certificate"
	"github.com/joncooperworks/ndnsec/namematch"
	"github.com/joncooperworks/ndnsec/ndn"
	"github.com/joncooperworks/ndnsec/validator"
)

// trailingComponents is timestamp, nonce, signature info and value.
const trailingComponents = 4

var (
	ErrMalformedCommand = errors.New("malformed command name")
	ErrReplay           = errors.New("stale or replayed timestamp")
)

// Grace bounds how far a command timestamp may lie from local time.
type Grace struct {
	Backward time.Duration
	Forward  time.Duration
}

// DefaultGrace accepts timestamps up to three seconds either side of now.
var DefaultGrace = Grace{Backward: 3 * time.Second, Forward: 3 * time.Second}

type rule struct {
	matcher namematch.Matcher
	cert    *certificate.Certificate
	bypass  bool
}

type signerState struct {
	mu   sync.Mutex
	last uint64
	seen bool
}

// Validator checks command interests against pinned certificates.
type Validator struct {
	grace   Grace
	now     func() time.Time
	logger  *zap.Logger
	metrics validator.Metrics

	mu      sync.RWMutex
	rules   []rule
	signers map[string]*signerState
}

// Option configures a Validator.
type Option func(*Validator)

// WithGrace sets the accepted timestamp window.
func WithGrace(g Grace) Option {
	return func(v *Validator) { v.grace = g }
}

// WithClock overrides local time.
func WithClock(now func() time.Time) Option {
	return func(v *Validator) { v.now = now }
}

// WithLogger sets the logger. Default no-op.
func WithLogger(l *zap.Logger) Option {
	return func(v *Validator) { v.logger = l }
}

// WithMetrics sets the metrics the validator reports to.
func WithMetrics(m validator.Metrics) Option {
	return func(v *Validator) { v.metrics = m }
}

// NewValidator returns a validator with no rules.
func NewValidator(opts ...Option) *Validator {
	v := &Validator{
		grace:   DefaultGrace,
		now:     time.Now,
		logger:  zap.NewNop(),
		metrics: validator.NewMetrics(nil),
		signers: make(map[string]*signerState),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// AddRule authorizes cert to sign commands whose prefix matches pattern.
func (v *Validator) AddRule(pattern string, cert *certificate.Certificate) error {
	m, err := namematch.Compile(pattern)
	if err != nil {
		return err
	}
	return v.AddRuleMatcher(m, cert)
}

// AddRuleMatcher is AddRule with a prebuilt matcher.
func (v *Validator) AddRuleMatcher(m namematch.Matcher, cert *certificate.Certificate) error {
	if m == nil {
		return errors.New("rule matcher cannot be nil")
	}
	if cert == nil || cert.Key.IsZero() {
		return errors.New("rule certificate must carry a public key")
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.rules = append(v.rules, rule{matcher: m, cert: cert})
	return nil
}

// AddBypassRule accepts every command whose prefix matches pattern without
// checking it.
func (v *Validator) AddBypassRule(pattern string) error {
	m, err := namematch.Compile(pattern)
	if err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.rules = append(v.rules, rule{matcher: m, bypass: true})
	return nil
}

// Validate checks a command and reports the outcome through exactly one of
// the callbacks before returning.
func (v *Validator) Validate(_ context.Context, req ndn.Packet,
	onValidated validator.OnValidated, onFailed validator.OnFailed) {

	if err := v.check(req); err != nil {
		v.metrics.Validations("command", errorLabel(err)).Inc()
		var name ndn.Name
		if req != nil {
			name = req.Name()
		}
		v.logger.Info("command rejected", zap.Stringer("name", name), zap.String("reason", err.Error()))
		if onFailed != nil {
			onFailed(req, err)
		}
		return
	}
	v.metrics.Validations("command", validator.Success).Inc()
	if onValidated != nil {
		onValidated(req)
	}
}

func (v *Validator) check(req ndn.Packet) error {
	if req == nil {
		return fmt.Errorf("%w: nil request", ErrMalformedCommand)
	}
	name := req.Name()
	if len(name) < trailingComponents {
		return fmt.Errorf("%w: %s has fewer than %d components", ErrMalformedCommand, name, trailingComponents)
	}
	prefix := name.Prefix(-trailingComponents)
	ts, err := name.At(-4).Number()
	if err != nil {
		return fmt.Errorf("%w: bad timestamp in %s", ErrMalformedCommand, name)
	}
	if _, err := name.At(-3).Number(); err != nil {
		return fmt.Errorf("%w: bad nonce in %s", ErrMalformedCommand, name)
	}

	r, ok := v.findRule(prefix)
	if !ok {
		return fmt.Errorf("%w: no rule for %s", validator.ErrUnauthorized, prefix)
	}
	if r.bypass {
		v.logger.Debug("command bypassed", zap.Stringer("prefix", prefix), zap.Stringer("rule", r.matcher))
		return nil
	}

	info, ok := req.SignatureInfo()
	if !ok || len(info.KeyLocator) == 0 {
		return fmt.Errorf("%w: %s has no key locator", validator.ErrMalformedSignature, name)
	}
	if !r.cert.MatchesLocator(info.KeyLocator) {
		return fmt.Errorf("%w: %s signed by %s, rule %s requires %s",
			validator.ErrUnauthorized, prefix, info.KeyLocator, r.matcher, r.cert.KeyLocator())
	}

	signer := r.cert.KeyName().String()
	state := v.signer(signer)
	state.mu.Lock()
	defer state.mu.Unlock()

	if err := v.checkTimestamp(ts, state); err != nil {
		return err
	}
	if !validator.VerifySignature(req, r.cert.Key) {
		return fmt.Errorf("%w: command %s", validator.ErrSignatureMismatch, prefix)
	}
	state.last, state.seen = ts, true
	v.logger.Debug("command validated", zap.Stringer("prefix", prefix), zap.String("signer", signer), zap.Uint64("timestamp", ts))
	return nil
}

func (v *Validator) checkTimestamp(ts uint64, state *signerState) error {
	now := v.now()
	at := time.UnixMilli(int64(ts))
	if at.Before(now.Add(-v.grace.Backward)) || at.After(now.Add(v.grace.Forward)) {
		return fmt.Errorf("%w: %s is outside [-%s, +%s] of %s", ErrReplay,
			at.UTC().Format(time.RFC3339Nano), v.grace.Backward, v.grace.Forward, now.UTC().Format(time.RFC3339Nano))
	}
	if state.seen && ts <= state.last {
		return fmt.Errorf("%w: %d is not after %d", ErrReplay, ts, state.last)
	}
	return nil
}

func (v *Validator) findRule(prefix ndn.Name) (rule, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	for _, r := range v.rules {
		if r.matcher.Match(prefix) {
			return r, true
		}
	}
	return rule{}, false
}

func (v *Validator) signer(key string) *signerState {
	v.mu.Lock()
	defer v.mu.Unlock()
	s, ok := v.signers[key]
	if !ok {
		s = &signerState{}
		v.signers[key] = s
	}
	return s
}

// LastTimestamp returns the newest accepted timestamp of a signer key.
func (v *Validator) LastTimestamp(keyName ndn.Name) (uint64, bool) {
	v.mu.RLock()
	s, ok := v.signers[keyName.String()]
	v.mu.RUnlock()
	if !ok {
		return 0, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last, s.seen
}

func errorLabel(err error) string {
	switch {
	case errors.Is(err, ErrReplay):
		return "err_replay"
	case errors.Is(err, ErrMalformedCommand):
		return validator.ErrLabelMalformed
	default:
		return validator.ErrorLabel(err)
	}
}
