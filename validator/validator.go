// Package validator decides whether signed packets are trusted.
//
// A packet is trusted when a policy rule selects it and its signature chains
// back to a trust anchor. Certificates missing along the way are fetched and
// validated themselves, each fetch consuming one unit of the hop budget.
//
// Validation is callback based. Validate returns immediately when a fetch
// is needed and the outcome is delivered later, exactly once, from the
// goroutine that completed the fetch.
package validator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/joncooperworks/ndnsec/certificate"
	"github.com/joncooperworks/ndnsec/crypto"
	"github.com/joncooperworks/ndnsec/ndn"
)

// DefaultHopBudget bounds the number of certificates fetched for one
// validation.
const DefaultHopBudget = 10

var (
	ErrMalformedSignature = errors.New("malformed signature info")
	ErrNoPolicy           = errors.New("no applicable policy")
	ErrUnauthorized       = errors.New("unauthorized signer")
	ErrChainDepthExceeded = errors.New("exceeded verification depth")
	ErrSignatureMismatch  = errors.New("signature verification failed")
	ErrFetch              = errors.New("certificate fetch failed")
	ErrDecode             = errors.New("malformed certificate")
	ErrCertificateExpired = errors.New("certificate outside its validity period")
)

// OnValidated is called once a packet is trusted.
type OnValidated func(p ndn.Packet)

// OnFailed is called with the reason a packet was rejected.
type OnFailed func(p ndn.Packet, err error)

// Validator checks packets against registered rules and trust anchors.
// Rules and anchors may be added while validations run.
type Validator struct {
	fetcher   Fetcher
	hopBudget int
	now       func() time.Time
	logger    *zap.Logger
	metrics   Metrics

	mu      sync.RWMutex
	rules   []Rule
	anchors map[string][]*certificate.Certificate
}

// Option configures a Validator.
type Option func(*Validator)

// WithFetcher sets the source of missing certificates. Without one, every
// chain must end at an anchor the packet's own signer references.
func WithFetcher(f Fetcher) Option {
	return func(v *Validator) { v.fetcher = f }
}

// WithHopBudget sets the default hop budget.
func WithHopBudget(n int) Option {
	return func(v *Validator) { v.hopBudget = n }
}

// WithClock overrides the clock used for validity checks.
func WithClock(now func() time.Time) Option {
	return func(v *Validator) { v.now = now }
}

// WithLogger sets the logger. Default no-op.
func WithLogger(l *zap.Logger) Option {
	return func(v *Validator) { v.logger = l }
}

// WithMetrics sets the metrics the validator reports to.
func WithMetrics(m Metrics) Option {
	return func(v *Validator) { v.metrics = m }
}

// New returns a validator with no rules and no anchors.
func New(opts ...Option) *Validator {
	v := &Validator{
		hopBudget: DefaultHopBudget,
		now:       time.Now,
		logger:    zap.NewNop(),
		metrics:   NewMetrics(nil),
		anchors:   make(map[string][]*certificate.Certificate),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// AddRule appends a rule. Rules are tried in the order they were added and
// the first match decides.
func (v *Validator) AddRule(r Rule) error {
	if err := r.validate(); err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.rules = append(v.rules, r)
	return nil
}

// AddAnchor trusts cert for every rule.
func (v *Validator) AddAnchor(cert *certificate.Certificate) error {
	if cert == nil || cert.Key.IsZero() {
		return errors.New("trust anchor must carry a public key")
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.anchors[""] = append(v.anchors[""], cert)
	return nil
}

// SetAnchorGroup replaces the anchors loaded from one source, such as a
// watched directory. An empty set removes the group.
func (v *Validator) SetAnchorGroup(group string, certs []*certificate.Certificate) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if len(certs) == 0 {
		delete(v.anchors, group)
		return
	}
	v.anchors[group] = append([]*certificate.Certificate(nil), certs...)
}

// Anchors returns every global anchor.
func (v *Validator) Anchors() []*certificate.Certificate {
	v.mu.RLock()
	defer v.mu.RUnlock()
	var all []*certificate.Certificate
	for _, group := range v.anchors {
		all = append(all, group...)
	}
	return all
}

// VerifySignature reports whether p carries a valid signature by key.
func VerifySignature(p ndn.Packet, key crypto.PublicKey) bool {
	return crypto.VerifyPacket(p, key)
}

// Validate validates p with the default hop budget.
func (v *Validator) Validate(ctx context.Context, p ndn.Packet, onValidated OnValidated, onFailed OnFailed) {
	v.ValidateWithBudget(ctx, p, v.hopBudget, onValidated, onFailed)
}

// ValidateWithBudget validates p allowing at most budget certificate
// fetches.
func (v *Validator) ValidateWithBudget(ctx context.Context, p ndn.Packet, budget int,
	onValidated OnValidated, onFailed OnFailed) {

	c := &chain{
		v:           v,
		ctx:         ctx,
		root:        p,
		trusted:     make(map[string]*certificate.Certificate),
		onValidated: onValidated,
		onFailed:    onFailed,
	}
	if p == nil {
		c.fail(fmt.Errorf("%w: nil packet", ErrMalformedSignature))
		return
	}
	locator, err := keyLocator(p)
	if err != nil {
		c.fail(err)
		return
	}
	c.steps = append(c.steps, &step{packet: p, locator: locator, budget: budget})
	c.run()
}

func (v *Validator) findRule(p ndn.Packet) (Rule, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	for _, r := range v.rules {
		if r.match(p) {
			return r, true
		}
	}
	return Rule{}, false
}

func (v *Validator) findGlobalAnchor(locator ndn.Name) *certificate.Certificate {
	v.mu.RLock()
	defer v.mu.RUnlock()
	for _, group := range v.anchors {
		if a := findAnchor(group, locator); a != nil {
			return a
		}
	}
	return nil
}

func keyLocator(p ndn.Packet) (ndn.Name, error) {
	info, ok := p.SignatureInfo()
	if !ok || len(info.KeyLocator) == 0 {
		return nil, fmt.Errorf("%w: %s has no key locator", ErrMalformedSignature, p.Name())
	}
	return info.KeyLocator, nil
}

// step is one packet waiting for its signer's key.
type step struct {
	packet  ndn.Packet
	locator ndn.Name
	budget  int
	// cert is set when the packet is a fetched certificate.
	cert *certificate.Certificate
}

// chain is the state of one top-level validation. The bottom step holds
// the packet being validated and every step above it holds the
// certificate that signed the step below.
type chain struct {
	v           *Validator
	ctx         context.Context
	root        ndn.Packet
	steps       []*step
	trusted     map[string]*certificate.Certificate
	once        sync.Once
	onValidated OnValidated
	onFailed    OnFailed
}

// run resolves steps from the top of the stack until the chain is
// complete, fails, or waits on a fetch.
func (c *chain) run() {
	for len(c.steps) > 0 {
		top := c.steps[len(c.steps)-1]

		key, ok, err := c.resolve(top)
		if err != nil {
			c.fail(err)
			return
		}
		if !ok {
			c.fetch(top)
			return
		}
		if !VerifySignature(top.packet, key) {
			c.fail(fmt.Errorf("%w: %s signed by %s", ErrSignatureMismatch, top.packet.Name(), top.locator))
			return
		}

		c.steps = c.steps[:len(c.steps)-1]
		if top.cert != nil {
			c.trusted[top.cert.Name().String()] = top.cert
			c.v.logger.Debug("certificate trusted",
				zap.Stringer("name", top.cert.Name()),
				zap.Int("depth", len(c.steps)),
			)
		}
	}
	c.succeed()
}

// resolve finds the key that must have signed s. ok is false when the
// signer's certificate has to be fetched.
func (c *chain) resolve(s *step) (crypto.PublicKey, bool, error) {
	rule, found := c.v.findRule(s.packet)
	if !found {
		return crypto.PublicKey{}, false, fmt.Errorf("%w for %s %s", ErrNoPolicy, KindOf(s.packet), s.packet.Name())
	}
	if err := rule.checkHierarchy(s.packet, s.locator); err != nil {
		return crypto.PublicKey{}, false, err
	}
	if a := findAnchor(rule.Anchors, s.locator); a != nil {
		return a.Key, true, nil
	}
	if a := c.v.findGlobalAnchor(s.locator); a != nil {
		return a.Key, true, nil
	}
	for _, cert := range c.trusted {
		if cert.MatchesLocator(s.locator) {
			return cert.Key, true, nil
		}
	}
	return crypto.PublicKey{}, false, nil
}

func (c *chain) fetch(s *step) {
	if s.budget <= 0 {
		c.fail(fmt.Errorf("%w: %s needs %s", ErrChainDepthExceeded, s.packet.Name(), s.locator))
		return
	}
	if c.v.fetcher == nil {
		c.fail(fmt.Errorf("%w: no fetcher for %s", ErrFetch, s.locator))
		return
	}
	if err := c.ctx.Err(); err != nil {
		c.fail(err)
		return
	}
	c.v.logger.Debug("fetching certificate",
		zap.Stringer("locator", s.locator),
		zap.Int("depth", len(c.steps)),
		zap.Int("budget", s.budget),
	)
	c.v.fetcher.Fetch(c.ctx, s.locator,
		func(wire []byte) { c.onFetched(s, wire) },
		func(err error) { c.fail(fmt.Errorf("%w: %s: %w", ErrFetch, s.locator, err)) },
	)
}

func (c *chain) onFetched(s *step, wire []byte) {
	cert, err := certificate.Decode(wire)
	if err != nil {
		c.fail(fmt.Errorf("%w %s: %w", ErrDecode, s.locator, err))
		return
	}
	if !cert.MatchesLocator(s.locator) {
		c.fail(fmt.Errorf("%w: fetched %s does not answer %s", ErrDecode, cert.Name(), s.locator))
		return
	}
	if now := c.v.now(); !cert.ValidAt(now) {
		c.fail(fmt.Errorf("%w: %s valid from %s to %s", ErrCertificateExpired, cert.Name(),
			cert.NotBefore.Format(time.RFC3339), cert.NotAfter.Format(time.RFC3339)))
		return
	}
	locator, err := keyLocator(cert)
	if err != nil {
		c.fail(err)
		return
	}
	c.steps = append(c.steps, &step{packet: cert, locator: locator, budget: s.budget - 1, cert: cert})
	c.run()
}

func (c *chain) succeed() {
	c.once.Do(func() {
		c.v.metrics.Validations(KindOf(c.root).String(), Success).Inc()
		c.v.logger.Debug("packet validated", zap.Stringer("name", c.root.Name()))
		if c.onValidated != nil {
			c.onValidated(c.root)
		}
	})
}

func (c *chain) fail(err error) {
	c.once.Do(func() {
		kind := KindData.String()
		var name ndn.Name
		if c.root != nil {
			kind = KindOf(c.root).String()
			name = c.root.Name()
		}
		c.v.metrics.Validations(kind, ErrorLabel(err)).Inc()
		c.v.logger.Info("packet rejected",
			zap.Stringer("name", name),
			zap.Int("depth", len(c.steps)),
			zap.String("reason", err.Error()),
		)
		if c.onFailed != nil {
			c.onFailed(c.root, err)
		}
	})
}
