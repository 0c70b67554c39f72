package command

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/joncooperworks/ndnsec/keychain"
	"github.com/joncooperworks/ndnsec/ndn"
)

// Generator builds signed command interests. Timestamps it issues strictly
// increase even when the clock stalls or steps back.
type Generator struct {
	kc   *keychain.KeyChain
	rand io.Reader
	now  func() time.Time

	mu   sync.Mutex
	last int64
}

// GeneratorOption configures a Generator.
type GeneratorOption func(*Generator)

// WithRandom sets the nonce source. Default crypto/rand.
func WithRandom(r io.Reader) GeneratorOption {
	return func(g *Generator) { g.rand = r }
}

// WithGeneratorClock overrides the timestamp source.
func WithGeneratorClock(now func() time.Time) GeneratorOption {
	return func(g *Generator) { g.now = now }
}

// NewGenerator returns a generator signing through kc.
func NewGenerator(kc *keychain.KeyChain, opts ...GeneratorOption) *Generator {
	g := &Generator{kc: kc, rand: rand.Reader, now: time.Now}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate appends a timestamp and nonce to name and signs the interest
// with the default certificate of identity. An empty identity selects the
// default identity.
func (g *Generator) Generate(ctx context.Context, name, identity ndn.Name) (*ndn.Interest, error) {
	i, err := g.prepare(name)
	if err != nil {
		return nil, err
	}
	if err := g.kc.SignByIdentity(ctx, i, identity); err != nil {
		return nil, fmt.Errorf("failed to sign command: %w", err)
	}
	return i, nil
}

// GenerateWithCertificate is like Generate but signs with certName.
func (g *Generator) GenerateWithCertificate(ctx context.Context, name, certName ndn.Name) (*ndn.Interest, error) {
	i, err := g.prepare(name)
	if err != nil {
		return nil, err
	}
	if err := g.kc.SignByCertificate(ctx, i, certName); err != nil {
		return nil, fmt.Errorf("failed to sign command: %w", err)
	}
	return i, nil
}

func (g *Generator) prepare(name ndn.Name) (*ndn.Interest, error) {
	var nonce [8]byte
	if _, err := io.ReadFull(g.rand, nonce[:]); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	ts := g.nextTimestamp()
	return ndn.NewInterest(name.
		AppendNumber(uint64(ts)).
		AppendNumber(binary.BigEndian.Uint64(nonce[:]))), nil
}

func (g *Generator) nextTimestamp() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	ts := g.now().UnixMilli()
	if ts <= g.last {
		ts = g.last + 1
	}
	g.last = ts
	return ts
}
