package validator_test

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/patrickmn/go-cache"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/joncooperworks/ndnsec/certificate"
	"github.com/joncooperworks/ndnsec/crypto"
	"github.com/joncooperworks/ndnsec/namematch"
	"github.com/joncooperworks/ndnsec/ndn"
	"github.com/joncooperworks/ndnsec/validator"
	"github.com/joncooperworks/ndnsec/validator/mock_validator"
)

type identity struct {
	priv ed25519.PrivateKey
	cert *certificate.Certificate
}

// newIdentity issues a certificate for name signed by issuer, or
// self-signed when issuer is nil.
func newIdentity(t *testing.T, name string, issuer *identity, notBefore, notAfter time.Time) *identity {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	key, err := crypto.NewPublicKey(pub)
	require.NoError(t, err)

	id := &identity{priv: priv}
	id.cert = certificate.New(ndn.MustParseName(name).
		AppendString("ksk-1").
		AppendString(certificate.IDCertComponent).
		AppendVersion(1))
	id.cert.NotBefore = notBefore
	id.cert.NotAfter = notAfter
	id.cert.Key = key
	require.NoError(t, id.cert.Encode())
	if issuer == nil {
		issuer = id
	}
	issuer.sign(t, id.cert)
	return id
}

func validIdentity(t *testing.T, name string, issuer *identity) *identity {
	t.Helper()
	now := time.Now()
	return newIdentity(t, name, issuer, now.Add(-time.Hour), now.Add(time.Hour))
}

func (id *identity) sign(t *testing.T, p ndn.Signable) {
	t.Helper()
	p.SetSignatureInfo(ndn.SignatureInfo{Type: ndn.SignatureEd25519, KeyLocator: id.cert.KeyLocator()})
	sig, err := crypto.Sign(id.priv, p.SignedPortion())
	require.NoError(t, err)
	p.SetSignatureValue(sig)
}

func (id *identity) signedData(t *testing.T, name string) *ndn.Data {
	t.Helper()
	d := ndn.NewData(ndn.MustParseName(name))
	d.SetContent([]byte("payload"))
	id.sign(t, d)
	return d
}

// mapFetcher answers synchronously from a set of certificates and counts
// requests.
type mapFetcher struct {
	mu    sync.Mutex
	certs map[string][]byte
	calls int
}

func newMapFetcher(ids ...*identity) *mapFetcher {
	f := &mapFetcher{certs: make(map[string][]byte)}
	for _, id := range ids {
		f.certs[id.cert.KeyLocator().String()] = id.cert.Wire()
	}
	return f
}

func (f *mapFetcher) Fetch(_ context.Context, name ndn.Name, onData func([]byte), onFailure func(error)) {
	f.mu.Lock()
	f.calls++
	wire, ok := f.certs[name.String()]
	f.mu.Unlock()
	if !ok {
		onFailure(errors.New("no route"))
		return
	}
	onData(wire)
}

// tlv encodes a TLV element with a one-byte type and a length below 65536.
func tlv(typ uint64, value []byte) []byte {
	b := []byte{byte(typ)}
	if n := len(value); n < 253 {
		b = append(b, byte(n))
	} else {
		b = append(b, 0xFD, byte(n>>8), byte(n))
	}
	return append(b, value...)
}

type outcome struct {
	validated bool
	err       error
}

func run(t *testing.T, v *validator.Validator, ctx context.Context, p ndn.Packet, budget int) outcome {
	t.Helper()
	ch := make(chan outcome, 2)
	v.ValidateWithBudget(ctx, p, budget,
		func(ndn.Packet) { ch <- outcome{validated: true} },
		func(_ ndn.Packet, err error) { ch <- outcome{err: err} },
	)
	select {
	case o := <-ch:
		select {
		case extra := <-ch:
			t.Fatalf("second outcome delivered: %+v", extra)
		case <-time.After(10 * time.Millisecond):
		}
		return o
	case <-time.After(5 * time.Second):
		t.Fatal("validation did not complete")
		return outcome{}
	}
}

func prefixRule(t *testing.T, prefix string) validator.Rule {
	t.Helper()
	return validator.Rule{ID: prefix, Matcher: namematch.NewPrefix(ndn.MustParseName(prefix))}
}

// chainFixture is root -> site -> user, with data signed by user.
type chainFixture struct {
	root, site, user *identity
	data             *ndn.Data
}

func newChain(t *testing.T) chainFixture {
	root := validIdentity(t, "/root", nil)
	site := validIdentity(t, "/root/site", root)
	user := validIdentity(t, "/root/site/user", site)
	return chainFixture{root: root, site: site, user: user, data: user.signedData(t, "/root/site/user/data")}
}

func TestHopBudgetBoundary(t *testing.T) {
	ctx := context.Background()
	tests := map[string]struct {
		budget  int
		wantErr error
	}{
		"above budget": {budget: 3},
		"at budget":    {budget: 2},
		"below budget": {budget: 1, wantErr: validator.ErrChainDepthExceeded},
		"zero budget":  {budget: 0, wantErr: validator.ErrChainDepthExceeded},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			c := newChain(t)
			fetcher := newMapFetcher(c.site, c.user)
			v := validator.New(validator.WithFetcher(fetcher), validator.WithLogger(zaptest.NewLogger(t)))
			require.NoError(t, v.AddRule(prefixRule(t, "/root")))
			require.NoError(t, v.AddAnchor(c.root.cert))

			o := run(t, v, ctx, c.data, tc.budget)
			if tc.wantErr != nil {
				assert.ErrorIs(t, o.err, tc.wantErr)
				assert.False(t, o.validated)
				return
			}
			require.NoError(t, o.err)
			assert.True(t, o.validated)
			assert.Equal(t, 2, fetcher.calls)
		})
	}
}

func TestRejectsCertificateWithUnsignedKey(t *testing.T) {
	root := validIdentity(t, "/root", nil)
	site := validIdentity(t, "/root/site", root)
	attacker := validIdentity(t, "/root/site", nil)

	// site's signed bytes, then an extra Content holding the attacker's key
	forged := tlv(ndn.TypeData, bytes.Join([][]byte{
		site.cert.SignedPortion(),
		tlv(ndn.TypeContent, attacker.cert.Content()),
		tlv(ndn.TypeSignatureValue, site.cert.SignatureValue()),
	}, nil))
	fetcher := newMapFetcher()
	fetcher.certs[site.cert.KeyLocator().String()] = forged

	v := validator.New(validator.WithFetcher(fetcher), validator.WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, v.AddRule(prefixRule(t, "/root")))
	require.NoError(t, v.AddAnchor(root.cert))

	o := run(t, v, context.Background(), attacker.signedData(t, "/root/site/data"), 2)
	assert.False(t, o.validated)
	assert.Error(t, o.err)

	fetcher.certs[site.cert.KeyLocator().String()] = site.cert.Wire()
	o = run(t, v, context.Background(), site.signedData(t, "/root/site/data"), 2)
	assert.True(t, o.validated, "untampered certificate should validate: %v", o.err)
}

func TestValidateDirectAnchor(t *testing.T) {
	root := validIdentity(t, "/root", nil)
	v := validator.New()
	require.NoError(t, v.AddRule(prefixRule(t, "/root")))
	require.NoError(t, v.AddAnchor(root.cert))

	o := run(t, v, context.Background(), root.signedData(t, "/root/hello"), 0)
	assert.True(t, o.validated, "anchored packet needs no fetch: %v", o.err)
}

func TestValidateDefaultBudget(t *testing.T) {
	c := newChain(t)
	v := validator.New(validator.WithFetcher(newMapFetcher(c.site, c.user)), validator.WithHopBudget(1))
	require.NoError(t, v.AddRule(prefixRule(t, "/root")))
	require.NoError(t, v.AddAnchor(c.root.cert))

	ch := make(chan error, 1)
	v.Validate(context.Background(), c.data,
		func(ndn.Packet) { ch <- nil },
		func(_ ndn.Packet, err error) { ch <- err },
	)
	assert.ErrorIs(t, <-ch, validator.ErrChainDepthExceeded)
}

func TestValidateFailures(t *testing.T) {
	ctx := context.Background()
	root := validIdentity(t, "/root", nil)
	site := validIdentity(t, "/root/site", root)
	now := time.Now()
	expired := newIdentity(t, "/root/old", root, now.Add(-2*time.Hour), now.Add(-time.Hour))
	stranger := validIdentity(t, "/stranger", nil)
	rogue := validIdentity(t, "/root/rogue", nil)

	tampered := site.signedData(t, "/root/site/data")
	tampered.SetContent([]byte("changed"))

	unsigned := ndn.NewData(ndn.MustParseName("/root/unsigned"))

	misnamed := ndn.NewData(ndn.MustParseName("/root/site/x"))
	site.sign(t, misnamed)

	tests := map[string]struct {
		packet  ndn.Packet
		fetcher validator.Fetcher
		wantErr error
	}{
		"unsigned": {
			packet:  unsigned,
			wantErr: validator.ErrMalformedSignature,
		},
		"no policy": {
			packet:  stranger.signedData(t, "/stranger/data"),
			wantErr: validator.ErrNoPolicy,
		},
		"interest without interest rule": {
			packet: func() ndn.Packet {
				i := ndn.NewInterest(ndn.MustParseName("/root/cmd"))
				root.sign(t, i)
				return i
			}(),
			wantErr: validator.ErrNoPolicy,
		},
		"signature mismatch": {
			packet:  tampered,
			fetcher: newMapFetcher(site),
			wantErr: validator.ErrSignatureMismatch,
		},
		"expired intermediate": {
			packet:  expired.signedData(t, "/root/old/data"),
			fetcher: newMapFetcher(expired),
			wantErr: validator.ErrCertificateExpired,
		},
		"fetch answers with another certificate": {
			packet: misnamed,
			fetcher: validator.FetcherFunc(func(_ context.Context, _ ndn.Name, onData func([]byte), _ func(error)) {
				onData(root.cert.Wire())
			}),
			wantErr: validator.ErrDecode,
		},
		"fetch answers garbage": {
			packet: misnamed,
			fetcher: validator.FetcherFunc(func(_ context.Context, _ ndn.Name, onData func([]byte), _ func(error)) {
				onData([]byte{0x06, 0x01})
			}),
			wantErr: validator.ErrDecode,
		},
		"no fetcher": {
			packet:  misnamed,
			wantErr: validator.ErrFetch,
		},
		"chain to untrusted root": {
			packet:  rogue.signedData(t, "/root/rogue/data"),
			fetcher: newMapFetcher(rogue),
			wantErr: validator.ErrChainDepthExceeded,
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			opts := []validator.Option{validator.WithLogger(zaptest.NewLogger(t))}
			if tc.fetcher != nil {
				opts = append(opts, validator.WithFetcher(tc.fetcher))
			}
			v := validator.New(opts...)
			require.NoError(t, v.AddRule(prefixRule(t, "/root")))
			require.NoError(t, v.AddAnchor(root.cert))

			o := run(t, v, ctx, tc.packet, 3)
			assert.False(t, o.validated)
			assert.ErrorIs(t, o.err, tc.wantErr)
		})
	}
}

func TestFetchFailureWithMock(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	c := newChain(t)
	fetcher := mock_validator.NewMockFetcher(ctrl)
	fetcher.EXPECT().Fetch(gomock.Any(), c.user.cert.KeyLocator(), gomock.Any(), gomock.Any()).
		Do(func(_ context.Context, _ ndn.Name, _ func([]byte), onFailure func(error)) {
			onFailure(context.DeadlineExceeded)
		})

	v := validator.New(validator.WithFetcher(fetcher))
	require.NoError(t, v.AddRule(prefixRule(t, "/root")))
	require.NoError(t, v.AddAnchor(c.root.cert))

	o := run(t, v, context.Background(), c.data, 5)
	assert.ErrorIs(t, o.err, validator.ErrFetch)
	assert.ErrorIs(t, o.err, context.DeadlineExceeded)
}

func TestCanceledContextSkipsFetch(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	c := newChain(t)
	v := validator.New(validator.WithFetcher(mock_validator.NewMockFetcher(ctrl)))
	require.NoError(t, v.AddRule(prefixRule(t, "/root")))
	require.NoError(t, v.AddAnchor(c.root.cert))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	o := run(t, v, ctx, c.data, 5)
	assert.ErrorIs(t, o.err, context.Canceled)
}

func TestHierarchicalRule(t *testing.T) {
	c := newChain(t)
	v := validator.New(validator.WithFetcher(newMapFetcher(c.site, c.user)))
	rule := prefixRule(t, "/root")
	rule.Hierarchical = true
	require.NoError(t, v.AddRule(rule))
	require.NoError(t, v.AddAnchor(c.root.cert))

	o := run(t, v, context.Background(), c.data, 5)
	require.NoError(t, o.err)

	outside := c.user.signedData(t, "/root/elsewhere/data")
	o = run(t, v, context.Background(), outside, 5)
	assert.ErrorIs(t, o.err, validator.ErrUnauthorized)
}

func TestFirstMatchWins(t *testing.T) {
	a := validIdentity(t, "/a", nil)
	b := validIdentity(t, "/b", nil)
	data := b.signedData(t, "/a/b/c")

	broad := validator.Rule{ID: "broad", Matcher: namematch.NewPrefix(ndn.MustParseName("/a")),
		Anchors: []*certificate.Certificate{a.cert}}
	narrow := validator.Rule{ID: "narrow", Matcher: namematch.MustCompile("^<a><b><>*$"),
		Anchors: []*certificate.Certificate{b.cert}}

	v := validator.New()
	require.NoError(t, v.AddRule(broad))
	require.NoError(t, v.AddRule(narrow))
	o := run(t, v, context.Background(), data, 0)
	assert.ErrorIs(t, o.err, validator.ErrChainDepthExceeded, "broad rule matched first and does not trust b")

	v = validator.New()
	require.NoError(t, v.AddRule(narrow))
	require.NoError(t, v.AddRule(broad))
	o = run(t, v, context.Background(), data, 0)
	assert.True(t, o.validated, "narrow rule trusts b: %v", o.err)
}

func TestTrustIsCallLocal(t *testing.T) {
	c := newChain(t)
	v := validator.New(validator.WithFetcher(newMapFetcher(c.site, c.user)))
	require.NoError(t, v.AddRule(prefixRule(t, "/root")))
	require.NoError(t, v.AddAnchor(c.root.cert))

	require.True(t, run(t, v, context.Background(), c.data, 2).validated)
	o := run(t, v, context.Background(), c.data, 0)
	assert.ErrorIs(t, o.err, validator.ErrChainDepthExceeded,
		"certificates trusted by an earlier call must not be reused")
}

func TestAnchorGroups(t *testing.T) {
	root := validIdentity(t, "/root", nil)
	data := root.signedData(t, "/root/data")
	v := validator.New()
	require.NoError(t, v.AddRule(prefixRule(t, "/root")))

	v.SetAnchorGroup("dir", []*certificate.Certificate{root.cert})
	assert.Len(t, v.Anchors(), 1)
	assert.True(t, run(t, v, context.Background(), data, 0).validated)

	v.SetAnchorGroup("dir", nil)
	assert.Empty(t, v.Anchors())
	assert.ErrorIs(t, run(t, v, context.Background(), data, 0).err, validator.ErrChainDepthExceeded)

	assert.Error(t, v.AddAnchor(certificate.New(ndn.MustParseName("/no/key"))))
	assert.Error(t, v.AddRule(validator.Rule{ID: "nil matcher"}))
}

func TestInterestRule(t *testing.T) {
	root := validIdentity(t, "/root", nil)
	v := validator.New()
	require.NoError(t, v.AddRule(validator.Rule{
		ID:      "commands",
		For:     validator.KindInterest,
		Matcher: namematch.NewPrefix(ndn.MustParseName("/root")),
		Anchors: []*certificate.Certificate{root.cert},
	}))

	i := ndn.NewInterest(ndn.MustParseName("/root/cmd"))
	root.sign(t, i)
	wire, err := i.Encode()
	require.NoError(t, err)
	decoded, err := ndn.DecodeInterest(wire)
	require.NoError(t, err)

	assert.True(t, run(t, v, context.Background(), decoded, 0).validated)
	assert.ErrorIs(t, run(t, v, context.Background(), root.signedData(t, "/root/data"), 0).err, validator.ErrNoPolicy)
}

func TestMetrics(t *testing.T) {
	c := newChain(t)
	m := validator.NewMetrics(prometheus.NewRegistry())
	v := validator.New(validator.WithFetcher(newMapFetcher(c.site, c.user)), validator.WithMetrics(m))
	require.NoError(t, v.AddRule(prefixRule(t, "/root")))
	require.NoError(t, v.AddAnchor(c.root.cert))

	run(t, v, context.Background(), c.data, 2)
	run(t, v, context.Background(), c.data, 1)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Validations("data", validator.Success)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Validations("data", validator.ErrLabelDepth)))
}

func TestAsyncFetcherFromDirectory(t *testing.T) {
	c := newChain(t)
	dir := t.TempDir()
	require.NoError(t, certificate.Save(filepath.Join(dir, "site.cert"), c.site.cert))
	require.NoError(t, certificate.Save(filepath.Join(dir, "user.cert"), c.user.cert))

	m := validator.NewMetrics(nil)
	fetcher := validator.NewAsyncFetcher(validator.DirGetter{Dir: dir},
		validator.WithCache(cache.New(time.Minute, 0)),
		validator.WithFetcherMetrics(m),
		validator.WithFetcherLogger(zaptest.NewLogger(t)),
	)
	v := validator.New(validator.WithFetcher(fetcher))
	require.NoError(t, v.AddRule(prefixRule(t, "/root")))
	require.NoError(t, v.AddAnchor(c.root.cert))

	var wg sync.WaitGroup
	results := make(chan outcome, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			done := make(chan outcome, 1)
			v.Validate(context.Background(), c.data,
				func(ndn.Packet) { done <- outcome{validated: true} },
				func(_ ndn.Packet, err error) { done <- outcome{err: err} },
			)
			results <- <-done
		}()
	}
	wg.Wait()
	close(results)
	for o := range results {
		assert.True(t, o.validated, "concurrent validation failed: %v", o.err)
	}
	assert.True(t, run(t, v, context.Background(), c.data, 2).validated)
	assert.Greater(t, testutil.ToFloat64(m.CacheHits(validator.CacheHit)), 0.0)

	_, err := validator.DirGetter{Dir: dir}.Get(context.Background(), ndn.MustParseName("/missing"))
	assert.ErrorIs(t, err, validator.ErrCertificateNotFound)
}

func TestAsyncFetcherCachesResponses(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	root := validIdentity(t, "/root", nil)
	getter := mock_validator.NewMockGetter(ctrl)
	getter.EXPECT().Get(gomock.Any(), root.cert.KeyLocator()).Return(root.cert.Wire(), nil).Times(1)
	getter.EXPECT().Get(gomock.Any(), ndn.MustParseName("/down")).Return(nil, errors.New("unreachable")).Times(2)

	fetcher := validator.NewAsyncFetcher(getter, validator.WithCache(cache.New(time.Minute, 0)))
	fetch := func(name ndn.Name) ([]byte, error) {
		type result struct {
			wire []byte
			err  error
		}
		ch := make(chan result, 1)
		fetcher.Fetch(context.Background(), name,
			func(wire []byte) { ch <- result{wire: wire} },
			func(err error) { ch <- result{err: err} },
		)
		r := <-ch
		return r.wire, r.err
	}

	for i := 0; i < 3; i++ {
		wire, err := fetch(root.cert.KeyLocator())
		require.NoError(t, err)
		assert.Equal(t, root.cert.Wire(), wire)
	}
	for i := 0; i < 2; i++ {
		_, err := fetch(ndn.MustParseName("/down"))
		assert.ErrorContains(t, err, "unreachable", "failures are not cached")
	}
}

// gatedGetter blocks every Get until release is closed, then answers with
// wire unless the request context has ended.
type gatedGetter struct {
	once    sync.Once
	started chan struct{}
	release chan struct{}
	wire    []byte
}

func (g *gatedGetter) Get(ctx context.Context, _ ndn.Name) ([]byte, error) {
	g.once.Do(func() { close(g.started) })
	<-g.release
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return g.wire, nil
}

func TestAsyncFetcherCallerCancelDoesNotFailSharedFetch(t *testing.T) {
	root := validIdentity(t, "/root", nil)
	getter := &gatedGetter{started: make(chan struct{}), release: make(chan struct{}), wire: root.cert.Wire()}
	fetcher := validator.NewAsyncFetcher(getter)

	type result struct {
		wire []byte
		err  error
	}
	fetch := func(ctx context.Context) chan result {
		ch := make(chan result, 1)
		fetcher.Fetch(ctx, root.cert.KeyLocator(),
			func(wire []byte) { ch <- result{wire: wire} },
			func(err error) { ch <- result{err: err} },
		)
		return ch
	}

	ctx, cancel := context.WithCancel(context.Background())
	first := fetch(ctx)
	<-getter.started
	second := fetch(context.Background())
	time.Sleep(20 * time.Millisecond)
	cancel()

	r := <-first
	assert.ErrorIs(t, r.err, context.Canceled)
	close(getter.release)
	select {
	case r = <-second:
		require.NoError(t, r.err)
		assert.Equal(t, root.cert.Wire(), r.wire)
	case <-time.After(5 * time.Second):
		t.Fatal("second fetch did not complete")
	}
}

func TestErrorLabel(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, validator.Success},
		{validator.ErrNoPolicy, validator.ErrLabelNoPolicy},
		{errors.Join(validator.ErrFetch, context.Canceled), validator.ErrLabelCanceled},
		{validator.ErrSignatureMismatch, validator.ErrLabelVerify},
		{errors.New("other"), validator.ErrLabelInternal},
	}
	for _, tt := range tests {
		if got := validator.ErrorLabel(tt.err); got != tt.want {
			t.Errorf("ErrorLabel(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestVerifySignature(t *testing.T) {
	root := validIdentity(t, "/root", nil)
	other := validIdentity(t, "/other", nil)
	d := root.signedData(t, "/root/x")
	assert.True(t, validator.VerifySignature(d, root.cert.Key))
	assert.False(t, validator.VerifySignature(d, other.cert.Key))
	assert.False(t, validator.VerifySignature(ndn.NewData(ndn.MustParseName("/x")), root.cert.Key))
}
