package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/patrickmn/go-cache"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/joncooperworks/ndnsec/certificate"
	"github.com/joncooperworks/ndnsec/command"
	"github.com/joncooperworks/ndnsec/namematch"
	"github.com/joncooperworks/ndnsec/ndn"
	"github.com/joncooperworks/ndnsec/validator"
)

// BuildOptions carries the runtime dependencies of Build.
type BuildOptions struct {
	Logger     *zap.Logger
	Registerer prometheus.Registerer
	// Fetcher overrides the fetcher derived from validator.cert_dir.
	Fetcher validator.Fetcher
	Now     func() time.Time
}

// Trust holds the validators built from a configuration.
type Trust struct {
	Validator *validator.Validator
	Command   *command.Validator

	watched []string
	logger  *zap.Logger
}

// Build creates the validators a configuration describes and loads every
// certificate it references.
func (cfg *Config) Build(opts BuildOptions) (*Trust, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	metrics := validator.NewMetrics(opts.Registerer)

	fetcher := opts.Fetcher
	if fetcher == nil && cfg.Validator.CertDir != "" {
		fopts := []validator.FetcherOption{
			validator.WithFetcherMetrics(metrics),
			validator.WithFetcherLogger(logger),
		}
		if !cfg.Validator.FetchCache.Disable {
			fopts = append(fopts, validator.WithCache(cache.New(cfg.Validator.FetchCache.Expiration.Duration, time.Minute)))
		}
		fetcher = validator.NewAsyncFetcher(validator.DirGetter{Dir: cfg.path(cfg.Validator.CertDir)}, fopts...)
	}

	vopts := []validator.Option{
		validator.WithHopBudget(cfg.Validator.MaxDepth),
		validator.WithClock(now),
		validator.WithLogger(logger.Named("validator")),
		validator.WithMetrics(metrics),
	}
	if fetcher != nil {
		vopts = append(vopts, validator.WithFetcher(fetcher))
	}
	t := &Trust{
		Validator: validator.New(vopts...),
		Command: command.NewValidator(
			command.WithGrace(command.Grace{
				Backward: cfg.Command.GraceBackward.Duration,
				Forward:  cfg.Command.GraceForward.Duration,
			}),
			command.WithClock(now),
			command.WithLogger(logger.Named("command")),
			command.WithMetrics(metrics),
		),
		logger: logger,
	}

	for i, a := range cfg.TrustAnchors {
		if err := t.addAnchor(cfg, a); err != nil {
			return nil, fmt.Errorf("trust_anchor[%d]: %w", i, err)
		}
	}
	for _, r := range cfg.Rules {
		rule, err := cfg.buildRule(r)
		if err != nil {
			return nil, err
		}
		if err := t.Validator.AddRule(rule); err != nil {
			return nil, fmt.Errorf("rule %q: %w", r.ID, err)
		}
	}
	for i, r := range cfg.Command.Rules {
		if err := cfg.addCommandRule(t.Command, r); err != nil {
			return nil, fmt.Errorf("command.rule[%d]: %w", i, err)
		}
	}
	logger.Info("trust policy loaded",
		zap.Int("rules", len(cfg.Rules)),
		zap.Int("command_rules", len(cfg.Command.Rules)),
		zap.Int("anchors", len(t.Validator.Anchors())),
	)
	return t, nil
}

func (t *Trust) addAnchor(cfg *Config, a TrustAnchor) error {
	switch {
	case a.File != "":
		c, err := certificate.Load(cfg.path(a.File))
		if err != nil {
			return err
		}
		return t.Validator.AddAnchor(c)
	case a.Base64 != "":
		c, err := certificate.DecodeBase64(a.Base64)
		if err != nil {
			return err
		}
		return t.Validator.AddAnchor(c)
	default:
		dir := filepath.Clean(cfg.path(a.Dir))
		if err := t.ReloadAnchors(dir); err != nil {
			return err
		}
		if a.Watch {
			t.watched = append(t.watched, dir)
		}
		return nil
	}
}

func (cfg *Config) buildRule(r Rule) (validator.Rule, error) {
	kind, err := validator.ParsePacketKind(r.For)
	if err != nil {
		return validator.Rule{}, err
	}
	rule := validator.Rule{ID: r.ID, For: kind, Hierarchical: r.Hierarchical}
	if r.Name != "" {
		if rule.Matcher, err = namematch.Compile(r.Name); err != nil {
			return validator.Rule{}, fmt.Errorf("rule %q: %w", r.ID, err)
		}
	} else {
		prefix, err := ndn.ParseName(r.Prefix)
		if err != nil {
			return validator.Rule{}, fmt.Errorf("rule %q: %w", r.ID, err)
		}
		rule.Matcher = namematch.NewPrefix(prefix)
	}
	for _, file := range r.Anchors {
		c, err := certificate.Load(cfg.path(file))
		if err != nil {
			return validator.Rule{}, fmt.Errorf("rule %q: %w", r.ID, err)
		}
		rule.Anchors = append(rule.Anchors, c)
	}
	return rule, nil
}

func (cfg *Config) addCommandRule(v *command.Validator, r CommandRule) error {
	if r.Bypass {
		return v.AddBypassRule(r.Name)
	}
	c, err := certificate.Load(cfg.path(r.Certificate))
	if err != nil {
		return err
	}
	return v.AddRule(r.Name, c)
}

// ReloadAnchors replaces the anchors loaded from dir with its current
// *.cert files. Files that fail to load are skipped and logged.
func (t *Trust) ReloadAnchors(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to read anchor directory: %w", err)
	}
	var certs []*certificate.Certificate
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".cert") {
			continue
		}
		c, err := certificate.Load(filepath.Join(dir, e.Name()))
		if err != nil {
			t.logger.Warn("skipping trust anchor", zap.String("file", e.Name()), zap.Error(err))
			continue
		}
		certs = append(certs, c)
	}
	t.Validator.SetAnchorGroup(anchorGroup(dir), certs)
	t.logger.Debug("trust anchors loaded", zap.String("dir", dir), zap.Int("count", len(certs)))
	return nil
}

func anchorGroup(dir string) string { return "dir:" + filepath.Clean(dir) }

// WatchAnchors reloads watched anchor directories whenever their contents
// change. It blocks until ctx is done.
func (t *Trust) WatchAnchors(ctx context.Context) error {
	if len(t.watched) == 0 {
		<-ctx.Done()
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()
	for _, dir := range t.watched {
		if err := watcher.Add(dir); err != nil {
			return fmt.Errorf("failed to watch %s: %w", dir, err)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return errors.New("watcher closed")
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) &&
				!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}
			if err := t.ReloadAnchors(filepath.Dir(event.Name)); err != nil {
				t.logger.Warn("failed to reload trust anchors", zap.Error(err))
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return errors.New("watcher closed")
			}
			t.logger.Warn("anchor watch error", zap.Error(err))
		}
	}
}
