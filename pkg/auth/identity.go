package auth

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/platinummonkey/memhub/pkg/errs"
	"github.com/platinummonkey/memhub/pkg/observability"
)

// HeaderPair names the display-name and email headers set by a reverse proxy
type HeaderPair struct {
	UserHeader  string `yaml:"user_header"`
	EmailHeader string `yaml:"email_header"`
}

// DefaultProxyHeaders returns the supported proxy conventions in lookup order
func DefaultProxyHeaders() []HeaderPair {
	return []HeaderPair{
		{UserHeader: "X-Forwarded-User", EmailHeader: "X-Forwarded-Email"},
		{UserHeader: "X-Auth-Request-User", EmailHeader: "X-Auth-Request-Email"},
	}
}

// IdentityConfig configures identity resolution. The resolver copies it at
// construction; later changes to the caller's value have no effect.
type IdentityConfig struct {
	DevMode         bool
	DevEmail        string
	DevDisplayName  string
	PublicBaseURL   string
	DevAllowedHosts []string
	AdminEmails     []string
	ProxyHeaders    []HeaderPair
	UserCacheSize   int
	UserCacheTTL    time.Duration
}

// Claim is what an extractor learned from the request
type Claim struct {
	Email       string
	DisplayName string
	Token       *PersonalAccessToken
	Source      string
}

// Extractor recognizes one kind of credential. A nil claim with a nil error
// means the credential is absent and the next extractor should be tried.
type Extractor interface {
	Name() string
	Extract(ctx context.Context, header http.Header) (*Claim, error)
}

// PATExtractor accepts "Authorization: Bearer mh_pat_..." credentials
type PATExtractor struct {
	tokens *TokenManager
}

// NewPATExtractor creates an extractor verifying tokens with tokens
func NewPATExtractor(tokens *TokenManager) *PATExtractor {
	return &PATExtractor{tokens: tokens}
}

// Name implements Extractor
func (e *PATExtractor) Name() string { return SourcePAT }

// Extract implements Extractor. Bearer credentials without the PAT prefix
// are not applicable.
func (e *PATExtractor) Extract(ctx context.Context, header http.Header) (*Claim, error) {
	authz := header.Get("Authorization")
	if len(authz) < len("Bearer ") || !strings.EqualFold(authz[:len("Bearer ")], "Bearer ") {
		return nil, nil
	}
	raw := strings.TrimSpace(authz[len("Bearer "):])
	if !strings.HasPrefix(raw, TokenPrefix) {
		return nil, nil
	}

	token, err := e.tokens.Verify(ctx, raw)
	if err != nil {
		return nil, err
	}
	return &Claim{Token: token, Source: SourcePAT}, nil
}

// ProxyHeaderExtractor reads the identity forwarded by an authenticating proxy
type ProxyHeaderExtractor struct {
	pair HeaderPair
}

// NewProxyHeaderExtractor creates an extractor for one header convention
func NewProxyHeaderExtractor(pair HeaderPair) *ProxyHeaderExtractor {
	return &ProxyHeaderExtractor{pair: pair}
}

// Name implements Extractor
func (e *ProxyHeaderExtractor) Name() string { return SourceProxy + ":" + e.pair.EmailHeader }

// Extract implements Extractor
func (e *ProxyHeaderExtractor) Extract(_ context.Context, header http.Header) (*Claim, error) {
	email := NormalizeEmail(header.Get(e.pair.EmailHeader))
	if email == "" {
		return nil, nil
	}
	return &Claim{
		Email:       email,
		DisplayName: strings.TrimSpace(header.Get(e.pair.UserHeader)),
		Source:      SourceProxy,
	}, nil
}

// DevModeExtractor always yields the configured local identity
type DevModeExtractor struct {
	email       string
	displayName string
}

// Name implements Extractor
func (e *DevModeExtractor) Name() string { return SourceDev }

// Extract implements Extractor
func (e *DevModeExtractor) Extract(context.Context, http.Header) (*Claim, error) {
	return &Claim{Email: e.email, DisplayName: e.displayName, Source: SourceDev}, nil
}

// IdentityResolver turns request credentials into an Identity
type IdentityResolver struct {
	store      Store
	extractors []Extractor
	admins     map[string]bool
	users      *expirable.LRU[string, *User]
	logger     *observability.Logger
	metrics    *observability.Metrics
}

// NewIdentityResolver builds the extractor chain from cfg. tokens may be nil
// to disable PAT authentication. Development mode fails with
// errs.ErrConfiguration unless PublicBaseURL is a loopback or allow-listed host.
func NewIdentityResolver(cfg IdentityConfig, store Store, tokens *TokenManager, logger *observability.Logger, metrics *observability.Metrics) (*IdentityResolver, error) {
	r := &IdentityResolver{
		store:   store,
		admins:  make(map[string]bool, len(cfg.AdminEmails)),
		logger:  logger,
		metrics: metrics,
	}
	for _, email := range cfg.AdminEmails {
		if e := NormalizeEmail(email); e != "" {
			r.admins[e] = true
		}
	}

	if tokens != nil {
		r.extractors = append(r.extractors, NewPATExtractor(tokens))
	}
	pairs := cfg.ProxyHeaders
	if len(pairs) == 0 {
		pairs = DefaultProxyHeaders()
	}
	for _, pair := range pairs {
		r.extractors = append(r.extractors, NewProxyHeaderExtractor(pair))
	}

	if cfg.DevMode {
		if err := checkDevModeHost(cfg.PublicBaseURL, cfg.DevAllowedHosts); err != nil {
			return nil, err
		}
		email := NormalizeEmail(cfg.DevEmail)
		if email == "" {
			return nil, fmt.Errorf("development mode requires a dev email: %w", errs.ErrConfiguration)
		}
		r.extractors = append(r.extractors, &DevModeExtractor{email: email, displayName: cfg.DevDisplayName})
		logger.WithField("email", email).Warn("development identity fallback enabled")
	}

	size, ttl := cfg.UserCacheSize, cfg.UserCacheTTL
	if size <= 0 {
		size = 1024
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	r.users = expirable.NewLRU[string, *User](size, nil, ttl)

	return r, nil
}

// Resolve tries each extractor in order. A rejected credential is logged and
// the next extractor is tried; a storage failure aborts resolution.
func (r *IdentityResolver) Resolve(ctx context.Context, header http.Header) (*Identity, error) {
	for _, ex := range r.extractors {
		claim, err := ex.Extract(ctx, header)
		if err != nil {
			if !errors.Is(err, errs.ErrAuthenticationRequired) {
				return nil, fmt.Errorf("failed to verify credential: %w", err)
			}
			r.logger.WithError(err).WithField("extractor", ex.Name()).Warn("credential rejected")
			r.record(ex.Name(), "rejected")
			continue
		}
		if claim == nil {
			continue
		}

		identity, err := r.identityFor(ctx, claim)
		if err != nil {
			return nil, err
		}
		r.record(claim.Source, "resolved")
		return identity, nil
	}

	r.record("none", "unauthenticated")
	return nil, fmt.Errorf("no credential resolved to an identity: %w", errs.ErrAuthenticationRequired)
}

func (r *IdentityResolver) identityFor(ctx context.Context, claim *Claim) (*Identity, error) {
	var user *User
	var err error
	if claim.Token != nil {
		user, err = r.store.GetUser(ctx, claim.Token.UserID)
		if errors.Is(err, errs.ErrNotFound) {
			return nil, fmt.Errorf("token owner %d missing: %w", claim.Token.UserID, errs.ErrAuthenticationRequired)
		}
	} else {
		user, err = r.userByEmail(ctx, claim.Email, claim.DisplayName)
	}
	if err != nil {
		return nil, err
	}

	resolved := *user
	if r.admins[NormalizeEmail(resolved.Email)] {
		resolved.IsSuperadmin = true
	}

	memberships, err := r.store.ListMemberships(ctx, resolved.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load memberships: %w", err)
	}
	byOrg := make(map[int64]*Membership, len(memberships))
	for _, m := range memberships {
		byOrg[m.OrganizationID] = m
	}

	return &Identity{
		User:        &resolved,
		Memberships: byOrg,
		Token:       claim.Token,
		Source:      claim.Source,
	}, nil
}

func (r *IdentityResolver) userByEmail(ctx context.Context, email, displayName string) (*User, error) {
	if user, ok := r.users.Get(email); ok {
		return user, nil
	}
	user, err := r.store.GetOrCreateUser(ctx, email, displayName)
	if err != nil {
		return nil, err
	}
	r.users.Add(email, user)
	return user, nil
}

func (r *IdentityResolver) record(source, outcome string) {
	if r.metrics != nil {
		r.metrics.IdentityResolutionsTotal.WithLabelValues(source, outcome).Inc()
	}
}

func checkDevModeHost(baseURL string, allowed []string) error {
	u, err := url.Parse(baseURL)
	if err != nil || u.Hostname() == "" {
		return fmt.Errorf("development mode requires a valid public base URL, got %q: %w", baseURL, errs.ErrConfiguration)
	}

	host := strings.ToLower(u.Hostname())
	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return nil
	}
	if ip := net.ParseIP(host); ip != nil && ip.IsLoopback() {
		return nil
	}
	for _, h := range allowed {
		if strings.EqualFold(strings.TrimSpace(h), host) {
			return nil
		}
	}
	return fmt.Errorf("development mode refused for non-local host %q: %w", host, errs.ErrConfiguration)
}
