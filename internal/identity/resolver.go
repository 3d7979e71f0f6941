package identity

import (
	"context"
	"strings"
	"time"

	"github.com/neogan74/rentguard/internal/logger"
	"github.com/neogan74/rentguard/internal/metrics"
	"github.com/neogan74/rentguard/internal/token"
)

// BearerScheme is the expected Authorization scheme prefix.
const BearerScheme = "Bearer "

// DefaultExemptPrefixes are the paths that never go through token resolution.
var DefaultExemptPrefixes = []string{
	"/api/auth",
	"/api/docs",
	"/swagger",
	"/health",
	"/api/test",
}

// Verifier checks a raw token and returns its subject.
type Verifier interface {
	Verify(raw string, now time.Time) (string, error)
}

// Directory enriches a verified subject with name and authorities.
type Directory interface {
	Lookup(ctx context.Context, subject string) (Principal, error)
}

// Resolver turns an Authorization header into a Principal. It never fails:
// every problem degrades to Anonymous.
type Resolver struct {
	verifier  Verifier
	directory Directory
	exempt    []string
	log       logger.Logger
}

// NewResolver builds a resolver. directory may be nil, in which case the
// principal carries only the token subject.
func NewResolver(verifier Verifier, directory Directory, exemptPrefixes []string, log logger.Logger) *Resolver {
	if log == nil {
		log = logger.GetDefault()
	}
	if exemptPrefixes == nil {
		exemptPrefixes = DefaultExemptPrefixes
	}
	return &Resolver{
		verifier:  verifier,
		directory: directory,
		exempt:    exemptPrefixes,
		log:       log,
	}
}

// Exempt reports whether path skips resolution entirely.
func (r *Resolver) Exempt(path string) bool {
	for _, prefix := range r.exempt {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// Resolve verifies the bearer token in header at instant now.
func (r *Resolver) Resolve(ctx context.Context, header string, now time.Time) Principal {
	if header == "" {
		r.log.Debug("No authorization header, continuing as anonymous")
		metrics.IdentityResolutionsTotal.WithLabelValues("absent").Inc()
		return Anonymous
	}
	if !strings.HasPrefix(header, BearerScheme) {
		r.log.Warn("Unsupported authorization scheme, continuing as anonymous")
		metrics.IdentityResolutionsTotal.WithLabelValues("bad_scheme").Inc()
		return Anonymous
	}

	raw := strings.TrimSpace(strings.TrimPrefix(header, BearerScheme))
	subject, err := r.verifier.Verify(raw, now)
	if err != nil {
		reason := token.KindOf(err).String()
		r.log.Warn("Bearer token rejected, continuing as anonymous",
			logger.String("reason", reason),
			logger.Error(err))
		metrics.IdentityResolutionsTotal.WithLabelValues(reason).Inc()
		return Anonymous
	}

	if r.directory == nil {
		metrics.IdentityResolutionsTotal.WithLabelValues("ok").Inc()
		return Principal{Subject: subject, Name: subject}
	}

	principal, err := r.directory.Lookup(ctx, subject)
	if err != nil {
		r.log.Warn("Token subject not found in directory, continuing as anonymous",
			logger.String("subject", subject),
			logger.Error(err))
		metrics.IdentityResolutionsTotal.WithLabelValues("unknown_subject").Inc()
		return Anonymous
	}

	metrics.IdentityResolutionsTotal.WithLabelValues("ok").Inc()
	return principal
}
