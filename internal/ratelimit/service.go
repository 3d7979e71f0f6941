package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/neogan74/rentguard/internal/metrics"
)

// DefaultAuthPrefixes are the paths rate limited with the auth policy.
var DefaultAuthPrefixes = []string{"/api/auth"}

// Classifier maps a request path to its endpoint class.
type Classifier struct {
	authPrefixes []string
}

// NewClassifier returns a classifier; nil prefixes use DefaultAuthPrefixes.
func NewClassifier(authPrefixes []string) *Classifier {
	if authPrefixes == nil {
		authPrefixes = DefaultAuthPrefixes
	}
	return &Classifier{authPrefixes: authPrefixes}
}

// Classify returns ClassAuth for authentication endpoints and ClassGeneral
// for everything else.
func (c *Classifier) Classify(path string) Class {
	for _, prefix := range c.authPrefixes {
		if strings.HasPrefix(path, prefix) {
			return ClassAuth
		}
	}
	return ClassGeneral
}

// Config represents rate limiter configuration
type Config struct {
	Enabled       bool
	Auth          Policy
	General       Policy
	AuthPrefixes  []string
	IdleTTL       time.Duration
	SweepInterval time.Duration
}

// Service is the in-process Limiter: one Store per endpoint class.
type Service struct {
	config Config
	stores map[Class]*Store
}

// NewService validates both policies and creates the class stores.
func NewService(config Config) (*Service, error) {
	if err := config.Auth.Validate(); err != nil {
		return nil, fmt.Errorf("auth policy: %w", err)
	}
	if err := config.General.Validate(); err != nil {
		return nil, fmt.Errorf("general policy: %w", err)
	}

	s := &Service{
		config: config,
		stores: map[Class]*Store{
			ClassAuth:    NewStore(ClassAuth, config.Auth, config.IdleTTL),
			ClassGeneral: NewStore(ClassGeneral, config.General, config.IdleTTL),
		},
	}

	for class, store := range s.stores {
		label := string(class)
		store.StartEviction(config.SweepInterval, func(evicted, remaining int) {
			metrics.RateLimitEvictedBuckets.WithLabelValues(label).Add(float64(evicted))
			metrics.RateLimitActiveBuckets.WithLabelValues(label).Set(float64(remaining))
		})
	}

	return s, nil
}

// Admit implements Limiter. Unknown classes fall back to the general pool.
func (s *Service) Admit(_ context.Context, identity string, class Class, now time.Time) (Decision, error) {
	return s.Store(class).Admit(identity, now), nil
}

// Store returns the bucket store of class.
func (s *Service) Store(class Class) *Store {
	if store, ok := s.stores[class]; ok {
		return store
	}
	return s.stores[ClassGeneral]
}

// GetConfig returns the current rate limit configuration
func (s *Service) GetConfig() Config {
	return s.config
}

// Stats returns rate limiting statistics
func (s *Service) Stats() map[string]interface{} {
	stats := make(map[string]interface{}, len(s.stores))
	for _, class := range Classes {
		count := s.stores[class].Count()
		stats[string(class)+"_buckets"] = count
		metrics.RateLimitActiveBuckets.WithLabelValues(string(class)).Set(float64(count))
	}
	return stats
}

// GetActiveClients returns tracked buckets; filter is "all" or a class name.
func (s *Service) GetActiveClients(filter string, now time.Time) []ClientInfo {
	clients := []ClientInfo{}
	for _, class := range Classes {
		if filter != "all" && filter != string(class) {
			continue
		}
		clients = append(clients, s.stores[class].Clients(now)...)
	}
	return clients
}

// GetClientStatus returns the buckets held for identifier in every class.
func (s *Service) GetClientStatus(identifier string, now time.Time) []ClientInfo {
	var found []ClientInfo
	for _, class := range Classes {
		if info := s.stores[class].ClientStatus(identifier, now); info != nil {
			found = append(found, *info)
		}
	}
	return found
}

// Reset drops the bucket of identifier in class.
func (s *Service) Reset(class Class, identifier string) bool {
	return s.Store(class).Reset(identifier)
}

// ResetAll drops all buckets of class, or of every class when class is empty.
func (s *Service) ResetAll(class Class) {
	for c, store := range s.stores {
		if class == "" || class == c {
			store.ResetAll()
		}
	}
}

// Close stops background eviction.
func (s *Service) Close() {
	for _, store := range s.stores {
		store.Close()
	}
}
