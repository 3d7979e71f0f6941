package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Class is a coarse endpoint category with its own bucket pool.
type Class string

const (
	ClassAuth    Class = "auth"
	ClassGeneral Class = "general"
)

// Classes lists every endpoint class in a stable order.
var Classes = []Class{ClassAuth, ClassGeneral}

// ParseClass converts a string to a known Class.
func ParseClass(s string) (Class, error) {
	switch Class(strings.ToLower(s)) {
	case ClassAuth:
		return ClassAuth, nil
	case ClassGeneral:
		return ClassGeneral, nil
	default:
		return "", fmt.Errorf("unknown endpoint class: %q", s)
	}
}

// Policy describes one token bucket shape.
type Policy struct {
	Capacity        int     `json:"capacity"`
	RefillPerSecond float64 `json:"refill_per_second"`
}

// Validate checks that the policy can ever admit a request.
func (p Policy) Validate() error {
	if p.Capacity <= 0 {
		return errors.New("bucket capacity must be positive")
	}
	if p.RefillPerSecond <= 0 {
		return errors.New("bucket refill rate must be positive")
	}
	return nil
}

// FillDuration is how long an empty bucket takes to become full.
func (p Policy) FillDuration() time.Duration {
	return time.Duration(float64(p.Capacity) / p.RefillPerSecond * float64(time.Second))
}

// Decision is the result of one admission attempt. It is filled on both the
// allow and the deny path.
type Decision struct {
	Allowed           bool  `json:"allowed"`
	Limit             int   `json:"limit"`
	Remaining         int   `json:"remaining"`
	RetryAfterSeconds int64 `json:"retry_after_seconds"`
	ResetSeconds      int64 `json:"reset_seconds"`
}

// Limiter admits or rejects one operation for an identity in an endpoint
// class. A denial is a normal Decision, not an error.
type Limiter interface {
	Admit(ctx context.Context, identity string, class Class, now time.Time) (Decision, error)
}

func decide(p Policy, allowed bool, tokens float64) Decision {
	if tokens < 0 {
		tokens = 0
	}
	if tokens > float64(p.Capacity) {
		tokens = float64(p.Capacity)
	}
	d := Decision{
		Allowed:      allowed,
		Limit:        p.Capacity,
		Remaining:    int(math.Floor(tokens)),
		ResetSeconds: ceilSeconds((float64(p.Capacity) - tokens) / p.RefillPerSecond),
	}
	if !allowed {
		d.RetryAfterSeconds = ceilSeconds((1 - tokens) / p.RefillPerSecond)
	}
	return d
}

func ceilSeconds(s float64) int64 {
	if s <= 0 {
		return 0
	}
	return int64(math.Ceil(s - 1e-9))
}

// bucket refills lazily; rate.Limiter does the arithmetic and mu keeps the
// admit and the remaining-token read consistent.
type bucket struct {
	mu       sync.Mutex
	lim      *rate.Limiter
	policy   Policy
	lastSeen time.Time
	evicted  bool
}

func newBucket(p Policy) *bucket {
	return &bucket{
		lim:    rate.NewLimiter(rate.Limit(p.RefillPerSecond), p.Capacity),
		policy: p,
	}
}

// take returns false if the bucket was evicted after the caller looked it up.
func (b *bucket) take(now time.Time) (Decision, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.evicted {
		return Decision{}, false
	}
	if now.After(b.lastSeen) {
		b.lastSeen = now
	}
	allowed := b.lim.AllowN(now, 1)
	return decide(b.policy, allowed, b.lim.TokensAt(now)), true
}

func (b *bucket) snapshot(now time.Time) (tokens float64, lastSeen time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lim.TokensAt(now), b.lastSeen
}

func (b *bucket) retire() {
	b.mu.Lock()
	b.evicted = true
	b.mu.Unlock()
}

func (b *bucket) evictIfIdle(now time.Time, threshold time.Duration) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if now.Sub(b.lastSeen) > threshold {
		b.evicted = true
	}
	return b.evicted
}

// Store holds the buckets of one endpoint class, keyed by identity.
type Store struct {
	class   Class
	policy  Policy
	idleTTL time.Duration

	buckets map[string]*bucket
	mu      sync.RWMutex

	stop     chan struct{}
	stopOnce sync.Once
}

// NewStore creates an empty store. idleTTL of zero keeps buckets forever.
func NewStore(class Class, policy Policy, idleTTL time.Duration) *Store {
	return &Store{
		class:   class,
		policy:  policy,
		idleTTL: idleTTL,
		buckets: make(map[string]*bucket),
		stop:    make(chan struct{}),
	}
}

// Policy returns the bucket shape of this store.
func (s *Store) Policy() Policy {
	return s.policy
}

func (s *Store) getBucket(key string) *bucket {
	s.mu.RLock()
	b, exists := s.buckets[key]
	s.mu.RUnlock()

	if exists {
		return b
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Double-check in case another goroutine created it
	if b, exists := s.buckets[key]; exists {
		return b
	}

	b = newBucket(s.policy)
	// The key may alias a reused request buffer.
	s.buckets[strings.Clone(key)] = b
	return b
}

// Admit consumes one token from the bucket of key.
func (s *Store) Admit(key string, now time.Time) Decision {
	for {
		if d, ok := s.getBucket(key).take(now); ok {
			return d
		}
	}
}

// Reset drops the bucket of key; the next request starts with a full bucket.
// A concurrent Admit holding the old bucket retries against the new one.
func (s *Store) Reset(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.buckets[key]
	if ok {
		b.retire()
		delete(s.buckets, key)
	}
	return ok
}

// ResetAll drops every bucket.
func (s *Store) ResetAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range s.buckets {
		b.retire()
	}
	s.buckets = make(map[string]*bucket)
}

// Count returns the number of tracked buckets.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.buckets)
}

// EvictIdle removes buckets that have been idle long enough to be full again
// and for at least idleTTL. Such a bucket is indistinguishable from a fresh
// one, so eviction never changes a decision.
func (s *Store) EvictIdle(now time.Time) int {
	if s.idleTTL <= 0 {
		return 0
	}
	threshold := s.idleTTL
	if fill := s.policy.FillDuration(); fill > threshold {
		threshold = fill
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	evicted := 0
	for key, b := range s.buckets {
		if b.evictIfIdle(now, threshold) {
			delete(s.buckets, key)
			evicted++
		}
	}
	return evicted
}

// StartEviction runs EvictIdle every interval until Close. onEvict, when not
// nil, receives the number of evicted buckets and the remaining count.
func (s *Store) StartEviction(interval time.Duration, onEvict func(evicted, remaining int)) {
	if s.idleTTL <= 0 || interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				n := s.EvictIdle(time.Now())
				if onEvict != nil {
					onEvict(n, s.Count())
				}
			case <-s.stop:
				return
			}
		}
	}()
}

// Close stops the eviction loop.
func (s *Store) Close() {
	s.stopOnce.Do(func() { close(s.stop) })
}

// ClientInfo describes one tracked bucket.
type ClientInfo struct {
	Identifier string  `json:"identifier"`
	Class      Class   `json:"class"`
	Tokens     float64 `json:"tokens"`
	Capacity   int     `json:"capacity"`
	Rate       float64 `json:"rate"`
	LastSeen   string  `json:"last_seen"`
}

func (s *Store) info(key string, b *bucket, now time.Time) ClientInfo {
	tokens, lastSeen := b.snapshot(now)
	return ClientInfo{
		Identifier: key,
		Class:      s.class,
		Tokens:     tokens,
		Capacity:   s.policy.Capacity,
		Rate:       s.policy.RefillPerSecond,
		LastSeen:   lastSeen.UTC().Format(time.RFC3339),
	}
}

// Clients returns information about all tracked buckets.
func (s *Store) Clients(now time.Time) []ClientInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	clients := make([]ClientInfo, 0, len(s.buckets))
	for key, b := range s.buckets {
		clients = append(clients, s.info(key, b, now))
	}
	return clients
}

// ClientStatus returns the bucket of identifier, or nil if none exists.
func (s *Store) ClientStatus(identifier string, now time.Time) *ClientInfo {
	s.mu.RLock()
	b, exists := s.buckets[identifier]
	s.mu.RUnlock()

	if !exists {
		return nil
	}
	info := s.info(identifier, b, now)
	return &info
}
