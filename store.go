package queryz

import (
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/zoobzio/clockz"
)

// HashFunc maps a cache key to a bucket-independent hash value.
type HashFunc func(key string) uint64

// Poly31 is the default cache hash: the sum of key[i]·31^i evaluated with
// wrapping 64-bit arithmetic. It is stable, not collision resistant.
func Poly31(key string) uint64 {
	const base = 31
	var h uint64
	coef := uint64(1)
	for i := 0; i < len(key); i++ {
		h += uint64(key[i]) * coef
		coef *= base
	}
	return h
}

// XXHash hashes key with xxhash64.
func XXHash(key string) uint64 {
	return xxhash.Sum64String(key)
}

// Entry is a snapshot of one cached response.
type Entry struct {
	ExpiresAt time.Time
	Key       string
	Payload   string
	Status    Status
}

type entry struct {
	expiresAt time.Time
	next      *entry
	key       string
	payload   string
	status    Status
}

// bucket is the head of a chain, most recent insertion first.
type bucket struct {
	head *entry
	len  int
}

// Store is a fixed-size array of buckets holding expiring entries.
// Expired entries are removed only when a Find walks past them.
// Store is safe for concurrent use; every lookup and insert takes the
// store lock.
type Store struct {
	clock   clockz.Clock
	hash    HashFunc
	onEvict func(Entry)
	buckets []bucket
	timeout time.Duration
	mu      sync.Mutex
}

// NewStore creates a store with bucketCount buckets and the given entry
// timeout. It returns ErrInvalidBucketCount if bucketCount is not positive.
func NewStore(bucketCount int, timeout time.Duration) (*Store, error) {
	if bucketCount <= 0 {
		return nil, ErrInvalidBucketCount
	}
	return &Store{
		buckets: make([]bucket, bucketCount),
		timeout: timeout,
		hash:    Poly31,
	}, nil
}

// WithClock sets a custom clock for testing.
func (s *Store) WithClock(clock clockz.Clock) *Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clock = clock
	return s
}

// WithHash replaces the hash function. Existing entries are dropped since
// their bucket positions no longer hold.
func (s *Store) WithHash(hash HashFunc) *Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hash = hash
	s.clearLocked()
	return s
}

// OnEvict registers fn to be called, under the store lock, for every entry
// removed by lazy eviction.
func (s *Store) OnEvict(fn func(Entry)) *Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onEvict = fn
	return s
}

func (s *Store) getClock() clockz.Clock {
	if s.clock == nil {
		return clockz.RealClock
	}
	return s.clock
}

// Timeout returns the lifetime given to new entries.
func (s *Store) Timeout() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timeout
}

// SetTimeout changes the lifetime of entries inserted from now on.
func (s *Store) SetTimeout(timeout time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timeout = timeout
}

// BucketCount returns the number of buckets.
func (s *Store) BucketCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buckets)
}

// Reset reallocates the bucket array to bucketCount buckets and drops every
// entry. Entries are never rehashed across a resize.
func (s *Store) Reset(bucketCount int) error {
	if bucketCount <= 0 {
		return ErrInvalidBucketCount
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if bucketCount != len(s.buckets) || s.buckets == nil {
		s.buckets = make([]bucket, bucketCount)
		return nil
	}
	s.clearLocked()
	return nil
}

// Clear drops every entry and keeps the bucket array.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearLocked()
}

func (s *Store) clearLocked() {
	for i := range s.buckets {
		s.unlinkAll(&s.buckets[i])
	}
}

// unlinkAll breaks the chain so no entry outlives the bucket reference.
func (*Store) unlinkAll(b *bucket) {
	for e := b.head; e != nil; {
		next := e.next
		e.next = nil
		e = next
	}
	b.head = nil
	b.len = 0
}

// Release drops every entry and the bucket array itself. The store must be
// Reset before it is used again.
func (s *Store) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearLocked()
	s.buckets = nil
}

// BucketOf returns the bucket index of key.
func (s *Store) BucketOf(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bucketOf(key)
}

func (s *Store) bucketOf(key string) int {
	return int(s.hash(key) % uint64(len(s.buckets)))
}

// BucketLen returns the number of entries chained in bucket i, expired or not.
func (s *Store) BucketLen(i int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i < 0 || i >= len(s.buckets) {
		return 0
	}
	return s.buckets[i].len
}

// Len returns the number of stored entries, expired or not.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for i := range s.buckets {
		n += s.buckets[i].len
	}
	return n
}

// Find returns the live entry stored under key. Walking the key's bucket
// unlinks every entry whose expiry is not after now, whatever its key.
func (s *Store) Find(key string) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.find(key, s.getClock().Now())
	if e == nil {
		return Entry{}, false
	}
	return e.snapshot(), true
}

func (s *Store) find(key string, now time.Time) *entry {
	if len(s.buckets) == 0 {
		return nil
	}
	b := &s.buckets[s.bucketOf(key)]
	link := &b.head
	for *link != nil {
		e := *link
		if !now.Before(e.expiresAt) {
			*link = e.next
			e.next = nil
			b.len--
			if s.onEvict != nil {
				s.onEvict(e.snapshot())
			}
			continue
		}
		if e.key == key {
			return e
		}
		link = &e.next
	}
	return nil
}

// Insert stores payload under key unless a live entry already exists, in
// which case the existing entry is returned and inserted is false.
func (s *Store) Insert(key, payload string, status Status) (stored Entry, inserted bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.buckets) == 0 {
		return Entry{}, false
	}
	now := s.getClock().Now()
	if e := s.find(key, now); e != nil {
		return e.snapshot(), false
	}
	b := &s.buckets[s.bucketOf(key)]
	e := &entry{
		key:       key,
		payload:   payload,
		status:    status,
		expiresAt: now.Add(s.timeout),
		next:      b.head,
	}
	b.head = e
	b.len++
	return e.snapshot(), true
}

func (e *entry) snapshot() Entry {
	return Entry{
		Key:       e.key,
		Payload:   e.payload,
		Status:    e.status,
		ExpiresAt: e.expiresAt,
	}
}
