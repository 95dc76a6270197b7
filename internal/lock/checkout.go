package lock

import (
	"path/filepath"
	"sync"
)

// CheckoutLocker serializes work on a checkout directory. Callers in the same
// process queue on a keyed mutex; other processes are kept out by an flock on
// "<dir>.lock" next to the checkout.
type CheckoutLocker struct {
	mu      sync.Mutex
	entries map[string]*keyedMutex
}

type keyedMutex struct {
	mu   sync.Mutex
	refs int
}

// NewCheckoutLocker returns an empty locker.
func NewCheckoutLocker() *CheckoutLocker {
	return &CheckoutLocker{entries: make(map[string]*keyedMutex)}
}

// Acquire blocks until dir is free and returns the function that releases it.
func (c *CheckoutLocker) Acquire(dir string) (func(), error) {
	key := filepath.Clean(dir)

	km := c.ref(key)
	km.mu.Lock()

	f, err := openLocked(key+".lock", true)
	if err != nil {
		km.mu.Unlock()
		c.unref(key)
		return nil, err
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			_ = unlockClose(f)
			km.mu.Unlock()
			c.unref(key)
		})
	}, nil
}

func (c *CheckoutLocker) ref(key string) *keyedMutex {
	c.mu.Lock()
	defer c.mu.Unlock()

	km, ok := c.entries[key]
	if !ok {
		km = &keyedMutex{}
		c.entries[key] = km
	}
	km.refs++
	return km
}

func (c *CheckoutLocker) unref(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	km := c.entries[key]
	km.refs--
	if km.refs == 0 {
		delete(c.entries, key)
	}
}

// held reports the number of callers holding or waiting on dir.
func (c *CheckoutLocker) held(dir string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if km, ok := c.entries[filepath.Clean(dir)]; ok {
		return km.refs
	}
	return 0
}
