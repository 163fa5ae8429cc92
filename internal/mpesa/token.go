package mpesa

import (
	"sync"
	"time"
)

// atomicToken is the mutex-guarded credential cache. The refresh path is
// serialized by singleflight; this guard only protects the read/write of the
// cached value itself.
type atomicToken struct {
	mu     sync.RWMutex
	token  string
	expiry time.Time
}

// get returns the cached token if it remains valid past the leeway window.
func (t *atomicToken) get(now time.Time, leeway time.Duration) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.token == "" || !now.Add(leeway).Before(t.expiry) {
		return "", false
	}
	return t.token, true
}

// set stores a freshly acquired token.
func (t *atomicToken) set(token string, expiry time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.token = token
	t.expiry = expiry
}
