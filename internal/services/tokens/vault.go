package tokens

import "sync"

// vault holds raw refresh tokens in memory only. A session's entry is seeded
// at code exchange, swapped on every rotation and dropped on logout; after a
// restart the vault is empty and the session must re-authenticate.
type vault struct {
	mu     sync.RWMutex
	tokens map[string]string
}

func newVault() *vault {
	return &vault{tokens: make(map[string]string)}
}

func (v *vault) get(sessionID string) (string, bool) {
	v.mu.RLock()
	raw, ok := v.tokens[sessionID]
	v.mu.RUnlock()
	return raw, ok
}

func (v *vault) put(sessionID, raw string) {
	v.mu.Lock()
	v.tokens[sessionID] = raw
	v.mu.Unlock()
}

func (v *vault) delete(sessionID string) {
	v.mu.Lock()
	delete(v.tokens, sessionID)
	v.mu.Unlock()
}
