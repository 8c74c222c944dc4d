package alert

import (
	"sync"

	"github.com/agent-sre/control-plane/internal/utils"
	"github.com/awnumar/memguard"
)

// CredentialStore holds per-channel delivery secrets (webhook URLs,
// PagerDuty routing keys, OAuth tokens) as memguard enclaves: encrypted at
// rest in process memory and only decrypted into a locked buffer for the
// duration of a Use call, then wiped.
type CredentialStore struct {
	mu        sync.Mutex
	enclaves  map[string]*memguard.Enclave
}

// NewCredentialStore constructs an empty store.
func NewCredentialStore() *CredentialStore {
	return &CredentialStore{enclaves: make(map[string]*memguard.Enclave)}
}

// Put seals secret into the store under name. secret is wiped by memguard
// as part of sealing; callers must not reuse the slice afterward.
func (c *CredentialStore) Put(name string, secret []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enclaves[name] = memguard.NewEnclave(secret)
}

// Use opens the named credential into a locked buffer, invokes fn with its
// plaintext bytes, and destroys the buffer before returning, regardless of
// whether fn returns an error.
func (c *CredentialStore) Use(name string, fn func(secret []byte) error) error {
	c.mu.Lock()
	enclave, ok := c.enclaves[name]
	c.mu.Unlock()
	if !ok {
		return utils.NewAppError("alert.CredentialStore.Use", utils.KindInvalidConfig, "no credential registered: "+name, nil)
	}

	buf, err := enclave.Open()
	if err != nil {
		return utils.NewAppError("alert.CredentialStore.Use", utils.KindInvalidConfig, "failed to open credential: "+name, err)
	}
	defer buf.Destroy()

	return fn(buf.Bytes())
}

// Has reports whether a credential is registered under name.
func (c *CredentialStore) Has(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.enclaves[name]
	return ok
}
