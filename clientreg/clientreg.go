// Package clientreg implements the Client Registry collaborator that
// this package specifies as consumed-but-not-owned by the authenticator:
// get(client_id) -> ClientInfo | NotFound, update(client_id, patch) for
// auth_method recording. This is the reference in-memory implementation.
package clientreg

import (
	"crypto/subtle"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/crypto/bcrypt"

	"github.com/coreos/oidcprovider/oidcerr"
	pcrypto "github.com/coreos/oidcprovider/pkg/crypto"
)

// JWK is a minimal public-key record, enough for private_key_jwt
// verification. The key material itself is opaque to this
// package; keyprovider interprets it.
type JWK struct {
	Kid string
	Use string
	Key interface{}
}

// ClientInfo is the registry record this package describes.
type ClientInfo struct {
	ClientID string
	ClientSecretHash []byte // bcrypt hash, used for client_secret_basic/post compares
	ClientSecretExpiresAt int64 // unix seconds, 0 = never expires
	RedirectURIs []string
	JWKSURI string
	JWKS []JWK
	TokenEndpointAuthMethod string

	// clientSecretHMACKey holds the raw secret bytes, kept alongside the
	// bcrypt hash solely because client_secret_jwt needs the exact shared
	// secret as its HMAC key; a one-way hash cannot serve that role. This
	// is the one place the registry retains recoverable secret material.
	clientSecretHMACKey []byte

	// AuthMethod records, per request class name, which of the six
	// client_auth methods last authenticated this client.
	AuthMethod map[string]string
}

// Registry is the in-memory reference Client Registry.
type Registry struct {
	mu sync.Mutex
	clients map[string]ClientInfo
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{clients: make(map[string]ClientInfo)}
}

// Register adds a client with a freshly generated secret and returns the
// plaintext secret exactly once. The registry keeps its bcrypt hash for
// VerifySecret and the raw bytes as the client_secret_jwt HMAC key.
func (r *Registry) Register(clientID string, redirectURIs []string) (string, error) {
	secretBytes, err := pcrypto.RandBytes(32)
	if err != nil {
		return "", errors.Wrap(err, "clientreg: generating client secret")
	}
	secret := pcrypto.EncodeSecret(secretBytes)

	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", errors.Wrap(err, "clientreg: hashing client secret")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.clients[clientID]; ok {
		return "", errors.New("clientreg: client already registered")
	}
	r.clients[clientID] = ClientInfo{
		ClientID: clientID,
		ClientSecretHash: hash,
		clientSecretHMACKey: []byte(secret),
		RedirectURIs: redirectURIs,
		AuthMethod: make(map[string]string),
	}
	return secret, nil
}

// SetClientSecret (re)seeds clientID's secret from a known plaintext,
// hashing it for VerifySecret and retaining it for HMACKeyFor. Used by
// tests and by operators provisioning clients with a pre-chosen secret.
func (r *Registry) SetClientSecret(clientID, secret string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return errors.Wrap(err, "clientreg: hashing client secret")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	ci, ok := r.clients[clientID]
	if !ok {
		return oidcerr.ErrNotFound
	}
	ci.ClientSecretHash = hash
	ci.clientSecretHMACKey = []byte(secret)
	r.clients[clientID] = ci
	return nil
}

// HMACKeyFor returns the raw shared-secret bytes used as the HMAC key for
// client_secret_jwt verification.
func (r *Registry) HMACKeyFor(clientID string) ([]byte, error) {
	ci, err := r.Get(clientID)
	if err != nil {
		return nil, err
	}
	if len(ci.clientSecretHMACKey) == 0 {
		return nil, oidcerr.ErrMissingKey
	}
	return ci.clientSecretHMACKey, nil
}

// Get fetches a client's registry record.
func (r *Registry) Get(clientID string) (ClientInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ci, ok := r.clients[clientID]
	if !ok {
		return ClientInfo{}, oidcerr.ErrNotFound
	}
	return ci, nil
}

// VerifySecret reports whether secret matches clientID's stored hash. A
// missing client never matches a secret.
func (r *Registry) VerifySecret(clientID, secret string) bool {
	ci, err := r.Get(clientID)
	if err != nil {
		return false
	}
	return bcrypt.CompareHashAndPassword(ci.ClientSecretHash, []byte(secret)) == nil
}

// ConstantTimeCompareSecret compares a caller-supplied plaintext reference
// secret with a presented one in constant time. The authenticator's
// client_secret_basic/client_secret_post paths do not call it; they compare
// against the stored bcrypt hash through VerifySecret.
func ConstantTimeCompareSecret(want, got string) bool {
	if len(want) != len(got) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(want), []byte(got)) == 1
}

// RecordAuthMethod stores, under requestClass, the method name that last
// authenticated clientID.
func (r *Registry) RecordAuthMethod(clientID, requestClass, method string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ci, ok := r.clients[clientID]
	if !ok {
		return oidcerr.ErrNotFound
	}
	if ci.AuthMethod == nil {
		ci.AuthMethod = make(map[string]string)
	}
	ci.AuthMethod[requestClass] = method
	r.clients[clientID] = ci
	return nil
}

// Put inserts or overwrites a full ClientInfo record, used by tests and by
// operators seeding a registry from configuration-as-code.
func (r *Registry) Put(ci ClientInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ci.AuthMethod == nil {
		ci.AuthMethod = make(map[string]string)
	}
	r.clients[ci.ClientID] = ci
}
