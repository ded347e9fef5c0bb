// Package keyprovider implements the Key/Crypto Provider collaborator:
// sign(payload, kid) at the algorithm kid's key type prescribes,
// verify(jws, allowed_algs, keys),
// keys_for(client_id, use), hmac_sha256(key, msg).
package keyprovider

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/hmac"
	"crypto/rsa"
	"crypto/sha256"
	"fmt"
	"sync"

	"github.com/pkg/errors"
	jose "gopkg.in/square/go-jose.v2"

	"github.com/coreos/oidcprovider/oidcerr"
)

// KeyUse distinguishes signing keys from ones only used to verify
// incoming client assertions.
type KeyUse string

const (
	UseSig KeyUse = "sig"
)

// Key pairs a JOSE key with the metadata keys_for callers need to pick one.
type Key struct {
	Kid string
	Use KeyUse
	Key interface{} // *rsa.PrivateKey, *ecdsa.PrivateKey, *rsa.PublicKey, *ecdsa.PublicKey, or []byte (HMAC)
}

// Provider is the in-memory reference Key/Crypto Provider. Server signing
// keys are registered once; per-client keys (for private_key_jwt) are
// registered as they're discovered from a client's JWKS.
type Provider struct {
	mu sync.RWMutex
	signingKeys []Key
	clientKeys map[string][]Key // client_id -> keys
}

// New returns a Provider with no keys registered.
func New() *Provider {
	return &Provider{clientKeys: make(map[string][]Key)}
}

// AddSigningKey registers a server signing key, usable by Sign and
// returned from KeysFor("", UseSig).
func (p *Provider) AddSigningKey(k Key) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.signingKeys = append(p.signingKeys, k)
}

// AddClientKeys registers the keys from a client's JWKS, used to verify
// that client's private_key_jwt assertions.
func (p *Provider) AddClientKeys(clientID string, keys []Key) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clientKeys[clientID] = keys
}

// KeysFor returns the keys registered for a client (use=sig, its JWKS) or,
// for an empty clientID, the server's own signing keys.
func (p *Provider) KeysFor(clientID string, use KeyUse) []Key {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if clientID == "" {
		out := make([]Key, len(p.signingKeys))
		copy(out, p.signingKeys)
		return out
	}
	return p.clientKeys[clientID]
}

// AlgorithmFor returns the JWS algorithm prescribed for a key's Go type:
// RSA always signs RS256, OIDC's mandatory-to-support algorithm; ECDSA's
// algorithm is determined by its curve.
func AlgorithmFor(key interface{}) (jose.SignatureAlgorithm, error) {
	switch k := key.(type) {
	case *rsa.PrivateKey:
		return jose.RS256, nil
	case *rsa.PublicKey:
		return jose.RS256, nil
	case *ecdsa.PrivateKey:
		return ecdsaAlgorithm(k.Params())
	case *ecdsa.PublicKey:
		return ecdsaAlgorithm(k.Params())
	default:
		return "", fmt.Errorf("keyprovider: unsupported key type %T", key)
	}
}

func ecdsaAlgorithm(params *elliptic.CurveParams) (jose.SignatureAlgorithm, error) {
	switch params {
	case elliptic.P256().Params():
		return jose.ES256, nil
	case elliptic.P384().Params():
		return jose.ES384, nil
	case elliptic.P521().Params():
		return jose.ES512, nil
	default:
		return "", errors.New("keyprovider: unsupported ecdsa curve")
	}
}

// Sign produces a compact JWS over payload using kid's registered signing
// key, at the algorithm its key type prescribes.
func (p *Provider) Sign(payload []byte, kid string) (string, error) {
	p.mu.RLock()
	var key *Key
	for i := range p.signingKeys {
		if p.signingKeys[i].Kid == kid {
			key = &p.signingKeys[i]
			break
		}
	}
	p.mu.RUnlock()
	if key == nil {
		return "", oidcerr.ErrMissingKey
	}

	alg, err := AlgorithmFor(key.Key)
	if err != nil {
		return "", err
	}
	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: alg, Key: key.Key}, (&jose.SignerOptions{}).WithHeader("kid", kid))
	if err != nil {
		return "", errors.Wrap(err, "keyprovider: building signer")
	}
	jws, err := signer.Sign(payload)
	if err != nil {
		return "", errors.Wrap(err, "keyprovider: signing payload")
	}
	return jws.CompactSerialize()
}

// Verify checks a compact JWS against the provided candidate keys,
// restricted to allowedAlgs. It returns the verified payload, or
// oidcerr.ErrNoMatchingKey if no candidate key verifies it.
func Verify(compact string, allowedAlgs []jose.SignatureAlgorithm, keys []Key) ([]byte, error) {
	jws, err := jose.ParseSigned(compact)
	if err != nil {
		return nil, oidcerr.ErrMalformed
	}
	if len(jws.Signatures) == 0 {
		return nil, oidcerr.ErrMalformed
	}
	if !algAllowed(jws.Signatures[0].Header.Algorithm, allowedAlgs) {
		return nil, oidcerr.ErrMalformed
	}
	if len(keys) == 0 {
		return nil, oidcerr.ErrMissingKey
	}
	for _, k := range keys {
		payload, err := jws.Verify(k.Key)
		if err == nil {
			return payload, nil
		}
	}
	return nil, oidcerr.ErrNoMatchingKey
}

func algAllowed(alg string, allowed []jose.SignatureAlgorithm) bool {
	for _, a := range allowed {
		if string(a) == alg {
			return true
		}
	}
	return false
}

// HMACSHA256 computes an HMAC-SHA256 tag, the primitive client_secret_jwt
// verification (and the token package's signer) both reduce to.
func HMACSHA256(key, msg []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(msg)
	return mac.Sum(nil)
}
