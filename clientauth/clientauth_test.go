package clientauth

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	jose "gopkg.in/square/go-jose.v2"

	"github.com/coreos/oidcprovider/clientreg"
	"github.com/coreos/oidcprovider/keyprovider"
	"github.com/coreos/oidcprovider/oidcerr"
)

const (
	issuer = "https://issuer.example.com"
	tokenEndpoint = "https://issuer.example.com/token"
)

func newAuthenticator(t *testing.T) (*Authenticator, *clientreg.Registry, *keyprovider.Provider, clockwork.FakeClock) {
	t.Helper()
	registry := clientreg.New()
	keys := keyprovider.New()
	clock := clockwork.NewFakeClock()

	a, err := New(registry, keys, issuer, tokenEndpoint)
	require.NoError(t, err)
	a.WithClock(clock)
	return a, registry, keys, clock
}

func TestBasicAuthSuccess(t *testing.T) {
	a, registry, _, _ := newAuthenticator(t)
	_, err := registry.Register("c1", nil)
	require.NoError(t, err)
	require.NoError(t, registry.SetClientSecret("c1", "s1"))

	creds := base64.StdEncoding.EncodeToString([]byte("c1:s1"))
	res, err := a.VerifyClient(Request{
		AuthorizationHeader: "Basic " + creds,
		RequestClass: "TokenRequest",
	})
	require.NoError(t, err)
	assert.Equal(t, "c1", res.ClientID)
	assert.Equal(t, MethodClientSecretBasic, res.Method)

	ci, err := registry.Get("c1")
	require.NoError(t, err)
	assert.Equal(t, MethodClientSecretBasic, ci.AuthMethod["TokenRequest"])
}

func TestBasicAuthWrongSecret(t *testing.T) {
	a, registry, _, _ := newAuthenticator(t)
	_, err := registry.Register("c1", nil)
	require.NoError(t, err)
	require.NoError(t, registry.SetClientSecret("c1", "s1"))

	creds := base64.StdEncoding.EncodeToString([]byte("c1:wrong"))
	_, err = a.VerifyClient(Request{AuthorizationHeader: "Basic " + creds})
	assert.ErrorIs(t, err, oidcerr.ErrAuthnFailure)
}

func TestSecretPostSuccess(t *testing.T) {
	a, registry, _, _ := newAuthenticator(t)
	_, err := registry.Register("c1", nil)
	require.NoError(t, err)
	require.NoError(t, registry.SetClientSecret("c1", "s1"))

	res, err := a.VerifyClient(Request{ClientID: "c1", ClientSecret: "s1"})
	require.NoError(t, err)
	assert.Equal(t, MethodClientSecretPost, res.Method)
}

func TestBearerHeaderIsIdentificationOnly(t *testing.T) {
	a, _, _, _ := newAuthenticator(t)
	res, err := a.VerifyClient(Request{AuthorizationHeader: "Bearer sometoken"})
	require.NoError(t, err)
	assert.Empty(t, res.ClientID)
	assert.Equal(t, MethodBearerHeader, res.Method)
}

func TestBearerBodyIsIdentificationOnly(t *testing.T) {
	a, _, _, _ := newAuthenticator(t)
	res, err := a.VerifyClient(Request{AccessToken: "sometoken"})
	require.NoError(t, err)
	assert.Empty(t, res.ClientID)
	assert.Equal(t, MethodBearerBody, res.Method)
}

func TestUnknownAuthnMethod(t *testing.T) {
	a, _, _, _ := newAuthenticator(t)
	_, err := a.VerifyClient(Request{})
	assert.ErrorIs(t, err, oidcerr.ErrUnknownAuthnMethod)
}

func TestExpiredSecretRejected(t *testing.T) {
	a, registry, _, clock := newAuthenticator(t)
	_, err := registry.Register("c1", nil)
	require.NoError(t, err)
	require.NoError(t, registry.SetClientSecret("c1", "s1"))

	ci, err := registry.Get("c1")
	require.NoError(t, err)
	ci.ClientSecretExpiresAt = clock.Now().Add(-time.Hour).Unix()
	registry.Put(ci)

	_, err = a.VerifyClient(Request{ClientID: "c1", ClientSecret: "s1"})
	assert.ErrorIs(t, err, oidcerr.ErrAuthnFailure)
}

func signHMACAssertion(t *testing.T, clientID string, key []byte, clock clockwork.Clock, jti string) string {
	t.Helper()
	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.HS256, Key: key}, nil)
	require.NoError(t, err)

	claims := assertionClaims{
		Issuer: clientID,
		Subject: clientID,
		Audience: tokenEndpoint,
		JTI: jti,
		IssuedAt: clock.Now().Unix(),
		ExpiresAt: clock.Now().Add(time.Minute).Unix(),
	}
	body, err := json.Marshal(claims)
	require.NoError(t, err)
	jws, err := signer.Sign(body)
	require.NoError(t, err)
	compact, err := jws.CompactSerialize()
	require.NoError(t, err)
	return compact
}

func TestClientSecretJWTSuccess(t *testing.T) {
	a, registry, _, clock := newAuthenticator(t)
	_, err := registry.Register("c1", nil)
	require.NoError(t, err)
	require.NoError(t, registry.SetClientSecret("c1", "shared-secret"))

	assertion := signHMACAssertion(t, "c1", []byte("shared-secret"), clock, "jti-1")
	res, err := a.VerifyClient(Request{ClientAssertion: assertion})
	require.NoError(t, err)
	assert.Equal(t, "c1", res.ClientID)
	assert.Equal(t, MethodClientSecretJWT, res.Method)
}

func TestClientSecretJWTReplayedJTIRejected(t *testing.T) {
	a, registry, _, clock := newAuthenticator(t)
	_, err := registry.Register("c1", nil)
	require.NoError(t, err)
	require.NoError(t, registry.SetClientSecret("c1", "shared-secret"))

	assertion := signHMACAssertion(t, "c1", []byte("shared-secret"), clock, "jti-replay")
	_, err = a.VerifyClient(Request{ClientAssertion: assertion})
	require.NoError(t, err)

	_, err = a.VerifyClient(Request{ClientAssertion: assertion})
	assert.ErrorIs(t, err, oidcerr.ErrReplayedJTI)
}

func TestClientSecretJWTReplayDefenseIsPerClient(t *testing.T) {
	a, registry, _, clock := newAuthenticator(t)
	_, err := registry.Register("c1", nil)
	require.NoError(t, err)
	require.NoError(t, registry.SetClientSecret("c1", "secret-1"))
	_, err = registry.Register("c2", nil)
	require.NoError(t, err)
	require.NoError(t, registry.SetClientSecret("c2", "secret-2"))

	assertion1 := signHMACAssertion(t, "c1", []byte("secret-1"), clock, "shared-jti")
	_, err = a.VerifyClient(Request{ClientAssertion: assertion1})
	require.NoError(t, err)

	// Same jti value, different issuing client: must not collide with c1's entry.
	assertion2 := signHMACAssertion(t, "c2", []byte("secret-2"), clock, "shared-jti")
	_, err = a.VerifyClient(Request{ClientAssertion: assertion2})
	assert.NoError(t, err)
}

func TestClientSecretJWTExpired(t *testing.T) {
	a, registry, _, clock := newAuthenticator(t)
	_, err := registry.Register("c1", nil)
	require.NoError(t, err)
	require.NoError(t, registry.SetClientSecret("c1", "shared-secret"))

	assertion := signHMACAssertion(t, "c1", []byte("shared-secret"), clock, "jti-exp")
	clock.Advance(2 * time.Minute)

	_, err = a.VerifyClient(Request{ClientAssertion: assertion})
	assert.ErrorIs(t, err, oidcerr.ErrExpiredToken)
}

func TestPrivateKeyJWTSuccess(t *testing.T) {
	a, registry, keys, clock := newAuthenticator(t)
	_, err := registry.Register("c1", nil)
	require.NoError(t, err)

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	keys.AddClientKeys("c1", []keyprovider.Key{{Kid: "client-key", Key: &key.PublicKey}})

	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.RS256, Key: key}, nil)
	require.NoError(t, err)
	claims := assertionClaims{
		Issuer: "c1",
		Subject: "c1",
		Audience: issuer,
		JTI: "jti-pk",
		IssuedAt: clock.Now().Unix(),
		ExpiresAt: clock.Now().Add(time.Minute).Unix(),
	}
	body, err := json.Marshal(claims)
	require.NoError(t, err)
	jws, err := signer.Sign(body)
	require.NoError(t, err)
	compact, err := jws.CompactSerialize()
	require.NoError(t, err)

	res, err := a.VerifyClient(Request{ClientAssertion: compact})
	require.NoError(t, err)
	assert.Equal(t, "c1", res.ClientID)
	assert.Equal(t, MethodPrivateKeyJWT, res.Method)
}

func TestPrivateKeyJWTMissingKey(t *testing.T) {
	a, registry, _, clock := newAuthenticator(t)
	_, err := registry.Register("c1", nil)
	require.NoError(t, err)

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.RS256, Key: key}, nil)
	require.NoError(t, err)
	claims := assertionClaims{
		Issuer: "c1", Subject: "c1", Audience: issuer,
		JTI: "jti-nomatch", IssuedAt: clock.Now().Unix(),
		ExpiresAt: clock.Now().Add(time.Minute).Unix(),
	}
	body, _ := json.Marshal(claims)
	jws, err := signer.Sign(body)
	require.NoError(t, err)
	compact, err := jws.CompactSerialize()
	require.NoError(t, err)

	_, err = a.VerifyClient(Request{ClientAssertion: compact})
	assert.ErrorIs(t, err, oidcerr.ErrMissingKey)
}
