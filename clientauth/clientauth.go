// Package clientauth implements the Client Authenticator: six
// credential-verification methods plus the verify_client dispatch
// function that picks among them by inspecting the request shape.
package clientauth

import (
	"encoding/base64"
	"encoding/json"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	jose "gopkg.in/square/go-jose.v2"

	"github.com/coreos/oidcprovider/clientreg"
	"github.com/coreos/oidcprovider/keyprovider"
	"github.com/coreos/oidcprovider/oidcerr"
)

// Method names, wire-exact per the client-auth method table.
const (
	MethodClientSecretBasic = "client_secret_basic"
	MethodClientSecretPost = "client_secret_post"
	MethodClientSecretJWT = "client_secret_jwt"
	MethodPrivateKeyJWT = "private_key_jwt"
	MethodBearerHeader = "bearer_header"
	MethodBearerBody = "bearer_body"
)

// Request is the subset of an incoming token/introspection/revocation
// request the authenticator needs, already parsed from whatever transport
// framing the endpoint uses.
type Request struct {
	AuthorizationHeader string // raw "Authorization" header value, if any
	ClientID string
	ClientSecret string
	ClientAssertion string
	AccessToken string // body-carried access_token, for bearer_body
	RequestClass string // e.g. "TokenRequest", recorded into auth_method
}

// Result is what a successful authentication yields.
type Result struct {
	ClientID string
	Method string
}

// Authenticator dispatches across the six methods and records which one
// succeeded.
type Authenticator struct {
	registry *clientreg.Registry
	keys *keyprovider.Provider
	clock clockwork.Clock
	logger logrus.FieldLogger
	issuer string
	tokenEndpoint string
	// seenJTI is keyed by "client_id\x00jti" so that replay defense is
	// scoped per client, not global.
	seenJTI *lru.Cache[string, time.Time]
}

// New builds an Authenticator. issuer and tokenEndpoint are the two
// acceptable `aud` values for a client assertion.
func New(registry *clientreg.Registry, keys *keyprovider.Provider, issuer, tokenEndpoint string) (*Authenticator, error) {
	cache, err := lru.New[string, time.Time](4096)
	if err != nil {
		return nil, errors.Wrap(err, "clientauth: building jti replay cache")
	}
	return &Authenticator{
		registry: registry,
		keys: keys,
		clock: clockwork.NewRealClock(),
		logger: logrus.StandardLogger(),
		issuer: issuer,
		tokenEndpoint: tokenEndpoint,
		seenJTI: cache,
	}, nil
}

// WithClock overrides the clock used for assertion exp checks and the
// client-secret expiry check.
func (a *Authenticator) WithClock(c clockwork.Clock) *Authenticator {
	a.clock = c
	return a
}

// WithLogger overrides the logger used for the bearer methods' identify-only warning.
func (a *Authenticator) WithLogger(l logrus.FieldLogger) *Authenticator {
	a.logger = l
	return a
}

// VerifyClient is the single dispatch function exposed to endpoints:
// verify_client(srv_info, request, http_headers) -> client_id.
func (a *Authenticator) VerifyClient(req Request) (Result, error) {
	var res Result
	var err error

	switch {
	case req.AuthorizationHeader != "":
		scheme, value, ok := splitAuthHeader(req.AuthorizationHeader)
		if !ok {
			return Result{}, oidcerr.ErrUnknownAuthnMethod
		}
		switch strings.ToLower(scheme) {
		case "basic":
			res, err = a.basicAuth(value)
		case "bearer":
			res, err = a.bearerHeader(value)
		default:
			return Result{}, oidcerr.ErrUnknownAuthnMethod
		}
	case req.ClientID != "" && req.ClientSecret != "":
		res, err = a.secretPost(req.ClientID, req.ClientSecret)
	case req.ClientAssertion != "":
		res, err = a.jwtAssertion(req.ClientAssertion)
	case req.AccessToken != "":
		res, err = a.bearerBody(req.AccessToken)
	default:
		return Result{}, oidcerr.ErrUnknownAuthnMethod
	}
	if err != nil {
		return Result{}, err
	}

	// bearer_header/bearer_body only identify a bearer token; they
	// resolve no client_id, so neither the secret-expiry check nor
	// auth_method recording (both registry lookups keyed by client_id)
	// apply to them.
	if res.Method == MethodBearerHeader || res.Method == MethodBearerBody {
		a.logger.WithField("method", res.Method).Warn("client authenticated by bearer token only; client_id not resolved")
		return res, nil
	}

	if err := a.checkSecretNotExpired(res.ClientID); err != nil {
		return Result{}, err
	}
	if req.RequestClass != "" {
		if err := a.registry.RecordAuthMethod(res.ClientID, req.RequestClass, res.Method); err != nil {
			return Result{}, err
		}
	}
	return res, nil
}

func (a *Authenticator) checkSecretNotExpired(clientID string) error {
	ci, err := a.registry.Get(clientID)
	if err != nil {
		return err
	}
	if ci.ClientSecretExpiresAt != 0 && ci.ClientSecretExpiresAt < a.clock.Now().Unix() {
		return oidcerr.ErrAuthnFailure
	}
	return nil
}

func splitAuthHeader(header string) (scheme, value string, ok bool) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// basicAuth implements client_secret_basic.
func (a *Authenticator) basicAuth(b64 string) (Result, error) {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return Result{}, oidcerr.ErrUnknownAuthnMethod
	}
	idSecret := strings.SplitN(string(raw), ":", 2)
	if len(idSecret) != 2 {
		return Result{}, oidcerr.ErrUnknownAuthnMethod
	}
	clientID, secret := idSecret[0], idSecret[1]
	if !a.registry.VerifySecret(clientID, secret) {
		return Result{}, oidcerr.ErrAuthnFailure
	}
	return Result{ClientID: clientID, Method: MethodClientSecretBasic}, nil
}

// secretPost implements client_secret_post: client_id and client_secret
// both carried in the request body, same compare as client_secret_basic.
func (a *Authenticator) secretPost(clientID, secret string) (Result, error) {
	if !a.registry.VerifySecret(clientID, secret) {
		return Result{}, oidcerr.ErrAuthnFailure
	}
	return Result{ClientID: clientID, Method: MethodClientSecretPost}, nil
}

// bearerHeader implements bearer_header: identification only, no
// authentication, and no client_id resolution.
func (a *Authenticator) bearerHeader(token string) (Result, error) {
	if token == "" {
		return Result{}, oidcerr.ErrUnknownAuthnMethod
	}
	return Result{Method: MethodBearerHeader}, nil
}

// bearerBody implements bearer_body: identification only, no authentication,
// and no client_id resolution.
func (a *Authenticator) bearerBody(token string) (Result, error) {
	if token == "" {
		return Result{}, oidcerr.ErrUnknownAuthnMethod
	}
	return Result{Method: MethodBearerBody}, nil
}

// assertionClaims is the shape a client assertion's JWT claims take.
type assertionClaims struct {
	Issuer string `json:"iss"`
	Subject string `json:"sub"`
	Audience string `json:"aud"`
	JTI string `json:"jti"`
	IssuedAt int64 `json:"iat"`
	ExpiresAt int64 `json:"exp"`
}

// jwtAssertion implements both client_secret_jwt and private_key_jwt: it
// unpacks the JWS header to tell HMAC from asymmetric, then verifies
// against the corresponding key source.
func (a *Authenticator) jwtAssertion(compact string) (Result, error) {
	jws, err := jose.ParseSigned(compact)
	if err != nil {
		return Result{}, oidcerr.ErrMalformed
	}
	if len(jws.Signatures) == 0 {
		return Result{}, oidcerr.ErrMalformed
	}
	alg := jws.Signatures[0].Header.Algorithm

	// Peek at the payload without verifying, to learn the claimed client_id.
	var claims assertionClaims
	if err := json.Unmarshal(jws.UnsafePayloadWithoutVerification(), &claims); err != nil {
		return Result{}, oidcerr.ErrMalformed
	}
	if claims.Issuer != claims.Subject || claims.Issuer == "" {
		return Result{}, oidcerr.ErrAuthnFailure
	}
	clientID := claims.Issuer

	var method string
	var payload []byte
	switch jose.SignatureAlgorithm(alg) {
	case jose.HS256, jose.HS384, jose.HS512:
		method = MethodClientSecretJWT
		hmacKey, err := a.registry.HMACKeyFor(clientID)
		if err != nil {
			return Result{}, err
		}
		payload, err = jws.Verify(hmacKey)
		if err != nil {
			return Result{}, oidcerr.ErrAuthnFailure
		}
	default:
		method = MethodPrivateKeyJWT
		keys := a.keys.KeysFor(clientID, keyprovider.UseSig)
		payload, err = keyprovider.Verify(compact, []jose.SignatureAlgorithm{
			jose.RS256, jose.RS384, jose.RS512, jose.ES256, jose.ES384, jose.ES512,
		}, keys)
		if err != nil {
			return Result{}, err
		}
	}

	if err := json.Unmarshal(payload, &claims); err != nil {
		return Result{}, oidcerr.ErrMalformed
	}
	if err := a.checkAssertionClaims(claims); err != nil {
		return Result{}, err
	}

	return Result{ClientID: clientID, Method: method}, nil
}

func (a *Authenticator) checkAssertionClaims(claims assertionClaims) error {
	if claims.Audience != a.issuer && claims.Audience != a.tokenEndpoint {
		return oidcerr.ErrNotForMe
	}
	now := a.clock.Now()
	exp := time.Unix(claims.ExpiresAt, 0)
	if !now.Before(exp) {
		return oidcerr.ErrExpiredToken
	}
	if claims.JTI == "" {
		return oidcerr.ErrMalformed
	}
	jtiKey := claims.Issuer + "\x00" + claims.JTI
	if _, seen := a.seenJTI.Get(jtiKey); seen {
		return oidcerr.ErrReplayedJTI
	}
	a.seenJTI.Add(jtiKey, exp)
	return nil
}
