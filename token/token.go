// Package token mints and parses the three opaque token kinds the session
// database issues: authorization codes, access tokens and refresh tokens.
// A token is a compact HS256 JWS whose payload carries its own kind and
// expiry, so a caller can decode and check expiry without looking anything
// up — only is_valid (owned by the session database, not this package)
// additionally needs the server-side registry of live tokens.
package token

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"
	jose "gopkg.in/square/go-jose.v2"

	"github.com/coreos/oidcprovider/oidcerr"
)

// Kind distinguishes the three token classes the handler mints. The byte
// value is embedded in the signed payload, not in the wire encoding, so it
// survives opaque-token framing without a side-channel.
type Kind string

const (
	KindAuthCode Kind = "A"
	KindAccessToken Kind = "T"
	KindRefreshToken Kind = "R"
)

// TTL holds the validity window per kind.
type TTL struct {
	AuthCode time.Duration
	AccessToken time.Duration
	RefreshToken time.Duration
}

// DefaultTTL is a suggested set of default validity windows.
func DefaultTTL() TTL {
	return TTL{
		AuthCode: 300 * time.Second,
		AccessToken: 600 * time.Second,
		RefreshToken: 86400 * time.Second,
	}
}

func (t TTL) forKind(k Kind) time.Duration {
	switch k {
	case KindAuthCode:
		return t.AuthCode
	case KindAccessToken:
		return t.AccessToken
	case KindRefreshToken:
		return t.RefreshToken
	default:
		return 0
	}
}

// Claims is the decoded form of a token's payload.
type Claims struct {
	Kind Kind `json:"kind"`
	Expiry time.Time `json:"exp"`
	Payload string `json:"jti"`
}

// Handler mints and parses tokens under a single server secret. Rotating
// the secret invalidates every outstanding token; that is an accepted
// tradeoff, not a bug.
type Handler struct {
	ttl TTL
	clock clockwork.Clock
	signer jose.Signer
	secret []byte
}

// Factory builds a Handler from a single HMAC secret, analogous to the
// reference implementation's token_handler.factory(secret). ttl may be the
// zero value, in which case DefaultTTL is used.
func Factory(secret []byte, ttl TTL) (*Handler, error) {
	if len(secret) == 0 {
		return nil, errors.New("token: secret must not be empty")
	}
	if (ttl == TTL{}) {
		ttl = DefaultTTL()
	}
	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.HS256, Key: secret}, nil)
	if err != nil {
		return nil, errors.Wrap(err, "token: building HS256 signer")
	}
	return &Handler{
		ttl: ttl,
		clock: clockwork.NewRealClock(),
		signer: signer,
		secret: secret,
	}, nil
}

// WithClock overrides the handler's clock, used by tests to exercise expiry
// deterministically.
func (h *Handler) WithClock(c clockwork.Clock) *Handler {
	h.clock = c
	return h
}

// Mint returns a fresh token of the given kind together with its
// expires_in, in seconds, suitable for a token response.
func (h *Handler) Mint(kind Kind) (string, int64, error) {
	payload := make([]byte, 20) // 160 bits of entropy for the embedded jti
	if _, err := rand.Read(payload); err != nil {
		return "", 0, errors.Wrap(err, "token: reading random payload")
	}

	ttl := h.ttl.forKind(kind)
	claims := Claims{
		Kind: kind,
		Expiry: h.clock.Now().Add(ttl),
		Payload: base64.RawURLEncoding.EncodeToString(payload),
	}

	body, err := json.Marshal(claims)
	if err != nil {
		return "", 0, errors.Wrap(err, "token: marshaling claims")
	}

	jws, err := h.signer.Sign(body)
	if err != nil {
		return "", 0, errors.Wrap(err, "token: signing token")
	}

	compact, err := jws.CompactSerialize()
	if err != nil {
		return "", 0, errors.Wrap(err, "token: serializing token")
	}
	return compact, int64(ttl.Seconds()), nil
}

// Parse verifies the token's MAC under the handler's secret and decodes its
// claims. It performs no server-side lookup: only the embedded kind and
// expiry are consulted.
func (h *Handler) Parse(raw string) (Claims, error) {
	jws, err := jose.ParseSigned(raw)
	if err != nil {
		return Claims{}, oidcerr.ErrMalformed
	}
	body, err := jws.Verify(h.secret)
	if err != nil {
		return Claims{}, oidcerr.ErrMalformed
	}
	var claims Claims
	if err := json.Unmarshal(body, &claims); err != nil {
		return Claims{}, oidcerr.ErrMalformed
	}
	return claims, nil
}

// GetKind returns the token's kind without validating expiry.
func (h *Handler) GetKind(raw string) (Kind, error) {
	claims, err := h.Parse(raw)
	if err != nil {
		return "", err
	}
	return claims.Kind, nil
}

// RequireKind parses raw and asserts it is of kind want, returning
// oidcerr.ErrWrongTokenType otherwise.
func (h *Handler) RequireKind(raw string, want Kind) (Claims, error) {
	claims, err := h.Parse(raw)
	if err != nil {
		return Claims{}, err
	}
	if claims.Kind != want {
		return Claims{}, oidcerr.ErrWrongTokenType
	}
	return claims, nil
}

// IsExpired is a stateless, pure function of the token's embedded expiry.
func (h *Handler) IsExpired(raw string) bool {
	claims, err := h.Parse(raw)
	if err != nil {
		return true
	}
	return h.clock.Now().After(claims.Expiry)
}

// NewJTI returns a fresh random identifier suitable for a client assertion's
// jti claim, independent of token minting.
func NewJTI() string {
	return uuid.NewString()
}
