package rp

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	jose "github.com/go-jose/go-jose/v3"
	"github.com/golang-jwt/jwt/v5"
)

var testSigningKey = []byte("0123456789abcdef0123456789abcdef")

type fakeWeb struct {
	url     string
	params  map[string][]string
	headers http.Header
}

func newFakeWeb(params map[string][]string) *fakeWeb {
	if params == nil {
		params = map[string][]string{}
	}
	return &fakeWeb{url: "https://rp.example.com/callback", params: params, headers: http.Header{}}
}

func (w *fakeWeb) RequestParameter(name string) (string, bool) {
	v, ok := w.params[name]
	if !ok || len(v) == 0 {
		return "", false
	}
	return v[0], true
}

func (w *fakeWeb) RequestParameters() map[string][]string { return w.params }
func (w *fakeWeb) SetResponseHeader(name, value string)   { w.headers.Set(name, value) }
func (w *fakeWeb) RequestURL() string                     { return w.url }

type fakeStore struct {
	id        string
	values    map[string]any
	destroyed bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{id: "local-1", values: map[string]any{}}
}

func (s *fakeStore) Get(key string) (any, bool) {
	v, ok := s.values[key]
	return v, ok
}

func (s *fakeStore) Set(key string, value any) { s.values[key] = value }
func (s *fakeStore) ID() string                { return s.id }
func (s *fakeStore) Destroy() error {
	s.destroyed = true
	s.values = map[string]any{}
	return nil
}

// fakeValidator checks HS256 tokens against testSigningKey.
type fakeValidator struct {
	calls  int
	nonces []string
	err    error
}

func (v *fakeValidator) Validate(_ context.Context, token, expectedNonce string) (map[string]any, error) {
	v.calls++
	v.nonces = append(v.nonces, expectedNonce)
	if v.err != nil {
		return nil, v.err
	}
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return testSigningKey, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return nil, err
	}
	return claims, nil
}

type logoutCall struct {
	channel string
	sid     string
}

type fakeLogoutHandler struct {
	calls []logoutCall
}

func (h *fakeLogoutHandler) DestroySessionFront(_ context.Context, _ WebContext, _ SessionStore, sid string) {
	h.calls = append(h.calls, logoutCall{channel: "front", sid: sid})
}

func (h *fakeLogoutHandler) DestroySessionBack(_ context.Context, _ WebContext, _ SessionStore, sid string) {
	h.calls = append(h.calls, logoutCall{channel: "back", sid: sid})
}

type staticMetadata struct {
	issuer   string
	issParam bool
}

func (m staticMetadata) Issuer() string                                 { return m.issuer }
func (m staticMetadata) SupportsAuthorizationResponseIssuerParam() bool { return m.issParam }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() Config {
	return Config{ClientName: "OidcClient", CallbackURL: "https://rp.example.com/callback"}
}

func signedToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testSigningKey)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return raw
}

func logoutClaims() jwt.MapClaims {
	return jwt.MapClaims{
		"iss":    "https://op.example.com",
		"aud":    "rp",
		"iat":    time.Now().Unix(),
		"jti":    "logout-1",
		"sid":    "op-session-1",
		"events": map[string]any{BackChannelLogoutEvent: map[string]any{}},
	}
}

func encryptedToken(t *testing.T) string {
	t.Helper()
	enc, err := jose.NewEncrypter(jose.A128GCM, jose.Recipient{Algorithm: jose.DIRECT, Key: testSigningKey[:16]}, nil)
	if err != nil {
		t.Fatalf("new encrypter: %v", err)
	}
	obj, err := enc.Encrypt([]byte(`{"sid":"op-session-1"}`))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	raw, err := obj.CompactSerialize()
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	return raw
}

var errInvalidSignature = errors.New("invalid signature")
