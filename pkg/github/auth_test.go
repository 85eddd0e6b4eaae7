package github

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/go-cmp/cmp"

	"github.com/codeGROOVE-dev/mention-bot/pkg/internal/testutil"
)

func newTestKey(t *testing.T) (*rsa.PrivateKey, []byte) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	return key, pemBytes
}

func TestValidateAppID(t *testing.T) {
	tests := []struct {
		name    string
		appID   string
		wantErr bool
	}{
		{"single digit", "1", false},
		{"max valid", "999999999", false},
		{"empty", "", true},
		{"non-numeric", "abc", true},
		{"zero", "0", true},
		{"negative", "-1", true},
		{"too large", "9999999999", true},
		{"with spaces", "123 456", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateAppID(tt.appID)
			if (err != nil) != tt.wantErr {
				t.Errorf("validateAppID(%q) error = %v, wantErr %v", tt.appID, err, tt.wantErr)
			}
		})
	}
}

func TestValidateToken(t *testing.T) {
	tests := []struct {
		name    string
		token   string
		wantErr bool
	}{
		{"personal token", "ghp_" + strings.Repeat("a", 36), false},
		{"fine-grained token", "github_pat_" + strings.Repeat("B", 60), false},
		{"classic hex", strings.Repeat("0123456789", 4), false},
		{"empty", "", true},
		{"too short", "ghp_short", true},
		{"too long", "ghp_" + strings.Repeat("a", 120), true},
		{"classic with non-hex", strings.Repeat("z", 40), true},
		{"unknown prefix", "xyz_" + strings.Repeat("a", 50), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateToken(tt.token)
			if (err != nil) != tt.wantErr {
				t.Errorf("validateToken() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSignAppJWT(t *testing.T) {
	key, _ := newTestKey(t)

	signed, err := signAppJWT("12345", key, time.Now())
	if err != nil {
		t.Fatalf("signAppJWT: %v", err)
	}

	tok, err := jwt.Parse(signed, func(*jwt.Token) (any, error) {
		return &key.PublicKey, nil
	}, jwt.WithValidMethods([]string{"RS256"}))
	if err != nil {
		t.Fatalf("failed to verify JWT: %v", err)
	}
	claims, ok := tok.Claims.(jwt.MapClaims)
	if !ok {
		t.Fatalf("unexpected claims type %T", tok.Claims)
	}
	if claims["iss"] != "12345" {
		t.Errorf("iss = %v, want 12345", claims["iss"])
	}
	exp, err := claims.GetExpirationTime()
	if err != nil {
		t.Fatalf("GetExpirationTime: %v", err)
	}
	if until := time.Until(exp.Time); until <= 0 || until > jwtLifetime {
		t.Errorf("unexpected expiry in %v", until)
	}
}

func TestReadAppKey_Encodings(t *testing.T) {
	rsaKey, pkcs1 := newTestKey(t)
	der, err := x509.MarshalPKCS8PrivateKey(rsaKey)
	if err != nil {
		t.Fatalf("MarshalPKCS8PrivateKey: %v", err)
	}
	pkcs8 := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})

	ecKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	ecDER, err := x509.MarshalPKCS8PrivateKey(ecKey)
	if err != nil {
		t.Fatalf("MarshalPKCS8PrivateKey: %v", err)
	}
	ecPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: ecDER})

	tests := []struct {
		name    string
		pem     []byte
		wantErr bool
	}{
		{"pkcs1", pkcs1, false},
		{"pkcs8", pkcs8, false},
		{"ecdsa", ecPEM, true},
		{"not pem", []byte("not a key"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, err := readAppKey(tt.pem, "")
			if (err != nil) != tt.wantErr {
				t.Fatalf("readAppKey() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && !key.Equal(rsaKey) {
				t.Error("readAppKey() returned a different key")
			}
		})
	}
}

func TestReadAppKey_File(t *testing.T) {
	_, pemBytes := newTestKey(t)
	dir := t.TempDir()

	secure := filepath.Join(dir, "secure.pem")
	if err := os.WriteFile(secure, pemBytes, 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	open := filepath.Join(dir, "open.pem")
	if err := os.WriteFile(open, pemBytes, 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := os.Chmod(open, 0o644); err != nil {
		t.Fatalf("Chmod: %v", err)
	}

	if _, err := readAppKey(pemBytes, "relative.pem"); err != nil {
		t.Errorf("inline key should win over the path: %v", err)
	}
	if _, err := readAppKey(nil, secure); err != nil {
		t.Errorf("0600 key file: unexpected error: %v", err)
	}
	if _, err := readAppKey(nil, open); err == nil {
		t.Error("expected error for world-readable key file")
	}
	if _, err := readAppKey(nil, "relative.pem"); err == nil {
		t.Error("expected error for relative key path")
	}
	if _, err := readAppKey(nil, dir); err == nil {
		t.Error("expected error for a directory")
	}
	if _, err := readAppKey(nil, ""); err == nil {
		t.Error("expected error when no key is configured")
	}
}

func TestNew_AppAuth(t *testing.T) {
	_, pemBytes := newTestKey(t)

	c, err := New(t.Context(), Config{UseAppAuth: true, AppID: "42", AppKey: string(pemBytes)})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if !c.isAppAuth {
		t.Error("expected app auth")
	}
	if c.apiURL != defaultAPIURL {
		t.Errorf("apiURL = %q, want %q", c.apiURL, defaultAPIURL)
	}
	if c.token == "" {
		t.Error("expected a JWT")
	}
}

func TestNew_PersonalToken(t *testing.T) {
	token := "ghp_" + strings.Repeat("x", 36)
	c, err := New(t.Context(), Config{Token: token, APIURL: "https://ghe.example.com/api/v3/"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if c.apiURL != "https://ghe.example.com/api/v3" {
		t.Errorf("apiURL = %q", c.apiURL)
	}
	got, err := c.Token(t.Context())
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if got != token {
		t.Errorf("Token() = %q, want the personal token", got)
	}
}

func TestEnsureFreshJWT(t *testing.T) {
	key, _ := newTestKey(t)
	c := &Client{
		isAppAuth: true,
		appID:     "42",
		appKey:    key,
		token:     "stale",
		jwtExpiry: time.Now().Add(-time.Minute),
	}
	if err := c.ensureFreshJWT(); err != nil {
		t.Fatalf("ensureFreshJWT: %v", err)
	}
	if c.token == "stale" {
		t.Error("expected token to be refreshed")
	}
	if !c.jwtExpiry.After(time.Now()) {
		t.Error("expected expiry to move forward")
	}

	c.token = "fresh"
	if err := c.ensureFreshJWT(); err != nil {
		t.Fatalf("ensureFreshJWT: %v", err)
	}
	if c.token != "fresh" {
		t.Error("token refreshed before expiry")
	}
}

func TestInstallationToken_UnknownAccount(t *testing.T) {
	mock := testutil.NewMockHTTPDoer()
	c := newTestClient(mock)
	c.isAppAuth = true
	c.jwtExpiry = time.Now().Add(time.Hour)

	if _, err := c.Token(WithOrg(t.Context(), "initech")); err == nil {
		t.Fatal("expected error for an account without an installation")
	}
	if n := len(mock.Calls()); n != 0 {
		t.Errorf("expected no API calls, got %d", n)
	}
}

func TestInstallationToken_RenewsBeforeExpiry(t *testing.T) {
	mock := testutil.NewMockHTTPDoer()
	mock.QueueResponse(http.MethodPost, testAPI+"/app/installations/7/access_tokens", http.StatusCreated, map[string]any{
		"token":      "ghs_first",
		"expires_at": time.Now().Add(installTokenSlack - time.Second),
	})
	mock.QueueResponse(http.MethodPost, testAPI+"/app/installations/7/access_tokens", http.StatusCreated, map[string]any{
		"token":      "ghs_second",
		"expires_at": time.Now().Add(time.Hour),
	})
	c := newTestClient(mock)
	c.isAppAuth = true
	c.jwtExpiry = time.Now().Add(time.Hour)
	c.installs["acme"] = &installation{id: 7}
	ctx := WithOrg(t.Context(), "acme")

	var got []string
	for range 3 {
		tok, err := c.Token(ctx)
		if err != nil {
			t.Fatalf("Token: %v", err)
		}
		got = append(got, tok)
	}
	want := []string{"ghs_first", "ghs_second", "ghs_second"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Token() sequence mismatch (-want +got):\n%s", diff)
	}
}

func TestListAppInstallations(t *testing.T) {
	mock := testutil.NewMockHTTPDoer()
	mock.SetResponse(http.MethodGet, testAPI+"/app/installations?per_page=100", http.StatusOK, []map[string]any{
		{"id": 7, "account": map[string]any{"login": "acme", "type": "Organization"}},
		{"id": 11, "account": map[string]any{"login": "alice", "type": "User"}},
	})
	c := newTestClient(mock)
	c.isAppAuth = true
	c.jwtExpiry = time.Now().Add(time.Hour)
	// acme was reinstalled under a new ID.
	c.installs["acme"] = &installation{id: 3, token: "ghs_old", expires: time.Now().Add(time.Hour)}

	got, err := c.ListAppInstallations(t.Context())
	if err != nil {
		t.Fatalf("ListAppInstallations: %v", err)
	}
	if diff := cmp.Diff([]string{"acme", "alice"}, got); diff != "" {
		t.Errorf("ListAppInstallations() mismatch (-want +got):\n%s", diff)
	}
	if inst := c.installs["acme"]; inst.id != 7 || inst.token != "" {
		t.Errorf("acme installation = %+v, want id 7 without a token", inst)
	}
	if !c.IsUserAccount("alice") || c.IsUserAccount("acme") {
		t.Error("account types not recorded")
	}
}
