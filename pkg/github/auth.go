package github

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// GitHub rejects app JWTs that live longer than ten minutes.
	jwtLifetime     = 10 * time.Minute
	jwtRefreshAfter = 9 * time.Minute
	// Installation tokens are treated as expired this long before GitHub says.
	installTokenSlack = 5 * time.Minute

	maxAppID       = 999999999
	minTokenLength = 40
	maxTokenLength = 100
)

var (
	tokenPrefixes = []string{"ghp_", "gho_", "ghu_", "ghs_", "ghr_", "github_pat_"}
	classicToken  = regexp.MustCompile(`^[0-9a-f]{40}$`)
)

// installation is one account the GitHub App is installed on.
type installation struct {
	expires     time.Time
	accountType string // "User" or "Organization"
	token       string
	id          int
}

func (i *installation) tokenValid(now time.Time) bool {
	return i.token != "" && now.Before(i.expires)
}

func signAppJWT(appID string, key *rsa.PrivateKey, now time.Time) (string, error) {
	claims := jwt.RegisteredClaims{
		Issuer:    appID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(jwtLifetime)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
}

// readAppKey parses the app's RSA key from inline PEM, or from path when no
// inline key is set. PKCS#1 and PKCS#8 encodings are accepted.
func readAppKey(inline []byte, path string) (*rsa.PrivateKey, error) {
	pemBytes := inline
	if len(pemBytes) == 0 {
		if path == "" {
			return nil, errors.New("GitHub App private key is required (key content or key path)")
		}
		var err error
		if pemBytes, err = readKeyFile(path); err != nil {
			return nil, err
		}
	}
	key, err := jwt.ParseRSAPrivateKeyFromPEM(pemBytes)
	if err != nil {
		return nil, fmt.Errorf("invalid GitHub App private key: %w", err)
	}
	return key, nil
}

// readKeyFile reads a key file given by absolute path. Only its owner may have
// access: mode 0600 or 0400.
func readKeyFile(path string) ([]byte, error) {
	if !filepath.IsAbs(path) {
		return nil, fmt.Errorf("private key path %q is not absolute", path)
	}
	path = filepath.Clean(path)
	fi, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("private key: %w", err)
	}
	if !fi.Mode().IsRegular() {
		return nil, fmt.Errorf("private key %s is not a regular file", path)
	}
	if perm := fi.Mode().Perm(); perm != 0o600 && perm != 0o400 {
		return nil, fmt.Errorf("private key %s has mode %04o, want 0600 or 0400", path, perm)
	}
	return os.ReadFile(path)
}

func validateAppID(appID string) error {
	if appID == "" {
		return errors.New("GitHub App ID is required")
	}
	n, err := strconv.ParseInt(appID, 10, 64)
	if err != nil || n < 1 || n > maxAppID {
		return fmt.Errorf("invalid GitHub App ID %q", appID)
	}
	return nil
}

// validateToken accepts classic 40-digit hex tokens and prefixed tokens of a
// plausible length.
func validateToken(token string) error {
	switch {
	case token == "":
		return errors.New("no GitHub token found")
	case classicToken.MatchString(token):
		return nil
	case len(token) < minTokenLength || len(token) > maxTokenLength:
		return fmt.Errorf("GitHub token has unexpected length %d", len(token))
	case slices.ContainsFunc(tokenPrefixes, func(p string) bool { return strings.HasPrefix(token, p) }):
		return nil
	default:
		return errors.New("unrecognized GitHub token format")
	}
}

func newAppAuthClient(cfg Config) (*Client, error) {
	if err := validateAppID(cfg.AppID); err != nil {
		return nil, err
	}
	key, err := readAppKey([]byte(cfg.AppKey), cfg.AppKeyPath)
	if err != nil {
		return nil, err
	}

	c := &Client{
		isAppAuth: true,
		appID:     cfg.AppID,
		appKey:    key,
		installs:  make(map[string]*installation),
	}
	if err := c.signJWT(time.Now()); err != nil {
		return nil, err
	}
	slog.Info("Using GitHub App authentication", "component", "auth", "app_id", cfg.AppID)
	return c, nil
}

// newPersonalTokenClient authenticates with token, or with the gh CLI's token
// when token is empty.
func newPersonalTokenClient(ctx context.Context, token string) (*Client, error) {
	if token == "" {
		out, err := exec.CommandContext(ctx, "gh", "auth", "token").Output()
		if err != nil {
			return nil, fmt.Errorf("no GitHub token configured and gh auth token failed: %w", err)
		}
		token = strings.TrimSpace(string(out))
	}
	if err := validateToken(token); err != nil {
		return nil, err
	}

	slog.Info("Using personal access token authentication", "component", "auth")
	return &Client{token: token}, nil
}

// signJWT replaces the app JWT. The caller holds tokenMutex or owns c.
func (c *Client) signJWT(now time.Time) error {
	signed, err := signAppJWT(c.appID, c.appKey, now)
	if err != nil {
		return fmt.Errorf("failed to sign app JWT: %w", err)
	}
	c.token = signed
	c.jwtExpiry = now.Add(jwtRefreshAfter)
	return nil
}

// ensureFreshJWT re-signs the app JWT once it is close to expiring.
func (c *Client) ensureFreshJWT() error {
	if !c.isAppAuth {
		return nil
	}
	now := time.Now()
	c.tokenMutex.RLock()
	fresh := now.Before(c.jwtExpiry)
	c.tokenMutex.RUnlock()
	if fresh {
		return nil
	}

	c.tokenMutex.Lock()
	defer c.tokenMutex.Unlock()
	if now.Before(c.jwtExpiry) {
		return nil
	}
	if err := c.signJWT(now); err != nil {
		return err
	}
	slog.Info("Refreshed GitHub App JWT", "component", "auth")
	return nil
}

// installationToken returns org's installation token, minting a new one when
// the cached token is missing or about to expire. The org must have been seen
// by ListAppInstallations.
func (c *Client) installationToken(ctx context.Context, org string) (string, error) {
	c.tokenMutex.RLock()
	inst, ok := c.installs[org]
	if ok && inst.tokenValid(time.Now()) {
		token := inst.token
		c.tokenMutex.RUnlock()
		return token, nil
	}
	c.tokenMutex.RUnlock()
	if !ok {
		return "", fmt.Errorf("GitHub App is not installed for %s", org)
	}

	if err := c.ensureFreshJWT(); err != nil {
		return "", err
	}

	c.tokenMutex.Lock()
	defer c.tokenMutex.Unlock()
	if inst.tokenValid(time.Now()) {
		return inst.token, nil
	}
	token, expires, err := c.mintInstallationToken(ctx, inst.id)
	if err != nil {
		return "", fmt.Errorf("installation token for %s: %w", org, err)
	}
	inst.token = token
	inst.expires = expires.Add(-installTokenSlack)
	slog.InfoContext(ctx, "Created installation token", "component", "auth", "org", org, "installation_id", inst.id)
	return token, nil
}

// mintInstallationToken exchanges the app JWT for an installation token. The
// caller holds tokenMutex, so this cannot go through doRequest.
func (c *Client) mintInstallationToken(ctx context.Context, id int) (string, time.Time, error) {
	endpoint := c.apiURL + "/app/installations/" + strconv.Itoa(id) + "/access_tokens"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, http.NoBody)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/vnd.github.v3+json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", time.Time{}, err
	}
	defer drainAndCloseBody(resp.Body)
	if resp.StatusCode != http.StatusCreated {
		return "", time.Time{}, readError("create installation token", resp)
	}

	var body struct {
		ExpiresAt time.Time `json:"expires_at"`
		Token     string    `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", time.Time{}, fmt.Errorf("failed to decode token response: %w", err)
	}
	if body.Token == "" {
		return "", time.Time{}, errors.New("GitHub returned an empty installation token")
	}
	return body.Token, body.ExpiresAt, nil
}

// ListAppInstallations returns every account where the GitHub App is installed
// and remembers their installation IDs. Call it without an org on ctx: the app
// JWT, not an installation token, authenticates this call.
func (c *Client) ListAppInstallations(ctx context.Context) ([]string, error) {
	if !c.isAppAuth {
		return nil, errors.New("app installations can only be listed with GitHub App authentication")
	}

	resp, err := c.doRequest(ctx, http.MethodGet, "/app/installations?per_page=100", nil, "")
	if err != nil {
		return nil, fmt.Errorf("failed to get app installations: %w", err)
	}
	defer drainAndCloseBody(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return nil, readError("list installations", resp)
	}

	var listed []struct {
		Account struct {
			Login string `json:"login"`
			Type  string `json:"type"`
		} `json:"account"`
		ID int `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&listed); err != nil {
		return nil, fmt.Errorf("failed to decode installations: %w", err)
	}

	c.tokenMutex.Lock()
	defer c.tokenMutex.Unlock()
	if c.installs == nil {
		c.installs = make(map[string]*installation)
	}
	accounts := make([]string, 0, len(listed))
	for _, l := range listed {
		login := l.Account.Login
		accounts = append(accounts, login)
		// A reinstalled app gets a new ID; its old token is useless.
		inst := c.installs[login]
		if inst == nil || inst.id != l.ID {
			inst = &installation{id: l.ID}
			c.installs[login] = inst
		}
		inst.accountType = l.Account.Type
	}
	slog.InfoContext(ctx, "Found app installations", "component", "auth", "count", len(accounts))
	return accounts, nil
}
