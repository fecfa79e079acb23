package streaming

import (
	"context"
	"errors"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/sys/unix"

	"github.com/brickwellhealth/simulator/observability"
)

const (
	// Tokens count as expired this long before their real expiry so an
	// in-flight request never races a lapsing token.
	tokenExpiryMargin = 120 * time.Second

	logMsgTokenCacheHit         = "token cache hit"
	logMsgTokenCacheWritten     = "token cache written"
	logMsgTokenCacheReadFailed  = "token cache read failed"
	logMsgTokenCacheWriteFailed = "token cache write failed"
)

// TokenFetcher obtains a fresh OAuth token and its expiry.
type TokenFetcher interface {
	FetchToken(ctx context.Context) (token string, expiresAt time.Time, err error)
}

// ClientCredentialsFetcher fetches ingest tokens through the OAuth2
// client-credentials flow, scoped to one destination table.
type ClientCredentialsFetcher struct {
	conf *clientcredentials.Config
}

var _ TokenFetcher = (*ClientCredentialsFetcher)(nil)

// NewClientCredentialsFetcher builds a fetcher for the fully qualified
// table name "catalog.schema.table" against the given workspace.
func NewClientCredentialsFetcher(
	workspaceURL string,
	workspaceID string,
	tableName string,
	clientID string,
	clientSecret string,
) *ClientCredentialsFetcher {

	base := strings.TrimSuffix(workspaceURL, "/")

	return &ClientCredentialsFetcher{
		conf: &clientcredentials.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			TokenURL:     base + "/oidc/v1/token",
			Scopes:       []string{"all-apis"},
			EndpointParams: url.Values{
				"resource":              {ingestResource(workspaceID)},
				"authorization_details": {authorizationDetails(tableName)},
			},
		},
	}
}

func (f *ClientCredentialsFetcher) FetchToken(ctx context.Context) (string, time.Time, error) {
	token, err := f.conf.Token(ctx)
	if err != nil {
		return "", time.Time{}, errors.Join(ErrTokenFetchFailed, err)
	}

	return token.AccessToken, token.Expiry, nil
}

func ingestResource(workspaceID string) string {
	return "api://databricks/workspaces/" + workspaceID + "/zerobusDirectWriteApi"
}

// authorizationDetails grants catalog/schema usage and table write on the
// destination, matching what the ingest endpoint requires.
func authorizationDetails(tableName string) string {
	parts := strings.SplitN(tableName, ".", 3)
	catalog := parts[0]
	schema := catalog
	if len(parts) > 1 {
		schema = catalog + "." + parts[1]
	}

	details := []map[string]any{
		{
			"type":             "unity_catalog_privileges",
			"privileges":       []string{"USE CATALOG"},
			"object_type":      "CATALOG",
			"object_full_path": catalog,
		},
		{
			"type":             "unity_catalog_privileges",
			"privileges":       []string{"USE SCHEMA"},
			"object_type":      "SCHEMA",
			"object_full_path": schema,
		},
		{
			"type":             "unity_catalog_privileges",
			"privileges":       []string{"SELECT", "MODIFY"},
			"object_type":      "TABLE",
			"object_full_path": tableName,
		},
	}

	encoded, _ := jsoniter.ConfigFastest.Marshal(details)

	return string(encoded)
}

type cachedToken struct {
	AccessToken string `json:"access_token"`
	FetchedAt   int64  `json:"fetched_at"`
	ExpiresAt   int64  `json:"expires_at"`
}

// TokenCache shares OAuth tokens between sibling worker processes through a
// lock-guarded JSON file. Readers take a shared flock, writers an exclusive
// one. Any cache I/O failure falls back to a direct fetch; the cache is an
// optimization, never a gate.
type TokenCache struct {
	cacheDir  string
	cacheFile string
	fetcher   TokenFetcher
	logger    observability.Logger
	now       func() time.Time
}

// NewTokenCache creates a cache for one destination table under cacheDir.
func NewTokenCache(cacheDir string, tableName string, fetcher TokenFetcher, logger observability.Logger) *TokenCache {
	safeName := strings.ReplaceAll(tableName, ".", "_")

	return &TokenCache{
		cacheDir:  cacheDir,
		cacheFile: filepath.Join(cacheDir, safeName+".json"),
		fetcher:   fetcher,
		logger:    logger,
		now:       time.Now,
	}
}

// Token returns a valid access token, from the cache when one with enough
// remaining lifetime exists, otherwise freshly fetched and cached.
func (c *TokenCache) Token(ctx context.Context) (string, error) {
	if token, ok := c.readCache(); ok {
		c.logDebug(logMsgTokenCacheHit, logAttrCacheFile, c.cacheFile)
		return token, nil
	}

	token, expiresAt, err := c.fetcher.FetchToken(ctx)
	if err != nil {
		return "", err
	}

	if writeErr := c.writeCache(token, expiresAt); writeErr != nil {
		c.logDebug(logMsgTokenCacheWriteFailed, logAttrError, writeErr.Error())
	} else {
		c.logDebug(logMsgTokenCacheWritten, logAttrCacheFile, c.cacheFile)
	}

	return token, nil
}

func (c *TokenCache) readCache() (string, bool) {
	file, err := os.Open(c.cacheFile)
	if err != nil {
		return "", false
	}
	defer func() { _ = file.Close() }()

	if err = unix.Flock(int(file.Fd()), unix.LOCK_SH); err != nil {
		c.logDebug(logMsgTokenCacheReadFailed, logAttrError, err.Error())
		return "", false
	}
	defer func() { _ = unix.Flock(int(file.Fd()), unix.LOCK_UN) }()

	var cached cachedToken
	if err = jsoniter.ConfigFastest.NewDecoder(file).Decode(&cached); err != nil {
		return "", false
	}

	expiresAt := time.Unix(cached.ExpiresAt, 0)
	if !c.now().Before(expiresAt.Add(-tokenExpiryMargin)) {
		return "", false
	}

	return cached.AccessToken, cached.AccessToken != ""
}

func (c *TokenCache) writeCache(token string, expiresAt time.Time) error {
	if err := os.MkdirAll(c.cacheDir, 0o755); err != nil {
		return err
	}

	file, err := os.OpenFile(c.cacheFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	defer func() { _ = file.Close() }()

	if err = unix.Flock(int(file.Fd()), unix.LOCK_EX); err != nil {
		return err
	}
	defer func() { _ = unix.Flock(int(file.Fd()), unix.LOCK_UN) }()

	cached := cachedToken{
		AccessToken: token,
		FetchedAt:   c.now().Unix(),
		ExpiresAt:   expiresAt.Unix(),
	}

	return jsoniter.ConfigFastest.NewEncoder(file).Encode(cached)
}

func (c *TokenCache) logDebug(msg string, args ...any) {
	if c.logger != nil {
		c.logger.Debug(msg, args...)
	}
}

// RemoveTokenCache deletes the token cache directory and all cached tokens.
func RemoveTokenCache(cacheDir string) {
	_ = os.RemoveAll(cacheDir)
}
