package streaming_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brickwellhealth/simulator/streaming"
)

type stubFetcher struct {
	token     string
	expiresAt time.Time
	err       error
	calls     int
}

func (f *stubFetcher) FetchToken(_ context.Context) (string, time.Time, error) {
	f.calls++
	if f.err != nil {
		return "", time.Time{}, f.err
	}

	return f.token, f.expiresAt, nil
}

func Test_TokenCache_FetchesAndCaches(t *testing.T) {
	dir := t.TempDir()
	fetcher := &stubFetcher{token: "tok-1", expiresAt: time.Now().Add(time.Hour)}
	cache := streaming.NewTokenCache(dir, "main.brickwell.claim", fetcher, nil)

	ctx := context.Background()

	token, err := cache.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tok-1", token)
	assert.Equal(t, 1, fetcher.calls)

	token, err = cache.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tok-1", token)
	assert.Equal(t, 1, fetcher.calls, "second call is served from the cache file")

	assert.FileExists(t, filepath.Join(dir, "main_brickwell_claim.json"))
}

func Test_TokenCache_SharedAcrossInstances(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	first := &stubFetcher{token: "tok-1", expiresAt: time.Now().Add(time.Hour)}
	_, err := streaming.NewTokenCache(dir, "main.brickwell.claim", first, nil).Token(ctx)
	require.NoError(t, err)

	second := &stubFetcher{token: "tok-2", expiresAt: time.Now().Add(time.Hour)}
	token, err := streaming.NewTokenCache(dir, "main.brickwell.claim", second, nil).Token(ctx)
	require.NoError(t, err)

	assert.Equal(t, "tok-1", token, "a sibling process reads the cached token")
	assert.Equal(t, 0, second.calls)
}

func Test_TokenCache_RefetchesWithinExpiryMargin(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	// 60s of remaining lifetime is inside the 120s safety margin.
	first := &stubFetcher{token: "tok-old", expiresAt: time.Now().Add(60 * time.Second)}
	_, err := streaming.NewTokenCache(dir, "main.brickwell.claim", first, nil).Token(ctx)
	require.NoError(t, err)

	second := &stubFetcher{token: "tok-new", expiresAt: time.Now().Add(time.Hour)}
	token, err := streaming.NewTokenCache(dir, "main.brickwell.claim", second, nil).Token(ctx)
	require.NoError(t, err)

	assert.Equal(t, "tok-new", token)
	assert.Equal(t, 1, second.calls)
}

func Test_TokenCache_CacheWriteFailureFallsBackToFetchedToken(t *testing.T) {
	// Pointing the cache dir at an existing file makes every cache write
	// fail; the token must still come back from the fetcher.
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	fetcher := &stubFetcher{token: "tok-1", expiresAt: time.Now().Add(time.Hour)}
	cache := streaming.NewTokenCache(blocker, "main.brickwell.claim", fetcher, nil)

	token, err := cache.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-1", token)
}

func Test_TokenCache_FetchErrorPropagates(t *testing.T) {
	fetcher := &stubFetcher{err: errors.New("idp unreachable")}
	cache := streaming.NewTokenCache(t.TempDir(), "main.brickwell.claim", fetcher, nil)

	_, err := cache.Token(context.Background())
	assert.Error(t, err)
}
