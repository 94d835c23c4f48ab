package controller

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saferoute/route_scoring/fingerprint"
	"github.com/saferoute/route_scoring/internal/contract"
	"github.com/saferoute/route_scoring/kvstore"
	"github.com/saferoute/route_scoring/policy"
	"github.com/saferoute/route_scoring/sources"
	"github.com/saferoute/route_scoring/testutil"
)

type failingStore struct{}

func (failingStore) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, errors.New("connection refused")
}

func (failingStore) Put(context.Context, string, []byte) error {
	return errors.New("connection refused")
}

func newBackend(t *testing.T, responses ...testutil.FakeResponse) (*testutil.FakeSource, *sources.CrimeBackend) {
	t.Helper()
	fake := testutil.NewFakeSource(responses...)
	t.Cleanup(fake.Close)
	backend, err := sources.NewCrimeBackend(fake.URL(), nil, 0)
	require.NoError(t, err)
	return fake, backend
}

func newController(t *testing.T, backend Backend, store kvstore.Store) *Controller {
	t.Helper()
	c, err := New(backend, Config{
		Store:  store,
		Policy: policy.SourceConfig{Timeout: time.Second},
	})
	require.NoError(t, err)
	return c
}

var samplePoints = []contract.RoutePoint{{Lat: 37.7749, Lon: -122.4194}, {Lat: 37.7755, Lon: -122.4180}}

func TestScoreMissThenHit(t *testing.T) {
	body := `{"route_id":"x","safety_score":0.2,"breakdown":{"theft":3}}`
	fake, backend := newBackend(t, testutil.FakeResponse{Body: body})
	c := newController(t, backend, kvstore.NewMapStore())

	req := contract.ScoreRouteRequest{Points: samplePoints}
	first, err := c.Score(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, contract.CacheMiss, first.Cache)

	second, err := c.Score(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, contract.CacheHit, second.Cache)
	assert.Equal(t, first.Body, second.Body)
	assert.Equal(t, body, string(second.Body))
	assert.Equal(t, 1, fake.Calls())
}

func TestScoreAttachesFingerprint(t *testing.T) {
	fake, backend := newBackend(t, testutil.FakeResponse{Body: `{"safety_score":0.1}`})
	c := newController(t, backend, kvstore.NewMapStore())

	ctx := contract.WithTraceID(context.Background(), "trace-7")
	result, err := c.Score(ctx, contract.ScoreRouteRequest{Points: samplePoints})
	require.NoError(t, err)
	assert.Equal(t, fingerprint.Points(samplePoints), result.Fingerprint)

	reqs := fake.Requests()
	require.Len(t, reqs, 1)
	var forwarded contract.ScoreRouteRequest
	require.NoError(t, json.Unmarshal(reqs[0].Body, &forwarded))
	assert.Equal(t, result.Fingerprint, forwarded.RouteID)
	assert.Equal(t, samplePoints, forwarded.Points)
	assert.Equal(t, "trace-7", reqs[0].Header.Get(contract.TraceIDHeader))
}

func TestScoreExplicitRouteIDIsKey(t *testing.T) {
	fake, backend := newBackend(t, testutil.FakeResponse{Body: `{"safety_score":0.1}`})
	store := kvstore.NewMapStore()
	c := newController(t, backend, store)

	_, err := c.Score(context.Background(), contract.ScoreRouteRequest{RouteID: "route-42", Points: samplePoints})
	require.NoError(t, err)

	got, ok, err := store.Get(context.Background(), "route-42")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.JSONEq(t, `{"safety_score":0.1}`, string(got))
	assert.Equal(t, 1, fake.Calls())
}

func TestScoreStoreOutageFallsThrough(t *testing.T) {
	fake, backend := newBackend(t, testutil.FakeResponse{Body: `{"safety_score":0.3}`})
	c := newController(t, backend, failingStore{})

	for i := 0; i < 2; i++ {
		result, err := c.Score(context.Background(), contract.ScoreRouteRequest{Points: samplePoints})
		require.NoError(t, err)
		assert.Equal(t, contract.CacheMiss, result.Cache)
		assert.JSONEq(t, `{"safety_score":0.3}`, string(result.Body))
	}
	assert.Equal(t, 2, fake.Calls())
}

func TestScoreBackendFailureIsNotCached(t *testing.T) {
	fake, backend := newBackend(t,
		testutil.FakeResponse{Status: http.StatusInternalServerError, Body: "crime index unavailable"},
		testutil.FakeResponse{Body: `{"safety_score":0.4}`},
	)
	store := kvstore.NewMapStore()
	c := newController(t, backend, store)

	_, err := c.Score(context.Background(), contract.ScoreRouteRequest{Points: samplePoints})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBackend)
	assert.Contains(t, err.Error(), "crime index unavailable")
	assert.Equal(t, 0, store.Len())

	result, err := c.Score(context.Background(), contract.ScoreRouteRequest{Points: samplePoints})
	require.NoError(t, err)
	assert.Equal(t, contract.CacheMiss, result.Cache)
	assert.Equal(t, 2, fake.Calls())
}

func TestScoreInvalidRequest(t *testing.T) {
	fake, backend := newBackend(t)
	c := newController(t, backend, kvstore.NewMapStore())

	_, err := c.Score(context.Background(), contract.ScoreRouteRequest{})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = c.Score(context.Background(), contract.ScoreRouteRequest{Points: []contract.RoutePoint{{Lat: 91, Lon: 0}}})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = c.Score(context.Background(), contract.ScoreRouteRequest{RouteID: "   "})
	assert.ErrorIs(t, err, ErrInvalidRequest)
	assert.Equal(t, 0, fake.Calls())
}

type blockingBackend struct {
	mu      sync.Mutex
	calls   int
	release chan struct{}
}

func (b *blockingBackend) Forward(ctx context.Context, _ contract.ScoreRouteRequest, _ string) (sources.Response, error) {
	b.mu.Lock()
	b.calls++
	b.mu.Unlock()
	select {
	case <-b.release:
	case <-ctx.Done():
		return sources.Response{}, ctx.Err()
	}
	return sources.Response{Body: []byte(`{"safety_score":0.5}`), Status: http.StatusOK}, nil
}

func (b *blockingBackend) Ping(context.Context) error { return nil }

func TestScoreConcurrentMissesShareBackendCall(t *testing.T) {
	backend := &blockingBackend{release: make(chan struct{})}
	c := newController(t, backend, kvstore.NewMapStore())

	const callers = 5
	var wg sync.WaitGroup
	results := make([]Result, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = c.Score(context.Background(), contract.ScoreRouteRequest{Points: samplePoints})
		}(i)
	}

	// Let the callers pile up on the in-flight call before releasing it.
	time.Sleep(50 * time.Millisecond)
	close(backend.release)
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.JSONEq(t, `{"safety_score":0.5}`, string(results[i].Body))
	}
	backend.mu.Lock()
	defer backend.mu.Unlock()
	assert.Equal(t, 1, backend.calls)
}

func TestScoreCallerCancelDoesNotFailSharedCall(t *testing.T) {
	backend := &blockingBackend{release: make(chan struct{})}
	c := newController(t, backend, kvstore.NewMapStore())
	req := contract.ScoreRouteRequest{Points: samplePoints}

	leaderCtx, cancel := context.WithCancel(context.Background())
	leaderErr := make(chan error, 1)
	go func() {
		_, err := c.Score(leaderCtx, req)
		leaderErr <- err
	}()
	require.Eventually(t, func() bool {
		backend.mu.Lock()
		defer backend.mu.Unlock()
		return backend.calls == 1
	}, time.Second, 5*time.Millisecond)

	type outcome struct {
		result Result
		err    error
	}
	follower := make(chan outcome, 1)
	go func() {
		res, err := c.Score(context.Background(), req)
		follower <- outcome{res, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancel()
	require.ErrorIs(t, <-leaderErr, context.Canceled)

	close(backend.release)
	got := <-follower
	require.NoError(t, got.err)
	assert.JSONEq(t, `{"safety_score":0.5}`, string(got.result.Body))
	assert.Equal(t, contract.CacheMiss, got.result.Cache)

	cached, err := c.Score(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, contract.CacheHit, cached.Cache)
	assert.Equal(t, policy.CircuitClosed, c.Circuit())

	backend.mu.Lock()
	defer backend.mu.Unlock()
	assert.Equal(t, 1, backend.calls)
}

func TestPingReportsStore(t *testing.T) {
	_, backend := newBackend(t, testutil.FakeResponse{Body: `{"status":"ok"}`})
	store, err := kvstore.NewMemoryStore(kvstore.MemoryConfig{})
	require.NoError(t, err)
	c := newController(t, backend, store)

	storeErr, backendErr := c.Ping(context.Background())
	assert.NoError(t, storeErr)
	assert.NoError(t, backendErr)

	store.Close()
	storeErr, _ = c.Ping(context.Background())
	assert.ErrorIs(t, storeErr, kvstore.ErrClosed)
}
