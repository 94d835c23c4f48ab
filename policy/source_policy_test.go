package policy

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/saferoute/route_scoring/testutil"
)

func TestSourcePolicyTimeoutTriggersError(t *testing.T) {
	fake := testutil.NewFakeSource(testutil.FakeResponse{
		Delay:  150 * time.Millisecond,
		Status: http.StatusOK,
	})
	defer fake.Close()

	policy, err := NewSourcePolicy(SourceConfig{
		Name:    "narrative",
		Timeout: 50 * time.Millisecond,
	}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx := context.Background()
	callErr := policy.Execute(ctx, func(ctx context.Context) error {
		req, _ := http.NewRequestWithContext(ctx, http.MethodGet, fake.URL(), nil)
		resp, err := http.DefaultClient.Do(req)
		if resp != nil {
			resp.Body.Close()
		}
		return err
	})

	if !errors.Is(callErr, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", callErr)
	}
}

func TestSourcePolicyCircuitOpensAfterFailures(t *testing.T) {
	fake := testutil.NewFakeSource(
		testutil.FakeResponse{Status: http.StatusInternalServerError},
		testutil.FakeResponse{Status: http.StatusInternalServerError},
		testutil.FakeResponse{Status: http.StatusInternalServerError},
	)
	defer fake.Close()

	cfg := SourceConfig{
		Name:    "fake",
		Timeout: 200 * time.Millisecond,
		Circuit: CircuitBreakerConfig{
			Window:               500 * time.Millisecond,
			FailureRateThreshold: 0.5,
			MinSamples:           2,
			Cooldown:             100 * time.Millisecond,
			HalfOpenMaxCalls:     1,
		},
	}

	policy, err := NewSourcePolicy(cfg, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx := context.Background()
	call := func(ctx context.Context) error {
		req, _ := http.NewRequestWithContext(ctx, http.MethodGet, fake.URL(), nil)
		resp, err := http.DefaultClient.Do(req)
		if resp != nil {
			resp.Body.Close()
		}
		if err != nil {
			return err
		}
		if resp.StatusCode >= 400 {
			return fmt.Errorf("status %d", resp.StatusCode)
		}
		return nil
	}

	for i := 0; i < 3; i++ {
		_ = policy.Execute(ctx, call)
	}

	if err := policy.Execute(ctx, call); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected circuit open error, got %v", err)
	}

	time.Sleep(cfg.Circuit.Cooldown + 20*time.Millisecond)

	fake.SetResponses(testutil.FakeResponse{Status: http.StatusOK})

	if err := policy.Execute(ctx, call); err != nil {
		t.Fatalf("expected circuit half-open success, got %v", err)
	}
}

func TestSourcePolicyRateLimitRejectsWithoutCalling(t *testing.T) {
	policy, err := NewSourcePolicy(SourceConfig{
		Name:    "narrative",
		Timeout: time.Second,
		Rate: RateLimitConfig{
			Capacity:     1,
			RefillTokens: 1,
			RefillEvery:  time.Hour,
		},
	}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	calls := 0
	fn := func(context.Context) error {
		calls++
		return nil
	}

	if err := policy.Execute(context.Background(), fn); err != nil {
		t.Fatalf("expected first call to pass, got %v", err)
	}
	if err := policy.Execute(context.Background(), fn); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected rate limited, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected one call to reach the source, got %d", calls)
	}
}

func TestSourcePolicyReportsDeadlineWhenFnIgnoresContext(t *testing.T) {
	policy, err := NewSourcePolicy(SourceConfig{
		Name:    "imagery",
		Timeout: 20 * time.Millisecond,
	}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	err = policy.Execute(context.Background(), func(ctx context.Context) error {
		<-ctx.Done()
		return nil
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestNewControllerRejectsDuplicateSources(t *testing.T) {
	_, err := NewController(ControllerConfig{Sources: []SourceConfig{
		{Name: "crime", Timeout: time.Second},
		{Name: "crime", Timeout: time.Second},
	}}, nil)
	if err == nil {
		t.Fatal("expected duplicate source error")
	}

	ctrl, err := NewController(ControllerConfig{Sources: []SourceConfig{
		{Name: "crime", Timeout: time.Second},
	}}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := ctrl.Source("crime"); !ok {
		t.Fatal("expected crime policy")
	}
	if _, ok := ctrl.Source("imagery"); ok {
		t.Fatal("did not expect imagery policy")
	}
}

func TestSourcePolicyCallerCancelIsNotAFailure(t *testing.T) {
	policy, err := NewSourcePolicy(SourceConfig{
		Name:    "crime_backend",
		Timeout: time.Second,
		Circuit: CircuitBreakerConfig{
			Window:               time.Second,
			FailureRateThreshold: 0.5,
			MinSamples:           2,
			Cooldown:             time.Minute,
			HalfOpenMaxCalls:     1,
		},
	}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for i := 0; i < 3; i++ {
		err := policy.Execute(ctx, func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		})
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected canceled, got %v", err)
		}
	}

	if state := policy.Circuit().State(); state != CircuitClosed {
		t.Fatalf("expected circuit to stay closed, got %v", state)
	}
	if rate := policy.Circuit().FailureRate(time.Now()); rate != 0 {
		t.Fatalf("expected no recorded failures, got %v", rate)
	}
}
