package unifiedllm

import (
	"context"
	"testing"
	"time"
)

func TestRetryPolicyDelay(t *testing.T) {
	p := RetryPolicy{BaseDelay: time.Second, Multiplier: 2, MaxDelay: 5 * time.Second}
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second, 5 * time.Second}
	for i, w := range want {
		if got := p.Delay(i); got != w {
			t.Errorf("Delay(%d) = %v, want %v", i, got, w)
		}
	}

	p.Multiplier = 0
	if got := p.Delay(3); got != time.Second {
		t.Errorf("a multiplier below 1 should hold the delay flat, got %v", got)
	}
}

func TestRetryPolicyJitterRange(t *testing.T) {
	p := RetryPolicy{BaseDelay: time.Second, Multiplier: 2, Jitter: true}
	for i := 0; i < 50; i++ {
		if got := p.Delay(0); got < 500*time.Millisecond || got >= 1500*time.Millisecond {
			t.Fatalf("jittered delay %v outside [0.5s, 1.5s)", got)
		}
	}
}

// scripted returns each error in turn, then resp.
func scripted(calls *int, resp *Response, errs ...error) CompleteFunc {
	return func(ctx context.Context, req Request) (*Response, error) {
		*calls++
		if len(errs) > 0 {
			err := errs[0]
			errs = errs[1:]
			return nil, err
		}
		return resp, nil
	}
}

func quickPolicy(retries int) RetryPolicy {
	return RetryPolicy{MaxRetries: retries, BaseDelay: time.Millisecond, Multiplier: 1}
}

func TestRetryPolicyDo(t *testing.T) {
	ok := &Response{ID: "r"}
	overloaded := ErrorFromStatusCode(503, "anthropic", "overloaded", 0)
	badKey := ErrorFromStatusCode(401, "anthropic", "bad key", 0)
	reset := newError(KindNetwork, "anthropic", "connection reset", nil)

	tests := []struct {
		name      string
		retries   int
		errs      []error
		wantCalls int
		wantErr   ErrorKind
	}{
		{"succeeds after transient failures", 3, []error{overloaded, reset}, 3, ""},
		{"stops on permanent failure", 3, []error{badKey, overloaded}, 1, KindAuthentication},
		{"gives up when retries run out", 2, []error{reset, reset, reset, reset}, 3, KindNetwork},
		{"zero retries", 0, []error{overloaded}, 1, KindServer},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			resp, err := quickPolicy(tt.retries).Do(context.Background(), Request{}, scripted(&calls, ok, tt.errs...))
			if calls != tt.wantCalls {
				t.Errorf("calls = %d, want %d", calls, tt.wantCalls)
			}
			if tt.wantErr == "" {
				if err != nil || resp != ok {
					t.Errorf("expected success, got %v", err)
				}
				return
			}
			if KindOf(err) != tt.wantErr {
				t.Errorf("error kind = %q, want %q (%v)", KindOf(err), tt.wantErr, err)
			}
		})
	}
}

func TestRetryHonorsRetryAfter(t *testing.T) {
	var waits []time.Duration
	p := quickPolicy(2)
	p.MaxDelay = time.Second
	p.OnRetry = func(err error, attempt int, wait time.Duration) { waits = append(waits, wait) }

	calls := 0
	limited := ErrorFromStatusCode(429, "anthropic", "slow down", 20*time.Millisecond)
	if _, err := p.Do(context.Background(), Request{}, scripted(&calls, &Response{}, limited)); err != nil {
		t.Fatalf("Do: %v", err)
	}
	if len(waits) != 1 || waits[0] != 20*time.Millisecond {
		t.Errorf("expected one 20ms wait, got %v", waits)
	}

	calls = 0
	tooLong := ErrorFromStatusCode(429, "anthropic", "slow down", 2*time.Minute)
	if _, err := p.Do(context.Background(), Request{}, scripted(&calls, &Response{}, tooLong)); KindOf(err) != KindRateLimit {
		t.Errorf("expected the rate limit error back, got %v", err)
	}
	if calls != 1 {
		t.Errorf("a Retry-After beyond MaxDelay should not be waited out, got %d calls", calls)
	}
}

func TestRetryCancelledDuringWait(t *testing.T) {
	p := RetryPolicy{MaxRetries: 5, BaseDelay: time.Minute, Multiplier: 1}
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	calls := 0
	_, err := p.Do(ctx, Request{Provider: "anthropic"}, scripted(&calls, nil, newError(KindNetwork, "", "flaky", nil)))
	if KindOf(err) != KindAborted {
		t.Fatalf("expected an aborted error, got %v", err)
	}
	if IsRetryable(err) {
		t.Error("aborted errors must not be retryable")
	}
	if calls != 1 {
		t.Errorf("expected cancellation during the first wait, got %d calls", calls)
	}
}

func TestDefaultRetryPolicy(t *testing.T) {
	p := DefaultRetryPolicy()
	if p.MaxRetries != 2 || p.BaseDelay != time.Second || p.MaxDelay != time.Minute || p.Multiplier != 2 || !p.Jitter {
		t.Errorf("unexpected defaults %+v", p)
	}
}
