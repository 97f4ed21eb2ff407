package tokenpool

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/strudelkit/stscraper/pkg/ratelimit"
)

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name      string
		secrets   []string
		expectErr bool
		expectLen int
	}{
		{name: "no secrets", secrets: nil, expectErr: true},
		{name: "only empty secrets", secrets: []string{"", ""}, expectErr: true},
		{name: "single secret", secrets: []string{"tok-a"}, expectLen: 1},
		{name: "duplicates dropped", secrets: []string{"tok-a", "tok-b", "tok-a"}, expectLen: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := New("github", tt.secrets)
			if tt.expectErr {
				if !errors.Is(err, ErrNoTokens) {
					t.Errorf("New() error = %v, want ErrNoTokens", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}
			if p.Len() != tt.expectLen {
				t.Errorf("Len() = %d, want %d", p.Len(), tt.expectLen)
			}
		})
	}
}

func TestToken_StringRedactsSecret(t *testing.T) {
	p, _ := New("github", []string{"ghp_supersecret"})
	if got := p.Tokens()[0].String(); got != "<redacted>" {
		t.Errorf("String() = %q, must not expose the secret", got)
	}

	anon := NewAnonymous("bitbucket")
	if got := anon.Tokens()[0].String(); got != "<anonymous>" {
		t.Errorf("String() = %q, want <anonymous>", got)
	}
}

func TestAcquire_PicksMostRemaining(t *testing.T) {
	p, err := New("github", []string{"tok-a", "tok-b", "tok-c"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	reset := time.Now().Add(time.Hour)
	now := time.Now()
	p.Update(p.Tokens()[0], ratelimit.ClassCore, ratelimit.State{Limit: 5000, Remaining: 10, ResetAt: reset, LastUpdate: now})
	p.Update(p.Tokens()[1], ratelimit.ClassCore, ratelimit.State{Limit: 5000, Remaining: 4000, ResetAt: reset, LastUpdate: now})
	p.Update(p.Tokens()[2], ratelimit.ClassCore, ratelimit.State{Limit: 5000, Remaining: 200, ResetAt: reset, LastUpdate: now})

	tok, err := p.Acquire(ratelimit.ClassCore)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if tok != p.Tokens()[1] {
		t.Error("Acquire() should return the token with the most remaining quota")
	}
}

func TestAcquire_UnobservedTokenPreferred(t *testing.T) {
	p, _ := New("github", []string{"tok-a", "tok-b"})

	p.Update(p.Tokens()[0], ratelimit.ClassCore, ratelimit.State{
		Limit: 5000, Remaining: 4999, ResetAt: time.Now().Add(time.Hour), LastUpdate: time.Now(),
	})

	tok, err := p.Acquire(ratelimit.ClassCore)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if tok != p.Tokens()[1] {
		t.Error("Acquire() should try a never-observed token before a partially spent one")
	}
}

// Every token with remaining quota is handed out before the pool reports
// exhaustion.
func TestAcquire_UsesEveryTokenBeforeBlocking(t *testing.T) {
	p, _ := New("github", []string{"tok-a", "tok-b", "tok-c"})

	reset := time.Now().Add(time.Hour)
	used := make(map[*Token]bool)
	for i := 0; i < p.Len(); i++ {
		tok, err := p.Acquire(ratelimit.ClassCore)
		if err != nil {
			t.Fatalf("Acquire() #%d error = %v", i, err)
		}
		used[tok] = true
		// Simulate the forge reporting this token spent.
		p.Update(tok, ratelimit.ClassCore, ratelimit.State{
			Limit: 5000, Remaining: 0, ResetAt: reset, LastUpdate: time.Now(),
		})
	}

	if len(used) != p.Len() {
		t.Errorf("Acquire() touched %d distinct tokens before exhaustion, want %d", len(used), p.Len())
	}
	if _, err := p.Acquire(ratelimit.ClassCore); !errors.Is(err, ErrAllExhausted) {
		t.Errorf("Acquire() after spending all tokens = %v, want ErrAllExhausted", err)
	}
}

func TestAcquire_ClassesIndependent(t *testing.T) {
	p, _ := New("github", []string{"tok-a"})

	p.Update(p.Tokens()[0], ratelimit.ClassSearch, ratelimit.State{
		Limit: 30, Remaining: 0, ResetAt: time.Now().Add(time.Minute), LastUpdate: time.Now(),
	})

	if _, err := p.Acquire(ratelimit.ClassSearch); !errors.Is(err, ErrAllExhausted) {
		t.Errorf("Acquire(search) = %v, want ErrAllExhausted", err)
	}
	if _, err := p.Acquire(ratelimit.ClassCore); err != nil {
		t.Errorf("Acquire(core) = %v, exhausting search must not affect core", err)
	}
}

func TestWait_BlocksUntilEarliestReset(t *testing.T) {
	p, _ := New("github", []string{"tok-a", "tok-b"})

	now := time.Now()
	p.Update(p.Tokens()[0], ratelimit.ClassCore, ratelimit.State{Remaining: 0, ResetAt: now.Add(200 * time.Millisecond), LastUpdate: now})
	p.Update(p.Tokens()[1], ratelimit.ClassCore, ratelimit.State{Remaining: 0, ResetAt: now.Add(time.Hour), LastUpdate: now})

	start := time.Now()
	if err := p.Wait(context.Background(), ratelimit.ClassCore); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	elapsed := time.Since(start)

	// Earliest reset (200ms) plus one second of slack; nowhere near the
	// one-hour reset of the other token.
	if elapsed < 200*time.Millisecond {
		t.Errorf("Wait() returned after %v, before the earliest reset", elapsed)
	}
	if elapsed > 10*time.Second {
		t.Errorf("Wait() took %v, should track the earliest reset, not the latest", elapsed)
	}

	// After the window rolled over, the pool hands out tokens again.
	if _, err := p.Acquire(ratelimit.ClassCore); err != nil {
		t.Errorf("Acquire() after Wait() = %v, want token", err)
	}
}

func TestWait_ContextCancellation(t *testing.T) {
	p, _ := New("github", []string{"tok-a"})
	p.Update(p.Tokens()[0], ratelimit.ClassCore, ratelimit.State{
		Remaining: 0, ResetAt: time.Now().Add(time.Hour), LastUpdate: time.Now(),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := p.Wait(ctx, ratelimit.ClassCore)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Wait() with cancelled context = %v, want DeadlineExceeded", err)
	}
}

func TestWait_NoPendingReset(t *testing.T) {
	p, _ := New("github", []string{"tok-a"})

	start := time.Now()
	if err := p.Wait(context.Background(), ratelimit.ClassCore); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Wait() with no pending reset took %v, want immediate return", elapsed)
	}
}
