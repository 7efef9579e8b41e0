package store

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestLockOrder(t *testing.T) {
	got := lockOrder([]string{"ip:2", "", "fp:b", "ip:2", "fp:a"})
	want := []string{"fp:a", "fp:b", "ip:2"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("lockOrder = %v, want %v", got, want)
	}
}

func TestMemory_DoSerializesPerKey(t *testing.T) {
	uow := NewMemory()
	ctx := context.Background()
	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = uow.Do(ctx, []string{FingerprintKey("fp1"), IPKey("1.1.1.1")}, func(ctx context.Context, r Repos) error {
				n := atomic.AddInt32(&inside, 1)
				for {
					cur := atomic.LoadInt32(&maxInside)
					if n <= cur || atomic.CompareAndSwapInt32(&maxInside, cur, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				atomic.AddInt32(&inside, -1)
				return nil
			})
		}()
	}
	wg.Wait()
	if maxInside != 1 {
		t.Errorf("max concurrent holders = %d, want 1", maxInside)
	}
	if len(uow.locks) != 0 {
		t.Errorf("locks left = %d, want 0", len(uow.locks))
	}
}

func TestMemory_DoOverlappingKeysNoDeadlock(t *testing.T) {
	uow := NewMemory()
	ctx := context.Background()
	done := make(chan struct{})
	go func() {
		var wg sync.WaitGroup
		for i := 0; i < 50; i++ {
			keys := []string{"a", "b"}
			if i%2 == 1 {
				keys = []string{"b", "a"}
			}
			wg.Add(1)
			go func(keys []string) {
				defer wg.Done()
				_ = uow.Do(ctx, keys, func(ctx context.Context, r Repos) error { return nil })
			}(keys)
		}
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Do with reversed key order deadlocked")
	}
}

func TestMemory_DoReturnsFnError(t *testing.T) {
	uow := NewMemory()
	want := errors.New("boom")
	err := uow.Do(context.Background(), []string{"k"}, func(ctx context.Context, r Repos) error {
		if r.Sessions == nil || r.Votes == nil || r.IPChanges == nil || r.Violations == nil {
			t.Error("Repos should be fully populated")
		}
		return want
	})
	if !errors.Is(err, want) {
		t.Errorf("Do err = %v, want %v", err, want)
	}
	if len(uow.locks) != 0 {
		t.Error("locks should be released after an error")
	}
}

func TestMemory_DoCanceledContext(t *testing.T) {
	uow := NewMemory()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	err := uow.Do(ctx, []string{"k"}, func(ctx context.Context, r Repos) error {
		called = true
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Do err = %v, want context.Canceled", err)
	}
	if called {
		t.Error("fn should not run with a canceled context")
	}
}
