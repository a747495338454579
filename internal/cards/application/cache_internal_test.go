package application

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"classifieds/internal/cards/infrastructure/memory"
)

func TestCached_CancelledCallerDoesNotFailOthers(t *testing.T) {
	c := newViewCache(memory.NewCache(time.Now), time.Minute)
	started := make(chan struct{})
	release := make(chan struct{})
	load := func(ctx context.Context) ([]string, error) {
		close(started)
		<-release
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return []string{"Bike", "Lamp"}, nil
	}

	first, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := cached(first, c, familyPage, "page:1", load)
		firstErr <- err
	}()
	<-started

	type result struct {
		v   []string
		err error
	}
	second := make(chan result, 1)
	go func() {
		v, err := cached(context.Background(), c, familyPage, "page:1", load)
		second <- result{v, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancel()
	if err := <-firstErr; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected the cancelled caller to stop, got %v", err)
	}

	close(release)
	res := <-second
	if res.err != nil {
		t.Fatalf("expected the waiting caller to get the value, got %v", res.err)
	}
	if !slices.Equal(res.v, []string{"Bike", "Lamp"}) {
		t.Errorf("unexpected value %v", res.v)
	}

	if _, found, _ := c.store.Get(context.Background(), "page:1"); !found {
		t.Error("expected the shared load to be cached")
	}
}

func TestCached_CallersGetTheirOwnCopy(t *testing.T) {
	c := newViewCache(memory.NewCache(time.Now), time.Minute)
	release := make(chan struct{})
	load := func(ctx context.Context) ([]string, error) {
		<-release
		return []string{"Bike"}, nil
	}

	results := make(chan []string, 2)
	for range 2 {
		go func() {
			v, err := cached(context.Background(), c, familySearch, "search:bike", load)
			if err != nil {
				t.Error(err)
			}
			results <- v
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)

	a, b := <-results, <-results
	a[0] = "changed"
	if b[0] != "Bike" {
		t.Errorf("expected an independent copy, got %v", b)
	}
}
