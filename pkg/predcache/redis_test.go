package predcache

import (
	"context"
	"strings"
	"testing"

	"github.com/fedora-copr/rpmeta/pkg/dataset"
)

func TestRequestKeyIgnoresDuration(t *testing.T) {
	rec := dataset.BuildRecord{
		PackageName: "vim",
		Version:     "9.1",
		MockChroot:  "fedora-42-x86_64",
		Deps:        []string{"gcc"},
	}

	base, err := requestKey(rec)
	if err != nil {
		t.Fatalf("key: %v", err)
	}
	if !strings.HasPrefix(base, "prediction:") {
		t.Fatalf("key must be namespaced, got %s", base)
	}

	withDuration := rec
	withDuration.DurationSecs = 500
	same, err := requestKey(withDuration)
	if err != nil {
		t.Fatalf("key: %v", err)
	}
	if same != base {
		t.Fatal("observed duration must not change the cache key")
	}

	other := rec
	other.Version = "9.2"
	different, err := requestKey(other)
	if err != nil {
		t.Fatalf("key: %v", err)
	}
	if different == base {
		t.Fatal("different requests must not collide")
	}
}

func TestNilCacheIsNoop(t *testing.T) {
	var c *Cache
	ctx := context.Background()
	rec := dataset.BuildRecord{PackageName: "vim", MockChroot: "fedora-42-x86_64"}

	if res, err := c.Get(ctx, rec); err != nil || res != nil {
		t.Fatalf("nil cache Get must be a miss, got %v, %v", res, err)
	}
	if err := c.Put(ctx, rec, nil); err != nil {
		t.Fatalf("nil cache Put must be a no-op, got %v", err)
	}
	if err := c.Flush(ctx); err != nil {
		t.Fatalf("nil cache Flush must be a no-op, got %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("nil cache Close must be a no-op, got %v", err)
	}
}
