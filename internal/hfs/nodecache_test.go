// Copyright (c) 2026 retroimg authors
// Licensed under the MIT license

package hfs

import (
	"testing"

	"github.com/goldenapple/retroimg/internal/nodecache"
)

func TestOpenWithNodeCacheRoundTrips(t *testing.T) {
	cache, err := nodecache.Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer cache.Close()

	img := buildTestImage(t, 32)
	v, err := Open(img, WithNodeCache(cache))
	if err != nil {
		t.Fatal(err)
	}

	dir, err := v.CreateDir(RootCNID, "Docs")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := v.CreateFile(dir.CNID, "README"); err != nil {
		t.Fatal(err)
	}
	if err := v.Flush(); err != nil {
		t.Fatal(err)
	}

	reopened, err := Open(img, WithNodeCache(cache))
	if err != nil {
		t.Fatal(err)
	}
	entries, err := reopened.ReadDir(RootCNID)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name != "Docs" {
		t.Fatalf("expected [Docs] after reopening through the node cache, got %+v", entries)
	}

	children, err := reopened.ReadDir(dir.CNID)
	if err != nil {
		t.Fatal(err)
	}
	if len(children) != 1 || children[0].Name != "README" {
		t.Fatalf("expected [README] under Docs, got %+v", children)
	}
}
