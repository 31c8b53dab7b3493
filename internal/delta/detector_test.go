package delta

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schemadex/schemadex/internal/manifest"
)

type fakeIndexView map[string]string

func (f fakeIndexView) ListIdentityHashes(ctx context.Context) (map[string]string, error) {
	return f, nil
}

func tableEntry(table, hash string) manifest.FileEntry {
	return manifest.FileEntry{
		Path:        "tables/" + table + ".md",
		Type:        manifest.FileTypeTable,
		Database:    "shop",
		Schema:      "public",
		Table:       table,
		ContentHash: hash,
	}
}

func TestClassifyNewChangedUnchanged(t *testing.T) {
	view := fakeIndexView{
		"shop.public.orders":    "h2",
		"shop.public.customers": "h1",
	}
	detector := New(view)

	entries := []manifest.FileEntry{
		tableEntry("customers", "h1"), // Same hash.
		tableEntry("orders", "h3"),    // Hash moved h2 -> h3.
		tableEntry("inventory", "h4"), // Not indexed yet.
	}

	cs, err := detector.Classify(context.Background(), entries, true)
	require.NoError(t, err)

	require.Len(t, cs.New, 1)
	assert.Equal(t, "inventory", cs.New[0].Table)
	require.Len(t, cs.Changed, 1)
	assert.Equal(t, "orders", cs.Changed[0].Table)
	require.Len(t, cs.Unchanged, 1)
	assert.Equal(t, "customers", cs.Unchanged[0].Table)
	assert.Empty(t, cs.DeletedIdentities)

	process := cs.ToProcess()
	assert.Len(t, process, 2)
}

func TestClassifyDeletedIncludesColumns(t *testing.T) {
	view := fakeIndexView{
		"shop.public.orders":          "h1",
		"shop.public.orders.id":       "c1",
		"shop.public.orders.total":    "c2",
		"shop.public.customers":       "h2",
		"shop.public.customers.email": "c3",
	}
	detector := New(view)

	// Manifest only lists customers now; orders vanished.
	cs, err := detector.Classify(context.Background(),
		[]manifest.FileEntry{tableEntry("customers", "h2")}, true)
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{
		"shop.public.orders",
		"shop.public.orders.id",
		"shop.public.orders.total",
	}, cs.DeletedIdentities)
}

func TestClassifyColumnsFollowParentFile(t *testing.T) {
	// An unchanged table keeps its column docs even though columns are not
	// manifest-listed themselves.
	view := fakeIndexView{
		"shop.public.orders":    "h1",
		"shop.public.orders.id": "c1",
	}
	detector := New(view)

	cs, err := detector.Classify(context.Background(),
		[]manifest.FileEntry{tableEntry("orders", "h1")}, true)
	require.NoError(t, err)

	assert.Len(t, cs.Unchanged, 1)
	assert.Empty(t, cs.DeletedIdentities)
}

func TestClassifyPartialManifestNeverDeletes(t *testing.T) {
	view := fakeIndexView{
		"shop.public.orders":    "h1",
		"shop.public.customers": "h2",
	}
	detector := New(view)

	cs, err := detector.Classify(context.Background(),
		[]manifest.FileEntry{tableEntry("orders", "h1")}, false)
	require.NoError(t, err)

	assert.Empty(t, cs.DeletedIdentities)
}

func TestClassifyEmptyIndexAllNew(t *testing.T) {
	detector := New(fakeIndexView{})

	cs, err := detector.Classify(context.Background(), []manifest.FileEntry{
		tableEntry("orders", "h1"),
		tableEntry("customers", "h2"),
	}, true)
	require.NoError(t, err)

	assert.Len(t, cs.New, 2)
	assert.Empty(t, cs.Changed)
	assert.Empty(t, cs.Unchanged)
	assert.Empty(t, cs.DeletedIdentities)
}
