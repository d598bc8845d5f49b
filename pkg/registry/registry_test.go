package registry

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/cuemby/moss/pkg/db/meta"
	"github.com/cuemby/moss/pkg/stone"
	"github.com/cuemby/moss/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openMetaDB(t *testing.T) *meta.DB {
	t.Helper()
	db, err := meta.Open(filepath.Join(t.TempDir(), "meta.db"), false)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestCobbleOutranksRepository(t *testing.T) {
	metaDB := openMetaDB(t)
	m := types.Meta{ID: "hello-2.0-1.x86_64", Name: "hello", SourceRelease: 1}
	require.NoError(t, metaDB.Put(m))

	repo := NewRepository("main", 10, metaDB)

	cobble := NewCobble()
	cobble.Add(Package{ID: "hello-1.0-1.x86_64", Meta: types.Meta{ID: "hello-1.0-1.x86_64", Name: "hello"}, Flags: FlagAvailable})

	reg := New()
	reg.AddPlugin(NewRepositoryPlugin(repo))
	reg.AddPlugin(NewCobblePlugin(cobble))

	results := reg.ByName("hello", Flags(0))
	require.Len(t, results, 2)
	assert.Equal(t, types.PackageID("hello-1.0-1.x86_64"), results[0].ID) // cobble's higher priority wins first
}

func TestListMergesAcrossPlugins(t *testing.T) {
	metaDB := openMetaDB(t)
	require.NoError(t, metaDB.Put(types.Meta{ID: "a-1.0-1.x86_64", Name: "a", SourceRelease: 1}))

	reg := New()
	reg.AddPlugin(NewRepositoryPlugin(NewRepository("main", 10, metaDB)))

	active := NewActive(metaDB, []types.Selection{{PackageID: "a-1.0-1.x86_64", Explicit: true}})
	reg.AddPlugin(NewActivePlugin(active))

	all := reg.List(Flags(0))
	assert.Len(t, all, 2) // same package visible via both the repository and active plugins
}

func TestByIDReturnsHighestPriorityMatch(t *testing.T) {
	metaDB := openMetaDB(t)
	require.NoError(t, metaDB.Put(types.Meta{ID: "a-1.0-1.x86_64", Name: "a"}))

	reg := New()
	reg.AddPlugin(NewRepositoryPlugin(NewRepository("main", 10, metaDB)))

	cobble := NewCobble()
	cobble.Add(Package{ID: "a-1.0-1.x86_64", Meta: types.Meta{ID: "a-1.0-1.x86_64", Name: "a"}, Flags: FlagAvailable})
	reg.AddPlugin(NewCobblePlugin(cobble))

	pkg, ok := reg.ByID("a-1.0-1.x86_64")
	require.True(t, ok)
	assert.Equal(t, FlagAvailable, pkg.Flags) // cobble's copy, since it outranks the repository
}

func TestIndexBuilderRoundTrip(t *testing.T) {
	b := NewIndexBuilder()
	b.Add(types.Meta{
		ID:            "hello-1.0-1.x86_64",
		Name:          "hello",
		SourceRelease: 1,
		Providers:     []types.Provider{{Kind: types.DependencyPackageName, Name: "hello"}},
	})

	var out bytes.Buffer
	require.NoError(t, b.Write(&out, t.TempDir()))

	rd, err := stone.NewReader(&out)
	require.NoError(t, err)
	assert.Equal(t, stone.FileTypeRepository, rd.Header.FileType)
	assert.Equal(t, uint16(1), rd.Header.NumPayloads)

	p, err := rd.Next()
	require.NoError(t, err)
	recs, err := stone.DecodeMetaPayload(p)
	require.NoError(t, err)

	var gotName string
	for _, rec := range recs {
		if rec.Tag == stone.TagName {
			gotName = rec.Primitive.Str
		}
	}
	assert.Equal(t, "hello", gotName)
}
