package registry

import (
	"io"

	"github.com/cuemby/moss/pkg/stone"
	"github.com/cuemby/moss/pkg/types"
)

// IndexBuilder assembles a repository index: a Repository-typed stone
// carrying one Meta payload per package and no Content payload, matching
// spec.md §6 "Repository index" (a supplemented feature grounded on
// original_source's `moss/src/cli/index.rs` / `repository/manager.rs`).
type IndexBuilder struct {
	metas []types.Meta
}

// NewIndexBuilder returns an empty builder.
func NewIndexBuilder() *IndexBuilder { return &IndexBuilder{} }

// Add appends one package's metadata to the index being built.
func (b *IndexBuilder) Add(m types.Meta) {
	b.metas = append(b.metas, m)
}

// metaToRecords lowers a types.Meta into its MetaRecord wire form.
func metaToRecords(m types.Meta) []stone.MetaRecord {
	recs := []stone.MetaRecord{
		{Tag: stone.TagName, Primitive: stone.StringPrimitive(m.Name)},
		{Tag: stone.TagVersion, Primitive: stone.StringPrimitive(m.VersionID)},
		{Tag: stone.TagRelease, Primitive: stone.Uint64Primitive(m.SourceRelease)},
		{Tag: stone.TagBuildRelease, Primitive: stone.Uint64Primitive(m.BuildRelease)},
		{Tag: stone.TagArchitecture, Primitive: stone.StringPrimitive(m.Architecture)},
		{Tag: stone.TagSummary, Primitive: stone.StringPrimitive(m.Summary)},
		{Tag: stone.TagDescription, Primitive: stone.StringPrimitive(m.Description)},
		{Tag: stone.TagSourceID, Primitive: stone.StringPrimitive(m.SourceID)},
		{Tag: stone.TagHomepage, Primitive: stone.StringPrimitive(m.Homepage)},
	}
	for _, l := range m.Licenses {
		recs = append(recs, stone.MetaRecord{Tag: stone.TagLicense, Primitive: stone.StringPrimitive(l)})
	}
	for _, d := range m.Dependencies {
		recs = append(recs, stone.MetaRecord{Tag: stone.TagDepends, Primitive: stone.DependencyPrimitive(d.Kind, d.Name)})
	}
	for _, p := range m.Providers {
		recs = append(recs, stone.MetaRecord{Tag: stone.TagProvides, Primitive: stone.ProviderPrimitive(p.Kind, p.Name)})
	}
	for _, c := range m.Conflicts {
		recs = append(recs, stone.MetaRecord{Tag: stone.TagConflicts, Primitive: stone.ProviderPrimitive(c.Kind, c.Name)})
	}
	if m.HasURI {
		recs = append(recs, stone.MetaRecord{Tag: stone.TagPackageURI, Primitive: stone.StringPrimitive(m.URI)})
	}
	if m.HasHash {
		recs = append(recs, stone.MetaRecord{Tag: stone.TagPackageHash, Primitive: stone.StringPrimitive(m.Hash)})
	}
	if m.HasDownload {
		recs = append(recs, stone.MetaRecord{Tag: stone.TagPackageSize, Primitive: stone.Uint64Primitive(m.DownloadSize)})
	}
	return recs
}

// Write serialises the accumulated index to out as a FileTypeRepository
// stone: one Meta payload per package, scratchDir used only transiently by
// the underlying stone.Writer (no content payload is ever appended, so no
// scratch bytes are written).
func (b *IndexBuilder) Write(out io.Writer, scratchDir string) error {
	w, err := stone.NewWriter(stone.FileTypeRepository, scratchDir)
	if err != nil {
		return err
	}
	defer w.Close()

	for _, m := range b.metas {
		if err := w.AddMeta(metaToRecords(m)); err != nil {
			return err
		}
	}

	return w.Finalize(out)
}
