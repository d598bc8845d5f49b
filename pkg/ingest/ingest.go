// Package ingest turns a decoded stone file back into the domain types the
// rest of moss operates on: a package's Meta and Layout rows, and the raw
// content blob its assets are sliced out of. It is the reverse of
// registry.IndexBuilder's metaToRecords, grounded on original_source's
// crates/moss/src/package/meta.rs ("Meta::from_stone_payload").
package ingest

import (
	"fmt"
	"io"

	"github.com/cuemby/moss/pkg/cache"
	"github.com/cuemby/moss/pkg/stone"
	"github.com/cuemby/moss/pkg/types"
)

// ErrMissingField is returned when a Meta payload is missing one of the
// fields every package must carry.
type ErrMissingField struct{ Tag stone.MetaTag }

func (e ErrMissingField) Error() string {
	return fmt.Sprintf("ingest: meta payload missing required tag %d", e.Tag)
}

// MetaFromRecords rebuilds a types.Meta from one package's decoded Meta
// records, restoring the self-provider invariant and deriving the package
// id the rest of the system keys everything by.
func MetaFromRecords(recs []stone.MetaRecord) (types.Meta, error) {
	var m types.Meta

	name, ok := findString(recs, stone.TagName)
	if !ok {
		return types.Meta{}, ErrMissingField{Tag: stone.TagName}
	}
	version, ok := findString(recs, stone.TagVersion)
	if !ok {
		return types.Meta{}, ErrMissingField{Tag: stone.TagVersion}
	}
	sourceRelease, ok := findUint(recs, stone.TagRelease)
	if !ok {
		return types.Meta{}, ErrMissingField{Tag: stone.TagRelease}
	}
	buildRelease, ok := findUint(recs, stone.TagBuildRelease)
	if !ok {
		return types.Meta{}, ErrMissingField{Tag: stone.TagBuildRelease}
	}
	arch, ok := findString(recs, stone.TagArchitecture)
	if !ok {
		return types.Meta{}, ErrMissingField{Tag: stone.TagArchitecture}
	}
	summary, ok := findString(recs, stone.TagSummary)
	if !ok {
		return types.Meta{}, ErrMissingField{Tag: stone.TagSummary}
	}
	description, ok := findString(recs, stone.TagDescription)
	if !ok {
		return types.Meta{}, ErrMissingField{Tag: stone.TagDescription}
	}
	sourceID, ok := findString(recs, stone.TagSourceID)
	if !ok {
		return types.Meta{}, ErrMissingField{Tag: stone.TagSourceID}
	}
	homepage, ok := findString(recs, stone.TagHomepage)
	if !ok {
		return types.Meta{}, ErrMissingField{Tag: stone.TagHomepage}
	}

	m = types.Meta{
		Name:          name,
		VersionID:     version,
		SourceRelease: sourceRelease,
		BuildRelease:  buildRelease,
		Architecture:  arch,
		Summary:       summary,
		Description:   description,
		SourceID:      sourceID,
		Homepage:      homepage,
	}
	m.ID = types.PackageID(fmt.Sprintf("%s-%s-%d.%s", name, version, sourceRelease, arch))

	if uri, ok := findString(recs, stone.TagPackageURI); ok {
		m.URI, m.HasURI = uri, true
	}
	if hash, ok := findString(recs, stone.TagPackageHash); ok {
		m.Hash, m.HasHash = hash, true
	}
	if size, ok := findUint(recs, stone.TagPackageSize); ok {
		m.DownloadSize, m.HasDownload = size, true
	}

	for _, rec := range recs {
		switch rec.Tag {
		case stone.TagLicense:
			m.Licenses = append(m.Licenses, rec.Primitive.Str)
		case stone.TagDepends:
			m.Dependencies = append(m.Dependencies, types.Provider{Kind: rec.Primitive.DepKind, Name: rec.Primitive.Str})
		case stone.TagProvides:
			m.Providers = append(m.Providers, types.Provider{Kind: rec.Primitive.DepKind, Name: rec.Primitive.Str})
		case stone.TagConflicts:
			m.Conflicts = append(m.Conflicts, types.Provider{Kind: rec.Primitive.DepKind, Name: rec.Primitive.Str})
		}
	}

	m.EnsureSelfProvider()
	return m, nil
}

func findString(recs []stone.MetaRecord, tag stone.MetaTag) (string, bool) {
	for _, rec := range recs {
		if rec.Tag == tag && rec.Primitive.Kind == stone.PrimitiveString {
			return rec.Primitive.Str, true
		}
	}
	return "", false
}

func findUint(recs []stone.MetaRecord, tag stone.MetaTag) (uint64, bool) {
	for _, rec := range recs {
		if rec.Tag == tag {
			return rec.Primitive.Uint, true
		}
	}
	return 0, false
}

// LayoutsFromRecords rebuilds pkg's Layout rows from its decoded Layout
// records. LayoutRecord already carries domain types for Kind/Hash, so this
// is a direct field copy rather than a lookup table.
func LayoutsFromRecords(pkg types.PackageID, recs []stone.LayoutRecord) []types.Layout {
	out := make([]types.Layout, 0, len(recs))
	for _, rec := range recs {
		out = append(out, types.Layout{
			PackageID: pkg,
			UID:       rec.UID,
			GID:       rec.GID,
			Mode:      rec.Mode,
			Tag:       rec.Tag,
			Entry: types.Entry{
				Kind:   rec.Kind,
				Hash:   rec.Hash,
				Source: rec.Source,
				Target: rec.Target,
			},
		})
	}
	return out
}

// Package is one ingested FileTypeBinary stone: the package's metadata, its
// layout rows, and its content payload sliced into per-asset splits ready
// for cache.Cache.UnpackAssets.
type Package struct {
	Meta    types.Meta
	Layouts []types.Layout
	Content []byte
	Splits  []cache.AssetSplit
}

// ReadPackage decodes a FileTypeBinary stone (a single package: exactly one
// Meta payload, one Layout payload, one Index payload, and an optional
// Content payload) into its domain form.
func ReadPackage(r io.Reader) (Package, error) {
	rd, err := stone.NewReader(r)
	if err != nil {
		return Package{}, fmt.Errorf("ingest: read header: %w", err)
	}
	if rd.Header.FileType != stone.FileTypeBinary && rd.Header.FileType != stone.FileTypeDelta {
		return Package{}, fmt.Errorf("ingest: expected a binary package stone, got file type %d", rd.Header.FileType)
	}

	var metaRecs []stone.MetaRecord
	var layoutRecs []stone.LayoutRecord
	var indexRecs []stone.IndexRecord
	var content []byte

	for i := uint16(0); i < rd.Header.NumPayloads; i++ {
		p, err := rd.Next()
		if err != nil {
			return Package{}, fmt.Errorf("ingest: read payload %d: %w", i, err)
		}
		switch p.Header.Kind {
		case stone.PayloadMeta:
			recs, err := stone.DecodeMetaPayload(p)
			if err != nil {
				return Package{}, err
			}
			metaRecs = append(metaRecs, recs...)
		case stone.PayloadLayout:
			recs, err := stone.DecodeLayoutPayload(p)
			if err != nil {
				return Package{}, err
			}
			layoutRecs = append(layoutRecs, recs...)
		case stone.PayloadIndex:
			recs, err := stone.DecodeIndexPayload(p)
			if err != nil {
				return Package{}, err
			}
			indexRecs = append(indexRecs, recs...)
		case stone.PayloadContent:
			content = p.Body
		case stone.PayloadAttributes:
			// no domain analogue; ignored.
		}
	}

	meta, err := MetaFromRecords(metaRecs)
	if err != nil {
		return Package{}, err
	}

	layouts := LayoutsFromRecords(meta.ID, layoutRecs)

	splits := make([]cache.AssetSplit, 0, len(indexRecs))
	for _, idx := range indexRecs {
		splits = append(splits, cache.AssetSplit{Digest: idx.Digest, Start: idx.Start, End: idx.End})
	}

	return Package{Meta: meta, Layouts: layouts, Content: content, Splits: splits}, nil
}

// ReadIndex decodes a FileTypeRepository stone (one Meta payload per
// package, no Layout/Content) into its list of package metadata.
func ReadIndex(r io.Reader) ([]types.Meta, error) {
	rd, err := stone.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("ingest: read header: %w", err)
	}
	if rd.Header.FileType != stone.FileTypeRepository {
		return nil, fmt.Errorf("ingest: expected a repository index stone, got file type %d", rd.Header.FileType)
	}

	metas := make([]types.Meta, 0, rd.Header.NumPayloads)
	for i := uint16(0); i < rd.Header.NumPayloads; i++ {
		p, err := rd.Next()
		if err != nil {
			return nil, fmt.Errorf("ingest: read payload %d: %w", i, err)
		}
		if p.Header.Kind != stone.PayloadMeta {
			return nil, fmt.Errorf("ingest: repository index payload %d is not a meta payload (kind=%s)", i, p.Header.Kind)
		}
		recs, err := stone.DecodeMetaPayload(p)
		if err != nil {
			return nil, err
		}
		m, err := MetaFromRecords(recs)
		if err != nil {
			return nil, err
		}
		metas = append(metas, m)
	}
	return metas, nil
}
