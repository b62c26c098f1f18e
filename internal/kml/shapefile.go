package kml

import (
	"archive/zip"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/melhorpreco/coverage-api/internal/geometry"
)

// nameFields are the dbf attribute names checked, in order, for a feature
// label on shapefile uploads.
var nameFields = []string{"name", "nome", "nm_area", "label"}

// parseShapefileArchive handles coverage maps exported as zipped ESRI
// shapefiles. The archive is unpacked to a temp dir because go-shp reads
// the .shp/.dbf pair from the filesystem.
func parseShapefileArchive(zr *zip.Reader) (*ParseResult, error) {
	tmpDir, err := os.MkdirTemp("", "coverage-shp-")
	if err != nil {
		return nil, eris.Wrap(err, "kml: create temp dir")
	}
	defer os.RemoveAll(tmpDir) //nolint:errcheck

	var shpPath string
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(f.Name))
		switch ext {
		case ".shp", ".dbf", ".shx", ".prj":
		default:
			continue
		}
		path, err := extractEntry(f, tmpDir)
		if err != nil {
			return nil, err
		}
		if ext == ".shp" && shpPath == "" {
			shpPath = path
		}
	}
	if shpPath == "" {
		return nil, eris.Wrap(ErrMalformedArchive, "kml: no .shp entry extracted")
	}

	return parseShapefile(shpPath)
}

// extractEntry writes a single archive entry under destDir, flattening the
// entry path and refusing names that would escape the directory.
func extractEntry(f *zip.File, destDir string) (string, error) {
	destPath := filepath.Join(destDir, filepath.Base(f.Name))
	if !strings.HasPrefix(filepath.Clean(destPath), filepath.Clean(destDir)+string(os.PathSeparator)) {
		return "", eris.Errorf("kml: illegal archive path %q", f.Name)
	}

	rc, err := f.Open()
	if err != nil {
		return "", eris.Wrapf(err, "kml: open archive entry %s", f.Name)
	}
	defer rc.Close() //nolint:errcheck

	out, err := os.Create(destPath)
	if err != nil {
		return "", eris.Wrap(err, "kml: create temp file")
	}
	defer out.Close() //nolint:errcheck

	if _, err := io.Copy(out, rc); err != nil {
		return "", eris.Wrapf(err, "kml: extract %s", f.Name)
	}
	return destPath, nil
}

func parseShapefile(shpPath string) (*ParseResult, error) {
	reader, err := shp.Open(shpPath)
	if err != nil {
		return nil, eris.Wrapf(ErrMalformedArchive, "kml: open shapefile: %v", err)
	}
	defer func() { _ = reader.Close() }()

	// Locate a label attribute in the dbf schema.
	nameIdx := -1
	for i, f := range reader.Fields() {
		fieldName := strings.ToLower(strings.TrimRight(f.String(), "\x00"))
		for _, candidate := range nameFields {
			if fieldName == candidate {
				nameIdx = i
				break
			}
		}
		if nameIdx >= 0 {
			break
		}
	}

	res := &ParseResult{Collection: geojson.NewFeatureCollection()}

	for reader.Next() {
		_, shape := reader.Shape()

		var label string
		if nameIdx >= 0 {
			label = strings.TrimSpace(strings.TrimRight(reader.Attribute(nameIdx), "\x00"))
		}

		switch s := shape.(type) {
		case *shp.Polygon:
			appendShpPolygon(res, label, s)
		case *shp.PolyLine:
			appendShpPolyLine(res, label, s)
		case *shp.Point:
			res.Tally.Points++
			res.appendFeature(label, orb.Point{s.X, s.Y})
		default:
			res.Tally.Other++
			res.Errors = append(res.Errors,
				"unsupported shapefile record type for "+labelOrPlaceholder(label))
		}
	}

	if !res.Tally.PolygonEligible() {
		res.Errors = append(res.Errors,
			"shapefile contains no polygon records: "+res.Tally.String())
		return res, eris.Wrapf(ErrNoValidRegions, "kml: shapefile: %s", res.Tally)
	}

	zap.L().Debug("parsed shapefile upload",
		zap.Int("features", len(res.Collection.Features)),
		zap.String("tally", res.Tally.String()),
	)
	return res, nil
}

// appendShpPolygon folds a multi-part shapefile polygon into a Polygon or
// MultiPolygon feature. Each part becomes its own outer ring; hole-ring
// winding is ignored, which matches how the mapping tools used by the
// provider teams export coverage.
func appendShpPolygon(res *ParseResult, label string, p *shp.Polygon) {
	parts := shpParts(p.NumParts, p.Parts, p.Points)
	var polys orb.MultiPolygon
	for _, ring := range parts {
		if len(ring) < 3 {
			continue
		}
		polys = append(polys, orb.Polygon{orb.Ring(ring)})
	}

	switch len(polys) {
	case 0:
		res.Errors = append(res.Errors,
			"degenerate polygon record for "+labelOrPlaceholder(label))
	case 1:
		res.Tally.Polygons++
		res.appendFeature(label, polys[0])
	default:
		res.Tally.MultiPolygons++
		res.appendFeature(label, polys)
	}
}

func appendShpPolyLine(res *ParseResult, label string, pl *shp.PolyLine) {
	for _, part := range shpParts(pl.NumParts, pl.Parts, pl.Points) {
		if len(part) < 2 {
			continue
		}
		ls := orb.LineString(part)
		res.Tally.LineStrings++
		if geometry.IsClosedLine(ls) {
			res.Tally.ClosedLineStrings++
		}
		res.appendFeature(label, ls)
	}
}

// shpParts splits a shapefile point array into its per-part point slices.
func shpParts(numParts int32, parts []int32, points []shp.Point) [][]orb.Point {
	if numParts == 0 || len(points) == 0 {
		return nil
	}

	out := make([][]orb.Point, 0, numParts)
	for i := int32(0); i < numParts; i++ {
		start := parts[i]
		end := int32(len(points))
		if i+1 < numParts {
			end = parts[i+1]
		}

		coords := make([]orb.Point, 0, end-start)
		for j := start; j < end; j++ {
			coords = append(coords, orb.Point{points[j].X, points[j].Y})
		}
		out = append(out, coords)
	}
	return out
}
