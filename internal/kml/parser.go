// Package kml turns uploaded KML, KMZ, and zipped-shapefile coverage maps
// into raw GeoJSON feature collections ready for geometry normalization.
package kml

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/rotisserie/eris"

	"github.com/melhorpreco/coverage-api/internal/geometry"
)

// Parse failure modes. Callers match them with eris.Is.
var (
	// ErrEmptyInput marks zero-length or whitespace-only input.
	ErrEmptyInput = eris.New("kml: empty input")
	// ErrMalformedArchive marks a zip archive with no usable KML or shapefile entry.
	ErrMalformedArchive = eris.New("kml: archive contains no kml or shapefile entry")
	// ErrMalformedXML marks input that does not parse as XML or whose root
	// element is not <kml>.
	ErrMalformedXML = eris.New("kml: malformed xml")
	// ErrNoValidRegions marks a document with no polygon-eligible feature.
	ErrNoValidRegions = eris.New("kml: no polygon-eligible features")
)

// Tally counts geometry types seen in a parsed document. It is surfaced in
// ingest responses so admins can see what a rejected file contained.
type Tally struct {
	Polygons          int `json:"polygons"`
	MultiPolygons     int `json:"multi_polygons"`
	LineStrings       int `json:"line_strings"`
	ClosedLineStrings int `json:"closed_line_strings"`
	Points            int `json:"points"`
	Other             int `json:"other"`
}

// PolygonEligible reports whether at least one feature can become a coverage
// polygon: a Polygon, a MultiPolygon, or a closed line.
func (t Tally) PolygonEligible() bool {
	return t.Polygons > 0 || t.MultiPolygons > 0 || t.ClosedLineStrings > 0
}

func (t Tally) String() string {
	return fmt.Sprintf("%d polygon(s), %d multipolygon(s), %d linestring(s) (%d closed), %d point(s), %d other",
		t.Polygons, t.MultiPolygons, t.LineStrings, t.ClosedLineStrings, t.Points, t.Other)
}

// ParseResult is the raw outcome of parsing an upload, before geometry
// normalization.
type ParseResult struct {
	// Collection holds one feature per source geometry with a "name"
	// property carrying the placemark label. Coordinates are exactly as
	// authored; order correction happens in the normalizer.
	Collection *geojson.FeatureCollection
	Tally      Tally
	// Errors lists every per-feature problem found, so an admin can fix a
	// file in one pass.
	Errors []string
	// SourceKML is the extracted KML text, retained on the stored area for
	// re-processing. Empty for shapefile uploads.
	SourceKML string
}

// Parse converts raw upload bytes into a ParseResult. KMZ archives are
// unpacked in memory (doc.kml first, then the first *.kml entry); archives
// carrying a .shp entry take the shapefile path instead.
func Parse(filename string, data []byte) (*ParseResult, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, eris.Wrap(ErrEmptyInput, "kml: parse")
	}

	if isZip(data) {
		return parseArchive(filename, data)
	}

	return parseKML(data)
}

// isZip reports whether data starts with the zip local-file-header magic.
func isZip(data []byte) bool {
	return len(data) >= 4 && bytes.HasPrefix(data, []byte("PK\x03\x04"))
}

func parseArchive(filename string, data []byte) (*ParseResult, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, eris.Wrapf(ErrMalformedArchive, "kml: open archive %s: %v", filename, err)
	}

	var firstKML *zip.File
	hasShapefile := false
	for _, f := range zr.File {
		name := strings.ToLower(f.Name)
		switch {
		case name == "doc.kml":
			return parseKMLEntry(f)
		case strings.HasSuffix(name, ".kml") && firstKML == nil:
			firstKML = f
		case strings.HasSuffix(name, ".shp"):
			hasShapefile = true
		}
	}

	if firstKML != nil {
		return parseKMLEntry(firstKML)
	}
	if hasShapefile {
		return parseShapefileArchive(zr)
	}

	return nil, eris.Wrapf(ErrMalformedArchive, "kml: %s has %d entries, none of them .kml or .shp", filename, len(zr.File))
}

func parseKMLEntry(f *zip.File) (*ParseResult, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, eris.Wrapf(ErrMalformedArchive, "kml: open archive entry %s: %v", f.Name, err)
	}
	defer rc.Close() //nolint:errcheck

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, eris.Wrapf(ErrMalformedArchive, "kml: read archive entry %s: %v", f.Name, err)
	}

	return parseKML(data)
}

// kmlRoot mirrors the top-level KML container. Per the KML schema a <kml>
// element carries exactly one Document, Folder, or Placemark.
type kmlRoot struct {
	XMLName   xml.Name
	Document  *kmlFolder    `xml:"Document"`
	Folder    *kmlFolder    `xml:"Folder"`
	Placemark *kmlPlacemark `xml:"Placemark"`
}

type kmlFolder struct {
	Name       string         `xml:"name"`
	Folders    []kmlFolder    `xml:"Folder"`
	Documents  []kmlFolder    `xml:"Document"`
	Placemarks []kmlPlacemark `xml:"Placemark"`
}

type kmlPlacemark struct {
	Name          string            `xml:"name"`
	Polygon       *kmlPolygon       `xml:"Polygon"`
	LineString    *kmlLineString    `xml:"LineString"`
	Point         *kmlPoint         `xml:"Point"`
	MultiGeometry *kmlMultiGeometry `xml:"MultiGeometry"`
}

type kmlMultiGeometry struct {
	Polygons    []kmlPolygon    `xml:"Polygon"`
	LineStrings []kmlLineString `xml:"LineString"`
	Points      []kmlPoint      `xml:"Point"`
}

type kmlPolygon struct {
	Outer kmlBoundary   `xml:"outerBoundaryIs"`
	Inner []kmlBoundary `xml:"innerBoundaryIs"`
}

type kmlBoundary struct {
	Ring kmlLineString `xml:"LinearRing"`
}

type kmlLineString struct {
	Coordinates string `xml:"coordinates"`
}

type kmlPoint struct {
	Coordinates string `xml:"coordinates"`
}

func parseKML(data []byte) (*ParseResult, error) {
	var root kmlRoot
	if err := xml.Unmarshal(data, &root); err != nil {
		return nil, eris.Wrapf(ErrMalformedXML, "kml: parse xml: %v", err)
	}
	if !strings.EqualFold(root.XMLName.Local, "kml") {
		return nil, eris.Wrapf(ErrMalformedXML, "kml: root element is <%s>, expected <kml>", root.XMLName.Local)
	}

	res := &ParseResult{
		Collection: geojson.NewFeatureCollection(),
		SourceKML:  string(data),
	}

	switch {
	case root.Document != nil:
		collectFolder(root.Document, res)
	case root.Folder != nil:
		collectFolder(root.Folder, res)
	case root.Placemark != nil:
		collectPlacemark(root.Placemark, res)
	}

	if !res.Tally.PolygonEligible() {
		res.Errors = append(res.Errors,
			fmt.Sprintf("no polygons or closed lines found: %s", res.Tally))
		return res, eris.Wrapf(ErrNoValidRegions, "kml: %s", res.Tally)
	}

	return res, nil
}

func collectFolder(folder *kmlFolder, res *ParseResult) {
	for i := range folder.Placemarks {
		collectPlacemark(&folder.Placemarks[i], res)
	}
	for i := range folder.Folders {
		collectFolder(&folder.Folders[i], res)
	}
	for i := range folder.Documents {
		collectFolder(&folder.Documents[i], res)
	}
}

func collectPlacemark(pm *kmlPlacemark, res *ParseResult) {
	label := strings.TrimSpace(pm.Name)
	emitted := false

	if pm.Polygon != nil {
		emitted = res.appendPolygon(label, pm.Polygon) || emitted
	}
	if pm.LineString != nil {
		emitted = res.appendLineString(label, pm.LineString) || emitted
	}
	if pm.Point != nil {
		emitted = res.appendPoint(label, pm.Point) || emitted
	}
	if mg := pm.MultiGeometry; mg != nil {
		emitted = res.appendMultiGeometry(label, mg) || emitted
	}

	if !emitted {
		res.Errors = append(res.Errors,
			fmt.Sprintf("placemark %q has no usable geometry", labelOrPlaceholder(label)))
	}
}

func labelOrPlaceholder(label string) string {
	if label == "" {
		return "(unnamed)"
	}
	return label
}

func (r *ParseResult) appendFeature(label string, g orb.Geometry) {
	f := geojson.NewFeature(g)
	if label != "" {
		f.Properties["name"] = label
	}
	r.Collection.Append(f)
}

func (r *ParseResult) appendPolygon(label string, kp *kmlPolygon) bool {
	poly, err := polygonFromKML(kp)
	if err != nil {
		r.Errors = append(r.Errors,
			fmt.Sprintf("placemark %q: %v", labelOrPlaceholder(label), err))
		return false
	}
	r.Tally.Polygons++
	r.appendFeature(label, poly)
	return true
}

func (r *ParseResult) appendLineString(label string, kl *kmlLineString) bool {
	pts, err := parseCoordinates(kl.Coordinates)
	if err != nil {
		r.Errors = append(r.Errors,
			fmt.Sprintf("placemark %q: %v", labelOrPlaceholder(label), err))
		return false
	}
	ls := orb.LineString(pts)
	r.Tally.LineStrings++
	if geometry.IsClosedLine(ls) {
		r.Tally.ClosedLineStrings++
	}
	r.appendFeature(label, ls)
	return true
}

func (r *ParseResult) appendPoint(label string, kp *kmlPoint) bool {
	pts, err := parseCoordinates(kp.Coordinates)
	if err != nil || len(pts) == 0 {
		r.Errors = append(r.Errors,
			fmt.Sprintf("placemark %q: invalid point coordinates", labelOrPlaceholder(label)))
		return false
	}
	r.Tally.Points++
	r.appendFeature(label, pts[0])
	return true
}

func (r *ParseResult) appendMultiGeometry(label string, mg *kmlMultiGeometry) bool {
	emitted := false

	// Multiple polygons in one placemark model a multi-part coverage zone.
	var polys orb.MultiPolygon
	for i := range mg.Polygons {
		poly, err := polygonFromKML(&mg.Polygons[i])
		if err != nil {
			r.Errors = append(r.Errors,
				fmt.Sprintf("placemark %q: %v", labelOrPlaceholder(label), err))
			continue
		}
		polys = append(polys, poly)
	}
	switch len(polys) {
	case 0:
	case 1:
		r.Tally.Polygons++
		r.appendFeature(label, polys[0])
		emitted = true
	default:
		r.Tally.MultiPolygons++
		r.appendFeature(label, polys)
		emitted = true
	}

	for i := range mg.LineStrings {
		emitted = r.appendLineString(label, &mg.LineStrings[i]) || emitted
	}
	for i := range mg.Points {
		emitted = r.appendPoint(label, &mg.Points[i]) || emitted
	}

	return emitted
}

func polygonFromKML(kp *kmlPolygon) (orb.Polygon, error) {
	outer, err := parseCoordinates(kp.Outer.Ring.Coordinates)
	if err != nil {
		return nil, eris.Wrap(err, "outer ring")
	}
	if len(outer) < 3 {
		return nil, eris.Errorf("outer ring has %d coordinate(s), need at least 3", len(outer))
	}

	poly := orb.Polygon{orb.Ring(outer)}
	for i := range kp.Inner {
		inner, err := parseCoordinates(kp.Inner[i].Ring.Coordinates)
		if err != nil {
			return nil, eris.Wrapf(err, "inner ring %d", i+1)
		}
		if len(inner) >= 3 {
			poly = append(poly, orb.Ring(inner))
		}
	}
	return poly, nil
}

// parseCoordinates parses a KML coordinate block: whitespace-separated
// tuples of comma-separated lon,lat[,alt] values. Altitude is dropped.
func parseCoordinates(s string) ([]orb.Point, error) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return nil, eris.New("empty coordinates")
	}

	pts := make([]orb.Point, 0, len(fields))
	for _, field := range fields {
		comps := strings.Split(field, ",")
		if len(comps) < 2 {
			return nil, eris.Errorf("coordinate tuple %q has %d component(s), need at least 2", field, len(comps))
		}
		x, err := strconv.ParseFloat(comps[0], 64)
		if err != nil {
			return nil, eris.Errorf("coordinate tuple %q: bad number %q", field, comps[0])
		}
		y, err := strconv.ParseFloat(comps[1], 64)
		if err != nil {
			return nil, eris.Errorf("coordinate tuple %q: bad number %q", field, comps[1])
		}
		pts = append(pts, orb.Point{x, y})
	}
	return pts, nil
}

