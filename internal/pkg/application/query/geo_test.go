package query

import (
	goerrors "errors"
	"testing"

	"github.com/matryer/is"

	ngsierrors "github.com/geonet-mrn/cassiopeia-ngsi-ld-broker/pkg/ngsild/errors"
)

func TestCompileGeoNearWithMaxDistance(t *testing.T) {
	is := is.New(t)

	sql, err := newTestCompiler().CompileGeoQuery(GeoQuery{
		Georel:       "near;maxDistance==1000",
		GeometryType: "Point",
		Coordinates:  "[8.5,49.5]",
		GeoProperty:  "location",
	})
	is.NoErr(err)

	is.Equal(sql, "SELECT DISTINCT eid FROM attributes WHERE name = 'location' AND ST_DWithin(geom::geography, ST_GeomFromGeoJSON('{\"type\":\"Point\",\"coordinates\":[8.5,49.5]}')::geography, 1000.000000)")
}

func TestCompileGeoNearWithMinDistanceNegates(t *testing.T) {
	is := is.New(t)

	sql, err := newTestCompiler().CompileGeoQuery(GeoQuery{
		Georel:       "near;minDistance==500",
		GeometryType: "Point",
		Coordinates:  "[8.5,49.5]",
		GeoProperty:  "location",
	})
	is.NoErr(err)

	is.Equal(sql, "SELECT DISTINCT eid FROM attributes WHERE name = 'location' AND NOT ST_DWithin(geom::geography, ST_GeomFromGeoJSON('{\"type\":\"Point\",\"coordinates\":[8.5,49.5]}')::geography, 500.000000)")
}

func TestCompileGeoWithin(t *testing.T) {
	is := is.New(t)

	sql, err := newTestCompiler().CompileGeoQuery(GeoQuery{
		Georel:       "within",
		GeometryType: "Polygon",
		Coordinates:  []any{[]any{[]any{0.0, 0.0}, []any{0.0, 1.0}, []any{1.0, 1.0}, []any{0.0, 0.0}}},
		GeoProperty:  "location",
	})
	is.NoErr(err)

	is.Equal(sql, "SELECT DISTINCT eid FROM attributes WHERE name = 'location' AND ST_Within(geom, ST_GeomFromGeoJSON('{\"type\":\"Polygon\",\"coordinates\":[[[0,0],[0,1],[1,1],[0,0]]]}'))")
}

func TestCompileGeoDefaultsToLocation(t *testing.T) {
	is := is.New(t)

	sql, err := newTestCompiler().CompileGeoQuery(GeoQuery{
		Georel:       "intersects",
		GeometryType: "Point",
		Coordinates:  "[1,2]",
	})
	is.NoErr(err)

	is.Equal(sql, "SELECT DISTINCT eid FROM attributes WHERE name = 'https://uri.etsi.org/ngsi-ld/location' AND ST_Intersects(geom, ST_GeomFromGeoJSON('{\"type\":\"Point\",\"coordinates\":[1,2]}'))")
}

func TestCompileGeoRejectsUnknownGeometryType(t *testing.T) {
	is := is.New(t)

	_, err := newTestCompiler().CompileGeoQuery(GeoQuery{
		Georel:       "within",
		GeometryType: "Circle",
		Coordinates:  "[1,2]",
	})
	is.True(goerrors.Is(err, ngsierrors.ErrInvalidRequest)) // Circle is not a GeoJSON geometry type
}

func TestCompileGeoRejectsUnknownRelation(t *testing.T) {
	is := is.New(t)

	_, err := newTestCompiler().CompileGeoQuery(GeoQuery{
		Georel:       "touches",
		GeometryType: "Point",
		Coordinates:  "[1,2]",
	})
	is.True(goerrors.Is(err, ngsierrors.ErrInvalidRequest))
}

func TestCompileGeoRejectsUnknownDistanceMode(t *testing.T) {
	is := is.New(t)

	_, err := newTestCompiler().CompileGeoQuery(GeoQuery{
		Georel:       "near;avgDistance==1000",
		GeometryType: "Point",
		Coordinates:  "[1,2]",
	})
	is.True(goerrors.Is(err, ngsierrors.ErrInvalidRequest))
}

func TestCompileGeoRejectsUnparsableDistance(t *testing.T) {
	is := is.New(t)

	_, err := newTestCompiler().CompileGeoQuery(GeoQuery{
		Georel:       "near;maxDistance==veryclose",
		GeometryType: "Point",
		Coordinates:  "[1,2]",
	})
	is.True(goerrors.Is(err, ngsierrors.ErrInvalidRequest))
}

func TestCompileGeoRejectsMalformedCoordinates(t *testing.T) {
	is := is.New(t)

	_, err := newTestCompiler().CompileGeoQuery(GeoQuery{
		Georel:       "within",
		GeometryType: "Point",
		Coordinates:  "not json",
	})
	is.True(goerrors.Is(err, ngsierrors.ErrInvalidRequest))
}
