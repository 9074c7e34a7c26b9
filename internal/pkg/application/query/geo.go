package query

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/geonet-mrn/cassiopeia-ngsi-ld-broker/pkg/ngsild/errors"
	"github.com/geonet-mrn/cassiopeia-ngsi-ld-broker/pkg/ngsild/geojson"
)

// DefaultGeoProperty is the attribute that geo filters target when none is
// named explicitly.
const DefaultGeoProperty string = "https://uri.etsi.org/ngsi-ld/location"

// GeoQuery is a named geospatial filter. Coordinates may arrive as a JSON
// string or as an already parsed array.
type GeoQuery struct {
	Georel       string
	GeometryType string
	Coordinates  any
	GeoProperty  string
}

var spatialPredicates = map[string]string{
	"within":     "ST_Within",
	"contains":   "ST_Contains",
	"intersects": "ST_Intersects",
	"equals":     "ST_Equals",
	"disjoint":   "ST_Disjoint",
	"overlaps":   "ST_Overlaps",
}

// CompileGeoQuery validates the filter and compiles it into a subquery
// returning the internal ids of all entities whose target attribute matches
// the spatial relation.
func (c *Compiler) CompileGeoQuery(geoQuery GeoQuery) (string, error) {
	attributeName := geoQuery.GeoProperty
	if attributeName == "" {
		attributeName = DefaultGeoProperty
	}

	geometry, err := geojson.New(geoQuery.GeometryType, geoQuery.Coordinates)
	if err != nil {
		return "", errors.NewInvalidRequestError(err.Error())
	}

	geometrySQL := fmt.Sprintf("ST_GeomFromGeoJSON('%s')", escapeLiteral(geometry.String()))

	relationParts := strings.Split(geoQuery.Georel, ";")
	relation := relationParts[0]

	if predicate, ok := spatialPredicates[relation]; ok {
		return c.subquery(attributeName, fmt.Sprintf("%s(geom, %s)", predicate, geometrySQL)), nil
	}

	if relation != "near" {
		return "", errors.NewInvalidRequestError(fmt.Sprintf("unknown geo relation %s", relation))
	}

	if len(relationParts) != 2 {
		return "", errors.NewInvalidRequestError("geo relation near requires a distance parameter")
	}

	distanceParts := strings.Split(relationParts[1], "==")
	if len(distanceParts) != 2 {
		return "", errors.NewInvalidRequestError(fmt.Sprintf("malformed distance parameter %s", relationParts[1]))
	}

	distance, err := strconv.ParseFloat(distanceParts[1], 64)
	if err != nil {
		return "", errors.NewInvalidRequestError(fmt.Sprintf("unparsable distance %s", distanceParts[1]))
	}

	withinDistance := fmt.Sprintf("ST_DWithin(geom::geography, %s::geography, %f)", geometrySQL, distance)

	switch distanceParts[0] {
	case "maxDistance":
		return c.subquery(attributeName, withinDistance), nil
	case "minDistance":
		return c.subquery(attributeName, "NOT "+withinDistance), nil
	default:
		return "", errors.NewInvalidRequestError(fmt.Sprintf("unknown distance mode %s", distanceParts[0]))
	}
}
