package geojson

import (
	"encoding/json"
	"fmt"
)

var validGeometryTypes = map[string]struct{}{
	"Point":           {},
	"MultiPoint":      {},
	"LineString":      {},
	"MultiLineString": {},
	"Polygon":         {},
	"MultiPolygon":    {},
}

func IsValidGeometryType(geometryType string) bool {
	_, ok := validGeometryTypes[geometryType]
	return ok
}

// Geometry holds a GeoJSON geometry of any of the six standard types.
type Geometry struct {
	GeometryType string `json:"type"`
	Coordinates  any    `json:"coordinates"`
}

// New validates the geometry type against the closed GeoJSON set and accepts
// coordinates either as a JSON string or as an already parsed array.
func New(geometryType string, coordinates any) (*Geometry, error) {
	if !IsValidGeometryType(geometryType) {
		return nil, fmt.Errorf("unsupported geometry type %s", geometryType)
	}

	if coordString, ok := coordinates.(string); ok {
		var parsed any
		if err := json.Unmarshal([]byte(coordString), &parsed); err != nil {
			return nil, fmt.Errorf("failed to parse coordinates: %w", err)
		}
		coordinates = parsed
	}

	if _, ok := coordinates.([]any); !ok {
		return nil, fmt.Errorf("geometry coordinates must be array shaped")
	}

	return &Geometry{GeometryType: geometryType, Coordinates: coordinates}, nil
}

// FromGeoPropertyValue builds a Geometry from the value member of a
// GeoProperty instance.
func FromGeoPropertyValue(value any) (*Geometry, error) {
	obj, ok := value.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("geoproperty value must be an object")
	}

	geometryType, ok := obj["type"].(string)
	if !ok {
		return nil, fmt.Errorf("geoproperty value has no geometry type")
	}

	coordinates, ok := obj["coordinates"]
	if !ok {
		return nil, fmt.Errorf("geoproperty value has no coordinates")
	}

	return New(geometryType, coordinates)
}

// String renders the geometry as GeoJSON text, suitable for
// ST_GeomFromGeoJSON.
func (g Geometry) String() string {
	b, _ := json.Marshal(g)
	return string(b)
}
