package database

import (
	"fmt"
	"io"

	yaml "gopkg.in/yaml.v2"
)

// TableSchema is the logical table layout shared by the store and the query
// compilers. It is passed in explicitly at construction instead of being
// referenced as package level constants.
type TableSchema struct {
	EntitiesTable   string `yaml:"entitiesTable"`
	AttributesTable string `yaml:"attributesTable"`
}

func DefaultSchema() TableSchema {
	return TableSchema{
		EntitiesTable:   "entities",
		AttributesTable: "attributes",
	}
}

// LoadSchema reads a table layout from YAML, falling back to the default
// names for anything left unset.
func LoadSchema(data io.Reader) (TableSchema, error) {
	schema := DefaultSchema()

	buf, err := io.ReadAll(data)
	if err != nil {
		return schema, err
	}

	loaded := TableSchema{}
	err = yaml.Unmarshal(buf, &loaded)
	if err != nil {
		return schema, err
	}

	if loaded.EntitiesTable != "" {
		schema.EntitiesTable = loaded.EntitiesTable
	}
	if loaded.AttributesTable != "" {
		schema.AttributesTable = loaded.AttributesTable
	}

	return schema, nil
}

func (s TableSchema) CreateTablesSQL() []string {
	return []string{
		`CREATE EXTENSION IF NOT EXISTS postgis;`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id bigserial PRIMARY KEY,
			entity_id text NOT NULL,
			entity_type text NOT NULL,
			temporal boolean NOT NULL DEFAULT false,
			created_at timestamptz NOT NULL DEFAULT now(),
			modified_at timestamptz NOT NULL DEFAULT now(),
			UNIQUE (entity_id, temporal)
		);`, s.EntitiesTable),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			instance_id bigserial PRIMARY KEY,
			eid bigint NOT NULL REFERENCES %s(id) ON DELETE CASCADE,
			name text NOT NULL,
			kind text NOT NULL CHECK (kind IN ('Property', 'GeoProperty', 'Relationship')),
			dataset_id text,
			json jsonb NOT NULL,
			geom geometry,
			observed_at timestamptz,
			created_at timestamptz NOT NULL DEFAULT now(),
			modified_at timestamptz NOT NULL DEFAULT now()
		);`, s.AttributesTable, s.EntitiesTable),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_eid_idx ON %s (eid);`, s.AttributesTable, s.AttributesTable),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_name_idx ON %s (name);`, s.AttributesTable, s.AttributesTable),
	}
}
