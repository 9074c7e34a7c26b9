package database

import (
	"strings"
	"testing"

	"github.com/matryer/is"
)

func TestLoadSchemaOverridesTableNames(t *testing.T) {
	is := is.New(t)

	schema, err := LoadSchema(strings.NewReader("entitiesTable: broker_entities\nattributesTable: broker_attributes\n"))
	is.NoErr(err)

	is.Equal(schema.EntitiesTable, "broker_entities")
	is.Equal(schema.AttributesTable, "broker_attributes")
}

func TestLoadSchemaFallsBackToDefaults(t *testing.T) {
	is := is.New(t)

	schema, err := LoadSchema(strings.NewReader("entitiesTable: broker_entities\n"))
	is.NoErr(err)

	is.Equal(schema.EntitiesTable, "broker_entities")
	is.Equal(schema.AttributesTable, "attributes") // unset names keep their defaults
}

func TestLoadSchemaRejectsMalformedYAML(t *testing.T) {
	is := is.New(t)

	_, err := LoadSchema(strings.NewReader("entitiesTable: [broken"))
	is.True(err != nil)
}

func TestCreateTablesSQLUsesConfiguredNames(t *testing.T) {
	is := is.New(t)

	schema := TableSchema{EntitiesTable: "e", AttributesTable: "a"}
	ddl := strings.Join(schema.CreateTablesSQL(), "\n")

	is.True(strings.Contains(ddl, "CREATE TABLE IF NOT EXISTS e"))
	is.True(strings.Contains(ddl, "CREATE TABLE IF NOT EXISTS a"))
	is.True(strings.Contains(ddl, "REFERENCES e(id) ON DELETE CASCADE"))
}
