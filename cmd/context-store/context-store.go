package main

import (
	"context"
	"os"

	"github.com/diwise/service-chassis/pkg/infrastructure/buildinfo"
	"github.com/diwise/service-chassis/pkg/infrastructure/env"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y"

	"github.com/geonet-mrn/cassiopeia-ngsi-ld-broker/internal/pkg/infrastructure/database"
)

const (
	appName string = "context-store"
)

func main() {
	appVersion := buildinfo.SourceVersion()

	ctx, log, cleanup := o11y.Init(context.Background(), appName, appVersion, "json")
	defer cleanup()

	pool, err := database.Connect(ctx, database.LoadConfiguration(ctx))
	if err != nil {
		log.Error("failed to connect to database", "err", err.Error())
		os.Exit(1)
	}
	defer pool.Close()

	schema, err := loadSchema(ctx)
	if err != nil {
		log.Error("failed to load table schema", "err", err.Error())
		os.Exit(1)
	}

	err = database.Initialize(ctx, pool, schema)
	if err != nil {
		log.Error("failed to initialize database", "err", err.Error())
		os.Exit(1)
	}

	log.Info("entity store ready",
		"entities", schema.EntitiesTable,
		"attributes", schema.AttributesTable,
	)
}

func loadSchema(ctx context.Context) (database.TableSchema, error) {
	schemaPath := env.GetVariableOrDefault(ctx, "TABLE_SCHEMA_PATH", "")
	if schemaPath == "" {
		return database.DefaultSchema(), nil
	}

	f, err := os.Open(schemaPath)
	if err != nil {
		return database.DefaultSchema(), err
	}
	defer f.Close()

	return database.LoadSchema(f)
}
