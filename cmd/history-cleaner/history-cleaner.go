package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/diwise/service-chassis/pkg/infrastructure/buildinfo"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/geonet-mrn/cassiopeia-ngsi-ld-broker/internal/pkg/infrastructure/database"
)

const (
	appName string = "history-cleaner"
)

// Temporal upserts append every submitted instance as a new historical row,
// so repeated identical submissions accumulate duplicates. This tool keeps
// the newest row of every identical group and drops the rest.

func main() {
	appVersion := buildinfo.SourceVersion()

	ctx, log, cleanup := o11y.Init(context.Background(), appName, appVersion, "json")
	defer cleanup()

	log.Debug("begin cleaning attribute history")

	p, err := database.Connect(ctx, database.LoadConfiguration(ctx))
	if err != nil {
		log.Error("failed to connect to database", "err", err.Error())
		os.Exit(1)
	}
	defer p.Close()

	schema := database.DefaultSchema()

	entities, err := getTemporalEntities(ctx, p, schema)
	if err != nil {
		log.Error("failed to get entities", "err", err.Error())
		os.Exit(1)
	}

	log.Debug("number of temporal entities", "count", len(entities))

	var totalCount int64 = 0

	for _, eid := range entities {
		l := log.With(slog.Int64("eid", eid))

		l.Debug("find duplicates for entity", slog.Time("start_time", time.Now()))

		dups, err := findDuplicates(ctx, p, schema, eid)
		if err != nil {
			l.Error("failed to get duplicates", "err", err.Error())
			os.Exit(1)
		}

		if len(dups) == 0 {
			l.Debug("found no duplicates", slog.Time("end_time", time.Now()))
			continue
		}

		totalCount += int64(len(dups))

		err = deleteDuplicates(ctx, p, schema, dups)
		if err != nil {
			l.Error("failed to delete duplicates", "err", err.Error())
			os.Exit(1)
		}

		l.Debug("done cleaning duplicates", slog.Int("count", len(dups)), slog.Time("end_time", time.Now()))
	}

	log.Debug("vacuum")

	err = vacuum(ctx, p, schema)
	if err != nil {
		log.Error("failed to vacuum table", "err", err.Error())
		os.Exit(1)
	}

	log.Info("done cleaning", slog.Int64("total", totalCount))
}

func getTemporalEntities(ctx context.Context, p *pgxpool.Pool, schema database.TableSchema) ([]int64, error) {
	sql := fmt.Sprintf(`SELECT id FROM %s WHERE temporal ORDER BY id;`, schema.EntitiesTable)

	rows, err := p.Query(ctx, sql)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entities := make([]int64, 0)

	for rows.Next() {
		var eid int64
		err := rows.Scan(&eid)
		if err != nil {
			return nil, err
		}
		entities = append(entities, eid)
	}

	return entities, rows.Err()
}

func findDuplicates(ctx context.Context, p *pgxpool.Pool, schema database.TableSchema, eid int64) ([]int64, error) {
	sql := fmt.Sprintf(`
		select instance_id from (
			SELECT instance_id, ROW_NUMBER() OVER(PARTITION BY name, dataset_id, observed_at, json ORDER BY instance_id desc) AS Row
			FROM %s
			WHERE eid=$1
		) dups
		where dups.Row > 1;`, schema.AttributesTable)

	rows, err := p.Query(ctx, sql, eid)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	instances := make([]int64, 0)

	for rows.Next() {
		var i int64
		err := rows.Scan(&i)
		if err != nil {
			return nil, err
		}
		instances = append(instances, i)
	}

	return instances, rows.Err()
}

func deleteDuplicates(ctx context.Context, p *pgxpool.Pool, schema database.TableSchema, dups []int64) error {
	if len(dups) == 0 {
		return nil
	}

	tx, err := p.Begin(ctx)
	if err != nil {
		return err
	}

	sql := fmt.Sprintf(`DELETE FROM %s WHERE instance_id=$1;`, schema.AttributesTable)

	for _, d := range dups {
		_, err := tx.Exec(ctx, sql, d)
		if err != nil {
			tx.Rollback(ctx)
			return err
		}
	}

	return tx.Commit(ctx)
}

func vacuum(ctx context.Context, p *pgxpool.Pool, schema database.TableSchema) error {
	_, err := p.Exec(ctx, fmt.Sprintf("VACUUM ANALYZE %s;", schema.AttributesTable))
	if err != nil {
		return err
	}

	return nil
}
