package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/tracing"

	"github.com/geonet-mrn/cassiopeia-ngsi-ld-broker/internal/pkg/application/cim"
	"github.com/geonet-mrn/cassiopeia-ngsi-ld-broker/internal/pkg/application/query"
	"github.com/geonet-mrn/cassiopeia-ngsi-ld-broker/pkg/ngsild/errors"
	"github.com/geonet-mrn/cassiopeia-ngsi-ld-broker/pkg/ngsild/types"
)

type entityRow struct {
	eid        int64
	entityID   string
	entityType string
	createdAt  time.Time
	modifiedAt time.Time
}

type attributeRow struct {
	instanceID int64
	eid        int64
	name       string
	document   []byte
	observedAt *time.Time
	createdAt  time.Time
	modifiedAt time.Time
}

// QueryEntities compiles the query's filters into matching-identifier
// subqueries, ANDs them together and assembles the matching rows back into
// expanded entity documents.
func (cs *ContextStore) QueryEntities(ctx context.Context, entityQuery cim.EntityQuery, temporal, includeSysAttrs bool) ([]types.EntityDocument, error) {
	var err error

	ctx, span := tracer.Start(ctx, "query-entities")
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	conditions := "temporal = $1"
	args := []any{temporal}

	if len(entityQuery.Types) > 0 {
		args = append(args, entityQuery.Types)
		conditions += fmt.Sprintf(" AND entity_type = ANY($%d)", len(args))
	}

	if len(entityQuery.IDs) > 0 {
		args = append(args, entityQuery.IDs)
		conditions += fmt.Sprintf(" AND entity_id = ANY($%d)", len(args))
	}

	if len(entityQuery.Attributes) > 0 {
		args = append(args, entityQuery.Attributes)
		conditions += fmt.Sprintf(" AND id IN (SELECT DISTINCT eid FROM %s WHERE name = ANY($%d))",
			cs.schema.AttributesTable, len(args))
	}

	// grammar errors surface here, before any database access
	if entityQuery.Filter != "" {
		var filterSubquery string
		filterSubquery, err = cs.compiler.CompileFilter(entityQuery.Filter)
		if err != nil {
			return nil, err
		}
		conditions += fmt.Sprintf(" AND id IN (%s)", filterSubquery)
	}

	if entityQuery.Geo != nil {
		var geoSubquery string
		geoSubquery, err = cs.compiler.CompileGeoQuery(*entityQuery.Geo)
		if err != nil {
			return nil, err
		}
		conditions += fmt.Sprintf(" AND id IN (%s)", geoSubquery)
	}

	var temporalCondition *query.TemporalCondition
	if entityQuery.Temporal != nil {
		temporalCondition, err = cs.compiler.CompileTemporalQuery(*entityQuery.Temporal)
		if err != nil {
			return nil, err
		}
	}

	entityRows, err := cs.fetchEntities(ctx, conditions, args)
	if err != nil {
		return nil, err
	}

	if len(entityRows) == 0 {
		return []types.EntityDocument{}, nil
	}

	eids := make([]int64, 0, len(entityRows))
	for _, row := range entityRows {
		eids = append(eids, row.eid)
	}

	attributeRows, err := cs.fetchAttributes(ctx, eids, entityQuery.Attributes, temporalCondition)
	if err != nil {
		return nil, err
	}

	return assembleDocuments(entityRows, attributeRows, temporal, includeSysAttrs), nil
}

// RetrieveEntity returns one assembled entity document by external id.
func (cs *ContextStore) RetrieveEntity(ctx context.Context, entityID string, temporal, includeSysAttrs bool) (types.EntityDocument, error) {
	documents, err := cs.QueryEntities(ctx, cim.EntityQuery{IDs: []string{entityID}}, temporal, includeSysAttrs)
	if err != nil {
		return nil, err
	}

	if len(documents) == 0 {
		return nil, errors.NewNotFoundError(fmt.Sprintf("entity %s not found", entityID))
	}

	return documents[0], nil
}

func (cs *ContextStore) fetchEntities(ctx context.Context, conditions string, args []any) ([]entityRow, error) {
	sql := fmt.Sprintf(
		"SELECT id, entity_id, entity_type, created_at, modified_at FROM %s WHERE %s ORDER BY id",
		cs.schema.EntitiesTable, conditions,
	)

	rows, err := cs.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, errors.NewDatabaseError("query entities", err)
	}
	defer rows.Close()

	entityRows := []entityRow{}

	for rows.Next() {
		row := entityRow{}
		err := rows.Scan(&row.eid, &row.entityID, &row.entityType, &row.createdAt, &row.modifiedAt)
		if err != nil {
			return nil, errors.NewDatabaseError("scan entity", err)
		}
		entityRows = append(entityRows, row)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.NewDatabaseError("query entities", err)
	}

	return entityRows, nil
}

func (cs *ContextStore) fetchAttributes(ctx context.Context, eids []int64, names []string, temporalCondition *query.TemporalCondition) ([]attributeRow, error) {
	args := []any{eids}
	conditions := "eid = ANY($1)"

	if len(names) > 0 {
		args = append(args, names)
		conditions += fmt.Sprintf(" AND name = ANY($%d)", len(args))
	}

	if temporalCondition != nil {
		conditions += " AND " + temporalCondition.Where
	}

	columns := "instance_id, eid, name, json, observed_at, created_at, modified_at"
	var sql string

	if temporalCondition != nil && temporalCondition.LastN > 0 {
		// lastN truncates each attribute's own history independently
		sql = fmt.Sprintf(
			`SELECT %s FROM (
				SELECT *, ROW_NUMBER() OVER (PARTITION BY eid, name ORDER BY %s DESC) AS row
				FROM %s WHERE %s
			) windowed WHERE windowed.row <= %d ORDER BY eid, name, %s DESC`,
			columns, temporalCondition.Column, cs.schema.AttributesTable, conditions,
			temporalCondition.LastN, temporalCondition.Column,
		)
	} else {
		sql = fmt.Sprintf(
			"SELECT %s FROM %s WHERE %s ORDER BY eid, name, instance_id",
			columns, cs.schema.AttributesTable, conditions,
		)
	}

	rows, err := cs.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, errors.NewDatabaseError("query attributes", err)
	}
	defer rows.Close()

	attributeRows := []attributeRow{}

	for rows.Next() {
		row := attributeRow{}
		err := rows.Scan(&row.instanceID, &row.eid, &row.name, &row.document, &row.observedAt, &row.createdAt, &row.modifiedAt)
		if err != nil {
			return nil, errors.NewDatabaseError("scan attribute", err)
		}
		attributeRows = append(attributeRows, row)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.NewDatabaseError("query attributes", err)
	}

	return attributeRows, nil
}

func assembleDocuments(entityRows []entityRow, attributeRows []attributeRow, temporal, includeSysAttrs bool) []types.EntityDocument {
	instancesPerEntity := map[int64]map[string][]any{}
	attributeOrder := map[int64][]string{}

	for _, row := range attributeRows {
		instance := map[string]any{}
		if err := json.Unmarshal(row.document, &instance); err != nil {
			continue
		}

		if temporal {
			instance["instanceId"] = fmt.Sprintf("urn:ngsi-ld:InstanceId:%d", row.instanceID)
		}

		if includeSysAttrs {
			instance[types.KeyCreatedAt] = row.createdAt.UTC().Format(time.RFC3339)
			instance[types.KeyModifiedAt] = row.modifiedAt.UTC().Format(time.RFC3339)
		}

		byName, ok := instancesPerEntity[row.eid]
		if !ok {
			byName = map[string][]any{}
			instancesPerEntity[row.eid] = byName
		}

		if _, seen := byName[row.name]; !seen {
			attributeOrder[row.eid] = append(attributeOrder[row.eid], row.name)
		}

		byName[row.name] = append(byName[row.name], instance)
	}

	documents := make([]types.EntityDocument, 0, len(entityRows))

	for _, row := range entityRows {
		document := types.EntityDocument{
			types.KeyID:   row.entityID,
			types.KeyType: row.entityType,
		}

		if includeSysAttrs {
			document[types.KeyCreatedAt] = row.createdAt.UTC().Format(time.RFC3339)
			document[types.KeyModifiedAt] = row.modifiedAt.UTC().Format(time.RFC3339)
		}

		for _, name := range attributeOrder[row.eid] {
			instances := instancesPerEntity[row.eid][name]
			if len(instances) == 1 && !temporal {
				document[name] = instances[0]
			} else {
				document[name] = instances
			}
		}

		documents = append(documents, document)
	}

	return documents
}
