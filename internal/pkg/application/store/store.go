package store

import (
	"context"
	"encoding/json"
	goerrors "errors"
	"fmt"
	"time"

	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/tracing"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/geonet-mrn/cassiopeia-ngsi-ld-broker/internal/pkg/application/query"
	"github.com/geonet-mrn/cassiopeia-ngsi-ld-broker/internal/pkg/application/validation"
	"github.com/geonet-mrn/cassiopeia-ngsi-ld-broker/internal/pkg/infrastructure/database"
	"github.com/geonet-mrn/cassiopeia-ngsi-ld-broker/pkg/ngsild"
	"github.com/geonet-mrn/cassiopeia-ngsi-ld-broker/pkg/ngsild/errors"
	"github.com/geonet-mrn/cassiopeia-ngsi-ld-broker/pkg/ngsild/geojson"
	"github.com/geonet-mrn/cassiopeia-ngsi-ld-broker/pkg/ngsild/types"
)

var tracer trace.Tracer = otel.Tracer("cassiopeia/entity-store")

// dbConn is satisfied by both *pgxpool.Pool and pgx.Tx
type dbConn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// ContextStore owns entity and attribute persistence and composes the three
// condition builders into read queries.
type ContextStore struct {
	pool     *pgxpool.Pool
	schema   database.TableSchema
	compiler *query.Compiler
}

func New(pool *pgxpool.Pool, schema database.TableSchema) *ContextStore {
	return &ContextStore{
		pool:     pool,
		schema:   schema,
		compiler: query.NewCompiler(schema),
	}
}

// attributeRecord is the column-level form of one reified instance, ready
// for insertion or replacement.
type attributeRecord struct {
	name       string
	kind       string
	datasetID  *string
	document   string
	geometry   *string
	observedAt *time.Time
}

func newAttributeRecord(name string, instance types.Instance) (attributeRecord, error) {
	record := attributeRecord{
		name: name,
		kind: instance.Kind(),
	}

	if datasetID := instance.DatasetID(); datasetID != "" {
		record.datasetID = &datasetID
	}

	if observedAt := instance.ObservedAt(); observedAt != "" {
		instant, err := time.Parse(time.RFC3339, observedAt)
		if err != nil {
			return record, errors.NewBadRequestDataError(fmt.Sprintf("attribute %s has an invalid observedAt timestamp", name))
		}
		record.observedAt = &instant
	}

	if record.kind == types.GeoPropertyKind {
		geometry, err := geojson.FromGeoPropertyValue(instance.Value())
		if err != nil {
			return record, errors.NewBadRequestDataError(fmt.Sprintf("geoproperty %s: %s", name, err.Error()))
		}
		geoJSON := geometry.String()
		record.geometry = &geoJSON
	}

	document, err := json.Marshal(instance)
	if err != nil {
		return record, errors.NewBadRequestDataError(fmt.Sprintf("attribute %s could not be serialized", name))
	}
	record.document = string(document)

	return record, nil
}

type fragmentAttribute struct {
	name      string
	instances []types.Instance
}

func fragmentAttributes(fragment types.EntityDocument) []fragmentAttribute {
	attributes := []fragmentAttribute{}
	fragment.ForEachAttribute(func(name string, instances []types.Instance) {
		attributes = append(attributes, fragmentAttribute{name: name, instances: instances})
	})
	return attributes
}

func (cs *ContextStore) insertEntitySQL() string {
	return fmt.Sprintf(
		"INSERT INTO %s (entity_id, entity_type, temporal) VALUES ($1, $2, $3) RETURNING id",
		cs.schema.EntitiesTable,
	)
}

func (cs *ContextStore) insertAttributeSQL() string {
	return fmt.Sprintf(
		"INSERT INTO %s (eid, name, kind, dataset_id, json, geom, observed_at) VALUES ($1, $2, $3, $4, $5, ST_GeomFromGeoJSON($6), $7)",
		cs.schema.AttributesTable,
	)
}

func (cs *ContextStore) replaceAttributeSQL() string {
	return fmt.Sprintf(
		"UPDATE %s SET kind = $4, json = $5, geom = ST_GeomFromGeoJSON($6), observed_at = $7, modified_at = now() WHERE eid = $1 AND name = $2 AND dataset_id IS NOT DISTINCT FROM $3",
		cs.schema.AttributesTable,
	)
}

func (cs *ContextStore) insertAttribute(ctx context.Context, conn dbConn, eid int64, record attributeRecord) error {
	_, err := conn.Exec(ctx, cs.insertAttributeSQL(),
		eid, record.name, record.kind, record.datasetID, record.document, record.geometry, record.observedAt,
	)
	if err != nil {
		return errors.NewDatabaseError("insert attribute", err)
	}
	return nil
}

func (cs *ContextStore) replaceAttribute(ctx context.Context, conn dbConn, eid int64, record attributeRecord) (int64, error) {
	tag, err := conn.Exec(ctx, cs.replaceAttributeSQL(),
		eid, record.name, record.datasetID, record.kind, record.document, record.geometry, record.observedAt,
	)
	if err != nil {
		return 0, errors.NewDatabaseError("replace attribute", err)
	}
	return tag.RowsAffected(), nil
}

// resolveEntity maps an external entity id to its internal id.
func (cs *ContextStore) resolveEntity(ctx context.Context, externalID string, temporal bool) (int64, error) {
	var eid int64

	sql := fmt.Sprintf("SELECT id FROM %s WHERE entity_id = $1 AND temporal = $2", cs.schema.EntitiesTable)
	err := cs.pool.QueryRow(ctx, sql, externalID, temporal).Scan(&eid)

	if err == pgx.ErrNoRows {
		return 0, errors.NewNotFoundError(fmt.Sprintf("entity %s not found", externalID))
	}
	if err != nil {
		return 0, errors.NewDatabaseError("resolve entity", err)
	}

	return eid, nil
}

func (cs *ContextStore) countInstances(ctx context.Context, eid int64, name string, datasetID *string) (int64, error) {
	var count int64

	sql := fmt.Sprintf(
		"SELECT count(*) FROM %s WHERE eid = $1 AND name = $2 AND dataset_id IS NOT DISTINCT FROM $3",
		cs.schema.AttributesTable,
	)
	err := cs.pool.QueryRow(ctx, sql, eid, name, datasetID).Scan(&count)
	if err != nil {
		return 0, errors.NewDatabaseError("count attribute instances", err)
	}

	return count, nil
}

func (cs *ContextStore) countAttribute(ctx context.Context, eid int64, name string) (int64, error) {
	var count int64

	sql := fmt.Sprintf("SELECT count(*) FROM %s WHERE eid = $1 AND name = $2", cs.schema.AttributesTable)
	err := cs.pool.QueryRow(ctx, sql, eid, name).Scan(&count)
	if err != nil {
		return 0, errors.NewDatabaseError("count attribute", err)
	}

	return count, nil
}

// CreateEntity inserts one entity row and one attribute row per reified
// instance found at the entity's top level, in a single transaction.
func (cs *ContextStore) CreateEntity(ctx context.Context, entity types.EntityDocument, temporal bool) (*ngsild.CreateEntityResult, error) {
	var err error

	ctx, span := tracer.Start(ctx, "create-entity")
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	err = validation.ValidateEntity(entity, !temporal)
	if err != nil {
		return nil, err
	}

	records := []attributeRecord{}
	for _, attribute := range fragmentAttributes(entity) {
		for _, instance := range attribute.instances {
			var record attributeRecord
			record, err = newAttributeRecord(attribute.name, instance)
			if err != nil {
				return nil, err
			}
			records = append(records, record)
		}
	}

	tx, txErr := cs.pool.Begin(ctx)
	if txErr != nil {
		err = errors.NewDatabaseError("begin transaction", txErr)
		return nil, err
	}
	defer tx.Rollback(ctx)

	var eid int64
	err = tx.QueryRow(ctx, cs.insertEntitySQL(), entity.ID(), entity.Type(), temporal).Scan(&eid)
	if err != nil {
		err = errors.NewDatabaseError("create entity", err)
		return nil, err
	}

	for _, record := range records {
		err = cs.insertAttribute(ctx, tx, eid, record)
		if err != nil {
			return nil, err
		}
	}

	err = tx.Commit(ctx)
	if err != nil {
		err = errors.NewDatabaseError("commit", err)
		return nil, err
	}

	return ngsild.NewCreateEntityResult("/ngsi-ld/v1/entities/" + entity.ID()), nil
}

// AppendAttributes adds the fragment's instances to an existing entity.
// Each attribute's instance batch commits as its own transaction, so a
// failing attribute does not roll back an already committed one.
//
// The existence probe below runs against the pool before the write
// transaction starts. Two concurrent appends introducing the same new
// dataset id can both observe "absent" and both insert.
func (cs *ContextStore) AppendAttributes(ctx context.Context, entityID string, fragment types.EntityDocument, overwrite bool) (*ngsild.UpdateEntityAttributesResult, error) {
	var err error

	ctx, span := tracer.Start(ctx, "append-attributes")
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	err = validation.ValidateFragment(fragment, true)
	if err != nil {
		return nil, err
	}

	eid, err := cs.resolveEntity(ctx, entityID, false)
	if err != nil {
		return nil, err
	}

	result := ngsild.NewUpdateEntityAttributesResult()

	for _, attribute := range fragmentAttributes(fragment) {
		cs.appendSingleAttribute(ctx, eid, attribute, overwrite, result)
	}

	return result, nil
}

type appendAction struct {
	record  attributeRecord
	replace bool
}

func (cs *ContextStore) appendSingleAttribute(ctx context.Context, eid int64, attribute fragmentAttribute, overwrite bool, result *ngsild.UpdateEntityAttributesResult) {
	actions := []appendAction{}
	skipped := false

	for _, instance := range attribute.instances {
		record, err := newAttributeRecord(attribute.name, instance)
		if err != nil {
			result.MarkNotUpdated(attribute.name, err.Error())
			return
		}

		count, err := cs.countInstances(ctx, eid, attribute.name, record.datasetID)
		if err != nil {
			result.MarkNotUpdated(attribute.name, err.Error())
			return
		}

		if count == 0 {
			actions = append(actions, appendAction{record: record})
		} else if overwrite {
			actions = append(actions, appendAction{record: record, replace: true})
		} else {
			skipped = true
		}
	}

	if len(actions) > 0 {
		if err := cs.applyAppendActions(ctx, eid, actions); err != nil {
			result.MarkNotUpdated(attribute.name, err.Error())
			return
		}
	}

	if skipped {
		result.MarkNotUpdated(attribute.name, "attribute instance already exists")
		return
	}

	result.MarkUpdated(attribute.name)
}

func (cs *ContextStore) applyAppendActions(ctx context.Context, eid int64, actions []appendAction) error {
	tx, err := cs.pool.Begin(ctx)
	if err != nil {
		return errors.NewDatabaseError("begin transaction", err)
	}
	defer tx.Rollback(ctx)

	for _, action := range actions {
		if action.replace {
			if _, err := cs.replaceAttribute(ctx, tx, eid, action.record); err != nil {
				return err
			}
		} else {
			if err := cs.insertAttribute(ctx, tx, eid, action.record); err != nil {
				return err
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return errors.NewDatabaseError("commit", err)
	}

	return nil
}

// UpdateAttributes replaces stored instances of attributes that already
// exist on the entity. Mutation of a non-existent attribute is reported per
// attribute, not raised as an entity level failure.
func (cs *ContextStore) UpdateAttributes(ctx context.Context, entityID string, fragment types.EntityDocument) (*ngsild.UpdateEntityAttributesResult, error) {
	var err error

	ctx, span := tracer.Start(ctx, "update-attributes")
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	err = validation.ValidateFragment(fragment, true)
	if err != nil {
		return nil, err
	}

	eid, err := cs.resolveEntity(ctx, entityID, false)
	if err != nil {
		return nil, err
	}

	result := ngsild.NewUpdateEntityAttributesResult()

	for _, attribute := range fragmentAttributes(fragment) {
		cs.updateSingleAttribute(ctx, eid, attribute, result)
	}

	return result, nil
}

func (cs *ContextStore) updateSingleAttribute(ctx context.Context, eid int64, attribute fragmentAttribute, result *ngsild.UpdateEntityAttributesResult) {
	count, err := cs.countAttribute(ctx, eid, attribute.name)
	if err != nil {
		result.MarkNotUpdated(attribute.name, err.Error())
		return
	}

	if count == 0 {
		result.MarkNotUpdated(attribute.name, "no such attribute")
		return
	}

	records := make([]attributeRecord, 0, len(attribute.instances))
	for _, instance := range attribute.instances {
		record, err := newAttributeRecord(attribute.name, instance)
		if err != nil {
			result.MarkNotUpdated(attribute.name, err.Error())
			return
		}

		storedKind, err := cs.storedInstanceKind(ctx, eid, attribute.name, record.datasetID)
		if err != nil {
			result.MarkNotUpdated(attribute.name, err.Error())
			return
		}

		if storedKind != "" && storedKind != record.kind {
			result.MarkNotUpdated(attribute.name, "attribute kind must not change")
			return
		}

		records = append(records, record)
	}

	tx, err := cs.pool.Begin(ctx)
	if err != nil {
		result.MarkNotUpdated(attribute.name, err.Error())
		return
	}
	defer tx.Rollback(ctx)

	var replaced int64
	for _, record := range records {
		rows, err := cs.replaceAttribute(ctx, tx, eid, record)
		if err != nil {
			result.MarkNotUpdated(attribute.name, err.Error())
			return
		}
		replaced += rows
	}

	if err := tx.Commit(ctx); err != nil {
		result.MarkNotUpdated(attribute.name, err.Error())
		return
	}

	if replaced == 0 {
		result.MarkNotUpdated(attribute.name, "no instance matches the supplied datasetId")
		return
	}

	result.MarkUpdated(attribute.name)
}

func (cs *ContextStore) storedInstanceKind(ctx context.Context, eid int64, name string, datasetID *string) (string, error) {
	var kind string

	sql := fmt.Sprintf(
		"SELECT kind FROM %s WHERE eid = $1 AND name = $2 AND dataset_id IS NOT DISTINCT FROM $3 LIMIT 1",
		cs.schema.AttributesTable,
	)
	err := cs.pool.QueryRow(ctx, sql, eid, name, datasetID).Scan(&kind)

	if err == pgx.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", errors.NewDatabaseError("probe attribute kind", err)
	}

	return kind, nil
}

// PartialAttributeUpdate patches exactly one stored instance per supplied
// instance, addressed by (entity, attribute name, dataset identifier). More
// than one match signals corrupted storage.
func (cs *ContextStore) PartialAttributeUpdate(ctx context.Context, entityID, attributeName string, instances []types.Instance) error {
	var err error

	ctx, span := tracer.Start(ctx, "partial-attribute-update")
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	eid, err := cs.resolveEntity(ctx, entityID, false)
	if err != nil {
		return err
	}

	tx, txErr := cs.pool.Begin(ctx)
	if txErr != nil {
		err = errors.NewDatabaseError("begin transaction", txErr)
		return err
	}
	defer tx.Rollback(ctx)

	for _, instance := range instances {
		var datasetID *string
		if dataset := instance.DatasetID(); dataset != "" {
			datasetID = &dataset
		}

		count, countErr := cs.countInstances(ctx, eid, attributeName, datasetID)
		if countErr != nil {
			err = countErr
			return err
		}

		if count == 0 {
			err = errors.NewNotFoundError(fmt.Sprintf("attribute %s has no matching instance", attributeName))
			return err
		}

		if count > 1 {
			err = errors.NewInternalError(fmt.Sprintf("attribute %s has %d instances sharing a dataset id", attributeName, count))
			return err
		}

		stored, fetchErr := cs.fetchInstanceDocument(ctx, eid, attributeName, datasetID)
		if fetchErr != nil {
			err = fetchErr
			return err
		}

		for member, contents := range instance {
			stored[member] = contents
		}

		record, recErr := newAttributeRecord(attributeName, stored)
		if recErr != nil {
			err = recErr
			return err
		}

		if _, err = cs.replaceAttribute(ctx, tx, eid, record); err != nil {
			return err
		}
	}

	if err = tx.Commit(ctx); err != nil {
		err = errors.NewDatabaseError("commit", err)
		return err
	}

	return nil
}

func (cs *ContextStore) fetchInstanceDocument(ctx context.Context, eid int64, name string, datasetID *string) (types.Instance, error) {
	var document []byte

	sql := fmt.Sprintf(
		"SELECT json FROM %s WHERE eid = $1 AND name = $2 AND dataset_id IS NOT DISTINCT FROM $3",
		cs.schema.AttributesTable,
	)
	err := cs.pool.QueryRow(ctx, sql, eid, name, datasetID).Scan(&document)
	if err != nil {
		return nil, errors.NewDatabaseError("fetch attribute instance", err)
	}

	instance := types.Instance{}
	if err := json.Unmarshal(document, &instance); err != nil {
		return nil, errors.NewInternalError("stored attribute document is not valid JSON")
	}

	return instance, nil
}

// DeleteAttribute removes instance rows matching the supplied filters. The
// attribute name is always required; without a dataset id and with deleteAll
// unset, only the default instance is affected.
func (cs *ContextStore) DeleteAttribute(ctx context.Context, entityID, attributeName string, instanceID *int64, datasetID *string, deleteAll bool) error {
	var err error

	ctx, span := tracer.Start(ctx, "delete-attribute")
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	eid, err := cs.resolveEntity(ctx, entityID, false)
	if err != nil {
		return err
	}

	sql := fmt.Sprintf("DELETE FROM %s WHERE eid = $1 AND name = $2", cs.schema.AttributesTable)
	args := []any{eid, attributeName}

	if instanceID != nil {
		args = append(args, *instanceID)
		sql += fmt.Sprintf(" AND instance_id = $%d", len(args))
	}

	if datasetID != nil {
		args = append(args, *datasetID)
		sql += fmt.Sprintf(" AND dataset_id = $%d", len(args))
	} else if instanceID == nil && !deleteAll {
		sql += " AND dataset_id IS NULL"
	}

	tag, execErr := cs.pool.Exec(ctx, sql, args...)
	if execErr != nil {
		err = errors.NewDatabaseError("delete attribute", execErr)
		return err
	}

	if tag.RowsAffected() == 0 {
		err = errors.NewNotFoundError(fmt.Sprintf("no instance of attribute %s matched", attributeName))
		return err
	}

	return nil
}

// DeleteEntity removes the entity row and all of its attribute rows in the
// same transaction.
func (cs *ContextStore) DeleteEntity(ctx context.Context, entityID string, temporal bool) error {
	var err error

	ctx, span := tracer.Start(ctx, "delete-entity")
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	tx, txErr := cs.pool.Begin(ctx)
	if txErr != nil {
		err = errors.NewDatabaseError("begin transaction", txErr)
		return err
	}
	defer tx.Rollback(ctx)

	var eid int64
	deleteEntity := fmt.Sprintf("DELETE FROM %s WHERE entity_id = $1 AND temporal = $2 RETURNING id", cs.schema.EntitiesTable)
	err = tx.QueryRow(ctx, deleteEntity, entityID, temporal).Scan(&eid)

	if err == pgx.ErrNoRows {
		err = errors.NewNotFoundError(fmt.Sprintf("entity %s not found", entityID))
		return err
	}
	if err != nil {
		err = errors.NewDatabaseError("delete entity", err)
		return err
	}

	deleteAttributes := fmt.Sprintf("DELETE FROM %s WHERE eid = $1", cs.schema.AttributesTable)
	if _, execErr := tx.Exec(ctx, deleteAttributes, eid); execErr != nil {
		err = errors.NewDatabaseError("delete attributes", execErr)
		return err
	}

	if err = tx.Commit(ctx); err != nil {
		err = errors.NewDatabaseError("commit", err)
		return err
	}

	return nil
}

// CreateOrUpdateTemporalEntity creates the temporal entity if it is absent.
// If it exists, every instance in the payload is appended as a brand new
// historical row, with no existence check and no overwrite. Repeated
// identical submissions accumulate duplicate rows.
func (cs *ContextStore) CreateOrUpdateTemporalEntity(ctx context.Context, entity types.EntityDocument) (created bool, err error) {
	ctx, span := tracer.Start(ctx, "upsert-temporal-entity")
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	err = validation.ValidateEntity(entity, false)
	if err != nil {
		return false, err
	}

	eid, err := cs.resolveEntity(ctx, entity.ID(), true)
	if err != nil {
		if !goerrors.Is(err, errors.ErrNotFound) {
			return false, err
		}

		_, err = cs.CreateEntity(ctx, entity, true)
		return err == nil, err
	}

	tx, txErr := cs.pool.Begin(ctx)
	if txErr != nil {
		err = errors.NewDatabaseError("begin transaction", txErr)
		return false, err
	}
	defer tx.Rollback(ctx)

	for _, attribute := range fragmentAttributes(entity) {
		for _, instance := range attribute.instances {
			var record attributeRecord
			record, err = newAttributeRecord(attribute.name, instance)
			if err != nil {
				return false, err
			}

			if err = cs.insertAttribute(ctx, tx, eid, record); err != nil {
				return false, err
			}
		}
	}

	touch := fmt.Sprintf("UPDATE %s SET modified_at = now() WHERE id = $1", cs.schema.EntitiesTable)
	if _, execErr := tx.Exec(ctx, touch, eid); execErr != nil {
		err = errors.NewDatabaseError("touch entity", execErr)
		return false, err
	}

	if err = tx.Commit(ctx); err != nil {
		err = errors.NewDatabaseError("commit", err)
		return false, err
	}

	return false, nil
}

// UpdateTemporalAttributeInstance replaces exactly one historical row,
// addressed by its instance sequence number.
func (cs *ContextStore) UpdateTemporalAttributeInstance(ctx context.Context, entityID, attributeName string, instanceID int64, instance types.Instance) error {
	var err error

	ctx, span := tracer.Start(ctx, "update-temporal-instance")
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	eid, err := cs.resolveEntity(ctx, entityID, true)
	if err != nil {
		return err
	}

	record, err := newAttributeRecord(attributeName, instance)
	if err != nil {
		return err
	}

	sql := fmt.Sprintf(
		"UPDATE %s SET kind = $4, dataset_id = $5, json = $6, geom = ST_GeomFromGeoJSON($7), observed_at = $8, modified_at = now() WHERE eid = $1 AND name = $2 AND instance_id = $3",
		cs.schema.AttributesTable,
	)

	tag, execErr := cs.pool.Exec(ctx, sql,
		eid, attributeName, instanceID,
		record.kind, record.datasetID, record.document, record.geometry, record.observedAt,
	)
	if execErr != nil {
		err = errors.NewDatabaseError("update temporal instance", execErr)
		return err
	}

	if tag.RowsAffected() == 0 {
		err = errors.NewNotFoundError(fmt.Sprintf("attribute %s has no instance %d", attributeName, instanceID))
		return err
	}

	return nil
}
