package store

import (
	"context"
	goerrors "errors"

	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/tracing"

	"github.com/geonet-mrn/cassiopeia-ngsi-ld-broker/pkg/ngsild"
	"github.com/geonet-mrn/cassiopeia-ngsi-ld-broker/pkg/ngsild/errors"
	"github.com/geonet-mrn/cassiopeia-ngsi-ld-broker/pkg/ngsild/types"
)

// Upsert modes. Replace deletes the existing entity and recreates it from
// the payload, update appends the payload's attributes with overwrite.
const (
	UpsertReplace string = "replace"
	UpsertUpdate  string = "update"
)

// Batch operations iterate their input sequentially and collect a mixed
// result. Each item's mutation commits independently; there is no
// cross-item transactionality.

func (cs *ContextStore) CreateMany(ctx context.Context, entities []types.EntityDocument) *ngsild.BatchOperationResult {
	ctx, span := tracer.Start(ctx, "create-many")
	defer func() { tracing.RecordAnyErrorAndEndSpan(nil, span) }()

	result := ngsild.NewBatchOperationResult()

	for _, entity := range entities {
		if _, err := cs.CreateEntity(ctx, entity, false); err != nil {
			result.AddFailure(entity.ID(), err)
			continue
		}
		result.AddSuccess(entity.ID())
	}

	return result
}

func (cs *ContextStore) UpsertMany(ctx context.Context, entities []types.EntityDocument, mode string) *ngsild.BatchOperationResult {
	ctx, span := tracer.Start(ctx, "upsert-many")
	defer func() { tracing.RecordAnyErrorAndEndSpan(nil, span) }()

	result := ngsild.NewBatchOperationResult()

	for _, entity := range entities {
		if err := cs.upsertEntity(ctx, entity, mode); err != nil {
			result.AddFailure(entity.ID(), err)
			continue
		}
		result.AddSuccess(entity.ID())
	}

	return result
}

func (cs *ContextStore) upsertEntity(ctx context.Context, entity types.EntityDocument, mode string) error {
	_, err := cs.resolveEntity(ctx, entity.ID(), false)

	if err != nil {
		if !goerrors.Is(err, errors.ErrNotFound) {
			return err
		}

		_, err = cs.CreateEntity(ctx, entity, false)
		return err
	}

	if mode == UpsertReplace {
		// a concurrent delete between probe and delete is tolerated
		err = cs.DeleteEntity(ctx, entity.ID(), false)
		if err != nil && !goerrors.Is(err, errors.ErrNotFound) {
			return err
		}

		_, err = cs.CreateEntity(ctx, entity, false)
		return err
	}

	_, err = cs.AppendAttributes(ctx, entity.ID(), entity, true)
	return err
}

func (cs *ContextStore) UpdateMany(ctx context.Context, entities []types.EntityDocument, overwrite bool) *ngsild.BatchOperationResult {
	ctx, span := tracer.Start(ctx, "update-many")
	defer func() { tracing.RecordAnyErrorAndEndSpan(nil, span) }()

	result := ngsild.NewBatchOperationResult()

	for _, entity := range entities {
		if _, err := cs.AppendAttributes(ctx, entity.ID(), entity, overwrite); err != nil {
			result.AddFailure(entity.ID(), err)
			continue
		}
		result.AddSuccess(entity.ID())
	}

	return result
}

func (cs *ContextStore) DeleteMany(ctx context.Context, entityIDs []string) *ngsild.BatchOperationResult {
	ctx, span := tracer.Start(ctx, "delete-many")
	defer func() { tracing.RecordAnyErrorAndEndSpan(nil, span) }()

	result := ngsild.NewBatchOperationResult()

	for _, entityID := range entityIDs {
		if err := cs.DeleteEntity(ctx, entityID, false); err != nil {
			result.AddFailure(entityID, err)
			continue
		}
		result.AddSuccess(entityID)
	}

	return result
}
