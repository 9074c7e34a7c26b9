package cim

import (
	"context"

	"github.com/geonet-mrn/cassiopeia-ngsi-ld-broker/internal/pkg/application/query"
	"github.com/geonet-mrn/cassiopeia-ngsi-ld-broker/pkg/ngsild"
	"github.com/geonet-mrn/cassiopeia-ngsi-ld-broker/pkg/ngsild/types"
)

// EntityQuery carries the pre-expanded parameters of a read operation. The
// condition builders compile its parts into subqueries that are ANDed
// together.
type EntityQuery struct {
	IDs        []string
	Types      []string
	Attributes []string
	Filter     string
	Geo        *query.GeoQuery
	Temporal   *query.TemporalQuery
}

type EntityCreator interface {
	CreateEntity(ctx context.Context, entity types.EntityDocument, temporal bool) (*ngsild.CreateEntityResult, error)
}

type EntityQuerier interface {
	QueryEntities(ctx context.Context, entityQuery EntityQuery, temporal, includeSysAttrs bool) ([]types.EntityDocument, error)
	RetrieveEntity(ctx context.Context, entityID string, temporal, includeSysAttrs bool) (types.EntityDocument, error)
}

type EntityAttributeWriter interface {
	AppendAttributes(ctx context.Context, entityID string, fragment types.EntityDocument, overwrite bool) (*ngsild.UpdateEntityAttributesResult, error)
	UpdateAttributes(ctx context.Context, entityID string, fragment types.EntityDocument) (*ngsild.UpdateEntityAttributesResult, error)
	PartialAttributeUpdate(ctx context.Context, entityID, attributeName string, instances []types.Instance) error
}

type EntityRemover interface {
	DeleteAttribute(ctx context.Context, entityID, attributeName string, instanceID *int64, datasetID *string, deleteAll bool) error
	DeleteEntity(ctx context.Context, entityID string, temporal bool) error
}

type TemporalWriter interface {
	CreateOrUpdateTemporalEntity(ctx context.Context, entity types.EntityDocument) (bool, error)
	UpdateTemporalAttributeInstance(ctx context.Context, entityID, attributeName string, instanceID int64, instance types.Instance) error
}

type BatchOperator interface {
	CreateMany(ctx context.Context, entities []types.EntityDocument) *ngsild.BatchOperationResult
	UpsertMany(ctx context.Context, entities []types.EntityDocument, mode string) *ngsild.BatchOperationResult
	UpdateMany(ctx context.Context, entities []types.EntityDocument, overwrite bool) *ngsild.BatchOperationResult
	DeleteMany(ctx context.Context, entityIDs []string) *ngsild.BatchOperationResult
}

type ContextInformationManager interface {
	EntityCreator
	EntityQuerier
	EntityAttributeWriter
	EntityRemover
	TemporalWriter
	BatchOperator
}

// ContextExpander is the term expansion/compaction collaborator. This core
// never resolves or caches context documents itself; it operates on already
// expanded identifiers only.
type ContextExpander interface {
	ExpandTerm(name string) (string, bool)
	ExpandObject(document map[string]any) map[string]any
	CompactTerm(uri string) (string, bool)
	CompactObject(document map[string]any) map[string]any
}
