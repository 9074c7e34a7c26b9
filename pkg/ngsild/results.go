package ngsild

import (
	"encoding/json"

	"github.com/geonet-mrn/cassiopeia-ngsi-ld-broker/pkg/ngsild/errors"
)

type CreateEntityResult struct {
	location string
}

func NewCreateEntityResult(location string) *CreateEntityResult {
	return &CreateEntityResult{
		location: location,
	}
}

func (r CreateEntityResult) Location() string {
	return r.location
}

type NotUpdatedDetails struct {
	AttributeName string `json:"attributeName"`
	Reason        string `json:"reason"`
}

type UpdateEntityAttributesResult struct {
	Updated    []string            `json:"updated"`
	NotUpdated []NotUpdatedDetails `json:"notUpdated"`
}

func NewUpdateEntityAttributesResult() *UpdateEntityAttributesResult {
	return &UpdateEntityAttributesResult{
		Updated:    []string{},
		NotUpdated: []NotUpdatedDetails{},
	}
}

func (uear *UpdateEntityAttributesResult) MarkUpdated(attributeName string) {
	uear.Updated = append(uear.Updated, attributeName)
}

func (uear *UpdateEntityAttributesResult) MarkNotUpdated(attributeName, reason string) {
	uear.NotUpdated = append(uear.NotUpdated, NotUpdatedDetails{
		AttributeName: attributeName,
		Reason:        reason,
	})
}

func (uear *UpdateEntityAttributesResult) Bytes() []byte {
	b, _ := json.Marshal(uear)
	return b
}

func (uear *UpdateEntityAttributesResult) IsMultiStatus() bool {
	return len(uear.NotUpdated) > 0
}

type BatchEntityError struct {
	EntityID string                `json:"entityId"`
	Error    errors.ProblemDetails `json:"error"`
}

// BatchOperationResult separates the ids that a batch operation processed
// successfully from the per item problems. Batches are never all-or-nothing.
type BatchOperationResult struct {
	Success []string           `json:"success"`
	Errors  []BatchEntityError `json:"errors"`
}

func NewBatchOperationResult() *BatchOperationResult {
	return &BatchOperationResult{
		Success: []string{},
		Errors:  []BatchEntityError{},
	}
}

func (bor *BatchOperationResult) AddSuccess(entityID string) {
	bor.Success = append(bor.Success, entityID)
}

func (bor *BatchOperationResult) AddFailure(entityID string, err error) {
	bor.Errors = append(bor.Errors, BatchEntityError{
		EntityID: entityID,
		Error:    errors.NewProblemDetailsFromError(err),
	})
}

func (bor *BatchOperationResult) Bytes() []byte {
	b, _ := json.Marshal(bor)
	return b
}

func (bor *BatchOperationResult) IsMultiStatus() bool {
	return len(bor.Errors) > 0
}
