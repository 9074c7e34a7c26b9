package validation

import (
	"fmt"
	"net/url"
	"time"

	"github.com/geonet-mrn/cassiopeia-ngsi-ld-broker/pkg/ngsild/errors"
	"github.com/geonet-mrn/cassiopeia-ngsi-ld-broker/pkg/ngsild/geojson"
	"github.com/geonet-mrn/cassiopeia-ngsi-ld-broker/pkg/ngsild/types"
)

// ValidateEntity checks the structure of a full entity document before any
// write. checkDatasetUniqueness reflects normal-endpoint semantics; temporal
// callers opt out, since their instances form a time series.
func ValidateEntity(entity types.EntityDocument, checkDatasetUniqueness bool) error {
	if !isAbsoluteURI(entity.ID()) {
		return errors.NewBadRequestDataError(fmt.Sprintf("entity id %s is not an absolute URI", entity.ID()))
	}

	if !isAbsoluteURI(entity.Type()) {
		return errors.NewBadRequestDataError(fmt.Sprintf("entity type %s is not an absolute URI", entity.Type()))
	}

	return ValidateFragment(entity, checkDatasetUniqueness)
}

// ValidateFragment checks the attributes of an entity fragment. The id and
// type members are not required here.
func ValidateFragment(fragment types.EntityDocument, checkDatasetUniqueness bool) error {
	for name, contents := range fragment {
		if name == types.KeyID || name == types.KeyType || name == types.KeyContext {
			continue
		}

		instances, ok := types.InstancesFromContents(contents)
		if !ok {
			continue
		}

		if !isAbsoluteURI(name) {
			return errors.NewBadRequestDataError(fmt.Sprintf("attribute name %s is not a URI", name))
		}

		if err := validateInstances(name, instances, checkDatasetUniqueness); err != nil {
			return err
		}
	}

	return nil
}

func validateInstances(name string, instances []types.Instance, checkDatasetUniqueness bool) error {
	kind := instances[0].Kind()
	seenDatasets := map[string]struct{}{}

	for _, instance := range instances {
		if instance.Kind() != kind {
			return errors.NewBadRequestDataError(fmt.Sprintf("attribute %s mixes instance kinds", name))
		}

		switch kind {
		case types.PropertyKind:
			if instance.Value() == nil {
				return errors.NewBadRequestDataError(fmt.Sprintf("property %s has no value", name))
			}
		case types.GeoPropertyKind:
			if instance.Value() == nil {
				return errors.NewBadRequestDataError(fmt.Sprintf("geoproperty %s has no value", name))
			}
			if _, err := geojson.FromGeoPropertyValue(instance.Value()); err != nil {
				return errors.NewBadRequestDataError(fmt.Sprintf("geoproperty %s: %s", name, err.Error()))
			}
		case types.RelationshipKind:
			if err := validateObject(name, instance.Object()); err != nil {
				return err
			}
		}

		if observedAt := instance.ObservedAt(); observedAt != "" {
			if _, err := time.Parse(time.RFC3339, observedAt); err != nil {
				return errors.NewBadRequestDataError(fmt.Sprintf("attribute %s has an invalid observedAt timestamp", name))
			}
		}

		datasetID := instance.DatasetID()
		if datasetID != "" && !isAbsoluteURI(datasetID) {
			return errors.NewBadRequestDataError(fmt.Sprintf("attribute %s has a non-URI datasetId", name))
		}

		if checkDatasetUniqueness {
			if _, seen := seenDatasets[datasetID]; seen {
				if datasetID == "" {
					return errors.NewBadRequestDataError(fmt.Sprintf("attribute %s has more than one default instance", name))
				}
				return errors.NewBadRequestDataError(fmt.Sprintf("attribute %s repeats datasetId %s", name, datasetID))
			}
			seenDatasets[datasetID] = struct{}{}
		}
	}

	return nil
}

func validateObject(name string, object any) error {
	switch typed := object.(type) {
	case string:
		if !isAbsoluteURI(typed) {
			return errors.NewBadRequestDataError(fmt.Sprintf("relationship %s object is not a URI", name))
		}
	case []any:
		for _, element := range typed {
			str, ok := element.(string)
			if !ok || !isAbsoluteURI(str) {
				return errors.NewBadRequestDataError(fmt.Sprintf("relationship %s object is not a list of URIs", name))
			}
		}
	default:
		return errors.NewBadRequestDataError(fmt.Sprintf("relationship %s has no object", name))
	}

	return nil
}

func isAbsoluteURI(candidate string) bool {
	if candidate == "" {
		return false
	}

	u, err := url.Parse(candidate)
	return err == nil && u.IsAbs()
}
