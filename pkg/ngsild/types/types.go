package types

// Attribute kinds form a closed enumeration. Anything else found in an
// instance's type member disqualifies it as a reified attribute.
const (
	PropertyKind     string = "Property"
	GeoPropertyKind  string = "GeoProperty"
	RelationshipKind string = "Relationship"
)

// Core member names of an entity document. Entity level keys are in expanded
// form, attribute level core members keep their protocol short names.
const (
	KeyID      string = "@id"
	KeyType    string = "@type"
	KeyContext string = "@context"

	KeyValue      string = "value"
	KeyObject     string = "object"
	KeyDatasetID  string = "datasetId"
	KeyObservedAt string = "observedAt"
	KeyUnitCode   string = "unitCode"
	KeyCreatedAt  string = "createdAt"
	KeyModifiedAt string = "modifiedAt"
)

// DefaultProperties are the non-reified members a query path may terminate in.
var DefaultProperties = map[string]struct{}{
	KeyCreatedAt:  {},
	KeyModifiedAt: {},
	KeyObservedAt: {},
	KeyDatasetID:  {},
	KeyUnitCode:   {},
}

func IsDefaultProperty(name string) bool {
	_, ok := DefaultProperties[name]
	return ok
}

func isAttributeKind(kind string) bool {
	return kind == PropertyKind || kind == GeoPropertyKind || kind == RelationshipKind
}

// Instance is one reified attribute instance document.
type Instance map[string]any

func (i Instance) Kind() string {
	kind, _ := i[KeyType].(string)
	return kind
}

func (i Instance) Value() any {
	return i[KeyValue]
}

func (i Instance) Object() any {
	return i[KeyObject]
}

// DatasetID returns the instance's dataset identifier, or "" for the
// default instance.
func (i Instance) DatasetID() string {
	datasetID, _ := i[KeyDatasetID].(string)
	return datasetID
}

func (i Instance) ObservedAt() string {
	observedAt, _ := i[KeyObservedAt].(string)
	return observedAt
}

// InstancesFromContents normalises an attribute's contents into a slice of
// reified instances. A single object and an array of objects are both legal
// shapes. The bool result reports whether the contents were reified at all.
func InstancesFromContents(contents any) ([]Instance, bool) {
	switch typed := contents.(type) {
	case map[string]any:
		instance := Instance(typed)
		if !isAttributeKind(instance.Kind()) {
			return nil, false
		}
		return []Instance{instance}, true
	case []any:
		instances := make([]Instance, 0, len(typed))
		for _, element := range typed {
			obj, ok := element.(map[string]any)
			if !ok {
				return nil, false
			}
			instance := Instance(obj)
			if !isAttributeKind(instance.Kind()) {
				return nil, false
			}
			instances = append(instances, instance)
		}
		if len(instances) == 0 {
			return nil, false
		}
		return instances, true
	default:
		return nil, false
	}
}

// EntityDocument is an entity or entity fragment in expanded form.
type EntityDocument map[string]any

func (e EntityDocument) ID() string {
	id, _ := e[KeyID].(string)
	return id
}

func (e EntityDocument) Type() string {
	entityType, _ := e[KeyType].(string)
	return entityType
}

// ForEachAttribute calls back for every member of the document that holds a
// valid reified attribute. Non-reified members are skipped silently.
func (e EntityDocument) ForEachAttribute(callback func(name string, instances []Instance)) {
	for name, contents := range e {
		if name == KeyID || name == KeyType || name == KeyContext {
			continue
		}

		if instances, ok := InstancesFromContents(contents); ok {
			callback(name, instances)
		}
	}
}

// AttributeNames returns the names of all reified attributes in the document.
func (e EntityDocument) AttributeNames() []string {
	names := make([]string, 0, len(e))
	e.ForEachAttribute(func(name string, _ []Instance) {
		names = append(names, name)
	})
	return names
}
