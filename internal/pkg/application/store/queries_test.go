package store

import (
	"testing"
	"time"

	"github.com/matryer/is"
)

var testInstant = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

func testEntityRow(eid int64, entityID string) entityRow {
	return entityRow{
		eid:        eid,
		entityID:   entityID,
		entityType: "https://example.com/Device",
		createdAt:  testInstant,
		modifiedAt: testInstant,
	}
}

func testAttributeRow(instanceID, eid int64, name, document string) attributeRow {
	return attributeRow{
		instanceID: instanceID,
		eid:        eid,
		name:       name,
		document:   []byte(document),
		createdAt:  testInstant,
		modifiedAt: testInstant,
	}
}

func TestAssembleSingleInstanceAsObject(t *testing.T) {
	is := is.New(t)

	documents := assembleDocuments(
		[]entityRow{testEntityRow(1, "urn:ngsi-ld:Device:dev-001")},
		[]attributeRow{testAttributeRow(10, 1, "https://example.com/temperature", `{"type":"Property","value":21.5}`)},
		false, false,
	)

	is.Equal(len(documents), 1)
	is.Equal(documents[0].ID(), "urn:ngsi-ld:Device:dev-001")

	instance, ok := documents[0]["https://example.com/temperature"].(map[string]any)
	is.True(ok) // a lone instance renders as an object, not an array
	is.Equal(instance["value"], 21.5)
}

func TestAssembleMultipleInstancesAsArray(t *testing.T) {
	is := is.New(t)

	documents := assembleDocuments(
		[]entityRow{testEntityRow(1, "urn:ngsi-ld:Device:dev-001")},
		[]attributeRow{
			testAttributeRow(10, 1, "https://example.com/temperature", `{"type":"Property","value":1,"datasetId":"urn:ngsi-ld:Dataset:a"}`),
			testAttributeRow(11, 1, "https://example.com/temperature", `{"type":"Property","value":2}`),
		},
		false, false,
	)

	instances, ok := documents[0]["https://example.com/temperature"].([]any)
	is.True(ok)
	is.Equal(len(instances), 2)
}

func TestAssembleTemporalAddsInstanceIDsAndKeepsArrays(t *testing.T) {
	is := is.New(t)

	documents := assembleDocuments(
		[]entityRow{testEntityRow(1, "urn:ngsi-ld:Device:dev-001")},
		[]attributeRow{testAttributeRow(7, 1, "https://example.com/temperature", `{"type":"Property","value":21.5}`)},
		true, false,
	)

	instances, ok := documents[0]["https://example.com/temperature"].([]any)
	is.True(ok) // temporal representation always uses arrays
	is.Equal(len(instances), 1)

	instance := instances[0].(map[string]any)
	is.Equal(instance["instanceId"], "urn:ngsi-ld:InstanceId:7")
}

func TestAssembleIncludesSysAttrsWhenAsked(t *testing.T) {
	is := is.New(t)

	documents := assembleDocuments(
		[]entityRow{testEntityRow(1, "urn:ngsi-ld:Device:dev-001")},
		[]attributeRow{testAttributeRow(10, 1, "https://example.com/temperature", `{"type":"Property","value":21.5}`)},
		false, true,
	)

	is.Equal(documents[0]["createdAt"], "2020-01-01T00:00:00Z")
	is.Equal(documents[0]["modifiedAt"], "2020-01-01T00:00:00Z")

	instance := documents[0]["https://example.com/temperature"].(map[string]any)
	is.Equal(instance["createdAt"], "2020-01-01T00:00:00Z")
}

func TestAssembleOmitsSysAttrsByDefault(t *testing.T) {
	is := is.New(t)

	documents := assembleDocuments(
		[]entityRow{testEntityRow(1, "urn:ngsi-ld:Device:dev-001")},
		[]attributeRow{testAttributeRow(10, 1, "https://example.com/temperature", `{"type":"Property","value":21.5}`)},
		false, false,
	)

	_, present := documents[0]["createdAt"]
	is.True(!present)
}

func TestAssembleKeepsEntitiesWithoutAttributes(t *testing.T) {
	is := is.New(t)

	documents := assembleDocuments(
		[]entityRow{
			testEntityRow(1, "urn:ngsi-ld:Device:dev-001"),
			testEntityRow(2, "urn:ngsi-ld:Device:dev-002"),
		},
		[]attributeRow{testAttributeRow(10, 1, "https://example.com/temperature", `{"type":"Property","value":21.5}`)},
		false, false,
	)

	is.Equal(len(documents), 2)
	is.Equal(documents[1].ID(), "urn:ngsi-ld:Device:dev-002")
	is.Equal(len(documents[1].AttributeNames()), 0)
}

func TestAssembleSkipsUnparsableDocuments(t *testing.T) {
	is := is.New(t)

	documents := assembleDocuments(
		[]entityRow{testEntityRow(1, "urn:ngsi-ld:Device:dev-001")},
		[]attributeRow{
			testAttributeRow(10, 1, "https://example.com/temperature", `{"broken`),
			testAttributeRow(11, 1, "https://example.com/humidity", `{"type":"Property","value":40}`),
		},
		false, false,
	)

	names := documents[0].AttributeNames()
	is.Equal(names, []string{"https://example.com/humidity"})
}
