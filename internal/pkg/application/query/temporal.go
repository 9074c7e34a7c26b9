package query

import (
	"fmt"
	"time"

	"github.com/geonet-mrn/cassiopeia-ngsi-ld-broker/pkg/ngsild/errors"
)

// TemporalQuery is a time-relation filter over one of the stored timestamp
// columns, with an optional per-attribute result cap.
type TemporalQuery struct {
	Timerel      string
	TimeAt       string
	EndTimeAt    string
	TimeProperty string
	LastN        int
}

// TemporalCondition is the compiled form: a WHERE fragment over the
// attributes table plus the ordering/limit directive the store applies when
// assembling results. LastN truncates each (entity, attribute) group
// independently, ordered by the chosen timestamp descending.
type TemporalCondition struct {
	Where  string
	Column string
	LastN  int
}

var timestampColumns = map[string]string{
	"observedAt": "observed_at",
	"createdAt":  "created_at",
	"modifiedAt": "modified_at",
}

// CompileTemporalQuery validates the time relation and compiles it. All
// reference instants must be ISO-8601 UTC date-times.
func (c *Compiler) CompileTemporalQuery(temporalQuery TemporalQuery) (*TemporalCondition, error) {
	timeProperty := temporalQuery.TimeProperty
	if timeProperty == "" {
		timeProperty = "observedAt"
	}

	column, ok := timestampColumns[timeProperty]
	if !ok {
		return nil, errors.NewInvalidRequestError(fmt.Sprintf("unknown time property %s", timeProperty))
	}

	timeAt, err := parseInstant(temporalQuery.TimeAt)
	if err != nil {
		return nil, err
	}

	condition := &TemporalCondition{Column: column, LastN: temporalQuery.LastN}

	switch temporalQuery.Timerel {
	case "before":
		condition.Where = fmt.Sprintf("%s < '%s'", column, timeAt)
	case "after":
		condition.Where = fmt.Sprintf("%s > '%s'", column, timeAt)
	case "between":
		endTimeAt, err := parseInstant(temporalQuery.EndTimeAt)
		if err != nil {
			return nil, errors.NewInvalidRequestError("time relation between requires a valid endTimeAt")
		}
		condition.Where = fmt.Sprintf("(%s > '%s' AND %s < '%s')", column, timeAt, column, endTimeAt)
	default:
		return nil, errors.NewInvalidRequestError(fmt.Sprintf("unknown time relation %s", temporalQuery.Timerel))
	}

	return condition, nil
}

func parseInstant(value string) (string, error) {
	instant, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return "", errors.NewInvalidRequestError(fmt.Sprintf("invalid date-time %s", value))
	}

	return instant.UTC().Format(time.RFC3339), nil
}
