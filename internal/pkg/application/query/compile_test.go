package query

import (
	goerrors "errors"
	"testing"

	"github.com/matryer/is"

	"github.com/geonet-mrn/cassiopeia-ngsi-ld-broker/internal/pkg/infrastructure/database"
	ngsierrors "github.com/geonet-mrn/cassiopeia-ngsi-ld-broker/pkg/ngsild/errors"
)

func newTestCompiler() *Compiler {
	return NewCompiler(database.DefaultSchema())
}

func TestCompileNumericComparison(t *testing.T) {
	is := is.New(t)

	sql, err := newTestCompiler().CompileFilter("temp>=10")
	is.NoErr(err)

	is.Equal(sql, "SELECT DISTINCT eid FROM attributes WHERE name = 'temp' AND (json->>'value')::numeric >= 10")
}

func TestCompileNumericRange(t *testing.T) {
	is := is.New(t)

	sql, err := newTestCompiler().CompileFilter("temp==10..20")
	is.NoErr(err)

	is.Equal(sql, "SELECT DISTINCT eid FROM attributes WHERE name = 'temp' AND ((json->>'value')::numeric >= 10 AND (json->>'value')::numeric <= 20)")
}

func TestCompileNegatedRange(t *testing.T) {
	is := is.New(t)

	sql, err := newTestCompiler().CompileFilter("temp!=10..20")
	is.NoErr(err)

	is.Equal(sql, "SELECT DISTINCT eid FROM attributes WHERE name = 'temp' AND NOT ((json->>'value')::numeric >= 10 AND (json->>'value')::numeric <= 20)")
}

func TestCompileStringComparison(t *testing.T) {
	is := is.New(t)

	sql, err := newTestCompiler().CompileFilter("status==\"open\"")
	is.NoErr(err)

	is.Equal(sql, "SELECT DISTINCT eid FROM attributes WHERE name = 'status' AND (json->>'value')::text = 'open'")
}

func TestCompileBooleanComparison(t *testing.T) {
	is := is.New(t)

	sql, err := newTestCompiler().CompileFilter("on==true")
	is.NoErr(err)

	is.Equal(sql, "SELECT DISTINCT eid FROM attributes WHERE name = 'on' AND (json->>'value')::boolean = true")
}

func TestCompileDateTimeComparison(t *testing.T) {
	is := is.New(t)

	sql, err := newTestCompiler().CompileFilter("temp.observedAt>2020-01-01T00:00:00Z")
	is.NoErr(err)

	is.Equal(sql, "SELECT DISTINCT eid FROM attributes WHERE name = 'temp' AND (json->>'observedAt')::timestamp > '2020-01-01T00:00:00Z'")
}

func TestCompileURIComparisonTargetsRelationshipObject(t *testing.T) {
	is := is.New(t)

	sql, err := newTestCompiler().CompileFilter("refRoom==urn:ngsi-ld:Room:1")
	is.NoErr(err)

	is.Equal(sql, "SELECT DISTINCT eid FROM attributes WHERE name = 'refRoom' AND json->>'object' = 'urn:ngsi-ld:Room:1'")
}

func TestCompileURIRangeFails(t *testing.T) {
	is := is.New(t)

	_, err := newTestCompiler().CompileFilter("refRoom==urn:a..urn:b")
	is.True(goerrors.Is(err, ngsierrors.ErrInvalidRequest)) // ranges are not supported for relationships
}

func TestCompilePatternMatch(t *testing.T) {
	is := is.New(t)

	sql, err := newTestCompiler().CompileFilter("name~=\"Room.*\"")
	is.NoErr(err)

	is.Equal(sql, "SELECT DISTINCT eid FROM attributes WHERE name = 'name' AND (json->>'value')::text ~ 'Room.*'")
}

func TestCompileNegatedPatternMatch(t *testing.T) {
	is := is.New(t)

	sql, err := newTestCompiler().CompileFilter("name!~=\"Room.*\"")
	is.NoErr(err)

	is.Equal(sql, "SELECT DISTINCT eid FROM attributes WHERE name = 'name' AND (json->>'value')::text !~ 'Room.*'")
}

func TestCompileTrailingSubPath(t *testing.T) {
	is := is.New(t)

	sql, err := newTestCompiler().CompileFilter("temperature[accuracy]>0.5")
	is.NoErr(err)

	is.Equal(sql, "SELECT DISTINCT eid FROM attributes WHERE name = 'temperature' AND (json->'value'->>'accuracy')::numeric > 0.5")
}

func TestCompileNestedAttributePath(t *testing.T) {
	is := is.New(t)

	sql, err := newTestCompiler().CompileFilter("temp.accuracy==0.9")
	is.NoErr(err)

	is.Equal(sql, "SELECT DISTINCT eid FROM attributes WHERE name = 'temp' AND (json->'accuracy'->>'value')::numeric = 0.9")
}

func TestCompileExistenceCoversBothReifiedShapes(t *testing.T) {
	is := is.New(t)

	sql, err := newTestCompiler().CompileFilter("temp")
	is.NoErr(err)

	is.Equal(sql, "SELECT DISTINCT eid FROM attributes WHERE name = 'temp' AND (json->'value' IS NOT NULL OR json->'object' IS NOT NULL)")
}

func TestCompileExistenceOfDefaultProperty(t *testing.T) {
	is := is.New(t)

	sql, err := newTestCompiler().CompileFilter("temp.observedAt")
	is.NoErr(err)

	is.Equal(sql, "SELECT DISTINCT eid FROM attributes WHERE name = 'temp' AND json->'observedAt' IS NOT NULL")
}

func TestCompileAndIntersects(t *testing.T) {
	is := is.New(t)

	sql, err := newTestCompiler().CompileFilter("temp>=10;on==true")
	is.NoErr(err)

	is.Equal(sql, "((SELECT DISTINCT eid FROM attributes WHERE name = 'temp' AND (json->>'value')::numeric >= 10) INTERSECT (SELECT DISTINCT eid FROM attributes WHERE name = 'on' AND (json->>'value')::boolean = true))")
}

func TestCompileOrUnions(t *testing.T) {
	is := is.New(t)

	sql, err := newTestCompiler().CompileFilter("temp>=10|on==true")
	is.NoErr(err)

	is.Equal(sql, "((SELECT DISTINCT eid FROM attributes WHERE name = 'temp' AND (json->>'value')::numeric >= 10) UNION (SELECT DISTINCT eid FROM attributes WHERE name = 'on' AND (json->>'value')::boolean = true))")
}

func TestCompileMalformedRangeFails(t *testing.T) {
	is := is.New(t)

	_, err := newTestCompiler().CompileFilter("temp==10..20..30")
	is.True(goerrors.Is(err, ngsierrors.ErrInvalidRequest)) // more than one range separator is a syntax error
}

func TestCompileRangeWithMistypedSeparatorFails(t *testing.T) {
	is := is.New(t)

	_, err := newTestCompiler().CompileFilter("temp==10...20")
	is.True(goerrors.Is(err, ngsierrors.ErrInvalidRequest)) // a third dot is a mistyped separator, not a bound

	_, err = newTestCompiler().CompileFilter("temp==.5..1.5")
	is.NoErr(err) // a leading dot away from the separator is still a number
}

func TestCompileMismatchedRangeBoundsFail(t *testing.T) {
	is := is.New(t)

	_, err := newTestCompiler().CompileFilter("temp==10..2020-01-01")
	is.True(goerrors.Is(err, ngsierrors.ErrInvalidRequest)) // range bound types must agree
}

func TestCompileUnresolvableLiteralFails(t *testing.T) {
	is := is.New(t)

	_, err := newTestCompiler().CompileFilter("temp==@@@")
	is.True(goerrors.Is(err, ngsierrors.ErrInvalidRequest)) // literal type cannot be inferred
}

func TestCompileEscapesQuotesInLiterals(t *testing.T) {
	is := is.New(t)

	sql, err := newTestCompiler().CompileFilter("name==\"O'Hare\"")
	is.NoErr(err)

	is.Equal(sql, "SELECT DISTINCT eid FROM attributes WHERE name = 'name' AND (json->>'value')::text = 'O''Hare'")
}
