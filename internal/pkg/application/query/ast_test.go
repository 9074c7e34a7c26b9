package query

import (
	goerrors "errors"
	"testing"

	"github.com/matryer/is"

	ngsierrors "github.com/geonet-mrn/cassiopeia-ngsi-ld-broker/pkg/ngsild/errors"
)

func TestParseBarePathIsAnExistenceCheck(t *testing.T) {
	is := is.New(t)

	node, err := Parse("temperature.observedAt")
	is.NoErr(err)

	check, ok := node.(*ExistenceCheck)
	is.True(ok) // expected an existence check
	is.Equal(check.Path, "temperature.observedAt")
}

func TestParseComparison(t *testing.T) {
	is := is.New(t)

	node, err := Parse("temp>=10")
	is.NoErr(err)

	comparison, ok := node.(*Comparison)
	is.True(ok) // expected a comparison
	is.Equal(comparison.Path, "temp")
	is.Equal(comparison.Operator, ">=")
	is.Equal(comparison.Literal, "10")
}

func TestParseAndBindsTighterThanOr(t *testing.T) {
	is := is.New(t)

	node, err := Parse("a==1;b==2|c==3")
	is.NoErr(err)

	or, ok := node.(*Combinator)
	is.True(ok) // expected a combinator
	is.Equal(or.Operator, "|")

	and, ok := or.Left.(*Combinator)
	is.True(ok) // left operand should be the AND expression
	is.Equal(and.Operator, ";")
}

func TestParseParenthesesOverridePrecedence(t *testing.T) {
	is := is.New(t)

	node, err := Parse("a==1;(b==2|c==3)")
	is.NoErr(err)

	and, ok := node.(*Combinator)
	is.True(ok)
	is.Equal(and.Operator, ";")

	or, ok := and.Right.(*Combinator)
	is.True(ok) // right operand should be the grouped OR expression
	is.Equal(or.Operator, "|")
}

func TestParseNestedGroups(t *testing.T) {
	is := is.New(t)

	node, err := Parse("((a==1))")
	is.NoErr(err)

	_, ok := node.(*Comparison)
	is.True(ok) // singleton groups unwrap to the inner node
}

func TestParseUnbalancedParenthesesFails(t *testing.T) {
	is := is.New(t)

	_, err := Parse("(a==1")
	is.True(goerrors.Is(err, ngsierrors.ErrInvalidRequest)) // should be an invalid request
}

func TestParseDanglingOperatorFails(t *testing.T) {
	is := is.New(t)

	_, err := Parse("a==")
	is.True(err != nil) // should have returned an error
}

func TestParseEmptyQueryFails(t *testing.T) {
	is := is.New(t)

	_, err := Parse("")
	is.True(err != nil) // should have returned an error
}
