package query

import (
	"fmt"

	"github.com/geonet-mrn/cassiopeia-ngsi-ld-broker/pkg/ngsild/errors"
)

// Node is the tagged representation of a parsed filter expression. A node is
// one of ExistenceCheck, Comparison or Combinator.
type Node interface {
	node()
}

// ExistenceCheck tests that an attribute path is present.
type ExistenceCheck struct {
	Path string
}

// Comparison applies one of the comparison or pattern operators to an
// attribute path and a literal.
type Comparison struct {
	Path     string
	Operator string
	Literal  string
}

// Combinator joins two subexpressions with AND (";") or OR ("|").
type Combinator struct {
	Operator string
	Left     Node
	Right    Node
}

func (ExistenceCheck) node() {}
func (Comparison) node()     {}
func (Combinator) node()     {}

var comparisonOperators = []string{"==", "!=", ">=", "<=", ">", "<", "~=", "!~="}

// Parse tokenizes and parses a filter expression into its AST. All grammar
// errors are raised here, before any database access.
func Parse(input string) (Node, error) {
	if input == "" {
		return nil, errors.NewInvalidRequestError("empty query")
	}

	tokens := tokenize(input)

	pos := 0
	group, err := groupByParens(tokens, &pos, false)
	if err != nil {
		return nil, err
	}

	return collapseGroup(group)
}

// groupByParens recursively groups tokens between parentheses into nested
// slices, to arbitrary depth.
func groupByParens(tokens []string, pos *int, nested bool) ([]any, error) {
	group := []any{}

	for *pos < len(tokens) {
		token := tokens[*pos]
		*pos++

		switch token {
		case "(":
			inner, err := groupByParens(tokens, pos, true)
			if err != nil {
				return nil, err
			}
			group = append(group, inner)
		case ")":
			if !nested {
				return nil, errors.NewInvalidRequestError("unbalanced parentheses in query")
			}
			return group, nil
		default:
			group = append(group, token)
		}
	}

	if nested {
		return nil, errors.NewInvalidRequestError("unbalanced parentheses in query")
	}

	return group, nil
}

// collapseGroup repeatedly collapses binary expressions within a group,
// processing operators from tightest to loosest binding: the comparison and
// pattern operators first, then AND, then OR.
func collapseGroup(group []any) (Node, error) {
	var err error

	// nested groups resolve to nodes before any operator is considered
	for i, element := range group {
		if nested, ok := element.([]any); ok {
			group[i], err = collapseGroup(nested)
			if err != nil {
				return nil, err
			}
		}
	}

	for _, operator := range comparisonOperators {
		group, err = collapseComparisons(group, operator)
		if err != nil {
			return nil, err
		}
	}

	for _, operator := range []string{";", "|"} {
		group, err = collapseCombinators(group, operator)
		if err != nil {
			return nil, err
		}
	}

	if len(group) != 1 {
		return nil, errors.NewInvalidRequestError("malformed query expression")
	}

	return asNode(group[0])
}

func collapseComparisons(group []any, operator string) ([]any, error) {
	for {
		index := indexOfOperator(group, operator)
		if index < 0 {
			return group, nil
		}

		if index == 0 || index == len(group)-1 {
			return nil, errors.NewInvalidRequestError(fmt.Sprintf("operator %s is missing an operand", operator))
		}

		left, leftOK := group[index-1].(string)
		right, rightOK := group[index+1].(string)

		if !leftOK || !rightOK || isOperator(left) || isOperator(right) {
			return nil, errors.NewInvalidRequestError(fmt.Sprintf("operator %s requires literal operands", operator))
		}

		collapsed := &Comparison{Path: left, Operator: operator, Literal: right}
		group = replaceTriple(group, index, collapsed)
	}
}

func collapseCombinators(group []any, operator string) ([]any, error) {
	for {
		index := indexOfOperator(group, operator)
		if index < 0 {
			return group, nil
		}

		if index == 0 || index == len(group)-1 {
			return nil, errors.NewInvalidRequestError(fmt.Sprintf("operator %s is missing an operand", operator))
		}

		left, err := asNode(group[index-1])
		if err != nil {
			return nil, err
		}

		right, err := asNode(group[index+1])
		if err != nil {
			return nil, err
		}

		collapsed := &Combinator{Operator: operator, Left: left, Right: right}
		group = replaceTriple(group, index, collapsed)
	}
}

// asNode unwraps a group element into a node. A bare string is an attribute
// path, i.e. an existence test.
func asNode(element any) (Node, error) {
	switch typed := element.(type) {
	case Node:
		return typed, nil
	case string:
		if isOperator(typed) {
			return nil, errors.NewInvalidRequestError(fmt.Sprintf("unexpected operator %s", typed))
		}
		return &ExistenceCheck{Path: typed}, nil
	default:
		return nil, errors.NewInvalidRequestError("malformed query expression")
	}
}

func indexOfOperator(group []any, operator string) int {
	for i, element := range group {
		if token, ok := element.(string); ok && token == operator {
			return i
		}
	}
	return -1
}

func replaceTriple(group []any, operatorIndex int, node Node) []any {
	collapsed := make([]any, 0, len(group)-2)
	collapsed = append(collapsed, group[:operatorIndex-1]...)
	collapsed = append(collapsed, node)
	collapsed = append(collapsed, group[operatorIndex+2:]...)
	return collapsed
}
