package query

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/geonet-mrn/cassiopeia-ngsi-ld-broker/internal/pkg/infrastructure/database"
	"github.com/geonet-mrn/cassiopeia-ngsi-ld-broker/pkg/ngsild/errors"
	"github.com/geonet-mrn/cassiopeia-ngsi-ld-broker/pkg/ngsild/types"
)

// Compiler turns parsed filter expressions into subqueries over the
// attributes table, always yielding a set of matching entity identifiers.
type Compiler struct {
	schema database.TableSchema
}

func NewCompiler(schema database.TableSchema) *Compiler {
	return &Compiler{schema: schema}
}

// CompileFilter parses a q= expression and compiles it into a subquery
// returning the internal ids of all matching entities.
func (c *Compiler) CompileFilter(input string) (string, error) {
	node, err := Parse(input)
	if err != nil {
		return "", err
	}

	return c.compileNode(node)
}

func (c *Compiler) compileNode(node Node) (string, error) {
	switch n := node.(type) {
	case *ExistenceCheck:
		return c.compileExistence(n)
	case *Comparison:
		return c.compileComparison(n)
	case *Combinator:
		left, err := c.compileNode(n.Left)
		if err != nil {
			return "", err
		}

		right, err := c.compileNode(n.Right)
		if err != nil {
			return "", err
		}

		setOperator := "INTERSECT"
		if n.Operator == "|" {
			setOperator = "UNION"
		}

		return fmt.Sprintf("((%s) %s (%s))", left, setOperator, right), nil
	default:
		return "", errors.NewInvalidRequestError("unknown expression node")
	}
}

func (c *Compiler) subquery(attributeName, condition string) string {
	return fmt.Sprintf(
		"SELECT DISTINCT eid FROM %s WHERE name = '%s' AND %s",
		c.schema.AttributesTable, escapeLiteral(attributeName), condition,
	)
}

// compileExistence tests that the addressed path is present. The grammar does
// not distinguish the Property and Relationship shapes, so both are covered.
func (c *Compiler) compileExistence(node *ExistenceCheck) (string, error) {
	segments := strings.Split(node.Path, ".")
	attributeName := segments[0]
	rest := segments[1:]

	if attributeName == "" {
		return "", errors.NewInvalidRequestError("empty attribute path")
	}

	access := "json"
	for _, segment := range rest {
		access += fmt.Sprintf("->'%s'", escapeLiteral(segment))
	}

	if len(rest) > 0 && types.IsDefaultProperty(rest[len(rest)-1]) {
		return c.subquery(attributeName, fmt.Sprintf("%s IS NOT NULL", access)), nil
	}

	condition := fmt.Sprintf("(%s->'value' IS NOT NULL OR %s->'object' IS NOT NULL)", access, access)
	return c.subquery(attributeName, condition), nil
}

func (c *Compiler) compileComparison(node *Comparison) (string, error) {
	mainPath, trailingPath, err := splitTrailingPath(node.Path)
	if err != nil {
		return "", err
	}

	segments := strings.Split(mainPath, ".")
	attributeName := segments[0]
	rest := segments[1:]

	if attributeName == "" {
		return "", errors.NewInvalidRequestError("empty attribute path")
	}

	access := "json"
	hitDefaultField := false

	for _, segment := range rest {
		if types.IsDefaultProperty(segment) {
			// navigation stops at a non-reified default member
			access += fmt.Sprintf("->>'%s'", escapeLiteral(segment))
			hitDefaultField = true
			break
		}
		access += fmt.Sprintf("->'%s'", escapeLiteral(segment))
	}

	compared := ""
	allowObjectShape := false

	if hitDefaultField {
		compared = access
	} else if trailingPath != "" {
		subSegments := strings.Split(trailingPath, ".")
		access += "->'value'"
		for _, segment := range subSegments[:len(subSegments)-1] {
			access += fmt.Sprintf("->'%s'", escapeLiteral(segment))
		}
		compared = access + fmt.Sprintf("->>'%s'", escapeLiteral(subSegments[len(subSegments)-1]))
	} else {
		compared = access + "->>'value'"
		allowObjectShape = true
	}

	condition, err := compileCondition(access, compared, allowObjectShape, node.Operator, node.Literal)
	if err != nil {
		return "", err
	}

	return c.subquery(attributeName, condition), nil
}

var trailingPathExp = regexp.MustCompile(`^([^\[\]]+)(\[([^\[\]]+)\])?$`)

// splitTrailingPath splits name[sub.path] syntax into its main segment and
// the optional bracketed sub path addressing a field under the value.
func splitTrailingPath(path string) (string, string, error) {
	match := trailingPathExp.FindStringSubmatch(path)
	if match == nil {
		return "", "", errors.NewInvalidRequestError(fmt.Sprintf("malformed attribute path %s", path))
	}

	return match[1], match[3], nil
}

type literalType int

const (
	literalBoolean literalType = iota
	literalDate
	literalTime
	literalDateTime
	literalNumber
	literalString
	literalURI
)

var dateExp = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
var timeExp = regexp.MustCompile(`^\d{2}:\d{2}:\d{2}(\.\d+)?Z?$`)
var uriExp = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9+.-]*:\S+$`)

// inferLiteralType tries, in order: boolean, date, time of day, date-time,
// number, quoted string, URI.
func inferLiteralType(token string) (literalType, error) {
	if token == "true" || token == "false" {
		return literalBoolean, nil
	}

	if dateExp.MatchString(token) {
		return literalDate, nil
	}

	if timeExp.MatchString(token) {
		return literalTime, nil
	}

	if _, err := time.Parse(time.RFC3339, token); err == nil {
		return literalDateTime, nil
	}

	if _, err := strconv.ParseFloat(token, 64); err == nil {
		return literalNumber, nil
	}

	if len(token) >= 2 && strings.HasPrefix(token, "\"") && strings.HasSuffix(token, "\"") {
		return literalString, nil
	}

	if uriExp.MatchString(token) {
		return literalURI, nil
	}

	return 0, errors.NewInvalidRequestError(fmt.Sprintf("unresolvable literal %s", token))
}

func castFor(lt literalType) string {
	switch lt {
	case literalBoolean:
		return "::boolean"
	case literalDate, literalDateTime:
		return "::timestamp"
	case literalTime:
		return "::time"
	case literalNumber:
		return "::numeric"
	default:
		return "::text"
	}
}

func sqlLiteral(lt literalType, token string) string {
	switch lt {
	case literalBoolean, literalNumber:
		return token
	case literalString:
		return "'" + escapeLiteral(token[1:len(token)-1]) + "'"
	default:
		return "'" + escapeLiteral(token) + "'"
	}
}

var sqlOperators = map[string]string{
	"==": "=", "!=": "<>", ">": ">", "<": "<", ">=": ">=", "<=": "<=", "~=": "~", "!~=": "!~",
}

func compileCondition(access, compared string, allowObjectShape bool, operator, literal string) (string, error) {
	sqlOperator, ok := sqlOperators[operator]
	if !ok {
		return "", errors.NewInvalidRequestError(fmt.Sprintf("unknown operator %s", operator))
	}

	bounds := strings.Split(literal, "..")
	if len(bounds) > 2 {
		return "", errors.NewInvalidRequestError(fmt.Sprintf("malformed range %s", literal))
	}

	if len(bounds) == 2 {
		// a dot adjacent to the separator means the separator was mistyped,
		// as in 10...20
		if strings.HasSuffix(bounds[0], ".") || strings.HasPrefix(bounds[1], ".") {
			return "", errors.NewInvalidRequestError(fmt.Sprintf("malformed range %s", literal))
		}

		if operator != "==" && operator != "!=" {
			return "", errors.NewInvalidRequestError(fmt.Sprintf("ranges are not supported with operator %s", operator))
		}

		lowType, err := inferLiteralType(bounds[0])
		if err != nil {
			return "", err
		}

		highType, err := inferLiteralType(bounds[1])
		if err != nil {
			return "", err
		}

		if lowType != highType {
			return "", errors.NewInvalidRequestError(fmt.Sprintf("range bounds of %s have mismatching types", literal))
		}

		if lowType == literalURI {
			return "", errors.NewInvalidRequestError("ranges are not supported for relationship comparisons")
		}

		cast := castFor(lowType)
		condition := fmt.Sprintf("((%s)%s >= %s AND (%s)%s <= %s)",
			compared, cast, sqlLiteral(lowType, bounds[0]),
			compared, cast, sqlLiteral(lowType, bounds[1]),
		)

		if operator == "!=" {
			condition = "NOT " + condition
		}

		return condition, nil
	}

	if operator == "~=" || operator == "!~=" {
		pattern := literal
		if len(pattern) >= 2 && strings.HasPrefix(pattern, "\"") && strings.HasSuffix(pattern, "\"") {
			pattern = pattern[1 : len(pattern)-1]
		}
		return fmt.Sprintf("(%s)::text %s '%s'", compared, sqlOperator, escapeLiteral(pattern)), nil
	}

	lt, err := inferLiteralType(literal)
	if err != nil {
		return "", err
	}

	if lt == literalURI {
		// URI literals compare against the Relationship shape
		if operator != "==" && operator != "!=" {
			return "", errors.NewInvalidRequestError(fmt.Sprintf("operator %s is not valid for relationship comparisons", operator))
		}

		objectAccess := compared
		if allowObjectShape {
			objectAccess = access + "->>'object'"
		}

		return fmt.Sprintf("%s %s %s", objectAccess, sqlOperator, sqlLiteral(lt, literal)), nil
	}

	return fmt.Sprintf("(%s)%s %s %s", compared, castFor(lt), sqlOperator, sqlLiteral(lt, literal)), nil
}

func escapeLiteral(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}
