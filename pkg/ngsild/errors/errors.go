package errors

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

var ErrAlreadyExists = fmt.Errorf("already exists")
var ErrBadRequest = fmt.Errorf("bad request")
var ErrInternal = fmt.Errorf("internal error")
var ErrInvalidRequest = fmt.Errorf("invalid request")
var ErrNotFound = fmt.Errorf("not found")

type myError struct {
	msg    string
	target error
}

func (m myError) Error() string        { return m.msg }
func (m myError) Is(target error) bool { return target == m.target }

func NewAlreadyExistsError(msg string) error {
	return &myError{
		msg:    msg,
		target: ErrAlreadyExists,
	}
}

func NewBadRequestDataError(msg string) error {
	return &myError{
		msg:    msg,
		target: ErrBadRequest,
	}
}

func NewInternalError(msg string) error {
	return &myError{
		msg:    msg,
		target: ErrInternal,
	}
}

func NewInvalidRequestError(msg string) error {
	return &myError{
		msg:    msg,
		target: ErrInvalidRequest,
	}
}

func NewNotFoundError(msg string) error {
	return &myError{
		msg:    msg,
		target: ErrNotFound,
	}
}

const uniqueViolationCode string = "23505"

// NewDatabaseError classifies a backend execution error. Unique constraint
// violations surface as AlreadyExists, everything else as InternalError.
func NewDatabaseError(operation string, err error) error {
	var pgErr *pgconn.PgError

	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
		return NewAlreadyExistsError(pgErr.Detail)
	}

	return NewInternalError(fmt.Sprintf("%s: %s", operation, err.Error()))
}

//ProblemDetails stores details about a certain problem according to RFC7807
//See https://tools.ietf.org/html/rfc7807
type ProblemDetails struct {
	typ    string
	title  string
	detail string
}

func (p ProblemDetails) Type() string   { return p.typ }
func (p ProblemDetails) Title() string  { return p.title }
func (p ProblemDetails) Detail() string { return p.detail }

//MarshalJSON is called when a ProblemDetails instance should be serialized to JSON
func (p ProblemDetails) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type   string `json:"type"`
		Title  string `json:"title"`
		Detail string `json:"detail"`
	}{
		Type:   p.typ,
		Title:  p.title,
		Detail: p.detail,
	})
}

//NewProblemDetailsFromError maps an error from the taxonomy above to the
//matching NGSI-LD problem report
func NewProblemDetailsFromError(err error) ProblemDetails {
	newPD := func(typ, title string) ProblemDetails {
		return ProblemDetails{
			typ:    "https://uri.etsi.org/ngsi-ld/errors/" + typ,
			title:  title,
			detail: err.Error(),
		}
	}

	if errors.Is(err, ErrAlreadyExists) {
		return newPD("AlreadyExists", "Already Exists")
	}

	if errors.Is(err, ErrBadRequest) {
		return newPD("BadRequestData", "Bad Request Data")
	}

	if errors.Is(err, ErrInvalidRequest) {
		return newPD("InvalidRequest", "Invalid Request")
	}

	if errors.Is(err, ErrNotFound) {
		return newPD("ResourceNotFound", "Not Found")
	}

	return newPD("InternalError", "Internal Error")
}
