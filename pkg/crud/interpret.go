package crud

import (
	"fmt"
	"net/http"
	"strconv"
)

// TotalCountHeader carries the number of entities in a response body.
const TotalCountHeader = "x-total-count"

// Artifact is the final outcome of one request.
type Artifact struct {
	Status   int
	Body     any // Row, []Row or nil
	Count    int // entities in Body
	Location string
	Message  string // error message for 409 and 404
}

// Commits reports whether the unit of work may be committed for a.
func (a Artifact) Commits() bool {
	return a.Status != http.StatusConflict && a.Status != http.StatusNotFound
}

var (
	noContent = Artifact{Status: http.StatusNoContent}
	conflict  = Artifact{Status: http.StatusConflict, Message: ErrUniqueViolation.Error()}
)

// Interpreter turns realized outcomes into artifacts.
type Interpreter struct {
	PrimaryKey string
	Linker     *Linker
}

// Input is everything a transition may consult.
type Input struct {
	Kind     Kind
	Outcome  Outcome
	Response *Schema
	Header   http.Header // receives x-total-count
	Path     string      // request path, used by post_redirect_get
}

type transition func(in *Interpreter, input Input) (Artifact, error)

var transitions = map[Kind]transition{
	FindOne:         (*Interpreter).one,
	FindMany:        (*Interpreter).many,
	UpsertOne:       (*Interpreter).created,
	UpsertMany:      (*Interpreter).createdMany,
	UpdateOne:       (*Interpreter).one,
	UpdateMany:      (*Interpreter).nonEmptyMany,
	PatchOne:        (*Interpreter).one,
	PatchMany:       (*Interpreter).nonEmptyMany,
	DeleteOne:       (*Interpreter).deletedOne,
	DeleteMany:      (*Interpreter).deletedMany,
	PostRedirectGet: (*Interpreter).redirect,
}

// Interpret selects the artifact for input. Rows are shaped first, then
// the count header is set; no rows are read after a terminal artifact is
// chosen.
func (in *Interpreter) Interpret(input Input) (Artifact, error) {
	t, ok := transitions[input.Kind]
	if !ok {
		return Artifact{}, fmt.Errorf("crud: no transition for %s", input.Kind)
	}
	return t(in, input)
}

func setCount(h http.Header, n int) {
	if h != nil {
		h.Set(TotalCountHeader, strconv.Itoa(n))
	}
}

// one: zero rows -> 204, else 200 with the first row.
func (in *Interpreter) one(input Input) (Artifact, error) {
	if len(input.Outcome.Rows) == 0 {
		return noContent, nil
	}
	row, err := input.Response.Shape(input.Outcome.Rows[0])
	if err != nil {
		return Artifact{}, err
	}
	setCount(input.Header, 1)
	return Artifact{Status: http.StatusOK, Body: row, Count: 1}, nil
}

// many: always 200, possibly with an empty list.
func (in *Interpreter) many(input Input) (Artifact, error) {
	rows, err := input.Response.ShapeList(input.Outcome.Rows)
	if err != nil {
		return Artifact{}, err
	}
	setCount(input.Header, len(rows))
	return Artifact{Status: http.StatusOK, Body: rows, Count: len(rows)}, nil
}

// nonEmptyMany: zero rows -> 204, else 200 with the list.
func (in *Interpreter) nonEmptyMany(input Input) (Artifact, error) {
	if len(input.Outcome.Rows) == 0 {
		return noContent, nil
	}
	return in.many(input)
}

func (in *Interpreter) created(input Input) (Artifact, error) {
	if len(input.Outcome.Rows) == 0 {
		return Artifact{}, ErrNoRowReturned
	}
	row, err := input.Response.Shape(input.Outcome.Rows[0])
	if err != nil {
		return Artifact{}, err
	}
	setCount(input.Header, 1)
	return Artifact{Status: http.StatusCreated, Body: row, Count: 1}, nil
}

func (in *Interpreter) createdMany(input Input) (Artifact, error) {
	rows, err := input.Response.ShapeList(input.Outcome.Rows)
	if err != nil {
		return Artifact{}, err
	}
	setCount(input.Header, len(rows))
	return Artifact{Status: http.StatusCreated, Body: rows, Count: len(rows)}, nil
}

// keyRows builds one {pk: value} object per returned key.
func (in *Interpreter) keyRows(o Outcome) []Row {
	keys := o.Keys(in.PrimaryKey)
	rows := make([]Row, len(keys))
	for i, key := range keys {
		rows[i] = Row{in.PrimaryKey: key}
	}
	return rows
}

// deletedOne: rowcount 0 -> 204, else 200 with the key object.
func (in *Interpreter) deletedOne(input Input) (Artifact, error) {
	if input.Outcome.RowsAffected == 0 {
		return noContent, nil
	}
	keys := in.keyRows(input.Outcome)
	if len(keys) == 0 {
		return Artifact{}, &ShapeError{Err: fmt.Errorf("delete affected %d rows but returned no key", input.Outcome.RowsAffected)}
	}
	row, err := input.Response.Shape(keys[0])
	if err != nil {
		return Artifact{}, err
	}
	setCount(input.Header, 1)
	return Artifact{Status: http.StatusOK, Body: row, Count: 1}, nil
}

// deletedMany: rowcount 0 -> 204, else 200 with key objects.
func (in *Interpreter) deletedMany(input Input) (Artifact, error) {
	if input.Outcome.RowsAffected == 0 {
		return noContent, nil
	}
	rows, err := input.Response.ShapeList(in.keyRows(input.Outcome))
	if err != nil {
		return Artifact{}, err
	}
	setCount(input.Header, len(rows))
	return Artifact{Status: http.StatusOK, Body: rows, Count: len(rows)}, nil
}

// redirect: 303 to the read route of the created row.
func (in *Interpreter) redirect(input Input) (Artifact, error) {
	if len(input.Outcome.Rows) == 0 {
		return Artifact{}, ErrNoRowReturned
	}
	row, err := input.Response.Shape(input.Outcome.Rows[0])
	if err != nil {
		return Artifact{}, err
	}
	location, err := in.Linker.Link(input.Path, row)
	if err != nil {
		return Artifact{}, err
	}
	return Artifact{Status: http.StatusSeeOther, Location: location}, nil
}
