package db

import (
	"errors"
	"fmt"
)

var (
	ErrQuery                 = errors.New("db: query error")
	ErrNoAccess              = errors.New("db: no access")
	ErrConnectionLost        = errors.New("db: connection lost")
	ErrFeatureNotSupported   = errors.New("db: feature not supported")
	ErrFeatureNotImplemented = errors.New("db: feature not implemented")
	ErrUnknownBackend        = errors.New("db: unknown backend")
	ErrTypeMismatch          = errors.New("db: value does not match field type")
)

// QueryError is returned for failed statements. Kind is ErrQuery, ErrNoAccess
// or ErrConnectionLost. Both Kind and the driver error match with errors.Is.
type QueryError struct {
	Kind error
	SQL  string
	Err  error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("%v: %v (sql: %s)", e.Kind, e.Err, e.SQL)
}

func (e *QueryError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

func queryError(b Backend, sql string, err error) error {
	if err == nil {
		return nil
	}
	var qe *QueryError
	if errors.As(err, &qe) {
		return err
	}
	return &QueryError{b.ClassifyError(err), sql, err}
}
