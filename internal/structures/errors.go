package structures

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation indicates caller input violates a length or shape constraint.
	ErrValidation = errors.New("structures: validation failed")
	// ErrNotFound indicates the structure does not exist or has been soft-deleted.
	ErrNotFound = errors.New("structures: structure not found")

	errMissingDatabase = errors.New("database handle is required")
)

// ServiceError reports a storage failure with an operation.reason code.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

// Code returns the operation.reason identifier.
func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew = "structures.service.new"
	opSubmit     = "structures.submit"
	opSample     = "structures.sample"
	opEvict      = "structures.evict"
)

const (
	reasonMissingDatabase = "missing_database"
	reasonAccountFailed   = "account_upsert_failed"
	reasonLockFailed      = "account_lock_failed"
	reasonInsertFailed    = "insert_failed"
	reasonCountFailed     = "count_failed"
	reasonSelectFailed    = "select_failed"
	reasonDeleteFailed    = "delete_failed"
	reasonQueryFailed     = "query_failed"
	reasonCommitFailed    = "commit_failed"
)

func newServiceError(operation, reason string, cause error) error {
	return &ServiceError{code: operation + "." + reason, err: cause}
}
