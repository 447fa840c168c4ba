package services

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// ErrorCode klassifiziert Fehler des Datenzugriffs.
type ErrorCode string

const (
	CodeNotFound        ErrorCode = "NOT_FOUND"
	CodeInvalidData     ErrorCode = "INVALID_DATA"
	CodeSyncFailure     ErrorCode = "SYNC_FAILURE"
	CodeStorageError    ErrorCode = "STORAGE_ERROR"
	CodeValidationError ErrorCode = "VALIDATION_ERROR"
)

// Sentinels für errors.Is. Ein DataError ist gleich dem Sentinel mit demselben Code.
var (
	ErrNotFound    = &DataError{Code: CodeNotFound}
	ErrInvalidData = &DataError{Code: CodeInvalidData}
	ErrSyncFailure = &DataError{Code: CodeSyncFailure}
	ErrStorage     = &DataError{Code: CodeStorageError}
	ErrValidation  = &DataError{Code: CodeValidationError}
)

// DataError ist der einheitliche Fehlertyp des Repositorys und der Migration.
type DataError struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *DataError) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	case e.Message != "":
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	default:
		return string(e.Code)
	}
}

func (e *DataError) Unwrap() error { return e.Err }

// Is vergleicht nur den Code.
func (e *DataError) Is(target error) bool {
	t, ok := target.(*DataError)
	return ok && t.Code == e.Code
}

func notFound(format string, args ...any) error {
	return &DataError{Code: CodeNotFound, Message: fmt.Sprintf(format, args...)}
}

func invalidData(format string, args ...any) error {
	return &DataError{Code: CodeInvalidData, Message: fmt.Sprintf(format, args...)}
}

// invalidRecord meldet einen fehlerhaften oder unvollständigen Eingabedatensatz.
func invalidRecord(msg string, err error) error {
	return &DataError{Code: CodeInvalidData, Message: msg, Err: err}
}

// validationError meldet, dass die Integritätsprüfung selbst nicht abgeschlossen werden konnte.
func validationError(msg string, err error) error {
	return &DataError{Code: CodeValidationError, Message: msg, Err: err}
}

func syncFailure(msg string, err error) error {
	return &DataError{Code: CodeSyncFailure, Message: msg, Err: err}
}

// storageError ordnet Fehler des Record Stores ein. gorm.ErrRecordNotFound wird zu NOT_FOUND.
func storageError(msg string, err error) error {
	if err == nil {
		return nil
	}
	var de *DataError
	if errors.As(err, &de) {
		return err
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &DataError{Code: CodeNotFound, Message: msg, Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &DataError{Code: CodeSyncFailure, Message: msg + ": timeout", Err: err}
	}
	return &DataError{Code: CodeStorageError, Message: msg, Err: err}
}

// CodeOf liefert den Code eines DataError in der Kette, sonst "".
func CodeOf(err error) ErrorCode {
	var de *DataError
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

func IsNotFound(err error) bool        { return errors.Is(err, ErrNotFound) }
func IsInvalidData(err error) bool     { return errors.Is(err, ErrInvalidData) }
func IsSyncFailure(err error) bool     { return errors.Is(err, ErrSyncFailure) }
func IsStorageError(err error) bool    { return errors.Is(err, ErrStorage) }
func IsValidationError(err error) bool { return errors.Is(err, ErrValidation) }
