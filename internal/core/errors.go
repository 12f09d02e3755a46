package core

import (
	"errors"
	"fmt"
)

// Виды ошибок вызова, которые видит front-end.
const (
	KindUnknownCommand   = "unknown_command"
	KindInvalidArguments = "invalid_arguments"
	KindInvalidRequest   = "invalid_request"
	KindForbidden        = "forbidden"
	KindRateLimited      = "rate_limited"
	KindHandlerError     = "handler_error"
	KindInternal         = "internal"
)

var (
	// ErrDuplicateCommand возвращается при повторной регистрации имени.
	ErrDuplicateCommand = errors.New("command already registered")
	// ErrRegistrySealed возвращается при регистрации после старта.
	ErrRegistrySealed = errors.New("registry is sealed")

	errInvalidArguments = errors.New("invalid arguments")
)

// Error типизированная ошибка вызова, сериализуемая через мост.
type Error struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

func (e *Error) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s (field %q)", e.Kind, e.Message, e.Field)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Is позволяет сравнивать ошибки по виду через errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Message == "" || t.Message == e.Message)
}

// InvalidArgs строит ошибку invalid_arguments для поля.
func InvalidArgs(field, msg string) *Error {
	return &Error{Kind: KindInvalidArguments, Message: msg, Field: field}
}

// Forbidden строит ошибку forbidden.
func Forbidden(msg string) *Error {
	return &Error{Kind: KindForbidden, Message: msg}
}

// AsError приводит любую ошибку обработчика к *Error.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{Kind: KindHandlerError, Message: err.Error()}
}
