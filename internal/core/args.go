package core

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
)

// DecodeArgs разбирает payload вызова в структуру аргументов A.
//
// Пустой payload трактуется как {}. Поле структуры обязательно, если его json-тег
// не содержит omitempty или omitzero: такое поле должно присутствовать и не быть
// null. Наличие проверяется по точному имени из тега, строже encoding/json,
// который сопоставляет ключи без учета регистра: {"Name":"x"} не заменяет
// обязательное "name".
func DecodeArgs[A any](raw json.RawMessage) (A, error) {
	var args A
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		trimmed = []byte("{}")
	}

	var present map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &present); err != nil || present == nil {
		return args, InvalidArgs("", "arguments must be a JSON object")
	}
	if err := checkRequired(reflect.TypeOf(args), present); err != nil {
		return args, err
	}

	if err := json.Unmarshal(trimmed, &args); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return args, InvalidArgs(typeErr.Field, fmt.Sprintf("expected %s, got %s", typeErr.Type, typeErr.Value))
		}
		return args, InvalidArgs("", err.Error())
	}
	return args, nil
}

func checkRequired(t reflect.Type, present map[string]json.RawMessage) error {
	if t == nil || t.Kind() != reflect.Struct {
		return nil
	}
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		name, opts, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			continue
		}
		if name == "" {
			name = f.Name
		}
		if strings.Contains(opts, "omitempty") || strings.Contains(opts, "omitzero") {
			continue
		}
		v, ok := present[name]
		if !ok || bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
			return InvalidArgs(name, fmt.Sprintf("missing required argument %q", name))
		}
	}
	return nil
}

type typedHandler[A, R any] struct {
	fn       func(ctx context.Context, args A) (R, error)
	blocking bool
}

func (h *typedHandler[A, R]) Invoke(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	args, err := DecodeArgs[A](raw)
	if err != nil {
		return nil, err
	}
	return h.fn(ctx, args)
}

func (h *typedHandler[A, R]) Blocking() bool { return h.blocking }

// Sync оборачивает типизированную функцию в синхронный Handler.
func Sync[A, R any](fn func(ctx context.Context, args A) (R, error)) Handler {
	return &typedHandler[A, R]{fn: fn}
}

// Async оборачивает функцию с блокирующим I/O; мост выполнит ее в worker-пуле.
func Async[A, R any](fn func(ctx context.Context, args A) (R, error)) Handler {
	return &typedHandler[A, R]{fn: fn, blocking: true}
}
