package commands

import (
	"context"
	"fmt"

	"devstash/internal/core"
)

// GreetCommand имя встроенной демонстрационной команды.
const GreetCommand = "greet"

// greetTemplate фиксирован контрактом front-end.
const greetTemplate = "Hello, %s! You've been greeted from Rust!"

// GreetArgs аргументы greet: name обязателен, пустая строка допустима.
type GreetArgs struct {
	Name string `json:"name"`
}

// Greet встраивает имя в шаблон приветствия как есть.
func Greet(ctx context.Context, args GreetArgs) (string, error) {
	return fmt.Sprintf(greetTemplate, args.Name), nil
}

// Register регистрирует встроенный набор команд.
func Register(reg *core.Registry) error {
	if err := reg.Register(GreetCommand, core.Sync(Greet)); err != nil {
		return fmt.Errorf("register builtin commands: %w", err)
	}
	return nil
}
