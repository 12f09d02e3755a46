package common

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"devstash/internal/core"
)

// envelope входящий вызов на проводе.
type envelope struct {
	ID      string          `json:"id"`
	Command string          `json:"command"`
	Args    json.RawMessage `json:"args"`
}

// Service объединяет общий пайплайн транспорта: envelope -> authz -> ratelimit -> bridge.
type Service struct {
	Source      string
	Bridge      *core.Bridge
	Authorizer  core.Authorizer
	RateLimiter *RateLimiter
	Logger      *slog.Logger
}

// DecodeInvocation разбирает envelope {id, command, args}. При ошибке
// возвращает id, если его удалось прочитать, чтобы ответ можно было сопоставить.
func DecodeInvocation(data []byte) (core.Invocation, *core.Error) {
	var env envelope
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&env); err != nil {
		return core.Invocation{}, &core.Error{Kind: core.KindInvalidRequest, Message: fmt.Sprintf("malformed invocation: %v", err)}
	}
	if dec.More() {
		return core.Invocation{ID: env.ID}, &core.Error{Kind: core.KindInvalidRequest, Message: "trailing data after invocation"}
	}
	if env.Command == "" {
		return core.Invocation{ID: env.ID}, &core.Error{Kind: core.KindInvalidRequest, Message: "command is required"}
	}
	return core.Invocation{ID: env.ID, Command: env.Command, Args: env.Args}, nil
}

// Dispatch проверяет права и лимит, затем передает вызов мосту. reply
// вызывается ровно один раз, в том числе при отказе. Права проверяются только
// для зарегистрированных команд.
func (s *Service) Dispatch(ctx context.Context, subjectID string, inv core.Invocation, reply func(core.Response)) {
	if inv.ID == "" {
		inv.ID = uuid.NewString()
	}
	inv.Source = s.Source

	subject := core.Subject{Source: s.Source, ID: subjectID}
	// неизвестную команду мост отклонит как unknown_command
	if s.Authorizer != nil && s.Bridge.Has(inv.Command) {
		if err := s.Authorizer.Authorize(subject, inv.Command); err != nil {
			s.logger().Warn("invocation denied", "source", s.Source, "subject", subjectID, "command", inv.Command, "invocation_id", inv.ID)
			reply(core.Response{ID: inv.ID, Err: core.AsError(err)})
			return
		}
	}
	if s.RateLimiter != nil && !s.RateLimiter.Allow(subject) {
		s.logger().Warn("invocation rate limited", "source", s.Source, "subject", subjectID, "command", inv.Command, "invocation_id", inv.ID)
		reply(core.Response{ID: inv.ID, Err: &core.Error{Kind: core.KindRateLimited, Message: "rate limit exceeded"}})
		return
	}
	s.Bridge.Dispatch(ctx, inv, reply)
}

// Invoke выполняет вызов и ждет ответа; прерывается отменой ctx.
func (s *Service) Invoke(ctx context.Context, subjectID string, inv core.Invocation) core.Response {
	ch := make(chan core.Response, 1)
	s.Dispatch(ctx, subjectID, inv, func(resp core.Response) { ch <- resp })
	select {
	case resp := <-ch:
		return resp
	case <-ctx.Done():
		return core.Response{ID: inv.ID, Err: &core.Error{Kind: core.KindInternal, Message: fmt.Sprintf("invocation aborted: %v", ctx.Err())}}
	}
}

func (s *Service) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}
