package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/angelmondragon/pharmalink-backend/pkg/logger"
)

type pinger interface {
	Ping(context.Context) error
}

type runner interface {
	Run(context.Context) error
}

type ServiceParams struct {
	Logger *logger.Logger
	// Dependencies are pinged in order before any consumer starts.
	Dependencies []namedPinger
	Consumers    map[string]runner
}

type namedPinger struct {
	name string
	dep  pinger
}

type Service struct {
	logg      *logger.Logger
	deps      []namedPinger
	consumers map[string]runner
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	for _, dep := range params.Dependencies {
		if dep.dep == nil {
			return nil, fmt.Errorf("%s client is required", dep.name)
		}
	}
	if len(params.Consumers) == 0 {
		return nil, errors.New("at least one consumer is required")
	}
	for name, c := range params.Consumers {
		if c == nil {
			return nil, fmt.Errorf("%s consumer is required", name)
		}
	}
	return &Service{
		logg:      params.Logger,
		deps:      params.Dependencies,
		consumers: params.Consumers,
	}, nil
}

func (s *Service) ensureReadiness(ctx context.Context) error {
	for _, dep := range s.deps {
		if err := pingDependency(ctx, s.logg, dep.name, dep.dep.Ping); err != nil {
			return err
		}
	}
	s.logg.Info(ctx, "all worker dependencies are ready")
	return nil
}

func pingDependency(ctx context.Context, logg *logger.Logger, name string, fn func(context.Context) error) error {
	if err := fn(ctx); err != nil {
		logg.Error(ctx, fmt.Sprintf("%s ping failed", name), err)
		return fmt.Errorf("%s ping failed: %w", name, err)
	}
	return nil
}

type consumerExit struct {
	name string
	err  error
}

// Run starts every consumer and returns when ctx ends or the first consumer
// stops. The remaining consumers are cancelled and awaited before Run returns.
func (s *Service) Run(ctx context.Context) error {
	if err := s.ensureReadiness(ctx); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	exits := make(chan consumerExit, len(s.consumers))
	for name, c := range s.consumers {
		go func() {
			exits <- consumerExit{name: name, err: c.Run(runCtx)}
		}()
	}

	select {
	case <-ctx.Done():
		s.logg.Info(ctx, "worker context canceled")
		cancel()
		awaitExits(exits, len(s.consumers))
		return ctx.Err()
	case first := <-exits:
		cancel()
		awaitExits(exits, len(s.consumers)-1)
		logCtx := s.logg.WithField(ctx, "consumer", first.name)
		if first.err != nil && !errors.Is(first.err, context.Canceled) {
			s.logg.Error(logCtx, "consumer stopped unexpectedly", first.err)
			return fmt.Errorf("%s consumer: %w", first.name, first.err)
		}
		s.logg.Warn(logCtx, "consumer stopped")
		return first.err
	}
}

func awaitExits(exits <-chan consumerExit, n int) {
	for range n {
		<-exits
	}
}
