package lifespan

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"locallab-hq/locallab/pkg/protocol"
)

// Builder returns a Handle for app or ErrShapeMismatch.
type Builder func(app any) (Handle, error)

// Strategy is one named lifecycle calling convention.
type Strategy struct {
	Name  string
	Build Builder
}

// DefaultStrategies returns the strategy table in priority order.
func DefaultStrategies() []Strategy {
	return []Strategy{
		{Name: "lifespan-protocol", Build: buildProtocol},
		{Name: "context-hooks", Build: buildContextHooks},
		{Name: "start-stop", Build: buildStartStop},
		{Name: "plain-hooks", Build: buildPlainHooks},
		{Name: "closer", Build: buildCloser},
	}
}

func buildProtocol(app any) (Handle, error) {
	aware, ok := app.(protocol.LifespanAware)
	if !ok || !aware.SupportsLifespan() {
		return nil, ErrShapeMismatch
	}
	return newProtocolHandle(aware), nil
}

func buildContextHooks(app any) (Handle, error) {
	h, ok := app.(Handle)
	if !ok {
		return nil, ErrShapeMismatch
	}
	return h, nil
}

func buildStartStop(app any) (Handle, error) {
	a, ok := app.(interface {
		Start(ctx context.Context) error
		Stop(ctx context.Context) error
	})
	if !ok {
		return nil, ErrShapeMismatch
	}
	return startStopHandle{app: a}, nil
}

func buildPlainHooks(app any) (Handle, error) {
	a, ok := app.(interface {
		OnStartup() error
		OnShutdown() error
	})
	if !ok {
		return nil, ErrShapeMismatch
	}
	return plainHooksHandle{app: a}, nil
}

func buildCloser(app any) (Handle, error) {
	c, ok := app.(io.Closer)
	if !ok {
		return nil, ErrShapeMismatch
	}
	return closerHandle{c: c}, nil
}

// Negotiator picks a lifespan Handle for an application.
type Negotiator struct {
	strategies []Strategy
	logger     *slog.Logger
}

// NewNegotiator creates a Negotiator. With no strategies the default table
// is used.
func NewNegotiator(logger *slog.Logger, strategies ...Strategy) *Negotiator {
	if logger == nil {
		logger = slog.Default()
	}
	if len(strategies) == 0 {
		strategies = DefaultStrategies()
	}
	return &Negotiator{
		strategies: strategies,
		logger:     logger.With("component", "lifespan"),
	}
}

// Negotiate returns the handle of the first matching strategy and its name.
// Builder panics and errors count as a mismatch. With no match a Noop handle
// is returned under NoopName.
func (n *Negotiator) Negotiate(app any) (Handle, string) {
	for _, s := range n.strategies {
		h, err := n.try(s, app)
		if err != nil {
			n.logger.Debug("lifespan strategy rejected", "strategy", s.Name, "error", err)
			continue
		}
		n.logger.Info("lifespan strategy selected", "strategy", s.Name)
		return guard(h), s.Name
	}

	n.logger.Warn("no lifespan strategy matched the application", "tried", len(n.strategies))
	return guard(NewNoop(n.logger)), NoopName
}

func (n *Negotiator) try(s Strategy, app any) (h Handle, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			n.logger.Warn("lifespan strategy panicked", "strategy", s.Name, "panic", rec)
			h, err = nil, fmt.Errorf("%w: builder panic: %v", ErrShapeMismatch, rec)
		}
	}()

	h, err = s.Build(app)
	if err == nil && h == nil {
		err = ErrShapeMismatch
	}
	return h, err
}
