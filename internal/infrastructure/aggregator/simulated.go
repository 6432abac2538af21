// Package aggregator provides the stand-in for a banking aggregator used by the
// automated link. No network calls are made.
package aggregator

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"accountlink/internal/domain/account"
	"accountlink/internal/domain/connection"
	"accountlink/internal/shared/simulate"
)

var tracer = otel.Tracer("accountlink/aggregator")

// Config controls the simulated round trip.
type Config struct {
	MinLatency  time.Duration
	MaxLatency  time.Duration
	FailureRate float64
}

// DefaultConfig is a 1.5-3s round trip failing one time in ten.
func DefaultConfig() Config {
	return Config{
		MinLatency:  1500 * time.Millisecond,
		MaxLatency:  3000 * time.Millisecond,
		FailureRate: 0.10,
	}
}

// Simulated implements connection.Connector with synthesized accounts.
type Simulated struct {
	cfg    Config
	src    simulate.Source
	clock  clockwork.Clock
	logger *zap.Logger
}

// Ensure Simulated implements connection.Connector
var _ connection.Connector = (*Simulated)(nil)

// NewSimulated creates a simulated connector.
func NewSimulated(cfg Config, src simulate.Source, clock clockwork.Clock, logger *zap.Logger) *Simulated {
	return &Simulated{cfg: cfg, src: src, clock: clock, logger: logger}
}

// Link simulates the aggregator round trip. Checking and savings are always
// found; credit-issuing institutions add a card. Credit balances come back as
// positive amounts owed, like most aggregators report them.
func (s *Simulated) Link(ctx context.Context, inst connection.Institution) ([]account.Draft, error) {
	ctx, span := tracer.Start(ctx, "aggregator.link",
		trace.WithAttributes(attribute.String("institution.id", inst.ID)),
	)
	defer span.End()

	latency := simulate.Between(s.src, s.cfg.MinLatency, s.cfg.MaxLatency)
	if err := simulate.Wait(ctx, s.clock, latency); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	if s.src.Float64() < s.cfg.FailureRate {
		err := fmt.Errorf("%s: %w", inst.Name, connection.ErrLinkFailed)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.Info("simulated link failure", zap.String("institution", inst.ID), zap.Duration("latency", latency))
		return nil, err
	}

	routing := s.digits(9)
	drafts := []account.Draft{
		{
			Name:          inst.Name + " Checking",
			Institution:   inst.Name,
			Category:      account.CategoryChecking,
			AccountNumber: s.digits(10),
			RoutingNumber: routing,
			Balance:       s.amount(500, 15000),
		},
		{
			Name:          inst.Name + " Savings",
			Institution:   inst.Name,
			Category:      account.CategorySavings,
			AccountNumber: s.digits(10),
			RoutingNumber: routing,
			Balance:       s.amount(1000, 50000),
		},
	}
	if inst.IssuesCredit {
		drafts = append(drafts, account.Draft{
			Name:          inst.Name + " Credit Card",
			Institution:   inst.Name,
			Category:      account.CategoryCredit,
			AccountNumber: s.digits(16),
			Balance:       s.amount(0, 5000),
		})
	}

	span.SetAttributes(attribute.Int("accounts.found", len(drafts)))
	s.logger.Debug("simulated link succeeded",
		zap.String("institution", inst.ID),
		zap.Int("accounts", len(drafts)),
		zap.Duration("latency", latency),
	)
	return drafts, nil
}

func (s *Simulated) digits(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte('0' + s.src.IntN(10))
	}
	return string(b)
}

// amount draws a value in [min, max) rounded to cents.
func (s *Simulated) amount(min, max float64) decimal.Decimal {
	return decimal.NewFromFloat(simulate.Range(s.src, min, max)).Round(2)
}
