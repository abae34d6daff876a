// Package sweep reconciles artifacts left in a partial state. Placeholder
// records past their grace period either get their bytes pulled into the
// blob store or, when the bytes are unreachable, are purged so readers stop
// resolving them.
package sweep

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/kestrelhq/kestrel/internal/artifact"
	"github.com/kestrelhq/kestrel/internal/fault"
	"github.com/kestrelhq/kestrel/internal/log"
	"github.com/kestrelhq/kestrel/internal/metadata"
)

// Lifecycle is the artifact manager surface the sweeper consumes.
type Lifecycle interface {
	Materialize(ctx context.Context, id uuid.UUID) (*artifact.Artifact, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// PlaceholderLister finds stale placeholder records.
type PlaceholderLister interface {
	ListPlaceholdersOlderThan(ctx context.Context, cutoff time.Time, limit int32) ([]*metadata.ArtifactRecord, error)
}

// Config controls sweep cadence and reach.
type Config struct {
	// Interval is the wait between sweep passes.
	Interval time.Duration

	// GracePeriod is how old a placeholder must be before the sweeper
	// touches it. Young placeholders are usually mid-materialization.
	GracePeriod time.Duration

	// BatchSize caps the records handled per pass.
	BatchSize int32
}

// DefaultConfig returns the production sweep cadence.
func DefaultConfig() Config {
	return Config{
		Interval:    5 * time.Minute,
		GracePeriod: 15 * time.Minute,
		BatchSize:   100,
	}
}

// Sweeper periodically reconciles stale placeholders.
type Sweeper struct {
	lifecycle Lifecycle
	lister    PlaceholderLister
	cfg       Config
	logger    log.Logger
}

// New creates a Sweeper. Zero Config fields fall back to defaults, logger
// may be nil.
func New(lifecycle Lifecycle, lister PlaceholderLister, cfg Config, logger log.Logger) *Sweeper {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = def.GracePeriod
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Sweeper{lifecycle: lifecycle, lister: lister, cfg: cfg, logger: logger}
}

// Run sweeps on a fixed interval until ctx is cancelled. Pass failures are
// logged and the next tick proceeds; Run only returns the ctx error.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.SweepOnce(ctx); err != nil {
				s.logger.Warn("sweep pass failed", "error", err)
			}
		}
	}
}

// SweepOnce runs a single reconciliation pass. Placeholders with a provider
// file id are materialized; those without one cannot ever be completed and
// are purged. Per-record failures are logged and the pass continues.
func (s *Sweeper) SweepOnce(ctx context.Context) error {
	const op = "sweep.pass"

	cutoff := time.Now().UTC().Add(-s.cfg.GracePeriod)
	stale, err := s.lister.ListPlaceholdersOlderThan(ctx, cutoff, s.cfg.BatchSize)
	if err != nil {
		return fault.Restamp(op, "list_placeholders", err)
	}

	var materialized, purged, failed int
	for _, rec := range stale {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if rec.ExternalFileID == "" {
			if err := s.lifecycle.Delete(ctx, rec.ID); err != nil {
				failed++
				s.logger.Warn("purge of dead placeholder failed",
					"artifact_id", rec.ID, "error", err)
				continue
			}
			purged++
			continue
		}
		if _, err := s.lifecycle.Materialize(ctx, rec.ID); err != nil {
			failed++
			s.logger.Warn("placeholder materialization failed",
				"artifact_id", rec.ID,
				"file_id", rec.ExternalFileID,
				"error", err)
			continue
		}
		materialized++
	}

	if len(stale) > 0 {
		s.logger.Info("sweep pass finished",
			"stale", len(stale),
			"materialized", materialized,
			"purged", purged,
			"failed", failed)
	}
	return nil
}
