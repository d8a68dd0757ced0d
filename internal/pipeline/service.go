// Package pipeline orchestrates one subject's run through ingestion,
// classification and scoring, emitting progress at each stage boundary.
package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/powlabs/proofwork/internal/classifier"
	"github.com/powlabs/proofwork/internal/ingest"
	"github.com/powlabs/proofwork/internal/progress"
	"github.com/powlabs/proofwork/internal/scoring"
	"github.com/powlabs/proofwork/internal/store"
	"github.com/powlabs/proofwork/internal/types"
)

// Service wires the pipeline components for request-driven invocations.
// Each invocation runs to completion or failure for one subject; periodic
// re-invocation is an external scheduler's responsibility.
type Service struct {
	ingestor *ingest.Ingestor
	gateway  *classifier.Gateway
	engine   *scoring.Engine
	store    store.Store
	progress progress.Store
}

// NewService creates a pipeline service.
func NewService(ingestor *ingest.Ingestor, gateway *classifier.Gateway, engine *scoring.Engine, st store.Store, pr progress.Store) *Service {
	return &Service{
		ingestor: ingestor,
		gateway:  gateway,
		engine:   engine,
		store:    st,
		progress: pr,
	}
}

// GenerateProfile runs the full pipeline for one subject: complete history
// ingestion, normalization, ownership validation, skill extraction, scoring
// and persistence.
func (s *Service) GenerateProfile(ctx context.Context, subject string, monthsBack int) (*types.PoWProfile, error) {
	s.setProgress(ctx, subject, progress.StageFetching, "fetching activity history", 10)

	ingested, err := s.ingestor.IngestFull(ctx, subject, monthsBack)
	if err != nil {
		s.setProgress(ctx, subject, progress.StageFailed, "activity fetch failed", 100)
		return nil, err
	}

	s.setProgress(ctx, subject, progress.StageFetching, "normalizing artifacts", 40)

	artifacts := ingest.Normalize(ingested, subject)
	validated := ingest.ValidateOwnership(artifacts)

	if err := s.store.SaveArtifacts(ctx, subject, validated); err != nil {
		// Persistence trouble degrades durability, not the run itself.
		slog.Warn("artifact persistence failed, continuing", "subject", subject, "error", err)
	}

	return s.classifyAndScore(ctx, subject, validated, monthsBack)
}

// GenerateProfileFast runs the low-latency variant: bounded fast ingestion
// with the event feed as the commit/PR source. It trades completeness for
// speed and is meant for initial profile generation.
func (s *Service) GenerateProfileFast(ctx context.Context, subject string, monthsBack int) (*types.PoWProfile, error) {
	s.setProgress(ctx, subject, progress.StageFetching, "fetching recent activity", 10)

	fast, err := s.ingestor.IngestFast(ctx, subject, monthsBack)
	if err != nil {
		s.setProgress(ctx, subject, progress.StageFailed, "activity fetch failed", 100)
		return nil, err
	}

	s.setProgress(ctx, subject, progress.StageFetching, "normalizing artifacts", 40)

	artifacts := ingest.NormalizeFast(fast, subject)
	validated := ingest.ValidateOwnership(artifacts)

	if err := s.store.SaveArtifacts(ctx, subject, validated); err != nil {
		slog.Warn("artifact persistence failed, continuing", "subject", subject, "error", err)
	}

	return s.classifyAndScore(ctx, subject, validated, monthsBack)
}

func (s *Service) classifyAndScore(ctx context.Context, subject string, validated []types.Artifact, monthsBack int) (*types.PoWProfile, error) {
	s.setProgress(ctx, subject, progress.StageAnalyzing, "extracting skills", 50)

	window := time.Duration(monthsBack) * 30 * 24 * time.Hour
	extraction, err := s.gateway.ExtractSkills(ctx, subject, validated, window)
	if err != nil {
		// Only absent provider configuration reaches here; it is fatal by
		// contract at first classifier use.
		s.setProgress(ctx, subject, progress.StageFailed, "classifier not configured", 100)
		return nil, err
	}

	s.setProgress(ctx, subject, progress.StageScoring, "computing proof-of-work scores", 80)

	profile, err := s.engine.GenerateProfile(ctx, subject, validated, extraction)
	if err != nil {
		s.setProgress(ctx, subject, progress.StageFailed, "scoring failed", 100)
		return nil, err
	}

	s.setProgress(ctx, subject, progress.StageScoring, "persisting profile", 95)

	if err := s.store.SaveProfile(ctx, subject, profile, len(validated)); err != nil {
		slog.Warn("profile persistence failed, returning profile anyway", "subject", subject, "error", err)
	}

	s.setProgress(ctx, subject, progress.StageComplete, "profile ready", 100)
	return profile, nil
}

// Progress returns the subject's live pipeline state, if any.
func (s *Service) Progress(ctx context.Context, subject string) (types.ProgressState, bool, error) {
	return s.progress.Get(ctx, subject)
}

// StoredProfile returns the subject's last persisted profile.
func (s *Service) StoredProfile(ctx context.Context, subject string) (*types.PoWProfile, error) {
	return s.store.GetProfile(ctx, subject)
}

func (s *Service) setProgress(ctx context.Context, subject, stage, message string, percent int) {
	if err := s.progress.Set(ctx, subject, stage, message, percent); err != nil {
		slog.Warn("progress update failed", "subject", subject, "stage", stage, "error", err)
	}
}
