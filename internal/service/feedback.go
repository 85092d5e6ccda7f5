package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/boddenberg/txn-risk-engine/internal/domain"
	"github.com/boddenberg/txn-risk-engine/internal/profile"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// SubmitFeedback applies a reviewer's verdict on a PENDING alert.
//
// The alert check, the alert status change and the profile update happen
// under the entity's profile lock, so two verdicts on the same alert cannot
// both be applied. FLAGGED re-emits the alert one priority step higher.
func (s *RiskService) SubmitFeedback(ctx context.Context, ev domain.FeedbackEvent) (*domain.FeedbackResult, error) {
	ctx, span := tracer.Start(ctx, "RiskService.SubmitFeedback")
	defer span.End()
	span.SetAttributes(
		attribute.String("alert.id", ev.AlertID),
		attribute.String("feedback.disposition", string(ev.Disposition)),
	)

	start := time.Now()
	defer func() {
		s.metrics.RecordRequestDuration("feedback", time.Since(start))
	}()

	if err := checkStruct(ev); err != nil {
		return nil, err
	}

	var resolved *domain.AlertRecord
	p, err := s.profiles.Update(ctx, ev.EntityID, func(p *domain.EntityProfile) error {
		a, err := s.ports.Alerts.GetAlert(ctx, ev.AlertID)
		if err != nil {
			return err
		}
		if a.EntityID != ev.EntityID {
			return &domain.ErrValidation{Field: "entity_id", Message: "does not own the alert"}
		}
		if a.Status != domain.AlertPending {
			return &domain.ErrConflict{Message: fmt.Sprintf("alert %s is already %s", a.ID, a.Status)}
		}

		now := s.opts.Now().UTC()
		if a.Vendor != "" {
			profile.ApplyDisposition(p, ev.Disposition, a.Vendor, a.Amount, s.rules.Feedback.BandWidth, now)
		}

		a.Status = domain.AlertConfirmed
		if ev.Disposition == domain.DispositionFlagged {
			a.Status = domain.AlertFlagged
		}
		a.ResolvedAt = &now
		a.ResolvedBy = ev.ReviewerID
		if err := s.ports.Alerts.UpdateAlert(ctx, a); err != nil {
			s.metrics.IncrExternalError("alerts")
			return fmt.Errorf("update alert: %w", err)
		}
		resolved = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.metrics.IncrFeedback(ev.Disposition)

	res := &domain.FeedbackResult{Alert: resolved, ProfileVersion: p.Version}
	if ev.Disposition == domain.DispositionFlagged {
		follow := s.formatter.FollowUp(resolved, ev.Note)
		if err := s.ports.Alerts.SaveAlert(ctx, follow); err != nil {
			s.metrics.IncrExternalError("alerts")
			return nil, fmt.Errorf("save follow-up alert: %w", err)
		}
		s.publish(ctx, follow)
		res.ReEmitted = follow
	}

	s.logger.Info("feedback applied",
		zap.Bool("audit", true),
		zap.String("alert_id", ev.AlertID),
		zap.String("entity_id", ev.EntityID),
		zap.String("vendor", resolved.Vendor),
		zap.String("disposition", string(ev.Disposition)),
		zap.Int64("profile_version", p.Version),
	)
	return res, nil
}

// ============================================================
// Profiles
// ============================================================

// GetProfile returns a consistent snapshot of the entity's profile.
func (s *RiskService) GetProfile(ctx context.Context, entityID string) (*domain.EntityProfile, error) {
	ctx, span := tracer.Start(ctx, "RiskService.GetProfile")
	defer span.End()
	return s.profiles.Snapshot(ctx, entityID)
}

// RebuildProfile recomputes the entity's statistics from its stored history.
func (s *RiskService) RebuildProfile(ctx context.Context, entityID string) (*domain.EntityProfile, error) {
	ctx, span := tracer.Start(ctx, "RiskService.RebuildProfile")
	defer span.End()
	span.SetAttributes(attribute.String("entity.id", entityID))

	window, err := s.ports.History.Window(ctx, entityID, s.opts.Now(), s.opts.WindowSize)
	if err != nil {
		s.metrics.IncrExternalError("history")
		return nil, fmt.Errorf("load window: %w", err)
	}
	return s.profiles.Rebuild(ctx, entityID, window)
}

// UpdateProfileOverlay replaces the operator-supplied part of a profile.
func (s *RiskService) UpdateProfileOverlay(ctx context.Context, entityID string, o domain.ProfileOverlay) (*domain.EntityProfile, error) {
	ctx, span := tracer.Start(ctx, "RiskService.UpdateProfileOverlay")
	defer span.End()

	if err := checkStruct(o); err != nil {
		return nil, err
	}
	if f := o.Financials; f != nil && !f.AnnualRevenue.IsPositive() {
		return nil, &domain.ErrValidation{Field: "financials", Message: "annual revenue must be positive"}
	}
	return s.profiles.Update(ctx, entityID, func(p *domain.EntityProfile) error {
		p.HomeCountry = strings.ToUpper(o.HomeCountry)
		p.Financials = o.Financials
		p.RelatedParties = append([]string(nil), o.RelatedParties...)
		return nil
	})
}
