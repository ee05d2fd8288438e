package service

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/finmetrics/grounding/internal/api/request"
	"github.com/finmetrics/grounding/internal/apperrors"
	"github.com/finmetrics/grounding/internal/grounding"
	"github.com/finmetrics/grounding/internal/model"
)

// ClaimsService verifies numeric claims against supplied or stored series.
type ClaimsService struct {
	verifier *grounding.Verifier
	facts    *FactService
	logger   *log.Logger
}

// NewClaimsService creates a new ClaimsService. facts may be nil, in which
// case every series must be supplied inline.
func NewClaimsService(verifier *grounding.Verifier, facts *FactService, logger *log.Logger) *ClaimsService {
	return &ClaimsService{
		verifier: verifier,
		facts:    facts,
		logger:   logger,
	}
}

// Verify checks every claim. With grounded set, any claim that fails turns
// the whole request into a claims_not_grounded error carrying all verdicts,
// so no caller can present a mix of proven and unproven numbers.
func (s *ClaimsService) Verify(ctx context.Context, req request.VerifyClaimsRequest) (grounding.Report, error) {
	gctx, err := s.buildContext(ctx, req.Context)
	if err != nil {
		return grounding.Report{}, err
	}

	report := s.verifier.Verify(req.Claims, gctx)

	failed := []string{}
	for _, r := range report.Results {
		if !r.Verified {
			failed = append(failed, r.ClaimID)
		}
	}
	s.logger.Debug("verified claims", "claims", len(req.Claims), "failed", len(failed), "grounded", req.Grounded)

	if req.Grounded && !report.AllVerified {
		return report, apperrors.New(apperrors.KindClaimsNotGrounded,
			fmt.Sprintf("%d of %d claims could not be grounded", len(failed), len(report.Results))).
			With("failed_claims", failed).
			With("results", report.Results)
	}
	return report, nil
}

func (s *ClaimsService) buildContext(ctx context.Context, c request.ClaimsContext) (grounding.Context, error) {
	out := grounding.Context{Series: make([]grounding.Series, 0, len(c.Series))}
	for _, def := range c.Series {
		// Caller-supplied points default to monthly; stored filing series
		// are quarterly unless asked otherwise.
		freq := model.FrequencyMonthly
		if len(def.Points) == 0 {
			freq = model.FrequencyQuarterly
		}
		if def.Freq != "" {
			f, err := model.ParseFrequency(def.Freq)
			if err != nil {
				return grounding.Context{}, apperrors.Wrap(apperrors.KindInvalidRequest, err,
					fmt.Sprintf("series %s: %v", def.ID, err))
			}
			freq = f
		}

		if len(def.Points) > 0 {
			out.Series = append(out.Series, grounding.Series{ID: def.ID, Frequency: freq, Points: def.Points})
			continue
		}

		points, err := s.storedPoints(ctx, def, freq)
		if err != nil {
			return grounding.Context{}, err
		}
		out.Series = append(out.Series, grounding.Series{ID: def.ID, Frequency: freq, Points: points})
	}
	return out, nil
}

// storedPoints loads a series from the fact store.
func (s *ClaimsService) storedPoints(ctx context.Context, def request.SeriesSpec, freq model.Frequency) ([]grounding.Point, error) {
	if s.facts == nil {
		return nil, apperrors.New(apperrors.KindInvalidRequest,
			fmt.Sprintf("series %s has no points and no fact store is available", def.ID))
	}
	stored, err := s.facts.Series(ctx, SeriesQuery{
		IssuerID:  def.Issuer,
		Concept:   def.Concept,
		Frequency: freq,
		Limit:     def.Limit,
	})
	if err != nil {
		return nil, err
	}
	points := make([]grounding.Point, 0, len(stored))
	for _, p := range stored {
		d, err := grounding.ParseDate(p.PeriodEnd)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.KindDataIntegrity, err, "stored period end is not a date")
		}
		points = append(points, grounding.Point{Date: d, Value: p.Value})
	}
	return points, nil
}
