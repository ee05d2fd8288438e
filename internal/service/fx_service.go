package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/shopspring/decimal"

	"github.com/finmetrics/grounding/internal/apperrors"
	"github.com/finmetrics/grounding/internal/cache"
	"github.com/finmetrics/grounding/internal/ecb"
	"github.com/finmetrics/grounding/internal/model"
	"github.com/finmetrics/grounding/internal/repository"
	"github.com/finmetrics/grounding/internal/units"
	"github.com/finmetrics/grounding/internal/upstream"
)

// DefaultWalkBackBusinessDays bounds how far a rate may be snapped backwards.
const DefaultWalkBackBusinessDays = 14

const euro = "EUR"

// legKey identifies one EUR leg request: the currency and the date asked for.
type legKey struct {
	Currency string
	Date     string
}

// leg is the observation chosen for a legKey.
type leg struct {
	Rate     model.FXRate
	Degraded bool
}

func legEqual(a, b leg) bool {
	return a.Rate.Equal(b.Rate)
}

// FXService converts monetary values between currencies using published
// euro reference rates. Every pair is crossed through EUR.
type FXService struct {
	rateRepo *repository.FXRateRepository
	client   ecb.Client
	guard    *upstream.Guard
	legs     *cache.Cache[legKey, leg]
	walkBack int
	logger   *log.Logger
}

// NewFXService creates a new FXService. legs may be shared between services.
func NewFXService(
	rateRepo *repository.FXRateRepository,
	client ecb.Client,
	guard *upstream.Guard,
	ttl time.Duration,
	walkBack int,
	logger *log.Logger,
) *FXService {
	if walkBack <= 0 {
		walkBack = DefaultWalkBackBusinessDays
	}
	return &FXService{
		rateRepo: rateRepo,
		client:   client,
		guard:    guard,
		legs:     cache.New[legKey, leg]("fx", ttl, cache.WithEqual[legKey, leg](legEqual)),
		walkBack: walkBack,
		logger:   logger,
	}
}

// CacheStats reports the leg cache counters.
func (s *FXService) CacheStats() model.CacheStats {
	return s.legs.Stats()
}

// PruneCache drops expired legs.
func (s *FXService) PruneCache() int {
	return s.legs.Prune()
}

// Normalize converts value from one currency to another at the rate in
// force on asOf. Same-currency calls return the value untouched and no
// citation.
func (s *FXService) Normalize(ctx context.Context, value decimal.Decimal, from, to string, asOf time.Time) (decimal.Decimal, *model.Citation, error) {
	from, to = strings.ToUpper(from), strings.ToUpper(to)
	if from == to {
		return value, nil, nil
	}
	prov, err := s.Rate(ctx, from, to, asOf)
	if err != nil {
		return decimal.Zero, nil, err
	}
	citation := &model.Citation{
		Source:    model.CitationSourceFX,
		URL:       fxSeriesURL(from, to),
		Unit:      to + "/" + from,
		PeriodEnd: prov.Date,
		FXUsed:    prov,
	}
	return value.Mul(prov.Rate), citation, nil
}

// Rate returns the provenance of the from→to rate for asOf. The rate is
// units of to per one unit of from.
func (s *FXService) Rate(ctx context.Context, from, to string, asOf time.Time) (*model.FXProvenance, error) {
	for _, ccy := range []string{from, to} {
		if !units.ValidCurrency(ccy) {
			return nil, apperrors.New(apperrors.KindInvalidRequest, fmt.Sprintf("unknown currency %q", ccy))
		}
	}
	asOf = truncateDay(asOf)

	prov := &model.FXProvenance{
		Pair:          from + "/" + to,
		From:          from,
		To:            to,
		RequestedDate: asOf.Format(model.DateLayout),
		Source:        ecb.SourceName,
		Dataset:       ecb.Dataset,
		Method:        ecb.Method,
	}

	// Both legs are units of currency per EUR.
	fromRate, toRate := decimal.NewFromInt(1), decimal.NewFromInt(1)
	oldest := asOf
	for _, ccy := range []string{from, to} {
		if ccy == euro {
			continue
		}
		l, err := s.leg(ctx, ccy, asOf)
		if err != nil {
			return nil, err
		}
		prov.Legs = append(prov.Legs, model.FXLeg{
			Base:  euro,
			Quote: ccy,
			Date:  l.Rate.Date.Format(model.DateLayout),
			Rate:  l.Rate.Rate,
		})
		prov.Degraded = prov.Degraded || l.Degraded
		if l.Rate.Date.Before(oldest) {
			oldest = l.Rate.Date
		}
		if ccy == from {
			fromRate = l.Rate.Rate
		} else {
			toRate = l.Rate.Rate
		}
	}

	prov.Rate = toRate.Div(fromRate)
	prov.Date = oldest.Format(model.DateLayout)
	return prov, nil
}

// leg returns the EUR→ccy observation for asOf, snapping backwards within
// the walk-back window. When the reference source is unavailable the
// stored rates are used and the leg is marked degraded.
func (s *FXService) leg(ctx context.Context, ccy string, asOf time.Time) (leg, error) {
	key := legKey{Currency: ccy, Date: asOf.Format(model.DateLayout)}
	earliest := subtractBusinessDays(asOf, s.walkBack)

	l, err := s.legs.GetOrFetch(ctx, key, func(fctx context.Context) (leg, error) {
		return s.fetchLeg(fctx, ccy, asOf, earliest)
	})
	if err == nil {
		return l, nil
	}
	if apperrors.KindOf(err) != apperrors.KindUpstreamUnavailable {
		return leg{}, err
	}

	// Degraded: serve what is already known.
	if stale, ok := s.legs.GetStale(key); ok {
		stale.Degraded = true
		return stale, nil
	}
	stored, rerr := s.rateRepo.LatestOnOrBefore(ctx, euro, ccy, asOf, earliest)
	if rerr == nil {
		s.logger.Warn("serving stored fx rate while reference source is unavailable",
			"currency", ccy, "requested", key.Date, "date", stored.Date.Format(model.DateLayout))
		return leg{Rate: stored, Degraded: true}, nil
	}
	return leg{}, err
}

func (s *FXService) fetchLeg(ctx context.Context, ccy string, asOf, earliest time.Time) (leg, error) {
	exact, err := s.rateRepo.GetRate(ctx, euro, ccy, asOf)
	if err == nil {
		return leg{Rate: exact}, nil
	}
	if !errors.Is(err, apperrors.ErrFXRateNotFound) {
		return leg{}, err
	}

	var observations []ecb.Observation
	err = s.guard.Do(ctx, func(cctx context.Context) error {
		var qerr error
		observations, qerr = s.client.QueryRates(cctx, ccy, earliest, asOf)
		return qerr
	})
	if err != nil {
		return leg{}, err
	}

	now := time.Now().UTC()
	rates := make([]model.FXRate, 0, len(observations))
	for _, o := range observations {
		rates = append(rates, model.FXRate{
			BaseCurrency:  euro,
			QuoteCurrency: ccy,
			Date:          o.Date,
			Rate:          o.Rate,
			SourceDataset: ecb.Dataset,
			Method:        "reference",
			FetchedAt:     now,
		})
	}
	if err := s.rateRepo.SaveRates(ctx, rates); err != nil {
		return leg{}, err
	}

	var best *model.FXRate
	for i := range rates {
		r := &rates[i]
		if r.Date.After(asOf) || r.Date.Before(earliest) {
			continue
		}
		if best == nil || r.Date.After(best.Date) {
			best = r
		}
	}
	if best == nil {
		return leg{}, apperrors.New(apperrors.KindFXUnavailable,
			fmt.Sprintf("no %s/%s reference rate within %d business days of %s",
				euro, ccy, s.walkBack, asOf.Format(model.DateLayout))).
			With("pair", euro+"/"+ccy).
			With("requested_date", asOf.Format(model.DateLayout)).
			With("earliest_checked", earliest.Format(model.DateLayout)).
			With("walkback_business_days", s.walkBack)
	}

	if !best.Date.Equal(asOf) {
		s.logger.Debug("snapped fx rate", "currency", ccy,
			"requested", asOf.Format(model.DateLayout), "date", best.Date.Format(model.DateLayout))
	}
	return leg{Rate: *best}, nil
}

func fxSeriesURL(from, to string) string {
	if from == euro {
		return ecb.SeriesURL(to)
	}
	return ecb.SeriesURL(from)
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// subtractBusinessDays steps back n weekdays from t.
func subtractBusinessDays(t time.Time, n int) time.Time {
	for n > 0 {
		t = t.AddDate(0, 0, -1)
		if wd := t.Weekday(); wd != time.Saturday && wd != time.Sunday {
			n--
		}
	}
	return t
}
