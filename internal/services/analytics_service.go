package services

import (
	"context"
	"fmt"
	"time"

	"consular/internal/analytics"
	"consular/internal/core"
	"consular/internal/grouping"
	"consular/internal/storage"
)

// AnalyticsService serves derived views over the store. Every view is
// computed from the records as stored, with excluded services dropped
// and grouping applied at read time. Results are memoized per store
// watermark, so repeated reads between loads hit the cache and any
// mutation starts a fresh generation.
type AnalyticsService struct {
	storage *storage.SQLiteRepository
	rules   *grouping.Ruleset

	recordCache *analytics.ResultCache[[]core.Record]
	bucketCache *analytics.ResultCache[[]analytics.TimeBucket]
}

func NewAnalyticsService(storage *storage.SQLiteRepository, rules *grouping.Ruleset, cacheSize int, cacheTTL time.Duration) *AnalyticsService {
	if rules == nil {
		rules = grouping.DefaultRuleset()
	}
	return &AnalyticsService{
		storage:     storage,
		rules:       rules,
		recordCache: analytics.NewResultCache[[]core.Record](cacheSize, cacheTTL),
		bucketCache: analytics.NewResultCache[[]analytics.TimeBucket](cacheSize, cacheTTL),
	}
}

// records returns the grouped analytic view of the full store.
func (s *AnalyticsService) records(ctx context.Context) ([]core.Record, error) {
	key := analytics.Key(s.storage.Watermark(), "grouped")
	if cached, ok := s.recordCache.Get(key); ok {
		return cached, nil
	}

	raw, err := s.storage.AllRecords(ctx)
	if err != nil {
		return nil, fmt.Errorf("load records: %w", err)
	}
	grouped := s.rules.ApplyToRecords(raw)
	s.recordCache.Set(key, grouped)
	return grouped, nil
}

// TimeSeries aggregates revenue and transactions per calendar bucket.
func (s *AnalyticsService) TimeSeries(ctx context.Context, g analytics.Granularity) ([]analytics.TimeBucket, error) {
	key := analytics.Key(s.storage.Watermark(), "time", g)
	if cached, ok := s.bucketCache.Get(key); ok {
		return cached, nil
	}

	records, err := s.records(ctx)
	if err != nil {
		return nil, err
	}
	buckets := analytics.AggregateByTime(records, g)
	s.bucketCache.Set(key, buckets)
	return buckets, nil
}

// TopServices ranks services by the metric.
func (s *AnalyticsService) TopServices(ctx context.Context, metric analytics.Metric, topN int) ([]analytics.ServiceTotal, error) {
	records, err := s.records(ctx)
	if err != nil {
		return nil, err
	}
	return analytics.AggregateByService(records, metric, topN), nil
}

// Dispersion reports per-day mean and spread of the metric.
func (s *AnalyticsService) Dispersion(ctx context.Context, metric analytics.Metric) (analytics.Dispersion, error) {
	records, err := s.records(ctx)
	if err != nil {
		return analytics.Dispersion{}, err
	}
	return analytics.DailyDispersion(records, metric), nil
}

// WeekdayProfile reports mean daily volumes per weekday.
func (s *AnalyticsService) WeekdayProfile(ctx context.Context) (analytics.WeekdayProfile, error) {
	records, err := s.records(ctx)
	if err != nil {
		return analytics.WeekdayProfile{}, err
	}
	return analytics.ComputeWeekdayProfile(records), nil
}

// CompareYears puts the years side by side over the period.
func (s *AnalyticsService) CompareYears(ctx context.Context, years []int, p analytics.Period) (*analytics.Comparison, error) {
	records, err := s.records(ctx)
	if err != nil {
		return nil, err
	}
	return analytics.Compare(records, years, p)
}

// OverlayYears builds per-year overlay series over a shared axis.
func (s *AnalyticsService) OverlayYears(ctx context.Context, years []int, p analytics.Period, axis analytics.OverlayAxis, metric analytics.Metric, service string) ([]analytics.OverlaySeries, error) {
	records, err := s.records(ctx)
	if err != nil {
		return nil, err
	}
	return analytics.Overlay(records, years, p, axis, metric, service), nil
}
