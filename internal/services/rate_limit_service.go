package services

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"bridge-backend/internal/apperrors"
	"bridge-backend/internal/metrics"
	"bridge-backend/internal/models"
	"bridge-backend/internal/repository"

	"github.com/sirupsen/logrus"
)

// RateGuard is the check-and-increment surface the orchestrators depend
// on.
type RateGuard interface {
	Check(ctx context.Context, windowType, identifier string, limit int, window time.Duration) error
}

const lockStripes = 64

// RateLimitService tracks per-identifier request counts in fixed time
// windows. The read-check-increment sequence for a single identifier is
// serialized through a striped mutex so two concurrent requests cannot
// both observe "under limit" and jointly exceed it.
type RateLimitService struct {
	store  repository.RateWindowRepository
	locks  [lockStripes]sync.Mutex
	logger *logrus.Logger
}

// NewRateLimitService creates the guard over a window store.
func NewRateLimitService(store repository.RateWindowRepository, logger *logrus.Logger) *RateLimitService {
	if logger == nil {
		logger = logrus.New()
	}
	return &RateLimitService{store: store, logger: logger}
}

func (s *RateLimitService) lockFor(windowType, identifier string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(windowType))
	h.Write([]byte{0})
	h.Write([]byte(identifier))
	return &s.locks[h.Sum32()%lockStripes]
}

// Check admits or rejects one request for (windowType, identifier).
// A blocked identifier fails with RateLimited carrying blockedUntil; a
// live window at the limit flips to blocked and fails; otherwise the
// counter is incremented (or a fresh window opened) and the request is
// admitted.
func (s *RateLimitService) Check(ctx context.Context, windowType, identifier string, limit int, window time.Duration) error {
	mu := s.lockFor(windowType, identifier)
	mu.Lock()
	defer mu.Unlock()

	now := time.Now()

	current, err := s.store.LatestFor(ctx, windowType, identifier)
	if err != nil {
		return err
	}

	if current != nil {
		if current.IsBlocked && current.BlockedUntil != nil && now.Before(*current.BlockedUntil) {
			metrics.RateLimited.WithLabelValues(windowType).Inc()
			return apperrors.RateLimited(*current.BlockedUntil)
		}

		if now.Before(current.WindowEnd) && !current.IsBlocked {
			if current.RequestCount >= limit {
				blockedUntil := now.Add(window)
				current.IsBlocked = true
				current.BlockedUntil = &blockedUntil
				if err := s.store.Save(ctx, current); err != nil {
					return err
				}
				s.logger.WithFields(logrus.Fields{
					"type":          windowType,
					"identifier":    identifier,
					"limit":         limit,
					"blocked_until": blockedUntil,
				}).Warn("rate limit exceeded, identifier blocked")
				metrics.RateLimited.WithLabelValues(windowType).Inc()
				return apperrors.RateLimited(blockedUntil)
			}
			current.RequestCount++
			return s.store.Save(ctx, current)
		}
	}

	// No live window: open a fresh one with this request counted.
	fresh := &models.RateWindow{
		Type:         windowType,
		Identifier:   identifier,
		WindowStart:  now,
		WindowEnd:    now.Add(window),
		RequestCount: 1,
	}
	return s.store.Create(ctx, fresh)
}

// PruneExpired removes windows that are no longer relevant; meant to be
// called periodically.
func (s *RateLimitService) PruneExpired(ctx context.Context, olderThan time.Duration) (int64, error) {
	return s.store.DeleteExpired(ctx, time.Now().Add(-olderThan))
}
