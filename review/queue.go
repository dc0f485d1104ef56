package review

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mbatyrev/conjugo/srs"
	"github.com/mbatyrev/conjugo/store"
)

// DefaultQueueLimit is the due queue page size when the caller passes
// none.
const DefaultQueueLimit = 20

// streakHorizonDays bounds how far back the streak walk looks.
const streakHorizonDays = 365

// QueueService serves the read side: the due queue and aggregate
// statistics. It never writes.
type QueueService struct {
	store store.Store
	limit int

	now func() time.Time
}

// QueueConfig tunes a QueueService. Zero values fall back to defaults.
type QueueConfig struct {
	// DefaultLimit is the due queue page size used when the caller asks
	// for none. Defaults to DefaultQueueLimit.
	DefaultLimit int
}

// NewQueueService creates a QueueService on top of st.
func NewQueueService(st store.Store, cfg QueueConfig) *QueueService {
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = DefaultQueueLimit
	}
	return &QueueService{
		store: st,
		limit: cfg.DefaultLimit,
		now:   time.Now,
	}
}

// DueReviews returns the user's due queue: most overdue first, ties
// broken by lower easiness so the weakest items surface first. A limit
// of zero or less uses the configured default.
func (s *QueueService) DueReviews(ctx context.Context, userID uuid.UUID, limit int) (*DueReviewResponse, error) {
	if userID == uuid.Nil {
		return nil, srs.ErrInvalidUser
	}
	if limit <= 0 {
		limit = s.limit
	}
	now := s.now()

	cards, err := s.store.Cards().ListDue(ctx, userID, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list due cards: %w", err)
	}
	total, err := s.store.Cards().CountDue(ctx, userID, now)
	if err != nil {
		return nil, fmt.Errorf("count due cards: %w", err)
	}
	next, err := s.store.Cards().NextDue(ctx, userID, now)
	if err != nil {
		return nil, fmt.Errorf("find next due date: %w", err)
	}

	items := make([]DueReviewItem, 0, len(cards))
	for i := range cards {
		c := &cards[i]
		items = append(items, DueReviewItem{
			Item:           c.Item,
			DaysOverdue:    c.DaysOverdue(now),
			Bucket:         srs.Classify(c),
			EasinessFactor: c.EasinessFactor,
			IntervalDays:   c.IntervalDays,
			SuccessRate:    c.SuccessRate(),
		})
	}

	return &DueReviewResponse{
		Items:           items,
		TotalDue:        total,
		NextUpcomingDue: next,
	}, nil
}

// Stats aggregates the user's scheduling state: how much is due, how
// cards spread over the mastery buckets, lifetime retention, today's
// review count and the current daily streak. Days are counted in UTC.
func (s *QueueService) Stats(ctx context.Context, userID uuid.UUID) (*ReviewStatsResponse, error) {
	if userID == uuid.Nil {
		return nil, srs.ErrInvalidUser
	}
	now := s.now()

	total, err := s.store.Cards().CountDue(ctx, userID, now)
	if err != nil {
		return nil, fmt.Errorf("count due cards: %w", err)
	}
	cards, err := s.store.Cards().ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list cards: %w", err)
	}

	// Only reviewed items have cards, so the new bucket is not
	// observable here and stays out of the counts.
	byBucket := map[srs.Bucket]int{
		srs.BucketLearning:  0,
		srs.BucketReviewing: 0,
		srs.BucketMastered:  0,
	}
	attempts, correct := 0, 0
	for i := range cards {
		byBucket[srs.Classify(&cards[i])]++
		attempts += cards[i].TotalAttempts
		correct += cards[i].TotalCorrect
	}
	retention := 0.0
	if attempts > 0 {
		retention = float64(correct) / float64(attempts)
	}

	today := midnightUTC(now)
	reviewedToday, err := s.store.ReviewLog().CountSince(ctx, userID, today)
	if err != nil {
		return nil, fmt.Errorf("count today's reviews: %w", err)
	}

	days, err := s.store.ReviewLog().ActiveDays(ctx, userID, today.AddDate(0, 0, -streakHorizonDays))
	if err != nil {
		return nil, fmt.Errorf("list active days: %w", err)
	}

	return &ReviewStatsResponse{
		TotalDue:      total,
		ByBucket:      byBucket,
		RetentionRate: retention,
		ReviewedToday: reviewedToday,
		StreakDays:    streakDays(days, today),
	}, nil
}

// midnightUTC returns the UTC midnight of the day containing t.
func midnightUTC(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// streakDays counts consecutive active days ending today. A day without
// reviews breaks the streak, so a user who has not reviewed today is
// back at zero.
func streakDays(days []time.Time, today time.Time) int {
	active := make(map[time.Time]struct{}, len(days))
	for _, d := range days {
		active[d] = struct{}{}
	}

	streak := 0
	for i := 0; i < streakHorizonDays; i++ {
		if _, ok := active[today.AddDate(0, 0, -i)]; !ok {
			break
		}
		streak++
	}
	return streak
}
