// Package review orchestrates the scheduling engine, the difficulty
// manager and the store into the operations the rest of the platform
// calls: grading a submitted answer, previewing outcomes, serving the
// due queue and aggregating statistics.
package review

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mbatyrev/conjugo/difficulty"
	"github.com/mbatyrev/conjugo/srs"
	"github.com/mbatyrev/conjugo/store"
)

// DefaultMaxSaveAttempts bounds the reload-and-retry loop around
// versioned saves.
const DefaultMaxSaveAttempts = 3

// Service processes graded answers. Two submissions for the same card
// may race; the versioned save plus the retry loop makes the result
// equal to processing them one after the other.
type Service struct {
	store    store.Store
	engine   *srs.Engine
	manager  *difficulty.Manager
	derive   srs.Thresholds
	attempts int
	logger   *zap.Logger

	now func() time.Time
}

// ServiceConfig tunes a Service. Zero values fall back to defaults.
type ServiceConfig struct {
	// Thresholds split response times when deriving a quality grade.
	Thresholds srs.Thresholds

	// MaxSaveAttempts bounds the version conflict retry loop. Defaults
	// to DefaultMaxSaveAttempts.
	MaxSaveAttempts int

	Logger *zap.Logger
}

// NewService creates a review Service on top of st.
func NewService(st store.Store, engine *srs.Engine, manager *difficulty.Manager, cfg ServiceConfig) *Service {
	if cfg.Thresholds == (srs.Thresholds{}) {
		cfg.Thresholds = srs.DefaultThresholds()
	}
	if cfg.MaxSaveAttempts <= 0 {
		cfg.MaxSaveAttempts = DefaultMaxSaveAttempts
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Service{
		store:    st,
		engine:   engine,
		manager:  manager,
		derive:   cfg.Thresholds,
		attempts: cfg.MaxSaveAttempts,
		logger:   cfg.Logger,
		now:      time.Now,
	}
}

// ProcessReview grades one submission: it derives the quality grade,
// advances the card's SM-2 state, appends the review to the history and
// folds the outcome into the user's difficulty profile.
//
// The card update and the history entry commit together. The difficulty
// update runs after and on its own; if it fails the review stays
// processed and the failure is only logged, so a flaky profile row can
// never lose a graded answer.
func (s *Service) ProcessReview(ctx context.Context, userID uuid.UUID, sub Submission) (*ProcessReviewResult, error) {
	if userID == uuid.Nil {
		return nil, srs.ErrInvalidUser
	}
	if err := sub.Validate(); err != nil {
		return nil, err
	}

	q, err := s.derive.Derive(sub.Correct, sub.ResponseTime(), sub.HintUsed)
	if err != nil {
		return nil, err
	}

	now := s.now()
	card, err := s.saveReview(ctx, userID, sub, q, now)
	if err != nil {
		return nil, err
	}

	tier, change := s.recordDifficulty(ctx, userID, sub, now)

	return &ProcessReviewResult{
		Item:            card.Item,
		Quality:         q,
		NextReviewDate:  card.DueDate,
		IntervalDays:    card.IntervalDays,
		Repetitions:     card.Repetitions,
		EasinessFactor:  card.EasinessFactor,
		Bucket:          srs.Classify(&card),
		DifficultyLevel: tier,
		TierChange:      change,
	}, nil
}

// saveReview is the serialized read-modify-write for one card. Each
// attempt reloads the card inside its own transaction, so after a lost
// race the recomputation starts from the winner's state.
func (s *Service) saveReview(ctx context.Context, userID uuid.UUID, sub Submission, q srs.Quality, now time.Time) (srs.Card, error) {
	var saved srs.Card
	for attempt := 1; ; attempt++ {
		err := s.store.WithinTx(ctx, func(ctx context.Context, st store.Store) error {
			prev, version, err := st.Cards().Get(ctx, userID, sub.Item)
			if err != nil {
				return err
			}

			next, err := s.engine.Compute(prev, q, now)
			if err != nil {
				return err
			}
			next.UserID = userID
			next.Item = sub.Item

			if err := st.Cards().Save(ctx, &next, version); err != nil {
				return err
			}

			entry := &store.ReviewEntry{
				ID:             uuid.New(),
				UserID:         userID,
				Item:           sub.Item,
				Quality:        q,
				Correct:        sub.Correct,
				ResponseTimeMs: sub.ResponseTimeMs,
				HintUsed:       sub.HintUsed,
				Tier:           sub.Tier,
				ReviewedAt:     now,
			}
			if err := st.ReviewLog().Insert(ctx, entry); err != nil {
				return err
			}

			saved = next
			return nil
		})
		if err == nil {
			return saved, nil
		}
		if !errors.Is(err, store.ErrConflict) || attempt >= s.attempts {
			return srs.Card{}, fmt.Errorf("process review for item %s: %w", sub.Item, err)
		}
		s.logger.Debug("card version conflict, retrying",
			zap.String("user_id", userID.String()),
			zap.String("item", sub.Item.String()),
			zap.Int("attempt", attempt),
		)
	}
}

// recordDifficulty folds the outcome into the user's profile. Failures
// are logged and swallowed; the returned tier then falls back to the
// tier the exercise was served at.
func (s *Service) recordDifficulty(ctx context.Context, userID uuid.UUID, sub Submission, now time.Time) (difficulty.Tier, *difficulty.Change) {
	tier, change, err := s.applyDifficulty(ctx, userID, sub, now)
	if err != nil {
		s.logger.Warn("recording difficulty attempt failed",
			zap.String("user_id", userID.String()),
			zap.Error(err),
		)
		return sub.Tier, nil
	}
	if change != nil {
		s.logger.Info("difficulty tier changed",
			zap.String("user_id", userID.String()),
			zap.String("from", change.From.String()),
			zap.String("to", change.To.String()),
		)
	}
	return tier, change
}

func (s *Service) applyDifficulty(ctx context.Context, userID uuid.UUID, sub Submission, now time.Time) (difficulty.Tier, *difficulty.Change, error) {
	for attempt := 1; ; attempt++ {
		p, version, err := s.store.Profiles().Get(ctx, userID)
		if err != nil {
			return 0, nil, fmt.Errorf("load profile: %w", err)
		}
		if p == nil {
			p = difficulty.NewProfile(userID)
		}

		// RecordAttempt moves p.Tier when a change fires, so whether the
		// attempt was off-tier is decided against the tier as loaded.
		offTier := sub.Tier != p.Tier

		change, err := s.manager.RecordAttempt(p, sub.Tier, sub.Correct)
		if err != nil {
			return 0, nil, err
		}
		if offTier && version != 0 {
			// The stored profile is untouched, nothing to write.
			return p.Tier, nil, nil
		}

		p.UpdatedAt = now
		err = s.store.Profiles().Save(ctx, p, version)
		if err == nil {
			return p.Tier, change, nil
		}
		if !errors.Is(err, store.ErrConflict) || attempt >= s.attempts {
			return 0, nil, fmt.Errorf("save profile: %w", err)
		}
	}
}

// Preview returns the schedule each quality grade would produce for an
// item, worst grade first, without writing anything.
func (s *Service) Preview(ctx context.Context, userID uuid.UUID, item srs.ItemKey) ([]PreviewOutcome, error) {
	if userID == uuid.Nil {
		return nil, srs.ErrInvalidUser
	}
	if err := item.Validate(); err != nil {
		return nil, err
	}

	prev, _, err := s.store.Cards().Get(ctx, userID, item)
	if err != nil {
		return nil, fmt.Errorf("preview item %s: %w", item, err)
	}

	outcomes := s.engine.Preview(prev, s.now())
	out := make([]PreviewOutcome, 0, len(outcomes))
	for q := srs.QualityBlackout; q <= srs.QualityPerfect; q++ {
		c, ok := outcomes[q]
		if !ok {
			continue
		}
		out = append(out, PreviewOutcome{
			Quality:        q,
			NextReviewDate: c.DueDate,
			IntervalDays:   c.IntervalDays,
			Bucket:         srs.Classify(&c),
		})
	}
	return out, nil
}

// ResetProgress erases a user's scheduling state: cards, difficulty
// profile and review history, in one transaction.
func (s *Service) ResetProgress(ctx context.Context, userID uuid.UUID) error {
	if userID == uuid.Nil {
		return srs.ErrInvalidUser
	}

	err := s.store.WithinTx(ctx, func(ctx context.Context, st store.Store) error {
		if err := st.Cards().DeleteByUser(ctx, userID); err != nil {
			return err
		}
		if err := st.Profiles().DeleteByUser(ctx, userID); err != nil {
			return err
		}
		return st.ReviewLog().DeleteByUser(ctx, userID)
	})
	if err != nil {
		return fmt.Errorf("reset progress: %w", err)
	}

	s.logger.Info("user progress reset", zap.String("user_id", userID.String()))
	return nil
}
