package review

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/mbatyrev/conjugo/difficulty"
	"github.com/mbatyrev/conjugo/srs"
	"github.com/mbatyrev/conjugo/store"
	"github.com/mbatyrev/conjugo/store/memory"
)

var t0 = time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC)

var drill = srs.ItemKey{VerbID: 42, Tense: "presente", Person: "yo"}

func testService(st store.Store) *Service {
	svc := NewService(st, srs.NewEngine(srs.EngineConfig{}), difficulty.NewManager(difficulty.Config{}), ServiceConfig{})
	svc.now = func() time.Time { return t0 }
	return svc
}

func answer(item srs.ItemKey, correct bool) Submission {
	return Submission{Item: item, Correct: correct, ResponseTimeMs: 1500, Tier: difficulty.Beginner}
}

func TestProcessReviewFirstPerfect(t *testing.T) {
	st := memory.NewStore()
	svc := testService(st)
	ctx := context.Background()
	userID := uuid.New()

	res, err := svc.ProcessReview(ctx, userID, answer(drill, true))
	require.NoError(t, err)

	require.Equal(t, drill, res.Item)
	require.Equal(t, srs.QualityPerfect, res.Quality)
	require.Equal(t, 1, res.Repetitions)
	require.Equal(t, 1, res.IntervalDays)
	require.Equal(t, 2.5, res.EasinessFactor)
	require.Equal(t, t0.AddDate(0, 0, 1), res.NextReviewDate)
	require.Equal(t, srs.BucketMastered, res.Bucket)
	require.Equal(t, difficulty.Beginner, res.DifficultyLevel)
	require.Nil(t, res.TierChange)

	card, version, err := st.Cards().Get(ctx, userID, drill)
	require.NoError(t, err)
	require.Equal(t, int64(1), version)
	require.Equal(t, userID, card.UserID)
	require.Equal(t, 1, card.TotalAttempts)
	require.Equal(t, 1, card.TotalCorrect)
	require.Equal(t, t0, card.LastReviewedAt)

	n, err := st.ReviewLog().CountSince(ctx, userID, t0.AddDate(0, 0, -1))
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestProcessReviewDerivesQuality(t *testing.T) {
	tests := []struct {
		name string
		sub  Submission
		want srs.Quality
	}{
		{"correct fast", Submission{Item: drill, Correct: true, ResponseTimeMs: 1500, Tier: difficulty.Beginner}, srs.QualityPerfect},
		{"correct ordinary", Submission{Item: drill, Correct: true, ResponseTimeMs: 15000, Tier: difficulty.Beginner}, srs.QualityHesitant},
		{"correct slow", Submission{Item: drill, Correct: true, ResponseTimeMs: 31000, Tier: difficulty.Beginner}, srs.QualityDifficult},
		{"correct with hint", Submission{Item: drill, Correct: true, ResponseTimeMs: 1500, HintUsed: true, Tier: difficulty.Beginner}, srs.QualityDifficult},
		{"incorrect quick", Submission{Item: drill, Correct: false, ResponseTimeMs: 1500, Tier: difficulty.Beginner}, srs.QualityAlmost},
		{"incorrect slow", Submission{Item: drill, Correct: false, ResponseTimeMs: 31000, Tier: difficulty.Beginner}, srs.QualityWrong},
		{"incorrect with hint", Submission{Item: drill, Correct: false, ResponseTimeMs: 1500, HintUsed: true, Tier: difficulty.Beginner}, srs.QualityBlackout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := testService(memory.NewStore())

			res, err := svc.ProcessReview(context.Background(), uuid.New(), tt.sub)
			require.NoError(t, err)
			require.Equal(t, tt.want, res.Quality)
		})
	}
}

func TestProcessReviewThirdReviewMultipliesInterval(t *testing.T) {
	st := memory.NewStore()
	svc := testService(st)
	ctx := context.Background()
	userID := uuid.New()

	seed := &srs.Card{
		UserID:         userID,
		Item:           drill,
		EasinessFactor: 2.5,
		IntervalDays:   6,
		Repetitions:    2,
		DueDate:        t0.AddDate(0, 0, -1),
		LastReviewedAt: t0.AddDate(0, 0, -7),
		TotalAttempts:  2,
		TotalCorrect:   2,
	}
	require.NoError(t, st.Cards().Save(ctx, seed, 0))

	sub := Submission{Item: drill, Correct: true, ResponseTimeMs: 15000, Tier: difficulty.Beginner}
	res, err := svc.ProcessReview(ctx, userID, sub)
	require.NoError(t, err)

	require.Equal(t, srs.QualityHesitant, res.Quality)
	require.Equal(t, 3, res.Repetitions)
	require.Equal(t, 15, res.IntervalDays) // round(6 * 2.5)
	require.Equal(t, 2.5, res.EasinessFactor)
	require.Equal(t, t0.AddDate(0, 0, 15), res.NextReviewDate)

	card, version, err := st.Cards().Get(ctx, userID, drill)
	require.NoError(t, err)
	require.Equal(t, int64(2), version)
	require.Equal(t, 3, card.TotalAttempts)
	require.Equal(t, 3, card.TotalCorrect)
}

func TestProcessReviewLapseKeepsEasiness(t *testing.T) {
	st := memory.NewStore()
	svc := testService(st)
	ctx := context.Background()
	userID := uuid.New()

	seed := &srs.Card{
		UserID:         userID,
		Item:           drill,
		EasinessFactor: 2.2,
		IntervalDays:   15,
		Repetitions:    3,
		DueDate:        t0,
		LastReviewedAt: t0.AddDate(0, 0, -15),
		TotalAttempts:  3,
		TotalCorrect:   3,
	}
	require.NoError(t, st.Cards().Save(ctx, seed, 0))

	res, err := svc.ProcessReview(ctx, userID, answer(drill, false))
	require.NoError(t, err)

	require.Equal(t, srs.QualityAlmost, res.Quality)
	require.Equal(t, 0, res.Repetitions)
	require.Equal(t, 1, res.IntervalDays)
	require.Equal(t, 2.2, res.EasinessFactor)
	require.Equal(t, srs.BucketLearning, res.Bucket)

	card, _, err := st.Cards().Get(ctx, userID, drill)
	require.NoError(t, err)
	require.Equal(t, 4, card.TotalAttempts)
	require.Equal(t, 3, card.TotalCorrect)
}

func TestProcessReviewValidation(t *testing.T) {
	st := memory.NewStore()
	svc := testService(st)
	ctx := context.Background()
	userID := uuid.New()

	_, err := svc.ProcessReview(ctx, uuid.Nil, answer(drill, true))
	require.ErrorIs(t, err, srs.ErrInvalidUser)

	_, err = svc.ProcessReview(ctx, userID, answer(srs.ItemKey{}, true))
	require.ErrorIs(t, err, srs.ErrInvalidItem)

	sub := answer(drill, true)
	sub.ResponseTimeMs = -5
	_, err = svc.ProcessReview(ctx, userID, sub)
	require.ErrorIs(t, err, srs.ErrInvalidResponseTime)

	sub = answer(drill, true)
	sub.Tier = difficulty.Tier(99)
	_, err = svc.ProcessReview(ctx, userID, sub)
	require.ErrorIs(t, err, difficulty.ErrInvalidTier)
	require.ErrorIs(t, err, srs.ErrValidation)

	// Rejected submissions leave no trace.
	card, _, err := st.Cards().Get(ctx, userID, drill)
	require.NoError(t, err)
	require.Nil(t, card)
	n, err := st.ReviewLog().CountSince(ctx, userID, t0.AddDate(0, 0, -1))
	require.NoError(t, err)
	require.Zero(t, n)
}

// --- difficulty recording ---

func TestProcessReviewPromotesAfterFullWindow(t *testing.T) {
	st := memory.NewStore()
	svc := testService(st)
	ctx := context.Background()
	userID := uuid.New()

	for i := 1; i <= 9; i++ {
		res, err := svc.ProcessReview(ctx, userID, answer(srs.ItemKey{VerbID: int64(i)}, true))
		require.NoError(t, err)
		require.Nil(t, res.TierChange)
		require.Equal(t, difficulty.Beginner, res.DifficultyLevel)
	}

	res, err := svc.ProcessReview(ctx, userID, answer(srs.ItemKey{VerbID: 10}, true))
	require.NoError(t, err)
	require.NotNil(t, res.TierChange)
	require.Equal(t, difficulty.Change{From: difficulty.Beginner, To: difficulty.Intermediate}, *res.TierChange)
	require.Equal(t, difficulty.Intermediate, res.DifficultyLevel)

	p, _, err := st.Profiles().Get(ctx, userID)
	require.NoError(t, err)
	require.Equal(t, difficulty.Intermediate, p.Tier)
	require.Empty(t, p.Window)
	require.Zero(t, p.TierAttempts)
	require.Equal(t, t0, p.UpdatedAt)
}

func TestProcessReviewTierChangePersists(t *testing.T) {
	st := memory.NewStore()
	svc := testService(st)
	ctx := context.Background()
	userID := uuid.New()

	var res *ProcessReviewResult
	for i := 1; i <= 10; i++ {
		var err error
		res, err = svc.ProcessReview(ctx, userID, answer(srs.ItemKey{VerbID: int64(i)}, true))
		require.NoError(t, err)
	}
	require.NotNil(t, res.TierChange)

	// The promotion is durable: the next answer at the new tier grows a
	// fresh Intermediate window instead of replaying the change.
	sub := answer(srs.ItemKey{VerbID: 11}, true)
	sub.Tier = difficulty.Intermediate
	res, err := svc.ProcessReview(ctx, userID, sub)
	require.NoError(t, err)
	require.Equal(t, difficulty.Intermediate, res.DifficultyLevel)
	require.Nil(t, res.TierChange)

	p, version, err := st.Profiles().Get(ctx, userID)
	require.NoError(t, err)
	require.Equal(t, difficulty.Intermediate, p.Tier)
	require.Equal(t, []bool{true}, p.Window)
	require.Equal(t, 1, p.TierAttempts)
	require.Equal(t, int64(11), version)
}

func TestProcessReviewDemotesOnPoorAccuracy(t *testing.T) {
	st := memory.NewStore()
	svc := testService(st)
	ctx := context.Background()
	userID := uuid.New()

	seed := difficulty.NewProfile(userID)
	seed.Tier = difficulty.Intermediate
	require.NoError(t, st.Profiles().Save(ctx, seed, 0))

	var res *ProcessReviewResult
	for i := 1; i <= 5; i++ {
		sub := answer(srs.ItemKey{VerbID: int64(i)}, false)
		sub.Tier = difficulty.Intermediate

		var err error
		res, err = svc.ProcessReview(ctx, userID, sub)
		require.NoError(t, err)
	}

	require.NotNil(t, res.TierChange)
	require.Equal(t, difficulty.Change{From: difficulty.Intermediate, To: difficulty.Beginner}, *res.TierChange)
	require.Equal(t, difficulty.Beginner, res.DifficultyLevel)
}

func TestProcessReviewOtherTierLeavesProfileAlone(t *testing.T) {
	st := memory.NewStore()
	svc := testService(st)
	ctx := context.Background()
	userID := uuid.New()

	_, err := svc.ProcessReview(ctx, userID, answer(srs.ItemKey{VerbID: 1}, true))
	require.NoError(t, err)

	sub := answer(srs.ItemKey{VerbID: 2}, false)
	sub.Tier = difficulty.Advanced
	res, err := svc.ProcessReview(ctx, userID, sub)
	require.NoError(t, err)
	require.Equal(t, difficulty.Beginner, res.DifficultyLevel)
	require.Nil(t, res.TierChange)

	p, version, err := st.Profiles().Get(ctx, userID)
	require.NoError(t, err)
	require.Equal(t, int64(1), version) // no second save happened
	require.Equal(t, []bool{true}, p.Window)
}

func TestProcessReviewCreatesProfileEvenOffTier(t *testing.T) {
	st := memory.NewStore()
	svc := testService(st)
	ctx := context.Background()
	userID := uuid.New()

	sub := answer(drill, true)
	sub.Tier = difficulty.Advanced
	res, err := svc.ProcessReview(ctx, userID, sub)
	require.NoError(t, err)
	require.Equal(t, difficulty.Beginner, res.DifficultyLevel)

	p, _, err := st.Profiles().Get(ctx, userID)
	require.NoError(t, err)
	require.Equal(t, difficulty.Beginner, p.Tier)
	require.Empty(t, p.Window)
}

func TestProcessReviewSurvivesDifficultyFailure(t *testing.T) {
	st := memory.NewStore()
	core, logs := observer.New(zap.WarnLevel)

	svc := NewService(
		&profileFailStore{Store: st, err: errors.New("profiles down")},
		srs.NewEngine(srs.EngineConfig{}),
		difficulty.NewManager(difficulty.Config{}),
		ServiceConfig{Logger: zap.New(core)},
	)
	svc.now = func() time.Time { return t0 }
	ctx := context.Background()
	userID := uuid.New()

	sub := answer(drill, true)
	sub.Tier = difficulty.Intermediate
	res, err := svc.ProcessReview(ctx, userID, sub)
	require.NoError(t, err)

	// The review committed; the tier falls back to the submitted one.
	require.Equal(t, difficulty.Intermediate, res.DifficultyLevel)
	require.Nil(t, res.TierChange)
	require.Equal(t, 1, logs.Len())

	card, _, err := st.Cards().Get(ctx, userID, drill)
	require.NoError(t, err)
	require.NotNil(t, card)
}

// profileFailStore makes every profile read fail while the rest of the
// store works.
type profileFailStore struct {
	store.Store
	err error
}

func (s *profileFailStore) Profiles() store.ProfileRepository {
	return &failingProfiles{err: s.err}
}

type failingProfiles struct {
	err error
}

func (p *failingProfiles) Get(context.Context, uuid.UUID) (*difficulty.Profile, int64, error) {
	return nil, 0, p.err
}

func (p *failingProfiles) Save(context.Context, *difficulty.Profile, int64) error {
	return p.err
}

func (p *failingProfiles) DeleteByUser(context.Context, uuid.UUID) error {
	return p.err
}

// --- version conflicts ---

// raceState scripts a lost version race: the first saves fail with
// ErrConflict, and the next read first applies the competing writer's
// card so the retry starts from what actually won.
type raceState struct {
	conflicts int
	winner    *srs.Card
	applied   bool
}

type raceStore struct {
	store.Store
	state *raceState
}

func (s *raceStore) Cards() store.CardRepository {
	return &raceCards{CardRepository: s.Store.Cards(), state: s.state}
}

func (s *raceStore) WithinTx(ctx context.Context, fn func(ctx context.Context, st store.Store) error) error {
	return s.Store.WithinTx(ctx, func(ctx context.Context, st store.Store) error {
		return fn(ctx, &raceStore{Store: st, state: s.state})
	})
}

type raceCards struct {
	store.CardRepository
	state *raceState
}

func (c *raceCards) Get(ctx context.Context, userID uuid.UUID, item srs.ItemKey) (*srs.Card, int64, error) {
	if c.state.conflicts == 0 && c.state.winner != nil && !c.state.applied {
		_, version, err := c.CardRepository.Get(ctx, userID, item)
		if err != nil {
			return nil, 0, err
		}
		if err := c.CardRepository.Save(ctx, c.state.winner, version); err != nil {
			return nil, 0, err
		}
		c.state.applied = true
	}
	return c.CardRepository.Get(ctx, userID, item)
}

func (c *raceCards) Save(ctx context.Context, card *srs.Card, version int64) error {
	if c.state.conflicts > 0 {
		c.state.conflicts--
		return store.ErrConflict
	}
	return c.CardRepository.Save(ctx, card, version)
}

func TestProcessReviewRetriesFromWinnerState(t *testing.T) {
	st := memory.NewStore()
	ctx := context.Background()
	userID := uuid.New()

	// The card has been reviewed once when two more reviews race.
	first := testService(st)
	_, err := first.ProcessReview(ctx, userID, answer(drill, true))
	require.NoError(t, err)

	// The winner committed the second review: repetitions 2, interval 6.
	winner := &srs.Card{
		UserID:         userID,
		Item:           drill,
		EasinessFactor: 2.5,
		IntervalDays:   6,
		Repetitions:    2,
		DueDate:        t0.AddDate(0, 0, 6),
		LastReviewedAt: t0,
		TotalAttempts:  2,
		TotalCorrect:   2,
	}
	state := &raceState{conflicts: 1, winner: winner}

	svc := testService(&raceStore{Store: st, state: state})
	res, err := svc.ProcessReview(ctx, userID, answer(drill, true))
	require.NoError(t, err)

	// The loser recomputed on top of the winner, as if serialized.
	require.Equal(t, 3, res.Repetitions)
	require.Equal(t, 15, res.IntervalDays)
	require.True(t, state.applied)

	card, version, err := st.Cards().Get(ctx, userID, drill)
	require.NoError(t, err)
	require.Equal(t, int64(3), version)
	require.Equal(t, 3, card.Repetitions)
	require.Equal(t, 3, card.TotalAttempts)
}

func TestProcessReviewGivesUpAfterMaxAttempts(t *testing.T) {
	st := memory.NewStore()
	ctx := context.Background()
	userID := uuid.New()
	state := &raceState{conflicts: 100}

	svc := NewService(
		&raceStore{Store: st, state: state},
		srs.NewEngine(srs.EngineConfig{}),
		difficulty.NewManager(difficulty.Config{}),
		ServiceConfig{MaxSaveAttempts: 3},
	)
	svc.now = func() time.Time { return t0 }

	_, err := svc.ProcessReview(ctx, userID, answer(drill, true))
	require.ErrorIs(t, err, store.ErrConflict)
	require.Equal(t, 97, state.conflicts) // exactly three attempts

	// Nothing stuck.
	card, _, err := st.Cards().Get(ctx, userID, drill)
	require.NoError(t, err)
	require.Nil(t, card)
	n, err := st.ReviewLog().CountSince(ctx, userID, t0.AddDate(0, 0, -1))
	require.NoError(t, err)
	require.Zero(t, n)
}

// --- preview ---

func TestPreviewFreshItem(t *testing.T) {
	st := memory.NewStore()
	svc := testService(st)
	ctx := context.Background()
	userID := uuid.New()

	out, err := svc.Preview(ctx, userID, drill)
	require.NoError(t, err)
	require.Len(t, out, 6)

	for i, o := range out {
		require.Equal(t, srs.Quality(i), o.Quality)
		require.Equal(t, 1, o.IntervalDays)
		require.Equal(t, t0.AddDate(0, 0, 1), o.NextReviewDate)
	}
	require.Equal(t, srs.BucketLearning, out[srs.QualityBlackout].Bucket)
	require.Equal(t, srs.BucketMastered, out[srs.QualityPerfect].Bucket)

	// Previewing writes nothing.
	card, _, err := st.Cards().Get(ctx, userID, drill)
	require.NoError(t, err)
	require.Nil(t, card)
}

func TestPreviewSeededItem(t *testing.T) {
	st := memory.NewStore()
	svc := testService(st)
	ctx := context.Background()
	userID := uuid.New()

	seed := &srs.Card{
		UserID:         userID,
		Item:           drill,
		EasinessFactor: 2.3,
		IntervalDays:   6,
		Repetitions:    2,
		DueDate:        t0,
		LastReviewedAt: t0.AddDate(0, 0, -6),
		TotalAttempts:  2,
		TotalCorrect:   2,
	}
	require.NoError(t, st.Cards().Save(ctx, seed, 0))

	out, err := svc.Preview(ctx, userID, drill)
	require.NoError(t, err)
	require.Len(t, out, 6)

	// Passing grades multiply the interval, failing ones reset it.
	require.Equal(t, 14, out[srs.QualityHesitant].IntervalDays) // round(6 * 2.3)
	require.Equal(t, t0.AddDate(0, 0, 14), out[srs.QualityHesitant].NextReviewDate)
	require.Equal(t, 1, out[srs.QualityWrong].IntervalDays)
	require.Equal(t, srs.BucketLearning, out[srs.QualityWrong].Bucket)
}

func TestPreviewValidation(t *testing.T) {
	svc := testService(memory.NewStore())
	ctx := context.Background()

	_, err := svc.Preview(ctx, uuid.Nil, drill)
	require.ErrorIs(t, err, srs.ErrInvalidUser)

	_, err = svc.Preview(ctx, uuid.New(), srs.ItemKey{})
	require.ErrorIs(t, err, srs.ErrInvalidItem)
}

// --- reset ---

func TestResetProgress(t *testing.T) {
	st := memory.NewStore()
	svc := testService(st)
	ctx := context.Background()
	userID := uuid.New()

	_, err := svc.ProcessReview(ctx, userID, answer(srs.ItemKey{VerbID: 1}, true))
	require.NoError(t, err)
	_, err = svc.ProcessReview(ctx, userID, answer(srs.ItemKey{VerbID: 2}, false))
	require.NoError(t, err)

	require.NoError(t, svc.ResetProgress(ctx, userID))

	cards, err := st.Cards().ListByUser(ctx, userID)
	require.NoError(t, err)
	require.Empty(t, cards)

	p, _, err := st.Profiles().Get(ctx, userID)
	require.NoError(t, err)
	require.Nil(t, p)

	n, err := st.ReviewLog().CountSince(ctx, userID, t0.AddDate(0, 0, -10))
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestResetProgressValidation(t *testing.T) {
	svc := testService(memory.NewStore())

	require.ErrorIs(t, svc.ResetProgress(context.Background(), uuid.Nil), srs.ErrInvalidUser)
}

// --- submission validation ---

func TestSubmissionValidate(t *testing.T) {
	ok := Submission{Item: drill, ResponseTimeMs: 100, Tier: difficulty.Beginner}
	require.NoError(t, ok.Validate())

	bad := ok
	bad.Item = srs.ItemKey{VerbID: -1}
	require.ErrorIs(t, bad.Validate(), srs.ErrInvalidItem)

	bad = ok
	bad.ResponseTimeMs = -1
	require.ErrorIs(t, bad.Validate(), srs.ErrInvalidResponseTime)

	bad = ok
	bad.Tier = 0
	require.ErrorIs(t, bad.Validate(), difficulty.ErrInvalidTier)
	require.ErrorIs(t, bad.Validate(), srs.ErrValidation)
}
