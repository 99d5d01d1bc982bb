package report

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"cbtquiz/internal/auth"
	"cbtquiz/internal/catalog"
	"cbtquiz/internal/media"
)

// Source is the grading backend as seen by the review screens.
type Source interface {
	FetchResults(ctx context.Context, ts oauth2.TokenSource, userID string, themeID int64) ([]Document, error)
	FetchCatalog(ctx context.Context, ts oauth2.TokenSource, testID int64) (*catalog.Catalog, error)
}

type Service struct {
	src      Source
	resolver media.Resolver
	log      *zap.Logger
}

func NewService(src Source, resolver media.Resolver, log *zap.Logger) *Service {
	if resolver == nil {
		resolver = media.URLResolver{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{src: src, resolver: resolver, log: log}
}

// ReviewInput selects the result to review. TestID is optional; when set
// the catalog size of that test is used as the score denominator.
type ReviewInput struct {
	User    *auth.User
	ThemeID int64
	TestID  int64
}

type Summary struct {
	ThemeID        int64                  `json:"theme_id"`
	Percent        float64                `json:"percent"`
	Score          float64                `json:"score"`
	MaxScore       float64                `json:"max_score"`
	ScorePercent   float64                `json:"score_percent"`
	Correct        int                    `json:"correct"`
	Total          int                    `json:"total"`
	TotalBasis     TotalBasis             `json:"total_basis"`
	WrongSubTests  []int                  `json:"wrong_sub_tests"`
	WrongBySubTest map[int][]GradedAnswer `json:"wrong_by_sub_test"`
}

type QuestionDetail struct {
	GradedAnswer
	Media []media.Resolved `json:"media"`
}

type SubTestPage struct {
	SubTestNo int            `json:"sub_test_no"`
	Answers   []GradedAnswer `json:"answers"`
	HasPrev   bool           `json:"has_prev"`
	HasNext   bool           `json:"has_next"`
	SubTests  []int          `json:"sub_tests"`
}

// TotalBasis says what a score percentage was computed against.
type TotalBasis string

const (
	TotalFromCatalog TotalBasis = "catalog"
	// TotalFromGraded means no catalog was available and only the graded
	// answers were counted.
	TotalFromGraded TotalBasis = "graded_answers"
)

func (s *Service) Load(ctx context.Context, in ReviewInput) (*Aggregator, Document, error) {
	agg, doc, _, err := s.load(ctx, in)
	return agg, doc, err
}

func (s *Service) load(ctx context.Context, in ReviewInput) (*Aggregator, Document, TotalBasis, error) {
	if in.User == nil || in.ThemeID <= 0 {
		return nil, Document{}, "", fmt.Errorf("load review: %w", ErrResultUnavailable)
	}
	ts := auth.TokenSource(in.User)

	docs, err := s.src.FetchResults(ctx, ts, in.User.ID, in.ThemeID)
	if err != nil {
		if errors.Is(err, ErrResultUnavailable) {
			return nil, Document{}, "", err
		}
		return nil, Document{}, "", fmt.Errorf("%w: %v", ErrResultUnavailable, err)
	}
	doc, err := Latest(docs)
	if err != nil {
		return nil, Document{}, "", err
	}

	total, basis := len(doc.Answers), TotalFromGraded
	if in.TestID > 0 {
		cat, err := s.src.FetchCatalog(ctx, ts, in.TestID)
		if err != nil {
			s.log.Warn("review catalog unavailable, scoring against answered set",
				zap.Int64("test_id", in.TestID), zap.Error(err))
		} else {
			total, basis = cat.QuestionCount(), TotalFromCatalog
		}
	}
	return NewAggregator(doc.Graded(), total), doc, basis, nil
}

func (s *Service) Summary(ctx context.Context, in ReviewInput) (*Summary, error) {
	agg, doc, basis, err := s.load(ctx, in)
	if err != nil {
		return nil, err
	}
	return &Summary{
		ThemeID:        in.ThemeID,
		Percent:        doc.Percent,
		Score:          doc.Score,
		MaxScore:       doc.MaxScore,
		ScorePercent:   agg.ScorePercent(),
		Correct:        agg.CorrectCount(),
		Total:          agg.TotalCount(),
		TotalBasis:     basis,
		WrongSubTests:  agg.WrongSubTests(),
		WrongBySubTest: agg.GroupWrongBySubTest(),
	}, nil
}

func (s *Service) Question(ctx context.Context, in ReviewInput, n int) (*QuestionDetail, error) {
	agg, _, err := s.Load(ctx, in)
	if err != nil {
		return nil, err
	}
	g, err := agg.ByDisplayNumber(n)
	if err != nil {
		return nil, err
	}
	resolved, err := media.ResolveAll(ctx, s.resolver, g.SolutionMedia)
	if err != nil {
		return nil, fmt.Errorf("resolve solution media: %w", err)
	}
	return &QuestionDetail{GradedAnswer: g, Media: resolved}, nil
}

// SubTestPage moves from sub-test `from` (the first when 0) by direction and
// returns the wrong answers of the sub-test landed on.
func (s *Service) SubTestPage(ctx context.Context, in ReviewInput, from, direction int) (*SubTestPage, error) {
	agg, _, err := s.Load(ctx, in)
	if err != nil {
		return nil, err
	}
	cursor := agg.SubTestCursor()
	if from > 0 && !cursor.Seek(from) {
		return nil, fmt.Errorf("sub-test %d has no wrong answers: %w", from, catalog.ErrNotFound)
	}
	no := cursor.Advance(direction)
	return &SubTestPage{
		SubTestNo: no,
		Answers:   agg.GroupWrongBySubTest()[no],
		HasPrev:   !cursor.AtStart(),
		HasNext:   !cursor.AtEnd(),
		SubTests:  agg.WrongSubTests(),
	}, nil
}
