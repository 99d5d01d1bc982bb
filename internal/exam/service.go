package exam

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"cbtquiz/internal/auth"
	"cbtquiz/internal/catalog"
	"cbtquiz/internal/journal"
	"cbtquiz/internal/navigation"
	"cbtquiz/internal/session"
	"cbtquiz/internal/submission"
)

var (
	ErrSessionNotFound  = errors.New("session not found")
	ErrSessionForbidden = errors.New("session forbidden")
	ErrSessionExpired   = errors.New("session time limit reached")
)

const (
	defaultIdleTTL     = 2 * time.Hour
	defaultTerminalTTL = 10 * time.Minute
	defaultSubmitLimit = 30 * time.Second
)

// Backend is the test-definition and grading service a session needs.
type Backend interface {
	FetchCatalog(ctx context.Context, ts oauth2.TokenSource, testID int64) (*catalog.Catalog, error)
	Submit(ctx context.Context, ts oauth2.TokenSource, p submission.Payload) error
}

type Metrics interface {
	SessionStarted()
	SubmissionAttempt(auto bool, err error)
	AutoFinalizeFired()
}

type nopMetrics struct{}

func (nopMetrics) SessionStarted()               {}
func (nopMetrics) SubmissionAttempt(bool, error) {}
func (nopMetrics) AutoFinalizeFired()            {}

type Options struct {
	AutoFinalizeDelay time.Duration
	SubmitTimeout     time.Duration
	// IdleTTL drops open sessions nobody touched for this long.
	IdleTTL time.Duration
	// TerminalTTL keeps submitted or abandoned sessions readable for a while.
	TerminalTTL time.Duration

	Scheduler navigation.Scheduler
	Journal   journal.Store
	Metrics   Metrics
	Logger    *zap.Logger
	Now       func() time.Time
}

// Service hosts the live test sessions of this process.
type Service struct {
	backend Backend
	opts    Options

	mu       sync.Mutex
	sessions map[uuid.UUID]*hostedSession
}

type hostedSession struct {
	id        uuid.UUID
	owner     *auth.User
	testID    int64
	themeID   int64
	startedAt time.Time
	deadline  time.Time
	ctrl      *navigation.Controller

	mu        sync.Mutex
	lastSeen  time.Time
	expired   bool
	limitTask navigation.Task
}

type StartInput struct {
	TestID    int64
	User      *auth.User
	TimeLimit time.Duration
}

type SessionView struct {
	ID            uuid.UUID  `json:"id"`
	TestID        int64      `json:"test_id"`
	ThemeID       int64      `json:"theme_id"`
	UserID        string     `json:"user_id"`
	StartedAt     time.Time  `json:"started_at"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	RemainingSecs int64      `json:"remaining_secs"`
	Expired       bool       `json:"expired"`
	navigation.Snapshot
}

type QuestionView struct {
	Number    int                   `json:"number"`
	Total     int                   `json:"total"`
	Active    bool                  `json:"active"`
	Question  catalog.Question      `json:"question"`
	Parts     []catalog.Question    `json:"parts"`
	Answer    []session.LocalAnswer `json:"answer"`
	Confirmed bool                  `json:"confirmed"`
}

// PromptResult is returned by actions that may need the test-taker's
// confirmation. Done is false when the prompt was declined.
type PromptResult struct {
	Done    bool               `json:"done"`
	Prompt  *navigation.Prompt `json:"prompt,omitempty"`
	Session SessionView        `json:"session"`
}

func NewService(backend Backend, opts Options) *Service {
	if opts.IdleTTL <= 0 {
		opts.IdleTTL = defaultIdleTTL
	}
	if opts.TerminalTTL <= 0 {
		opts.TerminalTTL = defaultTerminalTTL
	}
	if opts.SubmitTimeout <= 0 {
		opts.SubmitTimeout = defaultSubmitLimit
	}
	if opts.Scheduler == nil {
		opts.Scheduler = navigation.TimerScheduler
	}
	if opts.Journal == nil {
		opts.Journal = journal.NewMemoryStore()
	}
	if opts.Metrics == nil {
		opts.Metrics = nopMetrics{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{
		backend:  backend,
		opts:     opts,
		sessions: make(map[uuid.UUID]*hostedSession),
	}
}

func (s *Service) StartSession(ctx context.Context, in StartInput) (*SessionView, error) {
	if in.User == nil {
		return nil, ErrSessionForbidden
	}
	if in.TestID <= 0 {
		return nil, fmt.Errorf("start session: test id %d: %w", in.TestID, catalog.ErrNotFound)
	}

	cat, err := s.backend.FetchCatalog(ctx, auth.TokenSource(in.User), in.TestID)
	if err != nil {
		return nil, fmt.Errorf("start session: %w", err)
	}

	now := s.opts.Now()
	hs := &hostedSession{
		id:        uuid.New(),
		owner:     in.User,
		testID:    cat.TestID(),
		themeID:   cat.ThemeID(),
		startedAt: now,
		lastSeen:  now,
	}
	log := s.opts.Logger.With(zap.String("session_id", hs.id.String()), zap.String("user_id", in.User.ID), zap.Int64("test_id", hs.testID))

	user := in.User
	ctrl, err := navigation.New(navigation.Config{
		Catalog: cat,
		Ledger:  session.NewLedger(),
		Submitter: navigation.SubmitterFunc(func(ctx context.Context, p submission.Payload) error {
			return s.backend.Submit(ctx, auth.TokenSource(user), p)
		}),
		UserID:            user.ID,
		Scheduler:         s.opts.Scheduler,
		AutoFinalizeDelay: s.opts.AutoFinalizeDelay,
		SubmitTimeout:     s.opts.SubmitTimeout,
		Logger:            log,
		Hooks: navigation.Hooks{
			OnAutoFinalize: s.opts.Metrics.AutoFinalizeFired,
			OnAttempt: func(ctx context.Context, a navigation.Attempt) {
				s.recordAttempt(ctx, hs, a)
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("start session: %w", err)
	}
	hs.ctrl = ctrl

	if in.TimeLimit > 0 {
		hs.deadline = now.Add(in.TimeLimit)
		hs.mu.Lock()
		hs.limitTask = s.opts.Scheduler.AfterFunc(in.TimeLimit, func() { s.expire(hs) })
		hs.mu.Unlock()
	}

	s.mu.Lock()
	s.sessions[hs.id] = hs
	s.mu.Unlock()

	s.opts.Metrics.SessionStarted()
	log.Info("session started", zap.Int("questions", cat.Len()), zap.Duration("time_limit", in.TimeLimit))
	view := s.view(hs)
	return &view, nil
}

// expire force-finalizes a timed session. A session with nothing confirmed
// stays open for a manual finalize or exit, but takes no more answers.
func (s *Service) expire(hs *hostedSession) {
	hs.mu.Lock()
	hs.expired = true
	hs.limitTask = nil
	hs.mu.Unlock()

	switch hs.ctrl.State() {
	case navigation.StateSubmitted, navigation.StateAbandoned:
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.SubmitTimeout)
	defer cancel()
	if err := hs.ctrl.Finalize(ctx); err != nil {
		s.opts.Logger.Warn("time limit finalize failed", zap.String("session_id", hs.id.String()), zap.Error(err))
	}
}

func (s *Service) recordAttempt(ctx context.Context, hs *hostedSession, a navigation.Attempt) {
	s.opts.Metrics.SubmissionAttempt(a.Auto, a.Err)

	rec := journal.Attempt{
		SessionID: hs.id,
		TestID:    hs.testID,
		UserID:    hs.owner.ID,
		AttemptNo: a.No,
		Auto:      a.Auto,
		Answers:   a.Payload.Answers,
		Status:    journal.StatusSubmitted,
	}
	if a.Err != nil {
		rec.Status = journal.StatusFailed
		rec.Error = a.Err.Error()
	}
	// The journal must not hold up or fail the submission.
	jctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.opts.Journal.RecordAttempt(jctx, rec); err != nil {
		s.opts.Logger.Warn("record submission attempt", zap.String("session_id", hs.id.String()), zap.Int("attempt", a.No), zap.Error(err))
	}
}

func (s *Service) lookup(id uuid.UUID, user *auth.User, readOnly bool) (*hostedSession, error) {
	if user == nil {
		return nil, ErrSessionForbidden
	}
	s.mu.Lock()
	hs, ok := s.sessions[id]
	s.mu.Unlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	if hs.owner.ID != user.ID && !(readOnly && isSupervisor(user)) {
		return nil, ErrSessionForbidden
	}
	if hs.owner.ID == user.ID {
		hs.mu.Lock()
		hs.lastSeen = s.opts.Now()
		hs.mu.Unlock()
	}
	return hs, nil
}

// mutable looks a session up for an answer-changing operation.
func (s *Service) mutable(id uuid.UUID, user *auth.User) (*hostedSession, error) {
	hs, err := s.lookup(id, user, false)
	if err != nil {
		return nil, err
	}
	hs.mu.Lock()
	expired := hs.expired
	hs.mu.Unlock()
	if expired {
		return nil, ErrSessionExpired
	}
	return hs, nil
}

func isSupervisor(u *auth.User) bool {
	return u.Role == "admin" || u.Role == "proctor"
}

func (s *Service) view(hs *hostedSession) SessionView {
	hs.mu.Lock()
	expired := hs.expired
	hs.mu.Unlock()

	v := SessionView{
		ID:        hs.id,
		TestID:    hs.testID,
		ThemeID:   hs.themeID,
		UserID:    hs.owner.ID,
		StartedAt: hs.startedAt,
		Expired:   expired,
		Snapshot:  hs.ctrl.Snapshot(),
	}
	if !hs.deadline.IsZero() {
		deadline := hs.deadline
		v.ExpiresAt = &deadline
		if rem := deadline.Sub(s.opts.Now()); rem > 0 {
			v.RemainingSecs = int64(rem.Seconds())
		}
	}
	return v
}

func (s *Service) questionView(hs *hostedSession, n int) (*QuestionView, error) {
	cat := hs.ctrl.Catalog()
	q, err := cat.ByDisplayNumber(n)
	if err != nil {
		return nil, fmt.Errorf("get question %d: %w", n, err)
	}
	ledger := hs.ctrl.Ledger()
	return &QuestionView{
		Number:    n,
		Total:     cat.Len(),
		Active:    hs.ctrl.Current().Ordinal == n,
		Question:  q,
		Parts:     cat.PartsOf(q.DBQuestionID),
		Answer:    ledger.Answer(q.DBQuestionID),
		Confirmed: ledger.IsConfirmed(q.DBQuestionID),
	}, nil
}

func (s *Service) GetSession(_ context.Context, id uuid.UUID, user *auth.User) (*SessionView, error) {
	hs, err := s.lookup(id, user, true)
	if err != nil {
		return nil, err
	}
	v := s.view(hs)
	return &v, nil
}

func (s *Service) CurrentQuestion(_ context.Context, id uuid.UUID, user *auth.User) (*QuestionView, error) {
	hs, err := s.lookup(id, user, true)
	if err != nil {
		return nil, err
	}
	return s.questionView(hs, hs.ctrl.Current().Ordinal)
}

// QuestionAt returns question n without moving the session.
func (s *Service) QuestionAt(_ context.Context, id uuid.UUID, user *auth.User, n int) (*QuestionView, error) {
	hs, err := s.lookup(id, user, true)
	if err != nil {
		return nil, err
	}
	return s.questionView(hs, n)
}

func (s *Service) Next(_ context.Context, id uuid.UUID, user *auth.User) (*QuestionView, error) {
	hs, err := s.mutable(id, user)
	if err != nil {
		return nil, err
	}
	hs.ctrl.Next()
	return s.questionView(hs, hs.ctrl.Current().Ordinal)
}

func (s *Service) Previous(_ context.Context, id uuid.UUID, user *auth.User) (*QuestionView, error) {
	hs, err := s.mutable(id, user)
	if err != nil {
		return nil, err
	}
	hs.ctrl.Previous()
	return s.questionView(hs, hs.ctrl.Current().Ordinal)
}

func (s *Service) JumpTo(_ context.Context, id uuid.UUID, user *auth.User, n int) (*QuestionView, error) {
	hs, err := s.mutable(id, user)
	if err != nil {
		return nil, err
	}
	if err := hs.ctrl.JumpTo(n); err != nil {
		return nil, err
	}
	return s.questionView(hs, n)
}

func (s *Service) SaveDraft(_ context.Context, id uuid.UUID, user *auth.User, values []string) (*QuestionView, error) {
	hs, err := s.mutable(id, user)
	if err != nil {
		return nil, err
	}
	if err := hs.ctrl.Draft(values...); err != nil {
		return nil, fmt.Errorf("save draft: %w", err)
	}
	return s.questionView(hs, hs.ctrl.Current().Ordinal)
}

// Confirm locks in the active answer. The returned view is the question
// that is active afterwards.
func (s *Service) Confirm(_ context.Context, id uuid.UUID, user *auth.User, values []string) (bool, *QuestionView, error) {
	hs, err := s.mutable(id, user)
	if err != nil {
		return false, nil, err
	}
	ok, err := hs.ctrl.Confirm(values...)
	if err != nil {
		return false, nil, fmt.Errorf("confirm answer: %w", err)
	}
	q, err := s.questionView(hs, hs.ctrl.Current().Ordinal)
	if err != nil {
		return false, nil, err
	}
	return ok, q, nil
}

func (s *Service) Edit(_ context.Context, id uuid.UUID, user *auth.User) (bool, *QuestionView, error) {
	hs, err := s.mutable(id, user)
	if err != nil {
		return false, nil, err
	}
	ok, err := hs.ctrl.Edit()
	if err != nil {
		return false, nil, fmt.Errorf("edit answer: %w", err)
	}
	q, err := s.questionView(hs, hs.ctrl.Current().Ordinal)
	if err != nil {
		return false, nil, err
	}
	return ok, q, nil
}

// Finish is the explicit finish action. With confirm false and questions
// unanswered, nothing is submitted and the prompt is returned.
func (s *Service) Finish(ctx context.Context, id uuid.UUID, user *auth.User, confirm bool) (*PromptResult, error) {
	hs, err := s.lookup(id, user, false)
	if err != nil {
		return nil, err
	}
	var asked *navigation.Prompt
	done, err := hs.ctrl.Finish(ctx, answerWith(confirm, &asked))
	if err != nil {
		return nil, err
	}
	return &PromptResult{Done: done, Prompt: asked, Session: s.view(hs)}, nil
}

// Finalize submits without prompting. It is also the retry after a failed
// submission.
func (s *Service) Finalize(ctx context.Context, id uuid.UUID, user *auth.User) (*SessionView, error) {
	hs, err := s.lookup(id, user, false)
	if err != nil {
		return nil, err
	}
	if err := hs.ctrl.Finalize(ctx); err != nil {
		return nil, err
	}
	v := s.view(hs)
	return &v, nil
}

func (s *Service) Exit(ctx context.Context, id uuid.UUID, user *auth.User, confirm bool) (*PromptResult, error) {
	hs, err := s.lookup(id, user, false)
	if err != nil {
		return nil, err
	}
	var asked *navigation.Prompt
	done, err := hs.ctrl.RequestExit(ctx, answerWith(confirm, &asked))
	if err != nil {
		return nil, err
	}
	if done {
		s.stopLimit(hs)
		s.opts.Logger.Info("session abandoned", zap.String("session_id", hs.id.String()))
	}
	return &PromptResult{Done: done, Prompt: asked, Session: s.view(hs)}, nil
}

func (s *Service) Attempts(ctx context.Context, id uuid.UUID, user *auth.User) ([]journal.Attempt, error) {
	hs, err := s.lookup(id, user, true)
	if err != nil {
		return nil, err
	}
	return s.opts.Journal.ListAttempts(ctx, hs.id)
}

// answerWith answers every prompt with v and remembers the last one asked.
func answerWith(v bool, asked **navigation.Prompt) navigation.Confirmer {
	return navigation.ConfirmFunc(func(_ context.Context, p navigation.Prompt) (bool, error) {
		*asked = &p
		return v, nil
	})
}

func (s *Service) stopLimit(hs *hostedSession) {
	hs.mu.Lock()
	defer hs.mu.Unlock()
	if hs.limitTask != nil {
		hs.limitTask.Stop()
		hs.limitTask = nil
	}
}

// Reap drops sessions that finished more than TerminalTTL ago or have been
// idle longer than IdleTTL. It returns the number dropped.
func (s *Service) Reap(now time.Time) int {
	s.mu.Lock()
	var drop []*hostedSession
	for id, hs := range s.sessions {
		hs.mu.Lock()
		idle := now.Sub(hs.lastSeen)
		hs.mu.Unlock()

		snap := hs.ctrl.Snapshot()
		if snap.SubmitInFlight {
			continue
		}
		terminal := snap.State == navigation.StateSubmitted || snap.State == navigation.StateAbandoned
		if (terminal && idle > s.opts.TerminalTTL) || idle > s.opts.IdleTTL {
			delete(s.sessions, id)
			drop = append(drop, hs)
		}
	}
	s.mu.Unlock()

	for _, hs := range drop {
		s.stopLimit(hs)
		hs.ctrl.Close()
		snap := hs.ctrl.Snapshot()
		fields := []zap.Field{
			zap.String("session_id", hs.id.String()),
			zap.String("user_id", hs.owner.ID),
			zap.String("state", string(snap.State)),
		}
		switch snap.State {
		case navigation.StateSubmitted, navigation.StateAbandoned:
			s.opts.Logger.Debug("session reaped", fields...)
		default:
			// Nothing was submitted for this session.
			s.opts.Logger.Warn("idle session reaped before submission", append(fields, zap.Int("answered", snap.Answered), zap.Int("total", snap.Total))...)
		}
	}
	return len(drop)
}

// Len reports the number of hosted sessions.
func (s *Service) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Close cancels every pending timer. Sessions are not submitted.
func (s *Service) Close() {
	s.mu.Lock()
	all := make([]*hostedSession, 0, len(s.sessions))
	for _, hs := range s.sessions {
		all = append(all, hs)
	}
	s.mu.Unlock()
	for _, hs := range all {
		s.stopLimit(hs)
		hs.ctrl.Close()
	}
}
