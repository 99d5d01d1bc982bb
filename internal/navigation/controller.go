package navigation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"cbtquiz/internal/catalog"
	"cbtquiz/internal/session"
	"cbtquiz/internal/submission"
)

var (
	ErrInvalidState     = errors.New("operation not allowed in current session state")
	ErrFinalizeInFlight = errors.New("submission already in flight")
	ErrPartMismatch     = errors.New("answer count does not match question parts")
)

type State string

const (
	StateInProgress State = "in_progress"
	StateFinalizing State = "finalizing"
	StateSubmitted  State = "submitted"
	StateAbandoned  State = "abandoned"
)

const DefaultAutoFinalizeDelay = time.Second

type PromptKind string

const (
	PromptExit   PromptKind = "exit"
	PromptFinish PromptKind = "finish"
)

// Prompt is a question put to the test-taker before an irreversible step.
type Prompt struct {
	Kind       PromptKind `json:"kind"`
	Unanswered int        `json:"unanswered"`
}

type Confirmer interface {
	Confirm(ctx context.Context, p Prompt) (bool, error)
}

type ConfirmFunc func(ctx context.Context, p Prompt) (bool, error)

func (f ConfirmFunc) Confirm(ctx context.Context, p Prompt) (bool, error) { return f(ctx, p) }

type Submitter interface {
	Submit(ctx context.Context, p submission.Payload) error
}

type SubmitterFunc func(ctx context.Context, p submission.Payload) error

func (f SubmitterFunc) Submit(ctx context.Context, p submission.Payload) error { return f(ctx, p) }

// Attempt describes one finished submission attempt.
type Attempt struct {
	No      int
	Auto    bool
	Payload submission.Payload
	Err     error
}

type Hooks struct {
	OnAutoFinalize func()
	OnAttempt      func(ctx context.Context, a Attempt)
}

type Config struct {
	Catalog   *catalog.Catalog
	Ledger    *session.Ledger
	Submitter Submitter
	UserID    string

	Scheduler         Scheduler
	AutoFinalizeDelay time.Duration
	// SubmitTimeout bounds a submission started by the auto-finalize timer.
	SubmitTimeout time.Duration

	Logger *zap.Logger
	Hooks  Hooks
}

type Snapshot struct {
	State               State  `json:"state"`
	Active              int    `json:"active_number"`
	Total               int    `json:"total"`
	Answered            int    `json:"answered"`
	Questions           int    `json:"questions"`
	AutoFinalizePending bool   `json:"auto_finalize_pending"`
	SubmitInFlight      bool   `json:"submit_in_flight"`
	Attempts            int    `json:"attempts"`
	LastError           string `json:"last_error,omitempty"`
}

// Controller drives one test session: movement between questions, answer
// confirmation, the deferred auto-finalize after the last question, and
// submission.
type Controller struct {
	cat       *catalog.Catalog
	ledger    *session.Ledger
	builder   *submission.Builder
	submitter Submitter
	userID    string
	scheduler Scheduler
	delay     time.Duration
	timeout   time.Duration
	log       *zap.Logger
	hooks     Hooks

	mu        sync.Mutex
	state     State
	active    int
	task      Task
	gen       uint64
	autoArmed bool
	inFlight  bool
	attempts  int
	lastErr   error
}

func New(cfg Config) (*Controller, error) {
	if cfg.Catalog == nil || cfg.Catalog.Len() == 0 {
		return nil, fmt.Errorf("new controller: empty catalog: %w", catalog.ErrNotFound)
	}
	if cfg.Submitter == nil {
		return nil, errors.New("new controller: submitter is required")
	}
	if cfg.Ledger == nil {
		cfg.Ledger = session.NewLedger()
	}
	if cfg.Scheduler == nil {
		cfg.Scheduler = TimerScheduler
	}
	if cfg.AutoFinalizeDelay <= 0 {
		cfg.AutoFinalizeDelay = DefaultAutoFinalizeDelay
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return &Controller{
		cat:       cfg.Catalog,
		ledger:    cfg.Ledger,
		builder:   submission.NewBuilder(cfg.Catalog),
		submitter: cfg.Submitter,
		userID:    cfg.UserID,
		scheduler: cfg.Scheduler,
		delay:     cfg.AutoFinalizeDelay,
		timeout:   cfg.SubmitTimeout,
		log:       cfg.Logger,
		hooks:     cfg.Hooks,
		state:     StateInProgress,
		active:    1,
	}, nil
}

func (c *Controller) Catalog() *catalog.Catalog { return c.cat }
func (c *Controller) Ledger() *session.Ledger   { return c.ledger }

// Current returns the active question.
func (c *Controller) Current() catalog.Question {
	c.mu.Lock()
	n := c.active
	c.mu.Unlock()
	q, _ := c.cat.ByDisplayNumber(n)
	return q
}

// Next moves one question forward. Outside in_progress, or on the last
// question, it does nothing.
func (c *Controller) Next() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateInProgress || c.active >= c.cat.Len() {
		return
	}
	c.active++
}

// Previous moves one question back. Leaving the question with a pending
// auto-finalize cancels it; on the first question nothing changes.
func (c *Controller) Previous() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active <= 1 {
		return
	}
	c.leaveFinalizingLocked()
	if c.state != StateInProgress {
		return
	}
	c.active--
}

func (c *Controller) JumpTo(n int) error {
	if _, err := c.cat.ByDisplayNumber(n); err != nil {
		return fmt.Errorf("jump to question: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Moving between the parts of the question awaiting auto-finalize keeps
	// the timer.
	if c.state == StateFinalizing && c.task != nil && c.sameQuestionLocked(n) {
		c.active = n
		return nil
	}
	if n != c.active {
		c.leaveFinalizingLocked()
	}
	if c.state != StateInProgress {
		return ErrInvalidState
	}
	c.active = n
	return nil
}

func (c *Controller) sameQuestionLocked(n int) bool {
	q, err := c.cat.ByDisplayNumber(c.active)
	if err != nil {
		return false
	}
	for _, p := range c.cat.PartsOf(q.DBQuestionID) {
		if p.Ordinal == n {
			return true
		}
	}
	return false
}

// Draft stores an unconfirmed selection for the active question.
func (c *Controller) Draft(values ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateInProgress {
		return ErrInvalidState
	}
	q, err := c.cat.ByDisplayNumber(c.active)
	if err != nil {
		return err
	}
	c.ledger.Draft(q.DBQuestionID, q.SubTestNo, values...)
	return nil
}

// Confirm locks in the answer of the active question, one value per part.
// Blank values are refused without error.
func (c *Controller) Confirm(values ...string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateInProgress {
		return false, ErrInvalidState
	}
	q, err := c.cat.ByDisplayNumber(c.active)
	if err != nil {
		return false, err
	}
	if parts := c.cat.PartsOf(q.DBQuestionID); len(values) != len(parts) {
		return false, fmt.Errorf("confirm question %d: %w: got %d, want %d", c.active, ErrPartMismatch, len(values), len(parts))
	}
	if !c.ledger.Confirm(q.DBQuestionID, q.SubTestNo, values...) {
		return false, nil
	}
	c.onConfirmLocked(c.active)
	return true, nil
}

// Edit unlocks the confirmed answer of the active question.
func (c *Controller) Edit() (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateInProgress {
		return false, ErrInvalidState
	}
	q, err := c.cat.ByDisplayNumber(c.active)
	if err != nil {
		return false, err
	}
	return c.ledger.Edit(q.DBQuestionID), nil
}

// OnConfirm reacts to question n having been confirmed.
func (c *Controller) OnConfirm(n int) error {
	if _, err := c.cat.ByDisplayNumber(n); err != nil {
		return fmt.Errorf("on confirm: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateInProgress {
		return ErrInvalidState
	}
	c.onConfirmLocked(n)
	return nil
}

func (c *Controller) onConfirmLocked(n int) {
	q, _ := c.cat.ByDisplayNumber(n)
	last := c.cat.LastOrdinalOf(q.DBQuestionID)
	if last < c.cat.Len() {
		c.active = last + 1
		return
	}
	if c.autoArmed {
		return
	}

	c.autoArmed = true
	c.state = StateFinalizing
	c.gen++
	gen := c.gen
	c.task = c.scheduler.AfterFunc(c.delay, func() { c.fire(gen) })
}

func (c *Controller) fire(gen uint64) {
	c.mu.Lock()
	if gen != c.gen || c.task == nil || c.state != StateFinalizing {
		c.mu.Unlock()
		return
	}
	c.task = nil
	p, no, err := c.beginLocked()
	c.mu.Unlock()

	if c.hooks.OnAutoFinalize != nil {
		c.hooks.OnAutoFinalize()
	}
	if err != nil {
		c.log.Warn("auto finalize not started", zap.Error(err))
		return
	}

	ctx := context.Background()
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	if err := c.send(ctx, p, no, true); err != nil {
		c.log.Warn("auto finalize failed", zap.Int("attempt", no), zap.Error(err))
	}
}

// leaveFinalizingLocked cancels a pending auto-finalize and returns to
// in_progress. The timer is not armed again for this session.
func (c *Controller) leaveFinalizingLocked() {
	if c.state != StateFinalizing || c.task == nil || c.inFlight {
		return
	}
	c.cancelTimerLocked()
	c.state = StateInProgress
}

func (c *Controller) cancelTimerLocked() {
	if c.task != nil {
		c.task.Stop()
		c.task = nil
	}
	c.gen++
}

// Finish is the explicit finish action. When questions are unanswered the
// test-taker is asked first; declining leaves the session in progress.
func (c *Controller) Finish(ctx context.Context, confirm Confirmer) (bool, error) {
	c.mu.Lock()
	if c.inFlight {
		c.mu.Unlock()
		return false, ErrFinalizeInFlight
	}
	if c.state != StateInProgress && c.state != StateFinalizing {
		c.mu.Unlock()
		return false, ErrInvalidState
	}
	if c.task != nil {
		c.cancelTimerLocked()
		c.state = StateInProgress
	}
	unanswered := len(c.cat.DistinctQuestionIDs()) - c.ledger.AnsweredCount()
	c.mu.Unlock()

	if unanswered > 0 && confirm != nil {
		ok, err := confirm.Confirm(ctx, Prompt{Kind: PromptFinish, Unanswered: unanswered})
		if err != nil {
			return false, fmt.Errorf("confirm finish: %w", err)
		}
		if !ok {
			return false, nil
		}
	}
	if err := c.Finalize(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// Finalize builds the submission from the current answers and sends it. A
// pending auto-finalize is cancelled first. On failure the session stays in
// finalizing and Finalize may be called again.
func (c *Controller) Finalize(ctx context.Context) error {
	c.mu.Lock()
	p, no, err := c.beginLocked()
	c.mu.Unlock()
	if err != nil {
		return err
	}
	return c.send(ctx, p, no, false)
}

func (c *Controller) beginLocked() (submission.Payload, int, error) {
	if c.inFlight {
		return submission.Payload{}, 0, ErrFinalizeInFlight
	}
	if c.state != StateInProgress && c.state != StateFinalizing {
		return submission.Payload{}, 0, ErrInvalidState
	}
	c.cancelTimerLocked()

	p, err := c.builder.Payload(c.ledger, c.userID)
	if err != nil {
		if errors.Is(err, submission.ErrIncompleteSubmission) {
			c.state = StateInProgress
		}
		c.lastErr = err
		return submission.Payload{}, 0, fmt.Errorf("finalize session: %w", err)
	}

	c.state = StateFinalizing
	c.inFlight = true
	c.attempts++
	return p, c.attempts, nil
}

func (c *Controller) send(ctx context.Context, p submission.Payload, no int, auto bool) error {
	err := c.submitter.Submit(ctx, p)

	c.mu.Lock()
	c.inFlight = false
	c.lastErr = err
	if err == nil {
		c.state = StateSubmitted
	}
	c.mu.Unlock()

	if c.hooks.OnAttempt != nil {
		c.hooks.OnAttempt(ctx, Attempt{No: no, Auto: auto, Payload: p, Err: err})
	}
	if err != nil {
		return fmt.Errorf("finalize session: %w", err)
	}
	c.log.Info("session submitted", zap.Int64("test_id", p.TestID), zap.Int("attempt", no), zap.Int("answers", len(p.Answers)))
	return nil
}

// RequestExit asks the test-taker to confirm leaving. On yes the session is
// abandoned without submitting.
func (c *Controller) RequestExit(ctx context.Context, confirm Confirmer) (bool, error) {
	if err := c.exitAllowed(); err != nil {
		return false, err
	}
	if confirm == nil {
		return false, nil
	}
	ok, err := confirm.Confirm(ctx, Prompt{Kind: PromptExit})
	if err != nil {
		return false, fmt.Errorf("confirm exit: %w", err)
	}
	if !ok {
		return false, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.exitAllowedLocked(); err != nil {
		return false, err
	}
	c.cancelTimerLocked()
	c.state = StateAbandoned
	return true, nil
}

func (c *Controller) exitAllowed() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exitAllowedLocked()
}

func (c *Controller) exitAllowedLocked() error {
	if c.inFlight {
		return ErrFinalizeInFlight
	}
	if c.state == StateSubmitted || c.state == StateAbandoned {
		return ErrInvalidState
	}
	return nil
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Snapshot{
		State:               c.state,
		Active:              c.active,
		Total:               c.cat.Len(),
		Answered:            c.ledger.AnsweredCount(),
		Questions:           len(c.cat.DistinctQuestionIDs()),
		AutoFinalizePending: c.task != nil,
		SubmitInFlight:      c.inFlight,
		Attempts:            c.attempts,
	}
	if c.lastErr != nil {
		s.LastError = c.lastErr.Error()
	}
	return s
}

// Close cancels any pending timer.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelTimerLocked()
}
