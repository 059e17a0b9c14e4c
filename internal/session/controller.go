package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-portal/internal/model"
	"github.com/stemsi/exstem-portal/internal/store"
	"golang.org/x/sync/errgroup"
)

// Session errors.
var (
	ErrLoadFailed       = errors.New("failed to load exam data")
	ErrNoQuestions      = errors.New("exam has no questions")
	ErrNotInProgress    = errors.New("session is not in progress")
	ErrAlreadySubmitted = errors.New("exam already submitted")
	ErrSubmitInFlight   = errors.New("submission already in progress")
	ErrUnknownQuestion  = errors.New("question does not belong to this exam")
	ErrInvalidOption    = errors.New("option is not offered by this question")
	ErrIndexOutOfRange  = errors.New("question index out of range")
	ErrDeadlinePassed   = errors.New("exam time is over")
	ErrTimerRunning     = errors.New("countdown already running")
)

// Backend is the slice of the platform API a session needs.
type Backend interface {
	GetExam(ctx context.Context, examID string) (*model.Exam, error)
	GetQuestions(ctx context.Context, examID string) ([]model.Question, error)
	Submit(ctx context.Context, examID string, req *model.SubmitRequest) (*model.SubmitResult, error)
	GetResult(ctx context.Context, examID string, userID int) (*model.ExamResult, error)
}

// Direction moves the question cursor by one step.
type Direction int

const (
	Prev Direction = -1
	Next Direction = 1
)

// Options configures a Controller.
type Options struct {
	UserID  int
	ExamID  string
	Backend Backend
	Store   store.SnapshotStore
	Log     zerolog.Logger

	// Now defaults to time.Now.
	Now func() time.Time
	// TickInterval defaults to one second.
	TickInterval time.Duration
	// RedirectTo is sent with the submitted event.
	RedirectTo string
	// BlockReattempt refuses a fresh session when the backend already has a result.
	BlockReattempt bool
	// OnSubmitted runs once after a successful submission, outside any lock.
	// It may be called from the countdown goroutine.
	OnSubmitted func()
}

// Controller drives one student's attempt at one exam, from load to submission.
// All methods are safe for concurrent use.
type Controller struct {
	userID         int
	examID         string
	key            store.Key
	backend        Backend
	store          store.SnapshotStore
	log            zerolog.Logger
	now            func() time.Time
	tickInterval   time.Duration
	redirectTo     string
	blockReattempt bool
	onSubmitted    func()

	mu          sync.Mutex
	status      model.SessionStatus
	exam        *model.Exam
	questions   []model.Question
	index       map[string]int
	answers     map[string]model.OptionKey
	cursor      int
	endTime     int64
	dirty       bool
	expiredSeen bool
	result      *model.SubmitResult

	subsMu  sync.Mutex
	subs    map[int]chan model.SessionEvent
	nextSub int
	closed  bool

	timerMu     sync.Mutex
	timerCancel context.CancelFunc
	timerDone   chan struct{}
}

// New creates a Controller in the LOADING state. Nothing is fetched until
// StartOrResume.
func New(opts Options) *Controller {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = time.Second
	}

	return &Controller{
		userID:         opts.UserID,
		examID:         opts.ExamID,
		key:            store.Key{UserID: opts.UserID, ExamID: opts.ExamID},
		backend:        opts.Backend,
		store:          opts.Store,
		now:            opts.Now,
		tickInterval:   opts.TickInterval,
		redirectTo:     opts.RedirectTo,
		blockReattempt: opts.BlockReattempt,
		onSubmitted:    opts.OnSubmitted,
		log: opts.Log.With().
			Str("component", "exam_session").
			Str("exam_id", opts.ExamID).
			Int("user_id", opts.UserID).
			Logger(),
		status: model.SessionStatusLoading,
		subs:   make(map[int]chan model.SessionEvent),
	}
}

// ExamID returns the exam this controller drives.
func (c *Controller) ExamID() string { return c.examID }

// StartOrResume loads exam metadata and questions, then either restores the
// cached snapshot or starts a fresh attempt with a new deadline. Calling it on
// a session that is already running returns the current state.
func (c *Controller) StartOrResume(ctx context.Context) (*model.SessionState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.status {
	case model.SessionStatusSubmitted:
		if c.blockReattempt {
			return nil, ErrAlreadySubmitted
		}
		c.resetLocked()
	case model.SessionStatusInProgress, model.SessionStatusSubmitting:
		return c.stateLocked(), nil
	}

	exam, questions, err := c.load(ctx)
	if err != nil {
		return nil, err
	}

	snap, err := c.store.Get(ctx, c.key)
	switch {
	case err == nil:
		c.restoreLocked(exam, questions, snap)
		c.log.Info().
			Int64("remaining_ms", c.remainingLocked()).
			Int("answered", len(c.answers)).
			Msg("Exam session resumed")

	case errors.Is(err, store.ErrNotFound), errors.Is(err, store.ErrCorrupt):
		if errors.Is(err, store.ErrCorrupt) {
			c.log.Warn().Err(err).Msg("Discarding unreadable snapshot, starting fresh")
			if delErr := c.store.Delete(ctx, c.key); delErr != nil {
				c.log.Warn().Err(delErr).Msg("Failed to delete unreadable snapshot")
			}
		}
		if err := c.startFreshLocked(ctx, exam, questions); err != nil {
			return nil, err
		}

	default:
		return nil, fmt.Errorf("%w: read snapshot: %w", ErrLoadFailed, err)
	}

	return c.stateLocked(), nil
}

// load fetches metadata and questions concurrently; both must succeed.
func (c *Controller) load(ctx context.Context) (*model.Exam, []model.Question, error) {
	var (
		exam      *model.Exam
		questions []model.Question
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		e, err := c.backend.GetExam(gctx, c.examID)
		if err != nil {
			return fmt.Errorf("exam metadata: %w", err)
		}
		exam = e
		return nil
	})
	g.Go(func() error {
		qs, err := c.backend.GetQuestions(gctx, c.examID)
		if err != nil {
			return fmt.Errorf("exam questions: %w", err)
		}
		questions = qs
		return nil
	})
	if err := g.Wait(); err != nil {
		c.log.Error().Err(err).Msg("Failed to load exam data")
		return nil, nil, fmt.Errorf("%w: %w", ErrLoadFailed, err)
	}

	if exam == nil || exam.DurationMinutes <= 0 {
		return nil, nil, fmt.Errorf("%w: exam has no duration", ErrLoadFailed)
	}
	if len(questions) == 0 {
		return nil, nil, ErrNoQuestions
	}
	return exam, questions, nil
}

func (c *Controller) startFreshLocked(ctx context.Context, exam *model.Exam, questions []model.Question) error {
	if c.blockReattempt {
		prev, err := c.backend.GetResult(ctx, c.examID, c.userID)
		if err != nil {
			return fmt.Errorf("%w: check previous result: %w", ErrLoadFailed, err)
		}
		if prev != nil {
			c.setQuestionsLocked(exam, questions)
			c.status = model.SessionStatusSubmitted
			score, pct := prev.Score, prev.Percentage
			c.result = &model.SubmitResult{Score: &score, Percentage: &pct}
			return ErrAlreadySubmitted
		}
	}

	c.setQuestionsLocked(exam, questions)
	c.answers = make(map[string]model.OptionKey)
	c.cursor = 0
	c.endTime = c.now().Add(time.Duration(exam.DurationMinutes) * time.Minute).UnixMilli()

	// The deadline must be durable before the student sees the first question,
	// otherwise a reload would start the clock again.
	if err := c.store.Put(ctx, c.key, c.snapshotLocked()); err != nil {
		return fmt.Errorf("persist new session: %w", err)
	}

	c.status = model.SessionStatusInProgress
	c.log.Info().
		Int("duration_minutes", exam.DurationMinutes).
		Int("questions", len(questions)).
		Int64("end_time", c.endTime).
		Msg("Exam session started")
	return nil
}

func (c *Controller) restoreLocked(exam *model.Exam, questions []model.Question, snap *model.Snapshot) {
	c.setQuestionsLocked(exam, questions)
	c.endTime = snap.EndTime
	c.answers = make(map[string]model.OptionKey, len(snap.Answers))

	for qid, opt := range snap.Answers {
		i, ok := c.index[qid]
		if !ok || !c.questions[i].HasChoice(opt) {
			c.dirty = true
			continue
		}
		c.answers[qid] = opt
	}

	c.cursor = snap.CurrentQuestionIndex
	if c.cursor < 0 || c.cursor >= len(c.questions) {
		c.cursor = clamp(c.cursor, len(c.questions))
		c.dirty = true
	}
	c.status = model.SessionStatusInProgress
}

func (c *Controller) setQuestionsLocked(exam *model.Exam, questions []model.Question) {
	c.exam = exam
	c.questions = questions
	c.index = make(map[string]int, len(questions))
	for i, q := range questions {
		id := q.ID.String()
		if id == "" {
			continue
		}
		if _, dup := c.index[id]; !dup {
			c.index[id] = i
		}
	}
}

func (c *Controller) resetLocked() {
	c.status = model.SessionStatusLoading
	c.exam = nil
	c.questions = nil
	c.index = nil
	c.answers = nil
	c.cursor = 0
	c.endTime = 0
	c.dirty = false
	c.expiredSeen = false
	c.result = nil
}

// SelectAnswer records option as the single answer to questionID, replacing
// any earlier choice, and persists the snapshot.
func (c *Controller) SelectAnswer(ctx context.Context, questionID string, option model.OptionKey) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkMutableLocked(); err != nil {
		return err
	}
	if c.remainingLocked() <= 0 {
		return ErrDeadlinePassed
	}

	i, ok := c.index[questionID]
	if !ok {
		return ErrUnknownQuestion
	}
	if !option.Valid() || !c.questions[i].HasChoice(option) {
		return ErrInvalidOption
	}

	c.answers[questionID] = option
	c.persistLocked(ctx)
	return nil
}

// Navigate moves the cursor one step, clamped to the question list.
func (c *Controller) Navigate(ctx context.Context, dir Direction) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkMutableLocked(); err != nil {
		return c.cursor, err
	}

	next := clamp(c.cursor+int(dir), len(c.questions))
	if next != c.cursor {
		c.cursor = next
		c.persistLocked(ctx)
	}
	return c.cursor, nil
}

// JumpTo moves the cursor to index.
func (c *Controller) JumpTo(ctx context.Context, index int) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkMutableLocked(); err != nil {
		return c.cursor, err
	}
	if index < 0 || index >= len(c.questions) {
		return c.cursor, ErrIndexOutOfRange
	}

	if index != c.cursor {
		c.cursor = index
		c.persistLocked(ctx)
	}
	return c.cursor, nil
}

// Tick recomputes the remaining time, flushes a snapshot that failed to save
// earlier and, the first time the deadline is observed, submits automatically.
func (c *Controller) Tick(ctx context.Context) {
	c.mu.Lock()
	if c.status != model.SessionStatusInProgress && c.status != model.SessionStatusSubmitting {
		c.mu.Unlock()
		return
	}

	if c.dirty && c.status == model.SessionStatusInProgress {
		c.persistLocked(ctx)
	}

	remaining := c.remainingLocked()
	expired := false
	if remaining <= 0 && !c.expiredSeen {
		c.expiredSeen = true
		expired = true
	}
	status := c.status
	c.mu.Unlock()

	c.publish(model.SessionEvent{Type: model.EventTick, ExamID: c.examID, Status: status, RemainingMs: remaining})
	if !expired {
		return
	}

	c.log.Info().Msg("Exam time is over, submitting automatically")
	c.publish(model.SessionEvent{Type: model.EventExpired, ExamID: c.examID, Status: status})

	if _, err := c.Submit(ctx); err != nil && !errors.Is(err, ErrSubmitInFlight) && !errors.Is(err, ErrAlreadySubmitted) {
		c.log.Error().Err(err).Msg("Automatic submission failed; session stays resumable")
	}
}

// Submit sends the buffered answers to the backend. Only one submission can be
// in flight; a failed one returns the session to IN_PROGRESS with its cache
// entry intact.
func (c *Controller) Submit(ctx context.Context) (*model.SubmitResult, error) {
	c.mu.Lock()
	switch c.status {
	case model.SessionStatusInProgress:
	case model.SessionStatusSubmitting:
		c.mu.Unlock()
		return nil, ErrSubmitInFlight
	case model.SessionStatusSubmitted:
		c.mu.Unlock()
		return nil, ErrAlreadySubmitted
	default:
		c.mu.Unlock()
		return nil, ErrNotInProgress
	}
	c.status = model.SessionStatusSubmitting
	req := c.submissionLocked()
	c.mu.Unlock()

	c.log.Info().Int("answers", len(req.Answers)).Msg("Submitting exam")
	res, err := c.backend.Submit(ctx, c.examID, req)

	c.mu.Lock()
	if err != nil {
		c.status = model.SessionStatusInProgress
		remaining := c.remainingLocked()
		c.mu.Unlock()

		c.log.Error().Err(err).Msg("Exam submission failed")
		c.publish(model.SessionEvent{
			Type:        model.EventSubmitFailed,
			ExamID:      c.examID,
			Status:      model.SessionStatusInProgress,
			RemainingMs: remaining,
			Message:     userMessage(err),
		})
		return nil, fmt.Errorf("submit exam %s: %w", c.examID, err)
	}

	if res == nil {
		res = &model.SubmitResult{}
	}
	c.status = model.SessionStatusSubmitted
	c.result = res
	c.dirty = false
	if err := c.store.Delete(ctx, c.key); err != nil {
		c.log.Warn().Err(err).Msg("Failed to clear snapshot after submission")
	}
	c.mu.Unlock()

	c.stopCountdown()
	c.log.Info().Msg("Exam submitted")
	c.publish(model.SessionEvent{
		Type:       model.EventSubmitted,
		ExamID:     c.examID,
		Status:     model.SessionStatusSubmitted,
		RedirectTo: c.redirectTo,
		Message:    res.Message,
		Result:     res,
	})
	if c.onSubmitted != nil {
		c.onSubmitted()
	}
	return res, nil
}

// submissionLocked lists answers in question order, one entry per question id.
// Unanswered questions and entries with an empty id or option are left out.
func (c *Controller) submissionLocked() *model.SubmitRequest {
	entries := make([]model.AnswerEntry, 0, len(c.answers))
	seen := make(map[string]bool, len(c.answers))
	for _, q := range c.questions {
		id := q.ID.String()
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		opt, ok := c.answers[id]
		if !ok || opt == "" {
			continue
		}
		entries = append(entries, model.AnswerEntry{QuestionID: id, SelectedOption: opt})
	}
	return &model.SubmitRequest{UserID: c.userID, Answers: entries}
}

// persistLocked writes the snapshot. A failed write leaves the session usable:
// it is reported to subscribers and retried on the next tick.
func (c *Controller) persistLocked(ctx context.Context) {
	if err := c.store.Put(ctx, c.key, c.snapshotLocked()); err != nil {
		first := !c.dirty
		c.dirty = true
		c.log.Warn().Err(err).Msg("Failed to persist exam snapshot")
		if first {
			c.publish(model.SessionEvent{
				Type:        model.EventSnapshotFailed,
				ExamID:      c.examID,
				Status:      c.status,
				RemainingMs: c.remainingLocked(),
				Message:     "progress could not be saved; retrying",
			})
		}
		return
	}
	c.dirty = false
}

func (c *Controller) snapshotLocked() *model.Snapshot {
	answers := make(map[string]model.OptionKey, len(c.answers))
	for k, v := range c.answers {
		answers[k] = v
	}
	return &model.Snapshot{
		Answers:              answers,
		CurrentQuestionIndex: c.cursor,
		EndTime:              c.endTime,
	}
}

func (c *Controller) checkMutableLocked() error {
	switch c.status {
	case model.SessionStatusInProgress:
		return nil
	case model.SessionStatusSubmitting:
		return ErrSubmitInFlight
	case model.SessionStatusSubmitted:
		return ErrAlreadySubmitted
	default:
		return ErrNotInProgress
	}
}

func (c *Controller) remainingLocked() int64 {
	if c.endTime == 0 || c.status == model.SessionStatusSubmitted {
		return 0
	}
	return max(0, c.endTime-c.now().UnixMilli())
}

// Status returns the current lifecycle state.
func (c *Controller) Status() model.SessionStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Result returns the backend's answer to the accepted submission, if any.
func (c *Controller) Result() *model.SubmitResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.result
}

// State returns a copy of the session as the view renders it.
func (c *Controller) State() *model.SessionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

func (c *Controller) stateLocked() *model.SessionState {
	st := &model.SessionState{
		ExamID:               c.examID,
		UserID:               c.userID,
		Status:               c.status,
		DeadlineEpochMs:      c.endTime,
		RemainingMs:          c.remainingLocked(),
		CurrentQuestionIndex: c.cursor,
		QuestionCount:        len(c.questions),
		AnsweredCount:        len(c.answers),
		Questions:            append([]model.Question(nil), c.questions...),
		Answers:              make(map[string]model.OptionKey, len(c.answers)),
		Result:               c.result,
	}
	if c.exam != nil {
		st.Title = c.exam.Title
		st.DurationMinutes = c.exam.DurationMinutes
	}
	for k, v := range c.answers {
		st.Answers[k] = v
	}
	return st
}

func clamp(i, n int) int {
	if i < 0 || n == 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}

// userMessage prefers the backend's own wording when the error carries one.
func userMessage(err error) string {
	var um interface{ UserMessage() string }
	if errors.As(err, &um) && um.UserMessage() != "" {
		return um.UserMessage()
	}
	return err.Error()
}
