package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-portal/internal/apiclient"
	"github.com/stemsi/exstem-portal/internal/config"
	"github.com/stemsi/exstem-portal/internal/model"
	"github.com/stemsi/exstem-portal/internal/session"
	"github.com/stemsi/exstem-portal/internal/store"
	"golang.org/x/sync/errgroup"
)

// Exam session service errors.
var (
	ErrSessionNotOpen = errors.New("exam session is not open")
	ErrResultNotFound = errors.New("exam result not found")
)

// Student identifies the caller and carries the token forwarded to the backend.
type Student struct {
	UserID int
	Token  string
}

// LobbyStatus represents the concrete state of an exam in the lobby.
type LobbyStatus string

const (
	LobbyStatusAvailable  LobbyStatus = "AVAILABLE"
	LobbyStatusInProgress LobbyStatus = "IN_PROGRESS"
	LobbyStatusCompleted  LobbyStatus = "COMPLETED"
)

// LobbyExam represents an exam as displayed in the student lobby.
type LobbyExam struct {
	model.Exam
	LobbyStatus LobbyStatus       `json:"lobby_status"`
	Resumable   bool              `json:"resumable"`
	Active      bool              `json:"active"`
	Result      *model.ExamResult `json:"result,omitempty"`
	ResultBand  model.ResultBand  `json:"result_band,omitempty"`
}

// ExamSessionService keeps one live session controller per (student, exam)
// and owns their countdowns.
type ExamSessionService struct {
	api   *apiclient.Client
	store store.SnapshotStore
	cfg   *config.Config
	log   zerolog.Logger

	rootCtx context.Context
	cancel  context.CancelFunc

	mu       sync.Mutex
	sessions map[store.Key]*liveSession
}

type liveSession struct {
	ctrl    *session.Controller
	backend *studentBackend
}

// NewExamSessionService creates a new ExamSessionService.
func NewExamSessionService(
	api *apiclient.Client,
	snapshots store.SnapshotStore,
	cfg *config.Config,
	log zerolog.Logger,
) *ExamSessionService {
	ctx, cancel := context.WithCancel(context.Background())
	return &ExamSessionService{
		api:      api,
		store:    snapshots,
		cfg:      cfg,
		log:      log.With().Str("component", "exam_session_service").Logger(),
		rootCtx:  ctx,
		cancel:   cancel,
		sessions: make(map[store.Key]*liveSession),
	}
}

// Open starts or resumes the student's session for examID and makes sure its
// countdown runs. Opening an already open session returns its current state.
func (s *ExamSessionService) Open(ctx context.Context, st Student, examID string) (*session.Controller, *model.SessionState, error) {
	key := store.Key{UserID: st.UserID, ExamID: examID}

	s.mu.Lock()
	live, ok := s.sessions[key]
	if !ok {
		backend := &studentBackend{api: s.api, token: st.Token}
		ls := &liveSession{backend: backend}
		ls.ctrl = session.New(session.Options{
			UserID:         st.UserID,
			ExamID:         examID,
			Backend:        backend,
			Store:          s.store,
			Log:            s.log,
			TickInterval:   s.cfg.TickInterval,
			RedirectTo:     s.cfg.ExamListPath,
			BlockReattempt: s.cfg.BlockReattempt,
			OnSubmitted:    func() { s.release(key, ls) },
		})
		live = ls
		s.sessions[key] = live
	}
	s.mu.Unlock()

	live.backend.setToken(st.Token)

	state, err := live.ctrl.StartOrResume(ctx)
	if err != nil {
		// A blocked re-attempt ends SUBMITTED and has nothing left to drive.
		if status := live.ctrl.Status(); status == model.SessionStatusLoading || status == model.SessionStatusSubmitted {
			s.forget(key, live)
		}
		return nil, nil, err
	}

	if err := live.ctrl.StartCountdown(s.rootCtx); err != nil &&
		!errors.Is(err, session.ErrTimerRunning) && !errors.Is(err, session.ErrNotInProgress) {
		return nil, nil, fmt.Errorf("start countdown: %w", err)
	}

	return live.ctrl, state, nil
}

// Get returns the open controller for examID.
func (s *ExamSessionService) Get(st Student, examID string) (*session.Controller, error) {
	s.mu.Lock()
	live, ok := s.sessions[store.Key{UserID: st.UserID, ExamID: examID}]
	s.mu.Unlock()
	if !ok {
		return nil, ErrSessionNotOpen
	}
	live.backend.setToken(st.Token)
	return live.ctrl, nil
}

// Leave stops the countdown and drops the controller. The cache entry stays so
// the attempt can be resumed later.
func (s *ExamSessionService) Leave(st Student, examID string) error {
	key := store.Key{UserID: st.UserID, ExamID: examID}

	s.mu.Lock()
	live, ok := s.sessions[key]
	if ok {
		delete(s.sessions, key)
	}
	s.mu.Unlock()

	if !ok {
		return ErrSessionNotOpen
	}
	live.ctrl.Close()
	s.log.Info().Int("user_id", st.UserID).Str("exam_id", examID).Msg("Student left exam session")
	return nil
}

// release drops a submitted session from the registry. Close runs on its own
// goroutine because the submission may come from the countdown Close waits for.
func (s *ExamSessionService) release(key store.Key, live *liveSession) {
	s.mu.Lock()
	owned := s.sessions[key] == live
	if owned {
		delete(s.sessions, key)
	}
	s.mu.Unlock()

	if owned {
		go live.ctrl.Close()
	}
}

func (s *ExamSessionService) forget(key store.Key, live *liveSession) {
	s.mu.Lock()
	if s.sessions[key] == live {
		delete(s.sessions, key)
	}
	s.mu.Unlock()
	live.ctrl.Close()
}

// Lobby lists the exams the student may take, marking the ones with a cached
// attempt and attaching existing results.
func (s *ExamSessionService) Lobby(ctx context.Context, st Student) ([]LobbyExam, error) {
	api := s.api.WithToken(st.Token)

	exams, err := api.ListExams(ctx)
	if err != nil {
		return nil, fmt.Errorf("list exams: %w", err)
	}

	cached, err := s.store.List(ctx, st.UserID)
	if err != nil {
		s.log.Warn().Err(err).Int("user_id", st.UserID).Msg("Failed to list cached exam sessions")
	}
	resumable := make(map[string]bool, len(cached))
	for _, id := range cached {
		resumable[id] = true
	}

	lobby := make([]LobbyExam, 0, len(exams))
	for _, e := range exams {
		if !e.Visible() {
			continue
		}
		id := e.ID.String()
		le := LobbyExam{
			Exam:        e,
			LobbyStatus: LobbyStatusAvailable,
			Resumable:   resumable[id],
			Active:      s.isActive(store.Key{UserID: st.UserID, ExamID: id}),
		}
		if le.Resumable || le.Active {
			le.LobbyStatus = LobbyStatusInProgress
		}
		lobby = append(lobby, le)
	}

	// Result lookups are best effort: a failure only hides that exam's score.
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i := range lobby {
		g.Go(func() error {
			res, err := api.GetResult(gctx, lobby[i].ID.String(), st.UserID)
			if err != nil {
				s.log.Warn().Err(err).Str("exam_id", lobby[i].ID.String()).Msg("Failed to fetch exam result")
				return nil
			}
			if res != nil {
				lobby[i].Result = res
				lobby[i].ResultBand = res.Band()
				if !lobby[i].Resumable {
					lobby[i].LobbyStatus = LobbyStatusCompleted
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	return lobby, nil
}

// Result returns the student's graded result for examID.
func (s *ExamSessionService) Result(ctx context.Context, st Student, examID string) (*model.ExamResult, error) {
	res, err := s.api.WithToken(st.Token).GetResult(ctx, examID, st.UserID)
	if err != nil {
		return nil, fmt.Errorf("get result: %w", err)
	}
	if res == nil {
		return nil, ErrResultNotFound
	}
	return res, nil
}

// RedirectTo is where the view goes after a successful submission.
func (s *ExamSessionService) RedirectTo() string {
	return s.cfg.ExamListPath
}

// ActiveSessions returns the number of open controllers.
func (s *ExamSessionService) ActiveSessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *ExamSessionService) isActive(key store.Key) bool {
	s.mu.Lock()
	live, ok := s.sessions[key]
	s.mu.Unlock()
	return ok && live.ctrl.Status() == model.SessionStatusInProgress
}

// Shutdown stops every countdown. Cache entries are kept for resume.
func (s *ExamSessionService) Shutdown() {
	s.cancel()

	s.mu.Lock()
	live := make([]*liveSession, 0, len(s.sessions))
	for k, ls := range s.sessions {
		live = append(live, ls)
		delete(s.sessions, k)
	}
	s.mu.Unlock()

	for _, ls := range live {
		ls.ctrl.Close()
	}
	s.log.Info().Int("sessions", len(live)).Msg("Exam sessions closed")
}

// studentBackend forwards the most recent token of the session's student.
type studentBackend struct {
	api *apiclient.Client

	mu    sync.RWMutex
	token string
}

func (b *studentBackend) setToken(token string) {
	if token == "" {
		return
	}
	b.mu.Lock()
	b.token = token
	b.mu.Unlock()
}

func (b *studentBackend) client() *apiclient.Client {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.api.WithToken(b.token)
}

func (b *studentBackend) GetExam(ctx context.Context, examID string) (*model.Exam, error) {
	return b.client().GetExam(ctx, examID)
}

func (b *studentBackend) GetQuestions(ctx context.Context, examID string) ([]model.Question, error) {
	return b.client().GetQuestions(ctx, examID)
}

func (b *studentBackend) Submit(ctx context.Context, examID string, req *model.SubmitRequest) (*model.SubmitResult, error) {
	return b.client().Submit(ctx, examID, req)
}

func (b *studentBackend) GetResult(ctx context.Context, examID string, userID int) (*model.ExamResult, error) {
	return b.client().GetResult(ctx, examID, userID)
}
