package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/stemsi/exstem-portal/internal/model"
	"github.com/stemsi/exstem-portal/internal/service"
	"github.com/stemsi/exstem-portal/internal/session"
)

type commandKind int

const (
	cmdUnknown commandKind = iota
	cmdAnswer
	cmdNext
	cmdPrev
	cmdJump
	cmdSubmit
	cmdQuit
	cmdShow
)

type command struct {
	kind   commandKind
	option model.OptionKey
	index  int
}

// parseCommand reads one line typed during an exam. Jump targets are 1-based.
func parseCommand(line string) command {
	fields := strings.Fields(strings.ToLower(line))
	if len(fields) == 0 {
		return command{kind: cmdShow}
	}

	switch fields[0] {
	case "a", "b", "c", "d":
		return command{kind: cmdAnswer, option: model.OptionKey(fields[0])}
	case "n":
		return command{kind: cmdNext}
	case "p":
		return command{kind: cmdPrev}
	case "s":
		return command{kind: cmdSubmit}
	case "q":
		return command{kind: cmdQuit}
	case "g":
		if len(fields) != 2 {
			return command{kind: cmdUnknown}
		}
		n, err := strconv.Atoi(fields[1])
		if err != nil || n < 1 {
			return command{kind: cmdUnknown}
		}
		return command{kind: cmdJump, index: n - 1}
	}
	return command{kind: cmdUnknown}
}

// runner drives one exam attempt from a line-oriented terminal.
type runner struct {
	svc     *service.ExamSessionService
	student service.Student
	examID  string
	in      io.Reader
	out     io.Writer

	ctrl           *session.Controller
	confirmPending bool
	lastMinute     int64
}

func (r *runner) Run(ctx context.Context) error {
	ctrl, state, err := r.svc.Open(ctx, r.student, r.examID)
	if err != nil {
		return err
	}
	r.ctrl = ctrl
	defer func() {
		if err := r.svc.Leave(r.student, r.examID); err != nil && !errors.Is(err, service.ErrSessionNotOpen) {
			fmt.Fprintln(r.out, "Error:", err)
		}
	}()

	events, unsubscribe := ctrl.Subscribe(64)
	defer unsubscribe()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	fmt.Fprintf(r.out, "%s (%d questions, %d minutes)\n", state.Title, state.QuestionCount, state.DurationMinutes)
	fmt.Fprintln(r.out, "Commands: a-d answer, n next, p previous, g N jump, s submit, q leave")
	r.lastMinute = minutesLeft(state.RemainingMs)
	r.render(state)

	for {
		select {
		case <-ctx.Done():
			fmt.Fprintln(r.out, "\nLeaving exam. Your answers are saved.")
			return nil

		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if done := r.handleEvent(ev); done {
				return nil
			}

		case line, ok := <-lines:
			if !ok {
				fmt.Fprintln(r.out, "Leaving exam. Your answers are saved.")
				return nil
			}
			if done := r.handleLine(ctx, line); done {
				return nil
			}
		}
	}
}

func (r *runner) handleEvent(ev model.SessionEvent) bool {
	switch ev.Type {
	case model.EventTick:
		// Remind once per minute, and every ten seconds in the last minute.
		m := minutesLeft(ev.RemainingMs)
		if m != r.lastMinute || (m == 0 && ev.RemainingMs > 0 && (ev.RemainingMs/1000)%10 == 0) {
			r.lastMinute = m
			fmt.Fprintf(r.out, "[%s left]\n", formatRemaining(ev.RemainingMs))
		}
	case model.EventExpired:
		fmt.Fprintln(r.out, "Time is up. Submitting your answers...")
	case model.EventSubmitFailed:
		fmt.Fprintf(r.out, "Submission failed: %s\nType s to try again.\n", ev.Message)
	case model.EventSnapshotFailed:
		fmt.Fprintln(r.out, "Warning: answers could not be saved locally.")
	case model.EventSubmitted:
		printResult(r.out, ev.Result)
		return true
	}
	return false
}

func (r *runner) handleLine(ctx context.Context, line string) bool {
	if r.confirmPending {
		r.confirmPending = false
		if strings.EqualFold(strings.TrimSpace(line), "y") {
			// The outcome arrives as a submitted or submit_failed event.
			if _, err := r.ctrl.Submit(ctx); err != nil && errors.Is(err, session.ErrSubmitInFlight) {
				fmt.Fprintln(r.out, "Submission already in progress.")
			}
			return false
		}
		fmt.Fprintln(r.out, "Submission cancelled.")
		return false
	}

	cmd := parseCommand(line)
	var err error
	switch cmd.kind {
	case cmdAnswer:
		state := r.ctrl.State()
		if len(state.Questions) == 0 {
			return false
		}
		q := state.Questions[state.CurrentQuestionIndex]
		err = r.ctrl.SelectAnswer(ctx, q.ID.String(), cmd.option)
	case cmdNext:
		_, err = r.ctrl.Navigate(ctx, session.Next)
	case cmdPrev:
		_, err = r.ctrl.Navigate(ctx, session.Prev)
	case cmdJump:
		_, err = r.ctrl.JumpTo(ctx, cmd.index)
	case cmdSubmit:
		state := r.ctrl.State()
		fmt.Fprintf(r.out, "Submit now? %d of %d questions answered. [y/N] ", state.AnsweredCount, state.QuestionCount)
		r.confirmPending = true
		return false
	case cmdQuit:
		fmt.Fprintln(r.out, "Leaving exam. Your answers are saved.")
		return true
	case cmdShow:
	default:
		fmt.Fprintln(r.out, "Unknown command. Use a-d, n, p, g N, s or q.")
		return false
	}

	if err != nil {
		fmt.Fprintln(r.out, "Error:", describe(err))
		return false
	}
	r.render(r.ctrl.State())
	return false
}

func (r *runner) render(state *model.SessionState) {
	if len(state.Questions) == 0 {
		return
	}
	q := state.Questions[state.CurrentQuestionIndex]
	selected := state.Answers[q.ID.String()]

	fmt.Fprintf(r.out, "\nQuestion %d/%d  [%s left, %d answered]\n",
		state.CurrentQuestionIndex+1, state.QuestionCount, formatRemaining(state.RemainingMs), state.AnsweredCount)
	fmt.Fprintln(r.out, q.Text)
	for _, ch := range q.Choices {
		marker := " "
		if ch.Key == selected {
			marker = "*"
		}
		fmt.Fprintf(r.out, " %s %s) %s\n", marker, ch.Key, ch.Text)
	}
	fmt.Fprint(r.out, "> ")
}

func printResult(out io.Writer, res *model.SubmitResult) {
	fmt.Fprintln(out, "Exam submitted.")
	if res == nil {
		return
	}
	if res.Message != "" {
		fmt.Fprintln(out, res.Message)
	}
	if res.Score != nil {
		fmt.Fprintf(out, "Score: %.0f\n", *res.Score)
	}
	if res.Percentage != nil {
		fmt.Fprintf(out, "Percentage: %.0f%% (%s)\n", *res.Percentage, model.ExamResult{Percentage: *res.Percentage}.Band())
	}
}

func describe(err error) string {
	switch {
	case errors.Is(err, session.ErrDeadlinePassed):
		return "time is up"
	case errors.Is(err, session.ErrInvalidOption):
		return "that option is not offered for this question"
	case errors.Is(err, session.ErrIndexOutOfRange):
		return "no such question"
	case errors.Is(err, session.ErrSubmitInFlight):
		return "submission in progress"
	case errors.Is(err, session.ErrAlreadySubmitted):
		return "exam already submitted"
	}
	return err.Error()
}

func minutesLeft(ms int64) int64 {
	if ms <= 0 {
		return 0
	}
	return ms / 60000
}

// formatRemaining renders milliseconds as mm:ss, or h:mm:ss past an hour.
func formatRemaining(ms int64) string {
	if ms < 0 {
		ms = 0
	}
	total := ms / 1000
	h, m, s := total/3600, (total%3600)/60, total%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}
