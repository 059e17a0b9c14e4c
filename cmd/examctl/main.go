package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-portal/internal/apiclient"
	"github.com/stemsi/exstem-portal/internal/config"
	"github.com/stemsi/exstem-portal/internal/logger"
	"github.com/stemsi/exstem-portal/internal/service"
	"github.com/stemsi/exstem-portal/internal/store"
	"github.com/stemsi/exstem-portal/internal/validator"
	"golang.org/x/term"
)

func main() {
	home, _ := os.UserHomeDir()
	defaultDir := filepath.Join(home, ".exstem")

	var dataDir string
	flag.StringVar(&dataDir, "dir", defaultDir, "Directory for credentials and cached exam sessions")
	flag.Usage = printUsage
	flag.Parse()

	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()
	cfg.SnapshotStore = config.StoreFile
	cfg.SnapshotFile = filepath.Join(dataDir, "snapshots.json")

	// ─── Initialize Logger ─────────────────────────────────────────────
	// Logs go to stderr so they never interleave with the exam screen.
	log := logger.SetupWriter(os.Stderr, getLogLevel(cfg), "pretty")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	args := flag.Args()
	if len(args) < 1 {
		printUsage()
		os.Exit(2)
	}

	api := apiclient.New(cfg.APIBaseURL, cfg.APITimeout, log)
	creds := newCredentialStore(filepath.Join(dataDir, "token"))

	var err error
	switch args[0] {
	case "login":
		err = login(ctx, api, creds)
	case "logout":
		err = creds.Clear()
		if err == nil {
			fmt.Println("Logged out.")
		}
	case "list":
		err = withSession(ctx, cfg, api, creds, log, func(svc *service.ExamSessionService, st service.Student) error {
			return list(ctx, svc, st)
		})
	case "take":
		if len(args) < 2 || !validator.ValidExamID(args[1]) {
			err = errors.New("take requires a valid exam id")
			break
		}
		err = withSession(ctx, cfg, api, creds, log, func(svc *service.ExamSessionService, st service.Student) error {
			r := &runner{svc: svc, student: st, examID: args[1], in: os.Stdin, out: os.Stdout}
			return r.Run(ctx)
		})
	default:
		printUsage()
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func getLogLevel(cfg *config.Config) string {
	if os.Getenv("LOG_LEVEL") == "" {
		return "warn"
	}
	return cfg.LogLevel
}

func login(ctx context.Context, api *apiclient.Client, creds *credentialStore) error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("=== ExStem Login ===")

	fmt.Print("Email: ")
	email, _ := reader.ReadString('\n')
	email = strings.TrimSpace(email)
	if email == "" {
		return errors.New("email is required")
	}

	fmt.Print("Password: ")
	bytePassword, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println() // Newline after password input
	if err != nil {
		return fmt.Errorf("read password: %w", err)
	}

	res, err := api.Login(ctx, email, string(bytePassword))
	if err != nil {
		var apiErr *apiclient.APIError
		if errors.As(err, &apiErr) {
			return errors.New(apiErr.UserMessage())
		}
		return err
	}

	if err := creds.Save(&credentials{Token: res.Token, User: res.User}); err != nil {
		return err
	}
	fmt.Printf("Logged in as %s.\n", displayName(res.User.Name, res.User.Email))
	return nil
}

// withSession loads the saved credentials and builds the session service on a
// file snapshot store.
func withSession(
	ctx context.Context,
	cfg *config.Config,
	api *apiclient.Client,
	creds *credentialStore,
	log zerolog.Logger,
	fn func(*service.ExamSessionService, service.Student) error,
) error {
	c, err := creds.Load()
	if err != nil {
		return err
	}

	snapshots, closeStore, err := store.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	svc := service.NewExamSessionService(api, snapshots, cfg, log)
	defer svc.Shutdown()

	return fn(svc, service.Student{UserID: c.User.ID, Token: c.Token})
}

func list(ctx context.Context, svc *service.ExamSessionService, st service.Student) error {
	lobby, err := svc.Lobby(ctx, st)
	if err != nil {
		return err
	}
	if len(lobby) == 0 {
		fmt.Println("No exams available.")
		return nil
	}

	for _, e := range lobby {
		line := fmt.Sprintf("%-12s %-40s %3d min  %s", e.ID, e.Title, e.DurationMinutes, e.LobbyStatus)
		if e.Result != nil {
			line += fmt.Sprintf("  score %.0f (%.0f%%, %s)", e.Result.Score, e.Result.Percentage, e.ResultBand)
		}
		fmt.Println(line)
	}
	return nil
}

func displayName(name, email string) string {
	if name != "" {
		return name
	}
	return email
}

func printUsage() {
	fmt.Println("Usage: examctl [flags] <command>")
	fmt.Println("Commands:")
	fmt.Println("  login            sign in and save the token")
	fmt.Println("  logout           forget the saved token")
	fmt.Println("  list             list exams with results and resumable attempts")
	fmt.Println("  take <exam_id>   start or resume an exam")
	fmt.Println("Flags:")
	flag.PrintDefaults()
}
