package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/zhouzirui/z-interview/backend/internal/auth"
	"github.com/zhouzirui/z-interview/backend/internal/client"
	"github.com/zhouzirui/z-interview/backend/internal/client/mediastore"
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	server  string
	token   string
	owner   string
	media   string
	timeout time.Duration
	verbose bool
}

func main() {
	_ = godotenv.Load()

	flags := &globalFlags{}
	root := &cobra.Command{
		Use:           "interviewctl",
		Short:         "Drive a mock interview against the z-interview backend",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := zerolog.WarnLevel
			if flags.verbose {
				level = zerolog.DebugLevel
			}
			log.Logger = zerolog.New(zerolog.NewConsoleWriter(func(w *zerolog.ConsoleWriter) {
				w.Out = os.Stderr
			})).Level(level).With().Timestamp().Logger()
		},
	}

	defaultServer := os.Getenv("INTERVIEW_SERVER")
	if defaultServer == "" {
		defaultServer = "http://localhost:8080"
	}
	pf := root.PersistentFlags()
	pf.StringVar(&flags.server, "server", defaultServer, "backend base URL")
	pf.StringVar(&flags.token, "token", os.Getenv("INTERVIEW_TOKEN"), "bearer token (see the token command)")
	pf.StringVar(&flags.owner, "owner", os.Getenv("INTERVIEW_OWNER"), "owner id sent as "+auth.DevOwnerHeader+" when the server runs with AUTH_DISABLED")
	pf.StringVar(&flags.media, "media", "", "media database path (default: user config dir)")
	pf.DurationVar(&flags.timeout, "timeout", client.DefaultTimeout, "per-command timeout")
	pf.BoolVarP(&flags.verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(
		newTokenCmd(),
		newDocumentsCmd(flags),
		newStartCmd(flags),
		newStatusCmd(flags),
		newNextCmd(flags),
		newAnswerCmd(flags),
		newRecordCmd(flags),
		newAnswerVoiceCmd(flags),
		newStopCmd(flags),
		newFeedbackCmd(flags),
		newHistoryCmd(flags),
		newMediaCmd(flags),
		newTranscribeCmd(flags),
	)

	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func (f *globalFlags) context(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), f.timeout)
}

func (f *globalFlags) api() *client.API {
	return client.NewAPI(client.APIConfig{
		BaseURL: f.server,
		Token:   f.token,
		OwnerID: f.owner,
	})
}

func (f *globalFlags) mediaStore() (*mediastore.Store, error) {
	path := f.media
	if path == "" {
		var err error
		if path, err = mediastore.DefaultPath(); err != nil {
			return nil, err
		}
	}
	return mediastore.New(path), nil
}

// driver attaches to interviewID with media wired in. The returned close func
// releases the media database.
func (f *globalFlags) driver(ctx context.Context, interviewID string) (*client.Driver, func(), error) {
	store, err := f.mediaStore()
	if err != nil {
		return nil, nil, err
	}
	closeFn := func() {
		if err := store.Close(); err != nil {
			log.Warn().Err(err).Msg("close media store")
		}
	}
	d := client.NewDriver(f.api(), store)
	if interviewID != "" {
		if _, err := d.Attach(ctx, interviewID); err != nil {
			closeFn()
			return nil, nil, err
		}
	}
	return d, closeFn, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
