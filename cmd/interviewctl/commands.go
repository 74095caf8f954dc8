package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/zhouzirui/z-interview/backend/internal/auth"
	"github.com/zhouzirui/z-interview/backend/internal/client"
	"github.com/zhouzirui/z-interview/backend/internal/client/mediastore"
	"github.com/zhouzirui/z-interview/backend/internal/model/document"
	"github.com/zhouzirui/z-interview/backend/internal/service/answer"
)

func newTokenCmd() *cobra.Command {
	var (
		secret string
		issuer string
		ttl    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token <owner-id>",
		Short: "Issue a bearer token for an owner (needs the server's AUTH_JWT_SECRET)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := auth.Issue(auth.Config{Secret: []byte(secret), Issuer: issuer, TTL: ttl}, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&secret, "secret", os.Getenv("AUTH_JWT_SECRET"), "HS256 signing secret")
	cmd.Flags().StringVar(&issuer, "issuer", envOr("AUTH_ISSUER", "z-interview"), "token issuer")
	cmd.Flags().DurationVar(&ttl, "ttl", auth.DefaultTokenTTL, "token lifetime")
	return cmd
}

func newDocumentsCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "documents",
		Short: "List your documents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := flags.context(cmd)
			defer cancel()
			docs, err := flags.api().Documents(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), docs)
		},
	}

	var kind, title string
	add := &cobra.Command{
		Use:   "add <file>",
		Short: "Register a resume or portfolio from a text file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			content, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			if title == "" {
				title = filepath.Base(args[0])
			}
			ctx, cancel := flags.context(cmd)
			defer cancel()
			doc, err := flags.api().AddDocument(ctx, document.Kind(kind), title, string(content))
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), doc)
		},
	}
	add.Flags().StringVar(&kind, "kind", string(document.KindResume), "resume or portfolio")
	add.Flags().StringVar(&title, "title", "", "document title (default: file name)")
	cmd.AddCommand(add)
	return cmd
}

func newStartCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "start <document-id>...",
		Short: "Create an interview grounded on the given documents",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := flags.context(cmd)
			defer cancel()
			res, err := flags.api().Create(ctx, args)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
}

func newStatusCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status <interview-id>",
		Short: "Show the interview session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := flags.context(cmd)
			defer cancel()
			session, err := flags.api().Session(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), session)
		},
	}
}

func newNextCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "next <interview-id>",
		Short: "Show the current question, generating the next one when needed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := flags.context(cmd)
			defer cancel()
			d, closeFn, err := flags.driver(ctx, args[0])
			if err != nil {
				return err
			}
			defer closeFn()
			q, err := d.Question(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), q)
		},
	}
}

func newAnswerCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "answer <interview-id> <text>...",
		Short: "Answer the current question in text",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := flags.context(cmd)
			defer cancel()
			d, closeFn, err := flags.driver(ctx, args[0])
			if err != nil {
				return err
			}
			defer closeFn()
			res, err := d.AnswerChat(ctx, strings.Join(args[1:], " "))
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
}

func newRecordCmd(flags *globalFlags) *cobra.Command {
	var (
		kind      string
		format    string
		overwrite bool
	)
	cmd := &cobra.Command{
		Use:   "record <interview-id> <audio-file>",
		Short: "Store a recording for the current question in the local media store",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			blob, err := os.ReadFile(args[1])
			if err != nil {
				return err
			}
			if format == "" {
				format = answer.InferAudioFormat(args[1], "")
			}
			ctx, cancel := flags.context(cmd)
			defer cancel()
			d, closeFn, err := flags.driver(ctx, args[0])
			if err != nil {
				return err
			}
			defer closeFn()
			if err := d.Capture(ctx, blob, mediastore.Kind(kind), format, overwrite); err != nil {
				if errors.Is(err, client.ErrUnconsumedRecording) {
					return fmt.Errorf("%w; submit it with answer-voice or pass --overwrite", err)
				}
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "stored %d bytes (%s)\n", len(blob), format)
			return nil
		},
	}
	cmd.Flags().StringVar(&kind, "kind", string(mediastore.KindAudio), "audio or video")
	cmd.Flags().StringVar(&format, "format", "", "audio format (default: from file extension)")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "replace an unsubmitted recording")
	return cmd
}

func newAnswerVoiceCmd(flags *globalFlags) *cobra.Command {
	var language string
	cmd := &cobra.Command{
		Use:   "answer-voice <interview-id>",
		Short: "Submit the stored recording as the answer to the current question",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := flags.context(cmd)
			defer cancel()
			d, closeFn, err := flags.driver(ctx, args[0])
			if err != nil {
				return err
			}
			defer closeFn()
			res, err := d.AnswerVoice(ctx, language)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().StringVar(&language, "language", "", "recognition language (default: server setting)")
	return cmd
}

func newStopCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "stop <interview-id>",
		Short: "End the interview early",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := flags.context(cmd)
			defer cancel()
			res, err := flags.api().Stop(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
}

func newFeedbackCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "feedback <interview-id>",
		Short: "Show the feedback of a completed interview",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := flags.context(cmd)
			defer cancel()
			fb, err := flags.api().Feedback(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), fb)
		},
	}
}

func newHistoryCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "history <interview-id>",
		Short: "Print the interview transcript",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := flags.context(cmd)
			defer cancel()
			messages, err := flags.api().History(ctx, args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, m := range messages {
				content := m.Content
				if content == "" {
					content = "(no answer)"
				}
				fmt.Fprintf(out, "[%s] %s: %s\n", m.Timestamp.Local().Format(time.Kitchen), m.Sender, content)
			}
			return nil
		},
	}
}

func newMediaCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "media",
		Short: "Inspect the local media store",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "latest",
		Short: "Describe the stored recording",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := flags.mediaStore()
			if err != nil {
				return err
			}
			defer store.Close()
			rec, err := store.Latest(cmd.Context())
			if err != nil {
				return err
			}
			if rec == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "no recording stored")
				return nil
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"kind":      rec.Kind,
				"format":    rec.Format,
				"bytes":     len(rec.Blob),
				"updatedAt": rec.UpdatedAt,
			})
		},
	}, &cobra.Command{
		Use:   "clear",
		Short: "Discard the stored recording",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := flags.mediaStore()
			if err != nil {
				return err
			}
			defer store.Close()
			return store.Clear(cmd.Context())
		},
	})
	return cmd
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}
