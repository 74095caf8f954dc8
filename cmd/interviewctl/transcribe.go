package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/zhouzirui/z-interview/backend/internal/config"
	speechModel "github.com/zhouzirui/z-interview/backend/internal/model/speech"
	"github.com/zhouzirui/z-interview/backend/internal/service/answer"
	"github.com/zhouzirui/z-interview/backend/internal/service/speech"
)

// newTranscribeCmd 直接调用 ASR，用于排查语音凭证和音频格式问题。
func newTranscribeCmd(flags *globalFlags) *cobra.Command {
	var (
		format   string
		language string
		session  string
	)
	cmd := &cobra.Command{
		Use:   "transcribe <audio-file>",
		Short: "Run speech recognition on a file using the SPEECH_* environment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadSpeech()
			if err != nil {
				return err
			}
			if !cfg.Enabled {
				return fmt.Errorf("speech service not configured: set SPEECH_APP_ID and SPEECH_ACCESS_TOKEN")
			}

			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			if format == "" {
				format = answer.InferAudioFormat(args[0], "")
			}
			if language == "" {
				language = cfg.Language
			}
			if session == "" {
				session = fmt.Sprintf("manual-%d", time.Now().UnixNano())
			}

			ctx, cancel := flags.context(cmd)
			defer cancel()

			log.Debug().Str("session", session).Str("format", format).Str("language", language).Msg("starting transcription")
			resp, err := speech.NewService(cfg.ASRConfig()).TranscribeAudio(ctx, &speechModel.ASRRequest{
				SessionID: session,
				AudioData: data,
				Format:    format,
				Language:  language,
			})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), resp)
		},
	}
	cmd.Flags().StringVar(&format, "format", "", "audio format (default: from file extension)")
	cmd.Flags().StringVar(&language, "language", "", "recognition language (default: SPEECH_ASR_LANGUAGE)")
	cmd.Flags().StringVar(&session, "session", "", "request id (default: generated)")
	return cmd
}
