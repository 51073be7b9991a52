package cli

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sjawhar/tish/internal/audio"
	"github.com/sjawhar/tish/internal/audio/mic"
	"github.com/sjawhar/tish/internal/config"
	"github.com/sjawhar/tish/internal/pipeline"
	"github.com/sjawhar/tish/internal/session"
	"github.com/sjawhar/tish/internal/transcribe"
)

var saveAudioDir string

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Hold a spoken conversation through the local microphone",
	RunE:  runListen,
}

func init() {
	listenCmd.Flags().StringVar(&saveAudioDir, "save-audio", "", "Directory to write each spoken reply to as mp3")
}

func runListen(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := setup(ctx)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		a.Close(shutdownCtx)
	}()

	if a.cfg.DeepgramAPIKey == "" {
		return fmt.Errorf("live transcription needs %sDEEPGRAM_API_KEY", config.EnvPrefix)
	}

	if err := mic.Initialize(); err != nil {
		return fmt.Errorf("init audio: %w", err)
	}
	defer func() { _ = mic.Terminate() }()

	device, err := mic.OpenFirst(a.cfg.SampleRateCandidates(), mic.DefaultFramesPerBuffer)
	if err != nil {
		return err
	}
	defer func() { _ = device.Close() }()
	if err := device.Start(); err != nil {
		return fmt.Errorf("microphone start failed at %d Hz: %w", device.SampleRate(), err)
	}
	defer func() { _ = device.Stop() }()
	log.Printf("microphone started at %d Hz", device.SampleRate())

	capture := session.NewCapture(a.recognizer(device.SampleRate()), a.captureConfig())
	listener := pipeline.NewListener(a.orch, capture, pipeline.ListenerConfig{
		Recorder:   audio.NewRecorder(device.SampleRate(), audio.DefaultMaxBytes),
		Backup:     a.stt,
		Continuous: true,
		Metrics:    a.metrics,
		Logger:     a.logger,
	})

	out := cmd.OutOrStdout()
	listener.OnUtterance(func(u session.Utterance) {
		_, _ = fmt.Fprintf(out, "you:  %s\n", u.Text)
	})
	listener.OnReply(func(r *pipeline.TurnResult) {
		_, _ = fmt.Fprintf(out, "tish: %s\n", r.ReplyText)
		if saveAudioDir != "" {
			saveReplyAudio(ctx, r, saveAudioDir)
		}
	})
	listener.OnError(func(err error) {
		if errors.Is(err, transcribe.ErrNoSpeech) {
			_, _ = fmt.Fprintln(out, "tish: I didn't catch that. Could you say it again?")
			return
		}
		log.Printf("warning: %v", err)
	})

	_, _ = fmt.Fprintf(out, "tish: %s\n", a.orch.Welcome())
	if err := listener.Start(ctx); err != nil {
		return err
	}

	streamErr := mic.StreamWithRetry(ctx, device, listener, time.Sleep)
	listener.Stop()
	listener.Wait()
	return streamErr
}

// saveReplyAudio also runs for the turn flushed after Ctrl-C, so it waits on a
// detached context.
func saveReplyAudio(ctx context.Context, r *pipeline.TurnResult, dir string) {
	ctx, cancel := pipeline.Detach(ctx)
	defer cancel()

	clip, err := r.Audio(ctx)
	if err != nil || len(clip) == 0 {
		return
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		log.Printf("warning: save reply audio: %v", err)
		return
	}
	path := filepath.Join(dir, r.Timestamp.Format("20060102T150405.000")+".mp3")
	if err := os.WriteFile(path, clip, 0o644); err != nil {
		log.Printf("warning: save reply audio: %v", err)
	}
}
