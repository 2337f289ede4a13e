package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	microphone "github.com/deepgram/deepgram-go-sdk/v3/pkg/audio/microphone"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	client "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/rsvedant/a2apayments-sub000/internal/audio"
	"github.com/rsvedant/a2apayments-sub000/internal/captions"
	"github.com/rsvedant/a2apayments-sub000/internal/config"
	"github.com/rsvedant/a2apayments-sub000/internal/ingest"
	"github.com/rsvedant/a2apayments-sub000/internal/llm"
	"github.com/rsvedant/a2apayments-sub000/internal/segment"
	"github.com/rsvedant/a2apayments-sub000/internal/suggest"
)

// consoleListener prints the live call to stdout.
type consoleListener struct {
	out io.Writer
}

func (l consoleListener) OnChunk(_ string, chunk segment.Chunk) {
	fmt.Fprintf(l.out, "[%s] %s\n", chunk.CompletedAt.Format("15:04:05"), segment.FormatLine(chunk))
}

func (l consoleListener) OnSuggestions(_ string, _ segment.Chunk, result suggest.Result) {
	if result.Error != "" && result.Error != suggest.ReasonParseFailed {
		return
	}
	for _, s := range result.Suggestions {
		if strings.TrimSpace(s) != "" {
			fmt.Fprintf(l.out, "    > %s\n", s)
		}
	}
}

func (l consoleListener) OnSummary(_ string, summary string) {
	fmt.Fprintf(l.out, "--- summary: %s\n", summary)
}

type openedMic struct {
	mic        *microphone.Microphone
	sampleRate int
}

func main() {
	configPath := flag.String("config", "callsync.yaml", "path to YAML config file")
	title := flag.String("title", "", "call title")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})))

	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file loaded", "error", err)
	}

	cfg, warnings, err := config.Load(*configPath)
	if err != nil {
		slog.Error("config load failed", "error", err)
		os.Exit(1)
	}
	for _, w := range warnings {
		slog.Warn("config", "warning", w)
	}
	if cfg.UserID == "" {
		slog.Error("user_id is required to submit calls; set " + config.EnvPrefix + "USER_ID")
		os.Exit(1)
	}
	callTitle := strings.TrimSpace(*title)
	if callTitle == "" {
		callTitle = "Call " + time.Now().Format("2006-01-02 15:04")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	callID := uuid.New().String()
	suggestionsClient, err := llm.NewClientForModel(cfg.SuggestionsModel, cfg.APIKeyFor)
	if err != nil {
		slog.Warn("live suggestions disabled", "error", err)
	}
	var summarizer *suggest.Summarizer
	if suggestionsClient != nil {
		summarizer = suggest.NewSummarizer(suggestionsClient)
	}
	session := captions.NewSession(ctx, captions.SessionConfig{
		CallID:      callID,
		Generator:   suggest.NewGenerator(suggestionsClient, cfg.ParsedSuggestionInterval()),
		Summarizer:  summarizer,
		SelfSpeaker: cfg.SelfSpeaker,
		Listener:    consoleListener{out: os.Stdout},
	})

	microphone.Initialize()
	defer microphone.Teardown()
	client.Init(client.InitLib{LogLevel: client.LogLevelDefault})

	started := time.Now()
	var recorder *audio.Recorder
	var dgStop func()

	opened, err := captions.WaitForSurface(ctx, func(context.Context) (openedMic, error) {
		return openMicrophone(cfg.SampleRateCandidates())
	}, captions.SurfaceAttempts, captions.SurfaceInterval)
	if err != nil {
		slog.Warn("no caption source, call will not be transcribed", "error", err)
	} else {
		defer func() { _ = opened.mic.Stop() }()

		recorder = audio.NewRecorder("data/audio", opened.sampleRate)
		if err := recorder.Start(callID); err != nil {
			slog.Warn("call recording disabled", "error", err)
			recorder = nil
		}

		source := captions.NewDeepgramSource(session.Observe)
		cOptions := &interfaces.ClientOptions{EnableKeepAlive: true}
		tOptions := &interfaces.LiveTranscriptionOptions{
			Model:       "nova-2",
			Language:    "en-US",
			Diarize:     true,
			Punctuate:   true,
			SmartFormat: true,
			Encoding:    "linear16",
			SampleRate:  opened.sampleRate,
			Channels:    1,
		}

		dgClient, err := client.NewWSUsingCallback(ctx, cfg.DeepgramAPIKey, cOptions, tOptions, source)
		switch {
		case err != nil:
			slog.Warn("deepgram client unavailable", "error", err)
		case !dgClient.Connect():
			slog.Warn("deepgram connect failed")
		default:
			dgStop = dgClient.Stop
			var sink io.Writer = dgClient
			if recorder != nil {
				sink = recorder.Writer(dgClient)
			}
			go streamMicWithRetry(ctx, opened.mic, sink, time.Sleep)
			slog.Info("live call started", "call_id", callID, "sample_rate", opened.sampleRate)
		}
	}

	<-ctx.Done()
	stop()
	slog.Info("call ended, submitting transcript", "call_id", callID)

	if dgStop != nil {
		dgStop()
	}
	transcript := session.End()

	req := ingest.Request{
		UserID:        cfg.UserID,
		Title:         callTitle,
		Transcription: transcript.String(),
		Duration:      time.Since(started).Seconds(),
	}
	if recorder != nil {
		if path, err := recorder.Finish(); err != nil {
			slog.Warn("finish recording failed", "error", err)
		} else if path != "" {
			req.RecordingURL = "file://" + path
			slog.Info("call recorded", "path", path)
		}
	}

	if transcript.Len() == 0 {
		slog.Info("nothing transcribed, not submitting")
		return
	}

	submitCtx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()
	resp, err := ingest.NewClient(cfg.IngestURL).Submit(submitCtx, req)
	if err != nil {
		slog.Error("submit call failed", "error", err)
		os.Exit(1)
	}
	slog.Info("call submitted",
		"stored_call_id", resp.CallID,
		"processed", resp.Processed,
		"processing_error", resp.ProcessingError,
	)
}

// openMicrophone opens and starts the first sample rate the device accepts.
func openMicrophone(rates []int) (openedMic, error) {
	var errs []error
	for _, rate := range rates {
		mic, err := microphone.New(microphone.AudioConfig{InputChannels: 1, SamplingRate: float32(rate)})
		if err != nil {
			errs = append(errs, fmt.Errorf("open at %d Hz: %w", rate, err))
			continue
		}
		if err := mic.Start(); err != nil {
			errs = append(errs, fmt.Errorf("start at %d Hz: %w", rate, err))
			continue
		}
		return openedMic{mic: mic, sampleRate: rate}, nil
	}
	if len(errs) == 0 {
		return openedMic{}, errors.New("no sample rates to try")
	}
	return openedMic{}, errors.Join(errs...)
}

type micStreamer interface {
	Stream(writer io.Writer) error
}

// streamMicWithRetry restarts the stream after input overflows and stops on
// any other error.
func streamMicWithRetry(ctx context.Context, streamer micStreamer, writer io.Writer, wait func(time.Duration)) {
	for {
		if ctx.Err() != nil {
			return
		}

		err := streamer.Stream(writer)
		if err == nil || ctx.Err() != nil {
			return
		}

		if strings.Contains(strings.ToLower(err.Error()), "overflow") {
			slog.Warn("mic input overflow, restarting stream")
			wait(250 * time.Millisecond)
			continue
		}

		slog.Error("mic stream failed", "error", err)
		return
	}
}
