package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/yearsky/nara-companion/internal/capture"
	"github.com/yearsky/nara-companion/internal/config"
	"github.com/yearsky/nara-companion/internal/handler"
	captureHandler "github.com/yearsky/nara-companion/internal/handler/capture"
	sessionHandler "github.com/yearsky/nara-companion/internal/handler/session"
	streamHandler "github.com/yearsky/nara-companion/internal/handler/stream"
	"github.com/yearsky/nara-companion/internal/service/ai"
	"github.com/yearsky/nara-companion/internal/service/credit"
	"github.com/yearsky/nara-companion/internal/service/emotion"
	"github.com/yearsky/nara-companion/internal/service/playback"
	sessionService "github.com/yearsky/nara-companion/internal/service/session"
	"github.com/yearsky/nara-companion/internal/service/speech"
	"github.com/yearsky/nara-companion/internal/store"
	"github.com/yearsky/nara-companion/internal/telemetry"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logDir := os.Getenv("LOG_DIR")
	if logDir == "" {
		logDir = "logs"
	}
	if err := telemetry.InitLogger(logDir); err != nil {
		log.Fatalf("failed to initialize logging: %v", err)
	}

	tracer, meter, telemetryCleanup, err := telemetry.InitTelemetry(ctx, logDir)
	if err != nil {
		log.Fatalf("failed to initialize telemetry: %v", err)
	}
	defer telemetryCleanup()

	db, err := store.Open(cfg.Store.Path)
	if err != nil {
		log.Fatalf("failed to open store: %v", err)
	}

	// Credit balance survives restarts; fall back to the starting grant on
	// first boot.
	balance := cfg.Session.StartingCredits
	if saved, found, err := db.LoadCredits(); err != nil {
		log.Printf("warning: failed to load persisted credits: %v", err)
	} else if found {
		balance = saved
	}
	credits := credit.NewMeter(balance, cfg.Session.LowCreditThreshold, db)

	emotions := emotion.NewState()
	player := playback.NewPlayer(emotions)

	transcript := sessionService.NewTranscript(cfg.Session.TranscriptCap)
	history := sessionService.NewHistory(cfg.Session.IdleGap, db)
	if rows, err := db.LoadMessages(); err != nil {
		log.Printf("warning: failed to load persisted history: %v", err)
	} else {
		history.Restore(rows)
	}

	scheduler := sessionService.NewScheduler(history, cfg.Session.DisposalDelay, cfg.Session.MaxVisibleDesktop)
	defer scheduler.Close()

	transcript.AddObserver(sessionService.NewSynchronizer(history, scheduler))

	hub := streamHandler.NewHub()
	transcript.AddObserver(hub)

	completer := buildCompleter(ctx, cfg)
	speechSvc := speech.NewService(cfg.Speech)

	orch := sessionService.NewOrchestrator(sessionService.Deps{
		Transcript:      transcript,
		History:         history,
		Credits:         credits,
		Emotions:        emotions,
		Completer:       completer,
		Synthesizer:     speechSvc.Synthesizer,
		Transcriber:     speechSvc.Transcriber,
		Player:          player,
		Pacing:          cfg.Session.PacingDelay,
		SpeakingPerRune: cfg.Session.SpeakingPerRune,
		Tracer:          tracer,
		Meter:           meter,
	})
	defer orch.Close()
	defer player.Close()

	recorder := capture.NewRecorder(capture.NewStreamDevice(), "pcm")
	if err := recorder.Initialize(ctx); err != nil {
		log.Fatalf("failed to initialize capture device: %v", err)
	}
	defer recorder.Close()

	router := handler.NewRouter(handler.Deps{
		Session: sessionHandler.New(orch, transcript, history, scheduler, credits, emotions, cfg.Speech.MaxClipBytes),
		Stream:  hub,
		Capture: captureHandler.NewWebSocketHandler(recorder, orch),
	})

	startServer(ctx, cfg.Server, router)
}

// buildCompleter selects the chat backend. Ark needs its credential; the
// generic HTTP backend only needs a URL. A missing backend still boots the
// server so capture and history keep working.
func buildCompleter(ctx context.Context, cfg *config.Config) ai.Completer {
	switch cfg.AI.Backend {
	case "ark":
		if !cfg.AI.Enabled() {
			log.Println("warning: ark credential not configured, chat turns will fail")
			return ai.NewHTTPCompleter("")
		}
		completer, err := ai.NewArkCompleter(ctx, cfg.AI)
		if err != nil {
			log.Fatalf("failed to initialize ark backend: %v", err)
		}
		log.Println("chat backend: ark")
		return completer
	case "http":
		log.Printf("chat backend: http (%s)", cfg.AI.ChatURL)
		return ai.NewHTTPCompleter(cfg.AI.ChatURL)
	default:
		log.Fatalf("unknown AI_BACKEND %q", cfg.AI.Backend)
		return nil
	}
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	srv := &http.Server{
		Addr:              serverCfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("Nara companion backend listening on %s", serverCfg.Addr)
	if err := runServer(ctx, srv); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
