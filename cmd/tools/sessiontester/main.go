package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/yearsky/nara-companion/internal/config"
	"github.com/yearsky/nara-companion/internal/model/chat"
	speechmodel "github.com/yearsky/nara-companion/internal/model/speech"
	"github.com/yearsky/nara-companion/internal/service/ai"
	"github.com/yearsky/nara-companion/internal/service/credit"
	"github.com/yearsky/nara-companion/internal/service/emotion"
	sessionService "github.com/yearsky/nara-companion/internal/service/session"
	"github.com/yearsky/nara-companion/internal/service/speech"
)

// Manual driver for the session engine: runs one text or voice turn against
// the configured backends and prints the resulting transcript and balance.
func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	if err := godotenv.Load(); err != nil {
		log.Printf("[WARN] could not load .env, using system environment: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	text := flag.String("text", "", "user message for a text turn")
	audioPath := flag.String("audio", "", "audio file for a voice turn")
	format := flag.String("format", "wav", "audio format of the input file")
	topic := flag.String("topic", "", "optional turn context topic")
	location := flag.String("location", "", "optional turn context location")
	credits := flag.Int("credits", 10, "starting credit balance")
	timeout := flag.Duration("timeout", 45*time.Second, "turn timeout")
	flag.Parse()

	if *text == "" && *audioPath == "" {
		flag.Usage()
		log.Fatal("provide -text or -audio")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	transcript := sessionService.NewTranscript(cfg.Session.TranscriptCap)
	history := sessionService.NewHistory(cfg.Session.IdleGap, nil)
	transcript.AddObserver(sessionService.NewSynchronizer(history, nil))

	meter := credit.NewMeter(*credits, cfg.Session.LowCreditThreshold, nil)
	speechSvc := speech.NewService(cfg.Speech)

	orch := sessionService.NewOrchestrator(sessionService.Deps{
		Transcript:  transcript,
		History:     history,
		Credits:     meter,
		Emotions:    emotion.NewState(),
		Completer:   buildCompleter(ctx, cfg),
		Synthesizer: speechSvc.Synthesizer,
		Transcriber: speechSvc.Transcriber,
		Pacing:      0,
	})
	defer orch.Close()

	turnCtx := chat.TurnContext{Topic: *topic, Location: *location}

	var reply chat.Message
	if *text != "" {
		reply, err = orch.SendMessage(ctx, *text, turnCtx)
	} else {
		reply, err = runVoiceTurn(ctx, orch, *audioPath, *format, cfg, turnCtx)
	}
	if err != nil {
		log.Fatalf("turn failed: %v", err)
	}

	fmt.Println("--- transcript ---")
	for _, msg := range transcript.List() {
		fmt.Printf("[%s] %s\n", msg.Role, msg.Content)
		if msg.AudioURL != "" {
			fmt.Printf("        audio: %s\n", msg.AudioURL)
		}
	}
	fmt.Printf("--- reply id: %s ---\n", reply.ID)
	fmt.Printf("--- balance: %d (low=%v) ---\n", meter.Balance(), meter.IsLow())
}

func runVoiceTurn(ctx context.Context, orch *sessionService.Orchestrator, path, format string, cfg *config.Config, turnCtx chat.TurnContext) (chat.Message, error) {
	file, err := os.Open(path)
	if err != nil {
		return chat.Message{}, fmt.Errorf("open audio file: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return chat.Message{}, fmt.Errorf("stat audio file: %w", err)
	}

	log.Printf("sending %d bytes of %s audio", info.Size(), format)
	return orch.SendRecordedVoice(ctx, &speechmodel.ASRRequest{
		AudioData: file,
		SizeBytes: info.Size(),
		Format:    format,
		Language:  cfg.Speech.Language,
	}, turnCtx)
}

func buildCompleter(ctx context.Context, cfg *config.Config) ai.Completer {
	switch cfg.AI.Backend {
	case "ark":
		if !cfg.AI.Enabled() {
			log.Fatal("ark credential not configured, set ARK_* or use AI_BACKEND=http")
		}
		completer, err := ai.NewArkCompleter(ctx, cfg.AI)
		if err != nil {
			log.Fatalf("failed to initialize ark backend: %v", err)
		}
		return completer
	case "http":
		return ai.NewHTTPCompleter(cfg.AI.ChatURL)
	default:
		log.Fatalf("unknown AI_BACKEND %q", cfg.AI.Backend)
		return nil
	}
}
