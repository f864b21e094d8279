package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/billie-coop/personabot/internal/app"
	"github.com/billie-coop/personabot/internal/character"
	"github.com/billie-coop/personabot/internal/config"
	"github.com/billie-coop/personabot/internal/llm/queue"
	"github.com/billie-coop/personabot/internal/logging"
)

// TestPrompt represents a prompt we want to test.
type TestPrompt struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Prompt      string `json:"prompt"`
}

// CapturedResponse represents a character's response to a prompt.
type CapturedResponse struct {
	CapturedAt time.Time `json:"captured_at"`
	Character  string    `json:"character"`
	Model      string    `json:"model"`
	Prompt     string    `json:"prompt"`
	Response   string    `json:"response,omitempty"`
	Tokens     int       `json:"completion_tokens"`
	Attempts   int       `json:"attempts"`
	Error      string    `json:"error,omitempty"`
	Duration   float64   `json:"duration_seconds"`
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: capture-responses <output-dir> [config.yaml]")
		fmt.Println("Example: capture-responses testdata/responses")
		os.Exit(1)
	}

	outputDir := os.Args[1]
	configPath := "config.yaml"
	if len(os.Args) > 2 {
		configPath = os.Args[2]
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		log.Fatal(err)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatal(err)
	}
	logger, err := logging.New(false)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = logger.Sync() }()

	a, err := app.New(cfg, logger)
	if err != nil {
		log.Fatal(err)
	}
	if err := a.Client.HealthCheck(context.Background()); err != nil {
		log.Fatal("Completion backend is not reachable: ", err)
	}
	if err := a.Start(); err != nil {
		log.Fatal(err)
	}
	defer func() { _ = a.Close() }()

	chars := a.Roster.All()
	fmt.Printf("Capturing %d prompts for %d characters\n", len(DefaultPrompts), len(chars))

	for _, ch := range chars {
		fmt.Printf("\n=== %s (%s) ===\n", ch.Name, ch.Model)

		dir := filepath.Join(outputDir, sanitizeFilename(ch.ID))
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Printf("Failed to create dir for %s: %v", ch.ID, err)
			continue
		}

		for i, p := range DefaultPrompts {
			fmt.Printf("[%d/%d] %s... ", i+1, len(DefaultPrompts), p.Name)

			captured := capture(a.Queue, ch, p)
			if captured.Error != "" {
				fmt.Printf("FAILED after %d attempts: %s\n", captured.Attempts, captured.Error)
			} else {
				fmt.Printf("OK (%d tokens, %d attempts, %.1fs)\n", captured.Tokens, captured.Attempts, captured.Duration)
			}

			if err := writeCapture(filepath.Join(dir, p.Name+".json"), captured); err != nil {
				fmt.Printf("ERROR saving: %v\n", err)
			}
		}
	}

	fmt.Println("\nResponse capture complete!")
	fmt.Printf("Responses saved to: %s\n", outputDir)
}

// capture runs one prompt through the generation queue.
func capture(m *queue.Manager, ch character.Character, p TestPrompt) (captured CapturedResponse) {
	captured = CapturedResponse{
		Character: ch.ID,
		Model:     ch.Model,
		Prompt:    p.Prompt,
	}

	start := time.Now()
	defer func() {
		captured.Duration = time.Since(start).Seconds()
		captured.CapturedAt = time.Now()
	}()

	req, err := m.Enqueue(p.Prompt, ch, nil, queue.WithSource("capture"))
	if err != nil {
		captured.Error = err.Error()
		return captured
	}
	res, err := req.Wait(context.Background())
	if err != nil {
		captured.Error = err.Error()
		return captured
	}

	captured.Attempts = res.Attempts
	if !res.OK() {
		captured.Error = res.Err.Error()
		return captured
	}
	captured.Response = res.Completion.Text
	captured.Tokens = res.Completion.CompletionTokens
	return captured
}

func writeCapture(path string, c CapturedResponse) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

var filenameReplacer = strings.NewReplacer(
	"/", "-", "\\", "-", ":", "-", "*", "-", "?", "-",
	"\"", "-", "<", "-", ">", "-", "|", "-",
)

func sanitizeFilename(s string) string {
	return filenameReplacer.Replace(s)
}
