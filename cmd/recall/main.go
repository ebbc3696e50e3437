package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/peterh/liner"

	"github.com/tarunkv/recall/internal/completion"
	"github.com/tarunkv/recall/internal/config"
	"github.com/tarunkv/recall/internal/memory"
	"github.com/tarunkv/recall/internal/shell"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	client, err := completion.NewClient(completion.Config{
		Provider:        cfg.Provider,
		OpenAIAPIKey:    cfg.OpenAIAPIKey,
		OpenAIBaseURL:   cfg.OpenAIBaseURL,
		AnthropicAPIKey: cfg.AnthropicAPIKey,
		Model:           cfg.Model,
		SystemPrompt:    cfg.SystemPrompt,
		Temperature:     cfg.Temperature,
		MaxTokens:       cfg.MaxTokens,
	})
	if err != nil {
		log.Fatalf("completion client init failed: %v", err)
	}

	buffer := memory.NewBuffer(cfg.MemoryWindow)
	sh := shell.New(buffer, client, os.Stdout)

	line := liner.NewLiner()
	line.SetCtrlCAborts(true)
	defer line.Close()

	historyFile := historyPath()
	loadHistory(line, historyFile)
	defer saveHistory(line, historyFile)

	if completion.DescribeClient(client) == "mock" {
		fmt.Println("No provider API key found; running with the offline mock.")
	}
	fmt.Println("Memory ON. Commands: :clear, :memory <N>, :save [file], :load <file>, :export json|txt [file]. Type 'quit' to exit.")
	fmt.Println()

	for {
		input, err := line.Prompt("You: ")
		if err != nil {
			// ^C at the prompt or ^D both end the session.
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				fmt.Println("Bot: Bye!")
				return
			}
			log.Fatalf("read input: %v", err)
		}
		if strings.TrimSpace(input) != "" {
			line.AppendHistory(input)
		}

		// ^C during a streaming reply cancels just that exchange.
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		quit := sh.HandleLine(ctx, input)
		stop()
		if quit {
			return
		}
	}
}

func historyPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "recall", "history")
}

func loadHistory(line *liner.State, path string) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()
	_, _ = line.ReadHistory(f)
}

func saveHistory(line *liner.State, path string) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return
	}
	defer f.Close()
	_, _ = line.WriteHistory(f)
}
