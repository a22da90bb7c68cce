// Package main provides an interactive CLI client for the assistant API.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"

	"github.com/xiaot623/gogo/assistant/internal/domain"
)

func main() {
	addr := flag.String("addr", "http://localhost:8080", "Assistant API address")
	assistantID := flag.String("assistant", "", "Assistant ID; a new one is created when empty")
	model := flag.String("model", "gpt-4o-mini", "Model for a new assistant")
	tools := flag.String("tools", "", "Comma-separated function names to declare on a new assistant")
	flag.Parse()

	log.SetFlags(log.Ltime)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	client := NewClient(*addr)

	if *assistantID == "" {
		a, err := client.CreateAssistant(ctx, domain.CreateAssistantRequest{
			Name:  "cli",
			Model: *model,
			Tools: toolSpecs(*tools),
		})
		if err != nil {
			log.Fatalf("Failed to create assistant: %v", err)
		}
		*assistantID = a.ID
		fmt.Printf("Created assistant %s\n", a.ID)
	}

	input := bufio.NewScanner(os.Stdin)
	answer := func(call domain.ToolCall) (string, error) {
		fmt.Printf("\n[tool] %s(%s)\noutput> ", call.Function.Name, call.Function.Arguments)
		if !input.Scan() {
			return "", fmt.Errorf("no output for %s", call.ID)
		}
		return input.Text(), nil
	}

	fmt.Println("Type a message and press Enter. Ctrl+C to exit.")
	threadID := ""
	for {
		fmt.Print("> ")
		if !input.Scan() {
			return
		}
		text := strings.TrimSpace(input.Text())
		if text == "" {
			continue
		}

		run, err := client.Send(ctx, threadID, *assistantID, text)
		if err != nil {
			log.Printf("Failed to start run: %v", err)
			continue
		}
		threadID = run.ThreadID

		final, err := client.Follow(ctx, run, os.Stdout, answer)
		if err != nil {
			log.Printf("Failed to follow run %s: %v", run.ID, err)
			continue
		}
		if final.Status != domain.RunStatusCompleted {
			fmt.Printf("[run %s] %s\n", final.ID, final.Status)
		}
	}
}

func toolSpecs(names string) []domain.ToolSpec {
	var specs []domain.ToolSpec
	for _, name := range strings.Split(names, ",") {
		if name = strings.TrimSpace(name); name != "" {
			specs = append(specs, domain.ToolSpec{
				Type:     domain.ToolCallTypeFunction,
				Function: domain.FunctionSpec{Name: name},
			})
		}
	}
	return specs
}
