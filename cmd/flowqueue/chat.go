package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/ternarybob/flowqueue/internal/models"
	"github.com/ternarybob/flowqueue/internal/services/chat"
)

var chatCmd = &cobra.Command{
	Use:   "chat MESSAGE...",
	Short: "Stream a reply from the local language model",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runChat,
}

var chatSystem string

func init() {
	chatCmd.Flags().StringVar(&chatSystem, "system", "", "Optional system prompt")
}

func runChat(cmd *cobra.Command, args []string) error {
	service := chat.NewService(&config.Chat, logger)

	var messages []models.ChatMessage
	if chatSystem != "" {
		messages = append(messages, models.ChatMessage{Role: models.ChatRoleSystem, Content: chatSystem})
	}
	messages = append(messages, models.ChatMessage{Role: models.ChatRoleUser, Content: strings.Join(args, " ")})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	chunks, err := service.Stream(ctx, messages)
	if err != nil {
		return err
	}
	for chunk := range chunks {
		if chunk.Error != "" {
			fmt.Println()
			return errors.New(chunk.Error)
		}
		fmt.Print(chunk.Content)
	}
	fmt.Println()
	return ctx.Err()
}
