package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/rashiddalii/moodlog-server/internal/logging"
	"github.com/rashiddalii/moodlog-server/internal/queue"
)

// account-consumer drains the account.created queue into logs/accounts.log.
func main() {
	_ = godotenv.Load()
	logger := logging.New(logging.Config{
		Service: "account-consumer",
		Env:     os.Getenv("APP_ENV"),
		Level:   os.Getenv("LOG_LEVEL"),
		Format:  os.Getenv("LOG_FORMAT"),
	})

	url := os.Getenv("RABBITMQ_URL")
	if url == "" {
		url = os.Getenv("AMQP_URL")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c := queue.NewConsumer(url, os.Getenv("ACCOUNT_LOG_DIR"), logger)
	if err := c.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal(err)
	}
}
