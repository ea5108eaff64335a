package main

import (
	"os"

	"github.com/joho/godotenv"

	"github.com/talkwire/talkwire-go/internal/cli"
)

func main() {
	// Optional .env for TALKWIRE_* overrides; absence is fine.
	_ = godotenv.Load()

	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
