package main

import (
	"log"
	"net/http"
	"os"

	"github.com/i-yeun/vc-assistant/cmd/vc-assistant/app"
	"github.com/i-yeun/vc-assistant/internal/limiter"
)

func main() {
	httpClient := &http.Client{}

	clock := limiter.NewClock()

	err := app.Run(os.Args, os.Stdout, os.Stderr, httpClient, clock)
	if err != nil {
		log.Print(err)
		os.Exit(1)
	}
}
