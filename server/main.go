// server/main.go
package main

import (
	"os"

	"github.com/rs/zerolog/log"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("nexushub stopped")
		os.Exit(1)
	}
}
