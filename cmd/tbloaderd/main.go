package main

import (
	"context"
	"log"
	"os"

	"tbloader/internal/config"
	"tbloader/internal/daemonrun"
)

// tbloaderd runs the daemon for service managers that cannot pass
// subcommands. TBLOADER_CONFIG selects the configuration file.
func main() {
	cfg, _, _, err := config.Load(os.Getenv("TBLOADER_CONFIG"))
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := daemonrun.Run(context.Background(), cfg, daemonrun.Options{}); err != nil {
		log.Fatalf("tbloaderd: %v", err)
	}
}
