// main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/devduel/devduel/internal/app"
	"github.com/devduel/devduel/internal/config"
)

var (
	showHelp = flag.Bool("h", false, "Show help")
	version  = flag.Bool("version", false, "Show version")
)

// appVersion is set at build time via -ldflags "-X main.appVersion=x.y.z"
var appVersion = "dev"

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("DevDuel client v%s\n", appVersion)
		return
	}
	if *showHelp {
		showUsage()
		return
	}

	args := flag.Args()
	dir := "."
	if len(args) > 0 {
		dir = args[0]
	}

	absDir, err := filepath.Abs(dir)
	if err != nil {
		log.Fatalf("Invalid profile directory: %v", err)
	}
	if stat, serr := os.Stat(absDir); serr != nil || !stat.IsDir() {
		log.Fatalf("Profile directory does not exist: %s", absDir)
	}

	cfgPath := filepath.Join(absDir, "devduel.json")
	cfg, created, err := config.Ensure(cfgPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if created {
		log.Printf("Wrote default config to %s", cfgPath)
	}

	printBanner(absDir, cfgPath, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigCh
		log.Println("\nShutting down gracefully...")
		cancel()
	}()

	if err := app.Run(ctx, app.Options{
		Dir:     absDir,
		CfgPath: cfgPath,
		Cfg:     cfg,
	}); err != nil {
		log.Fatalf("Client failed: %v", err)
	}
}

func printBanner(dir, cfgPath string, cfg config.Config) {
	fmt.Println("────────────────────────────────────────────────────────")
	fmt.Println("  DevDuel client")
	fmt.Printf("  Profile:  %s\n", dir)
	fmt.Printf("  Config:   %s\n", cfgPath)
	fmt.Printf("  Backend:  %s\n", cfg.Backend.BaseURL)
	fmt.Printf("  Viewer:   http://%s\n", cfg.Viewer.HTTPAddr)
	fmt.Println("────────────────────────────────────────────────────────")
}

func showUsage() {
	fmt.Println("Usage: devduel [flags] [profile-directory]")
	fmt.Println()
	fmt.Println("Runs the DevDuel desktop client against the configured backend.")
	fmt.Println("The profile directory holds devduel.json and the local database;")
	fmt.Println("it defaults to the current directory.")
	fmt.Println()
	fmt.Println("Flags:")
	flag.PrintDefaults()
}
