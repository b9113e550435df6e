package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/veilsocks/veil/pkg/client"
	"github.com/veilsocks/veil/pkg/config"
	"github.com/veilsocks/veil/pkg/server"
)

const banner = `
╦  ╦╔═╗╦╦
╚╗╔╝║╣ ║║
 ╚╝ ╚═╝╩╩═╝
  Obfuscating Stream Relay

`

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]

	switch command {
	case "server":
		run(config.RoleServer)
	case "client":
		run(config.RoleClient)
	case "version":
		fmt.Println("veil v0.1.0")
	case "help":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Print(banner)
	fmt.Println("Usage: veil <command> [options]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  server    Run the remote relay")
	fmt.Println("  client    Run the local relay")
	fmt.Println("  version   Show version")
	fmt.Println("  help      Show this help")
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  --config <path>   Configuration file, YAML or JSON (default: veil.yml)")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  veil server --config server.yml")
	fmt.Println("  veil client --config client.yml")
}

// runnable is satisfied by both relay roles
type runnable interface {
	Start() error
	Stop() error
}

func run(role config.Role) {
	fmt.Print(banner)

	flags := flag.NewFlagSet(string(role), flag.ExitOnError)
	configPath := flags.String("config", "veil.yml", "Configuration file")
	flags.Parse(os.Args[2:])

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Role != role {
		log.Fatalf("Config role is %q, but the %q command was given", cfg.Role, role)
	}

	var r runnable
	switch role {
	case config.RoleServer:
		r, err = server.New(cfg)
	default:
		r, err = client.New(cfg)
	}
	if err != nil {
		log.Fatalf("Failed to create %s: %v", role, err)
	}

	if err := r.Start(); err != nil {
		log.Fatalf("Failed to start %s: %v", role, err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	log.Printf("%s running. Press Ctrl+C to stop.", role)
	<-sigChan

	r.Stop()
}
