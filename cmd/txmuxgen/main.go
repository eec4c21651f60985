package main

import (
	"flag"
	"log"

	"github.com/danmuck/txmux/internal/config"
)

func main() {
	kind := flag.String("kind", "node", "config kind: node|client")
	output := flag.String("output", "", "output path for config template")
	validate := flag.Bool("validate", false, "validate an existing config file")
	input := flag.String("input", "", "config path for validation (defaults to per-kind cmd path)")
	force := flag.Bool("force", false, "overwrite existing config file")
	flag.Parse()

	if *validate {
		path := *input
		if path == "" {
			switch *kind {
			case "node":
				path = "cmd/txmuxd/config.toml"
			case "client":
				path = "cmd/txmuxctl/config.toml"
			default:
				log.Fatalf("unknown kind: %s", *kind)
			}
		}

		switch *kind {
		case "node":
			if _, err := config.Load(path); err != nil {
				log.Fatal(err)
			}
		case "client":
			if _, err := config.LoadClientOptions(path, config.DefaultClientOptions()); err != nil {
				log.Fatal(err)
			}
		default:
			log.Fatalf("unknown kind: %s", *kind)
		}
		log.Printf("Validated %s config at %s", *kind, path)
		return
	}

	target := *output
	if target == "" {
		switch *kind {
		case "node":
			target = "cmd/txmuxd/config.toml"
		case "client":
			target = "cmd/txmuxctl/config.toml"
		default:
			log.Fatalf("unknown kind: %s", *kind)
		}
	}

	if err := config.WriteTemplate(target, *kind, *force); err != nil {
		log.Fatal(err)
	}
	log.Printf("Wrote %s config template to %s", *kind, target)
}
