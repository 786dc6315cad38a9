package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/Koodeyo-Media/video-composer-go/composer"
	"github.com/hashicorp/go-hclog"
)

func main() {
	configPath := flag.String("config", "", "The path to the project description file, JSON or YAML (required unless -json is given).")
	jsonText := flag.String("json", "", "An inline JSON project description, rendered instead of -config.")
	logLevel := flag.String("log-level", "info", "Log level: trace, debug, info, warn or error.")
	quiet := flag.Bool("quiet", false, "Suppress the progress line.")
	showVersion := flag.Bool("version", false, "Print the version and exit.")

	flag.Parse()

	if *showVersion {
		fmt.Println(composer.Version)
		return
	}

	if *configPath == "" && *jsonText == "" {
		fmt.Fprintln(os.Stderr, "The path to the project description file is required.")
		flag.Usage()
		os.Exit(2)
	}

	logger := hclog.New(&hclog.LoggerOptions{
		Name:  "video-composer",
		Level: hclog.LevelFromString(*logLevel),
	})

	opts := []composer.Option{composer.WithLogger(logger)}
	if !*quiet {
		opts = append(opts, composer.WithProgress(func(percent int) {
			fmt.Printf("\rRendering... %3d%%", percent)
			if percent >= 100 {
				fmt.Println()
			}
		}))
	}

	var err error
	if *jsonText != "" {
		err = composer.RenderString(*jsonText, opts...)
	} else {
		err = composer.RenderFile(*configPath, opts...)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Render failed: %v\n", err)
		os.Exit(1)
	}
}
