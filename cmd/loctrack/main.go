package main

import (
	"context"
	"errors"
	"flag"
	"io/fs"
	"log"
	"os"
	"os/signal"
	"syscall"

	"loctrack/internal/config"
	"loctrack/internal/web"
)

func main() {
	var configPath string
	var exportPath string
	flag.StringVar(&configPath, "config", "./loctrack.yaml", "Path to YAML config")
	flag.StringVar(&exportPath, "export", "", "Write the recorded samples as CSV to this path on shutdown")
	flag.Parse()

	cfg, err := loadConfig(configPath, flagWasSet("config"))
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	rt, err := newRuntime(ctx, cfg)
	if err != nil {
		log.Fatalf("runtime init failed: %v", err)
	}

	log.Printf("loctrack starting session=%s", rt.session.ID)
	log.Printf("web listen=%s source=%s interval=%s", cfg.Web.Listen, cfg.Location.Source, cfg.Tracker.Interval)

	if cfg.Tracker.Autostart {
		if err := rt.session.Start(ctx); err != nil {
			log.Printf("autostart failed: %v", err)
		}
	}

	if err := web.Serve(ctx, cfg.Web.Listen, rt.Handler()); err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("web server stopped: %v", err)
	}

	log.Printf("loctrack stopping")
	rt.Close()

	if exportPath != "" {
		if err := writeExport(exportPath, rt.session); err != nil {
			log.Printf("%v", err)
			os.Exit(1)
		}
		log.Printf("exported %d samples to %s", len(rt.session.Samples()), exportPath)
	}
}

// loadConfig reads path. A missing default config file means built-in
// defaults; a missing file named on the command line is an error.
func loadConfig(path string, explicit bool) (config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil && !explicit && errors.Is(err, fs.ErrNotExist) {
		log.Printf("config %s not found, using defaults", path)
		return config.Default(), nil
	}
	return cfg, err
}

func flagWasSet(name string) bool {
	set := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}
