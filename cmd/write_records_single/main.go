package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"mtl_platform/config"
	"mtl_platform/dataset"
	"mtl_platform/registry"
	"mtl_platform/storage"
	"mtl_platform/utils/logging"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
)

func writeMetrics(path string) {
	if path == "" {
		return
	}
	if err := prometheus.WriteToTextfile(path, prometheus.DefaultGatherer); err != nil {
		slog.Error("error writing metrics textfile", "code", logging.SYSTEM, "path", path, "error", err)
	}
}

// The reason we have a separate runApp function is because the defer calls don't
// run if we exit with log.Fatalf, so instead we return an err here and fail outside
func runApp() error {
	envFile := flag.String("env", "", "File to load env variables from. If not specified will just load them from the environment variables already defined.")
	argsFile := flag.String("args", "", "Prep config (.json or .yaml). Defaults to args_<dataset>.json for each dataset.")
	archive := flag.Bool("zip", false, "Also archive every output directory as <dir>.zip")

	flag.Parse()

	if flag.NArg() == 0 {
		return fmt.Errorf("usage: write_records_single [flags] DATASET [DATASET...]")
	}

	if *envFile != "" {
		if err := config.LoadEnvFile(*envFile); err != nil {
			return err
		}
	}
	env, err := config.LoadPrepEnv()
	if err != nil {
		return err
	}

	var logWriter io.Writer
	if env.LogFile != "" {
		logFile, err := os.OpenFile(env.LogFile, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0666)
		if err != nil {
			return fmt.Errorf("error opening log file: %w", err)
		}
		defer logFile.Close()
		logWriter = logFile
	}
	logging.InitLogging(logWriter, env.LogLevel, slog.String("tool", "write_records_single"))

	defer writeMetrics(env.MetricsFile)

	store := storage.NewSharedDisk(env.DataRoot)

	var reg *registry.DatasetRegistry
	if env.RegistryDb != "" {
		db, err := registry.OpenDb(env.RegistryDb)
		if err != nil {
			return err
		}
		reg = registry.New(db, store, nil)
	}

	for _, name := range flag.Args() {
		path := *argsFile
		if path == "" {
			path = fmt.Sprintf("args_%v.json", name)
		}
		cfg, err := config.LoadPrepConfig(path)
		if err != nil {
			return err
		}

		outDir := filepath.Join(env.RecordDir, "single", name, cfg.OutputDirName())
		meta, err := dataset.Prepare(store, filepath.Join(env.JsonDir, name), outDir, cfg)
		if err != nil {
			return fmt.Errorf("error preparing dataset %v: %w", name, err)
		}

		if *archive {
			if err := store.Zip(outDir); err != nil {
				return err
			}
		}

		if reg != nil {
			if _, err := reg.Register(meta, outDir, outDir, ""); err != nil {
				return err
			}
		}

		fmt.Println(outDir)
	}

	return nil
}

func main() {
	if err := runApp(); err != nil {
		log.Fatalf("fatal error: %v", err)
	}
}
