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
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/lo"
)

func writeMetrics(path string) {
	if path == "" {
		return
	}
	if err := prometheus.WriteToTextfile(path, prometheus.DefaultGatherer); err != nil {
		slog.Error("error writing metrics textfile", "code", logging.SYSTEM, "path", path, "error", err)
	}
}

func runApp() error {
	envFile := flag.String("env", "", "File to load env variables from. If not specified will just load them from the environment variables already defined.")
	argsFile := flag.String("args", "args_merged.json", "Prep config (.json or .yaml) shared by all datasets")
	recordDirs := flag.String("record_dirs", "", "Comma separated record directories, one per dataset in the given order. Defaults to <combined dir>/<dataset>.")
	archive := flag.Bool("zip", false, "Also archive every dataset's record directory as <dir>.zip")

	flag.Parse()

	if flag.NArg() == 0 {
		return fmt.Errorf("usage: write_records_merged [flags] DATASET [DATASET...]")
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
	logging.InitLogging(logWriter, env.LogLevel, slog.String("tool", "write_records_merged"))

	defer writeMetrics(env.MetricsFile)

	cfg, err := config.LoadPrepConfig(*argsFile)
	if err != nil {
		return err
	}

	store := storage.NewSharedDisk(env.DataRoot)

	names := flag.Args()
	opts := dataset.MergeOptions{
		DataDirs:   lo.Map(names, func(name string, _ int) string { return filepath.Join(env.JsonDir, name) }),
		OutputRoot: filepath.Join(env.RecordDir, "merged"),
	}
	if *recordDirs != "" {
		opts.RecordDirs = strings.Split(*recordDirs, ",")
	}

	result, err := dataset.MergeDatasets(store, opts, cfg)
	if err != nil {
		return fmt.Errorf("error merging datasets %v: %w", names, err)
	}

	if *archive {
		for _, dir := range result.RecordDirs {
			if err := store.Zip(dir); err != nil {
				return err
			}
		}
	}

	if env.RegistryDb != "" {
		db, err := registry.OpenDb(env.RegistryDb)
		if err != nil {
			return err
		}
		reg := registry.New(db, store, nil)

		group := dataset.CombinedName(names)
		for i, meta := range result.Datasets {
			if _, err := reg.Register(meta, result.RecordDirs[i], result.Dir, group); err != nil {
				return err
			}
		}
	}

	fmt.Println(result.Dir)

	return nil
}

func main() {
	if err := runApp(); err != nil {
		log.Fatalf("fatal error: %v", err)
	}
}
