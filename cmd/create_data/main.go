package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"mtl_platform/config"
	"mtl_platform/dataset"
	"mtl_platform/storage"
	"mtl_platform/utils/logging"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

func parsePosNums(value string) ([]int, error) {
	var nums []int
	for _, part := range strings.Split(value, ",") {
		num, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || num < 0 {
			return nil, fmt.Errorf("invalid -pos_num entry '%v'", part)
		}
		nums = append(nums, num)
	}
	return nums, nil
}

// Builds <domain>_<pos_num> datasets whose train split is synthetic data and
// whose valid/test splits are the gold data of the domain.
func runApp() error {
	envFile := flag.String("env", "", "File to load env variables from. If not specified will just load them from the environment variables already defined.")
	domains := flag.String("domains", "GOV,LIF,HEA,LAW,MIL,BUS", "Comma separated domains to combine")
	posNums := flag.String("pos_num", "1000", "Comma separated counts of synthetic positives to keep, one dataset is written per count")
	half := flag.Bool("half", true, "Split gold data into balanced dev and test halves, otherwise it is all used for dev")
	seed := flag.Int64("seed", 42, "Random seed")
	goldSuffix := flag.String("gold_suffix", "g", "Suffix of gold dataset directories")
	synSuffix := flag.String("syn_suffix", "s", "Suffix of synthetic dataset directories")
	labelField := flag.String("label_field", config.DefaultLabelFieldName, "Label field of the examples")
	synPositives := flag.Int("syn_positives", dataset.DefaultSyntheticLayout.Positives, "Number of leading positive synthetic examples")
	synTotal := flag.Int("syn_total", dataset.DefaultSyntheticLayout.Total, "Number of synthetic examples")

	flag.Parse()

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
	logging.InitLogging(logWriter, env.LogLevel, slog.String("tool", "create_data"))

	nums, err := parsePosNums(*posNums)
	if err != nil {
		return err
	}

	store := storage.NewSharedDisk(env.DataRoot)

	for _, domain := range strings.Split(*domains, ",") {
		domain = strings.TrimSpace(domain)
		for _, posNum := range nums {
			opts := dataset.CombineOptions{
				PosNum:     posNum,
				Half:       *half,
				Seed:       *seed,
				LabelField: *labelField,
				Layout:     dataset.SyntheticLayout{Positives: *synPositives, Total: *synTotal},
			}

			outDir := filepath.Join(env.JsonDir, fmt.Sprintf("%v_%d", domain, posNum))
			splits, err := dataset.CombineDirs(
				store,
				filepath.Join(env.JsonDir, domain+*goldSuffix),
				filepath.Join(env.JsonDir, domain+*synSuffix),
				outDir,
				opts,
			)
			if err != nil {
				return fmt.Errorf("error combining domain %v: %w", domain, err)
			}

			train, valid, test := splits.Sizes()
			fmt.Println(outDir, train+valid+test, train, valid, test)
		}
	}

	return nil
}

func main() {
	if err := runApp(); err != nil {
		log.Fatalf("fatal error: %v", err)
	}
}
