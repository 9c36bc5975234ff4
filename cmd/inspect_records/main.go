package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"mtl_platform/config"
	"mtl_platform/dataset"
	"mtl_platform/storage"
	"os"
	"strings"

	"github.com/goccy/go-json"
	"github.com/tidwall/pretty"
)

type recordView struct {
	Label    int64     `json:"label"`
	TokenIDs []int64   `json:"word_id"`
	Text     string    `json:"text,omitempty"`
	BOW      []float32 `json:"bow,omitempty"`
}

func runApp() error {
	envFile := flag.String("env", "", "File to load env variables from. If not specified will just load them from the environment variables already defined.")
	limit := flag.Int("n", 10, "Number of records to print per file, 0 prints all")
	vocabDir := flag.String("vocab", "", "Directory holding the vocabulary, used to print the text of each record")
	minFrequency := flag.Int("min_frequency", 0, "min_frequency the vocabulary was built with")
	showBow := flag.Bool("bow", false, "Print the bag of words feature")
	color := flag.Bool("color", false, "Colorize the output")

	flag.Parse()

	if flag.NArg() == 0 {
		return fmt.Errorf("usage: inspect_records [flags] FILE.tf [FILE.tf...]")
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

	store := storage.NewSharedDisk(env.DataRoot)

	var vocab *dataset.Vocabulary
	if *vocabDir != "" {
		vocab, err = dataset.LoadVocabulary(store, *vocabDir, *minFrequency)
		if err != nil {
			return err
		}
	}

	for _, path := range flag.Args() {
		file, err := store.Read(path)
		if err != nil {
			return err
		}

		reader := dataset.NewRecordReader(file)
		count := 0
		for *limit == 0 || count < *limit {
			record, err := reader.Next()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				file.Close()
				return fmt.Errorf("error reading %v: %w", path, err)
			}
			count++

			view := recordView{Label: record.Label, TokenIDs: record.TokenIDs}
			if vocab != nil {
				view.Text = strings.Join(vocab.Tokens(record.TokenIDs), " ")
			}
			if *showBow {
				view.BOW = record.BOW
			}

			data, err := json.Marshal(view)
			if err != nil {
				file.Close()
				return fmt.Errorf("error serializing record: %w", err)
			}
			data = pretty.Pretty(data)
			if *color {
				data = pretty.Color(data, nil)
			}
			os.Stdout.Write(data)
		}
		file.Close()

		fmt.Fprintf(os.Stderr, "%v: %d records shown\n", path, count)
	}

	return nil
}

func main() {
	if err := runApp(); err != nil {
		log.Fatalf("fatal error: %v", err)
	}
}
