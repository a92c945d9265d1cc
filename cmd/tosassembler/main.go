package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"tosassembler"
)

func main() {
	var (
		tosFile        = flag.String("tos", "", "Table of Specification JSON file (required)")
		bankPath       = flag.String("bank", "./bank.db", "Path to the question bank database")
		numVersions    = flag.Int("versions", 2, "Number of test versions to produce")
		shuffleQs      = flag.Bool("shuffle-questions", true, "Shuffle question order per version")
		shuffleChoices = flag.Bool("shuffle-choices", true, "Shuffle MCQ choice order per version")
		points         = flag.Int("points", 1, "Points per question")
		seed           = flag.Int64("seed", 0, "Shuffle seed (0 = derive from current time)")
		conceptsFile   = flag.String("concepts", "", "YAML concept pool overlay file")
		outputFile     = flag.String("output", "", "Output file for assembled test JSON (default: stdout)")
		apiKey         = flag.String("api-key", "", "OpenAI API key (or set OPENAI_API_KEY env var)")
		dedup          = flag.Bool("dedup", false, "Run LLM similarity checks on reused bank questions")
		verbose        = flag.Bool("verbose", false, "Enable verbose debugging output")
	)

	flag.Parse()

	tosassembler.SetVerbose(*verbose)

	if *tosFile == "" {
		log.Fatal("TOS file is required. Use -tos flag.")
	}

	data, err := os.ReadFile(*tosFile)
	if err != nil {
		log.Fatalf("Failed to read TOS file: %v", err)
	}
	var tos tosassembler.TOSSpec
	if err := json.Unmarshal(data, &tos); err != nil {
		log.Fatalf("Failed to parse TOS file: %v", err)
	}

	if *apiKey == "" {
		*apiKey = os.Getenv("OPENAI_API_KEY")
	}

	db, err := tosassembler.OpenBankDB(*bankPath)
	if err != nil {
		log.Fatalf("Failed to open question bank: %v", err)
	}
	defer db.Close()

	if err := db.CreateTables(); err != nil {
		log.Fatalf("Failed to create tables: %v", err)
	}

	// Without an API key the assembler still runs bank-only; shortfalls are
	// reported instead of generated.
	var maker *tosassembler.QuestionMaker
	var generator tosassembler.TextGenerator
	if *apiKey != "" {
		maker = tosassembler.NewQuestionMaker(*apiKey)
		generator = maker
	} else {
		log.Printf("No API key set; assembling from the bank only")
	}

	assembler := tosassembler.NewTestAssembler(db, generator)

	var checker *tosassembler.LLMSimilarityChecker
	if *dedup && *apiKey != "" {
		checker = tosassembler.NewLLMSimilarityChecker(*apiKey)
		assembler.SetSimilarityChecker(checker)
	}

	runLogger, err := tosassembler.NewRunLogger(time.Now().Format("20060102-150405"), tos)
	if err != nil {
		log.Printf("Failed to create run logger: %v", err)
		// Continue without audit logging rather than failing the run.
	} else {
		assembler.SetLogger(runLogger)
		if maker != nil {
			maker.SetLogger(runLogger)
		}
		if checker != nil {
			checker.SetLogger(runLogger)
		}
		defer runLogger.Close()
	}

	if *conceptsFile != "" {
		pools := tosassembler.DefaultPools()
		if err := pools.LoadOverlay(*conceptsFile); err != nil {
			log.Fatalf("Failed to load concept overlay: %v", err)
		}
		assembler.SetPools(pools)
	}

	if *seed == 0 {
		*seed = time.Now().UnixNano()
	}
	config := tosassembler.AssemblyConfig{
		NumVersions:       *numVersions,
		ShuffleQuestions:  *shuffleQs,
		ShuffleChoices:    *shuffleChoices,
		PointsPerQuestion: *points,
		Seed:              *seed,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	test, err := assembler.AssembleTest(ctx, tos, config)
	if err != nil {
		log.Fatalf("Failed to assemble test: %v", err)
	}

	if err := db.SaveGeneratedTest(ctx, test); err != nil {
		log.Fatalf("Failed to save assembled test: %v", err)
	}

	for _, shortfall := range test.Shortfalls {
		log.Printf("Shortfall: %s/%s delivered %d of %d",
			shortfall.Topic, shortfall.Level, shortfall.Delivered, shortfall.Requested)
	}
	for _, failure := range test.Failures {
		log.Printf("Cell failed: %v", failure)
	}

	output, err := json.MarshalIndent(test, "", "  ")
	if err != nil {
		log.Fatalf("Failed to marshal test: %v", err)
	}

	if *outputFile != "" {
		if err := os.WriteFile(*outputFile, output, 0644); err != nil {
			log.Fatalf("Failed to write output file: %v", err)
		}
		log.Printf("Assembled test saved to: %s", *outputFile)
	} else {
		fmt.Println(string(output))
	}
}
