package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/deepnoodle-ai/blockflow"
	"github.com/deepnoodle-ai/blockflow/blocks"
	"github.com/fatih/color"
)

type config struct {
	workflowFile  string
	input         string
	executionsDir string
	logsDir       string
	resume        string
	list          bool
	timeout       time.Duration
	jsonOutput    bool
	verbose       bool
}

func parseFlags() *config {
	cfg := &config{}
	flag.StringVar(&cfg.workflowFile, "workflow", "", "Path to the workflow definition YAML file")
	flag.StringVar(&cfg.input, "input", "", "Workflow input value (JSON or plain string)")
	flag.StringVar(&cfg.executionsDir, "executions", "", "Directory for checkpoints (default ~/.blockflow/executions)")
	flag.StringVar(&cfg.logsDir, "logs", "", "Directory for block execution logs (disabled when empty)")
	flag.StringVar(&cfg.resume, "resume", "", "Execution ID to resume from its last checkpoint")
	flag.BoolVar(&cfg.list, "list", false, "List executions for the workflow and exit")
	flag.DurationVar(&cfg.timeout, "timeout", 0, "Overall run timeout (0 for none)")
	flag.BoolVar(&cfg.jsonOutput, "json", false, "Print the final result as JSON")
	flag.BoolVar(&cfg.verbose, "verbose", false, "Enable debug logging")
	flag.Parse()
	return cfg
}

func main() {
	cfg := parseFlags()
	logLevel := slog.LevelInfo
	if cfg.verbose {
		logLevel = slog.LevelDebug
	}

	if cfg.workflowFile == "" {
		color.Red("Error: workflow file is required")
		flag.Usage()
		os.Exit(1)
	}

	def, err := blockflow.LoadWorkflowFile(cfg.workflowFile)
	if err != nil {
		log.Fatalf("Failed to load workflow: %v", err)
	}
	color.Cyan("Workflow: %s", def.ID)

	store, err := blockflow.NewFileCheckpointStore(cfg.executionsDir)
	if err != nil {
		log.Fatalf("Failed to create checkpoint store: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if cfg.list {
		listExecutions(ctx, store, def.ID)
		return
	}

	var blockLogger blockflow.BlockLogger
	if cfg.logsDir != "" {
		blockLogger = blockflow.NewFileBlockLogger(cfg.logsDir)
		color.Blue("Block logs: %s", cfg.logsDir)
	}

	executor, err := blockflow.NewExecutor(blockflow.ExecutorOptions{
		Factory:     blocks.Registry(),
		Store:       store,
		Monitor:     blockflow.NewConsoleMonitor(),
		BlockLogger: blockLogger,
		Logger:      blockflow.NewLoggerAt(logLevel),
	})
	if err != nil {
		log.Fatalf("Failed to create executor: %v", err)
	}

	if cfg.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.timeout)
		defer cancel()
		color.Yellow("Timeout: %v", cfg.timeout)
	}

	var result *blockflow.ExecutionResult
	if cfg.resume != "" {
		result, err = executor.Resume(ctx, def, cfg.resume)
	} else {
		result, err = executor.Execute(ctx, def, parseInput(cfg.input))
	}
	if err != nil {
		log.Fatalf("Execution error: %v", err)
	}

	printResult(result, cfg.jsonOutput)
	if result.Status != blockflow.ExecutionStatusCompleted {
		os.Exit(1)
	}
}

// parseInput treats the input flag as JSON when possible, plain string
// otherwise.
func parseInput(raw string) any {
	if raw == "" {
		return nil
	}
	var value any
	if err := json.Unmarshal([]byte(raw), &value); err == nil {
		return value
	}
	return raw
}

func listExecutions(ctx context.Context, store blockflow.CheckpointStore, workflowID string) {
	summaries, err := store.ListExecutions(ctx, workflowID, blockflow.ExecutionFilter{})
	if err != nil {
		log.Fatalf("Failed to list executions: %v", err)
	}
	if len(summaries) == 0 {
		fmt.Println("No executions found.")
		return
	}
	for _, summary := range summaries {
		line := fmt.Sprintf("%s  %-10s  %s", summary.ExecutionID, summary.Status, summary.StartTime.Format(time.RFC3339))
		switch summary.Status {
		case blockflow.ExecutionStatusCompleted:
			color.Green(line)
		case blockflow.ExecutionStatusFailed:
			color.Red("%s  %s", line, summary.Error)
		default:
			color.Yellow(line)
		}
	}
}

func printResult(result *blockflow.ExecutionResult, asJSON bool) {
	if asJSON {
		out := map[string]any{
			"execution_id": result.ExecutionID,
			"status":       result.Status,
			"duration":     result.Duration.String(),
			"state":        result.State,
		}
		if result.Err != nil {
			out["error"] = result.Err.Error()
		}
		data, _ := json.MarshalIndent(out, "", "  ")
		fmt.Println(string(data))
		return
	}
	fmt.Println()
	color.White("Execution: %s", result.ExecutionID)
	color.White("Duration:  %s", result.Duration)
	switch result.Status {
	case blockflow.ExecutionStatusCompleted:
		color.Green("Status:    %s", result.Status)
	case blockflow.ExecutionStatusCancelled:
		color.Yellow("Status:    %s", result.Status)
	default:
		color.Red("Status:    %s", result.Status)
		if result.Err != nil {
			color.Red("Error:     %v", result.Err)
		}
	}
}
