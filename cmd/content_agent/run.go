package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jonathan/content-factory/internal/observability"
	"github.com/jonathan/content-factory/internal/types"
)

var runCommand = &cobra.Command{
	Use:   "run",
	Short: "Execute a content production run from the command line",
	Long: `Creates a run against a pipeline and drives it through all six stages
(discovery -> synthesis -> draft -> adapt -> style -> audit), streaming
progress events to stdout and printing the produced artifacts at the end.

Configuration can be loaded from a JSON file using --config. Command-line
arguments override config file values.`,
	RunE: runPipelineCmd,
}

var (
	runConfigPath string
	runTopic      string
	runPipelineID string
	runBrandVoice string
	runPlatforms  []string
	runSeedLinks  []string
	runVerbose    bool
)

func init() {
	runCommand.Flags().StringVar(&runConfigPath, "config", "", "Path to config.json file (values can be overridden by other flags)")
	runCommand.Flags().StringVarP(&runTopic, "topic", "t", "", "Topic to produce content about (required)")
	runCommand.Flags().StringVarP(&runPipelineID, "pipeline", "p", "", "Pipeline id (defaults to the first stored pipeline)")
	runCommand.Flags().StringVar(&runBrandVoice, "brand-voice", "", "Brand voice description")
	runCommand.Flags().StringSliceVar(&runPlatforms, "platforms", nil, "Target platforms (comma separated)")
	runCommand.Flags().StringSliceVar(&runSeedLinks, "seed-links", nil, "Seed source URLs (comma separated)")
	runCommand.Flags().BoolVarP(&runVerbose, "verbose", "v", false, "Print every streamed delta, not just lifecycle events")

	_ = runCommand.MarkFlagRequired("topic")

	rootCmd.AddCommand(runCommand)
}

func runPipelineCmd(_ *cobra.Command, _ []string) error {
	ctx := context.Background()

	cfg, err := loadConfig(runConfigPath)
	if err != nil {
		return err
	}

	svcs, err := bootstrap(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to start services: %w", err)
	}
	defer func() { _ = svcs.store.Close() }()

	pipelineID := runPipelineID
	if pipelineID == "" {
		pipelines, err := svcs.store.ListPipelines(ctx)
		if err != nil {
			return fmt.Errorf("failed to list pipelines: %w", err)
		}
		if len(pipelines) == 0 {
			return fmt.Errorf("no pipelines configured")
		}
		pipelineID = pipelines[0].ID
	}

	run, err := svcs.runs.CreateRun(ctx, &types.CreateRunRequest{
		PipelineID:      pipelineID,
		Topic:           runTopic,
		BrandVoice:      runBrandVoice,
		TargetPlatforms: runPlatforms,
		SeedLinks:       runSeedLinks,
	})
	if err != nil {
		return err
	}
	fmt.Printf("Run %s created for pipeline %s\n", run.ID, pipelineID)

	cancel := svcs.runs.Subscribe(run.ID, &consoleSink{verbose: runVerbose})
	defer cancel()

	if _, err := svcs.runs.StartRun(ctx, run.ID); err != nil {
		return err
	}
	svcs.runs.Wait()

	fmt.Println()
	printer := observability.NewPrinter(os.Stdout)
	printer.PrintRunSummary(run)
	if runVerbose {
		printer.PrintEvidence(run)
	}
	printer.PrintArtifacts(run)

	if run.Status == types.RunStatusFailed {
		os.Exit(1)
	}
	return nil
}

// consoleSink prints run events to stdout.
type consoleSink struct {
	verbose bool
}

// Write implements events.Sink.
func (c *consoleSink) Write(event string, payload map[string]any) error {
	switch event {
	case "assistant_delta":
		if c.verbose {
			if text, ok := payload["text"].(string); ok {
				fmt.Print(text)
			}
		}
	case "heartbeat":
	case "stage_started":
		fmt.Printf("==> stage %v started\n", payload["stageId"])
	case "stage_completed":
		fmt.Printf("==> stage %v completed (%vms)\n", payload["stageId"], payload["durationMs"])
	case "artifact_written":
		fmt.Printf("    artifact %v\n", payload["title"])
	default:
		fmt.Printf("==> %s\n", event)
	}
	return nil
}

// Close implements events.Sink.
func (c *consoleSink) Close() error { return nil }
