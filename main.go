package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"nl2sqlgen-client/internal/config"
	"nl2sqlgen-client/internal/models"
	"nl2sqlgen-client/internal/services/artifacts"
	"nl2sqlgen-client/internal/services/orchestrator"
	"nl2sqlgen-client/internal/services/scheduler"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:   "nl2sqlgen",
		Short: "Client for the NL2SQL training data generation service",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "path to client config file")

	root.AddCommand(
		newRunCommand(),
		newTestDBCommand(),
		newTestLLMCommand(),
		newDownloadCommand(),
		newScheduleCommand(),
		newHistoryCommand(),
		newHealthCommand(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// withApp builds the wired application around one command invocation
func withApp(fn func(ctx context.Context, app *App) error) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app := NewApp()
	if err := app.startup(ctx, cfg); err != nil {
		return err
	}
	defer app.shutdown()

	return fn(ctx, app)
}

func loadTaskFile(path string) (models.TaskConfig, error) {
	var cfg models.TaskConfig
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read task file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse task file %s: %w", path, err)
	}
	return cfg, nil
}

func newRunCommand() *cobra.Command {
	var taskFile string
	var remember bool
	var outputDir string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Submit a generation run and stream its progress until it finishes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, app *App) error {
				task, err := loadTaskFile(taskFile)
				if err != nil {
					return err
				}
				task = app.LoadSavedTask(task)

				if remember {
					if err := app.SetRememberSettings(true); err != nil {
						return err
					}
				}

				updates := make(chan orchestrator.Snapshot, 256)
				app.SubscribeJobState(func(snap orchestrator.Snapshot) {
					select {
					case updates <- snap:
					default:
						// A slow terminal must not stall the orchestrator,
						// but the final snapshot must get through.
						if snap.Phase.IsTerminal() {
							updates <- snap
						}
					}
				})

				runID, err := app.StartGeneration(task)
				if err != nil {
					return err
				}
				fmt.Printf("Run %s submitted\n", runID)

				// Ctrl-C cancels the backend job before exiting
				sigCh := make(chan os.Signal, 1)
				signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
				defer signal.Stop(sigCh)

				printed := 0
				lastStep := -1
				for {
					select {
					case <-sigCh:
						fmt.Println("\nCancelling run...")
						if err := app.CancelGeneration(); err != nil {
							return err
						}

					case snap := <-updates:
						for ; printed < len(snap.Logs); printed++ {
							fmt.Println(snap.Logs[printed])
						}
						if snap.CurrentStep != lastStep && snap.TotalSteps > 0 {
							lastStep = snap.CurrentStep
							fmt.Printf("--- step %d/%d %s (%.0f%%)\n",
								snap.CurrentStep, snap.TotalSteps, snap.StepName, snap.Progress)
						}

						if snap.Phase.IsTerminal() {
							return finishRun(ctx, app, snap, outputDir)
						}
					}
				}
			})
		},
	}

	cmd.Flags().StringVarP(&taskFile, "file", "f", "task.yaml", "task configuration file")
	cmd.Flags().BoolVar(&remember, "remember", false, "save this configuration (without secrets) for next time")
	cmd.Flags().StringVarP(&outputDir, "output", "o", "", "download enabled artifacts into this directory when the run completes")
	return cmd
}

// finishRun reports the terminal outcome and optionally downloads artifacts
func finishRun(ctx context.Context, app *App, snap orchestrator.Snapshot, outputDir string) error {
	switch snap.Phase {
	case orchestrator.PhaseCompleted:
		fmt.Printf("Run completed: %d valid samples\n", snap.Result.SamplesValid)

		enabled := app.EnabledArtifacts()
		fmt.Printf("Available artifacts: %v\n", enabled)

		if outputDir != "" {
			if err := os.MkdirAll(outputDir, 0755); err != nil {
				return err
			}
			names := map[artifacts.Kind]string{
				artifacts.KindDataset:   "nl2sql.jsonl",
				artifacts.KindRAGBundle: "ddl_mysql.zip",
			}
			for _, kind := range enabled {
				dest := fmt.Sprintf("%s/%s", outputDir, names[kind])
				if err := app.DownloadArtifact(kind, dest); err != nil {
					return err
				}
				fmt.Printf("Downloaded %s -> %s\n", kind, dest)
			}
		}
		return nil

	case orchestrator.PhaseCancelled:
		fmt.Println("Run cancelled")
		return fmt.Errorf("run cancelled")

	default:
		if snap.Result != nil && snap.Result.FailureKind == orchestrator.FailureTransport {
			// Lost visibility, not necessarily a failed job
			fmt.Printf("Connectivity lost: %s\n", snap.Result.ErrorMessage)
			return fmt.Errorf("lost connection to the generation service")
		}
		message := "generation failed"
		if snap.Result != nil && snap.Result.ErrorMessage != "" {
			message = snap.Result.ErrorMessage
		}
		return fmt.Errorf("run failed: %s", message)
	}
}

func newTestDBCommand() *cobra.Command {
	var taskFile string

	cmd := &cobra.Command{
		Use:   "test-db",
		Short: "Probe the source database configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, app *App) error {
				task, err := loadTaskFile(taskFile)
				if err != nil {
					return err
				}

				result := app.TestDatabaseConnection(task.DB)
				if !result.OK {
					return fmt.Errorf("database probe failed: %s", result.Detail)
				}
				fmt.Printf("Database reachable, %d tables\n", result.TablesCount)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&taskFile, "file", "f", "task.yaml", "task configuration file")
	return cmd
}

func newTestLLMCommand() *cobra.Command {
	var taskFile string

	cmd := &cobra.Command{
		Use:   "test-llm",
		Short: "Probe the model endpoint configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, app *App) error {
				task, err := loadTaskFile(taskFile)
				if err != nil {
					return err
				}

				result := app.TestLLMConnection(task.LLM)
				if !result.OK {
					return fmt.Errorf("LLM probe failed: %s", result.Detail)
				}
				fmt.Println("LLM endpoint reachable")
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&taskFile, "file", "f", "task.yaml", "task configuration file")
	return cmd
}

func newDownloadCommand() *cobra.Command {
	var destPath string

	cmd := &cobra.Command{
		Use:       "download {dataset|rag}",
		Short:     "Download a previously generated artifact from the backend",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"dataset", "rag"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, app *App) error {
				// A fresh process has no run state; the backend itself
				// answers 404 when the artifact does not exist yet.
				name := "latest"
				if args[0] == "rag" {
					name = "rag"
				}
				if destPath == "" {
					destPath = "nl2sql.jsonl"
					if args[0] == "rag" {
						destPath = "ddl_mysql.zip"
					}
				}
				if err := app.apiClient.DownloadArtifact(ctx, name, destPath); err != nil {
					return err
				}
				fmt.Printf("Downloaded %s -> %s\n", args[0], destPath)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&destPath, "output", "o", "", "destination path")
	return cmd
}

func newScheduleCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Manage recurring generation runs",
	}

	cmd.AddCommand(newScheduleListCommand(), newScheduleAddCommand(), newScheduleRemoveCommand())
	return cmd
}

func newScheduleListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List scheduled generation runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, app *App) error {
				jobs, err := app.ListScheduledJobs()
				if err != nil {
					return err
				}
				if len(jobs) == 0 {
					fmt.Println("No scheduled runs")
					return nil
				}
				for _, job := range jobs {
					next := "-"
					if job.NextRun != nil {
						next = *job.NextRun
					}
					fmt.Printf("%s  %s  cron=%q enabled=%t next=%s\n",
						job.ID, job.Name, job.Cron, job.Enabled, next)
				}
				return nil
			})
		},
	}
}

func newScheduleAddCommand() *cobra.Command {
	var taskFile, name, cronExpr, timezone string

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create or update a scheduled generation run",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, app *App) error {
				task, err := loadTaskFile(taskFile)
				if err != nil {
					return err
				}

				id, err := app.UpsertScheduledJob(scheduler.UpsertJobRequest{
					Name:     name,
					Cron:     cronExpr,
					Timezone: timezone,
					Enabled:  true,
					Task:     task,
				})
				if err != nil {
					return err
				}
				fmt.Printf("Scheduled run %s (%s)\n", name, id)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&taskFile, "file", "f", "task.yaml", "task configuration file")
	cmd.Flags().StringVar(&name, "name", "", "unique job name")
	cmd.Flags().StringVar(&cronExpr, "cron", "", "cron expression (5 or 6 fields)")
	cmd.Flags().StringVar(&timezone, "timezone", "UTC", "job timezone")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("cron")
	return cmd
}

func newScheduleRemoveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <job-id>",
		Short: "Remove a scheduled generation run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, app *App) error {
				if err := app.DeleteScheduledJob(args[0]); err != nil {
					return err
				}
				fmt.Println("Removed", args[0])
				return nil
			})
		},
	}
}

func newHistoryCommand() *cobra.Command {
	var limit int
	var clear bool

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show the outcomes of past generation runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, app *App) error {
				if clear {
					if err := app.ClearRunHistory(); err != nil {
						return err
					}
					fmt.Println("Run history cleared")
					return nil
				}

				runs, err := app.ListRunHistory(limit)
				if err != nil {
					return err
				}
				if len(runs) == 0 {
					fmt.Println("No recorded runs")
					return nil
				}
				for _, run := range runs {
					line := fmt.Sprintf("%s  %-10s dialect=%s",
						run.FinishedAt.Format("2006-01-02 15:04:05"), run.Phase, run.Dialect)
					switch {
					case run.Phase == string(orchestrator.PhaseCompleted):
						line += fmt.Sprintf(" valid=%d", run.SamplesValid)
					case run.ErrorMessage != "":
						line += "  " + run.ErrorMessage
					}
					fmt.Println(line)
				}
				return nil
			})
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of runs to show")
	cmd.Flags().BoolVar(&clear, "clear", false, "erase the recorded history instead of listing it")
	return cmd
}

func newHealthCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check backend liveness",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, app *App) error {
				if !app.Health() {
					return fmt.Errorf("backend is not healthy")
				}
				fmt.Println("Backend is healthy")
				return nil
			})
		},
	}
}
