package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"rgbdtrain/pkg/backend"
	"rgbdtrain/pkg/checkpoint"
	"rgbdtrain/pkg/config"
	"rgbdtrain/pkg/logger"
	"rgbdtrain/pkg/metadata"
	"rgbdtrain/pkg/metrics"
	"rgbdtrain/pkg/training"
	"rgbdtrain/pkg/ui"
)

// ScalarFileName is the JSON-lines scalar log inside the run directory
const ScalarFileName = "scalars.jsonl"

var (
	runName          string
	logRoot          string
	epochs           int
	batchSize        int
	learningRate     float64
	debugMode        bool
	saveLatest       bool
	saveBest         bool
	prometheusListen string
	resumeFrom       string
	notify           bool
)

// trainCmd represents the train command
var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Run the train/validate/checkpoint loop followed by a test evaluation",
	Long: `Train runs the configured number of epochs. Each epoch trains on every
batch of the training split, evaluates on the validation split and saves
best and latest checkpoints under <log_root>/<run>/checkpoints. After the last
epoch the test split is evaluated and its accuracy printed.`,
	Example: `  # Train with defaults on synthetic data
  rgbdtrain train

  # Quick debug iteration on five batches per epoch
  rgbdtrain train --debug --epochs 2

  # Resume the latest checkpoint of a run and expose metrics
  rgbdtrain train --run-name rgbd --resume latest --prometheus-listen :9090`,
	RunE: runTrain,
}

func init() {
	rootCmd.AddCommand(trainCmd)

	trainCmd.Flags().StringVar(&runName, "run-name", "", "run name, the artifact folder under the log root")
	trainCmd.Flags().StringVar(&logRoot, "log-root", "", "root directory for run artifacts")
	trainCmd.Flags().IntVarP(&epochs, "epochs", "e", 0, "number of epochs to run")
	trainCmd.Flags().IntVarP(&batchSize, "batch-size", "b", 0, "samples per batch")
	trainCmd.Flags().Float64Var(&learningRate, "learning-rate", 0, "SGD learning rate")
	trainCmd.Flags().BoolVar(&debugMode, "debug", false, "cap batches per epoch and skip low-accuracy checkpoints")
	trainCmd.Flags().BoolVar(&saveLatest, "save", true, "save the latest checkpoint every epoch")
	trainCmd.Flags().BoolVar(&saveBest, "save-best", true, "save best-so-far checkpoints")
	trainCmd.Flags().StringVar(&prometheusListen, "prometheus-listen", "", "serve Prometheus metrics on this address during the run")
	trainCmd.Flags().StringVar(&resumeFrom, "resume", "", `checkpoint file to resume from, or "latest"`)
	trainCmd.Flags().BoolVar(&notify, "notify", false, "send a desktop notification when the run ends")
}

// trainFlags collects only the flags the user set so config values survive
func trainFlags(cmd *cobra.Command) map[string]interface{} {
	flags := make(map[string]interface{})
	set := func(name string, value interface{}) {
		if cmd.Flags().Changed(name) {
			flags[name] = value
		}
	}
	set("run-name", runName)
	set("log-root", logRoot)
	set("epochs", epochs)
	set("batch-size", batchSize)
	set("learning-rate", learningRate)
	set("debug", debugMode)
	set("save", saveLatest)
	set("save-best", saveBest)
	set("prometheus-listen", prometheusListen)
	if logLevel != "" {
		flags["log-level"] = logLevel
	}
	return flags
}

func runTrain(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile, trainFlags(cmd))
	if err != nil {
		return err
	}
	if err := logger.Initialize(&cfg.Logging); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	log := logger.GetLogger().WithField("run", cfg.Run.Name)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	spin := ui.StartSpinner("Preparing data...")
	data, err := buildSources(cfg, log)
	spin.Stop()
	if err != nil {
		return fmt.Errorf("failed to prepare data: %w", err)
	}
	defer data.Close()

	model, err := backend.NewLinearFusion(data.rgbDim, data.depthDim, data.classes, cfg.Training.Seed)
	if err != nil {
		return err
	}
	optimizer, err := backend.NewSGD(model.Params(), cfg.Training.LearningRate, cfg.Training.Momentum)
	if err != nil {
		return err
	}

	summary := metadata.New(cfg.Run.Name, model.Name())

	state := training.NewTrainingState(0, 0, 0)
	if resumeFrom != "" {
		path, err := resumePath(cfg, resumeFrom)
		if err != nil {
			return err
		}
		if state, err = resume(path, model, optimizer); err != nil {
			return err
		}
		summary.ResumedFrom = path
		log.InfoWithFields("Resumed from checkpoint", map[string]interface{}{
			"path":         path,
			"epoch_offset": state.EpochOffset,
			"step_offset":  state.StepOffset,
			"best":         state.BestAccuracy,
		})
	}

	sinks := metrics.Multi{metrics.NewLogSink(log)}
	if cfg.Metrics.ScalarFile {
		f, err := metrics.OpenScalarFile(filepath.Join(cfg.RunDir(), ScalarFileName))
		if err != nil {
			return err
		}
		sinks = append(sinks, f)
	}
	var prom *metrics.PrometheusSink
	if cfg.Metrics.PrometheusListen != "" {
		prom = metrics.NewPrometheusSink()
		sinks = append(sinks, prom)
	}
	defer func() {
		if err := sinks.Close(); err != nil {
			log.WithError(err).Warn("Failed to close metric sinks")
		}
	}()

	debug := debugPolicy(&cfg.Debug)

	var progress *ui.ProgressDisplay
	var observer training.Observer
	if !ui.IsQuiet() {
		progress = ui.NewProgressDisplay(os.Stdout, cfg.Run.Name, cfg.Training.Epochs, stepsPerEpoch(data.trainBatches, debug))
		observer = progress
	}

	coord, err := training.NewCoordinator(training.Options{
		Model:        model,
		Optimizer:    optimizer,
		Loss:         backend.NewCrossEntropy(model),
		Train:        data.train,
		Validate:     data.validate,
		Test:         data.test,
		Sink:         sinks,
		Persister:    checkpoint.NewSaver(log),
		Observer:     observer,
		Logger:       log,
		Epochs:       cfg.Training.Epochs,
		LogSteps:     cfg.Training.LogSteps,
		LogRoot:      cfg.Run.LogRoot,
		RunName:      cfg.Run.Name,
		Save:         cfg.Checkpoint.Save,
		SaveBest:     cfg.Checkpoint.SaveBest,
		BestRetain:   cfg.Checkpoint.BestRetain,
		LatestRetain: cfg.Checkpoint.LatestRetain,
		Debug:        debug,
		State:        state,
	})
	if err != nil {
		return err
	}

	log.InfoWithFields("Starting run", map[string]interface{}{
		"epochs":     cfg.Training.Epochs,
		"batch_size": cfg.Training.BatchSize,
		"batches":    stepsPerEpoch(data.trainBatches, debug),
		"debug":      cfg.Debug.Enabled,
	})

	var testAccuracy float64
	g, gctx := errgroup.WithContext(ctx)
	serveCtx, stopServe := context.WithCancel(gctx)
	defer stopServe()

	g.Go(func() error {
		defer stopServe()
		var runErr error
		testAccuracy, runErr = coord.Run(gctx)
		return runErr
	})
	if prom != nil {
		g.Go(func() error {
			return metrics.Serve(serveCtx, cfg.Metrics.PrometheusListen, prom.Handler(), log)
		})
	}
	runErr := g.Wait()

	final := coord.State()
	summary.Finish(coord.History(), final, testAccuracy, runErr)
	if _, err := summary.Save(cfg.RunDir()); err != nil {
		log.WithError(err).Warn("Failed to save run summary")
	}

	notifier := ui.NewNotifier(notify)
	if runErr != nil {
		if err := notifier.RunFailed(cfg.Run.Name, runErr); err != nil {
			log.WithError(err).Debug("Notification failed")
		}
		if errors.Is(runErr, context.Canceled) {
			ui.PrintWarning("Run interrupted at epoch", final.Epoch)
		}
		return runErr
	}

	if progress != nil {
		progress.Complete(testAccuracy, final.BestAccuracy)
	}
	if err := notifier.RunFinished(cfg.Run.Name, testAccuracy); err != nil {
		log.WithError(err).Debug("Notification failed")
	}
	ui.PrintResult("test_accuracy", fmt.Sprintf("%.4f", testAccuracy))
	return nil
}

// debugPolicy maps the debug section onto the coordinator policy.
// A disabled section yields the zero policy, which never caps or skips.
func debugPolicy(cfg *config.DebugConfig) training.DebugPolicy {
	if !cfg.Enabled {
		return training.DebugPolicy{}
	}
	policy := training.DefaultDebugPolicy()
	if cfg.MaxBatches > 0 {
		policy.MaxBatchesPerEpoch = cfg.MaxBatches
	}
	policy.MinAccuracyToSave = cfg.MinAccuracyToSave
	policy.ZeroBestOnSave = cfg.ZeroBestOnSave
	return policy
}

// stepsPerEpoch is the number of training steps an epoch of batches runs
// under policy
func stepsPerEpoch(batches int, policy training.DebugPolicy) int {
	if limit := policy.MaxBatchesPerEpoch; limit > 0 && batches > limit {
		return limit
	}
	return batches
}

// resumePath resolves "latest" to the newest checkpoint of the run
func resumePath(cfg *config.Config, from string) (string, error) {
	if from != "latest" {
		return from, nil
	}
	latestDir, _ := checkpoint.Dirs(cfg.Run.LogRoot, cfg.Run.Name)
	path, err := checkpoint.Latest(latestDir)
	if err != nil {
		return "", err
	}
	if path == "" {
		return "", fmt.Errorf("no checkpoint found in %s", latestDir)
	}
	return path, nil
}

// resume restores model and optimizer state and returns the training state to continue from
func resume(path string, model *backend.LinearFusion, optimizer *backend.SGD) (training.TrainingState, error) {
	ckpt, err := checkpoint.Load(path)
	if err != nil {
		return training.TrainingState{}, err
	}
	if ckpt.Arch != model.Name() {
		return training.TrainingState{}, fmt.Errorf("checkpoint arch %q does not match model %q", ckpt.Arch, model.Name())
	}
	if err := model.LoadState(ckpt.ModelState); err != nil {
		return training.TrainingState{}, fmt.Errorf("restore model: %w", err)
	}
	if err := optimizer.LoadState(ckpt.OptimizerState); err != nil {
		return training.TrainingState{}, fmt.Errorf("restore optimizer: %w", err)
	}
	return training.ResumeState(ckpt), nil
}
