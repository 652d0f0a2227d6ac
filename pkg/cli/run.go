package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rapidclay/fabrun/internal/controller"
	"github.com/rapidclay/fabrun/internal/docker"
	"github.com/rapidclay/fabrun/internal/engine"
	"github.com/rapidclay/fabrun/internal/session"
	"github.com/rapidclay/fabrun/pkg/config"
	"github.com/rapidclay/fabrun/pkg/fabdata"
	"github.com/rapidclay/fabrun/pkg/interfaces"
	"github.com/rapidclay/fabrun/pkg/logger"
	"github.com/rapidclay/fabrun/pkg/notifier"
	"github.com/rapidclay/fabrun/pkg/process"
	"github.com/rapidclay/fabrun/pkg/state"
	"github.com/rapidclay/fabrun/pkg/types"
)

func newRunCmd() *cobra.Command {
	var (
		fabDataPath      string
		pickConfPath     string
		skipLogfile      bool
		skipProgressFile bool
		placeAll         bool
		notify           bool
		motionRetries    int
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute a fabrication run",
		Long: `Execute a fabrication run: bring the controller driver up, move the
robot through its safe start posture, pick and place every element of the
fabrication sequence, and finish at the safe end posture.

Press CTRL+C to abort; the robot completes the current motion and returns
to the safe end posture before the program exits.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFabrication(runOptions{
				fabDataPath:      fabDataPath,
				pickConfPath:     pickConfPath,
				skipLogfile:      skipLogfile,
				skipProgressFile: skipProgressFile,
				placeAll:         placeAll,
				notify:           notify,
				motionRetries:    motionRetries,
			})
		},
	}

	cmd.Flags().StringVar(&fabDataPath, "fab-data", "", "fabrication data file (overrides paths.fab_data_path)")
	cmd.Flags().StringVar(&pickConfPath, "pick-conf", "", "pick station file (overrides paths.pick_conf_path)")
	cmd.Flags().BoolVar(&skipLogfile, "skip-logfile", false, "don't mirror log messages to a file")
	cmd.Flags().BoolVar(&skipProgressFile, "skip-progress-file", false, "skip writing progress to the fabrication data file")
	cmd.Flags().BoolVar(&placeAll, "place-all", false, "place elements even if marked placed in the data file")
	cmd.Flags().BoolVar(&notify, "notify", true, "send desktop notifications for run events")
	cmd.Flags().IntVar(&motionRetries, "motion-retries", engine.DefaultMotionRetries, "bounded retries per motion command on transient faults")

	return cmd
}

type runOptions struct {
	fabDataPath      string
	pickConfPath     string
	skipLogfile      bool
	skipProgressFile bool
	placeAll         bool
	notify           bool
	motionRetries    int
}

func runFabrication(opts runOptions) error {
	if cfgFile == "" {
		printError("a run configuration is required, pass --config")
		return fmt.Errorf("no configuration file given")
	}

	cfg, err := config.Load(cfgFile)
	if err != nil {
		printError(err.Error())
		return err
	}

	logFile := ""
	if !opts.skipLogfile {
		logFile = logger.LogFilePath(cfg.Paths.LogDir)
	}
	log := logger.CreateLogger(logFile, verbosity)
	log.Info("Configuration loaded", logger.WithField("path", cfgFile))

	fabDataPath := opts.fabDataPath
	if fabDataPath == "" {
		fabDataPath = cfg.Paths.FabDataPath
	}
	if fabDataPath == "" {
		return fmt.Errorf("no fabrication data file: set paths.fab_data_path or pass --fab-data")
	}

	elements, err := fabdata.LoadElements(fabDataPath)
	if err != nil {
		return err
	}
	log.Info("Fabrication data read", logger.WithField("path", fabDataPath), logger.WithField("elements", len(elements)))

	toPlace := elements
	if !opts.placeAll {
		toPlace = fabdata.Unplaced(elements)
		if skipped := len(elements) - len(toPlace); skipped > 0 {
			log.Info("Skipping elements already marked placed", logger.WithField("skipped", skipped))
		}
	}
	if len(toPlace) == 0 {
		log.Success("Nothing to do, every element is already placed")
		return nil
	}

	pickConfPath := opts.pickConfPath
	if pickConfPath == "" {
		pickConfPath = cfg.Paths.PickConfPath
	}
	if pickConfPath == "" {
		return fmt.Errorf("no pick station file: set paths.pick_conf_path or pass --pick-conf")
	}
	pickStation, err := fabdata.LoadPickStation(pickConfPath)
	if err != nil {
		return err
	}

	dialer, err := buildDialer(cfg.Target)
	if err != nil {
		return err
	}

	deps := engine.Dependencies{
		Sessions:    session.NewManager(cfg, docker.NewComposeCLI(log), dialer, interfaces.SystemClock{}, log),
		PickStation: pickStation,
		Clock:       interfaces.SystemClock{},
		Notifier:    notifier.New(notifier.Config{Enabled: opts.notify}, log),
		State:       state.NewManager(cfg.Paths.LogDir, log),
	}

	var progress *fabdata.ProgressFile
	if !opts.skipProgressFile {
		progress = fabdata.NewProgressFile(fabDataPath)
		// Progress snapshots always cover the full data file,
		// including elements placed by earlier runs.
		deps.Progress = fullListProgress{file: progress, all: elements}
	}

	runner := engine.New(cfg, log, deps, engine.Options{MotionRetries: opts.motionRetries})

	procManager := process.NewManager(log)
	runCtx := procManager.Start(context.Background())
	defer procManager.Stop()

	if err := runner.Run(runCtx, toPlace); err != nil {
		return err
	}

	if progress != nil && len(fabdata.Unplaced(elements)) == 0 {
		if donePath, err := progress.MarkDone(); err != nil {
			log.Warn("Failed to archive finished data file", logger.WithField("error", err))
		} else {
			log.Debug("Finished data file archived", logger.WithField("path", donePath))
		}
	}

	return nil
}

// fullListProgress saves the complete element list regardless of which
// subset the engine is currently working through.
type fullListProgress struct {
	file *fabdata.ProgressFile
	all  []*fabdata.Element
}

// SaveProgress implements interfaces.ProgressStore
func (p fullListProgress) SaveProgress([]*fabdata.Element) error {
	return p.file.SaveProgress(p.all)
}

// buildDialer picks the controller integration for the configured target.
// The real-robot driver speaks the cell's wire protocol and is wired in
// by the hosting runner through interfaces.ControllerDialer; this binary
// bundles only the simulated controller.
func buildDialer(target types.Target) (interfaces.ControllerDialer, error) {
	switch target {
	case types.TargetVirtual:
		return &controller.SimDialer{}, nil
	case types.TargetReal:
		return nil, fmt.Errorf("target %q needs an external controller driver; this binary bundles only the virtual controller", target)
	default:
		return nil, fmt.Errorf("unknown target %q", target)
	}
}
