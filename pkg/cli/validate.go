package cli

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fatih/color"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/rapidclay/fabrun/pkg/config"
)

func newValidateCmd() *cobra.Command {
	var watch bool

	cmd := &cobra.Command{
		Use:   "validate [config-file]",
		Short: "Validate a run configuration file",
		Long: `Validate a run configuration without touching the robot. With --watch the
file is re-validated on every save, which is handy while tuning speeds and
zones between runs.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := cfgFile
			if len(args) > 0 {
				path = args[0]
			}
			if path == "" {
				return fmt.Errorf("no configuration file given")
			}

			if watch {
				return watchAndValidate(path)
			}
			return validateOnce(path)
		},
	}

	cmd.Flags().BoolVar(&watch, "watch", false, "re-validate whenever the file changes")

	return cmd
}

func validateOnce(path string) error {
	cfg, err := config.Load(path)
	if err != nil {
		printError(err.Error())
		return err
	}

	color.Green("✅ %s is a valid run configuration", path)
	fmt.Printf("   target: %s\n", cfg.Target)
	fmt.Printf("   zones: pick=%s place=%s travel=%s\n",
		cfg.Movement.ZonePick, cfg.Movement.ZonePlace, cfg.Movement.ZoneTravel)
	fmt.Printf("   speeds: pick=%v place=%v travel=%v mm/s\n",
		cfg.Movement.SpeedPicking, cfg.Movement.SpeedPlacing, cfg.Movement.SpeedTravel)
	return nil
}

// watchAndValidate re-runs validation on every write to the config file.
// Validation errors are reported but never end the watch loop.
func watchAndValidate(path string) error {
	if err := validateOnce(path); err != nil {
		// keep watching, the operator is mid-edit
		fmt.Println()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory: editors replace files on save, which drops
	// a watch registered on the file itself.
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	fmt.Printf("Watching %s for changes, CTRL+C to stop...\n", path)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	target := filepath.Clean(path)
	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			fmt.Println()
			if err := validateOnce(path); err != nil {
				continue
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			printError(fmt.Sprintf("watch error: %v", err))
		case <-sigChan:
			return nil
		}
	}
}
