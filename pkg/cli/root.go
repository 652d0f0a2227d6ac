// Package cli provides the command-line interface for fabrun
package cli

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile   string
	verbosity string
	version   string
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "fabrun",
	Short: "Fabrication run execution engine for robotic clay pick-and-place",
	Long: `fabrun drives an industrial robot arm through an automated clay
fabrication run: a sequence of pick-and-place motions against a real or
containerized robot controller, with configured speeds, zones and tool
actuation timing.`,

	Run: func(cmd *cobra.Command, args []string) {
		if v, _ := cmd.Flags().GetBool("version"); v {
			fmt.Printf("fabrun v%s\n", version)
			return
		}
		cmd.Help()
	},
}

// Execute runs the CLI
func Execute(v string) error {
	version = v

	initializeRootCommand()

	return rootCmd.Execute()
}

// initializeRootCommand sets up the root command and its flags.
func initializeRootCommand() {
	cobra.OnInitialize(initEnv)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "run configuration file (YAML or JSON)")
	rootCmd.PersistentFlags().StringVarP(&verbosity, "verbosity", "v", "info", "log level (debug, info, warn, error)")

	rootCmd.Flags().Bool("version", false, "Print version information and quit")

	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newValidateCmd())
	rootCmd.AddCommand(newVersionCmd())
}

// initEnv loads cell-specific settings (ROBOT_IP and friends) from an
// optional .env file and binds FABRUN_* environment variables.
func initEnv() {
	_ = godotenv.Load()

	viper.SetEnvPrefix("FABRUN")
	viper.AutomaticEnv()

	if cfgFile == "" {
		cfgFile = viper.GetString("CONFIG")
	}
}

func printError(message string) {
	color.New(color.FgRed, color.Bold).Fprintf(rootCmd.ErrOrStderr(), "error: %s\n", message)
}
