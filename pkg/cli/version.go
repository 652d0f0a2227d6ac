package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number of fabrun",
		Long:  `Print the version number of fabrun`,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("fabrun v%s\n", version)
		},
	}
}
