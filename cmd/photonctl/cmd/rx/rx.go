package rx

import (
	"github.com/spf13/cobra"
)

// RxCmd is the parent command for prescription operations
var RxCmd = &cobra.Command{
	Use:   "rx",
	Short: "Manage prescriptions",
	Long:  `Commands for reading and writing prescriptions.`,
}

func init() {
	RxCmd.AddCommand(listCmd)
	RxCmd.AddCommand(createCmd)
}
