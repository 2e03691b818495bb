package patient

import (
	"github.com/spf13/cobra"
)

// PatientCmd is the parent command for patient operations
var PatientCmd = &cobra.Command{
	Use:   "patient",
	Short: "Look up patients",
	Long:  `Commands for reading patient records from the clinical API.`,
}

func init() {
	PatientCmd.AddCommand(getCmd)
	PatientCmd.AddCommand(searchCmd)
}
