package main

import (
	"log"
	"os"

	"github.com/spf13/cobra"
)

var reconstructCmd = &cobra.Command{
	Use:   "reconstruct <file-uuid> <output-path>",
	Short: "reconstruct a chunked file to output-path",
	Run: func(cmd *cobra.Command, args []string) {
		if len(args) != 2 {
			cmd.Usage()
			os.Exit(exitUserErr)
		}

		cfg, err := loadConfig()
		if err != nil {
			die(exitUserErr, err)
		}
		st, err := openState(cfg)
		if err != nil {
			die(exitInternal, err)
		}
		defer st.Close()

		fileUUID, outputPath := args[0], args[1]
		if err := st.mgr.ReconstructFile(fileUUID, st.selfID, outputPath); err != nil {
			die(exitInternal, err)
		}
		log.Printf("reconstructed %s to %s", fileUUID, outputPath)
	},
}
