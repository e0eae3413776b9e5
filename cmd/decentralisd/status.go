package main

import (
	"log"
	"os"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status <file-uuid>",
	Short: "print a file's chunk availability and reconstructability",
	Run: func(cmd *cobra.Command, args []string) {
		if len(args) != 1 {
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

		s, err := st.mgr.GetFileStatus(args[0], st.selfID)
		if err != nil {
			die(exitInternal, err)
		}

		log.Printf("file_uuid:          %s", s.FileUUID)
		log.Printf("required chunks:    %d", s.Required)
		log.Printf("available local:    %d", s.AvailableLocal)
		log.Printf("available remote:   %d", s.AvailableRemote)
		log.Printf("reachable:          %d", s.Reachable)
		log.Printf("reconstructable:    %v", s.Reconstructable)
		log.Printf("degraded:           %v", s.Degraded)
	},
}
