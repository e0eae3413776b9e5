package main

import (
	"strconv"
	"time"

	"github.com/rodaine/table"
	"github.com/spf13/cobra"
)

var peersCmd = &cobra.Command{
	Use:   "peers",
	Short: "list peers known to this node",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig()
		if err != nil {
			die(exitUserErr, err)
		}
		st, err := openState(cfg)
		if err != nil {
			die(exitInternal, err)
		}
		defer st.Close()

		peers, err := st.db.ListPeers()
		if err != nil {
			die(exitInternal, err)
		}

		tbl := table.New("Peer UUID", "Address", "First Seen", "Last Seen", "Successes", "Failures")
		for _, p := range peers {
			addr := p.IP
			if p.Port != 0 {
				addr = p.IP + ":" + strconv.Itoa(p.Port)
			}
			tbl.AddRow(p.PeerUUID, addr, p.FirstSeen.Format(time.RFC1123), p.LastSeen.Format(time.RFC1123), p.SuccessCount, p.FailureCount)
		}
		tbl.Print()
	},
}
