package cmd

import (
	"encoding/json"
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

type versionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"buildDate"`
	Go        string `json:"go"`
}

func currentVersion() versionInfo {
	return versionInfo{Version: Version, Commit: CommitSHA, BuildDate: BuildDate, Go: runtime.Version()}
}

func newVersionCmd() *cobra.Command {
	var asJSON bool
	c := &cobra.Command{
		Use:   "version",
		Short: "Print version info",
		RunE: func(cmd *cobra.Command, args []string) error {
			v := currentVersion()
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				return enc.Encode(v)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "adlib %s (commit=%s, built=%s, %s)\n", v.Version, v.Commit, v.BuildDate, v.Go)
			return nil
		},
	}
	c.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return c
}
