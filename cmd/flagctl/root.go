package main

import (
	"cmp"
	"encoding/json"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
)

const (
	defaultServer  = "http://localhost:9080"
	defaultTimeout = 30 * time.Second
)

// cli holds state shared by every subcommand.
type cli struct {
	out     io.Writer
	server  string
	timeout time.Duration
	asJSON  bool
	client  *client
}

func newRootCmd(out io.Writer) *cobra.Command {
	c := &cli{out: out}
	root := &cobra.Command{
		Use:           "flagctl",
		Short:         "Administer a flagrace competition server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			c.client = newClient(c.server, c.timeout)
		},
	}
	root.SetOut(out)

	root.PersistentFlags().StringVarP(&c.server, "server", "s", cmp.Or(os.Getenv("FLAGRACE_URL"), defaultServer), "flagrace base URL")
	root.PersistentFlags().DurationVar(&c.timeout, "timeout", defaultTimeout, "request timeout")
	root.PersistentFlags().BoolVarP(&c.asJSON, "json", "j", false, "print raw JSON")

	root.AddCommand(
		c.initCmd(),
		c.resetCmd(),
		c.exportCmd(),
		c.leaderboardCmd(),
		c.anomaliesCmd(),
		c.statsCmd(),
		c.announceCmd(),
	)
	return root
}

// printJSON writes v indented.
func (c *cli) printJSON(v any) error {
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
