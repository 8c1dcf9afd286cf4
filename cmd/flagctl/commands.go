package main

import (
	"cmp"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	service "github.com/okian/flagrace/internal/app"
	"github.com/okian/flagrace/internal/domain/lifecycle"
	"github.com/okian/flagrace/internal/domain/model"
)

// errNotConfirmed guards destructive commands.
var errNotConfirmed = errors.New("refusing to reset without --yes")

func (c *cli) initCmd() *cobra.Command {
	var req service.InitRequest
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a competition",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var cfg model.EventConfig
			if err := c.client.post(cmd.Context(), "/admin/initialize", req, &cfg); err != nil {
				return err
			}
			if c.asJSON {
				return c.printJSON(cfg)
			}
			_, err := fmt.Fprintf(c.out, "event %q: %d teams in %d groups (%d per group), %d levels\n",
				cfg.Name, cfg.TotalTeams, cfg.TotalGroups, cfg.TeamsPerGroup, cfg.TotalLevels)
			return err
		},
	}
	cmd.Flags().StringVar(&req.EventName, "name", "", "event name")
	cmd.Flags().IntVar(&req.TotalTeams, "teams", 0, "number of teams")
	cmd.Flags().IntVar(&req.TotalGroups, "groups", 1, "number of groups")
	cmd.Flags().IntVar(&req.TotalLevels, "levels", 0, "number of levels")
	cmd.Flags().BoolVar(&req.CreateTeams, "create-teams", false, "register placeholder teams")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("teams")
	_ = cmd.MarkFlagRequired("levels")
	return cmd
}

func (c *cli) resetCmd() *cobra.Command {
	var yes, status bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Zero every team and clear the event log",
		Long:  "Reset runs in passes. When one fails the reset stays incomplete; run it again.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if status {
				var st lifecycle.Status
				if err := c.client.get(cmd.Context(), "/admin/reset", &st); err != nil {
					return err
				}
				if c.asJSON {
					return c.printJSON(st)
				}
				line := "reset " + string(st.State)
				if st.FailedPass != "" {
					line += " (failed pass " + st.FailedPass + ")"
				}
				_, err := fmt.Fprintln(c.out, line)
				return err
			}
			if !yes {
				return errNotConfirmed
			}
			var res service.ResetResponse
			if err := c.client.post(cmd.Context(), "/admin/reset", nil, &res); err != nil {
				return err
			}
			if c.asJSON {
				return c.printJSON(res)
			}
			_, err := fmt.Fprintln(c.out, res.Message)
			return err
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "confirm the reset")
	cmd.Flags().BoolVar(&status, "status", false, "show the state of the last reset instead")
	return cmd
}

func (c *cli) exportCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Download a snapshot of the competition",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := c.client.raw(cmd.Context(), "/admin/export")
			if err != nil {
				return err
			}
			if out == "" || out == "-" {
				_, err = fmt.Fprintln(c.out, string(data))
				return err
			}
			if err := os.WriteFile(out, data, 0o600); err != nil {
				return fmt.Errorf("write export: %w", err)
			}
			_, err = fmt.Fprintf(c.out, "snapshot written to %s\n", out)
			return err
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "write the snapshot to a file")
	return cmd
}

func (c *cli) leaderboardCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:     "leaderboard",
		Aliases: []string{"lb"},
		Short:   "Show the ranked leaderboard",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := "/leaderboard"
			if limit > 0 {
				path += "?" + url.Values{"limit": {strconv.Itoa(limit)}}.Encode()
			}
			var entries []model.LeaderboardEntry
			if err := c.client.get(cmd.Context(), path, &entries); err != nil {
				return err
			}
			if c.asJSON {
				return c.printJSON(entries)
			}
			tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "RANK\tTEAM\tGROUP\tSCORE\tLEVELS\tPENALTY")
			for _, e := range entries {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%d\t%dm\n", e.Rank, cmp.Or(e.TeamName, e.TeamID), e.GroupID, e.Score, e.LevelsCompleted, e.TotalTimePenalty)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "number of entries (server capped)")
	return cmd
}

func (c *cli) anomaliesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "anomalies",
		Short: "List suspicious submission patterns",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var findings []model.AnomalyFinding
			if err := c.client.get(cmd.Context(), "/anomalies", &findings); err != nil {
				return err
			}
			if c.asJSON {
				return c.printJSON(findings)
			}
			if len(findings) == 0 {
				_, err := fmt.Fprintln(c.out, "no anomalies")
				return err
			}
			tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "SEVERITY\tTYPE\tTEAM\tLEVEL\tDESCRIPTION")
			for _, f := range findings {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", f.Severity, f.Type, dash(cmp.Or(f.TeamName, f.TeamID)), dash(f.LevelID), f.Description)
			}
			return tw.Flush()
		},
	}
}

func (c *cli) statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats <team>",
		Short: "Show statistics of one team",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var st service.TeamStatistics
			if err := c.client.get(cmd.Context(), "/teams/"+url.PathEscape(args[0])+"/stats", &st); err != nil {
				return err
			}
			if c.asJSON {
				return c.printJSON(st)
			}
			tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
			fmt.Fprintf(tw, "team\t%s\n", st.TeamID)
			fmt.Fprintf(tw, "rank\t%d\n", st.Rank)
			fmt.Fprintf(tw, "score\t%d\n", st.Score)
			fmt.Fprintf(tw, "levels completed\t%d\n", st.LevelsCompleted)
			fmt.Fprintf(tw, "hints used\t%d\n", st.TotalHintsUsed)
			fmt.Fprintf(tw, "time taken\t%ds\n", st.TotalTimeTaken)
			fmt.Fprintf(tw, "avg per level\t%.1fs\n", st.AverageTimePerLevel)
			fmt.Fprintf(tw, "submissions\t%d\n", st.Submissions)
			return tw.Flush()
		},
	}
}

func (c *cli) announceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "announce <message>",
		Short: "Broadcast a message to every team",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var a model.Announcement
			if err := c.client.post(cmd.Context(), "/admin/announcements", map[string]string{"message": args[0]}, &a); err != nil {
				return err
			}
			if c.asJSON {
				return c.printJSON(a)
			}
			_, err := fmt.Fprintf(c.out, "announced %s\n", a.ID)
			return err
		},
	}
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
