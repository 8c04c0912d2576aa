package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"edgepolicy/internal/profileapi"
)

func newProfilesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profiles",
		Short: "Inspect profiles assigned by the controller",
	}
	cmd.PersistentFlags().String("addr", "127.0.0.1:9200", "Controller profile API address")
	cmd.PersistentFlags().Duration("timeout", 5*time.Second, "Request timeout")

	list := &cobra.Command{
		Use:   "list",
		Short: "List every known edge node",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withClient(cmd, func(ctx context.Context, c *profileapi.Client) error {
				entries, err := c.ListProfiles(ctx)
				if err != nil {
					return err
				}
				return printEntries(cmd, entries)
			})
		},
	}
	get := &cobra.Command{
		Use:   "get SOURCE_IP",
		Short: "Show the profile of one edge node",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, func(ctx context.Context, c *profileapi.Client) error {
				e, err := c.GetProfile(ctx, args[0])
				if err != nil {
					return err
				}
				return printEntries(cmd, []profileapi.ProfileEntry{e})
			})
		},
	}
	cmd.AddCommand(list, get)
	return cmd
}

// dialProfileAPI is replaced in tests to reach an in-memory server.
var dialProfileAPI = func(addr string) (*profileapi.Client, error) {
	return profileapi.Dial(addr)
}

func withClient(cmd *cobra.Command, fn func(context.Context, *profileapi.Client) error) error {
	addr, _ := cmd.Flags().GetString("addr")
	timeout, _ := cmd.Flags().GetDuration("timeout")

	c, err := dialProfileAPI(addr)
	if err != nil {
		return err
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()
	return fn(ctx, c)
}

func printEntries(cmd *cobra.Command, entries []profileapi.ProfileEntry) error {
	out := cmd.OutOrStdout()
	if jsonMode, _ := cmd.Flags().GetBool("json"); jsonMode {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	}
	return writeTable(out, entries)
}

func writeTable(out io.Writer, entries []profileapi.ProfileEntry) error {
	if len(entries) == 0 {
		_, err := fmt.Fprintln(out, "No edge nodes reported yet.")
		return err
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SOURCE IP\tPROFILE\tCPU\tRAM\tTRAFFIC\tUPDATED")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%.1f\t%.1f\t%s\t%s\n",
			e.SourceIP, e.Profile, e.CPU, e.RAM, e.Traffic, e.UpdatedAt.Local().Format(time.DateTime))
	}
	return w.Flush()
}
