package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/berfenger/otgw2mqtt/internal/core/registry"

	"github.com/spf13/cobra"
)

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Validate the entity schema and print the Data-ID plan",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := loadRegistry(schemaPath(nil), cliLogger())
		if err != nil {
			return err
		}
		return printPlan(cmd.OutOrStdout(), reg)
	},
}

func init() {
	rootCmd.AddCommand(schemaCmd)
}

func printPlan(out io.Writer, reg *registry.Registry) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)

	fmt.Fprintln(w, "ENTITY\tMESSAGE\tFIELD\tINIT\tPOLL\tRANGE")
	for _, e := range reg.Entities() {
		poll := "-"
		if e.PollInterval > 0 {
			poll = e.PollInterval.String()
		}
		rng := "-"
		if e.Range != nil {
			rng = fmt.Sprintf("[%g, %g]", e.Range.Min, e.Range.Max)
		}
		fmt.Fprintf(w, "%s\t%s(%d)\t%s\t%t\t%s\t%s\n", e.ID(), e.Message, uint8(e.Message), e.Field, e.Init, poll, rng)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, "init:")
	for _, id := range reg.InitMessages() {
		fmt.Fprintf(out, "  %s(%d)\n", id, uint8(id))
	}

	fmt.Fprintln(out, "poll:")
	intervals := reg.PollIntervals()
	for _, id := range reg.Messages() {
		if d, ok := intervals[id]; ok {
			fmt.Fprintf(out, "  %s(%d) every %s\n", id, uint8(id), d)
		}
	}
	return nil
}
