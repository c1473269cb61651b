package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/berfenger/otgw2mqtt/internal/core/registry"
	"github.com/berfenger/otgw2mqtt/pkg/opentherm"

	"github.com/spf13/cobra"
)

var decodeCmd = &cobra.Command{
	Use:   "decode <hex>...",
	Short: "Decode raw OpenTherm frames with the entity schema",
	Example: `  otgw2mqtt decode 80190000 C0192D40
  otgw2mqtt decode BC0192D40`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := loadRegistry(schemaPath(nil), cliLogger())
		if err != nil {
			return err
		}
		for _, arg := range args {
			if err := decodeFrame(cmd.OutOrStdout(), reg, arg); err != nil {
				return err
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(decodeCmd)
}

// parseHexFrame accepts a bare 8 digit hex frame, optionally prefixed with
// 0x or with the line protocol direction letter (B, T or R).
func parseHexFrame(s string) (opentherm.Frame, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if len(s) == 9 && strings.ContainsRune("BTRbtr", rune(s[0])) {
		s = s[1:]
	}
	if len(s) != 8 {
		return opentherm.Frame{}, fmt.Errorf("%q: expected 8 hex digits", s)
	}
	raw, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return opentherm.Frame{}, fmt.Errorf("%q: %w", s, err)
	}
	return opentherm.ParseFrame(uint32(raw))
}

func decodeFrame(out io.Writer, reg *registry.Registry, arg string) error {
	frame, err := parseHexFrame(arg)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, frame)

	entities := reg.ForMessage(frame.DataID)
	if len(entities) == 0 {
		fmt.Fprintln(out, "  no entity is bound to this message")
		return nil
	}
	for _, e := range entities {
		text := opentherm.Decode(e.Field, frame.Payload).String()
		if e.Unit != "" {
			text += " " + e.Unit
		}
		fmt.Fprintf(out, "  %s = %s\n", e.ID(), text)
	}
	return nil
}
