package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/kbaudit/internal/library"
)

var listLocation string

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List entries in both locations",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return err
		}
		loc := library.Location(listLocation)
		if loc != "" && !loc.Valid() {
			return fmt.Errorf("unknown location: %s", listLocation)
		}

		w := cmd.OutOrStdout()
		n := 0
		for sum, err := range a.lib.List(cmd.Context(), library.Filter{Location: loc}) {
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "%-32s %-9s %s\n", sum.Name, sum.Location, sum.Path)
			n++
		}
		if n == 0 {
			fmt.Fprintln(w, "No entries found.")
		}
		return nil
	},
}

func init() {
	listCmd.Flags().StringVar(&listLocation, "location", "", "Only list primary or extended entries")
}
