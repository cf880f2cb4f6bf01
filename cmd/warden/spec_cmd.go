package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/wardenhq/warden/internal/api"
)

var specCmd = &cobra.Command{
	Use:   "spec",
	Short: "Inspect spec files in the watched directory",
}

var specListCmd = &cobra.Command{
	Use:   "list",
	Short: "List spec files and their states",
	RunE:  runSpecList,
}

func init() {
	specCmd.AddCommand(specListCmd)
}

func runSpecList(cmd *cobra.Command, args []string) error {
	resp, err := apiGet("/specs")
	if err != nil {
		return err
	}

	var specs []api.SpecStatus
	if err := json.Unmarshal(resp, &specs); err != nil {
		return err
	}

	if len(specs) == 0 {
		fmt.Println("No spec files found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "FILE\tSTATE\tMODIFIED")
	for _, s := range specs {
		fmt.Fprintf(w, "%s\t%s\t%s\n", s.Name, s.State, s.Modified.Local().Format("2006-01-02 15:04:05"))
	}
	w.Flush()
	return nil
}
