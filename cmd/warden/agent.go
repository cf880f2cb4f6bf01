package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/wardenhq/warden/internal/models"
)

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Inspect registered agents",
}

var agentListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered agents",
	RunE:  runAgentList,
}

var agentShowCmd = &cobra.Command{
	Use:   "show [name]",
	Short: "Show an agent definition",
	Args:  cobra.ExactArgs(1),
	RunE:  runAgentShow,
}

var agentTasksCmd = &cobra.Command{
	Use:   "tasks [name]",
	Short: "List an agent's scheduled tasks",
	Args:  cobra.ExactArgs(1),
	RunE:  runAgentTasks,
}

func init() {
	agentCmd.AddCommand(agentListCmd, agentShowCmd, agentTasksCmd)
}

func runAgentList(cmd *cobra.Command, args []string) error {
	resp, err := apiGet("/agents")
	if err != nil {
		return err
	}

	var agents []models.AgentDefinition
	if err := json.Unmarshal(resp, &agents); err != nil {
		return err
	}

	if len(agents) == 0 {
		fmt.Println("No agents registered")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tFOLDER\tMODEL\tROUTE\tMOUNTS")
	for _, a := range agents {
		model := a.Model
		if model == "" {
			model = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\n", a.Name, a.Folder, model, a.RouteID, len(a.Mounts))
	}
	w.Flush()
	return nil
}

func runAgentShow(cmd *cobra.Command, args []string) error {
	resp, err := apiGet("/agents/" + args[0])
	if err != nil {
		return err
	}

	var agent models.AgentDefinition
	if err := json.Unmarshal(resp, &agent); err != nil {
		return err
	}

	fmt.Printf("Name:      %s\n", agent.Name)
	fmt.Printf("Folder:    %s\n", agent.Folder)
	fmt.Printf("Route:     %s\n", agent.RouteID)
	if agent.Model != "" {
		fmt.Printf("Model:     %s\n", agent.Model)
	}
	fmt.Printf("Created:   %s\n", agent.CreatedAt.Format("2006-01-02 15:04:05"))
	fmt.Printf("Updated:   %s\n", agent.UpdatedAt.Format("2006-01-02 15:04:05"))
	fmt.Println("Mounts:")
	for _, m := range agent.Mounts {
		mode := "rw"
		if m.ReadOnly {
			mode = "ro"
		}
		fmt.Printf("  %s -> %s (%s)\n", m.HostPath, m.ContainerPath, mode)
	}
	return nil
}

func runAgentTasks(cmd *cobra.Command, args []string) error {
	resp, err := apiGet("/agents/" + args[0] + "/tasks")
	if err != nil {
		return err
	}

	var tasks []models.ScheduledTask
	if err := json.Unmarshal(resp, &tasks); err != nil {
		return err
	}

	if len(tasks) == 0 {
		fmt.Println("No scheduled tasks")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSCHEDULE\tCONTEXT\tNEXT RUN\tSTATUS")
	for _, t := range tasks {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			truncateID(t.ID), t.Schedule, t.ContextMode,
			t.NextRun.Local().Format("2006-01-02 15:04"), t.Status)
	}
	w.Flush()
	return nil
}

func truncateID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}
