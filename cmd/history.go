package cmd

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"isoflow/internal/storage"
	"isoflow/internal/tui/history"
	"isoflow/internal/tui/styles"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recorded runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := historyStore()
		if err != nil {
			return err
		}
		defer store.Close()

		if tui, _ := cmd.Flags().GetBool("browse"); tui {
			p := tea.NewProgram(browser{history.NewModel(store)}, tea.WithAltScreen())
			_, err := p.Run()
			return err
		}

		items, err := store.List(historyLimit)
		if err != nil {
			return err
		}
		if len(items) == 0 {
			fmt.Println("No runs recorded in", store.Path())
			return nil
		}
		for _, item := range items {
			result := styles.Bool(item.OK())
			fmt.Printf("%s  %s  %-24s %-8s %s\n", item.ID, item.StartedAt.Format(time.RFC822), item.Title, item.Duration().Round(time.Second), result)
		}
		return nil
	},
}

var historyShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show one recorded run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := historyStore()
		if err != nil {
			return err
		}
		defer store.Close()

		item, err := store.Get(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("%s  %s\n", item.ID, item.Title)
		fmt.Printf("started %s, took %s, output %s\n", item.StartedAt.Format(time.RFC1123), item.Duration().Round(time.Millisecond), item.OutputDir)
		for _, f := range item.Flows {
			fmt.Printf("  %-8s %-11s %-9s reports %-6d p50 %.3f  p99 %.3f\n", f.Name, f.Role, f.State, f.Reports, f.P50, f.P99)
			if f.Error != "" {
				fmt.Printf("           %s\n", f.Error)
			}
		}
		return nil
	},
}

var historyDeleteCmd = &cobra.Command{
	Use:   "delete <run-id>",
	Short: "Delete one recorded run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := historyStore()
		if err != nil {
			return err
		}
		defer store.Close()
		return store.Delete(args[0])
	},
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "number of runs to list, 0 for all")
	historyCmd.Flags().Bool("browse", false, "browse the history interactively")
	historyCmd.AddCommand(historyShowCmd, historyDeleteCmd)
}

func historyStore() (*storage.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	store, err := openStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}
	return store, nil
}

// browser runs the history view as a standalone program.
type browser struct {
	history.Model
}

func (b browser) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if k, ok := msg.(tea.KeyMsg); ok {
		switch k.String() {
		case "ctrl+c", "q":
			return b, tea.Quit
		}
	}
	var cmd tea.Cmd
	b.Model, cmd = b.Model.Update(msg)
	return b, cmd
}
