package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"chatwin/internal/app"
	"chatwin/internal/tui"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
)

const version = "0.1.0"

func loadApplication() (*app.Application, error) {
	cfg, err := app.LoadConfig(app.DefaultConfigPath())
	if err != nil {
		return nil, err
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("CHATWIN_API_KEY")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = os.Getenv("CHATWIN_BASE_URL")
	}
	// Without a key we run against the mock client so the UI and the
	// budgeting logic stay usable offline.
	mock := cfg.APIKey == ""
	return app.NewApplication(cfg, mock)
}

func main() {
	root := &cobra.Command{
		Use:     "chatwin",
		Short:   "Local LLM chat client with context-window budgeting",
		Long:    "chatwin is a local chat client for LLM completion APIs.\n\nEach chat carries its own system prompt, message template and context budget;\nhistory that no longer fits the budget is excluded from outbound requests.",
		Version: version,
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := loadApplication()
			if err != nil {
				return err
			}
			defer application.Close()

			p := tea.NewProgram(tui.New(application))
			_, err = p.Run()
			return err
		},
	}

	chatsCmd := &cobra.Command{
		Use:   "chats",
		Short: "List chats, most recently active first",
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := loadApplication()
			if err != nil {
				return err
			}
			defer application.Close()

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTITLE\tEXCHANGES\tTOKENS\tLAST ACTIVE")
			for _, c := range application.Store.ListChats() {
				title := c.Title
				if strings.TrimSpace(title) == "" {
					title = "(untitled)"
				}
				last := time.UnixMilli(c.UpdateTimestamp).Format("2006-01-02 15:04")
				fmt.Fprintf(w, "%d\t%s\t%d\t%d\t%s\n", c.ID, title, c.ConversationCount, c.TokenCount, last)
			}
			return w.Flush()
		},
	}
	root.AddCommand(chatsCmd)

	usageCmd := &cobra.Command{
		Use:   "usage",
		Short: "Show cumulative token and exchange usage",
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := loadApplication()
			if err != nil {
				return err
			}
			defer application.Close()

			u := application.Coordinator.GetUsage()
			fmt.Printf("tokens:     %d\n", u.TokenCount)
			fmt.Printf("exchanges:  %d\n", u.ExchangeCount)
			return nil
		},
	}
	root.AddCommand(usageCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
