package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"aits/tracker/internal/config"
	"aits/tracker/internal/lifecycle"
	"aits/tracker/internal/model"
	"aits/tracker/internal/portal"
)

type app struct {
	session *portal.Session
	repo    *portal.Repository
	inbox   *portal.Inbox
	guard   *portal.Guard
}

func newApp() (*app, error) {
	cfg := config.Load()
	store := portal.NewFileTokenStore(cfg.TokenFilePath)
	session, err := portal.NewSession(cfg.PortalBaseURL, nil, store)
	if err != nil {
		return nil, err
	}
	// The guard owns the expiry signal: when the session dies it routes to
	// the login view, which for a CLI means telling the user to sign in.
	guard := portal.NewGuard(session, func(view portal.View) {
		if view == portal.ViewLogin {
			fmt.Fprintln(os.Stderr, "session expired, sign in again with `portal login`")
		}
	})
	repo := portal.NewRepository(session)
	repo.SetMutationTimeout(cfg.MutationTimeout)
	return &app{
		session: session,
		repo:    repo,
		inbox:   portal.NewInbox(session),
		guard:   guard,
	}, nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func main() {
	a, err := newApp()
	if err != nil {
		log.Fatalf("init failed: %v", err)
	}

	root := &cobra.Command{
		Use:           "portal",
		Short:         "Command-line client for the academic issue tracker",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	var email, password string
	loginCmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and persist the token pair",
		RunE: func(cmd *cobra.Command, _ []string) error {
			identity, err := a.session.Login(cmd.Context(), email, password)
			if err != nil {
				return err
			}
			fmt.Printf("signed in as %s %s (%s)\n", identity.FirstName, identity.LastName, identity.Role)
			return nil
		},
	}
	loginCmd.Flags().StringVar(&email, "email", "", "account email")
	loginCmd.Flags().StringVar(&password, "password", "", "account password")
	loginCmd.MarkFlagRequired("email")
	loginCmd.MarkFlagRequired("password")

	logoutCmd := &cobra.Command{
		Use:   "logout",
		Short: "Revoke the refresh session and clear stored tokens",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.session.Logout(cmd.Context())
		},
	}

	whoamiCmd := &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in identity and reachable views",
		RunE: func(cmd *cobra.Command, _ []string) error {
			identity, err := a.session.Identity(cmd.Context())
			if err != nil {
				return err
			}
			views, err := a.guard.Views(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(struct {
				Identity model.Identity `json:"identity"`
				Views    []portal.View  `json:"views"`
			}{Identity: identity, Views: views})
		},
	}

	var scope, status, category, priority string
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List issues in the caller's scope",
		RunE: func(cmd *cobra.Command, _ []string) error {
			issues, err := a.repo.List(cmd.Context(), portal.Scope(scope), portal.ListOptions{
				Status:   model.Status(status),
				Category: model.Category(category),
				Priority: model.Priority(priority),
			})
			if err != nil {
				return err
			}
			return printJSON(issues)
		},
	}
	listCmd.Flags().StringVar(&scope, "scope", string(portal.ScopeOwn), "own, assignedToMe, or all")
	listCmd.Flags().StringVar(&status, "status", "", "filter by status")
	listCmd.Flags().StringVar(&category, "category", "", "filter by category")
	listCmd.Flags().StringVar(&priority, "priority", "", "filter by priority")

	showCmd := &cobra.Command{
		Use:   "show <issue-id>",
		Short: "Show one issue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			issue, err := a.repo.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(issue)
		},
	}

	var draftFile string
	reportCmd := &cobra.Command{
		Use:   "report",
		Short: "Report a new issue from a JSON draft file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := os.ReadFile(draftFile)
			if err != nil {
				return err
			}
			var draft lifecycle.Draft
			if err := json.Unmarshal(data, &draft); err != nil {
				return fmt.Errorf("parse draft: %w", err)
			}
			issue, err := a.repo.Create(cmd.Context(), draft)
			if err != nil {
				return err
			}
			return printJSON(issue)
		},
	}
	reportCmd.Flags().StringVar(&draftFile, "file", "", "path to the JSON draft")
	reportCmd.MarkFlagRequired("file")

	var assignee, notes string
	transitionCmd := &cobra.Command{
		Use:   "transition <issue-id> <status>",
		Short: "Request a status transition",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			target, ok := model.ParseStatus(args[1])
			if !ok {
				return fmt.Errorf("unknown status %q", args[1])
			}
			issue, err := a.repo.RequestTransition(cmd.Context(), args[0], lifecycle.Request{
				Target:             target,
				AssignedLecturerID: assignee,
				ResolutionNotes:    notes,
			})
			if err != nil {
				return err
			}
			return printJSON(issue)
		},
	}
	transitionCmd.Flags().StringVar(&assignee, "assignee", "", "lecturer id when assigning")
	transitionCmd.Flags().StringVar(&notes, "notes", "", "resolution or information-request notes")

	actionsCmd := &cobra.Command{
		Use:   "actions <issue-id>",
		Short: "Show the transitions available to you for an issue",
		RunE: func(cmd *cobra.Command, args []string) error {
			targets, err := a.repo.Targets(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(targets)
		},
		Args: cobra.ExactArgs(1),
	}

	attachCmd := &cobra.Command{
		Use:   "attach <issue-id> <url>",
		Short: "Attach a document reference to an issue",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			issue, err := a.repo.AppendAttachment(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			return printJSON(issue)
		},
	}

	notificationsCmd := &cobra.Command{
		Use:   "notifications",
		Short: "List notifications",
		RunE: func(cmd *cobra.Command, _ []string) error {
			notifications, err := a.inbox.List(cmd.Context())
			if err != nil {
				return err
			}
			count, err := a.inbox.UnreadCount(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("%d unread\n", count)
			return printJSON(notifications)
		},
	}

	readCmd := &cobra.Command{
		Use:   "read <notification-id>",
		Short: "Mark a notification as read",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.inbox.MarkRead(cmd.Context(), args[0])
		},
	}

	root.AddCommand(loginCmd, logoutCmd, whoamiCmd, listCmd, showCmd, reportCmd,
		transitionCmd, actionsCmd, attachCmd, notificationsCmd, readCmd)

	if err := root.Execute(); err != nil {
		log.Fatalf("%v", err)
	}
}
