package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hominum/launcher/internal/auth"
	"github.com/hominum/launcher/internal/store"
)

var (
	authEmail string
	authFile  string
)

func newAuthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage cached game sessions",
		Long: `Manage the game session used by install. Sessions are obtained by an
external sign-in flow and imported here as JSON with the fields username,
uuid, access_token and optionally xuid, client_id and expires_at.`,
		Example: `  hominum auth import --email steve@example.org --file session.json
  hominum auth status
  hominum auth forget`,
	}

	cmd.AddCommand(
		newAuthImportCmd(),
		newAuthStatusCmd(),
		newAuthForgetCmd(),
	)

	return cmd
}

func newAuthImportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import a session and make its account the active user",
		Example: `  hominum auth import --email steve@example.org --file session.json
  sign-in-helper | hominum auth import --email steve@example.org --file -`,
		RunE: authImportRun,
	}

	cmd.Flags().StringVar(&authEmail, "email", "", "account email (required)")
	cmd.Flags().StringVar(&authFile, "file", "-", "session JSON file, or - for stdin")
	_ = cmd.MarkFlagRequired("email")

	return cmd
}

func authImportRun(cmd *cobra.Command, args []string) error {
	if globalSessions == nil || globalStore == nil {
		return fmt.Errorf("store not initialized")
	}

	s, err := readSession(cmd.InOrStdin(), authFile)
	if err != nil {
		return err
	}
	if err := globalSessions.SaveSession(authEmail, s); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	if err := globalStore.Set(store.SectionUser, store.KeyEmail, authEmail); err != nil {
		return fmt.Errorf("failed to set active user: %w", err)
	}

	fmt.Printf("Imported session for %s (%s)\n", s.Username, authEmail)
	return nil
}

// readSession decodes a session from file, or from stdin when file is "-".
func readSession(stdin io.Reader, file string) (*auth.Session, error) {
	var r io.Reader = stdin
	if file != "-" {
		f, err := os.Open(file)
		if err != nil {
			return nil, fmt.Errorf("failed to open session file: %w", err)
		}
		defer f.Close()
		r = f
	}

	var s auth.Session
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to parse session: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

func newAuthStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the active account and whether its session is usable",
		RunE: func(cmd *cobra.Command, args []string) error {
			email, err := activeEmail()
			if err != nil {
				return err
			}
			if email == "" {
				fmt.Println("No active account")
				return nil
			}
			s, err := globalSessions.Login(email)
			if err != nil {
				return fmt.Errorf("failed to load session: %w", err)
			}
			if s == nil {
				fmt.Printf("%s: no usable session, import a new one\n", email)
				return nil
			}
			fmt.Printf("%s: signed in as %s (%s)\n", email, s.Username, s.UUID)
			if !s.ExpiresAt.IsZero() {
				fmt.Printf("  expires %s\n", s.ExpiresAt.Local().Format("2006-01-02 15:04"))
			}
			return nil
		},
	}
}

func newAuthForgetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "forget [EMAIL]",
		Short: "Remove a cached session (the active account when omitted)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			email, err := activeEmail()
			if err != nil {
				return err
			}
			if len(args) == 1 {
				email = args[0]
			}
			if email == "" {
				return fmt.Errorf("no account given and no active account")
			}
			if err := globalSessions.Forget(email); err != nil {
				return fmt.Errorf("failed to forget session: %w", err)
			}
			fmt.Printf("Forgot session for %s\n", email)
			return nil
		},
	}
}

func activeEmail() (string, error) {
	if globalSessions == nil || globalStore == nil {
		return "", fmt.Errorf("store not initialized")
	}
	var email string
	if _, err := globalStore.Get(store.SectionUser, store.KeyEmail, &email); err != nil {
		return "", fmt.Errorf("failed to read active account: %w", err)
	}
	return strings.TrimSpace(email), nil
}
