package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"pickleball-calendar/api"
	"pickleball-calendar/config"
)

func authCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Check the upstream CSRF session",
	}

	cmd.AddCommand(authSessionCmd())
	cmd.AddCommand(authTestCmd())
	return cmd
}

func authSessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Fetch a fresh session from the reservation site",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, cancel := contextWithTimeout(cmd.Context(), a.cfg.Upstream.Timeout*2)
			defer cancel()

			if _, err := a.sessions.Session(ctx, true); err != nil {
				return err
			}
			status := a.sessions.Status()
			if outputJSON {
				return writeJSON(status)
			}
			fmt.Printf("Token:   %s (%s)\n", status.TokenSample, sourceLabel(status.Source))
			fmt.Printf("Cookies: %t\n", status.HasCookies)
			fmt.Printf("Expires: %s\n", status.ExpiresAt.In(a.cfg.Location()).Format(time.RFC3339))
			return nil
		},
	}
	return cmd
}

func authTestCmd() *cobra.Command {
	var groupID int
	var date string
	var tokenFile string
	var promptToken bool
	tokenFileDefault := os.Getenv("PICKLEBALL_TOKEN_FILE")

	cmd := &cobra.Command{
		Use:   "test",
		Short: "Fetch one facility group to check the session is accepted",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			group, err := findGroup(a.cfg.FacilityGroups, groupID)
			if err != nil {
				return err
			}

			switch {
			case tokenFile != "":
				token, cookies, err := readTokenFile(tokenFile)
				if err != nil {
					return err
				}
				if token == "" {
					return fmt.Errorf("no [token] section in %s", tokenFile)
				}
				a.sessions.Use(token, cookies)
			case promptToken:
				if err := promptSessionToken(a); err != nil {
					return err
				}
			}

			day := a.store.Today()
			if date != "" {
				day, err = parseDateInput(date, a.cfg.Location())
				if err != nil {
					return err
				}
			}

			ctx, cancel := contextWithTimeout(cmd.Context(), a.cfg.Upstream.Timeout*3)
			defer cancel()

			session, err := a.sessions.Session(ctx, false)
			if err != nil {
				return err
			}
			result, err := a.client.Probe(ctx, session, group, day.Format("2006-01-02"))
			if err != nil {
				return fmt.Errorf("session rejected: %w", err)
			}
			if outputJSON {
				return writeJSON(result)
			}
			fmt.Printf("OK: group %d (%s) on %s returned %d courts in %s\n",
				group.ID, group.Name, result.Date, result.Courts, result.Duration.Round(time.Millisecond))
			if len(result.Parks) > 0 {
				fmt.Printf("Parks: %s\n", strings.Join(result.Parks, ", "))
			}
			fmt.Printf("Token: %s (%s)\n", session.TokenSample(), sourceLabel(session.Source))
			return nil
		},
	}

	cmd.Flags().IntVar(&groupID, "group", 0, "Facility group ID (default: first configured)")
	cmd.Flags().StringVar(&date, "date", "", "Date to fetch (default today)")
	cmd.Flags().StringVar(&tokenFile, "token-file", tokenFileDefault, "Load token and cookies from file (default: $PICKLEBALL_TOKEN_FILE)")
	cmd.Flags().BoolVar(&promptToken, "prompt-token", false, "Prompt for a CSRF token")
	return cmd
}

func findGroup(groups []config.FacilityGroup, id int) (config.FacilityGroup, error) {
	if len(groups) == 0 {
		return config.FacilityGroup{}, fmt.Errorf("no facility groups configured")
	}
	if id == 0 {
		return groups[0], nil
	}
	for _, group := range groups {
		if group.ID == id {
			return group, nil
		}
	}
	return config.FacilityGroup{}, fmt.Errorf("facility group %d is not configured", id)
}

func sourceLabel(source string) string {
	switch source {
	case api.SourceHTML:
		return "landing page"
	case api.SourceAlternative:
		return "token endpoint"
	case api.SourceManual:
		return "manual"
	}
	return "unknown"
}

// readTokenFile reads a file with [token] and optional [cookies] sections,
// each followed by its value on the next line.
func readTokenFile(path string) (string, string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", "", err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	var token string
	var cookies string
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "[token]":
			if scanner.Scan() {
				token = strings.TrimSpace(scanner.Text())
			}
		case "[cookies]":
			if scanner.Scan() {
				cookies = strings.TrimSpace(scanner.Text())
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return "", "", err
	}
	return token, cookies, nil
}
