package main

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/cuemby/beacon/pkg/client"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// newClient builds an admin client from the persistent flags. When
// withToken is set the saved session token is attached.
func newClient(cmd *cobra.Command, withToken bool) (*client.Client, error) {
	server, _ := cmd.Flags().GetString("server")
	caFile, _ := cmd.Flags().GetString("ca-file")

	opts := client.Options{CAFile: caFile}
	if withToken {
		path, err := client.TokenPath()
		if err != nil {
			return nil, err
		}
		token, err := client.LoadToken(path)
		if err != nil {
			return nil, err
		}
		opts.Token = token
	}

	c, err := client.NewClient(server, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}
	return c, nil
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in as the administrator and save the session token",
	RunE: func(cmd *cobra.Command, args []string) error {
		username, _ := cmd.Flags().GetString("username")
		password, err := readPassword(cmd)
		if err != nil {
			return err
		}

		c, err := newClient(cmd, false)
		if err != nil {
			return err
		}
		resp, err := c.Login(username, password)
		if err != nil {
			return fmt.Errorf("login failed: %w", err)
		}

		path, err := client.TokenPath()
		if err != nil {
			return err
		}
		if err := client.SaveToken(path, resp.Token); err != nil {
			return err
		}

		fmt.Printf("✓ Logged in as %s (session expires %s)\n", username, resp.ExpiresAt.Local().Format(time.RFC1123))
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Revoke the saved session token",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(cmd, true)
		if err != nil {
			return err
		}
		if err := c.Logout(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: server did not revoke the session: %v\n", err)
		}

		path, err := client.TokenPath()
		if err != nil {
			return err
		}
		if err := client.RemoveToken(path); err != nil {
			return err
		}
		fmt.Println("✓ Logged out")
		return nil
	},
}

func init() {
	loginCmd.Flags().StringP("username", "u", "admin", "Administrator username")
	loginCmd.Flags().Bool("password-stdin", false, "Read the password from stdin")
}

// readPassword prompts on the terminal, or reads one line from stdin
func readPassword(cmd *cobra.Command) (string, error) {
	fromStdin, _ := cmd.Flags().GetBool("password-stdin")
	if fromStdin || !term.IsTerminal(int(os.Stdin.Fd())) {
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		return strings.TrimRight(line, "\r\n"), nil
	}

	fmt.Fprint(os.Stderr, "Password: ")
	raw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return string(raw), nil
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show ingestion statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(cmd, true)
		if err != nil {
			return err
		}
		stats, err := c.Stats()
		if err != nil {
			return err
		}

		fmt.Printf("Accepted reports:  %d\n", stats.TotalMessages)
		fmt.Printf("Rejected reports:  %d\n", stats.InvalidMessages)
		fmt.Printf("Active trackers:   %d\n", stats.ActiveTrackers)
		return nil
	},
}

var trackersCmd = &cobra.Command{
	Use:   "trackers",
	Short: "List the last report of every known tracker",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(cmd, true)
		if err != nil {
			return err
		}
		views, err := c.Trackers()
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "TRACKER\tMESSAGES\tLAST SEEN\tTIMESTAMP\tDATA")
		for _, v := range views {
			var count uint64
			if v.MessageCount != nil {
				count = *v.MessageCount
			}
			fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\n", v.TrackerID, count, v.LastSeen, v.Timestamp, v.Data)
		}
		return w.Flush()
	},
}

// Key commands
var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage event API keys",
}

var keysListCmd = &cobra.Command{
	Use:   "list",
	Short: "List event API keys",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(cmd, true)
		if err != nil {
			return err
		}
		keys, err := c.ListKeys()
		if err != nil {
			return err
		}

		showSecrets, _ := cmd.Flags().GetBool("show-secrets")
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tEVENT\tVALID\tISSUED\tKEY")
		for _, k := range keys {
			secret := maskSecret(k.Secret)
			if showSecrets {
				secret = k.Secret
			}
			fmt.Fprintf(w, "%s\t%s\t%t\t%s\t%s\n", k.ID, k.Event, k.Valid, k.IssuedAt.Format(time.RFC3339), secret)
		}
		return w.Flush()
	},
}

var keysIssueCmd = &cobra.Command{
	Use:   "issue EVENT",
	Short: "Issue a new key for an event, invalidating the current one",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(cmd, true)
		if err != nil {
			return err
		}
		key, err := c.IssueKey(args[0])
		if err != nil {
			return err
		}

		fmt.Printf("✓ Key issued for event %s\n", key.Event)
		fmt.Printf("  ID:  %s\n", key.ID)
		fmt.Printf("  Key: %s\n", key.Secret)
		return nil
	},
}

var keysInvalidateCmd = &cobra.Command{
	Use:   "invalidate ID",
	Short: "Invalidate an event API key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(cmd, true)
		if err != nil {
			return err
		}
		if err := c.InvalidateKey(args[0]); err != nil {
			return err
		}
		fmt.Printf("✓ Key %s invalidated\n", args[0])
		return nil
	},
}

func init() {
	keysCmd.AddCommand(keysListCmd)
	keysCmd.AddCommand(keysIssueCmd)
	keysCmd.AddCommand(keysInvalidateCmd)

	keysListCmd.Flags().Bool("show-secrets", false, "Print full key secrets")
}

func maskSecret(secret string) string {
	if len(secret) <= 8 {
		return strings.Repeat("*", len(secret))
	}
	return secret[:4] + strings.Repeat("*", len(secret)-8) + secret[len(secret)-4:]
}

// Device commands
var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "Manage tracker to event assignments",
}

var devicesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tracker assignments",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(cmd, true)
		if err != nil {
			return err
		}
		devices, err := c.ListDevices()
		if err != nil {
			return err
		}

		event, _ := cmd.Flags().GetString("event")
		ids := make([]string, 0, len(devices))
		for id, e := range devices {
			if event == "" || e == event {
				ids = append(ids, id)
			}
		}
		sort.Strings(ids)

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "TRACKER\tEVENT")
		for _, id := range ids {
			fmt.Fprintf(w, "%s\t%s\n", id, devices[id])
		}
		return w.Flush()
	},
}

var devicesAssignCmd = &cobra.Command{
	Use:   "assign TRACKER EVENT",
	Short: "Assign a tracker to an event",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(cmd, true)
		if err != nil {
			return err
		}
		if err := c.AssignDevice(args[0], args[1]); err != nil {
			return err
		}
		fmt.Printf("✓ %s assigned to %s\n", args[0], args[1])
		return nil
	},
}

func init() {
	devicesCmd.AddCommand(devicesListCmd)
	devicesCmd.AddCommand(devicesAssignCmd)
	devicesCmd.AddCommand(devicesImportCmd)

	devicesListCmd.Flags().String("event", "", "Only show trackers of this event")
}
