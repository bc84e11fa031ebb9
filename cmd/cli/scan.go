package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/cyberguard/cyberguard/internal/models"
)

const defaultPollInterval = 500 * time.Millisecond

// scanCmd starts a scan on a running server.
var scanCmd = &cobra.Command{
	Use:   "scan <target>",
	Short: "Start a scan on a running server",
	Long: `Log in to a running CyberGuard server and start a scan of the target.
With --watch the command polls the scan and prints progress until it
completes.

Credentials come from flags or CYBERGUARD_USERNAME, CYBERGUARD_EMAIL and
CYBERGUARD_PASSWORD; the server URL from --url or CYBERGUARD_URL.`,
	Example: `  cyberguard scan 192.168.1.0/24
  cyberguard scan camera.local --watch
  cyberguard scan 10.0.0.1 --url http://dashboard:5000 --username analyst`,
	Args: cobra.ExactArgs(1),
	RunE: runScanCommand,
}

func init() {
	rootCmd.AddCommand(scanCmd)

	scanCmd.Flags().String("url", "", "Server base URL (default derived from server.host and server.port)")
	scanCmd.Flags().String("username", "", "Login username")
	scanCmd.Flags().String("email", "", "Login email")
	scanCmd.Flags().String("password", "", "Login password")
	scanCmd.Flags().Bool("watch", false, "Poll the scan until it completes")
	scanCmd.Flags().Duration("interval", defaultPollInterval, "Polling interval for --watch")

	bindFlags(scanCmd.Flags(), map[string]string{
		"url":      "url",
		"username": "username",
		"email":    "email",
		"password": "password",
	})
}

func runScanCommand(cmd *cobra.Command, args []string) error {
	server := viper.GetString("url")
	if server == "" {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		server = "http://" + cfg.Address()
	}

	username := viper.GetString("username")
	if username == "" {
		return fmt.Errorf("username is required (--username or %s_USERNAME)", envPrefix)
	}

	watch, _ := cmd.Flags().GetBool("watch")
	interval, _ := cmd.Flags().GetDuration("interval")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := NewAPIClient(server)
	if _, err := client.Login(ctx, username, viper.GetString("email"), viper.GetString("password")); err != nil {
		return fmt.Errorf("login failed: %w", err)
	}

	_, err := runScan(ctx, client, cmd.OutOrStdout(), args[0], watch, interval)
	return err
}

// scanClient is the part of APIClient the scan command uses.
type scanClient interface {
	CreateScan(ctx context.Context, target string) (models.ScanResult, error)
	GetScan(ctx context.Context, id string) (models.ScanResult, error)
}

// runScan starts a scan and, when watch is set, polls it until it reaches
// a terminal status. Each progress change is printed once.
func runScan(ctx context.Context, client scanClient, out io.Writer, target string, watch bool,
	interval time.Duration) (models.ScanResult, error) {
	s, err := client.CreateScan(ctx, target)
	if err != nil {
		return s, fmt.Errorf("failed to start scan: %w", err)
	}
	fmt.Fprintf(out, "Scan %s started for %s\n", s.ID, s.Target)
	if !watch {
		return s, nil
	}
	if interval <= 0 {
		interval = defaultPollInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := -1
	for !s.Status.Terminal() {
		select {
		case <-ctx.Done():
			return s, ctx.Err()
		case <-ticker.C:
		}

		s, err = client.GetScan(ctx, s.ID)
		if err != nil {
			return s, fmt.Errorf("failed to poll scan: %w", err)
		}
		if s.Progress != last {
			fmt.Fprintf(out, "%3d%% %s\n", s.Progress, s.Status)
			last = s.Progress
		}
	}

	if text := s.ResultText(); text != "" {
		fmt.Fprintln(out, text)
	}
	return s, nil
}
