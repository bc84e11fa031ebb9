package cli

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/cyberguard/cyberguard/internal/store"
)

const dateFormat = "2006-01-02"

// fixturesCmd prints the seed data set.
var fixturesCmd = &cobra.Command{
	Use:   "fixtures",
	Short: "Print the fixture data set",
	Long: `Print the users, devices, open ports and CVEs that "serve" loads into
a fresh store when storage.seed is enabled.`,
	Example: `  cyberguard fixtures`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return renderFixtures(cmd.OutOrStdout(), store.Fixtures(time.Now().UTC()))
	},
}

func init() {
	rootCmd.AddCommand(fixturesCmd)
}

// renderFixtures writes one table per fixture kind.
func renderFixtures(w io.Writer, fs store.FixtureSet) error {
	fmt.Fprintln(w, "Users")
	users := tablewriter.NewWriter(w)
	users.Header("Username", "Email", "Role")
	for _, u := range fs.Users {
		if err := users.Append([]string{u.Username, u.Email, string(u.Role)}); err != nil {
			return err
		}
	}
	if err := users.Render(); err != nil {
		return err
	}

	fmt.Fprintln(w, "\nDevices")
	devices := tablewriter.NewWriter(w)
	devices.Header("Device", "IP Address", "Type", "Manufacturer", "Firmware", "Risk", "Status", "Last Scan")
	for _, d := range fs.Devices {
		if err := devices.Append([]string{
			d.DeviceID, d.IPAddress, d.DeviceType, d.Manufacturer, d.Firmware,
			strconv.Itoa(d.RiskScore), string(d.Status), d.LastScan.Format(dateFormat),
		}); err != nil {
			return err
		}
	}
	if err := devices.Render(); err != nil {
		return err
	}

	fmt.Fprintln(w, "\nOpen Ports")
	ports := tablewriter.NewWriter(w)
	ports.Header("Device", "Ports", "Suspicious", "Severity")
	for _, p := range fs.OpenPorts {
		if err := ports.Append([]string{p.DeviceID, p.Ports, strconv.FormatBool(p.Suspicious), string(p.Severity)}); err != nil {
			return err
		}
	}
	if err := ports.Render(); err != nil {
		return err
	}

	fmt.Fprintln(w, "\nCVEs")
	cves := tablewriter.NewWriter(w)
	cves.Header("CVE", "Severity", "CVSS", "Published", "Description")
	for _, c := range fs.CVEs {
		if err := cves.Append([]string{
			c.CVEID, string(c.Severity), c.CVSSScore, c.PublishedDate.Format(dateFormat), c.Description,
		}); err != nil {
			return err
		}
	}
	return cves.Render()
}
