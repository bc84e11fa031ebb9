// Package dashboard computes the read-side views served to the dashboard:
// summary counts, inventory listings and severity breakdowns. Nothing is
// cached; every call reads the store.
package dashboard

import (
	"context"
	"fmt"

	"github.com/cyberguard/cyberguard/internal/models"
	"github.com/cyberguard/cyberguard/internal/store"
)

// Summary holds the dashboard headline counts.
type Summary struct {
	DeviceCount        int `json:"deviceCount"`
	OpenPortsCount     int `json:"openPortsCount"`
	CriticalCVECount   int `json:"criticalCVECount"`
	SecurityItemsCount int `json:"securityItemsCount"`
}

// SeverityBreakdown counts records per normalized severity.
type SeverityBreakdown struct {
	OpenPorts map[models.Severity]int `json:"openPorts"`
	CVEs      map[models.Severity]int `json:"cves"`
}

// Service answers dashboard queries from a store.
type Service struct {
	store store.Store
}

// NewService creates a dashboard service over st.
func NewService(st store.Store) *Service {
	return &Service{store: st}
}

// Summary counts devices, open-port records and CVEs whose severity is
// exactly "critical". Differently cased severities are not counted here;
// SeverityBreakdown reports normalized counts.
func (s *Service) Summary(ctx context.Context) (Summary, error) {
	devices, err := s.store.List(ctx, models.KindDevices)
	if err != nil {
		return Summary{}, fmt.Errorf("list devices: %w", err)
	}
	ports, err := s.store.List(ctx, models.KindOpenPorts)
	if err != nil {
		return Summary{}, fmt.Errorf("list open ports: %w", err)
	}
	cves, err := store.ListAs[models.CVE](ctx, s.store, models.KindCVEs)
	if err != nil {
		return Summary{}, fmt.Errorf("list cves: %w", err)
	}

	critical := 0
	for _, c := range cves {
		if c.Severity == models.SeverityCritical {
			critical++
		}
	}

	return Summary{
		DeviceCount:        len(devices),
		OpenPortsCount:     len(ports),
		CriticalCVECount:   critical,
		SecurityItemsCount: len(devices) + len(ports) + critical,
	}, nil
}

// Devices lists the device inventory.
func (s *Service) Devices(ctx context.Context) ([]models.Device, error) {
	return store.ListAs[models.Device](ctx, s.store, models.KindDevices)
}

// OpenPorts lists open-port records.
func (s *Service) OpenPorts(ctx context.Context) ([]models.OpenPort, error) {
	return store.ListAs[models.OpenPort](ctx, s.store, models.KindOpenPorts)
}

// CVEs lists known vulnerabilities.
func (s *Service) CVEs(ctx context.Context) ([]models.CVE, error) {
	return store.ListAs[models.CVE](ctx, s.store, models.KindCVEs)
}

// Users lists accounts without credentials or timestamps.
func (s *Service) Users(ctx context.Context) ([]models.PublicUser, error) {
	users, err := store.ListAs[models.User](ctx, s.store, models.KindUsers)
	if err != nil {
		return nil, err
	}
	out := make([]models.PublicUser, 0, len(users))
	for _, u := range users {
		out = append(out, u.Public())
	}
	return out, nil
}

// SeverityBreakdown counts open ports and CVEs per case-normalized severity.
// A CVE with an unrecognized label is bucketed by its CVSS score; anything
// still unrecognized is counted under "unknown".
func (s *Service) SeverityBreakdown(ctx context.Context) (SeverityBreakdown, error) {
	ports, err := s.OpenPorts(ctx)
	if err != nil {
		return SeverityBreakdown{}, fmt.Errorf("list open ports: %w", err)
	}
	cves, err := s.CVEs(ctx)
	if err != nil {
		return SeverityBreakdown{}, fmt.Errorf("list cves: %w", err)
	}

	b := SeverityBreakdown{
		OpenPorts: make(map[models.Severity]int),
		CVEs:      make(map[models.Severity]int),
	}
	for _, p := range ports {
		b.OpenPorts[p.Severity.Normalize()]++
	}
	for _, c := range cves {
		sev := c.Severity.Normalize()
		if sev == models.SeverityUnknown {
			sev = models.SeverityFromCVSS(c.CVSSScore)
		}
		b.CVEs[sev]++
	}
	return b, nil
}
