package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cyberguard/cyberguard/internal/errors"
	"github.com/cyberguard/cyberguard/internal/models"
)

// fixtureNamespace derives stable ids for fixture records so reseeding a
// persistent store finds the existing rows.
var fixtureNamespace = uuid.MustParse("3f6c1d0e-8a4b-4c52-9e71-5b2f0c9d7a18")

// UserCreator creates accounts from plaintext credentials.
type UserCreator interface {
	CreateUser(ctx context.Context, nu models.NewUser) (models.User, error)
}

// FixtureSet is the data set loaded into a fresh store.
type FixtureSet struct {
	Users     []models.NewUser
	Devices   []models.Device
	OpenPorts []models.OpenPort
	CVEs      []models.CVE
}

// SeedReport counts what Seed inserted and what was already present.
type SeedReport struct {
	Inserted int
	Skipped  int
}

func fixtureID(kind models.Kind, key string) string {
	return uuid.NewSHA1(fixtureNamespace, []byte(string(kind)+"/"+key)).String()
}

// Fixtures returns the seed data set with timestamps relative to now.
func Fixtures(now time.Time) FixtureSet {
	return FixtureSet{
		Users: []models.NewUser{
			{Username: "admin", Email: "admin@cyberguard.com", Password: "admin123", Role: models.RoleAdmin},
			{Username: "analyst", Email: "analyst@cyberguard.com", Password: "analyst123", Role: models.RoleAnalyst},
		},
		Devices: []models.Device{
			{
				ID:           fixtureID(models.KindDevices, "RTR-001"),
				DeviceID:     "RTR-001",
				IPAddress:    "192.168.1.1",
				DeviceType:   "Router - Gateway",
				Manufacturer: "Cisco",
				Firmware:     "IOS 15.9.3",
				RiskScore:    87,
				Status:       models.DeviceOnline,
				LastScan:     now.Add(-13 * time.Minute),
			},
			{
				ID:           fixtureID(models.KindDevices, "SRV-002"),
				DeviceID:     "SRV-002",
				IPAddress:    "192.168.1.50",
				DeviceType:   "Web Server",
				Manufacturer: "Dell",
				Firmware:     "Ubuntu 22.04",
				RiskScore:    53,
				Status:       models.DeviceWarning,
				LastScan:     now.Add(-26 * time.Minute),
			},
			{
				ID:           fixtureID(models.KindDevices, "IOT-003"),
				DeviceID:     "IOT-003",
				IPAddress:    "192.168.1.250",
				DeviceType:   "IoT Sensor",
				Manufacturer: "Raspberry Pi",
				Firmware:     "Raspbian 11",
				RiskScore:    21,
				Status:       models.DeviceOnline,
				LastScan:     now.Add(-time.Hour),
			},
			{
				ID:           fixtureID(models.KindDevices, "CAM-004"),
				DeviceID:     "CAM-004",
				IPAddress:    "192.168.1.120",
				DeviceType:   "IP Camera",
				Manufacturer: "Hikvision",
				Firmware:     "V5.7.3",
				RiskScore:    68,
				Status:       models.DeviceOffline,
				LastScan:     now.Add(-3 * time.Hour),
			},
		},
		OpenPorts: []models.OpenPort{
			{ID: fixtureID(models.KindOpenPorts, "DEV-001"), DeviceID: "DEV-001", Ports: "22, 80, 443, 3389", Suspicious: true, Severity: "high"},
			{ID: fixtureID(models.KindOpenPorts, "DEV-002"), DeviceID: "DEV-002", Ports: "80, 443", Suspicious: false, Severity: "low"},
			{ID: fixtureID(models.KindOpenPorts, "DEV-003"), DeviceID: "DEV-003", Ports: "23, 554, 8000", Suspicious: true, Severity: "High"},
			{ID: fixtureID(models.KindOpenPorts, "DEV-004"), DeviceID: "DEV-004", Ports: "21, 8080", Suspicious: false, Severity: "Medium"},
		},
		CVEs: []models.CVE{
			{
				ID:            fixtureID(models.KindCVEs, "CVE-2024-0001"),
				CVEID:         "CVE-2024-0001",
				Description:   "Remote code execution in Apache server",
				Severity:      models.SeverityCritical,
				CVSSScore:     "9.8",
				PublishedDate: now,
			},
			{
				ID:            fixtureID(models.KindCVEs, "CVE-2024-0002"),
				CVEID:         "CVE-2024-0002",
				Description:   "SQL injection vulnerability in MySQL",
				Severity:      models.SeverityHigh,
				CVSSScore:     "8.5",
				PublishedDate: now,
			},
			{
				ID:            fixtureID(models.KindCVEs, "CVE-2024-0003"),
				CVEID:         "CVE-2024-0003",
				Description:   "Authentication bypass in IP camera firmware",
				Severity:      models.SeverityCritical,
				CVSSScore:     "9.1",
				PublishedDate: now,
			},
		},
	}
}

// Seed loads the fixture set into s. Records whose unique keys already
// exist are skipped, so seeding is safe to repeat.
func Seed(ctx context.Context, s Store, users UserCreator, fixtures FixtureSet) (SeedReport, error) {
	var report SeedReport

	tally := func(err error) error {
		switch {
		case err == nil:
			report.Inserted++
		case errors.IsCode(err, errors.CodeConflict):
			report.Skipped++
		default:
			return err
		}
		return nil
	}

	for _, nu := range fixtures.Users {
		_, err := users.CreateUser(ctx, nu)
		if err := tally(err); err != nil {
			return report, fmt.Errorf("seed user %s: %w", nu.Username, err)
		}
	}

	records := make([]models.Record, 0, len(fixtures.Devices)+len(fixtures.OpenPorts)+len(fixtures.CVEs))
	for _, d := range fixtures.Devices {
		records = append(records, d)
	}
	for _, p := range fixtures.OpenPorts {
		records = append(records, p)
	}
	for _, c := range fixtures.CVEs {
		records = append(records, c)
	}

	for _, rec := range records {
		if err := tally(s.Insert(ctx, rec)); err != nil {
			return report, fmt.Errorf("seed %s %s: %w", rec.RecordKind(), rec.RecordID(), err)
		}
	}
	return report, nil
}
