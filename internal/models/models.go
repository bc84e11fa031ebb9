// Package models defines the cyberguard domain entities shared by the entity
// store, the scan lifecycle manager, the access gate and the HTTP API.
package models

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// Kind names a collection in the entity store.
type Kind string

// Entity kinds.
const (
	KindUsers     Kind = "users"
	KindDevices   Kind = "devices"
	KindOpenPorts Kind = "open_ports"
	KindCVEs      Kind = "cves"
	KindScans     Kind = "scans"
)

// Kinds lists every kind the store knows about, in seeding order.
var Kinds = []Kind{KindUsers, KindDevices, KindOpenPorts, KindCVEs, KindScans}

// UniqueFields lists the fields that must stay unique within each kind.
var UniqueFields = map[Kind][]string{
	KindUsers:   {"username", "email"},
	KindDevices: {"deviceId"},
	KindCVEs:    {"cveId"},
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// Record is implemented by every entity held in the store.
type Record interface {
	RecordID() string
	RecordKind() Kind
	// FieldValue returns the string form of a named field for lookups.
	FieldValue(field string) (string, bool)
}

// Role is a user's authorization level.
type Role string

// User roles.
const (
	RoleAdmin   Role = "admin"
	RoleAnalyst Role = "analyst"
	RoleViewer  Role = "viewer"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleAnalyst, RoleViewer:
		return true
	}
	return false
}

// User is an account allowed to sign in to the dashboard.
type User struct {
	ID           string    `db:"id" json:"id"`
	Username     string    `db:"username" json:"username"`
	Email        string    `db:"email" json:"email"`
	PasswordHash string    `db:"password" json:"-"`
	Role         Role      `db:"role" json:"role"`
	IsActive     bool      `db:"is_active" json:"isActive"`
	CreatedAt    time.Time `db:"created_at" json:"createdAt"`
}

func (u User) RecordID() string { return u.ID }
func (u User) RecordKind() Kind { return KindUsers }

func (u User) FieldValue(field string) (string, bool) {
	switch field {
	case "id":
		return u.ID, true
	case "username":
		return u.Username, true
	case "email":
		return u.Email, true
	case "role":
		return string(u.Role), true
	}
	return "", false
}

// NewUser carries the plaintext credentials for an account being created.
type NewUser struct {
	Username string `json:"username" validate:"required,min=1,max=64"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=1"`
	Role     Role   `json:"role" validate:"omitempty,oneof=admin analyst viewer"`
}

// PublicUser is the user shape exposed to API clients.
type PublicUser struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Role     Role   `json:"role"`
	IsActive bool   `json:"isActive"`
}

// Public strips credentials and timestamps from u.
func (u User) Public() PublicUser {
	return PublicUser{
		ID:       u.ID,
		Username: u.Username,
		Email:    u.Email,
		Role:     u.Role,
		IsActive: u.IsActive,
	}
}

// DeviceStatus is the reachability state reported for a device.
type DeviceStatus string

// Device statuses.
const (
	DeviceOnline  DeviceStatus = "online"
	DeviceOffline DeviceStatus = "offline"
	DeviceWarning DeviceStatus = "warning"
)

// RiskBand is the display band a device risk score falls into.
type RiskBand string

// Risk bands, highest first.
const (
	RiskCritical RiskBand = "critical"
	RiskHigh     RiskBand = "high"
	RiskMedium   RiskBand = "medium"
	RiskLow      RiskBand = "low"
)

// BandForScore maps a 0-100 risk score onto its band.
func BandForScore(score int) RiskBand {
	switch {
	case score >= 80:
		return RiskCritical
	case score >= 60:
		return RiskHigh
	case score >= 40:
		return RiskMedium
	default:
		return RiskLow
	}
}

// Device is a monitored network device.
type Device struct {
	ID           string       `db:"id" json:"id"`
	DeviceID     string       `db:"device_id" json:"deviceId"`
	IPAddress    string       `db:"ip_address" json:"ipAddress"`
	DeviceType   string       `db:"device_type" json:"deviceType"`
	Manufacturer string       `db:"manufacturer" json:"manufacturer"`
	Firmware     string       `db:"firmware" json:"firmware"`
	RiskScore    int          `db:"risk_score" json:"riskScore"`
	Status       DeviceStatus `db:"status" json:"status"`
	LastScan     time.Time    `db:"last_scan" json:"lastScan"`
}

func (d Device) RecordID() string { return d.ID }
func (d Device) RecordKind() Kind { return KindDevices }

func (d Device) FieldValue(field string) (string, bool) {
	switch field {
	case "id":
		return d.ID, true
	case "deviceId":
		return d.DeviceID, true
	case "ipAddress":
		return d.IPAddress, true
	}
	return "", false
}

// RiskBand returns the display band for the device's risk score.
func (d Device) RiskBand() RiskBand {
	return BandForScore(d.RiskScore)
}

// MarshalJSON adds the derived riskBand to the wire form.
func (d Device) MarshalJSON() ([]byte, error) {
	type device Device
	return json.Marshal(struct {
		device
		RiskBand RiskBand `json:"riskBand"`
	}{device(d), d.RiskBand()})
}

// Severity is a vulnerability impact label. Values are stored exactly as
// provided, so casing may vary between records.
type Severity string

// Canonical severities.
const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
	SeverityUnknown  Severity = "unknown"
)

// Normalize returns the canonical lower-case severity, or SeverityUnknown.
func (s Severity) Normalize() Severity {
	switch n := Severity(strings.ToLower(strings.TrimSpace(string(s)))); n {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return n
	}
	return SeverityUnknown
}

// SeverityFromCVSS maps a CVSS v3 base score onto a canonical severity.
func SeverityFromCVSS(score string) Severity {
	s, err := strconv.ParseFloat(strings.TrimSpace(score), 64)
	if err != nil {
		return SeverityUnknown
	}
	switch {
	case s >= 9.0:
		return SeverityCritical
	case s >= 7.0:
		return SeverityHigh
	case s >= 4.0:
		return SeverityMedium
	case s > 0:
		return SeverityLow
	default:
		return SeverityUnknown
	}
}

// OpenPort records the exposed ports observed on a device. DeviceID is a
// loose label and is not checked against the device inventory.
type OpenPort struct {
	ID         string   `db:"id" json:"id"`
	DeviceID   string   `db:"device_id" json:"deviceId"`
	Ports      string   `db:"ports" json:"ports"`
	Suspicious bool     `db:"suspicious" json:"suspicious"`
	Severity   Severity `db:"severity" json:"severity"`
}

func (p OpenPort) RecordID() string { return p.ID }
func (p OpenPort) RecordKind() Kind { return KindOpenPorts }

func (p OpenPort) FieldValue(field string) (string, bool) {
	switch field {
	case "id":
		return p.ID, true
	case "deviceId":
		return p.DeviceID, true
	case "severity":
		return string(p.Severity), true
	}
	return "", false
}

// CVE is a known vulnerability reference entry.
type CVE struct {
	ID            string    `db:"id" json:"id"`
	CVEID         string    `db:"cve_id" json:"cveId"`
	Description   string    `db:"description" json:"description"`
	Severity      Severity  `db:"severity" json:"severity"`
	CVSSScore     string    `db:"cvss_score" json:"cvssScore"`
	PublishedDate time.Time `db:"published_date" json:"publishedDate"`
}

func (c CVE) RecordID() string { return c.ID }
func (c CVE) RecordKind() Kind { return KindCVEs }

func (c CVE) FieldValue(field string) (string, bool) {
	switch field {
	case "id":
		return c.ID, true
	case "cveId":
		return c.CVEID, true
	case "severity":
		return string(c.Severity), true
	}
	return "", false
}

// ScanStatus is the lifecycle state of a scan.
type ScanStatus string

// Scan statuses. ScanFailed is reserved; no transition produces it.
const (
	ScanPending   ScanStatus = "pending"
	ScanRunning   ScanStatus = "running"
	ScanCompleted ScanStatus = "completed"
	ScanFailed    ScanStatus = "failed"
)

// Valid reports whether s is a known scan status.
func (s ScanStatus) Valid() bool {
	switch s {
	case ScanPending, ScanRunning, ScanCompleted, ScanFailed:
		return true
	}
	return false
}

// Terminal reports whether no further transitions are possible.
func (s ScanStatus) Terminal() bool {
	return s == ScanCompleted || s == ScanFailed
}

// ScanResult tracks one simulated scan.
type ScanResult struct {
	ID          string     `db:"id" json:"id"`
	Target      string     `db:"target" json:"target"`
	Status      ScanStatus `db:"status" json:"status"`
	Progress    int        `db:"progress" json:"progress"`
	Results     *string    `db:"results" json:"results"`
	CreatedAt   time.Time  `db:"created_at" json:"createdAt"`
	CompletedAt *time.Time `db:"completed_at" json:"completedAt"`
}

func (s ScanResult) RecordID() string { return s.ID }
func (s ScanResult) RecordKind() Kind { return KindScans }

func (s ScanResult) FieldValue(field string) (string, bool) {
	switch field {
	case "id":
		return s.ID, true
	case "target":
		return s.Target, true
	case "status":
		return string(s.Status), true
	}
	return "", false
}

// Clone returns a deep copy of s.
func (s ScanResult) Clone() ScanResult {
	out := s
	if s.Results != nil {
		r := *s.Results
		out.Results = &r
	}
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		out.CompletedAt = &t
	}
	return out
}

// ResultText returns the scan results or an empty string.
func (s ScanResult) ResultText() string {
	if s.Results == nil {
		return ""
	}
	return *s.Results
}
