package postgres

import (
	"context"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/cyberguard/cyberguard/internal/models"
)

// table describes how one kind maps onto its SQL table.
type table struct {
	name    string
	columns []string
	// fields maps lookup field names onto columns. Only these pairs are
	// accepted by FindByField.
	fields map[string]string
	get    func(ctx context.Context, q sqlx.QueryerContext, query string, args ...interface{}) (models.Record, error)
	list   func(ctx context.Context, q sqlx.QueryerContext, query string, args ...interface{}) ([]models.Record, error)
}

func getOne[T models.Record](ctx context.Context, q sqlx.QueryerContext, query string, args ...interface{}) (models.Record, error) {
	var v T
	if err := sqlx.GetContext(ctx, q, &v, query, args...); err != nil {
		return nil, err
	}
	return v, nil
}

func selectAll[T models.Record](ctx context.Context, q sqlx.QueryerContext, query string, args ...interface{}) ([]models.Record, error) {
	var vs []T
	if err := sqlx.SelectContext(ctx, q, &vs, query, args...); err != nil {
		return nil, err
	}
	out := make([]models.Record, 0, len(vs))
	for _, v := range vs {
		out = append(out, v)
	}
	return out, nil
}

var tables = map[models.Kind]table{
	models.KindUsers: {
		name:    "users",
		columns: []string{"id", "username", "email", "password", "role", "is_active", "created_at"},
		fields:  map[string]string{"id": "id", "username": "username", "email": "email", "role": "role"},
		get:     getOne[models.User],
		list:    selectAll[models.User],
	},
	models.KindDevices: {
		name: "devices",
		columns: []string{
			"id", "device_id", "ip_address", "device_type", "manufacturer",
			"firmware", "risk_score", "status", "last_scan",
		},
		fields: map[string]string{"id": "id", "deviceId": "device_id", "ipAddress": "ip_address"},
		get:    getOne[models.Device],
		list:   selectAll[models.Device],
	},
	models.KindOpenPorts: {
		name:    "open_ports",
		columns: []string{"id", "device_id", "ports", "suspicious", "severity"},
		fields:  map[string]string{"id": "id", "deviceId": "device_id", "severity": "severity"},
		get:     getOne[models.OpenPort],
		list:    selectAll[models.OpenPort],
	},
	models.KindCVEs: {
		name:    "cves",
		columns: []string{"id", "cve_id", "description", "severity", "cvss_score", "published_date"},
		fields:  map[string]string{"id": "id", "cveId": "cve_id", "severity": "severity"},
		get:     getOne[models.CVE],
		list:    selectAll[models.CVE],
	},
	models.KindScans: {
		name:    "scan_results",
		columns: []string{"id", "target", "status", "progress", "results", "created_at", "completed_at"},
		fields:  map[string]string{"id": "id", "target": "target", "status": "status"},
		get:     getOne[models.ScanResult],
		list:    selectAll[models.ScanResult],
	},
}

func (t table) selectColumns() string {
	return strings.Join(t.columns, ", ")
}

func (t table) insertQuery() string {
	named := make([]string, len(t.columns))
	for i, c := range t.columns {
		named[i] = ":" + c
	}
	return "INSERT INTO " + t.name + " (" + t.selectColumns() + ") VALUES (" + strings.Join(named, ", ") + ")"
}

// fieldForColumn maps a column back to its lookup field name.
func (t table) fieldForColumn(column string) string {
	for field, col := range t.fields {
		if col == column {
			return field
		}
	}
	return column
}
