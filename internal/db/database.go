package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"suspension-bench/internal/models"

	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned when a lookup matches no rows. Callers use it
// to distinguish a missing record from a store failure.
var ErrNotFound = errors.New("record not found")

// Database wraps the SQLite connection
type Database struct {
	conn *sql.DB
}

// New creates a new database connection
func New(dbPath string) (*Database, error) {
	// Enable WAL mode and other optimizations via connection string
	connStr := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_cache_size=10000", dbPath)

	conn, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite works best with a single writer
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(time.Hour)

	db := &Database{conn: conn}

	if err := db.initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	return db, nil
}

// initialize creates tables and indexes. vehicle_id on test_runs is
// deliberately not a foreign key: submissions referencing unknown
// vehicles are accepted.
func (db *Database) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS vehicles (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		make TEXT,
		model TEXT,
		year INTEGER,
		suspension_type TEXT,
		notes TEXT DEFAULT '',
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS test_runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		vehicle_id INTEGER NOT NULL,
		test_type TEXT,
		road_surface TEXT,
		protocol_compliance_score REAL NOT NULL DEFAULT 0,
		peak_lateral_g REAL NOT NULL DEFAULT 0,
		peak_longitudinal_g REAL NOT NULL DEFAULT 0,
		peak_vertical_g REAL NOT NULL DEFAULT 0,
		rebound_settle_time INTEGER NOT NULL DEFAULT 0,
		ambient_temp REAL NOT NULL DEFAULT 0,
		photo_path TEXT,
		photo_name TEXT,
		sensor_data TEXT NOT NULL DEFAULT '[]',
		created_at DATETIME NOT NULL,
		user_id TEXT NOT NULL DEFAULT 'anonymous'
	);

	CREATE INDEX IF NOT EXISTS idx_vehicles_make_model ON vehicles(make, model);
	CREATE INDEX IF NOT EXISTS idx_test_runs_vehicle_id ON test_runs(vehicle_id);
	CREATE INDEX IF NOT EXISTS idx_test_runs_test_type ON test_runs(test_type);
	CREATE INDEX IF NOT EXISTS idx_test_runs_vehicle_type ON test_runs(vehicle_id, test_type);
	`

	_, err := db.conn.Exec(schema)
	return err
}

// Close closes the database connection
func (db *Database) Close() error {
	return db.conn.Close()
}

// CreateVehicle inserts a vehicle profile and fills in its generated ID
// and creation time.
func (db *Database) CreateVehicle(v *models.VehicleProfile) error {
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now().UTC()
	}

	query := `INSERT INTO vehicles (make, model, year, suspension_type, notes, created_at) VALUES (?, ?, ?, ?, ?, ?)`
	result, err := db.conn.Exec(query, v.Make, v.Model, v.Year, v.SuspensionType, v.Notes, v.CreatedAt)
	if err != nil {
		return err
	}

	v.ID, err = result.LastInsertId()
	return err
}

// GetVehicle retrieves a vehicle by ID
func (db *Database) GetVehicle(id int64) (*models.VehicleProfile, error) {
	query := `SELECT id, make, model, year, suspension_type, notes, created_at FROM vehicles WHERE id = ?`

	var v models.VehicleProfile
	err := db.conn.QueryRow(query, id).Scan(&v.ID, &v.Make, &v.Model, &v.Year, &v.SuspensionType, &v.Notes, &v.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// FindVehicleByMakeModel returns the first vehicle matching make and
// model exactly. With duplicate registrations the lowest rowid wins.
func (db *Database) FindVehicleByMakeModel(make, model string) (*models.VehicleProfile, error) {
	query := `SELECT id, make, model, year, suspension_type, notes, created_at FROM vehicles WHERE make = ? AND model = ? LIMIT 1`

	var v models.VehicleProfile
	err := db.conn.QueryRow(query, make, model).Scan(&v.ID, &v.Make, &v.Model, &v.Year, &v.SuspensionType, &v.Notes, &v.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// ListVehicles returns all vehicles
func (db *Database) ListVehicles() ([]models.VehicleProfile, error) {
	query := `SELECT id, make, model, year, suspension_type, notes, created_at FROM vehicles ORDER BY id`

	rows, err := db.conn.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var vehicles []models.VehicleProfile
	for rows.Next() {
		var v models.VehicleProfile
		if err := rows.Scan(&v.ID, &v.Make, &v.Model, &v.Year, &v.SuspensionType, &v.Notes, &v.CreatedAt); err != nil {
			return nil, err
		}
		vehicles = append(vehicles, v)
	}
	return vehicles, rows.Err()
}

// CreateTestRun inserts a single test run and fills in its generated ID
// and creation time. Sensor samples are serialized to JSON text.
func (db *Database) CreateTestRun(t *models.TestRun) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	if t.UserID == "" {
		t.UserID = "anonymous"
	}

	sensorJSON, err := marshalSensorData(t.SensorData)
	if err != nil {
		return fmt.Errorf("failed to encode sensor data: %w", err)
	}

	query := `
		INSERT INTO test_runs
		(vehicle_id, test_type, road_surface, protocol_compliance_score,
		 peak_lateral_g, peak_longitudinal_g, peak_vertical_g, rebound_settle_time,
		 ambient_temp, photo_path, photo_name, sensor_data, created_at, user_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	result, err := db.conn.Exec(query,
		t.VehicleID, t.TestType, t.RoadSurface, t.ProtocolComplianceScore,
		t.PeakLateralG, t.PeakLongitudinalG, t.PeakVerticalG, t.ReboundSettleTimeMS,
		t.AmbientTemp, nullString(t.PhotoPath), nullString(t.PhotoName), sensorJSON, t.CreatedAt, t.UserID,
	)
	if err != nil {
		return err
	}

	t.ID, err = result.LastInsertId()
	return err
}

// CreateTestRunBatch inserts multiple test runs inside one transaction.
func (db *Database) CreateTestRunBatch(runs []models.TestRun) (int64, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO test_runs
		(vehicle_id, test_type, road_surface, protocol_compliance_score,
		 peak_lateral_g, peak_longitudinal_g, peak_vertical_g, rebound_settle_time,
		 ambient_temp, photo_path, photo_name, sensor_data, created_at, user_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	var count int64
	for _, t := range runs {
		if t.CreatedAt.IsZero() {
			t.CreatedAt = time.Now().UTC()
		}
		if t.UserID == "" {
			t.UserID = "anonymous"
		}
		sensorJSON, err := marshalSensorData(t.SensorData)
		if err != nil {
			return count, fmt.Errorf("failed to encode sensor data: %w", err)
		}
		_, err = stmt.Exec(
			t.VehicleID, t.TestType, t.RoadSurface, t.ProtocolComplianceScore,
			t.PeakLateralG, t.PeakLongitudinalG, t.PeakVerticalG, t.ReboundSettleTimeMS,
			t.AmbientTemp, nullString(t.PhotoPath), nullString(t.PhotoName), sensorJSON, t.CreatedAt, t.UserID,
		)
		if err != nil {
			return count, err
		}
		count++
	}

	return count, tx.Commit()
}

// ListTestRuns retrieves test runs matching the query filters.
func (db *Database) ListTestRuns(q models.TestRunQuery) ([]models.TestRun, error) {
	var conditions []string
	var args []interface{}

	baseQuery := `
		SELECT id, vehicle_id, test_type, road_surface, protocol_compliance_score,
		       peak_lateral_g, peak_longitudinal_g, peak_vertical_g, rebound_settle_time,
		       ambient_temp, photo_path, photo_name, sensor_data, created_at, user_id
		FROM test_runs
	`

	if q.VehicleID > 0 {
		conditions = append(conditions, "vehicle_id = ?")
		args = append(args, q.VehicleID)
	}
	if q.TestType != "" {
		conditions = append(conditions, "test_type = ?")
		args = append(args, q.TestType)
	}

	if len(conditions) > 0 {
		baseQuery += " WHERE " + strings.Join(conditions, " AND ")
	}

	baseQuery += " ORDER BY id"

	if q.Limit > 0 {
		baseQuery += fmt.Sprintf(" LIMIT %d", q.Limit)
		if q.Offset > 0 {
			baseQuery += fmt.Sprintf(" OFFSET %d", q.Offset)
		}
	}

	rows, err := db.conn.Query(baseQuery, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []models.TestRun
	for rows.Next() {
		t, err := scanTestRun(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, t)
	}

	return results, rows.Err()
}

// GetStats returns store row counts
func (db *Database) GetStats() (map[string]interface{}, error) {
	stats := make(map[string]interface{})

	var totalVehicles int64
	if err := db.conn.QueryRow("SELECT COUNT(*) FROM vehicles").Scan(&totalVehicles); err != nil {
		return nil, err
	}
	stats["total_vehicles"] = totalVehicles

	var totalRuns int64
	if err := db.conn.QueryRow("SELECT COUNT(*) FROM test_runs").Scan(&totalRuns); err != nil {
		return nil, err
	}
	stats["total_test_runs"] = totalRuns

	var withPhotos int64
	if err := db.conn.QueryRow("SELECT COUNT(*) FROM test_runs WHERE photo_path IS NOT NULL AND photo_path != ''").Scan(&withPhotos); err != nil {
		return nil, err
	}
	stats["test_runs_with_photos"] = withPhotos

	return stats, nil
}

func scanTestRun(rows *sql.Rows) (models.TestRun, error) {
	var t models.TestRun
	var photoPath, photoName sql.NullString
	var sensorJSON string

	err := rows.Scan(
		&t.ID, &t.VehicleID, &t.TestType, &t.RoadSurface, &t.ProtocolComplianceScore,
		&t.PeakLateralG, &t.PeakLongitudinalG, &t.PeakVerticalG, &t.ReboundSettleTimeMS,
		&t.AmbientTemp, &photoPath, &photoName, &sensorJSON, &t.CreatedAt, &t.UserID,
	)
	if err != nil {
		return t, err
	}
	if photoPath.Valid {
		t.PhotoPath = photoPath.String
	}
	if photoName.Valid {
		t.PhotoName = photoName.String
	}
	if sensorJSON != "" {
		if err := json.Unmarshal([]byte(sensorJSON), &t.SensorData); err != nil {
			return t, fmt.Errorf("failed to decode sensor data for run %d: %w", t.ID, err)
		}
	}
	return t, nil
}

func marshalSensorData(samples []models.SensorSample) (string, error) {
	if samples == nil {
		samples = []models.SensorSample{}
	}
	data, err := json.Marshal(samples)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
