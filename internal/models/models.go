package models

import "time"

// VehicleProfile is a registered vehicle. Profiles are immutable after
// creation; there is no update or delete path.
type VehicleProfile struct {
	ID             int64     `json:"id"`
	Make           string    `json:"make"`
	Model          string    `json:"model"`
	Year           int       `json:"year"`
	SuspensionType string    `json:"suspensionType"`
	Notes          string    `json:"notes"`
	CreatedAt      time.Time `json:"createdAt"`
}

// TestRun is a single recorded suspension test for a vehicle.
// VehicleID is not checked against the vehicles table; a dangling
// reference is accepted.
type TestRun struct {
	ID                      int64          `json:"id"`
	VehicleID               int64          `json:"vehicleId"`
	TestType                string         `json:"testType"`
	RoadSurface             string         `json:"roadSurface"`
	ProtocolComplianceScore float64        `json:"protocolComplianceScore"`
	PeakLateralG            float64        `json:"peakLateralG"`
	PeakLongitudinalG       float64        `json:"peakLongitudinalG"`
	PeakVerticalG           float64        `json:"peakVerticalG"`
	ReboundSettleTimeMS     int64          `json:"reboundSettleTimeMs"`
	AmbientTemp             float64        `json:"ambientTemp"`
	PhotoPath               string         `json:"photoPath,omitempty"`
	PhotoName               string         `json:"photoName,omitempty"` // original filename, display only
	SensorData              []SensorSample `json:"sensorData"`
	CreatedAt               time.Time      `json:"createdAt"`
	UserID                  string         `json:"userId"`
}

// SensorSample is one IMU reading captured during a test run.
type SensorSample struct {
	TimestampMS int64   `json:"timestampMs"`
	AccelX      float64 `json:"accelX"`
	AccelY      float64 `json:"accelY"`
	AccelZ      float64 `json:"accelZ"`
	GyroX       float64 `json:"gyroX"`
	GyroY       float64 `json:"gyroY"`
	GyroZ       float64 `json:"gyroZ"`
	Pitch       float64 `json:"pitch"`
	Roll        float64 `json:"roll"`
	Yaw         float64 `json:"yaw"`
}

// TestRunQuery represents filter parameters for test run searches.
// Zero values mean "no filter".
type TestRunQuery struct {
	VehicleID int64
	TestType  string
	Limit     int
	Offset    int
}

// BenchmarkComparison ranks a submitted peak lateral-g against the
// historical runs of a vehicle/test type.
type BenchmarkComparison struct {
	VehicleID            string  `json:"vehicleId"`
	TestType             string  `json:"testType"`
	YourPeakLateralG     float64 `json:"yourPeakLateralG"`
	BaselinePeakLateralG float64 `json:"baselinePeakLateralG"`
	BaselinePercentile   int     `json:"baselinePercentile"`
	SampleCount          int     `json:"sampleCount"`
}

// TestTypeBenchmark holds per-test-type aggregates for one vehicle.
// Percentile ranks the group's mean lateral-g within the historical
// distribution for that test type across all vehicles.
type TestTypeBenchmark struct {
	TestType          string  `json:"testType"`
	PeakLateralG      float64 `json:"peakLateralG"`
	PeakLongitudinalG float64 `json:"peakLongitudinalG"`
	PeakVerticalG     float64 `json:"peakVerticalG"`
	Count             int     `json:"count"`
	Percentile        int     `json:"percentile"`
}
