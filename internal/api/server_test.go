package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"suspension-bench/internal/db"
	"suspension-bench/internal/models"
	"suspension-bench/internal/storage"

	"go.uber.org/zap"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

func newTestServer(t *testing.T) (*Server, *db.Database, string) {
	t.Helper()

	database, err := db.New(filepath.Join(t.TempDir(), "api_test.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	uploadDir := t.TempDir()
	photos, err := storage.NewPhotoStore(uploadDir)
	if err != nil {
		t.Fatalf("photo store: %v", err)
	}

	return NewServer(database, photos, zap.NewNop()), database, uploadDir
}

func doRequest(t *testing.T, s *Server, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)
	return rr
}

func decodeEnvelope(t *testing.T, rr *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	if err := json.Unmarshal(rr.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode response %q: %v", rr.Body.String(), err)
	}
	return env
}

func TestHealth(t *testing.T) {
	s, _, _ := newTestServer(t)

	rr := doRequest(t, s, httptest.NewRequest("GET", "/api/v1/health", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	var body map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode health body: %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("expected status ok, got %q", body["status"])
	}
}

func TestRegisterVehicle(t *testing.T) {
	s, database, _ := newTestServer(t)

	payload := `{"make":"Toyota","model":"Camry","year":2020,"suspensionType":"macpherson_strut","notes":"stock"}`
	req := httptest.NewRequest("POST", "/api/v1/vehicles", strings.NewReader(payload))
	rr := doRequest(t, s, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}

	env := decodeEnvelope(t, rr)
	if !env.Success {
		t.Fatalf("expected success, got error %q", env.Error)
	}

	var idStr string
	if err := json.Unmarshal(env.Data, &idStr); err != nil {
		t.Fatalf("expected string id, got %s", env.Data)
	}
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		t.Fatalf("expected numeric-string id, got %q", idStr)
	}

	// Subsequent lookup by make/model returns the same vehicle.
	found, err := database.FindVehicleByMakeModel("Toyota", "Camry")
	if err != nil {
		t.Fatalf("find vehicle: %v", err)
	}
	if found.ID != id {
		t.Fatalf("lookup returned vehicle %d, registered %d", found.ID, id)
	}
	if found.Year != 2020 || found.Notes != "stock" {
		t.Fatalf("unexpected vehicle: %+v", found)
	}
}

func TestRegisterVehicleMissingFieldsAccepted(t *testing.T) {
	s, _, _ := newTestServer(t)

	rr := doRequest(t, s, httptest.NewRequest("POST", "/api/v1/vehicles", strings.NewReader(`{}`)))
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201 for empty profile, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestRegisterVehicleInvalidJSON(t *testing.T) {
	s, _, _ := newTestServer(t)

	rr := doRequest(t, s, httptest.NewRequest("POST", "/api/v1/vehicles", strings.NewReader(`{not json`)))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if env := decodeEnvelope(t, rr); env.Success {
		t.Fatalf("expected success=false")
	}
}

func submitMultipart(t *testing.T, s *Server, data string, photoName string, photoContent []byte) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if data != "" {
		if err := w.WriteField("data", data); err != nil {
			t.Fatalf("write data field: %v", err)
		}
	}
	if photoName != "" {
		part, err := w.CreateFormFile("photo", photoName)
		if err != nil {
			t.Fatalf("create photo part: %v", err)
		}
		part.Write(photoContent)
	}
	w.Close()

	req := httptest.NewRequest("POST", "/api/v1/test-runs/submit", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return doRequest(t, s, req)
}

func TestSubmitTestRunMissingData(t *testing.T) {
	s, _, _ := newTestServer(t)

	rr := submitMultipart(t, s, "", "", nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if env := decodeEnvelope(t, rr); env.Error != "Missing data" {
		t.Fatalf("expected 'Missing data', got %q", env.Error)
	}
}

func TestSubmitTestRunRequiresVehicleID(t *testing.T) {
	s, _, _ := newTestServer(t)

	rr := submitMultipart(t, s, `{"testType":"slalom"}`, "", nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestSubmitTestRunDanglingVehicleAccepted(t *testing.T) {
	s, _, _ := newTestServer(t)

	// Vehicle 77 was never registered; submission still succeeds.
	rr := submitMultipart(t, s, `{"vehicleId":77,"testType":"slalom","peakLateralG":0.9}`, "", nil)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}

	env := decodeEnvelope(t, rr)
	var data map[string]string
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if _, err := strconv.ParseInt(data["testRunId"], 10, 64); err != nil {
		t.Fatalf("expected numeric testRunId, got %q", data["testRunId"])
	}
	if data["message"] == "" {
		t.Fatalf("expected message in response")
	}
}

func TestSubmitTestRunWithPhoto(t *testing.T) {
	s, database, uploadDir := newTestServer(t)

	data := `{
		"vehicleId": 1,
		"testType": "slalom",
		"roadSurface": "asphalt_smooth",
		"protocolComplianceScore": 0.92,
		"peakLateralG": 0.95,
		"peakLongitudinalG": 0.6,
		"peakVerticalG": 1.3,
		"reboundSettleTime": 420,
		"ambientTemp": 21.5,
		"userId": "driver-7",
		"sensorData": [{"timestampMs":1000,"accelX":0.1,"accelY":0.2,"accelZ":9.8,"gyroX":0,"gyroY":0,"gyroZ":0,"pitch":1,"roll":2,"yaw":90}]
	}`
	rr := submitMultipart(t, s, data, "track.jpg", []byte("jpeg bytes"))
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}

	runs, err := database.ListTestRuns(models.TestRunQuery{VehicleID: 1})
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("expected 1 run, got %d", len(runs))
	}
	run := runs[0]

	if run.PhotoPath == "" {
		t.Fatalf("expected photo path on record")
	}
	if !strings.HasSuffix(run.PhotoPath, "_track.jpg") {
		t.Fatalf("stored photo name should contain original filename, got %s", run.PhotoPath)
	}
	if run.PhotoName != "track.jpg" {
		t.Fatalf("expected original filename as metadata, got %q", run.PhotoName)
	}
	if _, err := os.Stat(run.PhotoPath); err != nil {
		t.Fatalf("photo file missing: %v", err)
	}
	rel, err := filepath.Rel(uploadDir, run.PhotoPath)
	if err != nil || strings.HasPrefix(rel, "..") {
		t.Fatalf("photo stored outside upload dir: %s", run.PhotoPath)
	}

	if run.UserID != "driver-7" {
		t.Fatalf("expected user id driver-7, got %q", run.UserID)
	}
	if run.ReboundSettleTimeMS != 420 {
		t.Fatalf("expected rebound settle time 420, got %d", run.ReboundSettleTimeMS)
	}
	if len(run.SensorData) != 1 || run.SensorData[0].Yaw != 90 {
		t.Fatalf("sensor data did not round-trip: %+v", run.SensorData)
	}
}

func TestListTestRunsEndpoint(t *testing.T) {
	s, database, _ := newTestServer(t)

	samples := []models.SensorSample{{TimestampMS: 5, AccelZ: 9.8}}
	run := models.TestRun{VehicleID: 3, TestType: "slalom", PeakLateralG: 0.8, SensorData: samples}
	if err := database.CreateTestRun(&run); err != nil {
		t.Fatalf("create run: %v", err)
	}

	rr := doRequest(t, s, httptest.NewRequest("GET", "/api/v1/test-runs?vehicleId=3", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	env := decodeEnvelope(t, rr)
	var runs []models.TestRun
	if err := json.Unmarshal(env.Data, &runs); err != nil {
		t.Fatalf("decode runs: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("expected 1 run, got %d", len(runs))
	}
	if len(runs[0].SensorData) != 1 || runs[0].SensorData[0] != samples[0] {
		t.Fatalf("sensor data mismatch over the wire: %+v", runs[0].SensorData)
	}
}

// seedBenchmarkData registers Toyota Camry with slalom lateral-g runs
// of 0.8, 0.9 and 1.0.
func seedBenchmarkData(t *testing.T, database *db.Database) *models.VehicleProfile {
	t.Helper()

	v := models.VehicleProfile{Make: "Toyota", Model: "Camry", Year: 2020}
	if err := database.CreateVehicle(&v); err != nil {
		t.Fatalf("create vehicle: %v", err)
	}
	for _, g := range []float64{0.8, 0.9, 1.0} {
		run := models.TestRun{VehicleID: v.ID, TestType: "slalom", PeakLateralG: g, PeakLongitudinalG: g / 2, PeakVerticalG: g * 1.5}
		if err := database.CreateTestRun(&run); err != nil {
			t.Fatalf("create run: %v", err)
		}
	}
	return &v
}

func compareURL(peak float64) string {
	return fmt.Sprintf("/api/v1/benchmarks/compare?make=Toyota&model=Camry&testType=slalom&peakLateralG=%g", peak)
}

func TestCompareBenchmark(t *testing.T) {
	s, database, _ := newTestServer(t)
	vehicle := seedBenchmarkData(t, database)

	cases := []struct {
		peak           float64
		wantPercentile int
	}{
		{0.85, 33},
		{1.0, 100},
		{0.5, 0},
	}

	for _, c := range cases {
		rr := doRequest(t, s, httptest.NewRequest("GET", compareURL(c.peak), nil))
		if rr.Code != http.StatusOK {
			t.Fatalf("peak %v: expected 200, got %d: %s", c.peak, rr.Code, rr.Body.String())
		}

		env := decodeEnvelope(t, rr)
		var cmp models.BenchmarkComparison
		if err := json.Unmarshal(env.Data, &cmp); err != nil {
			t.Fatalf("decode comparison: %v", err)
		}

		if cmp.BaselinePercentile != c.wantPercentile {
			t.Fatalf("peak %v: expected percentile %d, got %d", c.peak, c.wantPercentile, cmp.BaselinePercentile)
		}
		if math.Abs(cmp.BaselinePeakLateralG-0.9) > 1e-9 {
			t.Fatalf("expected baseline mean 0.9, got %v", cmp.BaselinePeakLateralG)
		}
		if cmp.SampleCount != 3 {
			t.Fatalf("expected sample count 3, got %d", cmp.SampleCount)
		}
		if cmp.VehicleID != strconv.FormatInt(vehicle.ID, 10) {
			t.Fatalf("expected vehicle id %d, got %s", vehicle.ID, cmp.VehicleID)
		}
		if cmp.YourPeakLateralG != c.peak {
			t.Fatalf("expected submitted value %v echoed, got %v", c.peak, cmp.YourPeakLateralG)
		}
	}
}

func TestCompareBenchmarkUnknownVehicle(t *testing.T) {
	s, _, _ := newTestServer(t)

	rr := doRequest(t, s, httptest.NewRequest("GET", "/api/v1/benchmarks/compare?make=Lada&model=Niva&testType=slalom&peakLateralG=0.9", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}

	env := decodeEnvelope(t, rr)
	if !strings.Contains(env.Error, "Lada") || !strings.Contains(env.Error, "Niva") {
		t.Fatalf("expected error to name make and model, got %q", env.Error)
	}
}

func TestCompareBenchmarkNoRunsForTestType(t *testing.T) {
	s, database, _ := newTestServer(t)
	seedBenchmarkData(t, database)

	rr := doRequest(t, s, httptest.NewRequest("GET", "/api/v1/benchmarks/compare?make=Toyota&model=Camry&testType=figure_8&peakLateralG=0.9", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown test type, got %d", rr.Code)
	}
}

func TestCompareBenchmarkInvalidPeak(t *testing.T) {
	s, database, _ := newTestServer(t)
	seedBenchmarkData(t, database)

	rr := doRequest(t, s, httptest.NewRequest("GET", "/api/v1/benchmarks/compare?make=Toyota&model=Camry&testType=slalom&peakLateralG=fast", nil))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad peakLateralG, got %d", rr.Code)
	}
}

func TestVehicleBenchmarks(t *testing.T) {
	s, database, _ := newTestServer(t)
	vehicle := seedBenchmarkData(t, database)

	extra := models.TestRun{VehicleID: vehicle.ID, TestType: "lane_change", PeakLateralG: 1.1, PeakLongitudinalG: 0.5, PeakVerticalG: 1.4}
	if err := database.CreateTestRun(&extra); err != nil {
		t.Fatalf("create extra run: %v", err)
	}

	url := fmt.Sprintf("/api/v1/benchmarks/vehicle?vehicleId=%d", vehicle.ID)
	rr := doRequest(t, s, httptest.NewRequest("GET", url, nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	env := decodeEnvelope(t, rr)
	var benchmarks []models.TestTypeBenchmark
	if err := json.Unmarshal(env.Data, &benchmarks); err != nil {
		t.Fatalf("decode benchmarks: %v", err)
	}

	if len(benchmarks) != 2 {
		t.Fatalf("expected 2 test type groups, got %d", len(benchmarks))
	}

	// Output is sorted by test type.
	if benchmarks[0].TestType != "lane_change" || benchmarks[1].TestType != "slalom" {
		t.Fatalf("unexpected group order: %+v", benchmarks)
	}

	slalom := benchmarks[1]
	if slalom.Count != 3 {
		t.Fatalf("expected 3 slalom runs, got %d", slalom.Count)
	}
	if math.Abs(slalom.PeakLateralG-0.9) > 1e-9 {
		t.Fatalf("expected slalom mean lateral 0.9, got %v", slalom.PeakLateralG)
	}
	// Mean 0.9 ranks against the slalom distribution [0.8, 0.9, 1.0]:
	// two of three at or below.
	if slalom.Percentile != 66 {
		t.Fatalf("expected slalom percentile 66, got %d", slalom.Percentile)
	}

	laneChange := benchmarks[0]
	if laneChange.Count != 1 || laneChange.Percentile != 100 {
		t.Fatalf("unexpected lane_change group: %+v", laneChange)
	}
}

func TestVehicleBenchmarksNoRuns(t *testing.T) {
	s, _, _ := newTestServer(t)

	rr := doRequest(t, s, httptest.NewRequest("GET", "/api/v1/benchmarks/vehicle?vehicleId=55", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestVehicleBenchmarksInvalidID(t *testing.T) {
	s, _, _ := newTestServer(t)

	rr := doRequest(t, s, httptest.NewRequest("GET", "/api/v1/benchmarks/vehicle?vehicleId=abc", nil))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestVehicleBenchmarksRejectsNonPositiveID(t *testing.T) {
	s, database, _ := newTestServer(t)
	seedBenchmarkData(t, database)

	// A zero or negative id must not aggregate across all vehicles.
	for _, id := range []string{"0", "-1"} {
		rr := doRequest(t, s, httptest.NewRequest("GET", "/api/v1/benchmarks/vehicle?vehicleId="+id, nil))
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("vehicleId=%s: expected 400, got %d: %s", id, rr.Code, rr.Body.String())
		}
		if env := decodeEnvelope(t, rr); env.Success {
			t.Fatalf("vehicleId=%s: expected success=false", id)
		}
	}
}

func TestCompareBenchmarkRequiresTestType(t *testing.T) {
	s, database, _ := newTestServer(t)
	seedBenchmarkData(t, database)

	// Without a test type the baseline would blend every test type.
	rr := doRequest(t, s, httptest.NewRequest("GET", "/api/v1/benchmarks/compare?make=Toyota&model=Camry&peakLateralG=0.9", nil))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without testType, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestListTestRunsRejectsBadParams(t *testing.T) {
	s, database, _ := newTestServer(t)
	seedBenchmarkData(t, database)

	for _, url := range []string{
		"/api/v1/test-runs?vehicleId=0",
		"/api/v1/test-runs?vehicleId=-3",
		"/api/v1/test-runs?limit=abc",
		"/api/v1/test-runs?offset=abc",
	} {
		rr := doRequest(t, s, httptest.NewRequest("GET", url, nil))
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", url, rr.Code)
		}
	}
}

func TestGetVehicleEndpoint(t *testing.T) {
	s, database, _ := newTestServer(t)
	vehicle := seedBenchmarkData(t, database)

	rr := doRequest(t, s, httptest.NewRequest("GET", fmt.Sprintf("/api/v1/vehicles/%d", vehicle.ID), nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	rr = doRequest(t, s, httptest.NewRequest("GET", "/api/v1/vehicles/9999", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for missing vehicle, got %d", rr.Code)
	}
}
