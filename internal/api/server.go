package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"time"

	"suspension-bench/internal/db"
	"suspension-bench/internal/models"
	"suspension-bench/internal/stats"
	"suspension-bench/internal/storage"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// maxUploadBytes caps how much of a multipart body is held in memory.
const maxUploadBytes = 32 << 20

// Server represents the API server
type Server struct {
	db     *db.Database
	photos *storage.PhotoStore
	log    *zap.Logger
	router *mux.Router
}

// NewServer creates a new API server. The store handle and photo store
// are injected once here; handlers never open their own connections.
func NewServer(database *db.Database, photos *storage.PhotoStore, log *zap.Logger) *Server {
	s := &Server{
		db:     database,
		photos: photos,
		log:    log,
		router: mux.NewRouter(),
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	// Health check
	s.router.HandleFunc("/api/v1/health", s.handleHealth).Methods("GET")

	// Vehicle endpoints
	s.router.HandleFunc("/api/v1/vehicles", s.handleListVehicles).Methods("GET")
	s.router.HandleFunc("/api/v1/vehicles", s.handleRegisterVehicle).Methods("POST")
	s.router.HandleFunc("/api/v1/vehicles/{id}", s.handleGetVehicle).Methods("GET")

	// Test run endpoints
	s.router.HandleFunc("/api/v1/test-runs/submit", s.handleSubmitTestRun).Methods("POST")
	s.router.HandleFunc("/api/v1/test-runs", s.handleListTestRuns).Methods("GET")

	// Benchmark endpoints
	s.router.HandleFunc("/api/v1/benchmarks/compare", s.handleCompareBenchmark).Methods("GET")
	s.router.HandleFunc("/api/v1/benchmarks/vehicle", s.handleVehicleBenchmarks).Methods("GET")

	// Stats endpoint
	s.router.HandleFunc("/api/v1/stats", s.handleStats).Methods("GET")

	// Add middleware
	s.router.Use(s.loggingMiddleware)
	s.router.Use(jsonMiddleware)
}

// Router returns the configured router
func (s *Server) Router() *mux.Router {
	return s.router
}

// Middleware
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("elapsed", time.Since(start)),
		)
	})
}

func jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// Response helpers
type apiResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(apiResponse{Success: true, Data: data})
}

func respondError(w http.ResponseWriter, status int, message string) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(apiResponse{Success: false, Error: message})
}

// respondStoreError maps persistence errors to status codes: missing
// rows become 404, everything else is a 500.
func respondStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, db.ErrNotFound) {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	respondError(w, http.StatusInternalServerError, err.Error())
}

// Handlers

// handleHealth reports liveness only; it deliberately does not touch
// the store.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleRegisterVehicle(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Make           string `json:"make"`
		Model          string `json:"model"`
		Year           int    `json:"year"`
		SuspensionType string `json:"suspensionType"`
		Notes          string `json:"notes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	// Missing fields stay at their zero values; registration has no
	// required fields.
	v := models.VehicleProfile{
		Make:           req.Make,
		Model:          req.Model,
		Year:           req.Year,
		SuspensionType: req.SuspensionType,
		Notes:          req.Notes,
	}

	if err := s.db.CreateVehicle(&v); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondJSON(w, http.StatusCreated, strconv.FormatInt(v.ID, 10))
}

func (s *Server) handleListVehicles(w http.ResponseWriter, r *http.Request) {
	vehicles, err := s.db.ListVehicles()
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, vehicles)
}

func (s *Server) handleGetVehicle(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid vehicle id")
		return
	}

	vehicle, err := s.db.GetVehicle(id)
	if err != nil {
		respondStoreError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, vehicle)
}

// testRunSubmission is the JSON payload carried in the "data" form
// field of a submission. Absent numeric fields default to 0.
type testRunSubmission struct {
	VehicleID               *int64                `json:"vehicleId"`
	TestType                string                `json:"testType"`
	RoadSurface             string                `json:"roadSurface"`
	ProtocolComplianceScore float64               `json:"protocolComplianceScore"`
	PeakLateralG            float64               `json:"peakLateralG"`
	PeakLongitudinalG       float64               `json:"peakLongitudinalG"`
	PeakVerticalG           float64               `json:"peakVerticalG"`
	ReboundSettleTime       int64                 `json:"reboundSettleTime"`
	AmbientTemp             float64               `json:"ambientTemp"`
	UserID                  string                `json:"userId"`
	SensorData              []models.SensorSample `json:"sensorData"`
}

func (s *Server) handleSubmitTestRun(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		respondError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	dataStr := r.FormValue("data")
	if dataStr == "" {
		respondError(w, http.StatusBadRequest, "Missing data")
		return
	}

	var sub testRunSubmission
	if err := json.Unmarshal([]byte(dataStr), &sub); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON in data field")
		return
	}
	if sub.VehicleID == nil {
		respondError(w, http.StatusBadRequest, "vehicleId is required")
		return
	}

	// The vehicle reference is not checked against the vehicles table;
	// dangling IDs are stored as-is.
	run := models.TestRun{
		VehicleID:               *sub.VehicleID,
		TestType:                sub.TestType,
		RoadSurface:             sub.RoadSurface,
		ProtocolComplianceScore: sub.ProtocolComplianceScore,
		PeakLateralG:            sub.PeakLateralG,
		PeakLongitudinalG:       sub.PeakLongitudinalG,
		PeakVerticalG:           sub.PeakVerticalG,
		ReboundSettleTimeMS:     sub.ReboundSettleTime,
		AmbientTemp:             sub.AmbientTemp,
		UserID:                  sub.UserID,
		SensorData:              sub.SensorData,
	}

	if file, header, err := r.FormFile("photo"); err == nil {
		defer file.Close()
		if header.Filename != "" {
			path, err := s.photos.Save(header.Filename, file)
			if err != nil {
				respondError(w, http.StatusInternalServerError, err.Error())
				return
			}
			run.PhotoPath = path
			run.PhotoName = header.Filename
		}
	}

	if err := s.db.CreateTestRun(&run); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondJSON(w, http.StatusCreated, map[string]string{
		"testRunId": strconv.FormatInt(run.ID, 10),
		"message":   "Test run submitted successfully",
	})
}

func (s *Server) handleListTestRuns(w http.ResponseWriter, r *http.Request) {
	q := models.TestRunQuery{
		TestType: r.URL.Query().Get("testType"),
		Limit:    100, // default
	}

	if v := r.URL.Query().Get("vehicleId"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil || id <= 0 {
			respondError(w, http.StatusBadRequest, "invalid vehicleId")
			return
		}
		q.VehicleID = id
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		q.Limit = n
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid offset")
			return
		}
		q.Offset = n
	}

	runs, err := s.db.ListTestRuns(q)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, runs)
}

func (s *Server) handleCompareBenchmark(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	make := query.Get("make")
	model := query.Get("model")

	// An empty test type would drop the filter and blend every test
	// type into one baseline.
	testType := query.Get("testType")
	if testType == "" {
		respondError(w, http.StatusBadRequest, "testType is required")
		return
	}

	peakLateralG := 0.0
	if v := query.Get("peakLateralG"); v != "" {
		var err error
		peakLateralG, err = strconv.ParseFloat(v, 64)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid peakLateralG")
			return
		}
	}

	vehicle, err := s.db.FindVehicleByMakeModel(make, model)
	if errors.Is(err, db.ErrNotFound) {
		respondError(w, http.StatusNotFound, fmt.Sprintf("No baseline found for %s %s", make, model))
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	runs, err := s.db.ListTestRuns(models.TestRunQuery{VehicleID: vehicle.ID, TestType: testType})
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if len(runs) == 0 {
		respondError(w, http.StatusNotFound, fmt.Sprintf("No test data for %s %s %s", make, model, testType))
		return
	}

	lateralValues := peakLateralValues(runs)

	respondJSON(w, http.StatusOK, models.BenchmarkComparison{
		VehicleID:            strconv.FormatInt(vehicle.ID, 10),
		TestType:             testType,
		YourPeakLateralG:     peakLateralG,
		BaselinePeakLateralG: stats.Mean(lateralValues),
		BaselinePercentile:   stats.PercentileAtOrBelow(lateralValues, peakLateralG),
		SampleCount:          len(runs),
	})
}

func (s *Server) handleVehicleBenchmarks(w http.ResponseWriter, r *http.Request) {
	// A zero or negative id would drop the vehicle filter and
	// aggregate every vehicle's runs.
	vehicleID, err := strconv.ParseInt(r.URL.Query().Get("vehicleId"), 10, 64)
	if err != nil || vehicleID <= 0 {
		respondError(w, http.StatusBadRequest, "invalid vehicleId")
		return
	}

	runs, err := s.db.ListTestRuns(models.TestRunQuery{VehicleID: vehicleID})
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if len(runs) == 0 {
		respondError(w, http.StatusNotFound, "No test data found")
		return
	}

	groups := make(map[string][]models.TestRun)
	for _, run := range runs {
		groups[run.TestType] = append(groups[run.TestType], run)
	}

	benchmarks := make([]models.TestTypeBenchmark, 0, len(groups))
	for testType, group := range groups {
		lateral := peakLateralValues(group)
		meanLateral := stats.Mean(lateral)

		// Rank this vehicle's mean against every run of the same test
		// type, across all vehicles.
		allRuns, err := s.db.ListTestRuns(models.TestRunQuery{TestType: testType})
		if err != nil {
			respondError(w, http.StatusInternalServerError, err.Error())
			return
		}

		var longitudinal, vertical []float64
		for _, run := range group {
			longitudinal = append(longitudinal, run.PeakLongitudinalG)
			vertical = append(vertical, run.PeakVerticalG)
		}

		benchmarks = append(benchmarks, models.TestTypeBenchmark{
			TestType:          testType,
			PeakLateralG:      meanLateral,
			PeakLongitudinalG: stats.Mean(longitudinal),
			PeakVerticalG:     stats.Mean(vertical),
			Count:             len(group),
			Percentile:        stats.PercentileAtOrBelow(peakLateralValues(allRuns), meanLateral),
		})
	}

	sort.Slice(benchmarks, func(i, j int) bool {
		return benchmarks[i].TestType < benchmarks[j].TestType
	})

	respondJSON(w, http.StatusOK, benchmarks)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.db.GetStats()
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, stats)
}

func peakLateralValues(runs []models.TestRun) []float64 {
	values := make([]float64, 0, len(runs))
	for _, run := range runs {
		values = append(values, run.PeakLateralG)
	}
	return values
}
