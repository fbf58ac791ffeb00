package main

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"time"

	"suspension-bench/internal/api"
	"suspension-bench/internal/config"
	"suspension-bench/internal/db"
	"suspension-bench/internal/logger"
	"suspension-bench/internal/models"
	"suspension-bench/internal/parser"
	"suspension-bench/internal/storage"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	dbPath   string
	database *db.Database
	cfg      *config.Config
)

func main() {
	var err error
	cfg, err = config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	rootCmd := &cobra.Command{
		Use:   "suspension-bench",
		Short: "Suspension Bench - test run submission and benchmark queries",
		Long: `REST backend for vehicle suspension test data. Accepts test run
submissions (sensor readings, photos), registers vehicle profiles, and
answers benchmark queries against historical runs. SQLite storage.`,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", cfg.DatabasePath, "Path to SQLite database")

	// Add commands
	rootCmd.AddCommand(serverCmd())
	rootCmd.AddCommand(ingestCmd())
	rootCmd.AddCommand(seedCmd())
	rootCmd.AddCommand(statsCmd())
	rootCmd.AddCommand(vehicleCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// initDB initializes database connection
func initDB() error {
	var err error
	database, err = db.New(dbPath)
	return err
}

// serverCmd starts the REST API server
func serverCmd() *cobra.Command {
	var port int
	var uploadDir string

	cmd := &cobra.Command{
		Use:   "server",
		Short: "Start the REST API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := initDB(); err != nil {
				return fmt.Errorf("database error: %w", err)
			}
			defer database.Close()

			log := logger.New(cfg.LogLevel, cfg.LogFormat)
			defer log.Sync()

			photos, err := storage.NewPhotoStore(uploadDir)
			if err != nil {
				return err
			}

			server := api.NewServer(database, photos, log)
			addr := fmt.Sprintf(":%d", port)

			log.Info("starting server",
				zap.String("addr", addr),
				zap.String("db", dbPath),
				zap.String("uploads", uploadDir),
			)

			return http.ListenAndServe(addr, server.Router())
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", cfg.Port, "Server port")
	cmd.Flags().StringVarP(&uploadDir, "uploads", "u", cfg.UploadDir, "Photo upload directory")
	return cmd
}

// ingestCmd bulk-imports test runs from files
func ingestCmd() *cobra.Command {
	var format string
	var validate bool

	cmd := &cobra.Command{
		Use:   "ingest [file...]",
		Short: "Ingest test run data from files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := initDB(); err != nil {
				return fmt.Errorf("database error: %w", err)
			}
			defer database.Close()

			p := parser.NewParser(format)
			totalRecords := 0
			totalErrors := 0

			for _, file := range args {
				fmt.Printf("Processing %s...\n", file)
				start := time.Now()

				runs, err := p.ParseFile(file)
				if err != nil {
					fmt.Printf("  Error: %v\n", err)
					totalErrors++
					continue
				}

				// Validate if requested
				if validate {
					var valid []models.TestRun
					for _, r := range runs {
						if errs := parser.ValidateTestRun(&r); len(errs) == 0 {
							valid = append(valid, r)
						} else {
							totalErrors++
						}
					}
					runs = valid
				}

				// Insert into database
				count, err := database.CreateTestRunBatch(runs)
				if err != nil {
					fmt.Printf("  Database error: %v\n", err)
					continue
				}

				elapsed := time.Since(start)
				fmt.Printf("  Inserted %d runs in %v\n", count, elapsed)
				totalRecords += int(count)
			}

			fmt.Printf("\nTotal: %d runs ingested", totalRecords)
			if totalErrors > 0 {
				fmt.Printf(", %d errors", totalErrors)
			}
			fmt.Println()

			return nil
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "csv", "File format (csv, json)")
	cmd.Flags().BoolVarP(&validate, "validate", "v", true, "Validate runs before inserting")
	return cmd
}

// seedCmd generates sample vehicles and test runs
func seedCmd() *cobra.Command {
	var runCount int
	var vehicleCount int
	var output string

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Generate sample vehicles and test runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := initDB(); err != nil {
				return fmt.Errorf("database error: %w", err)
			}
			defer database.Close()

			rng := rand.New(rand.NewSource(time.Now().UnixNano()))

			makes := []string{"Toyota", "Honda", "Subaru", "Mazda"}
			modelsByMake := map[string][]string{
				"Toyota": {"Camry", "GR86"},
				"Honda":  {"Civic", "Accord"},
				"Subaru": {"WRX", "BRZ"},
				"Mazda":  {"MX-5", "Mazda3"},
			}
			suspensionTypes := []string{"macpherson_strut", "double_wishbone", "multi_link", "coilover"}

			var vehicles []models.VehicleProfile
			for i := 0; i < vehicleCount; i++ {
				mk := makes[rng.Intn(len(makes))]
				md := modelsByMake[mk][rng.Intn(len(modelsByMake[mk]))]
				v := models.VehicleProfile{
					Make:           mk,
					Model:          md,
					Year:           2015 + rng.Intn(10),
					SuspensionType: suspensionTypes[rng.Intn(len(suspensionTypes))],
				}
				if err := database.CreateVehicle(&v); err != nil {
					return fmt.Errorf("error creating vehicle: %w", err)
				}
				vehicles = append(vehicles, v)
			}

			fmt.Printf("Created %d vehicles\n", len(vehicles))

			testTypes := []string{"slalom", "lane_change", "acceleration_0_40", "deceleration", "figure_8"}
			surfaces := []string{"asphalt_smooth", "asphalt_rough", "concrete", "gravel"}

			var runs []models.TestRun
			for i := 0; i < runCount; i++ {
				v := vehicles[rng.Intn(len(vehicles))]
				run := models.TestRun{
					VehicleID:               v.ID,
					TestType:                testTypes[rng.Intn(len(testTypes))],
					RoadSurface:             surfaces[rng.Intn(len(surfaces))],
					ProtocolComplianceScore: 0.5 + rng.Float64()*0.5,
					PeakLateralG:            0.6 + rng.Float64()*0.6,
					PeakLongitudinalG:       0.4 + rng.Float64()*0.5,
					PeakVerticalG:           0.8 + rng.Float64()*0.8,
					ReboundSettleTimeMS:     int64(200 + rng.Intn(800)),
					AmbientTemp:             10 + rng.Float64()*25,
					SensorData:              sampleSensorData(rng),
				}
				runs = append(runs, run)
			}

			start := time.Now()
			inserted, err := database.CreateTestRunBatch(runs)
			if err != nil {
				return fmt.Errorf("error inserting runs: %w", err)
			}
			fmt.Printf("Generated %d test runs in %v\n", inserted, time.Since(start))

			// Export to file if requested
			if output != "" {
				file, err := os.Create(output)
				if err != nil {
					return fmt.Errorf("error creating output file: %w", err)
				}
				defer file.Close()

				enc := json.NewEncoder(file)
				enc.SetIndent("", "  ")
				enc.Encode(runs)
				fmt.Printf("Data exported to %s\n", output)
			}

			return nil
		},
	}

	cmd.Flags().IntVarP(&runCount, "count", "c", 200, "Number of test runs to generate")
	cmd.Flags().IntVarP(&vehicleCount, "vehicles", "n", 8, "Number of vehicles to create")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Export generated runs to JSON file")
	return cmd
}

// sampleSensorData builds a short burst of IMU samples
func sampleSensorData(rng *rand.Rand) []models.SensorSample {
	samples := make([]models.SensorSample, 0, 20)
	base := time.Now().UnixMilli()
	for i := 0; i < 20; i++ {
		samples = append(samples, models.SensorSample{
			TimestampMS: base + int64(i*50),
			AccelX:      (rng.Float64() - 0.5) * 2,
			AccelY:      (rng.Float64() - 0.5) * 2,
			AccelZ:      9.8 + (rng.Float64()-0.5),
			GyroX:       (rng.Float64() - 0.5) * 0.5,
			GyroY:       (rng.Float64() - 0.5) * 0.5,
			GyroZ:       (rng.Float64() - 0.5) * 0.5,
			Pitch:       (rng.Float64() - 0.5) * 10,
			Roll:        (rng.Float64() - 0.5) * 10,
			Yaw:         rng.Float64() * 360,
		})
	}
	return samples
}

// statsCmd shows database statistics
func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show database statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := initDB(); err != nil {
				return fmt.Errorf("database error: %w", err)
			}
			defer database.Close()

			stats, err := database.GetStats()
			if err != nil {
				return fmt.Errorf("error getting stats: %w", err)
			}

			fmt.Println("Suspension Bench Statistics")
			fmt.Println("===========================")
			fmt.Printf("  Vehicles:             %v\n", stats["total_vehicles"])
			fmt.Printf("  Test Runs:            %v\n", stats["total_test_runs"])
			fmt.Printf("  Runs With Photos:     %v\n", stats["test_runs_with_photos"])
			fmt.Printf("  Database:             %s\n", dbPath)

			return nil
		},
	}
}

// vehicleCmd manages vehicles
func vehicleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vehicle",
		Short: "Vehicle management commands",
	}

	// List subcommand
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List all vehicles",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := initDB(); err != nil {
				return fmt.Errorf("database error: %w", err)
			}
			defer database.Close()

			vehicles, err := database.ListVehicles()
			if err != nil {
				return fmt.Errorf("error listing vehicles: %w", err)
			}

			if len(vehicles) == 0 {
				fmt.Println("No vehicles found. Use 'suspension-bench seed' to create sample data.")
				return nil
			}

			fmt.Printf("%-6s %-12s %-12s %-6s %-20s\n", "ID", "Make", "Model", "Year", "Suspension")
			for _, v := range vehicles {
				fmt.Printf("%-6d %-12s %-12s %-6d %-20s\n", v.ID, v.Make, v.Model, v.Year, v.SuspensionType)
			}

			return nil
		},
	}

	// Benchmarks subcommand
	benchmarksCmd := &cobra.Command{
		Use:   "benchmarks [vehicle_id]",
		Short: "Show per-test-type benchmarks for a vehicle",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			vehicleID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || vehicleID <= 0 {
				return fmt.Errorf("invalid vehicle id: %s", args[0])
			}

			if err := initDB(); err != nil {
				return fmt.Errorf("database error: %w", err)
			}
			defer database.Close()

			runs, err := database.ListTestRuns(models.TestRunQuery{VehicleID: vehicleID})
			if err != nil {
				return fmt.Errorf("error listing runs: %w", err)
			}
			if len(runs) == 0 {
				fmt.Printf("No test data for vehicle %d\n", vehicleID)
				return nil
			}

			byType := make(map[string][]models.TestRun)
			for _, r := range runs {
				byType[r.TestType] = append(byType[r.TestType], r)
			}

			fmt.Printf("Benchmarks for vehicle %d\n", vehicleID)
			fmt.Println("=========================")
			for testType, group := range byType {
				var lat, lon, vert float64
				for _, r := range group {
					lat += r.PeakLateralG
					lon += r.PeakLongitudinalG
					vert += r.PeakVerticalG
				}
				n := float64(len(group))
				fmt.Printf("  %-20s runs=%-4d lateral=%.3fg longitudinal=%.3fg vertical=%.3fg\n",
					testType, len(group), lat/n, lon/n, vert/n)
			}

			return nil
		},
	}

	cmd.AddCommand(listCmd, benchmarksCmd)
	return cmd
}
