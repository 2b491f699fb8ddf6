package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"ripeness-monitor/internal/api"
	"ripeness-monitor/internal/broadcast"
	"ripeness-monitor/internal/classifier"
	"ripeness-monitor/internal/clock"
	"ripeness-monitor/internal/config"
	"ripeness-monitor/internal/consumer"
	"ripeness-monitor/internal/db"
	"ripeness-monitor/internal/metrics"
	"ripeness-monitor/internal/models"
	"ripeness-monitor/internal/parser"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	envFile string
	dbPath  string
	driver  string

	cfg      *config.Config
	log      *zap.Logger
	store    db.Store
	selector *classifier.Selector
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "ripeness-monitor",
		Short: "Ripeness Monitor - produce ripeness classification from gas sensor readings",
		Long: `A service and CLI for ingesting gas, temperature and humidity readings from
stored produce, classifying ripeness with versioned rule policies, and
aggregating the history into regular series with trend estimates.`,
		SilenceUsage: true,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Dotenv file to load before reading the environment")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Path to SQLite database (overrides SQLITE_PATH)")
	rootCmd.PersistentFlags().StringVar(&driver, "driver", "", "Store driver: sqlite, mongo or memory (overrides DB_DRIVER)")

	// Add commands
	rootCmd.AddCommand(serverCmd())
	rootCmd.AddCommand(ingestCmd())
	rootCmd.AddCommand(queryCmd())
	rootCmd.AddCommand(seriesCmd())
	rootCmd.AddCommand(trendCmd())
	rootCmd.AddCommand(exportCmd())
	rootCmd.AddCommand(statsCmd())
	rootCmd.AddCommand(generateCmd())
	rootCmd.AddCommand(policiesCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// serverCmd starts the REST API server
func serverCmd() *cobra.Command {
	var port string
	var static string

	cmd := &cobra.Command{
		Use:   "server",
		Short: "Start the REST API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := initApp(ctx); err != nil {
				return err
			}
			defer closeApp()

			metrics.Register()

			hub := broadcast.NewHub(log)
			go hub.Run(ctx)

			sinks := broadcast.Multi{hub}
			if cfg.Redis.Enabled {
				pub, err := broadcast.NewRedisPublisher(ctx, broadcast.RedisOptions{
					Addr:     cfg.Redis.Addr,
					Password: cfg.Redis.Password,
					DB:       cfg.Redis.DB,
					Channel:  cfg.Redis.Channel,
				})
				if err != nil {
					return err
				}
				defer pub.Close()

				async := broadcast.NewAsync(pub, "redis", cfg.Broadcast.Queue, log)
				defer async.Close()
				sinks = append(sinks, async)
				log.Info("redis fan-out enabled", zap.String("channel", cfg.Redis.Channel))
			}

			p, err := newPipeline(sinks, clock.NewSystem())
			if err != nil {
				return err
			}

			if cfg.MQTT.Enabled {
				mc := consumer.NewMQTTConsumer(consumer.Config{
					Broker:   cfg.MQTT.Broker,
					ClientID: cfg.MQTT.ClientID,
					Username: cfg.MQTT.Username,
					Password: cfg.MQTT.Password,
					Topic:    cfg.MQTT.Topic,
					QoS:      cfg.MQTT.QoS,
				}, p, log)
				go func() {
					if err := mc.Start(ctx); err != nil {
						log.Error("mqtt consumer stopped", zap.Error(err))
					}
				}()
			}

			server := api.NewServer(api.Options{
				Store:    store,
				Pipeline: p,
				Series:   newSeries(),
				Exporter: newExporter(""),
				Selector: selector,
				Hub:      hub,
				Logger:   log,
			})

			// Serve web dashboard at root
			if info, err := os.Stat(static); err == nil && info.IsDir() {
				server.Router().PathPrefix("/").Handler(http.FileServer(http.Dir(static)))
			}

			if port == "" {
				port = cfg.HTTP.Port
			}
			addr := ":" + strings.TrimPrefix(port, ":")
			srv := &http.Server{
				Addr:              addr,
				Handler:           server.Router(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			fmt.Printf("🍅 Ripeness Monitor API Server\n")
			fmt.Printf("   Listening on http://localhost%s\n", addr)
			fmt.Printf("   Store: %s | Policy: %s\n\n", cfg.Store.Driver, selector.Default().ID())
			fmt.Println("Available endpoints:")
			fmt.Println("  GET  /health")
			fmt.Println("  GET  /metrics")
			fmt.Println("  GET  /ws")
			fmt.Println("  POST /api/sensors")
			fmt.Println("  GET  /api/readings")
			fmt.Println("  GET  /api/commodities")
			fmt.Println("  GET  /api/commodities/{type}/series")
			fmt.Println("  GET  /api/commodities/{type}/trend")
			fmt.Println("  GET  /api/commodities/{type}/export.csv")
			fmt.Println("  GET  /api/export/{type}")
			fmt.Println("  GET  /api/policies")
			fmt.Println("  GET  /api/stats")
			fmt.Println()

			errCh := make(chan error, 1)
			go func() { errCh <- srv.ListenAndServe() }()

			select {
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			case <-ctx.Done():
				log.Info("shutting down")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			}
		},
	}

	cmd.Flags().StringVarP(&port, "port", "p", "", "Server port (overrides HTTP_PORT)")
	cmd.Flags().StringVar(&static, "static", "./web", "Directory with the dashboard, served at / when present")
	return cmd
}

// ingestCmd runs payload files through the ingestion pipeline
func ingestCmd() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "ingest [file...]",
		Short: "Ingest sensor payloads from files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := initApp(ctx); err != nil {
				return err
			}
			defer closeApp()

			p, err := newPipeline(broadcast.Nop{}, clock.NewSystem())
			if err != nil {
				return err
			}

			prs := parser.NewParser(format, log)
			totalRecords := 0
			totalErrors := 0

			for _, file := range args {
				fmt.Printf("Processing %s...\n", file)
				start := time.Now()

				payloads, err := prs.ParseFile(file)
				if err != nil {
					fmt.Printf("  Error: %v\n", err)
					totalErrors++
					continue
				}

				count := 0
				for i, payload := range payloads {
					if _, err := p.Ingest(ctx, payload); err != nil {
						fmt.Printf("  Record %d: %v\n", i+1, err)
						totalErrors++
						var upstream *models.UpstreamError
						if errors.As(err, &upstream) {
							return err
						}
						continue
					}
					count++
				}

				elapsed := time.Since(start)
				fmt.Printf("  ✓ Ingested %d records in %v (%.0f records/sec)\n",
					count, elapsed, float64(count)/elapsed.Seconds())
				totalRecords += count
			}

			fmt.Printf("\nTotal: %d records ingested", totalRecords)
			if totalErrors > 0 {
				fmt.Printf(", %d errors", totalErrors)
			}
			fmt.Println()

			return nil
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "csv", "File format (csv, json, log)")
	return cmd
}

// queryCmd lists stored readings
func queryCmd() *cobra.Command {
	var commodity string
	var limit int
	var ascending bool
	var outputFormat string

	cmd := &cobra.Command{
		Use:   "query",
		Short: "Query stored readings",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := initApp(cmd.Context()); err != nil {
				return err
			}
			defer closeApp()

			start := time.Now()
			results, err := store.Find(cmd.Context(), models.ReadingQuery{
				CommodityType: commodity,
				Ascending:     ascending,
				Limit:         limit,
			})
			if err != nil {
				return fmt.Errorf("query error: %w", err)
			}
			elapsed := time.Since(start)

			switch outputFormat {
			case "json":
				return printJSON(results)
			default:
				fmt.Printf("Found %d readings (query time: %v)\n\n", len(results), elapsed)
				for _, r := range results {
					validity := "-"
					if r.DerivedValidity != nil {
						validity = fmt.Sprintf("%d %s", *r.DerivedValidity, r.ValidityUnit)
					}
					fmt.Printf("[%s] %-10s | Temp: %5.1f°C | Hum: %5.1f%% | Gas: %6.0f (%.2fV) | %-9s | Validity: %s\n",
						r.RecordedAt.Format("2006-01-02 15:04:05"),
						r.CommodityType, r.Temperature, r.Humidity,
						r.GasRaw, r.GasVoltage, r.DerivedState, validity)
				}
			}

			return nil
		},
	}

	cmd.Flags().StringVarP(&commodity, "commodity", "c", "", "Filter by commodity type")
	cmd.Flags().IntVarP(&limit, "limit", "l", 100, "Maximum readings to return")
	cmd.Flags().BoolVar(&ascending, "asc", false, "Oldest first")
	cmd.Flags().StringVarP(&outputFormat, "output", "o", "table", "Output format (table, json)")
	return cmd
}

// seriesCmd prints the aggregated series
func seriesCmd() *cobra.Command {
	var outputFormat string

	cmd := &cobra.Command{
		Use:   "series [commodity|all]",
		Short: "Show the bucketed series for a commodity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := initApp(cmd.Context()); err != nil {
				return err
			}
			defer closeApp()

			svc := newSeries()
			points, err := svc.Series(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			if outputFormat == "json" {
				return printJSON(points)
			}

			fmt.Printf("📈 Series for %s (%d buckets of %v)\n", args[0], len(points), svc.BucketWidth())
			fmt.Println("==========================================")
			for _, p := range points {
				fmt.Printf("  %s | Temp: %s | Hum: %s | Gas: %s | Slope: %+.1f\n",
					p.Timestamp.Format("2006-01-02 15:04"),
					formatMean(p.Temperature), formatMean(p.Humidity), formatMean(p.GasRaw), p.GasSlope)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputFormat, "output", "o", "table", "Output format (table, json)")
	return cmd
}

// trendCmd prints the linear trend of the aggregated series
func trendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "trend [commodity|all]",
		Short: "Estimate the gas trend for a commodity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := initApp(cmd.Context()); err != nil {
				return err
			}
			defer closeApp()

			est, ok, err := newSeries().Trend(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !ok {
				fmt.Printf("No data for %s\n", args[0])
				return nil
			}

			fmt.Printf("Trend for %s\n", args[0])
			fmt.Printf("  Coefficient: %.3f per bucket\n", est.Slope)
			fmt.Printf("  Intercept:   %.3f\n", est.Intercept)
			fmt.Printf("  Direction:   %s\n", est.Direction)
			return nil
		},
	}
}

// exportCmd writes CSV files
func exportCmd() *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:   "export [commodity|all]",
		Short: "Export stored history as CSV, one file per commodity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := initApp(cmd.Context()); err != nil {
				return err
			}
			defer closeApp()

			paths, err := newExporter(dir).Export(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if len(paths) == 0 {
				fmt.Println("No data to export.")
				return nil
			}
			for _, p := range paths {
				fmt.Printf("✓ %s\n", p)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&dir, "dir", "d", "", "Output directory (overrides EXPORT_DIR)")
	return cmd
}

// statsCmd shows database statistics
func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show database statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := initApp(cmd.Context()); err != nil {
				return err
			}
			defer closeApp()

			stats, err := store.Stats(cmd.Context())
			if err != nil {
				return fmt.Errorf("error getting stats: %w", err)
			}

			fmt.Println("📊 Ripeness Monitor Statistics")
			fmt.Println("==============================")
			fmt.Printf("  Total Readings:  %d\n", stats.TotalReadings)
			fmt.Printf("  Commodities:     %d\n", stats.Commodities)
			for state, n := range stats.ByState {
				fmt.Printf("  %-15s  %d\n", state+":", n)
			}
			fmt.Printf("  Store:           %s\n", cfg.Store.Driver)

			return nil
		},
	}
}

// generateCmd simulates sensor readings through the pipeline
func generateCmd() *cobra.Command {
	var count int
	var commodities string
	var interval time.Duration
	var seed int64

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate simulated sensor readings",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := initApp(ctx); err != nil {
				return err
			}
			defer closeApp()

			names := strings.Split(commodities, ",")
			start := time.Now().In(clock.Civil).Add(-time.Duration(count) * interval)
			p, err := newPipeline(broadcast.Nop{}, clock.NewStepping(start, interval/time.Duration(len(names))))
			if err != nil {
				return err
			}

			if seed == 0 {
				seed = time.Now().UnixNano()
			}
			rng := rand.New(rand.NewSource(seed))

			begin := time.Now()
			inserted := 0
			for i := 0; i < count; i++ {
				for _, name := range names {
					payload := simulate(rng, strings.TrimSpace(name), float64(i)/float64(count))
					if _, err := p.Ingest(ctx, payload); err != nil {
						return err
					}
					inserted++
				}
				fmt.Printf("\rIngested %d/%d readings...", inserted, count*len(names))
			}

			elapsed := time.Since(begin)
			fmt.Printf("\n✓ Generated %d readings in %v (%.0f readings/sec)\n",
				inserted, elapsed, float64(inserted)/elapsed.Seconds())
			return nil
		},
	}

	cmd.Flags().IntVarP(&count, "count", "c", 200, "Readings to generate per commodity")
	cmd.Flags().StringVarP(&commodities, "commodities", "n", "tomato,banana", "Comma-separated commodity types")
	cmd.Flags().DurationVarP(&interval, "interval", "i", 5*time.Minute, "Simulated time between readings of one commodity")
	cmd.Flags().Int64Var(&seed, "seed", 0, "Random seed (0 = time based)")
	return cmd
}

// simulate produces a payload for a commodity at progress 0..1 of ripening
func simulate(rng *rand.Rand, commodity string, progress float64) parser.Payload {
	gas := 900 + progress*2600 + rng.NormFloat64()*40
	return parser.Payload{
		models.FieldCommodityType: commodity,
		models.FieldTemperature:   math.Round((24+progress*9+rng.Float64())*10) / 10,
		models.FieldHumidity:      math.Round((62+progress*18+rng.Float64()*2)*10) / 10,
		models.FieldGasRaw:        math.Round(math.Max(gas, 0)),
		models.FieldGasVoltage:    math.Round(gas/1023*5*100) / 100,
		models.FieldBatch:         fmt.Sprintf("SIM-%s", strings.ToUpper(commodity)),
	}
}

// policiesCmd lists the built-in rule policies
func policiesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "policies",
		Short: "List rule policies and the configured binding",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := initApp(cmd.Context()); err != nil {
				return err
			}
			defer closeApp()

			for _, p := range classifier.Policies() {
				marker := " "
				if p == selector.Default() {
					marker = "*"
				}
				fmt.Printf("%s %-24s validity in %s\n", marker, p.ID(), p.Unit)
				for i, r := range p.Rules {
					fmt.Printf("     %d. %s -> %s\n", i+1, r.Name, r.State)
				}
				fmt.Println("     otherwise -> fallback")
			}
			for commodity, id := range selector.Overrides() {
				fmt.Printf("  override: %s -> %s\n", commodity, id)
			}
			return nil
		},
	}
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func formatMean(v float64) string {
	if math.IsNaN(v) {
		return "   n/a"
	}
	return fmt.Sprintf("%6.1f", v)
}
