package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the service configuration
type Config struct {
	Store struct {
		Driver          string // sqlite, mongo or memory
		SQLitePath      string
		MongoURI        string
		MongoDatabase   string
		MongoCollection string
		Timeout         time.Duration
	}

	Redis struct {
		Enabled  bool
		Addr     string
		Password string
		DB       int
		Channel  string
	}

	MQTT struct {
		Enabled  bool
		Broker   string
		ClientID string
		Username string
		Password string
		Topic    string
		QoS      byte
	}

	HTTP struct {
		Port string
	}

	Rules struct {
		Policy    string
		Overrides map[string]string // commodity -> policy
	}

	Series struct {
		BucketWidth time.Duration
		FetchLimit  int
	}

	Export struct {
		Dir string
	}

	Broadcast struct {
		Topic string
		Queue int
	}

	Model struct {
		URL     string // empty disables enrichment
		Timeout time.Duration
	}

	Log struct {
		Level  string
		Format string
	}
}

// LoadEnvFile reads KEY=VALUE pairs from a dotenv file into the process
// environment without overriding variables that are already set
func LoadEnvFile(path string) error {
	return godotenv.Load(path)
}

// Load reads the configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	cfg.Store.Driver = strings.ToLower(getEnv("DB_DRIVER", "sqlite"))
	cfg.Store.SQLitePath = getEnv("SQLITE_PATH", "ripeness.db")
	cfg.Store.MongoURI = getEnv("MONGO_URI", "mongodb://localhost:27017")
	cfg.Store.MongoDatabase = getEnv("MONGO_DATABASE", "ripeness")
	cfg.Store.MongoCollection = getEnv("MONGO_COLLECTION", "readings")
	if cfg.Store.Timeout, err = getDuration("STORE_TIMEOUT", 5*time.Second); err != nil {
		return nil, err
	}

	if cfg.Redis.Enabled, err = getBool("REDIS_ENABLED", false); err != nil {
		return nil, err
	}
	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	if cfg.Redis.DB, err = getInt("REDIS_DB", 0); err != nil {
		return nil, err
	}
	cfg.Redis.Channel = getEnv("REDIS_CHANNEL", "ripeness:readings")

	if cfg.MQTT.Enabled, err = getBool("MQTT_ENABLED", false); err != nil {
		return nil, err
	}
	cfg.MQTT.Broker = getEnv("MQTT_BROKER", "tcp://localhost:1883")
	cfg.MQTT.ClientID = getEnv("MQTT_CLIENT_ID", "ripeness-monitor")
	cfg.MQTT.Username = getEnv("MQTT_USERNAME", "")
	cfg.MQTT.Password = getEnv("MQTT_PASSWORD", "")
	cfg.MQTT.Topic = getEnv("MQTT_TOPIC", "ripeness/sensors")
	qos, err := getInt("MQTT_QOS", 1)
	if err != nil {
		return nil, err
	}
	if qos < 0 || qos > 2 {
		return nil, fmt.Errorf("MQTT_QOS must be 0, 1 or 2, got %d", qos)
	}
	cfg.MQTT.QoS = byte(qos)

	cfg.HTTP.Port = getEnv("HTTP_PORT", "8080")

	cfg.Rules.Policy = getEnv("RULE_POLICY", "raw-threshold")
	if cfg.Rules.Overrides, err = ParseOverrides(getEnv("RULE_POLICY_OVERRIDES", "")); err != nil {
		return nil, err
	}

	if cfg.Series.BucketWidth, err = getDuration("BUCKET_WIDTH", 30*time.Minute); err != nil {
		return nil, err
	}
	if cfg.Series.BucketWidth <= 0 {
		return nil, fmt.Errorf("BUCKET_WIDTH must be positive")
	}
	if cfg.Series.FetchLimit, err = getInt("SERIES_FETCH_LIMIT", 2000); err != nil {
		return nil, err
	}

	cfg.Export.Dir = getEnv("EXPORT_DIR", "exports")

	cfg.Broadcast.Topic = getEnv("BROADCAST_TOPIC", "new_data")
	if cfg.Broadcast.Queue, err = getInt("BROADCAST_QUEUE", 256); err != nil {
		return nil, err
	}

	cfg.Model.URL = getEnv("MODEL_URL", "")
	if cfg.Model.Timeout, err = getDuration("MODEL_TIMEOUT", 2*time.Second); err != nil {
		return nil, err
	}

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	return cfg, nil
}

// ParseOverrides parses "commodity=policy,commodity=policy"
func ParseOverrides(s string) (map[string]string, error) {
	out := make(map[string]string)
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		commodity, policy, ok := strings.Cut(part, "=")
		commodity = strings.TrimSpace(commodity)
		policy = strings.TrimSpace(policy)
		if !ok || commodity == "" || policy == "" {
			return nil, fmt.Errorf("invalid RULE_POLICY_OVERRIDES entry %q, want commodity=policy", part)
		}
		out[strings.ToLower(commodity)] = policy
	}
	return out, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getBool(key string, defaultValue bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}

func getDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
