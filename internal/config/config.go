package config

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/kelseyhightower/envconfig"
)

const (
	TRANSPORT_SNS = "sns"
	TRANSPORT_LOG = "log"
)

type Config struct {
	App      AppConfig
	AWS      AWSConfig
	SMS      SMSConfig
	Delivery DeliveryConfig
	Kafka    KafkaConfig
	Log      LogConfig
	Auth     AuthConfig
}

type AppConfig struct {
	Port           string        `envconfig:"PORT" default:"8080"`
	Transport      string        `envconfig:"TRANSPORT" default:"sns"`
	PublishTimeout time.Duration `envconfig:"PUBLISH_TIMEOUT" default:"30s"`
}

type AWSConfig struct {
	Region        string `envconfig:"AWS_REGION" default:"us-east-1"`
	Endpoint      string `envconfig:"AWS_ENDPOINT_URL"`
	TableName     string `envconfig:"TABLE_NAME"`
	EmailTopicArn string `envconfig:"EMAIL_TOPIC_ARN"`
	TokenSecret   string `envconfig:"TOKEN_SECRET"`
	// Retention sets the TTL of delivery log items; 0 keeps them forever.
	Retention time.Duration `envconfig:"DELIVERY_RETENTION" default:"720h"`
}

type SMSConfig struct {
	Type     string `envconfig:"SMS_TYPE" default:"Transactional"`
	SenderId string `envconfig:"SMS_SENDER_ID"`
	MaxPrice string `envconfig:"SMS_MAX_PRICE"`
}

type DeliveryConfig struct {
	Workers     int           `envconfig:"DELIVERY_WORKERS" default:"8"`
	MaxAttempts int           `envconfig:"DELIVERY_MAX_ATTEMPTS" default:"5"`
	BaseBackoff time.Duration `envconfig:"DELIVERY_BASE_BACKOFF" default:"200ms"`
	Factor      float64       `envconfig:"DELIVERY_BACKOFF_FACTOR" default:"2"`
	MaxBackoff  time.Duration `envconfig:"DELIVERY_MAX_BACKOFF" default:"0s"`
	SendTimeout time.Duration `envconfig:"DELIVERY_SEND_TIMEOUT" default:"10s"`
	DedupWindow time.Duration `envconfig:"DEDUP_WINDOW" default:"5m"`
	LogCapacity int           `envconfig:"DELIVERY_LOG_CAPACITY" default:"1000"`
}

type KafkaConfig struct {
	Brokers  []string `envconfig:"KAFKA_BROKERS"`
	Topic    string   `envconfig:"KAFKA_STATUS_TOPIC" default:"notify.delivery.status"`
	ClientId string   `envconfig:"KAFKA_CLIENT_ID" default:"notify"`
}

type LogConfig struct {
	Env   string `envconfig:"APP_ENV" default:"production"`
	Level string `envconfig:"LOG_LEVEL" default:"info"`
}

type AuthConfig struct {
	PoolUrl string `envconfig:"AUTH_POOL_URL"`
}

// Enabled reports whether delivery status events go to Kafka.
func (k KafkaConfig) Enabled() bool {
	return len(k.Brokers) > 0
}

func (c Config) validate() error {
	switch c.App.Transport {
	case TRANSPORT_SNS, TRANSPORT_LOG:
	default:
		return errors.Newf("TRANSPORT must be %q or %q, got %q", TRANSPORT_SNS, TRANSPORT_LOG, c.App.Transport)
	}
	if c.AWS.TableName != "" && c.AWS.TokenSecret == "" {
		return errors.New("TOKEN_SECRET is required when TABLE_NAME is set")
	}
	return nil
}

func LoadConfig() (Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, errors.Wrap(err, "failed to process env config")
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func NewTestConfig() Config {
	return Config{
		App: AppConfig{
			Port:           "8889",
			Transport:      TRANSPORT_LOG,
			PublishTimeout: 5 * time.Second,
		},
		AWS: AWSConfig{
			Region:      "us-east-1",
			TokenSecret: "test-secret",
		},
		SMS: SMSConfig{
			Type: "Transactional",
		},
		Delivery: DeliveryConfig{
			Workers:     2,
			MaxAttempts: 3,
			BaseBackoff: time.Millisecond,
			Factor:      2,
			SendTimeout: time.Second,
			DedupWindow: time.Minute,
			LogCapacity: 100,
		},
		Log: LogConfig{
			Env:   "test",
			Level: "error",
		},
	}
}
