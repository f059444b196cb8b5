package config

import "time"

// APIConfig holds runtime configuration for the orchestrator service.
type APIConfig struct {
	Environment   string
	Addr          string
	DatabaseURL   string
	MigrationsDir string

	QueueRedisAddr     string
	QueueRedisPassword string
	QueueRedisDB       int
	QueueKey           string
	WorkerCount        int

	SchedulePollInterval  time.Duration
	ScheduleStaleInterval time.Duration
	ScheduleStaleWindow   time.Duration

	WorkspaceRoot string
	TemplateDir   string
	StageTimeout  time.Duration
	DeployTimeout time.Duration

	NotifyWebhookURL string
	NotifyTimeout    time.Duration
}

// LoadAPIConfig constructs an APIConfig from environment variables.
func LoadAPIConfig() APIConfig {
	return APIConfig{
		Environment:   GetString("APP_ENV", "development"),
		Addr:          GetString("API_ADDR", ":4000"),
		DatabaseURL:   GetString("DATABASE_URL", "postgres://gantry:gantry@db:5432/gantry?sslmode=disable"),
		MigrationsDir: GetString("DB_MIGRATIONS_DIR", "db/migrations"),

		QueueRedisAddr:     GetString("QUEUE_REDIS_ADDR", ""),
		QueueRedisPassword: GetString("QUEUE_REDIS_PASSWORD", ""),
		QueueRedisDB:       GetInt("QUEUE_REDIS_DB", 0),
		QueueKey:           GetString("QUEUE_KEY", "gantry:schedule:jobs"),
		WorkerCount:        GetInt("SCHEDULE_WORKERS", 2),

		SchedulePollInterval:  GetSeconds("SCHEDULE_POLL_SECONDS", 30),
		ScheduleStaleInterval: GetSeconds("SCHEDULE_STALE_CHECK_SECONDS", 60),
		ScheduleStaleWindow:   GetSeconds("SCHEDULE_STALE_WINDOW_SECONDS", 7200),

		WorkspaceRoot: GetString("WORKSPACE_ROOT", "/var/lib/gantry/workspaces"),
		TemplateDir:   GetString("PIPELINE_TEMPLATE_DIR", "templates"),
		StageTimeout:  GetSeconds("STAGE_TIMEOUT_SECONDS", 900),
		DeployTimeout: GetSeconds("DEPLOY_TIMEOUT_SECONDS", 3600),

		NotifyWebhookURL: GetString("NOTIFY_WEBHOOK_URL", ""),
		NotifyTimeout:    GetSeconds("NOTIFY_TIMEOUT_SECONDS", 5),
	}
}
