package config

import "time"

type AppConfig struct {
	DataDir    string          `yaml:"data_dir" env:"RC_DATA_DIR" env-default:"data"`
	ListenAddr string          `yaml:"listen_addr" env:"RC_LISTEN_ADDR" env-default:"0.0.0.0:8080"`
	AppEnv     string          `yaml:"app_env" env:"RC_APP_ENV"`
	Lock       LockConfig      `yaml:"lock"`
	Sequence   SequenceConfig  `yaml:"sequence"`
	Windows    WindowsConfig   `yaml:"windows"`
	Sweeper    SweeperConfig   `yaml:"sweeper"`
	Sanctions  SanctionsConfig `yaml:"sanctions"`
}

type LockConfig struct {
	// RetryBase is the first backoff step; subsequent attempts double it
	// (jittered) until the attempt budget is spent.
	RetryBase   time.Duration `yaml:"retry_base" env:"RC_LOCK_RETRY_BASE" env-default:"10ms"`
	MaxAttempts uint64        `yaml:"max_attempts" env:"RC_LOCK_MAX_ATTEMPTS" env-default:"8"`
}

type SequenceConfig struct {
	// InitialNumber seeds a fresh counter document. The first issued ticket
	// is INC-(InitialNumber+1).
	InitialNumber int `yaml:"initial_number" env:"RC_SEQUENCE_INITIAL" env-default:"0"`
}

type WindowsConfig struct {
	Evidence     time.Duration `yaml:"evidence" env:"RC_WINDOW_EVIDENCE" env-default:"30m"`
	Report       time.Duration `yaml:"report" env:"RC_WINDOW_REPORT" env-default:"15m"`
	Appeal       time.Duration `yaml:"appeal" env:"RC_WINDOW_APPEAL" env-default:"48h"`
	Finalization time.Duration `yaml:"finalization" env:"RC_WINDOW_FINALIZATION" env-default:"10m"`
	Withdrawal   time.Duration `yaml:"withdrawal" env:"RC_WINDOW_WITHDRAWAL" env-default:"5m"`
	AccusedReply time.Duration `yaml:"accused_reply" env:"RC_WINDOW_ACCUSED_REPLY" env-default:"24h"`
}

type SweeperConfig struct {
	Enabled  bool   `yaml:"enabled" env:"RC_SWEEPER_ENABLED" env-default:"true"`
	CronSpec string `yaml:"cron_spec" env:"RC_SWEEPER_CRON" env-default:"@every 5m"`
}

type SanctionsConfig struct {
	// Cat0Text is the outcome text for a CAT0 decision; the remaining
	// categories carry a fixed time penalty plus penalty points.
	Cat0Text string `yaml:"cat0_text" env:"RC_SANCTION_CAT0" env-default:"No further action"`
}
