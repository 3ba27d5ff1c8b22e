package logging

const (
	BaseDataDir   = "data"
	LogsDir       = "logs"
	LogFileFormat = "2006-01-02.log" // for daily files
	TimeFormat    = "2006-01-02 15:04:05"
)

type ProcessName string

const (
	OperatorProcess ProcessName = "operator"
	CLIProcess      ProcessName = "cli"
	TestProcess     ProcessName = "test"
)

type LoggerConfig struct {
	LogDir        string
	ProcessName   ProcessName
	IsDevelopment bool

	// Rotation limits for the file sink; zero values fall back to the defaults below.
	MaxSizeMB  int
	MaxAgeDays int
	MaxBackups int
}

const (
	defaultMaxSizeMB  = 50
	defaultMaxAgeDays = 14
	defaultMaxBackups = 10
)

func NewDefaultConfig(processName ProcessName) LoggerConfig {
	return LoggerConfig{
		LogDir:        BaseDataDir,
		ProcessName:   processName,
		IsDevelopment: true,
		MaxSizeMB:     defaultMaxSizeMB,
		MaxAgeDays:    defaultMaxAgeDays,
		MaxBackups:    defaultMaxBackups,
	}
}

func (c LoggerConfig) withDefaults() LoggerConfig {
	if c.LogDir == "" {
		c.LogDir = BaseDataDir
	}
	if c.ProcessName == "" {
		c.ProcessName = OperatorProcess
	}
	if c.MaxSizeMB <= 0 {
		c.MaxSizeMB = defaultMaxSizeMB
	}
	if c.MaxAgeDays <= 0 {
		c.MaxAgeDays = defaultMaxAgeDays
	}
	if c.MaxBackups <= 0 {
		c.MaxBackups = defaultMaxBackups
	}
	return c
}
