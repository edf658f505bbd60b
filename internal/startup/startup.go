package startup

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"time"

	"github.com/sonicdm/pyLapse/internal/logging"
)

// Build-time variables (injected via -ldflags)
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
	GoVersion = runtime.Version()
)

// BuildInfo contains version and build information
type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"buildTime"`
	GoVersion string `json:"goVersion"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
}

// GetBuildInfo returns the current build information
func GetBuildInfo() BuildInfo {
	return BuildInfo{
		Version:   Version,
		Commit:    Commit,
		BuildTime: BuildTime,
		GoVersion: GoVersion,
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
	}
}

// Config holds all application configuration. Environment variables
// provide the defaults; command-line flags override them afterwards.
type Config struct {
	InputDir   string
	OutputDir  string
	HistoryDir string

	Ext   string
	Mask  string
	Fuzzy int

	Workers int
	Batched bool

	Quality int
	Width   int
	Height  int

	MetricsAddr    string
	MetricsEnabled bool

	// Derived paths
	HistoryPath string

	// History requires a writable directory; disabled when unavailable.
	HistoryEnabled bool
}

// LoadConfig loads configuration defaults from environment variables.
func LoadConfig() *Config {
	printBanner()
	logSystemInfo()

	logging.Info("------------------------------------------------------------")
	logging.Info("CONFIGURATION")
	logging.Info("------------------------------------------------------------")

	config := &Config{
		InputDir:       getEnv("LAPSE_INPUT_DIR", ""),
		OutputDir:      getEnv("LAPSE_OUTPUT_DIR", ""),
		HistoryDir:     getEnv("LAPSE_HISTORY_DIR", ""),
		Ext:            getEnv("LAPSE_EXT", "jpg"),
		Mask:           getEnv("LAPSE_MASK", "*"),
		Fuzzy:          getEnvInt("LAPSE_FUZZY", 5),
		Quality:        getEnvInt("LAPSE_QUALITY", 50),
		Width:          getEnvInt("LAPSE_WIDTH", 1920),
		Height:         getEnvInt("LAPSE_HEIGHT", 1080),
		MetricsAddr:    getEnv("METRICS_ADDR", ":9090"),
		MetricsEnabled: getEnvBool("METRICS_ENABLED", false),
	}

	logging.Info("  LAPSE_INPUT_DIR:    %s", orUnset(config.InputDir))
	logging.Info("  LAPSE_OUTPUT_DIR:   %s", orUnset(config.OutputDir))
	logging.Info("  LAPSE_HISTORY_DIR:  %s", orUnset(config.HistoryDir))
	logging.Info("  LAPSE_EXT:          %s", config.Ext)
	logging.Info("  LAPSE_FUZZY:        %d", config.Fuzzy)
	logging.Info("  METRICS_ADDR:       %s", config.MetricsAddr)
	logging.Info("  METRICS_ENABLED:    %v", config.MetricsEnabled)
	logging.Info("  LOG_LEVEL:          %s", logging.GetLevel())

	return config
}

// Validate resolves paths and checks the directories the run needs.
// The input directory must exist; the output directory is created.
// History is optional and disabled when its directory is unusable.
func (c *Config) Validate() error {
	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("DIRECTORY SETUP")
	logging.Info("------------------------------------------------------------")

	if c.InputDir == "" {
		return fmt.Errorf("input directory is required")
	}
	if c.OutputDir == "" {
		return fmt.Errorf("output directory is required")
	}

	var err error
	c.InputDir, err = filepath.Abs(c.InputDir)
	if err != nil {
		return fmt.Errorf("failed to resolve input directory path: %w", err)
	}
	info, err := os.Stat(c.InputDir)
	if err != nil {
		return fmt.Errorf("input directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("input path %s is not a directory", c.InputDir)
	}
	logging.Info("  Input directory:  %s", c.InputDir)

	c.OutputDir, err = filepath.Abs(c.OutputDir)
	if err != nil {
		return fmt.Errorf("failed to resolve output directory path: %w", err)
	}
	if err := ensureDirectory(c.OutputDir, "output"); err != nil {
		return fmt.Errorf("output directory error: %w", err)
	}
	if err := testWriteAccess(c.OutputDir); err != nil {
		return fmt.Errorf("output directory is not writable: %w", err)
	}
	logging.Info("  Output directory: %s", c.OutputDir)

	if c.Fuzzy < 0 {
		return fmt.Errorf("fuzzy minutes must not be negative")
	}
	if c.Quality < 1 || c.Quality > 100 {
		return fmt.Errorf("quality must be between 1 and 100")
	}
	switch c.Ext {
	case "jpg", "jpeg", "png":
	default:
		return fmt.Errorf("unsupported output extension %q", c.Ext)
	}

	c.HistoryEnabled = false
	if c.HistoryDir != "" {
		c.HistoryDir, err = filepath.Abs(c.HistoryDir)
		if err != nil {
			return fmt.Errorf("failed to resolve history directory path: %w", err)
		}
		c.HistoryPath = filepath.Join(c.HistoryDir, "pylapse.db")
		c.HistoryEnabled = setupOptionalDir(c.HistoryDir, "history")
	}

	logging.Info("")
	logging.Info("  Feature availability:")
	logging.Info("    History: %s", enabledString(c.HistoryEnabled))
	logging.Info("    Metrics: %s", enabledString(c.MetricsEnabled))

	return nil
}

func setupOptionalDir(path, name string) bool {
	logging.Debug("  Setting up %s directory: %s", name, path)

	if err := os.MkdirAll(path, 0o755); err != nil {
		logging.Warn("    Failed to create %s directory: %v", name, err)
		logging.Warn("    %s will be disabled", name)
		return false
	}

	if err := testWriteAccess(path); err != nil {
		logging.Warn("    %s directory is not writable: %v", name, err)
		logging.Warn("    %s will be disabled", name)
		return false
	}

	logging.Debug("    [OK] %s directory ready", name)
	return true
}

func enabledString(enabled bool) string {
	if enabled {
		return "ENABLED"
	}
	return "DISABLED"
}

// LogRunStarted logs the start of a selection and export run.
func LogRunStarted(selection string, workers int, batched bool) {
	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("EXPORT RUN")
	logging.Info("------------------------------------------------------------")
	logging.Info("  Selection: %s", selection)
	logging.Info("  Workers:   %d", workers)
	if batched {
		logging.Info("  Strategy:  batched")
	} else {
		logging.Info("  Strategy:  threaded")
	}
}

// LogShutdownInitiated logs the beginning of shutdown
func LogShutdownInitiated(signal string) {
	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("SHUTDOWN (%s)", signal)
	logging.Info("------------------------------------------------------------")
}

// LogFatal logs a fatal error and exits
func LogFatal(format string, args ...interface{}) {
	logging.Fatal(format, args...)
}

// Helper functions

func printBanner() {
	banner := `
------------------------------------------------------------
               __
    ____  __  _/ /   ____ _____  ________
   / __ \/ / / / /  / __ '/ __ \/ ___/ _ \
  / /_/ / /_/ / /__/ /_/ / /_/ (__  )  __/
 / .___/\__, /____/\__,_/ .___/____/\___/
/_/    /____/          /_/

------------------------------------------------------------`
	fmt.Println(banner)
	logging.Info("  Version:    %s", Version)
	logging.Info("  Commit:     %s", Commit)
	logging.Info("  Build Time: %s", BuildTime)
	logging.Info("  Started:    %s", time.Now().Format(time.RFC1123))
	logging.Info("")
}

func logSystemInfo() {
	logging.Info("------------------------------------------------------------")
	logging.Info("SYSTEM INFORMATION")
	logging.Info("------------------------------------------------------------")
	logging.Info("  Go version:      %s", runtime.Version())
	logging.Info("  OS/Arch:         %s/%s", runtime.GOOS, runtime.GOARCH)
	logging.Info("  CPUs available:  %d", runtime.NumCPU())
	logging.Info("  GOMAXPROCS:      %d", runtime.GOMAXPROCS(0))

	if runtime.GOMAXPROCS(0) < runtime.NumCPU() {
		logging.Info("  (Container CPU limit detected)")
	}

	if logging.IsDebugEnabled() {
		if wd, err := os.Getwd(); err == nil {
			logging.Debug("  Working dir:     %s", wd)
		}
		if hostname, err := os.Hostname(); err == nil {
			logging.Debug("  Hostname:        %s", hostname)
		}
	}

	logging.Info("")
}

func ensureDirectory(path, name string) error {
	logging.Debug("  Checking %s directory: %s", name, path)

	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		logging.Debug("    Directory does not exist, creating...")
		if err := os.MkdirAll(path, 0o755); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
		logging.Debug("    [OK] Created directory: %s", path)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to stat directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("path exists but is not a directory")
	}

	logging.Debug("    [OK] Directory exists")
	return nil
}

func testWriteAccess(dir string) error {
	testFile := filepath.Join(dir, ".write-test")
	if err := os.WriteFile(testFile, []byte("test"), 0o644); err != nil {
		return err
	}
	if err := os.Remove(testFile); err != nil {
		logging.Warn("failed to remove write test file %s: %v", testFile, err)
		// Write access was confirmed regardless.
	}
	return nil
}

func orUnset(value string) string {
	if value == "" {
		return "(unset)"
	}
	return value
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		logging.Warn("Invalid boolean value for %s: %q, using default: %v", key, value, defaultValue)
		return defaultValue
	}
	return parsed
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		logging.Warn("Invalid integer value for %s: %q, using default: %d", key, value, defaultValue)
		return defaultValue
	}
	return parsed
}
