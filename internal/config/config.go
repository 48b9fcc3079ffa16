// Package config resolves options with precedence command-line > environment
// (PGBACKREST_<OPTION>) > config file > default, the thin layer the cobra
// command tree in internal/cli binds against (spec §6, Environment
// variables).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the fully-resolved option set for one command invocation. Not
// every field applies to every command; the cli package picks the subset
// it needs, mirroring the teacher's practice of one flat struct shared
// across the RunE closures.
type Config struct {
	Stanza string

	RepoPath   string
	RepoType   string // posix|sftp|s3|gcs|azure
	RepoS3Bucket    string
	RepoS3Endpoint  string
	RepoS3Region    string
	RepoS3Key       string
	RepoS3KeySecret string
	RepoGCSBucket   string
	RepoGCSKey      string
	RepoAzureContainer string
	RepoAzureAccount   string
	RepoAzureKey       string
	RepoSFTPHost string
	RepoSFTPUser string
	RepoSFTPKey  string

	PGHost string
	PGPort int
	PGUser string
	PGData string
	PGDatabase string

	SpoolPath string

	CompressType  string // none|gzip|lz4|zst
	CompressLevel int
	CipherType    string // none|aes-256-cbc
	CipherPass    string

	ArchiveAsync    bool
	ArchiveTimeout  float64
	ArchiveQueueMax int64

	DbTimeout       float64
	ProtocolTimeout float64

	LockPath string

	ProcessMax int
	Fast       bool
	Delta      bool
	Force      bool

	DBInclude []string
	DBExclude []string

	LogLevelConsole string
	LogLevelFile    string
	LogSubprocess   bool

	ConfigFile string
}

// Load reads a YAML config file (if path is non-empty and exists) into a
// map used as the lowest-precedence layer; cli flag binding and Env then
// override individual fields on top of it, matching the precedence order
// command-line > environment > config file > default.
func Load(path string) (map[string]any, error) {
	if path == "" {
		return map[string]any{}, nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return map[string]any{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}
	var m map[string]any
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}
	if m == nil {
		m = map[string]any{}
	}
	return m, nil
}

// ReconcileTimeouts enforces db-timeout < protocol-timeout at config load:
// protocol-timeout bounds the whole remote/db round trip db-timeout waits
// inside, so it must leave room for a db-timeout expiry to surface as a
// DbConnectError rather than being preempted by the outer protocol deadline
// first. When the configured values don't satisfy that, protocol-timeout is
// auto-fixed to dbTimeout+30s and fixed reports true.
func ReconcileTimeouts(dbTimeout, protocolTimeout float64) (resolved float64, fixed bool) {
	if protocolTimeout > dbTimeout {
		return protocolTimeout, false
	}
	return dbTimeout + 30, true
}

// EnvKey builds the PGBACKREST_<OPTION> variable name for option, e.g.
// "repo1-type" -> "PGBACKREST_REPO1_TYPE".
func EnvKey(option string) string {
	u := strings.ToUpper(option)
	u = strings.ReplaceAll(u, "-", "_")
	return "PGBACKREST_" + u
}

// StringOpt resolves one string option using the full precedence chain.
// flagVal/flagSet come from cobra (pflag.Changed); fileVal is the decoded
// config-file layer; def is the default.
func StringOpt(option, flagVal string, flagSet bool, fileVal map[string]any, def string) string {
	if flagSet {
		return flagVal
	}
	if v := os.Getenv(EnvKey(option)); v != "" {
		return v
	}
	if fileVal != nil {
		if v, ok := fileVal[option]; ok {
			if s, ok := v.(string); ok {
				return s
			}
		}
	}
	return def
}

// IntOpt resolves one integer option using the same precedence chain.
func IntOpt(option string, flagVal int, flagSet bool, fileVal map[string]any, def int) int {
	if flagSet {
		return flagVal
	}
	if v := os.Getenv(EnvKey(option)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	if fileVal != nil {
		if v, ok := fileVal[option]; ok {
			switch t := v.(type) {
			case int:
				return t
			case float64:
				return int(t)
			}
		}
	}
	return def
}

// FloatOpt resolves one floating-point option using the same precedence
// chain.
func FloatOpt(option string, flagVal float64, flagSet bool, fileVal map[string]any, def float64) float64 {
	if flagSet {
		return flagVal
	}
	if v := os.Getenv(EnvKey(option)); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	if fileVal != nil {
		if v, ok := fileVal[option]; ok {
			switch t := v.(type) {
			case float64:
				return t
			case int:
				return float64(t)
			}
		}
	}
	return def
}

// BoolOpt resolves one boolean option using the same precedence chain.
func BoolOpt(option string, flagVal bool, flagSet bool, fileVal map[string]any, def bool) bool {
	if flagSet {
		return flagVal
	}
	if v := os.Getenv(EnvKey(option)); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	if fileVal != nil {
		if v, ok := fileVal[option]; ok {
			if b, ok := v.(bool); ok {
				return b
			}
		}
	}
	return def
}
