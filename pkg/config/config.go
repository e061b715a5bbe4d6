// Package config loads daemon and partition configuration via Viper,
// the way deploymenttheory-go-apfs's device config loader does: config
// file plus environment override, unmarshaled into a plain struct.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/sls-project/sls/pkg/types"
)

// DaemonConfig holds the settings for the sls daemon itself: listen
// addresses, the partition registry location, and logging.
type DaemonConfig struct {
	DataDir     string `mapstructure:"data_dir"`
	MetricsAddr string `mapstructure:"metrics_addr"`
	LogLevel    string `mapstructure:"log_level"`
	LogJSON     bool   `mapstructure:"log_json"`
}

// PartitionFileConfig mirrors types.PartitionConfig in a form Viper can
// unmarshal from YAML (durations and backend kinds are strings on the
// wire, converted by ToPartitionConfig).
type PartitionFileConfig struct {
	Target        string        `mapstructure:"target"`
	TargetPath    string        `mapstructure:"target_path"`
	Mode          string        `mapstructure:"mode"`
	Period        time.Duration `mapstructure:"period"`
	Flags         uint32        `mapstructure:"flags"`
	Amplification int           `mapstructure:"amplification"`
}

// ToPartitionConfig converts the file form into the runtime type,
// rejecting unknown backend kinds and modes at the boundary.
func (p PartitionFileConfig) ToPartitionConfig() (types.PartitionConfig, error) {
	var target types.BackendKind
	switch p.Target {
	case "file":
		target = types.BackendFile
	case "store":
		target = types.BackendStore
	case "pm":
		target = types.BackendPM
	default:
		return types.PartitionConfig{}, fmt.Errorf("unknown backend target %q", p.Target)
	}

	var mode types.Mode
	switch p.Mode {
	case "", "full":
		mode = types.ModeFull
	case "delta":
		mode = types.ModeDelta
	default:
		return types.PartitionConfig{}, fmt.Errorf("unknown mode %q", p.Mode)
	}

	return types.PartitionConfig{
		Target:        target,
		TargetPath:    p.TargetPath,
		Mode:          mode,
		Period:        p.Period,
		Flags:         p.Flags,
		Amplification: p.Amplification,
	}, nil
}

// Load reads sls.yaml from the usual search paths plus SLS_-prefixed
// environment overrides, applying defaults for anything unset.
func Load() (*DaemonConfig, error) {
	viper.SetConfigName("sls")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("$HOME/.sls")
	viper.AddConfigPath("/etc/sls")

	viper.SetDefault("data_dir", "/var/lib/sls")
	viper.SetDefault("metrics_addr", ":9090")
	viper.SetDefault("log_level", "info")
	viper.SetDefault("log_json", false)

	viper.SetEnvPrefix("SLS")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg DaemonConfig
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return &cfg, nil
}

// LoadPartitions reads the `partitions` map from the same config tree,
// keyed by oid, for daemons that bring up partitions declaratively
// instead of solely via partadd.
func LoadPartitions() (map[types.OID]types.PartitionConfig, error) {
	raw := viper.Get("partitions")
	if raw == nil {
		return nil, nil
	}

	var fileConfigs map[uint64]PartitionFileConfig
	if err := viper.UnmarshalKey("partitions", &fileConfigs); err != nil {
		return nil, fmt.Errorf("unmarshaling partitions: %w", err)
	}

	out := make(map[types.OID]types.PartitionConfig, len(fileConfigs))
	for oid, fc := range fileConfigs {
		pc, err := fc.ToPartitionConfig()
		if err != nil {
			return nil, fmt.Errorf("partition %d: %w", oid, err)
		}
		out[types.OID(oid)] = pc
	}
	return out, nil
}
