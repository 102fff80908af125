package sdkloader

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/snowmerak/sdkloader.go/lib/isolation"
	"github.com/snowmerak/sdkloader.go/lib/locator"
	"github.com/snowmerak/sdkloader.go/lib/logging"
)

// EnvPrefix prefixes environment overrides, e.g. SDKLOADER_ARCHIVE_PATH.
const EnvPrefix = "SDKLOADER"

const (
	DefaultArchiveName        = "tfs-impl.jar"
	DefaultResourcePrefix     = "tfssdk/native/"
	DefaultNativePathProperty = "com.microsoft.tfs.jni.native.base-directory"
	DefaultNativePathEnv      = "TFS_NATIVE_BASE_DIRECTORY"
	DefaultAdapterSymbol      = "com.thoughtworks.go.tfssdk.TfsSDKCommandTCLAdapter"
	DefaultCallTimeout        = 30 * time.Second
)

// Config controls where the adapter archive is found and how its runtime is prepared.
type Config struct {
	// ArchivePath is a path or URL of the archive. When empty the archive is
	// searched for by ArchiveName in SearchDirs and next to the executable.
	ArchivePath        string         `mapstructure:"archive_path"`
	ArchiveName        string         `mapstructure:"archive_name"`
	SearchDirs         []string       `mapstructure:"search_dirs"`
	ResourcePrefix     string         `mapstructure:"resource_prefix"`
	NativePathProperty string         `mapstructure:"native_path_property"`
	NativePathEnv      string         `mapstructure:"native_path_env"`
	AdapterSymbol      string         `mapstructure:"adapter_symbol"`
	DelegatedSymbols   []string       `mapstructure:"delegated_symbols"`
	TempDir            string         `mapstructure:"temp_dir"`
	CallTimeout        time.Duration  `mapstructure:"call_timeout"`
	Log                logging.Config `mapstructure:"log"`
}

func DefaultConfig() Config {
	return Config{
		ArchiveName:        DefaultArchiveName,
		SearchDirs:         []string{"."},
		ResourcePrefix:     DefaultResourcePrefix,
		NativePathProperty: DefaultNativePathProperty,
		NativePathEnv:      DefaultNativePathEnv,
		AdapterSymbol:      DefaultAdapterSymbol,
		DelegatedSymbols:   append([]string(nil), isolation.DefaultDelegated...),
		CallTimeout:        DefaultCallTimeout,
		Log:                logging.DefaultConfig(),
	}
}

// SetDefaults registers the default of every key on v.
func SetDefaults(v *viper.Viper) {
	d := DefaultConfig()
	v.SetDefault("archive_path", d.ArchivePath)
	v.SetDefault("archive_name", d.ArchiveName)
	v.SetDefault("search_dirs", d.SearchDirs)
	v.SetDefault("resource_prefix", d.ResourcePrefix)
	v.SetDefault("native_path_property", d.NativePathProperty)
	v.SetDefault("native_path_env", d.NativePathEnv)
	v.SetDefault("adapter_symbol", d.AdapterSymbol)
	v.SetDefault("delegated_symbols", d.DelegatedSymbols)
	v.SetDefault("temp_dir", d.TempDir)
	v.SetDefault("call_timeout", d.CallTimeout)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
}

// LoadConfig reads the configuration from v, with SDKLOADER_* environment
// variables overriding file values.
func LoadConfig(v *viper.Viper) (Config, error) {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to decode configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the settings that have no usable zero value.
func (c Config) Validate() error {
	if c.ArchivePath == "" && c.ArchiveName == "" {
		return fmt.Errorf("either archive_path or archive_name must be set")
	}
	if c.ResourcePrefix == "" {
		return fmt.Errorf("resource_prefix must not be empty")
	}
	if c.NativePathProperty == "" {
		return fmt.Errorf("native_path_property must not be empty")
	}
	if c.AdapterSymbol == "" {
		return fmt.Errorf("adapter_symbol must not be empty")
	}
	if c.CallTimeout < 0 {
		return fmt.Errorf("call_timeout must not be negative")
	}
	return nil
}

// Locator returns the archive locator described by c.
func (c Config) Locator() locator.Locator {
	if c.ArchivePath != "" {
		return locator.Static(c.ArchivePath)
	}

	dirs := append([]string(nil), c.SearchDirs...)
	if exe, err := os.Executable(); err == nil {
		dirs = append(dirs, filepath.Dir(exe))
	}
	return locator.Search{Dirs: dirs, Name: c.ArchiveName}
}
