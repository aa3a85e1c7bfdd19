// Package config loads tmpstore settings from defaults, an optional
// tmpstore.yaml, and TMPSTORE_* environment variables, in increasing
// order of precedence.
package config

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/t7a/tmpstore/store"
)

// Name is the base name of the config file and the env prefix.
const Name = "tmpstore"

type Config struct {
	Dir         string `mapstructure:"dir"`
	Flush       bool   `mapstructure:"flush"`
	Keep        bool   `mapstructure:"keep"`
	Algo        string `mapstructure:"algo"`
	ChunkSize   int    `mapstructure:"chunk_size"`
	Debug       bool   `mapstructure:"debug"`
	Concurrency int    `mapstructure:"concurrency"`

	// File is the config file that was read, if any.
	File string `mapstructure:"-"`
}

// DefaultDir is where the store lives unless configured otherwise.
func DefaultDir() string {
	return filepath.Join(os.TempDir(), Name)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("dir", DefaultDir())
	v.SetDefault("flush", false)
	v.SetDefault("keep", true)
	v.SetDefault("algo", store.DefaultAlgo)
	v.SetDefault("chunk_size", store.DefaultChunkSize)
	v.SetDefault("debug", false)
	v.SetDefault("concurrency", 4)
}

// Load reads tmpstore.yaml from each of paths in turn, stopping at the
// first one found; with no paths the working directory is searched.  A
// missing file is not an error.
func Load(paths ...string) (conf *Config, err error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName(Name)
	v.SetConfigType("yaml")
	if len(paths) == 0 {
		paths = []string{"."}
	}
	for _, path := range paths {
		v.AddConfigPath(path)
	}

	v.SetEnvPrefix(Name)
	v.AutomaticEnv()

	err = v.ReadInConfig()
	if err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, errors.Wrap(err, "read config")
		}
		log.Debugf("no config file, using defaults and environment")
	}

	conf = &Config{}
	err = v.Unmarshal(conf)
	if err != nil {
		return nil, errors.Wrap(err, "decode config")
	}
	conf.File = v.ConfigFileUsed()

	if conf.Concurrency < 1 {
		conf.Concurrency = 1
	}
	log.Debugf("config %+v", *conf)
	return
}

// Store returns an unopened Store built from c.
func (c *Config) Store() store.Store {
	return store.Store{
		Dir:       c.Dir,
		Algo:      c.Algo,
		ChunkSize: c.ChunkSize,
		Flush:     c.Flush,
		Keep:      c.Keep,
	}
}
