// Copyright 2024 ReelRank Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/juju/errors"
	"github.com/spf13/viper"

	"github.com/reelrank/reelrank/storage"
)

// Config is the configuration of the recommendation server.
type Config struct {
	Database  DatabaseConfig  `mapstructure:"database"`
	Server    ServerConfig    `mapstructure:"server"`
	Recommend RecommendConfig `mapstructure:"recommend"`
}

type DatabaseConfig struct {
	DataStore   string `mapstructure:"data_store" validate:"required,data_store"`
	TablePrefix string `mapstructure:"table_prefix"`
}

type ServerConfig struct {
	HttpHost  string        `mapstructure:"http_host"`
	HttpPort  int           `mapstructure:"http_port" validate:"gt=0"`
	DefaultN  int           `mapstructure:"default_n" validate:"gt=0"`
	JWTSecret string        `mapstructure:"jwt_secret"`
	TokenTTL  time.Duration `mapstructure:"token_ttl" validate:"gt=0"`
}

type RecommendConfig struct {
	ActiveUserThreshold int    `mapstructure:"active_user_threshold" validate:"gt=0"`
	MaxCandidates       int    `mapstructure:"max_candidates" validate:"gt=0"`
	ModelPath           string `mapstructure:"model_path"`
}

// GetDefaultConfig returns a config with default values.
func GetDefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			TablePrefix: "reelrank_",
		},
		Server: ServerConfig{
			HttpHost: "0.0.0.0",
			HttpPort: 8087,
			DefaultN: 10,
			TokenTTL: 24 * time.Hour,
		},
		Recommend: RecommendConfig{
			ActiveUserThreshold: 5,
			MaxCandidates:       10000,
		},
	}
}

func setDefault() {
	defaultConfig := GetDefaultConfig()
	// [database]
	viper.SetDefault("database.table_prefix", defaultConfig.Database.TablePrefix)
	// [server]
	viper.SetDefault("server.http_host", defaultConfig.Server.HttpHost)
	viper.SetDefault("server.http_port", defaultConfig.Server.HttpPort)
	viper.SetDefault("server.default_n", defaultConfig.Server.DefaultN)
	viper.SetDefault("server.token_ttl", defaultConfig.Server.TokenTTL)
	// [recommend]
	viper.SetDefault("recommend.active_user_threshold", defaultConfig.Recommend.ActiveUserThreshold)
	viper.SetDefault("recommend.max_candidates", defaultConfig.Recommend.MaxCandidates)
}

type configBinding struct {
	key string
	env string
}

// LoadConfig loads configuration from a TOML file. Environment variables
// override values from the file.
func LoadConfig(path string) (*Config, error) {
	// set default config
	setDefault()

	// bind environment variables
	bindings := []configBinding{
		{"database.data_store", "REELRANK_DATA_STORE"},
		{"database.table_prefix", "REELRANK_TABLE_PREFIX"},
		{"server.http_host", "REELRANK_SERVER_HTTP_HOST"},
		{"server.http_port", "REELRANK_SERVER_HTTP_PORT"},
		{"server.jwt_secret", "REELRANK_SERVER_JWT_SECRET"},
		{"recommend.model_path", "REELRANK_RECOMMEND_MODEL_PATH"},
	}
	for _, binding := range bindings {
		if err := viper.BindEnv(binding.key, binding.env); err != nil {
			return nil, errors.Trace(err)
		}
	}

	// load config file
	viper.SetConfigType("toml")
	viper.SetConfigFile(path)
	if err := viper.ReadInConfig(); err != nil {
		return nil, errors.Trace(err)
	}

	// unmarshal config file
	var conf Config
	if err := viper.Unmarshal(&conf); err != nil {
		return nil, errors.Trace(err)
	}
	if err := conf.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return &conf, nil
}

// Validate checks the config against the schema.
func (config *Config) Validate() error {
	validate := validator.New()
	if err := validate.RegisterValidation("data_store", func(fl validator.FieldLevel) bool {
		prefixes := []string{
			storage.MySQLPrefix,
			storage.PostgresPrefix,
			storage.PostgreSQLPrefix,
			storage.SQLitePrefix,
		}
		for _, prefix := range prefixes {
			if strings.HasPrefix(fl.Field().String(), prefix) {
				return true
			}
		}
		return false
	}); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(validate.Struct(config))
}
