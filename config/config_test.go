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
	"os"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
)

func TestUnmarshal(t *testing.T) {
	data, err := os.ReadFile("config.toml.template")
	assert.NoError(t, err)
	text := string(data)
	text = strings.Replace(text, "data_store = \"\"", "data_store = \"sqlite://reelrank.db\"", -1)
	text = strings.Replace(text, "jwt_secret = \"\"", "jwt_secret = \"19260817\"", -1)
	viper.SetConfigType("toml")
	err = viper.ReadConfig(strings.NewReader(text))
	assert.NoError(t, err)
	var config Config
	err = viper.Unmarshal(&config)
	assert.NoError(t, err)

	// [database]
	assert.Equal(t, "sqlite://reelrank.db", config.Database.DataStore)
	assert.Equal(t, "reelrank_", config.Database.TablePrefix)
	// [server]
	assert.Equal(t, "0.0.0.0", config.Server.HttpHost)
	assert.Equal(t, 8087, config.Server.HttpPort)
	assert.Equal(t, 10, config.Server.DefaultN)
	assert.Equal(t, "19260817", config.Server.JWTSecret)
	assert.Equal(t, 24*time.Hour, config.Server.TokenTTL)
	// [recommend]
	assert.Equal(t, 5, config.Recommend.ActiveUserThreshold)
	assert.Equal(t, 10000, config.Recommend.MaxCandidates)
}

func TestSetDefault(t *testing.T) {
	setDefault()
	err := viper.ReadConfig(strings.NewReader(""))
	assert.NoError(t, err)
	var config Config
	err = viper.Unmarshal(&config)
	assert.NoError(t, err)
	assert.Equal(t, GetDefaultConfig(), &config)
}

type environmentVariable struct {
	key   string
	value string
}

func TestBindEnv(t *testing.T) {
	variables := []environmentVariable{
		{"REELRANK_DATA_STORE", "sqlite://env.db"},
		{"REELRANK_TABLE_PREFIX", "env_"},
		{"REELRANK_SERVER_HTTP_HOST", "127.0.0.1"},
		{"REELRANK_SERVER_HTTP_PORT", "9000"},
		{"REELRANK_SERVER_JWT_SECRET", "env_secret"},
		{"REELRANK_RECOMMEND_MODEL_PATH", "/tmp/model.bin"},
	}
	for _, variable := range variables {
		t.Setenv(variable.key, variable.value)
	}

	config, err := LoadConfig("config.toml.template")
	assert.NoError(t, err)
	assert.Equal(t, "sqlite://env.db", config.Database.DataStore)
	assert.Equal(t, "env_", config.Database.TablePrefix)
	assert.Equal(t, "127.0.0.1", config.Server.HttpHost)
	assert.Equal(t, 9000, config.Server.HttpPort)
	assert.Equal(t, "env_secret", config.Server.JWTSecret)
	assert.Equal(t, "/tmp/model.bin", config.Recommend.ModelPath)

	// check default values
	assert.Equal(t, 10, config.Server.DefaultN)
	assert.Equal(t, 5, config.Recommend.ActiveUserThreshold)
}

func TestValidate(t *testing.T) {
	config := GetDefaultConfig()
	config.Database.DataStore = "sqlite://reelrank.db"
	assert.NoError(t, config.Validate())
	// unknown database scheme
	config.Database.DataStore = "redis://localhost:6379"
	assert.Error(t, config.Validate())
	// missing database
	config.Database.DataStore = ""
	assert.Error(t, config.Validate())
	// invalid threshold
	config.Database.DataStore = "sqlite://reelrank.db"
	config.Recommend.ActiveUserThreshold = 0
	assert.Error(t, config.Validate())
}
