/*
 * Copyright (c) 2026 Firefly Software Solutions Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

/*
Package config loads partition-engine configuration with the same
precedence flydb/internal/config used: flags > environment > file >
defaults. github.com/spf13/viper does the merging here instead of a
hand-rolled TOML reader.

Configuration file format (YAML, since viper's default reader for this
module is YAML rather than flydb's TOML, to exercise the file formats
viper's own example configs use elsewhere in the pack):

	partition_id: 0
	listen_addr: "127.0.0.1:21212"
	metrics_addr: "127.0.0.1:9102"
	plan_cache_capacity: 1000
	log_level: "info"
	log_json: true

Environment variables (prefixed FLYENGINE_, e.g. FLYENGINE_LISTEN_ADDR):
  - FLYENGINE_PARTITION_ID
  - FLYENGINE_LISTEN_ADDR
  - FLYENGINE_METRICS_ADDR
  - FLYENGINE_PLAN_CACHE_CAPACITY
  - FLYENGINE_LOG_LEVEL
  - FLYENGINE_LOG_JSON

The configuration file path comes only from Load's configFile argument.
*/
package config

import (
	"strings"

	"github.com/spf13/viper"
)

// Config is the engine process's resolved configuration. PlanCacheCapacity
// and LogJSON are resolved but not applied: the engine builds its plan
// cache with the fixed plancache.Capacity, and internal/logging emits JSON
// regardless of LogJSON.
type Config struct {
	PartitionID       int64
	ListenAddr        string
	MetricsAddr       string
	PlanCacheCapacity int
	LogLevel          string
	LogJSON           bool
}

// Load resolves configuration from defaults, an optional file, the
// environment, and flagOverrides (typically parsed by cobra/pflag in
// cmd/flyengine), in that increasing order of precedence.
func Load(configFile string, flagOverrides map[string]any) (*Config, error) {
	v := viper.New()

	v.SetDefault("partition_id", 0)
	v.SetDefault("listen_addr", "127.0.0.1:21212")
	v.SetDefault("metrics_addr", "127.0.0.1:9102")
	v.SetDefault("plan_cache_capacity", 1000)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_json", true)

	v.SetEnvPrefix("flyengine")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	for k, val := range flagOverrides {
		v.Set(k, val)
	}

	return &Config{
		PartitionID:       v.GetInt64("partition_id"),
		ListenAddr:        v.GetString("listen_addr"),
		MetricsAddr:       v.GetString("metrics_addr"),
		PlanCacheCapacity: v.GetInt("plan_cache_capacity"),
		LogLevel:          v.GetString("log_level"),
		LogJSON:           v.GetBool("log_json"),
	}, nil
}
