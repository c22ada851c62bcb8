// Copyright 2018-2023 CERN
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// In applying this license, CERN does not waive the privileges and immunities
// granted to it by virtue of its status as an Intergovernmental Organization
// or submit itself to any jurisdiction.

// Package config loads the service configuration from the environment.
//
// Every knob is an environment variable; an optional .env file in the working
// directory is merged in with lower precedence. The variable names follow the
// deployment conventions of the platform (MINIO_ENDPOINT, REDIS_HOST, ...).
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// Zone labels as encoded in the metadata catalog.
const (
	ZoneGreenroom = 0
	ZoneCore      = 1
)

// Config holds the full service configuration.
type Config struct {
	AppName string `mapstructure:"app_name"`
	Version string `mapstructure:"version"`
	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`

	// Namespace selects the zone this deployment serves,
	// either "greenroom" or "core".
	Namespace string `mapstructure:"namespace" validate:"required,oneof=greenroom core"`

	RootPath       string `mapstructure:"root_path" validate:"required"`
	CoreZoneLabel  string `mapstructure:"core_zone_label"`
	GreenZoneLabel string `mapstructure:"green_zone_label"`

	// Collaborating services. The raw values are host:port base URLs;
	// versioned paths are derived through the accessors below.
	MetadataService string `mapstructure:"metadata_service" validate:"required"`
	DataopsService  string `mapstructure:"dataops_service" validate:"required"`
	ProjectService  string `mapstructure:"project_service" validate:"required"`

	KafkaURL           string `mapstructure:"kafka_url" validate:"required"`
	KafkaActivityTopic string `mapstructure:"kafka_activity_topic"`
	KafkaSchemaPath    string `mapstructure:"kafka_schema_path"`

	Minio MinioConfig `mapstructure:",squash"`
	Redis RedisConfig `mapstructure:",squash"`

	// Finalizer worker pool sizing.
	FinalizeWorkers int `mapstructure:"finalize_workers" validate:"gt=0"`
	FinalizeQueue   int `mapstructure:"finalize_queue" validate:"gt=0"`
}

// MinioConfig holds the object store connection settings.
type MinioConfig struct {
	Endpoint  string `mapstructure:"minio_endpoint" validate:"required"`
	HTTPS     bool   `mapstructure:"minio_https"`
	AccessKey string `mapstructure:"minio_access_key" validate:"required"`
	SecretKey string `mapstructure:"minio_secret_key" validate:"required"`
}

// RedisConfig holds the session store connection settings.
type RedisConfig struct {
	Host     string `mapstructure:"redis_host" validate:"required"`
	Port     int    `mapstructure:"redis_port"`
	DB       int    `mapstructure:"redis_db"`
	User     string `mapstructure:"redis_user"`
	Password string `mapstructure:"redis_password"`
}

var env = [...]string{
	"app_name", "version", "host", "port", "namespace",
	"root_path", "core_zone_label", "green_zone_label",
	"metadata_service", "dataops_service", "project_service",
	"kafka_url", "kafka_activity_topic", "kafka_schema_path",
	"minio_endpoint", "minio_https", "minio_access_key", "minio_secret_key",
	"redis_host", "redis_port", "redis_db", "redis_user", "redis_password",
	"finalize_workers", "finalize_queue",
}

// Load reads the configuration from the environment and an optional .env
// file and validates it.
func Load() (*Config, error) {
	v := viper.New()

	v.SetDefault("app_name", "service_upload")
	v.SetDefault("version", "1.0.0")
	v.SetDefault("host", "0.0.0.0")
	v.SetDefault("port", 5079)
	v.SetDefault("redis_port", 6379)
	v.SetDefault("redis_user", "default")
	v.SetDefault("core_zone_label", "Core")
	v.SetDefault("green_zone_label", "Greenroom")
	v.SetDefault("kafka_activity_topic", "metadata.items.activity")
	v.SetDefault("kafka_schema_path", "schemas/metadata_items_activity.avsc")
	v.SetDefault("finalize_workers", 8)
	v.SetDefault("finalize_queue", 32)

	if _, err := os.Stat(".env"); err == nil {
		v.SetConfigFile(".env")
		v.SetConfigType("env")
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrap(err, "config: error reading .env file")
		}
	}

	v.AutomaticEnv()
	for _, key := range env {
		// bind lowercase struct keys to their UPPER_CASE env counterparts
		_ = v.BindEnv(key, strings.ToUpper(key), key)
	}

	c := &Config{}
	if err := v.Unmarshal(c); err != nil {
		return nil, errors.Wrap(err, "config: error decoding configuration")
	}

	if err := validator.New().Struct(c); err != nil {
		return nil, errors.Wrap(err, "config: invalid configuration")
	}
	return c, nil
}

// Zone returns the numeric zone this deployment serves.
func (c *Config) Zone() int {
	if c.Namespace == "greenroom" {
		return ZoneGreenroom
	}
	return ZoneCore
}

// ZoneLabel returns the display label of the configured zone.
func (c *Config) ZoneLabel() string {
	if c.Namespace == "greenroom" {
		return c.GreenZoneLabel
	}
	return c.CoreZoneLabel
}

// BucketPrefix returns the bucket name prefix of the configured zone.
func (c *Config) BucketPrefix() string {
	if c.Namespace == "greenroom" {
		return "gr-"
	}
	return "core-"
}

// Bucket returns the object-store bucket backing the given project.
func (c *Config) Bucket(projectCode string) string {
	return c.BucketPrefix() + projectCode
}

// MetadataServiceV1 returns the versioned base URL of the metadata catalog.
func (c *Config) MetadataServiceV1() string {
	return strings.TrimRight(c.MetadataService, "/") + "/v1/"
}

// DataopsServiceV1 returns the versioned base URL of the dataops utility.
func (c *Config) DataopsServiceV1() string {
	return strings.TrimRight(c.DataopsService, "/") + "/v1/"
}

// DataopsServiceV2 returns the v2 base URL of the dataops utility, which
// hosts the resource lock API.
func (c *Config) DataopsServiceV2() string {
	return strings.TrimRight(c.DataopsService, "/") + "/v2/"
}

// TempBase returns the scratch directory for archive preview downloads.
func (c *Config) TempBase() string {
	return strings.TrimRight(c.RootPath, "/") + "/tmp/upload"
}

// RedisAddr returns the host:port address of the session store.
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}
