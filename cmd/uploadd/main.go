// Copyright 2018-2024 CERN
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

// Command uploadd runs the upload service.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/PilotDataPlatform/upload/internal/http/services/health"
	"github.com/PilotDataPlatform/upload/internal/http/services/upload"
	"github.com/PilotDataPlatform/upload/pkg/config"
	"github.com/PilotDataPlatform/upload/pkg/events"
	"github.com/PilotDataPlatform/upload/pkg/folders"
	"github.com/PilotDataPlatform/upload/pkg/kv"
	"github.com/PilotDataPlatform/upload/pkg/lock"
	"github.com/PilotDataPlatform/upload/pkg/metadata"
	"github.com/PilotDataPlatform/upload/pkg/objstore"
	"github.com/PilotDataPlatform/upload/pkg/project"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	conf, err := config.Load()
	if err != nil {
		return err
	}

	log := zerolog.New(os.Stdout).With().
		Timestamp().
		Str("service", conf.AppName).
		Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := kv.NewRedis(kv.Options{
		Addr:     conf.RedisAddr(),
		Username: conf.Redis.User,
		Password: conf.Redis.Password,
		DB:       conf.Redis.DB,
	})
	if err != nil {
		return err
	}
	defer store.Close()

	obj, err := objstore.New(conf.Minio.Endpoint, conf.Minio.AccessKey, conf.Minio.SecretKey, conf.Minio.HTTPS)
	if err != nil {
		return err
	}
	stopProbe, err := obj.StartHealthCheck()
	if err != nil {
		return err
	}
	defer stopProbe()

	producer, err := events.NewProducer(conf.KafkaURL, conf.KafkaActivityTopic, conf.KafkaSchemaPath)
	if err != nil {
		return err
	}
	defer producer.Close()

	locks := lock.New(conf.DataopsServiceV2())
	catalog := metadata.New(conf.MetadataServiceV1(), conf.DataopsServiceV1())
	projects := project.New(conf.ProjectService)
	defer projects.Close()
	tree := folders.NewMaterializer(catalog, locks, conf.Zone(), conf.Namespace, conf.BucketPrefix())

	svc := upload.New(conf, log, store, obj, locks, catalog, projects, tree, producer)
	defer svc.Close()

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Mount("/", health.New(conf.AppName, conf.Version, store, obj).Routes())
	r.Mount("/v1", svc.Routes())

	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", conf.Host, conf.Port),
		Handler: r,
	}

	errc := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Str("namespace", conf.Namespace).Msg("upload service listening")
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	// deferred svc.Close drains the finalizer pool before the producer and
	// the store are closed
	return nil
}
