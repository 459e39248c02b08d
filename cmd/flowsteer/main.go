// Copyright 2025 The flowsteer Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//   http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/flowsteer/flowsteer/pkg/log"
	"github.com/flowsteer/flowsteer/pkg/metrics"
	"github.com/flowsteer/flowsteer/pkg/private/processmetrics"
	"github.com/flowsteer/flowsteer/pkg/private/serrors"
	"github.com/flowsteer/flowsteer/pkg/steering"
	"github.com/flowsteer/flowsteer/pkg/steering/driver"
	"github.com/flowsteer/flowsteer/private/app"
	"github.com/flowsteer/flowsteer/private/app/command"
	"github.com/flowsteer/flowsteer/private/app/launcher"
	"github.com/flowsteer/flowsteer/private/env"
	api "github.com/flowsteer/flowsteer/private/mgmtapi"
	"github.com/flowsteer/flowsteer/private/steering/config"
	"github.com/flowsteer/flowsteer/private/steering/mgmtapi"
	"github.com/flowsteer/flowsteer/private/steering/program"
	"github.com/flowsteer/flowsteer/private/steering/ruleset"
	"github.com/flowsteer/flowsteer/private/storage"
)

var globalCfg config.Config

func main() {
	application := launcher.Application{
		TOMLConfig: &globalCfg,
		ShortName:  "flowsteer",
		Subcommands: []func(command.Pather) *cobra.Command{
			newCheck,
			newReplay,
		},
		Main: realMain,
	}
	application.Run()
}

func realMain(ctx context.Context) error {
	g, errCtx := errgroup.WithContext(ctx)
	var cleanup app.Cleanup

	setup, err := loadProgram(ctx, globalCfg)
	if err != nil {
		return err
	}
	cleanup.Add(func() error {
		// The service context is done at this point.
		ctx, cancel := context.WithTimeout(context.Background(), env.ShutdownGraceInterval)
		defer cancel()
		return setup.Close(ctx)
	})

	db, err := storage.NewRuleStorage(globalCfg.RulesDB)
	if err != nil {
		cleanup.Do()
		return serrors.Wrap("initializing rule storage", err)
	}
	if db != nil {
		cleanup.Add(db.Close)
	}
	rules := &ruleset.Manager{Setup: setup, DB: db}
	n, err := rules.Restore(ctx)
	if err != nil {
		cleanup.Do()
		return serrors.Wrap("restoring rules", err)
	}
	log.Info("Steering program loaded", "program", globalCfg.General.Program,
		"devices", len(setup.Devices), "restored_rules", n)

	g.Go(func() error {
		defer log.HandlePanic()
		<-errCtx.Done()
		return cleanup.Do()
	})

	ingress, err := program.NewIngress(setup,
		steering.RunConfig{NumProcessors: globalCfg.Steering.NumProcessors}, 0)
	if err != nil {
		return serrors.Wrap("initializing ingress", err)
	}
	g.Go(func() error {
		defer log.HandlePanic()
		return ingress.Run(errCtx)
	})

	// Initialize and start service management API.
	if globalCfg.API.Addr != "" {
		r := chi.NewRouter()
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: []string{"*"},
		}))
		server := mgmtapi.Server{
			Config:   api.NewConfigHandler(globalCfg),
			LogLevel: api.NewLogLevelHandler(),
			Rules:    rules,
			Ingress:  ingress,
		}
		log.Info("Exposing API", "addr", globalCfg.API.Addr)
		h := mgmtapi.Handler(&server, r, "/api/v1")
		mgmtServer := &http.Server{
			Addr:    globalCfg.API.Addr,
			Handler: h,
		}
		cleanup.Add(mgmtServer.Close)
		g.Go(func() error {
			defer log.HandlePanic()
			err := mgmtServer.ListenAndServe()
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				return serrors.Wrap("serving service management API", err)
			}
			return nil
		})
	}
	if err := processmetrics.Register(nil); err != nil {
		log.Error("Could not initialize process metrics", "err", err)
	}
	g.Go(func() error {
		defer log.HandlePanic()
		return globalCfg.Metrics.ServePrometheus(errCtx)
	})
	return g.Wait()
}

// loadProgram opens the devices of the configured program with the service
// defaults applied.
func loadProgram(ctx context.Context, cfg config.Config) (*program.Setup, error) {
	f, err := program.LoadFile(cfg.General.Program)
	if err != nil {
		return nil, serrors.Wrap("loading steering program", err,
			"program", cfg.General.Program)
	}
	s := cfg.Steering
	drv, err := driver.New(s.Driver)
	if err != nil {
		return nil, err
	}
	setup, err := program.Load(ctx, drv, f, program.Options{
		Domain: program.DomainDefaults(s.CommitModeValue(), s.SyncInterval.Duration,
			s.MaxHops, s.FlowCacheSize),
		Device: []steering.DeviceOption{
			steering.WithMetrics(steering.NewMetrics(metrics.NewFactory())),
		},
		QueueDepth: s.QueueDepth,
	})
	if err != nil {
		return nil, serrors.Wrap("instantiating steering program", err)
	}
	return setup, nil
}
