/*
 * Copyright 2019 THL A29 Limited, a Tencent company.
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

package app

import (
	goctx "context"
	goflag "flag"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"tkestack.io/node-balancer/cmd/node-balancer/app/config"
	"tkestack.io/node-balancer/cmd/node-balancer/app/context"
	"tkestack.io/node-balancer/pkg/logs"
	"tkestack.io/node-balancer/pkg/proxy"
	"tkestack.io/node-balancer/pkg/router"
	"tkestack.io/node-balancer/pkg/status"
	"tkestack.io/node-balancer/pkg/version"

	"github.com/spf13/cobra"
	"k8s.io/klog/v2"
)

func NewServer() *cobra.Command {
	cfg := config.NewConfig()
	rootCmd := &cobra.Command{
		Use:   "node-balancer",
		Short: "Balance TCP connections across the node ports of a Kubernetes service",
		Run: func(cmd *cobra.Command, args []string) {
			version.PrintAndExitIfRequested()
			logs.InitLogs()

			if err := cfg.Complete(); err != nil {
				klog.Fatalf("invalid configuration: %v", err)
			}
			if errs := cfg.Validate(); len(errs) > 0 {
				klog.Fatalf("invalid configuration: %v", errs.ToAggregate())
			}

			ctx, stop := signal.NotifyContext(goctx.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			run(ctx, cfg)
		},
	}

	fs := goflag.NewFlagSet(os.Args[0], goflag.ExitOnError)
	klog.InitFlags(fs)
	rootCmd.Flags().AddGoFlagSet(fs)
	cfg.AddFlags(rootCmd.Flags())
	logs.AddFlags(rootCmd.Flags())
	version.AddFlags(rootCmd.Flags())
	return rootCmd
}

func run(ctx goctx.Context, cfg *config.Config) {
	c := context.NewContext(cfg)
	c.Start()
	defer c.Stop()

	r := router.NewRouter(c.Client, router.Options{
		ServiceNamespace:  cfg.ServiceNamespace,
		ServiceName:       cfg.ServiceName,
		WatchRestartQPS:   cfg.WatchRestartQPS,
		WatchRestartBurst: cfg.WatchRestartBurst,
		ReseedMaxRetries:  cfg.ReseedMaxRetries,
		Recorder:          c.EventRecorder,
	})
	if err := r.Seed(ctx); err != nil {
		klog.Fatalf("seed routing state failed: %v", err)
	}
	klog.Infof("balancing service %s/%s on ports %v", cfg.ServiceNamespace, cfg.ServiceName, cfg.Ports)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		r.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		proxy.NewProxy(cfg.ListenAddr, cfg.Ports, r, cfg.DialTimeout).Run(ctx)
	}()
	if cfg.StatusAddr != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := status.NewServer(cfg.StatusAddr, r).Run(ctx); err != nil {
				klog.Errorf("%v", err)
			}
		}()
	}

	<-ctx.Done()
	klog.Infof("shutting down")
	wg.Wait()
}
