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

package config

import (
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"k8s.io/apimachinery/pkg/util/sets"
	"k8s.io/apimachinery/pkg/util/validation"
	"k8s.io/apimachinery/pkg/util/validation/field"
)

type Config struct {
	ServiceNamespace  string
	ServiceName       string
	RawPorts          string
	ListenAddr        string
	KubeConfig        string
	StatusAddr        string
	DialTimeout       time.Duration
	WatchRestartQPS   float64
	WatchRestartBurst int
	ReseedMaxRetries  int

	// Ports is parsed from RawPorts by Complete
	Ports []int32

	v *viper.Viper
}

func NewConfig() *Config {
	return &Config{v: viper.New()}
}

func (o *Config) AddFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.ServiceNamespace,
		"service-namespace", "default", "namespace of the balanced service")
	fs.StringVar(&o.ServiceName,
		"service-name", "", "name of the balanced service, which must be of type NodePort")
	fs.StringVar(&o.RawPorts,
		"ports", "", "comma separated ports to listen on, e.g. 80,443")
	fs.StringVar(&o.ListenAddr,
		"listen-addr", "0.0.0.0", "address the proxy listeners bind to")
	fs.StringVar(&o.KubeConfig,
		"kubeconfig", "", "Path to kubeconfig file with authorization information, in-cluster config is used if empty")
	fs.StringVar(&o.StatusAddr,
		"status-addr", ":11029", "address of the health, state and metrics endpoint, empty to disable")
	fs.DurationVar(&o.DialTimeout,
		"dial-timeout", 5*time.Second, "timeout for connecting to a node port")
	fs.Float64Var(&o.WatchRestartQPS,
		"watch-restart-qps", 0, "maximum rate at which a watch is reopened, 0 reopens immediately")
	fs.IntVar(&o.WatchRestartBurst,
		"watch-restart-burst", 1, "burst allowed by --watch-restart-qps")
	fs.IntVar(&o.ReseedMaxRetries,
		"reseed-max-retries", 5, "retries of a failed pod reseed after a service change")
	if err := o.v.BindPFlags(fs); err != nil {
		panic(err)
	}
}

// Complete fills flags not given on the command line from the environment,
// e.g. SERVICE_NAME for --service-name, and parses the port list.
func (o *Config) Complete() error {
	o.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	o.v.AutomaticEnv()

	o.ServiceNamespace = o.v.GetString("service-namespace")
	o.ServiceName = o.v.GetString("service-name")
	o.RawPorts = o.v.GetString("ports")
	o.ListenAddr = o.v.GetString("listen-addr")
	o.KubeConfig = o.v.GetString("kubeconfig")
	o.StatusAddr = o.v.GetString("status-addr")
	o.DialTimeout = o.v.GetDuration("dial-timeout")
	o.WatchRestartQPS = o.v.GetFloat64("watch-restart-qps")
	o.WatchRestartBurst = o.v.GetInt("watch-restart-burst")
	o.ReseedMaxRetries = o.v.GetInt("reseed-max-retries")

	ports, err := ParsePorts(o.RawPorts)
	if err != nil {
		return err
	}
	o.Ports = ports
	return nil
}

// ParsePorts parses a comma separated port list. Blank entries are skipped.
func ParsePorts(raw string) ([]int32, error) {
	var ports []int32
	for _, s := range strings.Split(raw, ",") {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		port, err := strconv.ParseInt(s, 10, 32)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid port %q", s)
		}
		ports = append(ports, int32(port))
	}
	return ports, nil
}

func (o *Config) Validate() field.ErrorList {
	var allErrs field.ErrorList

	for _, msg := range validation.IsDNS1123Label(o.ServiceNamespace) {
		allErrs = append(allErrs, field.Invalid(field.NewPath("service-namespace"), o.ServiceNamespace, msg))
	}
	if o.ServiceName == "" {
		allErrs = append(allErrs, field.Required(field.NewPath("service-name"), ""))
	} else {
		for _, msg := range validation.IsDNS1123Label(o.ServiceName) {
			allErrs = append(allErrs, field.Invalid(field.NewPath("service-name"), o.ServiceName, msg))
		}
	}

	portsPath := field.NewPath("ports")
	if len(o.Ports) == 0 {
		allErrs = append(allErrs, field.Required(portsPath, "at least one port is required"))
	}
	seen := sets.New[int32]()
	for i, port := range o.Ports {
		for _, msg := range validation.IsValidPortNum(int(port)) {
			allErrs = append(allErrs, field.Invalid(portsPath.Index(i), port, msg))
		}
		if seen.Has(port) {
			allErrs = append(allErrs, field.Duplicate(portsPath.Index(i), port))
		}
		seen.Insert(port)
	}

	if net.ParseIP(o.ListenAddr) == nil {
		allErrs = append(allErrs, field.Invalid(field.NewPath("listen-addr"), o.ListenAddr, "must be an IP address"))
	}
	if o.StatusAddr != "" {
		if _, _, err := net.SplitHostPort(o.StatusAddr); err != nil {
			allErrs = append(allErrs, field.Invalid(field.NewPath("status-addr"), o.StatusAddr, err.Error()))
		}
	}
	if o.DialTimeout <= 0 {
		allErrs = append(allErrs, field.Invalid(field.NewPath("dial-timeout"), o.DialTimeout.String(), "must be positive"))
	}
	if o.WatchRestartBurst < 1 {
		allErrs = append(allErrs, field.Invalid(field.NewPath("watch-restart-burst"), o.WatchRestartBurst, "must be at least 1"))
	}
	if o.ReseedMaxRetries < 0 {
		allErrs = append(allErrs, field.Invalid(field.NewPath("reseed-max-retries"), o.ReseedMaxRetries, "must not be negative"))
	}
	return allErrs
}
