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

package context

import (
	"tkestack.io/node-balancer/cmd/node-balancer/app/config"
	"tkestack.io/node-balancer/pkg/kube"

	apicorev1 "k8s.io/api/core/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/kubernetes/scheme"
	corev1 "k8s.io/client-go/kubernetes/typed/core/v1"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/client-go/tools/record"
	"k8s.io/klog/v2"
)

const component = "node-balancer"

func NewContext(cfg *config.Config) *Context {
	c := &Context{
		Cfg: cfg,
	}
	clientCfg := getClientConfigOrDie(cfg.KubeConfig)
	clientCfg.UserAgent = rest.DefaultKubernetesUserAgent() + "/" + component

	c.K8sClient = kubernetes.NewForConfigOrDie(clientCfg)
	c.Client = kube.NewClient(c.K8sClient)

	c.EventBroadCaster = record.NewBroadcaster()
	c.EventRecorder = c.EventBroadCaster.NewRecorder(scheme.Scheme, apicorev1.EventSource{
		Component: component,
	})
	return c
}

type Context struct {
	Cfg *config.Config

	K8sClient kubernetes.Interface
	Client    kube.Client

	EventBroadCaster record.EventBroadcaster
	EventRecorder    record.EventRecorder
}

// Start begins sending recorded events to the API server
func (c *Context) Start() {
	c.EventBroadCaster.StartStructuredLogging(4)
	c.EventBroadCaster.StartRecordingToSink(&corev1.EventSinkImpl{Interface: c.K8sClient.CoreV1().Events(c.Cfg.ServiceNamespace)})
}

// Stop flushes and stops the event broadcaster
func (c *Context) Stop() {
	c.EventBroadCaster.Shutdown()
}

func getClientConfigOrDie(kubeConfig string) *rest.Config {
	if kubeConfig != "" {
		clientCfg, err := clientcmd.BuildConfigFromFlags("", kubeConfig)
		if err != nil {
			klog.Fatal(err)
		}
		return clientCfg
	}
	clientCfg, err := rest.InClusterConfig()
	if err != nil {
		klog.Fatal(err)
	}
	return clientCfg
}
