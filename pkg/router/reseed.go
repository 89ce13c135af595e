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

package router

import (
	"context"
	"time"

	"tkestack.io/node-balancer/pkg/metrics"

	"golang.org/x/time/rate"
	"k8s.io/client-go/util/workqueue"
	"k8s.io/klog/v2"
)

const (
	reseedKey = "pods"

	reseedBaseDelay = 5 * time.Millisecond
	reseedMaxDelay  = 30 * time.Second
)

// reseeder runs pod reseeds requested by the service watcher outside of the
// watcher goroutine. Requests made while a reseed is pending collapse into one.
type reseeder struct {
	queue      workqueue.RateLimitingInterface
	seed       func(context.Context) error
	maxRetries int
}

func newReseeder(seed func(context.Context) error, maxRetries int) *reseeder {
	return &reseeder{
		queue:      workqueue.NewNamedRateLimitingQueue(newReseedRateLimiter(), "pod-reseed"),
		seed:       seed,
		maxRetries: maxRetries,
	}
}

// newReseedRateLimiter backs off exponentially per failure, capped at 10
// reseeds per second overall.
func newReseedRateLimiter() workqueue.RateLimiter {
	return workqueue.NewMaxOfRateLimiter(
		workqueue.NewItemExponentialFailureRateLimiter(reseedBaseDelay, reseedMaxDelay),
		&workqueue.BucketRateLimiter{Limiter: rate.NewLimiter(rate.Limit(10), 100)},
	)
}

func (q *reseeder) enqueue() {
	q.queue.Add(reseedKey)
}

func (q *reseeder) run(ctx context.Context) {
	go func() {
		<-ctx.Done()
		q.queue.ShutDown()
	}()
	for q.processNextItem(ctx) {
	}
}

func (q *reseeder) processNextItem(ctx context.Context) bool {
	key, quit := q.queue.Get()
	if quit {
		return false
	}
	defer q.queue.Done(key)

	if err := q.seed(ctx); err != nil {
		metrics.ReseedsInc(metrics.ResultError)
		if q.queue.NumRequeues(key) < q.maxRetries {
			klog.Errorf("error while re-seeding pods, will retry: %v", err)
			q.queue.AddRateLimited(key)
			return true
		}
		klog.Errorf("error while re-seeding pods, giving up after %d retries: %v", q.maxRetries, err)
		q.queue.Forget(key)
		return true
	}
	metrics.ReseedsInc(metrics.ResultSuccess)
	q.queue.Forget(key)
	return true
}
