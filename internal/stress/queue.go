/*
 * Copyright 2025 SREDiag Authors
 * Copyright 2023 CloudWeGo Authors
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

package stress

import (
	"context"
	"errors"
	"fmt"
	"time"

	queuepkg "github.com/Workiva/go-datastructures/queue"
)

const resultPollInterval = 50 * time.Millisecond

// resultQueue carries worker results to the aggregator. The ring buffer is
// sized so that every worker of a scenario can put without blocking.
type resultQueue struct {
	rb *queuepkg.RingBuffer
}

func newResultQueue(workers int) *resultQueue {
	return &resultQueue{rb: queuepkg.NewRingBuffer(uint64(workers))}
}

func (q *resultQueue) put(r WorkerResult) error {
	return q.rb.Put(r)
}

// pop waits for the next result until ctx is done.
func (q *resultQueue) pop(ctx context.Context) (WorkerResult, error) {
	for {
		item, err := q.rb.Poll(resultPollInterval)
		switch {
		case err == nil:
			r, ok := item.(WorkerResult)
			if !ok {
				return WorkerResult{}, fmt.Errorf("invalid queue element type %T", item)
			}
			return r, nil
		case errors.Is(err, queuepkg.ErrTimeout):
			if cerr := ctx.Err(); cerr != nil {
				return WorkerResult{}, cerr
			}
		default:
			return WorkerResult{}, err
		}
	}
}

func (q *resultQueue) len() int {
	return int(q.rb.Len())
}

func (q *resultQueue) dispose() {
	q.rb.Dispose()
}
