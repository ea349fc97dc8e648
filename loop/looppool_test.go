// Copyright 2023 Kami
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

package loop

import "testing"

func TestLoopPoolDegenerateCaseReturnsBaseLoop(t *testing.T) {
	base, stop := mustStartedLoop(t)
	defer stop()

	pool := NewLoopPool(nil, base)
	pool.Start(0, nil)

	for i := 0; i < 3; i++ {
		if got := pool.GetNextLoop(); got != base {
			t.Fatalf("GetNextLoop = %p, want base loop %p", got, base)
		}
	}
}

func TestLoopPoolRoundRobin(t *testing.T) {
	base, stop := mustStartedLoop(t)
	defer stop()

	pool := NewLoopPool(nil, base)
	pool.Start(3, nil)
	defer pool.Stop()

	if len(pool.Loops()) != 3 {
		t.Fatalf("len(Loops()) = %d, want 3", len(pool.Loops()))
	}

	first := make([]*EventLoop, 3)
	for i := range first {
		first[i] = pool.GetNextLoop()
	}
	for i := 0; i < 3; i++ {
		if got := pool.GetNextLoop(); got != first[i] {
			t.Fatalf("round %d: GetNextLoop = %p, want %p", i, got, first[i])
		}
	}
}
