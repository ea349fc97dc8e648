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

package buffer

import (
	"bytes"
	"math/rand"
	"os"
	"testing"
)

func TestRoundTrip(t *testing.T) {
	cases := [][]byte{
		nil,
		[]byte("hello"),
		bytes.Repeat([]byte("x"), 10000),
	}
	for _, c := range cases {
		b := New()
		b.Append(c)
		if got := b.RetrieveAllAsString(); got != string(c) {
			t.Fatalf("round trip mismatch: got %d bytes, want %d bytes", len(got), len(c))
		}
	}
}

func TestInitialCursors(t *testing.T) {
	b := New()
	if b.PrependableBytes() != PrependSize {
		t.Fatalf("prependable = %d, want %d", b.PrependableBytes(), PrependSize)
	}
	if b.ReadableBytes() != 0 {
		t.Fatalf("readable = %d, want 0", b.ReadableBytes())
	}
	if b.WritableBytes() != InitialSize {
		t.Fatalf("writable = %d, want %d", b.WritableBytes(), InitialSize)
	}
}

func TestPrependFloorAfterRetrieveAll(t *testing.T) {
	b := New()
	b.AppendString("some payload")
	b.RetrieveAll()
	if b.reader != PrependSize || b.writer != PrependSize {
		t.Fatalf("reader=%d writer=%d, want both %d", b.reader, b.writer, PrependSize)
	}
}

func TestGrowthInvariant(t *testing.T) {
	b := New()
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 500; i++ {
		switch rng.Intn(2) {
		case 0:
			n := rng.Intn(4000)
			b.Append(bytes.Repeat([]byte{'a'}, n))
		case 1:
			n := rng.Intn(b.ReadableBytes() + 1)
			b.Retrieve(n)
		}
		if got, want := b.WritableBytes()+b.ReadableBytes()+b.PrependableBytes(), len(b.buf); got != want {
			t.Fatalf("iteration %d: writable+readable+prependable = %d, want capacity %d", i, got, want)
		}
		if !(b.reader <= b.writer && b.writer <= len(b.buf)) {
			t.Fatalf("iteration %d: cursor invariant broken reader=%d writer=%d cap=%d", i, b.reader, b.writer, len(b.buf))
		}
	}
}

func TestEnsureWritableSlidesPrependInsteadOfGrowing(t *testing.T) {
	b := NewSize(64)
	b.AppendString("0123456789")
	b.Retrieve(5)
	capBefore := len(b.buf)
	// The 54-byte writable tail is too short for 56, but reclaiming the 5
	// consumed bytes in front of the payload makes room without growing.
	b.EnsureWritable(56)
	if len(b.buf) != capBefore {
		t.Fatalf("capacity changed from %d to %d, expected in-place slide", capBefore, len(b.buf))
	}
	if b.reader != PrependSize {
		t.Fatalf("reader = %d after slide, want %d", b.reader, PrependSize)
	}
	if got := b.RetrieveAllAsString(); got != "56789" {
		t.Fatalf("payload after slide = %q, want %q", got, "56789")
	}
}

func TestScatterReadSmallAndLarge(t *testing.T) {
	for _, n := range []int{100, 200000} {
		r, w, err := os.Pipe()
		if err != nil {
			t.Fatal(err)
		}
		payload := bytes.Repeat([]byte{'z'}, n)
		go func() {
			defer w.Close()
			_, _ = w.Write(payload)
		}()

		b := New()
		total := 0
		for total < n {
			read, err := b.ReadFromFD(int(r.Fd()))
			if err == ErrWouldBlock {
				continue
			}
			if err != nil {
				t.Fatalf("ReadFromFD: %v", err)
			}
			total += read
		}
		r.Close()
		if got := b.RetrieveAllAsString(); got != string(payload) {
			t.Fatalf("size %d: scatter-read mismatch (%d bytes)", n, len(got))
		}
	}
}
