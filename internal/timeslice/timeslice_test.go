package timeslice

import (
	"bytes"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"
)

var (
	timesliceA = RegisterKind("a", SliceFlagPass)
	timesliceB = RegisterKind("b", SliceFlagEncode)
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestRegisterKindIsIdempotent(t *testing.T) {
	if id := RegisterKind("a", SliceFlagPass); id != timesliceA {
		t.Fatalf("RegisterKind(a) = %d, want %d", id, timesliceA)
	}
}

func TestTimeslice(t *testing.T) {
	var buf bytes.Buffer
	func() {
		writer, err := StartRecording(&buf)
		if err != nil {
			t.Fatalf("StartRecording: %v", err)
		}
		defer writer.Close()

		if _, err := StartRecording(&bytes.Buffer{}); err == nil {
			t.Fatalf("second StartRecording succeeded")
		}

		Record(timesliceA, 100*time.Millisecond)
		Record(timesliceB, 200*time.Millisecond)
		Record(timesliceA, 300*time.Millisecond)
	}()

	if Recording() {
		t.Fatalf("still recording after Close")
	}
	// dropped silently
	Record(timesliceA, time.Second)

	var seen []string
	if err := ReadAllRecords(bytes.NewReader(buf.Bytes()), func(name string, flags SliceFlags, d time.Duration) error {
		seen = append(seen, name)
		return nil
	}); err != nil {
		t.Fatalf("ReadAllRecords: %v", err)
	}
	if len(seen) != 3 {
		t.Fatalf("expected 3 records, got %d", len(seen))
	}

	sums, err := Summarize(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if len(sums) != 2 {
		t.Fatalf("expected 2 summaries, got %d", len(sums))
	}
	a := sums[0]
	if a.Name != "a" || a.Count != 2 || a.Sum != 400*time.Millisecond ||
		a.Min != 100*time.Millisecond || a.Max != 300*time.Millisecond ||
		a.Average() != 200*time.Millisecond {
		t.Fatalf("unexpected summary %+v", a)
	}
	if sums[1].Flags != SliceFlagEncode {
		t.Fatalf("flags = %s, want encode", sums[1].Flags)
	}
}

func TestReadRejectsGarbage(t *testing.T) {
	err := ReadAllRecords(bytes.NewReader(make([]byte, 64)), func(string, SliceFlags, time.Duration) error {
		return nil
	})
	if err == nil {
		t.Fatal("expected error for bad magic")
	}
}

func BenchmarkTimeslice(b *testing.B) {
	var buf bytes.Buffer
	var count uint64
	func() {
		writer, err := StartRecording(&buf)
		if err != nil {
			b.Fatalf("StartRecording: %v", err)
		}
		defer writer.Close()

		for b.Loop() {
			Record(timesliceA, 100*time.Millisecond)
			Record(timesliceB, 200*time.Millisecond)
			atomic.AddUint64(&count, 2)
		}
	}()
	b.ReportMetric(float64(buf.Len())/float64(count), "bytes/record")
}
