// Package timeslice records how long each translation phase takes into a
// compact binary stream that can be summarized later.
package timeslice

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const (
	Magic   uint32 = 0x58534c54 // "TLSX"
	Version uint32 = 1

	pageSize = 4096
)

type header struct {
	Magic       uint32
	Version     uint32
	KindsLength uint32
}

type TimesliceID uint32

const InvalidTimesliceID = TimesliceID(0)

type SliceFlags uint32

const (
	SliceFlagPass SliceFlags = 1 << iota
	SliceFlagAlloc
	SliceFlagEncode
	SliceFlagCache
)

func (f SliceFlags) String() string {
	var flags []string
	if f&SliceFlagPass != 0 {
		flags = append(flags, "pass")
	}
	if f&SliceFlagAlloc != 0 {
		flags = append(flags, "alloc")
	}
	if f&SliceFlagEncode != 0 {
		flags = append(flags, "encode")
	}
	if f&SliceFlagCache != 0 {
		flags = append(flags, "cache")
	}
	return strings.Join(flags, ",")
}

type SliceInfo struct {
	Name  string     `json:"name"`
	Flags SliceFlags `json:"flags"`
}

var (
	kindsMu sync.Mutex
	kinds   = map[TimesliceID]SliceInfo{}
	byName  = map[string]TimesliceID{}
)

// RegisterKind returns the id for name, allocating one on first use.
// Kinds registered after StartRecording are not part of that recording.
func RegisterKind(name string, flags SliceFlags) TimesliceID {
	kindsMu.Lock()
	defer kindsMu.Unlock()

	if id, ok := byName[name]; ok {
		return id
	}
	id := TimesliceID(len(kinds) + 1)
	kinds[id] = SliceInfo{Name: name, Flags: flags}
	byName[name] = id
	return id
}

type record struct {
	ID       TimesliceID
	_        uint32
	Duration int64
}

var recordSize = binary.Size(record{})

var currentWriter atomic.Pointer[writer]

type writer struct {
	w       io.Writer
	records chan record
	done    chan error
}

func (w *writer) run() {
	defer close(w.done)

	var buf [pageSize]byte
	off := 0
	for rec := range w.records {
		if off+recordSize > len(buf) {
			if _, err := w.w.Write(buf[:off]); err != nil {
				w.done <- err
				// keep draining so Record never blocks on a dead writer
				for range w.records {
				}
				return
			}
			off = 0
		}
		binary.LittleEndian.PutUint32(buf[off:], uint32(rec.ID))
		binary.LittleEndian.PutUint32(buf[off+4:], 0)
		binary.LittleEndian.PutUint64(buf[off+8:], uint64(rec.Duration))
		off += recordSize
	}
	if off > 0 {
		if _, err := w.w.Write(buf[:off]); err != nil {
			w.done <- err
			return
		}
	}
	w.done <- nil
}

func (w *writer) Close() error {
	if !currentWriter.CompareAndSwap(w, nil) {
		return errors.New("timeslice: already closed")
	}
	close(w.records)
	if err := <-w.done; err != nil {
		return fmt.Errorf("timeslice: write: %w", err)
	}
	return nil
}

// Record appends a sample when a recording is active and does nothing
// otherwise.
func Record(id TimesliceID, d time.Duration) {
	if w := currentWriter.Load(); w != nil {
		defer func() {
			// the recording was closed between Load and send
			_ = recover()
		}()
		w.records <- record{ID: id, Duration: d.Nanoseconds()}
	}
}

// Since records the time elapsed since start.
func Since(id TimesliceID, start time.Time) {
	Record(id, time.Since(start))
}

// Recording reports whether samples are currently being written.
func Recording() bool { return currentWriter.Load() != nil }

// StartRecording writes a header describing every registered kind to w and
// starts streaming samples. Only one recording may be active at a time.
func StartRecording(w io.Writer) (io.Closer, error) {
	if currentWriter.Load() != nil {
		return nil, errors.New("timeslice: already recording")
	}

	kindsMu.Lock()
	list := make([]struct {
		ID TimesliceID `json:"id"`
		SliceInfo
	}, 0, len(kinds))
	for id := TimesliceID(1); int(id) <= len(kinds); id++ {
		list = append(list, struct {
			ID TimesliceID `json:"id"`
			SliceInfo
		}{id, kinds[id]})
	}
	kindsMu.Unlock()

	desc, err := json.Marshal(list)
	if err != nil {
		return nil, fmt.Errorf("timeslice: marshal kinds: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, header{
		Magic:       Magic,
		Version:     Version,
		KindsLength: uint32(len(desc)),
	}); err != nil {
		return nil, fmt.Errorf("timeslice: write header: %w", err)
	}
	if _, err := w.Write(desc); err != nil {
		return nil, fmt.Errorf("timeslice: write kinds: %w", err)
	}
	if pad := padding(len(desc)); pad > 0 {
		if _, err := w.Write(make([]byte, pad)); err != nil {
			return nil, fmt.Errorf("timeslice: write padding: %w", err)
		}
	}

	wr := &writer{
		w:       w,
		records: make(chan record, pageSize),
		done:    make(chan error, 1),
	}
	if !currentWriter.CompareAndSwap(nil, wr) {
		return nil, errors.New("timeslice: already recording")
	}
	go wr.run()
	return wr, nil
}

func padding(descLen int) int {
	off := binary.Size(header{}) + descLen
	if off%pageSize == 0 {
		return 0
	}
	return pageSize - off%pageSize
}

// ReadAllRecords calls fn for every sample in a recording.
func ReadAllRecords(r io.Reader, fn func(name string, flags SliceFlags, d time.Duration) error) error {
	buf := bufio.NewReaderSize(r, pageSize)

	var hdr header
	if err := binary.Read(buf, binary.LittleEndian, &hdr); err != nil {
		return fmt.Errorf("timeslice: read header: %w", err)
	}
	if hdr.Magic != Magic {
		return errors.New("timeslice: invalid magic")
	}
	if hdr.Version != Version {
		return fmt.Errorf("timeslice: unsupported version %d", hdr.Version)
	}

	var list []struct {
		ID TimesliceID `json:"id"`
		SliceInfo
	}
	if err := json.NewDecoder(io.LimitReader(buf, int64(hdr.KindsLength))).Decode(&list); err != nil {
		return fmt.Errorf("timeslice: decode kinds: %w", err)
	}
	known := make(map[TimesliceID]SliceInfo, len(list))
	for _, k := range list {
		known[k.ID] = k.SliceInfo
	}
	if _, err := buf.Discard(padding(int(hdr.KindsLength))); err != nil {
		return fmt.Errorf("timeslice: skip padding: %w", err)
	}

	var raw [16]byte
	for {
		if _, err := io.ReadFull(buf, raw[:recordSize]); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("timeslice: read record: %w", err)
		}
		id := TimesliceID(binary.LittleEndian.Uint32(raw[0:]))
		d := time.Duration(binary.LittleEndian.Uint64(raw[8:]))
		info, ok := known[id]
		if !ok {
			return fmt.Errorf("timeslice: unknown kind %d", id)
		}
		if err := fn(info.Name, info.Flags, d); err != nil {
			return err
		}
	}
}

// Summary aggregates the samples of one kind.
type Summary struct {
	Name  string
	Flags SliceFlags
	Count int
	Sum   time.Duration
	Min   time.Duration
	Max   time.Duration
}

func (s *Summary) add(d time.Duration) {
	s.Count++
	s.Sum += d
	if s.Count == 1 || d < s.Min {
		s.Min = d
	}
	if d > s.Max {
		s.Max = d
	}
}

func (s Summary) Average() time.Duration {
	if s.Count == 0 {
		return 0
	}
	return s.Sum / time.Duration(s.Count)
}

// Summarize reads a recording and returns one Summary per kind in order of
// first appearance.
func Summarize(r io.Reader) ([]Summary, error) {
	var (
		order []string
		all   = map[string]*Summary{}
	)
	err := ReadAllRecords(r, func(name string, flags SliceFlags, d time.Duration) error {
		s, ok := all[name]
		if !ok {
			s = &Summary{Name: name, Flags: flags}
			all[name] = s
			order = append(order, name)
		}
		s.add(d)
		return nil
	})
	if err != nil {
		return nil, err
	}
	out := make([]Summary, 0, len(order))
	for _, name := range order {
		out = append(out, *all[name])
	}
	return out, nil
}
