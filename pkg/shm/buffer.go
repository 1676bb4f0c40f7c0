package shm

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/srediag/shm-atomics/internal/logger"
	internalshm "github.com/srediag/shm-atomics/internal/shm"
	"github.com/srediag/shm-atomics/pkg/atomics"
)

const (
	instrumentationName = "github.com/srediag/shm-atomics/pkg/shm"

	bufferMagic = 0x53484d41 // "SHMA"

	// Header layout. Every field is naturally aligned and the flags each own a
	// 32-bit word.
	magicOffset   = 0
	capOffset     = 4
	headOffset    = 8
	tailOffset    = 16
	writerOffset  = 24
	readerOffset  = 28
	HeaderSize    = 64
	maxBufferSize = 1 << 31
)

var (
	ErrInvalidSize = errors.New("shm: buffer size must be a power of two")
	ErrBadHeader   = errors.New("shm: region does not hold a buffer")
	ErrBufferFull  = errors.New("shm: buffer full")
	ErrNoData      = errors.New("shm: no data")
	ErrClosed      = errors.New("shm: buffer closed")
	// ErrNotReady means a peer has not finished setting up a region or slice
	// pool. Open retries it until OpenOptions.AttachTimeout.
	ErrNotReady = internalshm.ErrNotReady

	internalLogger = logger.New("shm", nil)
)

// Buffer is a lock-free byte ring in a shared memory region.
//
// The reader and the writer side each serialize on a flag in the header, so
// any number of goroutines or processes may read and write concurrently.
// The two sides never wait for each other: publication happens through
// release stores of the tail (by writers) and the head (by readers).
type Buffer struct {
	region *internalshm.MappedRegion
	data   []byte
	mask   uint64

	capacity *uint32
	head     *uint64
	tail     *uint64
	writer   *atomics.Flag
	reader   *atomics.Flag
	closed   atomics.Bool

	tracer  trace.Tracer
	written metric.Int64Counter
	read    metric.Int64Counter
}

// Config holds heap buffer creation parameters.
type Config struct {
	Name   string // identifier used in telemetry
	Size   uint64 // data capacity in bytes, a power of two
	Meter  metric.Meter
	Tracer trace.Tracer
}

// OpenOptions defines options for creating or opening a shared memory buffer.
type OpenOptions struct {
	// Name is the identifier for the shared memory region.
	Name string
	// Size is the data capacity in bytes and must be a power of two. It may be
	// zero when attaching, in which case the creator's size is used.
	Size int
	// Create indicates whether to create the region or attach to an existing one.
	Create bool
	// Dir overrides the directory holding the region file.
	Dir string
	// Unlink removes the region file when a creating Buffer is closed.
	Unlink bool
	// AttachTimeout bounds how long attaching waits for the creator to
	// finish. Zero means internal/shm's DefaultAttachTimeout.
	AttachTimeout time.Duration
	Meter         metric.Meter
	Tracer        trace.Tracer
}

func validSize(size uint64) bool {
	return size > 0 && size <= maxBufferSize && size&(size-1) == 0
}

// Open creates or opens a shared memory buffer with the given options.
func Open(ctx context.Context, opts OpenOptions) (_ *Buffer, err error) {
	tracer := tracerOrNoop(opts.Tracer)
	ctx, span := tracer.Start(ctx, "shm.Open", trace.WithAttributes(
		attribute.String("shm.name", opts.Name),
		attribute.Int("shm.size", opts.Size),
		attribute.Bool("shm.create", opts.Create),
	))
	defer func() { endSpan(span, err) }()

	if opts.Size < 0 || (opts.Size > 0 && !validSize(uint64(opts.Size))) || (opts.Create && opts.Size == 0) {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSize, opts.Size)
	}
	mapOpts := internalshm.MapOptions{
		Name:          opts.Name,
		Create:        opts.Create,
		Dir:           opts.Dir,
		Unlink:        opts.Unlink,
		AttachTimeout: opts.AttachTimeout,
	}
	var region *internalshm.MappedRegion
	if opts.Create {
		mapOpts.Size = HeaderSize + opts.Size
		region, err = internalshm.MapRegion(ctx, mapOpts)
	} else {
		// The whole file is mapped; attach checks the capacity in the header.
		region, err = internalshm.AttachRegion(ctx, mapOpts, formatted)
	}
	if err != nil {
		return nil, err
	}
	b, err := newBuffer(region, opts.Meter, tracer)
	if err == nil {
		if opts.Create {
			err = b.format(uint32(opts.Size))
		} else {
			err = b.attach(uint64(opts.Size))
		}
	}
	if err != nil {
		if uerr := internalshm.UnmapRegion(ctx, region); uerr != nil {
			internalLogger.Warnf("unmap %s after failed open: %v", region, uerr)
		}
		return nil, err
	}
	internalLogger.Infof("opened buffer %s capacity %d", region, b.Cap())
	return b, nil
}

// NewBuffer creates a buffer in process memory. It behaves like a shared
// one but cannot be attached to from elsewhere.
func NewBuffer(cfg Config) (*Buffer, error) {
	if !validSize(cfg.Size) {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSize, cfg.Size)
	}
	region, err := internalshm.NewHeapRegion(cfg.Name, HeaderSize+int(cfg.Size))
	if err != nil {
		return nil, err
	}
	b, err := newBuffer(region, cfg.Meter, tracerOrNoop(cfg.Tracer))
	if err != nil {
		return nil, err
	}
	if err := b.format(uint32(cfg.Size)); err != nil {
		return nil, err
	}
	return b, nil
}

func newBuffer(region *internalshm.MappedRegion, meter metric.Meter, tracer trace.Tracer) (*Buffer, error) {
	mem := region.Addr
	if len(mem) < HeaderSize {
		return nil, fmt.Errorf("%w: region is %d bytes", ErrBadHeader, len(mem))
	}
	b := &Buffer{region: region, tracer: tracer}
	var err error
	if b.capacity, err = internalshm.CellAt[uint32](mem, capOffset); err != nil {
		return nil, err
	}
	if b.head, err = internalshm.CellAt[uint64](mem, headOffset); err != nil {
		return nil, err
	}
	if b.tail, err = internalshm.CellAt[uint64](mem, tailOffset); err != nil {
		return nil, err
	}
	if b.writer, err = internalshm.FlagAt(mem, writerOffset); err != nil {
		return nil, err
	}
	if b.reader, err = internalshm.FlagAt(mem, readerOffset); err != nil {
		return nil, err
	}

	if meter == nil {
		meter = metricnoop.NewMeterProvider().Meter(instrumentationName)
	}
	if b.written, err = meter.Int64Counter("shm.buffer.bytes_written",
		metric.WithDescription("Bytes written into shared memory buffers."),
		metric.WithUnit("By")); err != nil {
		return nil, err
	}
	if b.read, err = meter.Int64Counter("shm.buffer.bytes_read",
		metric.WithDescription("Bytes read from shared memory buffers."),
		metric.WithUnit("By")); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *Buffer) magic() *uint32 {
	p, _ := internalshm.CellAt[uint32](b.region.Addr, magicOffset)
	return p
}

// formatted accepts a region whose creator has published the header. A zero
// magic means the creator has not got that far yet.
func formatted(r *internalshm.MappedRegion) error {
	if len(r.Addr) < HeaderSize {
		return fmt.Errorf("%w: region is %d bytes", ErrBadHeader, len(r.Addr))
	}
	magic, err := internalshm.CellAt[uint32](r.Addr, magicOffset)
	if err != nil {
		return err
	}
	switch m := atomics.LoadExplicit(magic, atomics.Acquire); m {
	case bufferMagic:
		return nil
	case 0:
		return fmt.Errorf("%w: %s has no header yet", ErrNotReady, r)
	default:
		return fmt.Errorf("%w: magic %#x", ErrBadHeader, m)
	}
}

// format initializes a fresh header. The magic is stored last with release
// order, so an attacher that sees it also sees the rest of the header.
func (b *Buffer) format(size uint32) error {
	if HeaderSize+int(size) > len(b.region.Addr) {
		return fmt.Errorf("%w: %d bytes do not fit the region", ErrInvalidSize, size)
	}
	atomics.Init(b.capacity, size)
	atomics.Init(b.head, 0)
	atomics.Init(b.tail, 0)
	b.writer.ClearExplicit(atomics.Relaxed)
	b.reader.ClearExplicit(atomics.Relaxed)
	b.setData(uint64(size))
	atomics.StoreExplicit(b.magic(), bufferMagic, atomics.Release)
	return nil
}

func (b *Buffer) attach(want uint64) error {
	if m := atomics.LoadExplicit(b.magic(), atomics.Acquire); m != bufferMagic {
		return fmt.Errorf("%w: magic %#x", ErrBadHeader, m)
	}
	size := uint64(atomics.LoadExplicit(b.capacity, atomics.Relaxed))
	if !validSize(size) || HeaderSize+size > uint64(len(b.region.Addr)) {
		return fmt.Errorf("%w: capacity %d in %d-byte region", ErrBadHeader, size, len(b.region.Addr))
	}
	if want != 0 && want != size {
		return fmt.Errorf("%w: region holds %d bytes, want %d", ErrInvalidSize, size, want)
	}
	b.setData(size)
	return nil
}

func (b *Buffer) setData(size uint64) {
	b.data = b.region.Addr[HeaderSize : HeaderSize+size]
	b.mask = size - 1
}

// lock spins on f until it is acquired or ctx is done.
func lock(ctx context.Context, f *atomics.Flag) error {
	for f.TestAndSetExplicit(atomics.Acquire) {
		if err := ctx.Err(); err != nil {
			return err
		}
		runtime.Gosched()
	}
	return nil
}

// Write writes as much of data as fits and returns the number of bytes
// written. It fails with ErrBufferFull only when nothing fits.
func (b *Buffer) Write(ctx context.Context, data []byte) (n int, err error) {
	ctx, span := b.tracer.Start(ctx, "shm.Buffer.Write")
	defer func() {
		span.SetAttributes(attribute.Int("shm.bytes", n))
		endSpan(span, err)
	}()
	if b.closed.LoadExplicit(atomics.Acquire) {
		return 0, ErrClosed
	}
	if len(data) == 0 {
		return 0, nil
	}
	if err := lock(ctx, b.writer); err != nil {
		return 0, err
	}
	defer b.writer.ClearExplicit(atomics.Release)

	tail := atomics.LoadExplicit(b.tail, atomics.Relaxed)
	head := atomics.LoadExplicit(b.head, atomics.Acquire)
	free := uint64(len(b.data)) - (tail - head)
	if free == 0 {
		return 0, ErrBufferFull
	}
	n = int(min(uint64(len(data)), free))
	start := tail & b.mask
	first := copy(b.data[start:], data[:n])
	copy(b.data, data[first:n])
	atomics.StoreExplicit(b.tail, tail+uint64(n), atomics.Release)

	b.written.Add(ctx, int64(n))
	return n, nil
}

// Read reads up to len(p) bytes and returns the number read. It fails with
// ErrNoData when the buffer is empty.
func (b *Buffer) Read(ctx context.Context, p []byte) (n int, err error) {
	ctx, span := b.tracer.Start(ctx, "shm.Buffer.Read")
	defer func() {
		span.SetAttributes(attribute.Int("shm.bytes", n))
		endSpan(span, err)
	}()
	if b.closed.LoadExplicit(atomics.Acquire) {
		return 0, ErrClosed
	}
	if len(p) == 0 {
		return 0, nil
	}
	if err := lock(ctx, b.reader); err != nil {
		return 0, err
	}
	defer b.reader.ClearExplicit(atomics.Release)

	head := atomics.LoadExplicit(b.head, atomics.Relaxed)
	tail := atomics.LoadExplicit(b.tail, atomics.Acquire)
	avail := tail - head
	if avail == 0 {
		return 0, ErrNoData
	}
	n = int(min(uint64(len(p)), avail))
	start := head & b.mask
	first := copy(p[:n], b.data[start:])
	copy(p[first:n], b.data)
	atomics.StoreExplicit(b.head, head+uint64(n), atomics.Release)

	b.read.Add(ctx, int64(n))
	return n, nil
}

// Len returns the number of unread bytes.
func (b *Buffer) Len() int {
	head := atomics.LoadExplicit(b.head, atomics.Acquire)
	tail := atomics.LoadExplicit(b.tail, atomics.Acquire)
	return int(tail - head)
}

// Cap returns the data capacity in bytes.
func (b *Buffer) Cap() int {
	return len(b.data)
}

// Region exposes the underlying mapping.
func (b *Buffer) Region() *internalshm.MappedRegion {
	return b.region
}

// Close unmaps the buffer. Further reads and writes fail with ErrClosed.
// The caller must make sure no Read or Write is still running.
func (b *Buffer) Close() error {
	if b.closed.Exchange(true) {
		return nil
	}
	internalLogger.Infof("closing buffer %s", b.region)
	return internalshm.UnmapRegion(context.Background(), b.region)
}

func tracerOrNoop(t trace.Tracer) trace.Tracer {
	if t == nil {
		return tracenoop.NewTracerProvider().Tracer(instrumentationName)
	}
	return t
}

func endSpan(span trace.Span, err error) {
	if err != nil && !errors.Is(err, ErrNoData) && !errors.Is(err, ErrBufferFull) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
