package adaptor

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/joshuapare/gpumr/internal/logger"
	"github.com/joshuapare/gpumr/mr"
)

// LogFileEnv names the file a Logging adaptor writes to when no sink is
// configured explicitly.
const LogFileEnv = "RMM_LOG_FILE"

// LogHeader is the first line of every allocation log.
var LogHeader = []string{"Time", "Action", "Pointer", "Size", "Stream"}

// logTimeLayout is the time-of-day format of the Time column.
const logTimeLayout = "15:04:05.000000"

// Action is the kind of event recorded in an allocation log.
type Action string

const (
	ActionAllocate        Action = "allocate"
	ActionDeallocate      Action = "deallocate"
	ActionAllocateFailure Action = "allocate_failure"
)

// LoggingOption configures a Logging adaptor.
type LoggingOption func(*loggingConfig)

type loggingConfig struct {
	w         io.Writer
	path      string
	autoFlush bool
	now       func() time.Time
}

// WithWriter logs to w. It takes precedence over WithFile and the
// environment.
func WithWriter(w io.Writer) LoggingOption {
	return func(c *loggingConfig) { c.w = w }
}

// WithFile logs to a file created (or truncated) at path.
func WithFile(path string) LoggingOption {
	return func(c *loggingConfig) { c.path = path }
}

// WithAutoFlush controls whether each record is flushed as it is written.
// It defaults to true; with it off, records are flushed by Flush and Close.
func WithAutoFlush(on bool) LoggingOption {
	return func(c *loggingConfig) { c.autoFlush = on }
}

// WithClock overrides the time source for the Time column.
func WithClock(now func() time.Time) LoggingOption {
	return func(c *loggingConfig) { c.now = now }
}

// Logging records every allocation and deallocation as a CSV line.
type Logging struct {
	upstream  mr.Resource
	autoFlush bool
	now       func() time.Time

	mu   sync.Mutex
	csv  *csv.Writer
	file *os.File // nil unless opened by the adaptor
}

var (
	_ mr.Resource   = (*Logging)(nil)
	_ mr.Upstreamer = (*Logging)(nil)
	_ io.Closer     = (*Logging)(nil)
)

// NewLogging wraps upstream. The sink is the writer from WithWriter, else
// the file from WithFile, else the file named by RMM_LOG_FILE. With none of
// them set it fails with mr.ErrLogic.
func NewLogging(upstream mr.Resource, opts ...LoggingOption) (*Logging, error) {
	if upstream == nil {
		return nil, fmt.Errorf("%w: logging upstream is nil", mr.ErrInvalidArgument)
	}
	cfg := loggingConfig{autoFlush: true, now: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}

	l := &Logging{upstream: upstream, autoFlush: cfg.autoFlush, now: cfg.now}
	w := cfg.w
	if w == nil {
		path := cfg.path
		if path == "" {
			path = os.Getenv(LogFileEnv)
		}
		if path == "" {
			return nil, fmt.Errorf("%w: logging adaptor needs a writer, a file, or %s", mr.ErrLogic, LogFileEnv)
		}
		f, err := os.Create(path)
		if err != nil {
			return nil, fmt.Errorf("logging adaptor: open %s: %w", path, err)
		}
		l.file, w = f, f
	}
	l.csv = csv.NewWriter(w)

	if err := l.write(LogHeader, true); err != nil {
		if l.file != nil {
			_ = l.file.Close()
		}
		return nil, fmt.Errorf("logging adaptor: write header: %w", err)
	}
	return l, nil
}

// Upstream returns the wrapped resource.
func (l *Logging) Upstream() mr.Resource { return l.upstream }

func (l *Logging) write(record []string, flush bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.csv.Write(record); err != nil {
		return err
	}
	if flush {
		l.csv.Flush()
		return l.csv.Error()
	}
	return nil
}

func (l *Logging) record(action Action, p mr.Ptr, size uint64, stream mr.Stream) {
	rec := []string{
		l.now().Format(logTimeLayout),
		string(action),
		p.String(),
		strconv.FormatUint(size, 10),
		stream.String(),
	}
	if err := l.write(rec, l.autoFlush); err != nil {
		logger.Warn("allocation log write failed", "action", action, "err", err)
	}
}

// Allocate satisfies mr.Resource.
func (l *Logging) Allocate(size uint64, stream mr.Stream) (mr.Ptr, error) {
	p, err := l.upstream.Allocate(size, stream)
	if err != nil {
		l.record(ActionAllocateFailure, mr.NullPtr, size, stream)
		return p, err
	}
	l.record(ActionAllocate, p, size, stream)
	return p, nil
}

// Deallocate satisfies mr.Resource.
func (l *Logging) Deallocate(p mr.Ptr, size uint64, stream mr.Stream) {
	l.record(ActionDeallocate, p, size, stream)
	l.upstream.Deallocate(p, size, stream)
}

// IsEqual reports whether other is a Logging adaptor over an equal upstream.
func (l *Logging) IsEqual(other mr.Resource) bool {
	o, ok := other.(*Logging)
	return ok && upstreamsEqual(l.upstream, o.upstream)
}

// MemInfo defers to upstream.
func (l *Logging) MemInfo(stream mr.Stream) (free, total uint64) {
	return l.upstream.MemInfo(stream)
}

// Flush writes any buffered records to the sink.
func (l *Logging) Flush() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.csv.Flush()
	return l.csv.Error()
}

// Close flushes the log and closes the file if the adaptor opened it.
func (l *Logging) Close() error {
	var result *multierror.Error
	if err := l.Flush(); err != nil {
		result = multierror.Append(result, err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		if err := l.file.Close(); err != nil {
			result = multierror.Append(result, err)
		}
		l.file = nil
	}
	return result.ErrorOrNil()
}
