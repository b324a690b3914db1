// Package devicedb resolves per-device configuration by matching a
// switch's identity descriptors against a loaded property sheet.
package devicedb

import (
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/runos-go/ofcore/internal/propsheet"
)

// Columns is the fixed, ordered set of device-identity fields every entry
// selects on.
var Columns = []string{"dpid", "manufacturer", "hwVersion", "swVersion", "serialNum", "description"}

// PropsConverter converts a legacy properties-file format into the JSON
// shape PropertySheet entries are parsed from. It stands in for an
// external child-process conversion step; the zero value treats every
// source as already-JSON.
type PropsConverter interface {
	Convert(path string) ([]byte, error)
}

// identityConverter is the nil-safe default PropsConverter: it reads the
// file directly and assumes it is already JSON.
type identityConverter struct{}

func (identityConverter) Convert(path string) ([]byte, error) {
	return os.ReadFile(path)
}

// Query binds all six identity columns for a lookup. Empty string means
// "no hint" for that column.
type Query struct {
	DPID         string
	Manufacturer string
	HWVersion    string
	SWVersion    string
	SerialNum    string
	Description  string
}

func (q Query) fields() []string {
	return []string{q.DPID, q.Manufacturer, q.HWVersion, q.SWVersion, q.SerialNum, q.Description}
}

// Metrics is the subset of the metrics collector DeviceDb records query
// volume against.
type Metrics interface {
	DeviceDBQuery(matched bool)
}

type noopMetrics struct{}

func (noopMetrics) DeviceDBQuery(bool) {}

// Option configures optional DB parameters.
type Option func(*DB)

// WithMetrics sets the Metrics collector used for query accounting. A nil m
// is a no-op.
func WithMetrics(m Metrics) Option {
	return func(d *DB) {
		if m != nil {
			d.metrics = m
		}
	}
}

// DB loads device-configuration entries and answers queries against them.
type DB struct {
	logger    *slog.Logger
	converter PropsConverter
	metrics   Metrics

	mu    sync.RWMutex
	sheet *propsheet.Sheet
}

// New builds an empty DeviceDb. If converter is nil, properties files are
// assumed to already be JSON.
func New(logger *slog.Logger, converter PropsConverter, opts ...Option) *DB {
	if logger == nil {
		logger = slog.Default()
	}
	if converter == nil {
		converter = identityConverter{}
	}
	d := &DB{
		logger:    logger,
		converter: converter,
		metrics:   noopMetrics{},
		sheet:     propsheet.New(Columns),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// AddJSONFile loads entries directly from a JSON file. The load is
// atomic: either every entry parses and all are appended, or none are.
func (d *DB) AddJSONFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return &propsheet.LoadError{File: path, Err: err}
	}
	return d.AddJSON(path, data)
}

// AddPropsFile runs path through the configured PropsConverter, then
// loads the resulting JSON.
func (d *DB) AddPropsFile(path string) error {
	data, err := d.converter.Convert(path)
	if err != nil {
		return &propsheet.LoadError{File: path, Err: fmt.Errorf("converting properties file: %w", err)}
	}
	return d.AddJSON(path, data)
}

// AddJSON parses data (an already-retrieved JSON document) and appends its
// entries to the sheet. name is used only for error attribution.
func (d *DB) AddJSON(name string, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	entries, err := d.sheet.ParseEntries(data)
	if err != nil {
		return &propsheet.LoadError{File: name, Err: err}
	}
	d.sheet.AppendAll(entries)
	d.logger.Debug("devicedb: loaded entries", "source", name, "count", len(entries))
	return nil
}

// Query resolves a query against the loaded sheet, returning a
// name-deduplicated, name-sorted set of properties.
func (d *DB) Query(q Query) []propsheet.Property {
	d.mu.RLock()
	props := d.sheet.Query(q.fields())
	d.mu.RUnlock()
	d.metrics.DeviceDBQuery(len(props) > 0)
	return props
}
