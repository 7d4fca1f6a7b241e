package pathfinder

import (
	"encoding/gob"
	"io"

	"github.com/n0madic/pathfinder/lbfgs"
)

// Options configures a pathfinder run, built via the With* functional
// options (grounded on the same pattern the teacher's estimator
// constructors use for their own tunables).
type Options struct {
	Seed             uint32
	NumPaths         int
	NumDrawsPerPath  int
	NumELBODraws     int
	MaxELBOAttempts  int
	HistorySize      int
	RefreshInterval  int
	NumPSISDraws     int
	SaveIterations   bool
	LBFGS            lbfgs.Options
	InitRadius       float64
	Logger           Logger
	Writer           Writer
	DiagnosticWriter Writer
	Context          VariateContext
}

// Option mutates an Options value under construction.
type Option func(*Options)

// DefaultOptions returns pathfinder's conventional tunables: 4 paths, a
// 1000-draw final sample, and the L-BFGS driver's own defaults.
func DefaultOptions() Options {
	return Options{
		Seed:            1,
		NumPaths:        4,
		NumDrawsPerPath: 1000,
		NumELBODraws:    100,
		MaxELBOAttempts: 5,
		HistorySize:     6,
		RefreshInterval: 100,
		NumPSISDraws:    1000,
		LBFGS:           lbfgs.DefaultOptions(),
		InitRadius:      2,
		Logger:          nopLogger{},
	}
}

func WithSeed(seed uint32) Option                { return func(o *Options) { o.Seed = seed } }
func WithNumPaths(n int) Option                  { return func(o *Options) { o.NumPaths = n } }
func WithNumDrawsPerPath(n int) Option           { return func(o *Options) { o.NumDrawsPerPath = n } }
func WithNumELBODraws(n int) Option              { return func(o *Options) { o.NumELBODraws = n } }
func WithMaxELBOAttempts(n int) Option           { return func(o *Options) { o.MaxELBOAttempts = n } }
func WithHistorySize(n int) Option               { return func(o *Options) { o.HistorySize = n } }
func WithRefreshInterval(n int) Option           { return func(o *Options) { o.RefreshInterval = n } }
func WithNumPSISDraws(n int) Option              { return func(o *Options) { o.NumPSISDraws = n } }
func WithSaveIterations(b bool) Option           { return func(o *Options) { o.SaveIterations = b } }
func WithLBFGSOptions(lo lbfgs.Options) Option   { return func(o *Options) { o.LBFGS = lo } }
func WithInitRadius(r float64) Option            { return func(o *Options) { o.InitRadius = r } }
func WithLogger(l Logger) Option                 { return func(o *Options) { o.Logger = l } }
func WithWriter(w Writer) Option                 { return func(o *Options) { o.Writer = w } }
func WithDiagnosticWriter(w Writer) Option       { return func(o *Options) { o.DiagnosticWriter = w } }
func WithVariateContext(c VariateContext) Option { return func(o *Options) { o.Context = c } }

func newOptions(opts ...Option) Options {
	o := DefaultOptions()
	for _, apply := range opts {
		apply(&o)
	}
	return o
}

// ConfigSnapshot is the gob-encodable subset of Options: every tunable
// except the L-BFGS driver options and the injected
// Logger/Writer/DiagnosticWriter/Context collaborators, which have no
// meaningful serialized form. It lets a diagnostic header record exactly
// which knobs produced a run, round-tripped with Encode/Decode.
type ConfigSnapshot struct {
	Seed            uint32
	NumPaths        int
	NumDrawsPerPath int
	NumELBODraws    int
	MaxELBOAttempts int
	HistorySize     int
	RefreshInterval int
	NumPSISDraws    int
	SaveIterations  bool
	InitRadius      float64
}

// Snapshot extracts o's gob-encodable tunables.
func (o Options) Snapshot() ConfigSnapshot {
	return ConfigSnapshot{
		Seed:            o.Seed,
		NumPaths:        o.NumPaths,
		NumDrawsPerPath: o.NumDrawsPerPath,
		NumELBODraws:    o.NumELBODraws,
		MaxELBOAttempts: o.MaxELBOAttempts,
		HistorySize:     o.HistorySize,
		RefreshInterval: o.RefreshInterval,
		NumPSISDraws:    o.NumPSISDraws,
		SaveIterations:  o.SaveIterations,
		InitRadius:      o.InitRadius,
	}
}

// Encode gob-encodes the snapshot, mirroring blr-ts's Save/Load convention
// for persisting model state.
func (c ConfigSnapshot) Encode(w io.Writer) error {
	return gob.NewEncoder(w).Encode(c)
}

// Decode gob-decodes a snapshot previously written by Encode.
func (c *ConfigSnapshot) Decode(r io.Reader) error {
	return gob.NewDecoder(r).Decode(c)
}
