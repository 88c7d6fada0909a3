package analysis

import (
	"errors"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/tliron/commonlog"

	"github.com/chazu/dexflow/dex"
)

// Default registration parameters.
const (
	DefaultBatchSize = 256
)

// ---------------------------------------------------------------------------
// Index: registered modules and their analyses
// ---------------------------------------------------------------------------

// Index aggregates registered modules, their classes and the control-flow
// analysis of every method with a body. Entries are never removed. An Index
// is safe for concurrent use.
type Index struct {
	mu       sync.RWMutex
	modules  []*dex.Module
	classes  map[string]*ClassAnalysis
	methods  map[*dex.Method]*MethodAnalysis
	failures map[*dex.Method]error
	byName   map[string]*dex.Method

	workers  int
	batch    int
	resolver TargetResolver
	log      commonlog.Logger
}

// Option configures an Index.
type Option func(*Index)

// WithWorkers sets the number of goroutines analysing methods.
func WithWorkers(n int) Option {
	return func(idx *Index) {
		if n > 0 {
			idx.workers = n
		}
	}
}

// WithBatchSize caps the number of methods in flight at once.
func WithBatchSize(n int) Option {
	return func(idx *Index) {
		if n > 0 {
			idx.batch = n
		}
	}
}

// WithResolver replaces the default dex.Flow target resolver.
func WithResolver(r TargetResolver) Option {
	return func(idx *Index) {
		if r != nil {
			idx.resolver = r
		}
	}
}

// WithLogger sets the logger for registration and build diagnostics.
func WithLogger(l commonlog.Logger) Option {
	return func(idx *Index) {
		if l != nil {
			idx.log = l
		}
	}
}

// NewIndex creates an empty Index.
func NewIndex(opts ...Option) *Index {
	idx := &Index{
		classes:  make(map[string]*ClassAnalysis),
		methods:  make(map[*dex.Method]*MethodAnalysis),
		failures: make(map[*dex.Method]error),
		byName:   make(map[string]*dex.Method),
		workers:  runtime.GOMAXPROCS(0),
		batch:    DefaultBatchSize,
		resolver: dex.Flow{},
		log:      log,
	}
	for _, opt := range opts {
		opt(idx)
	}
	return idx
}

// RegisterStats summarises one Register call.
type RegisterStats struct {
	Module   string
	Classes  int
	Methods  int // methods declared
	Analyzed int // analyses stored
	Skipped  int // methods without a body
	Failed   int // methods whose analysis failed
	Elapsed  time.Duration
}

func (s RegisterStats) String() string {
	return fmt.Sprintf("%s: %d classes, %d methods, %d analyzed, %d skipped, %d failed in %s",
		s.Module, s.Classes, s.Methods, s.Analyzed, s.Skipped, s.Failed, s.Elapsed.Round(time.Microsecond))
}

type buildResult struct {
	method   *dex.Method
	analysis *MethodAnalysis
	err      error
}

// Register adds a module and analyses every method with a body. Per-method
// failures, including panics, are recorded and do not stop registration;
// the returned error is non-nil only when the worker pool cannot run.
// Registering the same module twice duplicates its entries.
func (idx *Index) Register(m *dex.Module) (RegisterStats, error) {
	if m == nil {
		return RegisterStats{}, errors.New("register: nil module")
	}
	start := time.Now()
	stats := RegisterStats{Module: m.Name, Classes: len(m.Classes)}

	var pending []*dex.Method
	idx.mu.Lock()
	idx.modules = append(idx.modules, m)
	for _, c := range m.Classes {
		idx.classes[c.Name] = &ClassAnalysis{class: c}
		for _, meth := range c.Methods {
			if meth.Class == nil {
				meth.Class = c
			}
			idx.byName[meth.String()] = meth
			stats.Methods++
			if meth.HasCode() {
				pending = append(pending, meth)
			} else {
				stats.Skipped++
			}
		}
	}
	idx.mu.Unlock()

	pool, err := ants.NewPool(idx.workers, ants.WithLogger(poolLogger{idx.log}))
	if err != nil {
		return stats, fmt.Errorf("register %s: %w", m.Name, err)
	}
	defer pool.Release()

	for lo := 0; lo < len(pending); lo += idx.batch {
		hi := min(lo+idx.batch, len(pending))
		results := make([]buildResult, hi-lo)

		var wg sync.WaitGroup
		for i, meth := range pending[lo:hi] {
			wg.Add(1)
			err := pool.Submit(func() {
				defer wg.Done()
				results[i] = idx.analyze(meth)
			})
			if err != nil {
				wg.Done()
				results[i] = buildResult{method: meth, err: err}
			}
		}
		wg.Wait()

		idx.mu.Lock()
		for _, r := range results {
			switch {
			case r.err == nil:
				idx.methods[r.method] = r.analysis
				stats.Analyzed++
			case errors.Is(r.err, ErrEmptyMethodBody):
				stats.Skipped++
			default:
				idx.failures[r.method] = r.err
				stats.Failed++
				idx.log.Errorf("%v", r.err)
			}
		}
		idx.mu.Unlock()
	}

	stats.Elapsed = time.Since(start)
	idx.log.Infof("registered %s", stats)
	return stats, nil
}

// analyze builds one method, converting a panic into ErrAnalysisPanic.
func (idx *Index) analyze(m *dex.Method) (res buildResult) {
	res.method = m
	defer func() {
		if r := recover(); r != nil {
			res.analysis = nil
			res.err = fmt.Errorf("%w: %s: %v", ErrAnalysisPanic, m, r)
		}
	}()
	start := time.Now()
	res.analysis, res.err = build(m, idx.resolver, idx.log)
	if res.err == nil {
		idx.log.Debugf("%s: %d blocks, %d regions in %s",
			m, res.analysis.blocks.Len(), res.analysis.exceptions.Len(), time.Since(start))
	}
	return res
}

// ---- Queries ----

// Lookup returns the analysis of a method. It reports false for methods
// never registered, without a body, or whose analysis failed.
func (idx *Index) Lookup(m *dex.Method) (*MethodAnalysis, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	ma, ok := idx.methods[m]
	return ma, ok
}

// LookupName is Lookup by smali signature.
func (idx *Index) LookupName(signature string) (*MethodAnalysis, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	m, ok := idx.byName[signature]
	if !ok {
		return nil, false
	}
	ma, ok := idx.methods[m]
	return ma, ok
}

// Method returns a registered method by smali signature, with or without
// an analysis.
func (idx *Index) Method(signature string) (*dex.Method, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	m, ok := idx.byName[signature]
	return m, ok
}

// Failure returns the recorded cause when a method's analysis failed.
func (idx *Index) Failure(m *dex.Method) error {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.failures[m]
}

// Class returns the class view for a type descriptor.
func (idx *Index) Class(name string) (*ClassAnalysis, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	c, ok := idx.classes[name]
	return c, ok
}

// Classes returns every class view sorted by name.
func (idx *Index) Classes() []*ClassAnalysis {
	idx.mu.RLock()
	out := make([]*ClassAnalysis, 0, len(idx.classes))
	for _, c := range idx.classes {
		out = append(out, c)
	}
	idx.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Modules returns the registered modules in registration order.
func (idx *Index) Modules() []*dex.Module {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return append([]*dex.Module(nil), idx.modules...)
}

// Methods returns every stored analysis sorted by method signature.
func (idx *Index) Methods() []*MethodAnalysis {
	idx.mu.RLock()
	out := make([]*MethodAnalysis, 0, len(idx.methods))
	for _, ma := range idx.methods {
		out = append(out, ma)
	}
	idx.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

// poolLogger routes worker pool diagnostics to commonlog.
type poolLogger struct {
	log commonlog.Logger
}

func (l poolLogger) Printf(format string, args ...any) {
	l.log.Warningf(format, args...)
}
