package extract

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/operator-framework/demiurge-synth/internal/bridge"
	"github.com/operator-framework/demiurge-synth/internal/cnf"
	"github.com/operator-framework/demiurge-synth/internal/metrics"
	"github.com/operator-framework/demiurge-synth/internal/registry"
	"github.com/operator-framework/demiurge-synth/internal/sat"
)

// Method names one worker's extraction strategy in the portfolio of
// spec.md §4.6.
type Method int

const (
	// MethodSAT is the plain MustBe0/MustBe1 loop: present state and
	// uncontrollable inputs only.
	MethodSAT Method = iota
	// MethodDependencyAware widens the vocabulary per spec.md §4.5's
	// dependency-aware variant.
	MethodDependencyAware
	// MethodQBF would solve each controllable as a single quantified
	// formula rather than learning it clause by clause. No QBF back-end is
	// wired into this module (sat.Stub always reports
	// sat.ErrNotImplemented). The worker only calls SolveForall(nil, nil)
	// on the configured sat.QBF and builds no signals: it always finishes
	// with an error, whatever QBF implementation is supplied.
	MethodQBF
)

func (m Method) String() string {
	switch m {
	case MethodSAT:
		return "sat"
	case MethodDependencyAware:
		return "dependency-aware-sat"
	case MethodQBF:
		return "qbf"
	default:
		return "unknown"
	}
}

// ParallelConfig configures RunParallel.
type ParallelConfig struct {
	// Methods lists the portfolio's worker strategies; order determines
	// worker index, which breaks ties between equally-sized results.
	// Defaults to {MethodSAT, MethodDependencyAware} if empty. At most one
	// MethodDependencyAware worker may run per call: that method lazily
	// memoises onto the shared bridge.Bridge's DependencyMap, which is not
	// itself synchronised, so two such workers racing would corrupt it.
	// MethodSAT workers never touch the dependency map and so carry no
	// such restriction.
	Methods []Method
	// GracePeriod bounds how long slower workers get to finish, and so
	// possibly supersede the first result with a smaller circuit, once one
	// worker has already succeeded. Zero means no grace period: the first
	// success wins immediately.
	GracePeriod time.Duration
	// QBF backs MethodQBF workers. Defaults to sat.Stub{}.
	QBF sat.QBF
	// SecondPass seeds the Config every non-QBF worker starts from;
	// DependencyAware is set per method, not from this struct.
	SecondPass bool
	// Metrics, if non-nil, is shared by every worker's Extractor. prometheus
	// counters are safe for concurrent Inc() calls, so every worker racing
	// to synthesise the same signals increments the same ExtractedSignals
	// counter without its own synchronisation.
	Metrics *metrics.Collectors
}

// ParallelResult is the winning worker's output.
type ParallelResult struct {
	Signals     []Signal
	Method      Method
	WorkerIndex int
}

type workerOutcome struct {
	idx     int
	method  Method
	signals []Signal
	size    int
	err     error
}

// RunParallel implements the parallel extractor of spec.md §4.6: a
// portfolio of worker goroutines race to synthesise every controllable
// signal, a single atomic stop-flag lets the coordinator ask every worker
// to abort at its next safe point, and once one worker succeeds the
// others get a bounded grace period to finish before the coordinator
// commits to a winner - the smallest total-clause-count result, ties
// broken by worker index.
func RunParallel(ctx context.Context, reg *registry.Registry, br *bridge.Bridge, w *cnf.CNF, newSession SessionFactory, log logrus.FieldLogger, pcfg ParallelConfig) (ParallelResult, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	methods := pcfg.Methods
	if len(methods) == 0 {
		methods = []Method{MethodSAT, MethodDependencyAware}
	}
	qbf := pcfg.QBF
	if qbf == nil {
		qbf = sat.Stub{}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var stopped atomic.Bool
	var once sync.Once
	var graceTimer *time.Timer
	results := make(chan workerOutcome, len(methods))

	g, gctx := errgroup.WithContext(ctx)
	for idx, method := range methods {
		idx, method := idx, method
		g.Go(func() error {
			outcome := runWorker(gctx, reg, br, w, newSession, log, pcfg, idx, method, qbf, &stopped)
			select {
			case results <- outcome:
			case <-ctx.Done():
			}
			return nil
		})
	}

	go func() {
		g.Wait()
		close(results)
	}()

	var best *workerOutcome
	remaining := len(methods)
	var graceC <-chan time.Time
	for remaining > 0 {
		select {
		case out, ok := <-results:
			if !ok {
				remaining = 0
				continue
			}
			remaining--
			if out.err != nil {
				log.WithError(out.err).WithField("method", out.method).Debug("extract: portfolio worker failed")
				continue
			}
			if best == nil || out.size < best.size || (out.size == best.size && out.idx < best.idx) {
				best = &out
			}
			// The first success starts the grace period; later, smaller
			// successes do not restart it, so the coordinator still
			// commits within a bounded time of the first answer.
			once.Do(func() {
				stopped.Store(true)
				if pcfg.GracePeriod > 0 {
					graceTimer = time.NewTimer(pcfg.GracePeriod)
					graceC = graceTimer.C
				} else {
					cancel()
				}
			})
		case <-graceC:
			cancel()
			graceC = nil
		}
	}
	if graceTimer != nil {
		graceTimer.Stop()
	}

	if best == nil {
		return ParallelResult{}, errors.New("extract: every portfolio worker failed")
	}
	return ParallelResult{Signals: best.signals, Method: best.method, WorkerIndex: best.idx}, nil
}

func runWorker(ctx context.Context, reg *registry.Registry, br *bridge.Bridge, w *cnf.CNF, newSession SessionFactory, log logrus.FieldLogger, pcfg ParallelConfig, idx int, method Method, qbf sat.QBF, stopped *atomic.Bool) workerOutcome {
	cancelFn := func() bool {
		return stopped.Load() || ctx.Err() != nil
	}

	if method == MethodQBF {
		_, err := qbf.SolveForall(nil, nil)
		return workerOutcome{idx: idx, method: method, err: errors.Wrap(err, "extract: qbf worker")}
	}

	cfg := Config{
		DependencyAware: method == MethodDependencyAware,
		SecondPass:      pcfg.SecondPass,
		Cancel:          cancelFn,
	}
	// Each worker mints its own scratch variables (copy-renamings,
	// reification parameters); cloning the registry keeps those private so
	// concurrent workers never race on it. Every variable a returned
	// Signal.Def references already existed before cloning, so the caller
	// can interpret the winning result against the original registry.
	ex := New(reg.Clone(), br, w, cfg, newSession, log.WithField("worker", idx)).WithMetrics(pcfg.Metrics)
	signals, err := ex.Extract()
	if err != nil {
		return workerOutcome{idx: idx, method: method, err: err}
	}
	return workerOutcome{idx: idx, method: method, signals: signals, size: totalSize(signals)}
}

func totalSize(signals []Signal) int {
	n := 0
	for _, sig := range signals {
		for _, cl := range sig.Def.Clauses() {
			n += len(cl)
		}
	}
	return n
}
