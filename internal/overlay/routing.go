package overlay

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/paulmach/orb"

	"mapsync/internal/domain"
	"mapsync/pkg/routing"
)

// RouteOptions tune how long the worker waits for a backend to come up
type RouteOptions struct {
	InitPoll    time.Duration
	InitTimeout time.Duration
}

// RoutingStats are counters safe to read from any goroutine
type RoutingStats struct {
	Batches     int64 `json:"batches"`
	Routed      int64 `json:"routed"`
	Failures    int64 `json:"failures"`
	StaleDrops  int64 `json:"staleDrops"`
	Generations int64 `json:"generations"`
}

// routeRequest is the worker's snapshot of one pair
type routeRequest struct {
	pair  *PairWithLayer
	token *cancelToken
	from  orb.Point
	to    orb.Point
}

type routeResult struct {
	routeRequest
	result routing.Result
}

// RouteOperation draws a provisional beeline per pair and refines it with the
// routing backend on a serialized worker. Results are applied on the foreground.
type RouteOperation struct {
	ctx        context.Context
	surface    Surface
	selection  *SelectionUpdater
	provider   RoutingProvider
	dispatcher Dispatcher
	notifier   Notifier
	opts       RouteOptions
	logger     *slog.Logger

	live       map[*PairWithLayer]struct{}
	generation uint64
	worker     *worker

	metricsMu sync.RWMutex
	metrics   domain.Metrics

	batches     atomic.Int64
	routed      atomic.Int64
	failures    atomic.Int64
	staleDrops  atomic.Int64
	generations atomic.Int64
}

func NewRouteOperation(
	ctx context.Context,
	surface Surface,
	selection *SelectionUpdater,
	provider RoutingProvider,
	dispatcher Dispatcher,
	notifier Notifier,
	opts RouteOptions,
	logger *slog.Logger,
) *RouteOperation {
	if opts.InitPoll <= 0 {
		opts.InitPoll = 100 * time.Millisecond
	}
	return &RouteOperation{
		ctx:        ctx,
		surface:    surface,
		selection:  selection,
		provider:   provider,
		dispatcher: dispatcher,
		notifier:   notifier,
		opts:       opts,
		logger:     logger.With("component", "route_operation"),
		live:       make(map[*PairWithLayer]struct{}),
	}
}

func (o *RouteOperation) Add(pairs []*PairWithLayer) {
	var requests []routeRequest
	for _, p := range pairs {
		p.token = newCancelToken()
		p.State = StateBeeline
		o.live[p] = struct{}{}

		if !p.HasCoordinates() {
			continue
		}
		o.drawBeeline(p)
		requests = append(requests, routeRequest{
			pair:  p,
			token: p.token,
			from:  p.First.Point(),
			to:    p.Second.Point(),
		})
	}
	o.publishMetrics()

	if len(requests) > 0 {
		o.submit(requests)
	}
}

func (o *RouteOperation) Update(pairs []*PairWithLayer) {
	o.detach(pairs)
	o.Add(pairs)
	o.selection.UpdatedPositions(pairPositions(pairs))
}

func (o *RouteOperation) Remove(pairs []*PairWithLayer) {
	o.detach(pairs)
	o.publishMetrics()
	o.selection.RemovedPositions(pairPositions(pairs))
}

// Reset discards the current worker generation with all queued batches.
// Results of batches already running are dropped when they arrive.
func (o *RouteOperation) Reset() {
	o.generation++
	if o.worker == nil {
		return
	}
	dropped := o.worker.stop()
	o.logger.Debug("routing worker discarded", "generation", o.worker.generation, "dropped_batches", dropped)
	o.worker = nil
}

// Metrics returns the last published aggregate
func (o *RouteOperation) Metrics() domain.Metrics {
	o.metricsMu.RLock()
	defer o.metricsMu.RUnlock()
	return o.metrics
}

func (o *RouteOperation) Stats() RoutingStats {
	return RoutingStats{
		Batches:     o.batches.Load(),
		Routed:      o.routed.Load(),
		Failures:    o.failures.Load(),
		StaleDrops:  o.staleDrops.Load(),
		Generations: o.generations.Load(),
	}
}

// States counts live pairs per routing state. Foreground only.
func (o *RouteOperation) States() map[string]int {
	counts := make(map[string]int)
	for p := range o.live {
		counts[p.State.String()]++
	}
	return counts
}

func (o *RouteOperation) detach(pairs []*PairWithLayer) {
	for _, p := range pairs {
		p.token.cancel()
		delete(o.live, p)
		removeConnector(o.surface, p, o.logger)
		p.clearMetrics()
	}
}

func (o *RouteOperation) drawBeeline(p *PairWithLayer) {
	p.Layer = o.surface.Add(domain.Element{Kind: domain.ElementBeeline, Path: p.line()})
	p.setMetrics(p.First.DistanceTo(p.Second), p.First.TimeTo(p.Second))
}

func (o *RouteOperation) publishMetrics() {
	var distance float64
	var duration time.Duration
	for p := range o.live {
		if p.Distance != nil {
			distance += *p.Distance
		}
		if p.Duration != nil {
			duration += *p.Duration
		}
	}
	m := domain.Metrics{
		DistanceMeters:  distance,
		DurationSeconds: int64(duration / time.Second),
	}

	o.metricsMu.Lock()
	o.metrics = m
	o.metricsMu.Unlock()
	o.notifier.MetricsChanged(m)
}

func (o *RouteOperation) submit(requests []routeRequest) {
	if o.worker == nil {
		o.worker = startWorker(o.ctx, o.generation, o.logger)
		o.generations.Add(1)
	}
	gen := o.generation
	o.batches.Add(1)
	o.worker.submit(func(ctx context.Context) {
		o.route(ctx, gen, requests)
	})
}

// route runs on the worker goroutine
func (o *RouteOperation) route(ctx context.Context, gen uint64, requests []routeRequest) {
	if requests = pending(requests); len(requests) == 0 {
		o.logger.Debug("skipping routing batch of removed pairs", "generation", gen)
		return
	}
	service := o.provider.RoutingService()
	mode := o.provider.TravelMode()
	start := time.Now()

	o.post(gen, func() { o.setState(requests, StateAwaitingService) })
	if err := o.waitForInitialization(ctx, service); err != nil {
		o.fail(ctx, gen, requests, err)
		return
	}

	if requests = pending(requests); len(requests) == 0 {
		o.logger.Debug("pairs removed while waiting for routing service", "generation", gen)
		return
	}
	o.post(gen, func() { o.setState(requests, StateAwaitingDownload) })
	if err := o.ensureRoutingData(ctx, gen, service, requests); err != nil {
		o.fail(ctx, gen, requests, err)
		return
	}

	results := make([]routeResult, 0, len(requests))
	for _, r := range requests {
		if r.token.isCancelled() {
			continue
		}
		if ctx.Err() != nil {
			return
		}
		res, err := service.RouteBetween(ctx, r.from, r.to, mode)
		if err != nil {
			o.fail(ctx, gen, requests, fmt.Errorf("route between %v and %v: %w", r.from, r.to, err))
			return
		}
		results = append(results, routeResult{routeRequest: r, result: res})
	}

	o.logger.Debug("routing batch computed",
		"service", service.Name(),
		"mode", mode,
		"pairs", len(results),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	o.post(gen, func() { o.apply(results) })
}

func (o *RouteOperation) waitForInitialization(ctx context.Context, service routing.Service) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if service.IsInitialized() {
		return nil
	}
	o.logger.Debug("waiting for routing service", "service", service.Name())

	ticker := time.NewTicker(o.opts.InitPoll)
	defer ticker.Stop()

	var timeout <-chan time.Time
	if o.opts.InitTimeout > 0 {
		timer := time.NewTimer(o.opts.InitTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timeout:
			return fmt.Errorf("%s: %w", service.Name(), routing.ErrNotInitialized)
		case <-ticker.C:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if service.IsInitialized() {
				return nil
			}
		}
	}
}

func (o *RouteOperation) ensureRoutingData(ctx context.Context, gen uint64, service routing.Service, requests []routeRequest) error {
	if !service.IsDownload() {
		return nil
	}

	points := make([]orb.Point, 0, len(requests)*2)
	for _, r := range requests {
		points = append(points, r.from, r.to)
	}

	future, err := service.DownloadRoutingDataFor(ctx, points)
	if err != nil {
		return fmt.Errorf("resolve routing data: %w", err)
	}

	if future.RequiresDownload() {
		o.post(gen, o.notifier.DownloadStarted)
		if err := future.Download(ctx); err != nil {
			return fmt.Errorf("download routing data: %w", err)
		}
	}
	if future.RequiresProcessing() {
		o.post(gen, o.notifier.ProcessingStarted)
		if err := future.Process(ctx); err != nil {
			return fmt.Errorf("process routing data: %w", err)
		}
	}
	return nil
}

// fail reports a backend error unless the generation was discarded or every
// pair of the batch was removed meanwhile
func (o *RouteOperation) fail(ctx context.Context, gen uint64, requests []routeRequest, err error) {
	if ctx.Err() != nil {
		return
	}
	o.post(gen, func() {
		if !slices.ContainsFunc(requests, o.current) {
			o.logger.Debug("dropping routing error of removed pairs", "error", err)
			return
		}
		o.failures.Add(1)
		o.logger.Error("routing failed", "error", err, "pairs", len(requests))
		o.setState(requests, StateBeeline)
		o.notifier.RoutingError(err)
	})
}

// pending drops requests whose pairs were removed
func pending(requests []routeRequest) []routeRequest {
	live := make([]routeRequest, 0, len(requests))
	for _, r := range requests {
		if !r.token.isCancelled() {
			live = append(live, r)
		}
	}
	return live
}

// post runs fn on the foreground if gen is still current there
func (o *RouteOperation) post(gen uint64, fn func()) {
	o.dispatcher.Dispatch(func() {
		if gen != o.generation {
			o.logger.Debug("dropping task of discarded routing generation", "generation", gen)
			return
		}
		fn()
	})
}

func (o *RouteOperation) current(r routeRequest) bool {
	if _, ok := o.live[r.pair]; !ok {
		return false
	}
	return r.pair.token == r.token && !r.token.isCancelled()
}

func (o *RouteOperation) setState(requests []routeRequest, state RouteState) {
	for _, r := range requests {
		if o.current(r) && !r.pair.State.terminal() {
			r.pair.State = state
		}
	}
}

func (o *RouteOperation) apply(results []routeResult) {
	for _, r := range results {
		if !o.current(r.routeRequest) {
			o.staleDrops.Add(1)
			o.logger.Debug("dropping stale routing result", "from", r.from, "to", r.to)
			continue
		}

		p := r.pair
		if p.HasLayer() {
			o.surface.Remove(p.Layer)
		}

		kind := domain.ElementInvalidRoute
		path := orb.LineString{r.from, r.to}
		p.State = StateRoutedInvalid
		if r.result.Valid {
			kind = domain.ElementRoute
			path = routedPath(r.from, r.result.Path, r.to)
			p.State = StateRouted
		}
		p.Layer = o.surface.Add(domain.Element{Kind: kind, Path: path})
		p.setMetrics(r.result.Distance, r.result.Duration)
		o.routed.Add(1)
		o.publishMetrics()
	}
}

// routedPath frames the backend path with the pair endpoints
func routedPath(from orb.Point, path orb.LineString, to orb.Point) orb.LineString {
	result := make(orb.LineString, 0, len(path)+2)
	result = append(result, from)
	for _, pt := range path {
		if pt.Equal(result[len(result)-1]) {
			continue
		}
		result = append(result, pt)
	}
	if !to.Equal(result[len(result)-1]) {
		result = append(result, to)
	}
	return result
}
