package ginseng

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// ThreadSafeTemplate guards Template.Render behind a read lock so a host can
// share one compiled template across goroutines without racing whatever
// internal caches a future Template implementation might add.
type ThreadSafeTemplate struct {
	*Template
	mu sync.RWMutex
}

func NewThreadSafeTemplate(tmpl *Template) *ThreadSafeTemplate {
	return &ThreadSafeTemplate{Template: tmpl}
}

func (tst *ThreadSafeTemplate) RenderConcurrent(ctx Context) (string, error) {
	tst.mu.RLock()
	defer tst.mu.RUnlock()
	return tst.Template.Render(ctx)
}

// ThreadSafeEnvironment guards the three mutable surfaces of an Environment
// (template compilation, filter registration, global variables) behind
// separate locks, so registering a filter never blocks an in-flight render.
type ThreadSafeEnvironment struct {
	*Environment
	templateMu sync.RWMutex
	filterMu   sync.RWMutex
	globalMu   sync.RWMutex
}

func NewThreadSafeEnvironment(opts ...EnvironmentOption) *ThreadSafeEnvironment {
	return &ThreadSafeEnvironment{Environment: NewEnvironment(opts...)}
}

func (tse *ThreadSafeEnvironment) GetTemplateConcurrent(name string) (*ThreadSafeTemplate, error) {
	tse.templateMu.RLock()
	defer tse.templateMu.RUnlock()

	tmpl, err := tse.Environment.GetTemplate(name)
	if err != nil {
		return nil, err
	}
	return NewThreadSafeTemplate(tmpl), nil
}

func (tse *ThreadSafeEnvironment) FromStringConcurrent(source string) (*ThreadSafeTemplate, error) {
	tse.templateMu.RLock()
	defer tse.templateMu.RUnlock()

	tmpl, err := tse.Environment.FromString(source)
	if err != nil {
		return nil, err
	}
	return NewThreadSafeTemplate(tmpl), nil
}

func (tse *ThreadSafeEnvironment) AddFilterConcurrent(name string, filter FilterFunc) error {
	tse.filterMu.Lock()
	defer tse.filterMu.Unlock()
	return tse.Environment.AddFilter(name, filter)
}

func (tse *ThreadSafeEnvironment) AddGlobalConcurrent(name string, value interface{}) {
	tse.globalMu.Lock()
	defer tse.globalMu.Unlock()
	tse.Environment.AddGlobal(name, value)
}

// recoverToError turns a panic inside a render goroutine into an error,
// so one misbehaving template (e.g. a host method panicking) can't bring
// down a worker pool or a batch render.
func recoverToError(dst *error) {
	if r := recover(); r != nil {
		*dst = fmt.Errorf("panic during template render: %v", r)
	}
}

type renderJob struct {
	ctx      Context
	resultCh chan renderResult
}

type renderResult struct {
	output string
	err    error
}

// ConcurrentTemplateRenderer fans a fixed pool of workers out over a single
// compiled template, for callers that want bounded concurrency rather than
// a goroutine per render (RenderBatch below).
type ConcurrentTemplateRenderer struct {
	template *Template
	workers  int
	jobs     chan renderJob
	wg       sync.WaitGroup
	running  int32
	done     chan struct{}
}

func NewConcurrentTemplateRenderer(template *Template, workers int) *ConcurrentTemplateRenderer {
	return &ConcurrentTemplateRenderer{
		template: template,
		workers:  workers,
		jobs:     make(chan renderJob, workers*2),
		done:     make(chan struct{}),
	}
}

func (ctr *ConcurrentTemplateRenderer) Start() {
	if !atomic.CompareAndSwapInt32(&ctr.running, 0, 1) {
		return
	}
	for i := 0; i < ctr.workers; i++ {
		ctr.wg.Add(1)
		go ctr.runWorker()
	}
}

func (ctr *ConcurrentTemplateRenderer) Stop() {
	if !atomic.CompareAndSwapInt32(&ctr.running, 1, 0) {
		return
	}
	close(ctr.done)
	ctr.wg.Wait()
}

// RenderAsync enqueues ctx for rendering by whichever worker is free next,
// returning a channel that receives exactly one result.
func (ctr *ConcurrentTemplateRenderer) RenderAsync(ctx Context) <-chan renderResult {
	out := make(chan renderResult, 1)

	select {
	case <-ctr.done:
		out <- renderResult{err: fmt.Errorf("renderer is stopped")}
		return out
	default:
	}

	select {
	case ctr.jobs <- renderJob{ctx: ctx, resultCh: out}:
	case <-ctr.done:
		out <- renderResult{err: fmt.Errorf("renderer is stopped")}
	}
	return out
}

func (ctr *ConcurrentTemplateRenderer) runWorker() {
	defer ctr.wg.Done()
	for {
		select {
		case job := <-ctr.jobs:
			ctr.runJob(job)
		case <-ctr.done:
			return
		}
	}
}

func (ctr *ConcurrentTemplateRenderer) runJob(job renderJob) {
	var result renderResult
	defer func() {
		recoverToError(&result.err)
		job.resultCh <- result
		close(job.resultCh)
	}()
	result.output, result.err = ctr.template.Render(job.ctx)
}

// RenderBatch renders every context concurrently (one goroutine per
// context) and returns parallel result/error slices indexed the same way
// as the input.
func (ctr *ConcurrentTemplateRenderer) RenderBatch(contexts []Context) ([]string, []error) {
	results := make([]string, len(contexts))
	errs := make([]error, len(contexts))

	var wg sync.WaitGroup
	for i, ctx := range contexts {
		wg.Add(1)
		go func(idx int, c Context) {
			defer wg.Done()
			defer recoverToError(&errs[idx])
			results[idx], errs[idx] = ctr.template.Render(c)
		}(i, ctx)
	}
	wg.Wait()
	return results, errs
}

// TemplatePool hands out independent *Template copies sharing the same
// compiled AST, for callers whose Template gains mutable per-instance state
// in the future and who want isolation without re-parsing.
type TemplatePool struct {
	pool     sync.Pool
	template *Template
}

func NewTemplatePool(template *Template) *TemplatePool {
	clone := func() interface{} {
		return &Template{name: template.name, source: template.source, env: template.env, ast: template.ast}
	}
	return &TemplatePool{template: template, pool: sync.Pool{New: clone}}
}

func (tp *TemplatePool) Get() *Template {
	tmpl, ok := tp.pool.Get().(*Template)
	if !ok {
		return &Template{name: tp.template.name, source: tp.template.source, env: tp.template.env, ast: tp.template.ast}
	}
	return tmpl
}

func (tp *TemplatePool) Put(tmpl *Template) {
	tp.pool.Put(tmpl)
}

func (tp *TemplatePool) RenderConcurrent(ctx Context) (string, error) {
	tmpl := tp.Get()
	defer tp.Put(tmpl)
	return tmpl.Render(ctx)
}

// ConcurrentContextPool is a stats-tracked Context pool. Unlike the bare
// GetContext/PutContext pair in cached.go, it reports how many gets/puts it
// has served so a host can monitor pool pressure.
type ConcurrentContextPool struct {
	pool sync.Pool
	gets int64
	puts int64
}

func NewConcurrentContextPool() *ConcurrentContextPool {
	return &ConcurrentContextPool{pool: sync.Pool{New: func() interface{} { return NewContext() }}}
}

func (ccp *ConcurrentContextPool) Get() Context {
	atomic.AddInt64(&ccp.gets, 1)
	ctx, ok := ccp.pool.Get().(Context)
	if !ok {
		return NewContext()
	}
	return ctx
}

// Put returns a fresh Context to the pool rather than ctx itself: ctx may
// still be referenced by code that raced the render this pool entry came
// from, and a pooled Context must never carry stale bindings into its next
// user.
func (ccp *ConcurrentContextPool) Put(ctx Context) {
	atomic.AddInt64(&ccp.puts, 1)
	ccp.pool.Put(NewContext())
}

func (ccp *ConcurrentContextPool) GetStats() (gets, puts int64) {
	return atomic.LoadInt64(&ccp.gets), atomic.LoadInt64(&ccp.puts)
}

var GlobalConcurrentContextPool = NewConcurrentContextPool()

// RateLimitedRenderer bounds how many renders of one template can run at
// once via a buffered-channel semaphore, for protecting a host against a
// burst of requests against an expensive template.
type RateLimitedRenderer struct {
	template *Template
	slots    chan struct{}
}

func NewRateLimitedRenderer(template *Template, maxConcurrent int) *RateLimitedRenderer {
	return &RateLimitedRenderer{template: template, slots: make(chan struct{}, maxConcurrent)}
}

func (rlr *RateLimitedRenderer) Render(ctx Context) (string, error) {
	rlr.slots <- struct{}{}
	defer func() { <-rlr.slots }()
	return rlr.template.Render(ctx)
}

// ConcurrentCacheManager is a generic, lock-free (sync.Map-backed)
// key/value cache with hit/miss counters, for host applications that want
// to cache arbitrary render-adjacent values (rendered fragments, resolved
// includes) alongside the engine's own template cache.
type ConcurrentCacheManager struct {
	values sync.Map
	hits   int64
	misses int64
}

func NewConcurrentCacheManager() *ConcurrentCacheManager {
	return &ConcurrentCacheManager{}
}

func (ccm *ConcurrentCacheManager) Get(key string) (interface{}, bool) {
	value, ok := ccm.values.Load(key)
	if ok {
		atomic.AddInt64(&ccm.hits, 1)
	} else {
		atomic.AddInt64(&ccm.misses, 1)
	}
	return value, ok
}

func (ccm *ConcurrentCacheManager) Set(key string, value interface{}) {
	ccm.values.Store(key, value)
}

func (ccm *ConcurrentCacheManager) Delete(key string) {
	ccm.values.Delete(key)
}

func (ccm *ConcurrentCacheManager) GetStats() (hits, misses int64) {
	return atomic.LoadInt64(&ccm.hits), atomic.LoadInt64(&ccm.misses)
}

var GlobalConcurrentCache = NewConcurrentCacheManager()

// ConcurrentEnvironmentRegistry is a named registry of ThreadSafeEnvironment
// instances, for a host serving multiple tenants/sites from one process
// where each tenant needs its own filters/globals/loader.
type ConcurrentEnvironmentRegistry struct {
	byName     sync.Map
	defaultEnv *ThreadSafeEnvironment
}

func NewConcurrentEnvironmentRegistry() *ConcurrentEnvironmentRegistry {
	return &ConcurrentEnvironmentRegistry{defaultEnv: NewThreadSafeEnvironment()}
}

func (cer *ConcurrentEnvironmentRegistry) RegisterEnvironment(name string, env *ThreadSafeEnvironment) {
	cer.byName.Store(name, env)
}

func (cer *ConcurrentEnvironmentRegistry) GetEnvironment(name string) (*ThreadSafeEnvironment, bool) {
	v, ok := cer.byName.Load(name)
	if !ok {
		return nil, false
	}
	env, ok := v.(*ThreadSafeEnvironment)
	return env, ok
}

func (cer *ConcurrentEnvironmentRegistry) GetDefaultEnvironment() *ThreadSafeEnvironment {
	return cer.defaultEnv
}

var GlobalEnvironmentRegistry = NewConcurrentEnvironmentRegistry()
