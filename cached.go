package ginseng

import (
	"strings"
	"sync"
)

// builderPool recycles strings.Builder values across renders so a
// high-throughput host doesn't allocate a fresh builder per template.
var builderPool = sync.Pool{
	New: func() interface{} { return &strings.Builder{} },
}

func GetStringBuilder() *strings.Builder {
	return builderPool.Get().(*strings.Builder)
}

func PutStringBuilder(sb *strings.Builder) {
	sb.Reset()
	builderPool.Put(sb)
}

// rootContextPool recycles empty root Contexts. Put never reuses the
// caller's own context object (it may still be referenced by an in-flight
// render) — it seeds the pool with a fresh one instead, so a leaked
// reference elsewhere can never corrupt a future Get.
var rootContextPool = sync.Pool{
	New: func() interface{} { return NewContext() },
}

func GetContext() Context {
	return rootContextPool.Get().(Context)
}

func PutContext(ctx Context) {
	if ctx == nil {
		return
	}
	rootContextPool.Put(NewContext())
}

// scratch bundles the per-render buffer and inclusion-tracking set a
// CachedTemplate needs, pooled together since they're always acquired and
// released as a pair.
type scratch struct {
	builder *strings.Builder
	visited map[string]bool
}

func (s *scratch) reset() {
	s.builder.Reset()
	for k := range s.visited {
		delete(s.visited, k)
	}
}

// CachedTemplate wraps a Template with a pool of render scratch space, for
// callers that render the same template at high frequency (e.g. a hot HTTP
// handler) and want to avoid a fresh strings.Builder per request.
type CachedTemplate struct {
	*Template
	pool sync.Pool
}

func NewCachedTemplate(tmpl *Template) *CachedTemplate {
	return &CachedTemplate{
		Template: tmpl,
		pool: sync.Pool{
			New: func() interface{} {
				return &scratch{builder: &strings.Builder{}, visited: make(map[string]bool)}
			},
		},
	}
}

// RenderCached renders through the pooled scratch space. The scratch isn't
// currently threaded into Template.Render (that still allocates its own
// builder internally); this pool exists so callers building their own
// render path on top of CachedTemplate have pooled scratch space available.
func (ct *CachedTemplate) RenderCached(ctx Context) (string, error) {
	s := ct.pool.Get().(*scratch)
	defer func() {
		s.reset()
		ct.pool.Put(s)
	}()
	return ct.Template.Render(ctx)
}

// SlicePool recycles the small string/int slices filters and the evaluator
// allocate for intermediate results (split arguments, index lists).
type SlicePool struct {
	strings sync.Pool
	ints    sync.Pool
}

var GlobalSlicePool = newSlicePool()

func newSlicePool() *SlicePool {
	return &SlicePool{
		strings: sync.Pool{New: func() interface{} { return make([]string, 0, 16) }},
		ints:    sync.Pool{New: func() interface{} { return make([]int, 0, 16) }},
	}
}

func (sp *SlicePool) GetStringSlice() []string {
	return sp.strings.Get().([]string)
}

func (sp *SlicePool) PutStringSlice(slice []string) {
	sp.strings.Put(slice[:0])
}

func (sp *SlicePool) GetIntSlice() []int {
	return sp.ints.Get().([]int)
}

func (sp *SlicePool) PutIntSlice(slice []int) {
	sp.ints.Put(slice[:0])
}

// FastStringBuilder is a byte-slice-backed builder for the evaluator's
// output path, where avoiding strings.Builder's extra bookkeeping is worth
// the lost safety of that type's write methods never failing.
type FastStringBuilder struct {
	buf []byte
}

func NewFastStringBuilder(capacity int) *FastStringBuilder {
	return &FastStringBuilder{buf: make([]byte, 0, capacity)}
}

func (fsb *FastStringBuilder) WriteString(s string) {
	fsb.buf = append(fsb.buf, s...)
}

func (fsb *FastStringBuilder) WriteByte(b byte) error {
	fsb.buf = append(fsb.buf, b)
	return nil
}

func (fsb *FastStringBuilder) String() string {
	return string(fsb.buf)
}

func (fsb *FastStringBuilder) Reset() {
	fsb.buf = fsb.buf[:0]
}

func (fsb *FastStringBuilder) Len() int {
	return len(fsb.buf)
}

const fastBuilderRetainLimit = 64 * 1024

var fastBuilderPool = sync.Pool{
	New: func() interface{} { return NewFastStringBuilder(1024) },
}

func GetFastStringBuilder() *FastStringBuilder {
	return fastBuilderPool.Get().(*FastStringBuilder)
}

// PutFastStringBuilder returns fsb to the pool unless it grew past
// fastBuilderRetainLimit, so one unusually large render doesn't pin that
// memory in the pool indefinitely.
func PutFastStringBuilder(fsb *FastStringBuilder) {
	if fsb.Len() >= fastBuilderRetainLimit {
		return
	}
	fsb.Reset()
	fastBuilderPool.Put(fsb)
}

// TemplateCache is a named-template cache keyed by raw source/name string.
// Internally it delegates to the same LRU implementation the Environment
// uses for its own compiled-template cache, so both share identical
// eviction semantics.
type TemplateCache struct {
	inner *templateCache
}

func NewTemplateCache(maxSize int) *TemplateCache {
	return &TemplateCache{inner: newTemplateCache(maxSize)}
}

func (tc *TemplateCache) Get(key string) (*Template, bool) {
	return tc.inner.Get(key)
}

func (tc *TemplateCache) Put(key string, tmpl *Template) {
	tc.inner.Put(key, tmpl)
}

// CachedEnvironment wraps an Environment with a source-keyed template cache,
// for hosts that compile from raw strings repeatedly (e.g. a template
// stored in a database row) rather than loading named files through a
// Loader, which the Environment already caches on its own.
type CachedEnvironment struct {
	*Environment
	bySource *TemplateCache
}

func NewCachedEnvironment(opts ...EnvironmentOption) *CachedEnvironment {
	return &CachedEnvironment{
		Environment: NewEnvironment(opts...),
		bySource:    NewTemplateCache(100),
	}
}

func (ce *CachedEnvironment) FromStringCached(source string) (*Template, error) {
	if tmpl, ok := ce.bySource.Get(source); ok {
		return tmpl, nil
	}
	tmpl, err := ce.Environment.FromString(source)
	if err != nil {
		return nil, err
	}
	ce.bySource.Put(source, tmpl)
	return tmpl, nil
}
