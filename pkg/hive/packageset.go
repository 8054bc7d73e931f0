package hive

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/apiary/apiary/pkg/telemetry"
)

// maxRefDepth bounds path-reference indirection chains. A path whose loaded
// value is itself a path is followed at most this many times before the
// chain is treated as unterminated.
const maxRefDepth = 10

// PackageSet is the resolved toolchain/build-environment value a node builds
// against: a base toolchain, an ordered overlay list, and base configuration.
type PackageSet struct {
	// Toolchain names the base toolchain or channel.
	Toolchain string `json:"toolchain,omitempty"`

	// Overlays are ordered modifications applied on top of the base.
	Overlays []string `json:"overlays,omitempty"`

	// Config is the base package configuration.
	Config map[string]interface{} `json:"config,omitempty"`
}

// ConstructorFunc builds a PackageSet from an override set.
type ConstructorFunc func(overrides map[string]interface{}) (*PackageSet, error)

// refKind discriminates the PackageSetRef union.
type refKind int

const (
	refInvalid refKind = iota
	refPath
	refConstructor
	refLiteral
)

// PackageSetRef is a tagged union over the three accepted ways to reference
// a package set: a filesystem path to load, a constructor function, or a
// literal value. The zero value is invalid.
type PackageSetRef struct {
	kind    refKind
	path    string
	ctor    ConstructorFunc
	literal *PackageSet
}

// PathRef references a package set stored at the given path. The loaded
// value is re-resolved, so a path may point at another reference.
func PathRef(path string) PackageSetRef {
	return PackageSetRef{kind: refPath, path: path}
}

// ConstructorRef references a package set produced by a constructor
// function. Resolution invokes it with an empty override set.
func ConstructorRef(fn ConstructorFunc) PackageSetRef {
	return PackageSetRef{kind: refConstructor, ctor: fn}
}

// LiteralRef references an already-concrete package set.
func LiteralRef(ps *PackageSet) PackageSetRef {
	return PackageSetRef{kind: refLiteral, literal: ps}
}

// IsZero reports whether the reference is the invalid zero value.
func (r PackageSetRef) IsZero() bool {
	return r.kind == refInvalid
}

// String describes the reference for logs and error messages.
func (r PackageSetRef) String() string {
	switch r.kind {
	case refPath:
		return fmt.Sprintf("path(%s)", r.path)
	case refConstructor:
		return "constructor"
	case refLiteral:
		return "literal"
	default:
		return "invalid"
	}
}

// cacheKey identifies the reference for memoization. Distinct path refs to
// the same path share one resolution; constructor and literal refs are
// identified by function/value identity.
func (r PackageSetRef) cacheKey() string {
	switch r.kind {
	case refPath:
		return "path:" + r.path
	case refConstructor:
		return fmt.Sprintf("ctor:%p", r.ctor)
	case refLiteral:
		return fmt.Sprintf("lit:%p", r.literal)
	default:
		return "invalid"
	}
}

// PathLoader loads the value stored at a package-set path and returns it as
// a reference for re-resolution. Supplied by the configuration frontend.
type PathLoader func(ctx context.Context, path string) (PackageSetRef, error)

// PackageSetResolver resolves package-set references to concrete values.
// Resolution is memoized per distinct reference: concurrent first access to
// the same reference resolves at most once, with all callers receiving the
// same result.
type PackageSetResolver struct {
	loader  PathLoader
	logger  zerolog.Logger
	metrics *telemetry.Metrics

	group singleflight.Group

	mu    sync.Mutex
	cache map[string]*PackageSet
}

// NewPackageSetResolver creates a resolver. The loader may be nil when no
// path references occur in the hive; resolving a path ref then fails.
func NewPackageSetResolver(loader PathLoader, logger zerolog.Logger) *PackageSetResolver {
	return &PackageSetResolver{
		loader: loader,
		logger: logger.With().Str("component", "packageset-resolver").Logger(),
		cache:  make(map[string]*PackageSet),
	}
}

// WithMetrics attaches a metrics collector; nil keeps recording off.
func (r *PackageSetResolver) WithMetrics(m *telemetry.Metrics) *PackageSetResolver {
	r.metrics = m
	return r
}

// Resolve resolves the reference to a concrete PackageSet. contextLabel
// names the field the reference came from so failures are attributable.
func (r *PackageSetResolver) Resolve(ctx context.Context, ref PackageSetRef, contextLabel string) (*PackageSet, error) {
	if ref.IsZero() {
		return nil, NewInvalidPackageSetRef(contextLabel, nil)
	}

	key := ref.cacheKey()

	r.mu.Lock()
	if ps, ok := r.cache[key]; ok {
		r.mu.Unlock()
		r.metrics.PackageSetResolved(telemetry.PackageSetCached)
		return ps, nil
	}
	r.mu.Unlock()

	v, err, shared := r.group.Do(key, func() (interface{}, error) {
		ps, err := r.resolveRef(ctx, ref, contextLabel, 0)
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		r.cache[key] = ps
		r.mu.Unlock()
		r.metrics.PackageSetResolved(telemetry.PackageSetComputed)
		return ps, nil
	})
	if err != nil {
		return nil, err
	}

	r.logger.Debug().
		Str("ref", ref.String()).
		Str("context", contextLabel).
		Bool("shared", shared).
		Msg("package set resolved")

	return v.(*PackageSet), nil
}

// resolveRef follows the reference until it terminates in a constructor or
// literal, bounding path indirection at maxRefDepth.
func (r *PackageSetResolver) resolveRef(ctx context.Context, ref PackageSetRef, contextLabel string, depth int) (*PackageSet, error) {
	if depth > maxRefDepth {
		return nil, NewInvalidPackageSetRef(contextLabel,
			fmt.Errorf("reference chain exceeds %d levels of indirection", maxRefDepth))
	}

	switch ref.kind {
	case refPath:
		if r.loader == nil {
			return nil, NewInvalidPackageSetRef(contextLabel,
				fmt.Errorf("no loader configured for path reference %q", ref.path))
		}
		next, err := r.loader(ctx, ref.path)
		if err != nil {
			return nil, NewInvalidPackageSetRef(contextLabel,
				fmt.Errorf("loading %q: %w", ref.path, err))
		}
		return r.resolveRef(ctx, next, contextLabel, depth+1)

	case refConstructor:
		ps, err := ref.ctor(map[string]interface{}{})
		if err != nil {
			return nil, NewInvalidPackageSetRef(contextLabel,
				fmt.Errorf("constructor failed: %w", err))
		}
		if ps == nil {
			return nil, NewInvalidPackageSetRef(contextLabel,
				fmt.Errorf("constructor returned no package set"))
		}
		return ps, nil

	case refLiteral:
		if ref.literal == nil {
			return nil, NewInvalidPackageSetRef(contextLabel,
				fmt.Errorf("literal reference is empty"))
		}
		return ref.literal, nil

	default:
		return nil, NewInvalidPackageSetRef(contextLabel, nil)
	}
}

// MergePackageSets combines the hive-wide package set with a node-specific
// override. The node's own settings win where explicitly set, and hive-wide
// overlays are force-prepended ahead of the node's overlays regardless of
// the node's ordering. Hive-wide configuration keys the node's own package
// set does not echo are ignored; the returned warnings name them, since
// cross-layer package configuration merging is best-effort.
func MergePackageSets(hiveSet, nodeSet *PackageSet) (*PackageSet, []string) {
	if nodeSet == nil {
		return hiveSet, nil
	}
	if hiveSet == nil {
		return nodeSet, nil
	}

	merged := &PackageSet{
		Toolchain: nodeSet.Toolchain,
		Config:    nodeSet.Config,
	}
	if merged.Toolchain == "" {
		merged.Toolchain = hiveSet.Toolchain
	}

	merged.Overlays = make([]string, 0, len(hiveSet.Overlays)+len(nodeSet.Overlays))
	merged.Overlays = append(merged.Overlays, hiveSet.Overlays...)
	merged.Overlays = append(merged.Overlays, nodeSet.Overlays...)

	var ignored []string
	for key := range hiveSet.Config {
		if _, ok := nodeSet.Config[key]; !ok {
			ignored = append(ignored, key)
		}
	}
	sort.Strings(ignored)

	var warnings []string
	for _, key := range ignored {
		warnings = append(warnings, fmt.Sprintf(
			"hive-wide package configuration key %q is ignored by the node's own package set", key))
	}

	return merged, warnings
}
