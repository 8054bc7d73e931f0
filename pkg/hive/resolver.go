package hive

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/zclconf/go-cty/cty"

	"github.com/apiary/apiary/pkg/schema"
	"github.com/apiary/apiary/pkg/telemetry"
)

// ResolvedNode is one node's fully resolved configuration together with its
// build artifact reference. Immutable once produced.
type ResolvedNode struct {
	// Name is the node name.
	Name string `json:"name"`

	// Deployment is the resolved deployment configuration.
	Deployment *DeploymentOptions `json:"deployment"`

	// BuildArtifact references the build system's output for this node.
	BuildArtifact BuildArtifactRef `json:"buildArtifact"`

	// Config is the fully merged configuration value the artifact was
	// built from.
	Config map[string]interface{} `json:"config"`

	// Warnings are the non-fatal findings from package-set merging.
	Warnings []string `json:"warnings,omitempty"`
}

// NodeResolver resolves individual nodes against a hive. Nodes resolve
// independently: resolving one node never observes another node's state.
type NodeResolver struct {
	schema   *schema.Schema
	packSets *PackageSetResolver
	builder  Builder
	validate *validator.Validate
	logger   zerolog.Logger
	metrics  *telemetry.Metrics
}

// NewNodeResolver creates a resolver. A nil builder falls back to the
// deterministic StoreBuilder; metrics may be nil.
func NewNodeResolver(packSets *PackageSetResolver, builder Builder, logger zerolog.Logger, metrics *telemetry.Metrics) *NodeResolver {
	if builder == nil {
		builder = &StoreBuilder{}
	}
	return &NodeResolver{
		schema:   OptionsSchema(),
		packSets: packSets,
		builder:  builder,
		validate: validator.New(),
		logger:   logger.With().Str("component", "node-resolver").Logger(),
		metrics:  metrics,
	}
}

// ResolveNode resolves one named node of the hive. If any validation
// violation is found, the build system is never invoked for the node and
// every violation is reported at once.
func (r *NodeResolver) ResolveNode(ctx context.Context, name string, h *Hive) (*ResolvedNode, error) {
	start := time.Now()
	defer func() {
		r.metrics.ObserveResolveDuration(time.Since(start).Seconds())
	}()

	if IsReservedNodeName(name) {
		return nil, NewValidationFailed(name, []schema.Violation{{
			Path:    name,
			Message: "reserved name cannot be used as a node name",
		}})
	}

	if _, ok := h.Nodes[name]; !ok {
		return nil, NewValidationFailed(name, []schema.Violation{{
			Path:    name,
			Message: "node is not defined in the hive",
		}})
	}

	pkgSet, warnings, err := r.packageSetFor(ctx, name, h)
	if err != nil {
		r.metrics.NodeResolved(telemetry.OutcomeFailed)
		return nil, err
	}

	layers, err := r.buildLayers(name, h, pkgSet)
	if err != nil {
		r.metrics.NodeResolved(telemetry.OutcomeFailed)
		return nil, err
	}

	merged, violations := schema.MergeLayers(r.schema, layers)

	deployment, depViolations := deploymentFromMerged(name, merged)
	violations = append(violations, depViolations...)
	violations = append(violations, ValidateKeys(name, deployment.Keys)...)

	if err := r.validate.Struct(deployment); err != nil {
		violations = append(violations, schema.Violation{
			Layer:   name,
			Path:    "deployment",
			Message: err.Error(),
		})
	}

	if len(violations) > 0 {
		r.metrics.NodeResolved(telemetry.OutcomeFailed)
		r.metrics.ViolationsFound(len(violations))
		return nil, NewValidationFailed(name, violations)
	}

	config, err := schema.ToGoMap(merged)
	if err != nil {
		r.metrics.NodeResolved(telemetry.OutcomeFailed)
		return nil, fmt.Errorf("serializing configuration for node %s: %w", name, err)
	}

	artifact, err := r.builder.Build(ctx, name, config)
	if err != nil {
		r.metrics.NodeResolved(telemetry.OutcomeFailed)
		return nil, NewBuildFailed(name, err)
	}

	for _, w := range warnings {
		r.logger.Warn().Str("node", name).Msg(w)
	}
	r.metrics.WarningsEmitted(len(warnings))
	r.metrics.NodeResolved(telemetry.OutcomeResolved)

	return &ResolvedNode{
		Name:          name,
		Deployment:    deployment,
		BuildArtifact: artifact,
		Config:        config,
		Warnings:      warnings,
	}, nil
}

// packageSetFor resolves the effective package set for one node: the
// per-node override merged over the hive-wide default, or the hive-wide set
// shared by reference when no override exists.
func (r *NodeResolver) packageSetFor(ctx context.Context, name string, h *Hive) (*PackageSet, []string, error) {
	hiveSet, err := r.packSets.Resolve(ctx, h.Meta.PackageSet, MetaKey+".nixpkgs")
	if err != nil {
		return nil, nil, err
	}

	override, ok := h.Meta.NodePackageSets[name]
	if !ok {
		return hiveSet, nil, nil
	}

	label := fmt.Sprintf("%s.nodeNixpkgs.%s", MetaKey, name)
	nodeSet, err := r.packSets.Resolve(ctx, override, label)
	if err != nil {
		return nil, nil, err
	}

	merged, warnings := MergePackageSets(hiveSet, nodeSet)
	return merged, warnings, nil
}

// buildLayers assembles the precedence-ordered layer sequence for one node.
func (r *NodeResolver) buildLayers(name string, h *Hive, pkgSet *PackageSet) ([]schema.Layer, error) {
	pkgValues := map[string]cty.Value{}
	if pkgSet != nil {
		if pkgSet.Toolchain != "" {
			pkgValues[optToolchain] = cty.StringVal(pkgSet.Toolchain)
		}
		if len(pkgSet.Overlays) > 0 {
			overlays := make([]cty.Value, len(pkgSet.Overlays))
			for i, o := range pkgSet.Overlays {
				overlays[i] = cty.StringVal(o)
			}
			pkgValues[optOverlays] = cty.ListVal(overlays)
		}
		if len(pkgSet.Config) > 0 {
			cfg, err := schema.FromGo(pkgSet.Config)
			if err != nil {
				return nil, fmt.Errorf("package set config for node %s: %w", name, err)
			}
			pkgValues[optPkgConfig] = cfg
		}
	}

	builtins := schema.Layer{
		Name: "builtin",
		Values: map[string]cty.Value{
			optTargetHost: cty.StringVal(name),
		},
	}

	defaults, err := flattenLayer(r.schema, DefaultsKey, h.Defaults)
	if err != nil {
		return nil, fmt.Errorf("defaults layer: %w", err)
	}

	node, err := flattenLayer(r.schema, name, h.Nodes[name])
	if err != nil {
		return nil, fmt.Errorf("node %s layer: %w", name, err)
	}

	return []schema.Layer{
		{Name: "packages", Values: pkgValues},
		builtins,
		defaults,
		node,
	}, nil
}

// ResolvedHive holds the outcome of resolving every node of a hive. Node
// failures are isolated: Errors carries the per-node failures while Nodes
// carries every success.
type ResolvedHive struct {
	Hive   *Hive
	Nodes  map[string]*ResolvedNode
	Errors map[string]error
}

// ResolveAll resolves every node of the hive across a bounded worker pool.
// The pool size defaults to the available parallelism when parallelism <= 0.
// Per-node failures land in the result's Errors map; the returned error is
// reserved for context cancellation.
func (r *NodeResolver) ResolveAll(ctx context.Context, h *Hive, parallelism int) (*ResolvedHive, error) {
	if parallelism <= 0 {
		parallelism = runtime.NumCPU()
	}

	names := h.NodeNames()
	if len(names) < parallelism {
		parallelism = len(names)
	}

	result := &ResolvedHive{
		Hive:   h,
		Nodes:  make(map[string]*ResolvedNode, len(names)),
		Errors: make(map[string]error),
	}
	if len(names) == 0 {
		return result, nil
	}

	queue := make(chan string, len(names))
	for _, name := range names {
		queue <- name
	}
	close(queue)

	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < parallelism; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for name := range queue {
				select {
				case <-ctx.Done():
					return
				default:
				}

				node, err := r.ResolveNode(ctx, name, h)

				mu.Lock()
				if err != nil {
					result.Errors[name] = err
				} else {
					result.Nodes[name] = node
				}
				mu.Unlock()
			}
		}()
	}

	wg.Wait()

	if err := ctx.Err(); err != nil {
		return result, err
	}
	return result, nil
}

// Toplevels exposes the nodeName -> artifact map for external tooling
// without going through selection.
func (rh *ResolvedHive) Toplevels() map[string]BuildArtifactRef {
	out := make(map[string]BuildArtifactRef, len(rh.Nodes))
	for name, node := range rh.Nodes {
		out[name] = node.BuildArtifact
	}
	return out
}

// DeploymentConfig exposes the serializable nodeName -> deployment options
// map.
func (rh *ResolvedHive) DeploymentConfig() map[string]*DeploymentOptions {
	out := make(map[string]*DeploymentOptions, len(rh.Nodes))
	for name, node := range rh.Nodes {
		out[name] = node.Deployment
	}
	return out
}
