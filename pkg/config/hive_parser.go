package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/load"
	"github.com/rs/zerolog"

	"github.com/apiary/apiary/pkg/hive"
)

// HiveParser parses hive descriptions written in CUE and turns them into
// typed hives. Starlark package-set constructors referenced from the
// description are bound to the parser's evaluator.
type HiveParser struct {
	ctx      *cue.Context
	registry *SchemaRegistry
	starlark *StarlarkEvaluator
	logger   zerolog.Logger
}

// NewHiveParser creates a hive parser.
func NewHiveParser(logger zerolog.Logger) *HiveParser {
	return &HiveParser{
		ctx:      cuecontext.New(),
		registry: NewSchemaRegistry(),
		starlark: NewStarlarkEvaluator(30 * time.Second),
		logger:   logger.With().Str("component", "hive-parser").Logger(),
	}
}

// LoadHive parses the sources, binds Starlark constructors, and loads the
// result into a typed Hive. Parse errors are returned as a *ParseError so
// positions survive.
func (hp *HiveParser) LoadHive(ctx context.Context, sources []string) (*hive.Hive, error) {
	parsed, err := hp.Parse(ctx, sources)
	if err != nil {
		return nil, err
	}
	if len(parsed.Errors) > 0 {
		return nil, &ParseError{Errors: parsed.Errors}
	}

	if err := hp.bindConstructors(parsed.Raw); err != nil {
		return nil, err
	}

	return hive.Load(parsed.Raw)
}

// Parse parses a hive description from the given sources, which may be CUE
// files or directories holding a CUE package.
func (hp *HiveParser) Parse(ctx context.Context, sources []string) (*ParsedHive, error) {
	if len(sources) == 0 {
		return nil, fmt.Errorf("no sources provided")
	}

	var cueValue cue.Value
	var sourceFiles []string
	var parseErrors []ValidationError

	for _, source := range sources {
		info, err := os.Stat(source)
		if err != nil {
			return nil, fmt.Errorf("failed to stat source %s: %w", source, err)
		}

		var val cue.Value
		if info.IsDir() {
			var files []string
			var errs []ValidationError
			val, files, errs = hp.loadDirectory(source)
			parseErrors = append(parseErrors, errs...)
			sourceFiles = append(sourceFiles, files...)
		} else {
			var errs []ValidationError
			val, errs = hp.loadFile(source)
			parseErrors = append(parseErrors, errs...)
			sourceFiles = append(sourceFiles, source)
		}

		if val.Exists() {
			if cueValue.Exists() {
				cueValue = cueValue.Unify(val)
			} else {
				cueValue = val
			}
		}
	}

	if len(parseErrors) > 0 {
		return &ParsedHive{
			SourceFiles: sourceFiles,
			ParsedAt:    time.Now(),
			Errors:      parseErrors,
		}, nil
	}

	if err := cueValue.Err(); err != nil {
		return &ParsedHive{
			SourceFiles: sourceFiles,
			ParsedAt:    time.Now(),
			Errors:      hp.convertCUEErrors(err),
		}, nil
	}

	return hp.extractHive(ctx, cueValue, sourceFiles)
}

// ParseInline parses an inline hive description.
func (hp *HiveParser) ParseInline(ctx context.Context, content string) (*ParsedHive, error) {
	val := hp.ctx.CompileString(content, cue.Filename("inline"))
	if err := val.Err(); err != nil {
		return &ParsedHive{
			SourceFiles: []string{"inline"},
			ParsedAt:    time.Now(),
			Errors:      hp.convertCUEErrors(err),
		}, nil
	}

	return hp.extractHive(ctx, val, []string{"inline"})
}

// LoadHiveInline is LoadHive for an inline description.
func (hp *HiveParser) LoadHiveInline(ctx context.Context, content string) (*hive.Hive, error) {
	parsed, err := hp.ParseInline(ctx, content)
	if err != nil {
		return nil, err
	}
	if len(parsed.Errors) > 0 {
		return nil, &ParseError{Errors: parsed.Errors}
	}

	if err := hp.bindConstructors(parsed.Raw); err != nil {
		return nil, err
	}

	return hive.Load(parsed.Raw)
}

// loadDirectory loads a directory as a CUE package.
func (hp *HiveParser) loadDirectory(dir string) (cue.Value, []string, []ValidationError) {
	buildInstances := load.Instances([]string{dir}, nil)
	if len(buildInstances) == 0 {
		return cue.Value{}, nil, []ValidationError{{
			File:     dir,
			Message:  "no CUE files found",
			Severity: "error",
		}}
	}

	inst := buildInstances[0]
	if inst.Err != nil {
		return cue.Value{}, nil, hp.convertCUEErrors(inst.Err)
	}

	val := hp.ctx.BuildInstance(inst)
	if err := val.Err(); err != nil {
		return cue.Value{}, nil, hp.convertCUEErrors(err)
	}

	var files []string
	for _, file := range inst.Files {
		if file.Filename != "" {
			files = append(files, file.Filename)
		}
	}

	return val, files, nil
}

// loadFile loads a single CUE file.
func (hp *HiveParser) loadFile(path string) (cue.Value, []ValidationError) {
	content, err := os.ReadFile(path)
	if err != nil {
		return cue.Value{}, []ValidationError{{
			File:     path,
			Message:  fmt.Sprintf("failed to read file: %v", err),
			Severity: "error",
		}}
	}

	val := hp.ctx.CompileString(string(content), cue.Filename(path))
	if err := val.Err(); err != nil {
		return cue.Value{}, hp.convertCUEErrors(err)
	}

	return val, nil
}

// extractHive decodes the unified value into the raw top-level map the hive
// package consumes, validating its shape first.
func (hp *HiveParser) extractHive(ctx context.Context, val cue.Value, sourceFiles []string) (*ParsedHive, error) {
	parsed := &ParsedHive{
		SourceFiles: sourceFiles,
		ParsedAt:    time.Now(),
	}

	var raw map[string]interface{}
	if err := val.Decode(&raw); err != nil {
		parsed.Errors = append(parsed.Errors, hp.convertCUEErrors(err)...)
		return parsed, nil
	}

	if err := hp.registry.ValidateHive(ctx, raw); err != nil {
		parsed.Errors = append(parsed.Errors, ValidationError{
			Message:  err.Error(),
			Severity: "error",
		})
		return parsed, nil
	}

	parsed.Raw = raw
	return parsed, nil
}

// bindConstructors replaces Starlark constructor markers in the metadata
// package-set references with callable constructors. A marker is a struct
// holding a single "starlark" field naming a script file.
func (hp *HiveParser) bindConstructors(raw map[string]interface{}) error {
	metaRaw, ok := raw[hive.MetaKey]
	if !ok {
		metaRaw, ok = raw[hive.LegacyMetaKey]
	}
	if !ok {
		return nil
	}
	block, ok := metaRaw.(map[string]interface{})
	if !ok {
		return nil
	}

	if v, ok := block["nixpkgs"]; ok {
		bound, err := hp.bindRef(v, hive.MetaKey+".nixpkgs")
		if err != nil {
			return err
		}
		block["nixpkgs"] = bound
	}

	if v, ok := block["nodeNixpkgs"]; ok {
		entries, ok := v.(map[string]interface{})
		if !ok {
			return nil
		}
		for node, entry := range entries {
			bound, err := hp.bindRef(entry, fmt.Sprintf("%s.nodeNixpkgs.%s", hive.MetaKey, node))
			if err != nil {
				return err
			}
			entries[node] = bound
		}
	}

	return nil
}

// bindRef binds one reference value, leaving non-marker values untouched.
func (hp *HiveParser) bindRef(v interface{}, contextLabel string) (interface{}, error) {
	marker, ok := v.(map[string]interface{})
	if !ok {
		return v, nil
	}
	scriptPath, ok := marker["starlark"].(string)
	if !ok || len(marker) != 1 {
		return v, nil
	}

	script, err := os.ReadFile(scriptPath)
	if err != nil {
		return nil, fmt.Errorf("%s: reading constructor script: %w", contextLabel, err)
	}

	return hp.starlark.Constructor(string(script), scriptPath), nil
}

// PathLoader returns a loader the package-set resolver follows path
// references with. A ".star" path is a Starlark constructor script; any
// other path is a CUE file holding a string, a package-set struct, or a
// constructor marker.
func (hp *HiveParser) PathLoader() hive.PathLoader {
	return func(ctx context.Context, path string) (hive.PackageSetRef, error) {
		if strings.HasSuffix(path, ".star") {
			script, err := os.ReadFile(path)
			if err != nil {
				return hive.PackageSetRef{}, err
			}
			return hive.ConstructorRef(hp.starlark.Constructor(string(script), path)), nil
		}

		val, errs := hp.loadFile(path)
		if len(errs) > 0 {
			return hive.PackageSetRef{}, &ParseError{Errors: errs}
		}

		var decoded interface{}
		if err := val.Decode(&decoded); err != nil {
			return hive.PackageSetRef{}, fmt.Errorf("decoding %s: %w", path, err)
		}

		bound, err := hp.bindRef(decoded, path)
		if err != nil {
			return hive.PackageSetRef{}, err
		}

		return hive.ParseRef(bound, path)
	}
}

// convertCUEErrors converts CUE errors to a ValidationError slice.
func (hp *HiveParser) convertCUEErrors(err error) []ValidationError {
	var validationErrors []ValidationError

	errs := errors.Errors(err)
	for _, e := range errs {
		pos := errors.Positions(e)
		var file string
		var line, column int

		if len(pos) > 0 {
			file = pos[0].Filename()
			line = pos[0].Line()
			column = pos[0].Column()
		}

		validationErrors = append(validationErrors, ValidationError{
			File:     file,
			Line:     line,
			Column:   column,
			Message:  errors.Details(e, nil),
			Severity: "error",
		})
	}

	return validationErrors
}

// DiscoverSources finds all CUE files under a directory.
func DiscoverSources(dir string) ([]string, error) {
	var files []string

	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		if !info.IsDir() && strings.HasSuffix(path, ".cue") {
			files = append(files, path)
		}

		return nil
	})

	if err != nil {
		return nil, fmt.Errorf("failed to walk directory: %w", err)
	}

	return files, nil
}
