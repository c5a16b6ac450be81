package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/kilnbuild/kiln/pkg/fork"
)

// DefaultScriptTimeout bounds a single build script run.
const DefaultScriptTimeout = 30 * time.Second

// ForkContainer hands out the named JVM forks of a project. Asking twice
// for the same name returns the same options.
type ForkContainer interface {
	JavaFork(name string) (*fork.JavaOptions, error)
}

// ProjectInfo is the project a script is evaluated for, exposed to the
// script as the `project` struct.
type ProjectInfo struct {
	Name string
	Path string
	Dir  string
}

// ScriptEnv is everything a build script can see besides the Starlark
// universe.
type ScriptEnv struct {
	Project    ProjectInfo
	Properties map[string]string
	Forks      ForkContainer

	// Globals are extra predeclared values.
	Globals map[string]interface{}
}

// ScriptEvaluator executes Starlark build scripts.
type ScriptEvaluator struct {
	timeout time.Duration
	logger  zerolog.Logger
}

// NewScriptEvaluator creates a new build script evaluator. print() output
// of scripts goes to logger.
func NewScriptEvaluator(timeout time.Duration, logger zerolog.Logger) *ScriptEvaluator {
	if timeout == 0 {
		timeout = DefaultScriptTimeout
	}
	return &ScriptEvaluator{
		timeout: timeout,
		logger:  logger,
	}
}

// EvaluateFile reads and executes the build script at path.
func (se *ScriptEvaluator) EvaluateFile(ctx context.Context, path string, env ScriptEnv) (*ScriptResult, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read build script: %w", err)
	}
	return se.Evaluate(ctx, path, string(src), env)
}

// Evaluate executes a build script. The run is cancelled when ctx is done
// or the evaluator timeout elapses; either way the returned error wraps
// the context error.
func (se *ScriptEvaluator) Evaluate(ctx context.Context, filename, script string, env ScriptEnv) (*ScriptResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("build script %s not started: %w", filename, err)
	}

	startTime := time.Now()

	evalCtx, cancel := context.WithTimeout(ctx, se.timeout)
	defer cancel()

	thread := &starlark.Thread{
		Name: filename,
		Print: func(_ *starlark.Thread, msg string) {
			se.logger.Info().Str("script", filename).Msg(msg)
		},
	}
	stop := context.AfterFunc(evalCtx, func() {
		thread.Cancel(evalCtx.Err().Error())
	})
	defer stop()

	result, err := se.evaluateSync(thread, filename, script, env)
	if err != nil {
		if ctxErr := evalCtx.Err(); ctxErr != nil {
			err = fmt.Errorf("build script %s cancelled after %v: %w", filename, time.Since(startTime).Round(time.Millisecond), ctxErr)
		}
		return &ScriptResult{
			ExecutionTime: time.Since(startTime),
			Error:         scriptErrorDetail(err),
		}, err
	}

	result.ExecutionTime = time.Since(startTime)
	return result, nil
}

// evaluateSync performs the actual Starlark evaluation.
func (se *ScriptEvaluator) evaluateSync(thread *starlark.Thread, filename, script string, env ScriptEnv) (*ScriptResult, error) {
	predeclared, err := se.predeclared(env)
	if err != nil {
		return nil, err
	}

	globals, err := starlark.ExecFile(thread, filename, script, predeclared)
	if err != nil {
		return nil, fmt.Errorf("build script failed: %w", err)
	}

	output := make(map[string]interface{})
	for name, val := range globals {
		if len(name) > 0 && name[0] == '_' {
			continue
		}
		if _, ok := val.(starlark.Callable); ok {
			continue
		}
		goVal, err := fromStarlarkValue(val)
		if err != nil {
			se.logger.Debug().Str("script", filename).Str("global", name).Err(err).Msg("Skipping global")
			continue
		}
		output[name] = goVal
	}

	return &ScriptResult{
		Output: output,
	}, nil
}

// predeclared builds the script environment.
func (se *ScriptEvaluator) predeclared(env ScriptEnv) (starlark.StringDict, error) {
	properties := starlark.NewDict(len(env.Properties))
	for _, k := range sortedStringKeys(env.Properties) {
		if err := properties.SetKey(starlark.String(k), starlark.String(env.Properties[k])); err != nil {
			return nil, err
		}
	}
	properties.Freeze()

	predeclared := starlark.StringDict{
		"struct": starlark.NewBuiltin("struct", starlarkstruct.Make),
		"project": starlarkstruct.FromStringDict(starlarkstruct.Default, starlark.StringDict{
			"name": starlark.String(env.Project.Name),
			"path": starlark.String(env.Project.Path),
			"dir":  starlark.String(env.Project.Dir),
		}),
		"properties": properties,
		"java_fork":  starlark.NewBuiltin("java_fork", javaForkBuiltin(env.Forks)),
	}

	for key, val := range env.Globals {
		starlarkVal, err := toStarlarkValue(val)
		if err != nil {
			return nil, fmt.Errorf("failed to convert global %s: %w", key, err)
		}
		predeclared[key] = starlarkVal
	}

	return predeclared, nil
}

// javaForkBuiltin implements java_fork(name).
func javaForkBuiltin(forks ForkContainer) func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
	return func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var name string
		if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &name); err != nil {
			return nil, err
		}
		if name == "" {
			return nil, fmt.Errorf("%s: name must not be empty", b.Name())
		}
		if forks == nil {
			return nil, fmt.Errorf("%s: no fork container for this script", b.Name())
		}

		opts, err := forks.JavaFork(name)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", b.Name(), err)
		}
		return &forkValue{name: name, opts: opts}, nil
	}
}

// scriptErrorDetail renders err with a Starlark backtrace when one is available.
func scriptErrorDetail(err error) string {
	var evalErr *starlark.EvalError
	if errors.As(err, &evalErr) {
		return evalErr.Backtrace()
	}
	return err.Error()
}

// toStarlarkValue converts a Go value to a Starlark value.
func toStarlarkValue(v interface{}) (starlark.Value, error) {
	if v == nil {
		return starlark.None, nil
	}

	switch val := v.(type) {
	case bool:
		return starlark.Bool(val), nil
	case int:
		return starlark.MakeInt(val), nil
	case int64:
		return starlark.MakeInt64(val), nil
	case float64:
		return starlark.Float(val), nil
	case string:
		return starlark.String(val), nil
	case []string:
		list := make([]starlark.Value, len(val))
		for i, item := range val {
			list[i] = starlark.String(item)
		}
		return starlark.NewList(list), nil
	case []interface{}:
		list := make([]starlark.Value, len(val))
		for i, item := range val {
			starlarkItem, err := toStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			list[i] = starlarkItem
		}
		return starlark.NewList(list), nil
	case map[string]string:
		dict := starlark.NewDict(len(val))
		for _, k := range sortedStringKeys(val) {
			if err := dict.SetKey(starlark.String(k), starlark.String(val[k])); err != nil {
				return nil, err
			}
		}
		return dict, nil
	case map[string]interface{}:
		dict := starlark.NewDict(len(val))
		for k, v := range val {
			starlarkVal, err := toStarlarkValue(v)
			if err != nil {
				return nil, err
			}
			if err := dict.SetKey(starlark.String(k), starlarkVal); err != nil {
				return nil, err
			}
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported type: %T", v)
	}
}

// fromStarlarkValue converts a Starlark value to a Go value.
func fromStarlarkValue(v starlark.Value) (interface{}, error) {
	switch val := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(val), nil
	case starlark.Int:
		i, ok := val.Int64()
		if !ok {
			return nil, fmt.Errorf("integer too large")
		}
		return i, nil
	case starlark.Float:
		return float64(val), nil
	case starlark.String:
		return string(val), nil
	case starlark.Tuple:
		return fromStarlarkSequence(val)
	case *starlark.List:
		return fromStarlarkSequence(val)
	case *starlark.Dict:
		dict := make(map[string]interface{})
		for _, item := range val.Items() {
			key, ok := item[0].(starlark.String)
			if !ok {
				return nil, fmt.Errorf("dict key must be string, got %s", item[0].Type())
			}
			value, err := fromStarlarkValue(item[1])
			if err != nil {
				return nil, err
			}
			dict[string(key)] = value
		}
		return dict, nil
	case *starlarkstruct.Struct:
		dict := make(map[string]interface{})
		for _, name := range val.AttrNames() {
			attr, err := val.Attr(name)
			if err != nil {
				continue
			}
			value, err := fromStarlarkValue(attr)
			if err != nil {
				return nil, err
			}
			dict[name] = value
		}
		return dict, nil
	case *forkValue:
		snap := val.opts.Snapshot()
		snap.Name = val.name
		return snap, nil
	default:
		return nil, fmt.Errorf("unsupported starlark type: %s", v.Type())
	}
}

// fromStarlarkSequence converts a list or tuple.
func fromStarlarkSequence(seq starlark.Indexable) ([]interface{}, error) {
	list := make([]interface{}, seq.Len())
	for i := 0; i < seq.Len(); i++ {
		item, err := fromStarlarkValue(seq.Index(i))
		if err != nil {
			return nil, err
		}
		list[i] = item
	}
	return list, nil
}

func sortedStringKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
