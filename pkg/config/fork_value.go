package config

import (
	"fmt"
	"sort"

	"go.starlark.net/starlark"

	"github.com/kilnbuild/kiln/pkg/fork"
)

// forkValue exposes *fork.JavaOptions to build scripts as a java_fork.
// Scripts mutate the options in place.
type forkValue struct {
	name string
	opts *fork.JavaOptions
}

var (
	_ starlark.HasAttrs    = (*forkValue)(nil)
	_ starlark.HasSetField = (*forkValue)(nil)
)

type forkMethod func(v *forkValue, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error)

var forkMethods = map[string]forkMethod{
	"system_property":       forkSystemProperty,
	"system_properties":     forkSystemProperties,
	"set_system_properties": forkSetSystemProperties,
	"jvm_args":              forkJvmArgs,
	"set_jvm_args":          forkSetJvmArgs,
	"set_all_jvm_args":      forkSetAllJvmArgs,
	"environment":           forkEnvironment,
}

// settable attributes, each a string or None
var forkFields = map[string]func(o *fork.JavaOptions, s string){
	"max_heap_size": (*fork.JavaOptions).SetMaxHeapSize,
	"min_heap_size": (*fork.JavaOptions).SetMinHeapSize,
	"executable":    (*fork.JavaOptions).SetExecutable,
	"working_dir":   (*fork.JavaOptions).SetWorkingDir,
}

func (v *forkValue) String() string        { return fmt.Sprintf("java_fork(%q)", v.name) }
func (v *forkValue) Type() string          { return "java_fork" }
func (v *forkValue) Freeze()               {}
func (v *forkValue) Truth() starlark.Bool  { return starlark.True }
func (v *forkValue) Hash() (uint32, error) { return 0, fmt.Errorf("unhashable type: java_fork") }

// Attr implements starlark.HasAttrs.
func (v *forkValue) Attr(name string) (starlark.Value, error) {
	if m, ok := forkMethods[name]; ok {
		return starlark.NewBuiltin(name, func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			return m(v, b, args, kwargs)
		}), nil
	}

	switch name {
	case "name":
		return starlark.String(v.name), nil
	case "max_heap_size":
		return optionalString(v.opts.MaxHeapSize()), nil
	case "min_heap_size":
		return optionalString(v.opts.MinHeapSize()), nil
	case "executable":
		return starlark.String(v.opts.Executable()), nil
	case "working_dir":
		return optionalString(v.opts.WorkingDir()), nil
	case "all_jvm_args":
		return stringList(v.opts.AllJvmArgs()), nil
	case "jvm_args_list":
		return stringList(v.opts.JvmArgs()), nil
	case "system_properties_map":
		return v.propertiesDict()
	}

	return nil, nil
}

// AttrNames implements starlark.HasAttrs.
func (v *forkValue) AttrNames() []string {
	names := []string{"name", "all_jvm_args", "jvm_args_list", "system_properties_map"}
	for name := range forkMethods {
		names = append(names, name)
	}
	for name := range forkFields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SetField implements starlark.HasSetField.
func (v *forkValue) SetField(name string, val starlark.Value) error {
	set, ok := forkFields[name]
	if !ok {
		return starlark.NoSuchAttrError(fmt.Sprintf("java_fork has no settable field .%s", name))
	}

	switch s := val.(type) {
	case starlark.NoneType:
		set(v.opts, "")
	case starlark.String:
		set(v.opts, string(s))
	default:
		return fmt.Errorf("java_fork.%s: got %s, want string or None", name, val.Type())
	}
	return nil
}

// propertiesDict renders the system properties, with None for properties
// defined without a value.
func (v *forkValue) propertiesDict() (starlark.Value, error) {
	props := v.opts.SystemProperties()
	dict := starlark.NewDict(len(props))
	for _, name := range sortedStringKeys(props) {
		var value starlark.Value = starlark.String(props[name])
		if _, hasValue := v.opts.HasSystemProperty(name); !hasValue {
			value = starlark.None
		}
		if err := dict.SetKey(starlark.String(name), value); err != nil {
			return nil, err
		}
	}
	return dict, nil
}

func forkSystemProperty(v *forkValue, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name string
	var value starlark.Value = starlark.None
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "name", &name, "value?", &value); err != nil {
		return nil, err
	}

	goValue, err := fromStarlarkValue(value)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	if err := v.opts.SystemProperty(name, goValue); err != nil {
		return nil, err
	}
	return starlark.None, nil
}

func forkSystemProperties(v *forkValue, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	props, err := unpackPropertyDict(b, args, kwargs)
	if err != nil {
		return nil, err
	}
	if err := v.opts.AddSystemProperties(props); err != nil {
		return nil, err
	}
	return starlark.None, nil
}

func forkSetSystemProperties(v *forkValue, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	props, err := unpackPropertyDict(b, args, kwargs)
	if err != nil {
		return nil, err
	}
	if err := v.opts.SetSystemProperties(props); err != nil {
		return nil, err
	}
	return starlark.None, nil
}

func forkJvmArgs(v *forkValue, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if len(kwargs) > 0 {
		return nil, fmt.Errorf("%s: unexpected keyword arguments", b.Name())
	}

	goArgs, err := fromStarlarkSequence(args)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	if err := v.opts.AddJvmArgs(goArgs...); err != nil {
		return nil, err
	}
	return starlark.None, nil
}

func forkSetJvmArgs(v *forkValue, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	goArgs, err := unpackArgList(b, args, kwargs)
	if err != nil {
		return nil, err
	}
	if err := v.opts.SetJvmArgs(goArgs); err != nil {
		return nil, err
	}
	return starlark.None, nil
}

func forkSetAllJvmArgs(v *forkValue, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	goArgs, err := unpackArgList(b, args, kwargs)
	if err != nil {
		return nil, err
	}
	if err := v.opts.SetAllJvmArgs(goArgs); err != nil {
		return nil, err
	}
	return starlark.None, nil
}

func forkEnvironment(v *forkValue, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name string
	var value starlark.Value
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "name", &name, "value", &value); err != nil {
		return nil, err
	}

	goValue, err := fromStarlarkValue(value)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	if err := v.opts.EnvironmentVar(name, goValue); err != nil {
		return nil, err
	}
	return starlark.None, nil
}

func unpackPropertyDict(b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (map[string]any, error) {
	var dict *starlark.Dict
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &dict); err != nil {
		return nil, err
	}

	goDict, err := fromStarlarkValue(dict)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	return goDict.(map[string]interface{}), nil
}

func unpackArgList(b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) ([]any, error) {
	var list *starlark.List
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &list); err != nil {
		return nil, err
	}

	goArgs, err := fromStarlarkSequence(list)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	return goArgs, nil
}

func optionalString(s string) starlark.Value {
	if s == "" {
		return starlark.None
	}
	return starlark.String(s)
}

func stringList(items []string) *starlark.List {
	list := make([]starlark.Value, len(items))
	for i, item := range items {
		list[i] = starlark.String(item)
	}
	return starlark.NewList(list)
}
