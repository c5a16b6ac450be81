package fork

import (
	"errors"
	"fmt"
	"net/url"
	"reflect"
	"testing"
)

type version struct{ major, minor int }

func (v version) String() string { return fmt.Sprintf("v%d.%d", v.major, v.minor) }

func TestJavaOptions_Empty(t *testing.T) {
	opts := NewJavaOptions()

	if props := opts.SystemProperties(); props == nil || len(props) != 0 {
		t.Errorf("expected empty non-nil properties, got %v", props)
	}
	if args := opts.JvmArgs(); args == nil || len(args) != 0 {
		t.Errorf("expected empty non-nil jvm args, got %v", args)
	}
	if args := opts.AllJvmArgs(); len(args) != 0 {
		t.Errorf("expected no jvm args, got %v", args)
	}
	if opts.MaxHeapSize() != "" {
		t.Errorf("expected default heap size, got %q", opts.MaxHeapSize())
	}
	if opts.Executable() != DefaultExecutable {
		t.Errorf("expected executable %q, got %q", DefaultExecutable, opts.Executable())
	}
}

func TestJavaOptions_SetSystemProperties(t *testing.T) {
	tests := []struct {
		name  string
		input map[string]any
		want  map[string]string
	}{
		{
			name:  "strings",
			input: map[string]any{"a": "1", "b": "two"},
			want:  map[string]string{"a": "1", "b": "two"},
		},
		{
			name:  "coerced values",
			input: map[string]any{"int": 42, "bool": true, "float": 1.5, "ver": version{1, 2}},
			want:  map[string]string{"int": "42", "bool": "true", "float": "1.5", "ver": "v1.2"},
		},
		{
			name:  "nil value",
			input: map[string]any{"flag": nil},
			want:  map[string]string{"flag": ""},
		},
		{
			name:  "empty",
			input: map[string]any{},
			want:  map[string]string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := NewJavaOptions()
			_ = opts.SystemProperty("stale", "x")

			if err := opts.SetSystemProperties(tt.input); err != nil {
				t.Fatalf("SetSystemProperties() error = %v", err)
			}
			if got := opts.SystemProperties(); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("SystemProperties() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestJavaOptions_AddSystemPropertiesMerges(t *testing.T) {
	opts := NewJavaOptions()
	if err := opts.SetSystemProperties(map[string]any{"a": "1", "b": "2"}); err != nil {
		t.Fatalf("SetSystemProperties() error = %v", err)
	}
	if err := opts.AddSystemProperties(map[string]any{"b": "3", "c": "4"}); err != nil {
		t.Fatalf("AddSystemProperties() error = %v", err)
	}

	want := map[string]string{"a": "1", "b": "3", "c": "4"}
	if got := opts.SystemProperties(); !reflect.DeepEqual(got, want) {
		t.Errorf("SystemProperties() = %v, want %v", got, want)
	}

	// b keeps its original position.
	wantArgs := []string{"-Da=1", "-Db=3", "-Dc=4"}
	if got := opts.AllJvmArgs(); !reflect.DeepEqual(got, wantArgs) {
		t.Errorf("AllJvmArgs() = %v, want %v", got, wantArgs)
	}
}

func TestJavaOptions_SystemPropertyWithoutValue(t *testing.T) {
	opts := NewJavaOptions()
	if err := opts.SystemProperty("bare", nil); err != nil {
		t.Fatalf("SystemProperty() error = %v", err)
	}
	if err := opts.SystemProperty("empty", ""); err != nil {
		t.Fatalf("SystemProperty() error = %v", err)
	}

	want := []string{"-Dbare", "-Dempty="}
	if got := opts.AllJvmArgs(); !reflect.DeepEqual(got, want) {
		t.Errorf("AllJvmArgs() = %v, want %v", got, want)
	}

	defined, hasValue := opts.HasSystemProperty("bare")
	if !defined || hasValue {
		t.Errorf("HasSystemProperty(bare) = %v, %v", defined, hasValue)
	}
	defined, hasValue = opts.HasSystemProperty("empty")
	if !defined || !hasValue {
		t.Errorf("HasSystemProperty(empty) = %v, %v", defined, hasValue)
	}
}

func TestJavaOptions_NilPointerValues(t *testing.T) {
	var (
		stringer *url.URL
		str      *string
	)

	opts := NewJavaOptions()
	if err := opts.SystemProperty("endpoint", stringer); err != nil {
		t.Fatalf("SystemProperty(nil *url.URL) error = %v", err)
	}
	if err := opts.AddSystemProperties(map[string]any{"name": str}); err != nil {
		t.Fatalf("AddSystemProperties(nil *string) error = %v", err)
	}

	want := []string{"-Dendpoint", "-Dname"}
	if got := opts.AllJvmArgs(); !reflect.DeepEqual(got, want) {
		t.Errorf("AllJvmArgs() = %v, want %v", got, want)
	}

	if err := opts.AddJvmArgs("-ea", stringer); !IsInvalidArgument(err) {
		t.Errorf("AddJvmArgs(nil *url.URL) = %v, want invalid argument", err)
	}
	if err := opts.EnvironmentVar("PROXY", stringer); err != nil {
		t.Fatalf("EnvironmentVar(nil *url.URL) error = %v", err)
	}
	if v, ok := opts.Environment()["PROXY"]; !ok || v != "" {
		t.Errorf("Environment()[PROXY] = %q, %v, want empty value", v, ok)
	}
}

func TestJavaOptions_NilCollectionsRejected(t *testing.T) {
	opts := NewJavaOptions()
	_ = opts.SystemProperty("keep", "1")
	_ = opts.AddJvmArgs("-ea")
	before := opts.AllJvmArgs()

	calls := map[string]func() error{
		"SetSystemProperties": func() error { return opts.SetSystemProperties(nil) },
		"AddSystemProperties": func() error { return opts.AddSystemProperties(nil) },
		"SetJvmArgs":          func() error { return opts.SetJvmArgs(nil) },
		"SetAllJvmArgs":       func() error { return opts.SetAllJvmArgs(nil) },
		"SetEnvironment":      func() error { return opts.SetEnvironment(nil) },
	}

	for name, call := range calls {
		t.Run(name, func(t *testing.T) {
			err := call()
			if !errors.Is(err, ErrInvalidArgument) {
				t.Fatalf("expected ErrInvalidArgument, got %v", err)
			}
			var argErr *ArgumentError
			if !errors.As(err, &argErr) || argErr.Op != name {
				t.Errorf("expected ArgumentError for %s, got %v", name, err)
			}
			if got := opts.AllJvmArgs(); !reflect.DeepEqual(got, before) {
				t.Errorf("options mutated: %v, want %v", got, before)
			}
		})
	}
}

func TestJavaOptions_InvalidPropertyNames(t *testing.T) {
	opts := NewJavaOptions()

	if err := opts.SystemProperty("", "x"); !IsInvalidArgument(err) {
		t.Errorf("expected invalid argument for empty name, got %v", err)
	}
	if err := opts.SystemProperty("a=b", "x"); !IsInvalidArgument(err) {
		t.Errorf("expected invalid argument for name with '=', got %v", err)
	}
	if err := opts.AddSystemProperties(map[string]any{"ok": 1, "": 2}); !IsInvalidArgument(err) {
		t.Errorf("expected invalid argument for map with empty key, got %v", err)
	}
	if len(opts.SystemProperties()) != 0 {
		t.Errorf("expected no properties after rejected input, got %v", opts.SystemProperties())
	}
}

func TestJavaOptions_MaxHeapSize(t *testing.T) {
	opts := NewJavaOptions()

	opts.SetMaxHeapSize("1g")
	if opts.MaxHeapSize() != "1g" {
		t.Errorf("MaxHeapSize() = %q, want 1g", opts.MaxHeapSize())
	}

	opts.SetMaxHeapSize("")
	if opts.MaxHeapSize() != "" {
		t.Errorf("MaxHeapSize() = %q, want default", opts.MaxHeapSize())
	}
	if len(opts.AllJvmArgs()) != 0 {
		t.Errorf("expected no heap flag, got %v", opts.AllJvmArgs())
	}
}

func TestJavaOptions_JvmArgs(t *testing.T) {
	opts := NewJavaOptions()

	if err := opts.SetJvmArgs([]any{"-ea", "-server", 7}); err != nil {
		t.Fatalf("SetJvmArgs() error = %v", err)
	}
	want := []string{"-ea", "-server", "7"}
	if got := opts.JvmArgs(); !reflect.DeepEqual(got, want) {
		t.Errorf("JvmArgs() = %v, want %v", got, want)
	}

	if err := opts.AddJvmArgs("-Xss1m", "-verbose:gc"); err != nil {
		t.Fatalf("AddJvmArgs() error = %v", err)
	}
	want = []string{"-ea", "-server", "7", "-Xss1m", "-verbose:gc"}
	if got := opts.JvmArgs(); !reflect.DeepEqual(got, want) {
		t.Errorf("JvmArgs() = %v, want %v", got, want)
	}

	if err := opts.SetJvmArgs([]any{}); err != nil {
		t.Fatalf("SetJvmArgs() error = %v", err)
	}
	if got := opts.JvmArgs(); len(got) != 0 {
		t.Errorf("expected jvm args to be replaced, got %v", got)
	}
}

func TestJavaOptions_JvmArgsRouteFlags(t *testing.T) {
	opts := NewJavaOptions()
	opts.SetMaxHeapSize("256m")

	if err := opts.SetJvmArgs([]any{"-Dfoo=bar", "-ea", "-Xms64m"}); err != nil {
		t.Fatalf("SetJvmArgs() error = %v", err)
	}

	if got := opts.JvmArgs(); !reflect.DeepEqual(got, []string{"-ea"}) {
		t.Errorf("JvmArgs() = %v, want [-ea]", got)
	}
	if got := opts.SystemProperties()["foo"]; got != "bar" {
		t.Errorf("expected foo=bar, got %q", got)
	}
	if opts.MaxHeapSize() != "256m" {
		t.Errorf("max heap should be kept, got %q", opts.MaxHeapSize())
	}
	if opts.MinHeapSize() != "64m" {
		t.Errorf("MinHeapSize() = %q, want 64m", opts.MinHeapSize())
	}
}

func TestJavaOptions_AddJvmArgsRejectsNilElement(t *testing.T) {
	opts := NewJavaOptions()
	_ = opts.AddJvmArgs("-ea")

	if err := opts.AddJvmArgs("-server", nil); !IsInvalidArgument(err) {
		t.Fatalf("expected invalid argument, got %v", err)
	}
	if got := opts.JvmArgs(); !reflect.DeepEqual(got, []string{"-ea"}) {
		t.Errorf("JvmArgs() = %v, want [-ea]", got)
	}
}

func TestJavaOptions_AllJvmArgsOrder(t *testing.T) {
	opts := NewJavaOptions()
	_ = opts.SetSystemProperties(map[string]any{"a": "1"})
	opts.SetMaxHeapSize("512m")
	_ = opts.SetJvmArgs([]any{"-ea"})

	want := []string{"-Da=1", "-Xmx512m", "-ea"}
	if got := opts.AllJvmArgs(); !reflect.DeepEqual(got, want) {
		t.Errorf("AllJvmArgs() = %v, want %v", got, want)
	}

	opts.SetMinHeapSize("128m")
	want = []string{"-Da=1", "-Xmx512m", "-Xms128m", "-ea"}
	if got := opts.AllJvmArgs(); !reflect.DeepEqual(got, want) {
		t.Errorf("AllJvmArgs() = %v, want %v", got, want)
	}
}

func TestJavaOptions_SetAllJvmArgs(t *testing.T) {
	tests := []struct {
		name      string
		args      []any
		wantProps map[string]string
		wantHeap  string
		wantArgs  []string
	}{
		{
			name:      "all kinds",
			args:      []any{"-Da=1", "-Dflag", "-Xmx1g", "-ea", "-cp"},
			wantProps: map[string]string{"a": "1", "flag": ""},
			wantHeap:  "1g",
			wantArgs:  []string{"-ea", "-cp"},
		},
		{
			name:      "value containing equals",
			args:      []any{"-Dopts=a=b"},
			wantProps: map[string]string{"opts": "a=b"},
			wantArgs:  []string{},
		},
		{
			name:      "last heap flag wins",
			args:      []any{"-Xmx1g", "-Xmx2g"},
			wantProps: map[string]string{},
			wantHeap:  "2g",
			wantArgs:  []string{},
		},
		{
			name:      "empty",
			args:      []any{},
			wantProps: map[string]string{},
			wantArgs:  []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := NewJavaOptions()
			_ = opts.SystemProperty("stale", "x")
			opts.SetMaxHeapSize("64m")
			_ = opts.AddJvmArgs("-old")

			if err := opts.SetAllJvmArgs(tt.args); err != nil {
				t.Fatalf("SetAllJvmArgs() error = %v", err)
			}
			if got := opts.SystemProperties(); !reflect.DeepEqual(got, tt.wantProps) {
				t.Errorf("SystemProperties() = %v, want %v", got, tt.wantProps)
			}
			if opts.MaxHeapSize() != tt.wantHeap {
				t.Errorf("MaxHeapSize() = %q, want %q", opts.MaxHeapSize(), tt.wantHeap)
			}
			if got := opts.JvmArgs(); !reflect.DeepEqual(got, tt.wantArgs) {
				t.Errorf("JvmArgs() = %v, want %v", got, tt.wantArgs)
			}
		})
	}
}

func TestJavaOptions_SetAllJvmArgsStrict(t *testing.T) {
	malformed := []string{"-D", "-D=value", "-Xmx", "-Xms"}

	for _, token := range malformed {
		t.Run(token, func(t *testing.T) {
			opts := NewJavaOptions()
			_ = opts.SystemProperty("keep", "1")
			before := opts.AllJvmArgs()

			err := opts.SetAllJvmArgs([]any{"-ea", token})
			if !IsInvalidArgument(err) {
				t.Fatalf("expected invalid argument for %q, got %v", token, err)
			}
			if got := opts.AllJvmArgs(); !reflect.DeepEqual(got, before) {
				t.Errorf("options mutated: %v, want %v", got, before)
			}
		})
	}
}

func TestJavaOptions_SetAllJvmArgsRoundTrip(t *testing.T) {
	inputs := [][]string{
		{},
		{"-Da=1"},
		{"-Db=2", "-Da=1", "-Dbare", "-Xmx512m", "-ea", "-XX:+UseG1GC"},
		{"-Xmx2g", "-Xms1g"},
		{"-server", "-ea"},
		{"-Dempty=", "-Dk=v=w"},
	}

	for _, in := range inputs {
		opts := NewJavaOptions()
		if err := opts.SetAllJvmArgs(toAny(in)); err != nil {
			t.Fatalf("SetAllJvmArgs(%v) error = %v", in, err)
		}
		got := opts.AllJvmArgs()
		if len(in) == 0 && len(got) == 0 {
			continue
		}
		if !reflect.DeepEqual(got, in) {
			t.Errorf("round trip of %v produced %v", in, got)
		}
	}
}

func TestJavaOptions_StateRoundTrip(t *testing.T) {
	opts := NewJavaOptions()
	_ = opts.SetSystemProperties(map[string]any{"z": 1, "a": nil, "m": ""})
	_ = opts.SystemProperty("late", "x")
	opts.SetMaxHeapSize("768m")
	opts.SetMinHeapSize("256m")
	_ = opts.SetJvmArgs([]any{"-ea", "-Djava.awt.headless=true", "-XX:+HeapDumpOnOutOfMemoryError"})

	props := opts.SystemProperties()
	heap := opts.MaxHeapSize()
	args := opts.JvmArgs()

	if err := opts.SetAllJvmArgs(toAny(opts.AllJvmArgs())); err != nil {
		t.Fatalf("SetAllJvmArgs() error = %v", err)
	}

	if got := opts.SystemProperties(); !reflect.DeepEqual(got, props) {
		t.Errorf("SystemProperties() = %v, want %v", got, props)
	}
	if opts.MaxHeapSize() != heap {
		t.Errorf("MaxHeapSize() = %q, want %q", opts.MaxHeapSize(), heap)
	}
	if got := opts.JvmArgs(); !reflect.DeepEqual(got, args) {
		t.Errorf("JvmArgs() = %v, want %v", got, args)
	}
	if defined, hasValue := opts.HasSystemProperty("a"); !defined || hasValue {
		t.Errorf("bare property lost its shape: defined=%v hasValue=%v", defined, hasValue)
	}
}

func TestJavaOptions_CopyToAndClone(t *testing.T) {
	src := NewJavaOptions()
	src.SetExecutable("/opt/jdk/bin/java")
	src.SetWorkingDir("/work")
	_ = src.EnvironmentVar("JAVA_TOOL_OPTIONS", "-Dx=y")
	_ = src.SystemProperty("a", "1")
	src.SetMaxHeapSize("1g")
	_ = src.AddJvmArgs("-ea")

	dst := NewJavaOptions()
	_ = dst.SystemProperty("gone", "1")
	_ = dst.AddJvmArgs("-gone")

	if err := src.CopyTo(dst); err != nil {
		t.Fatalf("CopyTo() error = %v", err)
	}
	if !reflect.DeepEqual(dst.Snapshot(), src.Snapshot()) {
		t.Errorf("CopyTo() produced %+v, want %+v", dst.Snapshot(), src.Snapshot())
	}

	clone := src.Clone()
	_ = clone.SystemProperty("b", "2")
	_ = clone.EnvironmentVar("OTHER", "1")
	if _, ok := src.SystemProperties()["b"]; ok {
		t.Error("clone shares properties with source")
	}
	if _, ok := src.Environment()["OTHER"]; ok {
		t.Error("clone shares environment with source")
	}

	if err := src.CopyTo(nil); !IsInvalidArgument(err) {
		t.Errorf("expected invalid argument for nil destination, got %v", err)
	}
}
