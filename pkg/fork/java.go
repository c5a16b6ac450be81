package fork

import (
	"strings"
)

// Command-line encodings of the structured JVM settings.
const (
	SystemPropertyPrefix = "-D"
	MaxHeapPrefix        = "-Xmx"
	MinHeapPrefix        = "-Xms"
)

// property is one system property. A property defined without a value
// renders as a bare "-Dname" flag.
type property struct {
	value    string
	hasValue bool
}

// JavaOptions specifies the options used to fork a JVM process.
//
// The full argument list is never stored: AllJvmArgs renders it from the
// system properties, heap sizes and extra arguments every time.
type JavaOptions struct {
	ProcessOptions

	props   map[string]property
	order   []string
	maxHeap string
	minHeap string
	jvmArgs []string
}

// NewJavaOptions returns empty options using the default executable.
func NewJavaOptions() *JavaOptions {
	return &JavaOptions{
		ProcessOptions: NewProcessOptions(),
		props:          make(map[string]property),
	}
}

// SystemProperties returns the system properties. Properties defined
// without a value map to "". The result is a copy and never nil.
func (o *JavaOptions) SystemProperties() map[string]string {
	out := make(map[string]string, len(o.props))
	for name, p := range o.props {
		out[name] = p.value
	}
	return out
}

// HasSystemProperty reports whether name is defined, and whether it carries a value.
func (o *JavaOptions) HasSystemProperty(name string) (defined, hasValue bool) {
	p, ok := o.props[name]
	return ok, ok && p.hasValue
}

// SetSystemProperties replaces all system properties.
func (o *JavaOptions) SetSystemProperties(properties map[string]any) error {
	if properties == nil {
		return invalidArgument("SetSystemProperties", "properties", "must not be nil")
	}
	ps := newPropertySet()
	if err := ps.addMap("SetSystemProperties", properties); err != nil {
		return err
	}
	o.props, o.order = ps.props, ps.order
	return nil
}

// AddSystemProperties merges properties into the existing ones; incoming
// values win on collision.
func (o *JavaOptions) AddSystemProperties(properties map[string]any) error {
	if properties == nil {
		return invalidArgument("AddSystemProperties", "properties", "must not be nil")
	}
	ps := o.propertySet()
	if err := ps.addMap("AddSystemProperties", properties); err != nil {
		return err
	}
	o.props, o.order = ps.props, ps.order
	return nil
}

// SystemProperty defines or overwrites a single property. A nil value
// defines the property without a value.
func (o *JavaOptions) SystemProperty(name string, value any) error {
	if err := checkPropertyName("SystemProperty", name); err != nil {
		return err
	}
	ps := o.propertySet()
	ps.put(name, value)
	o.props, o.order = ps.props, ps.order
	return nil
}

// MaxHeapSize returns the maximum heap size, or "" for the runtime default.
func (o *JavaOptions) MaxHeapSize() string {
	return o.maxHeap
}

// SetMaxHeapSize sets the maximum heap size. "" restores the runtime default.
func (o *JavaOptions) SetMaxHeapSize(heapSize string) {
	o.maxHeap = heapSize
}

// MinHeapSize returns the initial heap size, or "" for the runtime default.
func (o *JavaOptions) MinHeapSize() string {
	return o.minHeap
}

// SetMinHeapSize sets the initial heap size. "" restores the runtime default.
func (o *JavaOptions) SetMinHeapSize(heapSize string) {
	o.minHeap = heapSize
}

// JvmArgs returns the extra JVM arguments, excluding system properties
// and heap sizes. The result is a copy and never nil.
func (o *JavaOptions) JvmArgs() []string {
	out := make([]string, len(o.jvmArgs))
	copy(out, o.jvmArgs)
	return out
}

// SetJvmArgs replaces the extra JVM arguments. Property and heap flags in
// arguments update the system properties and heap sizes instead.
func (o *JavaOptions) SetJvmArgs(arguments []any) error {
	if arguments == nil {
		return invalidArgument("SetJvmArgs", "arguments", "must not be nil")
	}
	p, err := o.parseOnto("SetJvmArgs", arguments, o.propertySet())
	if err != nil {
		return err
	}
	o.apply(p, false)
	return nil
}

// AddJvmArgs appends extra JVM arguments. Property and heap flags update
// the system properties and heap sizes instead.
func (o *JavaOptions) AddJvmArgs(arguments ...any) error {
	p, err := o.parseOnto("AddJvmArgs", arguments, o.propertySet())
	if err != nil {
		return err
	}
	o.apply(p, true)
	return nil
}

// AllJvmArgs returns the full argument list: system properties in
// definition order, then -Xmx and -Xms when set, then the extra arguments.
func (o *JavaOptions) AllJvmArgs() []string {
	args := make([]string, 0, len(o.order)+2+len(o.jvmArgs))
	for _, name := range o.order {
		args = append(args, renderProperty(name, o.props[name]))
	}
	if o.maxHeap != "" {
		args = append(args, MaxHeapPrefix+o.maxHeap)
	}
	if o.minHeap != "" {
		args = append(args, MinHeapPrefix+o.minHeap)
	}
	return append(args, o.jvmArgs...)
}

// SetAllJvmArgs overwrites the system properties, heap sizes and extra
// arguments with the ones decoded from arguments. Malformed flags are
// rejected and leave the options untouched.
func (o *JavaOptions) SetAllJvmArgs(arguments []any) error {
	if arguments == nil {
		return invalidArgument("SetAllJvmArgs", "arguments", "must not be nil")
	}
	p, err := parseArgs("SetAllJvmArgs", arguments, newPropertySet())
	if err != nil {
		return err
	}
	o.props, o.order = p.props.props, p.props.order
	o.maxHeap, o.minHeap = p.maxHeap, p.minHeap
	o.jvmArgs = p.plain
	return nil
}

// CopyTo copies every option into dst, replacing what dst held.
func (o *JavaOptions) CopyTo(dst *JavaOptions) error {
	if dst == nil {
		return invalidArgument("CopyTo", "dst", "must not be nil")
	}
	o.ProcessOptions.copyTo(&dst.ProcessOptions)
	return dst.SetAllJvmArgs(toAny(o.AllJvmArgs()))
}

// Clone returns an independent copy of the options.
func (o *JavaOptions) Clone() *JavaOptions {
	c := NewJavaOptions()
	o.ProcessOptions.copyTo(&c.ProcessOptions)
	ps := o.propertySet()
	c.props, c.order = ps.props, ps.order
	c.maxHeap, c.minHeap = o.maxHeap, o.minHeap
	c.jvmArgs = o.JvmArgs()
	return c
}

// parseOnto decodes arguments on top of the current heap settings.
func (o *JavaOptions) parseOnto(op string, arguments []any, ps *propertySet) (*parsedArgs, error) {
	p, err := parseArgs(op, arguments, ps)
	if err != nil {
		return nil, err
	}
	if p.maxHeap == "" {
		p.maxHeap = o.maxHeap
	}
	if p.minHeap == "" {
		p.minHeap = o.minHeap
	}
	return p, nil
}

func (o *JavaOptions) apply(p *parsedArgs, appendPlain bool) {
	o.props, o.order = p.props.props, p.props.order
	o.maxHeap, o.minHeap = p.maxHeap, p.minHeap
	if appendPlain {
		o.jvmArgs = append(o.jvmArgs, p.plain...)
		return
	}
	o.jvmArgs = p.plain
}

// propertySet returns a mutable copy of the current properties.
func (o *JavaOptions) propertySet() *propertySet {
	ps := &propertySet{
		props: make(map[string]property, len(o.props)),
		order: make([]string, len(o.order)),
	}
	for k, v := range o.props {
		ps.props[k] = v
	}
	copy(ps.order, o.order)
	return ps
}

// propertySet is a working copy of system properties that is swapped in
// only once an operation has fully succeeded.
type propertySet struct {
	props map[string]property
	order []string
}

func newPropertySet() *propertySet {
	return &propertySet{props: make(map[string]property)}
}

func (ps *propertySet) put(name string, value any) {
	s, ok := stringify(value)
	if _, exists := ps.props[name]; !exists {
		ps.order = append(ps.order, name)
	}
	ps.props[name] = property{value: s, hasValue: ok}
}

func (ps *propertySet) addMap(op string, m map[string]any) error {
	keys := sortedKeys(m)
	for _, k := range keys {
		if err := checkPropertyName(op, k); err != nil {
			return err
		}
	}
	for _, k := range keys {
		ps.put(k, m[k])
	}
	return nil
}

func checkPropertyName(op, name string) error {
	if name == "" {
		return invalidArgument(op, name, "system property names must not be empty")
	}
	if strings.Contains(name, "=") {
		return invalidArgument(op, name, "system property names must not contain '='")
	}
	return nil
}

func renderProperty(name string, p property) string {
	if !p.hasValue {
		return SystemPropertyPrefix + name
	}
	return SystemPropertyPrefix + name + "=" + p.value
}

func toAny(args []string) []any {
	out := make([]any, len(args))
	for i, a := range args {
		out[i] = a
	}
	return out
}
