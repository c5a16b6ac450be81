package fork

// Defaults are the fork settings every new JavaOptions of a build starts
// from. They are passed explicitly to whoever creates fork options.
type Defaults struct {
	Executable       string            `json:"executable,omitempty" yaml:"executable,omitempty"`
	WorkingDir       string            `json:"workingDir,omitempty" yaml:"workingDir,omitempty"`
	MaxHeapSize      string            `json:"maxHeapSize,omitempty" yaml:"maxHeapSize,omitempty"`
	MinHeapSize      string            `json:"minHeapSize,omitempty" yaml:"minHeapSize,omitempty"`
	SystemProperties map[string]string `json:"systemProperties,omitempty" yaml:"systemProperties,omitempty"`
	JvmArgs          []string          `json:"jvmArgs,omitempty" yaml:"jvmArgs,omitempty"`
	Environment      map[string]string `json:"environment,omitempty" yaml:"environment,omitempty"`
}

// Apply writes the defaults onto o. Heap sizes, executable and working
// directory are only set when the default is non-empty; properties,
// arguments and environment are merged.
func (d *Defaults) Apply(o *JavaOptions) error {
	if d == nil {
		return nil
	}
	if d.Executable != "" {
		o.SetExecutable(d.Executable)
	}
	if d.WorkingDir != "" {
		o.SetWorkingDir(d.WorkingDir)
	}
	if len(d.Environment) > 0 {
		if err := o.AddEnvironment(stringMap(d.Environment)); err != nil {
			return err
		}
	}
	if len(d.SystemProperties) > 0 {
		if err := o.AddSystemProperties(stringMap(d.SystemProperties)); err != nil {
			return err
		}
	}
	if d.MaxHeapSize != "" {
		o.SetMaxHeapSize(d.MaxHeapSize)
	}
	if d.MinHeapSize != "" {
		o.SetMinHeapSize(d.MinHeapSize)
	}
	if len(d.JvmArgs) > 0 {
		if err := o.AddJvmArgs(toAny(d.JvmArgs)...); err != nil {
			return err
		}
	}
	return nil
}

// NewFromDefaults returns fresh options with d applied.
func NewFromDefaults(d *Defaults) (*JavaOptions, error) {
	o := NewJavaOptions()
	if err := d.Apply(o); err != nil {
		return nil, err
	}
	return o, nil
}

func stringMap(m map[string]string) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
