package fork

// Snapshot is a serializable view of JavaOptions, used for reports,
// policy input and history records.
type Snapshot struct {
	Name             string            `json:"name,omitempty" yaml:"name,omitempty"`
	Project          string            `json:"project,omitempty" yaml:"project,omitempty"`
	Executable       string            `json:"executable" yaml:"executable"`
	WorkingDir       string            `json:"working_dir,omitempty" yaml:"working_dir,omitempty"`
	Environment      map[string]string `json:"environment,omitempty" yaml:"environment,omitempty"`
	SystemProperties map[string]string `json:"system_properties" yaml:"system_properties"`
	MaxHeapSize      string            `json:"max_heap_size,omitempty" yaml:"max_heap_size,omitempty"`
	MinHeapSize      string            `json:"min_heap_size,omitempty" yaml:"min_heap_size,omitempty"`
	JvmArgs          []string          `json:"jvm_args" yaml:"jvm_args"`
	AllJvmArgs       []string          `json:"all_jvm_args" yaml:"all_jvm_args"`
}

// Snapshot captures the current state of o.
func (o *JavaOptions) Snapshot() Snapshot {
	return Snapshot{
		Executable:       o.Executable(),
		WorkingDir:       o.WorkingDir(),
		Environment:      o.Environment(),
		SystemProperties: o.SystemProperties(),
		MaxHeapSize:      o.MaxHeapSize(),
		MinHeapSize:      o.MinHeapSize(),
		JvmArgs:          o.JvmArgs(),
		AllJvmArgs:       o.AllJvmArgs(),
	}
}
