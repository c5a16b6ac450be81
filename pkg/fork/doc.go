// Package fork holds the options used to launch external processes, and
// in particular JVM processes.
//
// JavaOptions keeps three structured settings (system properties, heap
// sizes and extra JVM arguments) and renders them into one flat argument
// list:
//
//	opts := fork.NewJavaOptions()
//	_ = opts.SystemProperty("a", 1)
//	opts.SetMaxHeapSize("512m")
//	_ = opts.AddJvmArgs("-ea")
//	opts.AllJvmArgs() // [-Da=1 -Xmx512m -ea]
//
// Setting the flat list decodes it back into the structured settings, so
// copying options through AllJvmArgs/SetAllJvmArgs neither duplicates nor
// loses properties or heap sizes. The recognized encodings are
// -D<name>=<value>, -D<name>, -Xmx<size> and -Xms<size>.
//
// Collections passed to setters must not be nil; rejected input returns an
// error wrapping ErrInvalidArgument and leaves the options unchanged.
package fork
