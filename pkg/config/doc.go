// Package config loads kiln build settings from CUE and runs Starlark
// build scripts.
//
// # Overview
//
// A kiln build directory holds a settings.cue file describing the build
// and its projects, and one build.star script per project. The config
// package turns the former into typed Settings and executes the latter
// against a project's JVM forks.
//
// # Components
//
// SettingsLoader: Parses settings files or directories, unifies them with
// the built-in #Settings schema, decodes them and runs struct-tag
// validation. Every problem is reported as a ValidationError carrying the
// file position CUE attached to it.
//
// SchemaRegistry: Holds the compiled CUE schemas. Built-in schemas are
// "settings", "project" and "forkDefaults"; more can be registered.
//
// ScriptEvaluator: Runs build scripts with a timeout. Scripts see the
// `project` struct, the read-only `properties` dict, `struct` and
// `java_fork(name)`.
//
// # Settings
//
//	build: {
//	    name: "shop"
//	    properties: version: "1.4.0"
//	}
//
//	projects: {
//	    ":": {}
//	    ":api": {script: "api.star"}
//	}
//
//	forkDefaults: {
//	    maxHeapSize: "512m"
//	    systemProperties: "file.encoding": "UTF-8"
//	}
//
// # Build Scripts
//
//	test = java_fork("test")
//	test.max_heap_size = "1g"
//	test.system_property("app.version", properties["version"])
//	test.jvm_args("-ea", "-XX:+UseG1GC")
//
// Values passed to system_property and friends are converted to strings
// the same way fork.JavaOptions converts Go values; None defines a
// property without a value.
package config
