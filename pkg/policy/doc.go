// Package policy checks JVM fork configurations against Open Policy Agent
// (OPA) Rego policies.
//
// # Architecture
//
// The policy system consists of four main components:
//
//  1. Engine - Compiles policies and evaluates them against fork snapshots
//  2. Loader - Loads policies from files, directories and bundles
//  3. Types - Data structures for policies, violations and results
//  4. Built-in Policies - Checks every kiln build gets by default
//
// # Usage
//
//	engine, err := policy.NewEngine(logger)
//	if err != nil {
//	    return err
//	}
//
//	result, err := engine.EvaluateFork(ctx, project.Snapshots()[0], policy.OperationCheck)
//	if err != nil {
//	    return err
//	}
//
//	if !result.Allowed {
//	    for _, v := range result.Violations {
//	        fmt.Printf("%s: %s\n", v.Policy, v.Message)
//	    }
//	}
//
// # Input Document
//
// Policies see the fork under input.fork with the fields of fork.Snapshot
// (name, project, executable, working_dir, environment, system_properties,
// max_heap_size, min_heap_size, jvm_args, all_jvm_args) and the evaluation
// context under input.context (operation, timestamp).
//
// # Built-in Policies
//
//  1. heap-size-format - Heap sizes must be valid JVM memory sizes (error)
//  2. remote-debug-agent - Flags JDWP debug agents (warning)
//  3. default-heap - Notes forks without a maximum heap size (info)
//
// # Custom Policies
//
// Every policy is queried through the deny set of its package:
//
//	package kiln.custom.encoding
//
//	import rego.v1
//
//	deny contains violation if {
//	    not input.fork.system_properties["file.encoding"]
//	    violation := {
//	        "message": "forks must set file.encoding",
//	        "severity": "error",
//	    }
//	}
//
// Elements of the deny set may be plain strings or objects with message,
// severity and remediation keys. Policies loaded from .rego files default
// to warning severity.
//
// # Severity Levels
//
//   - info, warning: reported as warnings, the fork is still allowed
//   - error, critical: reported as violations, the fork is not allowed
//
// # Hot Reload
//
// WatchPolicies loads a set of paths and replaces the custom policies each
// time a file below them changes, after a debounce delay. The onReload
// callback runs after each successful swap; a failed load keeps the
// previous policies.
package policy
