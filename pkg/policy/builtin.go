package policy

import (
	"time"
)

// GetBuiltinPolicies returns all built-in policies.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		heapSizeFormatPolicy(),
		remoteDebugAgentPolicy(),
		defaultHeapPolicy(),
	}
}

// heapSizeFormatPolicy rejects heap sizes the JVM would not accept.
func heapSizeFormatPolicy() Policy {
	return Policy{
		Name:        "heap-size-format",
		Description: "Heap sizes must be a number with an optional k, m, g or t suffix",
		Severity:    SeverityError,
		Enabled:     true,
		Builtin:     true,
		Tags:        []string{"memory"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package kiln.policies.heap

import rego.v1

size_pattern := "^[0-9]+[kKmMgGtT]?$"

fork_name := object.get(input.fork, "name", "<unnamed>")

deny contains violation if {
	size := input.fork.max_heap_size
	not regex.match(size_pattern, size)
	violation := {
		"message": sprintf("fork %s: maximum heap size '%s' is not a valid JVM memory size", [fork_name, size]),
		"severity": "error",
		"remediation": "use a size such as 512m or 2g",
	}
}

deny contains violation if {
	size := input.fork.min_heap_size
	not regex.match(size_pattern, size)
	violation := {
		"message": sprintf("fork %s: minimum heap size '%s' is not a valid JVM memory size", [fork_name, size]),
		"severity": "error",
		"remediation": "use a size such as 64m or 1g",
	}
}`,
	}
}

// remoteDebugAgentPolicy flags forks that open a debugger port.
func remoteDebugAgentPolicy() Policy {
	return Policy{
		Name:        "remote-debug-agent",
		Description: "Warns when a fork enables the JDWP remote debugging agent",
		Severity:    SeverityWarning,
		Enabled:     true,
		Builtin:     true,
		Tags:        []string{"security", "debugging"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package kiln.policies.debug

import rego.v1

debug_prefixes := ["-agentlib:jdwp", "-Xrunjdwp", "-Xdebug"]

fork_name := object.get(input.fork, "name", "<unnamed>")

deny contains violation if {
	some arg in input.fork.all_jvm_args
	some prefix in debug_prefixes
	startswith(arg, prefix)
	violation := {
		"message": sprintf("fork %s enables remote debugging with %s", [fork_name, arg]),
		"severity": "warning",
		"remediation": "remove the debug agent outside of local development",
	}
}`,
	}
}

// defaultHeapPolicy notes forks that leave the heap to JVM defaults.
func defaultHeapPolicy() Policy {
	return Policy{
		Name:        "default-heap",
		Description: "Reports forks without a maximum heap size",
		Severity:    SeverityInfo,
		Enabled:     true,
		Builtin:     true,
		Tags:        []string{"memory"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package kiln.policies.defaultheap

import rego.v1

fork_name := object.get(input.fork, "name", "<unnamed>")

deny contains violation if {
	not input.fork.max_heap_size
	violation := {
		"message": sprintf("fork %s uses the JVM default maximum heap size", [fork_name]),
		"severity": "info",
	}
}`,
	}
}
