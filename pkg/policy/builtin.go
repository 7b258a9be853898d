package policy

// GetBuiltinPolicies returns all built-in policies.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		plaintextSecretsPolicy(),
		retryBoundsPolicy(),
		taskNamingPolicy(),
		destructiveVMPolicy(),
	}
}

// plaintextSecretsPolicy flags sudo passwords written directly in params.
func plaintextSecretsPolicy() Policy {
	return Policy{
		Name:        "plaintext-secrets",
		Description: "Forbids literal sudo passwords in playbook params; use a fact reference instead",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"security"},
		Rego: `package bosun.policies.secrets

import rego.v1

deny contains violation if {
	some play in input.playbook.plays
	some task in play.tasks
	password := task.params.sudo_password
	is_string(password)
	not startswith(password, "ref:")
	violation := {
		"message": sprintf("task %q in group %q has a literal sudo_password; use a ref: fact", [task.action, play.group]),
		"severity": "error",
		"group": play.group,
		"task": task.action,
	}
}
`,
	}
}

// retryBoundsPolicy caps retry budgets so a wedged host cannot stall a run
// for hours.
func retryBoundsPolicy() Policy {
	return Policy{
		Name:        "retry-bounds",
		Description: "Caps retry.max_attempts at 10",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"limits"},
		Rego: `package bosun.policies.retries

import rego.v1

deny contains violation if {
	some play in input.playbook.plays
	some task in play.tasks
	task.retry.max_attempts > 10
	violation := {
		"message": sprintf("task %q in group %q retries %d times; the cap is 10", [task.action, play.group, task.retry.max_attempts]),
		"severity": "error",
		"group": play.group,
		"task": task.action,
	}
}
`,
	}
}

// taskNamingPolicy nudges authors toward named tasks in production.
func taskNamingPolicy() Policy {
	return Policy{
		Name:        "task-naming",
		Description: "Warns about unnamed tasks in production playbooks",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"conventions"},
		Rego: `package bosun.policies.naming

import rego.v1

deny contains violation if {
	input.context.environment == "production"
	some play in input.playbook.plays
	some task in play.tasks
	not task.name
	violation := {
		"message": sprintf("unnamed %q task in group %q; production playbooks should name every task", [task.action, play.group]),
		"severity": "warning",
		"group": play.group,
		"task": task.action,
	}
}
`,
	}
}

// destructiveVMPolicy blocks vm.lifecycle state=absent without force in
// production.
func destructiveVMPolicy() Policy {
	return Policy{
		Name:        "destructive-vm",
		Description: "Requires force: true to destroy VMs in production",
		Severity:    SeverityCritical,
		Enabled:     true,
		Tags:        []string{"security", "vm"},
		Rego: `package bosun.policies.vm

import rego.v1

deny contains violation if {
	input.context.environment == "production"
	some play in input.playbook.plays
	some task in play.tasks
	task.action == "vm.lifecycle"
	task.params.state == "absent"
	not task.params.force
	violation := {
		"message": sprintf("vm.lifecycle absent in group %q needs force: true in production", [play.group]),
		"severity": "critical",
		"group": play.group,
		"task": task.action,
	}
}
`,
	}
}
