package policy

import (
	"time"
)

// GetBuiltinPolicies returns all built-in policies.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		keyPermissionsPolicy(),
		localDeploymentPolicy(),
		unknownProfilesPolicy(),
	}
}

// keyPermissionsPolicy rejects key material deployed with permissive file
// modes.
func keyPermissionsPolicy() Policy {
	return Policy{
		Name:        "key-permissions",
		Description: "Rejects deployed keys with malformed or world-accessible file modes",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"keys", "security"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package apiary.policies.keys

import rego.v1

deny contains violation if {
	input.deployment.keys
	some name, spec in input.deployment.keys

	# Mode must be a three or four digit octal string
	not regex.match("^[0-7]{3,4}$", spec.permissions)
	violation := {
		"message": sprintf("key %s has malformed permissions %q", [name, spec.permissions]),
		"severity": "error",
		"node": input.node,
	}
}

deny contains violation if {
	input.deployment.keys
	some name, spec in input.deployment.keys
	regex.match("^[0-7]{3,4}$", spec.permissions)

	# The world digit must be zero
	last := substring(spec.permissions, count(spec.permissions) - 1, 1)
	last != "0"
	violation := {
		"message": sprintf("key %s is world-accessible with mode %s", [name, spec.permissions]),
		"severity": "error",
		"node": input.node,
	}
}`,
	}
}

// localDeploymentPolicy requires nodes that allow local deployment to be
// explicitly tagged for it.
func localDeploymentPolicy() Policy {
	return Policy{
		Name:        "local-deployment",
		Description: "Requires an explicit 'local' tag on nodes that allow local deployment",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"deployment", "safety"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package apiary.policies.local

import rego.v1

deny contains violation if {
	input.deployment.allowLocalDeployment
	not "local" in input.deployment.tags
	violation := {
		"message": sprintf("node %s allows local deployment but is not tagged 'local'", [input.node]),
		"severity": "warning",
		"node": input.node,
	}
}`,
	}
}

// unknownProfilesPolicy warns when production-tagged nodes silently replace
// unrecognized profiles during activation.
func unknownProfilesPolicy() Policy {
	return Policy{
		Name:        "unknown-profiles",
		Description: "Warns when production nodes replace unknown profiles during activation",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"deployment", "production"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package apiary.policies.profiles

import rego.v1

deny contains violation if {
	"production" in input.deployment.tags
	input.deployment.replaceUnknownProfiles
	violation := {
		"message": sprintf("node %s replaces unknown profiles on a production target", [input.node]),
		"severity": "warning",
		"node": input.node,
	}
}`,
	}
}
