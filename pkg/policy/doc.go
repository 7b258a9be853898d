// Package policy provides an OPA/Rego gate over parsed playbooks.
//
// Policies see the playbook as `input.playbook` and the evaluation context
// as `input.context`, and signal violations through a `deny` set in their
// package. Violations of severity error or critical block the run; `bosun
// run` and `bosun validate` evaluate the gate before any host is touched.
package policy
