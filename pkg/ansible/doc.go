/*
Package ansible is the boundary to the automation-playbook collaborator that
configures OS-level networking and services on remote hosts.

The core never drives hosts directly: it hands a Runner an inventory (host ID
to connection parameters) and a playbook identifier, and reads back a status
plus a structured fact cache keyed by host. An operation whose run reports
StatusFailed fails the calling layer's own operation.

Two implementations exist:

  - ExecRunner shells out to the ansible-runner binary inside a throwaway
    private data directory assembled from a base env/ + project/ pair, so
    repeated runs never pollute the base environment.
  - SSHRunner executes fixed command sequences over SSH for small probe and
    cleanup actions.

Tests across the testbed substitute an in-memory fake Runner.
*/
package ansible
