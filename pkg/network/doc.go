/*
Package network provides the layered Layer-3 abstraction of the testbed.

A Layer3Network maps host IDs to host identities and represents "this set of
hosts is mutually IP-reachable". Implementations manage their own lifecycle:
Enter acquires reachability, TearDown releases it unconditionally.

Composite unions independently-managed networks (a local LAN, a VPN overlay)
into one addressable membership space with a single combined lifetime. The
acquisition discipline is a stack: constituents enter in registration order
and unwind in reverse on partial failure, so a caller never observes a
half-acquired composite.

LANLayer delegates actual host configuration to the playbook collaborator in
package ansible. The VPN overlay implementation lives in package vpn.
*/
package network
