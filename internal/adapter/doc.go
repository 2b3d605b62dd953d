// Package adapter connects monview to the monitored machines.
//
// SSHAgent runs the monitoring agent's install, uninstall and plugin
// commands over SSH. NmapChecker decides whether a machine is reachable for
// automatic installation by scanning its SSH port with nmap, falling back to
// a TCP connect when nmap is not installed.
package adapter
