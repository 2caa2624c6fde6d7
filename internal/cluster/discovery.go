/*
 * Copyright (c) 2026 Firefly Software Solutions Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

/*
Package cluster holds peer-discovery support for the replication
engine: finding other nodes' RAFT.ADDNODE listeners on the local
network via mDNS, for bootstrap scripts and the cmd/emberdb-discover
tool. This sits outside the consensus adapter itself - cluster
membership changes only ever happen through a committed RAFT.ADDNODE
entry - and only helps an operator or install script find addresses
to pass to it.
*/
package cluster

import (
	"fmt"
	"net"
	"os"
	"time"

	"github.com/hashicorp/mdns"
)

// ServiceName is the mDNS service type the replication engine
// advertises and queries under, following the standard
// "_service._proto" convention.
const ServiceName = "_emberdb-raft._tcp"

// DiscoveryConfig configures a DiscoveryService.
type DiscoveryConfig struct {
	// NodeID is advertised in the service instance name and TXT
	// record; it is not validated as a raftmsg.NodeID since a
	// discovery-only client (cmd/emberdb-discover) has none of its
	// own.
	NodeID string
	// RaftAddr is this node's own host:port, advertised only when
	// Enabled is true.
	RaftAddr string
	// Enabled controls whether this service advertises itself in
	// addition to being able to discover others. A pure discovery
	// client (like cmd/emberdb-discover) sets this false.
	Enabled bool
}

// DiscoveredNode is one peer found during a DiscoverNodes call.
type DiscoveredNode struct {
	NodeID   string
	RaftAddr string
	Version  string
}

// DiscoveryService advertises this node (if configured to) and can
// search the local network for others.
type DiscoveryService struct {
	cfg    DiscoveryConfig
	server *mdns.Server
}

// NewDiscoveryService creates a DiscoveryService. If cfg.Enabled, the
// caller should call Start to begin advertising; DiscoverNodes works
// regardless of Enabled.
func NewDiscoveryService(cfg DiscoveryConfig) *DiscoveryService {
	return &DiscoveryService{cfg: cfg}
}

// Start begins advertising this node over mDNS. It is a no-op if the
// service was created with Enabled = false.
func (d *DiscoveryService) Start() error {
	if !d.cfg.Enabled {
		return nil
	}
	host, portStr, err := net.SplitHostPort(d.cfg.RaftAddr)
	if err != nil {
		return fmt.Errorf("cluster: invalid raft addr %q: %w", d.cfg.RaftAddr, err)
	}
	var port int
	if _, err := fmt.Sscanf(portStr, "%d", &port); err != nil {
		return fmt.Errorf("cluster: invalid raft port %q: %w", portStr, err)
	}

	ips, err := resolveIPs(host)
	if err != nil {
		return err
	}

	info := []string{
		"node_id=" + d.cfg.NodeID,
		"raft_addr=" + d.cfg.RaftAddr,
		"version=1",
	}
	hostname, err := os.Hostname()
	if err != nil {
		hostname = d.cfg.NodeID
	}

	svc, err := mdns.NewMDNSService(d.cfg.NodeID, ServiceName, "", hostname+".", port, ips, info)
	if err != nil {
		return fmt.Errorf("cluster: build mdns service: %w", err)
	}

	server, err := mdns.NewServer(&mdns.Config{Zone: svc})
	if err != nil {
		return fmt.Errorf("cluster: start mdns server: %w", err)
	}
	d.server = server
	return nil
}

// Stop shuts down mDNS advertising, if it was started.
func (d *DiscoveryService) Stop() error {
	if d.server == nil {
		return nil
	}
	return d.server.Shutdown()
}

// DiscoverNodes queries the network for ServiceName advertisers for
// up to timeout and returns every distinct node found.
func (d *DiscoveryService) DiscoverNodes(timeout time.Duration) ([]*DiscoveredNode, error) {
	entries := make(chan *mdns.ServiceEntry, 16)
	done := make(chan struct{})

	var nodes []*DiscoveredNode
	go func() {
		defer close(done)
		for e := range entries {
			nodes = append(nodes, entryToNode(e))
		}
	}()

	params := mdns.DefaultParams(ServiceName)
	params.Timeout = timeout
	params.Entries = entries

	err := mdns.Query(params)
	close(entries)
	<-done
	if err != nil {
		return nil, fmt.Errorf("cluster: mdns query: %w", err)
	}
	return nodes, nil
}

func entryToNode(e *mdns.ServiceEntry) *DiscoveredNode {
	n := &DiscoveredNode{NodeID: e.Name}
	for _, field := range e.InfoFields {
		switch {
		case hasPrefix(field, "node_id="):
			n.NodeID = field[len("node_id="):]
		case hasPrefix(field, "raft_addr="):
			n.RaftAddr = field[len("raft_addr="):]
		case hasPrefix(field, "version="):
			n.Version = field[len("version="):]
		}
	}
	if n.RaftAddr == "" && e.AddrV4 != nil {
		n.RaftAddr = fmt.Sprintf("%s:%d", e.AddrV4, e.Port)
	}
	return n
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

func resolveIPs(host string) ([]net.IP, error) {
	if ip := net.ParseIP(host); ip != nil {
		return []net.IP{ip}, nil
	}
	if host == "" || host == "0.0.0.0" {
		return localIPs()
	}
	return localIPs()
}

func localIPs() ([]net.IP, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return nil, fmt.Errorf("cluster: list interface addrs: %w", err)
	}
	var ips []net.IP
	for _, a := range addrs {
		ipnet, ok := a.(*net.IPNet)
		if !ok || ipnet.IP.IsLoopback() {
			continue
		}
		if v4 := ipnet.IP.To4(); v4 != nil {
			ips = append(ips, v4)
		}
	}
	if len(ips) == 0 {
		return []net.IP{net.IPv4(127, 0, 0, 1)}, nil
	}
	return ips, nil
}
