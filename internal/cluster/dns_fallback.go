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

package cluster

import (
	"fmt"
	"strings"
	"time"

	"github.com/miekg/dns"
)

// DiscoverViaSRV resolves SRV records for ServiceName under domain
// directly against resolverAddr (a "host:port" DNS server), used as a
// fallback when mDNS multicast is blocked - common on routed cloud
// networks where operators instead publish a plain SRV record such as
// "_emberdb-raft._tcp.cluster.internal" pointing at every node.
func DiscoverViaSRV(domain, resolverAddr string, timeout time.Duration) ([]*DiscoveredNode, error) {
	query := strings.TrimSuffix(ServiceName, ".") + "." + strings.TrimSuffix(domain, ".") + "."

	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(query), dns.TypeSRV)
	msg.RecursionDesired = true

	client := &dns.Client{Timeout: timeout}
	resp, _, err := client.Exchange(msg, resolverAddr)
	if err != nil {
		return nil, fmt.Errorf("cluster: srv lookup %q: %w", query, err)
	}
	if resp.Rcode != dns.RcodeSuccess {
		return nil, fmt.Errorf("cluster: srv lookup %q: rcode %d", query, resp.Rcode)
	}

	var nodes []*DiscoveredNode
	for _, rr := range resp.Answer {
		srv, ok := rr.(*dns.SRV)
		if !ok {
			continue
		}
		nodes = append(nodes, &DiscoveredNode{
			NodeID:   strings.TrimSuffix(srv.Target, "."),
			RaftAddr: fmt.Sprintf("%s:%d", strings.TrimSuffix(srv.Target, "."), srv.Port),
		})
	}
	return nodes, nil
}
