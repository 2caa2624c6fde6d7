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
emberdb-discover finds other replication engine nodes on the local
network via mDNS, so an operator or join script can feed their
addresses straight into RAFT.ADDNODE without hand-tracking them.

Usage:

	emberdb-discover                  # discover nodes (5 second timeout)
	emberdb-discover --timeout 10     # custom timeout in seconds
	emberdb-discover --json           # output as JSON
	emberdb-discover --quiet          # only output addresses (for scripting)
*/
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"flydb/internal/cluster"
)

const (
	version   = "1.0.0"
	copyright = "Copyright (c) 2026 Firefly Software Solutions Inc."
)

const (
	reset  = "\033[0m"
	bold   = "\033[1m"
	dim    = "\033[2m"
	red    = "\033[31m"
	green  = "\033[32m"
	yellow = "\033[33m"
	cyan   = "\033[36m"
)

func main() {
	timeout := flag.Int("timeout", 5, "Discovery timeout in seconds")
	srvDomain := flag.String("srv-domain", "", "Fall back to a SRV lookup under this domain if mDNS finds nothing")
	resolver := flag.String("resolver", "", "DNS resolver host:port to use for --srv-domain")
	jsonOutput := flag.Bool("json", false, "Output as JSON")
	quiet := flag.Bool("quiet", false, "Only output node addresses (for scripting)")
	help := flag.Bool("help", false, "Show help")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.BoolVar(help, "h", false, "Show help")
	flag.BoolVar(showVersion, "v", false, "Show version information")
	flag.BoolVar(quiet, "q", false, "Only output node addresses (for scripting)")

	flag.Parse()

	if *help {
		printUsage()
		os.Exit(0)
	}
	if *showVersion {
		printVersion()
		os.Exit(0)
	}

	// mdns logs benign IPv6 probe errors at the standard logger; this
	// tool's own output already reports failures, so silence it.
	log.SetOutput(io.Discard)

	if !*quiet && !*jsonOutput {
		printBanner()
	}

	discovery := cluster.NewDiscoveryService(cluster.DiscoveryConfig{
		NodeID:  "discover-client",
		Enabled: false,
	})

	if !*quiet && !*jsonOutput {
		fmt.Printf("%s%sℹ%s Scanning for nodes (timeout: %ds)...\n\n", cyan, bold, reset, *timeout)
	}

	nodes, err := discovery.DiscoverNodes(time.Duration(*timeout) * time.Second)
	if err != nil && !*quiet {
		fmt.Fprintf(os.Stderr, "%s%s✗%s mDNS discovery failed: %v\n", red, bold, reset, err)
	}

	if len(nodes) == 0 && *srvDomain != "" {
		srvNodes, err := cluster.DiscoverViaSRV(*srvDomain, *resolver, time.Duration(*timeout)*time.Second)
		if err != nil && !*quiet {
			fmt.Fprintf(os.Stderr, "%s%s✗%s SRV fallback failed: %v\n", red, bold, reset, err)
		}
		nodes = srvNodes
	}

	if len(nodes) == 0 {
		if !*quiet && !*jsonOutput {
			fmt.Printf("%s%s⚠%s No nodes found.\n\n", yellow, bold, reset)
			fmt.Printf("%s  Try:%s\n", dim, reset)
			fmt.Printf("    %semberdb-discover --timeout 10%s\n", green, reset)
			fmt.Printf("    %semberdb-discover --srv-domain cluster.internal --resolver 10.0.0.2:53%s\n\n", green, reset)
		}
		os.Exit(0)
	}

	switch {
	case *jsonOutput:
		outputJSON(nodes)
	case *quiet:
		outputQuiet(nodes)
	default:
		outputHuman(nodes)
	}
}

func printBanner() {
	fmt.Println()
	fmt.Printf("  %s%semberdb-discover%s %sv%s%s\n", green, bold, reset, dim, version, reset)
	fmt.Printf("  %sReplication node discovery tool%s\n\n", dim, reset)
}

func printVersion() {
	fmt.Println()
	fmt.Printf("  %s%semberdb-discover%s %sv%s%s\n", cyan, bold, reset, dim, version, reset)
	fmt.Printf("  %s%s%s\n\n", dim, copyright, reset)
}

func printUsage() {
	printBanner()
	fmt.Printf("%sUsage:%s emberdb-discover [options]\n\n", bold, reset)
	fmt.Printf("%s%sOPTIONS%s\n\n", bold, cyan, reset)
	fmt.Printf("    %s--timeout%s <seconds>       Discovery timeout (default: 5)\n", green, reset)
	fmt.Printf("    %s--srv-domain%s <domain>     Fall back to DNS SRV lookup under this domain\n", green, reset)
	fmt.Printf("    %s--resolver%s <host:port>    DNS resolver for --srv-domain\n", green, reset)
	fmt.Printf("    %s--json%s                    Output results as JSON\n", green, reset)
	fmt.Printf("    %s--quiet%s, %s-q%s              Only output addresses (for scripting)\n", green, reset, green, reset)
	fmt.Printf("    %s--version%s, %s-v%s            Show version information\n", green, reset, green, reset)
	fmt.Printf("    %s--help%s, %s-h%s               Show this help message\n\n", green, reset, green, reset)
}

func outputJSON(nodes []*cluster.DiscoveredNode) {
	type nodeOutput struct {
		NodeID   string `json:"node_id"`
		RaftAddr string `json:"raft_addr"`
		Version  string `json:"version,omitempty"`
	}
	output := make([]nodeOutput, len(nodes))
	for i, n := range nodes {
		output[i] = nodeOutput{NodeID: n.NodeID, RaftAddr: n.RaftAddr, Version: n.Version}
	}
	data, _ := json.MarshalIndent(output, "", "  ")
	fmt.Println(string(data))
}

func outputQuiet(nodes []*cluster.DiscoveredNode) {
	addrs := make([]string, len(nodes))
	for i, n := range nodes {
		addrs[i] = n.RaftAddr
	}
	fmt.Println(strings.Join(addrs, ","))
}

func outputHuman(nodes []*cluster.DiscoveredNode) {
	fmt.Printf("%s%s✓%s Found %d node(s)\n\n", green, bold, reset, len(nodes))
	for i, n := range nodes {
		fmt.Printf("  %s[%d]%s %s%s%s\n", dim, i+1, reset, bold+cyan, n.NodeID, reset)
		fmt.Printf("      %sRaft Address:%s %s\n", dim, reset, n.RaftAddr)
		if n.Version != "" {
			fmt.Printf("      %sVersion:%s      %s\n", dim, reset, n.Version)
		}
		fmt.Println()
	}
}
