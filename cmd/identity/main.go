package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/DeBrosOfficial/subchannel/pkg/encryption"
)

// identity prints or provisions the libp2p identity of a delivery node, so
// bootstrap_peers entries can be written before the node first starts.
func main() {
	var dataDir string
	var listen string

	flag.StringVar(&dataDir, "data", "", "Node data directory; the key is stored as identity.key inside it")
	flag.StringVar(&listen, "listen", "/ip4/127.0.0.1/tcp/4001", "Listen multiaddr used to print the bootstrap address")
	flag.Parse()

	if dataDir == "" {
		info, err := encryption.GenerateIdentity()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to generate identity: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Node Identity: %s\n", info.PeerID)
		return
	}

	info, created, err := encryption.LoadOrCreate(dataDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load identity: %v\n", err)
		os.Exit(1)
	}
	if created {
		fmt.Printf("Generated Node Identity: %s\n", info.PeerID)
		fmt.Printf("Identity saved to: %s\n", encryption.IdentityPath(dataDir))
	} else {
		fmt.Printf("Node Identity: %s\n", info.PeerID)
	}
	fmt.Printf("Bootstrap multiaddr: %s/p2p/%s\n", listen, info.PeerID)
}
