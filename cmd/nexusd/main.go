// Command nexusd is the composition root for the Nexus CORE: it wires the
// tuple store, Leopard closure index, permission cache, storage backend,
// and the upload/share-link/snapshot/sync-pipe/event-log subsystems into
// one running process and serves metrics until terminated.
package main

import "os"

func main() {
	if err := Execute(); err != nil {
		os.Exit(1)
	}
}
