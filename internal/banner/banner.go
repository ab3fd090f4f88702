// Package banner prints the startup splash: a handful of raw lines
// identifying the node, its version, and its bound address, written
// through the logger's raw stream rather than at any particular level so
// it survives regardless of the configured logging.level, and suppressed
// only by logging.disable_splash.
package banner

import (
	"fmt"

	"github.com/kapua-mesh/kapua/internal/logger"
	"github.com/kapua-mesh/kapua/internal/wire"
)

const art = `
 _  __ _____ ____  _   _    _
| |/ /|  ___|  _ \| | | |  / \
| ' / | |_  | |_) | | | | / _ \
| . \ |  _| |  __/| |_| |/ ___ \
|_|\_\|_|   |_|    \___//_/   \_\
`

// Print writes the splash to log's raw stream unless disabled. nodeID and
// addr identify the running instance.
func Print(log logger.Logger, disabled bool, nodeID uint64, addr string) {
	if disabled {
		return
	}
	log.Raw(art)
	log.Raw(fmt.Sprintf("kapua mesh node  version %d.%d.%d\n",
		wire.BuildVersion.Major, wire.BuildVersion.Minor, wire.BuildVersion.Patch))
	log.Raw(fmt.Sprintf("node id %016x\n", nodeID))
	log.Raw(fmt.Sprintf("listening on %s\n\n", addr))
}
