package cuda

// Bundled drivers, registered on import.
import (
	_ "github.com/gomlx/gocuda/driver/cudart"
	_ "github.com/gomlx/gocuda/driver/sim"
)
