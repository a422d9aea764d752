package shutdown

import (
	"os"

	"github.com/rs/zerolog/log"
)

// Stopper releases the hardware after switching every pump off.
type Stopper interface {
	Shutdown()
}

var ExitFunc = os.Exit

func Shutdown(s Stopper) {
	s.Shutdown()
	log.Info().Msg("All relays released, exiting")
	ExitFunc(0)
}

func ShutdownWithError(s Stopper, err error, msg string) {
	log.Error().Err(err).Msg(msg)
	s.Shutdown()
	ExitFunc(1)
}
