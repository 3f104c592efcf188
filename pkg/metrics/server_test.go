package metrics

import (
	"io"

	"dsdeploy/pkg/logging"
)

func quietLogger() *logging.Logger {
	log := logging.NewLogger(logging.ERROR, false)
	log.SetOutput(io.Discard)
	return log
}
