/*
Package log provides structured logging for vifinode using zerolog.

The package wraps zerolog with a single global logger, a small Config
for level/format/output selection, and package-level helpers for the
three severities the node actually emits. All logs include timestamps
and can be filtered by level.

# Usage

Initializing the logger (done once, in cmd/vifinode before the
supervisor starts):

	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

Logging:

	log.Info("vifinode started for site " + site.RootPath)
	log.Warn("release name " + serviceID + ": " + err.Error())
	log.Error("launch failed: " + err.Error())

Scoped child loggers, for call sites that want structured fields
instead of a formatted string:

	reqLog := log.WithRequest(domain, requestName)
	reqLog.Info().Str("service", svcName).Msg("curserv set")

# Integration Points

This package is used by every component on the request-processing
path: pkg/supervisor (tick, lifecycle and sink failures), pkg/unpacker
(unpack failures), pkg/waiter (poll errors), pkg/admission (clamping
and unknown data-source warnings; rejections are returned as errors),
pkg/resultactions (result patterns that matched nothing), pkg/egress
(successful deliveries and post-delivery cleanup failures),
pkg/crosssite (failures to disable transmission or stop the source
processor after a delivery), pkg/siteconfig (config load),
pkg/audit (audit write and middleware post failures), and
cmd/vifinode (logger initialization at startup).

# Log Levels

  - Info: normal lifecycle events (node start/stop, successful delivery)
  - Warn: recoverable failures (a single poll error, a cleanup that
    failed after a successful delivery)
  - Error: failures that abort a request and move it to failed/,
    failed sink deliveries, and unpack or listing failures
*/
package log
