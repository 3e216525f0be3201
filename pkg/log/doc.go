/*
Package log wraps zerolog with ouisync's logging conventions: a global
logger configured once via Init, plus context-logger constructors for
the identities a log line commonly needs to carry — which repository,
or which subsystem, a message concerns. Anything more specific (a peer
id, a branch's user id) is added as a field on the call site's existing
logger rather than through its own constructor, the way the reconciler
logs `.Str("peer", peer.String())`.

# Usage

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})

	repoLog := log.WithRepository(id.String())
	repoLog.Info().Msg("repository opened")

WithComponent is for subsystems that aren't tied to one repository
(the reconciler's retry loop, the event broker).

# Levels

zerolog's own Debug/Info/Warn/Error/Fatal severity order applies
directly to the loggers WithComponent/WithRepository/Init return; Fatal
calls os.Exit(1) after logging and should only ever be used in cmd/
entry points, never inside pkg/.
*/
package log
