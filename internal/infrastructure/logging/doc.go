// Package logging builds the structured logger shared by every meshgate
// component.
//
// Entries are JSON by default (text on request), filtered by level, and
// always carry the service and version fields. Components log through a
// child logger so the router, the stack bus and the supervisor can be told
// apart:
//
//	logging:
//	  level: info     # debug | info | warn | error
//	  format: json    # json | text
//	  output: stdout  # stdout | stderr
//
//	log := logging.New(cfg.Logging, version)
//	log.Component("tracker").Info("dhcp server started", "interface_id", 1)
package logging
