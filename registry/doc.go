// Package registry provides the clearance registry: a read-only mapping from
// agent and user identities to integer clearance levels.
//
// The registry is loaded once at process start from a JSON or YAML file and
// injected into every component that needs to resolve clearance. It is never
// mutated afterwards, so lookups are safe from any number of goroutines.
//
// # File Format
//
// The file maps identities to entries. Users that authenticate with a
// password additionally carry a password hash (bcrypt, or hex SHA-256 for
// legacy entries):
//
//	{
//	    "core_agent":     {"clearance_level": 3},
//	    "auditor_agent":  {"clearance_level": 2},
//	    "edge_agent_one": {"clearance_level": 1},
//	    "n":              {"clearance_level": 3, "password_hash": "$2a$10$..."}
//	}
//
// # Default Level
//
// Identities that are not present resolve to a configured default. The
// default is 0 (unclassified), which makes unknown identities fail closed:
// they can neither read classified items nor derive the keys protecting them.
package registry
