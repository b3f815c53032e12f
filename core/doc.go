// Package core holds the inbound connector domain model, collaborator
// contracts, error taxonomy, configuration and observability helpers shared by
// the lifecycle, webhook and correlation packages. It must not depend on any
// storage or transport adapter.
package core
