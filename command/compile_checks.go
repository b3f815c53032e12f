package command

import gocmd "github.com/goliatone/go-command"

var (
	_ gocmd.Commander[ReconcileNowMessage]         = (*ReconcileNowCommand)(nil)
	_ gocmd.Commander[DeployDefinitionMessage]     = (*DeployDefinitionCommand)(nil)
	_ gocmd.Commander[UndeployDefinitionMessage]   = (*UndeployDefinitionCommand)(nil)
	_ gocmd.Commander[DeactivateDefinitionMessage] = (*DeactivateDefinitionCommand)(nil)
)
