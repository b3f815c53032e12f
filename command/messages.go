package command

import (
	"strings"

	"github.com/goliatone/go-connectors/core"
)

const (
	TypeReconcileNow         = "connectors.command.definitions.reconcile"
	TypeDeployDefinition     = "connectors.command.definitions.deploy"
	TypeUndeployDefinition   = "connectors.command.definitions.undeploy"
	TypeDeactivateDefinition = "connectors.command.definitions.deactivate"
)

type ReconcileNowMessage struct{}

func (ReconcileNowMessage) Type() string { return TypeReconcileNow }

func (ReconcileNowMessage) Validate() error { return nil }

type DeployDefinitionMessage struct {
	Input core.DeployDefinitionInput
}

func (DeployDefinitionMessage) Type() string { return TypeDeployDefinition }

func (m DeployDefinitionMessage) Validate() error {
	if strings.TrimSpace(m.Input.ProcessID) == "" {
		return commandValidationError("process_id", "process id is required")
	}
	if len(m.Input.Model) == 0 {
		return commandValidationError("model", "process model is required")
	}
	return nil
}

type UndeployDefinitionMessage struct {
	Definition core.ProcessDefinitionRef
}

func (UndeployDefinitionMessage) Type() string { return TypeUndeployDefinition }

func (m UndeployDefinitionMessage) Validate() error {
	if m.Definition.DefinitionKey <= 0 {
		return commandValidationError("definition_key", "definition key is required")
	}
	return nil
}

// DeactivateDefinitionMessage tears down the subscriptions of a definition
// without touching the definition source. The next import cycle registers
// them again if the definition is still deployed.
type DeactivateDefinitionMessage struct {
	Definition core.ProcessDefinitionRef
}

func (DeactivateDefinitionMessage) Type() string { return TypeDeactivateDefinition }

func (m DeactivateDefinitionMessage) Validate() error {
	return commandWrapValidation(m.Definition.Validate(), "command: invalid process definition")
}
