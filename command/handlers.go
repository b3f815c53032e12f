package command

import (
	"context"

	gocmd "github.com/goliatone/go-command"

	"github.com/goliatone/go-connectors/core"
	"github.com/goliatone/go-connectors/reconcile"
)

type MutatingService interface {
	ReconcileNow(ctx context.Context) (reconcile.Result, error)
	DeactivateDefinition(ctx context.Context, ref core.ProcessDefinitionRef) error
}

type DefinitionDeployer interface {
	Deploy(ctx context.Context, in core.DeployDefinitionInput) (core.ProcessDefinitionRef, error)
	Undeploy(ctx context.Context, ref core.ProcessDefinitionRef) error
}

// ReconcileSummary is the stored result of a manual import cycle.
type ReconcileSummary struct {
	Registered   []core.ProcessDefinitionRef
	Deregistered []core.DeregistrationKey
}

type ReconcileNowCommand struct {
	service MutatingService
}

func NewReconcileNowCommand(service MutatingService) *ReconcileNowCommand {
	return &ReconcileNowCommand{service: service}
}

func (c *ReconcileNowCommand) Execute(ctx context.Context, _ ReconcileNowMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: reconcile service is required")
	}
	result, err := c.service.ReconcileNow(ctx)
	if err != nil {
		return err
	}
	storeResult(ctx, ReconcileSummary{
		Registered:   result.Register,
		Deregistered: result.Deregister,
	})
	return nil
}

type DeployDefinitionCommand struct {
	deployer DefinitionDeployer
}

func NewDeployDefinitionCommand(deployer DefinitionDeployer) *DeployDefinitionCommand {
	return &DeployDefinitionCommand{deployer: deployer}
}

func (c *DeployDefinitionCommand) Execute(ctx context.Context, msg DeployDefinitionMessage) error {
	if c == nil || c.deployer == nil {
		return commandDependencyError("command: definition deployer is required")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	ref, err := c.deployer.Deploy(ctx, msg.Input)
	if err != nil {
		return err
	}
	storeResult(ctx, ref)
	return nil
}

type UndeployDefinitionCommand struct {
	deployer DefinitionDeployer
}

func NewUndeployDefinitionCommand(deployer DefinitionDeployer) *UndeployDefinitionCommand {
	return &UndeployDefinitionCommand{deployer: deployer}
}

func (c *UndeployDefinitionCommand) Execute(ctx context.Context, msg UndeployDefinitionMessage) error {
	if c == nil || c.deployer == nil {
		return commandDependencyError("command: definition deployer is required")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	return c.deployer.Undeploy(ctx, msg.Definition)
}

type DeactivateDefinitionCommand struct {
	service MutatingService
}

func NewDeactivateDefinitionCommand(service MutatingService) *DeactivateDefinitionCommand {
	return &DeactivateDefinitionCommand{service: service}
}

func (c *DeactivateDefinitionCommand) Execute(ctx context.Context, msg DeactivateDefinitionMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: deactivate service is required")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	return c.service.DeactivateDefinition(ctx, msg.Definition)
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}
