package connectors

import (
	"fmt"

	connectorscommand "github.com/goliatone/go-connectors/command"
	connectorsquery "github.com/goliatone/go-connectors/query"
)

type CommandQueryService interface {
	connectorscommand.MutatingService
	connectorsquery.SubscriptionReader
}

type Commands struct {
	ReconcileNow         *connectorscommand.ReconcileNowCommand
	DeactivateDefinition *connectorscommand.DeactivateDefinitionCommand
	DeployDefinition     *connectorscommand.DeployDefinitionCommand
	UndeployDefinition   *connectorscommand.UndeployDefinitionCommand
}

type Queries struct {
	ListSubscriptions            *connectorsquery.ListSubscriptionsQuery
	GetSubscriptionByContextPath *connectorsquery.GetSubscriptionByContextPathQuery
	ListDefinitions              *connectorsquery.ListDefinitionsQuery
}

type Facade struct {
	service  CommandQueryService
	commands Commands
	queries  Queries
}

type FacadeOption func(*facadeOptions)

type facadeOptions struct {
	deployer         connectorscommand.DefinitionDeployer
	definitionReader connectorsquery.DefinitionReader
}

// WithDefinitionDeployer overrides the deployer. By default the service is
// used when it implements DefinitionDeployer.
func WithDefinitionDeployer(deployer connectorscommand.DefinitionDeployer) FacadeOption {
	return func(options *facadeOptions) {
		options.deployer = deployer
	}
}

func WithDefinitionReader(reader connectorsquery.DefinitionReader) FacadeOption {
	return func(options *facadeOptions) {
		options.definitionReader = reader
	}
}

func NewFacade(service CommandQueryService, opts ...FacadeOption) (*Facade, error) {
	if service == nil {
		return nil, fmt.Errorf("connectors: command/query service is required")
	}
	cfg := facadeOptions{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&cfg)
	}

	deployer := cfg.deployer
	if deployer == nil {
		deployer, _ = service.(connectorscommand.DefinitionDeployer)
	}
	reader := cfg.definitionReader
	if reader == nil {
		reader, _ = service.(connectorsquery.DefinitionReader)
	}

	facade := &Facade{service: service}
	facade.commands = Commands{
		ReconcileNow:         connectorscommand.NewReconcileNowCommand(service),
		DeactivateDefinition: connectorscommand.NewDeactivateDefinitionCommand(service),
		DeployDefinition:     connectorscommand.NewDeployDefinitionCommand(deployer),
		UndeployDefinition:   connectorscommand.NewUndeployDefinitionCommand(deployer),
	}
	facade.queries = Queries{
		ListSubscriptions:            connectorsquery.NewListSubscriptionsQuery(service),
		GetSubscriptionByContextPath: connectorsquery.NewGetSubscriptionByContextPathQuery(service),
		ListDefinitions:              connectorsquery.NewListDefinitionsQuery(reader),
	}
	return facade, nil
}

func (f *Facade) Commands() Commands {
	if f == nil {
		return Commands{}
	}
	return f.commands
}

func (f *Facade) Queries() Queries {
	if f == nil {
		return Queries{}
	}
	return f.queries
}

func (f *Facade) Service() CommandQueryService {
	if f == nil {
		return nil
	}
	return f.service
}
