package connectors

import "github.com/goliatone/go-connectors/core"

type Config = core.Config

type ProcessDefinitionRef = core.ProcessDefinitionRef
type CorrelationPoint = core.CorrelationPoint
type PointConfig = core.PointConfig
type SubscriptionConfig = core.SubscriptionConfig
type InboundSubscription = core.InboundSubscription
type DeployDefinitionInput = core.DeployDefinitionInput
type DeployedDefinition = core.DeployedDefinition

type WebhookRequest = core.WebhookRequest
type WebhookResponse = core.WebhookResponse

type DefinitionSource = core.DefinitionSource
type DefinitionRepository = core.DefinitionRepository
type CorrelationPointExtractor = core.CorrelationPointExtractor
type CorrelationSink = core.CorrelationSink
type Evaluator = core.Evaluator
type SecretResolver = core.SecretResolver
type Executable = core.Executable
type ExecutableFactory = core.ExecutableFactory
type MetricsRecorder = core.MetricsRecorder
type Tracer = core.Tracer

func DefaultConfig() Config {
	return core.DefaultConfig()
}
