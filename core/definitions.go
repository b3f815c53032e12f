package core

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// DeployDefinitionInput is a process model submitted for deployment. The
// store assigns the version and the definition key.
type DeployDefinitionInput struct {
	TenantID  string
	ProcessID string
	Model     []byte
}

func (in DeployDefinitionInput) Validate() error {
	if strings.TrimSpace(in.ProcessID) == "" {
		return fmt.Errorf("%w: process id is required", ErrInvalidProcessDefinitionReference)
	}
	if len(in.Model) == 0 {
		return fmt.Errorf("core: process model is required for %s", in.ProcessID)
	}
	return nil
}

type DeployedDefinition struct {
	Ref        ProcessDefinitionRef
	DeployedAt time.Time
	DeletedAt  *time.Time
}

func (d DeployedDefinition) Active() bool {
	return d.DeletedAt == nil
}

// DefinitionRepository persists deployed definitions. Poll returns the
// definitions that are not undeployed.
type DefinitionRepository interface {
	DefinitionSource
	Deploy(ctx context.Context, in DeployDefinitionInput) (ProcessDefinitionRef, error)
	Undeploy(ctx context.Context, ref ProcessDefinitionRef) error
	ProcessModel(ctx context.Context, ref ProcessDefinitionRef) ([]byte, error)
	List(ctx context.Context, includeDeleted bool) ([]DeployedDefinition, error)
}
