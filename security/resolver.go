package security

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/goliatone/go-connectors/core"
)

var placeholderPattern = regexp.MustCompile(`^\{\{\s*secrets\.([A-Za-z0-9_.-]+)\s*\}\}$`)

// SecretResolver resolves connector properties such as "{{secrets.GITHUB}}"
// against a set of named secrets. Named values and literal properties may
// be sealed; anything else is returned unchanged.
type SecretResolver struct {
	sealer *AppKeySealer
	named  map[string]string
}

func NewSecretResolver(sealer *AppKeySealer, named map[string]string) *SecretResolver {
	values := make(map[string]string, len(named))
	for name, value := range named {
		values[strings.TrimSpace(name)] = value
	}
	return &SecretResolver{sealer: sealer, named: values}
}

func (r *SecretResolver) Resolve(ctx context.Context, value string) (string, error) {
	trimmed := strings.TrimSpace(value)
	if match := placeholderPattern.FindStringSubmatch(trimmed); match != nil {
		named, ok := r.named[match[1]]
		if !ok {
			return "", fmt.Errorf("security: secret %q is not defined", match[1])
		}
		trimmed = strings.TrimSpace(named)
		value = named
	}
	if !strings.HasPrefix(trimmed, EnvelopePrefix) {
		return value, nil
	}
	if r.sealer == nil {
		return "", fmt.Errorf("security: sealed secret found but no app key is configured")
	}
	return r.sealer.Open(ctx, trimmed)
}

var _ core.SecretResolver = (*SecretResolver)(nil)
