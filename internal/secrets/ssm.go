package secrets

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// SSMResolver resolves a ref against AWS Systems Manager Parameter Store,
// grounded on the teacher's `ssm.NewFromConfig(awsCfg)` /
// `GetParameter`/`PutParameter` usage in internal/webhook/handler.go,
// generalized from a single hardcoded callback-secret path to an
// arbitrary ref-to-parameter-name mapping under PathPrefix.
type SSMResolver struct {
	Client     *ssm.Client
	PathPrefix string
}

func NewSSMResolver(client *ssm.Client, pathPrefix string) *SSMResolver {
	return &SSMResolver{Client: client, PathPrefix: pathPrefix}
}

func (s *SSMResolver) parameterName(ref string) string {
	return s.PathPrefix + "/" + ref
}

func (s *SSMResolver) Resolve(ctx context.Context, ref string) ([]byte, error) {
	withDecryption := true
	out, err := s.Client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           awsString(s.parameterName(ref)),
		WithDecryption: &withDecryption,
	})
	if err != nil {
		return nil, fmt.Errorf("secrets: ssm resolver: %w", err)
	}
	if out.Parameter == nil || out.Parameter.Value == nil {
		return nil, fmt.Errorf("secrets: ssm resolver: parameter %q has no value", ref)
	}
	return []byte(*out.Parameter.Value), nil
}

func awsString(s string) *string { return &s }
