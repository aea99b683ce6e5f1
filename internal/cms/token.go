package cms

import (
	"context"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/greenleafcpa/greenleaf-web/internal/xerrors"
)

// ParameterGetter is the slice of the SSM client used to read the token.
// *ssm.Client satisfies it.
type ParameterGetter interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// TokenFromSSM reads a CMS read token from a SecureString parameter.
func TokenFromSSM(ctx context.Context, client ParameterGetter, param string) (string, error) {
	out, err := client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(param),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", xerrors.Wrapf(err, "get SSM parameter %s", param)
	}
	if out.Parameter == nil || out.Parameter.Value == nil {
		return "", xerrors.Newf("SSM parameter %s has no value", param)
	}
	tok := strings.TrimSpace(*out.Parameter.Value)
	if tok == "" {
		return "", xerrors.Newf("SSM parameter %s is empty", param)
	}
	return tok, nil
}
