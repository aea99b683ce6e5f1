package cms

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
)

type fakeSSM struct {
	value *string
	err   error
	got   *ssm.GetParameterInput
}

func (f *fakeSSM) GetParameter(_ context.Context, in *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	f.got = in
	if f.err != nil {
		return nil, f.err
	}
	return &ssm.GetParameterOutput{Parameter: &ssmtypes.Parameter{Value: f.value}}, nil
}

func TestTokenFromSSM(t *testing.T) {
	f := &fakeSSM{value: aws.String("  sk-read-token\n")}
	tok, err := TokenFromSSM(context.Background(), f, "/greenleaf/cms/token")
	if err != nil {
		t.Fatalf("TokenFromSSM: %v", err)
	}
	if tok != "sk-read-token" {
		t.Fatalf("token = %q", tok)
	}
	if f.got == nil || !aws.ToBool(f.got.WithDecryption) {
		t.Fatal("parameter must be read with decryption")
	}
}

func TestTokenFromSSM_Errors(t *testing.T) {
	tests := []struct {
		name    string
		f       *fakeSSM
		wantErr string
	}{
		{"api error", &fakeSSM{err: errors.New("AccessDenied")}, "AccessDenied"},
		{"nil value", &fakeSSM{}, "has no value"},
		{"blank", &fakeSSM{value: aws.String("  ")}, "is empty"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := TokenFromSSM(context.Background(), tt.f, "/p")
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("err = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}
