// ABOUTME: API key sources for the chat completions client
// ABOUTME: Static keys and AWS SSM parameters, optionally JSON-wrapped

package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// KeySource yields the API key for the chat endpoint.
type KeySource interface {
	APIKey(ctx context.Context) (string, error)
}

// StaticKey is a KeySource for a fixed key. An empty key sends no
// Authorization header, which local OpenAI-compatible servers accept.
type StaticKey string

// APIKey implements KeySource.
func (k StaticKey) APIKey(context.Context) (string, error) {
	return string(k), nil
}

// ssmAPI is the subset of *ssm.Client used here.
type ssmAPI interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// SSMKeySource reads the key from an SSM SecureString parameter. The value may
// be the bare key or a JSON object {"token": "..."}.
type SSMKeySource struct {
	api  ssmAPI
	name string
}

// NewSSMKeySource loads the default AWS config for region and reads parameter name.
func NewSSMKeySource(ctx context.Context, region, name string) (*SSMKeySource, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return newSSMKeySource(ssm.NewFromConfig(cfg), name)
}

func newSSMKeySource(api ssmAPI, name string) (*SSMKeySource, error) {
	if api == nil {
		return nil, errors.New("llm: ssm api must not be nil")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("llm: ssm parameter name must not be empty")
	}
	return &SSMKeySource{api: api, name: name}, nil
}

// APIKey implements KeySource.
func (s *SSMKeySource) APIKey(ctx context.Context) (string, error) {
	withDecryption := true
	out, err := s.api.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           &s.name,
		WithDecryption: &withDecryption,
	})
	if err != nil {
		return "", fmt.Errorf("llm: get parameter %q: %w", s.name, err)
	}
	if out == nil || out.Parameter == nil || out.Parameter.Value == nil {
		return "", fmt.Errorf("llm: parameter %q has no value", s.name)
	}
	return parseKey(*out.Parameter.Value)
}

func parseKey(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "{") {
		var tp struct {
			Token string `json:"token"`
		}
		if err := json.Unmarshal([]byte(raw), &tp); err != nil {
			return "", fmt.Errorf("llm: unmarshal key payload: %w", err)
		}
		raw = tp.Token
	}
	if raw == "" {
		return "", errors.New("llm: API key is empty")
	}
	return raw, nil
}
